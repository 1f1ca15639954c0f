package auth

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultCallbackWait = 300 * time.Second

// BrowserSession is the in-flight state of one browser/PKCE flow: the PKCE
// material, the CSRF state, and the listener that will capture the
// redirect. The orchestrator records it so cancellation can reach the
// listener.
type BrowserSession struct {
	Listener    *CallbackListener
	State       string
	Verifier    string
	RedirectURI string
	AuthURL     string
}

// BrowserFlow executes the authorization-code + PKCE grant.
type BrowserFlow struct {
	http    *http.Client
	cipher  *Cipher
	waitFor time.Duration
	log     *zap.Logger
}

func NewBrowserFlow(client *http.Client, cipher *Cipher, waitFor time.Duration, log *zap.Logger) *BrowserFlow {
	if waitFor <= 0 {
		waitFor = defaultCallbackWait
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BrowserFlow{http: client, cipher: cipher, waitFor: waitFor, log: log}
}

// Begin generates fresh PKCE parameters and CSRF state, binds the callback
// listener, and assembles the authorization URL. The caller opens the URL
// in the browser and then calls Wait; on any error the caller owns closing
// the returned session's listener.
func (f *BrowserFlow) Begin(reg *ClientRegistration, ep *Endpoints) (*BrowserSession, error) {
	pkce, err := GeneratePkce()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	listener := NewCallbackListener()
	redirectURI, err := listener.Start()
	if err != nil {
		return nil, err
	}

	oauthCfg := oauth2.Config{
		ClientID:    reg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: ep.Authorization},
		RedirectURL: redirectURI,
		Scopes:      defaultScopes,
	}
	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	)

	f.log.Debug("browser authorization prepared",
		zap.String("redirectUri", redirectURI))
	return &BrowserSession{
		Listener:    listener,
		State:       state,
		Verifier:    pkce.Verifier,
		RedirectURI: redirectURI,
		AuthURL:     authURL,
	}, nil
}

// Wait blocks until the redirect arrives or the flow dies. A callback
// carrying a provider error fails with ProviderError; a state mismatch
// fails with ErrCSRFMismatch before any token exchange is attempted; only a
// verified callback is exchanged for tokens.
func (f *BrowserFlow) Wait(ctx context.Context, reg *ClientRegistration, ep *Endpoints, session *BrowserSession) (*TokenSet, error) {
	result, err := session.Listener.Wait(ctx, f.waitFor)
	if err != nil {
		return nil, err
	}
	if result.ErrorCode != "" {
		return nil, &ProviderError{Code: result.ErrorCode, Description: result.ErrorDescription}
	}
	if result.State != session.State {
		return nil, ErrCSRFMismatch
	}

	payload := createTokenRequest{
		ClientID:     reg.ClientID,
		ClientSecret: f.cipher.Decrypt(reg.ClientSecret),
		GrantType:    authCodeGrantType,
		Code:         result.Code,
		CodeVerifier: session.Verifier,
		RedirectURI:  session.RedirectURI,
	}
	var resp createTokenResponse
	if err := postJSON(ctx, f.http, ep.Token, payload, &resp); err != nil {
		return nil, err
	}
	return resp.tokenSet(f.cipher), nil
}
