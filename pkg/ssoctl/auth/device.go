package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultDeviceExpiry = 600 * time.Second
	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	authCodeGrantType   = "authorization_code"
	refreshTokenGrant   = "refresh_token"
)

// DeviceAuthSession is one issued device authorization. Immutable once
// issued; the caller drives polling against it.
type DeviceAuthSession struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
	PollInterval            time.Duration
}

// PollStatus classifies one device poll attempt.
type PollStatus int

const (
	PollPending PollStatus = iota
	PollSlowDown
	PollComplete
)

// PollResult is the outcome of a single poll attempt. Token is set only
// when Status is PollComplete.
type PollResult struct {
	Status PollStatus
	Token  *TokenSet
}

// DeviceFlow executes the device-code grant. It performs single round
// trips only: the caller owns the poll loop, its timing, and cancellation.
type DeviceFlow struct {
	http   *http.Client
	cipher *Cipher
	log    *zap.Logger
}

func NewDeviceFlow(client *http.Client, cipher *Cipher, log *zap.Logger) *DeviceFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeviceFlow{http: client, cipher: cipher, log: log}
}

type deviceAuthRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	StartURL     string `json:"startUrl"`
}

type deviceAuthResponse struct {
	DeviceCode              string `json:"deviceCode"`
	UserCode                string `json:"userCode"`
	VerificationURI         string `json:"verificationUri"`
	VerificationURIComplete string `json:"verificationUriComplete"`
	ExpiresIn               int    `json:"expiresIn"`
	Interval                int    `json:"interval"`
}

// Start requests a device code for startURL. Interval and expiry fall back
// to documented defaults when the provider omits them; these are not
// security-sensitive fields.
func (f *DeviceFlow) Start(ctx context.Context, reg *ClientRegistration, ep *Endpoints, startURL string) (*DeviceAuthSession, error) {
	payload := deviceAuthRequest{
		ClientID:     reg.ClientID,
		ClientSecret: f.cipher.Decrypt(reg.ClientSecret),
		StartURL:     startURL,
	}
	var resp deviceAuthResponse
	if err := postJSON(ctx, f.http, ep.DeviceAuthorization, payload, &resp); err != nil {
		return nil, err
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	expiry := time.Duration(resp.ExpiresIn) * time.Second
	if expiry <= 0 {
		expiry = defaultDeviceExpiry
	}
	f.log.Debug("device authorization issued",
		zap.String("userCode", resp.UserCode),
		zap.Duration("interval", interval),
		zap.Duration("expiresIn", expiry))
	return &DeviceAuthSession{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresAt:               time.Now().Add(expiry),
		PollInterval:            interval,
	}, nil
}

// Poll performs exactly one token-exchange attempt against the device
// grant. Recoverable provider states come back as PollPending/PollSlowDown
// and never as errors; expiry, denial, and everything else propagates as a
// typed error.
func (f *DeviceFlow) Poll(ctx context.Context, reg *ClientRegistration, ep *Endpoints, deviceCode string) (*PollResult, error) {
	payload := createTokenRequest{
		ClientID:     reg.ClientID,
		ClientSecret: f.cipher.Decrypt(reg.ClientSecret),
		GrantType:    deviceCodeGrantType,
		DeviceCode:   deviceCode,
	}
	var resp createTokenResponse
	err := postJSON(ctx, f.http, ep.Token, payload, &resp)
	switch {
	case errors.Is(err, errAuthorizationPending):
		return &PollResult{Status: PollPending}, nil
	case errors.Is(err, errSlowDown):
		return &PollResult{Status: PollSlowDown}, nil
	case err != nil:
		return nil, err
	}
	return &PollResult{Status: PollComplete, Token: resp.tokenSet(f.cipher)}, nil
}

type createTokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
	DeviceCode   string `json:"deviceCode,omitempty"`
	Code         string `json:"code,omitempty"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
	RedirectURI  string `json:"redirectUri,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type createTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

// tokenSet converts a token response into its at-rest form. Plaintext
// tokens do not outlive this call frame.
func (r *createTokenResponse) tokenSet(cipher *Cipher) *TokenSet {
	ts := &TokenSet{
		AccessToken: cipher.Encrypt(r.AccessToken),
		ExpiresAt:   time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
	if r.RefreshToken != "" {
		ts.RefreshToken = cipher.Encrypt(r.RefreshToken)
	}
	return ts
}
