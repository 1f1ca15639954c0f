package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserFlow_BeginBuildsAuthorizationURL(t *testing.T) {
	provider := newFakeProvider(t)
	cipher, _ := newTestCipher()
	flow := NewBrowserFlow(provider.srv.Client(), cipher, time.Second, nil)
	reg := provider.registration(cipher)

	session, err := flow.Begin(reg, provider.endpoints())
	require.NoError(t, err)
	defer session.Listener.Close()

	parsed, err := url.Parse(session.AuthURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, reg.ClientID, q.Get("client_id"))
	assert.Equal(t, session.RedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, session.State, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEqual(t, session.Verifier, q.Get("code_challenge"), "URL must carry the challenge, not the verifier")
}

func TestBrowserFlow_BeginUsesFreshMaterialPerFlow(t *testing.T) {
	provider := newFakeProvider(t)
	cipher, _ := newTestCipher()
	flow := NewBrowserFlow(provider.srv.Client(), cipher, time.Second, nil)
	reg := provider.registration(cipher)

	first, err := flow.Begin(reg, provider.endpoints())
	require.NoError(t, err)
	defer first.Listener.Close()
	second, err := flow.Begin(reg, provider.endpoints())
	require.NoError(t, err)
	defer second.Listener.Close()

	assert.NotEqual(t, first.State, second.State)
	assert.NotEqual(t, first.Verifier, second.Verifier)
}

func TestBrowserFlow_WaitExchangesVerifiedCallback(t *testing.T) {
	provider := newFakeProvider(t,
		tokenScript{token: createTokenResponse{AccessToken: "browser-at", RefreshToken: "browser-rt", ExpiresIn: 3600}},
	)
	cipher, _ := newTestCipher()
	flow := NewBrowserFlow(provider.srv.Client(), cipher, 5*time.Second, nil)
	reg := provider.registration(cipher)

	session, err := flow.Begin(reg, provider.endpoints())
	require.NoError(t, err)

	go func() {
		resp, err := http.Get(session.RedirectURI + "?code=auth-code-1&state=" + url.QueryEscape(session.State))
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	token, err := flow.Wait(context.Background(), reg, provider.endpoints(), session)
	require.NoError(t, err)
	assert.Equal(t, "browser-at", cipher.Decrypt(token.AccessToken))
	assert.Equal(t, "browser-rt", cipher.Decrypt(token.RefreshToken))

	assert.Equal(t, authCodeGrantType, provider.lastTokenReq.GrantType)
	assert.Equal(t, "auth-code-1", provider.lastTokenReq.Code)
	assert.Equal(t, session.Verifier, provider.lastTokenReq.CodeVerifier)
	assert.Equal(t, session.RedirectURI, provider.lastTokenReq.RedirectURI)
}

func TestBrowserFlow_WaitRejectsStateMismatch(t *testing.T) {
	provider := newFakeProvider(t)
	cipher, _ := newTestCipher()
	flow := NewBrowserFlow(provider.srv.Client(), cipher, 5*time.Second, nil)
	reg := provider.registration(cipher)

	session, err := flow.Begin(reg, provider.endpoints())
	require.NoError(t, err)

	go func() {
		// Valid-looking code under an attacker-chosen state.
		resp, err := http.Get(session.RedirectURI + "?code=auth-code-1&state=forged")
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	_, err = flow.Wait(context.Background(), reg, provider.endpoints(), session)
	assert.ErrorIs(t, err, ErrCSRFMismatch)
	assert.Equal(t, int32(0), provider.tokenCalls.Load(), "mismatched state must never reach the token endpoint")
}

func TestBrowserFlow_WaitPropagatesProviderDenial(t *testing.T) {
	provider := newFakeProvider(t)
	cipher, _ := newTestCipher()
	flow := NewBrowserFlow(provider.srv.Client(), cipher, 5*time.Second, nil)
	reg := provider.registration(cipher)

	session, err := flow.Begin(reg, provider.endpoints())
	require.NoError(t, err)

	go func() {
		resp, err := http.Get(session.RedirectURI + "?error=access_denied&error_description=nope&state=" + url.QueryEscape(session.State))
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	_, err = flow.Wait(context.Background(), reg, provider.endpoints(), session)
	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "access_denied", provErr.Code)
	assert.Equal(t, int32(0), provider.tokenCalls.Load())
}

func TestBrowserFlow_WaitTimesOut(t *testing.T) {
	provider := newFakeProvider(t)
	cipher, _ := newTestCipher()
	flow := NewBrowserFlow(provider.srv.Client(), cipher, 50*time.Millisecond, nil)
	reg := provider.registration(cipher)

	session, err := flow.Begin(reg, provider.endpoints())
	require.NoError(t, err)

	_, err = flow.Wait(context.Background(), reg, provider.endpoints(), session)
	assert.ErrorIs(t, err, ErrCallbackTimeout)
}
