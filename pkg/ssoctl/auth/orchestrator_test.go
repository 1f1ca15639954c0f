package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/directory"
)

// staticResolver pins the orchestrator to the harness portal.
type staticResolver struct {
	ep *Endpoints
}

func (r staticResolver) Resolve(context.Context, *http.Client, string, string) (*Endpoints, error) {
	return r.ep, nil
}

// portalHarness is a complete in-process portal: registration, device
// authorization, token exchange, and the directory API.
type portalHarness struct {
	srv    *httptest.Server
	store  *fakeSecureStore
	cipher *Cipher
	state  *MemoryStateStore

	registerCalls atomic.Int32
	tokenCalls    atomic.Int32
	credsCalls    atomic.Int32

	tokenScripts []tokenScript

	// tokenGate, when set, holds each /token exchange open until closed,
	// so tests can interleave orchestrator calls with an in-flight poll.
	tokenGate chan struct{}
}

func newPortalHarness(t *testing.T, scripts ...tokenScript) *portalHarness {
	t.Helper()
	h := &portalHarness{
		store:        newFakeSecureStore(true),
		state:        &MemoryStateStore{},
		tokenScripts: scripts,
	}
	h.cipher = NewCipher(h.store, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/client/register", func(w http.ResponseWriter, r *http.Request) {
		h.registerCalls.Add(1)
		_ = json.NewEncoder(w).Encode(registerClientResponse{
			ClientID:              "harness-client",
			ClientSecret:          "harness-secret",
			ClientSecretExpiresAt: time.Now().Add(time.Hour).Unix(),
		})
	})
	mux.HandleFunc("/device_authorization", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(deviceAuthResponse{
			DeviceCode:              "harness-device-code",
			UserCode:                "ABCD-9876",
			VerificationURI:         "https://device.example.com/activate",
			VerificationURIComplete: "https://device.example.com/activate?user_code=ABCD-9876",
			ExpiresIn:               600,
			Interval:                1,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := int(h.tokenCalls.Add(1)) - 1
		var req createTokenRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if h.tokenGate != nil {
			<-h.tokenGate
		}
		if n >= len(h.tokenScripts) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		script := h.tokenScripts[n]
		if script.errorCode != "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": script.errorCode})
			return
		}
		_ = json.NewEncoder(w).Encode(script.token)
	})
	mux.HandleFunc("/assignment/accounts", func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("x-amz-sso_bearer_token"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accountList": []directory.Account{
				{ID: "111111111111", Name: "dev", Email: "dev@example.com"},
			},
		})
	})
	mux.HandleFunc("/assignment/roles", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"roleList": []directory.Role{
				{Name: "Admin", AccountID: "111111111111"},
			},
		})
	})
	mux.HandleFunc("/federation/credentials", func(w http.ResponseWriter, r *http.Request) {
		h.credsCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"roleCredentials": map[string]any{
				"accessKeyId":     "AKIAEXAMPLE",
				"secretAccessKey": "wJalrXUtnFEMI",
				"sessionToken":    "IQoJb3JpZ2lu",
				"expiration":      time.Now().Add(time.Hour).UnixMilli(),
			},
		})
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *portalHarness) orchestrator(t *testing.T, extra ...Option) *Orchestrator {
	t.Helper()
	dir, err := directory.New(
		directory.WithBaseURL(h.srv.URL),
		directory.WithHTTPClient(h.srv.Client()),
	)
	require.NoError(t, err)

	opts := append([]Option{
		WithHTTPClient(h.srv.Client()),
		WithSecureStore(h.store),
		WithStateStore(h.state),
		WithResolver(staticResolver{ep: &Endpoints{
			Registration:        h.srv.URL + "/client/register",
			DeviceAuthorization: h.srv.URL + "/device_authorization",
			Token:               h.srv.URL + "/token",
			Authorization:       h.srv.URL + "/authorize",
		}}),
		WithLauncher(LauncherFunc(func(string) error { return nil })),
		WithDirectoryClient(dir),
	}, extra...)

	orch, err := New(Config{
		StartURL: "https://acme.awsapps.com/start",
		Region:   "eu-central-1",
	}, opts...)
	require.NoError(t, err)
	return orch
}

func TestOrchestrator_DeviceFlowEndToEnd(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{errorCode: "authorization_pending"},
		tokenScript{token: createTokenResponse{AccessToken: "device-at", RefreshToken: "device-rt", ExpiresIn: 3600}},
	)
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-9876", session.UserCode)

	outcome, err := orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, PollPending, outcome.Status)

	outcome, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, PollComplete, outcome.Status)
	assert.False(t, outcome.Expiry.IsZero())

	status := orch.GetStatus()
	assert.True(t, status.Authenticated)
	assert.True(t, status.Registered)
	assert.False(t, status.DegradedEncryption)

	// The flow slot is released on completion.
	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	assert.ErrorIs(t, err, ErrNoActiveFlow)

	// State is persisted encrypted, never in plaintext.
	state, err := h.state.Load()
	require.NoError(t, err)
	require.NotNil(t, state.Token)
	assert.NotEqual(t, "device-at", state.Token.AccessToken)
	assert.Equal(t, "device-at", h.cipher.Decrypt(state.Token.AccessToken))
}

func TestOrchestrator_PollWithoutActiveFlow(t *testing.T) {
	h := newPortalHarness(t)
	orch := h.orchestrator(t)

	_, err := orch.PollDeviceFlow(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoActiveFlow)
}

func TestOrchestrator_PollWrongDeviceCode(t *testing.T) {
	h := newPortalHarness(t)
	orch := h.orchestrator(t)

	_, err := orch.StartDeviceFlow(context.Background())
	require.NoError(t, err)

	_, err = orch.PollDeviceFlow(context.Background(), "stale-device-code")
	assert.ErrorIs(t, err, ErrNoActiveFlow)
}

func TestOrchestrator_DenialTearsDownFlow(t *testing.T) {
	h := newPortalHarness(t, tokenScript{errorCode: "access_denied"})
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)

	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	assert.ErrorIs(t, err, ErrNoActiveFlow)

	assert.False(t, orch.GetStatus().Authenticated)
}

func TestOrchestrator_BrowserFlowEndToEnd(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "browser-at", RefreshToken: "browser-rt", ExpiresIn: 3600}},
	)
	launcher := LauncherFunc(func(authURL string) error {
		// Play the user: follow the redirect back with the issued state.
		go func() {
			parsed, err := url.Parse(authURL)
			if err != nil {
				return
			}
			q := parsed.Query()
			cb := q.Get("redirect_uri") + "?code=browser-code&state=" + url.QueryEscape(q.Get("state"))
			resp, err := http.Get(cb)
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	})
	orch := h.orchestrator(t, WithLauncher(launcher), WithBrowserTimeout(5*time.Second))

	expiry, err := orch.StartBrowserFlow(context.Background())
	require.NoError(t, err)
	assert.False(t, expiry.IsZero())
	assert.True(t, orch.GetStatus().Authenticated)
}

func TestOrchestrator_SecondFlowCancelsFirst(t *testing.T) {
	h := newPortalHarness(t)

	urls := make(chan string, 1)
	launcher := LauncherFunc(func(authURL string) error {
		urls <- authURL
		return nil
	})
	orch := h.orchestrator(t, WithLauncher(launcher), WithBrowserTimeout(10*time.Second))

	browserErr := make(chan error, 1)
	go func() {
		_, err := orch.StartBrowserFlow(context.Background())
		browserErr <- err
	}()

	authURL := <-urls
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	redirectURI := parsed.Query().Get("redirect_uri")

	// Starting a device flow while the browser flow is waiting must cancel
	// and fully release it.
	_, err = orch.StartDeviceFlow(context.Background())
	require.NoError(t, err)

	select {
	case err := <-browserErr:
		assert.ErrorIs(t, err, ErrFlowCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled browser flow did not unblock")
	}

	// The first flow's listener port is released; a late callback to the
	// stale redirect URI cannot be accepted.
	require.Eventually(t, func() bool {
		resp, err := http.Get(redirectURI + "?code=late&state=whatever")
		if err != nil {
			return true
		}
		_ = resp.Body.Close()
		return false
	}, 2*time.Second, 50*time.Millisecond)
}

func TestOrchestrator_StalePollCannotCompleteLogin(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "stale-at", RefreshToken: "stale-rt", ExpiresIn: 3600}},
	)
	h.tokenGate = make(chan struct{})
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)

	pollErr := make(chan error, 1)
	go func() {
		_, err := orch.PollDeviceFlow(ctx, session.DeviceCode)
		pollErr <- err
	}()

	// Cancel while the token exchange is held open, then let it finish.
	require.Eventually(t, func() bool { return h.tokenCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	orch.CancelActiveFlow()
	close(h.tokenGate)

	select {
	case err := <-pollErr:
		assert.ErrorIs(t, err, ErrFlowCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("stale poll did not return")
	}

	// The stale flow's token never becomes the login.
	assert.False(t, orch.GetStatus().Authenticated)
	state, err := h.state.Load()
	require.NoError(t, err)
	assert.Nil(t, state.Token)

	// Its secure-store entries are evicted; only the registration
	// secret remains.
	h.store.mu.Lock()
	remaining := len(h.store.data)
	h.store.mu.Unlock()
	assert.Equal(t, 1, remaining)
}

func TestOrchestrator_CancelWithoutActiveFlow(t *testing.T) {
	h := newPortalHarness(t)
	orch := h.orchestrator(t)

	// Must return normally with nothing in flight, repeatedly.
	orch.CancelActiveFlow()
	orch.CancelActiveFlow()
}

func TestOrchestrator_RegistrationReusedAcrossFlows(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "at-1", ExpiresIn: 3600}},
	)
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.registerCalls.Load())

	// A later flow reuses the persisted registration.
	_, err = orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.registerCalls.Load())
}

func TestOrchestrator_DirectoryCallsRequireAuthentication(t *testing.T) {
	h := newPortalHarness(t)
	orch := h.orchestrator(t)

	_, err := orch.ListAccounts(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestOrchestrator_ListAccountsAndRoles(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "at", ExpiresIn: 3600}},
	)
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)

	accounts, err := orch.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "111111111111", accounts[0].ID)

	roles, err := orch.ListRoles(ctx, accounts[0].ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "Admin", roles[0].Name)
}

func TestOrchestrator_SelectAccountRoleCachesCredentials(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "at", ExpiresIn: 3600}},
	)
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)

	creds, err := orch.SelectAccountRole(ctx, "111111111111", "Admin")
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, int32(1), h.credsCalls.Load())

	// Same account/role pair within the validity window: served from the
	// stored record, decrypted, without another directory call.
	again, err := orch.SelectAccountRole(ctx, "111111111111", "Admin")
	require.NoError(t, err)
	assert.Equal(t, creds.AccessKeyID, again.AccessKeyID)
	assert.Equal(t, creds.SecretAccessKey, again.SecretAccessKey)
	assert.Equal(t, creds.SessionToken, again.SessionToken)
	assert.Equal(t, int32(1), h.credsCalls.Load())

	// A different role always mints fresh credentials.
	_, err = orch.SelectAccountRole(ctx, "111111111111", "ReadOnly")
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.credsCalls.Load())

	// The persisted record never holds plaintext secrets.
	state, err := h.state.Load()
	require.NoError(t, err)
	require.NotNil(t, state.RoleCredentials)
	assert.NotEqual(t, "wJalrXUtnFEMI", state.RoleCredentials.SecretAccessKey)
}

func TestOrchestrator_RefreshCredentialsWithoutLogin(t *testing.T) {
	h := newPortalHarness(t)
	orch := h.orchestrator(t)

	_, err := orch.RefreshCredentials(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestOrchestrator_RefreshCredentialsPersistsNewToken(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 3600}},
		tokenScript{token: createTokenResponse{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 3600}},
	)
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)

	expiry, err := orch.RefreshCredentials(ctx)
	require.NoError(t, err)
	assert.False(t, expiry.IsZero())

	state, err := h.state.Load()
	require.NoError(t, err)
	assert.Equal(t, "at-2", h.cipher.Decrypt(state.Token.AccessToken))
}

func TestOrchestrator_Logout(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}},
	)
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)
	_, err = orch.SelectAccountRole(ctx, "111111111111", "Admin")
	require.NoError(t, err)

	require.NoError(t, orch.Logout())

	status := orch.GetStatus()
	assert.False(t, status.Authenticated)
	assert.False(t, status.Registered)
	assert.False(t, status.HasCredentials)

	state, err := h.state.Load()
	require.NoError(t, err)
	assert.Nil(t, state.Registration)
	assert.Nil(t, state.Token)
	assert.Nil(t, state.RoleCredentials)
	assert.Empty(t, state.AccountID)

	// Logout also evicts the secure-store entries backing the ciphertexts.
	h.store.mu.Lock()
	remaining := len(h.store.data)
	h.store.mu.Unlock()
	assert.Zero(t, remaining)

	_, err = orch.ListAccounts(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestOrchestrator_StatePersistsAcrossInstances(t *testing.T) {
	h := newPortalHarness(t,
		tokenScript{token: createTokenResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}},
	)
	orch := h.orchestrator(t)
	ctx := context.Background()

	session, err := orch.StartDeviceFlow(ctx)
	require.NoError(t, err)
	_, err = orch.PollDeviceFlow(ctx, session.DeviceCode)
	require.NoError(t, err)

	// A fresh orchestrator over the same stores picks up the login.
	reborn := h.orchestrator(t)
	assert.True(t, reborn.GetStatus().Authenticated)
	accounts, err := reborn.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestNew_RequiresStartURLAndRegion(t *testing.T) {
	_, err := New(Config{Region: "eu-central-1"})
	assert.Error(t, err)

	_, err = New(Config{StartURL: "https://acme.awsapps.com/start"})
	assert.Error(t, err)
}
