package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/directory"
)

// ErrNoActiveFlow is returned by PollDeviceFlow when no device
// authorization is in progress.
var ErrNoActiveFlow = errors.New("no login flow in progress")

// Config names the portal one Orchestrator signs in to.
type Config struct {
	StartURL        string
	Region          string
	ClientName      string
	CAFile          string
	InsecureSkipTLS bool
}

// flowState is the single in-flight authentication flow. At most one
// exists per Orchestrator; it is mutated only under the orchestrator mutex
// and torn down exactly once.
type flowState struct {
	id           string
	kind         string
	csrfState    string
	codeVerifier string
	redirectURI  string
	listener     *CallbackListener
	session      *DeviceAuthSession
	once         sync.Once
}

// Orchestrator composes the registry, the two grants, the token store, and
// the directory client behind the single-in-flight-flow invariant: starting
// a flow while another is active cancels and fully releases the previous
// one first.
type Orchestrator struct {
	cfg      Config
	http     *http.Client
	cipher   *Cipher
	registry *ClientRegistry
	device   *DeviceFlow
	browser  *BrowserFlow
	tokens   *TokenStore
	store    StateStore
	resolver EndpointResolver
	launcher BrowserLauncher
	dir      *directory.Client
	log      *zap.Logger

	browserWait time.Duration

	mu        sync.Mutex
	active    *flowState
	endpoints *Endpoints

	stateMu sync.Mutex
}

type Option func(*Orchestrator)

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) { o.http = client }
}

func WithStateStore(store StateStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

func WithSecureStore(store SecureStore) Option {
	return func(o *Orchestrator) { o.cipher = NewCipher(store, o.log) }
}

func WithResolver(resolver EndpointResolver) Option {
	return func(o *Orchestrator) { o.resolver = resolver }
}

func WithLauncher(launcher BrowserLauncher) Option {
	return func(o *Orchestrator) { o.launcher = launcher }
}

func WithDirectoryClient(client *directory.Client) Option {
	return func(o *Orchestrator) { o.dir = client }
}

// WithBrowserTimeout bounds the wait for the browser callback.
func WithBrowserTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) { o.browserWait = timeout }
}

func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.StartURL == "" {
		return nil, errors.New("start URL is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("region is required")
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "ssoctl"
	}

	o := &Orchestrator{
		cfg:      cfg,
		resolver: DefaultResolver(),
		launcher: SystemBrowser{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.http == nil {
		client, err := NewHTTPClient(cfg.CAFile, cfg.InsecureSkipTLS)
		if err != nil {
			return nil, err
		}
		o.http = client
	}
	if o.cipher == nil {
		o.cipher = NewCipher(nil, o.log)
	}
	if o.store == nil {
		o.store = &MemoryStateStore{}
	}
	if o.dir == nil {
		dir, err := directory.New(
			directory.WithRegion(cfg.Region),
			directory.WithHTTPClient(o.http),
			directory.WithUserAgent(cfg.ClientName),
		)
		if err != nil {
			return nil, err
		}
		o.dir = dir
	}
	o.registry = NewClientRegistry(o.http, o.cipher, cfg.ClientName, o.log)
	o.device = NewDeviceFlow(o.http, o.cipher, o.log)
	o.browser = NewBrowserFlow(o.http, o.cipher, o.browserWait, o.log)
	o.tokens = NewTokenStore(o.http, o.cipher, o.log)

	state, err := o.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if state.Token != nil {
		o.tokens.Set(state.Token)
	}
	return o, nil
}

// PollOutcome is the caller-visible result of one device poll.
type PollOutcome struct {
	Status PollStatus
	Expiry time.Time
}

// Status is a snapshot of the engine's stored state.
type Status struct {
	StartURL            string
	Region              string
	Configured          bool
	Registered          bool
	Authenticated       bool
	TokenExpiresAt      time.Time
	HasCredentials      bool
	CredentialsExpireAt time.Time
	AccountID           string
	RoleName            string
	DegradedEncryption  bool
}

// StartDeviceFlow begins a device-code login, implicitly cancelling any
// flow already in flight. The returned session drives the caller's poll
// loop and carries the code the user must confirm.
func (o *Orchestrator) StartDeviceFlow(ctx context.Context) (*DeviceAuthSession, error) {
	fs := o.acquireFlow("device")

	ep, err := o.ensureEndpoints(ctx)
	if err != nil {
		o.finishFlow(fs)
		return nil, err
	}
	reg, err := o.ensureRegistration(ctx, ep)
	if err != nil {
		o.finishFlow(fs)
		return nil, err
	}
	session, err := o.device.Start(ctx, reg, ep, o.cfg.StartURL)
	if err != nil {
		o.finishFlow(fs)
		return nil, err
	}

	o.mu.Lock()
	if o.active != fs {
		o.mu.Unlock()
		return nil, ErrFlowCancelled
	}
	fs.session = session
	o.mu.Unlock()
	return session, nil
}

// PollDeviceFlow performs one poll attempt for the active device flow.
// Pending and slow-down come back as outcomes, never errors; expiry,
// denial, and provider failures tear the flow down and propagate.
func (o *Orchestrator) PollDeviceFlow(ctx context.Context, deviceCode string) (PollOutcome, error) {
	o.mu.Lock()
	fs := o.active
	if fs == nil || fs.session == nil || fs.session.DeviceCode != deviceCode {
		o.mu.Unlock()
		return PollOutcome{}, ErrNoActiveFlow
	}
	o.mu.Unlock()

	ep, err := o.ensureEndpoints(ctx)
	if err != nil {
		return PollOutcome{}, err
	}
	reg, err := o.ensureRegistration(ctx, ep)
	if err != nil {
		return PollOutcome{}, err
	}

	result, err := o.device.Poll(ctx, reg, ep, deviceCode)
	if err != nil {
		o.finishFlow(fs)
		return PollOutcome{}, err
	}
	if result.Status != PollComplete {
		return PollOutcome{Status: result.Status}, nil
	}

	// The flow may have been cancelled or superseded while the exchange
	// was in flight; a stale completion must not become the login.
	o.mu.Lock()
	if o.active != fs {
		o.mu.Unlock()
		o.cipher.Forget(result.Token.AccessToken)
		o.cipher.Forget(result.Token.RefreshToken)
		return PollOutcome{}, ErrFlowCancelled
	}
	o.mu.Unlock()

	if err := o.completeLogin(result.Token); err != nil {
		o.finishFlow(fs)
		return PollOutcome{}, err
	}
	o.finishFlow(fs)
	return PollOutcome{Status: PollComplete, Expiry: result.Token.ExpiresAt}, nil
}

// StartBrowserFlow runs the authorization-code + PKCE grant to completion:
// listener up, browser opened, one bounded wait for the redirect, CSRF
// verification, then the code exchange. Every exit path releases the
// listener and clears the flow slot.
func (o *Orchestrator) StartBrowserFlow(ctx context.Context) (time.Time, error) {
	fs := o.acquireFlow("browser")
	defer o.finishFlow(fs)

	ep, err := o.ensureEndpoints(ctx)
	if err != nil {
		return time.Time{}, err
	}
	reg, err := o.ensureRegistration(ctx, ep)
	if err != nil {
		return time.Time{}, err
	}

	session, err := o.browser.Begin(reg, ep)
	if err != nil {
		return time.Time{}, err
	}

	o.mu.Lock()
	if o.active != fs {
		o.mu.Unlock()
		session.Listener.Close()
		return time.Time{}, ErrFlowCancelled
	}
	fs.listener = session.Listener
	fs.csrfState = session.State
	fs.codeVerifier = session.Verifier
	fs.redirectURI = session.RedirectURI
	o.mu.Unlock()

	if err := o.launcher.Open(session.AuthURL); err != nil {
		// The user can still follow the printed URL by hand.
		o.log.Warn("failed to open browser", zap.String("flow", fs.id), zap.Error(err))
	}

	ts, err := o.browser.Wait(ctx, reg, ep, session)
	if err != nil {
		return time.Time{}, err
	}
	if err := o.completeLogin(ts); err != nil {
		return time.Time{}, err
	}
	return ts.ExpiresAt, nil
}

// CancelActiveFlow tears down whatever flow is in flight. Idempotent; a
// pending browser Wait unblocks with ErrFlowCancelled and the listener port
// is released.
func (o *Orchestrator) CancelActiveFlow() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
}

func (o *Orchestrator) acquireFlow(kind string) *flowState {
	fs := &flowState{id: uuid.NewString(), kind: kind}
	o.mu.Lock()
	o.cancelLocked()
	o.active = fs
	o.mu.Unlock()
	o.log.Debug("login flow started", zap.String("flow", fs.id), zap.String("kind", kind))
	return fs
}

func (o *Orchestrator) cancelLocked() {
	if o.active == nil {
		return
	}
	if o.active.listener != nil {
		o.active.listener.Cancel()
	}
	o.log.Debug("login flow cancelled", zap.String("flow", o.active.id))
	o.active = nil
}

// finishFlow releases fs exactly once: the slot is cleared if fs still owns
// it and the listener port is released either way.
func (o *Orchestrator) finishFlow(fs *flowState) {
	fs.once.Do(func() {
		o.mu.Lock()
		if o.active == fs {
			o.active = nil
		}
		o.mu.Unlock()
		if fs.listener != nil {
			fs.listener.Close()
		}
		o.log.Debug("login flow finished", zap.String("flow", fs.id))
	})
}

func (o *Orchestrator) ensureEndpoints(ctx context.Context) (*Endpoints, error) {
	o.mu.Lock()
	cached := o.endpoints
	o.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	ep, err := o.resolver.Resolve(ctx, o.http, o.cfg.StartURL, o.cfg.Region)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.endpoints = ep
	o.mu.Unlock()
	return ep, nil
}

// ensureRegistration returns a usable client registration, registering a
// new one (and persisting it) when the cached one is missing or expired.
func (o *Orchestrator) ensureRegistration(ctx context.Context, ep *Endpoints) (*ClientRegistration, error) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	state, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	reg, err := o.registry.GetOrRegister(ctx, state.Registration, ep.Registration)
	if err != nil {
		return nil, err
	}
	if reg != state.Registration {
		if state.Registration != nil {
			o.cipher.Forget(state.Registration.ClientSecret)
		}
		state.Registration = reg
		if err := o.store.Save(state); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (o *Orchestrator) completeLogin(ts *TokenSet) error {
	o.tokens.Set(ts)
	err := o.mutateState(func(state *State) {
		if state.Token != nil && state.Token.AccessToken != ts.AccessToken {
			o.cipher.Forget(state.Token.AccessToken)
			if state.Token.RefreshToken != ts.RefreshToken {
				o.cipher.Forget(state.Token.RefreshToken)
			}
		}
		state.Token = ts
	})
	if err != nil {
		return err
	}
	o.log.Info("authenticated", zap.Time("expiresAt", ts.ExpiresAt))
	return nil
}

func (o *Orchestrator) mutateState(mutate func(*State)) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	state, err := o.store.Load()
	if err != nil {
		return err
	}
	mutate(state)
	return o.store.Save(state)
}

// freshAccessToken hands out a plaintext access token for one directory
// call, refreshing lazily when the stored token is inside the safety
// margin.
func (o *Orchestrator) freshAccessToken(ctx context.Context) (string, error) {
	if o.tokens.Current() == nil {
		return "", ErrNotAuthenticated
	}
	ep, err := o.ensureEndpoints(ctx)
	if err != nil {
		return "", err
	}
	reg, err := o.ensureRegistration(ctx, ep)
	if err != nil {
		return "", err
	}
	ts, refreshed, err := o.tokens.RefreshIfNeeded(ctx, reg, ep)
	if err != nil {
		return "", err
	}
	if refreshed {
		if err := o.mutateState(func(state *State) { state.Token = ts }); err != nil {
			return "", err
		}
	}
	return o.tokens.AccessToken()
}

// ListAccounts returns the accounts the signed-in user may access.
func (o *Orchestrator) ListAccounts(ctx context.Context) ([]directory.Account, error) {
	token, err := o.freshAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return o.dir.ListAccounts(ctx, token)
}

// ListRoles returns the roles the signed-in user may assume in accountID.
func (o *Orchestrator) ListRoles(ctx context.Context, accountID string) ([]directory.Role, error) {
	token, err := o.freshAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return o.dir.ListRoles(ctx, token, accountID)
}

// SelectAccountRole mints role credentials for the selection and persists
// them (encrypted) as the current credentials. Unexpired cached credentials
// for the same pair are reused without a directory call.
func (o *Orchestrator) SelectAccountRole(ctx context.Context, accountID, roleName string) (*directory.RoleCredentials, error) {
	if cached := o.cachedRoleCredentials(accountID, roleName); cached != nil {
		return cached, nil
	}

	token, err := o.freshAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := o.dir.GetRoleCredentials(ctx, token, accountID, roleName)
	if err != nil {
		return nil, err
	}

	err = o.mutateState(func(state *State) {
		if state.RoleCredentials != nil {
			o.cipher.Forget(state.RoleCredentials.AccessKeyID)
			o.cipher.Forget(state.RoleCredentials.SecretAccessKey)
			o.cipher.Forget(state.RoleCredentials.SessionToken)
		}
		state.AccountID = accountID
		state.RoleName = roleName
		state.RoleCredentials = &StoredRoleCredentials{
			AccessKeyID:     o.cipher.Encrypt(creds.AccessKeyID),
			SecretAccessKey: o.cipher.Encrypt(creds.SecretAccessKey),
			SessionToken:    o.cipher.Encrypt(creds.SessionToken),
			Expiration:      creds.Expiration,
		}
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (o *Orchestrator) cachedRoleCredentials(accountID, roleName string) *directory.RoleCredentials {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	state, err := o.store.Load()
	if err != nil || state.RoleCredentials == nil {
		return nil
	}
	if state.AccountID != accountID || state.RoleName != roleName {
		return nil
	}
	stored := state.RoleCredentials
	if time.Until(stored.Expiration) <= expirySafetyMargin {
		return nil
	}
	accessKey := o.cipher.Decrypt(stored.AccessKeyID)
	secretKey := o.cipher.Decrypt(stored.SecretAccessKey)
	sessionToken := o.cipher.Decrypt(stored.SessionToken)
	if accessKey == "" || secretKey == "" || sessionToken == "" {
		return nil
	}
	return &directory.RoleCredentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    sessionToken,
		Expiration:      stored.Expiration,
	}
}

// RefreshCredentials forces one token refresh and persists the result.
func (o *Orchestrator) RefreshCredentials(ctx context.Context) (time.Time, error) {
	if o.tokens.Current() == nil {
		return time.Time{}, ErrNotAuthenticated
	}
	ep, err := o.ensureEndpoints(ctx)
	if err != nil {
		return time.Time{}, err
	}
	reg, err := o.ensureRegistration(ctx, ep)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := o.tokens.Refresh(ctx, reg, ep)
	if err != nil {
		return time.Time{}, err
	}
	if err := o.mutateState(func(state *State) { state.Token = ts }); err != nil {
		return time.Time{}, err
	}
	return ts.ExpiresAt, nil
}

// Logout cancels any active flow and clears every stored auth and
// credential field, including their secure-store entries.
func (o *Orchestrator) Logout() error {
	o.CancelActiveFlow()
	o.tokens.Clear()
	return o.mutateState(func(state *State) {
		if state.Registration != nil {
			o.cipher.Forget(state.Registration.ClientSecret)
		}
		if state.Token != nil {
			o.cipher.Forget(state.Token.AccessToken)
			o.cipher.Forget(state.Token.RefreshToken)
		}
		if state.RoleCredentials != nil {
			o.cipher.Forget(state.RoleCredentials.AccessKeyID)
			o.cipher.Forget(state.RoleCredentials.SecretAccessKey)
			o.cipher.Forget(state.RoleCredentials.SessionToken)
		}
		*state = State{}
	})
}

// GetStatus reports what is configured, stored, and still valid.
func (o *Orchestrator) GetStatus() Status {
	status := Status{
		StartURL:   o.cfg.StartURL,
		Region:     o.cfg.Region,
		Configured: o.cfg.StartURL != "" && o.cfg.Region != "",
	}
	o.stateMu.Lock()
	state, err := o.store.Load()
	o.stateMu.Unlock()
	if err != nil {
		return status
	}
	status.Registered = state.Registration.Valid()
	if state.Token != nil {
		status.TokenExpiresAt = state.Token.ExpiresAt
		status.Authenticated = time.Until(state.Token.ExpiresAt) > expirySafetyMargin
		status.DegradedEncryption = Degraded(state.Token.AccessToken)
	}
	if state.RoleCredentials != nil {
		status.AccountID = state.AccountID
		status.RoleName = state.RoleName
		status.CredentialsExpireAt = state.RoleCredentials.Expiration
		status.HasCredentials = time.Until(state.RoleCredentials.Expiration) > 0
	}
	return status
}
