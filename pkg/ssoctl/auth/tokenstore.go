package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// expirySafetyMargin treats tokens about to expire as already invalid, so a
// token is never handed out with seconds left on it.
const expirySafetyMargin = 2 * time.Minute

// TokenSet is the current token pair in at-rest form. Replaced wholesale on
// refresh, never partially mutated.
type TokenSet struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// TokenStore owns the current TokenSet and performs lazy refresh. All
// methods are safe for concurrent use; RefreshIfNeeded is single-flight so
// two callers can never consume the same refresh token twice.
type TokenStore struct {
	mu      sync.Mutex
	current *TokenSet

	http   *http.Client
	cipher *Cipher
	log    *zap.Logger
}

func NewTokenStore(client *http.Client, cipher *Cipher, log *zap.Logger) *TokenStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenStore{http: client, cipher: cipher, log: log}
}

// Set replaces the current token set.
func (s *TokenStore) Set(ts *TokenSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ts
}

// Current returns the current token set, or nil.
func (s *TokenStore) Current() *TokenSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Clear drops the current token set.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// IsValid reports whether the current token is usable, counting tokens
// inside the safety margin as already expired.
func (s *TokenStore) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked()
}

func (s *TokenStore) validLocked() bool {
	return s.current != nil && time.Until(s.current.ExpiresAt) > expirySafetyMargin
}

// AccessToken returns the decrypted access token for one call frame.
func (s *TokenStore) AccessToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", ErrNotAuthenticated
	}
	plaintext := s.cipher.Decrypt(s.current.AccessToken)
	if plaintext == "" {
		return "", ErrNotAuthenticated
	}
	return plaintext, nil
}

// Refresh exchanges the stored refresh token for a new token set,
// replacing the current one. ErrNoRefreshToken when nothing is stored to
// refresh with; ErrRefreshFailed when the provider rejects the exchange.
func (s *TokenStore) Refresh(ctx context.Context, reg *ClientRegistration, ep *Endpoints) (*TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx, reg, ep)
}

func (s *TokenStore) refreshLocked(ctx context.Context, reg *ClientRegistration, ep *Endpoints) (*TokenSet, error) {
	if s.current == nil || s.current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	refreshToken := s.cipher.Decrypt(s.current.RefreshToken)
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	payload := createTokenRequest{
		ClientID:     reg.ClientID,
		ClientSecret: s.cipher.Decrypt(reg.ClientSecret),
		GrantType:    refreshTokenGrant,
		RefreshToken: refreshToken,
	}
	var resp createTokenResponse
	if err := postJSON(ctx, s.http, ep.Token, payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	ts := resp.tokenSet(s.cipher)
	if ts.RefreshToken == "" {
		// Provider did not rotate the refresh token; keep the old one.
		ts.RefreshToken = s.current.RefreshToken
	}
	old := s.current
	s.current = ts
	s.cipher.Forget(old.AccessToken)
	if old.RefreshToken != ts.RefreshToken {
		s.cipher.Forget(old.RefreshToken)
	}
	s.log.Debug("token refreshed", zap.Time("expiresAt", ts.ExpiresAt))
	return ts, nil
}

// RefreshIfNeeded is a no-op while the current token is valid, and performs
// exactly one refresh otherwise. The returned bool reports whether a
// refresh happened.
func (s *TokenStore) RefreshIfNeeded(ctx context.Context, reg *ClientRegistration, ep *Endpoints) (*TokenSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validLocked() {
		return s.current, false, nil
	}
	ts, err := s.refreshLocked(ctx, reg, ep)
	if err != nil {
		return nil, false, err
	}
	return ts, true, nil
}
