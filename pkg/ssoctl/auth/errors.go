package auth

import (
	"errors"
	"fmt"
)

var (
	// errAuthorizationPending and errSlowDown are internal poll signals.
	// They never escape Poll; callers see PollPending / PollSlowDown.
	errAuthorizationPending = errors.New("authorization pending")
	errSlowDown             = errors.New("slow down")

	ErrDeviceCodeExpired = errors.New("device code expired")
	ErrAccessDenied      = errors.New("authorization denied by user")
	ErrCSRFMismatch      = errors.New("callback state does not match login request")
	ErrCallbackTimeout   = errors.New("timed out waiting for browser callback")
	ErrFlowCancelled     = errors.New("login flow cancelled")
	ErrNoRefreshToken    = errors.New("no refresh token stored")
	ErrRefreshFailed     = errors.New("refresh token rejected")
	ErrNotAuthenticated  = errors.New("not authenticated")
)

// RegistrationError reports a client registration response that omitted a
// field required to use the registration later.
type RegistrationError struct {
	Field string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("client registration response missing %s", e.Field)
}

// ProviderError carries an OAuth error code returned by the identity
// provider together with its optional human-readable description.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider error: %s", e.Code)
	}
	return fmt.Sprintf("provider error: %s: %s", e.Code, e.Description)
}

// translateTokenError maps OAuth token endpoint error codes onto the stable
// error set at a single boundary, so downstream logic never matches on
// provider strings.
func translateTokenError(code, description string) error {
	switch code {
	case "authorization_pending":
		return errAuthorizationPending
	case "slow_down":
		return errSlowDown
	case "expired_token":
		return ErrDeviceCodeExpired
	case "access_denied":
		return ErrAccessDenied
	default:
		return &ProviderError{Code: code, Description: description}
	}
}
