package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PkceMethod is the only code challenge method the engine emits.
const PkceMethod = "S256"

// PkceParams is a fresh verifier/challenge pair for one browser flow.
// Pairs are never reused across flows.
type PkceParams struct {
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePkce returns a new PKCE pair. The verifier is 43 characters of
// base64url, within the 43-128 range RFC 7636 requires.
func GeneratePkce() (PkceParams, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return PkceParams{}, err
	}
	sum := sha256.Sum256([]byte(verifier))
	return PkceParams{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		Method:    PkceMethod,
	}, nil
}

// GenerateState returns an opaque CSRF binding token, independent of any
// PKCE material.
func GenerateState() (string, error) {
	return randomToken(24)
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
