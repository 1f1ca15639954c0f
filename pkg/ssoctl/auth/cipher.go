package auth

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const (
	keyringService = "ssoctl"

	// Ciphertext tags. A value stored through the platform keyring carries
	// keyringPrefix followed by the keyring entry name; a value stored
	// through the degraded fallback carries fallbackPrefix followed by a
	// reversible encoding of the plaintext. The tags keep degraded storage
	// distinguishable from real encryption in diagnostics.
	keyringPrefix  = "keyring:v1:"
	fallbackPrefix = "plain:v1:"
)

// SecureStore is the platform secure-storage primitive backing Cipher.
type SecureStore interface {
	Set(name, secret string) error
	Get(name string) (string, error)
	Delete(name string) error
	Available() bool
}

// systemKeyring stores secrets in the OS keyring (Keychain, Credential
// Manager, Secret Service).
type systemKeyring struct {
	service string
}

// NewSystemKeyring returns the default platform secure store.
func NewSystemKeyring() SecureStore {
	return systemKeyring{service: keyringService}
}

func (s systemKeyring) Set(name, secret string) error {
	return keyring.Set(s.service, name, secret)
}

func (s systemKeyring) Get(name string) (string, error) {
	return keyring.Get(s.service, name)
}

func (s systemKeyring) Delete(name string) error {
	err := keyring.Delete(s.service, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

func (s systemKeyring) Available() bool {
	_, err := keyring.Get(s.service, "__probe__")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// Cipher converts secret fields to and from their at-rest form. The primary
// path parks the plaintext in the platform secure store and returns an
// opaque reference; when the store is unavailable it falls back to a tagged
// reversible encoding so the caller can still operate, at reduced security.
type Cipher struct {
	store SecureStore
	log   *zap.Logger
}

func NewCipher(store SecureStore, log *zap.Logger) *Cipher {
	if store == nil {
		store = NewSystemKeyring()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cipher{store: store, log: log}
}

// Encrypt returns the at-rest form of plaintext. It never fails: if the
// platform store is unavailable or rejects the write, the degraded encoding
// is used instead.
func (c *Cipher) Encrypt(plaintext string) string {
	if c.store.Available() {
		name, err := randomToken(16)
		if err == nil {
			if err = c.store.Set(name, plaintext); err == nil {
				return keyringPrefix + name
			}
		}
		c.log.Warn("secure store write failed, using degraded encoding", zap.Error(err))
	} else {
		c.log.Warn("secure store unavailable, using degraded encoding")
	}
	return fallbackPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext))
}

// Decrypt reverses Encrypt. Malformed or foreign input yields the empty
// string: callers treat a missing credential as a normal state, not a crash.
func (c *Cipher) Decrypt(ciphertext string) string {
	switch {
	case strings.HasPrefix(ciphertext, keyringPrefix):
		secret, err := c.store.Get(strings.TrimPrefix(ciphertext, keyringPrefix))
		if err != nil {
			c.log.Debug("secure store read failed", zap.Error(err))
			return ""
		}
		return secret
	case strings.HasPrefix(ciphertext, fallbackPrefix):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, fallbackPrefix))
		if err != nil {
			return ""
		}
		return string(decoded)
	default:
		return ""
	}
}

// Forget removes any platform store entry backing ciphertext. Used on
// logout so orphaned keyring entries do not accumulate.
func (c *Cipher) Forget(ciphertext string) {
	if strings.HasPrefix(ciphertext, keyringPrefix) {
		if err := c.store.Delete(strings.TrimPrefix(ciphertext, keyringPrefix)); err != nil {
			c.log.Debug("secure store delete failed", zap.Error(err))
		}
	}
}

// Degraded reports whether ciphertext was produced by the fallback path.
func Degraded(ciphertext string) bool {
	return strings.HasPrefix(ciphertext, fallbackPrefix)
}
