package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStateStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewFileStateStore(path)

	state := &State{
		Registration: &ClientRegistration{
			ClientID:     "client-1",
			ClientSecret: "keyring:v1:abc",
			ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		},
		Token: &TokenSet{
			AccessToken:  "keyring:v1:def",
			RefreshToken: "keyring:v1:ghi",
			ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		},
		AccountID: "111111111111",
		RoleName:  "Admin",
	}
	require.NoError(t, store.Save(state))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.Registration.ClientID, loaded.Registration.ClientID)
	assert.Equal(t, state.Token.AccessToken, loaded.Token.AccessToken)
	assert.Equal(t, "111111111111", loaded.AccountID)
	assert.Equal(t, "Admin", loaded.RoleName)
}

func TestFileStateStore_MissingFileIsEmptyState(t *testing.T) {
	store := NewFileStateStore(filepath.Join(t.TempDir(), "absent.json"))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state.Registration)
	assert.Nil(t, state.Token)
}

func TestFileStateStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewFileStateStore(path)
	_, err := store.Load()
	assert.Error(t, err)
}

func TestMemoryStateStore_CopiesOnLoadAndSave(t *testing.T) {
	store := &MemoryStateStore{}

	state, err := store.Load()
	require.NoError(t, err)
	assert.NotNil(t, state)

	state.AccountID = "111111111111"
	require.NoError(t, store.Save(state))

	// Mutating the saved pointer must not leak into the store.
	state.AccountID = "tampered"
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "111111111111", loaded.AccountID)

	assert.Error(t, store.Save(nil))
}
