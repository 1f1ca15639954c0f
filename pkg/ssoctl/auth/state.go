package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StoredRoleCredentials is the at-rest form of one minted role credential
// triplet. All three secret fields are ciphertext.
type StoredRoleCredentials struct {
	AccessKeyID     string    `json:"accessKeyId"`
	SecretAccessKey string    `json:"secretAccessKey"`
	SessionToken    string    `json:"sessionToken"`
	Expiration      time.Time `json:"expiration"`
}

// State is the single persisted settings record: the client registration,
// the token set, the selected account/role, and the last minted role
// credentials. Every secret-bearing field holds ciphertext.
type State struct {
	Registration    *ClientRegistration    `json:"registration,omitempty"`
	Token           *TokenSet              `json:"token,omitempty"`
	AccountID       string                 `json:"accountId,omitempty"`
	RoleName        string                 `json:"roleName,omitempty"`
	RoleCredentials *StoredRoleCredentials `json:"roleCredentials,omitempty"`
}

// StateStore persists the settings record. The engine only ever reads and
// writes the record wholesale.
type StateStore interface {
	Load() (*State, error)
	Save(*State) error
}

// FileStateStore keeps the record as a 0600 JSON file.
type FileStateStore struct {
	Path string
}

func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{Path: path}
}

func (s *FileStateStore) Load() (*State, error) {
	content, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(content, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &state, nil
}

func (s *FileStateStore) Save(state *State) error {
	if state == nil {
		return errors.New("state is nil")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return os.WriteFile(s.Path, content, 0o600)
}

// MemoryStateStore holds the record in memory, for tests.
type MemoryStateStore struct {
	state *State
}

func (s *MemoryStateStore) Load() (*State, error) {
	if s.state == nil {
		return &State{}, nil
	}
	copied := *s.state
	return &copied, nil
}

func (s *MemoryStateStore) Save(state *State) error {
	if state == nil {
		return errors.New("state is nil")
	}
	copied := *state
	s.state = &copied
	return nil
}
