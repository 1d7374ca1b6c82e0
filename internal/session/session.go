// Package session keeps the access token that authenticates the user to the directory.
//
// The token is the only credential kept here; it proves identity to the
// server and never unlocks key material.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/99designs/keyring"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
)

const (
	serviceName = "whanau"
	itemKey     = "access-token"

	// PasswordEnv unlocks the file keyring without prompting.
	PasswordEnv = "WHANAU_KEYRING_PASSWORD"
)

// Session is a saved access token.
type Session struct {
	Token   string    `json:"token"`
	Email   string    `json:"email,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// Store persists the current session.
type Store interface {
	Save(s Session) error
	// Load returns ErrNotAuthenticated when no session is saved.
	Load() (*Session, error)
	Clear() error
}

// KeyringStore keeps the session in a keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// OpenFileKeyring opens an encrypted file keyring in dir. The password comes
// from WHANAU_KEYRING_PASSWORD when set, otherwise from prompt.
func OpenFileKeyring(dir string, prompt func(string) (string, error)) (*KeyringStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	passwordFunc := keyring.PromptFunc(prompt)
	if pw := os.Getenv(PasswordEnv); pw != "" {
		passwordFunc = keyring.FixedStringPrompt(pw)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: passwordFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

func (k *KeyringStore) Save(s Session) error {
	if err := validate(s); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := k.ring.Set(keyring.Item{Key: itemKey, Data: data, Label: "whanau access token"}); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (k *KeyringStore) Load() (*Session, error) {
	item, err := k.ring.Get(itemKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("no saved session: %w", kerrors.ErrNotAuthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(item.Data, &s); err != nil || s.Token == "" {
		return nil, fmt.Errorf("saved session is unreadable: %w", kerrors.ErrNotAuthenticated)
	}
	return &s, nil
}

func (k *KeyringStore) Clear() error {
	err := k.ring.Remove(itemKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Memory is a Store that lives for one process.
type Memory struct {
	mu      sync.Mutex
	session *Session
}

func (m *Memory) Save(s Session) error {
	if err := validate(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *Memory) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, fmt.Errorf("no saved session: %w", kerrors.ErrNotAuthenticated)
	}
	s := *m.session
	return &s, nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// Token returns the saved token from any Store.
func Token(store Store) (string, error) {
	s, err := store.Load()
	if err != nil {
		return "", err
	}
	return s.Token, nil
}

func validate(s Session) error {
	if strings.TrimSpace(s.Token) == "" {
		return fmt.Errorf("access token must not be empty: %w", kerrors.ErrNotAuthenticated)
	}
	return nil
}
