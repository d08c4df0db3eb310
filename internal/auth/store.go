// Package auth provides credential storage and authentication
// negotiation for ticketbridge connections. Credentials live in the OS
// keyring; the core never persists raw secrets itself.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keyring service under which credentials are
// stored.
const ServiceName = "ticketbridge"

// Credentials is the material available for one connection. Either or
// both slots may be populated; negotiation only considers methods with
// matching material.
type Credentials struct {
	Token    string `json:"token,omitempty"`    // PAT (Jira 8.14+) or API key (Linear)
	Username string `json:"username,omitempty"` // Basic auth user (email on Jira Cloud)
	Secret   string `json:"secret,omitempty"`   // Basic auth password or API token
}

// HasToken reports whether token material is present.
func (c Credentials) HasToken() bool { return c.Token != "" }

// HasBasic reports whether basic-credential material is present.
func (c Credentials) HasBasic() bool { return c.Username != "" && c.Secret != "" }

// Empty reports whether no material is present at all.
func (c Credentials) Empty() bool { return !c.HasToken() && !c.HasBasic() }

// Store is the opaque secure key-value collaborator the core uses for
// credential material, keyed by connection name.
type Store interface {
	Get(connection string) (Credentials, error)
	Set(connection string, creds Credentials) error
	Delete(connection string) error
}

// Errors for credential store operations.
var (
	ErrNoCredential    = errors.New("no credential found")
	ErrKeyringNotAvail = errors.New("keyring not available")
)

// KeyringStore stores credentials in the OS keyring, serialized as
// JSON, one entry per connection.
type KeyringStore struct{}

// Ensure KeyringStore implements Store at compile time.
var _ Store = KeyringStore{}

func keyringKey(connection string) string {
	return "connection:" + connection
}

// Get retrieves credentials for a connection. Returns ErrNoCredential
// if nothing is stored.
func (KeyringStore) Get(connection string) (Credentials, error) {
	data, err := keyring.Get(ServiceName, keyringKey(connection))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credentials{}, ErrNoCredential
		}
		if isKeyringUnavailable(err) {
			return Credentials{}, fmt.Errorf("%w: %w", ErrKeyringNotAvail, err)
		}
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return creds, nil
}

// Set stores credentials for a connection.
func (KeyringStore) Set(connection string, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := keyring.Set(ServiceName, keyringKey(connection), string(data)); err != nil {
		if isKeyringUnavailable(err) {
			return fmt.Errorf("%w: %w", ErrKeyringNotAvail, err)
		}
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Delete removes credentials for a connection. Idempotent.
func (KeyringStore) Delete(connection string) error {
	err := keyring.Delete(ServiceName, keyringKey(connection))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		if isKeyringUnavailable(err) {
			return fmt.Errorf("%w: %w", ErrKeyringNotAvail, err)
		}
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// isKeyringUnavailable checks if the error indicates the keyring is not
// available. This happens in headless environments (CI, containers,
// SSH sessions).
func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "dbus") ||
		strings.Contains(errStr, "keychain") ||
		strings.Contains(errStr, "credential") ||
		strings.Contains(errStr, "secret service")
}

// MemoryStore is an in-memory Store for tests and for environments
// where the OS keyring is unavailable.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credentials)}
}

// Get retrieves credentials, returning ErrNoCredential when absent.
func (s *MemoryStore) Get(connection string) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.creds[connection]
	if !ok {
		return Credentials{}, ErrNoCredential
	}
	return creds, nil
}

// Set stores credentials.
func (s *MemoryStore) Set(connection string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[connection] = creds
	return nil
}

// Delete removes credentials. Idempotent.
func (s *MemoryStore) Delete(connection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, connection)
	return nil
}
