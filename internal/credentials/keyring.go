package credentials

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrKeyringNotAvailable is returned when the OS keyring cannot be reached
// (no secret service, locked collection, unsupported platform).
var ErrKeyringNotAvailable = errors.New("system keyring not available")

// errNotFound marks a missing keyring entry.
var errNotFound = errors.New("not found")

// MockKeyring is a test implementation of the Keyring interface
type MockKeyring struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> account -> secret
}

// NewMockKeyring creates a new mock keyring for testing
func NewMockKeyring() *MockKeyring {
	return &MockKeyring{
		store: make(map[string]map[string]string),
	}
}

// Set stores a secret in the mock keyring
func (m *MockKeyring) Set(service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store[service] == nil {
		m.store[service] = make(map[string]string)
	}
	m.store[service][account] = secret
	return nil
}

// Get retrieves a secret from the mock keyring
func (m *MockKeyring) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if secret, ok := m.store[service][account]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("%s/%s: %w", service, account, errNotFound)
}

// Delete removes a secret from the mock keyring
func (m *MockKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.store[service][account]; !ok {
		return fmt.Errorf("%s/%s: %w", service, account, errNotFound)
	}
	delete(m.store[service], account)
	return nil
}

// systemKeyring stores secrets in the OS keyring (Secret Service, macOS
// Keychain or Windows Credential Manager).
type systemKeyring struct{}

func (systemKeyring) Set(service, account, secret string) error {
	return mapKeyringErr(keyring.Set(service, account, secret))
}

func (systemKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	return secret, mapKeyringErr(err)
}

func (systemKeyring) Delete(service, account string) error {
	return mapKeyringErr(keyring.Delete(service, account))
}

func mapKeyringErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return errNotFound
	case errors.Is(err, keyring.ErrUnsupportedPlatform):
		return ErrKeyringNotAvailable
	default:
		return fmt.Errorf("%w: %w", ErrKeyringNotAvailable, err)
	}
}
