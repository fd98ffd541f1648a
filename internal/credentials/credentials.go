// Package credentials stores the sync endpoint token in the OS keyring, with
// an environment variable fallback.
package credentials

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Service is the keyring service name for pantryat secrets.
const Service = "pantryat"

// TokenEnv overrides the keyring token when set.
const TokenEnv = "PANTRYAT_SYNC_TOKEN"

// Source indicates where credentials were retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// CredentialInfo contains credential information returned by Get()
type CredentialInfo struct {
	Source   Source
	Username string
	Token    string
	Found    bool
}

// JSON serializes the credential info to JSON (token excluded)
func (c *CredentialInfo) JSON() ([]byte, error) {
	output := struct {
		Username string `json:"username"`
		Source   string `json:"source"`
		Found    bool   `json:"found"`
	}{
		Username: c.Username,
		Source:   string(c.Source),
		Found:    c.Found,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// NewManager creates a new credential manager backed by the OS keyring
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{keyring: systemKeyring{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Set stores the token for username in the keyring
func (m *Manager) Set(ctx context.Context, username, token string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("username is required")
	}
	if token == "" {
		return errors.New("token is required")
	}
	return m.keyring.Set(Service, username, token)
}

// Get returns the token, preferring PANTRYAT_SYNC_TOKEN over the keyring.
// A missing token is reported through Found, not as an error.
func (m *Manager) Get(ctx context.Context, username string) (*CredentialInfo, error) {
	if token := os.Getenv(TokenEnv); token != "" {
		return &CredentialInfo{Source: SourceEnvironment, Username: username, Token: token, Found: true}, nil
	}
	if username != "" {
		token, err := m.keyring.Get(Service, username)
		if err == nil && token != "" {
			return &CredentialInfo{Source: SourceKeyring, Username: username, Token: token, Found: true}, nil
		}
		if err != nil && !errors.Is(err, errNotFound) && !errors.Is(err, ErrKeyringNotAvailable) {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}
	return &CredentialInfo{Source: SourceNone, Username: username}, nil
}

// Delete removes the token from the keyring. Deleting a missing entry is not
// an error.
func (m *Manager) Delete(ctx context.Context, username string) error {
	err := m.keyring.Delete(Service, username)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

// PromptToken asks for the token. Input is hidden when r is a terminal.
func PromptToken(r io.Reader, w io.Writer, username string) (string, error) {
	_, _ = fmt.Fprintf(w, "Enter sync token for %s: ", username)

	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(w)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no input received")
}
