package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// CLIHandler handles CLI commands for credential management
type CLIHandler struct {
	manager *Manager
	stdin   io.Reader
	stdout  io.Writer
}

// NewCLIHandler creates a new CLI handler for credential commands
func NewCLIHandler(manager *Manager, stdin io.Reader, stdout io.Writer) *CLIHandler {
	return &CLIHandler{manager: manager, stdin: stdin, stdout: stdout}
}

// Set prompts for the token and stores it in the keyring
func (h *CLIHandler) Set(ctx context.Context, username string) error {
	token, err := PromptToken(h.stdin, h.stdout, username)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if err := h.manager.Set(ctx, username, token); err != nil {
		if errors.Is(err, ErrKeyringNotAvailable) {
			return fmt.Errorf("%w\n\nAlternative: export %s=\"your-token\"", err, TokenEnv)
		}
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	_, _ = fmt.Fprintln(h.stdout, "Token stored in system keyring")
	return nil
}

// Get shows where the token comes from without printing it
func (h *CLIHandler) Get(ctx context.Context, username string, jsonOutput bool) error {
	info, err := h.manager.Get(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	if jsonOutput {
		b, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(b))
		return nil
	}

	if !info.Found {
		_, _ = fmt.Fprintf(h.stdout, "No token found for %s\n", username)
		_, _ = fmt.Fprintf(h.stdout, "Searched:\n")
		_, _ = fmt.Fprintf(h.stdout, "  - Environment variable %s: Not set\n", TokenEnv)
		_, _ = fmt.Fprintf(h.stdout, "  - System keyring: Not found\n")
		_, _ = fmt.Fprintf(h.stdout, "\nSuggestion: Run 'pantryat credentials set %s'\n", username)
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintf(h.stdout, "Username: %s\n", info.Username)
	_, _ = fmt.Fprintf(h.stdout, "Token: ******** (hidden)\n")
	return nil
}

// Delete removes the token from the keyring
func (h *CLIHandler) Delete(ctx context.Context, username string) error {
	if err := h.manager.Delete(ctx, username); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	_, _ = fmt.Fprintln(h.stdout, "Token removed from system keyring")
	return nil
}
