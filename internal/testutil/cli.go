// Package testutil provides shared test utilities for CLI testing across packages.
// This enables co-located CLI tests while maintaining consistent test infrastructure.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"pantryat/backend/remote"
	"pantryat/cmd/pantryat/cmd"
	"pantryat/internal/credentials"
)

// Result codes re-exported for co-located CLI tests.
const (
	ResultActionCompleted = cmd.ResultActionCompleted
	ResultInfoOnly        = cmd.ResultInfoOnly
	ResultError           = cmd.ResultError
)

// defaultTestConfig keeps tests off the network and out of the temp log dir.
const defaultTestConfig = `sync:
  offline_mode: offline
logging:
  background_enabled: false
`

// CLITest provides a test helper for running CLI commands in isolation.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	tmpDir     string
	configPath string
	keyring    *credentials.MockKeyring
}

// NewCLITest creates a new CLI test helper with an isolated database and an
// offline network.
func NewCLITest(t *testing.T) *CLITest {
	t.Helper()
	return NewCLITestWithConfig(t, defaultTestConfig)
}

// NewCLITestWithConfig creates a CLI test helper whose config file holds yamlContent.
func NewCLITestWithConfig(t *testing.T, yamlContent string) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	t.Setenv(credentials.TokenEnv, "")

	kr := credentials.NewMockKeyring()
	c := &CLITest{
		t:          t,
		tmpDir:     tmpDir,
		configPath: configPath,
		keyring:    kr,
		cfg: &cmd.Config{
			NoPrompt:   true,
			DBPath:     filepath.Join(tmpDir, "pantry.db"),
			ConfigPath: configPath,
			Keyring:    kr,
			SocketPath: filepath.Join(tmpDir, "daemon.sock"),
			PIDPath:    filepath.Join(tmpDir, "daemon.pid"),
			Stdin:      strings.NewReader(""),
		},
	}
	c.SetFullConfig(yamlContent)
	return c
}

// NewCLITestWithSync creates a CLI test helper with sync enabled against
// endpoint. offlineMode is auto, online or offline.
func NewCLITestWithSync(t *testing.T, endpoint, offlineMode string) *CLITest {
	t.Helper()
	return NewCLITestWithConfig(t, "sync:\n"+
		"  enabled: true\n"+
		"  endpoint: "+endpoint+"\n"+
		"  user: tester\n"+
		"  offline_mode: "+offlineMode+"\n"+
		"logging:\n"+
		"  background_enabled: false\n")
}

// Config returns the test configuration.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// ConfigPath returns the path to the config file.
func (c *CLITest) ConfigPath() string {
	return c.configPath
}

// Keyring returns the in-memory keyring used by credential commands.
func (c *CLITest) Keyring() *credentials.MockKeyring {
	return c.keyring
}

// SetFullConfig replaces the entire config file with the given YAML content.
func (c *CLITest) SetFullConfig(yamlContent string) {
	c.t.Helper()
	if err := os.WriteFile(c.configPath, []byte(yamlContent), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// SetStdin sets the input read by prompts in the next commands.
func (c *CLITest) SetStdin(input string) {
	c.cfg.Stdin = strings.NewReader(input)
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(args, &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// MustExecute runs a CLI command and fails the test if it exits non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if it exits zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// AssertContains fails if output does not contain expected.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails if output contains unexpected.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output not to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertResultCode checks the result code on the last line of output.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, lastLine, output)
	}
}

// =============================================================================
// Sync endpoint
// =============================================================================

// SyncRequest is one operation received by a SyncServer.
type SyncRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
	ID     string          `json:"id"`
	Auth   string          `json:"-"`
}

// SyncServer is a fake sync endpoint that records what it receives.
type SyncServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	received []SyncRequest
}

// NewSyncServer starts a fake sync endpoint that accepts every operation.
func NewSyncServer(t *testing.T) *SyncServer {
	t.Helper()
	s := &SyncServer{status: http.StatusOK}

	r := chi.NewRouter()
	r.Post(remote.SyncPath, func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var sr SyncRequest
		if err := json.Unmarshal(body, &sr); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		sr.Auth = req.Header.Get("Authorization")

		s.mu.Lock()
		status := s.status
		if status >= 200 && status < 300 {
			s.received = append(s.received, sr)
		}
		s.mu.Unlock()
		w.WriteHeader(status)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// SetStatus sets the HTTP status returned for later requests.
func (s *SyncServer) SetStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// Received returns the accepted operations in arrival order.
func (s *SyncServer) Received() []SyncRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SyncRequest(nil), s.received...)
}
