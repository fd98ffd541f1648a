package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Logger Tests
// =============================================================================

// resetLogger gives each test a fresh singleton writing to a buffer.
func resetLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	once = sync.Once{}
	loggerInstance = nil
	var buf bytes.Buffer
	GetLogger().SetOutput(&buf)
	t.Cleanup(func() {
		once = sync.Once{}
		loggerInstance = nil
	})
	return &buf
}

// TestGetLogger verifies singleton pattern - same instance returned
func TestGetLogger(t *testing.T) {
	if GetLogger() != GetLogger() {
		t.Error("GetLogger() should return same singleton instance")
	}
}

// TestLoggerDefaultVerboseMode verifies verbose is false by default
func TestLoggerDefaultVerboseMode(t *testing.T) {
	resetLogger(t)
	if GetLogger().IsVerbose() {
		t.Error("Logger should have verbose=false by default")
	}
}

// TestSetVerboseMode verifies SetVerboseMode changes verbose state
func TestSetVerboseMode(t *testing.T) {
	resetLogger(t)
	SetVerboseMode(true)
	if !GetLogger().IsVerbose() {
		t.Error("SetVerboseMode(true) should enable verbose mode")
	}
	SetVerboseMode(false)
	if GetLogger().IsVerbose() {
		t.Error("SetVerboseMode(false) should disable verbose mode")
	}
}

// TestDebugOnlyShownWhenVerbose verifies debug output is gated by verbose mode
func TestDebugOnlyShownWhenVerbose(t *testing.T) {
	buf := resetLogger(t)

	Debugf("hidden %d", 1)
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("debug message shown without verbose: %q", buf.String())
	}

	SetVerboseMode(true)
	Debugf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("debug message missing in verbose mode: %q", buf.String())
	}
}

// TestLogLevelsAlwaysShown verifies info, warn and error ignore verbose mode
func TestLogLevelsAlwaysShown(t *testing.T) {
	buf := resetLogger(t)

	Infof("queue has %d items", 3)
	Warnf("endpoint slow")
	Errorf("persist failed: %s", "disk full")

	out := buf.String()
	for _, want := range []string{"INF queue has 3 items", "WRN endpoint slow", "ERR persist failed: disk full"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// TestOutputIncludesTimestamp verifies the HH:MM:SS prefix
func TestOutputIncludesTimestamp(t *testing.T) {
	buf := resetLogger(t)
	GetLogger().Info("hello")
	if !regexp.MustCompile(`^\d{2}:\d{2}:\d{2} INF hello`).MatchString(buf.String()) {
		t.Errorf("unexpected format: %q", buf.String())
	}
}

// TestZerologSharesLevel verifies the component logger follows verbose mode
func TestZerologSharesLevel(t *testing.T) {
	buf := resetLogger(t)
	zl := GetLogger().Zerolog()
	zl.Debug().Msg("quiet")
	if buf.Len() != 0 {
		t.Errorf("debug written without verbose: %q", buf.String())
	}

	SetVerboseMode(true)
	zl = GetLogger().Zerolog()
	zl.Debug().Str("op_id", "p1").Msg("loud")
	if !strings.Contains(buf.String(), "op_id=p1") {
		t.Errorf("structured field missing: %q", buf.String())
	}
}

// TestLoggerThreadSafety verifies concurrent use does not race
func TestLoggerThreadSafety(t *testing.T) {
	resetLogger(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SetVerboseMode(i%2 == 0)
			_ = GetLogger().IsVerbose()
			_ = GetLogger().Zerolog()
		}()
	}
	wg.Wait()
}

// =============================================================================
// Background Logger Tests
// =============================================================================

func TestBackgroundLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	bl, err := NewBackgroundLoggerWithPath(path)
	if err != nil {
		t.Fatalf("NewBackgroundLoggerWithPath error: %v", err)
	}
	if !bl.IsEnabled() || bl.GetLogPath() != path {
		t.Fatalf("logger not enabled at %s", path)
	}

	bl.Printf("drained %d operations", 2)
	zl := bl.Zerolog()
	zl.Warn().Str("event", "retry_exhausted").Msg("dropping")
	bl.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["event"] != "retry_exhausted" || entry["level"] != "warn" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if _, ok := entry["pid"]; !ok {
		t.Error("entry missing pid")
	}
}

func TestBackgroundLoggerGracefulDegradation(t *testing.T) {
	bl, err := NewBackgroundLoggerWithPath(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	if err == nil {
		t.Fatal("expected error for unwritable path")
	}
	if bl == nil || bl.IsEnabled() {
		t.Fatal("expected disabled logger")
	}
	bl.Printf("discarded")
}

func TestBackgroundLoggerDisabled(t *testing.T) {
	bl, err := NewBackgroundLoggerWithEnabled(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bl.IsEnabled() || bl.GetLogPath() != "" {
		t.Error("disabled logger should have no file")
	}
	bl.Printf("discarded")
	bl.Close()
}

func TestBackgroundLoggerPathFormat(t *testing.T) {
	bl, err := NewBackgroundLogger()
	if err != nil {
		t.Fatalf("NewBackgroundLogger error: %v", err)
	}
	defer func() {
		bl.Close()
		_ = os.Remove(bl.GetLogPath())
	}()
	if !regexp.MustCompile(`pantryat-\d+\.log$`).MatchString(bl.GetLogPath()) {
		t.Errorf("unexpected log path %q", bl.GetLogPath())
	}
}
