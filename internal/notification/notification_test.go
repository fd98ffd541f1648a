package notification

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordRunner struct {
	calls [][]string
	err   error
}

func (r *recordRunner) Run(name string, args ...string) error {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

var ts = time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)

func TestDisabledManagerHasNoChannels(t *testing.T) {
	m := New(Config{Enabled: false, OS: true, LogPath: filepath.Join(t.TempDir(), "n.log")}, zerolog.Nop())
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
	if err := m.Send(Notification{Type: Test, Title: "t", Message: "m"}); err != nil {
		t.Errorf("Send on disabled manager = %v", err)
	}
}

func TestOSChannelLinux(t *testing.T) {
	r := &recordRunner{}
	m := New(Config{Enabled: true, OS: true}, zerolog.Nop(), WithRunner(r), WithGOOS("linux"))
	if err := m.Send(Notification{Type: SyncDropped, Title: "Sync", Message: "gave up"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(r.calls) != 1 || r.calls[0][0] != "notify-send" {
		t.Fatalf("calls = %v", r.calls)
	}
	if got := r.calls[0][len(r.calls[0])-1]; got != "gave up" {
		t.Errorf("message arg = %q", got)
	}
}

func TestOSChannelDarwinQuotes(t *testing.T) {
	r := &recordRunner{}
	m := New(Config{Enabled: true, OS: true}, zerolog.Nop(), WithRunner(r), WithGOOS("darwin"))
	_ = m.Send(Notification{Title: `say "hi"`, Message: `a\b`})
	if len(r.calls) != 1 || r.calls[0][0] != "osascript" {
		t.Fatalf("calls = %v", r.calls)
	}
	script := r.calls[0][2]
	if !strings.Contains(script, `say \"hi\"`) || !strings.Contains(script, `a\\b`) {
		t.Errorf("script not escaped: %s", script)
	}
}

func TestOSChannelUnsupported(t *testing.T) {
	m := New(Config{Enabled: true, OS: true}, zerolog.Nop(), WithRunner(&recordRunner{}), WithGOOS("plan9"))
	if err := m.Send(Notification{Title: "x"}); err == nil {
		t.Error("expected error on unsupported platform")
	}
}

func TestLogChannelWritesAndReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "notifications.log")
	m := New(Config{Enabled: true, LogPath: path}, zerolog.Nop())
	defer func() { _ = m.Close() }()

	if err := m.Send(Notification{Type: SyncDropped, Title: "Sync", Message: "dropped\nline", Timestamp: ts}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	lines, err := ReadLog(path)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	want := "2026-10-15T10:30:00Z [SYNC_DROPPED] Sync: dropped line"
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("lines = %q, want [%q]", lines, want)
	}

	if err := ClearLog(path); err != nil {
		t.Fatalf("ClearLog: %v", err)
	}
	lines, _ = ReadLog(path)
	if len(lines) != 0 {
		t.Errorf("lines after clear = %q", lines)
	}
}

func TestLogChannelRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "n.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 64)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := New(Config{Enabled: true, LogPath: path, MaxLogBytes: 32}, zerolog.Nop())
	defer func() { _ = m.Close() }()

	if err := m.Send(Notification{Type: Test, Title: "t", Message: "m", Timestamp: ts}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := os.Stat(path + ".old"); err != nil {
		t.Errorf("rotated file missing: %v", err)
	}
	lines, _ := ReadLog(path)
	if len(lines) != 1 {
		t.Errorf("lines = %q, want one fresh line", lines)
	}
}

func TestReadAndClearMissingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.log")
	lines, err := ReadLog(path)
	if err != nil || lines != nil {
		t.Errorf("ReadLog = %v, %v", lines, err)
	}
	if err := ClearLog(path); err != nil {
		t.Errorf("ClearLog = %v", err)
	}
}

func TestSendJoinsChannelErrors(t *testing.T) {
	boom := errors.New("boom")
	path := filepath.Join(t.TempDir(), "n.log")
	m := New(Config{Enabled: true, OS: true, LogPath: path}, zerolog.Nop(),
		WithRunner(&recordRunner{err: boom}), WithGOOS("linux"))
	defer func() { _ = m.Close() }()

	err := m.Send(Notification{Type: Test, Title: "t", Message: "m"})
	if !errors.Is(err, boom) {
		t.Errorf("Send = %v, want boom", err)
	}
	// the log channel still ran
	if lines, _ := ReadLog(path); len(lines) != 1 {
		t.Errorf("log lines = %d, want 1", len(lines))
	}
	m.Notify(Notification{Type: Test, Title: "t"})
}
