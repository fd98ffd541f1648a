package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	syncer "pantryat/backend/sync"
	"pantryat/internal/connectivity"
	"pantryat/internal/kvstore"
)

// =============================================================================
// Daemon Tests
// =============================================================================

type harness struct {
	daemon *Daemon
	client *Client
	coord  *syncer.Coordinator
	source *connectivity.ManualSource
	store  *kvstore.Memory
	cfg    Config

	mu     sync.Mutex
	pushed []string
	fail   atomic.Bool

	done chan error
}

func (h *harness) pushedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.pushed...)
}

func newHarness(t *testing.T, online bool, mutate func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		source: connectivity.NewManualSource(online),
		store:  kvstore.NewMemory(),
		cfg: Config{
			PIDPath:    filepath.Join(dir, "d.pid"),
			SocketPath: filepath.Join(dir, "d.sock"),
		},
		done: make(chan error, 1),
	}
	if mutate != nil {
		mutate(&h.cfg)
	}
	remote := syncer.RemoteFunc(func(ctx context.Context, op syncer.PendingOperation) error {
		if h.fail.Load() {
			return syncer.ErrRemoteCallFailed
		}
		h.mu.Lock()
		h.pushed = append(h.pushed, op.ID)
		h.mu.Unlock()
		return nil
	})
	h.coord = syncer.New(context.Background(), remote, h.store, syncer.Config{}, zerolog.Nop())
	h.daemon = New(h.cfg, h.coord, connectivity.NewMonitor(h.source), zerolog.Nop())
	h.client = NewClient(h.cfg.SocketPath)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.daemon.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(3 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	if !WaitRunning(h.cfg.PIDPath, h.cfg.SocketPath, 2*time.Second) {
		t.Fatal("daemon did not start")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDaemonStatus(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)

	resp, err := h.client.Status()
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if !resp.Running || resp.Online || resp.PID != os.Getpid() || resp.Sync == nil {
		t.Errorf("unexpected status: %+v", resp)
	}
	if resp.Breaker != "closed" {
		t.Errorf("breaker = %q", resp.Breaker)
	}
}

// TestDaemonQueuesWhileOfflineAndDrainsOnline covers an enqueue sent over IPC
func TestDaemonQueuesWhileOfflineAndDrainsOnline(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)

	if err := h.client.Send("p1", syncer.ActionCreate, map[string]string{"name": "Salt"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	eventually(t, func() bool { return h.coord.PendingCount() == 1 }, "operation not queued")
	if len(h.pushedIDs()) != 0 {
		t.Fatal("pushed while offline")
	}

	h.source.Set(true)
	eventually(t, func() bool { return h.coord.PendingCount() == 0 }, "queue not drained after going online")
	if ids := h.pushedIDs(); len(ids) != 1 || ids[0] != "p1" {
		t.Errorf("pushed = %v", ids)
	}
}

// TestDaemonNotifyPicksUpStoredOperations covers a CLI that queued locally
func TestDaemonNotifyPicksUpStoredOperations(t *testing.T) {
	h := newHarness(t, true, nil)
	h.start(t)

	// another process appends to the stored queue
	other := syncer.New(context.Background(), syncer.RemoteFunc(func(context.Context, syncer.PendingOperation) error { return nil }),
		h.store, syncer.Config{}, zerolog.Nop())
	other.Enqueue(context.Background(), "p7", syncer.ActionDelete, map[string]string{"id": "7"})

	if err := h.client.Notify(); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	eventually(t, func() bool {
		ids := h.pushedIDs()
		return len(ids) == 1 && ids[0] == "p7"
	}, "stored operation not pushed")
}

func TestDaemonDrainViaIPC(t *testing.T) {
	h := newHarness(t, true, nil)
	h.fail.Store(true)
	h.coord.Enqueue(context.Background(), "p1", syncer.ActionCreate, nil)
	h.start(t)
	eventually(t, func() bool { return h.coord.Status().LastDrainAt != nil }, "initial drain did not run")
	h.fail.Store(false)

	resp, err := h.client.Drain()
	if err != nil {
		t.Fatalf("Drain error: %v", err)
	}
	if resp.Drain == nil || resp.Drain.Synced != 1 {
		t.Fatalf("drain result = %+v", resp.Drain)
	}
	if resp.Sync == nil || resp.Sync.Pending != 0 {
		t.Errorf("sync status = %+v", resp.Sync)
	}
}

func TestDaemonDrainOfflineIsRejected(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)

	if _, err := h.client.Drain(); err == nil {
		t.Fatal("expected error while offline")
	}
}

func TestDaemonClearViaIPC(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)
	for i := range 3 {
		if err := h.client.Send(fmt.Sprintf("c%d", i), syncer.ActionUpdate, nil); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}

	resp, err := h.client.Clear()
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if resp.Sync == nil || resp.Sync.Pending != 0 || h.coord.PendingCount() != 0 {
		t.Errorf("queue not cleared: %+v", resp.Sync)
	}
}

func TestDaemonRejectsInvalidOperation(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)

	if err := h.client.Send("", syncer.ActionCreate, nil); err == nil {
		t.Error("expected error for empty id")
	}
	if err := h.client.Send("p1", syncer.Action("upsert"), nil); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestDaemonStopViaIPC(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { h.done <- h.daemon.Run(ctx) }()
	if !WaitRunning(h.cfg.PIDPath, h.cfg.SocketPath, 2*time.Second) {
		t.Fatal("daemon did not start")
	}

	if err := h.client.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(h.cfg.PIDPath); !os.IsNotExist(err) {
		t.Error("PID file not removed")
	}
	if IsRunning(h.cfg.PIDPath, h.cfg.SocketPath) {
		t.Error("daemon still reported running")
	}
}

func TestDaemonIdleTimeout(t *testing.T) {
	h := newHarness(t, false, func(c *Config) { c.IdleTimeout = 100 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { h.done <- h.daemon.Run(ctx) }()

	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not exit after idle timeout")
	}
}

// TestDaemonWatcherTriggersReload covers the database watcher path
func TestDaemonWatcherTriggersReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pantry.db")
	h := newHarness(t, true, func(c *Config) {
		c.WatchFiles = []string{dbPath}
		c.Debounce = 20 * time.Millisecond
	})
	h.start(t)

	other := syncer.New(context.Background(), syncer.RemoteFunc(func(context.Context, syncer.PendingOperation) error { return nil }),
		h.store, syncer.Config{}, zerolog.Nop())
	other.Enqueue(context.Background(), "p9", syncer.ActionCreate, map[string]string{"name": "Rice"})

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(dbPath, []byte("changed"), 0600); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return len(h.pushedIDs()) == 1 }, "watcher change did not drain")
}

// TestEnqueuerFallsBackWithoutDaemon verifies local queueing when no daemon answers
func TestEnqueuerFallsBackWithoutDaemon(t *testing.T) {
	store := kvstore.NewMemory()
	local := syncer.New(context.Background(), syncer.RemoteFunc(func(context.Context, syncer.PendingOperation) error { return nil }),
		store, syncer.Config{}, zerolog.Nop())
	e := &Enqueuer{
		Client:   NewClient(filepath.Join(t.TempDir(), "missing.sock")),
		Fallback: local,
		Logger:   zerolog.Nop(),
	}
	e.Enqueue(context.Background(), "p1", syncer.ActionCreate, map[string]string{"name": "Salt"})
	if local.PendingCount() != 1 {
		t.Errorf("fallback pending = %d, want 1", local.PendingCount())
	}
}

func TestEnqueuerUsesDaemon(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)

	local := syncer.New(context.Background(), syncer.RemoteFunc(func(context.Context, syncer.PendingOperation) error { return nil }),
		kvstore.NewMemory(), syncer.Config{}, zerolog.Nop())
	e := &Enqueuer{Client: h.client, Fallback: local, Logger: zerolog.Nop()}
	e.Enqueue(context.Background(), "p1", syncer.ActionUpdate, map[string]float64{"quantity": 2})

	if local.PendingCount() != 0 {
		t.Error("operation queued locally while the daemon was running")
	}
	eventually(t, func() bool { return h.coord.PendingCount() == 1 }, "daemon did not queue the operation")
}

func TestIsRunningRemovesStalePID(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "d.pid")
	// pid far above any default pid_max
	if err := os.WriteFile(pidPath, []byte("999999999"), 0600); err != nil {
		t.Fatal(err)
	}
	if IsRunning(pidPath, filepath.Join(dir, "d.sock")) {
		t.Fatal("stale PID reported running")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("stale PID file not removed")
	}
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if GetSocketPath() != "/run/user/1000/pantryat/daemon.sock" {
		t.Errorf("GetSocketPath() = %q", GetSocketPath())
	}
	if GetPIDPath() != "/run/user/1000/pantryat/daemon.pid" {
		t.Errorf("GetPIDPath() = %q", GetPIDPath())
	}
}

// =============================================================================
// Drain Breaker Tests
// =============================================================================

func TestCircuitBreakerOpensAndHalfOpens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if !cb.Allow() || cb.State() != CircuitClosed {
		t.Fatal("breaker opened too early")
	}
	cb.RecordFailure()
	if cb.Allow() || cb.State() != CircuitOpen {
		t.Fatal("breaker should be open at threshold")
	}

	now = now.Add(time.Minute)
	if !cb.Allow() || cb.State() != CircuitHalfOpen {
		t.Fatal("breaker should half-open after cooldown")
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("failed probe should reopen the breaker")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed || cb.FailureCount() != 0 {
		t.Errorf("success should close: state=%v failures=%d", cb.State(), cb.FailureCount())
	}
}

func TestBreakerSuppressesKickedDrains(t *testing.T) {
	h := newHarness(t, true, nil)
	h.fail.Store(true)
	ctx := context.Background()

	for i := range DefaultBreakerThreshold {
		h.coord.Enqueue(ctx, fmt.Sprintf("p%d", i), syncer.ActionCreate, nil)
		h.daemon.reloadAndDrain(ctx)
	}
	if h.daemon.breaker.State() != CircuitOpen {
		t.Fatalf("breaker state = %v, want open", h.daemon.breaker.State())
	}

	before := h.coord.Status().Pending
	h.daemon.reloadAndDrain(ctx)
	if h.coord.Status().Pending != before {
		t.Error("drain ran while breaker was open")
	}
}
