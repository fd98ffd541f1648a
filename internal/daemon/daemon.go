// Package daemon runs the sync coordinator in a background process. The
// daemon drains the queue whenever the endpoint becomes reachable, when the
// pantry database changes and when a CLI invocation asks it to, and it
// accepts new operations over a Unix socket so that it stays the only writer
// of the stored queue.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	syncer "pantryat/backend/sync"
	"pantryat/internal/connectivity"
	"pantryat/internal/watcher"
)

// Message types.
const (
	MsgNotify  = "notify"
	MsgEnqueue = "enqueue"
	MsgStatus  = "status"
	MsgStop    = "stop"
	MsgDrain   = "drain"
	MsgClear   = "clear"
)

const (
	ioTimeout    = 5 * time.Second
	drainTimeout = 5 * time.Minute
)

// Config holds daemon configuration.
type Config struct {
	PIDPath     string        // Path to PID file
	SocketPath  string        // Path to Unix socket
	IdleTimeout time.Duration // Exit after this long without activity (0 = never)
	WatchFiles  []string      // Database files whose changes trigger a reload
	Debounce    time.Duration // Watcher debounce window
	Executable  string        // Optional: explicit path to executable (for testing)
	ForkArgs    []string      // Extra arguments passed to the forked process
}

// Operation is a pending operation sent by a CLI process.
type Operation struct {
	ID      string          `json:"id"`
	Action  syncer.Action   `json:"action"`
	Payload json.RawMessage `json:"data"`
}

// Message represents an IPC message between CLI and daemon.
type Message struct {
	Type string     `json:"type"`
	Op   *Operation `json:"op,omitempty"`
}

// Response represents a daemon response to CLI.
type Response struct {
	Status  string              `json:"status"` // "ok", "error"
	Message string              `json:"message,omitempty"`
	Running bool                `json:"running"`
	PID     int                 `json:"pid,omitempty"`
	Online  bool                `json:"online"`
	Breaker string              `json:"breaker,omitempty"`
	Sync    *syncer.Status      `json:"sync,omitempty"`
	Drain   *syncer.DrainResult `json:"drain,omitempty"`
}

// Queue is the part of the coordinator the daemon drives.
type Queue interface {
	syncer.Enqueuer
	Drain(ctx context.Context) syncer.DrainResult
	ClearQueue(ctx context.Context)
	Reload(ctx context.Context) int
	Run(ctx context.Context, sig syncer.Signal)
	Status() syncer.Status
}

// Network is the connectivity monitor as seen by the daemon.
type Network interface {
	syncer.Signal
	Online() bool
	Start(ctx context.Context)
}

var _ Network = (*connectivity.Monitor)(nil)

// Daemon represents a running daemon process.
type Daemon struct {
	cfg     Config
	queue   Queue
	network Network
	log     zerolog.Logger
	breaker *CircuitBreaker

	kick     chan struct{}
	activity chan struct{}
	stopOnce sync.Once
	stopChan chan struct{}
	listener net.Listener
}

// New creates a daemon around a coordinator and a connectivity monitor.
func New(cfg Config, queue Queue, network Network, logger zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:      cfg,
		queue:    queue,
		network:  network,
		log:      logger.With().Str("component", "daemon").Logger(),
		breaker:  NewCircuitBreaker(DefaultBreakerThreshold, DefaultBreakerCooldown),
		kick:     make(chan struct{}, 1),
		activity: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Run serves until ctx is done, a stop message arrives or the idle timeout
// expires. The PID file and socket are removed on return.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.PIDPath), 0700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(d.cfg.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = os.Remove(d.cfg.PIDPath) }()

	if err := os.MkdirAll(filepath.Dir(d.cfg.SocketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	_ = os.Remove(d.cfg.SocketPath)
	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	d.listener = listener
	defer func() { _ = os.Remove(d.cfg.SocketPath) }()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = listener.Close()
		wg.Wait()
		d.log.Info().Msg("daemon stopped")
	}()

	d.network.Start(ctx)

	wg.Add(3)
	go func() {
		defer wg.Done()
		d.queue.Run(ctx, d.network)
	}()
	go func() {
		defer wg.Done()
		d.handleConnections(ctx)
	}()
	go func() {
		defer wg.Done()
		d.kickLoop(ctx)
	}()

	if len(d.cfg.WatchFiles) > 0 {
		w, err := watcher.New(watcher.Config{
			Files:            d.cfg.WatchFiles,
			DebounceDuration: d.cfg.Debounce,
			OnChange:         d.Kick,
			Logger:           d.log,
		})
		if err != nil {
			d.log.Warn().Err(err).Msg("file watcher disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = w.Run(ctx)
			}()
		}
	}

	d.log.Info().Int("pid", os.Getpid()).Bool("online", d.network.Online()).
		Dur("idle_timeout", d.cfg.IdleTimeout).Msg("daemon started")

	var idle <-chan time.Time
	var idleTimer *time.Timer
	if d.cfg.IdleTimeout > 0 {
		idleTimer = time.NewTimer(d.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stopChan:
			d.log.Info().Msg("stop requested via IPC")
			return nil
		case <-d.activity:
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(d.cfg.IdleTimeout)
			}
		case <-idle:
			if d.queue.Status().Pending > 0 {
				// keep running while there is work left
				idleTimer.Reset(d.cfg.IdleTimeout)
				continue
			}
			d.log.Info().Msg("idle timeout reached, shutting down")
			return nil
		}
	}
}

// Stop signals the daemon to stop.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}

// Kick asks for a reload of the stored queue followed by a drain. Kicks
// coalesce while one is pending.
func (d *Daemon) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Daemon) touch() {
	select {
	case d.activity <- struct{}{}:
	default:
	}
}

func (d *Daemon) kickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
			d.reloadAndDrain(ctx)
		}
	}
}

func (d *Daemon) reloadAndDrain(ctx context.Context) {
	d.queue.Reload(ctx)
	if !d.network.Online() || d.queue.Status().Pending == 0 {
		return
	}
	if !d.breaker.Allow() {
		d.log.Debug().Msg("drain suppressed, endpoint keeps failing")
		return
	}
	res := d.queue.Drain(ctx)
	if res.Skipped || res.Attempted == 0 {
		return
	}
	if res.Synced == 0 {
		d.breaker.RecordFailure()
	} else {
		d.breaker.RecordSuccess()
	}
	d.touch()
}

func (d *Daemon) handleConnections(ctx context.Context) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			d.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go d.handleConnection(ctx, conn)
	}
}

func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	var msg Message
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}
	d.touch()
	enc := json.NewEncoder(conn)

	switch msg.Type {
	case MsgNotify:
		d.Kick()
		_ = enc.Encode(Response{Status: "ok", Running: true})

	case MsgEnqueue:
		if msg.Op == nil || msg.Op.ID == "" || !msg.Op.Action.Valid() {
			_ = enc.Encode(Response{Status: "error", Message: "invalid operation"})
			return
		}
		payload := msg.Op.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		d.queue.Enqueue(ctx, msg.Op.ID, msg.Op.Action, payload)
		d.Kick()
		_ = enc.Encode(Response{Status: "ok", Running: true})

	case MsgStatus:
		st := d.queue.Status()
		_ = enc.Encode(Response{
			Status:  "ok",
			Running: true,
			PID:     os.Getpid(),
			Online:  d.network.Online(),
			Breaker: d.breaker.State().String(),
			Sync:    &st,
		})

	case MsgDrain:
		// Explicit requests bypass the breaker but still feed it.
		if !d.network.Online() {
			_ = enc.Encode(Response{Status: "error", Message: "offline"})
			return
		}
		_ = conn.SetDeadline(time.Now().Add(drainTimeout))
		d.queue.Reload(ctx)
		res := d.queue.Drain(ctx)
		if res.Attempted > 0 && res.Synced == 0 {
			d.breaker.RecordFailure()
		} else if res.Synced > 0 {
			d.breaker.RecordSuccess()
		}
		st := d.queue.Status()
		_ = enc.Encode(Response{Status: "ok", Running: true, Online: true, Sync: &st, Drain: &res})

	case MsgClear:
		d.queue.ClearQueue(ctx)
		st := d.queue.Status()
		_ = enc.Encode(Response{Status: "ok", Running: true, Sync: &st})

	case MsgStop:
		_ = enc.Encode(Response{Status: "ok", Running: false})
		d.Stop()

	default:
		_ = enc.Encode(Response{Status: "error", Message: "unknown message type"})
	}
}

// Client provides methods to communicate with a running daemon.
type Client struct {
	socketPath string
}

// NewClient creates a new daemon client.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Notify asks the daemon to pick up stored operations and drain.
func (c *Client) Notify() error {
	_, err := c.roundTrip(Message{Type: MsgNotify})
	return err
}

// Status gets the daemon status.
func (c *Client) Status() (*Response, error) {
	return c.roundTrip(Message{Type: MsgStatus})
}

// Drain asks the daemon to drain now and returns the pass result.
func (c *Client) Drain() (*Response, error) {
	return c.roundTripTimeout(Message{Type: MsgDrain}, drainTimeout)
}

// Clear asks the daemon to discard its pending queue.
func (c *Client) Clear() (*Response, error) {
	return c.roundTrip(Message{Type: MsgClear})
}

// Stop requests the daemon to stop and waits for confirmation.
func (c *Client) Stop() error {
	_, err := c.roundTrip(Message{Type: MsgStop})
	return err
}

// Send hands an operation to the daemon's queue.
func (c *Client) Send(id string, action syncer.Action, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", syncer.ErrSerialization, err)
	}
	_, err = c.roundTrip(Message{Type: MsgEnqueue, Op: &Operation{ID: id, Action: action, Payload: data}})
	return err
}

func (c *Client) roundTrip(msg Message) (*Response, error) {
	return c.roundTripTimeout(msg, ioTimeout)
}

func (c *Client) roundTripTimeout(msg Message, timeout time.Duration) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return nil, err
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return &resp, fmt.Errorf("daemon: %s", resp.Message)
	}
	return &resp, nil
}

// Enqueuer sends operations to a running daemon and falls back to a local
// queue when the daemon cannot be reached.
type Enqueuer struct {
	Client   *Client
	Fallback syncer.Enqueuer
	Logger   zerolog.Logger
}

// Enqueue implements syncer.Enqueuer.
func (e *Enqueuer) Enqueue(ctx context.Context, id string, action syncer.Action, payload any) {
	if e.Client != nil {
		err := e.Client.Send(id, action, payload)
		if err == nil {
			return
		}
		e.Logger.Debug().Err(err).Str("op_id", id).Msg("daemon unreachable, queueing locally")
	}
	e.Fallback.Enqueue(ctx, id, action, payload)
}

// Fork spawns a new daemon process running the current executable with
// --daemon-mode.
func Fork(cfg Config) error {
	executable := cfg.Executable
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	args := append([]string{"--daemon-mode"}, cfg.ForkArgs...)
	cmd := exec.Command(executable, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release daemon process: %w", err)
	}
	return nil
}

// WaitRunning polls until the daemon answers or timeout passes.
func WaitRunning(pidPath, socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsRunning(pidPath, socketPath) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// IsRunning checks the PID file and the socket. A stale PID file is removed.
func IsRunning(pidPath, socketPath string) bool {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}

	// FindProcess always succeeds on Unix; signal 0 checks existence
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		_ = os.Remove(socketPath)
		return false
	}

	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// GetSocketPath returns the default socket path.
func GetSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "pantryat", "daemon.sock")
	}
	return fmt.Sprintf("/tmp/pantryat-daemon-%d.sock", os.Getuid())
}

// GetPIDPath returns the default PID file path.
func GetPIDPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "pantryat", "daemon.pid")
	}
	return fmt.Sprintf("/tmp/pantryat-daemon-%d.pid", os.Getuid())
}
