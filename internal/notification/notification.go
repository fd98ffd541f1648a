// Package notification tells the user about background events that no
// terminal is around to report, such as sync operations the daemon gave up on.
package notification

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Type identifies the kind of notification.
type Type string

const (
	SyncDropped Type = "sync_dropped"
	Test        Type = "test"
)

// Notification is one message to deliver.
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Timestamp time.Time
}

// Channel delivers notifications somewhere.
type Channel interface {
	Send(n Notification) error
	Close() error
}

// Config selects the enabled channels.
type Config struct {
	Enabled bool
	// OS sends desktop notifications (notify-send, osascript).
	OS bool
	// LogPath appends every notification to a file. Empty disables the log.
	LogPath string
	// MaxLogBytes rotates the log to <path>.old once exceeded. Zero means 1 MiB.
	MaxLogBytes int64
}

// Runner executes an external command.
type Runner interface {
	Run(name string, args ...string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(name string, args ...string) error

// Run calls f.
func (f RunnerFunc) Run(name string, args ...string) error { return f(name, args...) }

type options struct {
	runner Runner
	goos   string
}

// Option configures a Manager.
type Option func(*options)

// WithRunner replaces the command runner used by the OS channel.
func WithRunner(r Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithGOOS overrides the platform the OS channel targets.
func WithGOOS(goos string) Option {
	return func(o *options) { o.goos = goos }
}

// Manager fans notifications out to every enabled channel.
type Manager struct {
	channels []Channel
	log      zerolog.Logger
	now      func() time.Time
}

// New builds a manager from cfg. A disabled config yields a manager
// without channels whose Send is a no-op.
func New(cfg Config, logger zerolog.Logger, opts ...Option) *Manager {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	m := &Manager{log: logger.With().Str("component", "notification").Logger(), now: time.Now}
	if !cfg.Enabled {
		return m
	}
	if cfg.OS {
		m.channels = append(m.channels, newOSChannel(o.runner, o.goos))
	}
	if cfg.LogPath != "" {
		m.channels = append(m.channels, newLogChannel(cfg.LogPath, cfg.MaxLogBytes))
	}
	return m
}

// Send delivers n to every channel and joins their errors.
func (m *Manager) Send(n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = m.now()
	}
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify is Send for callers that cannot act on failures; they are logged.
func (m *Manager) Notify(n Notification) {
	if err := m.Send(n); err != nil {
		m.log.Warn().Err(err).Str("type", string(n.Type)).Msg("notification not delivered")
	}
}

// Close releases every channel.
func (m *Manager) Close() error {
	var errs []error
	for _, ch := range m.channels {
		errs = append(errs, ch.Close())
	}
	return errors.Join(errs...)
}

// Len returns the number of active channels.
func (m *Manager) Len() int {
	return len(m.channels)
}
