// Package shutdown coordinates process shutdown: it turns SIGINT/SIGTERM into
// a cancelled context and runs registered cleanups in reverse order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// CleanupFunc releases a resource. The context carries the shutdown deadline.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager handles graceful shutdown coordination.
type Manager struct {
	log zerolog.Logger

	mu       sync.Mutex
	cleanups []cleanupEntry
	ran      bool

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewManager creates a shutdown manager whose context derives from parent.
func NewManager(parent context.Context, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		log:    logger.With().Str("component", "shutdown").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterCleanup registers fn to run on shutdown. Cleanups run in LIFO
// order, so register the coordinator after the store it persists to.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// HandleSignals calls Shutdown on the first SIGINT or SIGTERM. The returned
// function stops listening.
func (m *Manager) HandleSignals() func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			m.log.Info().Str("signal", sig.String()).Msg("shutting down")
			m.Shutdown()
		case <-stop:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stop)
		})
	}
}

// Shutdown cancels the manager context. Safe to call multiple times.
func (m *Manager) Shutdown() {
	m.once.Do(m.cancel)
}

// IsShutdown returns true if shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	return m.ctx.Err() != nil
}

// Context is cancelled when shutdown is initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Done is closed when shutdown is initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Wait runs the cleanups once, in LIFO order, and returns their joined
// errors. A failing cleanup does not stop the ones after it. If ctx expires
// first, Wait returns ctx.Err() while the remaining cleanups keep running.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.ran {
		m.mu.Unlock()
		return nil
	}
	m.ran = true
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			c := cleanups[i]
			if err := c.fn(ctx); err != nil {
				m.log.Error().Err(err).Str("cleanup", c.name).Msg("cleanup failed")
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
