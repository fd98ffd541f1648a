// Package connectivity tracks whether the host is online and pushes
// transitions to subscribers.
package connectivity

import (
	"context"
	"sync"
)

// Source reports host network reachability.
type Source interface {
	// Online returns the current reachability indicator without blocking.
	Online() bool
	// Watch calls notify on every transition until ctx is done.
	Watch(ctx context.Context, notify func(online bool))
}

// Monitor holds the authoritative online/offline value. Only the source can
// change it; subscribers observe it.
type Monitor struct {
	src Source

	mu     sync.RWMutex
	online bool
	subs   map[int]chan bool
	nextID int

	startOnce sync.Once
}

// NewMonitor creates a monitor seeded from the source's current value.
func NewMonitor(src Source) *Monitor {
	return &Monitor{
		src:    src,
		online: src.Online(),
		subs:   make(map[int]chan bool),
	}
}

// Start begins watching the source in a goroutine until ctx is done. Calling
// Start more than once has no further effect.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.src.Watch(ctx, m.set)
	})
}

// Online returns the current value.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe returns a channel that receives the current value immediately and
// then every transition. Slow subscribers only ever see the latest value.
// The returned cancel func closes the channel.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 1)
	ch <- m.online
	id := m.nextID
	m.nextID++
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subs {
		// drop a stale undelivered value so the latest one wins
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}
