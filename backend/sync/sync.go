// Package syncer buffers pantry mutations and pushes them to the remote sync
// endpoint when the host is online.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pantryat/internal/kvstore"
)

const (
	// MaxAttempts is the number of failed remote calls after which an
	// operation is dropped.
	MaxAttempts = 3

	// DefaultQueueKey is the durable storage key of the pending queue.
	DefaultQueueKey = "pantry-sync-queue"

	defaultCallTimeout = 30 * time.Second
)

var (
	// ErrRemoteCallFailed marks a non-success result from the sync endpoint.
	ErrRemoteCallFailed = errors.New("remote sync call failed")
	// ErrRetryExhausted marks an operation dropped after MaxAttempts failures.
	ErrRetryExhausted = errors.New("sync retries exhausted")
	// ErrSerialization marks a failure to encode, decode or persist the queue.
	ErrSerialization = errors.New("sync queue serialization failed")
)

// Action is the kind of mutation carried by a pending operation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// PendingOperation is a queued mutation not yet confirmed by the remote.
type PendingOperation struct {
	ID           string          `json:"id"`
	Action       Action          `json:"action"`
	Payload      json.RawMessage `json:"data"`
	EnqueuedAt   int64           `json:"timestamp"`
	AttemptCount int             `json:"retryCount"`

	// seq identifies one queue entry; ids may repeat.
	seq uint64
}

// Remote pushes one operation to the sync endpoint. Any error counts as a
// failed attempt.
type Remote interface {
	Push(ctx context.Context, op PendingOperation) error
}

// RemoteFunc adapts a function to Remote.
type RemoteFunc func(ctx context.Context, op PendingOperation) error

// Push calls f.
func (f RemoteFunc) Push(ctx context.Context, op PendingOperation) error { return f(ctx, op) }

// Config contains coordinator settings.
type Config struct {
	// CallTimeout bounds each remote call. Zero means 30s.
	CallTimeout time.Duration
	// QueueKey overrides the durable storage key.
	QueueKey string
	// OnDropped is called for every operation dropped after MaxAttempts.
	OnDropped func(op PendingOperation, err error)
	// Now overrides the clock.
	Now func() time.Time
}

// Status is a snapshot of coordinator state.
type Status struct {
	Pending     int        `json:"pending"`
	InProgress  bool       `json:"in_progress"`
	LastDrainAt *time.Time `json:"last_drain_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Synced      int64      `json:"synced"`
	Dropped     int64      `json:"dropped"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Skipped     bool `json:"skipped"`
	Attempted   int  `json:"attempted"`
	Synced      int  `json:"synced"`
	Failed      int  `json:"failed"`
	Dropped     int  `json:"dropped"`
	Interrupted bool `json:"interrupted,omitempty"` // ctx ended the pass early
}

// Coordinator owns the pending queue and drains it against the remote.
type Coordinator struct {
	remote      Remote
	store       kvstore.Store
	log         zerolog.Logger
	key         string
	callTimeout time.Duration
	onDropped   func(PendingOperation, error)
	now         func() time.Time

	mu      stdsync.Mutex
	queue   []PendingOperation
	nextSeq uint64

	draining atomic.Bool
	synced   atomic.Int64
	dropped  atomic.Int64

	stateMu     stdsync.RWMutex
	lastDrainAt *time.Time
	lastError   string
}

// New creates a coordinator and loads the persisted queue. An unreadable or
// corrupt stored queue is logged and replaced by an empty one.
func New(ctx context.Context, remote Remote, store kvstore.Store, cfg Config, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		remote:      remote,
		store:       store,
		log:         logger,
		key:         cfg.QueueKey,
		callTimeout: cfg.CallTimeout,
		onDropped:   cfg.OnDropped,
		now:         cfg.Now,
	}
	if c.key == "" {
		c.key = DefaultQueueKey
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.load(ctx)
	return c
}

func (c *Coordinator) load(ctx context.Context) {
	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return
	}
	if err != nil {
		c.log.Warn().Err(fmt.Errorf("%w: %w", ErrSerialization, err)).
			Str("event", "queue_load_failed").Msg("could not read sync queue, starting empty")
		return
	}

	var ops []PendingOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		c.log.Warn().Err(fmt.Errorf("%w: %w", ErrSerialization, err)).
			Str("event", "queue_load_failed").Msg("stored sync queue is corrupt, starting empty")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, op := range ops {
		c.nextSeq++
		op.seq = c.nextSeq
		c.queue = append(c.queue, op)
	}
	c.log.Debug().Int("pending", len(c.queue)).Msg("loaded sync queue")
}

// Enqueue appends an operation with AttemptCount 0 and persists the queue. It
// never touches the network. A persistence failure is logged and the
// in-memory operation stands.
func (c *Coordinator) Enqueue(ctx context.Context, id string, action Action, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(fmt.Errorf("%w: %w", ErrSerialization, err)).
			Str("event", "payload_encode_failed").Str("op_id", id).Msg("could not encode sync payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	c.queue = append(c.queue, PendingOperation{
		ID:         id,
		Action:     action,
		Payload:    data,
		EnqueuedAt: c.now().UnixMilli(),
		seq:        c.nextSeq,
	})
	c.log.Debug().Str("op_id", id).Str("action", string(action)).Int("pending", len(c.queue)).Msg("enqueued sync operation")
	c.persistLocked(ctx)
}

// Reload appends operations found in the stored queue but not in memory, as
// left by another process that enqueued while this coordinator was running.
// Entries are matched on id, action and enqueue time. It returns the number of
// operations picked up.
func (c *Coordinator) Reload(ctx context.Context) int {
	raw, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.log.Warn().Err(fmt.Errorf("%w: %w", ErrSerialization, err)).
				Str("event", "queue_load_failed").Msg("could not re-read sync queue")
		}
		return 0
	}
	var stored []PendingOperation
	if err := json.Unmarshal(raw, &stored); err != nil {
		c.log.Warn().Err(fmt.Errorf("%w: %w", ErrSerialization, err)).
			Str("event", "queue_load_failed").Msg("stored sync queue is corrupt")
		return 0
	}

	type key struct {
		id     string
		action Action
		at     int64
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	known := make(map[key]bool, len(c.queue))
	for _, op := range c.queue {
		known[key{op.ID, op.Action, op.EnqueuedAt}] = true
	}
	added := 0
	for _, op := range stored {
		k := key{op.ID, op.Action, op.EnqueuedAt}
		if known[k] {
			continue
		}
		known[k] = true
		c.nextSeq++
		op.seq = c.nextSeq
		c.queue = append(c.queue, op)
		added++
	}
	if added > 0 {
		c.log.Info().Int("added", added).Int("pending", len(c.queue)).Msg("picked up stored sync operations")
		c.persistLocked(ctx)
	}
	return added
}

// PendingCount returns the current queue length.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Pending returns a copy of the queue in FIFO order.
func (c *Coordinator) Pending() []PendingOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingOperation, len(c.queue))
	copy(out, c.queue)
	return out
}

// ClearQueue empties the queue and persists the empty state.
func (c *Coordinator) ClearQueue(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.queue)
	c.queue = nil
	c.log.Info().Int("cleared", n).Msg("sync queue cleared")
	c.persistLocked(ctx)
}

// Drain makes one pass over a snapshot of the queue in FIFO order. If a pass
// is already running the call returns immediately with Skipped set.
func (c *Coordinator) Drain(ctx context.Context) DrainResult {
	if !c.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}
	}
	defer c.draining.Store(false)

	snapshot := c.Pending()
	res := DrainResult{}
	var lastErr error

	for _, op := range snapshot {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		res.Attempted++
		err := c.push(ctx, op)
		if err != nil && ctx.Err() != nil {
			// The caller gave up; the remote did not reject the operation.
			res.Attempted--
			res.Interrupted = true
			break
		}
		if err == nil {
			if c.remove(op.seq) {
				res.Synced++
				c.synced.Add(1)
			}
			c.log.Debug().Str("op_id", op.ID).Msg("sync operation confirmed")
			continue
		}

		lastErr = err
		res.Failed++
		dropped, attempts, ok := c.recordFailure(op.seq)
		if !ok {
			// cleared while the call was in flight
			continue
		}
		if dropped {
			res.Dropped++
			c.dropped.Add(1)
			c.log.Warn().Err(fmt.Errorf("%w: %w", ErrRetryExhausted, err)).
				Str("event", "retry_exhausted").Str("op_id", op.ID).Str("action", string(op.Action)).
				Int("attempts", attempts).Msg("dropping sync operation")
			if c.onDropped != nil {
				op.AttemptCount = attempts
				c.onDropped(op, ErrRetryExhausted)
			}
			continue
		}
		c.log.Debug().Err(err).Str("op_id", op.ID).Int("attempts", attempts).Msg("sync operation failed, will retry")
	}

	c.mu.Lock()
	c.persistLocked(ctx)
	c.mu.Unlock()

	drainedAt := c.now().UTC()
	c.stateMu.Lock()
	c.lastDrainAt = &drainedAt
	c.lastError = ""
	if lastErr != nil {
		c.lastError = lastErr.Error()
	}
	c.stateMu.Unlock()

	if res.Attempted > 0 {
		c.log.Info().Int("attempted", res.Attempted).Int("synced", res.Synced).
			Int("failed", res.Failed).Int("dropped", res.Dropped).Msg("sync pass finished")
	}
	return res
}

func (c *Coordinator) push(ctx context.Context, op PendingOperation) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRemoteCallFailed, r)
		}
	}()
	return c.remote.Push(callCtx, op)
}

func (c *Coordinator) remove(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.queue {
		if c.queue[i].seq == seq {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// recordFailure increments the attempt count of the entry and removes it when
// it reaches MaxAttempts. ok is false when the entry is no longer queued.
func (c *Coordinator) recordFailure(seq uint64) (dropped bool, attempts int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.queue {
		if c.queue[i].seq != seq {
			continue
		}
		c.queue[i].AttemptCount++
		attempts = c.queue[i].AttemptCount
		if attempts >= MaxAttempts {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true, attempts, true
		}
		return false, attempts, true
	}
	return false, 0, false
}

// persistLocked writes the queue to the store. c.mu must be held. The write
// outlives a cancelled ctx so removals confirmed before cancellation stick.
func (c *Coordinator) persistLocked(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	queue := c.queue
	if queue == nil {
		queue = []PendingOperation{}
	}
	data, err := json.Marshal(queue)
	if err == nil {
		err = c.store.Set(ctx, c.key, data)
	}
	if err != nil {
		c.log.Error().Err(fmt.Errorf("%w: %w", ErrSerialization, err)).
			Str("event", "queue_persist_failed").Int("pending", len(c.queue)).
			Msg("could not persist sync queue")
	}
}

// Signal delivers online/offline values.
type Signal interface {
	Subscribe() (<-chan bool, func())
}

// Run drains on every transition to online, including the initial value,
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context, sig Signal) {
	ch, cancel := sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			if online {
				c.Drain(ctx)
			}
		}
	}
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	st := Status{
		Pending:    c.PendingCount(),
		InProgress: c.draining.Load(),
		Synced:     c.synced.Load(),
		Dropped:    c.dropped.Load(),
	}
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.lastDrainAt != nil {
		t := *c.lastDrainAt
		st.LastDrainAt = &t
	}
	st.LastError = c.lastError
	return st
}

// PantryOperationID returns the correlation id of a pantry item mutation.
func PantryOperationID(itemID string, now time.Time) string {
	if itemID == "" {
		itemID = "new"
	}
	return fmt.Sprintf("pantry-%s-%d", itemID, now.UnixMilli())
}
