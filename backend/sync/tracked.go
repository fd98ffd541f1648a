package syncer

import (
	"context"
	"time"

	"pantryat/backend"
)

// Enqueuer accepts pending operations.
type Enqueuer interface {
	Enqueue(ctx context.Context, id string, action Action, payload any)
}

// Tracked wraps a PantryManager and enqueues a sync operation for every
// successful item mutation. Other calls pass through.
type Tracked struct {
	backend.PantryManager
	queue Enqueuer
	now   func() time.Time
}

// NewTracked wraps pm so its item mutations are queued on q.
func NewTracked(pm backend.PantryManager, q Enqueuer) *Tracked {
	return &Tracked{PantryManager: pm, queue: q, now: time.Now}
}

// AddItem adds the item and queues a create. Duplicates are not queued.
func (t *Tracked) AddItem(ctx context.Context, item *backend.Item) (*backend.Item, bool, error) {
	added, dup, err := t.PantryManager.AddItem(ctx, item)
	if err != nil || dup {
		return added, dup, err
	}
	t.queue.Enqueue(ctx, PantryOperationID(added.ID, t.now()), ActionCreate, added)
	return added, false, nil
}

// InsertItem inserts the item regardless of duplicates and queues a create.
func (t *Tracked) InsertItem(ctx context.Context, item *backend.Item) (*backend.Item, error) {
	added, err := t.PantryManager.InsertItem(ctx, item)
	if err != nil {
		return nil, err
	}
	t.queue.Enqueue(ctx, PantryOperationID(added.ID, t.now()), ActionCreate, added)
	return added, nil
}

// UpdateItem updates the item and queues an update.
func (t *Tracked) UpdateItem(ctx context.Context, id string, patch backend.ItemPatch) (*backend.Item, error) {
	updated, err := t.PantryManager.UpdateItem(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	t.queue.Enqueue(ctx, PantryOperationID(id, t.now()), ActionUpdate, updated)
	return updated, nil
}

// RemoveItem removes the item and queues a delete.
func (t *Tracked) RemoveItem(ctx context.Context, id string) error {
	if err := t.PantryManager.RemoveItem(ctx, id); err != nil {
		return err
	}
	t.queue.Enqueue(ctx, PantryOperationID(id, t.now()), ActionDelete, map[string]string{"id": id})
	return nil
}

var _ backend.PantryManager = (*Tracked)(nil)
