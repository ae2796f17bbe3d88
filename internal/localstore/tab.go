package localstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/patric-chuzhbe/flylink/internal/logger"
)

// Tab is one client instance's handle on the shared storage. Every mutation
// it makes is published on the bus tagged with its id, and Changes yields
// only the mutations made by other instances.
type Tab struct {
	storage Storage
	bus     Bus
	id      string
}

// NewTab binds a fresh instance id to the storage and bus.
func NewTab(storage Storage, bus Bus) *Tab {
	return &Tab{
		storage: storage,
		bus:     bus,
		id:      uuid.NewString(),
	}
}

// ID returns the instance id stamped on published changes.
func (t *Tab) ID() string {
	return t.id
}

func (t *Tab) Get(ctx context.Context, key string) (string, bool, error) {
	return t.storage.Get(ctx, key)
}

func (t *Tab) Set(ctx context.Context, key, value string) error {
	if err := t.storage.Set(ctx, key, value); err != nil {
		return err
	}
	t.publish(ctx, Change{Key: key, Value: value, Source: t.id})

	return nil
}

func (t *Tab) Remove(ctx context.Context, key string) error {
	if err := t.storage.Remove(ctx, key); err != nil {
		return err
	}
	t.publish(ctx, Change{Key: key, Removed: true, Source: t.id})

	return nil
}

// publish never fails the write: the value is already durable and other
// instances read durable storage on their next access anyway.
func (t *Tab) publish(ctx context.Context, change Change) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, change); err != nil {
		logger.Log.Warnw("unable to publish storage change", "key", change.Key, "error", err)
	}
}

// Changes streams mutations made by other instances until ctx is done.
func (t *Tab) Changes(ctx context.Context) (<-chan Change, error) {
	out := make(chan Change)
	if t.bus == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}

	in, err := t.bus.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		for change := range in {
			if change.Source == t.id {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
