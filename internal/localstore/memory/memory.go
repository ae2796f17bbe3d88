// Package memory is an in-process localstore backend: a map for the values
// and a fan-out bus for the changes. Sessions kept here die with the process.
package memory

import (
	"context"
	"sync"

	"github.com/patric-chuzhbe/flylink/internal/localstore"
)

type Storage struct {
	mu    sync.RWMutex
	items map[string]string
}

func New() *Storage {
	return &Storage{
		items: map[string]string{},
	}
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[key]

	return value, ok, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = value

	return nil
}

func (s *Storage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)

	return nil
}

type subscriber struct {
	ch   chan localstore.Change
	done chan struct{}
}

// Bus delivers every published change to every live subscriber, in publish order.
type Bus struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]*subscriber
}

func NewBus() *Bus {
	return &Bus{
		subscribers: map[int]*subscriber{},
	}
}

func (b *Bus) Publish(ctx context.Context, change localstore.Change) error {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- change:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan localstore.Change, error) {
	sub := &subscriber{
		ch:   make(chan localstore.Change, 16),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	out := make(chan localstore.Change)
	go func() {
		defer close(out)
		defer func() {
			close(sub.done)
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		}()

		for {
			select {
			case change := <-sub.ch:
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
