// Package redisstore shares the durable session between processes through
// Redis: values live in one hash per namespace and changes are broadcast on a
// pub/sub channel of the same namespace.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/patric-chuzhbe/flylink/internal/localstore"
	"github.com/patric-chuzhbe/flylink/internal/logger"
)

type Store struct {
	client    *redis.Client
	namespace string
}

// New wraps an existing client; the caller keeps ownership of it.
func New(client *redis.Client, namespace string) *Store {
	return &Store{
		client:    client,
		namespace: namespace,
	}
}

// Dial connects to addr and checks the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, namespace string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("in internal/localstore/redisstore/redisstore.go/Dial(): error while `client.Ping()` calling: %w", err)
	}

	return New(client, namespace), nil
}

func (s *Store) hashKey() string {
	return s.namespace + ":storage"
}

func (s *Store) channel() string {
	return s.namespace + ":changes"
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, s.hashKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.HSet(ctx, s.hashKey(), key, value).Err()
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.client.HDel(ctx, s.hashKey(), key).Err()
}

func (s *Store) Publish(ctx context.Context, change localstore.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	return s.client.Publish(ctx, s.channel(), payload).Err()
}

// Subscribe returns once the subscription is confirmed by the server, so no
// change published after it returns can be missed.
func (s *Store) Subscribe(ctx context.Context) (<-chan localstore.Change, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan localstore.Change)
	messages := pubsub.Channel()

	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change localstore.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					logger.Log.Debugw("skipping malformed storage change", "payload", msg.Payload, "error", err)
					continue
				}
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

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
