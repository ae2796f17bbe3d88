// Package session owns the client-side authentication session: the Store is
// the accessor for the token and profile kept in durable storage, and the
// Holder is one instance's in-memory view of "who is logged in", kept in
// line with durable storage through change notifications.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/patric-chuzhbe/flylink/internal/localstore"
	"github.com/patric-chuzhbe/flylink/internal/logger"
	"github.com/patric-chuzhbe/flylink/internal/models"
)

// Durable storage keys.
const (
	TokenKey = "flylink.auth.token"
	UserKey  = "flylink.auth.user"
)

// Store reads and writes the durable session and carries the single-slot
// "session expired" hook used by the request pipeline.
type Store struct {
	storage localstore.Storage

	mu              sync.Mutex
	onAuthExpiredCb func()
	onAuthExpiredID uint64
}

func NewStore(storage localstore.Storage) *Store {
	return &Store{
		storage: storage,
	}
}

// GetToken returns the bearer token, or "" when none is stored.
func (s *Store) GetToken(ctx context.Context) (string, error) {
	token, _, err := s.storage.Get(ctx, TokenKey)
	if err != nil {
		return "", fmt.Errorf("error reading token: %w", err)
	}

	return token, nil
}

func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.storage.Set(ctx, TokenKey, token)
}

func (s *Store) ClearToken(ctx context.Context) error {
	return s.storage.Remove(ctx, TokenKey)
}

// GetStoredUser returns the cached profile, or nil when none is stored. A
// value that does not parse is purged and reported as absent.
func (s *Store) GetStoredUser(ctx context.Context) (*models.StoredUser, error) {
	raw, ok, err := s.storage.Get(ctx, UserKey)
	if err != nil {
		return nil, fmt.Errorf("error reading stored user: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	usr, err := ParseUser(raw)
	if err != nil {
		logger.Log.Debugw("purging corrupt stored user", "error", err)
		if err := s.ClearStoredUser(ctx); err != nil {
			logger.Log.Warnw("unable to purge corrupt stored user", "error", err)
		}
		return nil, nil
	}

	return usr, nil
}

func (s *Store) SetStoredUser(ctx context.Context, usr models.StoredUser) error {
	raw, err := json.Marshal(usr)
	if err != nil {
		return err
	}

	return s.storage.Set(ctx, UserKey, string(raw))
}

func (s *Store) ClearStoredUser(ctx context.Context) error {
	return s.storage.Remove(ctx, UserKey)
}

// ClearAuthData removes both keys. Both removals are attempted even when the
// first one fails.
func (s *Store) ClearAuthData(ctx context.Context) error {
	return errors.Join(s.ClearToken(ctx), s.ClearStoredUser(ctx))
}

// SetOnAuthExpired registers the one observer of session expiry, replacing
// any previous one. nil unregisters.
func (s *Store) SetOnAuthExpired(cb func()) {
	s.registerOnAuthExpired(cb)
}

// registerOnAuthExpired installs cb and returns the id of the registration.
func (s *Store) registerOnAuthExpired(cb func()) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onAuthExpiredID++
	s.onAuthExpiredCb = cb

	return s.onAuthExpiredID
}

// releaseOnAuthExpired clears the hook only while registration id still owns it.
func (s *Store) releaseOnAuthExpired(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onAuthExpiredID == id {
		s.onAuthExpiredCb = nil
	}
}

// TriggerAuthExpired calls the registered observer, if any.
func (s *Store) TriggerAuthExpired() {
	s.mu.Lock()
	cb := s.onAuthExpiredCb
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// ParseUser decodes a serialized profile. JSON that is not an object with
// both name and email is rejected.
func ParseUser(raw string) (*models.StoredUser, error) {
	var usr models.StoredUser
	if err := json.Unmarshal([]byte(raw), &usr); err != nil {
		return nil, err
	}
	if !usr.Valid() {
		return nil, errors.New("stored user lacks name or email")
	}

	return &usr, nil
}
