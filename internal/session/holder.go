package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/patric-chuzhbe/flylink/internal/api"
	"github.com/patric-chuzhbe/flylink/internal/localstore"
	"github.com/patric-chuzhbe/flylink/internal/logger"
	"github.com/patric-chuzhbe/flylink/internal/models"
)

// ErrNotAuthenticated is returned by RequireAuth when nobody is logged in.
var ErrNotAuthenticated = errors.New("not authenticated")

var (
	ErrLoginFailed        = errors.New("authentication failed")
	ErrRegistrationFailed = errors.New("registration failed")
)

type authenticator interface {
	Login(ctx context.Context, req models.LoginRequest) (*api.Envelope[models.AuthResponse], error)
	Register(ctx context.Context, req models.RegisterRequest) (*api.Envelope[models.AuthResponse], error)
}

// State is a snapshot of the holder's view.
type State struct {
	Authenticated bool
	User          *models.StoredUser
}

type HolderOption func(*Holder)

// WithStateListener registers a function called after every change of the
// in-memory user, whatever caused it.
func WithStateListener(listener func(State)) HolderOption {
	return func(h *Holder) {
		h.listener = listener
	}
}

// Holder is one instance's reactive view of the session. Durable storage is
// authoritative; the holder mirrors it and is corrected by changes made by
// other instances.
type Holder struct {
	store    *Store
	auth     authenticator
	listener func(State)

	// notifyMu keeps listener deliveries in the order the user changed.
	notifyMu sync.Mutex
	mu       sync.RWMutex
	user     *models.StoredUser

	expiryID uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHolder loads the current profile, takes the expiry hook of the store
// and starts reconciling changes until Close is called. changes may be nil.
func NewHolder(
	ctx context.Context,
	store *Store,
	auth authenticator,
	changes <-chan localstore.Change,
	opts ...HolderOption,
) (*Holder, error) {
	h := &Holder{
		store: store,
		auth:  auth,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	usr, err := store.GetStoredUser(ctx)
	if err != nil {
		return nil, err
	}
	h.user = usr

	h.expiryID = store.registerOnAuthExpired(h.onAuthExpired)

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.reconcile(runCtx, changes)

	return h, nil
}

func (h *Holder) onAuthExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Log.Infoln("session expired, clearing stored credentials")
	if err := h.store.ClearAuthData(ctx); err != nil {
		logger.Log.Warnw("unable to clear expired session", "error", err)
	}
	h.setUser(nil)
}

func (h *Holder) reconcile(ctx context.Context, changes <-chan localstore.Change) {
	defer close(h.done)
	if changes == nil {
		return
	}

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			h.apply(change)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Holder) apply(change localstore.Change) {
	switch change.Key {
	case TokenKey:
		if change.Removed || change.Value == "" {
			h.setUser(nil)
		}
	case UserKey:
		if change.Removed || change.Value == "" {
			h.setUser(nil)
			return
		}
		usr, err := ParseUser(change.Value)
		if err != nil {
			h.setUser(nil)
			return
		}
		h.setUser(usr)
	}
}

func (h *Holder) setUser(usr *models.StoredUser) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	h.user = usr
	listener := h.listener
	h.mu.Unlock()

	if listener != nil {
		listener(State{Authenticated: usr != nil, User: copyUser(usr)})
	}
}

func copyUser(usr *models.StoredUser) *models.StoredUser {
	if usr == nil {
		return nil
	}
	c := *usr

	return &c
}

// User returns a copy of the in-memory profile, nil when logged out.
func (h *Holder) User() *models.StoredUser {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return copyUser(h.user)
}

// IsAuthenticated reports whether both a profile and a durable token are present.
func (h *Holder) IsAuthenticated(ctx context.Context) bool {
	if h.User() == nil {
		return false
	}
	token, err := h.store.GetToken(ctx)
	if err != nil {
		logger.Log.Warnw("unable to read token", "error", err)
		return false
	}

	return token != ""
}

// RequireAuth guards operations that need a logged-in user.
func (h *Holder) RequireAuth(ctx context.Context) error {
	if !h.IsAuthenticated(ctx) {
		return ErrNotAuthenticated
	}

	return nil
}

func (h *Holder) establish(ctx context.Context, resp models.AuthResponse) error {
	if resp.Token == "" {
		return errors.New("the API returned an empty token")
	}
	profile := resp.Profile()

	if err := h.store.SetToken(ctx, resp.Token); err != nil {
		return fmt.Errorf("error saving token: %w", err)
	}
	if err := h.store.SetStoredUser(ctx, profile); err != nil {
		return fmt.Errorf("error saving profile: %w", err)
	}
	h.setUser(&profile)

	return nil
}

// Login authenticates and persists the new session. Pipeline errors are
// returned unchanged so callers can tell whether they were already reported.
func (h *Holder) Login(ctx context.Context, req models.LoginRequest) error {
	resp, err := h.auth.Login(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrLoginFailed, resp.Status)
	}

	return h.establish(ctx, resp.Data)
}

// Register creates an account and persists the resulting session.
func (h *Holder) Register(ctx context.Context, req models.RegisterRequest) error {
	resp, err := h.auth.Register(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusCreated {
		return fmt.Errorf("%w: unexpected status %d", ErrRegistrationFailed, resp.Status)
	}

	return h.establish(ctx, resp.Data)
}

// Logout clears durable and in-memory session state.
func (h *Holder) Logout(ctx context.Context) error {
	err := h.store.ClearAuthData(ctx)
	h.setUser(nil)

	return err
}

// Close stops reconciliation and releases the expiry hook unless a newer
// observer has taken it.
func (h *Holder) Close() {
	h.cancel()
	<-h.done
	h.store.releaseOnAuthExpired(h.expiryID)
}
