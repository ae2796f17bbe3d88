package session

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/flylink/internal/api"
	"github.com/patric-chuzhbe/flylink/internal/localstore"
	"github.com/patric-chuzhbe/flylink/internal/localstore/memory"
	"github.com/patric-chuzhbe/flylink/internal/mockapi"
	"github.com/patric-chuzhbe/flylink/internal/models"
	"github.com/patric-chuzhbe/flylink/internal/pipeline"
)

const waitFor = 2 * time.Second

// instance is one tab: its own storage handle, store, holder and state feed.
type instance struct {
	tab    *localstore.Tab
	store  *Store
	holder *Holder
	states chan State
	api    *mockapi.APIMock
}

func newInstance(t *testing.T, storage localstore.Storage, bus localstore.Bus) *instance {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	in := &instance{
		tab:    localstore.NewTab(storage, bus),
		states: make(chan State, 16),
		api:    new(mockapi.APIMock),
	}
	in.store = NewStore(in.tab)

	changes, err := in.tab.Changes(ctx)
	require.NoError(t, err)

	in.holder, err = NewHolder(ctx, in.store, in.api, changes, WithStateListener(func(s State) {
		in.states <- s
	}))
	require.NoError(t, err)
	t.Cleanup(in.holder.Close)

	return in
}

func (in *instance) nextState(t *testing.T) State {
	t.Helper()
	select {
	case s := <-in.states:
		return s
	case <-time.After(waitFor):
		t.Fatal("no session state transition")
		return State{}
	}
}

func (in *instance) assertNoState(t *testing.T) {
	t.Helper()
	select {
	case s := <-in.states:
		t.Fatalf("unexpected session state transition: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func authEnvelope(status int, token string, usr models.StoredUser) *api.Envelope[models.AuthResponse] {
	return &api.Envelope[models.AuthResponse]{
		Data:   models.AuthResponse{Token: token, Name: usr.Name, Email: usr.Email},
		Status: status,
	}
}

func TestHolderLoadsStoredSession(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	require.NoError(t, NewStore(storage).SetToken(ctx, "abc123"))
	require.NoError(t, NewStore(storage).SetStoredUser(ctx, ana))

	in := newInstance(t, storage, memory.NewBus())

	assert.Equal(t, &ana, in.holder.User())
	assert.True(t, in.holder.IsAuthenticated(ctx))
	assert.NoError(t, in.holder.RequireAuth(ctx))
}

func TestOtherTabLogoutPropagates(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	bus := memory.NewBus()

	a := newInstance(t, storage, bus)
	b := newInstance(t, storage, bus)

	require.NoError(t, a.store.SetToken(ctx, "abc123"))
	require.NoError(t, a.store.SetStoredUser(ctx, ana))

	state := b.nextState(t)
	assert.True(t, state.Authenticated)
	assert.Equal(t, &ana, state.User)
	a.assertNoState(t)

	require.NoError(t, a.store.ClearToken(ctx))

	state = b.nextState(t)
	assert.False(t, state.Authenticated)
	assert.Nil(t, state.User)
	assert.Nil(t, b.holder.User())
	assert.ErrorIs(t, b.holder.RequireAuth(ctx), ErrNotAuthenticated)
}

func TestOtherTabCorruptProfileLogsOut(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	bus := memory.NewBus()
	require.NoError(t, NewStore(storage).SetStoredUser(ctx, ana))

	a := newInstance(t, storage, bus)
	b := newInstance(t, storage, bus)
	require.Equal(t, &ana, b.holder.User())

	require.NoError(t, a.tab.Set(ctx, UserKey, "{broken"))

	state := b.nextState(t)
	assert.False(t, state.Authenticated)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	bob := models.StoredUser{Name: "Bob", Email: "bob@x.com"}
	req := models.LoginRequest{Email: "bob@x.com", Password: "password1"}

	t.Run("success", func(t *testing.T) {
		in := newInstance(t, memory.New(), memory.NewBus())
		in.api.On("Login", mock.Anything, req).Return(authEnvelope(http.StatusOK, "t1", bob), nil).Once()

		require.NoError(t, in.holder.Login(ctx, req))

		token, err := in.store.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "t1", token)
		usr, err := in.store.GetStoredUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, &bob, usr)

		state := in.nextState(t)
		assert.True(t, state.Authenticated)
		assert.Equal(t, &bob, state.User)
		in.assertNoState(t)
		assert.True(t, in.holder.IsAuthenticated(ctx))
		in.api.AssertExpectations(t)
	})

	t.Run("unexpected status", func(t *testing.T) {
		in := newInstance(t, memory.New(), memory.NewBus())
		in.api.On("Login", mock.Anything, req).Return(authEnvelope(http.StatusCreated, "t1", bob), nil)

		err := in.holder.Login(ctx, req)
		assert.ErrorIs(t, err, ErrLoginFailed)

		token, err := in.store.GetToken(ctx)
		require.NoError(t, err)
		assert.Empty(t, token)
		assert.Nil(t, in.holder.User())
	})

	t.Run("rejected credentials pass through", func(t *testing.T) {
		in := newInstance(t, memory.New(), memory.NewBus())
		rejected := &pipeline.Error{Kind: pipeline.KindCredentialsRejected, Status: http.StatusUnauthorized, Notified: true}
		in.api.On("Login", mock.Anything, req).Return(nil, rejected)

		err := in.holder.Login(ctx, req)
		assert.ErrorIs(t, err, pipeline.ErrCredentialsRejected)
		assert.True(t, pipeline.Reported(err))
		assert.False(t, in.holder.IsAuthenticated(ctx))
	})

	t.Run("empty token", func(t *testing.T) {
		in := newInstance(t, memory.New(), memory.NewBus())
		in.api.On("Login", mock.Anything, req).Return(authEnvelope(http.StatusOK, "", bob), nil)

		assert.Error(t, in.holder.Login(ctx, req))
		assert.Nil(t, in.holder.User())
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	req := models.RegisterRequest{Name: "Ana", Email: "ana@x.com", Password: "password1"}

	in := newInstance(t, memory.New(), memory.NewBus())
	in.api.On("Register", mock.Anything, req).Return(authEnvelope(http.StatusOK, "t2", ana), nil).Once()
	in.api.On("Register", mock.Anything, req).Return(authEnvelope(http.StatusCreated, "t2", ana), nil).Once()

	assert.ErrorIs(t, in.holder.Register(ctx, req), ErrRegistrationFailed)
	assert.Nil(t, in.holder.User())

	require.NoError(t, in.holder.Register(ctx, req))
	assert.Equal(t, &ana, in.holder.User())
	token, err := in.store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", token)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	bus := memory.NewBus()
	require.NoError(t, NewStore(storage).SetToken(ctx, "abc123"))
	require.NoError(t, NewStore(storage).SetStoredUser(ctx, ana))

	a := newInstance(t, storage, bus)
	b := newInstance(t, storage, bus)

	require.NoError(t, a.holder.Logout(ctx))
	assert.False(t, a.nextState(t).Authenticated)
	assert.False(t, a.holder.IsAuthenticated(ctx))

	assert.False(t, b.nextState(t).Authenticated)
	assert.Nil(t, b.holder.User())
}

func TestExpiryClearsSession(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	require.NoError(t, NewStore(storage).SetToken(ctx, "abc123"))
	require.NoError(t, NewStore(storage).SetStoredUser(ctx, ana))

	in := newInstance(t, storage, memory.NewBus())
	require.True(t, in.holder.IsAuthenticated(ctx))

	in.store.TriggerAuthExpired()

	state := in.nextState(t)
	assert.False(t, state.Authenticated)
	token, err := in.store.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	usr, err := in.store.GetStoredUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, usr)
}

func TestIsAuthenticatedNeedsToken(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	require.NoError(t, NewStore(storage).SetStoredUser(ctx, ana))

	in := newInstance(t, storage, memory.NewBus())

	assert.NotNil(t, in.holder.User())
	assert.False(t, in.holder.IsAuthenticated(ctx))
	assert.ErrorIs(t, in.holder.RequireAuth(ctx), ErrNotAuthenticated)
}

func TestCloseReleasesExpiryHook(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	require.NoError(t, NewStore(storage).SetToken(ctx, "abc123"))

	store := NewStore(storage)
	holder, err := NewHolder(ctx, store, new(mockapi.APIMock), nil)
	require.NoError(t, err)
	holder.Close()

	store.TriggerAuthExpired()

	token, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestClosingReplacedHolderKeepsNewerHook(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	store := NewStore(storage)
	require.NoError(t, store.SetToken(ctx, "abc123"))
	require.NoError(t, store.SetStoredUser(ctx, ana))

	older, err := NewHolder(ctx, store, new(mockapi.APIMock), nil)
	require.NoError(t, err)
	newer, err := NewHolder(ctx, store, new(mockapi.APIMock), nil)
	require.NoError(t, err)
	defer newer.Close()

	older.Close()
	store.TriggerAuthExpired()

	assert.Nil(t, newer.User())
	token, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestStateListenerSeesChangesInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.New())

	var (
		mu   sync.Mutex
		last State
	)
	holder, err := NewHolder(ctx, store, new(mockapi.APIMock), nil, WithStateListener(func(s State) {
		mu.Lock()
		last = s
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer holder.Close()

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				if j%2 == 0 {
					usr := ana
					holder.setUser(&usr)
					return
				}
				holder.setUser(nil)
			}(j)
		}
		wg.Wait()

		mu.Lock()
		assert.Equal(t, holder.User() != nil, last.Authenticated)
		mu.Unlock()
	}
}
