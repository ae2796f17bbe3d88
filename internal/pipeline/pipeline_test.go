package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

type staticTokens string

func (s staticTokens) GetToken(context.Context) (string, error) {
	return string(s), nil
}

type failingTokens struct{}

func (failingTokens) GetToken(context.Context) (string, error) {
	return "", errors.New("storage unavailable")
}

type countingExpirer struct {
	calls atomic.Int32
}

func (c *countingExpirer) TriggerAuthExpired() {
	c.calls.Add(1)
}

type testPipeline struct {
	*Pipeline
	notifier *recordingNotifier
	expirer  *countingExpirer
}

func newTestPipeline(t *testing.T, baseURL string, tokens tokenSource, mutate ...func(*Options)) *testPipeline {
	t.Helper()
	notifier := &recordingNotifier{}
	expirer := &countingExpirer{}
	opts := Options{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		Tokens:     tokens,
		Expirer:    expirer,
		Notifier:   notifier,
		RetryDelay: time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}

	return &testPipeline{
		Pipeline: New(opts),
		notifier: notifier,
		expirer:  expirer,
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestAttachesBearerToken(t *testing.T) {
	var authHeaders []string
	var requestIDs []string
	router := chi.NewRouter()
	router.Get("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		requestIDs = append(requestIDs, r.Header.Get("X-Request-ID"))
		writeJSON(w, http.StatusOK, `[]`)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	tests := []struct {
		name   string
		tokens tokenSource
		want   string
	}{
		{name: "with token", tokens: staticTokens("abc123"), want: "Bearer abc123"},
		{name: "without token", tokens: staticTokens(""), want: ""},
		{name: "unreadable token", tokens: failingTokens{}, want: ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, srv.URL, tt.tokens)

			_, err := p.Execute(p.R(context.Background()), http.MethodGet, "/api/urls")
			require.NoError(t, err)

			require.Len(t, authHeaders, i+1)
			assert.Equal(t, tt.want, authHeaders[i])
			assert.NotEmpty(t, requestIDs[i])
			assert.Empty(t, p.notifier.all())
		})
	}
}

func TestUnauthorizedOnProtectedEndpointExpiresSession(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"message":"Token expired"}`)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	p := newTestPipeline(t, srv.URL, staticTokens("stale"))

	_, err := p.Execute(p.R(context.Background()), http.MethodGet, "/api/urls")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrSessionExpired)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindSessionExpired, perr.Kind)
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
	assert.False(t, perr.Notified)

	assert.Equal(t, int32(1), p.expirer.calls.Load())
	assert.Empty(t, p.notifier.all(), "session expiry must not produce a generic notification")
}

func TestUnauthorizedOnAuthEndpointRejectsCredentials(t *testing.T) {
	router := chi.NewRouter()
	router.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"message":"Wrong e-mail or password"}`)
	})
	router.Post("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	t.Run("server message", func(t *testing.T) {
		p := newTestPipeline(t, srv.URL, staticTokens(""))

		_, err := p.Execute(p.R(context.Background()).SetBody(map[string]string{"email": "a@b.c"}), http.MethodPost, "/api/auth/login")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCredentialsRejected)
		assert.True(t, Reported(err))

		assert.Equal(t, int32(0), p.expirer.calls.Load())
		assert.Equal(t, []Notification{{Level: LevelError, Title: "Wrong e-mail or password"}}, p.notifier.all())
	})

	t.Run("default message", func(t *testing.T) {
		p := newTestPipeline(t, srv.URL, staticTokens(""))

		_, err := p.Execute(p.R(context.Background()), http.MethodPost, "/api/auth/register")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCredentialsRejected)

		assert.Equal(t, int32(0), p.expirer.calls.Load())
		assert.Equal(t, []Notification{{Level: LevelError, Title: "Invalid credentials"}}, p.notifier.all())
	})
}

func TestNoResponseNotifiesOnce(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			p := newTestPipeline(t, baseURL, staticTokens("abc"))

			_, err := p.Execute(p.R(context.Background()), method, "/api/urls")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConnectivity)

			assert.Equal(t, []Notification{{
				Level:       LevelError,
				Title:       "Unable to connect to the server",
				Description: "Check that the backend is running.",
			}}, p.notifier.all())
			assert.Equal(t, int32(0), p.expirer.calls.Load())
		})
	}
}

func TestDeadlineIsConnectivityFailure(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	p := newTestPipeline(t, srv.URL, staticTokens(""), func(o *Options) {
		o.Timeout = 50 * time.Millisecond
		o.RetryDelay = 0
	})

	_, err := p.Execute(p.R(context.Background()), http.MethodGet, "/api/urls")
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Len(t, p.notifier.all(), 1)
}

func TestCancelledRequestIsSilent(t *testing.T) {
	var hits atomic.Int32
	router := chi.NewRouter()
	router.Get("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, `[]`)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	p := newTestPipeline(t, srv.URL, staticTokens("abc"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Execute(p.R(ctx), http.MethodGet, "/api/urls")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, Reported(err))

	assert.Empty(t, p.notifier.all())
	assert.Equal(t, int32(0), p.expirer.calls.Load())
	assert.Equal(t, int32(0), hits.Load(), "a cancelled GET must not be retried")
}

func TestBenignMissIsSilent(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	p := newTestPipeline(t, srv.URL, staticTokens(""))

	_, err := p.Execute(p.R(context.Background()), http.MethodGet, "/favicon.ico")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPI)
	assert.False(t, Reported(err))
	assert.Empty(t, p.notifier.all())
}

func TestGenericAPIError(t *testing.T) {
	router := chi.NewRouter()
	router.Post("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, `{"message":"Code already in use","path":"/api/urls","status":409}`)
	})
	router.Delete("/api/urls/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router.Get("/api/urls/{code}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"message":"URL not found"}`)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		url    string
		want   Notification
		status int
	}{
		{
			name:   "server message and path",
			method: http.MethodPost,
			url:    "/api/urls",
			want:   Notification{Level: LevelError, Title: "Code already in use", Description: "/api/urls"},
			status: http.StatusConflict,
		},
		{
			name:   "synthesized defaults",
			method: http.MethodDelete,
			url:    "/api/urls/abc",
			want:   Notification{Level: LevelError, Title: "An unexpected error occurred", Description: "Status: 418"},
			status: http.StatusTeapot,
		},
		{
			name:   "ordinary not found",
			method: http.MethodGet,
			url:    "/api/urls/missing",
			want:   Notification{Level: LevelError, Title: "URL not found", Description: "Status: 404"},
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, srv.URL, staticTokens("abc"))

			_, err := p.Execute(p.R(context.Background()), tt.method, tt.url)
			require.Error(t, err)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, KindAPI, perr.Kind)
			assert.Equal(t, tt.status, perr.Status)
			assert.True(t, perr.Notified)
			assert.Equal(t, []Notification{tt.want}, p.notifier.all())
			assert.Equal(t, int32(0), p.expirer.calls.Load())
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	var getHits, postHits, unauthorizedHits atomic.Int32
	router := chi.NewRouter()
	router.Get("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		if getHits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, `[]`)
	})
	router.Post("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		postHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	router.Get("/api/urls/{code}", func(w http.ResponseWriter, r *http.Request) {
		unauthorizedHits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	t.Run("GET is retried once and recovers silently", func(t *testing.T) {
		p := newTestPipeline(t, srv.URL, staticTokens("abc"))

		resp, err := p.Execute(p.R(context.Background()), http.MethodGet, "/api/urls")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Equal(t, int32(2), getHits.Load())
		assert.Empty(t, p.notifier.all())
	})

	t.Run("POST is never retried", func(t *testing.T) {
		p := newTestPipeline(t, srv.URL, staticTokens("abc"))

		_, err := p.Execute(p.R(context.Background()), http.MethodPost, "/api/urls")
		require.Error(t, err)
		assert.Equal(t, int32(1), postHits.Load())
		assert.Len(t, p.notifier.all(), 1)
	})

	t.Run("401 is never retried", func(t *testing.T) {
		p := newTestPipeline(t, srv.URL, staticTokens("abc"))

		_, err := p.Execute(p.R(context.Background()), http.MethodGet, "/api/urls/abc")
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.Equal(t, int32(1), unauthorizedHits.Load())
		assert.Equal(t, int32(1), p.expirer.calls.Load())
	})
}

func TestCancelledWhileWaitingForRetryIsSilent(t *testing.T) {
	var hits atomic.Int32
	router := chi.NewRouter()
	router.Get("/api/urls", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	p := newTestPipeline(t, srv.URL, staticTokens("abc"), func(o *Options) {
		o.RetryDelay = 500 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := p.Execute(p.R(ctx), http.MethodGet, "/api/urls")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, Reported(err))
	assert.Empty(t, p.notifier.all())
	assert.Equal(t, int32(1), hits.Load())
	assert.Zero(t, p.expirer.calls.Load())
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindAPI, Method: "GET", URL: "/api/urls", Status: 500, Message: "boom"}
	assert.Equal(t, "GET /api/urls: api-error (status 500): boom", err.Error())
	assert.False(t, errors.Is(err, ErrConnectivity))
	assert.False(t, Reported(errors.New("plain")))
}
