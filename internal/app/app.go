// Package app wires the flylink client together: configuration, logging,
// durable session storage, the request pipeline, the API client, the session
// holder and the links cache, and dispatches command-line commands to them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/patric-chuzhbe/flylink/internal/api"
	"github.com/patric-chuzhbe/flylink/internal/config"
	"github.com/patric-chuzhbe/flylink/internal/links"
	"github.com/patric-chuzhbe/flylink/internal/localstore"
	"github.com/patric-chuzhbe/flylink/internal/localstore/jsonfile"
	"github.com/patric-chuzhbe/flylink/internal/localstore/memory"
	"github.com/patric-chuzhbe/flylink/internal/localstore/redisstore"
	"github.com/patric-chuzhbe/flylink/internal/logger"
	"github.com/patric-chuzhbe/flylink/internal/pipeline"
	"github.com/patric-chuzhbe/flylink/internal/session"
)

const (
	StorageTypeUnknown = iota
	StorageTypeRedis
	StorageTypeFile
	StorageTypeMemory
)

const stateBufferSize = 16

// App holds one running client instance.
type App struct {
	cfg    *config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	storage   localstore.Storage
	bus       localstore.Bus
	closeBus  func() error
	tab       *localstore.Tab
	store     *session.Store
	notifier  pipeline.Notifier
	pipeline  *pipeline.Pipeline
	api       *api.Client
	holder    *session.Holder
	links     *links.Service
	states    chan session.State
	stopWatch context.CancelFunc
}

type Option func(*App)

// WithConfig skips loading the configuration from the process environment.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) {
		a.cfg = cfg
	}
}

func WithIO(in io.Reader, out, errOut io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
		a.errOut = errOut
	}
}

// WithStorage replaces the configured durable storage. bus may be nil.
func WithStorage(storage localstore.Storage, bus localstore.Bus) Option {
	return func(a *App) {
		a.storage = storage
		a.bus = bus
	}
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up session storage
// - setting up the request pipeline, the API client and the session holder
func New(opts ...Option) (*App, error) {
	var err error
	app := &App{
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
		states: make(chan session.State, stateBufferSize),
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.cfg == nil {
		app.cfg, err = config.New()
		if err != nil {
			return nil, err
		}
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if app.storage == nil {
		app.storage, app.bus, app.closeBus, err = getStorageByType(app.cfg)
		if err != nil {
			return nil, err
		}
	}

	app.tab = localstore.NewTab(app.storage, app.bus)
	app.store = session.NewStore(app.tab)

	app.notifier = pipeline.NewCoalescingNotifier(
		pipeline.NewConsoleNotifier(app.errOut),
		app.cfg.NotifyCoalesceWindow,
	)

	app.pipeline = pipeline.New(pipeline.Options{
		BaseURL:    app.cfg.APIURL,
		Timeout:    app.cfg.RequestTimeout,
		Tokens:     app.store,
		Expirer:    app.store,
		Notifier:   app.notifier,
		RetryDelay: app.cfg.RetryDelay,
	})

	app.api, err = api.New(app.pipeline)
	if err != nil {
		return nil, errors.Join(err, app.closeStorage())
	}

	app.links = links.New(app.api, links.WithStaleTime(app.cfg.CacheStaleTime))

	watchCtx, stopWatch := context.WithCancel(context.Background())
	app.stopWatch = stopWatch
	changes, err := app.tab.Changes(watchCtx)
	if err != nil {
		stopWatch()
		return nil, errors.Join(fmt.Errorf("error subscribing to session changes: %w", err), app.closeStorage())
	}

	app.holder, err = session.NewHolder(
		context.Background(),
		app.store,
		app.api,
		changes,
		session.WithStateListener(app.publishState),
	)
	if err != nil {
		stopWatch()
		return nil, errors.Join(err, app.closeStorage())
	}

	return app, nil
}

// publishState never blocks the holder: when nobody is watching, old
// transitions are dropped.
func (a *App) publishState(state session.State) {
	a.links.Invalidate()

	select {
	case a.states <- state:
	default:
		logger.Log.Debugw("dropped session state transition", "authenticated", state.Authenticated)
	}
}

func (a *App) closeStorage() error {
	if a.closeBus == nil {
		return nil
	}

	return a.closeBus()
}

// Close releases the session holder, the storage connection and flushes the logger.
func (a *App) Close() {
	a.holder.Close()
	a.stopWatch()

	if c, ok := a.notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Log.Debugw("error closing notifier", "error", err)
		}
	}
	if err := a.closeStorage(); err != nil {
		logger.Log.Warnw("error closing storage", "error", err)
	}
	if err := logger.Sync(); err != nil {
		fmt.Fprintln(a.errOut, "Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.RedisAddr != "" {
		return StorageTypeRedis
	}

	if cfg.StoragePath != "" {
		return StorageTypeFile
	}

	return StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (localstore.Storage, localstore.Bus, func() error, error) {
	switch getAvailableStorageType(cfg) {
	case StorageTypeUnknown:
		return nil, nil, nil, errors.New("unknown storage type")

	case StorageTypeRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StorageNamespace)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil

	case StorageTypeFile:
		store, err := jsonfile.New(cfg.StoragePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, jsonfile.NewJournal(cfg.StoragePath), nil, nil
	}

	return memory.New(), memory.NewBus(), nil, nil
}
