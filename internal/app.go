package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"insights/internal/api"
	"insights/internal/db"
	"insights/internal/dispatch"
	"insights/internal/env"
	"insights/internal/errmsg"
	"insights/internal/eventlog"
	"insights/internal/fs"
	"insights/internal/gh"
	"insights/internal/githubhooks"
	"insights/internal/handlers"
	"insights/internal/installations"
	"insights/internal/swagger"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventLogCollection holds event log entries when the mongo backend is used.
const EventLogCollection = "eventlog"

// Deps is everything the HTTP surface needs. It is built once at startup.
type Deps struct {
	Config        *env.Config
	Store         db.Store
	Cache         *db.Cache
	Events        *eventlog.Log
	Installations *installations.Registry
	Dispatch      *dispatch.Registry
	Hooks         *githubhooks.Hooks
}

// Setup connects to the store, Redis (when configured) and GitHub, and builds
// the event log. Failures are the startup errors: ErrConfig,
// ErrStoreUnavailable and ErrInvalidCredential.
func Setup(ctx context.Context, cfg *env.Config) (*Deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app, err := gh.NewApp(cfg.GitHub)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var cache *db.Cache
	if cfg.Redis.Addr != "" {
		cache, err = db.InitCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = store.Close(context.Background())
			return nil, err
		}
	}

	events, err := newEventLog(ctx, cfg, store)
	if err != nil {
		_ = store.Close(context.Background())
		return nil, err
	}

	deps, err := NewDeps(ctx, cfg, store, cache, app, events)
	if err != nil {
		_ = events.Close()
		_ = store.Close(context.Background())
		return nil, err
	}

	return deps, nil
}

// NewDeps wires the core around already opened collaborators. cache may be
// nil.
func NewDeps(
	ctx context.Context,
	cfg *env.Config,
	store db.Store,
	cache *db.Cache,
	github handlers.IssueFetcher,
	events *eventlog.Log,
) (*Deps, error) {
	opts := []installations.Option{installations.WithLogger(slog.Default())}
	if cache != nil {
		opts = append(opts, installations.WithLocker(cache))
	}

	registry := installations.NewRegistry(store, opts...)
	if err := registry.Init(ctx); err != nil {
		return nil, err
	}

	dispatcher := dispatch.NewRegistry(slog.Default())
	handlers.New(github, events, registry, slog.Default()).Register(dispatcher)

	return &Deps{
		Config:        cfg,
		Store:         store,
		Cache:         cache,
		Events:        events,
		Installations: registry,
		Dispatch:      dispatcher,
		Hooks:         githubhooks.New(cfg.GitHub.WebhookSecret, events, registry, dispatcher, slog.Default()),
	}, nil
}

func openStore(ctx context.Context, cfg *env.Config) (db.Store, error) {
	if cfg.Mongo.URI == env.MemoryStoreURI {
		slog.Warn("using the in-memory store, data is lost on restart")
		return db.NewMemory(), nil
	}
	return db.Connect(ctx, cfg.Mongo.ConnectionURI())
}

func newEventLog(ctx context.Context, cfg *env.Config, store db.Store) (*eventlog.Log, error) {
	if !cfg.EventLog.Enabled() {
		slog.Info("event log disabled")
		return eventlog.New(nil, eventlog.Flags{}, nil), nil
	}

	var sink eventlog.Sink
	switch cfg.EventLog.Backend {
	case env.EventLogBackendMongo:
		coll := store.Database(installations.RegistryDatabase).Collection(EventLogCollection)
		mongoSink := eventlog.NewMongoSink(coll, eventlog.SelectBatchConfig(cfg.Deployment), slog.Default())
		if err := mongoSink.EnsureIndex(ctx); err != nil {
			_ = mongoSink.Close()
			return nil, fmt.Errorf("index %s.%s: %w", installations.RegistryDatabase, EventLogCollection, err)
		}
		sink = mongoSink
	default:
		if err := fs.EnsureDir(cfg.EventLog.Path, 0o755); err != nil {
			return nil, fmt.Errorf("%w: event log path %s: %v", errmsg.ErrConfig, cfg.EventLog.Path, err)
		}
		sink = eventlog.NewFileSink(cfg.EventLog.Path)
	}

	slog.Info("event log enabled",
		"backend", cfg.EventLog.Backend,
		"path", cfg.EventLog.Path,
	)

	return eventlog.New(sink, eventlog.FlagsFrom(cfg.EventLog), slog.Default()), nil
}

// Close flushes the event log and releases connections.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error

	if err := d.Events.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.Store.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func SetupApp(deps *Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "insights",
	})

	app.Use(recover.New())
	if !deps.Config.IsTest() {
		app.Use(fiberlogger.New())
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	swagger.Register(app, deps.Config.Version)

	v1 := app.Group("/api/v1")

	api.Routes(v1, deps.Config.Version, deps.Installations)
	githubhooks.Routes(v1, deps.Hooks)

	if deps.Config.StaticDir != "" {
		app.Use(noCacheIndex)
		app.Get("/*", static.New(deps.Config.StaticDir))
	}

	return app
}

// noCacheIndex keeps browsers from holding on to a stale frontend entry page.
func noCacheIndex(c fiber.Ctx) error {
	if c.Path() == "/" || c.Path() == "/index.html" {
		c.Set(fiber.HeaderCacheControl, "no-cache, max-age=0, must-revalidate")
		c.Set(fiber.HeaderExpires, "0")
		c.Set(fiber.HeaderPragma, "no-cache")
	}
	return c.Next()
}
