package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/docrelay/core/document"
	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/health"
	"github.com/dmitrymomot/docrelay/core/logger"
	"github.com/dmitrymomot/docrelay/core/metrics"
	"github.com/dmitrymomot/docrelay/core/queue"
	"github.com/dmitrymomot/docrelay/core/response"
	"github.com/dmitrymomot/docrelay/core/router"
	"github.com/dmitrymomot/docrelay/core/server"
	"github.com/dmitrymomot/docrelay/integration/database/mongo"
	"github.com/dmitrymomot/docrelay/integration/database/redis"
	"github.com/dmitrymomot/docrelay/integration/document/mongostore"
	"github.com/dmitrymomot/docrelay/integration/queue/redisqueue"
	"github.com/dmitrymomot/docrelay/middleware"
	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

// App wires storage, the task queue, the broadcaster and the HTTP surface.
type App struct {
	config      Config
	logger      *slog.Logger
	store       document.Store
	queue       queue.Storage
	memQueue    *queue.MemoryStorage
	enqueuer    *queue.Enqueuer
	broadcaster *broadcast.Broadcaster
	service     *Service
	registry    *prometheus.Registry
	router      router.Router[*router.Context]
	worker      *queue.Worker
	checks      []health.Check
	closers     []func(context.Context) error
	clock       clockwork.Clock
}

type AppOption func(*App) error

// NewApp connects the configured backends and builds the router. Backends
// supplied through options are used as is and never connected or closed.
func NewApp(ctx context.Context, cfg Config, opts ...AppOption) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		config:   cfg,
		registry: metrics.NewRegistry(),
		clock:    clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.logger == nil {
		app.logger = newLogger(cfg)
	}

	if err := app.connect(ctx); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	app.broadcaster = broadcast.New(append(cfg.Broadcast.Options(),
		broadcast.WithLogger(app.logger),
		broadcast.WithObserver(metrics.NewBroadcastMetrics(app.registry)),
	)...)

	enq, err := queue.NewEnqueuerFromConfig(cfg.Queue, app.queue)
	if err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	app.enqueuer = enq

	app.service = NewService(app.store,
		WithPublisher(app.broadcaster),
		WithEnqueuer(app.enqueuer),
		WithServiceLogger(app.logger),
	)
	app.router = app.routes()

	return app, nil
}

// WithLogger replaces the logger built from LOG_LEVEL and APP_ENV.
func WithLogger(log *slog.Logger) AppOption {
	return func(app *App) error {
		if log == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = log
		return nil
	}
}

// WithClock sets the clock used by stream keep-alive and the queue worker.
func WithClock(clock clockwork.Clock) AppOption {
	return func(app *App) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		app.clock = clock
		return nil
	}
}

// WithStore replaces the STORE_DRIVER backend.
func WithStore(store document.Store) AppOption {
	return func(app *App) error {
		if store == nil {
			return errors.New("store cannot be nil")
		}
		app.store = store
		return nil
	}
}

// WithQueueStorage replaces the QUEUE_DRIVER backend.
func WithQueueStorage(storage queue.Storage) AppOption {
	return func(app *App) error {
		if storage == nil {
			return errors.New("queue storage cannot be nil")
		}
		app.queue = storage
		if ms, ok := storage.(*queue.MemoryStorage); ok {
			app.memQueue = ms
		}
		return nil
	}
}

func newLogger(cfg Config) *slog.Logger {
	mode := logger.WithDevelopment(cfg.AppName)
	if cfg.IsProduction() {
		mode = logger.WithProduction(cfg.AppName)
	}
	return logger.New(
		mode,
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithContextExtractors(middleware.RequestIDExtractor),
	)
}

func (a *App) connect(ctx context.Context) error {
	if a.store == nil {
		switch a.config.StoreDriver {
		case StoreMongo:
			client, err := mongo.New(ctx, a.config.Mongo)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, client.Disconnect)
			a.checks = append(a.checks, health.Check{Name: "mongo", Fn: mongo.Healthcheck(client)})
			coll := client.Database(a.config.Mongo.Database).Collection(a.config.Mongo.Collection)
			a.store = mongostore.New(coll)
		default:
			a.store = document.NewMemoryStore()
		}
	}

	if a.queue == nil {
		switch a.config.QueueDriver {
		case QueueRedis:
			client, err := redis.Connect(ctx, a.config.Redis)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func(context.Context) error { return client.Close() })
			a.checks = append(a.checks, health.Check{Name: "redis", Fn: redis.Healthcheck(client)})
			storage, err := redisqueue.NewFromConfig(a.config.RedisQueue, client)
			if err != nil {
				return err
			}
			a.queue = storage
		default:
			a.memQueue = queue.NewMemoryStorage(queue.WithMemoryStorageLogger(a.logger))
			a.queue = a.memQueue
		}
	}

	return nil
}

func (a *App) routes() router.Router[*router.Context] {
	hm := metrics.NewHTTPMetrics(a.registry)

	r := router.New[*router.Context](
		router.WithErrorHandler[*router.Context](response.JSONErrorHandler[*router.Context]),
		router.WithLogger[*router.Context](a.logger),
	)
	r.Use(
		middleware.RequestID[*router.Context](),
		metrics.Middleware[*router.Context](hm),
		middleware.LoggingWithConfig[*router.Context](middleware.LoggingConfig{
			Logger: a.logger,
			Skip:   skipHealthRoutes,
		}),
	)

	r.Get("/health/live", health.Liveness[*router.Context])
	r.Get("/health/ready", health.Readiness[*router.Context](a.logger, a.readinessChecks()...))
	r.Get("/metrics", func(*router.Context) handler.Response {
		return response.Handler(metrics.Handler(a.registry))
	})

	NewAPI(a.service, a.broadcaster, a.config.Stream, a.logger, WithAPIClock(a.clock)).Register(r,
		middleware.RateLimitPerSecond[*router.Context](a.config.Ingest.RateLimit),
		middleware.BodyLimitWithSize[*router.Context](a.config.Ingest.MaxBodyBytes),
	)

	return r
}

func skipHealthRoutes(ctx handler.Context) bool {
	p := ctx.Request().URL.Path
	return strings.HasPrefix(p, "/health/") || p == "/metrics"
}

func (a *App) readinessChecks() []health.Check {
	checks := append([]health.Check(nil), a.checks...)
	return append(checks, health.Check{Name: "worker", Fn: func(ctx context.Context) error {
		if a.worker == nil {
			return nil
		}
		return a.worker.Healthcheck(ctx)
	}})
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// Service returns the ingestion service.
func (a *App) Service() *Service { return a.service }

// Broadcaster returns the fan-out core.
func (a *App) Broadcaster() *broadcast.Broadcaster { return a.broadcaster }

// Serve runs the HTTP server until ctx is cancelled. With withWorker the
// queue worker runs in the same process and its inserts are broadcast.
// The memory queue cannot be shared, so it always gets an in-process worker.
// Without one, queued inserts wait for a standalone worker, which stores
// them but never reaches this process's subscribers.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	switch {
	case withWorker:
	case a.memQueue != nil:
		a.logger.InfoContext(ctx, "memory queue selected, starting in-process worker")
		withWorker = true
	default:
		a.logger.WarnContext(ctx, "serving without an in-process worker, queued inserts are stored by the standalone worker and not broadcast",
			slog.String("queue_driver", a.config.QueueDriver))
	}

	g, gctx := errgroup.WithContext(ctx)

	srv, err := server.NewFromConfig(a.config.Server,
		server.WithLogger(a.logger),
		server.WithBaseContext(gctx),
	)
	if err != nil {
		return err
	}

	if a.memQueue != nil {
		g.Go(a.memQueue.Run(gctx))
	}
	if withWorker {
		w, err := a.newWorker(a.service)
		if err != nil {
			return err
		}
		a.worker = w
		g.Go(w.Run(gctx))
	}

	g.Go(srv.Run(gctx, a.router))
	g.Go(func() error {
		<-gctx.Done()
		return a.broadcaster.Close()
	})

	return g.Wait()
}

// Work runs a standalone queue worker until ctx is cancelled. It persists
// documents only: subscribers live in the serve process.
func (a *App) Work(ctx context.Context) error {
	if a.memQueue != nil {
		return ErrWorkerNeedsRedis
	}

	w, err := a.newWorker(NewService(a.store, WithServiceLogger(a.logger)))
	if err != nil {
		return err
	}
	a.worker = w

	return w.Run(ctx)()
}

func (a *App) newWorker(svc *Service) (*queue.Worker, error) {
	w, err := queue.NewWorkerFromConfig(a.config.Queue, a.queue,
		queue.WithWorkerLogger(a.logger.With(logger.Component("worker"))),
		queue.WithWorkerClock(a.clock),
	)
	if err != nil {
		return nil, err
	}
	w.RegisterHandlers(svc.TaskHandler())
	metrics.RegisterWorker(a.registry, w.Stats)
	return w, nil
}

// Close shuts the broadcaster down and releases the backends it connected.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.broadcaster != nil {
		errs = append(errs, a.broadcaster.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
