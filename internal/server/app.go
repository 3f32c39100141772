// Package server assembles the agent's dependencies from configuration and
// runs the HTTP API and the scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/recovery"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/world"
	"github.com/JakeFAU/jobhunt-agent/internal/api"
	"github.com/JakeFAU/jobhunt-agent/internal/clock/system"
	"github.com/JakeFAU/jobhunt-agent/internal/config"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/dispatcher"
	"github.com/JakeFAU/jobhunt-agent/internal/extract"
	collyfetcher "github.com/JakeFAU/jobhunt-agent/internal/fetcher/colly"
	uuidgen "github.com/JakeFAU/jobhunt-agent/internal/id/uuid"
	"github.com/JakeFAU/jobhunt-agent/internal/logging"
	csvout "github.com/JakeFAU/jobhunt-agent/internal/output/csv"
	"github.com/JakeFAU/jobhunt-agent/internal/output/postgres"
	"github.com/JakeFAU/jobhunt-agent/internal/policy/blocklist"
	"github.com/JakeFAU/jobhunt-agent/internal/policy/ratelimit"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
	"github.com/JakeFAU/jobhunt-agent/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/jobhunt-agent/internal/publisher/pubsub"
	"github.com/JakeFAU/jobhunt-agent/internal/schedule"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/gcs"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/local"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/memory"
	redisstore "github.com/JakeFAU/jobhunt-agent/internal/storage/redis"
	"github.com/JakeFAU/jobhunt-agent/internal/store"
	"github.com/JakeFAU/jobhunt-agent/internal/telemetry"
)

// Option adjusts Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger skips logger construction and uses logger instead.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers the progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	shared     storage.Store
	files      storage.Store
	world      *world.Model
	fetcher    *collyfetcher.Fetcher
	agent      *agent.Agent
	hub        *progress.Hub
	stream     *sinks.StreamSink
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server
	history    store.RunRepository
	checks     map[string]api.ReadinessCheck
	pool       *pgxpool.Pool
	publisher  *pubsubpublisher.Publisher
	gcsClient  *gcstorage.Client
	redis      *goredis.Client
	ownsLogger bool

	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. On error every resource
// acquired so far is released.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	app := &App{cfg: cfg, logger: o.logger, checks: map[string]api.ReadinessCheck{}}
	if app.logger == nil {
		app.logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.ownsLogger = true
		zap.ReplaceGlobals(app.logger)
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = app.Close(closeCtx)
		}
	}()

	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies",
		zap.String("config_file", cfg.ConfigFileUsed()),
		zap.String("storage_backend", cfg.Storage.Backend))

	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, o.registerer); err != nil {
		return nil, err
	}
	if err = app.setupAgent(ctx); err != nil {
		return nil, err
	}

	var dispatchOpts []dispatcher.Option
	if policy := blocklist.New(cfg.HTTP.BlockedDomains); policy != nil {
		dispatchOpts = append(dispatchOpts, dispatcher.WithAdmission(policy))
		app.logger.Info("target blocklist enabled", zap.Strings("patterns", cfg.HTTP.BlockedDomains))
	}
	app.dispatch = dispatcher.New(app.agent, app.hub, app.logger, dispatchOpts...)
	app.apiServer = api.NewServer(*cfg, api.Deps{
		Runs:    app.dispatch,
		Stream:  app.stream,
		Files:   app.files,
		History: app.history,
		Checks:  app.checks,
		Logger:  app.logger,
	})
	return app, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.gcsClient, err = gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.shared, err = gcs.New(a.gcsClient, a.cfg.Storage.GCS)
		if err != nil {
			return fmt.Errorf("gcs store init failed: %w", err)
		}
		a.logger.Info("using GCS shared storage",
			zap.String("bucket", a.cfg.Storage.GCS.Bucket),
			zap.String("prefix", a.cfg.Storage.GCS.Prefix))
	case config.BackendRedis:
		a.redis, err = redisstore.NewClient(a.cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("redis client init failed: %w", err)
		}
		a.shared, err = redisstore.New(a.redis, a.cfg.Storage.Redis.KeyPrefix)
		if err != nil {
			return fmt.Errorf("redis store init failed: %w", err)
		}
		a.checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
		a.logger.Info("using Redis shared storage", zap.String("address", a.cfg.Storage.Redis.Address))
	case config.BackendMemory:
		a.shared = memory.New()
		a.logger.Warn("using in-memory shared storage; the world model and ledger are not shared")
	default:
		a.shared, err = local.New(a.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("local store init failed: %w", err)
		}
		a.logger.Info("using local shared storage", zap.String("path", a.cfg.Storage.Local.BaseDir))
	}

	a.files, err = local.New(local.Config{BaseDir: a.cfg.Output.Dir})
	if err != nil {
		return fmt.Errorf("output dir init failed: %w", err)
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Output.Postgres.DSN == "" {
		a.logger.Warn("no postgres dsn configured; records and run history are not persisted")
		return nil
	}
	pgCfg := a.cfg.PostgresConfig()
	var err error
	a.pool, err = postgres.Open(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	runs, err := postgres.NewRunRepository(a.pool, pgCfg.RunsTable)
	if err != nil {
		return fmt.Errorf("run repository init failed: %w", err)
	}
	a.history = runs
	a.checks["postgres"] = a.pool.Ping
	a.logger.Info("postgres output initialized",
		zap.String("records_table", pgCfg.RecordsTable),
		zap.String("runs_table", pgCfg.RunsTable))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.Output.PubSub.Topic == "" {
		a.logger.Info("no Pub/Sub topic configured; records are not published")
		return nil
	}
	var err error
	a.publisher, err = pubsubpublisher.Dial(ctx, a.cfg.Output.PubSub)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Output.PubSub.ProjectID),
		zap.String("topic", a.cfg.Output.PubSub.Topic))
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	a.stream = sinks.NewStreamSink(a.cfg.Progress.StreamBuffer)
	sinkList := []progress.Sink{a.stream}

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.history != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(a.history, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress_log")))
	}

	hubCfg := a.cfg.HubConfig(context.WithoutCancel(ctx), a.logger.Named("progress_hub"))
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait))
	return nil
}

func (a *App) setupAgent(ctx context.Context) error {
	clock := system.New()
	a.world = world.New(a.cfg.WorldConfig(), a.shared, clock, a.logger)
	if err := a.world.Load(ctx); err != nil {
		a.logger.Warn("world model load failed; starting from local knowledge", zap.Error(err))
	}

	limiterCfg, err := a.cfg.LimiterConfig()
	if err != nil {
		return fmt.Errorf("rate limiter config: %w", err)
	}
	a.fetcher = collyfetcher.New(a.cfg.FetcherConfig(), ratelimit.New(limiterCfg), a.logger)

	deps := agent.Deps{
		Fetcher:  a.fetcher,
		World:    a.world,
		Shared:   a.shared,
		Recovery: recovery.New(a.cfg.Recovery),
		Scorer:   extract.NewScorer(a.cfg.Scoring),
		Clock:    clock,
		Sleeper:  clock,
		IDs:      uuidgen.New(),
		Output:   csvout.New(a.files, clock),
		Logger:   a.logger,
	}
	if a.pool != nil {
		records, err := postgres.NewRecordStore(a.pool, a.cfg.Output.Postgres.RecordsTable)
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		deps.Records = records
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}

	a.agent, err = agent.New(a.cfg.AgentConfig(), deps)
	if err != nil {
		return fmt.Errorf("agent init failed: %w", err)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Agent returns the run factory.
func (a *App) Agent() *agent.Agent { return a.agent }

// Hub returns the progress hub every run reports to.
func (a *App) Hub() *progress.Hub { return a.hub }

// Fetcher returns the shared page fetcher.
func (a *App) Fetcher() crawler.Fetcher { return a.fetcher }

// Shared returns the store holding the world model and ledger.
func (a *App) Shared() storage.Store { return a.shared }

// Dispatcher returns the active-run registry.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Scheduler builds a scheduler over the dispatcher from the schedule
// section, or returns nil when no targets are configured.
func (a *App) Scheduler() (*schedule.Scheduler, error) {
	if len(a.cfg.Schedule.Targets) == 0 {
		return nil, nil
	}
	sched, err := schedule.New(schedule.Config{
		Spec:        a.cfg.Schedule.Spec,
		Targets:     a.cfg.Schedule.Targets,
		TargetCount: a.cfg.Schedule.TargetCount,
	}, a.dispatch, a.logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return sched, nil
}

// Serve runs the HTTP API, and the scheduler when one is configured, until
// ctx is canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := a.Scheduler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if sched != nil {
		sched.Start(gctx)
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		if sched != nil {
			<-sched.Stop().Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.dispatch.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("active runs did not finish before shutdown", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// RunSchedule runs only the scheduler until ctx is canceled or a
// termination signal arrives.
func (a *App) RunSchedule(ctx context.Context) error {
	sched, err := a.Scheduler()
	if err != nil {
		return err
	}
	if sched == nil {
		return errors.New("schedule.targets is empty")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.dispatch.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dispatcher shutdown: %w", err)
	}
	return nil
}

// TickSchedule starts one scheduled round immediately and waits for its
// runs to finish.
func (a *App) TickSchedule(ctx context.Context) ([]string, error) {
	sched, err := a.Scheduler()
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, errors.New("schedule.targets is empty")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := sched.Tick(ctx)
	if err := a.dispatch.Wait(ctx); err != nil {
		return started, fmt.Errorf("wait for scheduled runs: %w", err)
	}
	return started, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	return nil
}

// closeInfrastructure releases in reverse dependency order: runs first, then
// sinks and clients.
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.dispatch != nil {
		if err := a.dispatch.Shutdown(ctx); err != nil {
			a.logger.Warn("dispatcher shutdown failed", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.world != nil {
		if err := a.world.Flush(ctx); err != nil {
			a.logger.Warn("world model flush failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
}
