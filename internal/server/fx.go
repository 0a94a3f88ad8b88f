// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/analytics"
	"github.com/JakeFAU/web-intel-platform/internal/api"
	"github.com/JakeFAU/web-intel-platform/internal/blueprint"
	rediscache "github.com/JakeFAU/web-intel-platform/internal/cache/redis"
	"github.com/JakeFAU/web-intel-platform/internal/clock/system"
	"github.com/JakeFAU/web-intel-platform/internal/config"
	"github.com/JakeFAU/web-intel-platform/internal/dispatcher"
	"github.com/JakeFAU/web-intel-platform/internal/engine"
	"github.com/JakeFAU/web-intel-platform/internal/fingerprint"
	"github.com/JakeFAU/web-intel-platform/internal/hash/sha256"
	"github.com/JakeFAU/web-intel-platform/internal/id/uuid"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/logging"
	"github.com/JakeFAU/web-intel-platform/internal/metrics"
	"github.com/JakeFAU/web-intel-platform/internal/policy/ratelimit"
	collyprobe "github.com/JakeFAU/web-intel-platform/internal/probe/colly"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
	progresssinks "github.com/JakeFAU/web-intel-platform/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/web-intel-platform/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/web-intel-platform/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/web-intel-platform/internal/queue/memory"
	"github.com/JakeFAU/web-intel-platform/internal/sites"
	gcsstorage "github.com/JakeFAU/web-intel-platform/internal/storage/gcs"
	localstorage "github.com/JakeFAU/web-intel-platform/internal/storage/local"
	memoryStorage "github.com/JakeFAU/web-intel-platform/internal/storage/memory"
	pgstore "github.com/JakeFAU/web-intel-platform/internal/storage/postgres"
	"github.com/JakeFAU/web-intel-platform/internal/store"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
	"github.com/JakeFAU/web-intel-platform/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	registerer      prometheus.Registerer
	clock           intel.Clock
	ids             intel.IDGenerator
	store           store.Store
	pg              *pgstore.Store
	blobs           intel.BlobStore
	gcs             *gcsstorage.BlobStore
	publisher       intel.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	cache           *rediscache.Cache
	progressHub     *progress.Hub
	queue           *queueMemory.Queue
	catalog         *templates.Catalog
	engine          *engine.Engine
	dispatch        *dispatcher.Dispatcher
	apiServer       *api.Server
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		Postgres       bool   `json:"postgres"`
		Redis          bool   `json:"redis"`
		PubSub         bool   `json:"pubsub"`
		Workers        int    `json:"workers"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		Postgres:       cfg.Database.DSN != "",
		Redis:          cfg.Cache.Redis.Addr != "",
		PubSub:         cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "",
		Workers:        cfg.Engine.Concurrency,
	}))
	return &App{
		cfg:        cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
		clock:      system.New(),
		ids:        uuid.New(),
	}, nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("redis cache close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		_ = app.Close(ctx) //nolint:errcheck // build error takes precedence
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")
	metrics.Init()

	if err := a.setupStore(ctx); err != nil {
		return err
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	a.setupCache(ctx)

	emitter, err := a.setupProgress(ctx)
	if err != nil {
		return err
	}

	if err := a.setupCatalog(ctx); err != nil {
		return err
	}

	a.queue = queueMemory.NewQueue(a.cfg.Engine.QueueDepth)
	a.engine = engine.New(engine.Deps{
		Repo:    a.store,
		Queue:   a.queue,
		IDs:     a.ids,
		Clock:   a.clock,
		Emitter: emitter,
		Logger:  a.logger.Named("engine"),
		Config:  engine.Config{MaxRetries: a.cfg.Engine.MaxRetries},
	})

	blueprints := blueprint.NewService(blueprint.Deps{
		Repo:      a.store,
		Finder:    a.catalog,
		Builder:   blueprint.NewBuilder(builderConfig(a.cfg.Builder)),
		IDs:       a.ids,
		Clock:     a.clock,
		Blobs:     a.blobs,
		Publisher: a.publisher,
		Logger:    a.logger.Named("blueprint"),
		Observer: func(bp intel.Blueprint, status intel.SiteStatus) {
			metrics.ObserveBlueprint(string(status), bp.ConfidenceValue())
		},
	})

	a.dispatch = a.setupDispatcher(blueprints, emitter)

	siteService := sites.NewService(a.store, a.engine, a.ids, a.clock, a.logger.Named("sites"))
	var reportCache analytics.Cache
	if a.cache != nil {
		reportCache = a.cache
	}
	reports := analytics.New(a.store, a.clock, reportCache, analytics.Config{CacheTTL: a.cfg.CacheTTL()}, a.logger.Named("analytics"))

	a.apiServer = api.NewServer(api.Deps{
		Sites:          siteService,
		Jobs:           a.engine,
		Blueprints:     a.store,
		BlueprintWrite: blueprints,
		Templates:      a.store,
		Catalog:        a.catalog,
		Events:         a.store,
		Analytics:      reports,
		IDs:            a.ids,
		Clock:          a.clock,
		Logger:         a.logger.Named("api"),
		Ready:          a.readinessChecks(),
		RequestTimeout: a.cfg.RequestTimeout(),
	})
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, keeping state in memory")
		a.store = memoryStorage.NewStore()
		return nil
	}
	pg, err := OpenPostgres(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	a.pg = pg
	a.store = pg
	a.logger.Info("postgres store initialized",
		zap.Int32("max_conns", a.cfg.Database.MaxConns),
		zap.Int32("min_conns", a.cfg.Database.MinConns),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend")
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		}, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = blobs
		a.blobs = blobs
		a.logger.Debug("GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
	case config.BackendLocal:
		a.logger.Info("using local storage backend")
		blobs, err := localstorage.New(localstorage.Config{
			BaseDir: a.cfg.Storage.Local.BaseDir,
			Prefix:  a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Debug("local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memoryStorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// setupCache connects the analytics cache. Reports work without it, so a
// failed connection only logs.
func (a *App) setupCache(ctx context.Context) {
	if a.cfg.Cache.Redis.Addr == "" {
		a.logger.Info("no redis addr configured, analytics reports are not cached")
		return
	}
	c, err := rediscache.New(ctx, rediscache.Config{
		Addr:     a.cfg.Cache.Redis.Addr,
		Password: a.cfg.Cache.Redis.Password,
		DB:       a.cfg.Cache.Redis.DB,
	}, a.logger.Named("cache"))
	if err != nil {
		a.logger.Warn("redis cache unavailable, continuing without it", zap.Error(err))
		return
	}
	a.cache = c
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.Discard{}, nil
	}
	var sinkList []progress.Sink
	if a.cfg.Progress.StoreEnabled {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.store, a.logger.Named("progress_store")))
		a.logger.Debug("added progress store sink")
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return a.progressHub, nil
}

func (a *App) setupCatalog(ctx context.Context) error {
	if a.cfg.Templates.SeedOnStart {
		n, err := SeedTemplates(ctx, a.store, a.clock)
		if err != nil {
			return err
		}
		a.logger.Info("template catalog seeded", zap.Int("inserted", n))
	}
	a.catalog = templates.NewCatalog(a.store, a.logger, templates.WithCandidateObserver(metrics.ObserveCandidates))
	if err := a.catalog.Refresh(ctx); err != nil {
		// FindCandidates reloads lazily, so a cold start without templates is survivable.
		a.logger.Warn("initial template load failed", zap.Error(err))
	}
	return nil
}

func (a *App) setupDispatcher(blueprints *blueprint.Service, emitter progress.Emitter) *dispatcher.Dispatcher {
	prober := collyprobe.New(collyprobe.Config{
		UserAgent:     a.cfg.Probe.UserAgent,
		RespectRobots: a.cfg.Probe.RespectRobots,
		Timeout:       a.cfg.ProbeTimeout(),
		APIRoutes:     a.cfg.Probe.APIRoutes,
	}, a.clock, a.logger.Named("probe"))
	a.logger.Info("using colly prober",
		zap.String("user_agent", a.cfg.Probe.UserAgent),
		zap.Bool("respect_robots", a.cfg.Probe.RespectRobots),
	)

	analyzer := fingerprint.NewAnalyzer(analyzerConfig(a.cfg.Analyzer), sha256.New())

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Probe.RequestsPerSecond,
		DefaultBurst: a.cfg.Probe.Burst,
	})
	a.logger.Info("rate limiter enabled",
		zap.Float64("requests_per_second", a.cfg.Probe.RequestsPerSecond),
		zap.Int("burst", a.cfg.Probe.Burst),
	)

	retry := worker.NewRetryPolicy(worker.RetryConfig{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(a.cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(a.cfg.Retry.MaxDelayMs) * time.Millisecond,
	})

	workerCfg := worker.Config{
		JobTimeout:            a.cfg.JobTimeout(),
		DefaultCostPerRequest: a.cfg.Analytics.DefaultCostPerRequestUSD,
		CostPerRequest:        a.cfg.Analytics.CostPerRequestUSD,
	}
	a.logger.Info("worker config",
		zap.Int("workers", a.cfg.Engine.Concurrency),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.Int("retry_attempts", a.cfg.Retry.MaxAttempts),
	)

	runners := make([]dispatcher.Runner, 0, a.cfg.Engine.Concurrency)
	for i := 0; i < a.cfg.Engine.Concurrency; i++ {
		runners = append(runners, worker.New(worker.Deps{
			Queue:      a.queue,
			Repo:       a.store,
			Prober:     prober,
			Analyzer:   analyzer,
			Blueprints: blueprints,
			Limiter:    limiter,
			Tokens:     a.engine.Tokens(),
			Clock:      a.clock,
			Retry:      retry,
			Emitter:    emitter,
			Logger:     a.logger.Named("worker").With(zap.Int("index", i)),
			Config:     workerCfg,
		}))
	}
	return dispatcher.New(runners, a.logger.Named("dispatcher"))
}

func (a *App) readinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{
		"templates": func(ctx context.Context) error {
			_, err := a.catalog.Templates(ctx)
			return err
		},
	}
	if a.pg != nil {
		checks["postgres"] = a.pg.Ping
	}
	if a.cache != nil {
		checks["redis"] = a.cache.Ping
	}
	return checks
}

// OpenPostgres connects the Postgres store.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgstore.Store, error) {
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	return pg, nil
}

// SeedTemplates inserts the built-in catalog, skipping IDs already present.
func SeedTemplates(ctx context.Context, repo store.TemplateRepository, clock intel.Clock) (int, error) {
	list, err := templates.Defaults()
	if err != nil {
		return 0, fmt.Errorf("load built-in templates: %w", err)
	}
	n, err := templates.Seed(ctx, repo, list, clock.Now())
	if err != nil {
		return n, fmt.Errorf("seed templates: %w", err)
	}
	return n, nil
}

func analyzerConfig(c config.AnalyzerConfig) fingerprint.Config {
	out := fingerprint.DefaultConfig()
	out.Weights = fingerprint.Weights{
		RequiresJS:     c.Weights.RequiresJS,
		AntiBot:        c.Weights.AntiBot,
		SPAFramework:   c.Weights.SPAFramework,
		LargeHTML:      c.Weights.LargeHTML,
		BaseValue:      c.Weights.BaseValue,
		KnownPlatform:  c.Weights.KnownPlatform,
		APIRoute:       c.Weights.APIRoute,
		APIRouteCap:    c.Weights.APIRouteCap,
		ProductSignals: c.Weights.ProductSignals,
	}
	if c.LargeHTMLBytes > 0 {
		out.LargeHTMLBytes = c.LargeHTMLBytes
	}
	out.CustomConfidence = c.CustomConfidence
	if len(c.SelectorProbes) > 0 {
		out.SelectorProbes = make([]fingerprint.SelectorProbe, 0, len(c.SelectorProbes))
		for _, p := range c.SelectorProbes {
			out.SelectorProbes = append(out.SelectorProbes, fingerprint.SelectorProbe{
				Field:     p.Field,
				Group:     p.Group,
				Selectors: p.Selectors,
			})
		}
	}
	return out
}

func builderConfig(c config.BuilderConfig) blueprint.Config {
	return blueprint.Config{
		Weights: blueprint.Weights{
			Match:     c.Weights.Match,
			Selectors: c.Weights.Selectors,
			Analyzer:  c.Weights.Analyzer,
		},
		ReadyThreshold: c.ReadyThreshold,
	}
}
