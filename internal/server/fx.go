// Package server builds the application's dependency graph and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/api"
	"github.com/JakeFAU/fly-screenshotter/internal/artifact"
	"github.com/JakeFAU/fly-screenshotter/internal/browser"
	"github.com/JakeFAU/fly-screenshotter/internal/clock"
	"github.com/JakeFAU/fly-screenshotter/internal/compress"
	"github.com/JakeFAU/fly-screenshotter/internal/config"
	"github.com/JakeFAU/fly-screenshotter/internal/dispatcher"
	"github.com/JakeFAU/fly-screenshotter/internal/id/uuid"
	"github.com/JakeFAU/fly-screenshotter/internal/logging"
	memorynotify "github.com/JakeFAU/fly-screenshotter/internal/notify/memory"
	pubsubnotify "github.com/JakeFAU/fly-screenshotter/internal/notify/pubsub"
	"github.com/JakeFAU/fly-screenshotter/internal/pipeline"
	"github.com/JakeFAU/fly-screenshotter/internal/prober"
	queueMemory "github.com/JakeFAU/fly-screenshotter/internal/queue/memory"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
	"github.com/JakeFAU/fly-screenshotter/internal/spool"
	gcsstorage "github.com/JakeFAU/fly-screenshotter/internal/storage/gcs"
	localstorage "github.com/JakeFAU/fly-screenshotter/internal/storage/local"
	memoryStorage "github.com/JakeFAU/fly-screenshotter/internal/storage/memory"
	pgstore "github.com/JakeFAU/fly-screenshotter/internal/storage/postgres"
	s3storage "github.com/JakeFAU/fly-screenshotter/internal/storage/s3"
	sqlitestore "github.com/JakeFAU/fly-screenshotter/internal/storage/sqlite"
	"github.com/JakeFAU/fly-screenshotter/internal/telemetry"
	"github.com/JakeFAU/fly-screenshotter/internal/worker"
)

// Version is stamped into telemetry resources; overridden at link time.
var Version = "dev"

const recentEvents = 256

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	queue          *queueMemory.Queue
	runner         *pipeline.Runner
	spool          *spool.Spool
	idGen          screenshot.IDGenerator
	gcsClient      *storage.Client
	pubsubClient   *pubsub.Client
	pubsubNotifier *pubsubnotify.Notifier
	pgStore        *pgstore.ProjectStore
	sqliteStore    *sqlitestore.ProjectStore
	tracerShutdown telemetry.ShutdownFunc
}

// Build creates the application's dependencies. Partially built
// infrastructure is released when a later step fails.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	app := &App{cfg: cfg, logger: logger, idGen: uuid.New()}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app.closeObservability(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("database_driver", cfg.Database.Driver),
	)

	_, app.tracerShutdown, err = telemetry.InitTracing(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      Version,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.spool, err = spool.New(cfg.Pipeline.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("artifact spool init failed: %w", err)
	}

	objects, err := setupObjectStore(ctx, app)
	if err != nil {
		return nil, err
	}
	projects, err := setupProjectStore(ctx, app)
	if err != nil {
		return nil, err
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}

	app.runner, err = setupPipeline(app, objects, projects, notifier)
	if err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Pipeline.Concurrency)
	for i := 0; i < cfg.Pipeline.Concurrency; i++ {
		workers = append(workers, worker.New(i, app.queue, app.runner, logger.Named("worker")))
	}
	app.dispatch = dispatcher.New(app.queue, workers)

	app.apiServer = api.NewServer(
		app.dispatch,
		app.idGen,
		clock.System{},
		func(context.Context) error { return app.spool.Writable() },
		*cfg,
		logger.Named("api"),
	)
	return app, nil
}

func setupObjectStore(ctx context.Context, app *App) (screenshot.ObjectStore, error) {
	sc := app.cfg.Storage
	switch sc.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: sc.Bucket, PublicBaseURL: sc.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("gcs object store init failed: %w", err)
		}
		app.logger.Info("using GCS storage backend", zap.String("bucket", sc.Bucket))
		return store, nil
	case "s3":
		store, err := s3storage.New(ctx, s3storage.Config{
			Bucket:        sc.Bucket,
			Region:        sc.S3.Region,
			Endpoint:      sc.S3.Endpoint,
			PublicBaseURL: sc.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 object store init failed: %w", err)
		}
		app.logger.Info("using S3 storage backend", zap.String("bucket", sc.Bucket), zap.String("endpoint", sc.S3.Endpoint))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: sc.Local.BaseDir, PublicBaseURL: sc.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("local object store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", sc.Local.BaseDir))
		return store, nil
	default:
		app.logger.Warn("using in-memory storage backend; screenshots are lost on restart")
		return memoryStorage.NewObjectStore(), nil
	}
}

func setupProjectStore(ctx context.Context, app *App) (screenshot.ProjectStore, error) {
	dc := app.cfg.Database
	switch dc.Driver {
	case "postgres":
		store, err := pgstore.NewProjectStore(ctx, pgstore.Config{
			DSN:             dc.DSN,
			Table:           dc.Table,
			MaxConns:        dc.MaxConns,
			MinConns:        dc.MinConns,
			MaxConnLifetime: dc.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres project store init failed: %w", err)
		}
		app.pgStore = store
		app.logger.Info("project store initialized", zap.String("driver", "postgres"), zap.String("table", dc.Table))
		return store, nil
	case "sqlite":
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{DSN: dc.DSN, Table: dc.Table})
		if err != nil {
			return nil, fmt.Errorf("sqlite project store init failed: %w", err)
		}
		app.sqliteStore = store
		app.logger.Info("project store initialized", zap.String("driver", "sqlite"), zap.String("dsn", dc.DSN))
		return store, nil
	default:
		app.logger.Warn("using in-memory project store")
		return memoryStorage.NewProjectStore(), nil
	}
}

func setupNotifier(ctx context.Context, app *App) (screenshot.Notifier, error) {
	pc := app.cfg.PubSub
	if pc.ProjectID == "" || pc.TopicName == "" {
		app.logger.Info("no Pub/Sub topic configured, keeping completion events in memory")
		return memorynotify.NewWithLimit(recentEvents), nil
	}
	client, err := pubsub.NewClient(ctx, pc.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubNotifier, err = pubsubnotify.New(client, pc.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub notifier init failed: %w", err)
	}
	app.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", pc.ProjectID),
		zap.String("topic", pc.TopicName),
	)
	return app.pubsubNotifier, nil
}

func setupPipeline(
	app *App,
	objects screenshot.ObjectStore,
	projects screenshot.ProjectStore,
	notifier screenshot.Notifier,
) (*pipeline.Runner, error) {
	cfg := app.cfg
	clk := clock.System{}

	browsers, err := browser.New(browser.Config{
		MaxParallel:     cfg.Headless.MaxParallel,
		NoSandbox:       cfg.Headless.NoSandbox,
		ExecPath:        cfg.Headless.ExecPath,
		UserAgent:       cfg.Headless.UserAgent,
		ViewportWidth:   cfg.Headless.ViewportWidth,
		ViewportHeight:  cfg.Headless.ViewportHeight,
		LaunchTimeout:   cfg.Headless.LaunchTimeout,
		NavTimeout:      cfg.Headless.NavTimeout,
		CaptureTimeout:  cfg.Headless.CaptureTimeout,
		NetworkIdle:     cfg.Headless.NetworkIdle,
		SettleTimeout:   cfg.Headless.SettleTimeout,
		SettleDelay:     cfg.Headless.SettleDelay,
		SettleSelectors: cfg.Headless.SettleSelectors,
	}, app.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("browser manager init failed: %w", err)
	}

	publisher, err := artifact.New(objects, projects, clk, artifact.Config{
		Prefix:    cfg.Storage.Prefix,
		CacheBust: cfg.Storage.CacheBust,
	}, app.logger.Named("artifact"))
	if err != nil {
		return nil, fmt.Errorf("artifact publisher init failed: %w", err)
	}

	runner, err := pipeline.New(cfg.Target.Spec(), pipeline.Deps{
		Prober: prober.New(prober.Config{
			UserAgent: cfg.Probe.UserAgent,
			Timeout:   cfg.Probe.Timeout,
		}, app.logger.Named("prober")),
		Browser: browsers,
		Compressor: compress.New(compress.Config{
			CeilingBytes:       cfg.Compression.CeilingBytes,
			FirstQuality:       cfg.Compression.FirstQuality,
			FirstMaxDimension:  cfg.Compression.FirstMaxDimension,
			SecondQuality:      cfg.Compression.SecondQuality,
			SecondMaxDimension: cfg.Compression.SecondMaxDimension,
		}, app.logger.Named("compress")),
		Publisher: publisher,
		Spool:     app.spool,
		Clock:     clk,
		Notifier:  notifier,
	}, app.logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	app.logger.Info("pipeline configured",
		zap.Int("workers", cfg.Pipeline.Concurrency),
		zap.Int("queue_depth", cfg.Pipeline.QueueDepth),
		zap.Int("max_parallel_browsers", cfg.Headless.MaxParallel),
		zap.String("artifact_dir", app.spool.Dir()),
	)
	return runner, nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and processes captures until SIGINT/SIGTERM or ctx ends,
// then drains queued captures within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	dispatchDone := make(chan struct{})
	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(workCtx)
		close(dispatchDone)
	}()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		a.logger.Error("http server error", zap.Error(runErr))
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.dispatch.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("drain timed out, cancelling in-flight captures", zap.Int("queued", a.queue.Len()))
		cancelWork()
		<-dispatchDone
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelClose()
	if err := a.Close(closeCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Capture runs one pipeline synchronously, bypassing the queue.
func (a *App) Capture(ctx context.Context, projectID string) (screenshot.Outcome, error) {
	id, err := a.idGen.NewID()
	if err != nil {
		return screenshot.Outcome{}, fmt.Errorf("generate request id: %w", err)
	}
	out := a.runner.Process(ctx, screenshot.CaptureRequest{
		ID:         id,
		ProjectID:  projectID,
		ReceivedAt: clock.System{}.Now().UTC(),
	})
	return out, out.Err
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.dispatch != nil {
		a.dispatch.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubNotifier != nil {
		a.pubsubNotifier.Stop()
		a.pubsubNotifier = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
	if a.sqliteStore != nil {
		if err := a.sqliteStore.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
		a.sqliteStore = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	_ = a.logger.Sync()
}
