package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"sessiongate/internal/config"
	"sessiongate/internal/infrastructure"
	"sessiongate/internal/license"
	"sessiongate/internal/services"
	"sessiongate/internal/session"
	"sessiongate/internal/session/postgres"
	handlers "sessiongate/internal/transport/http"
	ws "sessiongate/internal/websocket"
)

const (
	VERSION  = "v1.0.0"
	REPO_URL = "https://github.com/sessiongate/sessiongate"
)

var (
	// BuildTime is set at compile time
	BuildTime = time.Now().Format(time.RFC3339)
	// BuildID is a unique identifier for this build
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(VERSION))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Pool         *pgxpool.Pool
	Directory    session.Directory
	Licenses     license.Store
	LicenseCache *license.Cache

	WebSocketHub   *ws.Hub
	Publisher      *session.Publisher
	Sessions       *session.Manager
	SessionService *services.SessionService
	HealthService  *services.HealthService

	runtimeMetrics metric.Registration
	boundGauge     metric.Registration
	listener       net.Listener
	startTime      time.Time
	stopOnce       sync.Once
	stopErr        error
	releaseOnce    sync.Once
	releaseErr     error
}

// NewApplication loads configuration, initializes the process-wide logger
// and builds the application
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(ctx, cfg, logger)
}

// New wires every component from cfg. Resources opened before a failure are
// released before returning.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.InfoContext(ctx, "application starting",
		slog.String("name", config.AppName),
		slog.String("version", VERSION),
		slog.String("build_id", BuildID),
		slog.String("directory_backend", cfg.Session.DirectoryBackend),
		slog.String("license_source", cfg.License.Source))

	a := &Application{
		Config:    cfg,
		Logger:    logger,
		startTime: time.Now(),
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.NewOTelConfig(cfg.Telemetry, VERSION), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	if err := a.initialize(ctx); err != nil {
		a.release(context.WithoutCancel(ctx))
		return nil, err
	}

	return a, nil
}

func (a *Application) initialize(ctx context.Context) error {
	registration, err := infrastructure.RegisterRuntimeMetrics(a.OTelProviders.Meter, a.startTime)
	if err != nil {
		return fmt.Errorf("failed to register runtime metrics: %w", err)
	}
	a.runtimeMetrics = registration

	if err := a.initializeStorage(ctx); err != nil {
		return err
	}
	if err := a.initializeServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := a.setupRouter(); err != nil {
		return fmt.Errorf("failed to setup router: %w", err)
	}
	a.createServer()
	return nil
}

// initializeStorage opens the database pool when needed and builds the
// session directory and license store
func (a *Application) initializeStorage(ctx context.Context) error {
	cfg := a.Config

	if cfg.UsesPostgres() {
		pool, err := postgres.NewPool(ctx, &postgres.PoolConfig{
			ConnString:        cfg.Database.URL,
			MaxConns:          cfg.Database.MaxConns,
			MinConns:          cfg.Database.MinConns,
			MaxConnLifetime:   cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
			HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
			ConnectTimeout:    cfg.Database.ConnectTimeout,
			AutoMigrate:       cfg.Database.AutoMigrate,
		})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.Pool = pool
		a.Logger.InfoContext(ctx, "database pool opened",
			slog.Int("max_conns", int(cfg.Database.MaxConns)))
	}

	switch cfg.Session.DirectoryBackend {
	case config.BackendPostgres:
		directory := postgres.NewDirectory(a.Pool)
		if cfg.Session.PurgeOnStart {
			purged, err := directory.Purge(ctx)
			if err != nil {
				return fmt.Errorf("failed to purge session directory: %w", err)
			}
			a.Logger.InfoContext(ctx, "stale sessions purged", slog.Int64("count", purged))
		}
		a.Directory = directory
	default:
		a.Directory = session.NewMemoryDirectory()
	}

	switch cfg.License.Source {
	case config.BackendPostgres:
		store := postgres.NewLicenseStore(a.Pool)
		if cfg.License.SeedFile != "" {
			seed, err := license.LoadSeedFile(cfg.License.SeedFile)
			if err != nil {
				return fmt.Errorf("failed to load license seed: %w", err)
			}
			if err := store.Seed(ctx, seed.All()); err != nil {
				return fmt.Errorf("failed to seed licenses: %w", err)
			}
			a.Logger.InfoContext(ctx, "licenses seeded", slog.Int("count", seed.Len()))
		}
		a.Licenses = store
	default:
		store, err := license.LoadSeedFile(cfg.License.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to load licenses: %w", err)
		}
		a.Logger.InfoContext(ctx, "licenses loaded",
			slog.String("seed_file", cfg.License.SeedFile),
			slog.Int("count", store.Len()))
		a.Licenses = store
	}

	return nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices() error {
	cfg := a.Config

	if cfg.License.CacheTTL > 0 {
		a.LicenseCache = license.NewCache(cfg.License.CacheTTL, cfg.License.CacheSize)
	}
	licenseMetrics, err := license.InitializeMetrics()
	if err != nil {
		return fmt.Errorf("license metrics: %w", err)
	}
	checker := license.NewChecker(a.Licenses, a.LicenseCache, licenseMetrics, a.Logger)

	telemetry, err := session.NewTelemetry()
	if err != nil {
		return fmt.Errorf("session telemetry: %w", err)
	}

	wsMetrics, err := ws.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(ws.HubConfig{
		SendBufferSize: cfg.WebSocket.SendBufferSize,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, wsMetrics, a.Logger)

	a.Publisher = session.NewPublisher(session.PublisherConfig{
		Workers:     cfg.Session.PublisherWorkers,
		QueueSize:   cfg.Session.QueueSize,
		SendTimeout: cfg.Session.SendTimeout,
	}, a.WebSocketHub, telemetry, a.Logger)

	a.Sessions = session.NewManager(a.Directory, checker, a.Publisher, telemetry, a.Logger)
	if a.boundGauge, err = telemetry.ObserveBound(a.Directory); err != nil {
		return fmt.Errorf("session gauge: %w", err)
	}
	a.SessionService = services.NewSessionService(a.Sessions, a.Logger)

	deps := services.HealthDependencies{
		Hub:       a.WebSocketHub,
		Sessions:  a.Sessions,
		Publisher: a.Publisher,
	}
	if a.Pool != nil {
		deps.Database = a.Pool
	}
	a.HealthService = services.NewHealthServiceWithBuildInfo(VERSION, REPO_URL, BuildTime, BuildID, deps, a.Logger)

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	router, err := handlers.NewRouter(handlers.RouterDeps{
		Config:     a.Config,
		Providers:  a.OTelProviders,
		Hub:        a.WebSocketHub,
		Dispatcher: a.SessionService,
		Sessions:   a.SessionService,
		Health:     a.HealthService,
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}
	a.Router = router
	return nil
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start starts the background workers and binds the listen address
func (a *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = listener

	a.WebSocketHub.Start()
	a.Publisher.Start(context.WithoutCancel(ctx))

	a.performStartupHealthCheck(ctx)

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", listener.Addr().String()),
		slog.String("version", VERSION))
	return nil
}

// Addr returns the bound listen address, or nil before Start
func (a *Application) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve blocks serving HTTP until ctx is cancelled or the server fails,
// then stops the application
func (a *Application) Serve(ctx context.Context) error {
	if a.listener == nil {
		return errors.New("application not started")
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		// A Stop from elsewhere ends Serve; release the waiter below
		defer cancel()
		if err := a.Server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(ctx, "shutting down", slog.String("cause", context.Cause(gctx).Error()))
		return a.Stop(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Run runs the application until interrupted
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.release(context.WithoutCancel(ctx))
		return err
	}
	return a.Serve(ctx)
}

// Stop gracefully stops the application: the server stops accepting work,
// queued invalidations drain, then gateway connections and backends close.
// Only the first call has any effect.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.Logger.InfoContext(ctx, "shutting down application")

		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if a.Server != nil {
			if err := a.Server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown: %w", err))
			}
		}
		if a.Publisher != nil {
			if err := a.Publisher.Stop(a.Config.Session.DrainTimeout); err != nil {
				errs = append(errs, fmt.Errorf("publisher drain: %w", err))
			}
		}
		if a.WebSocketHub != nil {
			a.WebSocketHub.Stop()
		}
		if err := a.release(shutdownCtx); err != nil {
			errs = append(errs, err)
		}

		a.stopErr = errors.Join(errs...)
		if a.stopErr != nil {
			a.Logger.ErrorContext(ctx, "application shutdown incomplete", slog.String("error", a.stopErr.Error()))
			return
		}
		a.Logger.InfoContext(ctx, "application shutdown complete")
	})
	return a.stopErr
}

// release closes caches, the database pool and telemetry providers
func (a *Application) release(ctx context.Context) error {
	a.releaseOnce.Do(func() {
		var errs []error
		if a.LicenseCache != nil {
			a.LicenseCache.Stop()
		}
		if a.runtimeMetrics != nil {
			if err := a.runtimeMetrics.Unregister(); err != nil {
				errs = append(errs, fmt.Errorf("runtime metrics: %w", err))
			}
		}
		if a.boundGauge != nil {
			if err := a.boundGauge.Unregister(); err != nil {
				errs = append(errs, fmt.Errorf("session gauge: %w", err))
			}
		}
		if a.Pool != nil {
			a.Pool.Close()
		}
		if a.OTelProviders != nil {
			if err := a.OTelProviders.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
			}
		}
		a.releaseErr = errors.Join(errs...)
	})
	return a.releaseErr
}

// performStartupHealthCheck logs the readiness of every dependency
func (a *Application) performStartupHealthCheck(ctx context.Context) {
	status := a.HealthService.ReadinessCheck(ctx)
	if status.Status != "ready" {
		a.Logger.WarnContext(ctx, "startup readiness check failed", slog.Any("services", status.Services))
		return
	}
	a.Logger.InfoContext(ctx, "startup readiness check passed")
}
