package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"tenderscope/internal/config"
	apierrors "tenderscope/internal/errors"
	"tenderscope/internal/infrastructure"
	customMiddleware "tenderscope/internal/middleware"
	"tenderscope/internal/pipeline"
	"tenderscope/internal/services"
	"tenderscope/internal/snapshot"
	"tenderscope/internal/table"
	handlers "tenderscope/internal/transport/http"
)

const (
	AppName = "TenderScope - procurement anomaly scoring"
	VERSION = infrastructure.ServiceVersion
)

// BuildTime is set at link time with -ldflags "-X tenderscope/internal/app.BuildTime=..."
var BuildTime string

// BuildID is a unique identifier for this build
var BuildID = generateBuildID()

func buildTime() string {
	if BuildTime != "" {
		return BuildTime
	}
	return time.Now().Format(time.RFC3339)
}

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(VERSION))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
	Metrics        *infrastructure.PipelineMetrics
	Pipeline       *pipeline.Pipeline
	Snapshots      snapshot.Store
	Loader         *table.Loader
	Runs           *services.RunStore
	ScoringService *services.ScoringService
	HealthService  *services.HealthService
	ErrorHandler   *apierrors.ErrorHandler
}

// Option customises an Application before its services are built.
type Option func(*Application)

// WithLogger replaces the logger built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) { a.Logger = logger }
}

// NewApplication wires every service of cfg. A nil cfg loads the
// configuration from the usual locations.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	app := &Application{Config: cfg}
	for _, opt := range opts {
		opt(app)
	}

	if app.Logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging, cfg.Paths.LogsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		app.Logger = logger
	}

	app.Logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.String("build_id", BuildID))

	if err := cfg.Paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(&infrastructure.OTelConfig{
		ServiceName:    infrastructure.ServiceName,
		ServiceVersion: VERSION,
		Environment:    cfg.Telemetry.Environment,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	app.OTelProviders = otelProviders

	if err := app.initializeServices(); err != nil {
		otelProviders.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the pipeline and the services around it
func (a *Application) initializeServices() error {
	metrics, err := infrastructure.CreatePipelineMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	a.Metrics = metrics

	p, err := pipeline.New(pipeline.OptionsFromConfig(a.Config.Pipeline),
		pipeline.WithLogger(a.Logger),
		pipeline.WithTracer(a.OTelProviders.Tracer),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	a.Pipeline = p

	store, err := snapshot.Open(a.Config.Snapshot, a.Config.Paths, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	a.Snapshots = store

	a.Loader = table.NewLoader(
		table.WithOverrides(a.Config.Pipeline.ColumnOverrides()),
		table.WithSheet(a.Config.Pipeline.Sheet),
		table.WithLogger(a.Logger),
	)

	a.Runs = services.NewRunStore(a.Config.Server.MaxRuns)
	a.ScoringService = services.NewScoringService(p, a.Runs, store, a.Loader, a.Logger)
	a.HealthService = services.NewHealthService(VERSION, buildTime(), a.Config.Paths, store, a.Runs, a.Logger)
	a.ErrorHandler = apierrors.NewErrorHandler(a.Logger, a.isDevelopmentMode())
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// RequestID → RealIP → OTel → Logger → Recoverer → Timeout
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(a.getCORSConfig()))

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/healthz", healthHandler.LivenessCheck)

		a.setupAPIRoutes(r)
	})

	// Prometheus scrapes stay outside the middleware group
	metricsHandler := handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.ScoringService)
	r.Mount("/metrics", metricsHandler.Routes())

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout))

			healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
			r.Get("/health", healthHandler.HealthCheck)
			r.Get("/health/ready", healthHandler.ReadinessCheck)
			r.Get("/health/live", healthHandler.LivenessCheck)
			r.Get("/version", healthHandler.Version)

			metricsHandler := handlers.NewMetricsHandler(nil, a.ScoringService)
			r.Get("/metrics/summary", metricsHandler.GetSummary)
		})

		// scoring an upload runs the whole pipeline, so it gets the write timeout
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.WriteTimeout))

			scoringHandler := handlers.NewScoringHandler(a.ScoringService, a.Logger, a.ErrorHandler, a.Config.Server.MaxBodyBytes)
			r.Mount("/v1/runs", scoringHandler.Routes())
		})
	})
}

// getCORSConfig returns CORS configuration for the API
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	cfg := customMiddleware.CORSConfig{
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
			"Location",
			"Content-Disposition",
		},
		MaxAge: 300,
		Logger: a.Logger,
		// same origin is always allowed
		AllowedOrigins: []string{
			fmt.Sprintf("http://localhost:%d", a.Config.Server.Port),
			fmt.Sprintf("http://127.0.0.1:%d", a.Config.Server.Port),
		},
	}

	if a.isDevelopmentMode() {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins,
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		)
		a.Logger.Info("CORS configured for development mode",
			slog.Any("allowed_origins", cfg.AllowedOrigins))
	}
	if a.Config.Security.EnableCORS && len(a.Config.Security.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, a.Config.Security.AllowedOrigins...)
	}

	return cfg
}

// isDevelopmentMode reports whether the telemetry environment is development
func (a *Application) isDevelopmentMode() bool {
	if env := os.Getenv("GO_ENV"); env == "development" {
		return true
	}
	return strings.EqualFold(a.Config.Telemetry.Environment, "development")
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start starts serving in the background. A listener failure cancels ctx
// through cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	a.Logger.InfoContext(ctx, "Application paths",
		slog.String("data_dir", a.Config.Paths.DataDir),
		slog.String("snapshot_dir", a.Config.Paths.SnapshotDir),
		slog.String("output_dir", a.Config.Paths.OutputDir),
		slog.String("logs_dir", a.Config.Paths.LogsDir),
		slog.String("snapshot_backend", a.Config.Snapshot.Backend))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Close releases the snapshot store and flushes telemetry. Commands that
// never start the server call it directly.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.Snapshots != nil {
		if err := a.Snapshots.Close(); err != nil {
			errs = append(errs, fmt.Errorf("snapshot store close: %w", err))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
	return errors.Join(errs...)
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "Server stopped")
	}

	return a.Stop(context.Background())
}

// performStartupHealthCheck runs the readiness probes once so that an
// unwritable directory or a broken snapshot store shows up in the startup
// log instead of on the first upload.
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	status := a.HealthService.ReadinessCheck(ctx)
	if status.Status == "ready" {
		a.Logger.InfoContext(ctx, "Startup health check passed")
		return nil
	}

	var warnings []string
	for name, svc := range status.Services {
		if svc.Status != "ready" {
			warnings = append(warnings, fmt.Sprintf("%s: %s", name, svc.Message))
		}
	}
	sort.Strings(warnings)
	return fmt.Errorf("startup health check warnings: %s", strings.Join(warnings, "; "))
}
