package app

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"vendcli/internal/config"
	"vendcli/internal/infrastructure"
	"vendcli/internal/license"
	customMiddleware "vendcli/internal/middleware"
	handlers "vendcli/internal/transport/http"
)

const (
	Version = "1.2.0"
	AppName = "VendDesk"
)

var (
	// BuildTime is set at compile time via -ldflags
	BuildTime = time.Now().Format(time.RFC3339)
	// BuildID identifies this build in health and version responses
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(Version))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application wires the licensing subsystem, the HTTP surface, and the
// background renewal loop into one process.
type Application struct {
	Config    *config.Config
	Router    *chi.Mux
	Server    *http.Server
	Logger    *slog.Logger
	Metrics   *infrastructure.MetricsProvider
	License   *license.Service
	Guard     *license.Guard
	Scheduler *license.Scheduler
}

// NewApplication loads configuration and builds the full dependency graph
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("build_id", BuildID),
	)

	metrics, err := infrastructure.InitializeMetrics(AppName, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	}

	if err := app.initializeLicensing(); err != nil {
		return nil, err
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeLicensing builds the license service, guard, and scheduler
func (a *Application) initializeLicensing() error {
	verifier, err := license.NewVerifier(a.Config.Licensing.PublicKeyPEM, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize license verifier: %w", err)
	}

	store := license.NewStore(license.StoreConfig{
		KeyringService: a.Config.Storage.KeyringService,
		CredentialFile: a.Config.Storage.CredentialFile,
	}, a.Logger)

	hub := license.NewHubClient(license.HubConfig{
		BaseURL: a.Config.Hub.BaseURL,
		Timeout: a.Config.Hub.Timeout,
	}, a.Logger)

	svc := license.NewService(a.Config.Licensing, store, verifier, hub, a.Logger)

	licenseMetrics, err := license.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}
	svc.SetMetrics(licenseMetrics)

	guard := license.NewStrictGuard(svc, a.Logger)
	guard.SetMetrics(licenseMetrics)

	a.License = svc
	a.Guard = guard
	a.Scheduler = license.NewScheduler(svc, a.Config.Licensing.RenewInterval(), a.Logger)
	return nil
}

// setupRouter configures the HTTP router. Middleware order: RequestID,
// RealIP, StructuredLogger, Recoverer, SecurityHeaders, Compress,
// RateLimiter, then the license gate around the API group.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.Compress(5))
	r.Use(customMiddleware.NewRateLimiter(50, 100, a.Logger).Handler)

	gate := customMiddleware.NewLicenseGate(a.Guard, a.Logger)
	r.Use(gate.Handler)

	build := handlers.BuildInfo{Version: Version, BuildTime: BuildTime, BuildID: BuildID}
	healthHandler := handlers.NewHealthHandler(build, a.License, a.Logger)
	licenseHandler := handlers.NewLicenseHandler(a.License, a.Config.Licensing, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		r.Mount("/license", licenseHandler.Routes())
	})

	r.Handle("/metrics", a.Metrics.Handler())

	a.Router = r
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

// Start runs the boot gate, launches the renewal scheduler, and starts
// serving. A license expired past the extended grace window aborts boot;
// every other state starts so the activation flow stays reachable.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	status := a.License.CheckStatus(ctx, false)
	decision := license.StartupCheck(status, time.Now())

	a.Logger.InfoContext(ctx, "startup license check",
		slog.String("state", string(decision.Status.State)),
		slog.Bool("can_start", decision.CanStart),
		slog.Bool("requires_setup", decision.RequiresSetup),
		slog.String("message", decision.Message),
	)
	if !decision.CanStart {
		return fmt.Errorf("refusing to start: %s", decision.Message)
	}
	if decision.ShowWarning {
		a.Logger.WarnContext(ctx, "license needs attention",
			slog.String("state", string(decision.Status.State)),
			slog.Time("expires_at", decision.Status.ExpiresAt),
		)
	}

	a.Scheduler.Start()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
		slog.String("license_state", string(decision.Status.State)),
	)
	return nil
}

// Stop gracefully stops the server, the scheduler, and the telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.Scheduler.Stop()

	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down metrics", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return infrastructure.CloseLogFile()
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
