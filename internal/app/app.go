package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"policyhub/internal/config"
	apierrors "policyhub/internal/errors"
	"policyhub/internal/infrastructure"
	"policyhub/internal/license"
	customMiddleware "policyhub/internal/middleware"
	"policyhub/internal/notify"
	"policyhub/internal/policy"
	"policyhub/internal/security"
	transport "policyhub/internal/transport/http"
	ws "policyhub/internal/websocket"
	"policyhub/pkg/contracts"
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Router        *chi.Mux
	Server        *http.Server

	Registry       *policy.Registry
	Cipher         *security.Cipher
	Notifier       *notify.Hub
	Sweeper        *notify.Sweeper
	LicenseService *license.Service
	Watcher        *license.Watcher
	WebSocketHub   *ws.Hub

	errorHandler *apierrors.ErrorHandler
	listener     net.Listener
	watchDone    chan struct{}
}

// NewApplication loads the configuration at configPath (empty searches the
// usual locations) and wires every component.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return NewApplicationWithConfig(cfg, logger)
}

// NewApplicationWithConfig wires the application from an already loaded
// configuration. A nil logger selects the global logger.
func NewApplicationWithConfig(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.String("api_version", contracts.APIVersion))

	paths, err := config.GetPaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
		errorHandler:  apierrors.NewErrorHandler(logger, cfg.Telemetry.Environment == "development"),
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the policy pipeline bottom-up: registry, delivery
// hub, cipher, license service, then the subscriber transport.
func (a *Application) initializeServices() error {
	registry, err := policy.RegistryFromConfig(a.Config.Applications)
	if err != nil {
		return fmt.Errorf("failed to build application registry: %w", err)
	}
	a.Registry = registry

	notifyMetrics, err := notify.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize delivery metrics: %w", err)
	}
	a.Notifier = notify.NewHub(registry, notify.HubConfig{
		Backoff: a.Config.Delivery.RetryBackoff,
		Logger:  a.Logger,
		Metrics: notifyMetrics,
	})
	a.Sweeper = notify.NewSweeper(a.Notifier, a.Config.Delivery.SweepSchedule, a.Logger)

	cipher, err := security.NewCipher(a.Config.License.Passphrase, nil)
	if err != nil {
		return apierrors.NewConfigError("license passphrase", err)
	}
	a.Cipher = cipher

	licenseMetrics, err := license.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize license metrics: %w", err)
	}
	svc, err := license.NewService(license.Config{
		Namespace: a.Config.License.Namespace,
		Brand:     a.Config.License.BrandName,
		Registry:  registry,
		Decrypter: cipher,
		Store:     license.NewFileStore(a.Config.License.FilePath),
		Notifier:  a.Notifier,
		Audit:     license.NewAuditLog(a.Config.License.AuditFile),
		Metrics:   licenseMetrics,
		Logger:    a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize license service: %w", err)
	}
	a.LicenseService = svc

	if a.Config.License.Watch {
		watcher, err := license.NewWatcher(a.Config.License.FilePath, 0, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize license watcher: %w", err)
		}
		a.Watcher = watcher
	}

	wsMetrics, err := ws.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize WebSocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(svc, ws.HubOptions{
		Config:         a.Config.WebSocket,
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		Metrics:        wsMetrics,
		Logger:         a.Logger,
	})

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// OTel first so its span trace id becomes the request trace id.
	otelMiddleware, err := customMiddleware.NewOTelMiddleware()
	if err != nil {
		a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		Logger:         a.Logger,
	}))

	r.NotFound(a.errorHandler.NotFound)
	r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)

	// Subscriber connections are long lived and stay outside the rate limit.
	r.HandleFunc("/ws", a.WebSocketHub.ServeWS)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}
		a.setupAPIRoutes(r)
	})

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	health := transport.NewHealthHandler(
		a.LicenseService,
		transport.CounterFunc(a.WebSocketHub.ClientCount),
		a.Notifier,
	)
	licenseHandler := transport.NewLicenseHandler(a.LicenseService, transport.LicenseHandlerOptions{
		MaxBytes:     a.Config.Server.MaxLicenseBytes,
		AdminKeys:    a.Config.Security.AdminKeys,
		ErrorHandler: a.errorHandler,
		Logger:       a.Logger,
	})
	policyHandler := transport.NewPolicyHandler(a.LicenseService, a.errorHandler, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health", health.HealthCheck)
		r.Get("/health/live", health.LivenessCheck)

		r.Mount("/license", licenseHandler.Routes())
		r.Mount("/policies", policyHandler.Routes())
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port)),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the background services and the HTTP server. A server
// failure after Start returns calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("version", contracts.Version),
		slog.String("address", a.Server.Addr),
		slog.String("level", a.Config.Logging.Level))

	a.performStartupCheck(ctx)

	a.WebSocketHub.Start()

	if err := a.Sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	if a.Watcher != nil {
		a.watchDone = make(chan struct{})
		go func() {
			defer close(a.watchDone)
			err := a.Watcher.Watch(ctx, func(ctx context.Context) error {
				_, err := a.LicenseService.ApplyStored(ctx)
				return err
			})
			if err != nil {
				a.Logger.ErrorContext(ctx, "License watcher failed", slog.String("error", err.Error()))
			}
		}()
	}

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", ln.Addr().String()),
		slog.Int("applications", a.Registry.Len()))
	return nil
}

// Addr returns the address the server listens on once started.
func (a *Application) Addr() string {
	if a.listener == nil {
		return a.Server.Addr
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the application. The HTTP server stops first so no
// new subscribers arrive while the delivery hub drains.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if err := a.WebSocketHub.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("websocket hub shutdown: %w", err))
	}

	if a.Watcher != nil {
		if err := a.Watcher.Stop(); err != nil {
			a.Logger.WarnContext(ctx, "Error stopping license watcher", slog.String("error", err.Error()))
		}
		if a.watchDone != nil {
			select {
			case <-a.watchDone:
			case <-shutdownCtx.Done():
			}
		}
	}

	a.Sweeper.Stop()

	if err := a.Notifier.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("delivery hub shutdown: %w", err))
	}

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")

	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
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
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Server stopped unexpectedly")
	}

	// The run context may already be cancelled; shutdown gets its own.
	return a.Stop(context.Background())
}

// performStartupCheck logs conditions that do not prevent startup but that
// an operator should know about.
func (a *Application) performStartupCheck(ctx context.Context) {
	if !config.FileExists(a.Config.License.FilePath) {
		a.Logger.WarnContext(ctx, "License file not found",
			slog.String("path", a.Config.License.FilePath),
			slog.String("action", "upload a license to distribute security policies"))
	}

	probe, err := os.CreateTemp(filepath.Dir(a.Config.License.FilePath), ".probe-*")
	if err != nil {
		a.Logger.WarnContext(ctx, "License directory is not writable",
			slog.String("dir", filepath.Dir(a.Config.License.FilePath)),
			slog.String("error", err.Error()))
		return
	}
	probe.Close()
	os.Remove(probe.Name())
}
