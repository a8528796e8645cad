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
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/hpatro/valkey-http/internal/auth"
	"github.com/hpatro/valkey-http/internal/command"
	"github.com/hpatro/valkey-http/internal/config"
	"github.com/hpatro/valkey-http/internal/engine"
	"github.com/hpatro/valkey-http/internal/infrastructure"
	customMiddleware "github.com/hpatro/valkey-http/internal/middleware"
	"github.com/hpatro/valkey-http/internal/monitor"
	handlers "github.com/hpatro/valkey-http/internal/transport/http"
	ws "github.com/hpatro/valkey-http/internal/websocket"
)

const (
	AppName = "valkey-http"

	// maxBodyBytes caps POST /process bodies
	maxBodyBytes = 1 << 20
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Version       string
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.GatewayMetrics

	Engine     engine.Engine
	Registry   *monitor.Registry
	Hook       *monitor.Hook
	Translator *command.Translator
	Verifier   *auth.Verifier
	WebSockets *ws.Manager

	Router        *chi.Mux
	Server        *http.Server
	MetricsServer *http.Server

	listener        net.Listener
	metricsListener net.Listener
	stopOnce        sync.Once
	stopErr         error
}

// NewApplication wires every component for cfg. Nothing is started.
func NewApplication(cfg *config.Config, version string) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", version),
		slog.String("engine", cfg.Engine.Kind))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateGatewayMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway metrics: %w", err)
	}

	eng, err := NewEngine(cfg.Engine, logger)
	if err != nil {
		return nil, err
	}

	registry := monitor.NewRegistry(cfg.Monitor, logger, metrics)
	translator := command.NewTranslator(eng, logger, metrics, otelProviders.Tracer)

	app := &Application{
		Config:        cfg,
		Version:       version,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
		Engine:        eng,
		Registry:      registry,
		Hook:          monitor.NewHook(registry, cfg.Monitor.InboxSize, logger, metrics),
		Translator:    translator,
		Verifier:      auth.NewVerifier(eng, logger, metrics),
		WebSockets:    ws.NewManager(cfg.WebSocket, translator, registry, logger, metrics),
	}

	app.setupRouter()
	app.createServers()

	return app, nil
}

// NewEngine builds the engine selected by cfg.Kind
func NewEngine(cfg config.EngineConfig, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.Kind {
	case config.EngineMemory:
		mem, err := engine.NewMemory(cfg.Credentials(), engine.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create memory engine: %w", err)
		}
		return mem, nil
	case config.EngineValkey:
		v, err := engine.NewValkey(engine.ValkeyConfig{
			URL:                 cfg.URL,
			DialTimeout:         cfg.DialTimeout,
			MonitorReconnectMax: cfg.MonitorReconnectMax,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey engine: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown engine kind: %q", cfg.Kind)
	}
}

// setupRouter builds the gateway route table. Every route, the 404 included,
// sits behind Basic-Auth.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.DefaultSecureHeaders().Handler)
	r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics).Handler)
	r.Use(customMiddleware.BasicAuth(a.Verifier, a.Config.Server.AuthRealm, a.Logger))
	r.Use(customMiddleware.MaxBodySize(maxBodyBytes))

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	handlers.NewCommandHandler(a.Translator, a.Logger).Register(r)

	r.Get("/process", upgradeOnly(a.WebSockets.ServeProcess))
	r.Get("/health", upgradeOnly(a.WebSockets.ServeHealth))
	r.Get("/monitor", upgradeOnly(a.WebSockets.ServeMonitor))

	a.Router = r
}

// notFound answers with an empty 404
func notFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

// upgradeOnly treats plain GETs on WebSocket routes as unknown routes
func upgradeOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			notFound(w, r)
			return
		}
		next(w, r)
	}
}

// createServers creates the gateway server and, when enabled, the metrics server
func (a *Application) createServers() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	if a.Config.Telemetry.MetricsEnabled && a.OTelProviders.PrometheusHTTP != nil {
		mr := chi.NewRouter()
		mr.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
		a.MetricsServer = &http.Server{
			Addr:    a.Config.Telemetry.MetricsAddr,
			Handler: mr,
		}
	}
}

// Start checks the engine, installs the command hook and binds the listeners
func (a *Application) Start(ctx context.Context) error {
	if err := a.Engine.Ping(ctx); err != nil {
		return fmt.Errorf("engine unavailable: %w", err)
	}

	if err := a.Hook.Install(ctx, a.Engine); err != nil {
		return fmt.Errorf("failed to install command hook: %w", err)
	}

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln

	if a.MetricsServer != nil {
		mln, err := net.Listen("tcp", a.MetricsServer.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", a.MetricsServer.Addr, err)
		}
		a.metricsListener = mln
	}

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", ln.Addr().String()),
		slog.Bool("metrics", a.MetricsServer != nil))
	return nil
}

// Addr returns the bound gateway address once Start succeeded
func (a *Application) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Serve runs the servers and the hook dispatcher until ctx is done or a
// server fails, then stops the application.
func (a *Application) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Hook.Run(gctx)
	})
	g.Go(func() error {
		if err := a.Server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if a.metricsListener != nil {
		g.Go(func() error {
			if err := a.MetricsServer.Serve(a.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully stops the application. Only the first call does any work.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopErr = a.stop(ctx)
	})
	return a.stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	if err := a.WebSockets.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown error: %w", err))
	}
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown error: %w", err))
		}
	}

	a.Hook.Uninstall()
	a.Registry.Close()

	if err := a.Engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine close error: %w", err))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.Logger.ErrorContext(ctx, "Application shutdown incomplete", slog.String("error", err.Error()))
	} else {
		a.Logger.InfoContext(ctx, "Application shutdown complete")
	}

	// last, so the shutdown lines above still reach the file
	if closeErr := infrastructure.CloseLogFile(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("log file close error: %w", closeErr))
	}
	return err
}

// Run starts the application and serves until SIGINT or SIGTERM
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	return a.Serve(ctx)
}
