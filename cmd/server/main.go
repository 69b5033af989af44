// Package main provides the entry point for the levelquest API server.
// It loads configuration, wires services through the DI container and serves the HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/di"
	"levelquest/internal/handlers"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"
	"levelquest/internal/worker"

	"github.com/joho/godotenv"
)

// Application encapsulates the main application logic and can be tested
type Application struct {
	container di.ServiceContainerInterface
	worker    *worker.Worker
	server    *http.Server
	logger    *observability.Logger
}

// NewApplication creates a new application instance from an initialized container
func NewApplication(container *di.ServiceContainer) (*Application, error) {
	gameService, err := container.GetGameService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get game service")
	}

	progressService, err := container.GetProgressService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get progress service")
	}

	statsService, err := container.GetStatsService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get stats service")
	}

	cfg := container.GetConfig()
	var wk *worker.Worker
	if cfg.Server.EmbedWorker {
		wk, err = container.GetWorker()
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to get worker")
		}
	}

	router := handlers.NewRouter(
		cfg,
		gameService,
		progressService,
		statsService,
		container.GetHub(),
		wk,
		container.GetLogger(),
	)

	return &Application{
		container: container,
		worker:    wk,
		logger:    container.GetLogger(),
		server: &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run starts the embedded worker and the HTTP server, returning when ctx is done or the server fails
func (a *Application) Run(ctx context.Context) error {
	if a.worker != nil {
		go a.worker.Start(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": a.server.Addr})
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return contextutils.WrapError(err, "server failed")
	}
}

// Shutdown drains HTTP connections, then stops the worker and releases storage
func (a *Application) Shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "HTTP server did not shut down cleanly", map[string]interface{}{"error": err.Error()})
	}
	return a.container.Shutdown(ctx)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	providers, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "levelquest-api", cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "Error shutting down telemetry providers", map[string]interface{}{"error": err.Error()})
		}
		_ = logger.Sync()
	}()

	logger.Info(ctx, "Starting levelquest API", map[string]interface{}{
		"port":          cfg.Server.Port,
		"logLevel":      cfg.Server.LogLevel,
		"store_backend": cfg.Store.Backend,
		"embed_worker":  cfg.Server.EmbedWorker,
	})

	container := di.NewServiceContainer(cfg, logger, di.Options{
		WithHub:        true,
		WithWorker:     cfg.Server.EmbedWorker,
		WorkerInstance: "embedded",
	})
	if err := container.Initialize(ctx); err != nil {
		logger.Error(ctx, "Failed to initialize services", err, nil)
		os.Exit(1)
	}

	app, err := NewApplication(container)
	if err != nil {
		logger.Error(ctx, "Failed to create application", err, nil)
		_ = container.Shutdown(ctx)
		os.Exit(1)
	}

	appErr := make(chan error, 1)
	go func() {
		if err := app.Run(ctx); err != nil {
			appErr <- err
		}
	}()

	select {
	case <-shutdownCh:
		logger.Info(ctx, "Received shutdown signal, shutting down gracefully", nil)
	case err := <-appErr:
		logger.Error(ctx, "Application failed", err, nil)
		_ = container.Shutdown(ctx)
		os.Exit(1)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error during application shutdown", err, nil)
		os.Exit(1)
	}

	logger.Info(ctx, "Shutdown completed successfully", nil)
}
