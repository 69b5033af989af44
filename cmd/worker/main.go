// Package main provides the entry point for the standalone levelquest worker.
// It runs the session sweeper and aggregation retries, and serves a small admin API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/di"
	"levelquest/internal/handlers"
	"levelquest/internal/middleware"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"
	"levelquest/internal/version"
	"levelquest/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const serviceName = "levelquest-worker"

// fatalIfErr logs the error with context and panics with a consistent message
func fatalIfErr(ctx context.Context, logger *observability.Logger, msg string, err error, fields map[string]interface{}) {
	logger.Error(ctx, msg, err, fields)
	panic(msg + ": " + err.Error())
}

// newWorkerRouter serves health, version and the worker admin endpoints
func newWorkerRouter(cfg *config.Config, wk *worker.Worker, logger *observability.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(middleware.ErrorRecoveryMiddleware(logger, middleware.DefaultErrorRecoveryConfig()))
	router.Use(handlers.RequestLogger(logger))
	router.Use(observability.GinMiddleware(serviceName))
	router.Use(observability.GinErrorAttributes())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, version.For(serviceName))
		})
		handlers.NewWorkerAdminHandlerWithLogger(wk, logger).RegisterRoutes(v1.Group("/admin/worker"))
	}

	router.NoRoute(func(c *gin.Context) {
		handlers.HandleAppError(c, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})

	routeListing := handlers.NewRouteListingHandler(serviceName)
	router.GET("/", routeListing.Serve)
	routeListing.CollectRoutes(router)

	return router
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	cfg, err := config.NewConfig()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	providers, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, serviceName, cfg.Server.LogLevel)
	if err != nil {
		panic("Failed to initialize observability: " + err.Error())
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			logger.Warn(ctx, "Error shutting down telemetry providers", map[string]interface{}{"error": err.Error()})
		}
		_ = logger.Sync()
	}()

	logger.Info(ctx, "Starting levelquest worker", map[string]interface{}{
		"port":          cfg.Server.WorkerPort,
		"logLevel":      cfg.Server.LogLevel,
		"store_backend": cfg.Store.Backend,
	})

	hostname, _ := os.Hostname()
	container := di.NewServiceContainer(cfg, logger, di.Options{
		WithWorker:     true,
		WorkerInstance: hostname,
	})
	if err := container.Initialize(ctx); err != nil {
		fatalIfErr(ctx, logger, "Failed to initialize services", err, map[string]interface{}{"store_backend": cfg.Store.Backend})
	}

	wk, err := container.GetWorker()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get worker", err, nil)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go wk.Start(workerCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.WorkerPort,
		Handler:           newWorkerRouter(cfg, wk, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Worker server starting", map[string]interface{}{"port": cfg.Server.WorkerPort})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatalIfErr(ctx, logger, "Failed to start worker server", err, map[string]interface{}{"port": cfg.Server.WorkerPort})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Worker server shutting down", map[string]interface{}{"service": "worker"})

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, config.WorkerShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Worker server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	// Stops the worker loop, then closes the store and publishers
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Warning: failed to shutdown services", map[string]interface{}{"error": err.Error(), "service": "worker"})
	}

	logger.Info(ctx, "Worker server exited", map[string]interface{}{"service": "worker"})
}
