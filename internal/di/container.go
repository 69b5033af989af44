// Package di provides dependency injection container for managing service lifecycle and dependencies.
package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"levelquest/internal/config"
	"levelquest/internal/content"
	"levelquest/internal/database"
	"levelquest/internal/events"
	"levelquest/internal/observability"
	"levelquest/internal/services"
	"levelquest/internal/store"
	"levelquest/internal/store/mongo"
	"levelquest/internal/store/postgres"
	contextutils "levelquest/internal/utils"
	"levelquest/internal/worker"
)

// Service names registered in the container
const (
	ServiceGame     = "game"
	ServiceProgress = "progress"
	ServiceStats    = "stats"
	ServiceRebuild  = "rebuild"
	ServiceWorker   = "worker"
)

// ServiceContainerInterface defines the interface for service containers
type ServiceContainerInterface interface {
	GetService(name string) (interface{}, error)
	GetGameService() (services.GameServiceInterface, error)
	GetProgressService() (services.ProgressServiceInterface, error)
	GetStatsService() (services.StatsServiceInterface, error)
	GetRebuildService() (*services.RebuildService, error)
	GetStore() store.Store
	GetCatalog() content.Catalog
	GetHub() *events.Hub
	GetDatabase() *sql.DB
	GetConfig() *config.Config
	GetLogger() *observability.Logger
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Options tunes what Initialize builds for a particular binary
type Options struct {
	// WithHub creates the websocket hub and routes realtime events to it
	WithHub bool
	// WithWorker builds a worker over the game service
	WithWorker bool
	// WorkerInstance names the worker in logs and status output
	WorkerInstance string
}

// ServiceContainer manages all service dependencies and lifecycle
type ServiceContainer struct {
	cfg     *config.Config
	logger  *observability.Logger
	opts    Options
	db      *sql.DB
	store   store.Store
	catalog content.Catalog
	hub     *events.Hub

	services      map[string]interface{}
	mu            sync.RWMutex
	shutdownFuncs []func(context.Context) error
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer(cfg *config.Config, logger *observability.Logger, opts Options) *ServiceContainer {
	return &ServiceContainer{
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		services: make(map[string]interface{}),
	}
}

// Initialize opens the catalog, the store and the event publishers, then wires the services
func (sc *ServiceContainer) Initialize(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.initializeStorage(ctx); err != nil {
		_ = sc.cleanup(ctx)
		return err
	}

	publisher, err := sc.initializePublishers(ctx)
	if err != nil {
		_ = sc.cleanup(ctx)
		return err
	}

	sc.initializeServices(publisher)
	return nil
}

// initializeStorage opens postgres when configured, the content catalog and the session store
func (sc *ServiceContainer) initializeStorage(ctx context.Context) error {
	backend := sc.cfg.Store.Backend
	if sc.cfg.Database.URL != "" {
		db, err := database.NewManager(sc.logger).InitDBWithConfig(sc.cfg.Database)
		if err != nil {
			return contextutils.WrapError(err, "failed to initialize database")
		}
		sc.db = db
		if backend != config.StoreBackendPostgres {
			sc.shutdownFuncs = append(sc.shutdownFuncs, func(context.Context) error { return db.Close() })
		}
		sc.catalog = content.NewPostgresCatalog(db, sc.logger)
	} else {
		catalog := content.NewMemoryCatalog()
		if seed := sc.cfg.Store.CatalogSeedFile; seed != "" {
			if err := catalog.LoadSeedFile(seed); err != nil {
				return contextutils.WrapErrorf(err, "failed to load catalog seed %s", seed)
			}
		}
		sc.catalog = catalog
	}

	switch backend {
	case config.StoreBackendPostgres:
		if sc.db == nil {
			return contextutils.WrapError(contextutils.ErrInvalidInput, "store backend postgres requires database.url")
		}
		sc.store = postgres.New(sc.db, sc.logger)
	case config.StoreBackendMongo:
		st, err := mongo.Connect(ctx, sc.cfg.Store.MongoURI, sc.cfg.Store.MongoDatabase, sc.logger)
		if err != nil {
			return err
		}
		sc.store = st
	case config.StoreBackendMemory:
		sc.store = store.NewMemoryStore()
	default:
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown store backend %q", backend)
	}
	st := sc.store
	sc.shutdownFuncs = append(sc.shutdownFuncs, st.Close)

	sc.logger.Info(ctx, "Storage initialized", map[string]interface{}{
		"store_backend":    backend,
		"postgres_catalog": sc.db != nil,
	})
	return nil
}

// initializePublishers builds the AMQP publisher and websocket hub that are enabled
func (sc *ServiceContainer) initializePublishers(ctx context.Context) (events.Publisher, error) {
	var publishers []events.Publisher
	if url := sc.cfg.Events.AMQPURL; url != "" {
		amqpPublisher, err := events.NewAMQPPublisher(url, sc.cfg.Events.AMQPExchange, sc.logger)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, amqpPublisher)
	}
	if sc.opts.WithHub && sc.cfg.Events.WebsocketEnabled {
		sc.hub = events.NewHub(sc.logger, sc.cfg.Server.CORSOrigins)
		publishers = append(publishers, sc.hub)
	}

	publisher := events.NewMulti(publishers...)
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(context.Context) error { return publisher.Close() })
	sc.logger.Info(ctx, "Event publishers initialized", map[string]interface{}{
		"amqp":      sc.cfg.Events.AMQPURL != "",
		"websocket": sc.hub != nil,
	})
	return publisher, nil
}

// initializeServices sets up all service dependencies
func (sc *ServiceContainer) initializeServices(publisher events.Publisher) {
	notifier := events.NewNotifier(publisher, sc.logger)

	progressService := services.NewProgressServiceWithLogger(sc.store, sc.store, sc.catalog, notifier, sc.cfg.Game, sc.logger)
	sc.services[ServiceProgress] = progressService

	statsService := services.NewStatsServiceWithLogger(sc.store, sc.catalog, notifier, sc.cfg.Game, sc.logger)
	sc.services[ServiceStats] = statsService

	// Game service depends on progress and stats for aggregation
	gameService := services.NewGameServiceWithLogger(sc.store, sc.catalog, progressService, statsService, notifier, sc.cfg.Game, sc.logger)
	sc.services[ServiceGame] = gameService

	sc.services[ServiceRebuild] = services.NewRebuildServiceWithLogger(sc.store, progressService, statsService, sc.logger)

	if sc.opts.WithWorker {
		sc.services[ServiceWorker] = worker.NewWorker(gameService, sc.opts.WorkerInstance, sc.cfg.Game, sc.logger)
	}
}

// GetService retrieves a service by name
func (sc *ServiceContainer) GetService(name string) (interface{}, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	service, exists := sc.services[name]
	if !exists {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "service %s not found", name)
	}
	return service, nil
}

// GetServiceAs performs type-safe service retrieval
func GetServiceAs[T any](sc *ServiceContainer, name string) (T, error) {
	var zero T
	service, err := sc.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, contextutils.WrapErrorf(contextutils.ErrInternalError, "service %s is not of expected type %T", name, zero)
	}
	return typed, nil
}

// GetGameService returns the game service
func (sc *ServiceContainer) GetGameService() (services.GameServiceInterface, error) {
	return GetServiceAs[services.GameServiceInterface](sc, ServiceGame)
}

// GetProgressService returns the progress service
func (sc *ServiceContainer) GetProgressService() (services.ProgressServiceInterface, error) {
	return GetServiceAs[services.ProgressServiceInterface](sc, ServiceProgress)
}

// GetStatsService returns the stats service
func (sc *ServiceContainer) GetStatsService() (services.StatsServiceInterface, error) {
	return GetServiceAs[services.StatsServiceInterface](sc, ServiceStats)
}

// GetRebuildService returns the aggregate rebuild service
func (sc *ServiceContainer) GetRebuildService() (*services.RebuildService, error) {
	return GetServiceAs[*services.RebuildService](sc, ServiceRebuild)
}

// GetWorker returns the worker built with Options.WithWorker
func (sc *ServiceContainer) GetWorker() (*worker.Worker, error) {
	return GetServiceAs[*worker.Worker](sc, ServiceWorker)
}

// GetStore returns the session and aggregate store
func (sc *ServiceContainer) GetStore() store.Store {
	return sc.store
}

// GetCatalog returns the content catalog
func (sc *ServiceContainer) GetCatalog() content.Catalog {
	return sc.catalog
}

// GetHub returns the websocket hub, nil when realtime delivery is off
func (sc *ServiceContainer) GetHub() *events.Hub {
	return sc.hub
}

// GetDatabase returns the postgres handle, nil without database.url
func (sc *ServiceContainer) GetDatabase() *sql.DB {
	return sc.db
}

// GetConfig returns the configuration
func (sc *ServiceContainer) GetConfig() *config.Config {
	return sc.cfg
}

// GetLogger returns the logger
func (sc *ServiceContainer) GetLogger() *observability.Logger {
	return sc.logger
}

// Shutdown stops the worker and closes publishers and storage
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.cleanup(ctx)
}

// cleanup stops lifecycle services, then runs shutdown funcs in reverse order
func (sc *ServiceContainer) cleanup(ctx context.Context) error {
	var errs []error

	for name, service := range sc.services {
		if lifecycleService, ok := service.(interface{ Shutdown(context.Context) error }); ok {
			sc.logger.Info(ctx, "Shutting down service", map[string]interface{}{"service": name})
			if err := lifecycleService.Shutdown(ctx); err != nil {
				sc.logger.Error(ctx, "Failed to shutdown service", err, map[string]interface{}{"service": name})
				errs = append(errs, fmt.Errorf("service %s shutdown failed: %w", name, err))
			}
		}
	}

	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	sc.shutdownFuncs = nil

	if len(errs) > 0 {
		return contextutils.WrapError(errors.Join(errs...), "shutdown errors")
	}
	return nil
}
