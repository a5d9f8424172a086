package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/dlr"
	"github.com/thrillee/aegisrouter/internal/logging"
	apihandlers "github.com/thrillee/aegisrouter/internal/managerapi/handlers"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/router"
	"github.com/thrillee/aegisrouter/internal/smppclient"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/internal/store"
	"github.com/thrillee/aegisrouter/internal/thrower"
	"github.com/thrillee/aegisrouter/internal/workers"
)

const persistQuotasJob = "persist-quotas"

func main() {
	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Setup Logging ---
	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("Logging initialized", slog.String("level", logging.ParseLevel(cfg.LogLevel).String()))

	// --- Queue Broker ---
	broker, err := queue.New(appCtx, cfg.AMQP)
	if err != nil {
		slog.Error("Unable to connect to the queue broker", slog.Any("error", err))
		os.Exit(1)
	}
	defer broker.Close()

	// --- DLR Store ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(appCtx).Err(); err != nil {
		slog.Error("Failed to ping redis", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
		os.Exit(1)
	}
	dlrStore := dlr.NewRedisStore(redisClient)
	lookup := dlr.NewLookup(dlrStore, broker)

	// --- Profile Store ---
	backend, err := store.New(appCtx, cfg.Store)
	if err != nil {
		slog.Error("Unable to open the profile store", slog.String("backend", cfg.Store.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	// --- Core Services ---
	registry := stats.NewRegistry()
	throttle := stats.NewThrottle(stats.DefaultThrottleTTL)

	connectors := smppclient.NewManager(smppclient.ManagerOptions{
		Connector: smppclient.ConnectorOptions{
			Binder:              smppclient.NewGosmppBinder(logger),
			Stats:               registry,
			Throttle:            throttle,
			Logger:              logger,
			LogDir:              cfg.SMPPClient.LogDir,
			UnbindTimeout:       cfg.SMPPClient.UnbindTimeout,
			WindowSize:          cfg.SMPPClient.WindowSize,
			LongContentMaxParts: cfg.SMPPClient.LongContentMaxParts,
			LongContentSplit:    cfg.SMPPClient.LongContentSplit,
		},
		Broker:       broker,
		Lookup:       lookup,
		DLRStore:     dlrStore,
		Backend:      backend,
		RestartDelay: cfg.SMPPClient.RestartDelay,
		Logger:       logger,
	})

	routerSvc := router.NewService(router.Options{
		Config:     cfg.Router,
		Broker:     broker,
		Backend:    backend,
		Stats:      registry,
		Connectors: connectors,
		Logger:     logger,
	})

	if cfg.Store.LoadOnStart {
		loadProfile(appCtx, cfg.Store.Profile, routerSvc, connectors)
	}

	if err := routerSvc.Start(appCtx); err != nil {
		slog.Error("Failed to start router consumers", slog.Any("error", err))
		os.Exit(1)
	}

	throwers := thrower.New(thrower.Options{
		Config: cfg.Thrower,
		Broker: broker,
		Stats:  registry,
		Logger: logger,
	})
	if err := throwers.Start(appCtx); err != nil {
		slog.Error("Failed to start throwers", slog.Any("error", err))
		os.Exit(1)
	}

	scheduler := workers.NewScheduler(workers.DefaultRunTimeout)
	if err := scheduler.Schedule(persistQuotasJob, cfg.Router.PersistenceSchedule, routerSvc.PersistQuotasJob(cfg.Store.Profile)); err != nil {
		slog.Error("Failed to schedule quota persistence", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler.Start()

	// --- Management API ---
	if logging.ParseLevel(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	apihandlers.SetupRoutes(engine, apihandlers.Deps{
		Config:     cfg.ManagerAPI,
		Router:     routerSvc,
		Connectors: connectors,
		Stats:      registry,
		Profile:    cfg.Store.Profile,
	})
	apiServer := &http.Server{
		Addr:         cfg.ManagerAPI.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ManagerAPI.ReadTimeout,
		WriteTimeout: cfg.ManagerAPI.WriteTimeout,
		IdleTimeout:  cfg.ManagerAPI.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	// --- Metrics ---
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		stats.NewCollector(cfg.Metrics.Namespace, registry, throttle),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// --- Start Servers ---
	var wg sync.WaitGroup
	for name, srv := range map[string]*http.Server{"Management API": apiServer, "Metrics": metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting "+name+" server", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error(name+" server failed", slog.Any("error", err))
				rootCancel()
			}
		}()
	}

	// --- Wait for Shutdown Signal ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	for name, srv := range map[string]*http.Server{"Management API": apiServer, "Metrics": metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Error during "+name+" server shutdown", slog.Any("error", err))
		}
	}
	wg.Wait()
	slog.Info("Servers stopped accepting new requests.")

	scheduler.Stop(shutdownCtx)
	routerSvc.Stop()
	throwers.Stop()
	connectors.StopAll(shutdownCtx)

	// Quotas consumed since the last tick are kept.
	if _, err := routerSvc.PersistQuotasJob(cfg.Store.Profile)(shutdownCtx); err != nil && !errors.Is(err, workers.ErrNothingToDo) {
		slog.Warn("Final quota persistence failed", slog.Any("error", err))
	}
	slog.Info("Application gracefully stopped.")
}

// loadProfile restores connectors first so routes referencing them validate.
// A profile that was never persisted is not an error on first start.
func loadProfile(ctx context.Context, profile string, svc *router.Service, m *smppclient.Manager) {
	ctx = logging.ContextWithProfile(ctx, profile)
	if err := m.Load(ctx, profile); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.ErrorContext(ctx, "Failed to load connectors", slog.Any("error", err))
			os.Exit(1)
		}
		slog.InfoContext(ctx, "No persisted connectors for profile")
	}
	if err := svc.Load(ctx, profile, router.ScopeAll); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.ErrorContext(ctx, "Failed to load router configuration", slog.Any("error", err))
			os.Exit(1)
		}
		slog.InfoContext(ctx, "No persisted router configuration for profile")
	}
}
