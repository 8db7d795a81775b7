package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gotrs-io/sla-engine/internal/api"
	"github.com/gotrs-io/sla-engine/internal/config"
	"github.com/gotrs-io/sla-engine/internal/notifications"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/services/businesshours"
	"github.com/gotrs-io/sla-engine/internal/services/sla"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}
	if err := config.Load(configPath); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.Get()

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	// Storage backend
	var (
		templates repository.TemplateStore
		trackers  repository.TrackerStore
	)
	switch cfg.Database.Type {
	case "postgres":
		db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		templates = repository.NewSQLTemplateStore(db)
		trackers = repository.NewSQLTrackerStore(db)
		logger.Printf("Connected to postgres at %s:%d", cfg.Database.Host, cfg.Database.Port)
	case "memory", "":
		templates = repository.NewMemoryTemplateStore()
		trackers = repository.NewMemoryTrackerStore()
		logger.Printf("Using in-memory storage")
	default:
		log.Fatalf("Unknown database type %q", cfg.Database.Type)
	}

	// Business hours calendars
	calendarConfigs := make(map[string]businesshours.Config)
	for name, cc := range cfg.Calendars {
		bc, err := businesshours.LoadConfigFile(cc.File)
		if err != nil {
			log.Fatalf("Failed to load calendar %q from %s: %v", name, cc.File, err)
		}
		calendarConfigs[name] = bc
	}
	calendars, err := businesshours.NewService(calendarConfigs)
	if err != nil {
		log.Fatalf("Failed to build calendars: %v", err)
	}

	// Services
	registry := sla.NewRegistry(templates, logger)
	ctx := context.Background()
	if err := registry.LoadTemplates(ctx); err != nil {
		log.Fatalf("Failed to load SLA templates: %v", err)
	}

	sink := notifications.NewLogSink(logger)
	lifecycle := sla.NewLifecycle(registry, trackers, calendars, nil, logger)
	reporter := sla.NewReporter(trackers, nil)

	engineOpts := []sla.EngineOption{
		sla.WithLogger(logger),
		sla.WithMetricsRegisterer(prometheus.DefaultRegisterer),
	}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		engineOpts = append(engineOpts, sla.WithCycleLock(
			sla.NewRedisCycleLock(rdb, cfg.Redis.Lock.Key, cfg.Redis.Lock.TTL)))
		logger.Printf("Scan lock coordinated through redis at %s", cfg.Redis.GetRedisAddr())
	}

	engine, err := sla.NewEngine(registry, trackers, sink, sla.Config{
		CheckInterval:             cfg.Engine.CheckInterval,
		MaxConcurrentProcessing:   cfg.Engine.MaxConcurrentProcessing,
		EnablePredictiveAnalytics: cfg.Engine.EnablePredictiveAnalytics,
		StorageTimeout:            cfg.Engine.StorageTimeout,
		ScanHorizon:               cfg.Engine.ScanHorizon,
		ScanBatchLimit:            cfg.Engine.ScanBatchLimit,
		DegradedErrorThreshold:    cfg.Engine.DegradedErrorThreshold,
		ErrorWindow:               cfg.Engine.ErrorWindow,
	}, engineOpts...)
	if err != nil {
		log.Fatalf("Invalid engine configuration: %v", err)
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// HTTP surface
	router := gin.New()
	router.Use(gin.Recovery())
	if !cfg.App.IsProduction() {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.NewHandlers(registry, lifecycle, engine, reporter, templates, trackers).Register(router)

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Printf("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Forced shutdown: %v\n", err)
	}
	engine.Stop()

	// Give in-flight notifications a moment to drain.
	time.Sleep(100 * time.Millisecond)
	logger.Printf("Stopped")
}
