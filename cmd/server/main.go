// Package main is the entry point for the lexcache management server: the
// completion cache store plus its warmup, invalidation, retry, and monitor
// loops behind an admin HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seolha-lab/lexcache/internal/api"
	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/config"
	"github.com/seolha-lab/lexcache/internal/invalidation"
	"github.com/seolha-lab/lexcache/internal/metrics"
	"github.com/seolha-lab/lexcache/internal/monitor"
	"github.com/seolha-lab/lexcache/internal/observability"
	"github.com/seolha-lab/lexcache/internal/provider"
	"github.com/seolha-lab/lexcache/internal/retry"
	"github.com/seolha-lab/lexcache/internal/usage"
	"github.com/seolha-lab/lexcache/internal/warmup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := observability.NewLogger(observability.LoggerConfig{
		Output:     os.Stdout,
		JSONFormat: true,
	})

	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format == "json",
	})
	logger.Info("starting lexcache", "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	// Tracing
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// AI completion provider
	var client provider.Client
	if cfg.Provider.UseStub {
		client = provider.NewStubClient(cfg.Provider.Model)
	} else {
		httpClient, err := provider.NewHTTPClient(provider.HTTPConfig{
			Endpoint: cfg.Provider.Endpoint,
			APIKey:   cfg.Provider.APIKey,
			Model:    cfg.Provider.Model,
			Timeout:  cfg.Provider.Timeout,
		})
		if err != nil {
			logger.Error("failed to build provider client", "error", err)
			os.Exit(1)
		}
		client = httpClient
		logger.Info("http provider enabled", "endpoint", cfg.Provider.Endpoint, "model", cfg.Provider.Model)
	}
	if cfg.Provider.RPM > 0 {
		client = provider.NewRateLimitedClient(client, cfg.Provider.RPM, cfg.Provider.Burst)
	}

	// Optional durable backing
	var backing cache.Backing
	if cfg.Redis.Enabled {
		rb, err := cache.NewRedisBacking(cache.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Namespace:    cfg.Redis.Namespace,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn("redis backing unavailable, running memory-only", "error", err)
		} else {
			backing = rb
			logger.Info("redis backing enabled", "addr", cfg.Redis.Addr)
		}
	}

	tracker := usage.NewTracker(7 * 24 * time.Hour)

	store := cache.NewStore(cache.StoreConfig{
		MaxBytes:             cfg.Cache.MaxBytes,
		MaxEntryBytes:        cfg.Cache.MaxEntryBytes,
		DefaultTTL:           cfg.Cache.DefaultTTL,
		CompressionThreshold: cfg.Cache.CompressionThreshold,
		SweepInterval:        cfg.Cache.SweepInterval,
		Client:               client,
		Temperature:          cfg.Provider.Temperature,
		MaxTokens:            cfg.Provider.MaxTokens,
		Backing:              backing,
		Usage:                tracker,
		Logger:               logger,
		Tracer:               tp.Tracer(),
	})

	scheduler := warmup.NewScheduler(warmup.SchedulerConfig{
		Store:            store,
		Activity:         tracker,
		Concurrency:      cfg.Warmup.Concurrency,
		MaxAttempts:      cfg.Warmup.MaxAttempts,
		WarmTTL:          cfg.Warmup.WarmTTL,
		DueCheckInterval: cfg.Warmup.DueCheckInterval,
		DrainInterval:    cfg.Warmup.DrainInterval,
		Logger:           logger,
	})

	engine := invalidation.NewEngine(invalidation.EngineConfig{
		Cache:     store,
		QueueSize: cfg.Invalidation.QueueSize,
		Logger:    logger,
	})

	queue := retry.NewQueue(retry.QueueConfig{
		MaxConcurrent:    cfg.Retry.MaxConcurrent,
		BaseDelay:        cfg.Retry.BaseDelay,
		Multiplier:       cfg.Retry.BackoffMultiplier,
		MaxDelay:         cfg.Retry.MaxDelay,
		DispatchInterval: cfg.Retry.DispatchInterval,
		CleanupInterval:  cfg.Retry.CleanupInterval,
		CompletedGrace:   cfg.Retry.CompletedGrace,
		FailedRetention:  cfg.Retry.Retention,
		Logger:           logger,
	})
	registerRetryExecutors(queue, store, cfg, logger)

	mon := monitor.NewMonitor(monitor.MonitorConfig{
		Cache:  store,
		Warmup: scheduler,
		Retry:  queue,
		Thresholds: monitor.Thresholds{
			MinHitRate:     cfg.Monitor.MinHitRate,
			MaxFailedJobs:  int64(cfg.Monitor.MaxFailedJobs),
			MaxPendingJobs: cfg.Monitor.MaxPendingJobs,
			MinSampleSize:  int64(cfg.Monitor.MinSampleSize),
		},
		Interval: cfg.Monitor.EvaluateInterval,
		Logger:   logger,
	})

	// Runtime retuning on config reload.
	cfgManager.OnChange(func(next *config.Config) {
		store.SetMaxBytes(next.Cache.MaxBytes)
		mon.UpdateThresholds(monitor.Thresholds{
			MinHitRate:     next.Monitor.MinHitRate,
			MaxFailedJobs:  int64(next.Monitor.MaxFailedJobs),
			MaxPendingJobs: next.Monitor.MaxPendingJobs,
			MinSampleSize:  int64(next.Monitor.MinSampleSize),
		})
	})

	// Background loops.
	scheduler.Start(ctx)
	engine.Start()
	queue.Start(ctx)
	mon.Start()
	stopTimeTicks := startTimeTicks(ctx, engine)

	// HTTP surface.
	handler := api.NewManagementHandler(store, scheduler, engine, queue, mon, logger)
	mux := buildMux(cfg, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      metrics.Middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	stopTimeTicks()
	scheduler.Stop()
	engine.Stop()
	queue.Stop()
	mon.Stop()
	if err := store.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}
	_ = cfgManager.Close()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}
	logger.Info("stopped")
}

// startTimeTicks feeds the invalidation engine the periodic ticks its
// time-based trigger conditions evaluate against.
func startTimeTicks(ctx context.Context, engine *invalidation.Engine) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				engine.TriggerEvent(invalidation.Event{
					Type:   invalidation.EventTimeTick,
					Source: "supervisor",
				})
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
