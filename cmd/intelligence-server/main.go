package main

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lead-intelligence/internal/adapters"
	"lead-intelligence/internal/archive"
	"lead-intelligence/internal/broadcast"
	"lead-intelligence/internal/cache"
	"lead-intelligence/internal/common/config"
	"lead-intelligence/internal/common/database"
	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/common/observability"
	"lead-intelligence/internal/intelligence"
	"lead-intelligence/internal/models"
	"lead-intelligence/internal/monitor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting lead intelligence server", map[string]interface{}{
		"name":        cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	// Shared cache tier. The pipeline can run without it, but a dead
	// Redis at boot usually means a misconfigured environment, so retry
	// then fail loudly.
	var redisClient *database.RedisClient
	err = retryWithBackoff(5, 2*time.Second, func() error {
		var rerr error
		redisClient, rerr = database.NewRedis(cfg.Database.Redis)
		return rerr
	}, log, "redis")
	if err != nil {
		log.Error("redis unavailable after retries, continuing L1-only", map[string]interface{}{
			"address": cfg.Database.Redis.Address,
			"error":   err,
		})
		redisClient = nil
	}

	var archiver *archive.AsyncArchiver
	var pgClient *database.PostgresClient
	if cfg.Archive.Enabled {
		err = retryWithBackoff(5, 2*time.Second, func() error {
			var perr error
			pgClient, perr = database.NewPostgres(cfg.Database.Postgres)
			return perr
		}, log, "postgres")
		if err != nil {
			log.Error("postgres unavailable, archival disabled", map[string]interface{}{
				"error": err,
			})
		} else {
			archiver = archive.NewAsyncArchiver(
				archive.NewPostgresArchiver(pgClient, cfg.Archive.Table),
				cfg.Pipeline.ArchiveBufferSize,
				log,
			)
		}
	}

	obs := observability.New(cfg.App.Name)

	breakers := monitor.NewBreakerSet(monitor.BreakerOptions{
		MaxFailures: cfg.Breaker.MaxFailures,
		Cooldown:    config.GetDuration(cfg.Breaker.Cooldown),
	}, log)
	perf := monitor.NewPerformanceMonitor(breakers)

	multiCache := cache.New(cache.Options{
		L1TTL:           config.GetDuration(cfg.Cache.L1TTL),
		L2TTL:           config.GetDuration(cfg.Cache.L2TTL),
		FreshnessWindow: config.GetDuration(cfg.Cache.FreshnessWindow),
		L1MaxEntries:    cfg.Cache.L1MaxEntries,
	}, redisClient, log)

	registry := broadcast.NewRegistry(log)
	fanout := broadcast.NewFanout(
		registry,
		config.GetDuration(cfg.Broadcast.SendTimeout),
		cfg.Broadcast.MaxConcurrency,
		log,
	)

	coordinator := intelligence.NewCoordinator(
		adapters.Set{
			Scoring:  adapters.NewHTTPScoringAdapter(cfg.Adapters.Scoring),
			Churn:    adapters.NewHTTPChurnAdapter(cfg.Adapters.Churn),
			Matching: adapters.NewHTTPMatchingAdapter(cfg.Adapters.Matching),
		},
		breakers,
		perf,
		intelligence.CoordinatorOptions{
			HardCeiling: config.GetDuration(cfg.Pipeline.HardCeiling),
			PerOpTimeout: map[models.OperationKind]time.Duration{
				models.OpScoring:  config.GetDuration(cfg.Adapters.Scoring.Timeout),
				models.OpChurn:    config.GetDuration(cfg.Adapters.Churn.Timeout),
				models.OpMatching: config.GetDuration(cfg.Adapters.Matching.Timeout),
			},
			EngagementDecay: time.Duration(cfg.Pipeline.EngagementDecayMin) * time.Minute,
		},
		log,
	)

	queue := intelligence.NewPriorityQueue(cfg.Pipeline.QueueCapacity)

	var busArchiver intelligence.Archiver
	if archiver != nil {
		busArchiver = archiver
	}
	bus := intelligence.NewBus(
		queue,
		coordinator,
		multiCache,
		fanout,
		registry,
		busArchiver,
		breakers,
		perf,
		obs,
		intelligence.BusOptions{
			WorkerCount:        cfg.Pipeline.WorkerCount,
			FreshnessWindow:    config.GetDuration(cfg.Cache.FreshnessWindow),
			DegradedMultiplier: cfg.Pipeline.DegradedFreshness,
			MetricsInterval:    config.GetDuration(cfg.Pipeline.MetricsInterval),
			SoftBudget:         config.GetDuration(cfg.Pipeline.SoftBudget),
		},
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start(ctx)

	metricsServer := startMetricsServer(cfg.App.MetricsAddr, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", map[string]interface{}{"signal": sig.String()})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	bus.Stop()
	multiCache.Close()
	if archiver != nil {
		archiver.Close()
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	obs.Shutdown()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if pgClient != nil {
		_ = pgClient.Close()
	}

	log.Info("shutdown complete", nil)
}

func startMetricsServer(addr string, log logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("metrics server listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", map[string]interface{}{"error": err})
		}
	}()
	return srv
}

func retryWithBackoff(attempts int, initial time.Duration, fn func() error, log logger.Logger, name string) error {
	delay := initial
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts {
			log.Warn("connection attempt failed, retrying", map[string]interface{}{
				"target":  name,
				"attempt": i,
				"delay":   delay.String(),
				"error":   err,
			})
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
