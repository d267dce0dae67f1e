package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-engine/internal/channels"
	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/database"
	"github.com/alexnthnz/notification-engine/internal/dispatch"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
	"github.com/alexnthnz/notification-engine/internal/queue"
)

// The dispatch worker consumes dispatch jobs published by the API scheduler
// and runs the attempts. Live in-app sessions only exist in API processes, so
// the worker's hub records in-app delivery without pushing.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.Kafka.Enabled {
		logger.Fatal("Dispatch worker requires kafka.enabled")
	}
	logger.Info("Starting Dispatch Worker", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	postgres, err := database.NewPostgresDB(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()
	go postgres.ReportPoolStats(ctx, metrics, 15*time.Second)

	store := database.NewPostgresStore(postgres.DB, logger)

	// Settings lookups go through the cache and stats are invalidated after
	// each attempt, so the worker shares the API's Redis when available
	var serviceOpts []notification.ServiceOption
	if cfg.Redis.Enabled {
		redis, err := database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache", zap.Error(err))
		} else {
			defer redis.Close()
			serviceOpts = append(serviceOpts, notification.WithCache(redis, cfg.Cache.StatsTTL, cfg.Cache.SettingsTTL))
		}
	}
	service := notification.NewService(store, logger, serviceOpts...)

	hub := channels.NewHub(cfg.WebSocket, logger, metrics)
	defer hub.Close()
	manager, err := channels.NewChannelManagerFromConfig(ctx, cfg, hub, logger, metrics)
	if err != nil {
		logger.Fatal("Failed to initialize channels", zap.Error(err))
	}

	engine := dispatch.NewEngine(store, service, manager, logger, metrics, dispatch.Options{
		MaxRetries:      cfg.Dispatch.MaxRetries,
		Lease:           cfg.Dispatch.Lease,
		SendConcurrency: cfg.Dispatch.SendConcurrency,
	})

	pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, engine.HandleJob, logger, metrics)
	pool.Start(ctx)

	consumer := queue.NewConsumer(cfg.Kafka, logger)
	defer consumer.Close()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	logger.Info("Consuming dispatch jobs", zap.String("group_id", cfg.Kafka.GroupID), zap.Int("workers", cfg.Dispatch.Workers))
	if err := consumer.Consume(ctx, pool); err != nil {
		logger.Error("Consumer stopped", zap.Error(err))
	}

	logger.Info("Shutting down dispatch worker...")
	stop()
	pool.Stop()
	logger.Info("Dispatch worker exited")
}
