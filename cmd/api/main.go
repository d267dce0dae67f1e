package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/alexnthnz/notification-engine/api/grpc"
	"github.com/alexnthnz/notification-engine/api/rest"
	"github.com/alexnthnz/notification-engine/internal/channels"
	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/database"
	"github.com/alexnthnz/notification-engine/internal/dispatch"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
	"github.com/alexnthnz/notification-engine/internal/queue"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Notification API Service", zap.String("config_file", cfg.ConfigFile))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize metrics
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	// Connect to PostgreSQL
	postgres, err := database.NewPostgresDB(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.InitSchema(ctx); err != nil {
		logger.Fatal("Failed to initialize database schema", zap.Error(err))
	}
	go postgres.ReportPoolStats(ctx, metrics, 15*time.Second)
	logger.Info("Database connected and schema initialized")

	store := database.NewPostgresStore(postgres.DB, logger)

	// Redis caches stats and settings; without it every read goes to PostgreSQL
	var serviceOpts []notification.ServiceOption
	if cfg.Redis.Enabled {
		redis, err := database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache", zap.Error(err))
		} else {
			defer redis.Close()
			serviceOpts = append(serviceOpts, notification.WithCache(redis, cfg.Cache.StatsTTL, cfg.Cache.SettingsTTL))
			logger.Info("Redis connected")
		}
	}
	service := notification.NewService(store, logger, serviceOpts...)

	// Initialize channels
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

	// Due and retryable notifications go to Kafka when enabled, otherwise to
	// the in-process worker pool
	var enqueuer dispatch.Enqueuer
	if cfg.Kafka.Enabled {
		producer := queue.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		enqueuer = producer
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, engine.HandleJob, logger, metrics)
		pool.Start(ctx)
		defer pool.Stop()
		enqueuer = pool
		logger.Info("Worker pool started", zap.Int("workers", cfg.Dispatch.Workers))
	}

	scheduler := dispatch.NewScheduler(store, enqueuer, cfg.Dispatch.ScanInterval, cfg.Dispatch.RetryBackoff, cfg.Dispatch.ScanBatch, logger)
	go scheduler.Run(ctx)

	// REST API
	handler := rest.NewHandler(engine, service, hub, metrics, logger, cfg.Auth.UserHeader)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// gRPC API
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryInterceptor(logger, metrics)))
	grpcapi.RegisterNotificationServiceServer(grpcServer, grpcapi.NewServer(engine, service, logger))
	grpcAddr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.String("addr", grpcAddr), zap.Error(err))
	}
	go func() {
		logger.Info("Starting gRPC server", zap.String("addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Metrics server
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("Starting metrics server", zap.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server exited")
}
