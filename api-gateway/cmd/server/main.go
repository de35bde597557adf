// Package main provides the entry point for the API Gateway service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/pairdb/api-gateway/internal/config"
	"github.com/devrev/pairdb/api-gateway/internal/grpc"
	"github.com/devrev/pairdb/api-gateway/internal/health"
	"github.com/devrev/pairdb/api-gateway/internal/metrics"
	"github.com/devrev/pairdb/api-gateway/internal/router"
	"github.com/devrev/pairdb/api-gateway/internal/server"
	"github.com/devrev/pairdb/pkg/clock"
	pb "github.com/devrev/pairdb/pkg/proto"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting API Gateway",
		zap.Int("server_port", cfg.Server.Port),
		zap.Strings("coordinator_endpoints", cfg.Coordinator.Endpoints),
		zap.Int("replication_factor", cfg.Router.ReplicationFactor),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	pool := pb.NewConnPool(pb.PoolConfig{
		KeepaliveTime:    cfg.Coordinator.KeepaliveTime,
		KeepaliveTimeout: cfg.Coordinator.KeepaliveTimeout,
		MaxMessageSize:   cfg.Coordinator.MaxMessageSize,
	}, logger)
	defer pool.Close()

	coordinator, err := grpc.NewCoordinatorClient(cfg.Coordinator, pool, clock.New(), m, logger)
	if err != nil {
		logger.Fatal("failed to create coordinator client", zap.Error(err))
	}
	storage := grpc.NewStorageClient(pool, cfg.Storage.Timeout, m)

	keyRouter := router.New(router.Config{
		ReplicationFactor: cfg.Router.ReplicationFactor,
		MaxRetries:        cfg.Router.MaxRetries,
		RenewThreshold:    cfg.Router.RenewThreshold,
		RenewInterval:     cfg.Router.RenewInterval,
	}, coordinator, m, logger)
	keyRouter.Start()
	defer keyRouter.Stop()

	healthCheck := health.NewHealthCheck(keyRouter, coordinator, 5*time.Second, logger)
	healthCheck.Start()
	defer healthCheck.Stop()
	m.SetHealthStatus(true)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := server.NewServer(cfg, keyRouter, storage, healthCheck, m, logger)
	httpServer.SetupRoutes()
	if rl := httpServer.RateLimiter(); rl != nil {
		go rl.RunSweeper(ctx, time.Minute)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")
	m.SetHealthStatus(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("API Gateway shutdown complete")
}

// initLogger initializes the zap logger.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{output}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
