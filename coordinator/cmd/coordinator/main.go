package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/devrev/pairdb/coordinator/internal/client"
	"github.com/devrev/pairdb/coordinator/internal/config"
	"github.com/devrev/pairdb/coordinator/internal/handler"
	"github.com/devrev/pairdb/coordinator/internal/health"
	"github.com/devrev/pairdb/coordinator/internal/metrics"
	"github.com/devrev/pairdb/coordinator/internal/service"
	"github.com/devrev/pairdb/coordinator/internal/store"
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/gossip"
	pb "github.com/devrev/pairdb/pkg/proto"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	// Initialize logger
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	selfAddr := cfg.Server.Addr()
	logger.Info("Starting PairDB Coordinator Service",
		zap.String("addr", selfAddr),
		zap.String("partner", cfg.Partner.Addr),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Bool("auto_replace", cfg.Replace.AutoReplace))

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Initialize seed store
	seeds, err := openSeedStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize seed store", zap.Error(err))
	}
	defer seeds.Close()
	logger.Info("Seed store initialized", zap.String("backend", cfg.Store.Backend))

	// Initialize clients
	pool := pb.NewConnPool(pb.PoolConfig{MaxMessageSize: cfg.Server.MaxMessageSize}, logger)
	defer pool.Close()

	nodes := client.NewStorageNodeClient(pool, cfg.Replace.RPCTimeout, logger)
	var partner service.PartnerClient
	if cfg.Partner.Addr != "" {
		partner = client.NewPartnerClient(cfg.Partner.Addr, pool, cfg.Replace.RPCTimeout)
	}

	// Initialize replace manager
	manager := service.NewManager(service.ManagerConfig{
		SelfAddr:              selfAddr,
		PartnerAddr:           cfg.Partner.Addr,
		AutoReplace:           cfg.Replace.AutoReplace,
		ReplaceDelaySteps:     cfg.Replace.DelaySteps,
		PartnerSyncSteps:      cfg.Replace.PartnerSyncSteps,
		KeepAliveTimeoutSteps: cfg.Replace.KeepAliveTimeoutSteps,
		StepInterval:          cfg.Replace.StepInterval,
		RPCTimeout:            cfg.Replace.RPCTimeout,
		BroadcastConcurrency:  cfg.Replace.BroadcastConcurrency,
	}, clock.New(), partner, nodes, seeds, m, logger)

	if err := manager.Restore(context.Background()); err != nil {
		logger.Warn("Failed to restore rings, starting empty", zap.Error(err))
	}
	manager.Start()

	// Optional gossip membership, in addition to keepalives
	var members *gossip.Service
	if cfg.Gossip.Enabled {
		members, err = gossip.New(cfg.Gossip, selfAddr,
			gossip.Meta{Role: pb.RoleCoordinator, RPCAddr: selfAddr},
			&membershipListener{manager: manager, logger: logger}, logger)
		if err != nil {
			logger.Fatal("Failed to start gossip", zap.Error(err))
		}
	}

	// Initialize handlers
	replaceHandler := handler.NewReplaceHandler(manager, logger)
	nodeHandler := handler.NewNodeHandler(manager, logger)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageSize),
		grpc.UnaryInterceptor(handler.MetricsInterceptor(m, logger)),
	)
	pb.RegisterCoordinatorServer(grpcServer, &unifiedHandler{
		ReplaceHandler: replaceHandler,
		NodeHandler:    nodeHandler,
	})

	logger.Info("gRPC services registered")

	// Start metrics server
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("Starting metrics server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Start health check server
	healthChecker := health.NewHealthChecker(seeds, manager, logger)
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health/live", healthChecker.LivenessHandler)
		mux.HandleFunc("/health/ready", healthChecker.ReadinessHandler)
		addr := fmt.Sprintf(":%d", cfg.Health.Port)
		logger.Info("Starting health check server", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Health check server failed", zap.Error(err))
		}
	}()

	// Start gRPC server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to create listener", zap.Error(err))
	}

	logger.Info("Starting gRPC server", zap.String("address", addr))

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- grpcServer.Serve(listener)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("gRPC server stop timeout, forcing shutdown")
		grpcServer.Stop()
	}

	manager.Stop()
	if members != nil {
		if err := members.Shutdown(); err != nil {
			logger.Warn("Gossip shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Coordinator service stopped")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func openSeedStore(cfg *config.Config, logger *zap.Logger) (store.SeedStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisSeedStore(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Store.Cluster,
			logger,
		)
	case "postgres":
		return store.NewPostgresSeedStore(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			cfg.Store.Cluster,
			logger,
		)
	default:
		return store.NewInMemorySeedStore(), nil
	}
}

// unifiedHandler combines all handlers into a single implementation
type unifiedHandler struct {
	*handler.ReplaceHandler
	*handler.NodeHandler
}

var _ pb.CoordinatorServer = (*unifiedHandler)(nil)

// membershipListener feeds gossip membership of data nodes into the manager
type membershipListener struct {
	manager *service.Manager
	logger  *zap.Logger
}

func (l *membershipListener) MemberJoined(meta gossip.Meta) {
	if meta.Role != pb.RoleStorageNode {
		return
	}
	l.manager.NodeJoined(meta.RPCAddr)
}

func (l *membershipListener) MemberLeft(meta gossip.Meta) {
	if meta.Role != pb.RoleStorageNode {
		return
	}
	l.logger.Info("Data node left gossip", zap.String("addr", meta.RPCAddr))
	l.manager.NodeLost(context.Background(), meta.RPCAddr)
}
