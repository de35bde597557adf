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
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/gossip"
	pb "github.com/devrev/pairdb/pkg/proto"
	"github.com/devrev/pairdb/storage-node/internal/client"
	"github.com/devrev/pairdb/storage-node/internal/config"
	"github.com/devrev/pairdb/storage-node/internal/handler"
	"github.com/devrev/pairdb/storage-node/internal/health"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
	"github.com/devrev/pairdb/storage-node/internal/server"
	"github.com/devrev/pairdb/storage-node/internal/service"
	"github.com/devrev/pairdb/storage-node/internal/transfer"
	"github.com/devrev/pairdb/storage-node/internal/util/workerpool"
	"github.com/devrev/pairdb/storage-node/internal/validation"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	selfAddr := cfg.Server.Addr()
	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("addr", selfAddr),
		zap.Strings("coordinators", cfg.Coordinator.Addrs),
		zap.Int("replication_factor", cfg.Replication.Factor))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry, cfg.Server.NodeID)

	clk := clock.New()
	pool := pb.NewConnPool(pb.PoolConfig{MaxMessageSize: cfg.Server.MaxMessageSize}, logger)
	defer pool.Close()

	// Initialize services
	memTableSvc := service.NewMemTableService(
		&service.MemTableConfig{
			MinRetention: cfg.Tombstone.MinRetention,
			MaxRetention: cfg.Tombstone.MaxRetention,
			MemoryBudget: cfg.Tombstone.MemoryBudget,
			GCInterval:   cfg.Tombstone.GCInterval,
		},
		logger,
	)
	go memTableSvc.Run(ctx, m.RecordTombstoneGC)

	transferPool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "transfer",
		MaxWorkers: cfg.Transfer.Workers,
		QueueSize:  cfg.Transfer.QueueSize,
		OnTaskDone: m.PoolObserver("transfer"),
		Logger:     logger,
	})
	forwardPool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "forward",
		MaxWorkers: cfg.Server.MaxConnections / 10,
		QueueSize:  cfg.Server.MaxConnections,
		OnTaskDone: m.PoolObserver("forward"),
		Logger:     logger,
	})

	coordClient := client.NewCoordinatorClient(cfg.Coordinator.Addrs, selfAddr, pool, cfg.Coordinator.RPCTimeout, clk, m, logger)
	peerClient := client.NewPeerClient(pool, cfg.Replication.ForwardTimeout)
	transferClient := transfer.NewClient(transfer.ClientConfig{
		Compression: cfg.Transfer.Compression,
		DialTimeout: cfg.Transfer.DialTimeout,
		PortOffset:  cfg.Transfer.PortOffset,
	}, m, logger)

	participant := service.NewParticipant(service.ParticipantConfig{
		SelfAddr:          selfAddr,
		ReplicationFactor: cfg.Replication.Factor,
		BatchSize:         cfg.Transfer.BatchSize,
		SendTimeout:       cfg.Transfer.SendTimeout,
		MaxAttempts:       cfg.Transfer.MaxAttempts,
		RetryBackoff:      cfg.Transfer.RetryBackoff,
		AckTimeout:        cfg.Coordinator.RPCTimeout,
		AckRetries:        cfg.Coordinator.MaxRetries,
		AckRetryInterval:  cfg.Coordinator.RetryInterval,
		RefreshInterval:   cfg.Coordinator.RetryInterval,
	}, memTableSvc, transferClient, coordClient, transferPool, clk, m, logger)

	storageSvc := service.NewStorageService(
		service.StorageConfig{
			ForwardWrites:  cfg.Replication.ForwardWrites,
			ForwardTimeout: cfg.Replication.ForwardTimeout,
		},
		memTableSvc,
		participant,
		peerClient,
		forwardPool,
		validation.NewValidatorWithLimits(cfg.Limits.MaxKeySize, cfg.Limits.MaxValueSize),
		clk,
		m,
		logger,
	)

	// Start the bulk transfer listener before announcing the node
	transferServer := transfer.NewServer(transfer.ServerConfig{
		Addr:      cfg.TransferAddr(),
		IOTimeout: cfg.Transfer.IOTimeout,
	}, participant.Sink(), m, logger)
	if err := transferServer.Listen(); err != nil {
		logger.Fatal("Failed to start transfer listener", zap.Error(err))
	}
	go func() {
		if err := transferServer.Serve(); err != nil {
			logger.Error("Transfer server stopped", zap.Error(err))
		}
	}()

	// Optional gossip membership
	var members *gossip.Service
	if cfg.Gossip.Enabled {
		members, err = gossip.New(cfg.Gossip, selfAddr,
			gossip.Meta{Role: pb.RoleStorageNode, RPCAddr: selfAddr},
			&peerListener{pool: pool, logger: logger}, logger)
		if err != nil {
			logger.Fatal("Failed to start gossip", zap.Error(err))
		}
		logger.Info("Gossip service initialized")
	}

	// Initialize handlers
	storageHandler := handler.NewStorageHandler(storageSvc, participant, clk, logger)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)),
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageSize),
		grpc.UnaryInterceptor(handler.MetricsInterceptor(m, logger)),
	)
	pb.RegisterStorageNodeServer(grpcServer, storageHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- grpcServer.Serve(listener)
	}()
	logger.Info("Storage node service starting",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("address", addr),
		zap.String("transfer_address", transferServer.Addr()))

	// Join the cluster: keepalives announce the node, then pull the rings
	go coordClient.RunKeepAlive(ctx, cfg.Coordinator.KeepAliveInterval)
	participant.Start()

	// Start metrics server
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port:     cfg.Metrics.Port,
			Path:     cfg.Metrics.Path,
			Interval: cfg.Metrics.SampleInterval,
		}, registry, m, memTableSvc, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}

	// Start health check server
	healthChecker := health.NewHealthChecker(health.HealthCheckConfig{
		NodeID:         cfg.Server.NodeID,
		Addr:           selfAddr,
		Interval:       cfg.Health.CheckInterval,
		ContactTimeout: cfg.Health.ContactTimeout,
		TombstoneLimit: cfg.Tombstone.MemoryBudget,
		MemoryLimit:    cfg.Health.MemoryLimit,
	}, participant, coordClient, memTableSvc, logger)
	go healthChecker.Start(ctx)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Health.Port)
		logger.Info("Starting health check server", zap.String("address", addr))
		if err := http.ListenAndServe(addr, healthChecker.Handler()); err != nil {
			logger.Error("Health check server failed", zap.Error(err))
		}
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
	healthChecker.SetReadiness(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

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

	cancel()
	participant.Stop()
	if err := transferServer.Close(); err != nil {
		logger.Warn("Transfer server close failed", zap.Error(err))
	}
	if err := transferPool.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("Transfer pool stop failed", zap.Error(err))
	}
	if err := forwardPool.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("Forward pool stop failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Warn("Metrics server stop failed", zap.Error(err))
		}
	}
	if members != nil {
		if err := members.Shutdown(); err != nil {
			logger.Warn("Gossip shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Storage node stopped")
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
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

// peerListener drops pooled connections to data nodes that left gossip
type peerListener struct {
	pool   *pb.ConnPool
	logger *zap.Logger
}

func (l *peerListener) MemberJoined(meta gossip.Meta) {
	l.logger.Debug("Member joined", zap.String("addr", meta.RPCAddr), zap.String("role", string(meta.Role)))
}

func (l *peerListener) MemberLeft(meta gossip.Meta) {
	l.logger.Info("Member left", zap.String("addr", meta.RPCAddr), zap.String("role", string(meta.Role)))
	l.pool.Drop(meta.RPCAddr)
}
