// Package grpc provides the gRPC clients the API Gateway uses to reach the
// coordinators and the storage nodes.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/api-gateway/internal/config"
	"github.com/devrev/pairdb/api-gateway/internal/metrics"
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// ErrNoCoordinator is returned when no coordinator answered a request.
var ErrNoCoordinator = errors.New("no coordinator reachable")

// CoordinatorClient fetches the hash space from the coordinators.
type CoordinatorClient struct {
	pool      *pb.ConnPool
	cfg       config.CoordinatorConfig
	clock     *clock.LogicalClock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	mu        sync.RWMutex
	isHealthy bool
	preferred int
}

// NewCoordinatorClient creates a client for the configured coordinator endpoints.
func NewCoordinatorClient(cfg config.CoordinatorConfig, pool *pb.ConnPool, clk *clock.LogicalClock, m *metrics.Metrics, logger *zap.Logger) (*CoordinatorClient, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no coordinator endpoints provided")
	}
	return &CoordinatorClient{
		pool:    pool,
		cfg:     cfg,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}, nil
}

// IsHealthy reports whether the last hash space request succeeded.
func (c *CoordinatorClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

func (c *CoordinatorClient) setHealthy(healthy bool, endpoint int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isHealthy = healthy
	if healthy {
		c.preferred = endpoint
	}
}

// HealthCheck asks a coordinator for the hash space and discards the answer.
func (c *CoordinatorClient) HealthCheck(ctx context.Context) error {
	_, _, err := c.FetchHashSpace(ctx)
	return err
}

// FetchHashSpace returns the write and read ring seeds. Endpoints are tried
// in turn starting with the last one that answered.
func (c *CoordinatorClient) FetchHashSpace(ctx context.Context) (hashring.Seed, hashring.Seed, error) {
	c.mu.RLock()
	first := c.preferred
	c.mu.RUnlock()

	var errs []error
	for i := range c.cfg.Endpoints {
		idx := (first + i) % len(c.cfg.Endpoints)
		addr := c.cfg.Endpoints[idx]

		var resp *pb.HashSpaceResponse
		err := c.withRetry(ctx, func() error {
			conn, err := c.pool.Get(addr)
			if err != nil {
				return err
			}
			start := time.Now()
			resp, err = pb.NewCoordinatorClient(conn, c.cfg.Timeout).
				HashSpaceRequest(ctx, &pb.HashSpaceRequest{Clock: c.clock.Increment()})
			observe(c.metrics, "HashSpaceRequest", start, err)
			return err
		})
		if err == nil {
			c.clock.Update(resp.Clock)
			c.setHealthy(true, idx)
			return resp.Write, resp.Read, nil
		}

		c.logger.Warn("hash space request failed",
			zap.String("coordinator", addr),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		if ctx.Err() != nil {
			break
		}
	}

	c.setHealthy(false, 0)
	return hashring.Seed{}, hashring.Seed{}, fmt.Errorf("%w: %w", ErrNoCoordinator, errors.Join(errs...))
}

// withRetry wraps a gRPC call with retry logic.
func (c *CoordinatorClient) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := c.cfg.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !pb.IsRetryable(err) {
			return err
		}

		c.logger.Debug("gRPC call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return lastErr
}

// StorageClient issues data path calls to individual storage nodes.
type StorageClient struct {
	pool    *pb.ConnPool
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewStorageClient creates a storage node client.
func NewStorageClient(pool *pb.ConnPool, timeout time.Duration, m *metrics.Metrics) *StorageClient {
	return &StorageClient{pool: pool, timeout: timeout, metrics: m}
}

// Get reads key from the node at addr.
func (c *StorageClient) Get(ctx context.Context, addr string, key []byte) (*pb.GetResponse, error) {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := pb.NewStorageNodeClient(conn, c.timeout).Get(ctx, &pb.GetRequest{Key: key})
	observe(c.metrics, "Get", start, err)
	return resp, err
}

// Set writes key on the node at addr. The node assigns the timestamp.
func (c *StorageClient) Set(ctx context.Context, addr string, key, value []byte) (clock.Timestamp, error) {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := pb.NewStorageNodeClient(conn, c.timeout).Set(ctx, &pb.SetRequest{Key: key, Value: value})
	observe(c.metrics, "Set", start, err)
	if err != nil {
		return 0, err
	}
	return resp.Timestamp, nil
}

// Delete removes key on the node at addr.
func (c *StorageClient) Delete(ctx context.Context, addr string, key []byte) (clock.Timestamp, error) {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := pb.NewStorageNodeClient(conn, c.timeout).Delete(ctx, &pb.DeleteRequest{Key: key})
	observe(c.metrics, "Delete", start, err)
	if err != nil {
		return 0, err
	}
	return resp.Timestamp, nil
}

func observe(m *metrics.Metrics, method string, start time.Time, err error) {
	if m == nil {
		return
	}
	code := status.Code(err)
	m.RecordGRPCRequest(method, code.String(), time.Since(start))
	if err != nil {
		m.RecordGRPCError(method, code.String())
	}
}
