package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
)

// CoordinatorClient handles communication with the coordinator pair
type CoordinatorClient struct {
	addrs   []string
	self    string
	pool    *pb.ConnPool
	timeout time.Duration
	clock   *clock.LogicalClock
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu          sync.Mutex
	lastContact time.Time
}

// NewCoordinatorClient creates a new coordinator client
func NewCoordinatorClient(
	addrs []string,
	self string,
	pool *pb.ConnPool,
	timeout time.Duration,
	clk *clock.LogicalClock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CoordinatorClient {
	return &CoordinatorClient{
		addrs:   addrs,
		self:    self,
		pool:    pool,
		timeout: timeout,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

func (c *CoordinatorClient) client(addr string) (*pb.CoordinatorClient, error) {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator at %s: %w", addr, err)
	}
	return pb.NewCoordinatorClient(conn, c.timeout), nil
}

// KeepAlive announces this node to one coordinator. The first successful
// keepalive is how a node joins the cluster.
func (c *CoordinatorClient) KeepAlive(ctx context.Context, addr string) error {
	client, err := c.client(addr)
	if err != nil {
		return err
	}

	resp, err := client.KeepAlive(ctx, &pb.KeepAliveRequest{
		Addr:  c.self,
		Role:  pb.RoleStorageNode,
		Clock: c.clock.Increment(),
	})
	if err != nil {
		return fmt.Errorf("keepalive to %s failed: %w", addr, err)
	}

	c.clock.Update(resp.Clock)
	c.mu.Lock()
	c.lastContact = time.Now()
	c.mu.Unlock()
	return nil
}

// KeepAliveAll sends a keepalive to every coordinator in parallel
func (c *CoordinatorClient) KeepAliveAll(ctx context.Context) error {
	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	for _, addr := range c.addrs {
		addr := addr
		g.Go(func() error {
			if err := c.KeepAlive(ctx, addr); err != nil {
				c.metrics.KeepAliveFailures.WithLabelValues(addr).Inc()
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// RunKeepAlive sends keepalives every interval until ctx is done
func (c *CoordinatorClient) RunKeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.KeepAliveAll(ctx); err != nil {
			c.logger.Debug("Keepalive round had failures", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LastContact returns when a coordinator last answered a keepalive
func (c *CoordinatorClient) LastContact() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastContact
}

// FetchHashSpace pulls the current rings from the first coordinator that answers
func (c *CoordinatorClient) FetchHashSpace(ctx context.Context) (write, read hashring.Seed, err error) {
	var errs []error
	for _, addr := range c.addrs {
		client, err := c.client(addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := client.HashSpaceRequest(ctx, &pb.HashSpaceRequest{Clock: c.clock.Get()})
		if err != nil {
			errs = append(errs, fmt.Errorf("hash space request to %s failed: %w", addr, err))
			continue
		}
		c.clock.Update(resp.Clock)
		return resp.Write, resp.Read, nil
	}
	return hashring.Seed{}, hashring.Seed{}, errors.Join(errs...)
}

// ReplaceCopyEnd reports a finished copy phase to the coordinator that started it
func (c *CoordinatorClient) ReplaceCopyEnd(ctx context.Context, coordinator string, epoch clock.Timestamp) (bool, error) {
	client, err := c.client(coordinator)
	if err != nil {
		return false, err
	}
	resp, err := client.ReplaceCopyEnd(ctx, c.endRequest(epoch))
	if err != nil {
		return false, fmt.Errorf("copy end to %s failed: %w", coordinator, err)
	}
	return resp.Accepted, nil
}

// ReplaceDeleteEnd reports a finished delete phase to the coordinator that started it
func (c *CoordinatorClient) ReplaceDeleteEnd(ctx context.Context, coordinator string, epoch clock.Timestamp) (bool, error) {
	client, err := c.client(coordinator)
	if err != nil {
		return false, err
	}
	resp, err := client.ReplaceDeleteEnd(ctx, c.endRequest(epoch))
	if err != nil {
		return false, fmt.Errorf("delete end to %s failed: %w", coordinator, err)
	}
	return resp.Accepted, nil
}

func (c *CoordinatorClient) endRequest(epoch clock.Timestamp) *pb.ReplaceEndRequest {
	return &pb.ReplaceEndRequest{
		Addr:  c.self,
		Epoch: epoch,
		Clock: c.clock.Increment(),
	}
}
