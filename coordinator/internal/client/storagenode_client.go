package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	pb "github.com/devrev/pairdb/pkg/proto"
)

// StorageNodeClient sends replace protocol messages to data nodes
type StorageNodeClient struct {
	pool    *pb.ConnPool
	timeout time.Duration
	logger  *zap.Logger
}

// NewStorageNodeClient creates a new storage node client
func NewStorageNodeClient(pool *pb.ConnPool, timeout time.Duration, logger *zap.Logger) *StorageNodeClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &StorageNodeClient{
		pool:    pool,
		timeout: timeout,
		logger:  logger,
	}
}

// HashSpaceSync pushes rings to a data node and reports whether it adopted any
func (c *StorageNodeClient) HashSpaceSync(ctx context.Context, addr string, req *pb.HashSpaceSyncRequest) (bool, error) {
	client, err := c.getClient(addr)
	if err != nil {
		return false, err
	}

	resp, err := client.HashSpaceSync(ctx, req)
	if err != nil {
		return false, fmt.Errorf("HashSpaceSync to %s failed: %w", addr, err)
	}
	return resp.Accepted, nil
}

// ReplaceCopyStart tells a data node to copy keys for a new write ring
func (c *StorageNodeClient) ReplaceCopyStart(ctx context.Context, addr string, req *pb.ReplaceStartRequest) error {
	client, err := c.getClient(addr)
	if err != nil {
		return err
	}

	resp, err := client.ReplaceCopyStart(ctx, req)
	if err != nil {
		return fmt.Errorf("ReplaceCopyStart to %s failed: %w", addr, err)
	}
	if !resp.Accepted {
		c.logger.Warn("Data node declined CopyStart",
			zap.String("node", addr),
			zap.Stringer("epoch", req.Epoch))
	}
	return nil
}

// ReplaceDeleteStart tells a data node to drop keys it no longer owns
func (c *StorageNodeClient) ReplaceDeleteStart(ctx context.Context, addr string, req *pb.ReplaceStartRequest) error {
	client, err := c.getClient(addr)
	if err != nil {
		return err
	}

	resp, err := client.ReplaceDeleteStart(ctx, req)
	if err != nil {
		return fmt.Errorf("ReplaceDeleteStart to %s failed: %w", addr, err)
	}
	if !resp.Accepted {
		c.logger.Warn("Data node declined DeleteStart",
			zap.String("node", addr),
			zap.Stringer("epoch", req.Epoch))
	}
	return nil
}

// Forget closes the connection to a lost node
func (c *StorageNodeClient) Forget(addr string) {
	c.pool.Drop(addr)
}

func (c *StorageNodeClient) getClient(addr string) (*pb.StorageNodeClient, error) {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get client for node %s: %w", addr, err)
	}
	return pb.NewStorageNodeClient(conn, c.timeout), nil
}
