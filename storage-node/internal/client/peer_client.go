package client

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/pairdb/pkg/clock"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// PeerClient forwards writes to the other replicas of a key
type PeerClient struct {
	pool    *pb.ConnPool
	timeout time.Duration
}

// NewPeerClient creates a new peer client
func NewPeerClient(pool *pb.ConnPool, timeout time.Duration) *PeerClient {
	return &PeerClient{pool: pool, timeout: timeout}
}

func (c *PeerClient) client(addr string) (*pb.StorageNodeClient, error) {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer %s: %w", addr, err)
	}
	return pb.NewStorageNodeClient(conn, c.timeout), nil
}

// ForwardSet replays a set on a peer replica
func (c *PeerClient) ForwardSet(ctx context.Context, addr string, key, value []byte, ts clock.Timestamp) error {
	client, err := c.client(addr)
	if err != nil {
		return err
	}
	_, err = client.Set(ctx, &pb.SetRequest{Key: key, Value: value, Timestamp: ts, Forwarded: true})
	return err
}

// ForwardDelete replays a delete on a peer replica
func (c *PeerClient) ForwardDelete(ctx context.Context, addr string, key []byte, ts clock.Timestamp) error {
	client, err := c.client(addr)
	if err != nil {
		return err
	}
	_, err = client.Delete(ctx, &pb.DeleteRequest{Key: key, Timestamp: ts, Forwarded: true})
	return err
}
