package client

import (
	"context"
	"fmt"
	"time"

	pb "github.com/devrev/pairdb/pkg/proto"
)

// PartnerClient talks to the partner coordinator
type PartnerClient struct {
	addr    string
	pool    *pb.ConnPool
	timeout time.Duration
}

// NewPartnerClient creates a client for the coordinator at addr
func NewPartnerClient(addr string, pool *pb.ConnPool, timeout time.Duration) *PartnerClient {
	return &PartnerClient{addr: addr, pool: pool, timeout: timeout}
}

// KeepAlive pings the partner
func (c *PartnerClient) KeepAlive(ctx context.Context, req *pb.KeepAliveRequest) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	_, err = client.KeepAlive(ctx, req)
	return err
}

// HashSpaceSync pushes both rings to the partner
func (c *PartnerClient) HashSpaceSync(ctx context.Context, req *pb.HashSpaceSyncRequest) (bool, error) {
	client, err := c.client()
	if err != nil {
		return false, err
	}
	resp, err := client.HashSpaceSync(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// ReplaceElection asks the partner to drive the next replace
func (c *PartnerClient) ReplaceElection(ctx context.Context, req *pb.ReplaceElectionRequest) (bool, error) {
	client, err := c.client()
	if err != nil {
		return false, err
	}
	resp, err := client.ReplaceElection(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

func (c *PartnerClient) client() (*pb.CoordinatorClient, error) {
	conn, err := c.pool.Get(c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get client for partner %s: %w", c.addr, err)
	}
	return pb.NewCoordinatorClient(conn, c.timeout), nil
}
