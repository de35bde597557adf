package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
	"github.com/devrev/pairdb/storage-node/internal/model"
	"github.com/devrev/pairdb/storage-node/internal/service"
	"github.com/devrev/pairdb/storage-node/internal/util/workerpool"
	"github.com/devrev/pairdb/storage-node/internal/validation"
)

const selfAddr = "10.0.0.1:50052"

type nopCoordinator struct{}

func (nopCoordinator) FetchHashSpace(context.Context) (hashring.Seed, hashring.Seed, error) {
	return hashring.Seed{}, hashring.Seed{}, nil
}
func (nopCoordinator) ReplaceCopyEnd(context.Context, string, clock.Timestamp) (bool, error) {
	return true, nil
}
func (nopCoordinator) ReplaceDeleteEnd(context.Context, string, clock.Timestamp) (bool, error) {
	return true, nil
}

type nopSender struct{}

func (nopSender) SendToNode(context.Context, string, []model.Entry) error { return nil }

type testNode struct {
	client      *pb.StorageNodeClient
	participant *service.Participant
	metrics     *metrics.Metrics
}

func startTestNode(t *testing.T) *testNode {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.New()
	m := metrics.NewMetrics(prometheus.NewRegistry(), "node-1")

	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "test", MaxWorkers: 2, QueueSize: 8, Logger: logger})
	table := service.NewMemTableService(&service.MemTableConfig{MinRetention: time.Minute, MaxRetention: time.Hour}, logger)
	participant := service.NewParticipant(service.ParticipantConfig{SelfAddr: selfAddr, ReplicationFactor: 2},
		table, nopSender{}, nopCoordinator{}, pool, clk, m, logger)
	storage := service.NewStorageService(service.StorageConfig{}, table, participant, nil, pool,
		validation.NewValidator(), clk, m, logger)
	t.Cleanup(func() {
		participant.Stop()
		_ = pool.Stop(time.Second)
	})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(MetricsInterceptor(m, logger)))
	pb.RegisterStorageNodeServer(srv, NewStorageHandler(storage, participant, clk, logger))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testNode{client: pb.NewStorageNodeClient(conn, time.Second), participant: participant, metrics: m}
}

func TestSetGetDelete(t *testing.T) {
	node := startTestNode(t)
	ctx := context.Background()

	setResp, err := node.client.Set(ctx, &pb.SetRequest{Key: []byte("user:1"), Value: []byte("alice")})
	require.NoError(t, err)
	assert.False(t, setResp.Timestamp.IsZero())

	getResp, err := node.client.Get(ctx, &pb.GetRequest{Key: []byte("user:1")})
	require.NoError(t, err)
	assert.True(t, getResp.Found)
	assert.Equal(t, []byte("alice"), getResp.Value)
	assert.Equal(t, setResp.Timestamp, getResp.Timestamp)

	delResp, err := node.client.Delete(ctx, &pb.DeleteRequest{Key: []byte("user:1")})
	require.NoError(t, err)
	assert.True(t, delResp.Timestamp.After(setResp.Timestamp))

	getResp, err = node.client.Get(ctx, &pb.GetRequest{Key: []byte("user:1")})
	require.NoError(t, err)
	assert.False(t, getResp.Found)

	assert.Equal(t, 2.0, testutil.ToFloat64(node.metrics.RequestsTotal.WithLabelValues("Get")))
}

func TestStaleSetMapsToAlreadyExists(t *testing.T) {
	node := startTestNode(t)
	ctx := context.Background()

	_, err := node.client.Set(ctx, &pb.SetRequest{Key: []byte("k"), Value: []byte("v2"), Timestamp: clock.NewTimestamp(100, 2), Forwarded: true})
	require.NoError(t, err)

	_, err = node.client.Set(ctx, &pb.SetRequest{Key: []byte("k"), Value: []byte("v1"), Timestamp: clock.NewTimestamp(100, 1), Forwarded: true})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(node.metrics.StaleWrites))
}

func TestInvalidKeyRejected(t *testing.T) {
	node := startTestNode(t)

	_, err := node.client.Set(context.Background(), &pb.SetRequest{Key: nil, Value: []byte("v")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestReplaceStartRequiresCoordinator(t *testing.T) {
	node := startTestNode(t)
	ctx := context.Background()

	_, err := node.client.ReplaceCopyStart(ctx, &pb.ReplaceStartRequest{Epoch: clock.NewTimestamp(1, 1)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = node.client.ReplaceDeleteStart(ctx, &pb.ReplaceStartRequest{Epoch: clock.NewTimestamp(1, 1)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHashSpaceSyncAndCopyStart(t *testing.T) {
	node := startTestNode(t)
	ctx := context.Background()

	seed := hashring.Seed{
		Nodes:     []hashring.Node{{Addr: selfAddr, Active: true}, {Addr: "10.0.0.2:50052", Active: true}},
		Timestamp: clock.NewTimestamp(50, 1),
	}
	syncResp, err := node.client.HashSpaceSync(ctx, &pb.HashSpaceSyncRequest{From: "coord", Write: seed, Read: seed, Clock: 40})
	require.NoError(t, err)
	assert.True(t, syncResp.Accepted)
	assert.False(t, syncResp.Clock.Before(40))

	write, read := node.participant.Rings()
	assert.Equal(t, 2, write.Len())
	assert.Equal(t, 2, read.Len())

	resp, err := node.client.ReplaceCopyStart(ctx, &pb.ReplaceStartRequest{Coordinator: "coord", Seed: seed, Epoch: seed.Timestamp})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	resp, err = node.client.ReplaceCopyStart(ctx, &pb.ReplaceStartRequest{Coordinator: "coord", Seed: seed, Epoch: clock.NewTimestamp(10, 1)})
	require.NoError(t, err)
	assert.False(t, resp.Accepted, "older epoch is obsolete")
}

func TestKeepAliveExchangesClock(t *testing.T) {
	node := startTestNode(t)

	resp, err := node.client.KeepAlive(context.Background(), &pb.KeepAliveRequest{Addr: "coord", Role: pb.RoleCoordinator, Clock: 77})
	require.NoError(t, err)
	assert.Equal(t, clock.Clock(77), resp.Clock)
}
