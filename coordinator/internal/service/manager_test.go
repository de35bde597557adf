package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/coordinator/internal/metrics"
	"github.com/devrev/pairdb/coordinator/internal/store"
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// recordingNodes is a DataNodeClient that records every call.
type recordingNodes struct {
	mu           sync.Mutex
	copyStarts   map[string][]clock.Timestamp
	deleteStarts map[string][]clock.Timestamp
	syncs        map[string]int
	forgotten    []string
	failCopy     map[string]bool
}

func newRecordingNodes() *recordingNodes {
	return &recordingNodes{
		copyStarts:   make(map[string][]clock.Timestamp),
		deleteStarts: make(map[string][]clock.Timestamp),
		syncs:        make(map[string]int),
		failCopy:     make(map[string]bool),
	}
}

func (r *recordingNodes) HashSpaceSync(_ context.Context, addr string, _ *pb.HashSpaceSyncRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs[addr]++
	return true, nil
}

func (r *recordingNodes) ReplaceCopyStart(_ context.Context, addr string, req *pb.ReplaceStartRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copyStarts[addr] = append(r.copyStarts[addr], req.Epoch)
	if r.failCopy[addr] {
		return errors.New("connection refused")
	}
	return nil
}

func (r *recordingNodes) ReplaceDeleteStart(_ context.Context, addr string, req *pb.ReplaceStartRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteStarts[addr] = append(r.deleteStarts[addr], req.Epoch)
	return nil
}

func (r *recordingNodes) Forget(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, addr)
}

func (r *recordingNodes) copyEpochs() map[clock.Timestamp]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[clock.Timestamp]int)
	for _, epochs := range r.copyStarts {
		for _, e := range epochs {
			out[e]++
		}
	}
	return out
}

type mockPartner struct {
	mock.Mock
}

func (p *mockPartner) KeepAlive(ctx context.Context, req *pb.KeepAliveRequest) error {
	args := p.Called(ctx, req)
	return args.Error(0)
}

func (p *mockPartner) HashSpaceSync(ctx context.Context, req *pb.HashSpaceSyncRequest) (bool, error) {
	args := p.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

func (p *mockPartner) ReplaceElection(ctx context.Context, req *pb.ReplaceElectionRequest) (bool, error) {
	args := p.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

func newTestManager(t *testing.T, cfg ManagerConfig, partner PartnerClient) (*Manager, *recordingNodes) {
	t.Helper()
	if cfg.SelfAddr == "" {
		cfg.SelfAddr = "10.0.0.1:9000"
	}
	nodes := newRecordingNodes()
	m := NewManager(cfg, clock.New(), partner, nodes, store.NewInMemorySeedStore(),
		metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	t.Cleanup(m.Stop)
	return m, nodes
}

func joinAll(m *Manager, addrs ...string) {
	for _, a := range addrs {
		m.NodeJoined(a)
	}
}

func TestReplaceLiveness(t *testing.T) {
	m, nodes := newTestManager(t, ManagerConfig{}, nil)
	addrs := []string{"n1:7000", "n2:7000", "n3:7000"}
	joinAll(m, addrs...)

	epoch := m.StartReplace(context.Background())
	m.wg.Wait()

	for _, a := range addrs {
		assert.Equal(t, []clock.Timestamp{epoch}, nodes.copyStarts[a], a)
	}
	status := m.Status()
	assert.Equal(t, PhaseCopy, status.Phase)
	assert.Empty(t, status.Read.Nodes, "read ring moves only after the copy phase")

	assert.True(t, m.HandleCopyEnd("n1:7000", epoch, 0))
	assert.True(t, m.HandleCopyEnd("n2:7000", epoch, 0))
	assert.Equal(t, PhaseCopy, m.Status().Phase)

	assert.True(t, m.HandleCopyEnd("n3:7000", epoch, 0))
	assert.False(t, m.HandleCopyEnd("n3:7000", epoch, 0), "duplicate ack after the phase moved on")
	m.wg.Wait()

	status = m.Status()
	assert.Equal(t, PhaseDelete, status.Phase)
	assert.True(t, hashring.FromSeed(status.Write).Equal(hashring.FromSeed(status.Read)))
	for _, a := range addrs {
		assert.Equal(t, []clock.Timestamp{epoch}, nodes.deleteStarts[a], "DeleteStart exactly once for %s", a)
	}

	for _, a := range addrs {
		assert.True(t, m.HandleDeleteEnd(a, epoch, 0))
	}
	assert.Equal(t, PhaseIdle, m.Status().Phase)
}

func TestStaleCopyEndIsIgnored(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, nil)
	joinAll(m, "n1:7000", "n2:7000", "n3:7000")

	stale := m.StartReplace(context.Background())
	m.wg.Wait()
	require.True(t, m.HandleCopyEnd("n1:7000", stale, 0))

	m.NodeLost(context.Background(), "n3:7000")
	assert.Equal(t, PhaseIdle, m.Status().Phase)
	assert.False(t, m.HandleCopyEnd("n2:7000", stale, 0))

	current := m.StartReplace(context.Background())
	m.wg.Wait()
	require.NotEqual(t, stale, current)
	assert.Equal(t, []string{"n1:7000", "n2:7000"}, m.Status().Remaining)

	assert.False(t, m.HandleCopyEnd("n1:7000", stale, 0))
	assert.False(t, m.HandleCopyEnd("n2:7000", stale, 0))
	status := m.Status()
	assert.Equal(t, PhaseCopy, status.Phase)
	assert.Equal(t, []string{"n1:7000", "n2:7000"}, status.Remaining)

	assert.True(t, m.HandleCopyEnd("n1:7000", current, 0))
	assert.True(t, m.HandleCopyEnd("n2:7000", current, 0))
	assert.Equal(t, PhaseDelete, m.Status().Phase)
}

func TestDebounceCoalescesJoins(t *testing.T) {
	m, nodes := newTestManager(t, ManagerConfig{AutoReplace: true, ReplaceDelaySteps: 3}, nil)
	ctx := context.Background()

	m.NodeJoined("n1:7000")
	m.Tick(ctx)
	m.NodeJoined("n2:7000")
	m.Tick(ctx)
	m.Tick(ctx)
	m.wg.Wait()
	assert.Empty(t, nodes.copyEpochs(), "debounce re-armed by the second join")

	m.Tick(ctx)
	m.wg.Wait()
	for i := 0; i < 5; i++ {
		m.Tick(ctx)
	}
	m.wg.Wait()

	epochs := nodes.copyEpochs()
	require.Len(t, epochs, 1, "one replace for both joins")
	for _, count := range epochs {
		assert.Equal(t, 2, count)
	}
	assert.Equal(t, []string{"n1:7000", "n2:7000"}, m.Status().Joined)
}

func TestNodeLostWithoutAutoReplaceSyncsPeers(t *testing.T) {
	partner := &mockPartner{}
	partner.On("HashSpaceSync", mock.Anything, mock.Anything).Return(true, nil)
	m, nodes := newTestManager(t, ManagerConfig{PartnerAddr: "10.0.0.2:9000"}, partner)
	joinAll(m, "n1:7000", "n2:7000", "n3:7000")
	epoch := m.StartReplace(context.Background())
	for _, a := range []string{"n1:7000", "n2:7000", "n3:7000"} {
		m.HandleCopyEnd(a, epoch, 0)
	}
	m.wg.Wait()

	m.NodeLost(context.Background(), "n2:7000")

	write, read := m.HashSpace()
	assert.False(t, hashring.FromSeed(write).IsActive("n2:7000"))
	assert.False(t, hashring.FromSeed(read).IsActive("n2:7000"))
	assert.True(t, write.Timestamp.After(epoch))

	nodes.mu.Lock()
	assert.Equal(t, 1, nodes.syncs["n1:7000"])
	assert.Equal(t, 1, nodes.syncs["n3:7000"])
	assert.Zero(t, nodes.syncs["n2:7000"])
	assert.Contains(t, nodes.forgotten, "n2:7000")
	nodes.mu.Unlock()

	m.wg.Wait()
	partner.AssertCalled(t, "HashSpaceSync", mock.Anything, mock.MatchedBy(func(req *pb.HashSpaceSyncRequest) bool {
		return req.Write.Timestamp == write.Timestamp
	}))
}

func TestNodeLostInvalidatesDeletePhase(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{AutoReplace: true, ReplaceDelaySteps: 2}, nil)
	joinAll(m, "n1:7000", "n2:7000")
	epoch := m.StartReplace(context.Background())
	m.HandleCopyEnd("n1:7000", epoch, 0)
	m.HandleCopyEnd("n2:7000", epoch, 0)
	require.Equal(t, PhaseDelete, m.Status().Phase)

	m.NodeLost(context.Background(), "n2:7000")
	assert.Equal(t, PhaseIdle, m.Status().Phase)
	assert.False(t, m.HandleDeleteEnd("n1:7000", epoch, 0))
	assert.Equal(t, 2, m.countdown)
}

func TestStartReplaceRemovesFaultyAndRecoversReturningNodes(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, nil)
	joinAll(m, "n1:7000", "n2:7000", "n3:7000")
	m.StartReplace(context.Background())

	m.NodeLost(context.Background(), "n2:7000")
	m.NodeLost(context.Background(), "n3:7000")
	m.NodeJoined("n3:7000")

	m.StartReplace(context.Background())
	write, _ := m.HashSpace()
	ring := hashring.FromSeed(write)
	assert.Equal(t, []string{"n1:7000", "n3:7000"}, ring.ActiveNodes())
	assert.Equal(t, 2, ring.Len())
}

func TestStartReplaceWithoutNodesFinishesImmediately(t *testing.T) {
	m, nodes := newTestManager(t, ManagerConfig{}, nil)
	m.StartReplace(context.Background())
	m.wg.Wait()

	assert.Equal(t, PhaseIdle, m.Status().Phase)
	assert.Empty(t, nodes.copyEpochs())
}

func TestKeepAliveFromUnknownNodeIsAJoin(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, nil)
	m.HandleKeepAlive(&pb.KeepAliveRequest{Addr: "n1:7000", Role: pb.RoleStorageNode, Clock: 40})

	assert.Equal(t, []string{"n1:7000"}, m.Status().Newcomers)
	assert.False(t, m.Clock().Before(40))
}

func TestKeepAliveTimeoutMarksNodeFaulty(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{KeepAliveTimeoutSteps: 2}, nil)
	joinAll(m, "n1:7000", "n2:7000")
	m.StartReplace(context.Background())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Tick(ctx)
		m.HandleKeepAlive(&pb.KeepAliveRequest{Addr: "n1:7000", Role: pb.RoleStorageNode})
	}

	write, _ := m.HashSpace()
	ring := hashring.FromSeed(write)
	assert.True(t, ring.IsActive("n1:7000"))
	assert.False(t, ring.IsActive("n2:7000"))
	assert.Equal(t, []string{"n1:7000"}, m.Status().Joined)
}

func TestFailedCopyStartIsResentOnKeepAlive(t *testing.T) {
	m, nodes := newTestManager(t, ManagerConfig{}, nil)
	joinAll(m, "n1:7000", "n2:7000")
	nodes.failCopy["n2:7000"] = true

	epoch := m.StartReplace(context.Background())
	m.wg.Wait()

	nodes.mu.Lock()
	nodes.failCopy["n2:7000"] = false
	nodes.mu.Unlock()

	m.HandleKeepAlive(&pb.KeepAliveRequest{Addr: "n2:7000", Role: pb.RoleStorageNode})
	m.wg.Wait()
	assert.Equal(t, []clock.Timestamp{epoch, epoch}, nodes.copyStarts["n2:7000"])
	assert.Equal(t, []clock.Timestamp{epoch}, nodes.copyStarts["n1:7000"])

	m.HandleKeepAlive(&pb.KeepAliveRequest{Addr: "n2:7000", Role: pb.RoleStorageNode})
	m.wg.Wait()
	assert.Len(t, nodes.copyStarts["n2:7000"], 2)
}

func TestHandleHashSpaceSyncMergeRule(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, nil)

	newer := hashring.Seed{
		Nodes:     []hashring.Node{{Addr: "n1:7000", Active: true}},
		Timestamp: clock.NewTimestamp(100, 5),
	}
	older := hashring.Seed{
		Nodes:     []hashring.Node{{Addr: "n9:7000", Active: true}},
		Timestamp: clock.NewTimestamp(99, 0),
	}

	assert.True(t, m.HandleHashSpaceSync(&pb.HashSpaceSyncRequest{Write: newer, Read: newer}))
	assert.False(t, m.HandleHashSpaceSync(&pb.HashSpaceSyncRequest{Write: newer, Read: newer}), "same seed twice")
	assert.False(t, m.HandleHashSpaceSync(&pb.HashSpaceSyncRequest{Write: older, Read: older}))

	write, read := m.HashSpace()
	assert.Equal(t, newer, write)
	assert.Equal(t, newer, read)

	evenNewer := newer
	evenNewer.Timestamp = clock.NewTimestamp(101, 0)
	evenNewer.Nodes = []hashring.Node{{Addr: "n1:7000", Active: true}, {Addr: "n2:7000", Active: true}}
	assert.True(t, m.HandleHashSpaceSync(&pb.HashSpaceSyncRequest{Write: evenNewer, Read: older}))
	write, read = m.HashSpace()
	assert.Equal(t, evenNewer, write)
	assert.Equal(t, newer, read, "rings merge independently")
}

func TestHashSpaceSyncPromotesIncorporatedNewcomers(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{AutoReplace: true, ReplaceDelaySteps: 5}, nil)
	m.NodeJoined("n1:7000")
	require.Equal(t, 5, m.countdown)

	seed := hashring.Seed{Nodes: []hashring.Node{{Addr: "n1:7000", Active: true}}, Timestamp: clock.NewTimestamp(10, 1)}
	m.HandleHashSpaceSync(&pb.HashSpaceSyncRequest{Write: seed, Read: seed})

	assert.Empty(t, m.Status().Newcomers)
	assert.Equal(t, []string{"n1:7000"}, m.Status().Joined)
	assert.Zero(t, m.countdown)
}

func TestRestoreLoadsPersistedRings(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, nil)
	joinAll(m, "n1:7000", "n2:7000")
	m.StartReplace(context.Background())
	write, read := m.HashSpace()

	restored := NewManager(ManagerConfig{SelfAddr: "10.0.0.1:9000"}, clock.New(), nil, newRecordingNodes(), m.seeds,
		metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	require.NoError(t, restored.Restore(context.Background()))

	gotWrite, gotRead := restored.HashSpace()
	assert.Equal(t, write, gotWrite)
	assert.Equal(t, read, gotRead)
	assert.Equal(t, []string{"n1:7000", "n2:7000"}, restored.Status().Joined)
}

func TestLatePersistDoesNotRestoreStaleRings(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{}, nil)
	joinAll(m, "n1:7000")
	m.StartReplace(context.Background())
	staleWrite, staleRead := m.HashSpace()

	joinAll(m, "n2:7000")
	m.StartReplace(context.Background())
	write, read := m.HashSpace()
	require.True(t, staleWrite.Timestamp.Before(write.Timestamp))

	// an earlier caller finishing its save after the newer one
	m.persist(staleWrite, staleRead)

	restored := NewManager(ManagerConfig{SelfAddr: "10.0.0.1:9000"}, clock.New(), nil, newRecordingNodes(), m.seeds,
		metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	require.NoError(t, restored.Restore(context.Background()))

	gotWrite, gotRead := restored.HashSpace()
	assert.Equal(t, write, gotWrite)
	assert.Equal(t, read, gotRead)
}
