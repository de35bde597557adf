package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/api-gateway/internal/metrics"
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
)

const (
	nodeA = "A"
	nodeB = "B"
	nodeC = "C"
	nodeD = "D"
)

// MockHashSpaceSource is a mock of HashSpaceSource
type MockHashSpaceSource struct {
	mock.Mock
	calls atomic.Int32
}

func (m *MockHashSpaceSource) FetchHashSpace(ctx context.Context) (hashring.Seed, hashring.Seed, error) {
	m.calls.Add(1)
	args := m.Called(ctx)
	return args.Get(0).(hashring.Seed), args.Get(1).(hashring.Seed), args.Error(2)
}

func seedOf(ts clock.Timestamp, addrs ...string) hashring.Seed {
	nodes := make([]hashring.Node, 0, len(addrs))
	for _, a := range addrs {
		nodes = append(nodes, hashring.Node{Addr: a, Active: true})
	}
	return hashring.Seed{Nodes: nodes, Timestamp: ts}
}

func faulty(s hashring.Seed, addr string) hashring.Seed {
	out := hashring.Seed{Nodes: append([]hashring.Node(nil), s.Nodes...), Timestamp: s.Timestamp}
	for i := range out.Nodes {
		if out.Nodes[i].Addr == addr {
			out.Nodes[i].Active = false
		}
	}
	return out
}

func newTestRouter(t *testing.T, source HashSpaceSource, cfg Config) *Router {
	t.Helper()
	r := New(cfg, source, metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	t.Cleanup(r.cancel)
	return r
}

// hashOwnedBy finds a key hash whose primary is addr
func hashOwnedBy(t *testing.T, s hashring.Seed, addr string) uint64 {
	t.Helper()
	ring := hashring.FromSeed(s)
	for i := uint64(0); i < 1<<20; i++ {
		h := i * 104729
		if v, ok := ring.Find(h); ok && v.Node.Addr == addr {
			return h
		}
	}
	t.Fatalf("no hash owned by %s", addr)
	return 0
}

func unavailable() error {
	return status.Error(codes.Unavailable, "connection refused")
}

func TestResolveSkipsFaultyPrimary(t *testing.T) {
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{ReplicationFactor: 2})

	healthy := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB, nodeC)
	h := hashOwnedBy(t, healthy, nodeA)

	r.Adopt(healthy, healthy)
	primary, err := r.Resolve(h, 0, false)
	require.NoError(t, err)
	assert.Equal(t, nodeA, primary)

	withFault := faulty(healthy, nodeA)
	withFault.Timestamp = clock.NewTimestamp(2, 1)
	require.True(t, r.Adopt(withFault, withFault))

	first, err := r.Resolve(h, 0, false)
	require.NoError(t, err)
	second, err := r.Resolve(h, 1, false)
	require.NoError(t, err)

	assert.NotEqual(t, nodeA, first)
	assert.NotEqual(t, nodeA, second)
	assert.NotEqual(t, first, second)

	_, err = r.Resolve(h, 2, false)
	assert.ErrorIs(t, err, ErrNoReplica)
}

func TestResolveWalksStorageReplicaSet(t *testing.T) {
	seed := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB, nodeC, nodeD)
	ring := hashring.FromSeed(seed)

	for _, rf := range []int{1, 2} {
		r := newTestRouter(t, &MockHashSpaceSource{}, Config{ReplicationFactor: rf})
		r.Adopt(seed, seed)

		for i := uint64(0); i < 64; i++ {
			h := i * 0x9e3779b97f4a7c15
			var walked []string
			for offset := 0; ; offset++ {
				addr, err := r.Resolve(h, offset, true)
				if errors.Is(err, ErrNoReplica) {
					break
				}
				require.NoError(t, err)
				walked = append(walked, addr)
			}

			var held []string
			for _, n := range ring.ReplicaSet(h, rf) {
				held = append(held, n.Addr)
			}
			require.Len(t, held, rf+1)
			assert.Equal(t, held, walked, "rf=%d hash=%d", rf, h)
		}
	}
}

func TestResolveUsesRingPerOperation(t *testing.T) {
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{ReplicationFactor: 1})

	read := seedOf(clock.NewTimestamp(1, 1), nodeA)
	write := seedOf(clock.NewTimestamp(2, 1), nodeD)
	r.Adopt(write, read)

	addr, err := r.Resolve(42, 0, false)
	require.NoError(t, err)
	assert.Equal(t, nodeA, addr)

	addr, err = r.Resolve(42, 0, true)
	require.NoError(t, err)
	assert.Equal(t, nodeD, addr)
}

func TestResolveWithoutHashSpace(t *testing.T) {
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{})

	_, err := r.Resolve(1, 0, true)
	assert.ErrorIs(t, err, ErrNoHashSpace)
	assert.False(t, r.Ready())
}

func TestAdoptFollowsMergeRule(t *testing.T) {
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{})

	newer := seedOf(clock.NewTimestamp(5, 1), nodeA, nodeB)
	older := seedOf(clock.NewTimestamp(4, 1), nodeC)

	assert.True(t, r.Adopt(newer, newer))
	assert.False(t, r.Adopt(newer, newer), "same seed twice is a no-op")
	assert.False(t, r.Adopt(older, older), "older seed is ignored")

	write, read := r.Rings()
	assert.Equal(t, newer.Timestamp, write.Timestamp())
	assert.Equal(t, newer.Timestamp, read.Timestamp())
	assert.Equal(t, 2, read.Len())
	assert.True(t, r.Ready())
}

func TestAdoptRingsIndependently(t *testing.T) {
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{})

	r.Adopt(seedOf(clock.NewTimestamp(5, 1), nodeA), seedOf(clock.NewTimestamp(5, 1), nodeA))
	changed := r.Adopt(seedOf(clock.NewTimestamp(6, 1), nodeA, nodeB), seedOf(clock.NewTimestamp(3, 1), nodeC))
	assert.True(t, changed)

	write, read := r.Rings()
	assert.Equal(t, 2, write.Len())
	assert.Equal(t, []string{nodeA}, read.ActiveNodes())
}

func TestDoRetriesAcrossReplicas(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB, nodeC)
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{ReplicationFactor: 2, MaxRetries: 5, RenewThreshold: 5})
	r.Adopt(s, s)

	var tried []string
	err := r.Do(context.Background(), []byte("user:1"), true, func(_ context.Context, addr string) error {
		tried = append(tried, addr)
		if len(tried) < 3 {
			return unavailable()
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, tried, 3)
	assert.ElementsMatch(t, []string{nodeA, nodeB, nodeC}, tried)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB, nodeC)
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{ReplicationFactor: 2})
	r.Adopt(s, s)

	calls := 0
	stale := status.Error(codes.AlreadyExists, "stale write")
	err := r.Do(context.Background(), []byte("k"), true, func(context.Context, string) error {
		calls++
		return stale
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestDoRenewsAfterThreshold(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB, nodeC)
	source := &MockHashSpaceSource{}
	source.On("FetchHashSpace", mock.Anything).Return(s, s, nil)

	r := newTestRouter(t, source, Config{ReplicationFactor: 2, MaxRetries: 4, RenewThreshold: 2})
	r.Adopt(s, s)

	err := r.Do(context.Background(), []byte("k"), false, func(context.Context, string) error {
		return unavailable()
	})

	assert.ErrorIs(t, err, ErrExhausted)
	source.AssertNumberOfCalls(t, "FetchHashSpace", 2)
}

func TestDoRenewsWhenHashSpaceUnknown(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB)
	source := &MockHashSpaceSource{}
	source.On("FetchHashSpace", mock.Anything).Return(s, s, nil).Once()

	r := newTestRouter(t, source, Config{ReplicationFactor: 1, MaxRetries: 3})

	var served string
	err := r.Do(context.Background(), []byte("k"), false, func(_ context.Context, addr string) error {
		served = addr
		return nil
	})

	require.NoError(t, err)
	assert.Contains(t, []string{nodeA, nodeB}, served)
	source.AssertExpectations(t)
}

func TestDoWrapsAroundAfterRenewal(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB)
	source := &MockHashSpaceSource{}
	source.On("FetchHashSpace", mock.Anything).Return(s, s, nil)

	r := newTestRouter(t, source, Config{ReplicationFactor: 1, MaxRetries: 5, RenewThreshold: 10})
	r.Adopt(s, s)

	var tried []string
	err := r.Do(context.Background(), []byte("k"), true, func(_ context.Context, addr string) error {
		tried = append(tried, addr)
		if len(tried) < 3 {
			return unavailable()
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, tried, 3)
	assert.Equal(t, tried[0], tried[2], "walk restarts at the primary once candidates run out")
	source.AssertNumberOfCalls(t, "FetchHashSpace", 1)
}

func TestDoHonorsCancellation(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB, nodeC)
	r := newTestRouter(t, &MockHashSpaceSource{}, Config{ReplicationFactor: 2, MaxRetries: 10, RenewThreshold: 10})
	r.Adopt(s, s)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, []byte("k"), true, func(context.Context, string) error {
		calls++
		cancel()
		return unavailable()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRenewFailureKeepsRings(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA)
	source := &MockHashSpaceSource{}
	source.On("FetchHashSpace", mock.Anything).Return(hashring.Seed{}, hashring.Seed{}, errors.New("down"))

	r := newTestRouter(t, source, Config{})
	r.Adopt(s, s)

	require.Error(t, r.Renew(context.Background(), "test"))
	assert.True(t, r.Ready())
}

func TestStartPullsHashSpace(t *testing.T) {
	s := seedOf(clock.NewTimestamp(1, 1), nodeA, nodeB)
	source := &MockHashSpaceSource{}
	source.On("FetchHashSpace", mock.Anything).Return(s, s, nil)

	r := New(Config{RenewInterval: 10 * time.Millisecond}, source, metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	r.Start()
	defer r.Stop()

	assert.True(t, r.Ready())
	assert.Eventually(t, func() bool {
		return source.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}
