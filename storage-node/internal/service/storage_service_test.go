package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/storage-node/internal/errors"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
	"github.com/devrev/pairdb/storage-node/internal/util/workerpool"
	"github.com/devrev/pairdb/storage-node/internal/validation"
)

type staticReplicas []string

func (s staticReplicas) WriteReplicas(string) []string { return s }

type forwardCall struct {
	addr    string
	key     string
	value   []byte
	ts      clock.Timestamp
	deleted bool
}

type recordingForwarder struct {
	mu    sync.Mutex
	calls []forwardCall
}

func (f *recordingForwarder) ForwardSet(_ context.Context, addr string, key, value []byte, ts clock.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, forwardCall{addr: addr, key: string(key), value: value, ts: ts})
	return nil
}

func (f *recordingForwarder) ForwardDelete(_ context.Context, addr string, key []byte, ts clock.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, forwardCall{addr: addr, key: string(key), ts: ts, deleted: true})
	return nil
}

func (f *recordingForwarder) snapshot() []forwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forwardCall(nil), f.calls...)
}

func newTestStorageService(t *testing.T, replicas ReplicaSource) (*StorageService, *recordingForwarder) {
	t.Helper()

	table, _ := newTestMemTable(MemTableConfig{})
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "forward", MaxWorkers: 2, QueueSize: 16, Logger: zap.NewNop()})
	t.Cleanup(func() { _ = pool.Stop(time.Second) })

	fwd := &recordingForwarder{}
	svc := NewStorageService(
		StorageConfig{ForwardWrites: true, ForwardTimeout: time.Second},
		table,
		replicas,
		fwd,
		pool,
		validation.NewValidatorWithLimits(64, 1024),
		clock.New(),
		metrics.NewMetrics(prometheus.NewRegistry(), "test"),
		zap.NewNop(),
	)
	return svc, fwd
}

func TestWriteStampsAndForwards(t *testing.T) {
	svc, fwd := newTestStorageService(t, staticReplicas{nodeB, nodeC})
	ctx := context.Background()

	stamped, err := svc.Write(ctx, "user:1", []byte("alice"), 0, false)
	require.NoError(t, err)
	assert.False(t, stamped.IsZero())

	entry, err := svc.Read(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), entry.Value)
	assert.Equal(t, stamped, entry.Timestamp)

	require.Eventually(t, func() bool { return len(fwd.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	for _, call := range fwd.snapshot() {
		assert.Equal(t, "user:1", call.key)
		assert.Equal(t, stamped, call.ts, "replicas keep the first node's timestamp")
		assert.False(t, call.deleted)
	}
}

func TestForwardedWriteIsNotForwardedAgain(t *testing.T) {
	svc, fwd := newTestStorageService(t, staticReplicas{nodeB})

	_, err := svc.Write(context.Background(), "k", []byte("v"), clock.NewTimestamp(100, 7), true)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fwd.snapshot())
}

func TestStaleWriteRejected(t *testing.T) {
	svc, _ := newTestStorageService(t, nil)
	ctx := context.Background()

	_, err := svc.Write(ctx, "k", []byte("new"), clock.NewTimestamp(100, 2), true)
	require.NoError(t, err)

	_, err = svc.Write(ctx, "k", []byte("old"), clock.NewTimestamp(100, 1), true)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStaleWrite, errors.GetCode(err))

	entry, err := svc.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), entry.Value)
}

func TestDeleteForwardsTombstone(t *testing.T) {
	svc, fwd := newTestStorageService(t, staticReplicas{nodeB})
	ctx := context.Background()

	_, err := svc.Write(ctx, "k", []byte("v"), 0, true)
	require.NoError(t, err)

	deletedAt, err := svc.Delete(ctx, "k", 0, false)
	require.NoError(t, err)

	_, err = svc.Read(ctx, "k")
	assert.Equal(t, errors.ErrCodeKeyNotFound, errors.GetCode(err))

	require.Eventually(t, func() bool { return len(fwd.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	call := fwd.snapshot()[0]
	assert.True(t, call.deleted)
	assert.Equal(t, deletedAt, call.ts)
}

func TestWriteValidation(t *testing.T) {
	svc, _ := newTestStorageService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		key   string
		value []byte
		code  errors.ErrorCode
	}{
		{"empty key", "", []byte("v"), errors.ErrCodeInvalidKey},
		{"key too large", string(make([]byte, 65)), []byte("v"), errors.ErrCodeKeyTooLarge},
		{"value too large", "k", make([]byte, 1025), errors.ErrCodeValueTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Write(ctx, tt.key, tt.value, 0, false)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestRemoteTimestampAdvancesClock(t *testing.T) {
	svc, _ := newTestStorageService(t, nil)
	ctx := context.Background()

	_, err := svc.Write(ctx, "a", []byte("v"), clock.NewTimestamp(1, 5000), true)
	require.NoError(t, err)

	local, err := svc.Write(ctx, "b", []byte("v"), 0, true)
	require.NoError(t, err)
	assert.True(t, local.Clock().After(clock.Clock(5000)))
}
