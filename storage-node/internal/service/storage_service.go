package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/storage-node/internal/errors"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
	"github.com/devrev/pairdb/storage-node/internal/model"
	"github.com/devrev/pairdb/storage-node/internal/util/workerpool"
	"github.com/devrev/pairdb/storage-node/internal/validation"
)

// ReplicaSource resolves the peers that must also hold a key
type ReplicaSource interface {
	WriteReplicas(key string) []string
}

// Forwarder replays writes on peer replicas
type Forwarder interface {
	ForwardSet(ctx context.Context, addr string, key, value []byte, ts clock.Timestamp) error
	ForwardDelete(ctx context.Context, addr string, key []byte, ts clock.Timestamp) error
}

// StorageConfig holds data path settings
type StorageConfig struct {
	ForwardWrites  bool
	ForwardTimeout time.Duration
}

// StorageService is the data path: it validates requests, stamps them with a
// Timestamp, applies them to the memtable and forwards them to peer replicas.
type StorageService struct {
	config     StorageConfig
	memTable   *MemTableService
	replicas   ReplicaSource
	forwarder  Forwarder
	workerPool *workerpool.WorkerPool
	validator  *validation.Validator
	clock      *clock.LogicalClock
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewStorageService creates a new storage service
func NewStorageService(
	cfg StorageConfig,
	memTable *MemTableService,
	replicas ReplicaSource,
	forwarder Forwarder,
	workerPool *workerpool.WorkerPool,
	validator *validation.Validator,
	clk *clock.LogicalClock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *StorageService {
	return &StorageService{
		config:     cfg,
		memTable:   memTable,
		replicas:   replicas,
		forwarder:  forwarder,
		workerPool: workerPool,
		validator:  validator,
		clock:      clk,
		metrics:    m,
		logger:     logger,
	}
}

// Write stores value under key. A zero ts is replaced by a fresh Timestamp.
// Writes that did not come from a peer are forwarded to the other replicas.
func (s *StorageService) Write(ctx context.Context, key string, value []byte, ts clock.Timestamp, forwarded bool) (clock.Timestamp, error) {
	if err := s.validator.ValidateSet(key, value); err != nil {
		return 0, err
	}

	ts = s.stamp(ts)
	if err := s.memTable.Put(model.Entry{Key: key, Value: value, Timestamp: ts}); err != nil {
		s.rejected(key, err)
		return 0, err
	}

	if !forwarded {
		s.forward(ctx, key, model.OperationTypeSet, func(ctx context.Context, addr string) error {
			return s.forwarder.ForwardSet(ctx, addr, []byte(key), value, ts)
		})
	}

	s.logger.Debug("Write completed",
		zap.String("key", key),
		zap.Stringer("timestamp", ts),
		zap.Bool("forwarded", forwarded))
	return ts, nil
}

// Read returns the live entry stored under key
func (s *StorageService) Read(_ context.Context, key string) (model.Entry, error) {
	if err := s.validator.ValidateKey(key); err != nil {
		return model.Entry{}, err
	}

	entry, ok := s.memTable.Get(key)
	if !ok {
		return model.Entry{}, errors.KeyNotFound(key)
	}
	return entry, nil
}

// Delete writes a tombstone for key and forwards it like Write
func (s *StorageService) Delete(ctx context.Context, key string, ts clock.Timestamp, forwarded bool) (clock.Timestamp, error) {
	if err := s.validator.ValidateKey(key); err != nil {
		return 0, err
	}

	ts = s.stamp(ts)
	if err := s.memTable.Delete(key, ts); err != nil {
		s.rejected(key, err)
		return 0, err
	}

	if !forwarded {
		s.forward(ctx, key, model.OperationTypeDelete, func(ctx context.Context, addr string) error {
			return s.forwarder.ForwardDelete(ctx, addr, []byte(key), ts)
		})
	}

	s.logger.Debug("Delete completed",
		zap.String("key", key),
		zap.Stringer("timestamp", ts),
		zap.Bool("forwarded", forwarded))
	return ts, nil
}

// stamp assigns a Timestamp to client writes and advances the local clock
// past timestamps chosen elsewhere.
func (s *StorageService) stamp(ts clock.Timestamp) clock.Timestamp {
	if ts.IsZero() {
		return s.clock.Now()
	}
	s.clock.Update(ts.Clock())
	return ts
}

func (s *StorageService) rejected(key string, err error) {
	if errors.GetCode(err) == errors.ErrCodeStaleWrite {
		s.metrics.StaleWrites.Inc()
		s.logger.Debug("Rejected stale write", zap.String("key", key), zap.Error(err))
	}
}

// forward queues one task per peer replica on the worker pool. Forwarding is
// best effort; the rebalance copy repairs replicas that missed a write.
func (s *StorageService) forward(ctx context.Context, key string, op model.OperationType, send func(context.Context, string) error) {
	if !s.config.ForwardWrites || s.replicas == nil || s.forwarder == nil {
		return
	}

	for _, addr := range s.replicas.WriteReplicas(key) {
		addr := addr
		task := workerpool.Task{
			ID:      fmt.Sprintf("forward-%s-%s", op, addr),
			Context: context.WithoutCancel(ctx),
			Fn: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, s.config.ForwardTimeout)
				defer cancel()

				if err := send(ctx, addr); err != nil {
					s.metrics.ForwardsTotal.WithLabelValues("failure").Inc()
					return fmt.Errorf("forward %s of %q to %s: %w", op, key, addr, err)
				}
				s.metrics.ForwardsTotal.WithLabelValues("success").Inc()
				return nil
			},
		}
		if err := s.workerPool.Submit(task); err != nil {
			s.metrics.ForwardsTotal.WithLabelValues("dropped").Inc()
			s.logger.Warn("Dropped replica forward",
				zap.String("key", key),
				zap.String("peer", addr),
				zap.Error(err))
		}
	}
}
