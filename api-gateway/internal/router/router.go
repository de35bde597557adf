// Package router maps keys to storage nodes and retries requests across the
// replica set of a key.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/devrev/pairdb/api-gateway/internal/metrics"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

var (
	// ErrNoHashSpace is returned while no ring has been learned yet.
	ErrNoHashSpace = errors.New("hash space unknown")
	// ErrNoReplica is returned when offset skips past every active candidate.
	ErrNoReplica = errors.New("no active replica")
	// ErrExhausted is returned when every retry failed.
	ErrExhausted = errors.New("retries exhausted")
)

// HashSpaceSource hands out the current write and read ring seeds.
type HashSpaceSource interface {
	FetchHashSpace(ctx context.Context) (write, read hashring.Seed, err error)
}

// Config tunes routing and retries.
type Config struct {
	ReplicationFactor int
	MaxRetries        int
	RenewThreshold    int
	RenewInterval     time.Duration
}

// Router resolves keys against its copies of the write and read rings.
type Router struct {
	cfg     Config
	source  HashSpaceSource
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu    sync.RWMutex
	write *hashring.Ring
	read  *hashring.Ring

	renewals singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a router with empty rings.
func New(cfg Config, source HashSpaceSource, m *metrics.Metrics, logger *zap.Logger) *Router {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2 * (cfg.ReplicationFactor + 1)
	}
	if cfg.RenewThreshold <= 0 {
		cfg.RenewThreshold = cfg.ReplicationFactor + 1
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:     cfg,
		source:  source,
		metrics: m,
		logger:  logger,
		write:   hashring.New(nil, 0),
		read:    hashring.New(nil, 0),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start pulls the hash space once and keeps renewing it in the background.
// A failed first pull is not fatal; requests renew on demand.
func (r *Router) Start() {
	if err := r.Renew(r.ctx, "startup"); err != nil {
		r.logger.Warn("Initial hash space request failed", zap.Error(err))
	}

	r.wg.Add(1)
	go r.renewLoop()
}

// Stop halts the background renewal.
func (r *Router) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Router) renewLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Renew(r.ctx, "periodic"); err != nil {
				r.logger.Warn("Periodic hash space renewal failed", zap.Error(err))
			}
		}
	}
}

// Renew pulls fresh seeds from a coordinator and adopts them. Concurrent
// callers share one request.
func (r *Router) Renew(ctx context.Context, trigger string) error {
	_, err, _ := r.renewals.Do("renew", func() (any, error) {
		write, read, err := r.source.FetchHashSpace(context.WithoutCancel(ctx))
		r.metrics.RecordRingRenewal(trigger, err)
		if err != nil {
			return nil, err
		}
		r.Adopt(write, read)
		return nil, nil
	})
	return err
}

// Adopt merges both seeds into the local rings, keeping whichever side is
// newer for each ring. It reports whether either ring changed.
func (r *Router) Adopt(write, read hashring.Seed) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	if !write.Empty() && r.write.ShouldAdopt(write) && !r.sameRing(r.write, write) {
		r.write = hashring.FromSeed(write)
		changed = true
	}
	if !read.Empty() && r.read.ShouldAdopt(read) && !r.sameRing(r.read, read) {
		r.read = hashring.FromSeed(read)
		changed = true
	}

	if changed {
		r.logger.Info("Adopted hash space",
			zap.Stringer("write_ts", r.write.Timestamp()),
			zap.Stringer("read_ts", r.read.Timestamp()),
			zap.Int("write_nodes", r.write.Len()),
			zap.Int("read_nodes", r.read.Len()))
		r.publishGauges()
	}
	return changed
}

func (r *Router) sameRing(current *hashring.Ring, s hashring.Seed) bool {
	return current.Timestamp() == s.Timestamp && current.Equal(hashring.FromSeed(s))
}

func (r *Router) publishGauges() {
	for name, ring := range map[string]*hashring.Ring{"write": r.write, "read": r.read} {
		active := len(ring.ActiveNodes())
		r.metrics.SetRingNodes(name, active, ring.Len()-active)
	}
}

// Rings returns the current write and read rings. Callers must not mutate them.
func (r *Router) Rings() (write, read *hashring.Ring) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.write, r.read
}

// Ready reports whether a read ring is known.
func (r *Router) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.read.Empty()
}

// Resolve returns the node serving keyHash after skipping offset active
// candidates. Candidates are the first ReplicationFactor+1 distinct nodes
// clockwise from keyHash on the write ring for mutations and the read ring
// otherwise.
func (r *Router) Resolve(keyHash uint64, offset int, write bool) (string, error) {
	r.mu.RLock()
	ring := r.read
	if write {
		ring = r.write
	}
	r.mu.RUnlock()

	if ring.Empty() {
		return "", ErrNoHashSpace
	}

	skipped := 0
	for _, n := range ring.ReplicaSet(keyHash, r.cfg.ReplicationFactor) {
		if !n.Active {
			continue
		}
		if skipped == offset {
			return n.Addr, nil
		}
		skipped++
	}
	return "", ErrNoReplica
}

// Do runs fn against the replicas of key until it succeeds, fails with a
// non retryable error, or MaxRetries attempts were spent. Every failure moves
// to the next replica. After RenewThreshold consecutive failures, or once the
// candidates run out, the hash space is renewed and the walk starts over.
func (r *Router) Do(ctx context.Context, key []byte, write bool, fn func(ctx context.Context, addr string) error) error {
	op := "read"
	if write {
		op = "write"
	}

	h := hashring.HashKey(key)
	offset, failures := 0, 0
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			r.metrics.RecordRouteFailure(op, "canceled")
			return err
		}

		addr, err := r.Resolve(h, offset, write)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
		} else {
			r.metrics.RecordRouteAttempt(op, offset)
			err = fn(ctx, addr)
			if err == nil {
				return nil
			}
			if !pb.IsRetryable(err) {
				return err
			}
			r.logger.Debug("Replica request failed",
				zap.String("op", op),
				zap.String("node", addr),
				zap.Int("offset", offset),
				zap.Error(err))
			offset++
			lastErr = err
		}
		failures++

		exhausted := errors.Is(err, ErrNoReplica) || errors.Is(err, ErrNoHashSpace)
		if exhausted || failures >= r.cfg.RenewThreshold {
			if rerr := r.Renew(ctx, "failures"); rerr != nil {
				r.logger.Warn("Hash space renewal failed", zap.Error(rerr))
			}
			failures = 0
			if exhausted {
				offset = 0
			}
		}
	}

	r.metrics.RecordRouteFailure(op, "exhausted")
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, r.cfg.MaxRetries, lastErr)
}
