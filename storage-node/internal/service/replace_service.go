package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
	"github.com/devrev/pairdb/storage-node/internal/model"
	"github.com/devrev/pairdb/storage-node/internal/transfer"
	"github.com/devrev/pairdb/storage-node/internal/util/workerpool"
)

// Replace phases as reported in metrics and logs
const (
	phaseCopy   = "copy"
	phaseDelete = "delete"
)

// EntrySender streams entries to another node's bulk transfer port
type EntrySender interface {
	SendToNode(ctx context.Context, rpcAddr string, entries []model.Entry) error
}

// CoordinatorAPI is the subset of the coordinator client the participant needs
type CoordinatorAPI interface {
	FetchHashSpace(ctx context.Context) (write, read hashring.Seed, err error)
	ReplaceCopyEnd(ctx context.Context, coordinator string, epoch clock.Timestamp) (bool, error)
	ReplaceDeleteEnd(ctx context.Context, coordinator string, epoch clock.Timestamp) (bool, error)
}

// ParticipantConfig holds rebalance participation settings
type ParticipantConfig struct {
	SelfAddr          string
	ReplicationFactor int
	BatchSize         int
	SendTimeout       time.Duration
	MaxAttempts       int
	RetryBackoff      time.Duration
	AckTimeout        time.Duration
	AckRetries        int
	AckRetryInterval  time.Duration
	RefreshInterval   time.Duration
}

type phaseRun struct {
	epoch  clock.Timestamp
	done   bool
	failed bool
}

// Participant executes the data node side of the replace protocol: it holds
// the node's read and write ring snapshots, copies keys to their new owners
// on CopyStart and evicts keys the node no longer owns on DeleteStart.
type Participant struct {
	cfg     ParticipantConfig
	table   *MemTableService
	sender  EntrySender
	coord   CoordinatorAPI
	pool    *workerpool.WorkerPool
	clock   *clock.LogicalClock
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.RWMutex
	writeRing *hashring.Ring
	readRing  *hashring.Ring
	copyRun   phaseRun
	deleteRun phaseRun

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewParticipant creates a participant with empty rings
func NewParticipant(
	cfg ParticipantConfig,
	table *MemTableService,
	sender EntrySender,
	coord CoordinatorAPI,
	pool *workerpool.WorkerPool,
	clk *clock.LogicalClock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Participant {
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.AckRetries <= 0 {
		cfg.AckRetries = 1
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Participant{
		cfg:       cfg,
		table:     table,
		sender:    sender,
		coord:     coord,
		pool:      pool,
		clock:     clk,
		metrics:   m,
		logger:    logger,
		writeRing: hashring.New(nil, 0),
		readRing:  hashring.New(nil, 0),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start pulls the current rings and keeps refreshing them in the background
func (p *Participant) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		var ticker *time.Ticker
		if p.cfg.RefreshInterval > 0 {
			ticker = time.NewTicker(p.cfg.RefreshInterval)
			defer ticker.Stop()
		}
		for {
			ctx, cancel := context.WithTimeout(p.ctx, p.cfg.AckTimeout)
			if err := p.Refresh(ctx); err != nil {
				p.logger.Debug("Hash space refresh failed", zap.Error(err))
			}
			cancel()

			if ticker == nil {
				return
			}
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels background work and waits for running phases to return
func (p *Participant) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Refresh pulls both rings from a coordinator and merges them
func (p *Participant) Refresh(ctx context.Context) error {
	write, read, err := p.coord.FetchHashSpace(ctx)
	if err != nil {
		return err
	}
	p.AdoptHashSpace(write, read)
	return nil
}

// AdoptHashSpace merges both seeds, each independently, and reports whether
// either ring changed.
func (p *Participant) AdoptHashSpace(write, read hashring.Seed) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	adopted := false
	if !write.Empty() && p.writeRing.ShouldAdopt(write) {
		p.writeRing = hashring.FromSeed(write)
		p.metrics.RingAdoptions.WithLabelValues("write").Inc()
		adopted = true
	}
	if !read.Empty() && p.readRing.ShouldAdopt(read) {
		p.readRing = hashring.FromSeed(read)
		p.metrics.RingAdoptions.WithLabelValues("read").Inc()
		adopted = true
	}
	return adopted
}

// HandleHashSpaceSync applies a coordinator push
func (p *Participant) HandleHashSpaceSync(req *pb.HashSpaceSyncRequest) bool {
	p.clock.Update(req.Clock)
	adopted := p.AdoptHashSpace(req.Write, req.Read)
	if adopted {
		p.logger.Debug("Adopted hash space",
			zap.String("from", req.From),
			zap.Stringer("write", req.Write.Timestamp),
			zap.Stringer("read", req.Read.Timestamp))
	}
	return adopted
}

// Rings returns the current write and read ring snapshots
func (p *Participant) Rings() (write, read *hashring.Ring) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writeRing, p.readRing
}

// WriteReplicas returns the active replicas of key under the write ring,
// this node excluded.
func (p *Participant) WriteReplicas(key string) []string {
	p.mu.RLock()
	ring := p.writeRing
	p.mu.RUnlock()

	var out []string
	for _, n := range ring.ReplicaSet(hashring.HashString(key), p.cfg.ReplicationFactor) {
		if n.Active && n.Addr != p.cfg.SelfAddr {
			out = append(out, n.Addr)
		}
	}
	return out
}

// HandleCopyStart starts the copy phase for req.Epoch. It returns false when
// the epoch is older than one already seen.
func (p *Participant) HandleCopyStart(req *pb.ReplaceStartRequest) bool {
	p.clock.Update(req.Clock)

	p.mu.Lock()
	start, resend, ok := p.claimLocked(&p.copyRun, req.Epoch)
	if !ok {
		p.mu.Unlock()
		p.metrics.ReplaceStarts.WithLabelValues(phaseCopy, "obsolete").Inc()
		return false
	}
	oldRing := p.readRing
	newRing := hashring.FromSeed(req.Seed)
	if p.writeRing.ShouldAdopt(req.Seed) {
		p.writeRing = newRing
	}
	p.mu.Unlock()

	switch {
	case resend:
		p.metrics.ReplaceStarts.WithLabelValues(phaseCopy, "resend").Inc()
		p.goAck(phaseCopy, req.Coordinator, req.Epoch)
	case start:
		p.metrics.ReplaceStarts.WithLabelValues(phaseCopy, "started").Inc()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runCopy(req.Coordinator, req.Epoch, oldRing, newRing)
		}()
	default:
		p.metrics.ReplaceStarts.WithLabelValues(phaseCopy, "running").Inc()
	}
	return true
}

// HandleDeleteStart starts the delete phase for req.Epoch. It returns false
// when the epoch is older than one already seen.
func (p *Participant) HandleDeleteStart(req *pb.ReplaceStartRequest) bool {
	p.clock.Update(req.Clock)

	p.mu.Lock()
	start, resend, ok := p.claimLocked(&p.deleteRun, req.Epoch)
	if !ok {
		p.mu.Unlock()
		p.metrics.ReplaceStarts.WithLabelValues(phaseDelete, "obsolete").Inc()
		return false
	}
	ring := hashring.FromSeed(req.Seed)
	if p.writeRing.ShouldAdopt(req.Seed) {
		p.writeRing = ring
	}
	if p.readRing.ShouldAdopt(req.Seed) {
		p.readRing = ring
	}
	p.mu.Unlock()

	switch {
	case resend:
		p.metrics.ReplaceStarts.WithLabelValues(phaseDelete, "resend").Inc()
		p.goAck(phaseDelete, req.Coordinator, req.Epoch)
	case start:
		p.metrics.ReplaceStarts.WithLabelValues(phaseDelete, "started").Inc()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runDelete(req.Coordinator, req.Epoch, ring)
		}()
	default:
		p.metrics.ReplaceStarts.WithLabelValues(phaseDelete, "running").Inc()
	}
	return true
}

// claimLocked matches epoch against the last run of a phase. A newer epoch
// or the epoch of a failed run starts a run. The epoch of a finished run only
// re-sends its ack, a running one is ignored and an older one is obsolete.
func (p *Participant) claimLocked(run *phaseRun, epoch clock.Timestamp) (start, resend, ok bool) {
	switch {
	case run.epoch.IsZero() || epoch.After(run.epoch):
		*run = phaseRun{epoch: epoch}
		return true, false, true
	case epoch == run.epoch && run.failed:
		run.failed = false
		return true, false, true
	case epoch == run.epoch:
		return false, run.done, true
	default:
		return false, false, false
	}
}

func (p *Participant) finish(run *phaseRun, epoch clock.Timestamp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run.epoch == epoch {
		run.done = true
	}
}

// copyPlan maps target node addresses to the entries they must receive.
// Only active members of the old replica set count as holders, so a node
// that comes back from a fault is sent its keys again.
func (p *Participant) copyPlan(oldRing, newRing *hashring.Ring) map[string][]model.Entry {
	rf := p.cfg.ReplicationFactor
	plan := make(map[string][]model.Entry)

	for _, e := range p.table.Snapshot() {
		if e.Evicted {
			continue
		}
		h := hashring.HashString(e.Key)
		oldSet := activeOnly(oldRing.ReplicaSet(h, rf))

		if !p.designatedSender(oldSet, newRing) {
			continue
		}
		holders := make(map[string]bool, len(oldSet))
		if containsAddr(oldSet, p.cfg.SelfAddr) {
			for _, n := range oldSet {
				holders[n.Addr] = true
			}
		}
		holders[p.cfg.SelfAddr] = true

		for _, n := range newRing.ReplicaSet(h, rf) {
			if !n.Active || holders[n.Addr] {
				continue
			}
			plan[n.Addr] = append(plan[n.Addr], e)
		}
	}
	return plan
}

// designatedSender reports whether this node streams a key whose active old
// replicas are oldSet. The first of them still active in the new ring sends.
// A node holding a key outside its old replica set always sends it, as does
// the last holder when no old replica survives.
func (p *Participant) designatedSender(oldSet []hashring.Node, newRing *hashring.Ring) bool {
	if !containsAddr(oldSet, p.cfg.SelfAddr) {
		return true
	}
	for _, n := range oldSet {
		if newRing.IsActive(n.Addr) {
			return n.Addr == p.cfg.SelfAddr
		}
	}
	return true
}

func (p *Participant) runCopy(coordinator string, epoch clock.Timestamp, oldRing, newRing *hashring.Ring) {
	start := time.Now()
	plan := p.copyPlan(oldRing, newRing)

	group := p.pool.NewGroup()
	keys := 0
	for target, entries := range plan {
		target, entries := target, entries
		keys += len(entries)
		group.Go(p.ctx, "copy-"+target, func(ctx context.Context) error {
			return p.sendWithRetry(ctx, target, entries)
		})
	}
	if err := group.Wait(); err != nil {
		p.metrics.ReplacePhaseDuration.WithLabelValues(phaseCopy).Observe(time.Since(start).Seconds())
		p.logger.Warn("Copy phase incomplete, waiting for the coordinator to retry",
			zap.Stringer("epoch", epoch),
			zap.Error(err))
		p.fail(&p.copyRun, epoch)
		return
	}

	p.metrics.KeysCopied.Add(float64(keys))
	p.metrics.ReplacePhaseDuration.WithLabelValues(phaseCopy).Observe(time.Since(start).Seconds())
	p.logger.Info("Copy phase finished",
		zap.Stringer("epoch", epoch),
		zap.Int("targets", len(plan)),
		zap.Int("keys", keys),
		zap.Duration("duration", time.Since(start)))

	p.finish(&p.copyRun, epoch)
	p.ack(phaseCopy, coordinator, epoch)
}

// fail marks a run so a resent start for the same epoch retries it
func (p *Participant) fail(run *phaseRun, epoch clock.Timestamp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run.epoch == epoch {
		run.failed = true
	}
}

func (p *Participant) sendWithRetry(ctx context.Context, target string, entries []model.Entry) error {
	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err = p.sendBatches(ctx, target, entries); err == nil {
			p.metrics.TransferTasks.WithLabelValues("success").Inc()
			return nil
		}
		p.logger.Warn("Transfer attempt failed",
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			p.metrics.TransferTasks.WithLabelValues("canceled").Inc()
			return ctx.Err()
		case <-time.After(p.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	p.metrics.TransferTasks.WithLabelValues("failure").Inc()
	return fmt.Errorf("transfer to %s failed after %d attempts: %w", target, p.cfg.MaxAttempts, err)
}

func (p *Participant) sendBatches(ctx context.Context, target string, entries []model.Entry) error {
	for len(entries) > 0 {
		n := min(len(entries), p.cfg.BatchSize)
		sendCtx, cancel := p.sendContext(ctx)
		err := p.sender.SendToNode(sendCtx, target, entries[:n])
		cancel()
		if err != nil {
			return err
		}
		entries = entries[n:]
	}
	return nil
}

func (p *Participant) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.SendTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.SendTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Participant) runDelete(coordinator string, epoch clock.Timestamp, ring *hashring.Ring) {
	start := time.Now()
	rf := p.cfg.ReplicationFactor
	evicted := 0
	for _, e := range p.table.Snapshot() {
		if e.Tombstone {
			continue
		}
		if containsAddr(ring.ReplicaSet(hashring.HashString(e.Key), rf), p.cfg.SelfAddr) {
			continue
		}
		if p.table.Evict(e.Key, p.clock.Now()) {
			evicted++
		}
	}

	p.metrics.KeysEvicted.Add(float64(evicted))
	p.metrics.ReplacePhaseDuration.WithLabelValues(phaseDelete).Observe(time.Since(start).Seconds())
	p.logger.Info("Delete phase finished",
		zap.Stringer("epoch", epoch),
		zap.Int("evicted", evicted),
		zap.Duration("duration", time.Since(start)))

	p.finish(&p.deleteRun, epoch)
	p.ack(phaseDelete, coordinator, epoch)
}

func (p *Participant) goAck(phase, coordinator string, epoch clock.Timestamp) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.ack(phase, coordinator, epoch)
	}()
}

// ack reports the end of a phase, retrying while the coordinator is unreachable
func (p *Participant) ack(phase, coordinator string, epoch clock.Timestamp) {
	for attempt := 1; attempt <= p.cfg.AckRetries; attempt++ {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.AckTimeout)
		var accepted bool
		var err error
		if phase == phaseCopy {
			accepted, err = p.coord.ReplaceCopyEnd(ctx, coordinator, epoch)
		} else {
			accepted, err = p.coord.ReplaceDeleteEnd(ctx, coordinator, epoch)
		}
		cancel()

		if err == nil {
			result := "accepted"
			if !accepted {
				result = "obsolete"
			}
			p.metrics.ReplaceAcks.WithLabelValues(phase, result).Inc()
			return
		}

		p.metrics.ReplaceAcks.WithLabelValues(phase, "error").Inc()
		p.logger.Warn("Failed to acknowledge phase end",
			zap.String("phase", phase),
			zap.String("coordinator", coordinator),
			zap.Stringer("epoch", epoch),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.cfg.AckRetryInterval):
		}
	}
}

// Sink returns the bulk transfer sink that stores copied entries
func (p *Participant) Sink() transfer.Sink {
	return restoreSink{table: p.table}
}

type restoreSink struct {
	table *MemTableService
}

func (s restoreSink) Put(e model.Entry) error {
	return s.table.Restore(e)
}

func activeOnly(nodes []hashring.Node) []hashring.Node {
	out := make([]hashring.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Active {
			out = append(out, n)
		}
	}
	return out
}

func containsAddr(nodes []hashring.Node, addr string) bool {
	for _, n := range nodes {
		if n.Addr == addr {
			return true
		}
	}
	return false
}
