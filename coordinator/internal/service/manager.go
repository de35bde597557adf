package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/pairdb/coordinator/internal/metrics"
	"github.com/devrev/pairdb/coordinator/internal/store"
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// Phase is the state of the replace protocol.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCopy
	PhaseDelete
)

func (p Phase) String() string {
	switch p {
	case PhaseCopy:
		return "copy"
	case PhaseDelete:
		return "delete"
	default:
		return "idle"
	}
}

// PartnerClient reaches the partner coordinator.
type PartnerClient interface {
	KeepAlive(ctx context.Context, req *pb.KeepAliveRequest) error
	HashSpaceSync(ctx context.Context, req *pb.HashSpaceSyncRequest) (bool, error)
	ReplaceElection(ctx context.Context, req *pb.ReplaceElectionRequest) (bool, error)
}

// DataNodeClient reaches data nodes by address.
type DataNodeClient interface {
	HashSpaceSync(ctx context.Context, addr string, req *pb.HashSpaceSyncRequest) (bool, error)
	ReplaceCopyStart(ctx context.Context, addr string, req *pb.ReplaceStartRequest) error
	ReplaceDeleteStart(ctx context.Context, addr string, req *pb.ReplaceStartRequest) error
	Forget(addr string)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	SelfAddr              string
	PartnerAddr           string
	AutoReplace           bool
	ReplaceDelaySteps     int
	PartnerSyncSteps      int
	KeepAliveTimeoutSteps int
	StepInterval          time.Duration
	RPCTimeout            time.Duration
	BroadcastConcurrency  int
}

// Status is a snapshot of the coordinator state.
type Status struct {
	Write     hashring.Seed
	Read      hashring.Seed
	Joined    []string
	Newcomers []string
	Phase     Phase
	Epoch     clock.Timestamp
	Remaining []string
}

// Manager owns the write and read rings, tracks data node membership and
// drives the two-phase replace protocol (copy, flip read ring, delete).
type Manager struct {
	cfg     ManagerConfig
	clock   *clock.LogicalClock
	partner PartnerClient
	nodes   DataNodeClient
	seeds   store.SeedStore
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.RWMutex
	writeRing *hashring.Ring
	readRing  *hashring.Ring
	members   *MembershipTable
	phase     Phase
	progress  *ReplaceProgress
	startedAt time.Time
	countdown int
	syncIn    int
	step      uint64
	resend    map[string]struct{}

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager. partner is nil when no partner coordinator
// is configured; seeds may be nil to disable persistence.
func NewManager(
	cfg ManagerConfig,
	clk *clock.LogicalClock,
	partner PartnerClient,
	nodes DataNodeClient,
	seeds store.SeedStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Manager {
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 5 * time.Second
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = time.Second
	}
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = 16
	}
	if cfg.PartnerAddr == "" {
		partner = nil
	}

	return &Manager{
		cfg:       cfg,
		clock:     clk,
		partner:   partner,
		nodes:     nodes,
		seeds:     seeds,
		metrics:   m,
		logger:    logger,
		writeRing: hashring.New(nil, 0),
		readRing:  hashring.New(nil, 0),
		members:   NewMembershipTable(),
		progress:  NewReplaceProgress(),
		syncIn:    cfg.PartnerSyncSteps,
		resend:    make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Restore loads the last persisted rings. Every active node of the restored
// write ring is treated as joined until its keepalive times out.
func (m *Manager) Restore(ctx context.Context) error {
	if m.seeds == nil {
		return nil
	}
	write, read, err := m.seeds.LoadSeeds(ctx)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Info("No persisted rings found, starting empty")
		return nil
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.setWriteRingLocked(hashring.FromSeed(write))
	m.setReadRingLocked(hashring.FromSeed(read))
	for _, addr := range m.writeRing.ActiveNodes() {
		m.members.AddJoined(addr, m.step)
	}
	m.updateMembershipGaugesLocked()

	m.logger.Info("Restored rings",
		zap.Int("write_nodes", m.writeRing.Len()),
		zap.Stringer("write_ts", write.Timestamp),
		zap.Int("read_nodes", m.readRing.Len()),
		zap.Stringer("read_ts", read.Timestamp))
	return nil
}

// Start runs the tick loop until Stop is called.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.StepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Tick(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends the tick loop and waits for in-flight broadcasts.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Tick advances the step counter: it expires silent members, counts down the
// replace debounce and pushes the periodic partner sync.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	m.step++
	expired := m.members.Expired(m.step, uint64(m.cfg.KeepAliveTimeoutSteps))

	fire := false
	if m.countdown > 0 {
		m.countdown--
		fire = m.countdown == 0
	}

	syncDue := false
	if m.cfg.PartnerSyncSteps > 0 {
		m.syncIn--
		if m.syncIn <= 0 {
			m.syncIn = m.cfg.PartnerSyncSteps
			syncDue = true
		}
	}
	var syncReq *pb.HashSpaceSyncRequest
	if syncDue {
		syncReq = m.syncRequestLocked()
	}
	m.mu.Unlock()

	for _, addr := range expired {
		m.logger.Warn("Data node keepalive timed out", zap.String("node", addr))
		m.NodeLost(ctx, addr)
	}

	if fire {
		m.goAsync(func() { m.ReplaceElection(context.Background()) })
	}

	if m.partner != nil {
		if syncReq != nil {
			m.pushPartner(syncReq)
		}
		m.keepAlivePartner()
	}
}

// NodeJoined records a connecting data node. Unknown nodes become newcomers
// and, with auto replace on, (re)arm the replace debounce.
func (m *Manager) NodeJoined(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.members.Touch(addr, m.step) {
		return
	}
	if m.writeRing.IsActive(addr) {
		m.members.AddJoined(addr, m.step)
		m.updateMembershipGaugesLocked()
		m.logger.Info("Data node reconnected", zap.String("node", addr))
		return
	}

	m.members.AddNewcomer(addr, m.step)
	m.updateMembershipGaugesLocked()
	m.logger.Info("Data node joined", zap.String("node", addr), zap.Bool("auto_replace", m.cfg.AutoReplace))
	if m.cfg.AutoReplace {
		m.armLocked()
	}
}

// NodeLost marks a data node faulty on both rings. An in-flight replace epoch
// is invalidated. With auto replace on, the debounce is re-armed; otherwise
// the new rings are pushed to the partner and every data node right away.
func (m *Manager) NodeLost(ctx context.Context, addr string) {
	m.mu.Lock()
	known := m.members.Remove(addr)
	delete(m.resend, addr)
	m.updateMembershipGaugesLocked()

	if !m.writeRing.IsActive(addr) && !m.readRing.IsActive(addr) {
		m.mu.Unlock()
		m.nodes.Forget(addr)
		if known {
			m.logger.Info("Newcomer disconnected before joining the ring", zap.String("node", addr))
		}
		return
	}

	ts := m.clock.Now()
	if next, ok := markFault(m.writeRing, addr, ts); ok {
		m.setWriteRingLocked(next)
	}
	if next, ok := markFault(m.readRing, addr, ts); ok {
		m.setReadRingLocked(next)
	}
	if m.phase != PhaseIdle {
		m.invalidateLocked("node lost")
	}

	auto := m.cfg.AutoReplace
	if auto {
		m.armLocked()
	}
	req := m.syncRequestLocked()
	targets := m.writeRing.ActiveNodes()
	write, read := m.writeRing.Seed(), m.readRing.Seed()
	m.mu.Unlock()

	m.logger.Warn("Data node marked faulty", zap.String("node", addr), zap.Stringer("ts", ts))
	m.nodes.Forget(addr)
	m.persist(write, read)

	if !auto {
		m.syncAll(ctx, req, targets)
	}
}

// StartReplace incorporates every newcomer, drops every faulty node from the
// write ring and broadcasts CopyStart for a fresh epoch.
func (m *Manager) StartReplace(ctx context.Context) clock.Timestamp {
	m.mu.Lock()
	next := m.writeRing.Clone()
	newcomers := m.members.PromoteNewcomers()
	for _, addr := range newcomers {
		if _, ok := next.Node(addr); ok {
			_ = next.MarkRecovered(addr)
		} else {
			_ = next.AddNode(addr)
		}
	}
	removed := next.RemoveAllFaulty()

	epoch := m.clock.Now()
	next.SetTimestamp(epoch)
	m.setWriteRingLocked(next)
	m.countdown = 0
	m.resend = make(map[string]struct{})

	active := next.ActiveNodes()
	m.progress.Reset(epoch, active)
	m.phase = PhaseCopy
	m.startedAt = time.Now()
	m.metrics.ReplaceStarted.Inc()
	m.updateMembershipGaugesLocked()

	if len(active) == 0 {
		m.setReadRingLocked(next.Clone())
		m.progress.Invalidate()
		m.phase = PhaseIdle
	}
	m.metrics.ReplacePhase.Set(float64(m.phase))

	req := &pb.ReplaceStartRequest{
		Coordinator: m.cfg.SelfAddr,
		Seed:        next.Seed(),
		Epoch:       epoch,
		Clock:       m.clock.Get(),
	}
	syncReq := m.syncRequestLocked()
	write, read := m.writeRing.Seed(), m.readRing.Seed()
	m.mu.Unlock()

	m.logger.Info("Replace started",
		zap.Stringer("epoch", epoch),
		zap.Strings("added", newcomers),
		zap.Int("removed_faulty", removed),
		zap.Int("active_nodes", len(active)))

	m.persist(write, read)
	m.broadcast("ReplaceCopyStart", active, func(ctx context.Context, addr string) error {
		return m.nodes.ReplaceCopyStart(ctx, addr, req)
	})
	if m.partner != nil {
		m.pushPartner(syncReq)
	}
	return epoch
}

// HandleCopyEnd records a CopyEnd. When every node copied for the live epoch
// the read ring becomes the write ring and DeleteStart is broadcast.
// It returns false for acknowledgements of a dead epoch.
func (m *Manager) HandleCopyEnd(addr string, epoch clock.Timestamp, c clock.Clock) bool {
	m.clock.Update(c)

	m.mu.Lock()
	if m.phase != PhaseCopy || epoch != m.progress.Epoch() {
		m.mu.Unlock()
		m.metrics.StaleAcks.WithLabelValues(PhaseCopy.String()).Inc()
		m.logger.Debug("Ignoring stale CopyEnd", zap.String("node", addr), zap.Stringer("epoch", epoch))
		return false
	}
	if !m.progress.Pop(addr, epoch) {
		m.mu.Unlock()
		return true
	}

	m.setReadRingLocked(m.writeRing.Clone())
	m.phase = PhaseDelete
	m.metrics.ReplacePhase.Set(float64(m.phase))
	active := m.writeRing.ActiveNodes()
	m.progress.Reset(epoch, active)
	delete(m.resend, addr)

	req := &pb.ReplaceStartRequest{
		Coordinator: m.cfg.SelfAddr,
		Seed:        m.writeRing.Seed(),
		Epoch:       epoch,
		Clock:       m.clock.Increment(),
	}
	syncReq := m.syncRequestLocked()
	write, read := m.writeRing.Seed(), m.readRing.Seed()
	m.mu.Unlock()

	m.logger.Info("Copy phase finished, read ring switched", zap.Stringer("epoch", epoch))
	m.persist(write, read)
	m.broadcast("ReplaceDeleteStart", active, func(ctx context.Context, addr string) error {
		return m.nodes.ReplaceDeleteStart(ctx, addr, req)
	})
	if m.partner != nil {
		m.pushPartner(syncReq)
	}
	return true
}

// HandleDeleteEnd records a DeleteEnd and closes the epoch once every node
// finished deleting.
func (m *Manager) HandleDeleteEnd(addr string, epoch clock.Timestamp, c clock.Clock) bool {
	m.clock.Update(c)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseDelete || epoch != m.progress.Epoch() {
		m.metrics.StaleAcks.WithLabelValues(PhaseDelete.String()).Inc()
		m.logger.Debug("Ignoring stale DeleteEnd", zap.String("node", addr), zap.Stringer("epoch", epoch))
		return false
	}
	if !m.progress.Pop(addr, epoch) {
		return true
	}

	m.phase = PhaseIdle
	m.progress.Invalidate()
	m.metrics.ReplacePhase.Set(float64(m.phase))
	m.metrics.ReplaceCompleted.Inc()
	m.metrics.ReplaceDuration.Observe(time.Since(m.startedAt).Seconds())
	m.logger.Info("Replace completed",
		zap.Stringer("epoch", epoch),
		zap.Duration("duration", time.Since(m.startedAt)))
	return true
}

// HandleHashSpaceSync merges the partner's rings, each one independently.
// It reports whether either ring was adopted.
func (m *Manager) HandleHashSpaceSync(req *pb.HashSpaceSyncRequest) bool {
	m.clock.Update(req.Clock)

	m.mu.Lock()
	writeAdopted := adopt(m.writeRing, req.Write)
	readAdopted := adopt(m.readRing, req.Read)
	if writeAdopted {
		m.setWriteRingLocked(hashring.FromSeed(req.Write))
		m.metrics.RingAdoptions.WithLabelValues("write").Inc()
		if m.phase != PhaseIdle && req.Write.Timestamp.After(m.progress.Epoch()) {
			m.invalidateLocked("partner published a newer write ring")
		}
		m.promoteIncorporatedLocked()
		switch {
		case !m.pendingChangesLocked():
			m.countdown = 0
		case m.cfg.AutoReplace && m.countdown == 0:
			m.armLocked()
		}
	}
	if readAdopted {
		m.setReadRingLocked(hashring.FromSeed(req.Read))
		m.metrics.RingAdoptions.WithLabelValues("read").Inc()
	}
	write, read := m.writeRing.Seed(), m.readRing.Seed()
	m.mu.Unlock()

	if writeAdopted || readAdopted {
		m.logger.Info("Adopted rings from partner",
			zap.String("from", req.From),
			zap.Bool("write", writeAdopted),
			zap.Bool("read", readAdopted))
		m.persist(write, read)
	}
	return writeAdopted || readAdopted
}

// HandleKeepAlive refreshes a peer. A keepalive from an unknown data node is
// its join; a data node that missed a start message gets it again.
func (m *Manager) HandleKeepAlive(req *pb.KeepAliveRequest) clock.Clock {
	m.clock.Update(req.Clock)

	if req.Role == pb.RoleCoordinator {
		return m.clock.Get()
	}

	m.NodeJoined(req.Addr)
	m.resendStart(req.Addr)
	return m.clock.Get()
}

// HashSpace returns the current write and read seeds.
func (m *Manager) HashSpace() (write, read hashring.Seed) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writeRing.Seed(), m.readRing.Seed()
}

// Clock returns the logical clock value.
func (m *Manager) Clock() clock.Clock { return m.clock.Get() }

// Status returns a snapshot for operators.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Write:     m.writeRing.Seed(),
		Read:      m.readRing.Seed(),
		Joined:    m.members.Joined(),
		Newcomers: m.members.Newcomers(),
		Phase:     m.phase,
		Epoch:     m.progress.Epoch(),
		Remaining: m.progress.Remaining(),
	}
}

func (m *Manager) armLocked() {
	steps := m.cfg.ReplaceDelaySteps
	if steps <= 0 {
		steps = 1
	}
	m.countdown = steps
}

func (m *Manager) invalidateLocked(reason string) {
	m.logger.Warn("Replace epoch invalidated",
		zap.Stringer("epoch", m.progress.Epoch()),
		zap.Stringer("phase", m.phase),
		zap.String("reason", reason))
	m.progress.Invalidate()
	m.phase = PhaseIdle
	m.resend = make(map[string]struct{})
	m.metrics.ReplacePhase.Set(float64(m.phase))
	m.metrics.ReplaceInvalidated.Inc()
}

// pendingChangesLocked reports whether the write ring still needs a replace.
func (m *Manager) pendingChangesLocked() bool {
	if m.members.HasNewcomers() {
		return true
	}
	for _, n := range m.writeRing.Nodes() {
		if !n.Active {
			return true
		}
	}
	return false
}

// promoteIncorporatedLocked moves newcomers already active on the write ring
// into the joined set.
func (m *Manager) promoteIncorporatedLocked() {
	for _, addr := range m.members.Newcomers() {
		if m.writeRing.IsActive(addr) {
			m.members.AddJoined(addr, m.step)
		}
	}
	m.updateMembershipGaugesLocked()
}

func (m *Manager) setWriteRingLocked(r *hashring.Ring) {
	m.writeRing = r
	m.updateRingGauges("write", r)
}

func (m *Manager) setReadRingLocked(r *hashring.Ring) {
	m.readRing = r
	m.updateRingGauges("read", r)
}

func (m *Manager) updateRingGauges(name string, r *hashring.Ring) {
	active := len(r.ActiveNodes())
	m.metrics.RingNodes.WithLabelValues(name, "active").Set(float64(active))
	m.metrics.RingNodes.WithLabelValues(name, "faulty").Set(float64(r.Len() - active))
}

func (m *Manager) updateMembershipGaugesLocked() {
	m.metrics.MembershipSize.WithLabelValues("joined").Set(float64(len(m.members.joined)))
	m.metrics.MembershipSize.WithLabelValues("newcomer").Set(float64(len(m.members.newcomers)))
}

func (m *Manager) syncRequestLocked() *pb.HashSpaceSyncRequest {
	return &pb.HashSpaceSyncRequest{
		From:  m.cfg.SelfAddr,
		Write: m.writeRing.Seed(),
		Read:  m.readRing.Seed(),
		Clock: m.clock.Increment(),
	}
}

// markFault returns a faulted copy of r, or false when addr is not active on r.
func markFault(r *hashring.Ring, addr string, ts clock.Timestamp) (*hashring.Ring, bool) {
	if !r.IsActive(addr) {
		return r, false
	}
	next := r.Clone()
	_ = next.MarkFault(addr)
	next.SetTimestamp(ts)
	return next, true
}

// adopt applies the ring merge rule and skips seeds identical to the local ring.
func adopt(local *hashring.Ring, incoming hashring.Seed) bool {
	if !local.ShouldAdopt(incoming) {
		return false
	}
	if local.Timestamp() == incoming.Timestamp && local.Equal(hashring.FromSeed(incoming)) {
		return false
	}
	return true
}

func (m *Manager) persist(write, read hashring.Seed) {
	if m.seeds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RPCTimeout)
	defer cancel()
	if err := m.seeds.SaveSeeds(ctx, write, read); err != nil {
		m.logger.Error("Failed to persist rings", zap.Error(err))
	}
}

func (m *Manager) goAsync(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// broadcast sends to every address in the background. A failed node does not
// hold back the others; it is re-sent its start message on its next keepalive.
func (m *Manager) broadcast(method string, addrs []string, send func(ctx context.Context, addr string) error) {
	if len(addrs) == 0 {
		return
	}
	m.goAsync(func() {
		var g errgroup.Group
		g.SetLimit(m.cfg.BroadcastConcurrency)
		for _, addr := range addrs {
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RPCTimeout)
				defer cancel()
				if err := send(ctx, addr); err != nil {
					m.metrics.RPCErrors.WithLabelValues(method).Inc()
					m.logger.Warn("Broadcast failed",
						zap.String("method", method),
						zap.String("node", addr),
						zap.Error(err))
					m.mu.Lock()
					m.resend[addr] = struct{}{}
					m.mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	})
}

// resendStart re-sends the live phase's start message to addr if an earlier
// broadcast to it failed.
func (m *Manager) resendStart(addr string) {
	m.mu.Lock()
	if _, ok := m.resend[addr]; !ok || m.phase == PhaseIdle || !m.progress.Contains(addr) {
		m.mu.Unlock()
		return
	}
	delete(m.resend, addr)
	phase := m.phase
	req := &pb.ReplaceStartRequest{
		Coordinator: m.cfg.SelfAddr,
		Seed:        m.writeRing.Seed(),
		Epoch:       m.progress.Epoch(),
		Clock:       m.clock.Increment(),
	}
	m.mu.Unlock()

	m.logger.Info("Re-sending replace start", zap.String("node", addr), zap.Stringer("phase", phase))
	if phase == PhaseCopy {
		m.broadcast("ReplaceCopyStart", []string{addr}, func(ctx context.Context, addr string) error {
			return m.nodes.ReplaceCopyStart(ctx, addr, req)
		})
		return
	}
	m.broadcast("ReplaceDeleteStart", []string{addr}, func(ctx context.Context, addr string) error {
		return m.nodes.ReplaceDeleteStart(ctx, addr, req)
	})
}

func (m *Manager) pushPartner(req *pb.HashSpaceSyncRequest) {
	m.goAsync(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RPCTimeout)
		defer cancel()
		if _, err := m.partner.HashSpaceSync(ctx, req); err != nil {
			m.metrics.RPCErrors.WithLabelValues("HashSpaceSync").Inc()
			m.logger.Debug("Partner sync failed", zap.String("partner", m.cfg.PartnerAddr), zap.Error(err))
		}
	})
}

func (m *Manager) keepAlivePartner() {
	req := &pb.KeepAliveRequest{Addr: m.cfg.SelfAddr, Role: pb.RoleCoordinator, Clock: m.clock.Get()}
	m.goAsync(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RPCTimeout)
		defer cancel()
		if err := m.partner.KeepAlive(ctx, req); err != nil {
			m.logger.Debug("Partner keepalive failed", zap.String("partner", m.cfg.PartnerAddr), zap.Error(err))
		}
	})
}

// syncAll pushes rings to the partner and every target and waits for all of them.
func (m *Manager) syncAll(ctx context.Context, req *pb.HashSpaceSyncRequest, targets []string) {
	var g errgroup.Group
	g.SetLimit(m.cfg.BroadcastConcurrency)

	if m.partner != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
			defer cancel()
			if _, err := m.partner.HashSpaceSync(callCtx, req); err != nil {
				m.logger.Warn("Partner sync failed", zap.Error(err))
			}
			return nil
		})
	}
	for _, addr := range targets {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
			defer cancel()
			if _, err := m.nodes.HashSpaceSync(callCtx, addr, req); err != nil {
				m.metrics.RPCErrors.WithLabelValues("HashSpaceSync").Inc()
				m.logger.Warn("Data node sync failed", zap.String("node", addr), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
