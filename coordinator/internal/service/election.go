package service

import (
	"context"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// compareAddr orders coordinator addresses. IP:port pairs compare
// numerically, anything else lexically.
func compareAddr(a, b string) int {
	x, errA := netip.ParseAddrPort(a)
	y, errB := netip.ParseAddrPort(b)
	if errA == nil && errB == nil {
		if c := x.Addr().Compare(y.Addr()); c != 0 {
			return c
		}
		switch {
		case x.Port() < y.Port():
			return -1
		case x.Port() > y.Port():
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// authoritative reports whether this coordinator drives replaces without asking.
func (m *Manager) authoritative() bool {
	return m.partner == nil || compareAddr(m.cfg.SelfAddr, m.cfg.PartnerAddr) < 0
}

// ReplaceElection decides who drives the next replace. The coordinator with
// the smaller address starts it directly; the other one delegates to its
// partner and self-elects when the partner is unreachable or declines.
func (m *Manager) ReplaceElection(ctx context.Context) {
	if m.authoritative() {
		m.StartReplace(ctx)
		return
	}

	m.mu.RLock()
	req := &pb.ReplaceElectionRequest{
		From:  m.cfg.SelfAddr,
		Seed:  m.writeRing.Seed(),
		Clock: m.clock.Increment(),
	}
	m.mu.RUnlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	accepted, err := m.partner.ReplaceElection(callCtx, req)
	cancel()

	switch {
	case err != nil:
		m.logger.Warn("Partner unreachable for replace election, self-electing",
			zap.String("partner", m.cfg.PartnerAddr), zap.Error(err))
	case !accepted:
		m.logger.Info("Partner declined replace election, self-electing",
			zap.String("partner", m.cfg.PartnerAddr))
	default:
		m.logger.Info("Replace delegated to partner", zap.String("partner", m.cfg.PartnerAddr))
		m.mu.Lock()
		m.countdown = 0
		m.mu.Unlock()
		return
	}
	m.StartReplace(ctx)
}

// HandleReplaceElection answers a partner's delegation. It declines when the
// partner's write ring is older than the local one.
func (m *Manager) HandleReplaceElection(ctx context.Context, req *pb.ReplaceElectionRequest) bool {
	m.clock.Update(req.Clock)

	m.mu.Lock()
	if !m.writeRing.Empty() && req.Seed.Timestamp.Before(m.writeRing.Timestamp()) {
		m.mu.Unlock()
		m.logger.Info("Rejected obsolete replace election",
			zap.String("from", req.From),
			zap.Stringer("incoming", req.Seed.Timestamp),
			zap.Stringer("local", m.writeRing.Timestamp()))
		return false
	}

	if !req.Seed.Empty() {
		incoming := hashring.FromSeed(req.Seed)
		if !incoming.Equal(m.writeRing) {
			m.setWriteRingLocked(incoming)
			m.promoteIncorporatedLocked()
		}
	}

	busy := m.phase != PhaseIdle && !m.pendingChangesLocked()
	m.mu.Unlock()

	if busy {
		m.logger.Debug("Replace already running, election accepted", zap.String("from", req.From))
		return true
	}
	m.StartReplace(ctx)
	return true
}
