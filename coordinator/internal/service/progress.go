package service

import (
	"sort"

	"github.com/devrev/pairdb/pkg/clock"
)

// ReplaceProgress tracks which data nodes still owe an acknowledgement for
// the current phase of a replace epoch. It is guarded by the Manager lock.
type ReplaceProgress struct {
	epoch     clock.Timestamp
	remaining map[string]struct{}
}

// NewReplaceProgress returns an invalidated progress.
func NewReplaceProgress() *ReplaceProgress {
	return &ReplaceProgress{remaining: make(map[string]struct{})}
}

// Reset arms the progress for epoch, waiting on every address in addrs.
func (p *ReplaceProgress) Reset(epoch clock.Timestamp, addrs []string) {
	p.epoch = epoch
	p.remaining = make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		p.remaining[a] = struct{}{}
	}
}

// Pop removes addr for a matching epoch and reports whether the phase just
// finished. Acks for another epoch, unknown senders and duplicates are ignored.
func (p *ReplaceProgress) Pop(addr string, epoch clock.Timestamp) bool {
	if p.epoch.IsZero() || epoch != p.epoch {
		return false
	}
	if _, ok := p.remaining[addr]; !ok {
		return false
	}
	delete(p.remaining, addr)
	return len(p.remaining) == 0
}

// Invalidate drops the epoch so no late acknowledgement can finish it.
func (p *ReplaceProgress) Invalidate() {
	p.epoch = 0
	p.remaining = make(map[string]struct{})
}

// Epoch returns the live epoch, zero when invalidated.
func (p *ReplaceProgress) Epoch() clock.Timestamp { return p.epoch }

// Contains reports whether addr still owes an acknowledgement.
func (p *ReplaceProgress) Contains(addr string) bool {
	_, ok := p.remaining[addr]
	return ok
}

// Remaining returns the pending addresses in sorted order.
func (p *ReplaceProgress) Remaining() []string {
	out := make([]string, 0, len(p.remaining))
	for a := range p.remaining {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
