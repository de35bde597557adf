package service

import (
	"sort"
	"time"
)

type member struct {
	addr        string
	connectedAt time.Time
	lastSeen    uint64 // tick number
}

// MembershipTable holds the data nodes a coordinator knows about, split into
// nodes already on the ring (joined) and nodes waiting for the next replace
// (newcomers). It is guarded by the Manager lock.
type MembershipTable struct {
	joined    map[string]*member
	newcomers map[string]*member
}

// NewMembershipTable creates an empty table.
func NewMembershipTable() *MembershipTable {
	return &MembershipTable{
		joined:    make(map[string]*member),
		newcomers: make(map[string]*member),
	}
}

// AddNewcomer registers addr as connected but not yet on the ring.
func (t *MembershipTable) AddNewcomer(addr string, step uint64) bool {
	if t.Contains(addr) {
		return false
	}
	t.newcomers[addr] = &member{addr: addr, connectedAt: time.Now(), lastSeen: step}
	return true
}

// AddJoined registers addr as already incorporated into the ring.
func (t *MembershipTable) AddJoined(addr string, step uint64) {
	if m, ok := t.newcomers[addr]; ok {
		delete(t.newcomers, addr)
		m.lastSeen = step
		t.joined[addr] = m
		return
	}
	if m, ok := t.joined[addr]; ok {
		m.lastSeen = step
		return
	}
	t.joined[addr] = &member{addr: addr, connectedAt: time.Now(), lastSeen: step}
}

// Touch records a keepalive from addr.
func (t *MembershipTable) Touch(addr string, step uint64) bool {
	if m, ok := t.joined[addr]; ok {
		m.lastSeen = step
		return true
	}
	if m, ok := t.newcomers[addr]; ok {
		m.lastSeen = step
		return true
	}
	return false
}

// Remove forgets addr and reports whether it was known.
func (t *MembershipTable) Remove(addr string) bool {
	_, j := t.joined[addr]
	_, n := t.newcomers[addr]
	delete(t.joined, addr)
	delete(t.newcomers, addr)
	return j || n
}

// Contains reports whether addr is in either set.
func (t *MembershipTable) Contains(addr string) bool {
	_, j := t.joined[addr]
	_, n := t.newcomers[addr]
	return j || n
}

// IsNewcomer reports whether addr waits for the next replace.
func (t *MembershipTable) IsNewcomer(addr string) bool {
	_, ok := t.newcomers[addr]
	return ok
}

// HasNewcomers reports whether any node waits for the next replace.
func (t *MembershipTable) HasNewcomers() bool { return len(t.newcomers) > 0 }

// PromoteNewcomers moves every newcomer to the joined set and returns them.
func (t *MembershipTable) PromoteNewcomers() []string {
	out := sortedKeys(t.newcomers)
	for _, a := range out {
		t.joined[a] = t.newcomers[a]
		delete(t.newcomers, a)
	}
	return out
}

// Joined returns the joined addresses in sorted order.
func (t *MembershipTable) Joined() []string { return sortedKeys(t.joined) }

// Newcomers returns the newcomer addresses in sorted order.
func (t *MembershipTable) Newcomers() []string { return sortedKeys(t.newcomers) }

// Expired returns members not heard from for more than timeout ticks.
// A zero timeout disables expiry.
func (t *MembershipTable) Expired(step, timeout uint64) []string {
	if timeout == 0 {
		return nil
	}
	var out []string
	for _, set := range []map[string]*member{t.joined, t.newcomers} {
		for a, m := range set {
			if step > m.lastSeen && step-m.lastSeen > timeout {
				out = append(out, a)
			}
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]*member) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
