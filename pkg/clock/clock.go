package clock

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	quarter      = uint32(1) << 30
	threeQuarter = quarter * 3
)

// Clock is a 32-bit logical counter that may wrap around.
type Clock uint32

// Before reports whether c happened before other.
// A value in the lowest quarter of the range is considered to be after a
// value in the highest quarter, so counters keep ordering across a wrap.
func (c Clock) Before(other Clock) bool {
	a, b := uint32(c), uint32(other)
	switch {
	case a == b:
		return false
	case a < quarter && b > threeQuarter:
		return false
	case a > threeQuarter && b < quarter:
		return true
	default:
		return a < b
	}
}

// After reports whether c happened after other.
func (c Clock) After(other Clock) bool {
	return other.Before(c)
}

// Compare returns -1, 0 or +1.
func (c Clock) Compare(other Clock) int {
	switch {
	case c == other:
		return 0
	case c.Before(other):
		return -1
	default:
		return 1
	}
}

// Timestamp packs wall-clock seconds (high 32 bits) and a Clock (low 32 bits).
// The zero Timestamp means "never".
type Timestamp uint64

// NewTimestamp builds a Timestamp from its parts.
func NewTimestamp(sec uint32, c Clock) Timestamp {
	return Timestamp(uint64(sec)<<32 | uint64(c))
}

// Seconds returns the wall-clock component.
func (t Timestamp) Seconds() uint32 { return uint32(uint64(t) >> 32) }

// Clock returns the logical component.
func (t Timestamp) Clock() Clock { return Clock(uint32(t)) }

// IsZero reports whether t is the zero Timestamp.
func (t Timestamp) IsZero() bool { return t == 0 }

// Compare orders by seconds first and falls back to the wraparound-safe clock.
func (t Timestamp) Compare(other Timestamp) int {
	ts, os := t.Seconds(), other.Seconds()
	if ts != os {
		if ts < os {
			return -1
		}
		return 1
	}
	return t.Clock().Compare(other.Clock())
}

// Before reports whether t is older than other.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// After reports whether t is newer than other.
func (t Timestamp) After(other Timestamp) bool { return t.Compare(other) > 0 }

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.Seconds(), uint32(t.Clock()))
}

// LogicalClock is a process-wide event counter. It is safe for concurrent use.
type LogicalClock struct {
	value   atomic.Uint32
	lastSec atomic.Uint32
	now     func() time.Time
}

// New creates a LogicalClock starting at zero.
func New() *LogicalClock {
	return &LogicalClock{now: time.Now}
}

// NewWithSource creates a LogicalClock reading wall time from now.
func NewWithSource(now func() time.Time) *LogicalClock {
	return &LogicalClock{now: now}
}

// Get returns the current counter value.
func (l *LogicalClock) Get() Clock {
	return Clock(l.value.Load())
}

// Increment advances the counter and returns the new value.
func (l *LogicalClock) Increment() Clock {
	return Clock(l.value.Add(1))
}

// Update moves the counter forward to remote if remote is after the local value.
func (l *LogicalClock) Update(remote Clock) {
	for {
		cur := l.value.Load()
		if !remote.After(Clock(cur)) {
			return
		}
		if l.value.CompareAndSwap(cur, uint32(remote)) {
			return
		}
	}
}

// Now increments the counter and stamps it with the current wall-clock second.
// The seconds component never goes backwards even if the wall clock does.
func (l *LogicalClock) Now() Timestamp {
	c := l.Increment()
	sec := uint32(l.now().Unix())
	for {
		last := l.lastSec.Load()
		if sec <= last {
			sec = last
			break
		}
		if l.lastSec.CompareAndSwap(last, sec) {
			break
		}
	}
	return NewTimestamp(sec, c)
}
