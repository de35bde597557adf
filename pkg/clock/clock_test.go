package clock

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClockBefore(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Clock
		before bool
	}{
		{"equal", 5, 5, false},
		{"plain less", 1, 2, true},
		{"plain greater", 9, 2, false},
		{"near zero is after near max", 3, math.MaxUint32 - 3, false},
		{"near max is before near zero", math.MaxUint32 - 3, 3, true},
		{"middle of range has no wrap", 1 << 31, 1<<31 + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.before, tt.a.Before(tt.b))
			if tt.a != tt.b {
				assert.Equal(t, tt.before, tt.b.After(tt.a))
			}
		})
	}
}

func TestClockCompareIsAntisymmetric(t *testing.T) {
	values := []Clock{0, 1, 100, Clock(quarter - 1), Clock(quarter), 1 << 31, Clock(threeQuarter), Clock(threeQuarter + 1), math.MaxUint32}
	for _, a := range values {
		for _, b := range values {
			assert.Equal(t, -a.Compare(b), b.Compare(a), "a=%d b=%d", a, b)
		}
	}
}

func TestTimestampCompare(t *testing.T) {
	older := NewTimestamp(100, math.MaxUint32-1)
	newerSecond := NewTimestamp(101, 0)
	assert.True(t, older.Before(newerSecond))

	wrappedLow := NewTimestamp(100, 2)
	assert.True(t, wrappedLow.After(older), "wrapped counter within the same second is newer")

	assert.Equal(t, 0, older.Compare(older))
	assert.Equal(t, uint32(100), older.Seconds())
	assert.Equal(t, Clock(math.MaxUint32-1), older.Clock())
	assert.True(t, Timestamp(0).IsZero())
}

func TestLogicalClockUpdate(t *testing.T) {
	c := New()
	c.Increment()
	c.Update(10)
	assert.Equal(t, Clock(10), c.Get())

	c.Update(4)
	assert.Equal(t, Clock(10), c.Get(), "older remote value is ignored")
}

func TestLogicalClockNowIsStrictlyIncreasing(t *testing.T) {
	wall := time.Unix(1_700_000_000, 0)
	c := NewWithSource(func() time.Time { return wall })

	first := c.Now()
	wall = wall.Add(-time.Hour)
	second := c.Now()

	assert.True(t, second.After(first))
	assert.Equal(t, first.Seconds(), second.Seconds())
}

func TestLogicalClockConcurrentIncrement(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Increment()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, Clock(8000), c.Get())
}
