package hashring

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/devrev/pairdb/pkg/clock"
)

var errShortSeed = errors.New("seed: truncated input")

// Seed is the transferable projection of a ring.
type Seed struct {
	Nodes     []Node          `json:"nodes"`
	Timestamp clock.Timestamp `json:"timestamp"`
}

// Seed returns the seed of the ring.
func (r *Ring) Seed() Seed {
	return Seed{Nodes: r.Nodes(), Timestamp: r.ts}
}

// FromSeed rebuilds a ring from a seed.
func FromSeed(s Seed) *Ring {
	return New(s.Nodes, s.Timestamp)
}

// Empty reports whether the seed carries no nodes.
func (s Seed) Empty() bool { return len(s.Nodes) == 0 }

// ShouldAdopt reports whether an incoming seed replaces the ring: the ring is
// empty or its timestamp is not newer than the seed's.
func (r *Ring) ShouldAdopt(s Seed) bool {
	return r == nil || r.Empty() || !s.Timestamp.Before(r.ts)
}

// MarshalBinary encodes the seed as a node count, each (address, active flag)
// and a trailing big-endian timestamp.
func (s Seed) MarshalBinary() ([]byte, error) {
	size := binary.MaxVarintLen64 + 8
	for _, n := range s.Nodes {
		size += binary.MaxVarintLen64 + len(n.Addr) + 1
	}
	buf := make([]byte, 0, size)
	buf = binary.AppendUvarint(buf, uint64(len(s.Nodes)))
	for _, n := range s.Nodes {
		buf = binary.AppendUvarint(buf, uint64(len(n.Addr)))
		buf = append(buf, n.Addr...)
		if n.Active {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.Timestamp))
	return buf, nil
}

// UnmarshalBinary decodes a seed produced by MarshalBinary.
func (s *Seed) UnmarshalBinary(data []byte) error {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return errShortSeed
	}
	data = data[n:]
	if count > uint64(len(data)) {
		return fmt.Errorf("seed: node count %d exceeds input", count)
	}

	nodes := make([]Node, 0, count)
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(data)
		if n <= 0 || l >= uint64(len(data)-n) {
			return errShortSeed
		}
		data = data[n:]
		addr := string(data[:l])
		active := data[l] == 1
		data = data[l+1:]
		nodes = append(nodes, Node{Addr: addr, Active: active})
	}
	if len(data) != 8 {
		return errShortSeed
	}

	s.Nodes = nodes
	s.Timestamp = clock.Timestamp(binary.BigEndian.Uint64(data))
	return nil
}
