package hashring

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/devrev/pairdb/pkg/clock"
)

// VirtualNodesPerNode is the number of ring positions each physical node owns.
const VirtualNodesPerNode = 128

var (
	// ErrNodeExists is returned when adding an address already on the ring.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound is returned when an address is not on the ring.
	ErrNodeNotFound = errors.New("node not found")
)

// Node is a physical node on the ring.
type Node struct {
	Addr   string `json:"addr"`
	Active bool   `json:"active"`
}

// VirtualNode is one ring position together with its physical owner.
type VirtualNode struct {
	Hash uint64
	Node Node
}

type vnode struct {
	hash  uint64
	owner int // index into Ring.nodes
}

// Ring is a consistent hash ring with virtual nodes.
//
// A Ring is not safe for concurrent mutation. Owners publish rings
// copy-on-write: Clone, mutate the clone, then swap it in under their own lock.
// Every mutation rebuilds the full virtual node table.
type Ring struct {
	nodes  []Node
	vnodes []vnode
	ts     clock.Timestamp
}

// New creates a ring from a node list.
func New(nodes []Node, ts clock.Timestamp) *Ring {
	r := &Ring{
		nodes: append([]Node(nil), nodes...),
		ts:    ts,
	}
	r.rebuild()
	return r
}

// Clone returns a deep copy of the ring.
func (r *Ring) Clone() *Ring {
	return &Ring{
		nodes:  append([]Node(nil), r.nodes...),
		vnodes: append([]vnode(nil), r.vnodes...),
		ts:     r.ts,
	}
}

// Timestamp returns the version stamp of the ring.
func (r *Ring) Timestamp() clock.Timestamp { return r.ts }

// SetTimestamp stamps the ring with a new version.
func (r *Ring) SetTimestamp(ts clock.Timestamp) { r.ts = ts }

// Empty reports whether the ring has no nodes.
func (r *Ring) Empty() bool { return len(r.nodes) == 0 }

// Len returns the number of physical nodes.
func (r *Ring) Len() int { return len(r.nodes) }

// Nodes returns a copy of the physical node list.
func (r *Ring) Nodes() []Node {
	return append([]Node(nil), r.nodes...)
}

// ActiveNodes returns the addresses of all active nodes.
func (r *Ring) ActiveNodes() []string {
	out := make([]string, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.Active {
			out = append(out, n.Addr)
		}
	}
	return out
}

// Node looks up a physical node by address.
func (r *Ring) Node(addr string) (Node, bool) {
	if i := r.indexOf(addr); i >= 0 {
		return r.nodes[i], true
	}
	return Node{}, false
}

// IsActive reports whether addr is on the ring and active.
func (r *Ring) IsActive(addr string) bool {
	n, ok := r.Node(addr)
	return ok && n.Active
}

// AddNode adds an active node.
func (r *Ring) AddNode(addr string) error {
	if r.indexOf(addr) >= 0 {
		return ErrNodeExists
	}
	r.nodes = append(r.nodes, Node{Addr: addr, Active: true})
	r.rebuild()
	return nil
}

// RemoveNode removes a node and all its virtual nodes.
func (r *Ring) RemoveNode(addr string) error {
	i := r.indexOf(addr)
	if i < 0 {
		return ErrNodeNotFound
	}
	r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
	r.rebuild()
	return nil
}

// MarkFault flags a node as inactive. Its ring positions are kept.
func (r *Ring) MarkFault(addr string) error {
	return r.setActive(addr, false)
}

// MarkRecovered flags a previously faulty node as active again.
func (r *Ring) MarkRecovered(addr string) error {
	return r.setActive(addr, true)
}

// RemoveAllFaulty drops every inactive node and returns how many were removed.
func (r *Ring) RemoveAllFaulty() int {
	kept := r.nodes[:0]
	for _, n := range r.nodes {
		if n.Active {
			kept = append(kept, n)
		}
	}
	removed := len(r.nodes) - len(kept)
	r.nodes = kept
	r.rebuild()
	return removed
}

// Find returns the first virtual node whose hash is >= hash, wrapping to the
// first entry when hash is past the end of the ring.
func (r *Ring) Find(hash uint64) (VirtualNode, bool) {
	idx := r.search(hash)
	if idx < 0 {
		return VirtualNode{}, false
	}
	v := r.vnodes[idx]
	return VirtualNode{Hash: v.hash, Node: r.nodes[v.owner]}, true
}

// ReplicasFor walks the ring clockwise from hash and collects up to count
// distinct physical nodes, active or not, in walk order.
func (r *Ring) ReplicasFor(hash uint64, count int) []Node {
	start := r.search(hash)
	if start < 0 || count <= 0 {
		return nil
	}
	if count > len(r.nodes) {
		count = len(r.nodes)
	}

	out := make([]Node, 0, count)
	seen := make([]bool, len(r.nodes))
	for i := 0; i < len(r.vnodes) && len(out) < count; i++ {
		v := r.vnodes[(start+i)%len(r.vnodes)]
		if seen[v.owner] {
			continue
		}
		seen[v.owner] = true
		out = append(out, r.nodes[v.owner])
	}
	return out
}

// ReplicaSet returns the nodes that hold a key under replication factor rf:
// the first rf+1 distinct nodes clockwise from hash. Data nodes store and
// evict by this set and gateways route across it.
func (r *Ring) ReplicaSet(hash uint64, rf int) []Node {
	return r.ReplicasFor(hash, rf+1)
}

// Equal reports whether both rings hold the same node list. Timestamps are ignored.
func (r *Ring) Equal(other *Ring) bool {
	if other == nil || len(r.nodes) != len(other.nodes) {
		return false
	}
	for i := range r.nodes {
		if r.nodes[i] != other.nodes[i] {
			return false
		}
	}
	return true
}

func (r *Ring) search(hash uint64) int {
	if len(r.vnodes) == 0 {
		return -1
	}
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= hash
	})
	if idx >= len(r.vnodes) {
		idx = 0
	}
	return idx
}

func (r *Ring) setActive(addr string, active bool) error {
	i := r.indexOf(addr)
	if i < 0 {
		return ErrNodeNotFound
	}
	r.nodes[i].Active = active
	r.rebuild()
	return nil
}

func (r *Ring) indexOf(addr string) int {
	for i, n := range r.nodes {
		if n.Addr == addr {
			return i
		}
	}
	return -1
}

func (r *Ring) rebuild() {
	vnodes := make([]vnode, 0, len(r.nodes)*VirtualNodesPerNode)
	for i, n := range r.nodes {
		for _, h := range virtualHashes(n.Addr) {
			vnodes = append(vnodes, vnode{hash: h, owner: i})
		}
	}
	sort.Slice(vnodes, func(i, j int) bool {
		if vnodes[i].hash != vnodes[j].hash {
			return vnodes[i].hash < vnodes[j].hash
		}
		return r.nodes[vnodes[i].owner].Addr < r.nodes[vnodes[j].owner].Addr
	})
	r.vnodes = vnodes
}

// virtualHashes derives the ring positions of addr by re-hashing the previous
// position, starting from the address digest.
func virtualHashes(addr string) []uint64 {
	out := make([]uint64, VirtualNodesPerNode)
	h := xxhash.Sum64String(addr)
	var buf [8]byte
	for i := range out {
		out[i] = h
		binary.BigEndian.PutUint64(buf[:], h)
		h = xxhash.Sum64(buf[:])
	}
	return out
}

// HashKey computes the ring digest of a key.
func HashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// HashString computes the ring digest of a string key.
func HashString(key string) uint64 {
	return xxhash.Sum64String(key)
}
