package memtable

import (
	"math/rand"

	"github.com/devrev/pairdb/storage-node/internal/model"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

// SkipListNode represents a node in the skip list
type SkipListNode struct {
	Key     string
	Entry   model.Entry
	Forward []*SkipListNode
}

// SkipList is an ordered map of keys to entries. It is not safe for
// concurrent use; callers hold their own lock.
type SkipList struct {
	Head  *SkipListNode
	Level int
	Size  int
	rnd   *rand.Rand
}

// NewSkipList creates a new skip list
func NewSkipList() *SkipList {
	return NewSkipListWithSeed(rand.Int63())
}

// NewSkipListWithSeed creates a skip list with a deterministic level generator
func NewSkipListWithSeed(seed int64) *SkipList {
	return &SkipList{
		Head: &SkipListNode{Forward: make([]*SkipListNode, MaxLevel)},
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

func (sl *SkipList) randomLevel() int {
	level := 0
	for sl.rnd.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// findPredecessors fills update with the rightmost node before key on every level
func (sl *SkipList) findPredecessors(key string, update []*SkipListNode) *SkipListNode {
	current := sl.Head
	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && current.Forward[i].Key < key {
			current = current.Forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current.Forward[0]
}

// Insert adds or replaces the entry stored under key. It returns the
// previous entry when one was replaced.
func (sl *SkipList) Insert(key string, entry model.Entry) (model.Entry, bool) {
	update := make([]*SkipListNode, MaxLevel)
	current := sl.findPredecessors(key, update)

	if current != nil && current.Key == key {
		prev := current.Entry
		current.Entry = entry
		return prev, true
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.Level {
		for i := sl.Level + 1; i <= newLevel; i++ {
			update[i] = sl.Head
		}
		sl.Level = newLevel
	}

	node := &SkipListNode{
		Key:     key,
		Entry:   entry,
		Forward: make([]*SkipListNode, newLevel+1),
	}
	for i := 0; i <= newLevel; i++ {
		node.Forward[i] = update[i].Forward[i]
		update[i].Forward[i] = node
	}

	sl.Size++
	return model.Entry{}, false
}

// Search finds the entry stored under key
func (sl *SkipList) Search(key string) (model.Entry, bool) {
	current := sl.findPredecessors(key, nil)
	if current != nil && current.Key == key {
		return current.Entry, true
	}
	return model.Entry{}, false
}

// Delete removes a key from the skip list
func (sl *SkipList) Delete(key string) bool {
	update := make([]*SkipListNode, MaxLevel)
	current := sl.findPredecessors(key, update)
	if current == nil || current.Key != key {
		return false
	}

	for i := 0; i <= sl.Level; i++ {
		if update[i].Forward[i] != current {
			break
		}
		update[i].Forward[i] = current.Forward[i]
	}

	for sl.Level > 0 && sl.Head.Forward[sl.Level] == nil {
		sl.Level--
	}

	sl.Size--
	return true
}

// Len returns the number of elements in the skip list
func (sl *SkipList) Len() int {
	return sl.Size
}

// Iterator returns an iterator positioned before the first key
func (sl *SkipList) Iterator() *SkipListIterator {
	return &SkipListIterator{current: sl.Head}
}

// SkipListIterator iterates over skip list entries in key order
type SkipListIterator struct {
	current *SkipListNode
}

// Next moves to the next element
func (it *SkipListIterator) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.Forward[0]
	return it.current != nil
}

// Key returns the current key
func (it *SkipListIterator) Key() string {
	if it.current == nil {
		return ""
	}
	return it.current.Key
}

// Entry returns the current entry
func (it *SkipListIterator) Entry() model.Entry {
	if it.current == nil {
		return model.Entry{}
	}
	return it.current.Entry
}
