package model

import (
	"time"

	"github.com/devrev/pairdb/pkg/clock"
)

// Entry is one versioned key held by a storage node
type Entry struct {
	Key       string
	Value     []byte
	Timestamp clock.Timestamp
	Tombstone bool      // True if this is a delete marker
	Evicted   bool      // Tombstone left by a rebalance rather than a client delete
	DeletedAt time.Time // Local wall time the tombstone was written, zero for live entries
}

// Newer reports whether e supersedes other. Equal timestamps do not.
func (e Entry) Newer(other Entry) bool {
	return e.Timestamp.After(other.Timestamp)
}

// EstimatedSize approximates the memory an entry occupies
func (e Entry) EstimatedSize() int64 {
	return int64(len(e.Key) + len(e.Value) + 64)
}

// OperationType defines the type of a data path operation
type OperationType string

const (
	OperationTypeSet    OperationType = "set"
	OperationTypeDelete OperationType = "delete"
	OperationTypeCopy   OperationType = "copy"
)
