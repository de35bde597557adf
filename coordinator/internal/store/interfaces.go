package store

import (
	"context"
	"errors"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
)

// ErrNotFound is returned when no seeds have been saved yet
var ErrNotFound = errors.New("not found")

// SeedStore persists the coordinator's write and read rings so a restarted
// coordinator resumes from its last published topology. SaveSeeds follows the
// ring merge rule: each stored seed is replaced only by one whose timestamp is
// not older, the write and read seeds independently.
type SeedStore interface {
	SaveSeeds(ctx context.Context, write, read hashring.Seed) error
	LoadSeeds(ctx context.Context) (write, read hashring.Seed, err error)
	Ping(ctx context.Context) error
	Close() error
}

// replaces reports whether incoming may overwrite stored
func replaces(stored, incoming clock.Timestamp) bool {
	return !incoming.Before(stored)
}

func encodeSeeds(write, read hashring.Seed) ([]byte, []byte, error) {
	w, err := write.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	r, err := read.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return w, r, nil
}

func decodeSeeds(w, r []byte) (hashring.Seed, hashring.Seed, error) {
	var write, read hashring.Seed
	if err := write.UnmarshalBinary(w); err != nil {
		return hashring.Seed{}, hashring.Seed{}, err
	}
	if err := read.UnmarshalBinary(r); err != nil {
		return hashring.Seed{}, hashring.Seed{}, err
	}
	return write, read, nil
}
