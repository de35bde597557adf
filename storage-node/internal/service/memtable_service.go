package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/storage-node/internal/errors"
	"github.com/devrev/pairdb/storage-node/internal/model"
	"github.com/devrev/pairdb/storage-node/internal/storage/memtable"
)

// MemTableConfig holds tombstone retention configuration
type MemTableConfig struct {
	MinRetention time.Duration // tombstones are never collected earlier
	MaxRetention time.Duration // tombstones are always collected after this
	MemoryBudget int64         // tombstone bytes above which collection starts early
	GCInterval   time.Duration
}

// MemTableStats is a point-in-time view of the table
type MemTableStats struct {
	Entries        int
	Tombstones     int
	LiveBytes      int64
	TombstoneBytes int64
}

type tombstoneRef struct {
	key       string
	deletedAt time.Time
}

// MemTableService is the node's in-memory store of timestamped entries.
// Deletes leave tombstones so a write carrying an older timestamp cannot
// bring a key back.
type MemTableService struct {
	config *MemTableConfig
	data   *memtable.SkipList
	logger *zap.Logger
	now    func() time.Time
	mu     sync.RWMutex

	tombstones     []tombstoneRef // ordered by deletedAt
	tombstoneCount int
	tombstoneBytes int64
	liveBytes      int64
}

// NewMemTableService creates a new memtable service
func NewMemTableService(cfg *MemTableConfig, logger *zap.Logger) *MemTableService {
	return newMemTableService(cfg, time.Now, logger)
}

func newMemTableService(cfg *MemTableConfig, now func() time.Time, logger *zap.Logger) *MemTableService {
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Second
	}
	if cfg.MaxRetention < cfg.MinRetention {
		cfg.MaxRetention = cfg.MinRetention
	}
	return &MemTableService{
		config: cfg,
		data:   memtable.NewSkipList(),
		logger: logger,
		now:    now,
	}
}

// Get returns the live entry stored under key. Tombstoned keys are not found.
func (s *MemTableService) Get(key string) (model.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data.Search(key)
	if !ok || entry.Tombstone {
		return model.Entry{}, false
	}
	return entry, true
}

// Lookup returns the stored entry or tombstone for key
func (s *MemTableService) Lookup(key string) (model.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Search(key)
}

// Put stores entry if it is newer than whatever is stored under its key.
// A stale entry is rejected with a StaleWrite error.
func (s *MemTableService) Put(entry model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.data.Search(entry.Key); ok && !entry.Newer(current) {
		return errors.StaleWrite(entry.Key, current.Timestamp, entry.Timestamp)
	}
	s.putLocked(entry)
	return nil
}

// Restore stores an entry received from another replica. It behaves like Put
// except that a tombstone left by a rebalance never blocks it: the key is
// moving back to this node and the sender holds the current version.
func (s *MemTableService) Restore(entry model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.data.Search(entry.Key); ok && !current.Evicted && !entry.Newer(current) {
		return errors.StaleWrite(entry.Key, current.Timestamp, entry.Timestamp)
	}
	s.putLocked(entry)
	return nil
}

// Delete writes a tombstone for key at ts
func (s *MemTableService) Delete(key string, ts clock.Timestamp) error {
	return s.Put(model.Entry{Key: key, Timestamp: ts, Tombstone: true})
}

// Evict replaces a live entry with a tombstone stamped no earlier than ts and
// strictly after the entry it replaces. It reports whether a live entry was
// evicted.
func (s *MemTableService) Evict(key string, ts clock.Timestamp) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data.Search(key)
	if !ok || current.Tombstone {
		return false
	}
	if !ts.After(current.Timestamp) {
		ts = current.Timestamp + 1
	}
	s.putLocked(model.Entry{Key: key, Timestamp: ts, Tombstone: true, Evicted: true})
	return true
}

func (s *MemTableService) putLocked(entry model.Entry) {
	if entry.Tombstone {
		entry.Value = nil
		entry.DeletedAt = s.now()
	} else {
		entry.Evicted = false
		entry.DeletedAt = time.Time{}
	}

	prev, replaced := s.data.Insert(entry.Key, entry)
	if replaced {
		s.unaccount(prev)
	}
	s.account(entry)

	if entry.Tombstone {
		s.tombstones = append(s.tombstones, tombstoneRef{key: entry.Key, deletedAt: entry.DeletedAt})
	}
}

func (s *MemTableService) account(e model.Entry) {
	if e.Tombstone {
		s.tombstoneCount++
		s.tombstoneBytes += e.EstimatedSize()
		return
	}
	s.liveBytes += e.EstimatedSize()
}

func (s *MemTableService) unaccount(e model.Entry) {
	if e.Tombstone {
		s.tombstoneCount--
		s.tombstoneBytes -= e.EstimatedSize()
		return
	}
	s.liveBytes -= e.EstimatedSize()
}

// Snapshot returns every entry, tombstones included, in key order
func (s *MemTableService) Snapshot() []model.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.Entry, 0, s.data.Len())
	for it := s.data.Iterator(); it.Next(); {
		entries = append(entries, it.Entry())
	}
	return entries
}

// Stats returns entry counts and memory estimates
func (s *MemTableService) Stats() MemTableStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return MemTableStats{
		Entries:        s.data.Len() - s.tombstoneCount,
		Tombstones:     s.tombstoneCount,
		LiveBytes:      s.liveBytes,
		TombstoneBytes: s.tombstoneBytes,
	}
}

// CollectGarbage drops tombstones past the maximum retention, then, while
// tombstones exceed the memory budget, the oldest ones past the minimum
// retention.
func (s *MemTableService) CollectGarbage() (expired, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for len(s.tombstones) > 0 {
		ref := s.tombstones[0]
		current, ok := s.data.Search(ref.key)
		if !ok || !current.Tombstone || !current.DeletedAt.Equal(ref.deletedAt) {
			// superseded by a later write or tombstone
			s.tombstones = s.tombstones[1:]
			continue
		}

		age := now.Sub(ref.deletedAt)
		switch {
		case age >= s.config.MaxRetention:
			expired++
		case s.config.MemoryBudget > 0 && s.tombstoneBytes > s.config.MemoryBudget && age >= s.config.MinRetention:
			evicted++
		default:
			return expired, evicted
		}

		s.data.Delete(ref.key)
		s.unaccount(current)
		s.tombstones = s.tombstones[1:]
	}
	return expired, evicted
}

// Run collects tombstones every GCInterval until ctx is done
func (s *MemTableService) Run(ctx context.Context, onCollect func(expired, evicted int)) {
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, evicted := s.CollectGarbage()
			if expired+evicted == 0 {
				continue
			}
			s.logger.Debug("Collected tombstones",
				zap.Int("expired", expired),
				zap.Int("evicted", evicted))
			if onCollect != nil {
				onCollect(expired, evicted)
			}
		}
	}
}
