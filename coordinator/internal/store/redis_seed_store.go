package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/hashring"
)

// RedisSeedStore implements SeedStore for Redis
type RedisSeedStore struct {
	client   *redis.Client
	writeKey string
	readKey  string
	logger   *zap.Logger
}

// NewRedisSeedStore connects to Redis and verifies the connection
func NewRedisSeedStore(host string, port int, password string, db int, cluster string, logger *zap.Logger) (*RedisSeedStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisSeedStore(client, cluster, logger), nil
}

func newRedisSeedStore(client *redis.Client, cluster string, logger *zap.Logger) *RedisSeedStore {
	prefix := "pairdb:" + cluster + ":ring:"
	return &RedisSeedStore{
		client:   client,
		writeKey: prefix + "write",
		readKey:  prefix + "read",
		logger:   logger,
	}
}

// saveAttempts bounds the optimistic retries when another writer races SaveSeeds
const saveAttempts = 5

// SaveSeeds writes both seeds in one transaction. The keys are watched so a
// stored seed newer than the incoming one is never overwritten.
func (s *RedisSeedStore) SaveSeeds(ctx context.Context, write, read hashring.Seed) error {
	w, r, err := encodeSeeds(write, read)
	if err != nil {
		return fmt.Errorf("failed to encode seeds: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		saveWrite, err := s.storedIsOlder(ctx, tx, s.writeKey, write)
		if err != nil {
			return err
		}
		saveRead, err := s.storedIsOlder(ctx, tx, s.readKey, read)
		if err != nil {
			return err
		}
		if !saveWrite && !saveRead {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if saveWrite {
				pipe.Set(ctx, s.writeKey, w, 0)
			}
			if saveRead {
				pipe.Set(ctx, s.readKey, r, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < saveAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, s.writeKey, s.readKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.logger.Debug("Seed keys changed during save, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return fmt.Errorf("failed to save seeds: %w", err)
	}
	return nil
}

// storedIsOlder reports whether key is missing or holds a seed incoming may replace
func (s *RedisSeedStore) storedIsOlder(ctx context.Context, tx *redis.Tx, key string, incoming hashring.Seed) (bool, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var stored hashring.Seed
	if err := stored.UnmarshalBinary(raw); err != nil {
		s.logger.Warn("Overwriting unreadable seed", zap.String("key", key), zap.Error(err))
		return true, nil
	}
	return replaces(stored.Timestamp, incoming.Timestamp), nil
}

// LoadSeeds reads both seeds
func (s *RedisSeedStore) LoadSeeds(ctx context.Context) (hashring.Seed, hashring.Seed, error) {
	w, err := s.client.Get(ctx, s.writeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return hashring.Seed{}, hashring.Seed{}, ErrNotFound
	}
	if err != nil {
		return hashring.Seed{}, hashring.Seed{}, fmt.Errorf("failed to load write seed: %w", err)
	}

	r, err := s.client.Get(ctx, s.readKey).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.Warn("Read seed missing, using write seed", zap.String("key", s.readKey))
		r = w
	} else if err != nil {
		return hashring.Seed{}, hashring.Seed{}, fmt.Errorf("failed to load read seed: %w", err)
	}

	return decodeSeeds(w, r)
}

// Ping checks the Redis connection
func (s *RedisSeedStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisSeedStore) Close() error {
	return s.client.Close()
}
