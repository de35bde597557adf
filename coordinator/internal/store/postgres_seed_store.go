package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/hashring"
)

const createSeedsTable = `
	CREATE TABLE IF NOT EXISTS ring_seeds (
		cluster    TEXT        NOT NULL,
		kind       TEXT        NOT NULL,
		seed       BYTEA       NOT NULL,
		version    BIGINT      NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (cluster, kind)
	)
`

// PostgresSeedStore implements SeedStore for PostgreSQL
type PostgresSeedStore struct {
	pool    *pgxpool.Pool
	cluster string
	logger  *zap.Logger
}

// NewPostgresSeedStore creates the connection pool and the seeds table
func NewPostgresSeedStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	cluster string,
	logger *zap.Logger,
) (*PostgresSeedStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), createSeedsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create ring_seeds table: %w", err)
	}

	return &PostgresSeedStore{
		pool:    pool,
		cluster: cluster,
		logger:  logger,
	}, nil
}

// SaveSeeds upserts both seeds in one transaction. A row holding a newer
// version is left in place.
func (s *PostgresSeedStore) SaveSeeds(ctx context.Context, write, read hashring.Seed) error {
	w, r, err := encodeSeeds(write, read)
	if err != nil {
		return fmt.Errorf("failed to encode seeds: %w", err)
	}

	query := `
		INSERT INTO ring_seeds (cluster, kind, seed, version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (cluster, kind)
		DO UPDATE SET seed = EXCLUDED.seed, version = EXCLUDED.version, updated_at = now()
		WHERE ring_seeds.version <= EXCLUDED.version
	`

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, s.cluster, "write", w, int64(write.Timestamp)); err != nil {
			return fmt.Errorf("failed to save write seed: %w", err)
		}
		if _, err := tx.Exec(ctx, query, s.cluster, "read", r, int64(read.Timestamp)); err != nil {
			return fmt.Errorf("failed to save read seed: %w", err)
		}
		return nil
	})
}

// LoadSeeds reads both seeds
func (s *PostgresSeedStore) LoadSeeds(ctx context.Context) (hashring.Seed, hashring.Seed, error) {
	query := `SELECT seed FROM ring_seeds WHERE cluster = $1 AND kind = $2`

	var w, r []byte
	err := s.pool.QueryRow(ctx, query, s.cluster, "write").Scan(&w)
	if errors.Is(err, pgx.ErrNoRows) {
		return hashring.Seed{}, hashring.Seed{}, ErrNotFound
	}
	if err != nil {
		return hashring.Seed{}, hashring.Seed{}, fmt.Errorf("failed to load write seed: %w", err)
	}

	err = s.pool.QueryRow(ctx, query, s.cluster, "read").Scan(&r)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Warn("Read seed missing, using write seed", zap.String("cluster", s.cluster))
		r = w
	} else if err != nil {
		return hashring.Seed{}, hashring.Seed{}, fmt.Errorf("failed to load read seed: %w", err)
	}

	return decodeSeeds(w, r)
}

// Ping checks the database connection
func (s *PostgresSeedStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresSeedStore) Close() error {
	s.pool.Close()
	return nil
}
