// Package postgres provides a persistent embedcache.Store on PostgreSQL with
// the pgvector extension.
//
// Vectors are stored in an unconstrained vector column so several embedding
// models may share the table. Rows are keyed by model and the SHA-256 of the
// text; the text itself is kept for inspection.
package postgres

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/lingoloom/pkg/embedcache"
)

var _ embedcache.Store = (*Store)(nil)

const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embedding_cache (
    model       TEXT         NOT NULL,
    text_hash   BYTEA        NOT NULL,
    text        TEXT         NOT NULL,
    embedding   vector       NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (model, text_hash)
);
`

// Store is a pgvector-backed embedding cache. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, registers pgvector types on every connection and
// creates the cache table if needed.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("embedcache postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedcache postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("embedcache postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("embedcache postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get implements embedcache.Store.
func (s *Store) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	h := sha256.Sum256([]byte(text))
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding FROM embedding_cache WHERE model = $1 AND text_hash = $2`,
		model, h[:],
	).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedcache postgres: get: %w", err)
	}
	return vec.Slice(), true, nil
}

// Put implements embedcache.Store. An existing row for the same key is
// overwritten.
func (s *Store) Put(ctx context.Context, model, text string, vec []float32) error {
	h := sha256.Sum256([]byte(text))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embedding_cache (model, text_hash, text, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (model, text_hash) DO UPDATE SET embedding = EXCLUDED.embedding, created_at = now()`,
		model, h[:], text, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("embedcache postgres: put: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable. It satisfies health.Checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
