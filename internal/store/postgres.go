package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmund/sprout/internal/companion"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// snapshotHistory is how many past snapshots are retained per save. Older
// rows are pruned inside the save transaction.
const snapshotHistory = 10

// PostgresStore persists companion state as snapshot rows in PostgreSQL.
//
// Each Save inserts a fresh row and prunes old history inside one
// transaction, so the previously durable snapshot stays loadable no matter
// where a crash lands. Load walks snapshots newest-first and skips corrupt
// payloads with a warning, mirroring the FileStore fallback semantics.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool     *pgxpool.Pool
	fallback companion.State
}

// NewPostgresStore connects to the database at dsn, ensures the snapshot
// table exists, and returns the store. fallback is the state returned by
// Load when no valid snapshot exists.
func NewPostgresStore(ctx context.Context, dsn string, fallback companion.State) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS companion_snapshots (
			id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			schema_version INTEGER     NOT NULL,
			payload        JSONB       NOT NULL,
			saved_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool, fallback: fallback}, nil
}

// Save implements Store. The insert and history prune run in one
// transaction; an interrupted save leaves the previous snapshot untouched.
func (s *PostgresStore) Save(ctx context.Context, state companion.State) error {
	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("postgres store: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO companion_snapshots (schema_version, payload) VALUES ($1, $2)`,
		SchemaVersion, data,
	); err != nil {
		return fmt.Errorf("postgres store: insert snapshot: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM companion_snapshots
		WHERE  id NOT IN (
		    SELECT id FROM companion_snapshots ORDER BY id DESC LIMIT $1
		)`,
		snapshotHistory,
	); err != nil {
		return fmt.Errorf("postgres store: prune history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// Load implements Store. It returns the newest snapshot that decodes and
// validates; corrupt snapshots are logged and skipped. With no usable
// snapshot the fallback state is returned. An unreachable database is an
// error — unlike corruption, it says nothing about the durable record.
func (s *PostgresStore) Load(ctx context.Context) (companion.State, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, payload
		FROM   companion_snapshots
		ORDER  BY id DESC
		LIMIT  $1`,
		snapshotHistory,
	)
	if err != nil {
		return companion.State{}, fmt.Errorf("postgres store: query snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return companion.State{}, fmt.Errorf("postgres store: scan snapshot: %w", err)
		}
		state, err := decodeState(payload)
		if err != nil {
			slog.Warn("postgres store: skipping invalid snapshot", "id", id, "err", err)
			continue
		}
		return state, nil
	}
	if err := rows.Err(); err != nil {
		return companion.State{}, fmt.Errorf("postgres store: iterate snapshots: %w", err)
	}

	slog.Debug("postgres store: no usable snapshot, starting fresh")
	return s.fallback.Clone(), nil
}

// Reset implements Store.
func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM companion_snapshots`); err != nil {
		return fmt.Errorf("postgres store: reset: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports whether the database is reachable. Used by the readiness
// probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}
