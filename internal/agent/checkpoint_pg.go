package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGCheckpointStore keeps one row per thread in PostgreSQL with the state
// stored as JSONB.
type PGCheckpointStore struct {
	pool *pgxpool.Pool
}

// NewPGCheckpointStore wraps an existing pgxpool.Pool.
func NewPGCheckpointStore(pool *pgxpool.Pool) *PGCheckpointStore {
	return &PGCheckpointStore{pool: pool}
}

// NewPGCheckpointStoreFromDSN creates a pool for dsn and returns a store on it.
func NewPGCheckpointStoreFromDSN(ctx context.Context, dsn string) (*PGCheckpointStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to create pgx pool: %w", err)
	}
	return &PGCheckpointStore{pool: pool}, nil
}

// InitSchema creates the checkpoint table if it does not exist.
// Safe to call on every startup.
func (s *PGCheckpointStore) InitSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id   TEXT PRIMARY KEY,
			state       JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("checkpoint: failed to init schema: %w", err)
	}
	return nil
}

func (s *PGCheckpointStore) Load(ctx context.Context, threadID string) (State, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM thread_checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: failed to load thread %s: %w", threadID, err)
	}
	st, err := decodeState(data)
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: failed to decode thread %s: %w", threadID, err)
	}
	return st, true, nil
}

func (s *PGCheckpointStore) Save(ctx context.Context, st State) error {
	if st.ThreadID == "" {
		return fmt.Errorf("checkpoint: state has no thread id")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to encode thread %s: %w", st.ThreadID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO thread_checkpoints (thread_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`, st.ThreadID, data)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to save thread %s: %w", st.ThreadID, err)
	}
	return nil
}

func (s *PGCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM thread_checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("checkpoint: failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

// Close releases the pool.
func (s *PGCheckpointStore) Close() {
	s.pool.Close()
}
