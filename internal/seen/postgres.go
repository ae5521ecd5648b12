package seen

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS seen_ids (
	scope TEXT   NOT NULL,
	id    BIGINT NOT NULL,
	PRIMARY KEY (scope, id)
)`

// PostgresStore persists IDs in a shared PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the schema if needed.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create seen_ids: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, scope string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM seen_ids WHERE scope = $1 ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("query seen_ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan seen_ids: %w", err)
	}
	return ids, nil
}

// Save replaces the scope in one transaction using pgx.Batch.
func (s *PostgresStore) Save(ctx context.Context, scope string, ids []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM seen_ids WHERE scope = $1`, scope)
	for _, id := range ids {
		batch.Queue(`
			INSERT INTO seen_ids (scope, id)
			VALUES ($1, $2)
			ON CONFLICT (scope, id) DO NOTHING
		`, scope, id)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
