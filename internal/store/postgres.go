package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend keeps documents in the persisted_profiles table created by cmd/migration.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

var _ Backend = (*PostgresBackend)(nil)

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Save(ctx context.Context, profile, scope string, data []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO persisted_profiles (profile, scope, data, persisted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (profile, scope) DO UPDATE SET data = EXCLUDED.data, persisted_at = NOW()`,
		profile, scope, data)
	if err != nil {
		return fmt.Errorf("save %s.%s: %w", profile, scope, err)
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, profile, scope string) ([]byte, error) {
	var data []byte
	err := b.pool.QueryRow(ctx,
		`SELECT data FROM persisted_profiles WHERE profile = $1 AND scope = $2`,
		profile, scope).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotFound, profile, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", profile, scope, err)
	}
	return data, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
