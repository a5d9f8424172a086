package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS persisted_profiles (
	profile      TEXT NOT NULL,
	scope        TEXT NOT NULL,
	data         BLOB NOT NULL,
	persisted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (profile, scope)
)`

// SQLiteBackend keeps documents in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

func NewSQLiteBackend(ctx context.Context, dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, profile, scope string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO persisted_profiles (profile, scope, data, persisted_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (profile, scope) DO UPDATE SET data = excluded.data, persisted_at = CURRENT_TIMESTAMP`,
		profile, scope, data)
	if err != nil {
		return fmt.Errorf("save %s.%s: %w", profile, scope, err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, profile, scope string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM persisted_profiles WHERE profile = ? AND scope = ?`, profile, scope).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotFound, profile, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", profile, scope, err)
	}
	return data, nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
