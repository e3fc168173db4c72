package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// SQLBackend stores keys as rows of kv_store. It serves both postgres (pgx)
// and sqlite3; the queries stick to syntax both accept.
type SQLBackend struct {
	db        *sql.DB
	readyOnce sync.Once
	readyErr  error
}

// OpenSQLBackend opens the database, applies the embedded migrations and
// returns a ready backend.
func OpenSQLBackend(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	db, err := Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	b := NewSQLBackend(db)
	if err := b.ensureReady(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLBackend wraps an open pool. Migrations run lazily on first use.
func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (b *SQLBackend) ensureReady(ctx context.Context) error {
	b.readyOnce.Do(func() {
		b.readyErr = ApplyMigrations(ctx, b.db, Migrations())
	})
	return b.readyErr
}

func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	var payload string
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM kv_store WHERE store_key=$1`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return []byte(payload), nil
}

func (b *SQLBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv_store(store_key, payload)
		VALUES($1, $2)
		ON CONFLICT (store_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = CURRENT_TIMESTAMP
	`, key, string(value))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
