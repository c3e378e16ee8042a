package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	Mt "github.com/maroda/blinkwise/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS blink_data (
	device_id   TEXT   NOT NULL,
	timestamp   TEXT   NOT NULL,
	blink_count BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (device_id, timestamp)
)`

// PostgresStore is the managed relational backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing handle, used directly by tests
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects with dsn and makes sure the table exists
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ps := NewPostgresStore(db)
	if err := ps.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("PostgresStore connected")
	return ps, nil
}

func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := ps.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Increment relies on the row lock taken by ON CONFLICT for per-key atomicity
func (ps *PostgresStore) Increment(ctx context.Context, deviceID, minuteKey string, delta uint64) error {
	if err := validBucket(deviceID, minuteKey); err != nil {
		return err
	}

	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO blink_data (device_id, timestamp, blink_count) VALUES ($1, $2, $3)
		ON CONFLICT (device_id, timestamp) DO UPDATE SET blink_count = blink_data.blink_count + EXCLUDED.blink_count`,
		deviceID, minuteKey, int64(delta))
	if err != nil {
		return fmt.Errorf("postgres increment: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Range(ctx context.Context, deviceID, fromKey, toKey string) ([]Mt.Counter, error) {
	query := `SELECT timestamp, blink_count FROM blink_data WHERE device_id = $1 AND timestamp >= $2`
	args := []any{deviceID, fromKey}
	if toKey != "" {
		query += ` AND timestamp < $3`
		args = append(args, toKey)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres range: %w", err)
	}
	return scanCounters(rows, deviceID)
}

func (ps *PostgresStore) Last(ctx context.Context, deviceID string, n int) ([]Mt.Counter, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := ps.db.QueryContext(ctx,
		`SELECT timestamp, blink_count FROM blink_data WHERE device_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		deviceID, n)
	if err != nil {
		return nil, fmt.Errorf("postgres last: %w", err)
	}
	return scanCounters(rows, deviceID)
}

func (ps *PostgresStore) Close() error { return ps.db.Close() }
func (ps *PostgresStore) Type() string { return "Postgres" }
