package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	Mt "github.com/maroda/blinkwise/types"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blink_data (
	device_id   TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	blink_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (device_id, timestamp)
);`

// SQLiteStore is the embedded relational backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file at path and creates the table
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serializes writers anyway, one connection avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	slog.Info("SQLiteStore opened", slog.String("path", path))
	return &SQLiteStore{db: db}, nil
}

// Increment is a single upsert, atomic per row
func (ss *SQLiteStore) Increment(ctx context.Context, deviceID, minuteKey string, delta uint64) error {
	if err := validBucket(deviceID, minuteKey); err != nil {
		return err
	}

	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO blink_data (device_id, timestamp, blink_count) VALUES (?, ?, ?)
		ON CONFLICT(device_id, timestamp) DO UPDATE SET blink_count = blink_count + excluded.blink_count`,
		deviceID, minuteKey, int64(delta))
	if err != nil {
		return fmt.Errorf("sqlite increment: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) Range(ctx context.Context, deviceID, fromKey, toKey string) ([]Mt.Counter, error) {
	query := `SELECT timestamp, blink_count FROM blink_data WHERE device_id = ? AND timestamp >= ?`
	args := []any{deviceID, fromKey}
	if toKey != "" {
		query += ` AND timestamp < ?`
		args = append(args, toKey)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite range: %w", err)
	}
	return scanCounters(rows, deviceID)
}

func (ss *SQLiteStore) Last(ctx context.Context, deviceID string, n int) ([]Mt.Counter, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := ss.db.QueryContext(ctx,
		`SELECT timestamp, blink_count FROM blink_data WHERE device_id = ? ORDER BY timestamp DESC LIMIT ?`,
		deviceID, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite last: %w", err)
	}
	return scanCounters(rows, deviceID)
}

func (ss *SQLiteStore) Close() error { return ss.db.Close() }
func (ss *SQLiteStore) Type() string { return "SQLite" }

// scanCounters is shared by the database/sql backends
func scanCounters(rows *sql.Rows, deviceID string) ([]Mt.Counter, error) {
	defer rows.Close()

	var out []Mt.Counter
	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		if count < 0 {
			count = 0
		}
		out = append(out, Mt.Counter{DeviceID: deviceID, MinuteKey: key, BlinkCount: uint64(count)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counters: %w", err)
	}
	return out, nil
}
