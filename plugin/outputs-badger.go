package plugin

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	Mt "github.com/maroda/blinkwise/types"
)

// conflictRetries bounds optimistic transaction retries for one increment
const conflictRetries = 64

// BadgerStore is the embedded key/value backend.
// Keys are counterPrefix | deviceID | 0x00 | minuteKey so a device's
// counters sort chronologically and range scans are prefix scans.
type BadgerStore struct {
	DB *badger.DB
}

var counterPrefix = []byte("c\x00")

// NewBadgerStore opens (or creates) the database at path.
// An empty path opens an in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1)
	if path == "" {
		opts = opts.WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("BadgerStore failed to open database", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	slog.Info("BadgerStore opened", slog.String("path", path))

	return &BadgerStore{DB: db}, nil
}

// Increment performs a read-modify-write inside one transaction.
// Badger detects concurrent writers to the same key and returns ErrConflict,
// in which case the whole transaction is retried.
func (bs *BadgerStore) Increment(ctx context.Context, deviceID, minuteKey string, delta uint64) error {
	if err := validBucket(deviceID, minuteKey); err != nil {
		return err
	}

	key := CounterKey(deviceID, minuteKey)
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = bs.DB.Update(func(txn *badger.Txn) error {
			var current uint64
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					current = CountDecode(val)
					return nil
				}); err != nil {
					return err
				}
			}
			return txn.Set(key, CountEncode(current+delta))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		slog.Debug("BadgerStore increment conflict, retrying",
			slog.String("key", minuteKey),
			slog.Int("attempt", attempt+1))
	}

	if err != nil {
		slog.Error("BadgerStore failed to increment",
			slog.Any("error", err),
			slog.String("device", deviceID),
			slog.String("minute", minuteKey))
		return fmt.Errorf("badger increment: %w", err)
	}
	return nil
}

// Range retrieves counters for the device within [fromKey, toKey)
func (bs *BadgerStore) Range(ctx context.Context, deviceID, fromKey, toKey string) ([]Mt.Counter, error) {
	var counters []Mt.Counter
	prefix := devicePrefix(deviceID)

	// db.View() callback
	// BadgerDB provides a transaction in which to get item.Value()
	err := bs.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(append([]byte{}, prefix...), fromKey...)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			minuteKey := string(item.Key()[len(prefix):])
			if toKey != "" && minuteKey >= toKey {
				break
			}

			// item.Value() callback
			// BadgerDB passes bytes to the anon func
			err := item.Value(func(val []byte) error {
				counters = append(counters, Mt.Counter{
					DeviceID:   deviceID,
					MinuteKey:  minuteKey,
					BlinkCount: CountDecode(val),
				})
				return nil
			})
			if err != nil {
				slog.Error("BadgerStore callback failure", slog.Any("error", err))
				return fmt.Errorf("item data error: %w", err)
			}
		}
		return nil
	})

	slog.Debug("BadgerStore Range", slog.Int("count", len(counters)))

	return counters, err
}

// Last walks the device prefix backwards
func (bs *BadgerStore) Last(ctx context.Context, deviceID string, n int) ([]Mt.Counter, error) {
	if n <= 0 {
		return nil, nil
	}

	var counters []Mt.Counter
	prefix := devicePrefix(deviceID)

	err := bs.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(counters) < n; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			minuteKey := string(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				counters = append(counters, Mt.Counter{
					DeviceID:   deviceID,
					MinuteKey:  minuteKey,
					BlinkCount: CountDecode(val),
				})
				return nil
			}); err != nil {
				return fmt.Errorf("item data error: %w", err)
			}
		}
		return nil
	})

	return counters, err
}

// Close releases the database
func (bs *BadgerStore) Close() error {
	if err := bs.DB.Close(); err != nil {
		slog.Error("BadgerStore failed to close database", slog.Any("error", err))
		return fmt.Errorf("close failed: %w", err)
	}

	slog.Info("BadgerStore closed successfully")
	return nil
}

func (bs *BadgerStore) Type() string { return "BadgerDB" }

// CounterKey creates the composite key for a device minute
func CounterKey(deviceID, minuteKey string) []byte {
	var buf bytes.Buffer
	buf.Write(devicePrefix(deviceID))
	buf.WriteString(minuteKey)
	return buf.Bytes()
}

func devicePrefix(deviceID string) []byte {
	key := make([]byte, 0, len(counterPrefix)+len(deviceID)+1)
	key = append(key, counterPrefix...)
	key = append(key, deviceID...)
	return append(key, 0x00)
}

// CountEncode uses BigEndian so stored values are fixed width
func CountEncode(n uint64) []byte {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, n)
	return val
}

// CountDecode tolerates short values by treating them as zero
func CountDecode(val []byte) uint64 {
	if len(val) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(val)
}
