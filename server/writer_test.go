package blinkwise_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	Mp "github.com/maroda/blinkwise/plugin"
	Ms "github.com/maroda/blinkwise/server"
	Mt "github.com/maroda/blinkwise/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Merge(t *testing.T) {
	ctx := context.Background()

	t.Run("Two buckets for the same minute add up", func(t *testing.T) {
		store := Mp.NewMemoryStore()
		w := Ms.NewWriter(store, "dev", 8, nil)

		require.NoError(t, w.Merge(ctx, Mt.MinuteBucket{MinuteKey: "2024-01-01 10:00", Count: 3}))
		require.NoError(t, w.Merge(ctx, Mt.MinuteBucket{MinuteKey: "2024-01-01 10:00", Count: 2}))

		got, err := store.Range(ctx, "dev", "", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(5), got[0].BlinkCount)
	})

	kinds := []struct {
		name string
		err  error
		want Ms.MergeKind
	}{
		{"invalid bucket", Mp.ErrInvalidBucket, Ms.MergeInvalid},
		{"unreachable store", Mp.ErrStoreUnavailable, Ms.MergeUnavailable},
		{"network error", &net.OpError{Op: "dial", Err: errors.New("refused")}, Ms.MergeUnavailable},
		{"timeout", context.DeadlineExceeded, Ms.MergeUnavailable},
		{"anything else", errors.New("constraint violated"), Ms.MergeBackend},
	}
	for _, tt := range kinds {
		t.Run("Classifies "+tt.name, func(t *testing.T) {
			w := Ms.NewWriter(&failingStore{err: tt.err}, "dev", 8, nil)
			err := w.Merge(ctx, Mt.MinuteBucket{MinuteKey: "2024-01-01 10:00", Count: 1})

			var me *Ms.MergeError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.want, me.Kind)
			assert.Equal(t, "2024-01-01 10:00", me.Key)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("A hung store is cut off by the write timeout", func(t *testing.T) {
		w := Ms.NewWriter(&blockingStore{}, "dev", 8, nil)
		w.WriteTimeout = 20 * time.Millisecond

		err := w.Merge(ctx, Mt.MinuteBucket{MinuteKey: "2024-01-01 10:00", Count: 1})
		var me *Ms.MergeError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, Ms.MergeUnavailable, me.Kind)
	})
}

func TestWriter_Queue(t *testing.T) {
	ctx := context.Background()

	t.Run("Enqueue drops when full instead of blocking", func(t *testing.T) {
		w := Ms.NewWriter(Mp.NewMemoryStore(), "dev", 1, nil)
		assert.True(t, w.Enqueue(Mt.MinuteBucket{MinuteKey: "2024-01-01 10:00", Count: 1}))
		assert.False(t, w.Enqueue(Mt.MinuteBucket{MinuteKey: "2024-01-01 10:01", Count: 1}))
		assert.Equal(t, 1, w.Pending())
	})

	t.Run("Stop drains what is queued", func(t *testing.T) {
		store := Mp.NewMemoryStore()
		w := Ms.NewWriter(store, "dev", 16, nil)
		for i := 0; i < 10; i++ {
			require.True(t, w.Enqueue(Mt.MinuteBucket{MinuteKey: "2024-01-01 10:00", Count: 1}))
		}

		w.Start()
		w.Stop()

		got, err := store.Range(ctx, "dev", "", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(10), got[0].BlinkCount)
		assert.Equal(t, 0, w.Pending())
	})

	t.Run("Failed merges are dropped and the writer continues", func(t *testing.T) {
		store := &flakyStore{MemoryStore: Mp.NewMemoryStore(), failKey: "2024-01-01 10:01"}
		w := Ms.NewWriter(store, "dev", 16, nil)
		w.Start()

		w.Enqueue(Mt.MinuteBucket{MinuteKey: "2024-01-01 10:00", Count: 2})
		w.Enqueue(Mt.MinuteBucket{MinuteKey: "2024-01-01 10:01", Count: 4})
		w.Enqueue(Mt.MinuteBucket{MinuteKey: "2024-01-01 10:02", Count: 6})
		w.Stop()

		got, err := store.Range(ctx, "dev", "", "")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "2024-01-01 10:02", got[1].MinuteKey)
	})

	t.Run("Stop is safe without Start and twice", func(t *testing.T) {
		w := Ms.NewWriter(Mp.NewMemoryStore(), "dev", 1, nil)
		w.Stop()
		w.Stop()
	})
}

// failingStore fails every increment with err
type failingStore struct {
	Mp.MemoryStore
	err error
}

func (fs *failingStore) Increment(context.Context, string, string, uint64) error { return fs.err }
func (fs *failingStore) Range(context.Context, string, string, string) ([]Mt.Counter, error) {
	return nil, fs.err
}
func (fs *failingStore) Last(context.Context, string, int) ([]Mt.Counter, error) { return nil, fs.err }

// blockingStore hangs until the context ends
type blockingStore struct {
	Mp.MemoryStore
}

func (bs *blockingStore) Increment(ctx context.Context, _, _ string, _ uint64) error {
	<-ctx.Done()
	return ctx.Err()
}

// flakyStore fails one key and stores the rest
type flakyStore struct {
	*Mp.MemoryStore
	mu      sync.Mutex
	failKey string
}

func (fs *flakyStore) Increment(ctx context.Context, deviceID, minuteKey string, delta uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if minuteKey == fs.failKey {
		return errors.New("disk full")
	}
	return fs.MemoryStore.Increment(ctx, deviceID, minuteKey, delta)
}
