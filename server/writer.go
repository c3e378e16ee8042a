package blinkwise

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	Mo "github.com/maroda/blinkwise/obvy"
	Mp "github.com/maroda/blinkwise/plugin"
	Mt "github.com/maroda/blinkwise/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 5 * time.Second
	DefaultDrainTimeout = 10 * time.Second
)

// MergeKind classifies why a bucket could not be merged
type MergeKind string

const (
	MergeInvalid     MergeKind = "invalid"     // the bucket can never be stored
	MergeUnavailable MergeKind = "unavailable" // the store could not be reached in time
	MergeBackend     MergeKind = "backend"     // the store rejected the write
)

// MergeError is returned by Writer.Merge. The bucket it names was dropped.
type MergeError struct {
	Kind MergeKind
	Key  string
	Err  error
}

func (me *MergeError) Error() string {
	return fmt.Sprintf("merge %s failed (%s): %v", me.Key, me.Kind, me.Err)
}

func (me *MergeError) Unwrap() error { return me.Err }

func classifyMerge(key string, err error) *MergeError {
	var netErr net.Error
	kind := MergeBackend
	switch {
	case errors.Is(err, Mp.ErrInvalidBucket):
		kind = MergeInvalid
	case errors.Is(err, Mp.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sql.ErrConnDone),
		errors.As(err, &netErr):
		kind = MergeUnavailable
	}
	return &MergeError{Kind: kind, Key: key, Err: err}
}

// Writer owns the consumer end of the bucket queue and every store mutation.
// Enqueue never blocks: when the queue is full the bucket is dropped.
// A failed merge is logged and dropped, never retried.
type Writer struct {
	Store        Mp.CounterStore
	DeviceID     string
	Stats        *Mo.StatsInternal
	WriteTimeout time.Duration
	DrainTimeout time.Duration

	queue    chan Mt.MinuteBucket
	stop     chan struct{}
	done     chan struct{}
	startMU  sync.Mutex
	started  bool
	stopOnce sync.Once
}

func NewWriter(store Mp.CounterStore, deviceID string, size int, stats *Mo.StatsInternal) *Writer {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Writer{
		Store:        store,
		DeviceID:     deviceID,
		Stats:        stats,
		WriteTimeout: DefaultWriteTimeout,
		DrainTimeout: DefaultDrainTimeout,
		queue:        make(chan Mt.MinuteBucket, size),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Enqueue hands a sealed bucket to the writer and reports whether it was accepted
func (w *Writer) Enqueue(b Mt.MinuteBucket) bool {
	select {
	case w.queue <- b:
		w.Stats.SetQueueDepth(len(w.queue))
		return true
	default:
		slog.Warn("Writer queue full, dropping bucket",
			slog.String("minute", b.MinuteKey),
			slog.Uint64("count", b.Count),
			slog.Int("capacity", cap(w.queue)))
		w.Stats.RecDropped()
		return false
	}
}

// Pending is the number of buckets waiting for the writer
func (w *Writer) Pending() int { return len(w.queue) }

// Start runs the writer goroutine. It may only be started once.
func (w *Writer) Start() {
	w.startMU.Lock()
	defer w.startMU.Unlock()
	if w.started {
		return
	}
	w.started = true

	go w.run()
	slog.Info("Writer started",
		slog.String("store", w.Store.Type()),
		slog.Int("capacity", cap(w.queue)))
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case b := <-w.queue:
			w.Stats.SetQueueDepth(len(w.queue))
			_ = w.Merge(context.Background(), b)
		case <-w.stop:
			w.drain()
			return
		}
	}
}

// drain merges what is already queued, bounded by DrainTimeout
func (w *Writer) drain() {
	deadline := time.NewTimer(w.DrainTimeout)
	defer deadline.Stop()

	for {
		select {
		case b := <-w.queue:
			_ = w.Merge(context.Background(), b)
		case <-deadline.C:
			slog.Error("Writer drain deadline reached, dropping remaining buckets",
				slog.Int("remaining", len(w.queue)))
			return
		default:
			w.Stats.SetQueueDepth(0)
			return
		}
	}
}

// Stop signals the writer, waits for it to drain, and returns.
// Safe to call more than once, and on a writer that never started.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })

	w.startMU.Lock()
	started := w.started
	w.startMU.Unlock()
	if started {
		<-w.done
		slog.Info("Writer stopped")
	}
}

// Merge adds one bucket to the store under the write timeout.
// A failure is returned as a *MergeError after it is logged.
func (w *Writer) Merge(ctx context.Context, b Mt.MinuteBucket) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, w.WriteTimeout)
	defer cancel()

	ctx, span := Mo.Tracer().Start(ctx, "Writer.Merge")
	defer span.End()
	span.SetAttributes(
		attribute.String("device", w.DeviceID),
		attribute.String("minute", b.MinuteKey),
		attribute.Int64("count", int64(b.Count)))

	err := w.Store.Increment(ctx, w.DeviceID, b.MinuteKey, b.Count)
	if err != nil {
		me := classifyMerge(b.MinuteKey, err)
		span.RecordError(me)
		span.SetStatus(codes.Error, string(me.Kind))
		w.Stats.RecMerge(string(me.Kind), time.Since(start).Seconds())

		slog.Error("Bucket merge failed, dropping",
			slog.String("store", w.Store.Type()),
			slog.String("minute", b.MinuteKey),
			slog.Uint64("count", b.Count),
			slog.String("kind", string(me.Kind)),
			slog.Any("error", err))
		return me
	}

	w.Stats.RecMerge("ok", time.Since(start).Seconds())
	slog.Debug("Bucket merged",
		slog.String("minute", b.MinuteKey),
		slog.Uint64("count", b.Count))
	return nil
}
