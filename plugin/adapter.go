package plugin

/*

	The Adapter sits aside /blinkwise/
	Contains core interfaces for Plugin

*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	Mt "github.com/maroda/blinkwise/types"
)

var (
	// ErrStoreUnavailable is returned when a backend cannot be reached
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInvalidBucket is returned for increments that can never succeed
	ErrInvalidBucket = errors.New("invalid bucket")
)

// CounterStore is the storage-agnostic PersistedCounter.
// Every backend merges increments additively and atomically per key,
// so delivery order and duplication granularity never change the total.
type CounterStore interface {
	// Increment adds delta to (deviceID, minuteKey), creating it at delta when absent.
	Increment(ctx context.Context, deviceID, minuteKey string, delta uint64) error

	// Range returns counters with fromKey <= MinuteKey < toKey in ascending key order.
	// An empty bound is open.
	Range(ctx context.Context, deviceID, fromKey, toKey string) ([]Mt.Counter, error)

	// Last returns up to n counters, newest first.
	Last(ctx context.Context, deviceID string, n int) ([]Mt.Counter, error)

	Close() error // Close the adapter and release resources
	Type() string // ID for the backend
}

// ThresholdStore is the config-store collaborator for the detection threshold.
type ThresholdStore interface {
	LoadThreshold(ctx context.Context) (int, error)
	SaveThreshold(ctx context.Context, threshold int) error
}

// AlertSink receives wellness alerts from the sampling loop.
// Notify must not block on slow transports.
type AlertSink interface {
	Notify(alert Mt.Alert) error
	Type() string
}

// FrameDecoder turns a landmark collaborator payload into a Frame.
type FrameDecoder interface {
	Decode(body []byte) (Mt.Frame, error)
	Type() string
}

// validBucket is shared by every backend before touching storage
func validBucket(deviceID, minuteKey string) error {
	if deviceID == "" || minuteKey == "" {
		return ErrInvalidBucket
	}
	if _, err := time.Parse(Mt.MinuteKeyLayout, minuteKey); err != nil {
		return fmt.Errorf("%w: minute key %q", ErrInvalidBucket, minuteKey)
	}
	return nil
}
