package plugin

import (
	"context"
	"sort"
	"sync"

	Mt "github.com/maroda/blinkwise/types"
)

// MemoryStore keeps counters in process memory.
// Used for tests and for running without durable storage.
type MemoryStore struct {
	MU   sync.RWMutex
	Data map[string]map[string]uint64 // device -> minute key -> count
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Data: make(map[string]map[string]uint64)}
}

func (ms *MemoryStore) Increment(_ context.Context, deviceID, minuteKey string, delta uint64) error {
	if err := validBucket(deviceID, minuteKey); err != nil {
		return err
	}

	ms.MU.Lock()
	defer ms.MU.Unlock()

	dev, ok := ms.Data[deviceID]
	if !ok {
		dev = make(map[string]uint64)
		ms.Data[deviceID] = dev
	}
	dev[minuteKey] += delta
	return nil
}

func (ms *MemoryStore) Range(_ context.Context, deviceID, fromKey, toKey string) ([]Mt.Counter, error) {
	ms.MU.RLock()
	defer ms.MU.RUnlock()

	var out []Mt.Counter
	for k, v := range ms.Data[deviceID] {
		if inRange(k, fromKey, toKey) {
			out = append(out, Mt.Counter{DeviceID: deviceID, MinuteKey: k, BlinkCount: v})
		}
	}
	sortCounters(out)
	return out, nil
}

func (ms *MemoryStore) Last(ctx context.Context, deviceID string, n int) ([]Mt.Counter, error) {
	all, _ := ms.Range(ctx, deviceID, "", "")
	return lastN(all, n), nil
}

func (ms *MemoryStore) Close() error { return nil }
func (ms *MemoryStore) Type() string { return "Memory" }

// inRange applies the half-open [from, to) bound, empty meaning open
func inRange(key, from, to string) bool {
	if from != "" && key < from {
		return false
	}
	if to != "" && key >= to {
		return false
	}
	return true
}

func sortCounters(c []Mt.Counter) {
	sort.Slice(c, func(i, j int) bool { return c[i].MinuteKey < c[j].MinuteKey })
}

// lastN takes an ascending slice and returns its newest n, newest first
func lastN(asc []Mt.Counter, n int) []Mt.Counter {
	if n <= 0 || len(asc) == 0 {
		return nil
	}
	if n > len(asc) {
		n = len(asc)
	}
	out := make([]Mt.Counter, 0, n)
	for i := len(asc) - 1; i >= len(asc)-n; i-- {
		out = append(out, asc[i])
	}
	return out
}
