package blinkwise

import (
	"time"

	Mt "github.com/maroda/blinkwise/types"
)

// MinuteKey formats t as a local minute bucket key
func MinuteKey(t time.Time) string {
	return t.Local().Format(Mt.MinuteKeyLayout)
}

// Aggregator accumulates blink events into the open minute bucket
// and a session-lifetime total. It is owned by the sampling loop.
//
// Callers Tick before OnBlink for the same frame, so a blink on
// the first frame of a new minute lands in the new bucket.
type Aggregator struct {
	open  *Mt.MinuteBucket
	total uint64
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Tick opens the first bucket or, when nowKey moves past the open key,
// seals the open bucket and returns it. Keys never move backwards:
// an older nowKey keeps the open bucket, so a key is sealed at most once.
func (a *Aggregator) Tick(nowKey string) *Mt.MinuteBucket {
	if a.open == nil {
		a.open = &Mt.MinuteBucket{MinuteKey: nowKey}
		return nil
	}
	if nowKey <= a.open.MinuteKey {
		return nil
	}

	sealed := *a.open
	a.open = &Mt.MinuteBucket{MinuteKey: nowKey}
	return &sealed
}

// OnBlink counts one blink into the session and the open bucket
func (a *Aggregator) OnBlink() {
	a.total++
	if a.open != nil {
		a.open.Count++
	}
}

// NewSession zeroes the session total. The open bucket is kept, so a
// session restarted within the same minute keeps counting into it.
func (a *Aggregator) NewSession() {
	a.total = 0
}

// Flush seals the open bucket for good, at shutdown.
// A later Tick opens a fresh bucket.
func (a *Aggregator) Flush() *Mt.MinuteBucket {
	if a.open == nil {
		return nil
	}
	sealed := *a.open
	a.open = nil
	return &sealed
}

// Open returns a copy of the open bucket
func (a *Aggregator) Open() (Mt.MinuteBucket, bool) {
	if a.open == nil {
		return Mt.MinuteBucket{}, false
	}
	return *a.open, true
}

func (a *Aggregator) Total() uint64 { return a.total }
