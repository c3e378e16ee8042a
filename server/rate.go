package blinkwise

import (
	"fmt"
	"time"

	Mt "github.com/maroda/blinkwise/types"
)

const (
	// rateWarmup is how long a session runs before a rate is reported
	rateWarmup = 30 * time.Second

	// DefaultAlertInterval is the default MinAlertInterval
	DefaultAlertInterval = 1200 * time.Second
)

// BlinkRate is blinks per minute over the whole session.
// ok is false until the session is older than the warmup.
func BlinkRate(totalBlinks uint64, elapsed time.Duration) (rate float64, ok bool) {
	if elapsed <= rateWarmup {
		return 0, false
	}
	return float64(totalBlinks) / elapsed.Minutes(), true
}

// Classify maps a rate onto the wellness bands.
// rate == low is BelowAverage, rate == normal is Normal.
func Classify(rate float64, low, normal int) Mt.Classification {
	switch {
	case rate < float64(low):
		return Mt.Critical
	case rate < float64(normal):
		return Mt.BelowAverage
	default:
		return Mt.Normal
	}
}

// AlertMessage is the stable template for each alerting classification
func AlertMessage(c Mt.Classification, rate float64) string {
	switch c {
	case Mt.Critical:
		return fmt.Sprintf("Warning: Very low blink rate detected (%.1f bpm)! Please take a break.", rate)
	case Mt.BelowAverage:
		return fmt.Sprintf("Your blink rate (%.1f bpm) is below average. Try the 20-20-20 rule.", rate)
	default:
		return ""
	}
}

// RateEngine classifies rates and gates alerts by a cooldown.
// It is owned by the sampling loop.
type RateEngine struct {
	Interval    time.Duration
	lastAlertAt time.Time
}

func NewRateEngine(interval time.Duration) *RateEngine {
	return &RateEngine{Interval: interval}
}

// Evaluate classifies rate and returns an alert when the cooldown allows.
// Normal never alerts and never touches the cooldown. A suppressed
// attempt leaves the last alert time unchanged.
func (re *RateEngine) Evaluate(rate float64, cfg Mt.ThresholdConfig, now time.Time) (Mt.Classification, *Mt.Alert) {
	c := Classify(rate, cfg.LowRate, cfg.NormalRate)
	if c == Mt.Normal {
		return c, nil
	}

	if !re.lastAlertAt.IsZero() && now.Sub(re.lastAlertAt) < re.Interval {
		return c, nil
	}

	re.lastAlertAt = now
	return c, &Mt.Alert{
		Classification: c,
		Rate:           FloatPrecise(rate, 1),
		Message:        AlertMessage(c, rate),
		At:             now,
	}
}

func (re *RateEngine) LastAlertAt() time.Time { return re.lastAlertAt }
