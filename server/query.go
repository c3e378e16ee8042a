package blinkwise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	Mo "github.com/maroda/blinkwise/obvy"
	Mp "github.com/maroda/blinkwise/plugin"
	Mt "github.com/maroda/blinkwise/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	todayLimit  = 20 // points kept in TodaySeries
	statsWindow = 60 // minutes compared against today in Stats
	recentLimit = 60 // default for Recent
)

// ErrInvalidDate is returned by MetricsByDate for a malformed date
var ErrInvalidDate = errors.New("invalid date")

// DataPoint is one minute bucket as presented to clients
type DataPoint struct {
	Time   string `json:"time"` // HH:MM
	Blinks uint64 `json:"blinks"`
}

// Series is a chronologically sorted run of buckets with its aggregates
type Series struct {
	Data    []DataPoint `json:"data"`
	Total   uint64      `json:"total"`
	Average float64     `json:"average"`
	Count   int         `json:"count"`
}

// Stats compares the last hour against the whole of today
type Stats struct {
	TodayAverage  float64 `json:"today_average"`
	RecentAverage float64 `json:"recent_average"`
	PercentChange float64 `json:"percentage_change"`
}

// DateMetrics summarises one calendar date
type DateMetrics struct {
	Date    string  `json:"date"`
	Average float64 `json:"average"`
	Min     uint64  `json:"min"`
	Max     uint64  `json:"max"`
	Count   int     `json:"count"`
}

// QueryEngine serves read-only telemetry for one device.
// It reads the store while the writer mutates it; per-key atomicity is all it needs.
// Missing data gives zero values and a nil error; a store error gives
// zero values and the wrapped error.
type QueryEngine struct {
	Store    Mp.CounterStore
	DeviceID string
	Clock    quartz.Clock
}

func NewQueryEngine(store Mp.CounterStore, deviceID string, clock quartz.Clock) *QueryEngine {
	return &QueryEngine{Store: store, DeviceID: deviceID, Clock: clock}
}

// TodaySeries is today's newest 20 buckets; Total and Average cover all of today
func (qe *QueryEngine) TodaySeries(ctx context.Context) (Series, error) {
	ctx, span := qe.span(ctx, "QueryEngine.TodaySeries")
	defer span.End()

	counters, err := qe.today(ctx)
	if err != nil {
		return Series{}, fail(span, err)
	}

	series := summarise(counters)
	if len(counters) > todayLimit {
		series.Data = series.Data[len(series.Data)-todayLimit:]
	}
	return series, nil
}

// TodayEntries is every bucket of today, untrimmed
func (qe *QueryEngine) TodayEntries(ctx context.Context) (Series, error) {
	ctx, span := qe.span(ctx, "QueryEngine.TodayEntries")
	defer span.End()

	counters, err := qe.today(ctx)
	if err != nil {
		return Series{}, fail(span, err)
	}
	return summarise(counters), nil
}

// RecentWindow covers buckets keyed at or after now minus minutes
func (qe *QueryEngine) RecentWindow(ctx context.Context, minutes int) (Series, error) {
	ctx, span := qe.span(ctx, "QueryEngine.RecentWindow")
	defer span.End()
	span.SetAttributes(attribute.Int("minutes", minutes))

	if minutes <= 0 {
		return summarise(nil), nil
	}

	counters, err := qe.recent(ctx, minutes)
	if err != nil {
		return Series{}, fail(span, err)
	}
	return summarise(counters), nil
}

// Stats is (recent60Avg - todayAvg) / todayAvg * 100, or 0 when today is empty.
// The percentage is computed from unrounded averages.
func (qe *QueryEngine) Stats(ctx context.Context) (Stats, error) {
	ctx, span := qe.span(ctx, "QueryEngine.Stats")
	defer span.End()

	today, err := qe.today(ctx)
	if err != nil {
		return Stats{}, fail(span, err)
	}
	recent, err := qe.recent(ctx, statsWindow)
	if err != nil {
		return Stats{}, fail(span, err)
	}

	todayAvg := mean(today)
	recentAvg := mean(recent)

	var change float64
	if todayAvg != 0 {
		change = (recentAvg - todayAvg) / todayAvg * 100
	}

	return Stats{
		TodayAverage:  FloatPrecise(todayAvg, 1),
		RecentAverage: FloatPrecise(recentAvg, 1),
		PercentChange: FloatPrecise(change, 1),
	}, nil
}

// MetricsByDate summarises an arbitrary YYYY-MM-DD
func (qe *QueryEngine) MetricsByDate(ctx context.Context, date string) (DateMetrics, error) {
	ctx, span := qe.span(ctx, "QueryEngine.MetricsByDate")
	defer span.End()
	span.SetAttributes(attribute.String("date", date))

	day, err := time.ParseInLocation(Mt.DateLayout, date, time.Local)
	if err != nil {
		return DateMetrics{}, fail(span, fmt.Errorf("%w: %q", ErrInvalidDate, date))
	}

	counters, err := qe.day(ctx, day)
	if err != nil {
		return DateMetrics{Date: date}, fail(span, err)
	}

	dm := DateMetrics{Date: date, Count: len(counters)}
	if len(counters) == 0 {
		return dm, nil
	}

	dm.Min = counters[0].BlinkCount
	for _, c := range counters {
		dm.Min = min(dm.Min, c.BlinkCount)
		dm.Max = max(dm.Max, c.BlinkCount)
	}
	dm.Average = FloatPrecise(mean(counters), 1)
	return dm, nil
}

// LastEntry is the newest stored bucket; ok is false when there is none
func (qe *QueryEngine) LastEntry(ctx context.Context) (counter Mt.Counter, ok bool, err error) {
	ctx, span := qe.span(ctx, "QueryEngine.LastEntry")
	defer span.End()

	last, err := qe.Store.Last(ctx, qe.DeviceID, 1)
	if err != nil {
		return Mt.Counter{}, false, fail(span, fmt.Errorf("last entry: %w", err))
	}
	if len(last) == 0 {
		return Mt.Counter{}, false, nil
	}
	return last[0], true, nil
}

// Recent is the newest limit stored buckets, newest first
func (qe *QueryEngine) Recent(ctx context.Context, limit int) ([]Mt.Counter, error) {
	ctx, span := qe.span(ctx, "QueryEngine.Recent")
	defer span.End()

	if limit <= 0 {
		limit = recentLimit
	}
	counters, err := qe.Store.Last(ctx, qe.DeviceID, limit)
	if err != nil {
		return []Mt.Counter{}, fail(span, fmt.Errorf("recent: %w", err))
	}
	if counters == nil {
		counters = []Mt.Counter{}
	}
	return counters, nil
}

func (qe *QueryEngine) today(ctx context.Context) ([]Mt.Counter, error) {
	return qe.day(ctx, qe.Clock.Now().Local())
}

// day reads [00:00 of t, 00:00 of the next day)
func (qe *QueryEngine) day(ctx context.Context, t time.Time) ([]Mt.Counter, error) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 0, 1)

	counters, err := qe.Store.Range(ctx, qe.DeviceID, MinuteKey(start), MinuteKey(end))
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", start.Format(Mt.DateLayout), err)
	}
	return counters, nil
}

func (qe *QueryEngine) recent(ctx context.Context, minutes int) ([]Mt.Counter, error) {
	from := MinuteKey(qe.Clock.Now().Add(-time.Duration(minutes) * time.Minute))
	counters, err := qe.Store.Range(ctx, qe.DeviceID, from, "")
	if err != nil {
		return nil, fmt.Errorf("range last %d minutes: %w", minutes, err)
	}
	return counters, nil
}

func (qe *QueryEngine) span(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := Mo.Tracer().Start(ctx, name)
	span.SetAttributes(
		attribute.String("device", qe.DeviceID),
		attribute.String("store", qe.Store.Type()))
	return ctx, span
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// summarise builds an ascending series with unrounded accumulation
func summarise(counters []Mt.Counter) Series {
	series := Series{Data: make([]DataPoint, 0, len(counters)), Count: len(counters)}
	for _, c := range counters {
		series.Total += c.BlinkCount
		series.Data = append(series.Data, DataPoint{Time: clockTime(c.MinuteKey), Blinks: c.BlinkCount})
	}
	series.Average = FloatPrecise(mean(counters), 1)
	return series
}

func mean(counters []Mt.Counter) float64 {
	if len(counters) == 0 {
		return 0
	}
	var sum uint64
	for _, c := range counters {
		sum += c.BlinkCount
	}
	return float64(sum) / float64(len(counters))
}

// clockTime trims a minute key down to HH:MM
func clockTime(minuteKey string) string {
	if len(minuteKey) < len(Mt.MinuteKeyLayout) {
		return minuteKey
	}
	return minuteKey[len(Mt.DateLayout)+1:]
}
