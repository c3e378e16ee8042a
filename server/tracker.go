package blinkwise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	Mo "github.com/maroda/blinkwise/obvy"
	Mp "github.com/maroda/blinkwise/plugin"
	Mt "github.com/maroda/blinkwise/types"
)

var (
	ErrAlreadyRunning = errors.New("tracker already running")
	ErrNotRunning     = errors.New("tracker not running")
	ErrNoSession      = errors.New("no session to save")
)

// FrameSource is the landmark collaborator. An error is an acquisition
// failure and ends the session with Camera Error.
type FrameSource interface {
	NextFrame(ctx context.Context) (Mt.Frame, error)
}

// FrameFunc adapts a function to a FrameSource
type FrameFunc func(ctx context.Context) (Mt.Frame, error)

func (f FrameFunc) NextFrame(ctx context.Context) (Mt.Frame, error) { return f(ctx) }

// BucketQueue receives sealed buckets without blocking
type BucketQueue interface {
	Enqueue(b Mt.MinuteBucket) bool
}

// SnapshotWriter persists session snapshots
type SnapshotWriter interface {
	Save(snap Mt.SessionSnapshot) (string, error)
}

// ConfigUpdate carries optional new values; nil fields are left alone
type ConfigUpdate struct {
	Threshold  *int `json:"threshold"`
	NormalRate *int `json:"normal_blink_rate"`
	LowRate    *int `json:"low_blink_rate"`
}

// Tracker owns one sampling loop and its session state.
//
// The loop goroutine exclusively owns the smoothing windows, detector,
// aggregator, and rate engine; it never performs store I/O.
// MU guards the published TrackerState, which readers receive by copy.
// ThresholdConfig is swapped atomically and read every frame.
type Tracker struct {
	MU            sync.RWMutex
	DeviceID      string
	Source        FrameSource
	Queue         BucketQueue
	Thresholds    Mp.ThresholdStore // optional
	Sinks         []Mp.AlertSink
	Sessions      SnapshotWriter // optional
	Clock         quartz.Clock
	Interval      time.Duration
	AlertInterval time.Duration
	Stats         *Mo.StatsInternal

	cfg       atomic.Pointer[Mt.ThresholdConfig]
	cfgMU     sync.Mutex // serializes UpdateConfig
	state     Mt.TrackerState
	startedAt time.Time
	pausedAt  time.Time
	pausedFor time.Duration
	sup       *Supervisor

	left     *SmoothingWindow
	right    *SmoothingWindow
	detector *BlinkDetector
	agg      *Aggregator
	rates    *RateEngine
}

func NewTracker(deviceID string, source FrameSource, queue BucketQueue, clock quartz.Clock) *Tracker {
	t := &Tracker{
		DeviceID:      deviceID,
		Source:        source,
		Queue:         queue,
		Clock:         clock,
		Interval:      DefaultInterval,
		AlertInterval: DefaultAlertInterval,
		rates:         NewRateEngine(DefaultAlertInterval),
		state:         Mt.TrackerState{Status: Mt.StatusNotStarted},
	}
	cfg := ClampConfig(Mt.ThresholdConfig{
		DetectionThreshold: DefaultThreshold,
		NormalRate:         DefaultNormalRate,
		LowRate:            DefaultLowRate,
	})
	t.cfg.Store(&cfg)
	t.agg = NewAggregator()
	t.resetLoop()
	return t
}

// LoadConfig installs base with the threshold read from the config store.
// When the store fails the base threshold is kept and the error returned.
func (t *Tracker) LoadConfig(ctx context.Context, base Mt.ThresholdConfig) (Mt.ThresholdConfig, error) {
	var err error
	if t.Thresholds != nil {
		var threshold int
		threshold, err = t.Thresholds.LoadThreshold(ctx)
		if err != nil {
			slog.Warn("Could not load threshold, using default",
				slog.Int("threshold", base.DetectionThreshold),
				slog.Any("error", err))
		} else {
			base.DetectionThreshold = threshold
		}
	}

	cfg := ClampConfig(base)
	t.cfg.Store(&cfg)
	slog.Info("Threshold config loaded",
		slog.Int("threshold", cfg.DetectionThreshold),
		slog.Int("normal_rate", cfg.NormalRate),
		slog.Int("low_rate", cfg.LowRate))
	return cfg, err
}

// Config returns the effective ThresholdConfig
func (t *Tracker) Config() Mt.ThresholdConfig {
	return *t.cfg.Load()
}

// UpdateConfig applies the non-nil fields, clamped into range, and
// writes a new threshold through to the config store. The effective
// config is returned even when persisting fails.
func (t *Tracker) UpdateConfig(ctx context.Context, u ConfigUpdate) (Mt.ThresholdConfig, error) {
	t.cfgMU.Lock()
	defer t.cfgMU.Unlock()

	next := *t.cfg.Load()
	if u.Threshold != nil {
		next.DetectionThreshold = *u.Threshold
	}
	if u.NormalRate != nil {
		next.NormalRate = *u.NormalRate
	}
	if u.LowRate != nil {
		next.LowRate = *u.LowRate
	}
	next = ClampConfig(next)
	t.cfg.Store(&next)

	slog.Info("Threshold config updated",
		slog.Int("threshold", next.DetectionThreshold),
		slog.Int("normal_rate", next.NormalRate),
		slog.Int("low_rate", next.LowRate))

	if u.Threshold != nil && t.Thresholds != nil {
		if err := t.Thresholds.SaveThreshold(ctx, next.DetectionThreshold); err != nil {
			slog.Error("Could not persist threshold", slog.Any("error", err))
			return next, fmt.Errorf("persist threshold: %w", err)
		}
	}
	return next, nil
}

// Start begins a new session with fresh loop state and a new session id.
// The alert cooldown and the open minute bucket carry over between
// sessions; the bucket is sealed here when its minute has already passed.
func (t *Tracker) Start() error {
	t.MU.Lock()
	if t.state.Running {
		t.MU.Unlock()
		return ErrAlreadyRunning
	}
	previous := t.sup
	t.MU.Unlock()

	// a failed loop has already exited, make sure it is joined
	if previous != nil {
		previous.Stop()
	}

	t.MU.Lock()
	defer t.MU.Unlock()
	if t.state.Running {
		return ErrAlreadyRunning
	}

	t.resetLoop()
	if t.AlertInterval > 0 {
		t.rates.Interval = t.AlertInterval
	}
	t.startedAt = t.Clock.Now()
	t.agg.NewSession()
	if sealed := t.agg.Tick(MinuteKey(t.startedAt)); sealed != nil {
		t.seal(*sealed)
	}
	t.pausedAt = time.Time{}
	t.pausedFor = 0
	t.state = Mt.TrackerState{
		SessionID:   uuid.NewString(),
		Status:      Mt.StatusStarting,
		Running:     true,
		LastAlert:   t.state.LastAlert,
		LastAlertAt: t.state.LastAlertAt,
	}

	t.sup = NewSupervisor(t.Clock, t.Interval, t.step, t.finish)
	t.sup.Start()
	t.state.Status = Mt.StatusRunning

	slog.Info("Tracker started",
		slog.String("device", t.DeviceID),
		slog.String("session", t.state.SessionID))
	return nil
}

// Stop ends the session and waits for the loop to exit.
// The open bucket stays parked until the next Start or Flush.
func (t *Tracker) Stop() error {
	t.MU.Lock()
	if !t.state.Running {
		t.MU.Unlock()
		return ErrNotRunning
	}
	sup := t.sup
	t.MU.Unlock()

	sup.Stop()
	slog.Info("Tracker stopped", slog.String("device", t.DeviceID))
	return nil
}

// Flush seals the parked bucket of a stopped tracker, at shutdown
func (t *Tracker) Flush() error {
	t.MU.Lock()
	if t.state.Running {
		t.MU.Unlock()
		return ErrAlreadyRunning
	}
	sup := t.sup
	t.MU.Unlock()

	// a failed loop may still be on its way out
	if sup != nil {
		sup.Stop()
	}

	t.MU.Lock()
	defer t.MU.Unlock()
	if t.state.Running {
		return ErrAlreadyRunning
	}
	if b := t.agg.Flush(); b != nil {
		t.seal(*b)
	}
	return nil
}

func (t *Tracker) Pause() error {
	t.MU.Lock()
	defer t.MU.Unlock()

	if !t.state.Running {
		return ErrNotRunning
	}
	if t.state.Paused {
		return nil
	}
	t.state.Paused = true
	t.state.Status = Mt.StatusPaused
	t.pausedAt = t.Clock.Now()
	return nil
}

func (t *Tracker) Resume() error {
	t.MU.Lock()
	defer t.MU.Unlock()

	if !t.state.Running {
		return ErrNotRunning
	}
	if !t.state.Paused {
		return nil
	}
	t.pausedFor += t.Clock.Now().Sub(t.pausedAt)
	t.state.Paused = false
	t.state.Status = Mt.StatusRunning
	return nil
}

// Status returns a copy of the published state; it may be a frame stale
func (t *Tracker) Status() Mt.TrackerState {
	t.MU.RLock()
	defer t.MU.RUnlock()

	s := t.state
	s.Threshold = *t.cfg.Load()
	return s
}

// SaveSessionSnapshot summarises the current or last session
func (t *Tracker) SaveSessionSnapshot() (Mt.SessionSnapshot, error) {
	t.MU.RLock()
	s := t.state
	started := t.startedAt
	t.MU.RUnlock()

	if s.SessionID == "" {
		return Mt.SessionSnapshot{}, ErrNoSession
	}

	snap := Mt.SessionSnapshot{
		SessionID:       s.SessionID,
		Date:            started.Local().Format(SessionDateLayout),
		DurationSeconds: s.ElapsedSeconds,
		TotalBlinks:     s.BlinkCounter,
		BlinkRate:       s.BlinkRatePerMinute,
		Status:          s.Status,
		Classification:  s.Classification,
	}

	if t.Sessions != nil {
		if _, err := t.Sessions.Save(snap); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// step is one supervisor tick
func (t *Tracker) step(ctx context.Context) error {
	t.MU.RLock()
	paused := t.state.Paused
	t.MU.RUnlock()
	if paused {
		return nil
	}

	start := time.Now()
	frame, err := t.Source.NextFrame(ctx)
	if err != nil {
		return err
	}
	t.ProcessFrame(frame, t.Clock.Now())
	t.Stats.RecFrameTimer(time.Since(start).Seconds())
	return nil
}

// ProcessFrame runs one frame through the loop-owned pipeline.
// It must only be called from the sampling loop, or from tests while
// no loop is ticking.
func (t *Tracker) ProcessFrame(frame Mt.Frame, now time.Time) {
	cfg := t.cfg.Load()

	// the boundary check comes first so a blink on the first
	// frame of a minute counts in the new bucket
	if sealed := t.agg.Tick(MinuteKey(now)); sealed != nil {
		t.seal(*sealed)
	}

	if frame.FacePresent {
		avg := t.left.Push(frame.Sample.RatioLeft)
		t.right.Push(frame.Sample.RatioRight)
		if t.detector.Observe(frame.Sample.RatioLeft, avg, cfg.DetectionThreshold) {
			t.agg.OnBlink()
			t.Stats.RecBlink()
		}
	}

	t.MU.RLock()
	elapsed := now.Sub(t.startedAt) - t.pausedFor
	t.MU.RUnlock()

	total := t.agg.Total()
	rate, ok := BlinkRate(total, elapsed)

	var (
		class Mt.Classification
		alert *Mt.Alert
	)
	if ok {
		class, alert = t.rates.Evaluate(rate, *cfg, now)
		t.Stats.SetBlinkRate(rate)
	}

	t.MU.Lock()
	t.state.BlinkCounter = total
	t.state.ElapsedSeconds = FloatPrecise(elapsed.Seconds(), 1)
	t.state.BlinkRatePerMinute = FloatPrecise(rate, 1)
	if ok {
		t.state.Classification = class
	}
	if alert != nil {
		t.state.LastAlert = alert.Message
		t.state.LastAlertAt = alert.At
	}
	t.MU.Unlock()

	if alert != nil {
		alert.DeviceID = t.DeviceID
		t.notify(*alert)
	}
}

// finish runs on the loop goroutine as it exits
func (t *Tracker) finish(err error) {
	t.MU.Lock()
	defer t.MU.Unlock()

	t.state.Running = false
	t.state.Paused = false
	if err != nil {
		t.state.Status = Mt.StatusCameraError
		slog.Error("Frame acquisition failed, session ended",
			slog.String("device", t.DeviceID),
			slog.String("session", t.state.SessionID),
			slog.Any("error", err))
		return
	}
	t.state.Status = Mt.StatusStopped
}

// seal hands a finished bucket to the writer. Empty minutes are not stored.
func (t *Tracker) seal(b Mt.MinuteBucket) {
	if b.Count == 0 {
		return
	}
	t.Stats.RecSealed()
	t.Queue.Enqueue(b)
}

func (t *Tracker) notify(alert Mt.Alert) {
	t.Stats.RecAlert(string(alert.Classification))
	for _, sink := range t.Sinks {
		if err := sink.Notify(alert); err != nil {
			slog.Error("Alert sink failed",
				slog.String("sink", sink.Type()),
				slog.Any("error", err))
		}
	}
}

func (t *Tracker) resetLoop() {
	t.left = NewSmoothingWindow()
	t.right = NewSmoothingWindow()
	t.detector = NewBlinkDetector()
}
