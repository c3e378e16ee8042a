package blinkwise_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	Ms "github.com/maroda/blinkwise/server"
	Mt "github.com/maroda/blinkwise/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackerStart = time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)

// fakeQueue records every sealed bucket
type fakeQueue struct {
	mu      sync.Mutex
	buckets []Mt.MinuteBucket
}

func (fq *fakeQueue) Enqueue(b Mt.MinuteBucket) bool {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.buckets = append(fq.buckets, b)
	return true
}

func (fq *fakeQueue) Buckets() []Mt.MinuteBucket {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return append([]Mt.MinuteBucket(nil), fq.buckets...)
}

// fakeSink records every alert
type fakeSink struct {
	mu     sync.Mutex
	alerts []Mt.Alert
	err    error
}

func (fs *fakeSink) Notify(a Mt.Alert) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.alerts = append(fs.alerts, a)
	return fs.err
}

func (fs *fakeSink) Type() string { return "Fake" }

func (fs *fakeSink) Alerts() []Mt.Alert {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]Mt.Alert(nil), fs.alerts...)
}

// fakeThresholds is an in-memory ThresholdStore
type fakeThresholds struct {
	mu        sync.Mutex
	threshold int
	err       error
}

func (ft *fakeThresholds) LoadThreshold(context.Context) (int, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.threshold, ft.err
}

func (ft *fakeThresholds) SaveThreshold(_ context.Context, threshold int) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.err != nil {
		return ft.err
	}
	ft.threshold = threshold
	return nil
}

func face(left, right float64) Mt.Frame {
	return Mt.Frame{FacePresent: true, Sample: Mt.Sample{RatioLeft: left, RatioRight: right}}
}

var noFace = Mt.Frame{}

// makeTestTracker returns a started tracker whose loop never ticks on its own,
// so the test drives ProcessFrame directly.
func makeTestTracker(t *testing.T) (*Ms.Tracker, *fakeQueue, *quartz.Mock) {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(trackerStart).MustWait(context.Background())

	queue := &fakeQueue{}
	src := Ms.FrameFunc(func(context.Context) (Mt.Frame, error) { return noFace, nil })
	tr := Ms.NewTracker("dev", src, queue, mClock)
	tr.Interval = 24 * time.Hour

	require.NoError(t, tr.Start())
	t.Cleanup(func() { _ = tr.Stop() })
	return tr, queue, mClock
}

func TestTracker_Lifecycle(t *testing.T) {
	mClock := quartz.NewMock(t)
	src := Ms.FrameFunc(func(context.Context) (Mt.Frame, error) { return noFace, nil })
	tr := Ms.NewTracker("dev", src, &fakeQueue{}, mClock)
	tr.Interval = 24 * time.Hour

	assert.Equal(t, Mt.StatusNotStarted, tr.Status().Status)
	assert.ErrorIs(t, tr.Stop(), Ms.ErrNotRunning)
	assert.ErrorIs(t, tr.Pause(), Ms.ErrNotRunning)
	assert.ErrorIs(t, tr.Resume(), Ms.ErrNotRunning)
	_, err := tr.SaveSessionSnapshot()
	assert.ErrorIs(t, err, Ms.ErrNoSession)

	require.NoError(t, tr.Start())
	first := tr.Status()
	assert.Equal(t, Mt.StatusRunning, first.Status)
	assert.True(t, first.Running)
	assert.NotEmpty(t, first.SessionID)
	assert.ErrorIs(t, tr.Start(), Ms.ErrAlreadyRunning)

	require.NoError(t, tr.Pause())
	assert.Equal(t, Mt.StatusPaused, tr.Status().Status)
	require.NoError(t, tr.Pause())
	require.NoError(t, tr.Resume())
	assert.Equal(t, Mt.StatusRunning, tr.Status().Status)

	require.NoError(t, tr.Stop())
	stopped := tr.Status()
	assert.Equal(t, Mt.StatusStopped, stopped.Status)
	assert.False(t, stopped.Running)

	require.NoError(t, tr.Start())
	assert.NotEqual(t, first.SessionID, tr.Status().SessionID)
	require.NoError(t, tr.Stop())
}

func TestTracker_ProcessFrame(t *testing.T) {
	t.Run("A blink is counted and sealed when the minute rolls", func(t *testing.T) {
		tr, queue, _ := makeTestTracker(t)

		tr.ProcessFrame(face(40, 40), trackerStart)
		tr.ProcessFrame(face(40, 40), trackerStart.Add(time.Second))
		tr.ProcessFrame(face(30, 40), trackerStart.Add(2*time.Second))
		assert.Equal(t, uint64(1), tr.Status().BlinkCounter)

		tr.ProcessFrame(face(40, 40), trackerStart.Add(time.Minute))
		assert.Equal(t, []Mt.MinuteBucket{{MinuteKey: "2024-01-01 10:00", Count: 1}}, queue.Buckets())

		// the open 10:01 bucket is empty, so nothing more is sealed
		require.NoError(t, tr.Stop())
		require.NoError(t, tr.Flush())
		assert.Len(t, queue.Buckets(), 1)
		assert.Equal(t, uint64(1), tr.Status().BlinkCounter)
	})

	t.Run("A blink on the first frame of a minute lands in the new bucket", func(t *testing.T) {
		tr, queue, _ := makeTestTracker(t)

		tr.ProcessFrame(face(40, 40), trackerStart.Add(58*time.Second))
		tr.ProcessFrame(face(40, 40), trackerStart.Add(59*time.Second))
		tr.ProcessFrame(face(30, 40), trackerStart.Add(60*time.Second))

		// 10:00 sealed with nothing in it is not handed over
		assert.Empty(t, queue.Buckets())

		require.NoError(t, tr.Stop())
		assert.Empty(t, queue.Buckets())
		require.NoError(t, tr.Flush())
		assert.Equal(t, []Mt.MinuteBucket{{MinuteKey: "2024-01-01 10:01", Count: 1}}, queue.Buckets())
	})

	t.Run("No-face frames keep the clock running but never blink", func(t *testing.T) {
		tr, _, _ := makeTestTracker(t)

		for i := 0; i < 20; i++ {
			tr.ProcessFrame(noFace, trackerStart.Add(time.Duration(i)*time.Second))
		}
		s := tr.Status()
		assert.Zero(t, s.BlinkCounter)
		assert.Equal(t, 19.0, s.ElapsedSeconds)
		assert.Equal(t, Mt.Unclassified, s.Classification)
	})

	t.Run("The refractory period suppresses a second blink", func(t *testing.T) {
		tr, _, _ := makeTestTracker(t)

		at := trackerStart
		frames := []float64{40, 40, 30, 20, 40, 40, 30}
		for _, r := range frames {
			tr.ProcessFrame(face(r, r), at)
			at = at.Add(100 * time.Millisecond)
		}
		assert.Equal(t, uint64(1), tr.Status().BlinkCounter)
	})
}

func TestTracker_RestartKeepsOpenBucket(t *testing.T) {
	blink := func(tr *Ms.Tracker, at time.Time) {
		tr.ProcessFrame(face(40, 40), at)
		tr.ProcessFrame(face(40, 40), at.Add(time.Second))
		tr.ProcessFrame(face(30, 40), at.Add(2*time.Second))
	}

	t.Run("Stop and Start within a minute seal that minute once", func(t *testing.T) {
		tr, queue, mClock := makeTestTracker(t)
		ctx := context.Background()

		blink(tr, trackerStart)
		require.NoError(t, tr.Stop())

		mClock.Set(trackerStart.Add(30 * time.Second)).MustWait(ctx)
		require.NoError(t, tr.Start())
		assert.Zero(t, tr.Status().BlinkCounter)

		blink(tr, trackerStart.Add(30*time.Second))
		assert.Equal(t, uint64(1), tr.Status().BlinkCounter)
		require.NoError(t, tr.Stop())
		assert.Empty(t, queue.Buckets())

		require.NoError(t, tr.Flush())
		assert.Equal(t, []Mt.MinuteBucket{{MinuteKey: "2024-01-01 10:00", Count: 2}}, queue.Buckets())

		// a second flush has nothing left to seal
		require.NoError(t, tr.Flush())
		assert.Len(t, queue.Buckets(), 1)
	})

	t.Run("A restart in a later minute seals the parked bucket", func(t *testing.T) {
		tr, queue, mClock := makeTestTracker(t)
		ctx := context.Background()

		blink(tr, trackerStart)
		require.NoError(t, tr.Stop())

		mClock.Set(trackerStart.Add(3 * time.Minute)).MustWait(ctx)
		require.NoError(t, tr.Start())
		assert.Equal(t, []Mt.MinuteBucket{{MinuteKey: "2024-01-01 10:00", Count: 1}}, queue.Buckets())

		blink(tr, trackerStart.Add(3*time.Minute))
		require.NoError(t, tr.Stop())
		require.NoError(t, tr.Flush())
		assert.Equal(t, []Mt.MinuteBucket{
			{MinuteKey: "2024-01-01 10:00", Count: 1},
			{MinuteKey: "2024-01-01 10:03", Count: 1},
		}, queue.Buckets())
	})

	t.Run("Flush refuses a running tracker", func(t *testing.T) {
		tr, queue, _ := makeTestTracker(t)

		blink(tr, trackerStart)
		assert.ErrorIs(t, tr.Flush(), Ms.ErrAlreadyRunning)
		assert.Empty(t, queue.Buckets())
	})
}

func TestTracker_Alerts(t *testing.T) {
	t.Run("A low rate alerts once per interval", func(t *testing.T) {
		tr, _, _ := makeTestTracker(t)
		sink := &fakeSink{}
		tr.Sinks = append(tr.Sinks, sink, &fakeSink{err: errors.New("broker down")})

		tr.ProcessFrame(noFace, trackerStart.Add(20*time.Second))
		assert.Empty(t, sink.Alerts())

		tr.ProcessFrame(noFace, trackerStart.Add(90*time.Second))
		tr.ProcessFrame(noFace, trackerStart.Add(100*time.Second))

		alerts := sink.Alerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, Mt.Critical, alerts[0].Classification)
		assert.Equal(t, "dev", alerts[0].DeviceID)
		assert.Contains(t, alerts[0].Message, "Very low blink rate")

		s := tr.Status()
		assert.Equal(t, Mt.Critical, s.Classification)
		assert.Equal(t, alerts[0].Message, s.LastAlert)
		assert.Equal(t, 100.0, s.ElapsedSeconds)
	})

	t.Run("Paused time does not count toward the rate", func(t *testing.T) {
		tr, _, mClock := makeTestTracker(t)
		ctx := context.Background()

		require.NoError(t, tr.Pause())
		mClock.Set(trackerStart.Add(60 * time.Second)).MustWait(ctx)
		require.NoError(t, tr.Resume())

		tr.ProcessFrame(noFace, trackerStart.Add(90*time.Second))
		s := tr.Status()
		assert.Equal(t, 30.0, s.ElapsedSeconds)
		assert.Equal(t, Mt.Unclassified, s.Classification)

		tr.ProcessFrame(noFace, trackerStart.Add(100*time.Second))
		assert.Equal(t, 40.0, tr.Status().ElapsedSeconds)
	})
}

func TestTracker_Config(t *testing.T) {
	ctx := context.Background()
	ptr := func(i int) *int { return &i }

	t.Run("LoadConfig reads the stored threshold", func(t *testing.T) {
		tr := Ms.NewTracker("dev", nil, &fakeQueue{}, quartz.NewMock(t))
		tr.Thresholds = &fakeThresholds{threshold: 28}

		cfg, err := tr.LoadConfig(ctx, Mt.ThresholdConfig{DetectionThreshold: 34, NormalRate: 12, LowRate: 8})
		require.NoError(t, err)
		assert.Equal(t, 28, cfg.DetectionThreshold)
		assert.Equal(t, cfg, tr.Config())
	})

	t.Run("LoadConfig keeps the base threshold when the store fails", func(t *testing.T) {
		tr := Ms.NewTracker("dev", nil, &fakeQueue{}, quartz.NewMock(t))
		tr.Thresholds = &fakeThresholds{err: errors.New("disk gone")}

		cfg, err := tr.LoadConfig(ctx, Mt.ThresholdConfig{DetectionThreshold: 34, NormalRate: 12, LowRate: 8})
		assert.Error(t, err)
		assert.Equal(t, 34, cfg.DetectionThreshold)
	})

	t.Run("UpdateConfig clamps and persists the threshold", func(t *testing.T) {
		store := &fakeThresholds{threshold: 34}
		tr := Ms.NewTracker("dev", nil, &fakeQueue{}, quartz.NewMock(t))
		tr.Thresholds = store

		cfg, err := tr.UpdateConfig(ctx, Ms.ConfigUpdate{Threshold: ptr(100)})
		require.NoError(t, err)
		assert.Equal(t, Ms.MaxThreshold, cfg.DetectionThreshold)
		assert.Equal(t, Ms.DefaultNormalRate, cfg.NormalRate)
		assert.Equal(t, Ms.MaxThreshold, store.threshold)
		assert.Equal(t, cfg, tr.Status().Threshold)
	})

	t.Run("UpdateConfig of rates only does not touch the store", func(t *testing.T) {
		store := &fakeThresholds{threshold: 31}
		tr := Ms.NewTracker("dev", nil, &fakeQueue{}, quartz.NewMock(t))
		tr.Thresholds = store

		cfg, err := tr.UpdateConfig(ctx, Ms.ConfigUpdate{NormalRate: ptr(15), LowRate: ptr(10)})
		require.NoError(t, err)
		assert.Equal(t, 15, cfg.NormalRate)
		assert.Equal(t, 10, cfg.LowRate)
		assert.Equal(t, 31, store.threshold)
	})

	t.Run("UpdateConfig applies even when persisting fails", func(t *testing.T) {
		tr := Ms.NewTracker("dev", nil, &fakeQueue{}, quartz.NewMock(t))
		tr.Thresholds = &fakeThresholds{err: errors.New("read-only")}

		cfg, err := tr.UpdateConfig(ctx, Ms.ConfigUpdate{Threshold: ptr(25)})
		assert.Error(t, err)
		assert.Equal(t, 25, cfg.DetectionThreshold)
		assert.Equal(t, 25, tr.Config().DetectionThreshold)
	})
}

func TestTracker_CameraError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	mClock.Set(trackerStart).MustWait(ctx)

	src := Ms.FrameFunc(func(context.Context) (Mt.Frame, error) {
		return Mt.Frame{}, errors.New("camera unplugged")
	})
	tr := Ms.NewTracker("dev", src, &fakeQueue{}, mClock)
	require.NoError(t, tr.Start())

	_, aw := mClock.AdvanceNext()
	aw.MustWait(ctx)

	require.Eventually(t, func() bool {
		return tr.Status().Status == Mt.StatusCameraError
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, tr.Status().Running)
	assert.ErrorIs(t, tr.Stop(), Ms.ErrNotRunning)

	// a new session can start after the failure
	require.NoError(t, tr.Start())
	assert.Equal(t, Mt.StatusRunning, tr.Status().Status)
	require.NoError(t, tr.Stop())
}

func TestTracker_SaveSessionSnapshot(t *testing.T) {
	tr, _, _ := makeTestTracker(t)
	dir := t.TempDir()
	tr.Sessions = Ms.NewSessionStore(dir, quartz.NewMock(t))

	tr.ProcessFrame(face(40, 40), trackerStart)
	tr.ProcessFrame(face(40, 40), trackerStart.Add(time.Second))
	tr.ProcessFrame(face(30, 40), trackerStart.Add(2*time.Second))
	require.NoError(t, tr.Stop())

	snap, err := tr.SaveSessionSnapshot()
	require.NoError(t, err)
	assert.Equal(t, tr.Status().SessionID, snap.SessionID)
	assert.Equal(t, uint64(1), snap.TotalBlinks)
	assert.Equal(t, 2.0, snap.DurationSeconds)
	assert.Equal(t, Mt.StatusStopped, snap.Status)
	assert.Equal(t, "2024-01-01 10:00:00", snap.Date)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}
