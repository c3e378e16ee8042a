package blinkwise

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blinkwise"

// StatsInternal is the attached prometheus registry.
// All Rec methods are safe on a nil receiver so components
// built without stats (tests, tools) need no special casing.
type StatsInternal struct {
	Registry   *prometheus.Registry
	WWW        *prometheus.CounterVec
	FrameTimer prometheus.Histogram
	Blinks     prometheus.Counter
	Sealed     prometheus.Counter
	Dropped    prometheus.Counter
	Merges     *prometheus.CounterVec
	MergeTimer prometheus.Histogram
	QueueDepth prometheus.Gauge
	Alerts     *prometheus.CounterVec
	BlinkRate  prometheus.Gauge
}

func NewStatsInternal() *StatsInternal {
	si := &StatsInternal{
		Registry: prometheus.NewRegistry(),
		WWW: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by status code and method.",
		}, []string{"code", "method"}),
		FrameTimer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_seconds",
			Help:      "Time spent processing one frame in the sampling loop.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		Blinks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blinks_total",
			Help:      "Blink events detected.",
		}),
		Sealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_sealed_total",
			Help:      "Minute buckets sealed and enqueued.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_dropped_total",
			Help:      "Minute buckets dropped because the writer queue was full.",
		}),
		Merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Bucket merges into the counter store, by result.",
		}, []string{"result"}),
		MergeTimer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_seconds",
			Help:      "Time spent merging one bucket into the counter store.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Sealed buckets waiting for the writer.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Wellness alerts emitted, by classification.",
		}, []string{"classification"}),
		BlinkRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blink_rate_per_minute",
			Help:      "Current session blink rate.",
		}),
	}

	si.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		si.WWW, si.FrameTimer, si.Blinks, si.Sealed, si.Dropped,
		si.Merges, si.MergeTimer, si.QueueDepth, si.Alerts, si.BlinkRate,
	)

	return si
}

// Handler serves the attached registry for /metrics
func (si *StatsInternal) Handler() http.Handler {
	return promhttp.HandlerFor(si.Registry, promhttp.HandlerOpts{Registry: si.Registry})
}

func (si *StatsInternal) RecWWW(code, method string) {
	if si == nil {
		return
	}
	si.WWW.WithLabelValues(code, method).Inc()
}

func (si *StatsInternal) RecFrameTimer(seconds float64) {
	if si == nil {
		return
	}
	si.FrameTimer.Observe(seconds)
}

func (si *StatsInternal) RecBlink() {
	if si == nil {
		return
	}
	si.Blinks.Inc()
}

func (si *StatsInternal) RecSealed() {
	if si == nil {
		return
	}
	si.Sealed.Inc()
}

func (si *StatsInternal) RecDropped() {
	if si == nil {
		return
	}
	si.Dropped.Inc()
}

// RecMerge counts one merge outcome: "ok" or a MergeError kind
func (si *StatsInternal) RecMerge(result string, seconds float64) {
	if si == nil {
		return
	}
	si.Merges.WithLabelValues(result).Inc()
	si.MergeTimer.Observe(seconds)
}

func (si *StatsInternal) SetQueueDepth(n int) {
	if si == nil {
		return
	}
	si.QueueDepth.Set(float64(n))
}

func (si *StatsInternal) RecAlert(classification string) {
	if si == nil {
		return
	}
	si.Alerts.WithLabelValues(classification).Inc()
}

func (si *StatsInternal) SetBlinkRate(rate float64) {
	if si == nil {
		return
	}
	si.BlinkRate.Set(rate)
}
