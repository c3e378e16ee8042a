package blinkwise

import (
	"net/http"
	"strconv"
	"time"

	Mo "github.com/maroda/blinkwise/obvy"
	Ms "github.com/maroda/blinkwise/server"
)

// DefaultPushInterval is how often /ws sends the tracker state
const DefaultPushInterval = 500 * time.Millisecond

var Version = "dev"

// App is the delivery layer: a thin HTTP mapping onto one device's
// tracker and query engine.
type App struct {
	Tracker      *Ms.Tracker
	Query        *Ms.QueryEngine
	Stats        *Mo.StatsInternal
	DeviceID     string
	PushInterval time.Duration
	Shutdown     func() // optional, called by POST /shutdown
}

func NewApp(deviceID string, tracker *Ms.Tracker, query *Ms.QueryEngine, stats *Mo.StatsInternal) *App {
	return &App{
		Tracker:      tracker,
		Query:        query,
		Stats:        stats,
		DeviceID:     deviceID,
		PushInterval: DefaultPushInterval,
	}
}

// RespWriter is a wrapper with StatsMiddleware, used for Prometheus
type RespWriter struct {
	http.ResponseWriter
	Status int
}

// WriteHeader is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// Write is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) Write(b []byte) (int, error) {
	return w.ResponseWriter.Write(b)
}

func (a *App) StatsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &RespWriter{
			ResponseWriter: w,
			Status:         http.StatusOK,
		}
		next.ServeHTTP(wrapped, r)
		a.Stats.RecWWW(strconv.Itoa(wrapped.Status), r.Method)
	})
}
