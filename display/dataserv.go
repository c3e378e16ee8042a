package blinkwise

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	Ms "github.com/maroda/blinkwise/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	blinksLimit   = 60
	recentMinutes = 60
	tenMinutes    = 10
	lastMinute    = 1
)

// SetupMux handles all data serving:
// - Prometheus metric endpoint
// - Websocket with live tracker state
// - Tracker lifecycle and config
// - Telemetry reads for the dashboard
func (a *App) SetupMux() *mux.Router {
	r := mux.NewRouter()

	// unwrapped so the websocket can hijack the connection
	r.Handle("/metrics", a.Stats.Handler())
	r.HandleFunc("/ws", a.WebsocketHandler)

	api := r.NewRoute().Subrouter()
	api.Use(a.StatsMiddleware)

	api.HandleFunc("/start", a.lifecycle("Tracking started", a.Tracker.Start)).Methods(http.MethodPost)
	api.HandleFunc("/stop", a.lifecycle("Tracking stopped", a.Tracker.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/pause", a.lifecycle("Tracking paused", a.Tracker.Pause)).Methods(http.MethodPost)
	api.HandleFunc("/resume", a.lifecycle("Tracking resumed", a.Tracker.Resume)).Methods(http.MethodPost)
	api.HandleFunc("/status", a.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/save", a.SaveHandler).Methods(http.MethodPost)
	api.HandleFunc("/config", a.ConfigHandler).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/blinks", a.BlinksHandler).Methods(http.MethodGet)
	api.HandleFunc("/shutdown", a.ShutdownHandler).Methods(http.MethodPost)

	api.HandleFunc("/api/blink-rate", a.BlinkRateHandler).Methods(http.MethodGet)
	api.HandleFunc("/api/recent-activity", a.windowHandler(recentMinutes, false)).Methods(http.MethodGet)
	api.HandleFunc("/api/10min-average", a.windowHandler(tenMinutes, true)).Methods(http.MethodGet)
	api.HandleFunc("/api/last-minute-average", a.windowHandler(lastMinute, true)).Methods(http.MethodGet)
	api.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/api/today-entries", a.TodayEntriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/api/last-entry", a.LastEntryHandler).Methods(http.MethodGet)
	api.HandleFunc("/api/metrics-by-date", a.MetricsByDateHandler).Methods(http.MethodPost)
	api.HandleFunc("/api/device-id", a.DeviceIDHandler).Methods(http.MethodGet)
	api.HandleFunc("/api/version", a.VersionHandler).Methods(http.MethodGet)

	return r
}

// Handler is SetupMux instrumented with otel spans per request
func (a *App) Handler() http.Handler {
	return otelhttp.NewHandler(a.SetupMux(), "blinkwise")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Could not encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// degraded logs a read failure; the handler still answers with the zero aggregate
func degraded(r *http.Request, err error) {
	slog.Error("Telemetry read failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
}

func (a *App) lifecycle(ok string, op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": ok})
	}
}

func (a *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Tracker.Status())
}

func (a *App) SaveHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Tracker.SaveSessionSnapshot()
	switch {
	case errors.Is(err, Ms.ErrNoSession):
		writeError(w, http.StatusBadRequest, "No session to save")
		return
	case err != nil:
		slog.Error("Could not save session", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "Session saved", "session": snap})
}

// ConfigHandler reads the effective config on GET and applies an update on POST.
// Out of range values are clamped rather than rejected.
func (a *App) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, a.Tracker.Config())
		return
	}

	var u Ms.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body")
		return
	}

	cfg, err := a.Tracker.UpdateConfig(r.Context(), u)
	if err != nil {
		// applied in memory, only persisting failed
		slog.Warn("Config applied but not persisted", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *App) BlinksHandler(w http.ResponseWriter, r *http.Request) {
	counters, err := a.Query.Recent(r.Context(), blinksLimit)
	if err != nil {
		degraded(r, err)
	}
	writeJSON(w, http.StatusOK, counters)
}

func (a *App) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if a.Shutdown == nil {
		writeError(w, http.StatusNotImplemented, "shutdown not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Shutdown requested"})
	go a.Shutdown()
}

func (a *App) BlinkRateHandler(w http.ResponseWriter, r *http.Request) {
	series, err := a.Query.TodaySeries(r.Context())
	if err != nil {
		degraded(r, err)
	}
	writeJSON(w, http.StatusOK, points(series))
}

type averageResponse struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// windowHandler serves RecentWindow(minutes) as a point list or as its average
func (a *App) windowHandler(minutes int, averageOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		series, err := a.Query.RecentWindow(r.Context(), minutes)
		if err != nil {
			degraded(r, err)
		}
		if averageOnly {
			writeJSON(w, http.StatusOK, averageResponse{Average: series.Average, Count: series.Count})
			return
		}
		writeJSON(w, http.StatusOK, points(series))
	}
}

func (a *App) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Query.Stats(r.Context())
	if err != nil {
		degraded(r, err)
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) TodayEntriesHandler(w http.ResponseWriter, r *http.Request) {
	series, err := a.Query.TodayEntries(r.Context())
	if err != nil {
		degraded(r, err)
	}
	writeJSON(w, http.StatusOK, struct {
		Entries []Ms.DataPoint `json:"entries"`
		Average float64        `json:"average"`
		Count   int            `json:"count"`
	}{points(series), series.Average, series.Count})
}

// LastEntryHandler answers with nulls when nothing is stored yet
func (a *App) LastEntryHandler(w http.ResponseWriter, r *http.Request) {
	type lastEntry struct {
		Timestamp  *string `json:"timestamp"`
		BlinkCount *uint64 `json:"blink_count"`
	}

	counter, ok, err := a.Query.LastEntry(r.Context())
	if err != nil {
		degraded(r, err)
	}
	if !ok {
		writeJSON(w, http.StatusOK, lastEntry{})
		return
	}
	writeJSON(w, http.StatusOK, lastEntry{Timestamp: &counter.MinuteKey, BlinkCount: &counter.BlinkCount})
}

func (a *App) MetricsByDateHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Date == "" {
		writeError(w, http.StatusBadRequest, "Missing date parameter")
		return
	}

	dm, err := a.Query.MetricsByDate(r.Context(), body.Date)
	switch {
	case errors.Is(err, Ms.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		degraded(r, err)
	}
	writeJSON(w, http.StatusOK, dm)
}

func (a *App) DeviceIDHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"device_id": a.DeviceID})
}

func (a *App) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// points never encodes as null
func points(s Ms.Series) []Ms.DataPoint {
	if s.Data == nil {
		return []Ms.DataPoint{}
	}
	return s.Data
}
