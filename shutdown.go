package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	Mp "github.com/maroda/blinkwise/plugin"
	Ms "github.com/maroda/blinkwise/server"
	Mt "github.com/maroda/blinkwise/types"
)

// sessionTracker is the part of the tracker that shutdown drives
type sessionTracker interface {
	Stop() error
	SaveSessionSnapshot() (Mt.SessionSnapshot, error)
	Flush() error
}

// services are the running parts of the process, stopped outside in:
// the web server first so no request reaches a component that is
// already gone, then the loop, then storage.
type services struct {
	HTTP    interface{ Shutdown(context.Context) error }
	Tracker sessionTracker
	Writer  interface{ Stop() }
	Store   io.Closer
	Source  func()
	Sinks   []Mp.AlertSink
	Tracing func(context.Context) error
}

// Shutdown stops everything in order. A failing step is logged and
// the rest still run.
func (s services) Shutdown(ctx context.Context) {
	if err := s.HTTP.Shutdown(ctx); err != nil {
		slog.Error("Could not shut down web server", slog.Any("error", err))
	}

	if err := s.Tracker.Stop(); err != nil && !errors.Is(err, Ms.ErrNotRunning) {
		slog.Error("Could not stop tracker", slog.Any("error", err))
	}
	if _, err := s.Tracker.SaveSessionSnapshot(); err != nil && !errors.Is(err, Ms.ErrNoSession) {
		slog.Error("Could not save session", slog.Any("error", err))
	}
	// the parked bucket reaches the writer before it drains
	if err := s.Tracker.Flush(); err != nil {
		slog.Error("Could not flush open bucket", slog.Any("error", err))
	}

	s.Writer.Stop()
	if err := s.Store.Close(); err != nil {
		slog.Error("Could not close store", slog.Any("error", err))
	}
	if s.Source != nil {
		s.Source()
	}
	for _, sink := range s.Sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("Could not close alert sink",
					slog.String("sink", sink.Type()),
					slog.Any("error", err))
			}
		}
	}

	if s.Tracing != nil {
		if err := s.Tracing(ctx); err != nil {
			slog.Error("Could not flush traces", slog.Any("error", err))
		}
	}
}
