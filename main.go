package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/quartz"
	Md "github.com/maroda/blinkwise/display"
	Mo "github.com/maroda/blinkwise/obvy"
	Mp "github.com/maroda/blinkwise/plugin"
	Ms "github.com/maroda/blinkwise/server"
	Mt "github.com/maroda/blinkwise/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Blinkwise exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg := Ms.LoadConfigEnv()
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Blinkwise initializing",
		slog.String("device", cfg.DeviceID),
		slog.String("version", Md.Version),
		slog.String("store", cfg.Store))

	shutdownTracing, err := Mo.InitTracing(ctx, cfg.OTel)
	if err != nil {
		slog.Warn("Tracing disabled", slog.Any("error", err))
	}

	clock := quartz.NewReal()
	source, closeSource, err := frameSource(cfg, clock)
	if err != nil {
		return err
	}

	store, err := Mp.OpenStore(ctx, cfg.Store, cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	stats := Mo.NewStatsInternal()

	writer := Ms.NewWriter(store, cfg.DeviceID, cfg.QueueSize, stats)
	writer.Start()

	tracker := Ms.NewTracker(cfg.DeviceID, source, writer, clock)
	tracker.Interval = cfg.FrameInterval
	tracker.AlertInterval = cfg.AlertInterval
	tracker.Stats = stats
	tracker.Thresholds = thresholdStore(cfg, store)
	tracker.Sessions = Ms.NewSessionStore(cfg.SessionDir, clock)
	tracker.Sinks = alertSinks(cfg)

	if _, err := tracker.LoadConfig(ctx, Mt.ThresholdConfig{
		DetectionThreshold: Ms.DefaultThreshold,
		NormalRate:         cfg.NormalRate,
		LowRate:            cfg.LowRate,
	}); err != nil {
		slog.Warn("Using default threshold", slog.Any("error", err))
	}

	if cfg.AutoStart {
		if err := tracker.Start(); err != nil {
			slog.Error("Could not start tracker", slog.Any("error", err))
		}
	}

	app := Md.NewApp(cfg.DeviceID, tracker, Ms.NewQueryEngine(store, cfg.DeviceID, clock), stats)
	app.Shutdown = stop

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting Blinkwise web server...", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			slog.Error("Web server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	services{
		HTTP:    server,
		Tracker: tracker,
		Writer:  writer,
		Store:   store,
		Source:  closeSource,
		Sinks:   tracker.Sinks,
		Tracing: shutdownTracing,
	}.Shutdown(shutdownCtx)

	slog.Info("Blinkwise stopped")
	return nil
}

// frameSource polls the landmark collaborator when one is configured,
// otherwise every frame reports no face
func frameSource(cfg Ms.Config, clock quartz.Clock) (Ms.FrameSource, func(), error) {
	if cfg.FrameURL == "" {
		slog.Warn("BLINKWISE_FRAME_URL not set, no frames will be seen")
		noFace := Ms.FrameFunc(func(context.Context) (Mt.Frame, error) { return Mt.Frame{}, nil })
		return noFace, func() {}, nil
	}

	decoder, err := Mp.DecoderLookup(cfg.FrameFormat)
	if err != nil {
		return nil, nil, err
	}

	hs := Ms.NewHTTPFrameSource(cfg.FrameURL, decoder, clock)
	slog.Info("Frame source configured",
		slog.String("url", cfg.FrameURL),
		slog.String("decoder", decoder.Type()))
	return hs, func() { _ = hs.Close() }, nil
}

// thresholdStore keeps the threshold next to the counters when they live
// in redis, otherwise in the local config file
func thresholdStore(cfg Ms.Config, store Mp.CounterStore) Mp.ThresholdStore {
	if rs, ok := store.(*Mp.RedisStore); ok {
		return &Mp.RedisThresholds{
			Client:   rs.Client,
			Prefix:   rs.Prefix,
			DeviceID: cfg.DeviceID,
			Default:  Ms.DefaultThreshold,
		}
	}
	return Ms.NewFileThresholdStore(cfg.ConfigFile)
}

func alertSinks(cfg Ms.Config) []Mp.AlertSink {
	sinks := []Mp.AlertSink{Mp.LogAlertSink{}}
	if cfg.MQTTBroker == "" {
		return sinks
	}

	mqttSink, err := Mp.NewMQTTAlertSink(cfg.MQTTBroker, "blinkwise-"+cfg.DeviceID, cfg.MQTTTopic)
	if err != nil {
		slog.Error("MQTT alerts disabled", slog.Any("error", err))
		return sinks
	}
	return append(sinks, mqttSink)
}

func setupLogger(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
