package blinkwise

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName scopes every span created by blinkwise
const TracerName = "github.com/maroda/blinkwise"

// Tracer returns the blinkwise tracer from the global provider.
// Until InitTracing runs this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracing selects an exporter by name: "hny", "grf", or empty for none.
// The returned shutdown func is always safe to call.
func InitTracing(ctx context.Context, kind string) (func(context.Context) error, error) {
	switch kind {
	case "":
		return func(context.Context) error { return nil }, nil
	case "hny":
		shutdown, err := InitOTelHNY()
		if err != nil {
			return func(context.Context) error { return nil }, err
		}
		slog.Info("Tracing to Honeycomb")
		return func(context.Context) error { shutdown(); return nil }, nil
	case "grf":
		tp, err := InitOTelGRF(ctx)
		if err != nil {
			return func(context.Context) error { return nil }, err
		}
		slog.Info("Tracing to OTLP/HTTP")
		return tp.Shutdown, nil
	default:
		return func(context.Context) error { return nil }, fmt.Errorf("unknown tracing exporter: %s", kind)
	}
}

// InitOTelHNY uses the Honeycomb library to interface with OTel
func InitOTelHNY() (func(), error) {
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to configure OpenTelemetry: %w", err)
	}
	return func() { otelShutdown() }, nil
}

// InitOTelGRF uses the Grafana recommended configuration including Baggage for propagation
func InitOTelGRF(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
