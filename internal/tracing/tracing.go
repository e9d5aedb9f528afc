// Package tracing configures optional OpenTelemetry export. When disabled,
// the returned tracer is a no-op and span helpers cost almost nothing.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const tracerName = "github.com/hearthstack/hearth"

// Config controls trace export.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string // host:port of an OTLP/HTTP collector
}

// Setup installs the global tracer provider. The returned shutdown func
// flushes pending spans; it is safe to call when tracing is disabled.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "hearth"
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "service", serviceName)
	return tp.Shutdown, nil
}

// Tracer returns the runtime tracer (global provider; no-op when unset).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRun opens a span for one agent run.
func StartRun(ctx context.Context, runKind, userID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("run.kind", runKind),
			attribute.String("user.id", userID),
		))
}

// StartTool opens a span for one tool execution.
func StartTool(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", toolName)))
}

// EndWithError records err (when non-nil) before ending the span.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
