// Package telemetry wires the OTel tracer/meter providers used by
// internal/commit. Grounded on the teacher's
// internal/storage/dolt/store.go span idiom (package-level tracer
// obtained from the global otel provider, fixed span attributes, an
// endSpan helper that records the error and closes the span) and
// internal/hooks/hooks_otel.go's span-event pattern.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the package-wide OTel tracer. It uses the global provider,
// which is a no-op until Init is called.
var Tracer = otel.Tracer("github.com/nickout/ettlex")

// Meter is the package-wide OTel meter. It uses the global meter
// provider, which Init does not set.
var Meter = otel.Meter("github.com/nickout/ettlex")

// Metrics holds the shared instruments. internal/commit records
// CommitCount and CommitDuplicates; nothing records QueryDurationMs.
// Each is registered against the global delegating meter provider at
// init time, so it starts forwarding once a meter provider is installed
// with otel.SetMeterProvider.
var Metrics struct {
	CommitCount      metric.Int64Counter
	CommitDuplicates metric.Int64Counter
	QueryDurationMs  metric.Float64Histogram
}

func init() {
	Metrics.CommitCount, _ = Meter.Int64Counter("ettlex.commit.count",
		metric.WithDescription("Snapshot commits attempted"),
		metric.WithUnit("{commit}"),
	)
	Metrics.CommitDuplicates, _ = Meter.Int64Counter("ettlex.commit.duplicate",
		metric.WithDescription("Commits short-circuited by the idempotency check"),
		metric.WithUnit("{commit}"),
	)
	Metrics.QueryDurationMs, _ = Meter.Float64Histogram("ettlex.query.duration_ms",
		metric.WithDescription("EngineQuery dispatch latency"),
		metric.WithUnit("ms"),
	)
}

// Init installs a real trace provider as the global OTel provider. Call
// it once at process startup; until it runs, Tracer forwards to OTel's
// no-op implementation and every span call is free. Init sets only the
// trace provider; Meter is unaffected. Passing a nil exporter-backed provider (the zero-config case)
// still gives sampling and propagation correctness for local testing.
func Init(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
}

// EndSpan records err on span (if non-nil) and ends it. Grounded on the
// teacher's endSpan helper in internal/storage/dolt/store.go.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Logger is the package-wide structured logger; callers that need
// request-scoped fields should derive with Logger.With(...).
var Logger = slog.Default()

// StartOp starts a span named op under Tracer with SpanKindInternal,
// for use around a single storagesql/commit operation.
func StartOp(ctx context.Context, op string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
}
