package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracer installs a global tracer provider. No exporter is installed,
// so spans are never shipped anywhere; otlpEndpoint only chooses the
// sampler (AlwaysSample when set, NeverSample when empty). This keeps the
// call sites identical whether or not tracing is configured.
func InitTracer(_ context.Context, otlpEndpoint, serviceName string) (func(context.Context) error, error) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.NeverSample()),
	)
	if otlpEndpoint != "" {
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
	}
	_ = serviceName
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
