package oteltrace

import (
	"context"

	"github.com/tienda-labs/checkout-core/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New returns a Tracer backed by the globally registered OpenTelemetry
// provider. Callers that want exported spans must install an SDK tracer
// provider via otel.SetTracerProvider before use.
func New(name string) observability.Tracer {
	if name == "" {
		name = "checkout-core"
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
