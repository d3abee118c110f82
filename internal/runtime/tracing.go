package runtime

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const messagingSystem = "nats"

// startSpan opens a span for one client operation on subject.
func (r *Runtime) startSpan(ctx context.Context, name, subject string, kind trace.SpanKind) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("messaging.system", messagingSystem),
			attribute.String("messaging.destination.name", subject),
			attribute.String("asyncnats.runtime", r.id),
		),
	)
}

// endSpan records err, if any, and ends span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// injectTrace writes the trace context of ctx into the headers of msg. A
// message without an active trace keeps its headers untouched so plain
// publishes stay header-less on the wire.
func injectTrace(ctx context.Context, msg *nats.Msg) {
	carrier := propagation.HeaderCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return
	}
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	for k, v := range carrier {
		if _, exists := msg.Header[k]; !exists {
			msg.Header[k] = v
		}
	}
}

// ExtractTrace returns ctx enriched with the trace context carried by msg.
func ExtractTrace(ctx context.Context, msg *Message) context.Context {
	if !msg.HasHeaders() {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Headers().ToNATS()))
}
