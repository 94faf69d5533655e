package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "jan-server/research-api"
)

// GetTracer returns the tracer for the research-api service.
func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// JobAttributes returns common attributes for job tracking spans.
func JobAttributes(conversationID, jobID, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("job.conversation_id", conversationID),
		attribute.String("job.id", jobID),
		attribute.String("job.mode", mode),
	}
}

// StartJobSpan starts a span covering one tracking loop, from submit or resume to the terminal event.
func StartJobSpan(ctx context.Context, conversationID, jobID, mode string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "job.track",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(JobAttributes(conversationID, jobID, mode)...),
	)
}

// StartRecoverySpan starts a span for a recovery attempt.
func StartRecoverySpan(ctx context.Context, conversationID string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "job.recover",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("job.conversation_id", conversationID)),
	)
}

// EndSpan ends a span, recording err when set.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddProgressEvent adds a progress step to a job span.
func AddProgressEvent(span trace.Span, title, message string) {
	span.AddEvent("job.progress",
		trace.WithAttributes(
			attribute.String("progress.title", title),
			attribute.String("progress.message", message),
		),
	)
}

// AddRetryEvent adds a submit retry to the span.
func AddRetryEvent(span trace.Span, attempt int, reason string) {
	span.AddEvent("job.submit_retry",
		trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.String("retry.reason", reason),
		),
	)
}

// InjectHeaders writes the trace context of ctx into outbound request headers.
func InjectHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}
