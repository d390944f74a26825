// Tracing instrumentation for tool execution.
package toolexec

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startToolSpan starts a span for one tool execution.
func (e *Executor) startToolSpan(ctx context.Context, capability, tenant, keyHash string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "tool."+capability)
	span.SetAttributes(
		attribute.String("tool.capability", capability),
		attribute.String("tool.tenant", tenant),
		attribute.String("tool.key_hash", keyHash),
	)
	return ctx, span
}

// endToolSpan ends the tool span with cache/error info.
func (e *Executor) endToolSpan(span trace.Span, cached bool, err error) {
	span.SetAttributes(attribute.Bool("tool.cached", cached))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
