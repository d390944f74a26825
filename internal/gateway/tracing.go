// Tracing instrumentation for gateway sessions.
package gateway

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startSessionSpan starts a span for one subagent session.
func (r *Runner) startSessionSpan(ctx context.Context, roleID, sessionID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "session."+roleID)
	span.SetAttributes(
		attribute.String("session.role_id", roleID),
		attribute.String("session.id", sessionID),
	)
	return ctx, span
}

// endSessionSpan ends the session span with its terminal state.
func (r *Runner) endSessionSpan(span trace.Span, state State, err error) {
	span.SetAttributes(attribute.String("session.state", string(state)))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
