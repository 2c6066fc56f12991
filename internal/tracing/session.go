package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const sessionTracerName = "orchestratorhub-session"

func sessionTracer() trace.Tracer {
	return Tracer(sessionTracerName)
}

// TraceSessionAssign creates a span for the Session Orchestrator's agent
// assignment policy (§4.9: connected, tool-allowed, spare-capacity agents).
func TraceSessionAssign(ctx context.Context, sessionID, aiTool string) (context.Context, trace.Span) {
	ctx, span := sessionTracer().Start(ctx, "session.assign",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("ai_tool", aiTool),
	)
	return ctx, span
}

// TraceSessionAssignResult records which agent was picked, or that none
// could be found, on an assignment span.
func TraceSessionAssignResult(span trace.Span, agentID string, err error) {
	if agentID != "" {
		span.SetAttributes(attribute.String("agent_id", agentID))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceSessionCancel creates a span for a session cancel/stop request,
// including the grace-period wait for worker:status{stopped}.
func TraceSessionCancel(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	ctx, span := sessionTracer().Start(ctx, "session.cancel",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(attribute.String("session_id", sessionID))
	return ctx, span
}
