package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const workerTracerName = "orchestratorhub-worker"

func workerTracer() trace.Tracer {
	return Tracer(workerTracerName)
}

// TraceWorkerStart creates a span covering one worker's full Start call:
// workspace materialization plus the AI CLI subprocess launch.
func TraceWorkerStart(ctx context.Context, workerID, tool string) (context.Context, trace.Span) {
	ctx, span := workerTracer().Start(ctx, "worker.start",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("worker_id", workerID),
		attribute.String("tool", tool),
	)
	return ctx, span
}

// TraceWorkerStartResult records the outcome of a worker.Start call.
func TraceWorkerStartResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceWorkspaceMaterialize creates a child span for cloning/preparing the
// repository workspace a worker runs in.
func TraceWorkspaceMaterialize(ctx context.Context, repoID, workerID string) (context.Context, trace.Span) {
	ctx, span := workerTracer().Start(ctx, "worker.workspace_materialize",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("repository_id", repoID),
		attribute.String("worker_id", workerID),
	)
	return ctx, span
}

// TraceWorkerStop creates a span for a worker shutdown sequence.
func TraceWorkerStop(ctx context.Context, workerID string, forced bool) (context.Context, trace.Span) {
	ctx, span := workerTracer().Start(ctx, "worker.stop",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("worker_id", workerID),
		attribute.Bool("forced", forced),
	)
	return ctx, span
}
