// Tracing instrumentation for the executor.
package executor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/gatekeeper/internal/session"
)

const tracerName = "github.com/vinayprograms/gatekeeper/internal/executor"

// startRunSpan starts the span covering one flow.
func (e *Executor) startRunSpan(ctx context.Context, flow, runID string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gatekeeper."+flow)
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.flow", flow),
	)
	return ctx, span
}

// startStepSpan starts a span for one step of a flow.
func startStepSpan(ctx context.Context, phase string, step int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "step."+phase)
	span.SetAttributes(
		attribute.Int("step.number", step),
		attribute.String("step.phase", phase),
	)
	return ctx, span
}

// endStepSpan ends a step span with its trace entry. Arguments are never
// attached, only their hash.
func endStepSpan(span trace.Span, e session.Entry, err error) {
	span.SetAttributes(
		attribute.String("step.kind", e.Kind),
		attribute.String("step.outcome", e.Outcome),
	)
	if e.Op != "" {
		span.SetAttributes(attribute.String("step.op", e.Op), attribute.String("step.args_hash", e.ArgsHash))
	}
	if e.Decision != "" {
		span.SetAttributes(attribute.String("step.decision", e.Decision))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, e.StopReason)
	}
	span.End()
}

// startBatchSpan starts a span for a parallel task batch.
func startBatchSpan(ctx context.Context, tasks, parallel int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.batch")
	span.SetAttributes(
		attribute.Int("batch.tasks", tasks),
		attribute.Int("batch.max_parallel", parallel),
	)
	return ctx, span
}

// endSpan ends a run or batch span.
func endSpan(span trace.Span, status, reason string, err error) {
	span.SetAttributes(
		attribute.String("run.status", status),
		attribute.String("run.stop_reason", reason),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}
