// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package staging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const stagingTracerName = "archmodel.staging"

// Tracer provides OpenTelemetry tracing for staging operations.
//
// # Description
//
// When disabled, returns noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new staging tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(stagingTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartOp starts a span for a staging operation on a changeset.
func (t *Tracer) StartOp(ctx context.Context, op string, sess *Session, changesetID string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	attrs := []attribute.KeyValue{
		attribute.String("changeset.id", changesetID),
	}
	if sess != nil {
		attrs = append(attrs,
			attribute.String("session.id", sess.ID),
			attribute.String("session.actor", sess.Actor),
		)
	}

	ctx, span := t.tracer.Start(ctx, "staging."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "staging operation",
		slog.String("op", op),
		slog.String("changeset_id", changesetID),
	)
	return ctx, span
}

// EndOp completes a span started by StartOp.
func (t *Tracer) EndOp(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// EndCommit completes a commit span, attaching the result counts.
func (t *Tracer) EndCommit(span trace.Span, result *Result, err error) {
	if span == nil {
		return
	}
	if result != nil {
		span.SetAttributes(
			attribute.Int("commit.committed", result.Committed),
			attribute.Int("commit.failed", result.Failed),
			attribute.Bool("commit.dry_run", result.DryRun),
			attribute.String("commit.backup_dir", result.BackupDir),
		)
	}
	t.EndOp(span, err)
}

// RecordPhase adds a phase event to the span in ctx.
func (t *Tracer) RecordPhase(ctx context.Context, phase string) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}
	span.AddEvent("phase", trace.WithAttributes(attribute.String("phase", phase)))
}

// LoggerWithTrace returns logger with trace_id and span_id from ctx when a
// valid span is present.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
