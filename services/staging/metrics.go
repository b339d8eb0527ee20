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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for staging metrics.
var meter = otel.Meter("archmodel.staging")

var (
	stageTotal     metric.Int64Counter
	commitTotal    metric.Int64Counter
	commitDuration metric.Float64Histogram
	changesApplied metric.Int64Counter
	changesFailed  metric.Int64Counter
	restoreTotal   metric.Int64Counter
	migrateTotal   metric.Int64Counter
	discardTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		if stageTotal, err = meter.Int64Counter(
			"archmodel_staging_stage_total",
			metric.WithDescription("Total number of staged changes"),
		); err != nil {
			metricsErr = err
			return
		}

		if commitTotal, err = meter.Int64Counter(
			"archmodel_staging_commit_total",
			metric.WithDescription("Total number of commit operations"),
		); err != nil {
			metricsErr = err
			return
		}

		if commitDuration, err = meter.Float64Histogram(
			"archmodel_staging_commit_duration_seconds",
			metric.WithDescription("Duration of commit operations in seconds"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}

		if changesApplied, err = meter.Int64Counter(
			"archmodel_staging_changes_applied_total",
			metric.WithDescription("Total number of changes applied by commits"),
		); err != nil {
			metricsErr = err
			return
		}

		if changesFailed, err = meter.Int64Counter(
			"archmodel_staging_changes_failed_total",
			metric.WithDescription("Total number of changes that failed to apply"),
		); err != nil {
			metricsErr = err
			return
		}

		if restoreTotal, err = meter.Int64Counter(
			"archmodel_staging_restore_total",
			metric.WithDescription("Total number of restores from a pre-operation backup"),
		); err != nil {
			metricsErr = err
			return
		}

		if migrateTotal, err = meter.Int64Counter(
			"archmodel_staging_migrate_total",
			metric.WithDescription("Total number of migrate operations"),
		); err != nil {
			metricsErr = err
			return
		}

		if discardTotal, err = meter.Int64Counter(
			"archmodel_staging_discard_total",
			metric.WithDescription("Total number of discarded changesets"),
		); err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func ready() bool {
	return metricsEnabled.Load() && initMetrics() == nil
}

func statusAttr(success bool) attribute.KeyValue {
	if success {
		return attribute.String("status", "success")
	}
	return attribute.String("status", "error")
}

func recordStage(ctx context.Context, changeType string, success bool) {
	if !ready() {
		return
	}
	stageTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("change_type", changeType),
		statusAttr(success),
	))
}

// recordCommit records a commit attempt.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - mode: Commit mode.
//   - dryRun: Whether nothing was persisted.
//   - duration: Wall time of the commit.
//   - applied: Changes applied successfully.
//   - failed: Changes that failed.
//   - success: Whether the commit returned without error.
func recordCommit(ctx context.Context, mode Mode, dryRun bool, duration time.Duration, applied, failed int, success bool) {
	if !ready() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Bool("dry_run", dryRun),
		statusAttr(success),
	)
	commitTotal.Add(ctx, 1, attrs)
	commitDuration.Record(ctx, duration.Seconds(), attrs)
	if applied > 0 {
		changesApplied.Add(ctx, int64(applied))
	}
	if failed > 0 {
		changesFailed.Add(ctx, int64(failed))
	}
}

func recordRestore(ctx context.Context, op string, success bool) {
	if !ready() {
		return
	}
	restoreTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		statusAttr(success),
	))
}

func recordMigrate(ctx context.Context, dryRun bool, success bool) {
	if !ready() {
		return
	}
	migrateTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("dry_run", dryRun),
		statusAttr(success),
	))
}

func recordDiscard(ctx context.Context) {
	if !ready() {
		return
	}
	discardTotal.Add(ctx, 1)
}
