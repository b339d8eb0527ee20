// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/validation"
)

var (
	migrationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archmodel_migrations_applied_total",
		Help: "Total schema migrations applied by step and mode",
	}, []string{"from", "to", "mode"}) // mode: "dry_run" or "apply"

	migrationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archmodel_migration_failures_total",
		Help: "Total schema migration failures by step",
	}, []string{"from", "to"})

	migrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "archmodel_migration_duration_seconds",
		Help:    "Duration of a full migration run in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// ApplyOptions configures Apply.
type ApplyOptions struct {
	// From defaults to the model's schema version.
	From string

	// To defaults to the registry's latest version.
	To string

	// DryRun runs every transform on a clone. The caller's model, including
	// its schema version, is left untouched.
	DryRun bool

	// Validate runs Validator on the migrated model.
	Validate bool

	// Validator is required when Validate is set.
	Validator validation.Validator
}

// AppliedMigration records one executed step.
type AppliedMigration struct {
	From        string `json:"fromVersion" yaml:"fromVersion"`
	To          string `json:"toVersion" yaml:"toVersion"`
	Description string `json:"description" yaml:"description"`
	Changes     int    `json:"changes" yaml:"changes"`
}

// ApplyResult summarizes a migration run.
type ApplyResult struct {
	From    string             `json:"fromVersion" yaml:"fromVersion"`
	To      string             `json:"toVersion" yaml:"toVersion"`
	DryRun  bool               `json:"dryRun" yaml:"dryRun"`
	Applied []AppliedMigration `json:"applied" yaml:"applied"`

	// Validation is set when ApplyOptions.Validate was requested.
	Validation *validation.Report `json:"validation,omitempty" yaml:"validation,omitempty"`

	// Model is the migrated model: the caller's model, or the clone on a
	// dry run.
	Model *model.Model `json:"-" yaml:"-"`
}

// StepError reports a transform that failed.
type StepError struct {
	From string
	To   string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s -> %s: %v", e.From, e.To, e.Err)
}

// Unwrap returns the transform error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Apply runs the resolved path on m in order.
//
// # Description
//
// Each transform runs in path order and the schema version advances after
// every successful step. AlreadyCurrent returns an empty result. A missing
// path returns *NoPathError. A failing transform stops the run with a
// *StepError; steps already applied remain applied on the target model.
// Persisting the model is the caller's job.
//
// # Outputs
//
//   - *ApplyResult: Applied steps with per-step change counts. Non-nil
//     alongside a *StepError or validation error.
//   - error: See above, or ctx errors between steps.
func (r *Registry) Apply(ctx context.Context, m *model.Model, opts ApplyOptions) (*ApplyResult, error) {
	start := time.Now()
	defer func() { migrationDuration.Observe(time.Since(start).Seconds()) }()

	from := opts.From
	if from == "" {
		from = m.Manifest.SchemaVersion
	}
	to := opts.To
	if to == "" {
		to = r.Latest()
	}

	target := m
	if opts.DryRun {
		target = m.Clone()
	}
	result := &ApplyResult{From: from, To: to, DryRun: opts.DryRun, Applied: []AppliedMigration{}, Model: target}

	path := r.Path(from, to)
	switch path.Kind {
	case AlreadyCurrent:
		return result, nil
	case NoPathFound:
		return result, &NoPathError{From: from, To: to}
	}

	mode := "apply"
	if opts.DryRun {
		mode = "dry_run"
	}
	for _, mig := range path.Migrations {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		changes, err := mig.Transform(target)
		if err != nil {
			migrationFailures.WithLabelValues(mig.From, mig.To).Inc()
			return result, &StepError{From: mig.From, To: mig.To, Err: err}
		}
		target.Manifest.SchemaVersion = mig.To
		migrationsApplied.WithLabelValues(mig.From, mig.To, mode).Inc()
		result.Applied = append(result.Applied, AppliedMigration{
			From:        mig.From,
			To:          mig.To,
			Description: mig.Description,
			Changes:     changes,
		})
	}

	if opts.Validate && opts.Validator != nil {
		report := opts.Validator.ValidateModel(target)
		result.Validation = report
		if err := report.Err(); err != nil {
			return result, err
		}
	}
	return result, nil
}
