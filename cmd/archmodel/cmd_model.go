// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ArchModel/services/refs"
	"github.com/AleutianAI/ArchModel/services/snapshot"
	"github.com/AleutianAI/ArchModel/services/validation"
)

func newSnapshotCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the model's snapshot hash",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			hash, err := snapshot.Capture(mdl)
			if err != nil {
				return err
			}
			data := map[string]any{
				"hash":          hash,
				"schemaVersion": mdl.Manifest.SchemaVersion,
				"layers":        len(mdl.LayerNames()),
				"elements":      mdl.ElementCount(),
			}
			return a.out.result(data, func() { a.out.line("%s", hash) })
		},
	}
}

func newDriftCmd(a *app) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "drift [changeset]",
		Short: "Report whether the model changed since a changeset's base snapshot",
		Long: `Report whether the model changed since a changeset was created, or since
the snapshot given with --base. Exits 1 when drift is found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			var report *snapshot.DriftReport
			if base != "" {
				report, err = snapshot.DetectDrift(base, mdl)
			} else {
				var id string
				if id, err = a.resolveID(ctx, args); err != nil {
					return err
				}
				report, err = a.mgr.CheckDrift(ctx, id, mdl)
			}
			if err != nil {
				return err
			}
			if perr := a.out.result(report, func() { a.printDrift(report) }); perr != nil {
				return perr
			}
			if report.HasDrift {
				return errFindings
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base snapshot hash to compare against")
	return cmd
}

func (a *app) printDrift(r *snapshot.DriftReport) {
	if r.HasDrift {
		a.out.warn("Model has drifted")
	} else {
		a.out.ok("No drift")
	}
	a.out.kv("base", r.BaseSnapshotHash)
	a.out.kv("current", r.CurrentModelHash)
}

func newWatchCmd(a *app) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the model directory and report drift as files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if base == "" {
				mdl, err := a.loadModel()
				if err != nil {
					return err
				}
				if base, err = snapshot.Capture(mdl); err != nil {
					return err
				}
			} else if _, err := snapshot.ParseHash(base); err != nil {
				return err
			}

			opts := snapshot.DefaultWatcherOptions()
			opts.Logger = a.logger.Slog()
			w, err := snapshot.NewWatcher(a.cfg.ModelRoot, base, func(r *snapshot.DriftReport, err error) {
				if err != nil {
					a.logger.Slog().Error("recomputing snapshot", slog.String("error", err.Error()))
					return
				}
				if a.out.json {
					_ = a.out.envelope(r, nil)
					return
				}
				a.printDrift(r)
			}, &opts)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			if !a.out.json {
				a.out.muted(fmt.Sprintf("Watching %s (base %s), Ctrl+C to stop", a.cfg.ModelRoot, base))
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base snapshot hash (defaults to the current model)")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the model",
		Long:  "Validate the model. Exits 1 when the model has errors.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			report := validation.New().ValidateModel(mdl)
			if perr := a.out.result(report, func() {
				if report.IsValid() {
					a.out.ok(fmt.Sprintf("Model is valid (%d warning(s))", len(report.Warnings)))
				} else {
					a.out.fail(fmt.Sprintf("Model has %d error(s)", len(report.Errors)))
				}
				a.out.report(report)
			}); perr != nil {
				return perr
			}
			if !report.IsValid() {
				return errFindings
			}
			return nil
		},
	}
}

func newTraceCmd(a *app) *cobra.Command {
	var (
		direction string
		depth     int
		graph     bool
	)
	cmd := &cobra.Command{
		Use:   "trace <element-id>",
		Short: "Trace dependencies of an element through the reference graph",
		Long: `Trace dependencies of an element.

up follows outgoing references (what the element depends on), down follows
incoming references (what depends on it), both runs the two traversals.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			var maxDepth *int
			if depth > 0 {
				maxDepth = &depth
			}
			registry := refs.BuildRegistry(mdl)
			tracker := refs.NewTracker(registry)

			var results []*refs.TraceResult
			if strings.EqualFold(direction, "both") {
				up, down := tracker.TraceBoth(args[0], maxDepth)
				results = []*refs.TraceResult{up, down}
			} else {
				dir, err := refs.ParseDirection(direction)
				if err != nil {
					return err
				}
				results = []*refs.TraceResult{tracker.Trace(args[0], dir, maxDepth)}
			}
			var data any = results
			var edges []*refs.Edge
			if graph {
				ids := []string{args[0]}
				for _, r := range results {
					ids = append(ids, r.IDs()...)
				}
				edges = registry.DependencyGraph().EdgesWithin(ids)
				data = map[string]any{"traces": results, "edges": edges}
			}
			return a.out.result(data, func() {
				for _, r := range results {
					a.out.title(fmt.Sprintf("%s (%s)", r.Origin, r.Direction))
					if r.Depth() == 0 {
						a.out.muted("  nothing reached")
					}
					for i, level := range r.Levels {
						a.out.line("  %d: %s", i+1, strings.Join(level, ", "))
					}
				}
				if graph {
					a.out.title("Edges")
					for _, e := range edges {
						a.out.line("  %s -%s-> %s", e.From, e.Predicate, e.To)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "down", "up, down or both")
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum depth (0 is unbounded)")
	cmd.Flags().BoolVar(&graph, "graph", false, "also list the reference edges among the traced elements")
	return cmd
}
