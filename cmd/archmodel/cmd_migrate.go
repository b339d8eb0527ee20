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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ArchModel/services/migration"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and apply schema migrations",
	}
	cmd.AddCommand(newMigrateStatusCmd(a), newMigrateListCmd(a), newMigrateApplyCmd(a))
	return cmd
}

func newMigrateStatusCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the migrations needed to reach a schema version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			summary := a.mgr.Migrations().Summary(mdl.Manifest.SchemaVersion, to)
			return a.out.result(summary, func() {
				a.out.title("Schema migration status")
				a.out.kv("current", summary.CurrentVersion)
				a.out.kv("target", summary.TargetVersion)
				a.out.kv("result", summary.Result)
				for _, m := range summary.Migrations {
					a.out.line("  %s -> %s  %s", m.From, m.To, a.out.style(styleMuted, m.Description))
				}
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target schema version (default latest)")
	return cmd
}

func newMigrateListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			all := a.mgr.Migrations().All()
			infos := make([]migration.Info, len(all))
			for i, m := range all {
				infos[i] = m.Info()
			}
			return a.out.result(infos, func() {
				for _, m := range infos {
					a.out.line("%s -> %s  %s", m.From, m.To, a.out.style(styleMuted, m.Description))
				}
			})
		},
	}
}

func newMigrateApplyCmd(a *app) *cobra.Command {
	var (
		to         string
		dryRun     bool
		noValidate bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Migrate the model to a newer schema version",
		Long: `Migrate the model to a newer schema version (the latest by default).

The model is backed up and the backup verified before it is rewritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			res, err := a.mgr.Migrate(cmd.Context(), a.sess, mdl, migration.ApplyOptions{
				To:       to,
				DryRun:   dryRun,
				Validate: !noValidate,
			})
			if err != nil {
				return err
			}
			return a.out.result(res, func() {
				switch {
				case len(res.Applied) == 0:
					a.out.ok(fmt.Sprintf("Already at %s", res.To))
				case res.DryRun:
					a.out.title(fmt.Sprintf("Dry run: %s -> %s", res.From, res.To))
				default:
					a.out.ok(fmt.Sprintf("Migrated %s -> %s", res.From, res.To))
				}
				for _, m := range res.Applied {
					a.out.line("  %s -> %s  %d change(s)", m.From, m.To, m.Changes)
				}
				if res.BackupDir != "" {
					a.out.kv("backup", res.BackupDir)
				}
				a.out.report(res.Validation)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target schema version (default latest)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run migrations on a copy without writing")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "skip validation of the migrated model")
	return cmd
}
