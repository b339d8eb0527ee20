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
	"time"

	"github.com/spf13/cobra"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, verify and restore model backups",
	}
	cmd.AddCommand(
		newBackupCreateCmd(a),
		newBackupListCmd(a),
		newBackupVerifyCmd(a),
		newBackupRestoreCmd(a),
		newBackupCleanCmd(a),
		newBackupPruneCmd(a),
	)
	return cmd
}

func newBackupCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Back up the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := a.backups.Backup(cmd.Context(), a.cfg.ModelRoot)
			if err != nil {
				return err
			}
			return a.out.result(map[string]string{"dir": dir}, func() {
				a.out.ok(fmt.Sprintf("Backup created: %s", dir))
			})
		},
	}
}

func newBackupListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			infos, err := a.backups.List()
			if err != nil {
				return err
			}
			return a.out.result(infos, func() {
				if len(infos) == 0 {
					a.out.muted("No backups")
					return
				}
				for _, b := range infos {
					a.out.line("%s  %s  %d file(s), %d bytes", b.CreatedAt.Format(time.RFC3339), b.Dir, b.Files, b.Size)
				}
			})
		},
	}
}

func newBackupVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dir>",
		Short: "Check a backup against its manifest",
		Long:  "Check every file of a backup against its manifest. Exits 1 when the backup is invalid.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.backups.ValidateIntegrity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if perr := a.out.result(res, func() {
				if res.IsValid {
					a.out.ok(fmt.Sprintf("Backup is intact (%d file(s))", res.FilesChecked))
					return
				}
				a.out.fail(fmt.Sprintf("Backup is invalid (%d problem(s))", len(res.Errors)))
				for _, e := range res.Errors {
					a.out.line("  %s", e)
				}
			}); perr != nil {
				return perr
			}
			if !res.IsValid {
				return errFindings
			}
			return nil
		},
	}
}

func newBackupRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <dir>",
		Short: "Restore the model from a verified backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.backups.Restore(cmd.Context(), args[0], a.cfg.ModelRoot); err != nil {
				return err
			}
			return a.out.result(map[string]string{"restored": args[0], "target": a.cfg.ModelRoot}, func() {
				a.out.ok(fmt.Sprintf("Restored %s from %s", a.cfg.ModelRoot, args[0]))
			})
		},
	}
}

func newBackupCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean <dir>",
		Short: "Remove a backup directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := a.backups.Cleanup(args[0]); err != nil {
				return err
			}
			return a.out.result(map[string]string{"removed": args[0]}, func() {
				a.out.ok(fmt.Sprintf("Removed %s", args[0]))
			})
		},
	}
}

func newBackupPruneCmd(a *app) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove all but the newest backups",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			removed, err := a.backups.Prune(keep)
			if err != nil {
				return err
			}
			return a.out.result(map[string]int{"removed": removed, "kept": keep}, func() {
				a.out.ok(fmt.Sprintf("Removed %d backup(s)", removed))
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of backups to keep")
	return cmd
}
