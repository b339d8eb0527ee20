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
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ArchModel/services/changeset"
	"github.com/AleutianAI/ArchModel/services/exporter"
	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/staging"
)

func newChangesetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "changeset",
		Aliases: []string{"cs"},
		Short:   "Create, stage, commit and discard changesets",
	}
	cmd.AddCommand(
		newCSCreateCmd(a),
		newCSListCmd(a),
		newCSShowCmd(a),
		newCSActivateCmd(a),
		newCSDeactivateCmd(a),
		newCSActiveCmd(a),
		newCSStageCmd(a),
		newCSUnstageCmd(a),
		newCSDiscardCmd(a),
		newCSCommitCmd(a),
		newCSDeleteCmd(a),
		newCSHistoryCmd(a),
		newCSExportCmd(a),
		newCSImportCmd(a),
		newCSCompatCmd(a),
	)
	return cmd
}

func newCSCreateCmd(a *app) *cobra.Command {
	var (
		description string
		activate    bool
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a changeset based on the current model snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			cs, err := a.mgr.Create(ctx, a.sess, mdl, args[0], description)
			if err != nil {
				return err
			}
			if activate {
				if err := a.mgr.SetActive(ctx, a.sess, cs.ID); err != nil {
					return err
				}
			}
			return a.out.result(cs.Metadata(), func() {
				a.out.ok(fmt.Sprintf("Created changeset %s", cs.ID))
				a.out.kv("base", cs.BaseSnapshot)
				if activate {
					a.out.kv("active", true)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "changeset description")
	cmd.Flags().BoolVar(&activate, "activate", false, "make the new changeset active")
	return cmd
}

func newCSListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List changesets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			list, err := a.mgr.List(ctx)
			if err != nil {
				return err
			}
			activeID, err := a.mgr.GetActiveID(ctx, a.sess)
			if err != nil {
				return err
			}
			metas := make([]changeset.Metadata, len(list))
			for i, cs := range list {
				metas[i] = cs.Metadata()
			}
			return a.out.result(metas, func() {
				if len(list) == 0 {
					a.out.muted("No changesets")
					return
				}
				for _, cs := range list {
					a.out.changesetSummary(cs, cs.ID == activeID)
				}
			})
		},
	}
}

func newCSShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a changeset and its changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.resolveID(ctx, args)
			if err != nil {
				return err
			}
			cs, err := a.mgr.Get(ctx, id)
			if err != nil {
				return err
			}
			return a.out.result(cs, func() {
				a.out.title(fmt.Sprintf("%s (%s)", cs.ID, cs.Status))
				a.out.kv("name", cs.Name)
				if cs.Description != "" {
					a.out.kv("description", cs.Description)
				}
				a.out.kv("base", cs.BaseSnapshot)
				a.out.kv("created", cs.Created.Format(time.RFC3339))
				a.out.kv("modified", cs.Modified.Format(time.RFC3339))
				s := cs.Stats()
				a.out.kv("stats", fmt.Sprintf("+%d ~%d -%d", s.Additions, s.Modifications, s.Deletions))
				for _, c := range cs.Changes {
					a.out.line("  #%-3d %-6s %s/%s", c.SequenceNumber, c.Type, c.LayerName, c.ElementID)
				}
			})
		},
	}
}

func newCSActivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Make a changeset the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mgr.SetActive(cmd.Context(), a.sess, args[0]); err != nil {
				return err
			}
			return a.out.result(map[string]string{"active": args[0]}, func() {
				a.out.ok(fmt.Sprintf("Active changeset: %s", args[0]))
			})
		},
	}
}

func newCSDeactivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Clear the active changeset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.mgr.ClearActive(cmd.Context(), a.sess); err != nil {
				return err
			}
			return a.out.result(map[string]any{"active": nil}, func() {
				a.out.ok("No active changeset")
			})
		},
	}
}

func newCSActiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the active changeset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, err := a.mgr.GetActive(cmd.Context(), a.sess)
			if err != nil {
				return err
			}
			if cs == nil {
				return a.out.result(nil, func() { a.out.muted("No active changeset") })
			}
			return a.out.result(cs.Metadata(), func() { a.out.changesetSummary(cs, true) })
		},
	}
}

func newCSStageCmd(a *app) *cobra.Command {
	var (
		layer string
		file  string
		id    string
	)
	cmd := &cobra.Command{
		Use:   "stage <add|update|delete> [element-id]",
		Short: "Stage an element change",
		Long: `Stage an element change into a changeset (the active one by default).

add and update read the new element from --file (YAML or JSON). update and
delete record the element's current state from the model as "before".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			csID, err := a.resolveID(ctx, []string{id})
			if err != nil {
				return err
			}
			var elementID string
			if len(args) > 1 {
				elementID = args[1]
			}
			change, err := a.buildChange(changeset.ChangeType(args[0]), elementID, layer, file)
			if err != nil {
				return err
			}
			stored, err := a.mgr.Stage(ctx, a.sess, csID, change)
			if err != nil {
				return err
			}
			return a.out.result(stored, func() {
				a.out.ok(fmt.Sprintf("Staged #%d %s %s/%s in %s",
					stored.SequenceNumber, stored.Type, stored.LayerName, stored.ElementID, csID))
			})
		},
	}
	cmd.Flags().StringVarP(&layer, "layer", "l", "", "target layer (defaults to the element's layer)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "element document for add and update")
	cmd.Flags().StringVarP(&id, "changeset", "c", "", "changeset id (defaults to the active changeset)")
	return cmd
}

// buildChange assembles a change from CLI input and the current model.
func (a *app) buildChange(typ changeset.ChangeType, elementID, layer, file string) (changeset.Change, error) {
	change := changeset.Change{Type: typ, ElementID: elementID, LayerName: layer}

	var after *model.Element
	if file != "" {
		e, err := readElement(file)
		if err != nil {
			return change, err
		}
		after = e
		if change.ElementID == "" {
			change.ElementID = e.ID
		}
		if change.LayerName == "" {
			change.LayerName = e.Layer
		}
	}

	switch typ {
	case changeset.ChangeAdd:
		change.After = after
	case changeset.ChangeUpdate, changeset.ChangeDelete:
		mdl, err := a.loadModel()
		if err != nil {
			return change, err
		}
		current, l := mdl.FindElement(change.ElementID)
		if current == nil {
			return change, fmt.Errorf("%w: %s", model.ErrElementNotFound, change.ElementID)
		}
		change.Before = current
		if change.LayerName == "" {
			change.LayerName = l.Name
		}
		if typ == changeset.ChangeUpdate {
			change.After = after
		}
	default:
		return change, fmt.Errorf("unknown change type %q (want add, update or delete)", typ)
	}
	return change, nil
}

// readElement parses a YAML or JSON element document.
func readElement(path string) (*model.Element, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var e model.Element
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, &model.ParseError{Path: path, Err: err}
	}
	return &e, nil
}

func newCSUnstageCmd(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "unstage <element-id>",
		Short: "Remove every staged change for an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			csID, err := a.resolveID(ctx, []string{id})
			if err != nil {
				return err
			}
			removed, err := a.mgr.Unstage(ctx, a.sess, csID, args[0])
			if err != nil {
				return err
			}
			return a.out.result(map[string]any{"changeset": csID, "elementId": args[0], "removed": removed}, func() {
				a.out.ok(fmt.Sprintf("Removed %d change(s) for %s", removed, args[0]))
			})
		},
	}
	cmd.Flags().StringVarP(&id, "changeset", "c", "", "changeset id (defaults to the active changeset)")
	return cmd
}

func newCSDiscardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "discard [id]",
		Aliases: []string{"revert"},
		Short:   "Discard a changeset's staged changes",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.resolveID(ctx, args)
			if err != nil {
				return err
			}
			cs, err := a.mgr.Discard(ctx, a.sess, id)
			if err != nil {
				return err
			}
			return a.out.result(cs.Metadata(), func() {
				a.out.ok(fmt.Sprintf("Discarded %s", cs.ID))
			})
		},
	}
}

func newCSCommitCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		force  bool
		mode   string
	)
	cmd := &cobra.Command{
		Use:     "commit [id]",
		Aliases: []string{"apply"},
		Short:   "Apply a changeset to the model",
		Long: `Apply a changeset to the model.

The model is backed up and the backup verified before anything is written.
--mode best_effort applies every change it can and reports the rest;
--mode all_or_nothing stops at the first failure and leaves the model as is.
The command exits 1 when any change failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.resolveID(ctx, args)
			if err != nil {
				return err
			}
			m, err := staging.ParseMode(mode)
			if err != nil {
				return err
			}
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			res, err := a.mgr.Commit(ctx, a.sess, mdl, id, staging.CommitOptions{DryRun: dryRun, Force: force, Mode: m})
			if res != nil && err != nil && !a.out.json {
				a.out.commitResult(res)
			}
			if err != nil {
				return err
			}
			if perr := a.out.result(res, func() { a.out.commitResult(res) }); perr != nil {
				return perr
			}
			if res.Failed > 0 {
				return errFindings
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "apply to a copy without writing")
	cmd.Flags().BoolVar(&force, "force", false, "skip model validation")
	cmd.Flags().StringVar(&mode, "mode", string(staging.BestEffort), "best_effort or all_or_nothing")
	return cmd
}

func newCSDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a changeset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mgr.Delete(cmd.Context(), a.sess, args[0]); err != nil {
				return err
			}
			return a.out.result(map[string]string{"deleted": args[0]}, func() {
				a.out.ok(fmt.Sprintf("Deleted %s", args[0]))
			})
		},
	}
}

func newCSHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [id]",
		Short: "Show journaled lifecycle events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) > 0 {
				id = args[0]
			}
			events, err := a.mgr.History(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.out.result(events, func() {
				if len(events) == 0 {
					a.out.muted("No history")
					return
				}
				for _, e := range events {
					a.out.line("%s  %-10s %-24s %s %s", e.Time.Format(time.RFC3339), e.Action, e.ChangesetID,
						a.out.style(styleMuted, e.Actor), e.Detail)
				}
			})
		},
	}
}

func newCSExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Export a changeset as YAML, JSON or a patch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.resolveID(ctx, args)
			if err != nil {
				return err
			}
			f, err := exporter.ParseFormat(format)
			if err != nil {
				return err
			}
			if output != "" {
				if err := a.exp.ExportToFile(ctx, id, f, output); err != nil {
					return err
				}
				return a.out.result(map[string]string{"id": id, "path": output}, func() {
					a.out.ok(fmt.Sprintf("Exported %s to %s", id, output))
				})
			}
			if f == exporter.FormatAuto {
				f = exporter.FormatYAML
			}
			content, err := a.exp.Export(ctx, id, f)
			if err != nil {
				return err
			}
			return a.out.result(map[string]string{"id": id, "format": string(f), "content": content}, func() {
				fmt.Fprint(a.stdout, content)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "auto", "yaml, json or patch (auto uses the output extension)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newCSImportCmd(a *app) *cobra.Command {
	var (
		format    string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a changeset from an exported file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := exporter.ParseFormat(format)
			if err != nil {
				return err
			}
			cs, err := a.exp.ImportFromFile(ctx, args[0], f)
			if err != nil {
				return err
			}
			if a.store.Exists(cs.ID) && !overwrite {
				return fmt.Errorf("changeset %s already exists (use --overwrite)", cs.ID)
			}
			if err := a.store.Save(cs); err != nil {
				return err
			}
			return a.out.result(cs.Metadata(), func() {
				a.out.ok(fmt.Sprintf("Imported %s with %d change(s)", cs.ID, len(cs.Changes)))
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "auto", "yaml, json, patch or auto")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing changeset with the same id")
	return cmd
}

func newCSCompatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compat [id]",
		Short: "Check whether a changeset still applies to the current model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.resolveID(ctx, args)
			if err != nil {
				return err
			}
			cs, err := a.mgr.Get(ctx, id)
			if err != nil {
				return err
			}
			mdl, err := a.loadModel()
			if err != nil {
				return err
			}
			compat, err := exporter.ValidateCompatibility(cs, mdl)
			if err != nil {
				return err
			}
			if perr := a.out.result(compat, func() {
				if compat.Compatible {
					a.out.ok(fmt.Sprintf("%s is compatible with the current model", cs.ID))
				} else {
					a.out.fail(fmt.Sprintf("%s is not compatible with the current model", cs.ID))
				}
				if !compat.BaseSnapshotMatch {
					a.out.warn("model has drifted since the changeset was created")
				}
				for _, id := range compat.MissingElements {
					a.out.line("  missing:  %s", id)
				}
				for _, id := range compat.ConflictingAdds {
					a.out.line("  conflict: %s", id)
				}
			}); perr != nil {
				return perr
			}
			if !compat.Compatible {
				return errFindings
			}
			return nil
		},
	}
}
