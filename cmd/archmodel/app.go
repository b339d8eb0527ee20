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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ArchModel/cmd/archmodel/config"
	"github.com/AleutianAI/ArchModel/pkg/logging"
	"github.com/AleutianAI/ArchModel/pkg/telemetry"
	"github.com/AleutianAI/ArchModel/services/backup"
	"github.com/AleutianAI/ArchModel/services/changeset"
	"github.com/AleutianAI/ArchModel/services/exporter"
	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/staging"
	bstore "github.com/AleutianAI/ArchModel/services/storage/badger"
)

// errNoActive is returned when a command needs a changeset id and none is
// active.
var errNoActive = errors.New("no changeset id given and no active changeset")

// app holds the per-invocation wiring shared by every command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	modelFlag string
	jsonOut   bool
	actorFlag string
	logLevel  string

	cfg      config.Config
	logger   *logging.Logger
	out      *printer
	sess     *staging.Session
	store    *changeset.Store
	backups  *backup.Manager
	journal  *staging.Journal
	mgr      *staging.Manager
	exp      *exporter.Exporter
	shutdown func(context.Context) error
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, a := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, errFindings) {
		if a.out == nil {
			a.out = newPrinter(stdout, a.jsonOut)
		}
		if a.out.json {
			_ = a.out.envelope(nil, err)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}
	return exitCode(err)
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "archmodel",
		Short: "Stage, commit and migrate multi-layer architecture models",
		Long: `archmodel manages changes to an architecture model stored as layered
element documents. Changes are staged into changesets, checked for drift
against the model they were based on, and committed with a verified backup.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.modelFlag, "model", "m", "", "model root directory (env ARCHMODEL_MODEL, default \".\")")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	pf.StringVar(&a.actorFlag, "actor", "", "actor recorded for this session")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newChangesetCmd(a),
		newSnapshotCmd(a),
		newDriftCmd(a),
		newWatchCmd(a),
		newValidateCmd(a),
		newTraceCmd(a),
		newMigrateCmd(a),
		newBackupCmd(a),
	)
	return root, a
}

// setup resolves configuration and builds the services for one command.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.modelFlag)
	if err != nil {
		return err
	}
	if a.actorFlag != "" {
		cfg.Actor = a.actorFlag
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		JSON:    cfg.Log.JSON,
		LogDir:  cfg.Log.Dir,
		Service: "archmodel",
		Writer:  a.stderr,
	})
	slog.SetDefault(a.logger.Slog())

	a.out = newPrinter(a.stdout, a.jsonOut)
	a.out.command = cmd.CommandPath()

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	staging.SetMetricsEnabled(cfg.Telemetry.Enabled())

	a.sess = staging.NewSession(cfg.Actor)

	a.store, err = changeset.NewStore(cfg.ChangesetDir, changeset.WithStoreLogger(a.logger.Slog()))
	if err != nil {
		return err
	}

	bcfg := backup.DefaultConfig(cfg.BackupDir)
	bcfg.MaxBackups = cfg.MaxBackups
	a.backups = backup.NewManager(bcfg, backup.WithLogger(a.logger.Slog()))

	opts := []staging.ManagerOption{
		staging.WithLogger(a.logger.Slog()),
		staging.WithBackups(a.backups),
		staging.WithTracing(cfg.Telemetry.TracingEnabled()),
	}
	if cfg.Journal && needsJournal(cmd) {
		jcfg := bstore.DefaultConfig(cfg.JournalPath())
		jcfg.Logger = a.logger.Slog()
		jcfg.GCInterval = 0
		j, err := staging.OpenJournal(jcfg)
		if err != nil {
			a.logger.Slog().Warn("journal unavailable", slog.String("error", err.Error()))
		} else {
			a.journal = j
			opts = append(opts, staging.WithJournal(j))
		}
	}
	a.mgr = staging.NewManager(a.store, opts...)
	a.exp = exporter.New(a.store, exporter.WithLogger(a.logger.Slog()))
	return nil
}

// needsJournal reports whether cmd belongs to a group that records or reads
// journal events.
func needsJournal(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "changeset", "migrate":
			return true
		}
	}
	return false
}

func (a *app) close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdown(ctx))
		cancel()
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

func (a *app) loadModel() (*model.Model, error) {
	if _, err := os.Stat(a.cfg.ModelRoot); err != nil {
		return nil, fmt.Errorf("model root: %w", err)
	}
	return model.Load(a.cfg.ModelRoot)
}

// resolveID returns args[0] or the active changeset id.
func (a *app) resolveID(ctx context.Context, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	id, err := a.mgr.GetActiveID(ctx, a.sess)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errNoActive
	}
	return id, nil
}
