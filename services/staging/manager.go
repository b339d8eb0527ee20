// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package staging drives the changeset lifecycle against a model.
//
// Changes are staged into a changeset and later committed in one pass:
// backup, apply on a clone, validate, persist, and only then expose the
// result to the caller's model. A failure before the persist step leaves
// the model and its files untouched; a failed persist is rolled back from
// the backup taken at the start.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ArchModel/services/backup"
	"github.com/AleutianAI/ArchModel/services/changeset"
	"github.com/AleutianAI/ArchModel/services/migration"
	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/snapshot"
	"github.com/AleutianAI/ArchModel/services/validation"
)

// DefaultBackupDir is the backup root, relative to the model root, used when
// no backup manager is configured.
const DefaultBackupDir = ".backups"

// Mode selects how Commit reacts to a change that cannot be applied.
type Mode string

const (
	// BestEffort skips failing changes and commits the rest.
	BestEffort Mode = "best_effort"

	// AllOrNothing stops at the first failing change and commits nothing.
	AllOrNothing Mode = "all_or_nothing"
)

// ParseMode parses a mode name. Empty means BestEffort.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ReplaceAll(strings.ToLower(s), "-", "_")) {
	case "", BestEffort:
		return BestEffort, nil
	case AllOrNothing:
		return AllOrNothing, nil
	default:
		return "", fmt.Errorf("unknown commit mode %q", s)
	}
}

// CommitOptions configures Commit.
type CommitOptions struct {
	// DryRun applies and validates on a clone and persists nothing.
	DryRun bool

	// Force skips model validation.
	Force bool

	// Mode defaults to BestEffort.
	Mode Mode
}

// Failure describes one change that could not be applied.
type Failure struct {
	SequenceNumber int                  `json:"sequenceNumber" yaml:"sequenceNumber"`
	ElementID      string               `json:"elementId" yaml:"elementId"`
	Type           changeset.ChangeType `json:"type" yaml:"type"`
	Error          string               `json:"error" yaml:"error"`
}

// Result summarizes a commit.
type Result struct {
	Changeset  *changeset.Changeset `json:"changeset" yaml:"changeset"`
	Committed  int                  `json:"committed" yaml:"committed"`
	Failed     int                  `json:"failed" yaml:"failed"`
	Failures   []Failure            `json:"failures" yaml:"failures"`
	DryRun     bool                 `json:"dryRun" yaml:"dryRun"`
	BackupDir  string               `json:"backupDir,omitempty" yaml:"backupDir,omitempty"`
	Validation *validation.Report   `json:"validation,omitempty" yaml:"validation,omitempty"`

	// Model is the resulting model: the caller's model after a commit, or
	// the clone on a dry run.
	Model *model.Model `json:"-" yaml:"-"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// MigrateResult summarizes a persisted migration.
type MigrateResult struct {
	*migration.ApplyResult
	BackupDir string `json:"backupDir,omitempty" yaml:"backupDir,omitempty"`
}

// Manager drives the changeset lifecycle.
//
// # Description
//
// Manager combines the changeset store, snapshot hashing, backups, model
// validation and an optional journal. The active changeset is the store's
// persisted active record; it is read and written on behalf of the Session
// passed to each call.
//
// # Thread Safety
//
// Safe for concurrent use. Mutating operations are serialized.
type Manager struct {
	store      *changeset.Store
	snapshots  *snapshot.Manager
	backups    *backup.Manager
	validator  validation.Validator
	migrations *migration.Registry
	journal    *Journal
	logger     *slog.Logger
	tracer     *Tracer

	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger.With("component", "staging")
		}
	}
}

// WithBackups sets the backup manager. Without it each commit backs up into
// DefaultBackupDir under the model root.
func WithBackups(b *backup.Manager) ManagerOption {
	return func(m *Manager) { m.backups = b }
}

// WithValidator replaces the default model validator.
func WithValidator(v validation.Validator) ManagerOption {
	return func(m *Manager) {
		if v != nil {
			m.validator = v
		}
	}
}

// WithMigrations replaces the default migration registry.
func WithMigrations(r *migration.Registry) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.migrations = r
		}
	}
}

// WithJournal records lifecycle events in j.
func WithJournal(j *Journal) ManagerOption {
	return func(m *Manager) { m.journal = j }
}

// WithTracing enables OpenTelemetry spans.
func WithTracing(enabled bool) ManagerOption {
	return func(m *Manager) { m.tracer = NewTracer(m.logger, enabled) }
}

// NewManager creates a Manager over store.
func NewManager(store *changeset.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		validator:  validation.New(),
		migrations: migration.DefaultRegistry(),
		logger:     slog.Default().With("component", "staging"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = NewTracer(m.logger, false)
	}
	m.snapshots = snapshot.NewManager(snapshot.WithLogger(m.logger))
	return m
}

// Store returns the underlying changeset store.
func (m *Manager) Store() *changeset.Store {
	return m.store
}

// Migrations returns the migration registry.
func (m *Manager) Migrations() *migration.Registry {
	return m.migrations
}

// Create captures the base snapshot of mdl and persists a new draft
// changeset. The id is derived from name; a short suffix is appended when
// that id is taken.
func (m *Manager) Create(ctx context.Context, sess *Session, mdl *model.Model, name, description string) (cs *changeset.Changeset, err error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	ctx, span := m.tracer.StartOp(ctx, "create", sess, name)
	defer func() { m.tracer.EndOp(span, err) }()

	base, err := m.snapshots.Capture(mdl)
	if err != nil {
		return nil, fmt.Errorf("capturing base snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := changeset.SanitizeID(name)
	if err != nil {
		return nil, err
	}
	if m.store.Exists(id) {
		id = id + "-" + uuid.NewString()[:8]
	}
	cs, err = m.store.Create(id, name, description, base)
	if err != nil {
		return nil, err
	}
	m.record(ctx, sess, cs.ID, ActionCreate, base)
	return cs, nil
}

// SetActive marks id as the active changeset for sess.
func (m *Manager) SetActive(ctx context.Context, sess *Session, id string) error {
	if sess == nil {
		return ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := m.store.Load(id)
	if err != nil {
		return err
	}
	if err := m.store.SetActive(changeset.ActiveRecord{
		ID:        cs.ID,
		SessionID: sess.ID,
		Actor:     sess.Actor,
		SetAt:     time.Now().UTC(),
	}); err != nil {
		return err
	}
	m.record(ctx, sess, cs.ID, ActionActivate, "")
	return nil
}

// GetActive returns the active changeset, or nil when none is set. A record
// pointing at a deleted changeset is cleared and reported as none.
func (m *Manager) GetActive(ctx context.Context, sess *Session) (*changeset.Changeset, error) {
	id, err := m.GetActiveID(ctx, sess)
	if err != nil || id == "" {
		return nil, err
	}
	cs, err := m.store.Load(id)
	if errors.Is(err, changeset.ErrNotFound) {
		m.logger.Warn("active changeset no longer exists", slog.String("id", id))
		return nil, m.store.ClearActive()
	}
	return cs, err
}

// GetActiveID returns the active changeset id, or "" when none is set.
func (m *Manager) GetActiveID(_ context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", ErrNoSession
	}
	rec, err := m.store.Active()
	if err != nil || rec == nil {
		return "", err
	}
	return rec.ID, nil
}

// IsActive reports whether id is the active changeset.
func (m *Manager) IsActive(ctx context.Context, sess *Session, id string) bool {
	active, err := m.GetActiveID(ctx, sess)
	return err == nil && active != "" && active == id
}

// ClearActive removes the active marker. Clearing when none is set is not
// an error.
func (m *Manager) ClearActive(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := m.GetActiveID(ctx, sess)
	if err := m.store.ClearActive(); err != nil {
		return err
	}
	if id != "" {
		m.record(ctx, sess, id, ActionDeactivate, "")
	}
	return nil
}

// Stage appends change to the changeset id.
//
// # Description
//
// Only draft and staged changesets accept changes; the first stage moves a
// draft to staged. The change is validated and receives the next sequence
// number and a timestamp.
//
// # Outputs
//
//   - changeset.Change: The change as stored.
//   - error: ErrNotFound, *StatusError or changeset.ErrInvalidChange.
func (m *Manager) Stage(ctx context.Context, sess *Session, id string, change changeset.Change) (stored changeset.Change, err error) {
	if sess == nil {
		return changeset.Change{}, ErrNoSession
	}
	ctx, span := m.tracer.StartOp(ctx, "stage", sess, id)
	defer func() {
		m.tracer.EndOp(span, err)
		recordStage(ctx, string(change.Type), err == nil)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := m.loadForUpdate(id, "stage")
	if err != nil {
		return changeset.Change{}, err
	}
	if err := change.Validate(); err != nil {
		return changeset.Change{}, err
	}
	stored = cs.Append(change.Clone())
	if cs.Status == changeset.StatusDraft {
		cs.MarkStaged()
	}
	if err := m.store.Save(cs); err != nil {
		return changeset.Change{}, err
	}
	m.record(ctx, sess, cs.ID, ActionStage, fmt.Sprintf("%s %s #%d", stored.Type, stored.ElementID, stored.SequenceNumber))
	return stored, nil
}

// Unstage removes every change targeting elementID and renumbers the rest.
//
// # Outputs
//
//   - int: Number of changes removed.
//   - error: ErrNotFound, *StatusError or ErrChangeNotFound.
func (m *Manager) Unstage(ctx context.Context, sess *Session, id, elementID string) (removed int, err error) {
	if sess == nil {
		return 0, ErrNoSession
	}
	ctx, span := m.tracer.StartOp(ctx, "unstage", sess, id)
	defer func() { m.tracer.EndOp(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := m.loadForUpdate(id, "unstage")
	if err != nil {
		return 0, err
	}
	removed = cs.RemoveChange(elementID)
	if removed == 0 {
		return 0, fmt.Errorf("%w: %s", ErrChangeNotFound, elementID)
	}
	if err := m.store.Save(cs); err != nil {
		return 0, err
	}
	m.record(ctx, sess, cs.ID, ActionUnstage, elementID)
	return removed, nil
}

// Discard drops every change and marks the changeset discarded. Committed
// changesets cannot be discarded; discarding twice is not an error.
func (m *Manager) Discard(ctx context.Context, sess *Session, id string) (cs *changeset.Changeset, err error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	ctx, span := m.tracer.StartOp(ctx, "discard", sess, id)
	defer func() { m.tracer.EndOp(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err = m.store.Load(id)
	if err != nil {
		return nil, err
	}
	if cs.Status == changeset.StatusCommitted {
		return nil, &StatusError{ID: cs.ID, Op: "discard", Status: cs.Status}
	}
	if cs.Status == changeset.StatusDiscarded {
		return cs, nil
	}
	cs.Clear()
	cs.MarkDiscarded()
	if err := m.store.Save(cs); err != nil {
		return nil, err
	}
	m.clearActiveIf(cs.ID)
	recordDiscard(ctx)
	m.record(ctx, sess, cs.ID, ActionDiscard, "")
	return cs, nil
}

// Revert is an alias of Discard.
func (m *Manager) Revert(ctx context.Context, sess *Session, id string) (*changeset.Changeset, error) {
	return m.Discard(ctx, sess, id)
}

// Delete removes the changeset from the store, clearing the active marker
// when it pointed at it.
func (m *Manager) Delete(ctx context.Context, sess *Session, id string) (err error) {
	if sess == nil {
		return ErrNoSession
	}
	ctx, span := m.tracer.StartOp(ctx, "delete", sess, id)
	defer func() { m.tracer.EndOp(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := m.store.Load(id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(cs.ID); err != nil {
		return err
	}
	m.record(ctx, sess, cs.ID, ActionDelete, "")
	return nil
}

// Get loads a changeset by id or name.
func (m *Manager) Get(_ context.Context, idOrName string) (*changeset.Changeset, error) {
	return m.store.Load(idOrName)
}

// List returns every changeset, oldest first.
func (m *Manager) List(_ context.Context) ([]*changeset.Changeset, error) {
	return m.store.List()
}

// History returns the journal events of id, oldest first. Without a journal
// the history is empty.
func (m *Manager) History(_ context.Context, id string) ([]Event, error) {
	if m.journal == nil {
		return []Event{}, nil
	}
	if id != "" {
		cs, err := m.store.Load(id)
		if err == nil {
			id = cs.ID
		}
	}
	return m.journal.History(id)
}

// Apply is an alias of Commit.
func (m *Manager) Apply(ctx context.Context, sess *Session, mdl *model.Model, id string, opts CommitOptions) (*Result, error) {
	return m.Commit(ctx, sess, mdl, id, opts)
}

// Commit applies the changes of id to mdl.
//
// # Description
//
// Changes are applied in ascending sequence order to a clone of mdl. In
// BestEffort mode a failing change is recorded and skipped; in
// AllOrNothing mode the first failure aborts with ErrCommitAborted.
//
// Without DryRun the steps are: back up the model root, verify the backup,
// apply, validate (unless Force), save, copy the result into mdl, then mark
// the changeset committed and clear the active marker if it pointed at it.
// If saving fails the model root is restored from the backup. Restore
// failures are logged and never replace the save error.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - sess: Calling session.
//   - mdl: The loaded model. Only modified after a successful save.
//   - id: Changeset id or name.
//   - opts: Commit options.
//
// # Outputs
//
//   - *Result: Outcome. Non-nil alongside validation and abort errors.
//   - error: ErrNotFound, *StatusError, ErrBackupInvalid, ErrCommitAborted,
//     *validation.Error, or a persistence error.
func (m *Manager) Commit(ctx context.Context, sess *Session, mdl *model.Model, id string, opts CommitOptions) (result *Result, err error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	if opts.Mode == "" {
		opts.Mode = BestEffort
	}
	start := time.Now()

	ctx, span := m.tracer.StartOp(ctx, "commit", sess, id)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commit panicked: %v", r)
			result = nil
		}
		if result != nil {
			result.Duration = time.Since(start)
		}
		m.tracer.EndCommit(span, result, err)
		applied, failed := 0, 0
		if result != nil {
			applied, failed = result.Committed, result.Failed
		}
		recordCommit(ctx, opts.Mode, opts.DryRun, time.Since(start), applied, failed, err == nil)
	}()
	logger := LoggerWithTrace(ctx, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := m.loadForUpdate(id, "commit")
	if err != nil {
		return nil, err
	}
	result = &Result{Changeset: cs, DryRun: opts.DryRun, Failures: []Failure{}}

	var backupDir string
	var backups *backup.Manager
	if !opts.DryRun {
		m.tracer.RecordPhase(ctx, "backup")
		backups = m.backupsFor(mdl)
		backupDir, err = m.backupVerified(ctx, backups, mdl.Root)
		if err != nil {
			return result, err
		}
		result.BackupDir = backupDir
	}

	m.tracer.RecordPhase(ctx, "apply")
	work := mdl.Clone()
	for _, c := range ordered(cs.Changes) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if aerr := applyChange(work, c); aerr != nil {
			result.Failed++
			result.Failures = append(result.Failures, Failure{
				SequenceNumber: c.SequenceNumber,
				ElementID:      c.ElementID,
				Type:           c.Type,
				Error:          aerr.Error(),
			})
			logger.Warn("change failed to apply",
				slog.String("changeset", cs.ID),
				slog.Int("sequence", c.SequenceNumber),
				slog.String("element", c.ElementID),
				slog.String("error", aerr.Error()),
			)
			if opts.Mode == AllOrNothing {
				return result, fmt.Errorf("%w: change #%d (%s %s): %v",
					ErrCommitAborted, c.SequenceNumber, c.Type, c.ElementID, aerr)
			}
			continue
		}
		result.Committed++
	}

	if !opts.Force {
		m.tracer.RecordPhase(ctx, "validate")
		report := m.validator.ValidateModel(work)
		result.Validation = report
		if verr := report.Err(); verr != nil {
			return result, verr
		}
	}

	if opts.DryRun {
		result.Model = work
		logger.Info("commit dry run",
			slog.String("changeset", cs.ID),
			slog.Int("committed", result.Committed),
			slog.Int("failed", result.Failed),
		)
		return result, nil
	}

	m.tracer.RecordPhase(ctx, "persist")
	if serr := work.SaveTo(mdl.Root); serr != nil {
		m.restore(ctx, backups, backupDir, mdl.Root, "commit")
		return result, fmt.Errorf("saving model: %w", serr)
	}
	mdl.ReplaceWith(work)
	result.Model = mdl

	cs.MarkCommitted()
	if err := m.store.Save(cs); err != nil {
		return result, fmt.Errorf("model saved but changeset status not persisted: %w", err)
	}
	m.clearActiveIf(cs.ID)
	m.record(ctx, sess, cs.ID, ActionCommit, fmt.Sprintf("committed=%d failed=%d backup=%s",
		result.Committed, result.Failed, filepath.Base(backupDir)))

	logger.Info("changeset committed",
		slog.String("changeset", cs.ID),
		slog.Int("committed", result.Committed),
		slog.Int("failed", result.Failed),
		slog.String("backup", backupDir),
	)
	return result, nil
}

// Migrate upgrades mdl's schema with the same discipline as Commit: back up,
// verify, migrate a clone, validate, save, then copy into mdl.
//
// opts.DryRun delegates to the registry without touching disk. When
// opts.Validate is set without a validator, the manager's validator is used.
func (m *Manager) Migrate(ctx context.Context, sess *Session, mdl *model.Model, opts migration.ApplyOptions) (result *MigrateResult, err error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	ctx, span := m.tracer.StartOp(ctx, "migrate", sess, "")
	defer func() {
		m.tracer.EndOp(span, err)
		recordMigrate(ctx, opts.DryRun, err == nil)
	}()
	if opts.Validate && opts.Validator == nil {
		opts.Validator = m.validator
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.DryRun {
		applied, err := m.migrations.Apply(ctx, mdl, opts)
		return &MigrateResult{ApplyResult: applied}, err
	}

	from := opts.From
	if from == "" {
		from = mdl.Manifest.SchemaVersion
	}
	to := opts.To
	if to == "" {
		to = m.migrations.Latest()
	}
	path := m.migrations.Path(from, to)
	switch path.Kind {
	case migration.AlreadyCurrent:
		return &MigrateResult{ApplyResult: &migration.ApplyResult{
			From: from, To: to, Applied: []migration.AppliedMigration{}, Model: mdl,
		}}, nil
	case migration.NoPathFound:
		return nil, &migration.NoPathError{From: from, To: to}
	}

	backups := m.backupsFor(mdl)
	backupDir, err := m.backupVerified(ctx, backups, mdl.Root)
	if err != nil {
		return nil, err
	}

	work := mdl.Clone()
	applied, err := m.migrations.Apply(ctx, work, opts)
	result = &MigrateResult{ApplyResult: applied, BackupDir: backupDir}
	if err != nil {
		return result, err
	}

	if serr := work.SaveTo(mdl.Root); serr != nil {
		m.restore(ctx, backups, backupDir, mdl.Root, "migrate")
		return result, fmt.Errorf("saving migrated model: %w", serr)
	}
	mdl.ReplaceWith(work)
	applied.Model = mdl

	m.record(ctx, sess, "", ActionMigrate, fmt.Sprintf("%s -> %s", applied.From, applied.To))
	m.logger.Info("model migrated",
		slog.String("from", applied.From),
		slog.String("to", applied.To),
		slog.Int("steps", len(applied.Applied)),
		slog.String("backup", backupDir),
	)
	return result, nil
}

// CheckDrift compares the current model against the changeset's base
// snapshot.
func (m *Manager) CheckDrift(_ context.Context, id string, mdl *model.Model) (*snapshot.DriftReport, error) {
	cs, err := m.store.Load(id)
	if err != nil {
		return nil, err
	}
	return m.snapshots.DetectDrift(cs.BaseSnapshot, mdl)
}

func (m *Manager) loadForUpdate(id, op string) (*changeset.Changeset, error) {
	cs, err := m.store.Load(id)
	if err != nil {
		return nil, err
	}
	if cs.Status.IsTerminal() {
		return nil, &StatusError{ID: cs.ID, Op: op, Status: cs.Status}
	}
	return cs, nil
}

func (m *Manager) backupsFor(mdl *model.Model) *backup.Manager {
	if m.backups != nil {
		return m.backups
	}
	return backup.NewManager(
		backup.DefaultConfig(filepath.Join(mdl.Root, DefaultBackupDir)),
		backup.WithLogger(m.logger),
	)
}

// backupVerified takes a backup of root and checks it before anything is
// written.
func (m *Manager) backupVerified(ctx context.Context, backups *backup.Manager, root string) (string, error) {
	dir, err := backups.Backup(ctx, root)
	if err != nil {
		return "", err
	}
	check, err := backups.ValidateIntegrity(ctx, dir)
	if err != nil {
		return dir, fmt.Errorf("%w: %v", ErrBackupInvalid, err)
	}
	if !check.IsValid {
		return dir, fmt.Errorf("%w: %s", ErrBackupInvalid, strings.Join(check.Errors, "; "))
	}
	return dir, nil
}

// restore rolls root back from dir. Errors are logged only.
func (m *Manager) restore(ctx context.Context, backups *backup.Manager, dir, root, op string) {
	err := backups.Restore(ctx, dir, root)
	recordRestore(ctx, op, err == nil)
	if err != nil {
		m.logger.Error("restore from backup failed; manual recovery required",
			slog.String("backup", dir),
			slog.String("target", root),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Warn("model restored from backup", slog.String("backup", dir))
}

func (m *Manager) clearActiveIf(id string) {
	rec, err := m.store.Active()
	if err != nil || rec == nil || rec.ID != id {
		return
	}
	if err := m.store.ClearActive(); err != nil {
		m.logger.Warn("failed to clear active changeset", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (m *Manager) record(ctx context.Context, sess *Session, id string, action Action, detail string) {
	if m.journal == nil {
		return
	}
	e := Event{ChangesetID: id, Action: action, Detail: detail}
	if sess != nil {
		e.SessionID = sess.ID
		e.Actor = sess.Actor
	}
	if err := m.journal.Record(e); err != nil {
		LoggerWithTrace(ctx, m.logger).Warn("journal write failed",
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

func ordered(changes []changeset.Change) []changeset.Change {
	out := append([]changeset.Change(nil), changes...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out
}

// applyChange performs c against work.
func applyChange(work *model.Model, c changeset.Change) error {
	switch c.Type {
	case changeset.ChangeAdd:
		if c.After == nil {
			return changeset.ErrInvalidChange
		}
		if work.HasElement(c.ElementID) {
			return fmt.Errorf("%w: %s", ErrElementExists, c.ElementID)
		}
		e := c.After.Clone()
		e.ID = c.ElementID
		return work.AddElement(c.LayerName, e)
	case changeset.ChangeUpdate:
		if c.After == nil {
			return changeset.ErrInvalidChange
		}
		e := c.After.Clone()
		e.ID = c.ElementID
		return work.UpdateElement(c.LayerName, e)
	case changeset.ChangeDelete:
		return work.DeleteElement(c.LayerName, c.ElementID)
	default:
		return fmt.Errorf("%w: unknown type %q", changeset.ErrInvalidChange, c.Type)
	}
}
