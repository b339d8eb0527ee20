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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArchModel/services/backup"
	"github.com/AleutianAI/ArchModel/services/changeset"
	"github.com/AleutianAI/ArchModel/services/migration"
	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/model/modeltest"
	"github.com/AleutianAI/ArchModel/services/snapshot"
	bstore "github.com/AleutianAI/ArchModel/services/storage/badger"
	"github.com/AleutianAI/ArchModel/services/validation"
)

type fixture struct {
	root  string
	model *model.Model
	mgr   *Manager
	sess  *Session
}

func newFixture(t *testing.T, opts ...ManagerOption) *fixture {
	t.Helper()
	SetMetricsEnabled(false)

	root := t.TempDir()
	m := modeltest.Write(t, root)

	store, err := changeset.NewStore(filepath.Join(root, ".changesets"))
	require.NoError(t, err)

	return &fixture{
		root:  root,
		model: m,
		mgr:   NewManager(store, opts...),
		sess:  &Session{ID: "sess-1", Actor: "tester"},
	}
}

func (f *fixture) create(t *testing.T, name string) *changeset.Changeset {
	t.Helper()
	cs, err := f.mgr.Create(context.Background(), f.sess, f.model, name, "test changeset")
	require.NoError(t, err)
	return cs
}

func (f *fixture) stage(t *testing.T, id string, c changeset.Change) changeset.Change {
	t.Helper()
	stored, err := f.mgr.Stage(context.Background(), f.sess, id, c)
	require.NoError(t, err)
	return stored
}

func addChange(layer, id string) changeset.Change {
	return changeset.Change{
		Type:      changeset.ChangeAdd,
		ElementID: id,
		LayerName: layer,
		After:     &model.Element{ID: id, Type: "business-service", Name: "New " + id},
	}
}

func updateChange(m *model.Model, id, name string) changeset.Change {
	before, layer := m.FindElement(id)
	after := before.Clone()
	after.Name = name
	return changeset.Change{
		Type:      changeset.ChangeUpdate,
		ElementID: id,
		LayerName: layer.Name,
		Before:    before.Clone(),
		After:     after,
	}
}

func deleteChange(m *model.Model, id string) changeset.Change {
	before, layer := m.FindElement(id)
	return changeset.Change{
		Type:      changeset.ChangeDelete,
		ElementID: id,
		LayerName: layer.Name,
		Before:    before.Clone(),
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestCreate_CapturesBaseSnapshot(t *testing.T) {
	f := newFixture(t)
	cs := f.create(t, "Add Billing")

	assert.Equal(t, "add-billing", cs.ID)
	assert.Equal(t, changeset.StatusDraft, cs.Status)

	want, err := snapshot.Capture(f.model)
	require.NoError(t, err)
	assert.Equal(t, want, cs.BaseSnapshot)

	second := f.create(t, "Add Billing")
	assert.NotEqual(t, cs.ID, second.ID)
	assert.Contains(t, second.ID, "add-billing-")
}

func TestStage_CollidingNamesResolveToTheirOwnChangeset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, "my set")
	second := f.create(t, "My Set")
	require.NotEqual(t, first.ID, second.ID)

	f.stage(t, "My Set", addChange("business", "svc-9"))

	got, err := f.mgr.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, got.Changes, 1)
	got, err = f.mgr.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Changes)
}

func TestCreate_RequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Create(context.Background(), nil, f.model, "x", "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestActiveChangeset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")

	active, err := f.mgr.GetActive(ctx, f.sess)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, f.mgr.SetActive(ctx, f.sess, cs.ID))
	assert.True(t, f.mgr.IsActive(ctx, f.sess, cs.ID))

	id, err := f.mgr.GetActiveID(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, cs.ID, id)

	active, err = f.mgr.GetActive(ctx, f.sess)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, cs.ID, active.ID)

	require.NoError(t, f.mgr.ClearActive(ctx, f.sess))
	require.NoError(t, f.mgr.ClearActive(ctx, f.sess))
	assert.False(t, f.mgr.IsActive(ctx, f.sess, cs.ID))

	err = f.mgr.SetActive(ctx, f.sess, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStage_MovesDraftToStaged(t *testing.T) {
	f := newFixture(t)
	cs := f.create(t, "feature")

	first := f.stage(t, cs.ID, addChange("business", "svc-2"))
	second := f.stage(t, cs.ID, updateChange(f.model, "svc-1", "Ordering v2"))
	assert.Equal(t, 1, first.SequenceNumber)
	assert.Equal(t, 2, second.SequenceNumber)
	assert.False(t, first.Timestamp.IsZero())

	loaded, err := f.mgr.Get(context.Background(), cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusStaged, loaded.Status)
	assert.Equal(t, changeset.Stats{Additions: 1, Modifications: 1}, loaded.Stats())
}

func TestStage_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Stage(context.Background(), f.sess, "nope", addChange("business", "svc-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "not found")
}

func TestStage_RejectsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	_, err := f.mgr.Discard(ctx, f.sess, cs.ID)
	require.NoError(t, err)

	_, err = f.mgr.Stage(ctx, f.sess, cs.ID, addChange("business", "svc-2"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, changeset.StatusDiscarded, se.Status)
	assert.Contains(t, err.Error(), "status")
}

func TestStage_InvalidChange(t *testing.T) {
	f := newFixture(t)
	cs := f.create(t, "feature")
	_, err := f.mgr.Stage(context.Background(), f.sess, cs.ID, changeset.Change{
		Type:      changeset.ChangeAdd,
		ElementID: "svc-2",
		LayerName: "business",
	})
	assert.ErrorIs(t, err, changeset.ErrInvalidChange)
}

func TestUnstage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	f.stage(t, cs.ID, addChange("business", "svc-2"))
	f.stage(t, cs.ID, updateChange(f.model, "svc-1", "A"))
	f.stage(t, cs.ID, updateChange(f.model, "svc-1", "B"))

	removed, err := f.mgr.Unstage(ctx, f.sess, cs.ID, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	loaded, err := f.mgr.Get(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Changes, 1)
	assert.Equal(t, 1, loaded.Changes[0].SequenceNumber)

	_, err = f.mgr.Unstage(ctx, f.sess, cs.ID, "svc-1")
	assert.ErrorIs(t, err, ErrChangeNotFound)
}

func TestCommit_AppliesAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	require.NoError(t, f.mgr.SetActive(ctx, f.sess, cs.ID))

	f.stage(t, cs.ID, addChange("business", "svc-2"))
	f.stage(t, cs.ID, updateChange(f.model, "svc-1", "Ordering v2"))
	f.stage(t, cs.ID, deleteChange(f.model, "proc-1"))

	result, err := f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Committed)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Failures)
	assert.Same(t, f.model, result.Model)

	assert.True(t, f.model.HasElement("svc-2"))
	assert.False(t, f.model.HasElement("proc-1"))
	svc, _ := f.model.FindElement("svc-1")
	assert.Equal(t, "Ordering v2", svc.Name)

	reloaded, err := model.Load(f.root)
	require.NoError(t, err)
	assert.True(t, reloaded.HasElement("svc-2"))
	assert.False(t, reloaded.HasElement("proc-1"))

	loaded, err := f.mgr.Get(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusCommitted, loaded.Status)
	assert.False(t, f.mgr.IsActive(ctx, f.sess, cs.ID))

	require.NotEmpty(t, result.BackupDir)
	check, err := backup.NewManager(backup.DefaultConfig(filepath.Dir(result.BackupDir))).
		ValidateIntegrity(ctx, result.BackupDir)
	require.NoError(t, err)
	assert.True(t, check.IsValid)

	_, err = f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{})
	var se *StatusError
	assert.True(t, errors.As(err, &se))
}

func TestCommit_DryRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	f.stage(t, cs.ID, addChange("business", "svc-2"))
	manifestBefore := readFile(t, filepath.Join(f.root, model.ManifestFile))
	businessBefore := readFile(t, filepath.Join(f.root, "business", model.ElementsYAMLFile))

	result, err := f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Committed)
	assert.Empty(t, result.BackupDir)
	require.NotNil(t, result.Model)
	assert.True(t, result.Model.HasElement("svc-2"))

	assert.False(t, f.model.HasElement("svc-2"))
	assert.Equal(t, manifestBefore, readFile(t, filepath.Join(f.root, model.ManifestFile)))
	assert.Equal(t, businessBefore, readFile(t, filepath.Join(f.root, "business", model.ElementsYAMLFile)))
	assert.NoDirExists(t, filepath.Join(f.root, DefaultBackupDir))

	loaded, err := f.mgr.Get(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusStaged, loaded.Status)
}

func TestCommit_BestEffortSkipsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	f.stage(t, cs.ID, addChange("business", "svc-2"))
	f.stage(t, cs.ID, changeset.Change{
		Type:      changeset.ChangeUpdate,
		ElementID: "ghost",
		LayerName: "business",
		Before:    &model.Element{ID: "ghost", Type: "x", Name: "x"},
		After:     &model.Element{ID: "ghost", Type: "x", Name: "y"},
	})
	f.stage(t, cs.ID, addChange("business", "svc-1"))
	f.stage(t, cs.ID, addChange("business", "svc-3"))

	result, err := f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{Mode: BestEffort})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Committed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, 2, result.Failures[0].SequenceNumber)
	assert.Equal(t, "ghost", result.Failures[0].ElementID)
	assert.Equal(t, 3, result.Failures[1].SequenceNumber)

	assert.True(t, f.model.HasElement("svc-2"))
	assert.True(t, f.model.HasElement("svc-3"))

	loaded, err := f.mgr.Get(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusCommitted, loaded.Status)
}

func TestCommit_AllOrNothingLeavesModelUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	f.stage(t, cs.ID, addChange("business", "svc-2"))
	f.stage(t, cs.ID, addChange("business", "svc-1"))
	businessBefore := readFile(t, filepath.Join(f.root, "business", model.ElementsYAMLFile))

	result, err := f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{Mode: AllOrNothing})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitAborted)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Failed)

	assert.False(t, f.model.HasElement("svc-2"))
	assert.Equal(t, businessBefore, readFile(t, filepath.Join(f.root, "business", model.ElementsYAMLFile)))

	loaded, err := f.mgr.Get(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusStaged, loaded.Status)
}

func TestCommit_ValidationFailureAndForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	broken := addChange("business", "svc-2")
	broken.After.Properties = map[string]any{"realizes": "missing-goal"}
	f.stage(t, cs.ID, broken)

	result, err := f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrInvalidModel)
	require.NotNil(t, result.Validation)
	assert.False(t, result.Validation.IsValid())
	assert.False(t, f.model.HasElement("svc-2"))

	result, err = f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{Force: true})
	require.NoError(t, err)
	assert.Nil(t, result.Validation)
	assert.True(t, f.model.HasElement("svc-2"))
}

func TestCommit_SaveFailureRestoresFromBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A directory where the new layer's element file must go makes the
	// final rename fail after the manifest has been rewritten.
	blocker := filepath.Join(f.root, "technology", model.ElementsYAMLFile)
	require.NoError(t, os.MkdirAll(blocker, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocker, "keep"), []byte("x"), 0o644))

	manifestBefore := readFile(t, filepath.Join(f.root, model.ManifestFile))

	cs := f.create(t, "feature")
	f.stage(t, cs.ID, changeset.Change{
		Type:      changeset.ChangeAdd,
		ElementID: "node-1",
		LayerName: "technology",
		After:     &model.Element{ID: "node-1", Type: "node", Name: "Server"},
	})

	result, err := f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{Force: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving model")
	require.NotNil(t, result)
	assert.NotEmpty(t, result.BackupDir)

	assert.Equal(t, manifestBefore, readFile(t, filepath.Join(f.root, model.ManifestFile)))
	assert.False(t, f.model.HasElement("node-1"))

	loaded, err := f.mgr.Get(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusStaged, loaded.Status)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	f.stage(t, cs.ID, addChange("business", "svc-2"))
	require.NoError(t, f.mgr.SetActive(ctx, f.sess, cs.ID))

	discarded, err := f.mgr.Revert(ctx, f.sess, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusDiscarded, discarded.Status)
	assert.Empty(t, discarded.Changes)
	assert.False(t, f.mgr.IsActive(ctx, f.sess, cs.ID))

	_, err = f.mgr.Discard(ctx, f.sess, cs.ID)
	assert.NoError(t, err)

	committed := f.create(t, "other")
	_, err = f.mgr.Commit(ctx, f.sess, f.model, committed.ID, CommitOptions{})
	require.NoError(t, err)
	_, err = f.mgr.Discard(ctx, f.sess, committed.ID)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")
	require.NoError(t, f.mgr.SetActive(ctx, f.sess, cs.ID))

	require.NoError(t, f.mgr.Delete(ctx, f.sess, cs.ID))
	_, err := f.mgr.Get(ctx, cs.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, f.mgr.IsActive(ctx, f.sess, cs.ID))

	assert.ErrorIs(t, f.mgr.Delete(ctx, f.sess, cs.ID), ErrNotFound)
}

func TestHistory_Journal(t *testing.T) {
	j, err := OpenJournal(bstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	f := newFixture(t, WithJournal(j))
	ctx := context.Background()
	cs := f.create(t, "feature")
	f.stage(t, cs.ID, addChange("business", "svc-2"))
	_, err = f.mgr.Commit(ctx, f.sess, f.model, cs.ID, CommitOptions{})
	require.NoError(t, err)

	events, err := f.mgr.History(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ActionCreate, events[0].Action)
	assert.Equal(t, ActionStage, events[1].Action)
	assert.Equal(t, ActionCommit, events[2].Action)
	for _, e := range events {
		assert.Equal(t, "sess-1", e.SessionID)
		assert.Equal(t, "tester", e.Actor)
	}
}

func TestHistory_NoJournal(t *testing.T) {
	f := newFixture(t)
	events, err := f.mgr.History(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.model.Manifest.SchemaVersion = "0.4.0"
	svc, _ := f.model.FindElement("svc-1")
	svc.Properties["dependencies"] = []any{"goal-1"}
	require.NoError(t, f.model.Save())

	dry, err := f.mgr.Migrate(ctx, f.sess, f.model, migration.ApplyOptions{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, dry.Applied, 3)
	assert.Equal(t, "0.4.0", f.model.Manifest.SchemaVersion)

	result, err := f.mgr.Migrate(ctx, f.sess, f.model, migration.ApplyOptions{Validate: true})
	require.NoError(t, err)
	assert.Len(t, result.Applied, 3)
	assert.NotEmpty(t, result.BackupDir)
	assert.Equal(t, "0.7.0", f.model.Manifest.SchemaVersion)

	reloaded, err := model.Load(f.root)
	require.NoError(t, err)
	assert.Equal(t, "0.7.0", reloaded.Manifest.SchemaVersion)

	again, err := f.mgr.Migrate(ctx, f.sess, f.model, migration.ApplyOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.Applied)
	assert.Empty(t, again.BackupDir)
}

func TestMigrate_NoPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Migrate(context.Background(), f.sess, f.model, migration.ApplyOptions{To: "0.4.0"})
	var npe *migration.NoPathError
	assert.True(t, errors.As(err, &npe))
}

func TestCheckDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs := f.create(t, "feature")

	report, err := f.mgr.CheckDrift(ctx, cs.ID, f.model)
	require.NoError(t, err)
	assert.False(t, report.HasDrift)

	require.NoError(t, f.model.AddElement("business", &model.Element{ID: "svc-9", Type: "t", Name: "n"}))
	report, err = f.mgr.CheckDrift(ctx, cs.ID, f.model)
	require.NoError(t, err)
	assert.True(t, report.HasDrift)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, m)

	m, err = ParseMode("all-or-nothing")
	require.NoError(t, err)
	assert.Equal(t, AllOrNothing, m)

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}
