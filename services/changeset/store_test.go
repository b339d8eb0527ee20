// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), ".changesets"))
	require.NoError(t, err)
	return s
}

func TestStore_CreateLoad(t *testing.T) {
	s := newTestStore(t)

	cs, err := s.Create("Add Auth", "add auth", "adds the auth service", "sha256:base")
	require.NoError(t, err)
	assert.Equal(t, "add-auth", cs.ID)
	assert.Equal(t, StatusDraft, cs.Status)
	assert.FileExists(t, filepath.Join(s.Dir(), "add-auth", MetadataFile))
	assert.FileExists(t, filepath.Join(s.Dir(), "add-auth", ChangesFile))

	byID, err := s.Load("add-auth")
	require.NoError(t, err)
	assert.Equal(t, "add auth", byID.Name)

	byName, err := s.Load("add auth")
	require.NoError(t, err)
	assert.Equal(t, "add-auth", byName.ID)

	_, err = s.Load("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Create("add-auth", "dup", "", "")
	assert.ErrorIs(t, err, ErrExists)

	_, err = s.Create("???", "bad", "", "")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestStore_LoadResolutionOrder(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Create("my-set", "my set", "", "sha256:base")
	require.NoError(t, err)
	second, err := s.Create("my-set-fe7a81c5", "My Set", "", "sha256:base")
	require.NoError(t, err)
	byIDName, err := s.Create("other", "my-set", "", "sha256:base")
	require.NoError(t, err)

	got, err := s.Load("My Set")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "exact name wins over sanitized id")

	got, err = s.Load("my set")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = s.Load("my-set")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "exact id wins over exact name")
	assert.NotEqual(t, byIDName.ID, got.ID)

	got, err = s.Load("MY SET-FE7A81C5")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "sanitized id is the last resort")
}

func TestStore_SaveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cs, err := s.Create("round", "Round", "", "sha256:base")
	require.NoError(t, err)

	cs.AddChange(ChangeAdd, "a-1", "business", nil, elem("a-1"))
	cs.AddChange(ChangeDelete, "d-1", "business", elem("d-1"), nil)
	cs.MarkStaged()
	require.NoError(t, s.Save(cs))

	fresh, err := NewStore(s.Dir())
	require.NoError(t, err)
	loaded, err := fresh.Load("round")
	require.NoError(t, err)

	assert.Equal(t, StatusStaged, loaded.Status)
	assert.Equal(t, Stats{Additions: 1, Deletions: 1}, loaded.Stats())
	assert.Equal(t, []int{0, 1}, sequenceNumbers(loaded))
	assert.Equal(t, "team", loaded.Changes[0].After.Properties["owner"])
}

func TestStore_CacheReturnsClones(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("c", "c", "", "")
	require.NoError(t, err)

	first, err := s.Load("c")
	require.NoError(t, err)
	first.AddChange(ChangeAdd, "x", "l", nil, elem("x"))

	second, err := s.Load("c")
	require.NoError(t, err)
	assert.Empty(t, second.Changes)
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, id := range []string{"b", "a", "c"} {
		_, err := s.Create(id, id, "", "")
		require.NoError(t, err)
	}
	list, err = s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestStore_ActiveRecord(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("one", "one", "", "")
	require.NoError(t, err)

	active, err := s.Active()
	require.NoError(t, err)
	assert.Nil(t, active)

	assert.ErrorIs(t, s.SetActive(ActiveRecord{ID: "ghost"}), ErrNotFound)

	require.NoError(t, s.SetActive(ActiveRecord{ID: "one", Actor: "alice"}))
	active, err = s.Active()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "one", active.ID)
	assert.Equal(t, "alice", active.Actor)

	require.NoError(t, s.ClearActive())
	require.NoError(t, s.ClearActive())
	active, err = s.Active()
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStore_DeleteClearsActive(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("one", "one", "", "")
	require.NoError(t, err)
	_, err = s.Create("two", "two", "", "")
	require.NoError(t, err)

	require.NoError(t, s.SetActive(ActiveRecord{ID: "two"}))
	require.NoError(t, s.Delete("one"))
	active, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, "two", active.ID)

	require.NoError(t, s.Delete("two"))
	active, err = s.Active()
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.False(t, s.Exists("two"))

	_, err = os.Stat(filepath.Join(s.Dir(), "two"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.Delete("two"), ErrNotFound)
}

func TestStore_LegacyStatusOnDisk(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Dir(), "legacy")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile),
		[]byte("id: legacy\nname: Legacy\nstatus: reverted\n"), 0o644))

	cs, err := s.Load("legacy")
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, cs.Status)
	assert.Empty(t, cs.Changes)
}
