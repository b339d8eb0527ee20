// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArchModel/services/model/modeltest"
)

func setup(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	modeltest.Write(t, root)
	return NewManager(DefaultConfig(filepath.Join(root, ".backups"))), root
}

func createBackup(t *testing.T) (*Manager, string, string) {
	t.Helper()
	m, root := setup(t)
	dir, err := m.Backup(context.Background(), root)
	require.NoError(t, err)
	return m, root, dir
}

func rewriteManifest(t *testing.T, dir string, edit func(*Manifest)) {
	t.Helper()
	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	edit(manifest)
	require.NoError(t, writeManifest(dir, manifest))
}

func TestBackup_CreatesManifest(t *testing.T) {
	_, root, dir := createBackup(t)

	assert.True(t, strings.HasPrefix(dir, filepath.Join(root, ".backups")))
	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmBLAKE3, manifest.Algorithm)
	assert.Equal(t, root, manifest.Source)

	var paths []string
	for _, f := range manifest.Files {
		paths = append(paths, f.Path)
		assert.Len(t, f.Checksum, 64)
		assert.Positive(t, f.Size)
	}
	assert.ElementsMatch(t, []string{
		"manifest.yaml",
		"motivation/elements.yaml",
		"business/elements.yaml",
		"application/elements.yaml",
	}, paths, "backup root must not be copied into itself")
}

func TestValidateIntegrity_Valid(t *testing.T) {
	m, _, dir := createBackup(t)

	result, err := m.ValidateIntegrity(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 4, result.FilesChecked)
	assert.Empty(t, result.Errors)
}

func TestValidateIntegrity_Corruption(t *testing.T) {
	m, _, dir := createBackup(t)
	target := filepath.Join(dir, "business", "elements.yaml")
	require.NoError(t, os.WriteFile(target, []byte("corrupted"), 0o644))

	result, err := m.ValidateIntegrity(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "business/elements.yaml")
	assert.Contains(t, joined, "Size mismatch")
	assert.Contains(t, joined, "Checksum mismatch")
}

func TestValidateIntegrity_SameSizeCorruption(t *testing.T) {
	m, _, dir := createBackup(t)
	target := filepath.Join(dir, "manifest.yaml")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	data[0] ^= 0x01
	require.NoError(t, os.WriteFile(target, data, 0o644))

	result, err := m.ValidateIntegrity(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Checksum mismatch: manifest.yaml")
}

func TestValidateIntegrity_SwappedChecksums(t *testing.T) {
	m, _, dir := createBackup(t)
	rewriteManifest(t, dir, func(man *Manifest) {
		man.Files[0].Checksum, man.Files[1].Checksum = man.Files[1].Checksum, man.Files[0].Checksum
	})
	manifest, err := ReadManifest(dir)
	require.NoError(t, err)

	result, err := m.ValidateIntegrity(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, result.IsValid)

	var mismatches []string
	for _, e := range result.Errors {
		if strings.Contains(e, "Checksum mismatch") {
			mismatches = append(mismatches, e)
		}
	}
	require.Len(t, mismatches, 2)
	assert.Contains(t, mismatches[0], manifest.Files[0].Path)
	assert.Contains(t, mismatches[1], manifest.Files[1].Path)
}

func TestValidateIntegrity_MissingFiles(t *testing.T) {
	m, _, dir := createBackup(t)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "application")))
	require.NoError(t, os.Remove(filepath.Join(dir, "motivation", "elements.yaml")))

	result, err := m.ValidateIntegrity(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "Missing layer directory: application")
	assert.Contains(t, result.Errors, "Missing file: motivation/elements.yaml")
	assert.Len(t, result.Errors, 2, "all discrepancies are reported in one pass")
}

func TestValidateIntegrity_EmptyBackup(t *testing.T) {
	m, _, dir := createBackup(t)
	rewriteManifest(t, dir, func(man *Manifest) { man.Files = []FileEntry{} })

	result, err := m.ValidateIntegrity(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateIntegrity_ManifestErrorsAreHard(t *testing.T) {
	tests := map[string]string{
		"malformed json":  `{"files": [`,
		"missing files":   `{"algorithm": "blake3"}`,
		"files not array": `{"files": "nope"}`,
		"null files":      `{"files": null}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			m, _, dir := createBackup(t)
			require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(content), 0o644))

			_, err := m.ValidateIntegrity(context.Background(), dir)
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}

	t.Run("absent manifest", func(t *testing.T) {
		m, _ := setup(t)
		_, err := m.ValidateIntegrity(context.Background(), t.TempDir())
		assert.ErrorIs(t, err, ErrInvalidManifest)
	})
}

func TestValidateIntegrity_ConcurrentIdentical(t *testing.T) {
	m, _, dir := createBackup(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "business", "elements.yaml"), []byte("x"), 0o644))

	const runs = 8
	results := make([]*IntegrityResult, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.ValidateIntegrity(context.Background(), dir)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < runs; i++ {
		assert.Equal(t, results[0], results[i])
	}

	data, err := os.ReadFile(filepath.Join(dir, "business", "elements.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data), "validation must not modify the backup")
}

func TestRestore(t *testing.T) {
	m, root, dir := createBackup(t)
	original, err := os.ReadFile(filepath.Join(root, "business", "elements.yaml"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "business", "elements.yaml"), []byte("elements: []\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "extra"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "extra", "elements.yaml"), []byte("elements: []\n"), 0o644))

	require.NoError(t, m.Restore(context.Background(), dir, root))

	restored, err := os.ReadFile(filepath.Join(root, "business", "elements.yaml"))
	require.NoError(t, err)
	assert.Equal(t, original, restored)
	assert.NoFileExists(t, filepath.Join(root, "extra", "elements.yaml"))
	assert.DirExists(t, dir, "backups under the model root survive a restore")
}

func TestRestore_BackupRootInsideModel(t *testing.T) {
	root := t.TempDir()
	modeltest.Write(t, root)
	m := NewManager(DefaultConfig(filepath.Join(root, "bk")))
	ctx := context.Background()

	dir, err := m.Backup(ctx, root)
	require.NoError(t, err)
	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	for _, f := range manifest.Files {
		assert.False(t, strings.HasPrefix(f.Path, "bk/"), "backup root copied into itself: %s", f.Path)
	}

	layerFile := filepath.Join(root, "application", "elements.yaml")
	original, err := os.ReadFile(layerFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layerFile, []byte("corrupted: [\n"), 0o644))

	require.NoError(t, m.Restore(ctx, dir, root))

	restored, err := os.ReadFile(layerFile)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
	assert.FileExists(t, filepath.Join(dir, ManifestFile))

	result, err := m.ValidateIntegrity(ctx, dir)
	require.NoError(t, err)
	assert.True(t, result.IsValid, result.Errors)
}

func TestRestore_SourceDirInsideTargetSurvives(t *testing.T) {
	root := t.TempDir()
	modeltest.Write(t, root)
	outside := NewManager(DefaultConfig(t.TempDir()))
	ctx := context.Background()

	dir, err := outside.Backup(ctx, root)
	require.NoError(t, err)
	moved := filepath.Join(root, "saved")
	require.NoError(t, os.Rename(dir, moved))

	require.NoError(t, outside.Restore(ctx, moved, root))
	assert.FileExists(t, filepath.Join(moved, ManifestFile))
}

func TestRestore_RefusesCorruptBackup(t *testing.T) {
	m, root, dir := createBackup(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("tampered"), 0o644))

	err := m.Restore(context.Background(), dir, root)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestListAndPrune(t *testing.T) {
	m, root := setup(t)
	var dirs []string
	for i := 0; i < 3; i++ {
		dir, err := m.Backup(context.Background(), root)
		require.NoError(t, err)
		dirs = append(dirs, dir)
	}

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 4, list[0].Files)

	removed, err := m.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err = m.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCleanup(t *testing.T) {
	m, _, dir := createBackup(t)

	require.NoError(t, m.Cleanup(dir))
	assert.NoDirExists(t, dir)

	t.Run("missing directory is not an error", func(t *testing.T) {
		assert.NoError(t, m.Cleanup(dir))
		assert.NoError(t, m.Cleanup(filepath.Join(t.TempDir(), "never-existed")))
	})
}

func TestNewCleanupError_Guidance(t *testing.T) {
	tests := []struct {
		err  error
		kind CleanupKind
		hint string
	}{
		{&os.PathError{Op: "unlinkat", Path: "/b", Err: syscall.ENOSPC}, CleanupNoSpace, "disk is full"},
		{&os.PathError{Op: "unlinkat", Path: "/b", Err: syscall.EACCES}, CleanupPermission, "Permission denied"},
		{errors.New("boom"), CleanupIO, "Unexpected I/O error"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			cerr := newCleanupError("/backups/x", tt.err)
			assert.Equal(t, tt.kind, cerr.Kind)
			assert.Contains(t, cerr.Guidance, tt.hint)
			assert.Contains(t, cerr.Guidance, "rm -rf")
			assert.Contains(t, cerr.Guidance, "accumulate")
			assert.ErrorIs(t, cerr, tt.err)
		})
	}
}

func TestManifest_JSONShape(t *testing.T) {
	_, _, dir := createBackup(t)
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	files, ok := raw["files"].([]any)
	require.True(t, ok)
	first := files[0].(map[string]any)
	for _, key := range []string{"path", "checksum", "size"} {
		assert.Contains(t, first, key, fmt.Sprintf("manifest entries carry %s", key))
	}
}
