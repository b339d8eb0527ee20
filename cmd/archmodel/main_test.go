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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/model/modeltest"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// envelope decodes the JSON CommandResult on stdout.
func (r cliResult) envelope(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &out), r.stdout)
	return out
}

func (r cliResult) data(t *testing.T) map[string]any {
	t.Helper()
	data, ok := r.envelope(t)["data"].(map[string]any)
	require.True(t, ok, r.stdout)
	return data
}

func newModelRoot(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, key := range []string{"ARCHMODEL_MODEL", "ARCHMODEL_CHANGESET_DIR", "ARCHMODEL_BACKUP_DIR", "ARCHMODEL_LOG_DIR"} {
		t.Setenv(key, "")
	}
	t.Setenv("ARCHMODEL_TRACE_EXPORTER", "none")
	t.Setenv("ARCHMODEL_METRIC_EXPORTER", "none")
	root := t.TempDir()
	modeltest.Write(t, root)
	return root
}

func runCLI(t *testing.T, root string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--model", root, "--actor", "tester"}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeElement(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCLI_ChangesetLifecycle(t *testing.T) {
	root := newModelRoot(t)
	file := writeElement(t, t.TempDir(), "goal.yaml", "id: goal-2\ntype: goal\nname: Cut costs\nlayer: motivation\n")

	res := runCLI(t, root, "--json", "changeset", "create", "Add Goal", "-d", "second goal", "--activate")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "add-goal", res.data(t)["id"])

	res = runCLI(t, root, "--json", "changeset", "stage", "add", "--file", file)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	staged := res.data(t)
	assert.Equal(t, "goal-2", staged["elementId"])
	assert.Equal(t, "motivation", staged["layerName"])
	assert.EqualValues(t, 1, staged["sequenceNumber"])

	res = runCLI(t, root, "changeset", "show")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "add-goal (staged)")
	assert.Contains(t, res.stdout, "motivation/goal-2")

	res = runCLI(t, root, "changeset", "commit")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Committed add-goal")

	m, err := model.Load(root)
	require.NoError(t, err)
	e, layer := m.FindElement("goal-2")
	require.NotNil(t, e)
	assert.Equal(t, "motivation", layer.Name)

	res = runCLI(t, root, "changeset", "active")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No active changeset")

	res = runCLI(t, root, "--json", "changeset", "history", "add-goal")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	events, ok := res.envelope(t)["data"].([]any)
	require.True(t, ok)
	var actions []string
	for _, ev := range events {
		actions = append(actions, ev.(map[string]any)["action"].(string))
	}
	assert.Contains(t, actions, "create")
	assert.Contains(t, actions, "stage")
	assert.Contains(t, actions, "commit")
}

func TestCLI_CommitFailuresExitWithFindings(t *testing.T) {
	root := newModelRoot(t)
	file := writeElement(t, t.TempDir(), "dup.yaml", "id: goal-1\ntype: goal\nname: Duplicate\n")

	require.Equal(t, ExitSuccess, runCLI(t, root, "changeset", "create", "dup", "--activate").code)
	res := runCLI(t, root, "changeset", "stage", "add", "--layer", "motivation", "--file", file)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res = runCLI(t, root, "changeset", "commit", "--dry-run")
	assert.Equal(t, ExitFindings, res.code)
	assert.Contains(t, res.stdout, "goal-1")

	res = runCLI(t, root, "changeset", "commit", "--mode", "all_or_nothing")
	assert.Equal(t, ExitError, res.code)
	assert.Contains(t, res.stderr, "Error:")
}

func TestCLI_StageUpdateUsesCurrentElement(t *testing.T) {
	root := newModelRoot(t)
	file := writeElement(t, t.TempDir(), "svc.json", `{"id": "svc-1", "type": "business-service", "name": "Ordering v2"}`)

	require.Equal(t, ExitSuccess, runCLI(t, root, "changeset", "create", "rename").code)
	res := runCLI(t, root, "--json", "changeset", "stage", "update", "svc-1", "--file", file, "--changeset", "rename")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	staged := res.data(t)
	assert.Equal(t, "business", staged["layerName"])
	before, ok := staged["before"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ordering", before["name"])

	res = runCLI(t, root, "changeset", "stage", "delete", "nope", "--changeset", "rename")
	assert.Equal(t, ExitError, res.code)
	assert.Contains(t, res.stderr, "nope")
}

func TestCLI_Drift(t *testing.T) {
	root := newModelRoot(t)
	require.Equal(t, ExitSuccess, runCLI(t, root, "changeset", "create", "base").code)

	res := runCLI(t, root, "drift", "base")
	assert.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No drift")

	m, err := model.Load(root)
	require.NoError(t, err)
	require.NoError(t, m.AddElement("motivation", &model.Element{ID: "goal-9", Type: "goal", Name: "Other"}))
	require.NoError(t, m.Save())

	res = runCLI(t, root, "--json", "drift", "base")
	assert.Equal(t, ExitFindings, res.code)
	assert.Equal(t, true, res.data(t)["hasDrift"])

	snap := runCLI(t, root, "snapshot")
	require.Equal(t, ExitSuccess, snap.code)
	res = runCLI(t, root, "drift", "--base", strings.TrimSpace(snap.stdout))
	assert.Equal(t, ExitSuccess, res.code, res.stderr)
}

func TestCLI_Trace(t *testing.T) {
	root := newModelRoot(t)

	res := runCLI(t, root, "trace", "goal-1", "--direction", "down")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "1: svc-1")
	assert.Contains(t, res.stdout, "2: app-1, proc-1")

	res = runCLI(t, root, "--json", "trace", "app-1", "--direction", "both", "--depth", "1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	results, ok := res.envelope(t)["data"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	up := results[0].(map[string]any)
	assert.Equal(t, "up", up["direction"])
	assert.Len(t, up["levels"], 1)

	res = runCLI(t, root, "trace", "goal-1", "--direction", "sideways")
	assert.Equal(t, ExitError, res.code)

	t.Run("graph lists edges among traced elements", func(t *testing.T) {
		res := runCLI(t, root, "--json", "trace", "app-1", "--direction", "up", "--depth", "1", "--graph")
		require.Equal(t, ExitSuccess, res.code, res.stderr)
		data := res.data(t)
		assert.Len(t, data["traces"], 1)
		edges, ok := data["edges"].([]any)
		require.True(t, ok)
		require.Len(t, edges, 2)
		for _, e := range edges {
			assert.Equal(t, "app-1", e.(map[string]any)["from"])
		}

		res = runCLI(t, root, "trace", "goal-1", "--graph")
		require.Equal(t, ExitSuccess, res.code, res.stderr)
		assert.Contains(t, res.stdout, "svc-1 -")
		assert.Contains(t, res.stdout, "-> goal-1")
	})
}

func TestCLI_ValidateAndMigrate(t *testing.T) {
	root := newModelRoot(t)

	res := runCLI(t, root, "validate")
	assert.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Model is valid")

	res = runCLI(t, root, "--json", "migrate", "status")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "already_current", res.data(t)["result"])

	res = runCLI(t, root, "migrate", "list")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "0.4.0 -> 0.5.0")

	res = runCLI(t, root, "migrate", "apply")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Already at 0.7.0")
}

func TestCLI_Backups(t *testing.T) {
	root := newModelRoot(t)

	res := runCLI(t, root, "--json", "backup", "create")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	dir, ok := res.data(t)["dir"].(string)
	require.True(t, ok)

	res = runCLI(t, root, "backup", "verify", dir)
	assert.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Backup is intact")

	res = runCLI(t, root, "backup", "list")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("tampered\n"), 0o644))
	res = runCLI(t, root, "backup", "verify", dir)
	assert.Equal(t, ExitFindings, res.code)
	assert.Contains(t, res.stdout, "mismatch")

	res = runCLI(t, root, "backup", "clean", dir)
	assert.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.NoDirExists(t, dir)
}

func TestCLI_ExportImport(t *testing.T) {
	root := newModelRoot(t)
	out := t.TempDir()
	file := writeElement(t, out, "goal.yaml", "id: goal-2\ntype: goal\nname: Cut costs\n")

	require.Equal(t, ExitSuccess, runCLI(t, root, "changeset", "create", "exported").code)
	require.Equal(t, ExitSuccess, runCLI(t, root, "changeset", "stage", "add", "-c", "exported", "-l", "motivation", "-f", file).code)

	res := runCLI(t, root, "changeset", "export", "exported", "--format", "patch")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "# Changeset: exported")

	target := filepath.Join(out, "exported.json")
	res = runCLI(t, root, "changeset", "export", "exported", "-o", target)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.FileExists(t, target)

	res = runCLI(t, root, "changeset", "import", target)
	assert.Equal(t, ExitError, res.code)
	assert.Contains(t, res.stderr, "already exists")

	res = runCLI(t, root, "changeset", "delete", "exported")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res = runCLI(t, root, "--json", "changeset", "import", target)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.EqualValues(t, 1, res.data(t)["stats"].(map[string]any)["additions"])

	res = runCLI(t, root, "changeset", "compat", "exported")
	assert.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "is compatible")
}

func TestCLI_Errors(t *testing.T) {
	root := newModelRoot(t)

	res := runCLI(t, root, "changeset", "show")
	assert.Equal(t, ExitError, res.code)
	assert.Contains(t, res.stderr, "no active changeset")

	res = runCLI(t, root, "--json", "changeset", "show", "missing")
	assert.Equal(t, ExitError, res.code)
	env := res.envelope(t)
	assert.Equal(t, false, env["success"])
	assert.Contains(t, env["error"], "not found")

	res = runCLI(t, root, "changeset", "commit", "missing", "--mode", "sometimes")
	assert.Equal(t, ExitError, res.code)
}
