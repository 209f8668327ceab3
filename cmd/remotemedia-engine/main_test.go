// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
)

const linearManifestJSON = `{
  "version": "v1",
  "metadata": {"name": "cli-test", "created_at": "2024-01-01T00:00:00Z"},
  "nodes": [
    {"id": "mul", "node_type": "Multiply", "params": {"factor": 2}},
    {"id": "add", "node_type": "Add", "params": {"addend": 10}}
  ],
  "connections": [
    {"from": "mul", "to": "add"}
  ]
}`

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("").String())
}

func TestLoadEngineConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := loadEngineConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEngineConfigReadsFile(t *testing.T) {
	path := writeTemp(t, "config.yaml", "log_level: debug\nipc_root: /tmp/rm\n")
	cfg, err := loadEngineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestSessionIDFallsBackWhenMetadataNameEmpty(t *testing.T) {
	m, err := manifest.Parse([]byte(linearManifestJSON))
	require.NoError(t, err)
	m.Metadata.Name = ""

	id := sessionID(m)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "fallback session id must be a valid UUID")
}

func TestSessionIDFallsBackToDistinctIDsAcrossCalls(t *testing.T) {
	m, err := manifest.Parse([]byte(linearManifestJSON))
	require.NoError(t, err)
	m.Metadata.Name = ""

	assert.NotEqual(t, sessionID(m), sessionID(m))
}

func TestSessionIDUsesMetadataName(t *testing.T) {
	m, err := manifest.Parse([]byte(linearManifestJSON))
	require.NoError(t, err)
	assert.Equal(t, "cli-test", sessionID(m))
}

func TestReadInputsParsesJSONArray(t *testing.T) {
	path := writeTemp(t, "input.json", `[1, 2, 3]`)
	items, err := readInputs("s1", path)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestReadInputsRejectsNonArray(t *testing.T) {
	path := writeTemp(t, "input.json", `{"not": "an array"}`)
	_, err := readInputs("s1", path)
	assert.Error(t, err)
}

func TestRunRejectsMissingManifestFlag(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "missing.yaml"), "", "", false, "", "", "")
	assert.Error(t, err)
}

func TestRunExecutesManifestAndPrintsJSON(t *testing.T) {
	manifestPath := writeTemp(t, "manifest.json", linearManifestJSON)

	stdout := captureStdout(t, func() {
		err := run(filepath.Join(t.TempDir(), "missing.yaml"), manifestPath, "", false, "error", "", "")
		require.NoError(t, err)
	})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	assert.Contains(t, decoded, "Outputs")
}

func TestRunSaveConfigBacksUpExistingFile(t *testing.T) {
	manifestPath := writeTemp(t, "manifest.json", linearManifestJSON)
	dir := t.TempDir()
	savePath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(savePath, []byte("log_level: warn\n"), 0o600))

	_ = captureStdout(t, func() {
		err := run(filepath.Join(t.TempDir(), "missing.yaml"), manifestPath, "", false, "error", "", savePath)
		require.NoError(t, err)
	})

	raw, err := os.ReadFile(savePath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "log_level: error")

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "config.yaml.")
}
