package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triple = `<https://ex.org/a> <https://ex.org/p> "x"`

func writeVault(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	workspaceRoot, configPath, logLevel, logFormat = "", "", "", ""
	planText, planFrom = "", ""
	queryJSON = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sampleVault(t *testing.T) string {
	return writeVault(t, map[string]string{
		"data.md":              "# Data\n```turtle\n" + triple + " .\n```\n",
		"q.md":                 "```sparql\nSELECT * FROM <vault://data.md> WHERE { ?s ?p ?o }\n```\n",
		".obsidian/ignored.md": "```turtle\n<https://ex.org/hidden> <https://ex.org/p> 1 .\n```\n",
	})
}

func TestGraphCommand(t *testing.T) {
	dir := sampleVault(t)

	out, err := run(t, "graph", "vault://data.md", "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, triple)

	out, err = run(t, "graph", "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, triple)
	assert.NotContains(t, out, "hidden")

	_, err = run(t, "graph", "data.md", "--workspace", dir)
	assert.Error(t, err)
}

func TestPlanCommand(t *testing.T) {
	dir := sampleVault(t)

	out, err := run(t, "plan", "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "q.md#0")

	out, err = run(t, "plan", "q.md#0", "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "vault://data.md")

	_, err = run(t, "plan", "nope.md#0", "--workspace", dir)
	assert.Error(t, err)

	out, err = run(t, "plan", "--workspace", dir, "--query", "SELECT * FROM NAMED <vault://> WHERE {}", "--from", "q.md")
	require.NoError(t, err)
	assert.Contains(t, out, "FROM NAMED")
}

func TestQueryCommand(t *testing.T) {
	dir := sampleVault(t)

	out, err := run(t, "query", "q.md#0", "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, triple)

	out, err = run(t, "query", "q.md#0", "--workspace", dir, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "quads")

	_, err = run(t, "query", "missing.md#0", "--workspace", dir)
	assert.Error(t, err)
}

func TestCheckCommand(t *testing.T) {
	out, err := run(t, "check", "--workspace", sampleVault(t))
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	broken := writeVault(t, map[string]string{
		"bad.md": "```turtle\n<https://ex.org/a> <https://ex.org/p> .\n```\n",
	})
	out, err = run(t, "check", "--workspace", broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 problem(s)")
	assert.Contains(t, out, "bad.md:")
}

func TestExportCommand(t *testing.T) {
	dir := sampleVault(t)
	db := filepath.Join(t.TempDir(), "out.db")

	out, err := run(t, "export", db, "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 2 graph(s)")
	assert.FileExists(t, db)

	out, err = run(t, "export", db, "vault://data.md", "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 1 graph(s)")
}

func TestWorkspaceConfigFile(t *testing.T) {
	dir := writeVault(t, map[string]string{
		".vaultgraph.yaml": "workspace:\n  include:\n    - \"notes/**\"\n",
		"notes/a.md":       "```turtle\n" + triple + " .\n```\n",
		"other.md":         "```turtle\n<https://ex.org/other> <https://ex.org/p> 1 .\n```\n",
	})

	out, err := run(t, "graph", "--workspace", dir)
	require.NoError(t, err)
	assert.Contains(t, out, triple)
	assert.NotContains(t, out, "ex.org/other")
}
