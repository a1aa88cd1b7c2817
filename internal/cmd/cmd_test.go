package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rand/docgraph/internal/diagnostics"
	"github.com/rand/docgraph/internal/graphdoc"
	"github.com/rand/docgraph/internal/journal"
	"github.com/rand/docgraph/internal/triplestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personYAML = `
nodes:
  - {uri: "urn:R", type: root}
  - {uri: "urn:B1", type: branch}
  - {uri: "urn:B2", type: branch}
  - {uri: "urn:L1", type: leaf, properties: {value: Alice}}
edges:
  - {uri: "urn:R-B1", type: root_branch, source: "urn:R", destination: "urn:B1"}
  - {uri: "urn:R-B2", type: root_branch, source: "urn:R", destination: "urn:B2"}
  - {uri: "urn:B1-L1", type: branch_leaf, source: "urn:B1", destination: "urn:L1"}
`

const personJSON = `{
  "nodes": [
    {"uri": "urn:R", "type": "root"},
    {"uri": "urn:B1", "type": "branch"},
    {"uri": "urn:L1", "type": "leaf", "properties": {"value": "Bob"}}
  ],
  "edges": [
    {"uri": "urn:R-B1", "type": "root_branch", "source": "urn:R", "destination": "urn:B1"},
    {"uri": "urn:B1-L1", "type": "branch_leaf", "source": "urn:B1", "destination": "urn:L1"}
  ]
}`

type env struct {
	dir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := "scope: test\n" +
		"store:\n  backend: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "store.db") + "\n" +
		"log:\n  level: error\n" +
		"metrics:\n  textfile: " + filepath.Join(dir, "docgraph.prom") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docgraph.yaml"), []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "person.yaml"), []byte(personYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "person.json"), []byte(personJSON), 0o644))
	return &env{dir: dir}
}

func (e *env) path(name string) string { return filepath.Join(e.dir, name) }

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", e.path("docgraph.yaml"), "--env-file", ""}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestDocLifecycle(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "doc", "create", e.path("person.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "created urn:R: 4 nodes, 3 edges")

	out, err = e.run(t, "doc", "create", e.path("person.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "failed conflict")

	out, err = e.run(t, "doc", "get", "urn:R")
	require.NoError(t, err)
	var doc graphdoc.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.Nodes, 4)
	assert.Len(t, doc.Edges, 3)

	out, err = e.run(t, "doc", "upsert", e.path("person.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "upserted urn:R: 3 nodes, 2 edges")
	assert.Contains(t, out, "journal entry:")

	out, err = e.run(t, "journal", "list", "--json")
	require.NoError(t, err)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusCommitted, entries[0].Status)
	assert.Equal(t, "upsert", entries[0].Operation)
	assert.Nil(t, entries[0].Snapshot)

	out, err = e.run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "no drift found")

	out, err = e.run(t, "doc", "delete", "urn:R", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "deleted"`)

	_, err = e.run(t, "doc", "get", "urn:R")
	assert.Error(t, err)

	metrics, err := os.ReadFile(e.path("docgraph.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "docgraph_operations_total")
}

func TestDocUpdate_NotFound(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "doc", "update", e.path("person.json"))
	require.Error(t, err)
	assert.Contains(t, out, "failed not_found")
}

func TestRepair(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "doc", "create", e.path("person.yaml"))
	require.NoError(t, err)

	store, err := triplestore.NewSQLiteStore(triplestore.SQLiteOptions{Path: e.path("store.db")})
	require.NoError(t, err)
	require.NoError(t, store.DeleteTriples(t.Context(), "test", []string{"urn:B1"}))
	require.NoError(t, store.Close())

	out, err := e.run(t, "repair", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dangling_edges (2)")
	assert.Contains(t, out, "would delete 3 element(s)")

	out, err = e.run(t, "repair")
	require.NoError(t, err)
	assert.Contains(t, out, "pass 1: deleted 3")
	assert.Contains(t, out, "scope is clean")

	out, err = e.run(t, "scan", "--json")
	require.NoError(t, err)
	var report diagnostics.DriftReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Clean())
	assert.Equal(t, "test", report.Scope)
}

func TestJournalRecover_Unknown(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "journal", "recover", "nope")
	require.Error(t, err)
	assert.Contains(t, out, "failed not_found")
}

func TestScopeFlag(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "doc", "create", e.path("person.yaml"), "--scope", "other")
	require.NoError(t, err)

	_, err = e.run(t, "doc", "get", "urn:R")
	assert.Error(t, err)
	_, err = e.run(t, "doc", "get", "urn:R", "--scope", "other")
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	e := newEnv(t)
	t.Setenv("DOCGRAPH_STORE_NEO4J_PASSWORD", "s3cret")

	out, err := e.run(t, "config", "show", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: sqlite")
	assert.Contains(t, out, "scope: test")
	assert.NotContains(t, out, "s3cret")

	out, err = e.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Backend:        sqlite")
}

func TestParseDocument(t *testing.T) {
	fromYAML, err := parseDocument([]byte(personYAML), ".yaml")
	require.NoError(t, err)
	assert.Len(t, fromYAML.Nodes, 4)
	assert.Equal(t, graphdoc.EdgeBranchLeaf, fromYAML.Edges[2].Type)

	fromJSON, err := parseDocument([]byte(personJSON), ".json")
	require.NoError(t, err)
	asYAML, err := parseDocument([]byte(personJSON), ".yml")
	require.NoError(t, err)
	assert.Equal(t, fromJSON, asYAML)

	_, err = parseDocument([]byte("{nodes: ["), ".json")
	assert.Error(t, err)
}
