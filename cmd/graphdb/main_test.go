package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIndexYAML = `
- Name: ShortName
  Type: graph
  Indexer: property
  Field: .ShortName
- Name: Organization
  Type: graph
  Indexer: separate-node
  Field: .Organizations[]
  Configuration:
    properties: [ShortName]
    relationship: PublishedBy
`

const testDoc = `{
	"MetadataSpecification": {"Name": "Grid"},
	"ShortName": "X",
	"Organizations": [{"ShortName": "NASA"}]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestValidateIndex(t *testing.T) {
	index := writeFile(t, "index.yaml", testIndexYAML)
	sample := writeFile(t, "doc.json", testDoc)

	out, _, err := runCLI(t, "validate-index", index, "--sample", sample)
	require.NoError(t, err)

	var report struct {
		Valid        bool `json:"valid"`
		GraphEntries int  `json:"graph_entries"`
		Samples      int  `json:"samples"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.GraphEntries)
	assert.Equal(t, 1, report.Samples)
}

func TestValidateIndex_Invalid(t *testing.T) {
	index := writeFile(t, "index.json", `[{"Name": "", "Type": "graph", "Field": ".x"}]`)
	_, _, err := runCLI(t, "validate-index", index)
	require.Error(t, err)
}

func TestIngest(t *testing.T) {
	index := writeFile(t, "index.yaml", testIndexYAML)
	doc := writeFile(t, "doc.json", testDoc)

	out, _, err := runCLI(t, "ingest", doc, "--concept-id", "G1", "--index", index)
	require.NoError(t, err)

	var res struct {
		Status         string   `json:"status"`
		ConceptID      string   `json:"concept_id"`
		Label          string   `json:"label"`
		ChildVertexIDs []string `json:"child_vertex_ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "created", res.Status)
	assert.Equal(t, "G1", res.ConceptID)
	assert.Equal(t, "Grid", res.Label)
	assert.Len(t, res.ChildVertexIDs, 1)
}

func TestIngest_RequiresConceptID(t *testing.T) {
	doc := writeFile(t, "doc.json", testDoc)
	_, _, err := runCLI(t, "ingest", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concept-id")
}

func TestIngest_IndexFromConfig(t *testing.T) {
	index := writeFile(t, "index.yaml", testIndexYAML)
	doc := writeFile(t, "doc.json", testDoc)
	t.Setenv("GRAPHDB_INDEX_PATH", index)

	_, _, err := runCLI(t, "ingest", doc, "--concept-id", "G1")
	require.NoError(t, err)
}

func TestBootstrap_StopsAtFirstFailure(t *testing.T) {
	index := writeFile(t, "index.yaml", testIndexYAML)
	records := writeFile(t, "results.json", `[
		{"meta": {"concept-id": "G1"}, "umm": `+testDoc+`},
		{"meta": {}, "umm": `+testDoc+`},
		{"meta": {"concept-id": "G3"}, "umm": `+testDoc+`}
	]`)

	out, _, err := runCLI(t, "bootstrap", records, "--index", index)
	require.Error(t, err)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "G1", results[0]["concept_id"])
}

func TestACL(t *testing.T) {
	doc := writeFile(t, "acl.json",
		`{"conceptId": "ACL1", "group_permissions": [{"group_id": "g1", "permissions": ["read"]}]}`)

	out, _, err := runCLI(t, "acl", doc)
	require.NoError(t, err)

	var res struct {
		ACL struct {
			Created bool `json:"created"`
		} `json:"acl"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.ACL.Created)
}

func TestQuery(t *testing.T) {
	out, _, err := runCLI(t, "query", "--op", "count", "--label", "Grid")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "count", res["op"])
	assert.Equal(t, 0.0, res["count"])
}

func TestQuery_InvalidDescriptor(t *testing.T) {
	_, _, err := runCLI(t, "query", "--op", "related", "--label", "Grid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "property and value")
}

func TestQueryFlags_Descriptor(t *testing.T) {
	f := &queryFlags{op: "path", from: "G1", toProperty: "ShortName", toValue: "NASA", maxHops: 3}
	d := f.descriptor()
	assert.Equal(t, "path", string(d.Op))
	assert.Equal(t, "ShortName", d.To.Property)
	assert.Equal(t, "NASA", d.To.Value.Str())
	assert.False(t, d.Value.IsValid())
	assert.Equal(t, 3, d.MaxHops)
}

func TestInvalidLogLevel(t *testing.T) {
	_, _, err := runCLI(t, "--log-level", "verbose", "query", "--op", "count", "--label", "Grid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLogsGoToStderr(t *testing.T) {
	out, errOut, err := runCLI(t, "--log-level", "debug", "--log-format", "text",
		"query", "--op", "count", "--label", "Grid")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Configuration loaded")
	assert.NotContains(t, out, "Configuration loaded")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("GRAPHDB_STORE_BACKEND", "cassandra")
	_, _, err := runCLI(t, "query", "--op", "count", "--label", "Grid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger("info", "json", &buf)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, appName, line["service"])
	assert.Equal(t, Version, line["version"])
}
