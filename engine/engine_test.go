package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphdb/acl"
	"github.com/c360/graphdb/auth"
	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/memstore"
	"github.com/c360/graphdb/graph/query"
	"github.com/c360/graphdb/metric"
	"github.com/c360/graphdb/schema"
)

const gridIndex = `[
	{"Name": "ShortName", "Type": "graph", "Indexer": "property", "Field": ".ShortName"},
	{"Name": "Version", "Type": "graph", "Indexer": "property", "Field": ".Version"},
	{"Name": "Organization", "Type": "graph", "Indexer": "separate-node", "Field": ".Organizations[]",
	 "Configuration": {"properties": ["ShortName", "LongName"], "relationship": "PublishedBy",
	                   "relationshipProperties": ["Roles"]}},
	{"Name": "Abstract", "Type": "search", "Field": ".Abstract"}
]`

func gridDoc(t *testing.T, orgs ...string) map[string]any {
	t.Helper()
	list := make([]any, len(orgs))
	for i, o := range orgs {
		list[i] = map[string]any{"ShortName": o, "LongName": o + " long", "Roles": []any{"PUBLISHER"}}
	}
	return map[string]any{
		"MetadataSpecification": map[string]any{"Name": "Grid"},
		"ShortName":             "X",
		"Organizations":         list,
	}
}

func newEngine(t *testing.T, registry *metric.MetricsRegistry) (*Engine, *memstore.Store, *schema.Index) {
	t.Helper()
	store := memstore.New(memstore.WithIDGenerator(memstore.SequentialIDs("v")))
	eng, err := New(Dependencies{Store: store, Metrics: registry, Token: auth.NewCached(auth.Static("secret"))})
	require.NoError(t, err)
	idx, err := schema.Parse([]byte(gridIndex))
	require.NoError(t, err)
	return eng, store, idx
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestIngestScalarDocument(t *testing.T) {
	eng, store, _ := newEngine(t, nil)
	ctx := context.Background()

	idx, err := schema.Parse([]byte(`[{"Name":"ShortName","Type":"graph","Indexer":"property","Field":".ShortName"}]`))
	require.NoError(t, err)
	doc := map[string]any{"MetadataSpecification": map[string]any{"Name": "Grid"}, "ShortName": "X"}

	first, err := eng.Ingest(ctx, doc, idx, "X100000001-PROV1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, first.Status)
	assert.Equal(t, "Grid", first.Label)
	assert.Empty(t, first.EdgeIDs)

	v, err := store.GetVertex(ctx, first.VertexID)
	require.NoError(t, err)
	assert.Equal(t, "Grid", v.Label)
	assert.Equal(t, "X100000001-PROV1", v.ConceptID())
	name, _ := v.Properties.Get("ShortName")
	assert.Equal(t, "X", name.Str())

	second, err := eng.Ingest(ctx, doc, idx, "X100000001-PROV1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, second.Status)
	assert.Equal(t, first.VertexID, second.VertexID)

	vertices, _ := store.Stats()
	assert.Equal(t, 1, vertices)
}

func TestIngestWithChildren(t *testing.T) {
	eng, store, idx := newEngine(t, nil)
	ctx := context.Background()

	first, err := eng.Ingest(ctx, gridDoc(t, "NASA", "ESA"), idx, "G1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, first.Status)
	assert.Len(t, first.ChildVertexIDs, 2)
	assert.Len(t, first.EdgeIDs, 2)

	edges, err := store.OutEdges(ctx, first.VertexID, "PublishedBy")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	roles, ok := edges[0].Properties.Get("Roles")
	require.True(t, ok)
	assert.Equal(t, []string{"PUBLISHER"}, roles.List())

	again, err := eng.Ingest(ctx, gridDoc(t, "NASA", "ESA"), idx, "G1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, again.Status)
	assert.Equal(t, first.ChildVertexIDs, again.ChildVertexIDs)
	assert.Empty(t, again.EdgeIDs)

	grown, err := eng.Ingest(ctx, gridDoc(t, "NASA", "ESA", "JAXA"), idx, "G1")
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, grown.Status)
	assert.Len(t, grown.EdgeIDs, 1)

	vertices, edgeCount := store.Stats()
	assert.Equal(t, 4, vertices)
	assert.Equal(t, 3, edgeCount)
}

func TestIngestSharesChildVertices(t *testing.T) {
	eng, store, idx := newEngine(t, nil)
	ctx := context.Background()

	a, err := eng.Ingest(ctx, gridDoc(t, "NASA"), idx, "G1")
	require.NoError(t, err)
	b, err := eng.Ingest(ctx, gridDoc(t, "NASA"), idx, "G2")
	require.NoError(t, err)

	assert.Equal(t, a.ChildVertexIDs, b.ChildVertexIDs)
	vertices, edges := store.Stats()
	assert.Equal(t, 3, vertices)
	assert.Equal(t, 2, edges)
}

func TestIngestFailures(t *testing.T) {
	eng, _, idx := newEngine(t, nil)
	ctx := context.Background()

	_, err := eng.Ingest(ctx, gridDoc(t), idx, "")
	assert.True(t, errors.IsInvalid(err))

	_, err = eng.Ingest(ctx, gridDoc(t), nil, "G1")
	assert.True(t, errors.IsInvalid(err))

	_, err = eng.Ingest(ctx, map[string]any{"ShortName": "X"}, idx, "G1")
	assert.True(t, errors.IsSchemaEvaluation(err))
}

func TestInterpreterIsCompiledOnce(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	eng, _, idx := newEngine(t, registry)
	ctx := context.Background()

	_, err := eng.Ingest(ctx, gridDoc(t, "NASA"), idx, "G1")
	require.NoError(t, err)
	_, err = eng.Ingest(ctx, gridDoc(t, "ESA"), idx, "G2")
	require.NoError(t, err)

	assert.Len(t, eng.interpreters, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(eng.em.compiledIndexes))
	assert.Equal(t, float64(2), testutil.ToFloat64(registry.Metrics.Ingests.WithLabelValues(StatusCreated)))
}

func TestInterpreterCacheFollowsIndexContent(t *testing.T) {
	eng, store, idx := newEngine(t, nil)
	ctx := context.Background()

	again, err := schema.Parse([]byte(gridIndex))
	require.NoError(t, err)
	_, err = eng.Ingest(ctx, gridDoc(t, "NASA"), idx, "G1")
	require.NoError(t, err)
	_, err = eng.Ingest(ctx, gridDoc(t, "NASA"), again, "G1")
	require.NoError(t, err)
	assert.Len(t, eng.interpreters, 1)

	// A changed index is compiled again rather than served from the cache.
	idx.Indexes[2].Configuration.Relationship = "OwnedBy"
	_, err = eng.Ingest(ctx, gridDoc(t, "ESA"), idx, "G2")
	require.NoError(t, err)
	assert.Len(t, eng.interpreters, 2)

	g2, err := store.FindVertices(ctx, "Grid", graph.Has(graph.ConceptIDProperty, graph.StringValue("G2")))
	require.NoError(t, err)
	require.Len(t, g2, 1)
	owned, err := store.OutEdges(ctx, g2[0].ID, "OwnedBy")
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestIngestBatch(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	eng, _, idx := newEngine(t, registry)
	ctx := context.Background()

	raw, err := json.Marshal([]map[string]any{
		{"meta": map[string]any{"concept-id": "G1"}, "umm": gridDoc(t, "NASA")},
		{"meta": map[string]any{"concept-id": "G2"}, "umm": gridDoc(t, "NASA")},
	})
	require.NoError(t, err)
	records, err := ParseSearchResults(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)

	results, err := eng.IngestBatch(ctx, records, idx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "G2", results[1].ConceptID)
	assert.Equal(t, float64(2), testutil.ToFloat64(registry.Metrics.Ingests.WithLabelValues(StatusCreated)))
	assert.Equal(t, float64(2), testutil.ToFloat64(eng.em.batchRecords))
}

func TestIngestBatchStopsAtFirstFailure(t *testing.T) {
	eng, _, idx := newEngine(t, metric.NewMetricsRegistry())
	ctx := context.Background()

	records := make([]SearchResult, 3)
	records[0].Meta.ConceptID, records[0].UMM = "G1", gridDoc(t, "NASA")
	records[1].UMM = gridDoc(t, "ESA")
	records[2].Meta.ConceptID, records[2].UMM = "G3", gridDoc(t, "JAXA")

	results, err := eng.IngestBatch(ctx, records, idx)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Len(t, results, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(eng.em.batchFailures))
}

func TestIndexACLAndQuery(t *testing.T) {
	eng, _, idx := newEngine(t, nil)
	ctx := context.Background()

	grid, err := eng.Ingest(ctx, gridDoc(t, "NASA"), idx, "G1")
	require.NoError(t, err)
	require.NoError(t, eng.TagResource(ctx, "Grid", "G1", []string{"g1"}))

	res, err := eng.IndexACL(ctx, &acl.Document{
		ConceptID:        "ACL1",
		GroupPermissions: []acl.GroupPermission{{GroupID: "g1", Permissions: []string{acl.Read}}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Edges, 1)

	visible, err := eng.Query(ctx, query.Descriptor{Op: query.OpFind, Label: "Grid"}, []string{"g1"})
	require.NoError(t, err)
	require.Len(t, visible.Vertices, 1)
	assert.Equal(t, grid.VertexID, visible.Vertices[0].ID)

	hidden, err := eng.Query(ctx, query.Descriptor{Op: query.OpFind, Label: "Grid"}, []string{"g2"})
	require.NoError(t, err)
	assert.Empty(t, hidden.Vertices)

	_, err = eng.Query(ctx, query.Descriptor{Op: query.OpRelated, Label: "Grid",
		Property: graph.ConceptIDProperty, Value: graph.StringValue("G1"), EdgeLabel: "PublishedBy"}, []string{"g2"})
	assert.True(t, errors.IsAclViolation(err))
}

func TestToken(t *testing.T) {
	eng, _, _ := newEngine(t, nil)
	tok, err := eng.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", tok)
	eng.InvalidateToken()

	bare, err := New(Dependencies{Store: memstore.New()})
	require.NoError(t, err)
	_, err = bare.Token(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

func TestValidateIndex(t *testing.T) {
	idx, err := schema.Parse([]byte(gridIndex))
	require.NoError(t, err)

	res, err := ValidateIndex(context.Background(), idx, gridDoc(t, "NASA"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 4, res.Entries)
	assert.Equal(t, 3, res.GraphEntries)

	entries := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		entries = append(entries, w.Entry)
	}
	assert.ElementsMatch(t, []string{"Abstract", "Version"}, entries)

	bad, err := ValidateIndex(context.Background(), idx, map[string]any{"ShortName": "X"})
	require.NoError(t, err)
	assert.False(t, bad.Valid)
	require.Len(t, bad.Errors, 1)
	assert.Equal(t, 1, bad.Errors[0].Sample)
}
