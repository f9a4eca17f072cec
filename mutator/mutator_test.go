package mutator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/memstore"
	"github.com/c360/graphdb/schema"
)

func newMutator(t *testing.T, store graph.Store) *Mutator {
	t.Helper()
	m, err := New(Dependencies{Store: store})
	require.NoError(t, err)
	return m
}

// flakyStore fails EnsureEdge while failEdges is set.
type flakyStore struct {
	graph.Store
	failEdges atomic.Bool
}

var errStoreDown = stderrors.New("store unavailable")

func (f *flakyStore) EnsureEdge(ctx context.Context, from, to, label string, props graph.Properties) (string, bool, error) {
	if f.failEdges.Load() {
		return "", false, errStoreDown
	}
	return f.Store.EnsureEdge(ctx, from, to, label, props)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUpsertConceptVertex(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newMutator(t, store)

	props := graph.Properties{graph.P("ShortName", graph.StringValue("X"))}
	first, err := m.UpsertConceptVertex(ctx, "Grid", props, "X100000001-PROV1")
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := m.UpsertConceptVertex(ctx, "Grid", props, "X100000001-PROV1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	v, err := store.GetVertex(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grid", v.Label)
	assert.Equal(t, "X100000001-PROV1", v.ConceptID())
	assert.Equal(t, []string{"id", "ShortName"}, v.Properties.Names())

	_, err = m.UpsertConceptVertex(ctx, "Grid", props, "")
	var gme *errors.GraphMutationError
	require.ErrorAs(t, err, &gme)
	assert.True(t, errors.IsInvalid(err))
}

func TestUpsertSubVertexKeys(t *testing.T) {
	ctx := context.Background()
	m := newMutator(t, memstore.New())

	terra := graph.Properties{
		graph.P("ShortName", graph.StringValue("Terra")),
		graph.P("Type", graph.StringValue("Satellite")),
	}

	t.Run("first property is the default key", func(t *testing.T) {
		a, err := m.UpsertSubVertex(ctx, "Platform", terra, "")
		require.NoError(t, err)
		other := graph.Properties{
			graph.P("ShortName", graph.StringValue("Terra")),
			graph.P("Type", graph.StringValue("Something else")),
		}
		b, err := m.UpsertSubVertex(ctx, "Platform", other, "")
		require.NoError(t, err)
		assert.Equal(t, a.ID, b.ID)
		assert.False(t, b.Created)
	})

	t.Run("explicit key property", func(t *testing.T) {
		a, err := m.UpsertSubVertex(ctx, "Instrument", terra, "Type")
		require.NoError(t, err)
		b, err := m.UpsertSubVertex(ctx, "Instrument", graph.Properties{
			graph.P("ShortName", graph.StringValue("Aqua")),
			graph.P("Type", graph.StringValue("Satellite")),
		}, "Type")
		require.NoError(t, err)
		assert.Equal(t, a.ID, b.ID)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := m.UpsertSubVertex(ctx, "Instrument", terra, "Serial")
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))

		_, err = m.UpsertSubVertex(ctx, "Instrument", nil, "")
		require.Error(t, err)
	})
}

func TestUpsertEdgeDirection(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newMutator(t, store)

	a, err := m.UpsertConceptVertex(ctx, "A", nil, "a")
	require.NoError(t, err)
	b, err := m.UpsertConceptVertex(ctx, "B", nil, "b")
	require.NoError(t, err)

	e1, err := m.UpsertEdge(ctx, a.ID, b.ID, "X", nil)
	require.NoError(t, err)
	assert.True(t, e1.Created)

	fromB, err := store.OutEdges(ctx, b.ID, "X")
	require.NoError(t, err)
	require.Len(t, fromB, 1)
	assert.Equal(t, b.ID, fromB[0].From)
	assert.Equal(t, a.ID, fromB[0].To)

	fromA, err := store.OutEdges(ctx, a.ID, "X")
	require.NoError(t, err)
	assert.Empty(t, fromA)

	e2, err := m.UpsertEdge(ctx, a.ID, b.ID, "X", nil)
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.False(t, e2.Created)

	_, err = m.UpsertEdge(ctx, "", b.ID, "X", nil)
	assert.Error(t, err)
}

func planFor(t *testing.T, index, doc string) *schema.Plan {
	t.Helper()
	idx, err := schema.Parse([]byte(index))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &m))
	plan, err := schema.MustCompile(idx).Interpret(context.Background(), m)
	require.NoError(t, err)
	return plan
}

const platformIndex = `[
  {"Name":"ShortName","Type":"graph","Indexer":"property","Field":".ShortName"},
  {"Name":"Platform","Type":"graph","Indexer":"separate-node","Field":".Platforms",
   "Configuration":{"properties":["ShortName","Type"],"relationship":"AcquiredBy","relationshipProperties":["Type"]}}
]`

const collectionDoc = `{
  "MetadataSpecification":{"Name":"Collection"},
  "ShortName":"MODIS",
  "Platforms":[{"ShortName":"Terra","Type":"Sat"},{"ShortName":"Aqua","Type":"Sat"},{"ShortName":"Terra","Type":"Sat"}]
}`

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newMutator(t, store)
	plan := planFor(t, platformIndex, collectionDoc)

	first, err := m.Apply(ctx, plan, "C1-PROV")
	require.NoError(t, err)
	assert.True(t, first.Changed())
	require.Len(t, first.Children, 3)
	assert.Equal(t, first.Children[0].ID, first.Children[2].ID, "repeated child dedupes on key")
	assert.Len(t, first.CreatedEdgeIDs(), 2)

	vertices, edges := store.Stats()
	assert.Equal(t, 3, vertices)
	assert.Equal(t, 2, edges)

	second, err := m.Apply(ctx, plan, "C1-PROV")
	require.NoError(t, err)
	assert.False(t, second.Changed())
	assert.Equal(t, first.Vertex.ID, second.Vertex.ID)

	vertices2, edges2 := store.Stats()
	assert.Equal(t, vertices, vertices2)
	assert.Equal(t, edges, edges2)

	out, err := store.OutEdges(ctx, first.Vertex.ID, "AcquiredBy")
	require.NoError(t, err)
	require.Len(t, out, 2)
	typ, ok := out[0].Properties.Get("Type")
	require.True(t, ok)
	assert.Equal(t, "Sat", typ.Str())
}

func TestApplyFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	store := &flakyStore{Store: mem}
	m := newMutator(t, store)
	plan := planFor(t, platformIndex, collectionDoc)

	store.failEdges.Store(true)
	_, err := m.Apply(ctx, plan, "C1-PROV")
	require.Error(t, err)
	var gme *errors.GraphMutationError
	require.ErrorAs(t, err, &gme)
	assert.Equal(t, "UpsertEdge", gme.Op)
	assert.ErrorIs(t, err, errStoreDown)
	assert.True(t, errors.IsTransient(err))

	store.failEdges.Store(false)
	res, err := m.Apply(ctx, plan, "C1-PROV")
	require.NoError(t, err)
	assert.False(t, res.Vertex.Created, "document vertex survived the failed run")

	vertices, edges := mem.Stats()
	assert.Equal(t, 3, vertices)
	assert.Equal(t, 2, edges)
}

func TestApplyEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newMutator(t, store)
	plan := planFor(t,
		`[{"Name":"ShortName","Type":"graph","Indexer":"property","Field":".ShortName"}]`,
		`{"MetadataSpecification":{"Name":"Grid"},"ShortName":"X"}`)

	res, err := m.Apply(ctx, plan, "X100000001-PROV1")
	require.NoError(t, err)

	grids, err := store.FindVertices(ctx, "Grid")
	require.NoError(t, err)
	require.Len(t, grids, 1)
	assert.Equal(t, res.Vertex.ID, grids[0].ID)
	assert.Equal(t, "X100000001-PROV1", grids[0].ConceptID())
	short, _ := grids[0].Properties.Get("ShortName")
	assert.Equal(t, "X", short.Str())

	again, err := m.Apply(ctx, plan, "X100000001-PROV1")
	require.NoError(t, err)
	assert.Equal(t, res.Vertex.ID, again.Vertex.ID)
	n, err := store.CountVertices(ctx, "Grid")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
