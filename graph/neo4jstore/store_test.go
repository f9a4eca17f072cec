package neo4jstore

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
)

type call struct {
	cypher string
	params map[string]any
	write  bool
}

// scriptedRunner answers statements in order and records them.
type scriptedRunner struct {
	calls   []call
	results []*neo4j.EagerResult
	errs    []error
}

func (r *scriptedRunner) run(_ context.Context, cypher string, params map[string]any, write bool) (*neo4j.EagerResult, error) {
	r.calls = append(r.calls, call{cypher, params, write})
	i := len(r.calls) - 1
	var err error
	if i < len(r.errs) {
		err = r.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(r.results) && r.results[i] != nil {
		return r.results[i], nil
	}
	return &neo4j.EagerResult{}, nil
}

func records(keys []string, rows ...[]any) *neo4j.EagerResult {
	res := &neo4j.EagerResult{Keys: keys}
	for _, row := range rows {
		res.Records = append(res.Records, &neo4j.Record{Keys: keys, Values: row})
	}
	return res
}

func newScripted(results ...*neo4j.EagerResult) (*Store, *scriptedRunner) {
	r := &scriptedRunner{results: results}
	return NewWithRunner(r.run, WithIDGenerator(func() string { return "new-id" })), r
}

func TestEnsureVertex(t *testing.T) {
	s, r := newScripted(records([]string{"id", "created"}, []any{"new-id", true}))

	key := graph.P(graph.ConceptIDProperty, graph.StringValue("G1"))
	id, created, err := s.EnsureVertex(context.Background(), "Grid", key,
		graph.Properties{graph.P("ShortName", graph.StringValue("X"))})
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
	assert.True(t, created)

	require.Len(t, r.calls, 1)
	c := r.calls[0]
	assert.True(t, c.write)
	assert.Contains(t, c.cypher, "MERGE (v:GraphVertex {identity: $identity})")
	assert.Equal(t, "Grid", c.params["label"])
	assert.Equal(t, "G1", c.params["conceptId"])
	assert.Equal(t, identity("Grid", key), c.params["identity"])
	assert.JSONEq(t, `{"id":"G1","ShortName":"X"}`, c.params["props"].(string))
}

func TestEnsureVertex_NonConceptKey(t *testing.T) {
	s, r := newScripted(records([]string{"id", "created"}, []any{"v1", false}))

	id, created, err := s.EnsureVertex(context.Background(), "Organization",
		graph.P("ShortName", graph.StringValue("NASA")), nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", id)
	assert.False(t, created)
	assert.Nil(t, r.calls[0].params["conceptId"])
}

func TestEnsureVertex_Invalid(t *testing.T) {
	s, r := newScripted()
	_, _, err := s.EnsureVertex(context.Background(), "", graph.P("id", graph.StringValue("x")), nil)
	assert.ErrorIs(t, err, graph.ErrInvalidLabel)
	_, _, err = s.EnsureVertex(context.Background(), "Grid", graph.Property{}, nil)
	assert.ErrorIs(t, err, graph.ErrInvalidKey)
	assert.Empty(t, r.calls)
}

func TestIdentityDistinguishesLabels(t *testing.T) {
	key := graph.P("ShortName", graph.StringValue("NASA"))
	assert.NotEqual(t, identity("Organization", key), identity("Platform", key))
	assert.Equal(t, identity("Organization", key), identity("Organization", key))

	assert.NotEqual(t,
		identity("Platform", graph.P("Version", graph.NumberValue(1))),
		identity("Platform", graph.P("Version", graph.StringValue("1"))))
	assert.NotEqual(t,
		identity("Platform", graph.P("Roles", graph.ListValue("a,b"))),
		identity("Platform", graph.P("Roles", graph.ListValue("a", "b"))))
}

func TestEnsureEdge(t *testing.T) {
	s, r := newScripted(records([]string{"id", "created"}, []any{"e1", true}))

	id, created, err := s.EnsureEdge(context.Background(), "a", "b", "PublishedBy",
		graph.Properties{graph.P("Roles", graph.ListValue("PUBLISHER"))})
	require.NoError(t, err)
	assert.Equal(t, "e1", id)
	assert.True(t, created)
	assert.Contains(t, r.calls[0].cypher, "MERGE (a)-[r:GRAPH_EDGE {label: $label}]->(b)")
	assert.JSONEq(t, `{"Roles":["PUBLISHER"]}`, r.calls[0].params["props"].(string))
}

func TestEnsureEdge_MissingEndpoint(t *testing.T) {
	s, _ := newScripted(records([]string{"id", "created"}))
	_, _, err := s.EnsureEdge(context.Background(), "a", "missing", "PublishedBy", nil)
	assert.ErrorIs(t, err, graph.ErrVertexNotFound)
}

func TestGetVertex(t *testing.T) {
	keys := []string{"id", "label", "props", "version"}
	s, _ := newScripted(
		records(keys, []any{"v1", "Grid", `{"id":"G1","Groups":["g1"]}`, int64(0)}),
		records(keys),
	)
	ctx := context.Background()

	v, err := s.GetVertex(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Grid", v.Label)
	assert.Equal(t, "G1", v.ConceptID())
	assert.Equal(t, []string{"id", "Groups"}, v.Properties.Names())

	_, err = s.GetVertex(ctx, "v2")
	assert.ErrorIs(t, err, graph.ErrVertexNotFound)
}

func TestSetVertexProperty_RetriesVersionConflict(t *testing.T) {
	keys := []string{"id", "label", "props", "version"}
	s, r := newScripted(
		records(keys, []any{"v1", "Grid", `{"id":"G1"}`, int64(3)}),
		records([]string{"id"}), // lost the race
		records(keys, []any{"v1", "Grid", `{"id":"G1"}`, int64(4)}),
		records([]string{"id"}, []any{"v1"}),
	)

	err := s.SetVertexProperty(context.Background(), "v1", graph.P("Groups", graph.ListValue("g1")))
	require.NoError(t, err)
	require.Len(t, r.calls, 4)
	assert.Equal(t, int64(4), r.calls[3].params["version"])
	assert.JSONEq(t, `{"id":"G1","Groups":["g1"]}`, r.calls[3].params["props"].(string))
}

func TestSetVertexProperty_NotFound(t *testing.T) {
	s, r := newScripted(records([]string{"id", "label", "props", "version"}))
	err := s.SetVertexProperty(context.Background(), "nope", graph.P("Groups", graph.ListValue("g1")))
	assert.ErrorIs(t, err, graph.ErrVertexNotFound)
	assert.Len(t, r.calls, 1)
}

func TestFindVertices(t *testing.T) {
	keys := []string{"id", "label", "props"}
	s, r := newScripted(records(keys,
		[]any{"v1", "Grid", `{"id":"G1","Groups":["g1"]}`},
		[]any{"v2", "Grid", `{"id":"G2"}`},
		[]any{"v3", "Grid", `not json`},
	))

	found, err := s.FindVertices(context.Background(), "Grid", graph.HasAny("Groups", graph.StringValue("g1")))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "v1", found[0].ID)
	assert.Equal(t, map[string]any{"label": "Grid"}, r.calls[0].params)
}

func TestFindVerticesCypher(t *testing.T) {
	cypher, params := findVerticesCypher("", nil)
	assert.NotContains(t, cypher, "WHERE")
	assert.Empty(t, params)

	cid := "G1"
	cypher, params = findVerticesCypher("Grid", &cid)
	assert.Contains(t, cypher, "WHERE v.label = $label AND v.conceptId = $conceptId")
	assert.Equal(t, map[string]any{"label": "Grid", "conceptId": "G1"}, params)
	assert.True(t, strings.HasSuffix(cypher, "ORDER BY id"))
}

func TestFindVertices_PushesDownConceptID(t *testing.T) {
	s, r := newScripted(records([]string{"id", "label", "props"}, []any{"v1", "Grid", `{"id":"G1"}`}))
	found, err := s.FindVertices(context.Background(), "Grid", graph.Has(graph.ConceptIDProperty, graph.StringValue("G1")))
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "G1", r.calls[0].params["conceptId"])
}

func TestOutEdges(t *testing.T) {
	s, r := newScripted(records([]string{"id", "label", "to", "props"},
		[]any{"e1", "PublishedBy", "v2", `{"Roles":["PUBLISHER"]}`},
		[]any{"e2", "PublishedBy", "v3", `{}`},
	))

	edges, err := s.OutEdges(context.Background(), "v1", "PublishedBy")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "v1", edges[0].From)
	assert.Equal(t, "v2", edges[0].To)
	assert.Nil(t, edges[1].Properties)
	assert.Equal(t, "PublishedBy", r.calls[0].params["label"])
	assert.False(t, r.calls[0].write)
}

func TestTransportErrorsAreTransient(t *testing.T) {
	r := &scriptedRunner{errs: []error{stderrors.New("connection reset")}}
	s := NewWithRunner(r.run)
	_, err := s.GetVertex(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestEnsureSchema(t *testing.T) {
	s, r := newScripted()
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Len(t, r.calls, len(schemaStatements))
	for _, c := range r.calls {
		assert.True(t, c.write)
		assert.Contains(t, c.cypher, "IF NOT EXISTS")
	}
}

func TestOpenRequiresURI(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
