//go:build integration

package neo4jstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/graphdb/graph"
)

func startNeo4j(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:5.26",
			ExposedPorts: []string{"7687/tcp"},
			Env:          map[string]string{"NEO4J_AUTH": "neo4j/integration-pass"},
			WaitingFor:   wait.ForLog("Started.").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err)
	return fmt.Sprintf("neo4j://%s:%s", host, port.Port())
}

func TestIntegration_Store(t *testing.T) {
	ctx := context.Background()
	uri := startNeo4j(ctx, t)

	s, err := Open(ctx, Config{URI: uri, Username: "neo4j", Password: "integration-pass"})
	require.NoError(t, err)
	defer s.Close(ctx)

	key := graph.P(graph.ConceptIDProperty, graph.StringValue("G1"))
	grid, created, err := s.EnsureVertex(ctx, "Grid", key, nil)
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := s.EnsureVertex(ctx, "Grid", key, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, grid, again)

	org, _, err := s.EnsureVertex(ctx, "Organization", graph.P("ShortName", graph.StringValue("NASA")), nil)
	require.NoError(t, err)
	_, created, err = s.EnsureEdge(ctx, grid, org, "PublishedBy", nil)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = s.EnsureEdge(ctx, grid, org, "PublishedBy", nil)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, s.SetVertexProperty(ctx, grid, graph.P("Groups", graph.ListValue("g1"))))
	found, err := s.FindVertices(ctx, "Grid", graph.Has(graph.ConceptIDProperty, graph.StringValue("G1")),
		graph.HasAny("Groups", graph.StringValue("g1")))
	require.NoError(t, err)
	require.Len(t, found, 1)

	edges, err := s.OutEdges(ctx, grid, "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, org, edges[0].To)
}
