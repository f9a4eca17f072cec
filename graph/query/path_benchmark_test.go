package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/memstore"
)

func BenchmarkFindPath_SmallGraph_Depth4(b *testing.B) {
	benchmarkFindPath(b, 100, 3, 4)
}

func BenchmarkFindPath_MediumGraph_Depth6(b *testing.B) {
	benchmarkFindPath(b, 1000, 3, 6)
}

func BenchmarkFindPath_LargeGraph_Depth8(b *testing.B) {
	benchmarkFindPath(b, 10000, 3, 8)
}

// benchmarkFindPath builds a tree of vertexCount vertices with the given
// fan-out and searches for the last vertex.
func benchmarkFindPath(b *testing.B, vertexCount, fanOut, maxHops int) {
	if testing.Short() {
		b.Skip("Skipping benchmark in short mode")
	}

	ctx := context.Background()
	store := memstore.New()
	ids := make([]string, vertexCount)
	for i := range ids {
		key := graph.P(graph.ConceptIDProperty, graph.StringValue(fmt.Sprintf("node-%05d", i)))
		id, _, err := store.EnsureVertex(ctx, "Node", key, nil)
		if err != nil {
			b.Fatal(err)
		}
		ids[i] = id
	}
	for i := 1; i < vertexCount; i++ {
		parent := (i - 1) / fanOut
		if _, _, err := store.EnsureEdge(ctx, ids[parent], ids[i], "Child", nil); err != nil {
			b.Fatal(err)
		}
	}

	client, err := NewClient(Dependencies{Store: store})
	if err != nil {
		b.Fatal(err)
	}
	q := PathQuery{
		StartConcept: "node-00000",
		Target:       Matcher{Property: graph.ConceptIDProperty, Value: graph.StringValue(fmt.Sprintf("node-%05d", vertexCount-1))},
		MaxHops:      maxHops,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.FindPath(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}
