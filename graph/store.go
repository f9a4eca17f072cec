package graph

import "context"

// Store is the remote graph contract consumed by the mutator, ACL and query
// packages. Every method is a remote call that may fail with a transport error.
//
// EnsureVertex and EnsureEdge are conditional inserts: the existence check and
// the creation happen in one store-side operation, so concurrent callers in
// different processes converge on a single vertex or edge.
type Store interface {
	// EnsureVertex returns the vertex with the given label whose key property
	// matches key, creating it with props when absent. created reports
	// whether this call created it. The key property is always written.
	EnsureVertex(ctx context.Context, label string, key Property, props Properties) (id string, created bool, err error)

	// EnsureEdge returns the edge labeled label from -> to, creating it with
	// props when absent.
	EnsureEdge(ctx context.Context, from, to, label string, props Properties) (id string, created bool, err error)

	// SetVertexProperty overwrites one property of an existing vertex.
	SetVertexProperty(ctx context.Context, id string, prop Property) error

	// GetVertex returns ErrVertexNotFound when id does not exist.
	GetVertex(ctx context.Context, id string) (Vertex, error)

	// FindVertices returns vertices with label (any label when empty)
	// matching every filter, ordered by ID.
	FindVertices(ctx context.Context, label string, filters ...Filter) ([]Vertex, error)

	// CountVertices counts what FindVertices would return.
	CountVertices(ctx context.Context, label string, filters ...Filter) (int, error)

	// OutEdges returns edges leaving vertexID, restricted to edgeLabel when
	// non-empty, ordered by target ID.
	OutEdges(ctx context.Context, vertexID, edgeLabel string) ([]Edge, error)

	Close(ctx context.Context) error
}
