// Package memstore is an in-process graph.Store. It backs the "memory" store
// backend and the unit tests of every package built on graph.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/graphdb/graph"
)

// Store keeps vertices and edges in maps guarded by one mutex, which makes
// EnsureVertex and EnsureEdge atomic within the process.
type Store struct {
	mu       sync.RWMutex
	vertices map[string]graph.Vertex
	keys     map[string]string // label/key/value -> vertex ID
	edges    map[string]graph.Edge
	edgeKeys map[string]string   // from/label/to -> edge ID
	out      map[string][]string // vertex ID -> outgoing edge IDs
	closed   bool
	newID    func() string
}

// Option configures a Store
type Option func(*Store)

// WithIDGenerator replaces the UUID generator, e.g. for readable test IDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		vertices: make(map[string]graph.Vertex),
		keys:     make(map[string]string),
		edges:    make(map[string]graph.Edge),
		edgeKeys: make(map[string]string),
		out:      make(map[string][]string),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SequentialIDs returns a generator yielding prefix001, prefix002, ... so that
// ID order is creation order.
func SequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%03d", prefix, n)
	}
}

// EnsureVertex implements graph.Store
func (s *Store) EnsureVertex(_ context.Context, label string, key graph.Property, props graph.Properties) (string, bool, error) {
	if label == "" {
		return "", false, graph.ErrInvalidLabel
	}
	if key.Name == "" || !key.Value.IsValid() {
		return "", false, graph.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, graph.ErrStoreClosed
	}

	ik := graph.IdentityKey(label, key)
	if id, ok := s.keys[ik]; ok {
		return id, false, nil
	}

	record := graph.Properties{key}
	for _, p := range props {
		if p.Name != key.Name {
			record.Set(p.Name, p.Value)
		}
	}

	id := s.newID()
	s.vertices[id] = graph.Vertex{ID: id, Label: label, Properties: record.Clone()}
	s.keys[ik] = id
	return id, true, nil
}

// EnsureEdge implements graph.Store
func (s *Store) EnsureEdge(_ context.Context, from, to, label string, props graph.Properties) (string, bool, error) {
	if label == "" {
		return "", false, graph.ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, graph.ErrStoreClosed
	}
	if _, ok := s.vertices[from]; !ok {
		return "", false, fmt.Errorf("edge source %s: %w", from, graph.ErrVertexNotFound)
	}
	if _, ok := s.vertices[to]; !ok {
		return "", false, fmt.Errorf("edge target %s: %w", to, graph.ErrVertexNotFound)
	}

	ek := from + "\x00" + label + "\x00" + to
	if id, ok := s.edgeKeys[ek]; ok {
		return id, false, nil
	}

	id := s.newID()
	s.edges[id] = graph.Edge{ID: id, Label: label, From: from, To: to, Properties: props.Clone()}
	s.edgeKeys[ek] = id
	s.out[from] = append(s.out[from], id)
	return id, true, nil
}

// SetVertexProperty implements graph.Store
func (s *Store) SetVertexProperty(_ context.Context, id string, prop graph.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.ErrStoreClosed
	}
	v, ok := s.vertices[id]
	if !ok {
		return graph.ErrVertexNotFound
	}
	v.Properties = v.Properties.Clone()
	v.Properties.Set(prop.Name, prop.Value)
	s.vertices[id] = v
	return nil
}

// GetVertex implements graph.Store
func (s *Store) GetVertex(_ context.Context, id string) (graph.Vertex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return graph.Vertex{}, graph.ErrStoreClosed
	}
	v, ok := s.vertices[id]
	if !ok {
		return graph.Vertex{}, graph.ErrVertexNotFound
	}
	return copyVertex(v), nil
}

// FindVertices implements graph.Store
func (s *Store) FindVertices(_ context.Context, label string, filters ...graph.Filter) ([]graph.Vertex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, graph.ErrStoreClosed
	}

	result := make([]graph.Vertex, 0)
	for _, v := range s.vertices {
		if label != "" && v.Label != label {
			continue
		}
		if !graph.MatchAll(v.Properties, filters) {
			continue
		}
		result = append(result, copyVertex(v))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CountVertices implements graph.Store
func (s *Store) CountVertices(ctx context.Context, label string, filters ...graph.Filter) (int, error) {
	vs, err := s.FindVertices(ctx, label, filters...)
	if err != nil {
		return 0, err
	}
	return len(vs), nil
}

// OutEdges implements graph.Store
func (s *Store) OutEdges(_ context.Context, vertexID, edgeLabel string) ([]graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, graph.ErrStoreClosed
	}

	result := make([]graph.Edge, 0, len(s.out[vertexID]))
	for _, eid := range s.out[vertexID] {
		e := s.edges[eid]
		if edgeLabel != "" && e.Label != edgeLabel {
			continue
		}
		e.Properties = e.Properties.Clone()
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].To == result[j].To {
			return result[i].Label < result[j].Label
		}
		return result[i].To < result[j].To
	})
	return result, nil
}

// Close implements graph.Store
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats reports vertex and edge totals.
func (s *Store) Stats() (vertices, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vertices), len(s.edges)
}

// Edges returns every edge ordered by ID.
func (s *Store) Edges() []graph.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]graph.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func copyVertex(v graph.Vertex) graph.Vertex {
	v.Properties = v.Properties.Clone()
	return v
}

var _ graph.Store = (*Store)(nil)
