package graph

import (
	"context"
	"sync"
	"sync/atomic"
)

// OpenFunc establishes a backend connection.
type OpenFunc func(ctx context.Context) (Store, error)

// LazyStore defers opening its backend until the first call, then reuses it.
// Concurrent first calls open exactly one backend; a failed open is not
// remembered, so the next call tries again.
type LazyStore struct {
	open   OpenFunc
	store  atomic.Pointer[storeHolder]
	mu     sync.Mutex
	closed atomic.Bool
}

type storeHolder struct{ s Store }

// NewLazyStore wraps open.
func NewLazyStore(open OpenFunc) *LazyStore {
	return &LazyStore{open: open}
}

// Opened reports whether the backend has been established.
func (l *LazyStore) Opened() bool {
	return l.store.Load() != nil
}

func (l *LazyStore) get(ctx context.Context) (Store, error) {
	if l.closed.Load() {
		return nil, ErrStoreClosed
	}
	if h := l.store.Load(); h != nil {
		return h.s, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring lock
	if h := l.store.Load(); h != nil {
		return h.s, nil
	}
	s, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	l.store.Store(&storeHolder{s: s})
	return s, nil
}

// EnsureVertex implements Store
func (l *LazyStore) EnsureVertex(ctx context.Context, label string, key Property, props Properties) (string, bool, error) {
	s, err := l.get(ctx)
	if err != nil {
		return "", false, err
	}
	return s.EnsureVertex(ctx, label, key, props)
}

// EnsureEdge implements Store
func (l *LazyStore) EnsureEdge(ctx context.Context, from, to, label string, props Properties) (string, bool, error) {
	s, err := l.get(ctx)
	if err != nil {
		return "", false, err
	}
	return s.EnsureEdge(ctx, from, to, label, props)
}

// SetVertexProperty implements Store
func (l *LazyStore) SetVertexProperty(ctx context.Context, id string, prop Property) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.SetVertexProperty(ctx, id, prop)
}

// GetVertex implements Store
func (l *LazyStore) GetVertex(ctx context.Context, id string) (Vertex, error) {
	s, err := l.get(ctx)
	if err != nil {
		return Vertex{}, err
	}
	return s.GetVertex(ctx, id)
}

// FindVertices implements Store
func (l *LazyStore) FindVertices(ctx context.Context, label string, filters ...Filter) ([]Vertex, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.FindVertices(ctx, label, filters...)
}

// CountVertices implements Store
func (l *LazyStore) CountVertices(ctx context.Context, label string, filters ...Filter) (int, error) {
	s, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return s.CountVertices(ctx, label, filters...)
}

// OutEdges implements Store
func (l *LazyStore) OutEdges(ctx context.Context, vertexID, edgeLabel string) ([]Edge, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.OutEdges(ctx, vertexID, edgeLabel)
}

// Close closes the backend if it was opened. Later calls fail with ErrStoreClosed.
func (l *LazyStore) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.store.Load(); h != nil {
		return h.s.Close(ctx)
	}
	return nil
}
