// Package mutator applies ingestion plans to a graph.Store with create-or-reuse
// semantics. Every operation is safe to repeat: a second run with the same
// arguments returns the identities created by the first.
package mutator

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/metric"
	"github.com/c360/graphdb/schema"
)

// DefaultConcurrency bounds concurrent child upserts within one document.
const DefaultConcurrency = 8

// Dependencies holds what a Mutator needs
type Dependencies struct {
	Store   graph.Store
	Logger  *slog.Logger
	Metrics *metric.Metrics
	// Concurrency bounds child fan-out per document. Zero uses DefaultConcurrency.
	Concurrency int
}

// Mutator performs idempotent upserts
type Mutator struct {
	store       graph.Store
	logger      *slog.Logger
	metrics     *metric.Metrics
	concurrency int
}

// Upsert is the outcome of one vertex or edge upsert.
type Upsert struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// New creates a Mutator
func New(deps Dependencies) (*Mutator, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("store is required"), "Mutator", "New", "validate dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = DefaultConcurrency
	}
	return &Mutator{
		store:       deps.Store,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		concurrency: deps.Concurrency,
	}, nil
}

// UpsertConceptVertex returns the vertex (label, id=conceptID), creating it
// with props when absent. An existing vertex is returned unchanged.
func (m *Mutator) UpsertConceptVertex(ctx context.Context, label string, props graph.Properties, conceptID string) (Upsert, error) {
	const op = "UpsertConceptVertex"
	if conceptID == "" {
		return Upsert{}, m.vertexFailed(op, label, "id=", errors.WrapInvalid(
			graph.ErrInvalidKey, "Mutator", op, "validate concept id"))
	}
	key := graph.P(graph.ConceptIDProperty, graph.StringValue(conceptID))
	return m.upsertVertex(ctx, op, label, key, props)
}

// UpsertSubVertex returns the child vertex of label keyed by keyProperty,
// creating it with props when absent. An empty keyProperty keys on the first
// property in props.
func (m *Mutator) UpsertSubVertex(ctx context.Context, label string, props graph.Properties, keyProperty string) (Upsert, error) {
	const op = "UpsertSubVertex"
	if len(props) == 0 {
		return Upsert{}, m.vertexFailed(op, label, "", errors.WrapInvalid(
			graph.ErrInvalidKey, "Mutator", op, "sub-vertex has no properties"))
	}

	key := props[0]
	if keyProperty != "" {
		v, ok := props.Get(keyProperty)
		if !ok {
			return Upsert{}, m.vertexFailed(op, label, keyProperty+"=", errors.WrapInvalid(
				graph.ErrInvalidKey, "Mutator", op, "locate key property"))
		}
		key = graph.P(keyProperty, v)
	}
	return m.upsertVertex(ctx, op, label, key, props)
}

func (m *Mutator) upsertVertex(ctx context.Context, op, label string, key graph.Property, props graph.Properties) (Upsert, error) {
	identity := key.Name + "=" + key.Value.Text()
	id, created, err := m.store.EnsureVertex(ctx, label, key, props)
	if err != nil {
		return Upsert{}, m.vertexFailed(op, label, identity, err)
	}

	m.metrics.RecordVertexUpsert(label, created)
	m.logger.Debug("vertex upserted", "label", label, "key", identity, "vertex_id", id, "created", created)
	return Upsert{ID: id, Created: created}, nil
}

func (m *Mutator) vertexFailed(op, label, identity string, err error) error {
	m.metrics.RecordVertexUpsertFailure(label)
	return &errors.GraphMutationError{Op: op, Label: label, Identity: identity, Err: err}
}

// UpsertEdge returns the edge labeled label that leaves outVertex and enters
// inVertex, creating it with props when absent. The argument order is
// (in, out): UpsertEdge(ctx, a, b, "X", nil) yields b -X-> a.
func (m *Mutator) UpsertEdge(ctx context.Context, inVertex, outVertex, label string, props graph.Properties) (Upsert, error) {
	const op = "UpsertEdge"
	identity := outVertex + "->" + inVertex
	if inVertex == "" || outVertex == "" {
		m.metrics.RecordEdgeUpsertFailure(label)
		return Upsert{}, &errors.GraphMutationError{Op: op, Label: label, Identity: identity,
			Err: errors.WrapInvalid(graph.ErrInvalidVertexID, "Mutator", op, "validate endpoints")}
	}

	id, created, err := m.store.EnsureEdge(ctx, outVertex, inVertex, label, props)
	if err != nil {
		m.metrics.RecordEdgeUpsertFailure(label)
		return Upsert{}, &errors.GraphMutationError{Op: op, Label: label, Identity: identity, Err: err}
	}

	m.metrics.RecordEdgeUpsert(label, created)
	m.logger.Debug("edge upserted", "label", label, "from", outVertex, "to", inVertex, "edge_id", id, "created", created)
	return Upsert{ID: id, Created: created}, nil
}

// Result reports what Apply touched. Children and Edges follow plan order.
type Result struct {
	Vertex   Upsert   `json:"vertex"`
	Children []Upsert `json:"children"`
	Edges    []Upsert `json:"edges"`
}

// CreatedEdgeIDs returns the IDs of edges this run created.
func (r *Result) CreatedEdgeIDs() []string {
	ids := make([]string, 0, len(r.Edges))
	for _, e := range r.Edges {
		if e.Created {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Changed reports whether any vertex or edge was created.
func (r *Result) Changed() bool {
	if r.Vertex.Created {
		return true
	}
	for _, c := range r.Children {
		if c.Created {
			return true
		}
	}
	for _, e := range r.Edges {
		if e.Created {
			return true
		}
	}
	return false
}

// Apply upserts the document vertex, then each child vertex and the edge from
// the document vertex to it. Children are processed concurrently; the first
// failure cancels the rest and fails the whole call. Re-running Apply after a
// failure completes the document without duplicating anything.
func (m *Mutator) Apply(ctx context.Context, plan *schema.Plan, conceptID string) (*Result, error) {
	doc, err := m.UpsertConceptVertex(ctx, plan.Label, plan.Properties, conceptID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Vertex:   doc,
		Children: make([]Upsert, len(plan.Children)),
		Edges:    make([]Upsert, len(plan.Children)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, child := range plan.Children {
		g.Go(func() error {
			cv, err := m.UpsertSubVertex(gctx, child.Label, child.Properties, child.KeyProperty)
			if err != nil {
				return err
			}
			res.Children[i] = cv

			edge, err := m.UpsertEdge(gctx, cv.ID, doc.ID, child.Relationship, child.EdgeProperties)
			if err != nil {
				return err
			}
			res.Edges[i] = edge
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.logger.Debug("plan applied",
		"label", plan.Label,
		"concept_id", conceptID,
		"vertex_id", doc.ID,
		"children", len(plan.Children))
	return res, nil
}
