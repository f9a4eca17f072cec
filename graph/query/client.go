package query

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/c360/graphdb/acl"
	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/metric"
)

// Dependencies holds what a Client needs. ACL is optional; without it only
// unscoped queries can run.
type Dependencies struct {
	Store   graph.Store
	ACL     *acl.Model
	Logger  *slog.Logger
	Metrics *metric.Metrics

	// DefaultMaxHops applies to path descriptors without max_hops. Zero uses DefaultMaxHops.
	DefaultMaxHops int
}

// Client executes read operations against a graph.Store.
type Client struct {
	store          graph.Store
	acl            *acl.Model
	logger         *slog.Logger
	metrics        *metric.Metrics
	defaultMaxHops int
}

// NewClient creates a query client
func NewClient(deps Dependencies) (*Client, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("store is required"), "Client", "NewClient", "validate dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultMaxHops <= 0 {
		deps.DefaultMaxHops = DefaultMaxHops
	}
	return &Client{
		store:          deps.Store,
		acl:            deps.ACL,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		defaultMaxHops: deps.DefaultMaxHops,
	}, nil
}

func failed(op string, err error) error {
	return &errors.QueryExecutionError{Op: op, Err: err}
}

// FindByLabel returns every vertex with label.
func (c *Client) FindByLabel(ctx context.Context, label string) ([]graph.Vertex, error) {
	vs, err := c.store.FindVertices(ctx, label)
	if err != nil {
		return nil, failed("FindByLabel", err)
	}
	return nonNil(vs), nil
}

// FindRelatedByEdge returns the vertices one outgoing edgeLabel edge away from
// the vertices of label whose property matches value.
func (c *Client) FindRelatedByEdge(ctx context.Context, label, property string, value graph.Value, edgeLabel string) ([]graph.Vertex, error) {
	const op = "FindRelatedByEdge"
	starts, err := c.store.FindVertices(ctx, label, graph.Has(property, value))
	if err != nil {
		return nil, failed(op, err)
	}
	return c.related(ctx, op, starts, edgeLabel)
}

func (c *Client) related(ctx context.Context, op string, starts []graph.Vertex, edgeLabel string) ([]graph.Vertex, error) {
	seen := make(map[string]struct{})
	for _, s := range starts {
		edges, err := c.store.OutEdges(ctx, s.ID, edgeLabel)
		if err != nil {
			return nil, failed(op, err)
		}
		for _, e := range edges {
			seen[e.To] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]graph.Vertex, 0, len(ids))
	for _, id := range ids {
		v, err := c.store.GetVertex(ctx, id)
		if err != nil {
			return nil, failed(op, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FindMissingProperty returns vertices of label that do not carry
// property=value, including those without the property at all.
func (c *Client) FindMissingProperty(ctx context.Context, label, property string, value graph.Value) ([]graph.Vertex, error) {
	vs, err := c.store.FindVertices(ctx, label, graph.HasNot(property, value))
	if err != nil {
		return nil, failed("FindMissingProperty", err)
	}
	return nonNil(vs), nil
}

// Count returns the number of vertices with label.
func (c *Client) Count(ctx context.Context, label string) (int, error) {
	n, err := c.store.CountVertices(ctx, label)
	if err != nil {
		return 0, failed("Count", err)
	}
	return n, nil
}

// CountRelated counts the outgoing edgeLabel edges of the vertex
// (label, id=conceptID). A missing vertex counts zero.
func (c *Client) CountRelated(ctx context.Context, label, conceptID, edgeLabel string) (int, error) {
	return c.countRelated(ctx, label, conceptID, edgeLabel, nil)
}

// countRelated skips edges whose target the scope does not allow.
func (c *Client) countRelated(ctx context.Context, label, conceptID, edgeLabel string, sc *scope) (int, error) {
	const op = "CountRelated"
	starts, err := c.store.FindVertices(ctx, label, graph.Has(graph.ConceptIDProperty, graph.StringValue(conceptID)))
	if err != nil {
		return 0, failed(op, err)
	}
	n := 0
	for _, s := range sc.filter(starts) {
		edges, err := c.store.OutEdges(ctx, s.ID, edgeLabel)
		if err != nil {
			return 0, failed(op, err)
		}
		if sc == nil {
			n += len(edges)
			continue
		}
		for _, e := range edges {
			_, ok, err := c.reachable(ctx, op, e.To, sc)
			if err != nil {
				return 0, err
			}
			if ok {
				n++
			}
		}
	}
	return n, nil
}

// FindPath returns the shortest chain of outgoing edges from the start vertex
// to a vertex matching the target, found breadth first. The start vertex only
// counts as a match when reached again through an edge. When every reachable
// vertex has been expanded without a match the result has no edges. When
// MaxHops expansions still leave unexplored vertices the search fails with
// *errors.TraversalLimitExceeded.
func (c *Client) FindPath(ctx context.Context, q PathQuery) (*PathResult, error) {
	return c.findPath(ctx, q, nil)
}

// findPath neither matches nor expands vertices the scope does not allow.
func (c *Client) findPath(ctx context.Context, q PathQuery, sc *scope) (*PathResult, error) {
	const op = "FindPath"
	if q.StartConcept == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("start concept is required"), "Client", op, "validate path query")
	}
	if q.MaxHops <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("max hops must be positive, got %d", q.MaxHops),
			"Client", op, "validate path query")
	}

	start, err := c.startVertex(ctx, op, q.StartConcept)
	if err != nil {
		return nil, err
	}

	target := q.Target.Filter()
	parent := make(map[string]graph.Edge)
	visited := map[string]bool{start.ID: true}
	frontier := []string{start.ID}

	for hop := 1; hop <= q.MaxHops; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, failed(op, err)
		}

		var next []string
		for _, id := range frontier {
			edges, err := c.store.OutEdges(ctx, id, "")
			if err != nil {
				return nil, failed(op, err)
			}
			for _, e := range edges {
				if !followEdge(e, q.EdgeFilter) {
					continue
				}
				if e.To != start.ID && visited[e.To] {
					continue
				}
				v, ok, err := c.reachable(ctx, op, e.To, sc)
				if err != nil {
					return nil, err
				}
				if e.To == start.ID {
					if ok && target.Match(v.Properties) {
						return &PathResult{Start: start.ID, Edges: append(trace(parent, id, start.ID), e)}, nil
					}
					continue
				}
				visited[e.To] = true
				if !ok {
					continue
				}
				parent[e.To] = e
				if target.Match(v.Properties) {
					return &PathResult{Start: start.ID, Edges: trace(parent, e.To, start.ID)}, nil
				}
				next = append(next, e.To)
			}
		}

		if len(next) == 0 {
			return &PathResult{Start: start.ID, Edges: []graph.Edge{}}, nil
		}
		frontier = next
	}

	return nil, &errors.TraversalLimitExceeded{From: q.StartConcept, MaxHops: q.MaxHops}
}

func (c *Client) startVertex(ctx context.Context, op, conceptID string) (graph.Vertex, error) {
	found, err := c.store.FindVertices(ctx, "", graph.Has(graph.ConceptIDProperty, graph.StringValue(conceptID)))
	if err != nil {
		return graph.Vertex{}, failed(op, err)
	}
	if len(found) == 0 {
		return graph.Vertex{}, errors.WrapInvalid(graph.ErrVertexNotFound, "Client", op,
			fmt.Sprintf("locate start vertex %q", conceptID))
	}
	return found[0], nil
}

// reachable loads the vertex id and reports whether it exists and the scope
// allows it.
func (c *Client) reachable(ctx context.Context, op, id string, sc *scope) (graph.Vertex, bool, error) {
	v, err := c.store.GetVertex(ctx, id)
	if err != nil {
		if stderrors.Is(err, graph.ErrVertexNotFound) {
			return graph.Vertex{}, false, nil
		}
		return graph.Vertex{}, false, failed(op, err)
	}
	return v, sc.allows(v), nil
}

// trace walks parent edges back from id to start and returns them in
// traversal order.
func trace(parent map[string]graph.Edge, id, start string) []graph.Edge {
	var path []graph.Edge
	for id != start {
		e, ok := parent[id]
		if !ok {
			break
		}
		path = append(path, e)
		id = e.From
	}
	slices.Reverse(path)
	return path
}

func followEdge(e graph.Edge, filter []string) bool {
	return len(filter) == 0 || slices.Contains(filter, e.Label)
}

func nonNil(vs []graph.Vertex) []graph.Vertex {
	if vs == nil {
		return []graph.Vertex{}
	}
	return vs
}

// Execute runs a descriptor. groups == nil runs unscoped. Any other value,
// including an empty slice, restricts results to what those groups may read:
// vertices of ACL-governed labels outside the visible set are dropped, path
// and count_related traversals neither count nor cross them, and a governed
// start vertex that is not visible fails with *errors.AclViolation.
func (c *Client) Execute(ctx context.Context, desc Descriptor, groups []string) (*Result, error) {
	start := time.Now()
	res, err := c.execute(ctx, desc, groups)
	c.metrics.RecordQuery(string(desc.Op), outcome(res, err), time.Since(start))
	if err != nil {
		c.logger.Debug("query failed", "op", desc.Op, "label", desc.Label, "error", err)
		return nil, err
	}
	return res, nil
}

func outcome(res *Result, err error) string {
	switch {
	case errors.IsAclViolation(err):
		return "denied"
	case err != nil:
		return "error"
	case len(res.Vertices) == 0 && len(res.Edges) == 0 && res.Count == 0:
		return "empty"
	default:
		return "ok"
	}
}

func (c *Client) execute(ctx context.Context, desc Descriptor, groups []string) (*Result, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	sc, err := c.scope(ctx, desc.Op, groups)
	if err != nil {
		return nil, err
	}

	res := &Result{Op: desc.Op}
	switch desc.Op {
	case OpFind:
		vs, err := c.FindByLabel(ctx, desc.Label)
		if err != nil {
			return nil, err
		}
		res.Vertices = sc.filter(vs)
		res.Count = len(res.Vertices)

	case OpMissing:
		vs, err := c.FindMissingProperty(ctx, desc.Label, desc.Property, desc.Value)
		if err != nil {
			return nil, err
		}
		res.Vertices = sc.filter(vs)
		res.Count = len(res.Vertices)

	case OpCount:
		if sc.governs(desc.Label) {
			vs, err := c.FindByLabel(ctx, desc.Label)
			if err != nil {
				return nil, err
			}
			res.Count = len(sc.filter(vs))
			break
		}
		n, err := c.Count(ctx, desc.Label)
		if err != nil {
			return nil, err
		}
		res.Count = n

	case OpRelated:
		starts, err := c.store.FindVertices(ctx, desc.Label, graph.Has(desc.Property, desc.Value))
		if err != nil {
			return nil, failed("FindRelatedByEdge", err)
		}
		allowed := sc.filter(starts)
		if len(starts) > 0 && len(allowed) == 0 {
			return nil, c.denied(desc.Label, desc.Value.Text(), groups)
		}
		vs, err := c.related(ctx, "FindRelatedByEdge", allowed, desc.EdgeLabel)
		if err != nil {
			return nil, err
		}
		res.Vertices = sc.filter(vs)
		res.Count = len(res.Vertices)

	case OpCountRelated:
		if sc.governs(desc.Label) {
			if _, err := c.acl.Authorize(ctx, desc.Label, desc.ConceptID, groups); err != nil {
				if stderrors.Is(err, graph.ErrVertexNotFound) {
					break
				}
				return nil, err
			}
		}
		n, err := c.countRelated(ctx, desc.Label, desc.ConceptID, desc.EdgeLabel, sc)
		if err != nil {
			return nil, err
		}
		res.Count = n

	case OpPath:
		if sc != nil {
			sv, err := c.startVertex(ctx, "FindPath", desc.From)
			if err != nil {
				return nil, err
			}
			if !sc.allows(sv) {
				return nil, c.denied(sv.Label, desc.From, groups)
			}
		}
		pr, err := c.findPath(ctx, desc.PathQuery(c.defaultMaxHops), sc)
		if err != nil {
			return nil, err
		}
		res.Edges = pr.Edges
		res.Count = len(pr.Edges)

	case OpVisible, OpVisibleByProperty:
		if sc == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%s requires caller groups", desc.Op),
				"Client", "Execute", "resolve caller groups")
		}
		var filters []graph.Filter
		if desc.Op == OpVisibleByProperty {
			filters = append(filters, graph.Has(desc.Property, desc.Value))
		}
		vs, err := c.acl.ComputeVisibleResources(ctx, desc.Label, groups, filters...)
		if err != nil {
			return nil, err
		}
		res.Vertices = vs
		res.Count = len(vs)
	}
	return res, nil
}

func (c *Client) denied(label, resource string, groups []string) error {
	c.metrics.RecordACLDenial(label)
	return &errors.AclViolation{Label: label, Resource: resource, Groups: slices.Clone(groups)}
}

// scope is the caller's visible set. A nil scope allows everything.
type scope struct {
	acl     *acl.Model
	visible map[string]struct{}
}

func (c *Client) scope(ctx context.Context, op Op, groups []string) (*scope, error) {
	if groups == nil {
		return nil, nil
	}
	if c.acl == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("no ACL model configured"),
			"Client", "Execute", fmt.Sprintf("scope %s to caller groups", op))
	}
	visible, err := c.acl.VisibleSet(ctx, groups)
	if err != nil {
		return nil, err
	}
	return &scope{acl: c.acl, visible: visible}, nil
}

func (s *scope) governs(label string) bool {
	return s != nil && s.acl.Governs(label)
}

func (s *scope) allows(v graph.Vertex) bool {
	if !s.governs(v.Label) {
		return true
	}
	_, ok := s.visible[v.ID]
	return ok
}

func (s *scope) filter(vs []graph.Vertex) []graph.Vertex {
	if s == nil {
		return vs
	}
	out := make([]graph.Vertex, 0, len(vs))
	for _, v := range vs {
		if s.allows(v) {
			out = append(out, v)
		}
	}
	return out
}
