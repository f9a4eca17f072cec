// Package acl stores access-control lists in the graph and computes which
// resource vertices a set of caller groups may read.
//
// An ACL is a vertex labeled "ACL" carrying its member groups. Resources are
// tagged with a Groups property; LinkACLToResources joins the two with
// "Controls" edges that carry a Permission list. Reads are granted only by a
// Controls edge whose Permission contains "Read". The per-member permission
// list stored on the ACL vertex is recorded but never consulted.
package acl

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/metric"
	"github.com/c360/graphdb/mutator"
)

// Graph vocabulary
const (
	Label        = "ACL"
	ControlsEdge = "Controls"

	PropGroupMembers     = "groupMembers"
	PropGroupPermissions = "groupPermissions"
	PropLegacyGUID       = "legacyGuid"
	PropGroups           = "Groups"
	PropPermission       = "Permission"
)

// Permission tokens
const (
	Read  = "Read"
	Write = "Write"
	Order = "Order"
)

// DefaultResourceLabels are the labels LinkACLToResources governs when none
// are configured.
var DefaultResourceLabels = []string{"Grid"}

// EdgePermissions is the Permission list every new Controls edge receives.
var EdgePermissions = []string{Read, Write, Order}

// Dependencies holds what a Model needs. Mutator is built from Store when nil.
type Dependencies struct {
	Store          graph.Store
	Mutator        *mutator.Mutator
	Logger         *slog.Logger
	Metrics        *metric.Metrics
	ResourceLabels []string
}

// Model manages ACL vertices and Controls edges.
type Model struct {
	store          graph.Store
	mutator        *mutator.Mutator
	logger         *slog.Logger
	metrics        *metric.Metrics
	resourceLabels []string
}

// New creates a Model
func New(deps Dependencies) (*Model, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("store is required"), "acl", "New", "validate dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Mutator == nil {
		m, err := mutator.New(mutator.Dependencies{Store: deps.Store, Logger: deps.Logger, Metrics: deps.Metrics})
		if err != nil {
			return nil, err
		}
		deps.Mutator = m
	}
	labels := deps.ResourceLabels
	if len(labels) == 0 {
		labels = DefaultResourceLabels
	}
	return &Model{
		store:          deps.Store,
		mutator:        deps.Mutator,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		resourceLabels: slices.Clone(labels),
	}, nil
}

// ResourceLabels returns the labels whose vertices are governed by ACLs.
func (m *Model) ResourceLabels() []string { return slices.Clone(m.resourceLabels) }

// Governs reports whether vertices of label are subject to ACL visibility.
func (m *Model) Governs(label string) bool { return slices.Contains(m.resourceLabels, label) }

// CreateOrGetACL returns the ACL vertex for conceptID, creating it when absent.
// members and permissions are index-aligned; each member's permissions are
// stored as one comma-joined entry of groupPermissions.
func (m *Model) CreateOrGetACL(ctx context.Context, members []string, permissions [][]string, conceptID, legacyGUID string) (mutator.Upsert, error) {
	if len(members) != len(permissions) {
		return mutator.Upsert{}, errors.WrapInvalid(
			fmt.Errorf("%d members but %d permission lists", len(members), len(permissions)),
			"acl", "CreateOrGetACL", "align group members")
	}

	joined := make([]string, len(permissions))
	for i, p := range permissions {
		joined[i] = strings.Join(p, ",")
	}

	props := graph.Properties{
		graph.P(PropGroupMembers, graph.ListValue(members...)),
		graph.P(PropGroupPermissions, graph.ListValue(joined...)),
	}
	if legacyGUID != "" {
		props = append(props, graph.P(PropLegacyGUID, graph.StringValue(legacyGUID)))
	}
	return m.mutator.UpsertConceptVertex(ctx, Label, props, conceptID)
}

// TagResourceWithGroups overwrites the Groups property of the resource vertex
// (label, id=conceptID). Concurrent taggers race; the last write wins.
func (m *Model) TagResourceWithGroups(ctx context.Context, label, conceptID string, groups []string) error {
	const op = "TagResourceWithGroups"
	identity := graph.ConceptIDProperty + "=" + conceptID

	found, err := m.store.FindVertices(ctx, label, graph.Has(graph.ConceptIDProperty, graph.StringValue(conceptID)))
	if err != nil {
		return &errors.GraphMutationError{Op: op, Label: label, Identity: identity, Err: err}
	}
	if len(found) == 0 {
		return &errors.GraphMutationError{Op: op, Label: label, Identity: identity,
			Err: errors.WrapInvalid(graph.ErrVertexNotFound, "acl", op, "locate resource")}
	}

	for _, v := range found {
		if err := m.store.SetVertexProperty(ctx, v.ID, graph.P(PropGroups, graph.ListValue(groups...))); err != nil {
			return &errors.GraphMutationError{Op: op, Label: label, Identity: identity, Err: err}
		}
	}
	m.logger.Debug("resource tagged", "label", label, "concept_id", conceptID, "groups", groups)
	return nil
}

// LinkACLToResources ensures a Controls edge from aclID to every governed
// resource whose Groups intersects groups.
func (m *Model) LinkACLToResources(ctx context.Context, aclID string, groups []string) ([]mutator.Upsert, error) {
	const op = "LinkACLToResources"
	if len(groups) == 0 {
		return []mutator.Upsert{}, nil
	}

	values := stringValues(groups)
	edgeProps := graph.Properties{graph.P(PropPermission, graph.ListValue(EdgePermissions...))}

	var out []mutator.Upsert
	for _, label := range m.resourceLabels {
		resources, err := m.store.FindVertices(ctx, label, graph.HasAny(PropGroups, values...))
		if err != nil {
			return nil, &errors.GraphMutationError{Op: op, Label: label, Identity: "Groups", Err: err}
		}
		for _, r := range resources {
			edge, err := m.mutator.UpsertEdge(ctx, r.ID, aclID, ControlsEdge, edgeProps)
			if err != nil {
				return nil, err
			}
			out = append(out, edge)
		}
	}
	if out == nil {
		out = []mutator.Upsert{}
	}
	m.logger.Debug("acl linked", "acl_id", aclID, "groups", groups, "edges", len(out))
	return out, nil
}

// ComputeVisibleResources returns the vertices the groups may read: targets of
// Controls edges granting Read from any ACL whose members intersect groups.
// label restricts the result when non-empty; filters apply to the targets.
// The result is ordered by vertex ID and never nil.
func (m *Model) ComputeVisibleResources(ctx context.Context, label string, groups []string, filters ...graph.Filter) ([]graph.Vertex, error) {
	const op = "ComputeVisibleResources"
	ids, err := m.visibleIDs(ctx, op, groups)
	if err != nil {
		return nil, err
	}

	out := make([]graph.Vertex, 0, len(ids))
	for _, id := range ids {
		v, err := m.store.GetVertex(ctx, id)
		if err != nil {
			if stderrors.Is(err, graph.ErrVertexNotFound) {
				continue
			}
			return nil, &errors.QueryExecutionError{Op: op, Err: err}
		}
		if label != "" && v.Label != label {
			continue
		}
		if !graph.MatchAll(v.Properties, filters) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// QueryByProperty is ComputeVisibleResources restricted to vertices whose
// property matches value.
func (m *Model) QueryByProperty(ctx context.Context, label, property string, value graph.Value, groups []string) ([]graph.Vertex, error) {
	return m.ComputeVisibleResources(ctx, label, groups, graph.Has(property, value))
}

// VisibleSet returns the IDs of every vertex the groups may read.
func (m *Model) VisibleSet(ctx context.Context, groups []string) (map[string]struct{}, error) {
	ids, err := m.visibleIDs(ctx, "VisibleSet", groups)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (m *Model) visibleIDs(ctx context.Context, op string, groups []string) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	acls, err := m.store.FindVertices(ctx, Label, graph.HasAny(PropGroupMembers, stringValues(groups)...))
	if err != nil {
		return nil, &errors.QueryExecutionError{Op: op, Err: err}
	}

	read := graph.StringValue(Read)
	seen := make(map[string]struct{})
	for _, a := range acls {
		edges, err := m.store.OutEdges(ctx, a.ID, ControlsEdge)
		if err != nil {
			return nil, &errors.QueryExecutionError{Op: op, Err: err}
		}
		for _, e := range edges {
			perm, ok := e.Properties.Get(PropPermission)
			if !ok || !perm.Matches(read) {
				continue
			}
			seen[e.To] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Authorize returns the vertex (label, id=conceptID) when the groups may read
// it. A missing vertex fails with graph.ErrVertexNotFound; an existing one
// without a granting Controls edge fails with *errors.AclViolation.
func (m *Model) Authorize(ctx context.Context, label, conceptID string, groups []string) (graph.Vertex, error) {
	const op = "Authorize"
	found, err := m.store.FindVertices(ctx, label, graph.Has(graph.ConceptIDProperty, graph.StringValue(conceptID)))
	if err != nil {
		return graph.Vertex{}, &errors.QueryExecutionError{Op: op, Err: err}
	}
	if len(found) == 0 {
		return graph.Vertex{}, errors.WrapInvalid(graph.ErrVertexNotFound, "acl", op,
			fmt.Sprintf("locate %s %q", label, conceptID))
	}

	visible, err := m.VisibleSet(ctx, groups)
	if err != nil {
		return graph.Vertex{}, err
	}
	for _, v := range found {
		if _, ok := visible[v.ID]; ok {
			return v, nil
		}
	}

	m.metrics.RecordACLDenial(label)
	m.logger.Debug("read denied", "label", label, "concept_id", conceptID, "groups", groups)
	return graph.Vertex{}, &errors.AclViolation{Label: label, Resource: conceptID, Groups: slices.Clone(groups)}
}

// IndexResult reports what Index touched.
type IndexResult struct {
	ACL   mutator.Upsert   `json:"acl"`
	Edges []mutator.Upsert `json:"edges"`
}

// Index stores an ACL document: the ACL vertex, then Controls edges to every
// governed resource tagged with one of its groups. Safe to repeat.
func (m *Model) Index(ctx context.Context, doc *Document) (*IndexResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	members := doc.Members()
	acl, err := m.CreateOrGetACL(ctx, members, doc.Permissions(), doc.ConceptID, doc.LegacyGUID)
	if err != nil {
		return nil, err
	}

	edges, err := m.LinkACLToResources(ctx, acl.ID, members)
	if err != nil {
		return nil, err
	}

	m.logger.Info("acl indexed",
		"concept_id", doc.ConceptID,
		"acl_id", acl.ID,
		"created", acl.Created,
		"members", len(members),
		"edges", len(edges))
	return &IndexResult{ACL: acl, Edges: edges}, nil
}

func stringValues(items []string) []graph.Value {
	out := make([]graph.Value, len(items))
	for i, s := range items {
		out[i] = graph.StringValue(s)
	}
	return out
}
