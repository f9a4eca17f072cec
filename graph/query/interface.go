// Package query runs read operations over a graph.Store. Operations are pure
// reads; Execute composes them with the acl visibility gate when the caller
// supplies a group set.
package query

import (
	"fmt"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
)

// Op names a query operation in a Descriptor.
type Op string

// Supported operations
const (
	OpFind              Op = "find"
	OpRelated           Op = "related"
	OpMissing           Op = "missing"
	OpCount             Op = "count"
	OpCountRelated      Op = "count_related"
	OpPath              Op = "path"
	OpVisible           Op = "visible"
	OpVisibleByProperty Op = "visible_by_property"
)

// DefaultMaxHops bounds path searches whose descriptor leaves MaxHops unset.
const DefaultMaxHops = 10

// Matcher selects vertices by one property value.
type Matcher struct {
	Property string      `json:"property"`
	Value    graph.Value `json:"value"`
}

// Filter converts the matcher into a store filter.
func (m Matcher) Filter() graph.Filter { return graph.Has(m.Property, m.Value) }

// PathQuery is a bounded search for the shortest chain of outgoing edges from
// the vertex whose id property is StartConcept to any vertex matching Target.
type PathQuery struct {
	StartConcept string  `json:"start_concept"`
	Target       Matcher `json:"target"`

	// EdgeFilter restricts which edge labels are followed (empty means all)
	EdgeFilter []string `json:"edge_filter,omitempty"`

	// MaxHops is the hard limit on path length. Must be positive.
	MaxHops int `json:"max_hops"`
}

// PathResult holds a path in traversal order. An empty Edges slice means no
// matching vertex is reachable.
type PathResult struct {
	Start string       `json:"start"`
	Edges []graph.Edge `json:"edges"`
}

// Descriptor is a serializable query request.
type Descriptor struct {
	Op        Op          `json:"op"`
	Label     string      `json:"label,omitempty"`
	Property  string      `json:"property,omitempty"`
	Value     graph.Value `json:"value,omitempty"`
	EdgeLabel string      `json:"edge_label,omitempty"`
	ConceptID string      `json:"concept_id,omitempty"`

	// Path searches
	From       string   `json:"from,omitempty"`
	To         Matcher  `json:"to,omitempty"`
	EdgeFilter []string `json:"edge_filter,omitempty"`
	MaxHops    int      `json:"max_hops,omitempty"`
}

// Result is what Execute returns for a successful query. Vertices and Edges
// are never nil for the operations that produce them.
type Result struct {
	Op       Op             `json:"op"`
	Vertices []graph.Vertex `json:"vertices,omitempty"`
	Edges    []graph.Edge   `json:"edges,omitempty"`
	Count    int            `json:"count"`
}

// Validate checks that the descriptor names the fields its operation needs.
func (d *Descriptor) Validate() error {
	missing := func(field string) error {
		return errors.WrapInvalid(fmt.Errorf("%s requires %s", d.Op, field),
			"Descriptor", "Validate", "validate query descriptor")
	}

	switch d.Op {
	case OpFind, OpCount, OpVisible:
		if d.Label == "" && d.Op != OpVisible {
			return missing("label")
		}
	case OpRelated:
		switch {
		case d.Label == "":
			return missing("label")
		case d.Property == "" || !d.Value.IsValid():
			return missing("property and value")
		case d.EdgeLabel == "":
			return missing("edge_label")
		}
	case OpMissing, OpVisibleByProperty:
		switch {
		case d.Label == "":
			return missing("label")
		case d.Property == "" || !d.Value.IsValid():
			return missing("property and value")
		}
	case OpCountRelated:
		switch {
		case d.Label == "":
			return missing("label")
		case d.ConceptID == "":
			return missing("concept_id")
		case d.EdgeLabel == "":
			return missing("edge_label")
		}
	case OpPath:
		switch {
		case d.From == "":
			return missing("from")
		case d.To.Property == "" || !d.To.Value.IsValid():
			return missing("to.property and to.value")
		case d.MaxHops < 0:
			return errors.WrapInvalid(fmt.Errorf("max_hops must be positive, got %d", d.MaxHops),
				"Descriptor", "Validate", "validate query descriptor")
		}
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown op %q", d.Op),
			"Descriptor", "Validate", "validate query descriptor")
	}
	return nil
}

// PathQuery converts a path descriptor, applying defaultMaxHops when unset.
func (d *Descriptor) PathQuery(defaultMaxHops int) PathQuery {
	hops := d.MaxHops
	if hops == 0 {
		hops = defaultMaxHops
	}
	return PathQuery{StartConcept: d.From, Target: d.To, EdgeFilter: d.EdgeFilter, MaxHops: hops}
}
