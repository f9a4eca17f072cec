package graph

// ConceptIDProperty is the property holding a concept vertex's external identity.
const ConceptIDProperty = "id"

// Vertex is a labeled property-bag node. ID is assigned by the store.
type Vertex struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Properties Properties `json:"properties"`
}

// ConceptID returns the vertex's "id" property as text, if present.
func (v Vertex) ConceptID() string {
	val, ok := v.Properties.Get(ConceptIDProperty)
	if !ok {
		return ""
	}
	return val.Text()
}

// Edge is a directed, labeled relationship from From to To.
type Edge struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Properties Properties `json:"properties,omitempty"`
}
