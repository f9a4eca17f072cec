package schema

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
)

// Plan is the ingestion plan for one document.
type Plan struct {
	Label      string
	Properties graph.Properties
	Children   []ChildNode
}

// ChildNode describes a vertex built from a separate-node entry and the edge
// joining it to the document vertex.
type ChildNode struct {
	Label        string
	Relationship string
	KeyProperty  string
	Properties   graph.Properties
	// EdgeProperties is nil when the entry configures no relationshipProperties.
	EdgeProperties graph.Properties
}

// Key returns the child's identity property.
func (c ChildNode) Key() (graph.Property, bool) {
	v, ok := c.Properties.Get(c.KeyProperty)
	if !ok {
		return graph.Property{}, false
	}
	return graph.P(c.KeyProperty, v), true
}

type compiledEntry struct {
	Entry
	code *gojq.Code
}

// Interpreter evaluates a compiled index against documents. It is immutable
// and safe for concurrent use.
type Interpreter struct {
	entries []compiledEntry
}

// Compile validates and parses every graph entry's Field selector. Indexes
// built in code rather than through Parse get the same checks.
func Compile(idx *Index) (*Interpreter, error) {
	if idx == nil {
		return nil, &errors.SchemaEvaluationError{Err: fmt.Errorf("nil index")}
	}
	graphEntries := idx.GraphEntries()
	in := &Interpreter{entries: make([]compiledEntry, 0, len(graphEntries))}

	for _, e := range graphEntries {
		if err := e.validate(); err != nil {
			return nil, &errors.SchemaEvaluationError{Entry: e.Name, Field: e.Field, Err: err}
		}
		query, err := gojq.Parse(e.Field)
		if err != nil {
			return nil, &errors.SchemaEvaluationError{Entry: e.Name, Field: e.Field, Err: err}
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, &errors.SchemaEvaluationError{Entry: e.Name, Field: e.Field, Err: err}
		}
		in.entries = append(in.entries, compiledEntry{Entry: e, code: code})
	}
	return in, nil
}

// MustCompile is Compile for indexes known to be valid, such as test fixtures.
func MustCompile(idx *Index) *Interpreter {
	in, err := Compile(idx)
	if err != nil {
		panic(err)
	}
	return in
}

// Len reports the number of graph entries.
func (in *Interpreter) Len() int { return len(in.entries) }

// DocumentLabel returns MetadataSpecification.Name of a document.
func DocumentLabel(doc map[string]any) (string, error) {
	spec, ok := doc["MetadataSpecification"].(map[string]any)
	if !ok {
		return "", &errors.SchemaEvaluationError{
			Field: ".MetadataSpecification.Name",
			Err:   fmt.Errorf("document has no MetadataSpecification object"),
		}
	}
	name, ok := spec["Name"].(string)
	if !ok || name == "" {
		return "", &errors.SchemaEvaluationError{
			Field: ".MetadataSpecification.Name",
			Err:   fmt.Errorf("document has no MetadataSpecification.Name"),
		}
	}
	return name, nil
}

// Interpret builds the ingestion plan for doc. Either the whole plan is
// returned or a SchemaEvaluationError; nothing is partially applied.
func (in *Interpreter) Interpret(ctx context.Context, doc map[string]any) (*Plan, error) {
	label, err := DocumentLabel(doc)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Label: label, Properties: graph.Properties{}, Children: []ChildNode{}}
	for _, e := range in.entries {
		result, err := e.evaluate(ctx, doc)
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}

		switch e.Indexer {
		case IndexerProperty:
			if v, ok := graph.FromAny(result); ok {
				plan.Properties.Set(e.Name, v)
			}
		case IndexerSeparateNode:
			children, err := e.children(result)
			if err != nil {
				return nil, err
			}
			plan.Children = append(plan.Children, children...)
		default:
			return nil, &errors.SchemaEvaluationError{
				Entry: e.Name, Field: e.Field,
				Err: fmt.Errorf("unknown Indexer %q", e.Indexer),
			}
		}
	}
	return plan, nil
}

// evaluate runs the selector. No output yields nil; several outputs are
// gathered into one array.
func (e compiledEntry) evaluate(ctx context.Context, doc map[string]any) (any, error) {
	iter := e.code.RunWithContext(ctx, doc)
	var outputs []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if haltErr, isHalt := err.(*gojq.HaltError); isHalt && haltErr.Value() == nil {
				break
			}
			return nil, &errors.SchemaEvaluationError{Entry: e.Name, Field: e.Field, Err: err}
		}
		outputs = append(outputs, v)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}

func (e compiledEntry) children(result any) ([]ChildNode, error) {
	if items, ok := result.([]any); ok {
		out := make([]ChildNode, 0, len(items))
		for i, item := range items {
			child, err := e.child(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, child)
		}
		return out, nil
	}

	child, err := e.child(result)
	if err != nil {
		return nil, err
	}
	return []ChildNode{child}, nil
}

func (e compiledEntry) child(item any) (ChildNode, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return ChildNode{}, &errors.SchemaEvaluationError{
			Entry: e.Name, Field: e.Field,
			Err: fmt.Errorf("separate-node value is %T, want object", item),
		}
	}

	cfg := e.Configuration
	child := ChildNode{
		Label:        e.Name,
		Relationship: cfg.Relationship,
		KeyProperty:  cfg.Key(),
		Properties:   pick(obj, cfg.Properties),
	}
	if cfg.RelationshipProperties != nil {
		child.EdgeProperties = pick(obj, cfg.RelationshipProperties)
	}

	if _, ok := child.Key(); !ok {
		return ChildNode{}, &errors.SchemaEvaluationError{
			Entry: e.Name, Field: e.Field,
			Err: fmt.Errorf("separate-node object has no key property %q", child.KeyProperty),
		}
	}
	return child, nil
}

func pick(obj map[string]any, keys []string) graph.Properties {
	props := make(graph.Properties, 0, len(keys))
	for _, k := range keys {
		if v, ok := graph.FromAny(obj[k]); ok {
			props.Set(k, v)
		}
	}
	return props
}
