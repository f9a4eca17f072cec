package engine

import (
	"context"
	"fmt"

	"github.com/c360/graphdb/schema"
)

// Issue severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationIssue describes one problem found in an index.
type ValidationIssue struct {
	Severity string `json:"severity"`
	Entry    string `json:"entry,omitempty"`
	Sample   int    `json:"sample,omitempty"`
	Message  string `json:"message"`
}

// ValidationResult is the report produced by ValidateIndex.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	Entries      int               `json:"entries"`
	GraphEntries int               `json:"graph_entries"`
	Samples      int               `json:"samples"`
	Errors       []ValidationIssue `json:"errors"`
	Warnings     []ValidationIssue `json:"warnings"`
}

func (r *ValidationResult) add(issue ValidationIssue) {
	if issue.Severity == SeverityError {
		r.Errors = append(r.Errors, issue)
		r.Valid = false
		return
	}
	r.Warnings = append(r.Warnings, issue)
}

// ValidateIndex compiles idx and interprets every sample with it. Compile
// failures are returned as errors; evaluation failures and entries that never
// produce output are reported as issues.
func ValidateIndex(ctx context.Context, idx *schema.Index, samples ...map[string]any) (*ValidationResult, error) {
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	in, err := schema.Compile(idx)
	if err != nil {
		return nil, err
	}

	graphEntries := idx.GraphEntries()
	result := &ValidationResult{
		Valid:        true,
		Entries:      len(idx.Indexes),
		GraphEntries: in.Len(),
		Samples:      len(samples),
		Errors:       []ValidationIssue{},
		Warnings:     []ValidationIssue{},
	}

	for _, e := range idx.Indexes {
		if !e.IsGraph() {
			result.add(ValidationIssue{
				Severity: SeverityWarning,
				Entry:    e.Name,
				Message:  fmt.Sprintf("type %q is not indexed into the graph", e.Type),
			})
		}
	}

	if len(samples) == 0 {
		return result, nil
	}

	produced := make(map[string]bool, len(graphEntries))
	for i, doc := range samples {
		plan, err := in.Interpret(ctx, doc)
		if err != nil {
			result.add(ValidationIssue{Severity: SeverityError, Sample: i + 1, Message: err.Error()})
			continue
		}
		for _, name := range plan.Properties.Names() {
			produced[name] = true
		}
		for _, c := range plan.Children {
			produced[c.Label] = true
		}
	}

	for _, e := range graphEntries {
		if !produced[e.Name] {
			result.add(ValidationIssue{
				Severity: SeverityWarning,
				Entry:    e.Name,
				Message:  fmt.Sprintf("field %s selected nothing in %d sample(s)", e.Field, len(samples)),
			})
		}
	}
	return result, nil
}
