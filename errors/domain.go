package errors

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaEvaluationError reports an index entry whose field selector could not be
// compiled or evaluated against a document, or whose output could not be
// turned into graph properties.
type SchemaEvaluationError struct {
	Entry string
	Field string
	Err   error
}

func (e *SchemaEvaluationError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("schema evaluation: %v", e.Err)
	}
	return fmt.Sprintf("schema evaluation: entry %q (field %q): %v", e.Entry, e.Field, e.Err)
}

func (e *SchemaEvaluationError) Unwrap() error { return e.Err }

// GraphMutationError reports a store failure during an upsert. Identity holds
// the key the upsert was addressing, e.g. "id=C100-PROV1" or "v1->v2".
type GraphMutationError struct {
	Op       string
	Label    string
	Identity string
	Err      error
}

func (e *GraphMutationError) Error() string {
	return fmt.Sprintf("graph mutation %s %s[%s]: %v", e.Op, e.Label, e.Identity, e.Err)
}

func (e *GraphMutationError) Unwrap() error { return e.Err }

// QueryExecutionError reports a store failure during a read.
type QueryExecutionError struct {
	Op  string
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// AclViolation reports a resource that exists but is not visible to the
// caller's groups. It is distinct from a not-found result.
type AclViolation struct {
	Label    string
	Resource string
	Groups   []string
}

func (e *AclViolation) Error() string {
	return fmt.Sprintf("acl violation: %s %q is not readable by groups [%s]",
		e.Label, e.Resource, strings.Join(e.Groups, ","))
}

// TraversalLimitExceeded reports a path search that reached its hop ceiling
// with vertices still left to expand.
type TraversalLimitExceeded struct {
	From    string
	MaxHops int
}

func (e *TraversalLimitExceeded) Error() string {
	return fmt.Sprintf("path search from %q exceeded %d hops", e.From, e.MaxHops)
}

// IsAclViolation reports whether err is or wraps an AclViolation.
func IsAclViolation(err error) bool {
	var v *AclViolation
	return errors.As(err, &v)
}

// IsTraversalLimit reports whether err is or wraps a TraversalLimitExceeded.
func IsTraversalLimit(err error) bool {
	var v *TraversalLimitExceeded
	return errors.As(err, &v)
}

// IsSchemaEvaluation reports whether err is or wraps a SchemaEvaluationError.
func IsSchemaEvaluation(err error) bool {
	var v *SchemaEvaluationError
	return errors.As(err, &v)
}

func isPermanentDomainError(err error) bool {
	return IsAclViolation(err) || IsTraversalLimit(err) || IsSchemaEvaluation(err)
}
