// Package errors provides standardized error handling patterns for graphdb.
//
// # Overview
//
// The package implements a three-class error classification: Transient
// (temporary, retryable), Invalid (bad input, non-retryable) and Fatal
// (unrecoverable). Ingestion consumers use the class to decide whether a
// document is retried, dropped or escalated.
//
// # Domain errors
//
// Core components report failures with typed errors:
//
//   - SchemaEvaluationError: a field selector could not be compiled or evaluated
//   - GraphMutationError: the store rejected a lookup or write during an upsert
//   - QueryExecutionError: the store rejected a read
//   - AclViolation: the resource exists but the caller's groups cannot read it
//   - TraversalLimitExceeded: a path search hit its hop ceiling
//
// Schema, ACL and traversal errors always classify as Invalid. Mutation and
// query errors classify through their cause, so a store timeout stays Transient:
//
//	if err := eng.Ingest(ctx, doc, idx, conceptID); err != nil {
//	    if errors.IsTransient(err) {
//	        return err // redeliver
//	    }
//	    logger.Warn("dropping document", "error", err)
//	}
//
// # Wrapping
//
// Wrap follows the pattern "component.method: action failed: %w":
//
//	return errors.WrapTransient(err, "Store", "EnsureVertex", "kv create")
package errors
