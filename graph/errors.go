// Package graph provides the property-graph data model and the Store contract
// that the mutator, ACL and query packages are written against.
package graph

import "errors"

// Sentinel errors for graph store operations.
// Backends wrap these with behavioral classification (Transient/Fatal/Invalid).

// Vertex errors
var (
	// ErrVertexNotFound indicates the requested vertex does not exist
	ErrVertexNotFound = errors.New("vertex not found")

	// ErrInvalidLabel indicates an empty or unusable vertex or edge label
	ErrInvalidLabel = errors.New("invalid label")

	// ErrInvalidKey indicates an identity key without a name or value
	ErrInvalidKey = errors.New("invalid identity key")

	// ErrInvalidVertexID indicates an empty vertex identity
	ErrInvalidVertexID = errors.New("invalid vertex ID")
)

// Store errors
var (
	// ErrStoreClosed indicates the store was used after Close
	ErrStoreClosed = errors.New("graph store closed")

	// ErrCorruptRecord indicates a stored record could not be decoded
	ErrCorruptRecord = errors.New("corrupt graph record")
)
