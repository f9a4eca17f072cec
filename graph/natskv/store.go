// Package natskv implements graph.Store on a NATS JetStream key-value bucket.
//
// The bucket holds five kinds of keys:
//
//	v.<vertexID>      vertex record (graph.Vertex JSON)
//	vk.<digest>       identity index: label + key property -> vertex ID
//	e.<edgeID>        edge record (graph.Edge JSON)
//	ek.<digest>       edge index: from + label + to -> edge ID
//	out.<vertexID>    adjacency: JSON array of outgoing edge IDs
//
// Identity and edge index keys are claimed with KeyValue.Create, which the
// server applies only when the key is absent. Whoever wins the claim creates
// the record, so processes sharing a bucket converge on one vertex per
// identity and one edge per (from, label, to). Adjacency lists are updated
// with compare-and-swap and retried on conflict.
package natskv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
)

// Key prefixes
const (
	vertexPrefix    = "v."
	vertexKeyPrefix = "vk."
	edgePrefix      = "e."
	edgeKeyPrefix   = "ek."
	adjacencyPrefix = "out."
)

// DefaultCASAttempts bounds compare-and-swap retries on one key.
const DefaultCASAttempts = 10

// Store is a graph.Store over one JetStream KV bucket.
type Store struct {
	kv          jetstream.KeyValue
	logger      *slog.Logger
	newID       func() string
	casAttempts uint
	onClose     func(context.Context) error
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator replaces the UUID generator. Generated IDs must be valid
// key tokens.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithCASAttempts bounds compare-and-swap retries.
func WithCASAttempts(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.casAttempts = n
		}
	}
}

// WithCloser runs fn on Close, e.g. to close the owning NATS client.
func WithCloser(fn func(context.Context) error) Option {
	return func(s *Store) { s.onClose = fn }
}

// New creates a Store on kv
func New(kv jetstream.KeyValue, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("key-value bucket is required"), "natskv.Store", "New",
			"validate bucket")
	}
	s := &Store{
		kv:          kv,
		logger:      slog.Default(),
		newID:       uuid.NewString,
		casAttempts: DefaultCASAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func vertexKey(id string) string    { return vertexPrefix + id }
func edgeKey(id string) string      { return edgePrefix + id }
func adjacencyKey(id string) string { return adjacencyPrefix + id }

func identityKey(label string, key graph.Property) string {
	return vertexKeyPrefix + digest(graph.IdentityKey(label, key))
}

func edgeIdentityKey(from, label, to string) string {
	return edgeKeyPrefix + digest(from, label, to)
}

// validID rejects IDs that would address keys outside the vertex namespace.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ".*> \t")
}

// claim creates key with value unless it exists. It returns the stored value
// and whether this call created it.
func (s *Store) claim(ctx context.Context, key, value string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err == nil {
		return string(entry.Value()), false, nil
	}
	if !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, err
	}

	if _, err := s.kv.Create(ctx, key, []byte(value)); err != nil {
		if !stderrors.Is(err, jetstream.ErrKeyExists) {
			return "", false, err
		}
		// Lost the race; read the winner's value
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			return "", false, err
		}
		return string(entry.Value()), false, nil
	}
	return value, true, nil
}

// createRecord writes a record unless one exists under key.
func (s *Store) createRecord(ctx context.Context, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := s.kv.Create(ctx, key, data); err != nil && !stderrors.Is(err, jetstream.ErrKeyExists) {
		return err
	}
	return nil
}

// EnsureVertex implements graph.Store
func (s *Store) EnsureVertex(ctx context.Context, label string, key graph.Property, props graph.Properties) (string, bool, error) {
	if label == "" {
		return "", false, graph.ErrInvalidLabel
	}
	if key.Name == "" || !key.Value.IsValid() {
		return "", false, graph.ErrInvalidKey
	}

	id, created, err := s.claim(ctx, identityKey(label, key), s.newID())
	if err != nil {
		return "", false, errors.WrapTransient(err, "natskv.Store", "EnsureVertex", "claim vertex identity")
	}

	record := graph.Properties{key}
	for _, p := range props {
		if p.Name != key.Name {
			record.Set(p.Name, p.Value)
		}
	}
	// A claim without its record (crash between the two writes) is completed
	// by the next caller.
	v := graph.Vertex{ID: id, Label: label, Properties: record}
	if err := s.createRecord(ctx, vertexKey(id), v); err != nil {
		return "", false, errors.WrapTransient(err, "natskv.Store", "EnsureVertex", "write vertex record")
	}
	return id, created, nil
}

// EnsureEdge implements graph.Store
func (s *Store) EnsureEdge(ctx context.Context, from, to, label string, props graph.Properties) (string, bool, error) {
	if label == "" {
		return "", false, graph.ErrInvalidLabel
	}
	for _, end := range []struct{ role, id string }{{"source", from}, {"target", to}} {
		if _, err := s.GetVertex(ctx, end.id); err != nil {
			if stderrors.Is(err, graph.ErrVertexNotFound) {
				return "", false, fmt.Errorf("edge %s %s: %w", end.role, end.id, graph.ErrVertexNotFound)
			}
			return "", false, err
		}
	}

	id, created, err := s.claim(ctx, edgeIdentityKey(from, label, to), s.newID())
	if err != nil {
		return "", false, errors.WrapTransient(err, "natskv.Store", "EnsureEdge", "claim edge identity")
	}

	e := graph.Edge{ID: id, Label: label, From: from, To: to, Properties: props.Clone()}
	if err := s.createRecord(ctx, edgeKey(id), e); err != nil {
		return "", false, errors.WrapTransient(err, "natskv.Store", "EnsureEdge", "write edge record")
	}
	if err := s.appendAdjacency(ctx, from, id); err != nil {
		return "", false, err
	}
	return id, created, nil
}

// appendAdjacency adds edgeID to the out-list of vertexID.
func (s *Store) appendAdjacency(ctx context.Context, vertexID, edgeID string) error {
	key := adjacencyKey(vertexID)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		entry, err := s.kv.Get(ctx, key)
		switch {
		case stderrors.Is(err, jetstream.ErrKeyNotFound):
			data, _ := json.Marshal([]string{edgeID})
			_, err = s.kv.Create(ctx, key, data)
			return struct{}{}, err
		case err != nil:
			return struct{}{}, err
		}

		var ids []string
		if err := json.Unmarshal(entry.Value(), &ids); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%s: %w", key, graph.ErrCorruptRecord))
		}
		if slices.Contains(ids, edgeID) {
			return struct{}{}, nil
		}
		data, _ := json.Marshal(append(ids, edgeID))
		_, err = s.kv.Update(ctx, key, data, entry.Revision())
		return struct{}{}, err
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     5 * time.Millisecond,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         250 * time.Millisecond,
		}),
		backoff.WithMaxTries(s.casAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("adjacency update conflict, retrying", "vertex_id", vertexID, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		if stderrors.Is(err, graph.ErrCorruptRecord) {
			return errors.WrapFatal(err, "natskv.Store", "EnsureEdge", "decode adjacency")
		}
		return errors.WrapTransient(err, "natskv.Store", "EnsureEdge", "update adjacency")
	}
	return nil
}

// SetVertexProperty implements graph.Store
func (s *Store) SetVertexProperty(ctx context.Context, id string, prop graph.Property) error {
	if !validID(id) {
		return graph.ErrVertexNotFound
	}
	key := vertexKey(id)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				return struct{}{}, backoff.Permanent(graph.ErrVertexNotFound)
			}
			return struct{}{}, err
		}
		v, err := decodeVertex(entry.Value())
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		v.Properties.Set(prop.Name, prop.Value)
		data, err := json.Marshal(v)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		_, err = s.kv.Update(ctx, key, data, entry.Revision())
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.casAttempts),
	)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, graph.ErrVertexNotFound):
		return graph.ErrVertexNotFound
	case stderrors.Is(err, graph.ErrCorruptRecord):
		return errors.WrapFatal(err, "natskv.Store", "SetVertexProperty", "decode vertex")
	default:
		return errors.WrapTransient(err, "natskv.Store", "SetVertexProperty", "update vertex")
	}
}

func decodeVertex(data []byte) (graph.Vertex, error) {
	var v graph.Vertex
	if err := json.Unmarshal(data, &v); err != nil {
		return graph.Vertex{}, fmt.Errorf("%w: %v", graph.ErrCorruptRecord, err)
	}
	return v, nil
}

// GetVertex implements graph.Store
func (s *Store) GetVertex(ctx context.Context, id string) (graph.Vertex, error) {
	if !validID(id) {
		return graph.Vertex{}, graph.ErrVertexNotFound
	}
	entry, err := s.kv.Get(ctx, vertexKey(id))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return graph.Vertex{}, graph.ErrVertexNotFound
		}
		return graph.Vertex{}, errors.WrapTransient(err, "natskv.Store", "GetVertex", "read vertex")
	}
	v, err := decodeVertex(entry.Value())
	if err != nil {
		return graph.Vertex{}, errors.WrapFatal(err, "natskv.Store", "GetVertex", "decode vertex")
	}
	return v, nil
}

// FindVertices implements graph.Store. It scans every vertex record.
func (s *Store) FindVertices(ctx context.Context, label string, filters ...graph.Filter) ([]graph.Vertex, error) {
	lister, err := s.kv.ListKeysFiltered(ctx, vertexPrefix+"*")
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []graph.Vertex{}, nil
		}
		return nil, errors.WrapTransient(err, "natskv.Store", "FindVertices", "list vertex keys")
	}
	defer func() { _ = lister.Stop() }()

	result := make([]graph.Vertex, 0)
	for key := range lister.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "natskv.Store", "FindVertices", "read vertex")
		}
		v, err := decodeVertex(entry.Value())
		if err != nil {
			s.logger.Warn("skipping corrupt vertex record", "key", key, "error", err)
			continue
		}
		if label != "" && v.Label != label {
			continue
		}
		if graph.MatchAll(v.Properties, filters) {
			result = append(result, v)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "natskv.Store", "FindVertices", "list vertex keys")
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CountVertices implements graph.Store
func (s *Store) CountVertices(ctx context.Context, label string, filters ...graph.Filter) (int, error) {
	vs, err := s.FindVertices(ctx, label, filters...)
	if err != nil {
		return 0, err
	}
	return len(vs), nil
}

// OutEdges implements graph.Store
func (s *Store) OutEdges(ctx context.Context, vertexID, edgeLabel string) ([]graph.Edge, error) {
	if !validID(vertexID) {
		return []graph.Edge{}, nil
	}
	entry, err := s.kv.Get(ctx, adjacencyKey(vertexID))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return []graph.Edge{}, nil
		}
		return nil, errors.WrapTransient(err, "natskv.Store", "OutEdges", "read adjacency")
	}
	var ids []string
	if err := json.Unmarshal(entry.Value(), &ids); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", graph.ErrCorruptRecord, err),
			"natskv.Store", "OutEdges", "decode adjacency")
	}

	result := make([]graph.Edge, 0, len(ids))
	for _, id := range ids {
		entry, err := s.kv.Get(ctx, edgeKey(id))
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "natskv.Store", "OutEdges", "read edge")
		}
		var e graph.Edge
		if err := json.Unmarshal(entry.Value(), &e); err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %v", graph.ErrCorruptRecord, err),
				"natskv.Store", "OutEdges", "decode edge")
		}
		if edgeLabel != "" && e.Label != edgeLabel {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].To == result[j].To {
			return result[i].Label < result[j].Label
		}
		return result[i].To < result[j].To
	})
	return result, nil
}

// Close implements graph.Store
func (s *Store) Close(ctx context.Context) error {
	if s.onClose != nil {
		return s.onClose(ctx)
	}
	return nil
}

var _ graph.Store = (*Store)(nil)
