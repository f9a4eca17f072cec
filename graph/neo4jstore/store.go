// Package neo4jstore implements graph.Store on Neo4j.
//
// Every vertex is a :GraphVertex node and every edge a :GRAPH_EDGE
// relationship; the graph label is a property, so labels never have to be
// spliced into Cypher text. Properties are kept as one ordered JSON string
// and filtered after retrieval, which preserves their types and order.
//
// EnsureVertex relies on MERGE against the unique identity constraint that
// EnsureSchema creates, so concurrent writers converge on one node.
package neo4jstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
)

// Config holds Neo4j connection settings. Token, when set, is sent as a
// bearer token instead of basic auth.
type Config struct {
	URI      string
	Username string
	Password string
	Token    string
	Database string
}

// Runner executes one Cypher statement. write selects a write transaction.
type Runner func(ctx context.Context, cypher string, params map[string]any, write bool) (*neo4j.EagerResult, error)

// Store is a graph.Store backed by Neo4j.
type Store struct {
	run         Runner
	close       func(context.Context) error
	logger      *slog.Logger
	newID       func() string
	casAttempts uint
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

// WithIDGenerator replaces the UUID generator
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewWithRunner creates a Store that sends every statement to run.
func NewWithRunner(run Runner, opts ...Option) *Store {
	s := &Store{
		run:         run,
		logger:      slog.Default(),
		newID:       uuid.NewString,
		casAttempts: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to Neo4j, verifies connectivity and ensures the schema.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("neo4j uri is required"), "neo4jstore", "Open", "validate config")
	}
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	if cfg.Token != "" {
		auth = neo4j.BearerAuth(cfg.Token)
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, errors.WrapInvalid(err, "neo4jstore", "Open", "create driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.WrapTransient(err, "neo4jstore", "Open", "verify connectivity")
	}

	s := NewWithRunner(driverRunner(driver, cfg.Database), opts...)
	s.close = driver.Close
	if err := s.EnsureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func driverRunner(driver neo4j.DriverWithContext, database string) Runner {
	return func(ctx context.Context, cypher string, params map[string]any, write bool) (*neo4j.EagerResult, error) {
		routing := neo4j.ExecuteQueryWithReadersRouting()
		if write {
			routing = neo4j.ExecuteQueryWithWritersRouting()
		}
		opts := []neo4j.ExecuteQueryConfigurationOption{routing}
		if database != "" {
			opts = append(opts, neo4j.ExecuteQueryWithDatabase(database))
		}
		return neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	}
}

// Schema statements
var schemaStatements = []string{
	"CREATE CONSTRAINT graph_vertex_identity IF NOT EXISTS FOR (v:GraphVertex) REQUIRE v.identity IS UNIQUE",
	"CREATE CONSTRAINT graph_vertex_id IF NOT EXISTS FOR (v:GraphVertex) REQUIRE v.id IS UNIQUE",
	"CREATE INDEX graph_vertex_label IF NOT EXISTS FOR (v:GraphVertex) ON (v.label)",
	"CREATE INDEX graph_vertex_concept IF NOT EXISTS FOR (v:GraphVertex) ON (v.conceptId)",
}

// EnsureSchema creates the constraints and indexes the store relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.run(ctx, stmt, nil, true); err != nil {
			return errors.WrapTransient(err, "neo4jstore", "EnsureSchema", "create schema")
		}
	}
	return nil
}

// Cypher statements
const (
	ensureVertexCypher = `MERGE (v:GraphVertex {identity: $identity})
ON CREATE SET v.id = $id, v.label = $label, v.conceptId = $conceptId, v.props = $props, v.version = 0, v.fresh = true
WITH v, coalesce(v.fresh, false) AS created
REMOVE v.fresh
RETURN v.id AS id, created`

	ensureEdgeCypher = `MATCH (a:GraphVertex {id: $from}), (b:GraphVertex {id: $to})
MERGE (a)-[r:GRAPH_EDGE {label: $label}]->(b)
ON CREATE SET r.id = $id, r.props = $props, r.fresh = true
WITH r, coalesce(r.fresh, false) AS created
REMOVE r.fresh
RETURN r.id AS id, created`

	readVertexCypher = `MATCH (v:GraphVertex {id: $id})
RETURN v.id AS id, v.label AS label, v.props AS props, coalesce(v.version, 0) AS version`

	casVertexCypher = `MATCH (v:GraphVertex {id: $id})
WHERE coalesce(v.version, 0) = $version
SET v.props = $props, v.version = $version + 1
RETURN v.id AS id`

	outEdgesCypher = `MATCH (a:GraphVertex {id: $id})-[r:GRAPH_EDGE]->(b:GraphVertex)
WHERE $label = '' OR r.label = $label
RETURN r.id AS id, r.label AS label, b.id AS to, r.props AS props
ORDER BY to, label`
)

// findVerticesCypher pushes label and concept-id equality down to Neo4j;
// remaining filters run on the decoded properties.
func findVerticesCypher(label string, conceptID *string) (string, map[string]any) {
	cypher := "MATCH (v:GraphVertex)"
	params := map[string]any{}
	where := ""
	if label != "" {
		where = "v.label = $label"
		params["label"] = label
	}
	if conceptID != nil {
		if where != "" {
			where += " AND "
		}
		where += "v.conceptId = $conceptId"
		params["conceptId"] = *conceptID
	}
	if where != "" {
		cypher += "\nWHERE " + where
	}
	cypher += "\nRETURN v.id AS id, v.label AS label, v.props AS props\nORDER BY id"
	return cypher, params
}

func identity(label string, key graph.Property) string {
	sum := sha256.Sum256([]byte(graph.IdentityKey(label, key)))
	return hex.EncodeToString(sum[:])
}

func encodeProps(p graph.Properties) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeProps(raw string) (graph.Properties, error) {
	var p graph.Properties
	if raw == "" {
		return graph.Properties{}, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrCorruptRecord, err)
	}
	return p, nil
}

// EnsureVertex implements graph.Store
func (s *Store) EnsureVertex(ctx context.Context, label string, key graph.Property, props graph.Properties) (string, bool, error) {
	if label == "" {
		return "", false, graph.ErrInvalidLabel
	}
	if key.Name == "" || !key.Value.IsValid() {
		return "", false, graph.ErrInvalidKey
	}

	record := graph.Properties{key}
	for _, p := range props {
		if p.Name != key.Name {
			record.Set(p.Name, p.Value)
		}
	}
	encoded, err := encodeProps(record)
	if err != nil {
		return "", false, errors.WrapInvalid(err, "neo4jstore", "EnsureVertex", "encode properties")
	}

	var conceptID any
	if key.Name == graph.ConceptIDProperty {
		conceptID = key.Value.Text()
	}
	res, err := s.run(ctx, ensureVertexCypher, map[string]any{
		"identity":  identity(label, key),
		"id":        s.newID(),
		"label":     label,
		"conceptId": conceptID,
		"props":     encoded,
	}, true)
	if err != nil {
		return "", false, errors.WrapTransient(err, "neo4jstore", "EnsureVertex", "merge vertex")
	}
	return idAndCreated(res, "EnsureVertex")
}

func idAndCreated(res *neo4j.EagerResult, op string) (string, bool, error) {
	if len(res.Records) == 0 {
		return "", false, graph.ErrVertexNotFound
	}
	rec := res.Records[0]
	id, _, err := neo4j.GetRecordValue[string](rec, "id")
	if err != nil {
		return "", false, errors.WrapFatal(err, "neo4jstore", op, "read id")
	}
	created, _, err := neo4j.GetRecordValue[bool](rec, "created")
	if err != nil {
		return "", false, errors.WrapFatal(err, "neo4jstore", op, "read created flag")
	}
	return id, created, nil
}

// EnsureEdge implements graph.Store
func (s *Store) EnsureEdge(ctx context.Context, from, to, label string, props graph.Properties) (string, bool, error) {
	if label == "" {
		return "", false, graph.ErrInvalidLabel
	}
	encoded, err := encodeProps(props)
	if err != nil {
		return "", false, errors.WrapInvalid(err, "neo4jstore", "EnsureEdge", "encode properties")
	}
	res, err := s.run(ctx, ensureEdgeCypher, map[string]any{
		"from":  from,
		"to":    to,
		"label": label,
		"id":    s.newID(),
		"props": encoded,
	}, true)
	if err != nil {
		return "", false, errors.WrapTransient(err, "neo4jstore", "EnsureEdge", "merge edge")
	}
	id, created, err := idAndCreated(res, "EnsureEdge")
	if stderrors.Is(err, graph.ErrVertexNotFound) {
		return "", false, fmt.Errorf("edge %s -> %s: %w", from, to, graph.ErrVertexNotFound)
	}
	return id, created, err
}

// SetVertexProperty implements graph.Store. It reads the property bag and
// writes it back guarded by the vertex version, retrying on conflict.
func (s *Store) SetVertexProperty(ctx context.Context, id string, prop graph.Property) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		res, err := s.run(ctx, readVertexCypher, map[string]any{"id": id}, false)
		if err != nil {
			return struct{}{}, err
		}
		if len(res.Records) == 0 {
			return struct{}{}, backoff.Permanent(graph.ErrVertexNotFound)
		}
		rec := res.Records[0]
		raw, _, _ := neo4j.GetRecordValue[string](rec, "props")
		version, _, err := neo4j.GetRecordValue[int64](rec, "version")
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", graph.ErrCorruptRecord, err))
		}
		props, err := decodeProps(raw)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		props.Set(prop.Name, prop.Value)
		encoded, err := encodeProps(props)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		res, err = s.run(ctx, casVertexCypher, map[string]any{"id": id, "version": version, "props": encoded}, true)
		if err != nil {
			return struct{}{}, err
		}
		if len(res.Records) == 0 {
			return struct{}{}, errVersionConflict
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.casAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("vertex update retry", "vertex_id", id, "error", err, "retry_in", next)
		}),
	)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, graph.ErrVertexNotFound):
		return graph.ErrVertexNotFound
	case stderrors.Is(err, graph.ErrCorruptRecord):
		return errors.WrapFatal(err, "neo4jstore", "SetVertexProperty", "decode vertex")
	default:
		return errors.WrapTransient(err, "neo4jstore", "SetVertexProperty", "update vertex")
	}
}

var errVersionConflict = stderrors.New("vertex version conflict")

// GetVertex implements graph.Store
func (s *Store) GetVertex(ctx context.Context, id string) (graph.Vertex, error) {
	res, err := s.run(ctx, readVertexCypher, map[string]any{"id": id}, false)
	if err != nil {
		return graph.Vertex{}, errors.WrapTransient(err, "neo4jstore", "GetVertex", "read vertex")
	}
	if len(res.Records) == 0 {
		return graph.Vertex{}, graph.ErrVertexNotFound
	}
	v, err := decodeVertex(res.Records[0])
	if err != nil {
		return graph.Vertex{}, errors.WrapFatal(err, "neo4jstore", "GetVertex", "decode vertex")
	}
	return v, nil
}

func decodeVertex(rec *neo4j.Record) (graph.Vertex, error) {
	id, _, err := neo4j.GetRecordValue[string](rec, "id")
	if err != nil {
		return graph.Vertex{}, fmt.Errorf("%w: %v", graph.ErrCorruptRecord, err)
	}
	label, _, err := neo4j.GetRecordValue[string](rec, "label")
	if err != nil {
		return graph.Vertex{}, fmt.Errorf("%w: %v", graph.ErrCorruptRecord, err)
	}
	raw, _, _ := neo4j.GetRecordValue[string](rec, "props")
	props, err := decodeProps(raw)
	if err != nil {
		return graph.Vertex{}, err
	}
	return graph.Vertex{ID: id, Label: label, Properties: props}, nil
}

// FindVertices implements graph.Store
func (s *Store) FindVertices(ctx context.Context, label string, filters ...graph.Filter) ([]graph.Vertex, error) {
	var conceptID *string
	for _, f := range filters {
		if f.Name == graph.ConceptIDProperty && f.Op == graph.OpEquals && len(f.Values) == 1 &&
			f.Values[0].Kind() == graph.KindString {
			text := f.Values[0].Str()
			conceptID = &text
			break
		}
	}

	cypher, params := findVerticesCypher(label, conceptID)
	res, err := s.run(ctx, cypher, params, false)
	if err != nil {
		return nil, errors.WrapTransient(err, "neo4jstore", "FindVertices", "match vertices")
	}

	result := make([]graph.Vertex, 0, len(res.Records))
	for _, rec := range res.Records {
		v, err := decodeVertex(rec)
		if err != nil {
			s.logger.Warn("skipping corrupt vertex", "error", err)
			continue
		}
		if graph.MatchAll(v.Properties, filters) {
			result = append(result, v)
		}
	}
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
	res, err := s.run(ctx, outEdgesCypher, map[string]any{"id": vertexID, "label": edgeLabel}, false)
	if err != nil {
		return nil, errors.WrapTransient(err, "neo4jstore", "OutEdges", "match edges")
	}

	result := make([]graph.Edge, 0, len(res.Records))
	for _, rec := range res.Records {
		id, _, err := neo4j.GetRecordValue[string](rec, "id")
		if err != nil {
			return nil, errors.WrapFatal(err, "neo4jstore", "OutEdges", "read edge id")
		}
		label, _, _ := neo4j.GetRecordValue[string](rec, "label")
		to, _, _ := neo4j.GetRecordValue[string](rec, "to")
		raw, _, _ := neo4j.GetRecordValue[string](rec, "props")
		props, err := decodeProps(raw)
		if err != nil {
			return nil, errors.WrapFatal(err, "neo4jstore", "OutEdges", "decode edge")
		}
		if len(props) == 0 {
			props = nil
		}
		result = append(result, graph.Edge{ID: id, Label: label, From: vertexID, To: to, Properties: props})
	}
	return result, nil
}

// Close implements graph.Store
func (s *Store) Close(ctx context.Context) error {
	if s.close != nil {
		return s.close(ctx)
	}
	return nil
}

var _ graph.Store = (*Store)(nil)
