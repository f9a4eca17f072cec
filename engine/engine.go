package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/graphdb/acl"
	"github.com/c360/graphdb/auth"
	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/query"
	"github.com/c360/graphdb/metric"
	"github.com/c360/graphdb/mutator"
	"github.com/c360/graphdb/schema"
)

// Ingest statuses
const (
	StatusCreated   = "created"
	StatusUpdated   = "updated"
	StatusUnchanged = "unchanged"
)

// Config tunes the components an Engine builds.
type Config struct {
	// Concurrency bounds child upserts per document. Zero uses mutator.DefaultConcurrency.
	Concurrency int
	// ResourceLabels are the ACL-governed labels. Empty uses acl.DefaultResourceLabels.
	ResourceLabels []string
	// MaxHops applies to path queries without their own limit. Zero uses query.DefaultMaxHops.
	MaxHops int
}

// Dependencies holds what an Engine needs. Token is optional.
type Dependencies struct {
	Store   graph.Store
	Token   auth.Provider
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
	Config  Config
}

// Engine is the caller-owned context for ingestion and queries.
type Engine struct {
	store   graph.Store
	token   auth.Provider
	mutator *mutator.Mutator
	acl     *acl.Model
	query   *query.Client
	logger  *slog.Logger
	metrics *metric.Metrics
	em      *engineMetrics

	mu           sync.Mutex
	interpreters map[string]*schema.Interpreter
}

// maxCompiledIndexes bounds the interpreter cache; it is emptied when full.
const maxCompiledIndexes = 64

// IngestResult reports the outcome of one document ingestion.
type IngestResult struct {
	Status         string   `json:"status"`
	ConceptID      string   `json:"concept_id"`
	Label          string   `json:"label"`
	VertexID       string   `json:"vertex_id"`
	ChildVertexIDs []string `json:"child_vertex_ids"`
	// EdgeIDs lists the edges this run created.
	EdgeIDs []string `json:"edge_ids"`
}

// New creates an Engine
func New(deps Dependencies) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("store is required"), "Engine", "New", "validate dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	core := deps.Metrics.CoreMetrics()

	mut, err := mutator.New(mutator.Dependencies{
		Store:       deps.Store,
		Logger:      deps.Logger.With("component", "mutator"),
		Metrics:     core,
		Concurrency: deps.Config.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	model, err := acl.New(acl.Dependencies{
		Store:          deps.Store,
		Mutator:        mut,
		Logger:         deps.Logger.With("component", "acl"),
		Metrics:        core,
		ResourceLabels: deps.Config.ResourceLabels,
	})
	if err != nil {
		return nil, err
	}

	qc, err := query.NewClient(query.Dependencies{
		Store:          deps.Store,
		ACL:            model,
		Logger:         deps.Logger.With("component", "query"),
		Metrics:        core,
		DefaultMaxHops: deps.Config.MaxHops,
	})
	if err != nil {
		return nil, err
	}

	em, err := newEngineMetrics(deps.Metrics)
	if err != nil {
		deps.Logger.Error("Failed to initialize engine metrics", "error", err)
		em = nil // Continue without metrics
	}

	return &Engine{
		store:        deps.Store,
		token:        deps.Token,
		mutator:      mut,
		acl:          model,
		query:        qc,
		logger:       deps.Logger,
		metrics:      core,
		em:           em,
		interpreters: make(map[string]*schema.Interpreter),
	}, nil
}

// ACL exposes the ACL model.
func (e *Engine) ACL() *acl.Model { return e.acl }

// QueryClient exposes the query client.
func (e *Engine) QueryClient() *query.Client { return e.query }

// Token returns the bearer token, fetching it on first use when the provider
// caches.
func (e *Engine) Token(ctx context.Context) (string, error) {
	if e.token == nil {
		return "", errors.WrapInvalid(auth.ErrNoToken, "Engine", "Token", "no token provider configured")
	}
	return e.token.Token(ctx)
}

// InvalidateToken drops a cached token so the next Token call fetches anew.
func (e *Engine) InvalidateToken() {
	if c, ok := e.token.(*auth.Cached); ok {
		c.Invalidate()
	}
}

// interpreter returns the compiled form of idx, compiling the first time its
// content is seen.
func (e *Engine) interpreter(idx *schema.Index) (*schema.Interpreter, error) {
	key := idx.Digest()

	e.mu.Lock()
	defer e.mu.Unlock()

	if in, ok := e.interpreters[key]; ok {
		return in, nil
	}
	in, err := schema.Compile(idx)
	if err != nil {
		return nil, err
	}
	if len(e.interpreters) >= maxCompiledIndexes {
		clear(e.interpreters)
	}
	e.interpreters[key] = in
	e.em.setCompiledIndexes(len(e.interpreters))
	return in, nil
}

// Ingest interprets doc against idx and upserts the result under conceptID.
// Any failure fails the whole document; repeating the call after a failure
// completes it without duplicating vertices or edges.
func (e *Engine) Ingest(ctx context.Context, doc map[string]any, idx *schema.Index, conceptID string) (*IngestResult, error) {
	start := time.Now()
	res, err := e.ingest(ctx, doc, idx, conceptID)
	status := "failed"
	if err == nil {
		status = res.Status
	}
	e.metrics.RecordIngest(status, time.Since(start))
	if err != nil {
		e.logger.Warn("ingest failed", "concept_id", conceptID, "error", err)
		return nil, err
	}

	e.logger.Info("document ingested",
		"concept_id", conceptID,
		"label", res.Label,
		"status", res.Status,
		"vertex_id", res.VertexID,
		"children", len(res.ChildVertexIDs),
		"new_edges", len(res.EdgeIDs))
	return res, nil
}

func (e *Engine) ingest(ctx context.Context, doc map[string]any, idx *schema.Index, conceptID string) (*IngestResult, error) {
	if idx == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("index is required"), "Engine", "Ingest", "validate arguments")
	}
	if conceptID == "" {
		return nil, errors.WrapInvalid(graph.ErrInvalidKey, "Engine", "Ingest", "validate concept id")
	}

	in, err := e.interpreter(idx)
	if err != nil {
		return nil, err
	}
	plan, err := in.Interpret(ctx, doc)
	if err != nil {
		return nil, err
	}
	applied, err := e.mutator.Apply(ctx, plan, conceptID)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{
		ConceptID:      conceptID,
		Label:          plan.Label,
		VertexID:       applied.Vertex.ID,
		ChildVertexIDs: make([]string, len(applied.Children)),
		EdgeIDs:        applied.CreatedEdgeIDs(),
	}
	for i, c := range applied.Children {
		res.ChildVertexIDs[i] = c.ID
	}

	switch {
	case applied.Vertex.Created:
		res.Status = StatusCreated
	case applied.Changed():
		res.Status = StatusUpdated
	default:
		res.Status = StatusUnchanged
	}
	return res, nil
}

// SearchResult is one record of a search backend response.
type SearchResult struct {
	Meta struct {
		ConceptID string `json:"concept-id"`
	} `json:"meta"`
	UMM map[string]any `json:"umm"`
}

// ParseSearchResults decodes an array of search results.
func ParseSearchResults(data []byte) ([]SearchResult, error) {
	var records []SearchResult
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "ParseSearchResults", "decode search results")
	}
	return records, nil
}

// IngestRecord ingests one search result.
func (e *Engine) IngestRecord(ctx context.Context, rec SearchResult, idx *schema.Index) (*IngestResult, error) {
	if rec.Meta.ConceptID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("record has no meta.concept-id"),
			"Engine", "IngestRecord", "validate record")
	}
	return e.Ingest(ctx, rec.UMM, idx, rec.Meta.ConceptID)
}

// IngestBatch ingests records in order and stops at the first failure,
// returning the results gathered so far alongside the error.
func (e *Engine) IngestBatch(ctx context.Context, records []SearchResult, idx *schema.Index) ([]*IngestResult, error) {
	start := time.Now()
	results := make([]*IngestResult, 0, len(records))
	for i, rec := range records {
		res, err := e.IngestRecord(ctx, rec, idx)
		if err != nil {
			e.em.recordBatch(len(results), false, time.Since(start).Seconds())
			return results, fmt.Errorf("record %d (%s): %w", i, rec.Meta.ConceptID, err)
		}
		results = append(results, res)
	}
	e.em.recordBatch(len(results), true, time.Since(start).Seconds())
	return results, nil
}

// IndexACL stores an ACL document and links it to the resources of its groups.
func (e *Engine) IndexACL(ctx context.Context, doc *acl.Document) (*acl.IndexResult, error) {
	return e.acl.Index(ctx, doc)
}

// TagResource overwrites the Groups property of a governed resource.
func (e *Engine) TagResource(ctx context.Context, label, conceptID string, groups []string) error {
	return e.acl.TagResourceWithGroups(ctx, label, conceptID, groups)
}

// Query executes desc. A nil groups slice runs unscoped.
func (e *Engine) Query(ctx context.Context, desc query.Descriptor, groups []string) (*query.Result, error) {
	return e.query.Execute(ctx, desc, groups)
}

// Close releases the store.
func (e *Engine) Close(ctx context.Context) error {
	return e.store.Close(ctx)
}
