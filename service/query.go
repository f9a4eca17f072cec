package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/graph"
	"github.com/c360/graphdb/graph/query"
)

// Error kinds reported in a QueryResponse
const (
	ErrorKindACL       = "acl_violation"
	ErrorKindTraversal = "traversal_limit"
	ErrorKindInvalid   = "invalid"
	ErrorKindLimited   = "rate_limited"
	ErrorKindQuery     = "query"
)

// ErrRateLimited is returned when a request arrives above the configured rate.
var ErrRateLimited = stderrors.New("query rate limit exceeded")

// Subscriber is the core NATS surface the query responder needs.
// *natsclient.Client implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, queue string, handler func(context.Context, *nats.Msg)) error
}

// Querier executes query descriptors. *engine.Engine implements it.
type Querier interface {
	Query(ctx context.Context, desc query.Descriptor, groups []string) (*query.Result, error)
}

// QueryRequest is the body of a query request. An absent or null groups
// field runs unscoped; an empty array sees only ungoverned vertices.
type QueryRequest struct {
	Descriptor query.Descriptor `json:"descriptor"`
	Groups     []string         `json:"groups"`
}

// QueryResponse is the reply to a QueryRequest.
type QueryResponse struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Vertices  []graph.Vertex `json:"vertices,omitempty"`
	Edges     []graph.Edge   `json:"edges,omitempty"`
	Count     int            `json:"count"`
}

// QueryResponder answers query requests over NATS request/reply.
type QueryResponder struct {
	*BaseService

	sub     Subscriber
	querier Querier
	subject string
	queue   string
	limiter *rate.Limiter
}

// NewQueryResponder creates a responder for subject. A non-empty queue
// load-balances requests across instances.
func NewQueryResponder(sub Subscriber, querier Querier, subject, queue string, opts ...Option) (*QueryResponder, error) {
	if sub == nil || querier == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("subscriber and querier are required"),
			"QueryResponder", "New", "validate dependencies")
	}
	if subject == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("subject is required"),
			"QueryResponder", "New", "validate config")
	}
	return &QueryResponder{
		BaseService: newBaseService("query", opts...),
		sub:         sub,
		querier:     querier,
		subject:     subject,
		queue:       queue,
	}, nil
}

// SetRateLimit caps accepted requests at perSecond with the given burst.
// A non-positive perSecond removes the cap. Call it before Start.
func (r *QueryResponder) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		r.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Start subscribes to the request subject.
func (r *QueryResponder) Start(ctx context.Context) error {
	if !r.transition(StatusStopped, StatusStarting) {
		return nil
	}
	if err := r.sub.Subscribe(ctx, r.subject, r.queue, r.respond); err != nil {
		r.setStatus(StatusStopped)
		return err
	}
	r.setStatus(StatusRunning)
	r.logger.Info("Query responder started", "subject", r.subject, "queue", r.queue)
	return nil
}

// Stop makes the responder reject further requests. The subscription itself
// ends when the NATS client closes.
func (r *QueryResponder) Stop() {
	if r.transition(StatusRunning, StatusStopping) {
		r.setStatus(StatusStopped)
	}
}

func (r *QueryResponder) respond(ctx context.Context, msg *nats.Msg) {
	r.metrics.RecordMessageReceived(msg.Subject)
	resp := r.Handle(ctx, msg.Data)

	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Error("Failed to encode query response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("Failed to send query response", "subject", msg.Subject, "error", err)
	}
}

// Handle decodes and executes one request body.
func (r *QueryResponder) Handle(ctx context.Context, data []byte) QueryResponse {
	start := time.Now()
	resp := r.handle(ctx, data)

	status := "success"
	if !resp.Success {
		status = resp.ErrorKind
	}
	r.metrics.RecordMessageProcessed(r.subject, status)
	r.metrics.RecordProcessingDuration("query_request", time.Since(start))
	r.recordActivity(resp.Success)
	return resp
}

func (r *QueryResponder) handle(ctx context.Context, data []byte) QueryResponse {
	if r.Status() != StatusRunning {
		return failure(errors.WrapTransient(fmt.Errorf("query responder is %s", r.Status()),
			"QueryResponder", "Handle", "accept request"))
	}
	if r.limiter != nil && !r.limiter.Allow() {
		return failure(errors.WrapTransient(ErrRateLimited, "QueryResponder", "Handle", "accept request"))
	}

	var req QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(errors.WrapInvalid(err, "QueryResponder", "Handle", "decode request"))
	}

	res, err := r.querier.Query(ctx, req.Descriptor, req.Groups)
	if err != nil {
		r.logger.Debug("Query failed", "op", req.Descriptor.Op, "error", err)
		return failure(err)
	}
	return QueryResponse{
		Success:  true,
		Vertices: res.Vertices,
		Edges:    res.Edges,
		Count:    res.Count,
	}
}

func failure(err error) QueryResponse {
	return QueryResponse{Error: err.Error(), ErrorKind: ErrorKind(err)}
}

// ErrorKind maps a query error onto the kind reported to callers.
func ErrorKind(err error) string {
	switch {
	case errors.IsAclViolation(err):
		return ErrorKindACL
	case errors.IsTraversalLimit(err):
		return ErrorKindTraversal
	case errors.IsInvalid(err):
		return ErrorKindInvalid
	case stderrors.Is(err, ErrRateLimited):
		return ErrorKindLimited
	default:
		return ErrorKindQuery
	}
}
