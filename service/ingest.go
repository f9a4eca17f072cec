package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphdb/acl"
	"github.com/c360/graphdb/engine"
	"github.com/c360/graphdb/errors"
	"github.com/c360/graphdb/natsclient"
	"github.com/c360/graphdb/pkg/worker"
	"github.com/c360/graphdb/schema"
)

// Message kinds, taken from the last token of the subject
const (
	KindDocument = "document"
	KindACL      = "acl"
)

// Settlement outcomes recorded per message
const (
	OutcomeAcked      = "acked"
	OutcomeTerminated = "terminated"
	OutcomeNacked     = "nacked"
)

// StreamSource is the JetStream surface the ingest consumer needs.
// *natsclient.Client implements it.
type StreamSource interface {
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	ConsumeStream(ctx context.Context, cfg natsclient.ConsumerConfig, handler func(jetstream.Msg)) error
}

// Ingester applies ingest messages. *engine.Engine implements it.
type Ingester interface {
	IngestRecord(ctx context.Context, rec engine.SearchResult, idx *schema.Index) (*engine.IngestResult, error)
	IndexACL(ctx context.Context, doc *acl.Document) (*acl.IndexResult, error)
}

// IngestConfig configures the ingest consumer.
type IngestConfig struct {
	Stream     string
	Subjects   []string
	Durable    string
	AckWait    time.Duration
	MaxDeliver int

	Workers   int
	QueueSize int

	// MaxAttempts bounds whole-message retries of transient failures.
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c *IngestConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
}

// IngestConsumer applies documents and ACLs delivered on a JetStream stream.
// Each message is processed on a worker pool, retried whole while it fails
// transiently, then acked, terminated when invalid, or nacked for redelivery.
type IngestConsumer struct {
	*BaseService

	source   StreamSource
	ingester Ingester
	index    *schema.Index
	cfg      IngestConfig
	pool     *worker.Pool[jetstream.Msg]
}

// NewIngestConsumer creates an ingest consumer. index is the schema documents
// are interpreted against.
func NewIngestConsumer(source StreamSource, ingester Ingester, index *schema.Index, cfg IngestConfig, opts ...Option) (*IngestConsumer, error) {
	if source == nil || ingester == nil || index == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("source, ingester and index are required"),
			"IngestConsumer", "New", "validate dependencies")
	}
	if cfg.Stream == "" || cfg.Durable == "" || len(cfg.Subjects) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("stream, durable and subjects are required"),
			"IngestConsumer", "New", "validate config")
	}
	cfg.applyDefaults()

	c := &IngestConsumer{
		BaseService: newBaseService("ingest", opts...),
		source:      source,
		ingester:    ingester,
		index:       index,
		cfg:         cfg,
	}

	poolOpts := []worker.Option[jetstream.Msg]{
		worker.WithErrorHandler(func(msg jetstream.Msg, err error) {
			c.logger.Warn("Ingest message failed", "subject", msg.Subject(), "error", err)
		}),
	}
	if c.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[jetstream.Msg](c.registry, "graphdb_ingest_pool"))
	}
	c.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, c.process, poolOpts...)
	return c, nil
}

// Start ensures the stream, starts the workers and attaches the consumer.
func (c *IngestConsumer) Start(ctx context.Context) error {
	if !c.transition(StatusStopped, StatusStarting) {
		return nil
	}

	if _, err := c.source.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     c.cfg.Stream,
		Subjects: c.cfg.Subjects,
		Storage:  jetstream.FileStorage,
	}); err != nil {
		c.setStatus(StatusStopped)
		return err
	}

	if err := c.pool.Start(ctx); err != nil {
		c.setStatus(StatusStopped)
		return errors.Wrap(err, "IngestConsumer", "Start", "start worker pool")
	}

	err := c.source.ConsumeStream(ctx, natsclient.ConsumerConfig{
		Stream:        c.cfg.Stream,
		Durable:       c.cfg.Durable,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		MaxAckPending: c.cfg.QueueSize,
	}, func(msg jetstream.Msg) { c.enqueue(ctx, msg) })
	if err != nil {
		_ = c.pool.Stop(time.Second)
		c.setStatus(StatusStopped)
		return err
	}

	c.setStatus(StatusRunning)
	c.logger.Info("Ingest consumer started",
		"stream", c.cfg.Stream, "durable", c.cfg.Durable, "workers", c.cfg.Workers)
	return nil
}

// enqueue blocks the consume callback while the pool is full.
func (c *IngestConsumer) enqueue(ctx context.Context, msg jetstream.Msg) {
	c.metrics.RecordMessageReceived(msg.Subject())
	if err := c.pool.SubmitWait(ctx, msg); err != nil {
		c.logger.Warn("Could not queue ingest message", "subject", msg.Subject(), "error", err)
		_ = msg.Nak()
	}
}

// Stop drains queued messages and stops the workers.
func (c *IngestConsumer) Stop(timeout time.Duration) error {
	if !c.transition(StatusRunning, StatusStopping) {
		return nil
	}
	err := c.pool.Stop(timeout)
	c.setStatus(StatusStopped)
	stats := c.pool.Stats()
	c.logger.Info("Ingest consumer stopped", "processed", stats.Processed, "failed", stats.Failed)
	return err
}

// process handles and settles one message.
func (c *IngestConsumer) process(ctx context.Context, msg jetstream.Msg) error {
	start := time.Now()
	err := c.Handle(ctx, msg.Subject(), msg.Data())
	outcome := c.settle(msg, err)

	c.metrics.RecordMessageProcessed(msg.Subject(), outcome)
	c.metrics.RecordProcessingDuration("ingest_message", time.Since(start))
	c.recordActivity(err == nil)
	if err != nil {
		c.metrics.RecordError("ingest_message", errors.Classify(err).String())
	}
	return err
}

func (c *IngestConsumer) settle(msg jetstream.Msg, err error) string {
	var (
		outcome   string
		settleErr error
	)
	switch {
	case err == nil:
		outcome, settleErr = OutcomeAcked, msg.Ack()
	case errors.IsInvalid(err):
		c.logger.Warn("Dropping invalid ingest message", "subject", msg.Subject(), "error", err)
		outcome, settleErr = OutcomeTerminated, msg.Term()
	default:
		outcome, settleErr = OutcomeNacked, msg.Nak()
	}
	if settleErr != nil {
		c.logger.Warn("Failed to settle message", "subject", msg.Subject(), "outcome", outcome, "error", settleErr)
	}
	return outcome
}

// Handle applies one message body, retrying the whole operation while it
// fails transiently.
func (c *IngestConsumer) Handle(ctx context.Context, subject string, data []byte) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.handleOnce(ctx, subject, data)
		if err != nil && !errors.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("Retrying ingest message",
				"subject", subject, "attempt", attempt, "next", next, "error", err)
		}))
	return err
}

func (c *IngestConsumer) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	return b
}

func (c *IngestConsumer) handleOnce(ctx context.Context, subject string, data []byte) error {
	switch kind := subjectKind(subject); kind {
	case KindDocument:
		var rec engine.SearchResult
		if err := json.Unmarshal(data, &rec); err != nil {
			return errors.WrapInvalid(err, "IngestConsumer", "Handle", "decode document message")
		}
		_, err := c.ingester.IngestRecord(ctx, rec, c.index)
		return err
	case KindACL:
		doc, err := acl.ParseDocument(data)
		if err != nil {
			return err
		}
		_, err = c.ingester.IndexACL(ctx, doc)
		return err
	default:
		return errors.WrapInvalid(fmt.Errorf("unsupported message kind %q", kind),
			"IngestConsumer", "Handle", fmt.Sprintf("route %s", subject))
	}
}

func subjectKind(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
