package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "graphdb"

// Metrics contains the platform and graph metrics. All Record methods are
// safe to call on a nil *Metrics, so components can run without a registry.
type Metrics struct {
	// Message handling
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	// NATS
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter

	// Graph mutation
	VertexUpserts  *prometheus.CounterVec
	EdgeUpserts    *prometheus.CounterVec
	Ingests        *prometheus.CounterVec
	IngestDuration prometheus.Histogram

	// Reads
	Queries       *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	ACLDenials    *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received",
			},
			[]string{"subject"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Total number of messages processed",
			},
			[]string{"subject", "status"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Message processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by class",
			},
			[]string{"operation", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		VertexUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "vertex_upserts_total",
				Help:      "Vertex upserts by label and outcome (created, reused, failed)",
			},
			[]string{"label", "outcome"},
		),

		EdgeUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "edge_upserts_total",
				Help:      "Edge upserts by label and outcome (created, reused, failed)",
			},
			[]string{"label", "outcome"},
		),

		Ingests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "documents_total",
				Help:      "Ingested documents by status",
			},
			[]string{"status"},
		),

		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Document ingestion duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "total",
				Help:      "Queries by operation and outcome",
			},
			[]string{"op", "outcome"},
		),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		ACLDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "acl",
				Name:      "denials_total",
				Help:      "Reads rejected because no Controls edge grants Read",
			},
			[]string{"label"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesReceived,
		c.MessagesProcessed,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.NATSConnected,
		c.NATSReconnects,
		c.VertexUpserts,
		c.EdgeUpserts,
		c.Ingests,
		c.IngestDuration,
		c.Queries,
		c.QueryDuration,
		c.ACLDenials,
	}
}

func outcome(created bool) string {
	if created {
		return "created"
	}
	return "reused"
}

// RecordMessageReceived increments received message counter
func (c *Metrics) RecordMessageReceived(subject string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(subject).Inc()
}

// RecordMessageProcessed increments processed message counter
func (c *Metrics) RecordMessageProcessed(subject, status string) {
	if c == nil {
		return
	}
	c.MessagesProcessed.WithLabelValues(subject, status).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.ProcessingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(operation, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(operation, class).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordVertexUpsert counts one vertex upsert
func (c *Metrics) RecordVertexUpsert(label string, created bool) {
	if c == nil {
		return
	}
	c.VertexUpserts.WithLabelValues(label, outcome(created)).Inc()
}

// RecordVertexUpsertFailure counts one failed vertex upsert
func (c *Metrics) RecordVertexUpsertFailure(label string) {
	if c == nil {
		return
	}
	c.VertexUpserts.WithLabelValues(label, "failed").Inc()
}

// RecordEdgeUpsert counts one edge upsert
func (c *Metrics) RecordEdgeUpsert(label string, created bool) {
	if c == nil {
		return
	}
	c.EdgeUpserts.WithLabelValues(label, outcome(created)).Inc()
}

// RecordEdgeUpsertFailure counts one failed edge upsert
func (c *Metrics) RecordEdgeUpsertFailure(label string) {
	if c == nil {
		return
	}
	c.EdgeUpserts.WithLabelValues(label, "failed").Inc()
}

// RecordIngest records a document ingestion
func (c *Metrics) RecordIngest(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.Ingests.WithLabelValues(status).Inc()
	c.IngestDuration.Observe(duration.Seconds())
}

// RecordQuery records a query execution
func (c *Metrics) RecordQuery(op, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(op, result).Inc()
	c.QueryDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordACLDenial counts a rejected read
func (c *Metrics) RecordACLDenial(label string) {
	if c == nil {
		return
	}
	c.ACLDenials.WithLabelValues(label).Inc()
}
