package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/graphdb/metric"
)

// engineMetrics holds Prometheus metrics for batch ingestion and index compilation.
type engineMetrics struct {
	batches         prometheus.Counter
	batchRecords    prometheus.Counter
	batchFailures   prometheus.Counter
	batchDuration   *prometheus.HistogramVec // By status
	compiledIndexes prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphdb",
			Subsystem: "engine",
			Name:      "batches_total",
			Help:      "Total number of batch ingestions",
		}),

		batchRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphdb",
			Subsystem: "engine",
			Name:      "batch_records_total",
			Help:      "Total number of records ingested through batches",
		}),

		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphdb",
			Subsystem: "engine",
			Name:      "batch_failures_total",
			Help:      "Total number of batches stopped by a failed record",
		}),

		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphdb",
			Subsystem: "engine",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch ingestions",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"status"}),

		compiledIndexes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphdb",
			Subsystem: "engine",
			Name:      "compiled_indexes",
			Help:      "Number of index schemas held compiled",
		}),
	}

	owned := []struct {
		name string
		c    prometheus.Collector
	}{
		{"batches_total", m.batches},
		{"batch_records_total", m.batchRecords},
		{"batch_failures_total", m.batchFailures},
		{"batch_duration_seconds", m.batchDuration},
		{"compiled_indexes", m.compiledIndexes},
	}
	for _, o := range owned {
		if err := registry.Register("engine", o.name, o.c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// recordBatch records one batch ingestion.
func (m *engineMetrics) recordBatch(records int, success bool, duration float64) {
	if m == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
		m.batchFailures.Inc()
	}

	m.batches.Inc()
	m.batchRecords.Add(float64(records))
	m.batchDuration.WithLabelValues(status).Observe(duration)
}

func (m *engineMetrics) setCompiledIndexes(n int) {
	if m == nil {
		return
	}
	m.compiledIndexes.Set(float64(n))
}
