package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/graphdb/errors"
)

// MetricsRegistrar is implemented by registries that accept collectors owned
// by a component, such as the engine batch metrics or a worker pool.
type MetricsRegistrar interface {
	Register(owner, name string, c prometheus.Collector) error
	Unregister(owner, name string) bool
}

// MetricsRegistry owns a private Prometheus registry holding the core
// metrics, the Go runtime collectors and any component collectors.
type MetricsRegistry struct {
	prom    *prometheus.Registry
	Metrics *Metrics

	mu    sync.Mutex
	owned map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the core metrics registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:    prometheus.NewRegistry(),
		Metrics: NewMetrics(),
		owned:   make(map[string]prometheus.Collector),
	}
	r.prom.MustRegister(r.Metrics.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the core metrics. Nil-safe.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// Register adds a collector under owner/name. Registering the same key twice
// is invalid; a collector whose descriptors clash with one already exported
// is invalid as well.
func (r *MetricsRegistry) Register(owner, name string, c prometheus.Collector) error {
	key := owner + "/" + name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owned[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered by %s", name, owner),
			"MetricsRegistry", "Register", "check duplicate")
	}
	if err := r.prom.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("register %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register collector")
	}
	r.owned[key] = c
	return nil
}

// Unregister removes the collector registered under owner/name.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	key := owner + "/" + name

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.owned[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.owned, key)
	return true
}

// Owned lists the owner/name keys of component collectors, sorted.
func (r *MetricsRegistry) Owned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.owned))
	for k := range r.owned {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
