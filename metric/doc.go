// Package metric provides Prometheus metrics for graphdb and the HTTP server
// exposing them.
//
// MetricsRegistry owns a private Prometheus registry with the core Metrics
// (message handling, NATS, vertex and edge upserts, ingestion, queries, ACL
// denials) already registered. Components that own extra collectors, such as
// the worker pool, register them through MetricsRegistrar.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, nil)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop(ctx)
//
// Every Record method on *Metrics tolerates a nil receiver, so packages take a
// *Metrics and work unchanged when metrics are disabled.
package metric
