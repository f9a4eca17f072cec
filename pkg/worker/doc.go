// Package worker provides a generic, thread-safe worker pool.
//
// A Pool runs a fixed number of goroutines that take work items from a
// bounded queue. Submit never blocks and reports ErrQueueFull; SubmitWait
// blocks until the queue has room, which gives stream consumers natural
// backpressure:
//
//	pool := worker.NewPool(8, 64, handle,
//	    worker.WithMetricsRegistry[Job](registry, "graphdb_ingest_pool"),
//	    worker.WithErrorHandler(func(j Job, err error) { logger.Warn("job failed", "error", err) }))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(10 * time.Second)
//
// Stop stops intake, lets workers drain what is already queued and waits for
// them up to the given timeout. Statistics are always tracked; Prometheus
// metrics only when a registry is configured.
package worker
