package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/graphdb/metric"
)

// Pool errors.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

type poolState int

const (
	stateNew poolState = iota
	stateRunning
	stateStopped
)

// Pool runs a fixed set of goroutines over a bounded queue of T.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error
	onError   func(T, error)

	queue chan T
	quit  chan struct{}
	wg    sync.WaitGroup

	mu    sync.Mutex
	state poolState

	submitted, processed, failed, dropped atomic.Int64

	registrar metric.MetricsRegistrar
	prefix    string
	metrics   *poolMetrics
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports pool metrics named prefix_* through registry.
func WithMetricsRegistry[T any](registry metric.MetricsRegistrar, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registrar = registry
		p.prefix = prefix
	}
}

// WithErrorHandler is called with every work item whose processing failed.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000. A nil processor panics.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   processor,
		queue:     make(chan T, queueSize),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registrar != nil && p.prefix != "" {
		p.metrics = newPoolMetrics(p.registrar, p.prefix, func() float64 { return float64(len(p.queue)) })
	}
	return p
}

func (p *Pool[T]) accepting() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case stateNew:
		return ErrPoolNotStarted
	case stateStopped:
		return ErrPoolStopped
	}
	return nil
}

// Submit queues work without blocking and returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	if err := p.accepting(); err != nil {
		return err
	}
	select {
	case p.queue <- work:
		p.submitted.Add(1)
		p.metrics.count("submitted")
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.count("dropped")
		return ErrQueueFull
	}
}

// SubmitWait blocks until the queue accepts work, the pool stops or ctx ends.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	if err := p.accepting(); err != nil {
		return err
	}
	select {
	case p.queue <- work:
		p.submitted.Add(1)
		p.metrics.count("submitted")
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the workers. They exit when ctx ends or after Stop drains
// the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateNew {
		return ErrPoolAlreadyStarted
	}
	p.state = stateRunning
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run(ctx)
	}
	return nil
}

// Stop stops intake, lets workers drain the queue and waits up to timeout.
// Stopping a pool that never started, or stopping twice, is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work := <-p.queue:
			p.handle(ctx, work)
		case <-p.quit:
			p.drain(ctx)
			return
		}
	}
}

// drain finishes what was queued before Stop.
func (p *Pool[T]) drain(ctx context.Context) {
	for {
		select {
		case work := <-p.queue:
			p.handle(ctx, work)
		default:
			return
		}
	}
}

func (p *Pool[T]) handle(ctx context.Context, work T) {
	start := time.Now()
	err := p.process(ctx, work)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		if p.onError != nil {
			p.onError(work, err)
		}
	}
	p.metrics.observe(err, time.Since(start))
}

// poolMetrics are the Prometheus collectors of one pool. A nil *poolMetrics
// records nothing.
type poolMetrics struct {
	counters *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newPoolMetrics(reg metric.MetricsRegistrar, prefix string, depth func() float64) *poolMetrics {
	m := &poolMetrics{
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_items_total",
			Help: "Work items by pool event (submitted, processed, failed, dropped)",
		}, []string{"event"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"status"}),
	}
	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Work items waiting in the queue",
	}, depth)

	// A registration conflict leaves the pool working without exported metrics.
	_ = reg.Register(prefix, "items_total", m.counters)
	_ = reg.Register(prefix, "processing_duration_seconds", m.duration)
	_ = reg.Register(prefix, "queue_depth", queueDepth)
	return m
}

func (m *poolMetrics) count(event string) {
	if m == nil {
		return
	}
	m.counters.WithLabelValues(event).Inc()
}

func (m *poolMetrics) observe(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	m.count("processed")
	if err != nil {
		status = "error"
		m.count("failed")
	}
	m.duration.WithLabelValues(status).Observe(d.Seconds())
}
