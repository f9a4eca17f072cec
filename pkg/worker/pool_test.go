package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphdb/metric"
)

func TestNewPoolDefaults(t *testing.T) {
	noop := func(context.Context, int) error { return nil }

	pool := NewPool(5, 100, noop)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, noop)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() { NewPool[int](1, 1, nil) })
}

func TestPoolLifecycleErrors(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })

	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)
	assert.ErrorIs(t, pool.SubmitWait(context.Background(), 1), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(1), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second stop is a no-op")
}

func TestPoolProcessesAndDrains(t *testing.T) {
	var sum atomic.Int64
	pool := NewPool(3, 50, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 1; i <= 20; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), i))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, int64(210), sum.Load())
	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Processed)
	assert.Zero(t, stats.Failed)
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(1))
	// Wait until the worker holds item 1 so the queue slot is free again
	require.Eventually(t, func() bool { return len(pool.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Submit(2))
	assert.ErrorIs(t, pool.Submit(3), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.SubmitWait(ctx, 4), context.DeadlineExceeded)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPoolErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	var failed []int

	pool := NewPool(2, 10,
		func(_ context.Context, n int) error {
			if n%2 == 0 {
				return boom
			}
			return nil
		},
		WithErrorHandler(func(n int, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.ErrorIs(t, err, boom)
			failed = append(failed, n)
		}),
	)
	require.NoError(t, pool.Start(context.Background()))
	for i := 1; i <= 6; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), i))
	}
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{2, 4, 6}, failed)
	assert.Equal(t, int64(3), pool.Stats().Failed)
}

func TestPoolMetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 1, func(context.Context, int) error { return nil },
		WithMetricsRegistry[int](registry, "test_pool"))
	require.NotNil(t, pool.metrics)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_pool_queue_depth")
	assert.Equal(t, []string{"test_pool/items_total", "test_pool/processing_duration_seconds", "test_pool/queue_depth"},
		registry.Owned())

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.counters.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.counters.WithLabelValues("submitted")))
}

func TestPoolNilMetricsRecordNothing(t *testing.T) {
	var m *poolMetrics
	m.count("submitted")
	m.observe(errors.New("x"), time.Millisecond)
}
