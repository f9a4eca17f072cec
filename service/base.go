package service

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/graphdb/health"
	"github.com/c360/graphdb/metric"
)

// Status represents the current status of a service
type Status int32

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Info holds runtime information for a service
type Info struct {
	Name              string        `json:"name"`
	Status            string        `json:"status"`
	Uptime            time.Duration `json:"uptime"`
	StartTime         time.Time     `json:"start_time"`
	MessagesProcessed int64         `json:"messages_processed"`
	MessagesFailed    int64         `json:"messages_failed"`
	LastActivity      time.Time     `json:"last_activity"`
}

// HealthCheckFunc reports a dependency problem, or nil when healthy
type HealthCheckFunc func() error

// Option is a functional option for configuring a service
type Option func(*BaseService)

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger.With("service", s.name)
		}
	}
}

// WithMetrics sets the metrics registry for the service
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		s.registry = registry
		s.metrics = registry.CoreMetrics()
	}
}

// WithHealthCheck adds a dependency check to IsHealthy
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) {
		s.healthCheck = fn
	}
}

// BaseService carries the lifecycle state and counters shared by services.
type BaseService struct {
	name     string
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	status       atomic.Int32
	startTime    atomic.Value // time.Time
	lastActivity atomic.Value // time.Time
	processed    atomic.Int64
	failed       atomic.Int64

	healthCheck HealthCheckFunc
}

func newBaseService(name string, opts ...Option) *BaseService {
	s := &BaseService{
		name:   name,
		logger: slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startTime.Store(time.Time{})
	s.lastActivity.Store(time.Time{})
	return s
}

// Name returns the service name
func (s *BaseService) Name() string {
	return s.name
}

// Status returns the current service status
func (s *BaseService) Status() Status {
	return Status(s.status.Load())
}

func (s *BaseService) setStatus(st Status) {
	s.status.Store(int32(st))
	if st == StatusRunning {
		s.startTime.Store(time.Now())
	}
}

// transition moves from one status to another and reports whether it did.
func (s *BaseService) transition(from, to Status) bool {
	if !s.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if to == StatusRunning {
		s.startTime.Store(time.Now())
	}
	return true
}

// IsHealthy reports whether the service is running and its dependencies pass.
func (s *BaseService) IsHealthy() bool {
	if s.Status() != StatusRunning {
		return false
	}
	if s.healthCheck != nil {
		if err := s.healthCheck(); err != nil {
			s.logger.Debug("Health check failed", "error", err)
			return false
		}
	}
	return true
}

// Health reports the service state for the /health endpoint. Starting and
// stopping services are degraded; a failing health check is unhealthy.
func (s *BaseService) Health() health.Status {
	var st health.Status
	switch s.Status() {
	case StatusRunning:
		st = health.NewHealthy(s.name, "running")
		if s.healthCheck != nil {
			if err := s.healthCheck(); err != nil {
				st = health.FromError(s.name, err)
			}
		}
	case StatusStarting, StatusStopping:
		st = health.NewDegraded(s.name, s.Status().String())
	default:
		st = health.NewUnhealthy(s.name, "stopped")
	}

	info := s.GetStatus()
	return st.WithMetrics(&health.Metrics{
		Uptime:            info.Uptime,
		MessagesProcessed: info.MessagesProcessed,
		MessagesFailed:    info.MessagesFailed,
		LastActivity:      info.LastActivity,
	})
}

func (s *BaseService) recordActivity(ok bool) {
	if ok {
		s.processed.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.lastActivity.Store(time.Now())
}

// GetStatus returns the current service information
func (s *BaseService) GetStatus() Info {
	startTime := s.startTime.Load().(time.Time)
	var uptime time.Duration
	if !startTime.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(startTime)
	}
	return Info{
		Name:              s.name,
		Status:            s.Status().String(),
		Uptime:            uptime,
		StartTime:         startTime,
		MessagesProcessed: s.processed.Load(),
		MessagesFailed:    s.failed.Load(),
		LastActivity:      s.lastActivity.Load().(time.Time),
	}
}
