// Package monitor polls the pipeline backend for health and metrics on a schedule.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// Default polling schedules
const (
	DefaultHealthSchedule  = "@every 30s"
	DefaultMetricsSchedule = "@every 5s"
)

// Source is the backend being monitored. *client.Client implements it.
type Source interface {
	Health(ctx context.Context) (*models.HealthResponse, error)
	Metrics(ctx context.Context) (map[string]float64, error)
}

// BackendStatus is the outcome of the most recent health check
type BackendStatus struct {
	Connected   bool                            `json:"connected"`
	Version     string                          `json:"version,omitempty"`
	Services    map[string]models.ServiceHealth `json:"services,omitempty"`
	LastChecked *time.Time                      `json:"last_checked,omitempty"`
	Error       string                          `json:"error,omitempty"`
}

// Checked reports whether any health check has completed
func (s BackendStatus) Checked() bool {
	return s.LastChecked != nil
}

// MetricsSnapshot is the most recent metrics poll
type MetricsSnapshot struct {
	Values    map[string]float64 `json:"values"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Option configures a Monitor
type Option func(*Monitor)

// WithSchedules overrides the cron specs of the health and metrics jobs.
// An empty spec disables that job.
func WithSchedules(health, metrics string) Option {
	return func(m *Monitor) {
		m.healthSpec = health
		m.metricsSpec = metrics
	}
}

// WithTimeout bounds each backend call
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithLogger sets the monitor logger
func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor tracks backend availability
type Monitor struct {
	src         Source
	cron        *cron.Cron
	healthSpec  string
	metricsSpec string
	timeout     time.Duration
	log         logging.Logger
	now         func() time.Time

	mu      sync.RWMutex
	status  BackendStatus
	metrics MetricsSnapshot
	started bool
}

// New creates a monitor for src. Call Start to begin polling.
func New(src Source, opts ...Option) *Monitor {
	m := &Monitor{
		src:         src,
		healthSpec:  DefaultHealthSchedule,
		metricsSpec: DefaultMetricsSchedule,
		timeout:     10 * time.Second,
		log:         logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return m
}

// Start registers the polling jobs, runs an initial health check and starts the scheduler
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	if m.healthSpec != "" {
		if _, err := m.cron.AddFunc(m.healthSpec, func() { m.CheckHealth(ctx) }); err != nil {
			return fmt.Errorf("invalid health schedule %q: %w", m.healthSpec, err)
		}
	}
	if m.metricsSpec != "" {
		if _, err := m.cron.AddFunc(m.metricsSpec, func() { m.PollMetrics(ctx) }); err != nil {
			return fmt.Errorf("invalid metrics schedule %q: %w", m.metricsSpec, err)
		}
	}

	m.CheckHealth(ctx)
	m.cron.Start()
	m.log.Info("backend monitor started",
		logging.F("health_schedule", m.healthSpec), logging.F("metrics_schedule", m.metricsSpec))
	return nil
}

// Stop halts the scheduler and waits for running jobs
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

// CheckHealth queries the backend once and records the outcome.
// On failure the last known version and services are kept.
func (m *Monitor) CheckHealth(ctx context.Context) BackendStatus {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.src.Health(ctx)
	checked := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	wasConnected := m.status.Connected
	firstCheck := !m.status.Checked()
	if err != nil {
		m.status.Connected = false
		m.status.LastChecked = &checked
		m.status.Error = err.Error()
		if wasConnected || firstCheck {
			m.log.Warn("backend health check failed", logging.Err(err))
		} else {
			m.log.Debug("backend still unreachable", logging.Err(err))
		}
		return m.status
	}

	m.status = BackendStatus{
		Connected:   true,
		Version:     resp.Version,
		Services:    resp.Services,
		LastChecked: &checked,
	}
	if !wasConnected {
		m.log.Info("backend connected", logging.F("version", resp.Version))
	}
	return m.status
}

// PollMetrics fetches backend metrics once and records them
func (m *Monitor) PollMetrics(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	values, err := m.src.Metrics(ctx)
	polled := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.metrics.Error = err.Error()
		m.log.Debug("backend metrics poll failed", logging.Err(err))
		return nil, err
	}
	m.metrics = MetricsSnapshot{Values: values, UpdatedAt: &polled}
	return values, nil
}

// Status returns the latest health status
func (m *Monitor) Status() BackendStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Metrics returns the latest metrics snapshot
func (m *Monitor) Metrics() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.metrics
	snap.Values = make(map[string]float64, len(m.metrics.Values))
	for k, v := range m.metrics.Values {
		snap.Values[k] = v
	}
	return snap
}

// ModeAvailable reports whether a run in mode can reach the backend.
// Demo is always available; live and stream are unavailable only after a failed check.
func (m *Monitor) ModeAvailable(mode models.Mode) bool {
	if mode == models.ModeDemo || mode == "" {
		return true
	}
	s := m.Status()
	return !s.Checked() || s.Connected
}
