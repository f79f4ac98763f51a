package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/events"
	"github.com/aristath/vaultkeeper/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrCycleInProgress is returned by RunCycle while another cycle is running
var ErrCycleInProgress = errors.New("monitor cycle already in progress")

// Monitor defaults
const (
	DefaultMonitorInterval = 5 * time.Minute
	DefaultMonitorWorkers  = 4
)

// Evaluator is the part of the Service the monitor drives
type Evaluator interface {
	ListEnabled(ctx context.Context) ([]Config, error)
	Evaluate(ctx context.Context, user domain.UserID) (*Outcome, error)
}

// UserResult is one user's entry in a cycle report
type UserResult struct {
	UserID      domain.UserID `json:"user_id"`
	Action      Action        `json:"action,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// CycleReport summarizes one monitor cycle
type CycleReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Evaluated int           `json:"evaluated"`
	Executed  int           `json:"executed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Results   []UserResult  `json:"results"`
}

// MonitorStatus is the monitor state exposed over the API
type MonitorStatus struct {
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	Workers   int           `json:"workers"`
	Cycles    int           `json:"cycles"`
	LastCycle *CycleReport  `json:"last_cycle,omitempty"`
}

// MonitorConfig holds the loop settings
type MonitorConfig struct {
	Interval time.Duration
	Workers  int
}

// Monitor periodically evaluates every enabled user. Users are evaluated
// concurrently up to Workers at a time; one user's error or panic never
// affects the others. Cycles never overlap.
type Monitor struct {
	evaluator Evaluator
	interval  time.Duration
	workers   int
	events    *events.Manager
	metrics   *metrics.Metrics
	log       zerolog.Logger

	cycle sync.Mutex // held for the duration of a cycle

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
	cycles  int
	last    *CycleReport
}

// NewMonitor creates a new monitor
func NewMonitor(evaluator Evaluator, cfg MonitorConfig, em *events.Manager, m *metrics.Metrics, log zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultMonitorWorkers
	}
	return &Monitor{
		evaluator: evaluator,
		interval:  cfg.Interval,
		workers:   cfg.Workers,
		events:    em,
		metrics:   m,
		log:       log.With().Str("component", "rebalance_monitor").Logger(),
	}
}

// Start runs a cycle on every tick until ctx is done or Stop is called
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.log.Warn().Msg("Monitor already started, ignoring")
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	stop := m.stop

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := m.RunCycle(ctx); err != nil {
					if errors.Is(err, ErrCycleInProgress) {
						m.log.Debug().Msg("Previous cycle still running, skipping tick")
						continue
					}
					m.log.Error().Err(err).Msg("Monitor cycle failed")
				}
			}
		}
	}()

	m.log.Info().Dur("interval", m.interval).Int("workers", m.workers).Msg("Rebalance monitor started")
}

// Stop ends the loop and waits for a running cycle to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info().Msg("Rebalance monitor stopped")
}

// Status returns the monitor state and the last cycle report
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MonitorStatus{
		Running:   m.started,
		Interval:  m.interval,
		Workers:   m.workers,
		Cycles:    m.cycles,
		LastCycle: m.last,
	}
}

// RunCycle evaluates every enabled user once. It returns ErrCycleInProgress
// when a cycle is already running.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !m.cycle.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer m.cycle.Unlock()

	started := time.Now()
	configs, err := m.evaluator.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled users: %w", err)
	}

	results := make([]UserResult, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, cfg := range configs {
		i := i
		user := cfg.UserID
		g.Go(func() error {
			results[i] = m.evaluateUser(gctx, user)
			return nil
		})
	}
	_ = g.Wait()

	report := &CycleReport{
		StartedAt: started.UTC(),
		Results:   results,
	}
	for _, r := range results {
		report.Evaluated++
		switch {
		case r.Error != "":
			report.Errors++
		case r.Action == ActionExecuted:
			report.Executed++
		case r.Action == ActionSkipped:
			report.Skipped++
		}
	}
	report.Duration = time.Since(started)

	m.mu.Lock()
	m.cycles++
	m.last = report
	m.mu.Unlock()

	m.metrics.RecordCycle(report.Duration)
	if m.events != nil {
		if err := m.events.Emit("monitor", &events.MonitorCycleData{
			Evaluated:  report.Evaluated,
			Executed:   report.Executed,
			Skipped:    report.Skipped,
			Errors:     report.Errors,
			DurationMs: report.Duration.Milliseconds(),
		}); err != nil {
			m.log.Warn().Err(err).Msg("Cycle listeners failed")
		}
	}

	m.log.Info().
		Int("evaluated", report.Evaluated).
		Int("executed", report.Executed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Dur("duration", report.Duration).
		Msg("Monitor cycle completed")

	return report, nil
}

func (m *Monitor) evaluateUser(ctx context.Context, user domain.UserID) (result UserResult) {
	result.UserID = user
	defer func() {
		if p := recover(); p != nil {
			result.Error = fmt.Sprintf("panic: %v", p)
			m.log.Error().Str("user", string(user)).Interface("panic", p).Msg("User evaluation panicked")
		}
	}()

	out, err := m.evaluator.Evaluate(ctx, user)
	if out != nil {
		result.Action = out.Action
		result.Reason = out.Reason
		if out.Execution != nil {
			result.ExecutionID = out.Execution.ID
		}
	}
	if err != nil {
		result.Error = err.Error()
		var dataErr *DataUnavailableError
		if errors.As(err, &dataErr) {
			m.log.Warn().Str("user", string(user)).Strs("missing", dataErr.Missing).Msg("Skipping user with unavailable data")
		} else {
			m.log.Error().Err(err).Str("user", string(user)).Msg("User evaluation failed")
		}
	}
	return result
}
