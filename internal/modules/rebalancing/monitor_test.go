package rebalancing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvaluator struct {
	users    []domain.UserID
	evaluate func(ctx context.Context, user domain.UserID) (*Outcome, error)
	listErr  error

	mu    sync.Mutex
	calls []domain.UserID
}

func (s *stubEvaluator) ListEnabled(ctx context.Context) ([]Config, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]Config, len(s.users))
	for i, u := range s.users {
		out[i] = Config{UserID: u, Enabled: true}
	}
	return out, nil
}

func (s *stubEvaluator) Evaluate(ctx context.Context, user domain.UserID) (*Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, user)
	s.mu.Unlock()
	return s.evaluate(ctx, user)
}

func TestMonitor_IsolatesUserFailures(t *testing.T) {
	eval := &stubEvaluator{
		users: []domain.UserID{"ok", "boom", "broken", "nodata", "skip"},
		evaluate: func(ctx context.Context, user domain.UserID) (*Outcome, error) {
			switch user {
			case "boom":
				panic("adapter exploded")
			case "broken":
				return nil, errors.New("store unavailable")
			case "nodata":
				return &Outcome{UserID: user, Action: ActionSkipped, Reason: SkipDataUnavailable},
					&DataUnavailableError{UserID: user, Missing: []string{MissingPosition}}
			case "skip":
				return &Outcome{UserID: user, Action: ActionSkipped, Reason: SkipCooldown}, nil
			}
			return &Outcome{UserID: user, Action: ActionExecuted, Execution: &Execution{ID: "exec-1"}}, nil
		},
	}

	em := events.NewManager(zerolog.Nop())
	var cycleEvents atomic.Int32
	em.Subscribe(events.MonitorCycleCompleted, func(events.EventWithData) error {
		cycleEvents.Add(1)
		return nil
	})

	m := NewMonitor(eval, MonitorConfig{Workers: 2}, em, nil, zerolog.Nop())
	report, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Evaluated)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, report.Errors)
	assert.Len(t, eval.calls, 5, "every user is evaluated despite failures")

	byUser := make(map[domain.UserID]UserResult)
	for _, r := range report.Results {
		byUser[r.UserID] = r
	}
	assert.Equal(t, "exec-1", byUser["ok"].ExecutionID)
	assert.Contains(t, byUser["boom"].Error, "adapter exploded")
	assert.Contains(t, byUser["broken"].Error, "store unavailable")
	assert.Equal(t, SkipDataUnavailable, byUser["nodata"].Reason)

	assert.Equal(t, int32(1), cycleEvents.Load())

	status := m.Status()
	assert.Equal(t, 1, status.Cycles)
	assert.Same(t, report, status.LastCycle)
	assert.False(t, status.Running)
}

func TestMonitor_BoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	eval := &stubEvaluator{
		users: []domain.UserID{"a", "b", "c", "d", "e", "f"},
		evaluate: func(ctx context.Context, user domain.UserID) (*Outcome, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return &Outcome{UserID: user, Action: ActionNotNeeded}, nil
		},
	}

	m := NewMonitor(eval, MonitorConfig{Workers: 2}, nil, nil, zerolog.Nop())
	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMonitor_CyclesDoNotOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	eval := &stubEvaluator{
		users: []domain.UserID{"slow"},
		evaluate: func(ctx context.Context, user domain.UserID) (*Outcome, error) {
			entered <- struct{}{}
			<-release
			return &Outcome{UserID: user, Action: ActionNotNeeded}, nil
		},
	}
	m := NewMonitor(eval, MonitorConfig{}, nil, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := m.RunCycle(context.Background())
		done <- err
	}()
	<-entered

	_, err := m.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestMonitor_ListFailure(t *testing.T) {
	eval := &stubEvaluator{listErr: errors.New("db locked")}
	m := NewMonitor(eval, MonitorConfig{}, nil, nil, zerolog.Nop())

	_, err := m.RunCycle(context.Background())
	assert.ErrorContains(t, err, "db locked")
	assert.Nil(t, m.Status().LastCycle)
}

func TestMonitor_StartStop(t *testing.T) {
	var cycles atomic.Int32
	eval := &stubEvaluator{
		users: []domain.UserID{"u"},
		evaluate: func(ctx context.Context, user domain.UserID) (*Outcome, error) {
			cycles.Add(1)
			return &Outcome{UserID: user, Action: ActionNotNeeded}, nil
		},
	}
	m := NewMonitor(eval, MonitorConfig{Interval: 5 * time.Millisecond}, nil, nil, zerolog.Nop())

	m.Start(context.Background())
	m.Start(context.Background()) // second start is ignored
	assert.True(t, m.Status().Running)

	require.Eventually(t, func() bool { return cycles.Load() >= 2 }, time.Second, time.Millisecond)

	m.Stop()
	assert.False(t, m.Status().Running)
	after := cycles.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, cycles.Load(), "no cycles after stop")

	m.Stop() // idempotent
}

func TestMonitor_WithService(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.enable(t)

	m := NewMonitor(f.svc, MonitorConfig{}, nil, nil, zerolog.Nop())
	report, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Executed)

	// Cooldown keeps the next cycle quiet
	report, err = m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
}
