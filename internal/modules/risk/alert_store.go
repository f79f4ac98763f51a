package risk

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/rs/zerolog"
)

// ErrAlertNotFound is returned when an alert ID is unknown
var ErrAlertNotFound = errors.New("alert not found")

// AlertStore persists alerts keyed by ID
type AlertStore interface {
	// Save inserts or replaces an alert
	Save(ctx context.Context, alert Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	// ListByUser returns the user's alerts, newest first
	ListByUser(ctx context.Context, user domain.UserID, includeAcknowledged bool) ([]Alert, error)
	// FindOpen returns the unacknowledged alert for user and category, or nil
	FindOpen(ctx context.Context, user domain.UserID, category Category) (*Alert, error)
	// ListOverdue returns unacknowledged, unescalated critical alerts raised before cutoff
	ListOverdue(ctx context.Context, cutoff time.Time) ([]Alert, error)
}

// InMemoryAlertStore is an AlertStore backed by a map
type InMemoryAlertStore struct {
	alerts map[string]Alert
	mu     sync.RWMutex
	log    zerolog.Logger
}

// NewInMemoryAlertStore creates an empty in-memory alert store
func NewInMemoryAlertStore(log zerolog.Logger) *InMemoryAlertStore {
	return &InMemoryAlertStore{
		alerts: make(map[string]Alert),
		log:    log.With().Str("repository", "alert_inmemory").Logger(),
	}
}

func (s *InMemoryAlertStore) Save(ctx context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

func (s *InMemoryAlertStore) Get(ctx context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	out := cloneAlert(alert)
	return &out, nil
}

func (s *InMemoryAlertStore) ListByUser(ctx context.Context, user domain.UserID, includeAcknowledged bool) ([]Alert, error) {
	return s.filter(func(a Alert) bool {
		return a.UserID == user && (includeAcknowledged || !a.Acknowledged)
	}), nil
}

func (s *InMemoryAlertStore) FindOpen(ctx context.Context, user domain.UserID, category Category) (*Alert, error) {
	matches := s.filter(func(a Alert) bool {
		return a.UserID == user && a.Category == category && !a.Acknowledged
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func (s *InMemoryAlertStore) ListOverdue(ctx context.Context, cutoff time.Time) ([]Alert, error) {
	return s.filter(func(a Alert) bool {
		return !a.Acknowledged && !a.Escalated && a.Severity == SeverityCritical && a.Timestamp.Before(cutoff)
	}), nil
}

func (s *InMemoryAlertStore) filter(keep func(Alert) bool) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Alert{}
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func cloneAlert(a Alert) Alert {
	a.SuggestedActions = append([]string(nil), a.SuggestedActions...)
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		a.AcknowledgedAt = &t
	}
	if a.EscalatedAt != nil {
		t := *a.EscalatedAt
		a.EscalatedAt = &t
	}
	return a
}
