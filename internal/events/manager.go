package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRecentEvents is how many emitted events the manager keeps for the API
const DefaultRecentEvents = 200

// Listener receives emitted events. A returned error is reported back to the emitter.
type Listener func(event EventWithData) error

// Manager handles event emission, logging and fan-out to listeners.
// Listeners run synchronously on the emitting goroutine.
type Manager struct {
	log       zerolog.Logger
	mu        sync.RWMutex
	listeners map[EventType][]Listener
	wildcard  []Listener
	recent    []EventWithData
	maxRecent int
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:       log.With().Str("service", "events").Logger(),
		listeners: make(map[EventType][]Listener),
		maxRecent: DefaultRecentEvents,
	}
}

// Subscribe registers a listener for one event type
func (m *Manager) Subscribe(eventType EventType, l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[eventType] = append(m.listeners[eventType], l)
}

// SubscribeAll registers a listener for every event type
func (m *Manager) SubscribeAll(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wildcard = append(m.wildcard, l)
}

// Emit emits an event and returns the joined errors of listeners that failed
func (m *Manager) Emit(module string, data EventData) error {
	event := EventWithData{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	m.mu.Lock()
	m.recent = append(m.recent, event)
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[len(m.recent)-m.maxRecent:]
	}
	listeners := append([]Listener{}, m.listeners[event.Type]...)
	listeners = append(listeners, m.wildcard...)
	m.mu.Unlock()

	eventJSON, _ := json.Marshal(&event)
	m.log.Info().
		Str("event_type", string(event.Type)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	var errs []error
	for _, l := range listeners {
		if err := safeCall(l, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	_ = m.Emit(module, &ErrorEventData{Error: err.Error(), Context: context})
}

// Recent returns up to limit of the most recent events, newest first
func (m *Manager) Recent(limit int) []EventWithData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]EventWithData, 0, limit)
	for i := len(m.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.recent[i])
	}
	return out
}

func safeCall(l Listener, event EventWithData) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(event)
}
