package manager

// Event represents a session lifecycle event.
type Event struct {
	Name   string
	RunID  string
	Fields map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// SetEventPublisher replaces the event sink. A nil publisher drops events.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

func (m *Manager) publish(name, runID string, fields map[string]any) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if fields == nil {
		fields = map[string]any{}
	}
	p.Publish(Event{Name: name, RunID: runID, Fields: fields})
}
