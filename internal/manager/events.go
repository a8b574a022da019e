package manager

import "time"

// Event represents a manager lifecycle event.
// Minimal and stable: name + model and optional fields via key/values.
type Event struct {
	Name   string
	Model  string
	Time   time.Time
	Fields map[string]any
}

// Event names published by the Manager.
const (
	EventLoadStart     = "load_start"
	EventLoadReady     = "load_ready"
	EventLoadFailed    = "load_failed"
	EventUnloadStart   = "unload_start"
	EventUnloadDone    = "unload_done"
	EventUnloadTimeout = "unload_timeout"
	EventExecFailed    = "exec_failed"
	EventRescan        = "rescan"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name, model string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	m.publisher.Publish(Event{Name: name, Model: model, Time: time.Now(), Fields: fields})
}
