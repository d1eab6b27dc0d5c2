// Package hooks provides an event-driven hook system for bootstrap lifecycle events.
package hooks

import (
	"context"
	"sync"

	"github.com/soyeahso/hyperloop/internal/logging"
)

// Event names for the hook system.
const (
	EventInstallDone    = "install_done"
	EventRuntimeStart   = "runtime_start"
	EventModelLoaded    = "model_loaded"
	EventModelDowngrade = "model_downgrade"
	EventSwarmStart     = "swarm_start"
	EventTaskDone       = "task_done"
	EventSwarmDone      = "swarm_done"
	EventLoopExhausted  = "loop_exhausted"
)

// AllEvents lists all known hook event names, in lifecycle order.
var AllEvents = []string{
	EventInstallDone,
	EventRuntimeStart,
	EventModelLoaded,
	EventModelDowngrade,
	EventSwarmStart,
	EventTaskDone,
	EventSwarmDone,
	EventLoopExhausted,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
	async   bool
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler that Emit calls inline, in registration order.
// It must not block.
func (m *Manager) On(event, name string, handler Handler) {
	m.add(event, namedHandler{name: name, handler: handler})
}

// OnAsync registers a handler that Emit starts on its own goroutine.
// Wait blocks until every started handler has returned.
func (m *Manager) OnAsync(event, name string, handler Handler) {
	m.add(event, namedHandler{name: name, handler: handler, async: true})
}

func (m *Manager) add(event string, h namedHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
	m.log.Debug().Str("event", event).Str("handler", h.name).Bool("async", h.async).Msg("hook registered")
}

// Emit dispatches an event. Inline handlers run before Emit returns; async
// handlers are started and tracked. Errors are logged and never stop the
// remaining handlers.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	m.mu.RLock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}

	for _, h := range handlers {
		if !h.async {
			m.call(ctx, h, payload)
			continue
		}
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.call(ctx, h, payload)
		}()
	}
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Bool("async", h.async).
			Msg("hook handler error")
	}
}

// Wait blocks until every async handler started by Emit has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Events returns the events that have at least one handler, in lifecycle
// order.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []string
	for _, event := range AllEvents {
		if len(m.handlers[event]) > 0 {
			events = append(events, event)
		}
	}
	return events
}
