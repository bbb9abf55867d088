package event

import (
	"sync"

	"go.uber.org/zap"
)

// Manager fans committed marketplace events out to subscribers. Dispatch
// is synchronous: the engine emits only after a frame commits, so a
// subscriber never observes an event for a rolled-back operation.
type Manager struct {
	mu        sync.RWMutex
	listeners map[Type][]func(msg interface{})
	all       []func(eventType Type, msg interface{})
}

func NewManager() *Manager {
	return &Manager{listeners: make(map[Type][]func(msg interface{}))}
}

// Subscribe registers a callback for one event type.
func (m *Manager) Subscribe(eventType Type, callback func(msg interface{})) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[eventType] = append(m.listeners[eventType], callback)
}

// SubscribeAll registers a callback for every event type.
func (m *Manager) SubscribeAll(callback func(eventType Type, msg interface{})) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, callback)
}

// Emit delivers an event to all matching subscribers.
func (m *Manager) Emit(eventType Type, msg interface{}) {
	m.mu.RLock()
	typed := m.listeners[eventType]
	all := m.all
	m.mu.RUnlock()

	zap.L().With(zap.String("type", string(eventType))).Debug("event: emitting")
	for _, callback := range typed {
		callback(msg)
	}
	for _, callback := range all {
		callback(eventType, msg)
	}
}
