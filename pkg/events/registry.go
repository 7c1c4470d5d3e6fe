package events

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler processes one decoded event. The payload is the schema-typed
// value DecodePayload produced for the envelope's event type, validated
// by the dispatcher. Implementations signal transient failures with
// ordinary errors and unrecoverable ones by wrapping the permanent
// sentinel of the dispatching loop.
type Handler interface {
	// EventType names the single event type the handler accepts.
	EventType() string
	Handle(ctx context.Context, envelope Envelope, payload any) error
}

// Registry maps event types to their handlers. Registration happens at
// startup, lookups for the life of the process.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Register binds a handler to its event type. Registering the same type
// twice replaces the earlier handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eventType := h.EventType()
	if _, exists := r.handlers[eventType]; exists {
		r.log.Warn("replacing registered handler", zap.String("event_type", eventType))
	}
	r.handlers[eventType] = h
	r.log.Info("registered event handler", zap.String("event_type", eventType))
}

// Lookup returns the handler for an event type, if any.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[eventType]
	return h, ok
}

// Types lists the registered event types in stable order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}
