// Package eventbus implements typed publish/subscribe over an AMQP broker:
// a mutex-guarded connection manager, a compile-time handler registry, and a
// bus with retrying publish and a manual-ack consume loop.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// DecodeFunc turns a raw message body into the typed event a handler expects.
type DecodeFunc func(data []byte) (any, error)

// Handler processes one decoded event. Implementations must be safe for
// duplicate deliveries: the bus is at-least-once.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event any) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, event any) error
}

// NewHandler creates a named Handler from a function.
func NewHandler(name string, fn func(ctx context.Context, event any) error) HandlerFunc {
	return HandlerFunc{name: name, fn: fn}
}

// Name returns the handler name used in logs.
func (h HandlerFunc) Name() string { return h.name }

// Handle invokes the wrapped function.
func (h HandlerFunc) Handle(ctx context.Context, event any) error { return h.fn(ctx, event) }

// DecodeJSON returns a DecodeFunc that unmarshals the body into *T.
func DecodeJSON[T any]() DecodeFunc {
	return func(data []byte) (any, error) {
		var event T
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return &event, nil
	}
}

// subscription holds the decoder and the ordered handler list for one event type.
type subscription struct {
	decode   DecodeFunc
	handlers []Handler
}

// Registry maps event-type names to decoders and handlers. All wiring happens
// at startup, so a missing handler is a startup-validation error rather than
// a runtime log line.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*subscription)}
}

// Subscribe records a handler for an event type. The first subscription for a
// type also registers its decoder; later subscriptions must not pass a
// conflicting one (nil reuses the existing decoder). It returns true when this
// is the first handler for the event type, which is the caller's cue to bind
// the routing key to its queue.
func (r *Registry) Subscribe(eventType string, decode DecodeFunc, handler Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[eventType]
	if !ok {
		sub = &subscription{decode: decode}
		r.subs[eventType] = sub
	}
	if sub.decode == nil {
		sub.decode = decode
	}
	sub.handlers = append(sub.handlers, handler)
	return !ok
}

// Unsubscribe removes a handler by name. The queue binding is intentionally
// left in place even when the last handler goes away, so in-flight messages
// are not lost to an unbind race.
func (r *Registry) Unsubscribe(eventType, handlerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[eventType]
	if !ok {
		return
	}

	remaining := sub.handlers[:0]
	for _, h := range sub.handlers {
		if h.Name() != handlerName {
			remaining = append(remaining, h)
		}
	}
	sub.handlers = remaining

	if len(sub.handlers) == 0 {
		delete(r.subs, eventType)
	}
}

// Lookup returns the decoder and handlers registered for an event type.
func (r *Registry) Lookup(eventType string) (DecodeFunc, []Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[eventType]
	if !ok {
		return nil, nil, false
	}

	handlers := make([]Handler, len(sub.handlers))
	copy(handlers, sub.handlers)
	return sub.decode, handlers, true
}

// EventTypes returns the sorted list of subscribed event types.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.subs))
	for eventType := range r.subs {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

// Validate checks that every subscribed event type has a decoder and at least
// one handler. Call it after startup wiring, before consuming begins.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for eventType, sub := range r.subs {
		if sub.decode == nil {
			return fmt.Errorf("event type %q has no decoder", eventType)
		}
		if len(sub.handlers) == 0 {
			return fmt.Errorf("event type %q has no handlers", eventType)
		}
	}
	return nil
}
