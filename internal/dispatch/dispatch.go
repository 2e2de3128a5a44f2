// Package dispatch routes parsed webhook events to the handler registered for
// their Go type.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"insights/internal/installations"
	"insights/internal/metrics"
)

// HandlerFunc handles one event for one installation.
type HandlerFunc func(ctx context.Context, inst *installations.Installation, event any) error

// Registry maps event types to handlers. Anything without a handler goes to
// the default, so dispatch never fails for lack of a match.
// It is safe for concurrent reads; On should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]HandlerFunc
	fallback HandlerFunc
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		handlers: make(map[reflect.Type]HandlerFunc),
		logger:   logger.With("component", "dispatch"),
	}
	r.fallback = r.logUnhandled

	return r
}

// On registers fn for events of type *T. Panics on duplicate type to surface
// misconfiguration early.
func On[T any](r *Registry, fn func(ctx context.Context, inst *installations.Installation, event *T) error) {
	key := reflect.TypeFor[*T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("dispatch registry: duplicate handler for %s", key))
	}

	r.handlers[key] = func(ctx context.Context, inst *installations.Installation, event any) error {
		return fn(ctx, inst, event.(*T))
	}
}

// Default replaces the handler used for unregistered event types.
func (r *Registry) Default(fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = fn
}

// Dispatch runs the handler for event. name is the webhook event name and is
// only used for logging and metrics.
func (r *Registry) Dispatch(ctx context.Context, event any, name string, inst *installations.Installation) error {
	r.mu.RLock()
	fn, handled := r.handlers[reflect.TypeOf(event)]
	if !handled {
		fn = r.fallback
	}
	r.mu.RUnlock()

	metrics.EventsDispatched.WithLabelValues(name, strconv.FormatBool(handled)).Inc()

	if err := fn(ctx, inst, event); err != nil {
		return fmt.Errorf("handle %s event: %w", name, err)
	}

	return nil
}

// Types returns the registered event types by name.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k.String())
	}
	sort.Strings(out)

	return out
}

func (r *Registry) logUnhandled(ctx context.Context, inst *installations.Installation, event any) error {
	attrs := []any{"type", fmt.Sprintf("%T", event)}
	if inst != nil {
		attrs = append(attrs, "installation_id", inst.ID)
	}

	r.logger.DebugContext(ctx, "no handler for event", attrs...)

	return nil
}
