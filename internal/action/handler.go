package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/licensahq/stageact/model"
)

// Handler executes one action kind. Implementations must be safe for
// concurrent use.
type Handler interface {
	// Type returns the action type this handler serves.
	Type() Type
	// Execute carries the action out against the given data context and
	// acting operator. The returned result is recorded in the audit
	// trail, so handlers must not put secrets in it.
	Execute(ctx context.Context, cfg *Config, dctx model.DataContext, actor model.Actor) (model.ActionResult, error)
}

// Registry stores handlers by type and provides lookup. It is safe for
// concurrent use after initial registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]Handler)}
}

// Register adds a handler under its Type(). Panics if the type is
// already registered, since that indicates a wiring mistake at startup.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("action: handler for %q already registered", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for the given type.
func (r *Registry) Get(t Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns all registered types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
