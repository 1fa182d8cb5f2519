// Package dispatch provides the named-event registration primitive used by
// sessions.
//
// A [Dispatcher] holds at most one handler per event name. Registering a
// handler for a name that already has one replaces it, so registering the
// same set of handlers any number of times never results in more than one
// invocation per dispatched event.
package dispatch

import (
	"maps"
	"slices"
	"sync"
)

// Handler handles the payload of a single dispatched event.
type Handler[P any] func(payload P)

// Dispatcher routes named events to their registered handler.
//
// The zero value is not usable, use [New].
type Dispatcher[K ~string, P any] struct {
	mu       sync.RWMutex
	handlers map[K]Handler[P]
}

func New[K ~string, P any]() *Dispatcher[K, P] {
	return &Dispatcher[K, P]{handlers: make(map[K]Handler[P])}
}

// Register installs handler for name, replacing any existing handler.
// Registering a nil handler is the same as [Dispatcher.Unregister].
func (d *Dispatcher[K, P]) Register(name K, handler Handler[P]) {
	if handler == nil {
		d.Unregister(name)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = handler
}

// Unregister removes the handler for name. It is a no-op when none is
// registered.
func (d *Dispatcher[K, P]) Unregister(name K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, name)
}

// Dispatch invokes the handler currently registered for name and reports
// whether one ran. The handler runs synchronously on the caller's goroutine,
// outside of the dispatcher lock, so it may register or unregister handlers.
func (d *Dispatcher[K, P]) Dispatch(name K, payload P) bool {
	d.mu.RLock()
	handler, ok := d.handlers[name]
	d.mu.RUnlock()

	if !ok {
		return false
	}

	handler(payload)
	return true
}

// Clear removes every handler.
func (d *Dispatcher[K, P]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.handlers)
}

func (d *Dispatcher[K, P]) Has(name K) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

func (d *Dispatcher[K, P]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Registered returns the names with a handler, sorted.
func (d *Dispatcher[K, P]) Registered() []K {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.handlers))
}
