package events

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler receives dispatched events
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher delivers events synchronously, in subscription order, on the
// caller's goroutine. A handler observing an event sees the state at the
// exact point of mutation.
type Dispatcher struct {
	subs   []subscription
	nextID uint64
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger.With("component", "dispatcher"),
	}
}

// Subscribe registers a handler for all events. The returned function
// removes the subscription; calling it more than once is harmless.
func (d *Dispatcher) Subscribe(h Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, handler: h})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// On registers a handler for a single event type
func On[T Event](d *Dispatcher, fn func(T)) func() {
	return d.Subscribe(func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}

// Dispatch delivers e to every handler registered at the time of the call.
// Handlers may subscribe, unsubscribe or dispatch further events.
func (d *Dispatcher) Dispatch(e Event) {
	if d == nil || e == nil {
		return
	}

	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, s := range subs {
		d.deliver(s, e)
	}
}

func (d *Dispatcher) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event handler panicked",
				"topic", e.Topic(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	s.handler(e)
}

// Count returns the number of active subscriptions
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
