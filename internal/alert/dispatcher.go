package alert

import (
	"log"
	"sync"
)

// Dispatcher delivers every alert to all registered listeners synchronously,
// in registration order. Each listener runs inside a recover guard so a
// misbehaving callback cannot break delivery to the others or destabilise
// the component that raised the alert.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []func(Alert)
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// OnAlert registers a listener. Listeners cannot be removed; components that
// need to stop reacting should track their own state.
func (d *Dispatcher) OnAlert(fn func(Alert)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Dispatch invokes every registered listener with the alert.
func (d *Dispatcher) Dispatch(a Alert) {
	d.mu.RLock()
	listeners := make([]func(Alert), len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, fn := range listeners {
		d.deliver(fn, a)
	}
}

func (d *Dispatcher) deliver(fn func(Alert), a Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Alert listener panicked: %v", r)
		}
	}()
	fn(a)
}

// ListenerCount returns the number of registered listeners.
func (d *Dispatcher) ListenerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}
