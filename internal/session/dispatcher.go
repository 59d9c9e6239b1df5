package session

import (
	"log/slog"
	"sync"

	"github.com/TavaresBugs/ScrapperTV/internal/protocol"
)

// Handler consumes one parsed server event. Handlers run on the session's
// read goroutine in registration order and must not block.
type Handler func(protocol.Event)

type subscription struct {
	id int
	fn Handler
}

// Dispatcher fans parsed events out to registered handlers. Registration
// order is delivery order. The handler list is copied before each dispatch,
// so handlers may subscribe or unsubscribe from within a callback; such
// changes take effect from the next event onward.
type Dispatcher struct {
	logger *slog.Logger

	// OnPanic, when set, is invoked with the recovered value after a
	// handler panics. The panic never propagates to the read loop.
	OnPanic func(recovered any)

	mu     sync.Mutex
	nextID int
	subs   []subscription
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Subscribe registers a handler and returns its cancel function. Cancelling
// is idempotent.
func (d *Dispatcher) Subscribe(fn Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.subs = append(d.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			d.remove(id)
		})
	}
}

func (d *Dispatcher) remove(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, sub := range d.subs {
		if sub.id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

// Dispatch delivers one event to every handler registered at the time of
// the call.
func (d *Dispatcher) Dispatch(ev protocol.Event) {
	d.mu.Lock()
	snapshot := make([]subscription, len(d.subs))
	copy(snapshot, d.subs)
	d.mu.Unlock()

	for _, sub := range snapshot {
		d.invoke(sub, ev)
	}
}

func (d *Dispatcher) invoke(sub subscription, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "handler_id", sub.id, "panic", r)
			if d.OnPanic != nil {
				d.OnPanic(r)
			}
		}
	}()
	sub.fn(ev)
}

// Len reports the number of registered handlers
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
