package events

import (
	"sync"
)

// Dispatcher is the unbounded FIFO of sync events with a single
// consumer. Events pushed for the same table reach the consumer in
// push order; events across tables carry no ordering guarantee. The
// queue is unbounded: depth is observable for metrics, but nothing is
// shed.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []SyncEvent
	closed bool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Push appends an event. Pushing after Close is a no-op.
func (d *Dispatcher) Push(ev SyncEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
}

// Depth returns the number of queued events.
func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops the dispatcher. The consumer drains the remaining queue
// before Run returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
}

// Run is the consumer loop. It delivers events one at a time to
// handle, in FIFO order, and returns once the dispatcher is closed and
// the queue is drained. Only one consumer may run.
func (d *Dispatcher) Run(handle func(SyncEvent)) {
	for {
		ev, ok := d.next()
		if !ok {
			return
		}
		handle(ev)
	}
}

func (d *Dispatcher) next() (SyncEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 {
		if d.closed {
			return nil, false
		}
		d.cond.Wait()
	}
	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, true
}
