package hub

import (
	"sync"

	"go.uber.org/zap"
)

type roomEvent struct {
	roomID string
	event  Event
}

// Dispatcher bridges foreign goroutines (background workers, HTTP handlers)
// into the hub's delivery path. FireEvent never blocks the caller: events are
// enqueued onto a bounded channel and a single dispatcher goroutine drains
// the channel and performs the broadcast. When the buffer is full the event
// is dropped.
type Dispatcher struct {
	hub    *Hub
	logger *zap.Logger
	events chan roomEvent

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewDispatcher creates a Dispatcher with the given buffer capacity.
// The dispatcher does not deliver anything until Start is called; events
// fired before then sit in the buffer (or are dropped once it fills).
//
// Precondition: h and logger must be non-nil; buffer must be >= 1.
func NewDispatcher(h *Hub, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		hub:    h,
		logger: logger,
		events: make(chan roomEvent, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// FireEvent enqueues a broadcast of event to roomID. Safe to call from any
// goroutine at any time, including before Start and after Stop. Never blocks
// and gives no delivery confirmation; a full buffer drops the event.
func (d *Dispatcher) FireEvent(roomID string, event Event) {
	select {
	case d.events <- roomEvent{roomID: roomID, event: event}:
	default:
		d.logger.Debug("event buffer full, dropping event",
			zap.String("room_id", roomID),
		)
	}
}

// Start drains the event channel, broadcasting each event to its room.
// Blocks until Stop is called.
//
// Postcondition: Returns nil after Stop; pending buffered events may remain
// undelivered.
func (d *Dispatcher) Start() error {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return nil
		case ev := <-d.events:
			d.hub.BroadcastToRoom(ev.roomID, ev.event)
		}
	}
}

// Stop terminates the dispatch loop and waits for it to exit. Idempotent.
// Stopping a dispatcher that was never started returns once the stop signal
// is registered.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Wait blocks until the dispatch loop has exited. Only meaningful after
// Start has been called.
func (d *Dispatcher) Wait() {
	<-d.done
}
