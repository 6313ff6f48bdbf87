package transaction

import (
	"context"
	"sync"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// eventBuffer holds every event one transaction can produce.
const eventBuffer = 4

// Handle receives the events of one submitted transaction.
type Handle struct {
	id     string
	hub    *eventHub
	events chan Event
	once   sync.Once
}

// ID returns the transaction id.
func (h *Handle) ID() string { return h.id }

// Events returns the event channel. It is closed after the terminal event or on Close.
func (h *Handle) Events() <-chan Event { return h.events }

// Close detaches the listener. The transaction itself carries on.
func (h *Handle) Close() {
	h.hub.detach(h)
}

// Wait returns the terminal event. Events before it are skipped.
func (h *Handle) Wait(ctx context.Context) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-h.events:
			if !ok {
				return Event{}, heralderr.WithDetail(heralderr.ErrInternal, "event stream closed")
			}
			if ev.IsTerminal() {
				return ev, nil
			}
		}
	}
}

func (h *Handle) close() {
	h.once.Do(func() { close(h.events) })
}

// eventHub routes transaction events to the handles listening on them.
type eventHub struct {
	mu        sync.Mutex
	listeners map[string][]*Handle
}

func newEventHub() *eventHub {
	return &eventHub{listeners: make(map[string][]*Handle)}
}

func (e *eventHub) attach(id string) *Handle {
	h := &Handle{id: id, hub: e, events: make(chan Event, eventBuffer)}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[id] = append(e.listeners[id], h)
	return h
}

func (e *eventHub) detach(h *Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handles := e.listeners[h.id]
	for i, other := range handles {
		if other == h {
			e.listeners[h.id] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(e.listeners[h.id]) == 0 {
		delete(e.listeners, h.id)
	}
	h.close()
}

// emit delivers ev without blocking. Terminal events close the handles.
func (e *eventHub) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range e.listeners[ev.ID] {
		select {
		case h.events <- ev:
		default:
		}
		if ev.IsTerminal() {
			h.close()
		}
	}
	if ev.IsTerminal() {
		delete(e.listeners, ev.ID)
	}
}
