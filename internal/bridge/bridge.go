// Package bridge connects an out-of-process signing step (a QR round trip or a
// hardware device) back to the transaction waiting on it.
//
// The bridge holds a single slot: registering a request always discards the
// previous one, so at most one external request is outstanding per process.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

var (
	// ErrSuperseded settles a pending request discarded by Clean or by a newer Register.
	ErrSuperseded = errors.New("external request superseded")

	// ErrEmptyID is returned when registering a request without an id.
	ErrEmptyID = errors.New("external request id is empty")

	// ErrIDInUse is returned when registering an id that is still held by the bridge.
	ErrIDInUse = errors.New("external request id already in use")
)

// Kind is the external signer a request is waiting on.
type Kind string

const (
	// KindQR requests are displayed as a QR code and answered by a scanned signature.
	KindQR Kind = "qr"
	// KindHardware requests are answered by a hardware device round trip.
	KindHardware Kind = "hardware"
)

// Status is the lifecycle state of an external request.
type Status int

const (
	// StatusPending requests wait for Resolve or Reject.
	StatusPending Status = iota
	// StatusResolved requests have data delivered that the waiter has not yet taken.
	StatusResolved
	// StatusRejected requests were rejected, superseded or timed out.
	StatusRejected
	// StatusCompleted requests were resolved and their data consumed.
	StatusCompleted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusRejected:
		return "rejected"
	case StatusCompleted:
		return "completed"
	}
	return "unknown"
}

// Request is a read-only view of an external signing request.
type Request struct {
	ID        string
	Kind      Kind
	Status    Status
	Payload   []byte
	Message   string
	Stage     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch carries the progress fields Update may change. Nil fields are left alone.
type Patch struct {
	Message *string
	Stage   *string
}

// Observer is notified after every request transition, outside the bridge lock.
type Observer func(Request)

type outcome struct {
	data []byte
	err  error
}

type entry struct {
	req  Request
	done chan outcome // buffered; receives exactly one outcome
}

// Bridge is the single-slot continuation registry for external signing.
type Bridge struct {
	mu       sync.Mutex
	current  *entry
	observer Observer
}

// New creates a bridge. observer may be nil.
func New(observer Observer) *Bridge {
	return &Bridge{observer: observer}
}

// Pending is the waiter side of a registered request.
type Pending struct {
	id     string
	bridge *Bridge
	done   <-chan outcome
}

// ID returns the request id.
func (p *Pending) ID() string { return p.id }

// Wait blocks until the request is resolved or rejected. When ctx ends first
// the request is rejected with UnableToSign.
func (p *Pending) Wait(ctx context.Context) ([]byte, error) {
	select {
	case o := <-p.done:
		p.bridge.consume(p.id, o)
		return o.data, o.err
	case <-ctx.Done():
		p.bridge.settle(p.id, StatusRejected, "signing timed out", outcome{
			err: heralderr.WithCause(heralderr.WithDetail(heralderr.ErrUnableToSign, "signing timed out"), ctx.Err()),
		})
		o := <-p.done
		p.bridge.consume(p.id, o)
		return o.data, o.err
	}
}

// Register cleans the slot and stores a new pending request.
func (b *Bridge) Register(id string, kind Kind, payload []byte) (*Pending, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	b.mu.Lock()
	if b.current != nil && b.current.req.ID == id {
		b.mu.Unlock()
		return nil, ErrIDInUse
	}
	superseded := b.cleanLocked()

	now := time.Now()
	e := &entry{
		req: Request{
			ID:        id,
			Kind:      kind,
			Status:    StatusPending,
			Payload:   append([]byte(nil), payload...),
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan outcome, 1),
	}
	b.current = e
	registered := snapshot(e.req)
	b.mu.Unlock()

	if superseded != nil {
		b.notify(*superseded)
	}
	b.notify(registered)
	return &Pending{id: id, bridge: b, done: e.done}, nil
}

// Clean discards the current request. A pending waiter receives ErrSuperseded.
func (b *Bridge) Clean() {
	b.mu.Lock()
	superseded := b.cleanLocked()
	b.mu.Unlock()

	if superseded != nil {
		b.notify(*superseded)
	}
}

// Resolve delivers data to a pending request. It reports whether the request
// was pending; later calls for the same id are no-ops.
func (b *Bridge) Resolve(id string, data []byte) bool {
	return b.settle(id, StatusResolved, "", outcome{data: append([]byte(nil), data...)})
}

// Reject rejects a pending request. With throwError the waiter receives
// UnableToSign carrying message; otherwise a silent UserRejectRequest.
func (b *Bridge) Reject(id, message string, throwError bool) bool {
	var err error = heralderr.ErrUserRejectRequest
	if throwError {
		err = heralderr.ErrUnableToSign
	}
	if message != "" {
		err = heralderr.WithDetail(err, message)
	}
	return b.settle(id, StatusRejected, message, outcome{err: err})
}

// Update merges progress fields into the request. It never settles it.
func (b *Bridge) Update(id string, patch Patch) bool {
	b.mu.Lock()
	e := b.lookupLocked(id)
	if e == nil {
		b.mu.Unlock()
		return false
	}
	if patch.Message != nil {
		e.req.Message = *patch.Message
	}
	if patch.Stage != nil {
		e.req.Stage = *patch.Stage
	}
	e.req.UpdatedAt = time.Now()
	updated := snapshot(e.req)
	b.mu.Unlock()

	b.notify(updated)
	return true
}

// Get returns the request with id if it still holds the slot.
func (b *Bridge) Get(id string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookupLocked(id)
	if e == nil {
		return Request{}, false
	}
	return snapshot(e.req), true
}

// Current returns the request holding the slot, if any.
func (b *Bridge) Current() (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return Request{}, false
	}
	return snapshot(b.current.req), true
}

// settle moves a pending request to status and hands o to its waiter.
func (b *Bridge) settle(id string, status Status, message string, o outcome) bool {
	b.mu.Lock()
	e := b.lookupLocked(id)
	if e == nil || e.req.Status != StatusPending {
		b.mu.Unlock()
		return false
	}
	e.req.Status = status
	if message != "" {
		e.req.Message = message
	}
	e.req.UpdatedAt = time.Now()
	e.done <- o
	settled := snapshot(e.req)
	b.mu.Unlock()

	b.notify(settled)
	return true
}

// consume marks a resolved request completed once its waiter took the data.
func (b *Bridge) consume(id string, o outcome) {
	if o.err != nil {
		return
	}

	b.mu.Lock()
	e := b.lookupLocked(id)
	if e == nil || e.req.Status != StatusResolved {
		b.mu.Unlock()
		return
	}
	e.req.Status = StatusCompleted
	e.req.UpdatedAt = time.Now()
	completed := snapshot(e.req)
	b.mu.Unlock()

	b.notify(completed)
}

// cleanLocked empties the slot, settling a pending request with ErrSuperseded.
// It returns the superseded request view for notification.
func (b *Bridge) cleanLocked() *Request {
	e := b.current
	b.current = nil
	if e == nil || e.req.Status != StatusPending {
		return nil
	}
	e.req.Status = StatusRejected
	e.req.Message = ErrSuperseded.Error()
	e.req.UpdatedAt = time.Now()
	e.done <- outcome{err: heralderr.WithCause(heralderr.WithDetail(heralderr.ErrUserRejectRequest, "superseded"), ErrSuperseded)}
	view := snapshot(e.req)
	return &view
}

func (b *Bridge) lookupLocked(id string) *entry {
	if b.current == nil || b.current.req.ID != id {
		return nil
	}
	return b.current
}

func (b *Bridge) notify(req Request) {
	if b.observer != nil {
		b.observer(req)
	}
}

func snapshot(req Request) Request {
	req.Payload = append([]byte(nil), req.Payload...)
	return req
}
