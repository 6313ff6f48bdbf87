// Package notify delivers user-facing transaction notifications.
package notify

import (
	"io"
	"sync"

	"github.com/mrz1836/herald/internal/output"
)

// Kind classifies a notification.
type Kind string

const (
	// KindSuccess announces a confirmed transaction.
	KindSuccess Kind = "success"
	// KindFailure announces a failed transaction.
	KindFailure Kind = "failure"
)

// Notification is a message for the user. Link is optional.
type Notification struct {
	Kind  Kind
	Title string
	Body  string
	Link  string
}

// Notifier delivers notifications. Implementations must not block for long.
type Notifier interface {
	Notify(n Notification)
}

// Terminal prints notifications to a writer.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal creates a notifier writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

// Notify prints n.
func (t *Terminal) Notify(n Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := n.Title
	if n.Body != "" {
		msg += ": " + n.Body
	}
	if n.Kind == KindFailure {
		output.FailureTo(t.w, msg)
	} else {
		output.SuccessTo(t.w, msg)
	}
	if n.Link != "" {
		output.InfoTo(t.w, n.Link)
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify delivers n to every notifier.
func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// Discard drops every notification.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(Notification) {}
