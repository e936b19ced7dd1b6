// Package aggregate provides the base type and replay machinery for
// event-sourced aggregates.
package aggregate

import (
	"github.com/google/uuid"

	"github.com/go-eventry/eventry/event"
)

// ID identifies an aggregate instance.
type ID = uuid.UUID

// GenerateID returns a new random aggregate ID.
func GenerateID() ID {
	return uuid.New()
}

// Handler mutates an aggregate's state in response to one historical or
// newly recorded event. Handlers must be pure state transitions: no I/O,
// no side effects, and never an error return (replay cannot fail on
// already-committed history).
type Handler func(payload interface{})

// Root is the contract user-supplied aggregates must implement.
type Root interface {
	// AggregateID returns this aggregate's identity.
	AggregateID() ID
	// AggregateType is the stable type tag recorded on every event this aggregate produces.
	AggregateType() string
	// EventHandlers returns the event-name -> Handler registry used to replay history.
	EventHandlers() map[string]Handler
	// Version returns the count of events already persisted for this
	// aggregate. It excludes events staged by Record but not yet saved.
	Version() int

	// uncommitted gives the repository access to BaseRoot's pending-event buffer.
	uncommitted() []event.Event
	clearUncommitted()
	appendPending(event.Event)
	setVersion(int)
}

// BaseRoot is embedded by concrete aggregates to get pending-event buffering
// and version tracking for free; it does not implement AggregateType or
// EventHandlers, which are domain-specific.
type BaseRoot struct {
	pending []event.Event
	version int
}

// Version returns the number of events folded into this aggregate by Apply
// (i.e. already-persisted history), per Root.Version.
func (b *BaseRoot) Version() int { return b.version }

func (b *BaseRoot) setVersion(v int) { b.version = v }

// Record appends a new event to the pending buffer. The aggregate's own
// handler is invoked immediately so in-memory state stays consistent with
// events the aggregate itself just recorded.
func Record(root Root, name string, payload interface{}) {
	e := event.New(name, payload, nil)
	recordEvent(root, e)
}

func recordEvent(root Root, e event.Event) {
	root.appendPending(e)
	if h, ok := root.EventHandlers()[e.Name()]; ok {
		h(e.Payload())
	}
}

func (b *BaseRoot) appendPending(e event.Event) {
	b.pending = append(b.pending, e)
}

func (b *BaseRoot) uncommitted() []event.Event {
	return b.pending
}

func (b *BaseRoot) clearUncommitted() {
	b.pending = nil
}

// UncommittedEvents exposes an aggregate's pending events to the repository package.
func UncommittedEvents(root Root) []event.Event {
	return root.uncommitted()
}

// ClearUncommittedEvents clears an aggregate's pending-event buffer.
func ClearUncommittedEvents(root Root) {
	root.clearUncommitted()
}

// Apply folds a single historical event into root via its handler registry,
// advancing root's Version by one. Events with no matching handler are
// skipped, never an error — a projector or future aggregate version may
// introduce new event names that older code doesn't know about yet.
func Apply(root Root, e event.Event) {
	if h, ok := root.EventHandlers()[e.Name()]; ok {
		h(e.Payload())
	}
	root.setVersion(root.Version() + 1)
}
