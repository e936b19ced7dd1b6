// Package event defines the immutable event envelope persisted by the
// event store and replayed by aggregates and projections.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-eventry/eventry/metadata"
)

// Event is an immutable envelope around a domain payload. Builder methods
// (With*) return a new Event with the given field replaced; the receiver is
// never mutated.
type Event interface {
	// No is the monotonic, dense, per-stream sequence number assigned at append.
	No() int64
	// UUID is the globally unique identifier of this event.
	UUID() uuid.UUID
	// Name is the stable dispatch tag of this event's type.
	Name() string
	// Payload is the opaque domain payload.
	Payload() interface{}
	// Metadata is the reserved + user-defined label set.
	Metadata() metadata.Metadata
	// CreatedAt is the logical creation timestamp, used as the merge sort key.
	CreatedAt() time.Time

	// WithNo returns a copy of this event with No() replaced.
	WithNo(no int64) Event
	// WithVersion returns a copy with metadata._aggregate_version set.
	WithVersion(version int) Event
	// WithAggregateType returns a copy with metadata._aggregate_type set.
	WithAggregateType(aggregateType string) Event
	// WithMetadata returns a copy with the given metadata key set.
	WithMetadata(key string, value interface{}) Event
}

type event struct {
	no        int64
	uuid      uuid.UUID
	name      string
	payload   interface{}
	metadata  metadata.Metadata
	createdAt time.Time
}

// New returns a new Event with a freshly generated UUID and the current
// metadata bag. no is 0 until the store assigns it at append time.
func New(name string, payload interface{}, md metadata.Metadata) Event {
	if md == nil {
		md = metadata.New()
	}
	return &event{
		uuid:      uuid.New(),
		name:      name,
		payload:   payload,
		metadata:  md,
		createdAt: time.Now().UTC(),
	}
}

// NewWithUUID is like New but lets the caller supply the UUID (e.g. for
// deterministic replays in tests).
func NewWithUUID(id uuid.UUID, name string, payload interface{}, md metadata.Metadata) Event {
	e := New(name, payload, md).(*event)
	e.uuid = id
	return e
}

// Reconstitute rebuilds an Event exactly as it was persisted, for use by
// PersistenceStrategy implementations reading rows back out of storage.
func Reconstitute(id uuid.UUID, no int64, name string, payload interface{}, md metadata.Metadata, createdAt time.Time) Event {
	if md == nil {
		md = metadata.New()
	}
	return &event{
		no:        no,
		uuid:      id,
		name:      name,
		payload:   payload,
		metadata:  md,
		createdAt: createdAt,
	}
}

func (e *event) No() int64                   { return e.no }
func (e *event) UUID() uuid.UUID             { return e.uuid }
func (e *event) Name() string                { return e.name }
func (e *event) Payload() interface{}        { return e.payload }
func (e *event) Metadata() metadata.Metadata { return e.metadata }
func (e *event) CreatedAt() time.Time        { return e.createdAt }

func (e *event) WithNo(no int64) Event {
	cp := *e
	cp.no = no
	return &cp
}

func (e *event) WithVersion(version int) Event {
	return e.WithMetadata(metadata.AggregateVersionKey, version)
}

func (e *event) WithAggregateType(aggregateType string) Event {
	return e.WithMetadata(metadata.AggregateTypeKey, aggregateType)
}

func (e *event) WithMetadata(key string, value interface{}) Event {
	cp := *e
	cp.metadata = metadata.WithValue(e.metadata, key, value)
	return &cp
}

// AggregateID returns the _aggregate_id metadata value, if present.
func AggregateID(e Event) (string, bool) {
	v, ok := e.Metadata().Value(metadata.AggregateIDKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AggregateVersion returns the _aggregate_version metadata value, if present.
func AggregateVersion(e Event) (int, bool) {
	v, ok := e.Metadata().Value(metadata.AggregateVersionKey)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// StreamName returns the metadata.StreamKey value set by a mergeAndLoad, if present.
func StreamName(e Event) (string, bool) {
	v, ok := e.Metadata().Value(metadata.StreamKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
