package eventstore

import (
	"context"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/metadata"
)

// StreamQuery is one entry of a mergeAndLoad call: the stream to read and
// the position to resume from (1-based, inclusive), plus an optional matcher.
type StreamQuery struct {
	StreamName string
	FromNumber int64
	Matcher    metadata.Matcher
}

// RawEventStream is the backend-level lazy sequence returned by a
// PersistenceStrategy. It is wrapped by MiddlewareIterator before being
// handed to callers of EventStore.Load/MergeAndLoad.
type RawEventStream interface {
	// Next advances the stream and returns the next event, or ok=false at end of stream.
	Next(ctx context.Context) (e event.Event, ok bool, err error)
	// Close releases resources held by the stream. Idempotent.
	Close() error
}

// ProjectionStatus is the lifecycle state of a single projection.
type ProjectionStatus string

// Projection lifecycle states.
const (
	StatusIdle                      ProjectionStatus = "IDLE"
	StatusRunning                   ProjectionStatus = "RUNNING"
	StatusStopping                  ProjectionStatus = "STOPPING"
	StatusDeleting                  ProjectionStatus = "DELETING"
	StatusDeletingInclEmittedEvents ProjectionStatus = "DELETING_INCL_EMITTED_EVENTS"
	StatusResetting                 ProjectionStatus = "RESETTING"
)

// ProjectionRecord is the persisted state of one projection.
type ProjectionRecord struct {
	Name        string
	State       []byte
	Positions   map[string]int64
	Status      ProjectionStatus
	LockedUntil *int64 // unix nanos, nil if unlocked
	LockOwner   string
}

// PersistenceStrategy is the pluggable back-end the engine consumes.
// Concrete implementations live in eventstore/postgres and
// eventstore/memory.
type PersistenceStrategy interface {
	// CreateEventStreamsTable creates the streams registry. Idempotent.
	CreateEventStreamsTable(ctx context.Context) error
	// CreateProjectionsTable creates the projections registry. Idempotent.
	CreateProjectionsTable(ctx context.Context) error

	// AddStreamToStreamsTable registers name in the streams table. Fails with
	// ErrStreamAlreadyExists on duplicate names.
	AddStreamToStreamsTable(ctx context.Context, name string) error
	// RemoveStreamFromStreamsTable unregisters name. Fails with ErrStreamNotFound if unknown.
	RemoveStreamFromStreamsTable(ctx context.Context, name string) error
	// StreamNames returns every stream name currently registered.
	StreamNames(ctx context.Context) ([]string, error)

	// CreateSchema provisions the physical storage for a stream. Paired with
	// AddStreamToStreamsTable by the facade so failures roll back.
	CreateSchema(ctx context.Context, name string) error
	// DropSchema tears down the physical storage for a stream.
	DropSchema(ctx context.Context, name string) error

	// AppendTo atomically appends events to name, assigning No() contiguously
	// starting at max(No)+1. Fails with ErrConcurrency on a duplicate
	// (_aggregate_id, _aggregate_version) pair already present in the stream.
	AppendTo(ctx context.Context, name string, events []event.Event) error
	// Load returns events with No() >= fromNumber, filtered by matcher, in
	// ascending No() order.
	Load(ctx context.Context, name string, fromNumber int64, matcher metadata.Matcher) (RawEventStream, error)
	// HeadPosition returns the highest No() assigned in name's stream, or 0
	// for an empty stream. Fails with ErrStreamNotFound for unknown streams.
	HeadPosition(ctx context.Context, name string) (int64, error)
	// MergeAndLoad returns the time-ordered merge of the given per-stream
	// queries, ordered by (CreatedAt, No) ascending, stable by queries'
	// declaration order on ties. Each yielded event carries metadata.StreamKey
	// set to its source stream name.
	MergeAndLoad(ctx context.Context, queries []StreamQuery) (RawEventStream, error)

	// LoadProjection returns the persisted record for name, or nil if none exists.
	LoadProjection(ctx context.Context, name string) (*ProjectionRecord, error)
	// ListProjections returns every persisted projection record, ordered by name.
	ListProjections(ctx context.Context) ([]ProjectionRecord, error)
	// SaveProjection creates or overwrites the persisted record for a projection.
	SaveProjection(ctx context.Context, record ProjectionRecord) error
	// DeleteProjection removes the persisted record for a projection.
	DeleteProjection(ctx context.Context, name string) error
	// SetProjectionStatus updates only the status field of a projection record.
	SetProjectionStatus(ctx context.Context, name string, status ProjectionStatus) error
}

// WriteLockStrategy serializes projection runs by name.
type WriteLockStrategy interface {
	// CreateLock attempts to acquire the named lock, returning false if already held.
	CreateLock(ctx context.Context, name string) (bool, error)
	// ReleaseLock releases the named lock, returning false if it was not held by this caller.
	ReleaseLock(ctx context.Context, name string) (bool, error)
}

// PayloadConverter serializes/deserializes domain payloads for persistence.
type PayloadConverter interface {
	// ConvertPayload returns the event-name-keyed encoding of payload.
	ConvertPayload(payload interface{}) (data []byte, err error)
	// ConvertPayloadData reconstructs the concrete payload for the named event type.
	ConvertPayloadData(eventName string, data []byte) (payload interface{}, err error)
}

// Notifier is an optional out-of-band wakeup hint published after a
// successful append so Listener-driven projectors can react immediately
// instead of waiting for their next poll.
type Notifier interface {
	Notify(ctx context.Context, streamName string) error
}

// Listener is an optional wakeup source consumed by Projector.RunAndListen.
// Receiving on the channel returned by Listen means "something was
// appended, re-poll now"; it is purely
// advisory, never required for correctness.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
	Close() error
}
