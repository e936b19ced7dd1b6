package aggregate

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/metadata"
)

// ErrNotFound is returned by Repository.Get when no events exist for the requested id.
var ErrNotFound = errors.New("aggregate: not found")

// Repository loads and saves aggregates of a single type against one stream.
// It depends directly on *eventstore.EventStore rather than a narrow
// interface: eventstore never imports aggregate, so there is no cycle to
// avoid, and the facade's own MiddlewareIterator return type can be used as-is.
type Repository struct {
	store      *eventstore.EventStore
	streamName string
	factory    func() Root
}

// NewRepository binds a Repository to store, reading/writing streamName,
// using factory to construct empty aggregate instances for replay. The
// aggregate type tag is read from each instance via AggregateType(), not
// passed separately, so a Repository never drifts from its aggregates.
func NewRepository(store *eventstore.EventStore, streamName string, factory func() Root) *Repository {
	return &Repository{
		store:      store,
		streamName: streamName,
		factory:    factory,
	}
}

// Load replays the stream filtered by _aggregate_id == id into a freshly
// constructed aggregate. It returns (nil, nil) if no events exist for id.
func (r *Repository) Load(ctx context.Context, id ID) (Root, error) {
	matcher := metadata.NewMatcher().WithConstraint(metadata.AggregateIDKey, metadata.OperatorEquals, id.String(), metadata.FieldKindMetadata)

	it, err := r.store.Load(ctx, r.streamName, 1, matcher)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate: load stream")
	}
	defer it.Close()

	root := r.factory()
	found := false
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "aggregate: iterate stream")
		}
		if !ok {
			break
		}
		found = true
		Apply(root, e)
	}

	if !found {
		return nil, nil
	}
	return root, nil
}

// Get is Load, but fails with ErrNotFound instead of returning a nil aggregate.
func (r *Repository) Get(ctx context.Context, id ID) (Root, error) {
	root, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, ErrNotFound
	}
	return root, nil
}

// Save drains root's pending-event buffer, stamps each event with
// aggregate identity/version metadata derived from root.Version(), and
// appends them to the stream. On success root's version advances by the
// number of saved events and the buffer is cleared; on failure both are
// left untouched so the caller can retry.
func (r *Repository) Save(ctx context.Context, root Root) error {
	pending := UncommittedEvents(root)
	if len(pending) == 0 {
		return nil
	}

	id := root.AggregateID().String()
	aggregateType := root.AggregateType()
	currentVersion := root.Version()

	stamped := make([]event.Event, len(pending))
	for i, e := range pending {
		stamped[i] = e.
			WithMetadata(metadata.AggregateIDKey, id).
			WithAggregateType(aggregateType).
			WithVersion(currentVersion + i + 1)
	}

	if err := r.store.AppendTo(ctx, r.streamName, stamped); err != nil {
		return errors.Wrap(err, "aggregate: append")
	}

	root.setVersion(currentVersion + len(pending))
	ClearUncommittedEvents(root)
	return nil
}
