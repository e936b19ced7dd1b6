// Package eventstore implements the append/load pipeline: stream
// lifecycle, the append middleware chain, filtered iteration, and the
// aggregate repository factory. The projection runtime built on top of it
// lives in package projection.
package eventstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/internal/metrics"
	"github.com/go-eventry/eventry/logger"
	"github.com/go-eventry/eventry/metadata"
)

// EventStore is the facade that orchestrates streams, middleware, and
// repositories over a PersistenceStrategy. Register all middleware before
// sharing the store across goroutines; registration is not synchronized.
type EventStore struct {
	strategy PersistenceStrategy
	chain    middlewareChain
	log      logger.Logger
	metrics  *metrics.Recorder
}

// New binds a facade to strategy. strategy must not be nil.
func New(strategy PersistenceStrategy, log logger.Logger) (*EventStore, error) {
	if strategy == nil {
		return nil, InvalidArgumentError("strategy")
	}
	return &EventStore{
		strategy: strategy,
		log:      logger.OrNop(log),
		metrics:  metrics.DefaultRecorder(),
	}, nil
}

// RegisterPreAppend registers a PRE_APPEND middleware, run in registration order.
func (s *EventStore) RegisterPreAppend(h PreAppendHandler) { s.chain.registerPreAppend(h) }

// RegisterAppended registers an APPENDED observer middleware.
func (s *EventStore) RegisterAppended(h ObserverHandler) { s.chain.registerAppended(h) }

// RegisterAppendErrored registers an APPEND_ERRORED observer middleware.
func (s *EventStore) RegisterAppendErrored(h ObserverHandler) { s.chain.registerErrored(h) }

// RegisterLoaded registers a LOADED middleware, run in registration order per pull.
func (s *EventStore) RegisterLoaded(h LoadedHandler) { s.chain.registerLoaded(h) }

// Install creates both the streams and projections tables. Idempotent:
// calling it N times has the same effect as once.
func (s *EventStore) Install(ctx context.Context) error {
	if err := s.strategy.CreateEventStreamsTable(ctx); err != nil {
		return errors.Wrap(err, "eventstore: create streams table")
	}
	if err := s.strategy.CreateProjectionsTable(ctx); err != nil {
		return errors.Wrap(err, "eventstore: create projections table")
	}
	return nil
}

// CreateStream registers name and provisions its physical storage. If
// schema creation fails, the registration is rolled back (best-effort) and
// the original error surfaces to the caller.
func (s *EventStore) CreateStream(ctx context.Context, name string) error {
	if err := s.strategy.AddStreamToStreamsTable(ctx, name); err != nil {
		return err
	}

	if err := s.strategy.CreateSchema(ctx, name); err != nil {
		if rollbackErr := s.strategy.RemoveStreamFromStreamsTable(ctx, name); rollbackErr != nil {
			s.log.WithError(rollbackErr).WithField("stream", name).
				Warn("failed to roll back stream registration after schema creation failure")
		}
		if dropErr := s.strategy.DropSchema(ctx, name); dropErr != nil {
			s.log.WithError(dropErr).WithField("stream", name).Warn("failed to drop partially created schema")
		}
		return errors.Wrap(err, "eventstore: create schema")
	}

	return nil
}

// DeleteStream unregisters name and drops its physical storage. Deleting an
// unknown stream yields ErrStreamNotFound without corrupting state.
func (s *EventStore) DeleteStream(ctx context.Context, name string) error {
	if err := s.strategy.RemoveStreamFromStreamsTable(ctx, name); err != nil {
		return err
	}
	return s.strategy.DropSchema(ctx, name)
}

// StreamNames returns every currently registered stream name.
func (s *EventStore) StreamNames(ctx context.Context) ([]string, error) {
	return s.strategy.StreamNames(ctx)
}

// AppendTo runs PRE_APPEND middleware per event, persists the batch, then
// fires APPENDED (on success) or APPEND_ERRORED (on failure) observers. It
// is a no-op for an empty batch.
func (s *EventStore) AppendTo(ctx context.Context, streamName string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	stopTimer := s.metrics.ObserveAppendDuration(streamName)
	defer stopTimer()

	prepared := make([]event.Event, len(events))
	for i, e := range events {
		next, err := s.chain.runPreAppend(ctx, streamName, e)
		if err != nil {
			return errors.Wrap(err, "eventstore: PRE_APPEND middleware")
		}
		prepared[i] = next
	}

	if err := s.strategy.AppendTo(ctx, streamName, prepared); err != nil {
		s.chain.observeErrored(ctx, s.log, streamName, prepared, err)
		return err
	}

	s.metrics.IncEventsAppended(streamName, len(prepared))
	s.chain.observeAppended(ctx, s.log, streamName, prepared)
	return nil
}

// Load returns a MiddlewareIterator over events in streamName with
// No() >= fromNumber, filtered by matcher (nil matches everything).
func (s *EventStore) Load(ctx context.Context, streamName string, fromNumber int64, matcher metadata.Matcher) (*MiddlewareIterator, error) {
	raw, err := s.strategy.Load(ctx, streamName, fromNumber, matcher)
	if err != nil {
		return nil, err
	}
	return NewMiddlewareIterator(raw, &s.chain, s.log), nil
}

// MergeAndLoad returns a MiddlewareIterator over the time-ordered merge of
// the given per-stream queries.
func (s *EventStore) MergeAndLoad(ctx context.Context, queries ...StreamQuery) (*MiddlewareIterator, error) {
	raw, err := s.strategy.MergeAndLoad(ctx, queries)
	if err != nil {
		return nil, err
	}
	return NewMiddlewareIterator(raw, &s.chain, s.log), nil
}

// Strategy exposes the underlying PersistenceStrategy to trusted
// collaborators (the projection runtime) that need direct access to the
// projection table. Application code should prefer the facade methods
// above.
func (s *EventStore) Strategy() PersistenceStrategy {
	return s.strategy
}

// Logger returns the facade's configured logger.
func (s *EventStore) Logger() logger.Logger {
	return s.log
}
