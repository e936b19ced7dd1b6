package projection

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/logger"
	"github.com/go-eventry/eventry/metadata"
)

// ReadModel is the user-supplied contract a ReadModelProjector drives.
// Stack defers a mutation until the next Persist call, so a
// crash mid-batch never leaves the external read model partially applied
// for events that haven't been checkpointed yet.
type ReadModel interface {
	Init(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Persist(ctx context.Context) error
	Delete(ctx context.Context) error
	Reset(ctx context.Context) error
	Stack(op string, args ...interface{})
}

// ReadModelEventHandler applies one event to readModel via Stack calls; it
// does not return replacement state the way EventHandler does, since the
// read model itself is the state.
type ReadModelEventHandler func(readModel ReadModel, e event.Event)

// ReadModelAnyEventHandler is the WhenAny equivalent for read-model projectors.
type ReadModelAnyEventHandler func(readModel ReadModel, e event.Event)

// ReadModelProjector is a Projector that drives an external read model via
// typed stack operations instead of accumulating in-memory state.
type ReadModelProjector struct {
	*base

	readModel ReadModel

	handlers    map[string]ReadModelEventHandler
	anyHandler  ReadModelAnyEventHandler
	whenSet     bool
	initialized bool
}

func newReadModelProjector(name string, store *eventstore.EventStore, lock eventstore.WriteLockStrategy, log logger.Logger, readModel ReadModel) *ReadModelProjector {
	return &ReadModelProjector{base: newBase(name, store, lock, log), readModel: readModel}
}

// Init marks the build phase as initialized. Unlike Projector, a read-model
// projector has no separate state-init factory: Init exists only to satisfy
// the same AlreadyInitialized contract.
func (p *ReadModelProjector) Init() error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.initialized = true
	return nil
}

// FromAll folds over every registered stream.
func (p *ReadModelProjector) FromAll() error { return p.setFromAll() }

// FromStream folds over a single stream, filtered by matcher.
func (p *ReadModelProjector) FromStream(streamName string, matcher metadata.Matcher) error {
	return p.setFromStream(streamName, matcher)
}

// FromStreams folds over the given set of streams, unfiltered.
func (p *ReadModelProjector) FromStreams(streamNames ...string) error {
	return p.setFromStreams(streamNames...)
}

// When registers one handler per event name.
func (p *ReadModelProjector) When(handlers map[string]ReadModelEventHandler) error {
	if p.whenSet {
		return ErrWhenAlreadyCalled
	}
	p.handlers = handlers
	p.whenSet = true
	return nil
}

// WhenAny registers a single handler invoked for every event.
func (p *ReadModelProjector) WhenAny(handler ReadModelAnyEventHandler) error {
	if p.whenSet {
		return ErrWhenAlreadyCalled
	}
	p.anyHandler = handler
	p.whenSet = true
	return nil
}

// Emit writes e to the stream named identically to this projection.
func (p *ReadModelProjector) Emit(ctx context.Context, e event.Event) error { return p.emit(ctx, e) }

// LinkTo writes e to an arbitrary stream.
func (p *ReadModelProjector) LinkTo(ctx context.Context, streamName string, e event.Event) error {
	return p.linkTo(ctx, streamName, e)
}

// Run executes the projector to completion (keepRunning=false) or until
// stopped (keepRunning=true), driving the read model instead of in-memory
// state.
func (p *ReadModelProjector) Run(ctx context.Context, keepRunning bool) error {
	if p.anyHandler == nil && p.handlers == nil {
		return ErrNoHandler
	}
	if !p.initialized {
		return ErrStateNotInitialised
	}

	acquired, err := p.acquireLock(ctx)
	if err != nil {
		return errors.Wrap(err, "projection: acquire lock")
	}
	if !acquired {
		return ErrProjectionLocked
	}
	defer p.releaseLock(ctx)

	initialized, err := p.readModel.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "projection: check read model initialized")
	}
	if !initialized {
		if err := p.readModel.Init(ctx); err != nil {
			return errors.Wrap(err, "projection: init read model")
		}
	}

	status := fetchProjectionStatus(ctx, p.store.Strategy(), p.log, p.name)
	if terminal, err := p.applyTerminalTransition(ctx, status, keepRunning); err != nil {
		return err
	} else if terminal {
		return nil
	}

	if err := p.ensureRecord(ctx); err != nil {
		return err
	}
	if err := p.prepareStreamPosition(ctx); err != nil {
		return err
	}
	if _, err := p.load(ctx); err != nil {
		return err
	}

	p.isStopped = false
	for {
		it, err := p.store.MergeAndLoad(ctx, p.queries()...)
		if err != nil {
			return errors.Wrap(err, "projection: mergeAndLoad")
		}

		yielded := 0
		for {
			e, ok, err := it.Next(ctx)
			if err != nil {
				it.Close()
				return errors.Wrap(err, "projection: pull event")
			}
			if !ok {
				break
			}
			yielded++

			p.applyEvent(e)
			p.advance(e)

			status := fetchProjectionStatus(ctx, p.store.Strategy(), p.log, p.name)
			if interrupting(status) {
				it.Close()
				terminal, err := p.applyTerminalTransition(ctx, status, keepRunning)
				if err != nil {
					return err
				}
				if terminal {
					return nil
				}
				// RESETTING under keepRunning: restart the fold from the
				// cleared positions instead of draining the stale iterator.
				break
			}
			if err := ctx.Err(); err != nil {
				p.isStopped = true
				break
			}
		}
		it.Close()

		// Persist the read model first, then the position checkpoint, so a
		// crash between the two still re-applies at-least-once on resume.
		if err := p.readModel.Persist(ctx); err != nil {
			return errors.Wrap(err, "projection: persist read model")
		}
		if err := p.persist(ctx, nil, eventstore.StatusRunning); err != nil {
			return err
		}
		if err := p.prepareStreamPosition(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return p.persist(ctx, nil, eventstore.StatusIdle)
		}

		// One batch is always processed unconditionally; looping again and
		// waiting for a wakeup between empty batches only applies when
		// keepRunning=true.
		if !keepRunning || p.isStopped {
			break
		}
		if yielded == 0 {
			if err := p.waitForWakeup(ctx); err != nil {
				return p.persist(ctx, nil, eventstore.StatusIdle)
			}
		}
	}

	if err := p.readModel.Persist(ctx); err != nil {
		return errors.Wrap(err, "projection: persist read model")
	}
	return p.persist(ctx, nil, eventstore.StatusIdle)
}

// RunAndListen is Run(ctx, true) with an additional wakeup source.
func (p *ReadModelProjector) RunAndListen(ctx context.Context, listener eventstore.Listener) error {
	ch, err := listener.Listen(ctx)
	if err != nil {
		return errors.Wrap(err, "projection: listen")
	}
	p.wakeup = ch
	return p.Run(ctx, true)
}

func (p *ReadModelProjector) applyEvent(e event.Event) {
	if p.anyHandler != nil {
		p.anyHandler(p.readModel, e)
		return
	}
	handler, ok := p.handlers[e.Name()]
	if !ok {
		return
	}
	handler(p.readModel, e)
}

func (p *ReadModelProjector) applyTerminalTransition(ctx context.Context, status eventstore.ProjectionStatus, keepRunning bool) (terminal bool, err error) {
	switch status {
	case eventstore.StatusRunning, eventstore.StatusIdle:
		return false, nil
	case eventstore.StatusStopping:
		p.isStopped = true
		return true, p.persist(ctx, nil, eventstore.StatusIdle)
	case eventstore.StatusDeleting, eventstore.StatusDeletingInclEmittedEvents:
		return true, p.delete(ctx, status == eventstore.StatusDeletingInclEmittedEvents)
	case eventstore.StatusResetting:
		return !keepRunning, p.reset(ctx, keepRunning)
	default:
		return false, nil
	}
}

func (p *ReadModelProjector) delete(ctx context.Context, includeEmitted bool) error {
	p.isStopped = true
	if err := p.readModel.Delete(ctx); err != nil {
		return errors.Wrap(err, "projection: delete read model")
	}
	if err := p.store.Strategy().DeleteProjection(ctx, p.name); err != nil {
		return errors.Wrap(err, "projection: delete record")
	}
	if includeEmitted {
		return p.dropEmittedStream(ctx)
	}
	return nil
}

func (p *ReadModelProjector) reset(ctx context.Context, keepRunning bool) error {
	p.positions = map[string]int64{}
	p.streamOrder = nil
	if err := p.readModel.Reset(ctx); err != nil {
		return errors.Wrap(err, "projection: reset read model")
	}
	if err := p.dropEmittedStream(ctx); err != nil {
		return err
	}
	status := eventstore.StatusIdle
	if keepRunning {
		status = eventstore.StatusRunning
	}
	return p.persist(ctx, nil, status)
}
