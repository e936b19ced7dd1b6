package projection

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/logger"
	"github.com/go-eventry/eventry/metadata"
)

// StateInitHandler returns a projection's initial in-memory state.
type StateInitHandler func() interface{}

// EventHandler folds one event into state, returning the replacement state.
type EventHandler func(state interface{}, e event.Event) interface{}

// AnyEventHandler is used instead of a per-name EventHandler map when a
// projection wants every event regardless of name.
type AnyEventHandler func(state interface{}, e event.Event) interface{}

// Projector folds an event stream into in-memory state, checkpointing its
// position after every run.
type Projector struct {
	*base

	initHandler StateInitHandler
	handlers    map[string]EventHandler
	anyHandler  AnyEventHandler

	initialized bool
	whenSet     bool

	state interface{}
}

func newProjector(name string, store *eventstore.EventStore, lock eventstore.WriteLockStrategy, log logger.Logger) *Projector {
	return &Projector{base: newBase(name, store, lock, log)}
}

// Init sets the initial-state factory. May be called at most once.
func (p *Projector) Init(handler StateInitHandler) error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.initHandler = handler
	p.initialized = true
	return nil
}

// FromAll folds over every registered stream.
func (p *Projector) FromAll() error { return p.setFromAll() }

// FromStream folds over a single stream, filtered by matcher (nil matches
// everything).
func (p *Projector) FromStream(streamName string, matcher metadata.Matcher) error {
	return p.setFromStream(streamName, matcher)
}

// FromStreams folds over the given set of streams, unfiltered.
func (p *Projector) FromStreams(streamNames ...string) error {
	return p.setFromStreams(streamNames...)
}

// When registers one handler per event name. May be called at most once,
// and not alongside WhenAny.
func (p *Projector) When(handlers map[string]EventHandler) error {
	if p.whenSet {
		return ErrWhenAlreadyCalled
	}
	p.handlers = handlers
	p.whenSet = true
	return nil
}

// WhenAny registers a single handler invoked for every event regardless of
// name. May be called at most once, and not alongside When.
func (p *Projector) WhenAny(handler AnyEventHandler) error {
	if p.whenSet {
		return ErrWhenAlreadyCalled
	}
	p.anyHandler = handler
	p.whenSet = true
	return nil
}

// State returns the projector's current in-memory state.
func (p *Projector) State() interface{} { return p.state }

// Emit writes e to the stream named identically to this projection.
func (p *Projector) Emit(ctx context.Context, e event.Event) error { return p.emit(ctx, e) }

// LinkTo writes e to an arbitrary stream.
func (p *Projector) LinkTo(ctx context.Context, streamName string, e event.Event) error {
	return p.linkTo(ctx, streamName, e)
}

// Run executes the build-phase-validated projector to completion
// (keepRunning=false) or until stopped (keepRunning=true).
func (p *Projector) Run(ctx context.Context, keepRunning bool) error {
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

	p.state = p.initHandler()

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
	rec, err := p.load(ctx)
	if err != nil {
		return err
	}
	if rec != nil {
		p.state, err = decodeStateInto(p.state, rec.State)
		if err != nil {
			return errors.Wrap(err, "projection: decode state")
		}
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

		if err := p.persistState(ctx, eventstore.StatusRunning); err != nil {
			return err
		}
		if err := p.prepareStreamPosition(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return p.persistState(ctx, eventstore.StatusIdle)
		}

		// One batch is always processed unconditionally: a one-shot
		// keepRunning=false call still folds and checkpoints everything
		// currently available before returning. Looping again, and waiting
		// for a wakeup between empty batches, only applies to the
		// keepRunning=true long-running mode.
		if !keepRunning || p.isStopped {
			break
		}
		if yielded == 0 {
			if err := p.waitForWakeup(ctx); err != nil {
				return p.persistState(ctx, eventstore.StatusIdle)
			}
		}
	}

	return p.persistState(ctx, eventstore.StatusIdle)
}

// RunAndListen is Run(ctx, true) with an additional wakeup source: a
// notification on listener short-circuits the poll interval between empty
// batches. Correctness never depends on a notification arriving.
func (p *Projector) RunAndListen(ctx context.Context, listener eventstore.Listener) error {
	ch, err := listener.Listen(ctx)
	if err != nil {
		return errors.Wrap(err, "projection: listen")
	}
	p.wakeup = ch
	return p.Run(ctx, true)
}

func (p *Projector) applyEvent(e event.Event) {
	if p.anyHandler != nil {
		p.state = p.anyHandler(p.state, e)
		return
	}
	handler, ok := p.handlers[e.Name()]
	if !ok {
		return
	}
	p.state = handler(p.state, e)
}

func (p *Projector) persistState(ctx context.Context, status eventstore.ProjectionStatus) error {
	data, err := encodeState(p.state)
	if err != nil {
		return errors.Wrap(err, "projection: encode state")
	}
	return p.persist(ctx, data, status)
}

// applyTerminalTransition reacts to a non-RUNNING status observed at a poll
// point, running the corresponding DELETING/DELETING_INCL_EMITTED_EVENTS/
// RESETTING/STOPPING handling. It returns terminal=true when Run should
// return immediately afterward.
func (p *Projector) applyTerminalTransition(ctx context.Context, status eventstore.ProjectionStatus, keepRunning bool) (terminal bool, err error) {
	switch status {
	case eventstore.StatusRunning, eventstore.StatusIdle:
		return false, nil
	case eventstore.StatusStopping:
		p.isStopped = true
		return true, p.persistState(ctx, eventstore.StatusIdle)
	case eventstore.StatusDeleting, eventstore.StatusDeletingInclEmittedEvents:
		return true, p.delete(ctx, status == eventstore.StatusDeletingInclEmittedEvents)
	case eventstore.StatusResetting:
		return !keepRunning, p.reset(ctx, keepRunning)
	default:
		return false, nil
	}
}

// delete removes the projection record, re-runs initHandler, and (if
// includeEmitted) drops the projection's own emitted stream.
func (p *Projector) delete(ctx context.Context, includeEmitted bool) error {
	p.isStopped = true
	if p.initHandler != nil {
		p.state = p.initHandler()
	}
	if err := p.store.Strategy().DeleteProjection(ctx, p.name); err != nil {
		return errors.Wrap(err, "projection: delete record")
	}
	if includeEmitted {
		return p.dropEmittedStream(ctx)
	}
	return nil
}

// reset clears positions, re-invokes initHandler, drops the projection's
// own emitted stream, and writes a fresh record whose status is IDLE, or
// RUNNING when keepRunning.
func (p *Projector) reset(ctx context.Context, keepRunning bool) error {
	p.positions = map[string]int64{}
	p.streamOrder = nil
	if p.initHandler != nil {
		p.state = p.initHandler()
	}
	if err := p.dropEmittedStream(ctx); err != nil {
		return err
	}
	status := eventstore.StatusIdle
	if keepRunning {
		status = eventstore.StatusRunning
	}
	return p.persistState(ctx, status)
}
