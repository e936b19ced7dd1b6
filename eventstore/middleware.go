package eventstore

import (
	"context"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/logger"
)

// Action identifies a middleware hook point.
type Action string

// Event actions a middleware can be registered against.
const (
	ActionPreAppend     Action = "PRE_APPEND"
	ActionAppended      Action = "APPENDED"
	ActionAppendErrored Action = "APPEND_ERRORED"
	ActionLoaded        Action = "LOADED"
)

// PreAppendHandler may replace the event before it is persisted, or reject
// the append by returning an error (which aborts the whole batch).
type PreAppendHandler func(ctx context.Context, streamName string, e event.Event) (event.Event, error)

// ObserverHandler is fired-and-observed for APPENDED/APPEND_ERRORED: its
// error is logged, never propagated to the caller. LOADED uses LoadedHandler.
type ObserverHandler func(ctx context.Context, streamName string, e event.Event, appendErr error) error

// LoadedHandler transforms an event as it is pulled through Load/MergeAndLoad.
type LoadedHandler func(ctx context.Context, e event.Event) (event.Event, error)

// middlewareChain holds registered handlers bucketed by Action, invoked in
// registration order.
type middlewareChain struct {
	preAppend []PreAppendHandler
	appended  []ObserverHandler
	errored   []ObserverHandler
	loaded    []LoadedHandler
}

func (c *middlewareChain) registerPreAppend(h PreAppendHandler) { c.preAppend = append(c.preAppend, h) }
func (c *middlewareChain) registerAppended(h ObserverHandler)   { c.appended = append(c.appended, h) }
func (c *middlewareChain) registerErrored(h ObserverHandler)    { c.errored = append(c.errored, h) }
func (c *middlewareChain) registerLoaded(h LoadedHandler)       { c.loaded = append(c.loaded, h) }

func (c *middlewareChain) runPreAppend(ctx context.Context, streamName string, e event.Event) (event.Event, error) {
	var err error
	for _, h := range c.preAppend {
		e, err = h(ctx, streamName, e)
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (c *middlewareChain) observeAppended(ctx context.Context, log logger.Logger, streamName string, events []event.Event) {
	for _, e := range events {
		for _, h := range c.appended {
			if err := h(ctx, streamName, e, nil); err != nil {
				log.WithError(err).WithField("stream", streamName).Warn("APPENDED middleware failed")
			}
		}
	}
}

func (c *middlewareChain) observeErrored(ctx context.Context, log logger.Logger, streamName string, events []event.Event, appendErr error) {
	for _, e := range events {
		for _, h := range c.errored {
			if err := h(ctx, streamName, e, appendErr); err != nil {
				log.WithError(err).WithField("stream", streamName).Warn("APPEND_ERRORED middleware failed")
			}
		}
	}
}

// runLoaded folds the LOADED chain over e. A failing handler is logged and
// skipped, not propagated: LOADED behaves like APPENDED/APPEND_ERRORED
// observer middleware whose failures never abort the caller, unlike
// PRE_APPEND.
func (c *middlewareChain) runLoaded(ctx context.Context, log logger.Logger, e event.Event) event.Event {
	for _, h := range c.loaded {
		next, err := h(ctx, e)
		if err != nil {
			log.WithError(err).Warn("LOADED middleware failed")
			continue
		}
		e = next
	}
	return e
}

// MiddlewareIterator wraps a backend RawEventStream, piping every pulled
// event through the LOADED middleware chain. It never buffers more than one
// in-flight event.
type MiddlewareIterator struct {
	underlying RawEventStream
	chain      *middlewareChain
	log        logger.Logger
}

// NewMiddlewareIterator wraps underlying with chain's LOADED handlers.
func NewMiddlewareIterator(underlying RawEventStream, chain *middlewareChain, log logger.Logger) *MiddlewareIterator {
	return &MiddlewareIterator{underlying: underlying, chain: chain, log: logger.OrNop(log)}
}

// Next pulls the next event from the underlying stream and folds the LOADED
// chain over it before returning it to the caller.
func (m *MiddlewareIterator) Next(ctx context.Context) (event.Event, bool, error) {
	e, ok, err := m.underlying.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}

	e = m.chain.runLoaded(ctx, m.log, e)
	return e, true, nil
}

// Close releases the underlying stream.
func (m *MiddlewareIterator) Close() error {
	return m.underlying.Close()
}

// Drain reads every remaining event off it into a slice. Intended for tests
// and debugging.
func Drain(ctx context.Context, it interface {
	Next(context.Context) (event.Event, bool, error)
}) ([]event.Event, error) {
	var out []event.Event
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, e)
	}
}
