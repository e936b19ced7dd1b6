package projection

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/internal/metrics"
	"github.com/go-eventry/eventry/logger"
	"github.com/go-eventry/eventry/metadata"
)

// ErrProjectionLocked is returned by Run when another caller already holds
// the write-lock for this projection name.
var ErrProjectionLocked = errors.New("projection: already running elsewhere")

// StateCodec is implemented by projection state that isn't plain
// JSON-marshalable on its own (for instance because it holds unexported
// fields). When absent, state is encoded with encoding/json.
type StateCodec interface {
	EncodeState() ([]byte, error)
	DecodeState(data []byte) error
}

// source describes which streams a projector folds over.
type source struct {
	all      bool
	names    []string
	matchers map[string]metadata.Matcher
}

// base holds the state shared by Projector and ReadModelProjector: stream
// selection, cursor positions, status polling, and the write-lock/persist
// dance of the run loop.
type base struct {
	name    string
	store   *eventstore.EventStore
	lock    eventstore.WriteLockStrategy
	log     logger.Logger
	metrics *metrics.Recorder

	src     source
	fromSet bool

	streamOrder []string
	positions   map[string]int64
	isStopped   bool

	wakeup <-chan string
}

// defaultPollInterval bounds how long Run waits between empty batches when
// no Listener wakeup arrives first. RunAndListen is an optimization over
// this poll, never a substitute for it.
const defaultPollInterval = time.Second

// waitForWakeup blocks until the poll interval elapses, a wakeup arrives on
// b.wakeup (nil channel never fires, so this is a no-op when unset), or ctx
// is done.
func (b *base) waitForWakeup(ctx context.Context) error {
	timer := time.NewTimer(defaultPollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-b.wakeup:
		return nil
	}
}

func newBase(name string, store *eventstore.EventStore, lock eventstore.WriteLockStrategy, log logger.Logger) *base {
	return &base{
		name:    name,
		store:   store,
		lock:    lock,
		log:     logger.OrNop(log),
		metrics: metrics.DefaultRecorder(),
	}
}

func (b *base) setFromAll() error {
	if b.fromSet {
		return ErrFromAlreadyCalled
	}
	b.src = source{all: true}
	b.fromSet = true
	return nil
}

func (b *base) setFromStream(streamName string, matcher metadata.Matcher) error {
	if b.fromSet {
		return ErrFromAlreadyCalled
	}
	b.src = source{
		names:    []string{streamName},
		matchers: map[string]metadata.Matcher{streamName: matcher},
	}
	b.fromSet = true
	return nil
}

func (b *base) setFromStreams(streamNames ...string) error {
	if b.fromSet {
		return ErrFromAlreadyCalled
	}
	b.src = source{names: append([]string(nil), streamNames...)}
	b.fromSet = true
	return nil
}

// prepareStreamPosition enumerates the streams to watch (re-enumerating the
// registry for fromAll, since new streams may appear between iterations)
// and seeds position 0 for any stream seen for the first time. Existing
// positions are preserved.
func (b *base) prepareStreamPosition(ctx context.Context) error {
	var names []string
	if b.src.all {
		var err error
		names, err = b.store.StreamNames(ctx)
		if err != nil {
			return errors.Wrap(err, "projection: enumerate streams")
		}
	} else {
		names = b.src.names
	}

	if b.positions == nil {
		b.positions = make(map[string]int64, len(names))
	}
	for _, n := range names {
		if _, ok := b.positions[n]; !ok {
			b.positions[n] = 0
			b.streamOrder = append(b.streamOrder, n)
		}
	}
	return nil
}

// interrupting reports whether a polled status requires the fold to stop
// and hand control to the terminal-transition handling. IDLE and RUNNING
// both mean "keep folding": IDLE is simply a projection's state between
// runs, not a control signal.
func interrupting(status eventstore.ProjectionStatus) bool {
	switch status {
	case eventstore.StatusStopping,
		eventstore.StatusDeleting,
		eventstore.StatusDeletingInclEmittedEvents,
		eventstore.StatusResetting:
		return true
	}
	return false
}

func (b *base) queries() []eventstore.StreamQuery {
	qs := make([]eventstore.StreamQuery, 0, len(b.streamOrder))
	for _, n := range b.streamOrder {
		qs = append(qs, eventstore.StreamQuery{
			StreamName: n,
			FromNumber: b.positions[n] + 1,
			Matcher:    b.src.matchers[n],
		})
	}
	return qs
}

// advance records that e was applied, moving the stream's position to e's
// actual number rather than incrementing by one, so filtered streams stay
// correct.
func (b *base) advance(e event.Event) {
	b.metrics.IncEventsProcessed(b.name)
	streamName, ok := event.StreamName(e)
	if !ok {
		return
	}
	b.positions[streamName] = e.No()
}

// ensureRecord creates an IDLE projection record with empty state/positions
// if one doesn't already exist.
func (b *base) ensureRecord(ctx context.Context) error {
	rec, err := b.store.Strategy().LoadProjection(ctx, b.name)
	if err != nil {
		return errors.Wrap(err, "projection: load record")
	}
	if rec != nil {
		return nil
	}
	return b.store.Strategy().SaveProjection(ctx, eventstore.ProjectionRecord{
		Name:      b.name,
		Positions: map[string]int64{},
		Status:    eventstore.StatusIdle,
	})
}

// load reads the persisted record's positions into memory. state decoding
// is the caller's responsibility (Projector/ReadModelProjector differ in
// what "state" means).
func (b *base) load(ctx context.Context) (*eventstore.ProjectionRecord, error) {
	rec, err := b.store.Strategy().LoadProjection(ctx, b.name)
	if err != nil {
		return nil, errors.Wrap(err, "projection: load record")
	}
	if rec == nil {
		return nil, nil
	}
	if b.positions == nil {
		b.positions = make(map[string]int64, len(rec.Positions))
	}
	for stream, pos := range rec.Positions {
		b.positions[stream] = pos
		found := false
		for _, n := range b.streamOrder {
			if n == stream {
				found = true
				break
			}
		}
		if !found {
			b.streamOrder = append(b.streamOrder, stream)
		}
	}
	return rec, nil
}

func (b *base) persist(ctx context.Context, stateData []byte, status eventstore.ProjectionStatus) error {
	b.metrics.SetProjectionStatus(b.name, string(status))
	b.recordLag(ctx)
	return b.store.Strategy().SaveProjection(ctx, eventstore.ProjectionRecord{
		Name:      b.name,
		State:     stateData,
		Positions: b.positions,
		Status:    status,
	})
}

// recordLag updates the per-stream lag gauge (head position minus this
// projection's last processed position) at every checkpoint. A head lookup
// failure only skips the gauge update, never the checkpoint itself.
func (b *base) recordLag(ctx context.Context) {
	for stream, pos := range b.positions {
		head, err := b.store.Strategy().HeadPosition(ctx, stream)
		if err != nil {
			continue
		}
		b.metrics.SetProjectionLag(b.name, stream, head-pos)
	}
}

// emit writes e to the stream named identically to this projection,
// creating it on first use.
func (b *base) emit(ctx context.Context, e event.Event) error {
	return b.linkTo(ctx, b.name, e)
}

// linkTo writes e to an arbitrary stream, creating it if necessary.
func (b *base) linkTo(ctx context.Context, streamName string, e event.Event) error {
	if err := b.store.CreateStream(ctx, streamName); err != nil && !errors.Is(err, eventstore.ErrStreamAlreadyExists) {
		return errors.Wrap(err, "projection: create emitted stream")
	}
	return b.store.AppendTo(ctx, streamName, []event.Event{e})
}

// dropEmittedStream removes the projection's own emitted stream, if any.
func (b *base) dropEmittedStream(ctx context.Context) error {
	err := b.store.DeleteStream(ctx, b.name)
	if err == nil || errors.Is(err, eventstore.ErrStreamNotFound) {
		return nil
	}
	return err
}

func (b *base) acquireLock(ctx context.Context) (bool, error) {
	if b.lock == nil {
		return true, nil
	}
	return b.lock.CreateLock(ctx, b.name)
}

func (b *base) releaseLock(ctx context.Context) {
	if b.lock == nil {
		return
	}
	if _, err := b.lock.ReleaseLock(ctx, b.name); err != nil {
		b.log.WithError(err).WithField("projection", b.name).Warn("failed to release projection lock")
	}
}

// encodeState marshals state via StateCodec if implemented, else encoding/json.
func encodeState(state interface{}) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	if codec, ok := state.(StateCodec); ok {
		return codec.EncodeState()
	}
	return json.Marshal(state)
}

// decodeStateInto restores data into state via StateCodec or json.Unmarshal
// when state is addressable (a pointer); otherwise it returns a fresh
// generic value decoded from data, since a non-pointer interface{} cannot
// be mutated in place.
func decodeStateInto(state interface{}, data []byte) (interface{}, error) {
	if len(data) == 0 {
		return state, nil
	}
	if codec, ok := state.(StateCodec); ok {
		return state, codec.DecodeState(data)
	}
	if isPointer(state) {
		return state, json.Unmarshal(data, state)
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return state, err
	}
	return decoded, nil
}

func isPointer(v interface{}) bool {
	return reflect.ValueOf(v).Kind() == reflect.Ptr
}
