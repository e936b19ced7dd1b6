// Package memory is an in-process PersistenceStrategy + WriteLockStrategy.
// It needs no external process and is used by unit tests and local
// development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/metadata"
)

type aggregateKey struct {
	id      string
	version int
}

type stream struct {
	events []event.Event
	// aggregateVersions enforces the (_aggregate_id, _aggregate_version) uniqueness
	// invariant in O(1) instead of scanning events on every append.
	aggregateVersions map[aggregateKey]struct{}
}

// Strategy is an in-memory PersistenceStrategy and WriteLockStrategy.
type Strategy struct {
	mu sync.Mutex

	streamsTableCreated     bool
	projectionsTableCreated bool

	streams     map[string]*stream
	projections map[string]eventstore.ProjectionRecord
	locks       map[string]struct{}
}

var (
	_ eventstore.PersistenceStrategy = (*Strategy)(nil)
	_ eventstore.WriteLockStrategy   = (*Strategy)(nil)
)

// New returns an empty in-memory Strategy.
func New() *Strategy {
	return &Strategy{
		streams:     make(map[string]*stream),
		projections: make(map[string]eventstore.ProjectionRecord),
		locks:       make(map[string]struct{}),
	}
}

// CreateEventStreamsTable is idempotent.
func (s *Strategy) CreateEventStreamsTable(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamsTableCreated = true
	return nil
}

// CreateProjectionsTable is idempotent.
func (s *Strategy) CreateProjectionsTable(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectionsTableCreated = true
	return nil
}

// AddStreamToStreamsTable registers name.
func (s *Strategy) AddStreamToStreamsTable(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[name]; ok {
		return eventstore.ErrStreamAlreadyExists
	}
	s.streams[name] = nil // registered, schema not yet created
	return nil
}

// RemoveStreamFromStreamsTable unregisters name.
func (s *Strategy) RemoveStreamFromStreamsTable(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[name]; !ok {
		return eventstore.ErrStreamNotFound
	}
	delete(s.streams, name)
	return nil
}

// StreamNames returns every registered stream name.
func (s *Strategy) StreamNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateSchema provisions the in-memory backing slice for name.
func (s *Strategy) CreateSchema(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[name] = &stream{aggregateVersions: make(map[aggregateKey]struct{})}
	return nil
}

// DropSchema discards the in-memory backing slice for name.
func (s *Strategy) DropSchema(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, name)
	return nil
}

// AppendTo assigns dense, contiguous No() values and enforces the
// (_aggregate_id, _aggregate_version) uniqueness invariant atomically for
// the whole batch.
func (s *Strategy) AppendTo(_ context.Context, name string, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[name]
	if !ok || st == nil {
		return eventstore.ErrStreamNotFound
	}

	// Validate the whole batch before mutating anything so a rejected
	// append never partially lands.
	seen := make(map[aggregateKey]struct{}, len(events))
	for _, e := range events {
		if key, ok := aggregateKeyOf(e); ok {
			if _, dup := st.aggregateVersions[key]; dup {
				return eventstore.ErrConcurrency
			}
			if _, dup := seen[key]; dup {
				return eventstore.ErrConcurrency
			}
			seen[key] = struct{}{}
		}
	}

	no := int64(len(st.events))
	for _, e := range events {
		no++
		stamped := e.WithNo(no)
		st.events = append(st.events, stamped)
		if key, ok := aggregateKeyOf(stamped); ok {
			st.aggregateVersions[key] = struct{}{}
		}
	}

	return nil
}

func aggregateKeyOf(e event.Event) (aggregateKey, bool) {
	id, ok := event.AggregateID(e)
	if !ok {
		return aggregateKey{}, false
	}
	version, ok := event.AggregateVersion(e)
	if !ok {
		return aggregateKey{}, false
	}
	return aggregateKey{id: id, version: version}, true
}

// Load returns a snapshot-backed RawEventStream over name.
func (s *Strategy) Load(_ context.Context, name string, fromNumber int64, matcher metadata.Matcher) (eventstore.RawEventStream, error) {
	s.mu.Lock()
	st, ok := s.streams[name]
	if !ok || st == nil {
		s.mu.Unlock()
		return nil, eventstore.ErrStreamNotFound
	}
	snapshot := make([]event.Event, len(st.events))
	copy(snapshot, st.events)
	s.mu.Unlock()

	var filtered []event.Event
	for _, e := range snapshot {
		if e.No() < fromNumber {
			continue
		}
		if !matcher.Matches(e.Metadata(), e.Payload()) {
			continue
		}
		filtered = append(filtered, e)
	}

	return &sliceStream{events: filtered}, nil
}

// HeadPosition returns the highest assigned No() in name, or 0 when empty.
func (s *Strategy) HeadPosition(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok || st == nil {
		return 0, eventstore.ErrStreamNotFound
	}
	// No() values are dense starting at 1, so the head is the event count.
	return int64(len(st.events)), nil
}

// MergeAndLoad returns the time-ordered merge of queries, stamping
// metadata.StreamKey on every yielded event.
func (s *Strategy) MergeAndLoad(ctx context.Context, queries []eventstore.StreamQuery) (eventstore.RawEventStream, error) {
	type tagged struct {
		e     event.Event
		order int
	}

	var merged []tagged
	for order, q := range queries {
		raw, err := s.Load(ctx, q.StreamName, q.FromNumber, q.Matcher)
		if err != nil {
			return nil, err
		}
		events, err := drainRaw(ctx, raw)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			merged = append(merged, tagged{e: e.WithMetadata(metadata.StreamKey, q.StreamName), order: order})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.e.CreatedAt().Equal(b.e.CreatedAt()) {
			return a.e.CreatedAt().Before(b.e.CreatedAt())
		}
		if a.e.No() != b.e.No() {
			return a.e.No() < b.e.No()
		}
		return a.order < b.order
	})

	out := make([]event.Event, len(merged))
	for i, t := range merged {
		out[i] = t.e
	}
	return &sliceStream{events: out}, nil
}

func drainRaw(ctx context.Context, raw eventstore.RawEventStream) ([]event.Event, error) {
	defer raw.Close()
	var out []event.Event
	for {
		e, ok, err := raw.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, e)
	}
}

// LoadProjection returns a deep copy of the stored record, or nil if absent.
func (s *Strategy) LoadProjection(_ context.Context, name string) (*eventstore.ProjectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projections[name]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// ListProjections returns a copy of every stored record, ordered by name.
func (s *Strategy) ListProjections(context.Context) ([]eventstore.ProjectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.projections))
	for name := range s.projections {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]eventstore.ProjectionRecord, 0, len(names))
	for _, name := range names {
		records = append(records, *cloneRecord(s.projections[name]))
	}
	return records, nil
}

// SaveProjection overwrites the stored record for record.Name.
func (s *Strategy) SaveProjection(_ context.Context, record eventstore.ProjectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections[record.Name] = *cloneRecord(record)
	return nil
}

// DeleteProjection removes the stored record for name.
func (s *Strategy) DeleteProjection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projections, name)
	return nil
}

// SetProjectionStatus updates only the status field.
func (s *Strategy) SetProjectionStatus(_ context.Context, name string, status eventstore.ProjectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projections[name]
	if !ok {
		return eventstore.ErrProjectionNotFound
	}
	rec.Status = status
	s.projections[name] = rec
	return nil
}

// CreateLock implements WriteLockStrategy.
func (s *Strategy) CreateLock(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[name]; held {
		return false, nil
	}
	s.locks[name] = struct{}{}
	return true, nil
}

// ReleaseLock implements WriteLockStrategy.
func (s *Strategy) ReleaseLock(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[name]; !held {
		return false, nil
	}
	delete(s.locks, name)
	return true, nil
}

func cloneRecord(rec eventstore.ProjectionRecord) *eventstore.ProjectionRecord {
	cp := rec
	cp.Positions = make(map[string]int64, len(rec.Positions))
	for k, v := range rec.Positions {
		cp.Positions[k] = v
	}
	if rec.State != nil {
		cp.State = append([]byte(nil), rec.State...)
	}
	return &cp
}

// sliceStream adapts a pre-computed []event.Event into a RawEventStream.
type sliceStream struct {
	events []event.Event
	pos    int
}

func (s *sliceStream) Next(context.Context) (event.Event, bool, error) {
	if s.pos >= len(s.events) {
		return nil, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

func (s *sliceStream) Close() error { return nil }
