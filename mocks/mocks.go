// Package mocks provides small test doubles used across the engine's test
// suites: a DummyEvent builder for table-driven tests that don't care about
// real UUIDs or timestamps, plus a hand-maintained gomock double for
// WriteLockStrategy (see write_lock_strategy_mock.go) standing in for the
// mockgen-generated file this go:generate directive would normally produce.
package mocks

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/metadata"
)

//go:generate go run github.com/golang/mock/mockgen -package=mocks -destination=write_lock_strategy_mock.go github.com/go-eventry/eventry/eventstore WriteLockStrategy

// DummyEvent builds a deterministic event.Event for tests: a fixed UUID
// derived from name, No() left at 0 until WithNo is called, and createdAt
// set to the given time rather than time.Now().
func DummyEvent(name string, payload interface{}, createdAt time.Time) event.Event {
	return event.Reconstitute(uuid.NewMD5(uuid.Nil, []byte(name)), 0, name, payload, metadata.New(), createdAt)
}

// DummyEventWithMetadata is DummyEvent plus an explicit metadata bag, for
// tests that need to set _aggregate_id/_aggregate_version directly.
func DummyEventWithMetadata(name string, payload interface{}, md metadata.Metadata, createdAt time.Time) event.Event {
	return event.Reconstitute(uuid.NewMD5(uuid.Nil, []byte(name)), 0, name, payload, md, createdAt)
}
