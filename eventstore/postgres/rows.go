package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/metadata"
)

// rowStream adapts *sql.Rows from Load into a eventstore.RawEventStream.
type rowStream struct {
	rows      *sql.Rows
	converter *JSONPayloadConverter
}

func (r *rowStream) Next(context.Context) (event.Event, bool, error) {
	if !r.rows.Next() {
		return nil, false, r.rows.Err()
	}

	var (
		no          int64
		id          uuid.UUID
		name        string
		payloadData []byte
		metaData    []byte
		createdAt   time.Time
	)
	if err := r.rows.Scan(&no, &id, &name, &payloadData, &metaData, &createdAt); err != nil {
		return nil, false, errors.Wrap(err, "postgres: scan event row")
	}

	var md metadata.Metadata
	if err := json.Unmarshal(metaData, &md); err != nil {
		return nil, false, errors.Wrap(err, "postgres: unmarshal metadata")
	}

	payload, err := r.converter.ConvertPayloadData(name, payloadData)
	if err != nil {
		return nil, false, err
	}

	return event.Reconstitute(id, no, name, payload, md, createdAt), true, nil
}

func (r *rowStream) Close() error {
	return r.rows.Close()
}

// memoryReplayStream adapts a pre-materialized []event.Event (the output of
// MergeAndLoad's in-Go merge step) into a eventstore.RawEventStream.
type memoryReplayStream struct {
	events []event.Event
	pos    int
}

func (s *memoryReplayStream) Next(context.Context) (event.Event, bool, error) {
	if s.pos >= len(s.events) {
		return nil, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

func (s *memoryReplayStream) Close() error { return nil }
