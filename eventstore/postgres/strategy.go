// Package postgres is a PersistenceStrategy/WriteLockStrategy backed by
// lib/pq: one physical table per stream, a JSONB payload/metadata layout,
// and advisory locks for projection runs.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/logger"
	"github.com/go-eventry/eventry/metadata"
)

const streamsTable = "event_streams"
const projectionsTable = "projections"

var (
	reNotAllowed    = regexp.MustCompile(`[^a-z0-9_]+`)
	reTrailingUnder = regexp.MustCompile(`_+$`)
)

// Strategy is a lib/pq-backed PersistenceStrategy and WriteLockStrategy.
type Strategy struct {
	db        *sql.DB
	converter *JSONPayloadConverter
	log       logger.Logger
}

var (
	_ eventstore.PersistenceStrategy = (*Strategy)(nil)
	_ eventstore.WriteLockStrategy   = (*Strategy)(nil)
)

// New binds a Strategy to db. converter defaults to a bare JSONPayloadConverter if nil.
func New(db *sql.DB, converter *JSONPayloadConverter, log logger.Logger) (*Strategy, error) {
	if db == nil {
		return nil, eventstore.InvalidArgumentError("db")
	}
	if converter == nil {
		converter = NewJSONPayloadConverter()
	}
	return &Strategy{db: db, converter: converter, log: logger.OrNop(log)}, nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func tableNameFor(streamName string) string {
	name := strings.ToLower(streamName)
	name = reNotAllowed.ReplaceAllString(name, "")
	name = reTrailingUnder.ReplaceAllString(name, "")
	return "events_" + name
}

// CreateEventStreamsTable creates the streams registry if it doesn't exist.
func (s *Strategy) CreateEventStreamsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			name VARCHAR(150) PRIMARY KEY,
			table_name VARCHAR(160) NOT NULL,
			created_at TIMESTAMP(6) NOT NULL DEFAULT now()
		)`, quoteIdentifier(streamsTable)))
	return errors.Wrap(err, "postgres: create event_streams table")
}

// CreateProjectionsTable creates the projections registry if it doesn't exist.
func (s *Strategy) CreateProjectionsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			name VARCHAR(150) PRIMARY KEY,
			state JSONB,
			positions JSONB NOT NULL DEFAULT '{}'::jsonb,
			status VARCHAR(40) NOT NULL DEFAULT 'IDLE',
			locked_until TIMESTAMP(6),
			lock_owner VARCHAR(150)
		)`, quoteIdentifier(projectionsTable)))
	return errors.Wrap(err, "postgres: create projections table")
}

// AddStreamToStreamsTable registers name, failing with ErrStreamAlreadyExists on a duplicate.
func (s *Strategy) AddStreamToStreamsTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, table_name) VALUES ($1, $2)`, quoteIdentifier(streamsTable)),
		name, tableNameFor(name),
	)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return eventstore.ErrStreamAlreadyExists
	}
	return errors.Wrap(err, "postgres: register stream")
}

// RemoveStreamFromStreamsTable unregisters name.
func (s *Strategy) RemoveStreamFromStreamsTable(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, quoteIdentifier(streamsTable)), name)
	if err != nil {
		return errors.Wrap(err, "postgres: unregister stream")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "postgres: unregister stream")
	}
	if n == 0 {
		return eventstore.ErrStreamNotFound
	}
	return nil
}

// StreamNames returns every registered stream name.
func (s *Strategy) StreamNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, quoteIdentifier(streamsTable)))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list streams")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "postgres: scan stream name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateSchema provisions the physical table for name. The unique index on
// (_aggregate_id, _aggregate_version) enforces the optimistic-concurrency
// invariant at the database level.
func (s *Strategy) CreateSchema(ctx context.Context, name string) error {
	table := quoteIdentifier(tableNameFor(name))
	uniqueIndex := quoteIdentifier(tableNameFor(name) + "_unique_aggregate_version")
	orderIndex := quoteIdentifier(tableNameFor(name) + "_aggregate_order")

	statements := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			no BIGSERIAL PRIMARY KEY,
			event_id UUID NOT NULL UNIQUE,
			event_name VARCHAR(100) NOT NULL,
			payload JSONB NOT NULL,
			metadata JSONB NOT NULL,
			created_at TIMESTAMP(6) NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX %s ON %s
			((metadata->>'%s'), (metadata->>'%s'))
			WHERE metadata ? '%s'`,
			uniqueIndex, table, metadata.AggregateIDKey, metadata.AggregateVersionKey, metadata.AggregateVersionKey),
		fmt.Sprintf(`CREATE INDEX %s ON %s ((metadata->>'%s'), no)`,
			orderIndex, table, metadata.AggregateIDKey),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "postgres: create schema")
		}
	}
	return nil
}

// DropSchema drops the physical table for name.
func (s *Strategy) DropSchema(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdentifier(tableNameFor(name))))
	return errors.Wrap(err, "postgres: drop schema")
}

// AppendTo batch-inserts events into name's table, relying on the unique
// index from CreateSchema to enforce the ConcurrencyError invariant.
func (s *Strategy) AppendTo(ctx context.Context, name string, events []event.Event) error {
	table := quoteIdentifier(tableNameFor(name))

	values := make([]interface{}, 0, len(events)*5)
	placeholders := bytes.NewBufferString("")
	for i, e := range events {
		payloadData, err := s.converter.ConvertPayload(e.Payload())
		if err != nil {
			return err
		}
		metaData, err := json.Marshal(e.Metadata())
		if err != nil {
			return errors.Wrap(err, "postgres: marshal metadata")
		}

		if i != 0 {
			placeholders.WriteByte(',')
		}
		base := i * 5
		placeholders.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5))
		values = append(values, e.UUID(), e.Name(), payloadData, metaData, e.CreatedAt())
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (event_id, event_name, payload, metadata, created_at) VALUES %s`,
		table, placeholders.String(),
	)

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		if isUniqueViolation(err) {
			return eventstore.ErrConcurrency
		}
		s.log.WithError(err).WithField("stream", name).Warn("failed to insert events into the event stream")
		return errors.Wrap(err, "postgres: append")
	}

	return nil
}

// Load returns events with no >= fromNumber, filtered by matcher, ordered by no ascending.
func (s *Strategy) Load(ctx context.Context, name string, fromNumber int64, matcher metadata.Matcher) (eventstore.RawEventStream, error) {
	table := quoteIdentifier(tableNameFor(name))
	conditions := []string{"no >= $1"}
	params := []interface{}{fromNumber}
	appendMatcherConditions(matcher, &conditions, &params)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT no, event_id, event_name, payload, metadata, created_at FROM %s WHERE %s ORDER BY no ASC`,
		table, strings.Join(conditions, " AND "),
	), params...)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: load")
	}

	return &rowStream{rows: rows, converter: s.converter}, nil
}

// HeadPosition returns the highest assigned no in name's table, or 0 when empty.
func (s *Strategy) HeadPosition(ctx context.Context, name string) (int64, error) {
	var head int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(no), 0) FROM %s`, quoteIdentifier(tableNameFor(name)),
	)).Scan(&head)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, eventstore.ErrStreamNotFound
		}
		return 0, errors.Wrap(err, "postgres: head position")
	}
	return head, nil
}

// MergeAndLoad runs one query per stream and merges the results in Go,
// ordering by (created_at, no) ascending with stable stream-declaration
// order on ties.
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
		for {
			e, ok, err := raw.Next(ctx)
			if err != nil {
				raw.Close()
				return nil, err
			}
			if !ok {
				break
			}
			merged = append(merged, tagged{e: e.WithMetadata(metadata.StreamKey, q.StreamName), order: order})
		}
		raw.Close()
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
	return &memoryReplayStream{events: out}, nil
}

// LoadProjection returns the persisted record for name, or nil if absent.
func (s *Strategy) LoadProjection(ctx context.Context, name string) (*eventstore.ProjectionRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT state, positions, status, locked_until, lock_owner FROM %s WHERE name = $1`,
		quoteIdentifier(projectionsTable),
	), name)

	var (
		state       []byte
		positions   []byte
		status      string
		lockedUntil sql.NullTime
		lockOwner   sql.NullString
	)
	if err := row.Scan(&state, &positions, &status, &lockedUntil, &lockOwner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "postgres: load projection")
	}

	rec := &eventstore.ProjectionRecord{
		Name:      name,
		State:     state,
		Status:    eventstore.ProjectionStatus(status),
		LockOwner: lockOwner.String,
	}
	if err := json.Unmarshal(positions, &rec.Positions); err != nil {
		return nil, errors.Wrap(err, "postgres: unmarshal positions")
	}
	if lockedUntil.Valid {
		nanos := lockedUntil.Time.UnixNano()
		rec.LockedUntil = &nanos
	}
	return rec, nil
}

// ListProjections returns every persisted projection record, ordered by name.
func (s *Strategy) ListProjections(ctx context.Context) ([]eventstore.ProjectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name, state, positions, status, locked_until, lock_owner FROM %s ORDER BY name`,
		quoteIdentifier(projectionsTable),
	))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list projections")
	}
	defer rows.Close()

	var records []eventstore.ProjectionRecord
	for rows.Next() {
		var (
			rec         eventstore.ProjectionRecord
			positions   []byte
			status      string
			lockedUntil sql.NullTime
			lockOwner   sql.NullString
		)
		if err := rows.Scan(&rec.Name, &rec.State, &positions, &status, &lockedUntil, &lockOwner); err != nil {
			return nil, errors.Wrap(err, "postgres: scan projection row")
		}
		if err := json.Unmarshal(positions, &rec.Positions); err != nil {
			return nil, errors.Wrap(err, "postgres: unmarshal positions")
		}
		rec.Status = eventstore.ProjectionStatus(status)
		rec.LockOwner = lockOwner.String
		if lockedUntil.Valid {
			nanos := lockedUntil.Time.UnixNano()
			rec.LockedUntil = &nanos
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveProjection upserts the persisted record for record.Name.
func (s *Strategy) SaveProjection(ctx context.Context, record eventstore.ProjectionRecord) error {
	positions, err := json.Marshal(record.Positions)
	if err != nil {
		return errors.Wrap(err, "postgres: marshal positions")
	}

	var lockedUntil *time.Time
	if record.LockedUntil != nil {
		t := time.Unix(0, *record.LockedUntil)
		lockedUntil = &t
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, state, positions, status, locked_until, lock_owner)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			state = EXCLUDED.state,
			positions = EXCLUDED.positions,
			status = EXCLUDED.status,
			locked_until = EXCLUDED.locked_until,
			lock_owner = EXCLUDED.lock_owner
	`, quoteIdentifier(projectionsTable)),
		record.Name, record.State, positions, string(record.Status), lockedUntil, record.LockOwner,
	)
	return errors.Wrap(err, "postgres: save projection")
}

// DeleteProjection removes the persisted record for name.
func (s *Strategy) DeleteProjection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, quoteIdentifier(projectionsTable)), name)
	return errors.Wrap(err, "postgres: delete projection")
}

// SetProjectionStatus updates only the status column.
func (s *Strategy) SetProjectionStatus(ctx context.Context, name string, status eventstore.ProjectionStatus) error {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1 WHERE name = $2`, quoteIdentifier(projectionsTable)),
		string(status), name,
	)
	if err != nil {
		return errors.Wrap(err, "postgres: set projection status")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "postgres: set projection status")
	}
	if n == 0 {
		return eventstore.ErrProjectionNotFound
	}
	return nil
}

// CreateLock acquires a session-scoped postgres advisory lock keyed by name's hash.
func (s *Strategy) CreateLock(ctx context.Context, name string) (bool, error) {
	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired)
	if err != nil {
		return false, errors.Wrap(err, "postgres: create lock")
	}
	return acquired, nil
}

// ReleaseLock releases the advisory lock keyed by name's hash.
func (s *Strategy) ReleaseLock(ctx context.Context, name string) (bool, error) {
	var released bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name).Scan(&released)
	if err != nil {
		return false, errors.Wrap(err, "postgres: release lock")
	}
	return released, nil
}

func appendMatcherConditions(matcher metadata.Matcher, conditions *[]string, params *[]interface{}) {
	i := len(*params)
	matcher.Iterate(func(c metadata.Constraint) {
		i++
		var column string
		switch c.FieldKind() {
		case metadata.FieldKindPayload:
			column = fmt.Sprintf("payload ->> %s", quoteLiteral(c.Field()))
		default:
			column = fmt.Sprintf("metadata ->> %s", quoteLiteral(c.Field()))
		}

		switch c.Operator() {
		case metadata.OperatorIn:
			*conditions = append(*conditions, fmt.Sprintf("%s = ANY($%d)", column, i))
			*params = append(*params, pq.Array(c.Value()))
			return
		case metadata.OperatorNotIn:
			*conditions = append(*conditions, fmt.Sprintf("%s != ALL($%d)", column, i))
			*params = append(*params, pq.Array(c.Value()))
			return
		case metadata.OperatorRegex:
			*conditions = append(*conditions, fmt.Sprintf("%s ~ $%d", column, i))
		default:
			*conditions = append(*conditions, fmt.Sprintf("%s %s $%d", column, string(c.Operator()), i))
		}
		*params = append(*params, c.Value())
	})
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isUndefinedTable(err error) bool {
	// SQLSTATE 42P01, matched on the message for the same reason as
	// isUniqueViolation below.
	return strings.Contains(err.Error(), "42P01") || strings.Contains(err.Error(), "does not exist")
}

func isUniqueViolation(err error) bool {
	// lib/pq reports constraint violations with SQLSTATE 23505. sqlmock
	// returns plain errors, so match on the message instead of asserting
	// *pq.Error.
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}
