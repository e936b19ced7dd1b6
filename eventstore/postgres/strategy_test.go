package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	pgstore "github.com/go-eventry/eventry/eventstore/postgres"
	"github.com/go-eventry/eventry/metadata"
)

func newMockStrategy(t *testing.T) (*pgstore.Strategy, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	strategy, err := pgstore.New(db, nil, nil)
	require.NoError(t, err)
	return strategy, mock
}

func TestStrategy_AppendTo_DuplicateAggregateVersionMapsToConcurrencyError(t *testing.T) {
	strategy, mock := newMockStrategy(t)
	ctx := context.Background()

	e := event.New("Thing", nil, metadata.New())
	mock.ExpectExec(`INSERT INTO "events_orders"`).
		WillReturnError(&pqUniqueViolation{})

	err := strategy.AppendTo(ctx, "orders", []event.Event{e})
	assert.ErrorIs(t, err, eventstore.ErrConcurrency)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStrategy_AppendTo_BatchesAllEventsInOneStatement(t *testing.T) {
	strategy, mock := newMockStrategy(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO "events_orders"`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	events := []event.Event{
		event.New("A", nil, nil),
		event.New("B", nil, nil),
	}
	require.NoError(t, strategy.AppendTo(ctx, "orders", events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStrategy_Load_ScansRowsIntoEvents(t *testing.T) {
	strategy, mock := newMockStrategy(t)
	ctx := context.Background()

	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	rows := sqlmock.NewRows([]string{"no", "event_id", "event_name", "payload", "metadata", "created_at"}).
		AddRow(int64(1), id.String(), "OrderPlaced", []byte(`{"total":10}`), []byte(`{}`), now)

	mock.ExpectQuery(`SELECT no, event_id, event_name, payload, metadata, created_at FROM "events_orders"`).
		WillReturnRows(rows)

	it, err := strategy.Load(ctx, "orders", 1, metadata.Matcher{})
	require.NoError(t, err)
	defer it.Close()

	loaded, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), loaded.No())
	assert.Equal(t, id, loaded.UUID())
	assert.Equal(t, "OrderPlaced", loaded.Name())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStrategy_AddStreamToStreamsTable_DuplicateMapsToTypedError(t *testing.T) {
	strategy, mock := newMockStrategy(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO "event_streams"`).
		WillReturnError(&pqUniqueViolation{})

	err := strategy.AddStreamToStreamsTable(ctx, "orders")
	assert.ErrorIs(t, err, eventstore.ErrStreamAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStrategy_RemoveStreamFromStreamsTable_NoRowsMapsToNotFound(t *testing.T) {
	strategy, mock := newMockStrategy(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM "event_streams"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := strategy.RemoveStreamFromStreamsTable(ctx, "ghost")
	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStrategy_CreateLock_ReflectsAdvisoryLockResult(t *testing.T) {
	strategy, mock := newMockStrategy(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs("projector").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	acquired, err := strategy.CreateLock(ctx, "projector")
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, mock.ExpectationsWereMet())
}

// pqUniqueViolation stands in for github.com/lib/pq's *pq.Error with
// SQLSTATE 23505, without importing the driver package directly: isUniqueViolation
// matches on the error message, matching how it already tolerates sqlmock errors.
type pqUniqueViolation struct{}

func (e *pqUniqueViolation) Error() string {
	return "pq: duplicate key value violates unique constraint (SQLSTATE 23505)"
}
