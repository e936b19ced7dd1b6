package postgres_test

import (
	"context"
	"database/sql"
	"os/exec"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	pgstore "github.com/go-eventry/eventry/eventstore/postgres"
	"github.com/go-eventry/eventry/metadata"
)

func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

// newIntegrationDB starts a disposable Postgres container and returns a
// connected *sql.DB plus a teardown func, skipping the test when Docker
// isn't available. These tests exercise the real server instead of the
// in-memory backend used by eventstore_test.go.
func newIntegrationDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("docker is not available, skipping postgres integration test")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("eventry"),
		tcpostgres.WithUsername("eventry"),
		tcpostgres.WithPassword("eventry"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("open db: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	return db, func() {
		db.Close()
		container.Terminate(ctx)
	}
}

func TestStrategy_Integration_InstallAppendAndLoad(t *testing.T) {
	db, cleanup := newIntegrationDB(t)
	defer cleanup()

	strategy, err := pgstore.New(db, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, strategy.CreateEventStreamsTable(ctx))
	require.NoError(t, strategy.CreateProjectionsTable(ctx))
	require.NoError(t, strategy.AddStreamToStreamsTable(ctx, "orders"))
	require.NoError(t, strategy.CreateSchema(ctx, "orders"))

	store, err := eventstore.New(strategy, nil)
	require.NoError(t, err)

	require.NoError(t, store.AppendTo(ctx, "orders", []event.Event{
		event.New("OrderPlaced", map[string]interface{}{"total": 10}, nil),
	}))

	it, err := strategy.Load(ctx, "orders", 1, metadata.Matcher{})
	require.NoError(t, err)
	defer it.Close()

	loaded, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "OrderPlaced", loaded.Name())
}

func TestStrategy_Integration_ConcurrentAppendRejectsDuplicateVersion(t *testing.T) {
	db, cleanup := newIntegrationDB(t)
	defer cleanup()

	strategy, err := pgstore.New(db, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, strategy.CreateEventStreamsTable(ctx))
	require.NoError(t, strategy.AddStreamToStreamsTable(ctx, "accounts"))
	require.NoError(t, strategy.CreateSchema(ctx, "accounts"))

	md := metadata.WithValue(metadata.WithValue(metadata.New(), metadata.AggregateIDKey, "acc-1"), metadata.AggregateVersionKey, 1)
	first := event.New("Opened", nil, md)
	second := event.New("Opened", nil, md)

	require.NoError(t, strategy.AppendTo(ctx, "accounts", []event.Event{first}))
	err = strategy.AppendTo(ctx, "accounts", []event.Event{second})
	require.ErrorIs(t, err, eventstore.ErrConcurrency)
}
