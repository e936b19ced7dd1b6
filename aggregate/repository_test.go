package aggregate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-eventry/eventry/aggregate"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/eventstore/memory"
)

const counterStream = "counters"

type counterOpened struct{ ID aggregate.ID }
type counterIncremented struct{ By int }

type counter struct {
	aggregate.BaseRoot

	id    aggregate.ID
	total int
}

var _ aggregate.Root = (*counter)(nil)

func newCounter() aggregate.Root { return &counter{} }

func openCounter() *counter {
	c := &counter{id: aggregate.GenerateID()}
	aggregate.Record(c, "CounterOpened", counterOpened{ID: c.id})
	return c
}

func (c *counter) AggregateID() aggregate.ID { return c.id }
func (c *counter) AggregateType() string     { return "Counter" }

func (c *counter) EventHandlers() map[string]aggregate.Handler {
	return map[string]aggregate.Handler{
		"CounterOpened": func(payload interface{}) {
			c.id = payload.(counterOpened).ID
		},
		"CounterIncremented": func(payload interface{}) {
			c.total += payload.(counterIncremented).By
		},
	}
}

func (c *counter) Increment(by int) {
	aggregate.Record(c, "CounterIncremented", counterIncremented{By: by})
}

func newTestStore(t *testing.T) *eventstore.EventStore {
	t.Helper()
	ctx := context.Background()
	strategy := memory.New()
	store, err := eventstore.New(strategy, nil)
	require.NoError(t, err)
	require.NoError(t, store.Install(ctx))
	require.NoError(t, store.CreateStream(ctx, counterStream))
	return store
}

func TestRecord_AppliesHandlerImmediately(t *testing.T) {
	c := openCounter()
	c.Increment(5)
	c.Increment(3)

	assert.Equal(t, 8, c.total)
	assert.Len(t, aggregate.UncommittedEvents(c), 3)
}

func TestRepository_SaveThenLoad_ReplaysToSameState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := aggregate.NewRepository(store, counterStream, newCounter)

	c := openCounter()
	c.Increment(5)
	c.Increment(3)

	require.NoError(t, repo.Save(ctx, c))
	assert.Empty(t, aggregate.UncommittedEvents(c))

	loaded, err := repo.Load(ctx, c.AggregateID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 8, loaded.(*counter).total)
}

func TestRepository_Load_ReturnsNilForUnknownAggregate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := aggregate.NewRepository(store, counterStream, newCounter)

	loaded, err := repo.Load(ctx, aggregate.GenerateID())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRepository_Get_FailsWithNotFoundForUnknownAggregate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := aggregate.NewRepository(store, counterStream, newCounter)

	_, err := repo.Get(ctx, aggregate.GenerateID())
	assert.ErrorIs(t, err, aggregate.ErrNotFound)
}

func TestRepository_Save_StampsSequentialVersions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := aggregate.NewRepository(store, counterStream, newCounter)

	c := openCounter()
	require.NoError(t, repo.Save(ctx, c))

	c.Increment(1)
	require.NoError(t, repo.Save(ctx, c))

	loaded, err := repo.Get(ctx, c.AggregateID())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.(*counter).total)
}
