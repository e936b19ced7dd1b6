package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/eventstore/memory"
	"github.com/go-eventry/eventry/mocks"
	"github.com/go-eventry/eventry/metadata"
	"github.com/go-eventry/eventry/projection"
)

func TestProjector_Run_FailsWhenLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	strategy := memory.New()
	store, err := eventstore.New(strategy, nil)
	require.NoError(t, err)
	require.NoError(t, store.Install(ctx))

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	lock := mocks.NewMockWriteLockStrategy(ctrl)
	lock.EXPECT().CreateLock(gomock.Any(), "guarded").Return(false, nil)

	manager := projection.NewManager(store, lock, nil)
	p := manager.CreateProjector("guarded")
	require.NoError(t, p.Init(func() interface{} { return 0 }))
	require.NoError(t, p.FromAll())
	require.NoError(t, p.WhenAny(func(state interface{}, e event.Event) interface{} { return state }))

	err = p.Run(ctx, false)
	assert.ErrorIs(t, err, projection.ErrProjectionLocked)
}

func TestProjector_Run_AcquiresAndReleasesLock(t *testing.T) {
	ctx := context.Background()
	strategy := memory.New()
	store, err := eventstore.New(strategy, nil)
	require.NoError(t, err)
	require.NoError(t, store.Install(ctx))
	require.NoError(t, store.CreateStream(ctx, "ledger"))
	require.NoError(t, store.AppendTo(ctx, "ledger", []event.Event{
		mocks.DummyEvent("EntryPosted", nil, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}))

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	lock := mocks.NewMockWriteLockStrategy(ctrl)
	gomock.InOrder(
		lock.EXPECT().CreateLock(gomock.Any(), "ledger-count").Return(true, nil),
		lock.EXPECT().ReleaseLock(gomock.Any(), "ledger-count").Return(true, nil),
	)

	manager := projection.NewManager(store, lock, nil)
	p := manager.CreateProjector("ledger-count")
	require.NoError(t, p.Init(func() interface{} { return 0 }))
	require.NoError(t, p.FromStream("ledger", metadata.Matcher{}))
	require.NoError(t, p.WhenAny(func(state interface{}, e event.Event) interface{} { return state.(int) + 1 }))

	require.NoError(t, p.Run(ctx, false))
	assert.Equal(t, 1, p.State())
}
