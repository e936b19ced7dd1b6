package projection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/eventstore/memory"
	"github.com/go-eventry/eventry/metadata"
	"github.com/go-eventry/eventry/projection"
)

func newTestManager(t *testing.T) (*eventstore.EventStore, *memory.Strategy, *projection.Manager) {
	t.Helper()
	ctx := context.Background()
	strategy := memory.New()
	store, err := eventstore.New(strategy, nil)
	require.NoError(t, err)
	require.NoError(t, store.Install(ctx))
	manager := projection.NewManager(store, strategy, nil)
	return store, strategy, manager
}

type counterState struct {
	N int `json:"n"`
}

func TestProjector_FromStreamAndWhen_FoldsMatchingEventsOnly(t *testing.T) {
	ctx := context.Background()
	store, _, manager := newTestManager(t)
	require.NoError(t, store.CreateStream(ctx, "events"))

	var toAppend []event.Event
	for i := 0; i < 5; i++ {
		toAppend = append(toAppend, event.New("Inc", nil, nil))
	}
	toAppend = append(toAppend, event.New("Noop", nil, nil), event.New("Noop", nil, nil))
	require.NoError(t, store.AppendTo(ctx, "events", toAppend))

	p := manager.CreateProjector("count")
	require.NoError(t, p.Init(func() interface{} { return &counterState{N: 0} }))
	require.NoError(t, p.FromStream("events", metadata.Matcher{}))
	require.NoError(t, p.When(map[string]projection.EventHandler{
		"Inc": func(state interface{}, e event.Event) interface{} {
			s := state.(*counterState)
			return &counterState{N: s.N + 1}
		},
	}))

	require.NoError(t, p.Run(ctx, false))

	assert.Equal(t, &counterState{N: 5}, p.State())

	status, err := store.Strategy().LoadProjection(ctx, "count")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, int64(7), status.Positions["events"])
	assert.Equal(t, eventstore.StatusIdle, status.Status)
}

func TestProjector_WhenAny_ReceivesEveryEvent(t *testing.T) {
	ctx := context.Background()
	store, _, manager := newTestManager(t)
	require.NoError(t, store.CreateStream(ctx, "events"))

	require.NoError(t, store.AppendTo(ctx, "events", []event.Event{
		event.New("A", nil, nil), event.New("B", nil, nil), event.New("C", nil, nil),
	}))

	p := manager.CreateProjector("any")
	require.NoError(t, p.Init(func() interface{} { return 0 }))
	require.NoError(t, p.FromStream("events", metadata.Matcher{}))
	require.NoError(t, p.WhenAny(func(state interface{}, e event.Event) interface{} {
		return state.(int) + 1
	}))

	require.NoError(t, p.Run(ctx, false))
	assert.Equal(t, 3, p.State())
}

func TestProjector_BuildPhase_RejectsDuplicateInit(t *testing.T) {
	_, _, manager := newTestManager(t)
	p := manager.CreateProjector("p")
	require.NoError(t, p.Init(func() interface{} { return nil }))
	assert.ErrorIs(t, p.Init(func() interface{} { return nil }), projection.ErrAlreadyInitialized)
}

func TestProjector_BuildPhase_RejectsDuplicateFrom(t *testing.T) {
	_, _, manager := newTestManager(t)
	p := manager.CreateProjector("p")
	require.NoError(t, p.FromAll())
	assert.ErrorIs(t, p.FromStream("x", metadata.Matcher{}), projection.ErrFromAlreadyCalled)
}

func TestProjector_BuildPhase_RejectsDuplicateWhen(t *testing.T) {
	_, _, manager := newTestManager(t)
	p := manager.CreateProjector("p")
	require.NoError(t, p.When(map[string]projection.EventHandler{}))
	assert.ErrorIs(t, p.WhenAny(func(interface{}, event.Event) interface{} { return nil }), projection.ErrWhenAlreadyCalled)
}

func TestProjector_Run_FailsWithoutHandler(t *testing.T) {
	_, _, manager := newTestManager(t)
	p := manager.CreateProjector("p")
	require.NoError(t, p.Init(func() interface{} { return nil }))
	require.NoError(t, p.FromAll())

	err := p.Run(context.Background(), false)
	assert.ErrorIs(t, err, projection.ErrNoHandler)
}

func TestProjector_Run_FailsWithoutInit(t *testing.T) {
	_, _, manager := newTestManager(t)
	p := manager.CreateProjector("p")
	require.NoError(t, p.FromAll())
	require.NoError(t, p.When(map[string]projection.EventHandler{}))

	err := p.Run(context.Background(), false)
	assert.ErrorIs(t, err, projection.ErrStateNotInitialised)
}

func TestProjector_Determinism_SameStreamSameHandlersSameResult(t *testing.T) {
	ctx := context.Background()
	store, _, manager := newTestManager(t)
	require.NoError(t, store.CreateStream(ctx, "events"))
	require.NoError(t, store.AppendTo(ctx, "events", []event.Event{
		event.New("Inc", nil, nil), event.New("Inc", nil, nil), event.New("Inc", nil, nil),
	}))

	run := func(name string) interface{} {
		p := manager.CreateProjector(name)
		require.NoError(t, p.Init(func() interface{} { return 0 }))
		require.NoError(t, p.FromStream("events", metadata.Matcher{}))
		require.NoError(t, p.When(map[string]projection.EventHandler{
			"Inc": func(state interface{}, e event.Event) interface{} { return state.(int) + 1 },
		}))
		require.NoError(t, p.Run(ctx, false))
		return p.State()
	}

	first := run("det-1")
	second := run("det-2")
	assert.Equal(t, first, second)
}

// A RESETTING transition is consumed as its own terminal step
// (positions/state cleared, record goes back to IDLE); the next Run
// replays the stream from scratch.
func TestProjector_Reset_ClearsPositionsAndReplaysFromStart(t *testing.T) {
	ctx := context.Background()
	store, _, manager := newTestManager(t)
	require.NoError(t, store.CreateStream(ctx, "s"))
	require.NoError(t, store.AppendTo(ctx, "s", []event.Event{
		event.New("Inc", nil, nil), event.New("Inc", nil, nil),
	}))

	p := manager.CreateProjector("resettable")
	require.NoError(t, p.Init(func() interface{} { return &counterState{N: 0} }))
	require.NoError(t, p.FromStream("s", metadata.Matcher{}))
	require.NoError(t, p.When(map[string]projection.EventHandler{
		"Inc": func(state interface{}, e event.Event) interface{} {
			s := state.(*counterState)
			return &counterState{N: s.N + 1}
		},
	}))
	require.NoError(t, p.Run(ctx, false))
	assert.Equal(t, &counterState{N: 2}, p.State())

	require.NoError(t, manager.ResetProjection(ctx, "resettable"))
	require.NoError(t, p.Run(ctx, false))
	assert.Equal(t, &counterState{N: 0}, p.State())

	require.NoError(t, p.Run(ctx, false))
	assert.Equal(t, &counterState{N: 2}, p.State())

	rec, err := store.Strategy().LoadProjection(ctx, "resettable")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Positions["s"])
}

func TestProjector_EmitAndLinkTo_AreSynchronousWithFold(t *testing.T) {
	ctx := context.Background()
	store, _, manager := newTestManager(t)
	require.NoError(t, store.CreateStream(ctx, "source"))
	require.NoError(t, store.AppendTo(ctx, "source", []event.Event{event.New("Trigger", nil, nil)}))

	p := manager.CreateProjector("emitter")
	require.NoError(t, p.Init(func() interface{} { return 0 }))
	require.NoError(t, p.FromStream("source", metadata.Matcher{}))
	require.NoError(t, p.When(map[string]projection.EventHandler{
		"Trigger": func(state interface{}, e event.Event) interface{} {
			if err := p.Emit(ctx, event.New("Emitted", nil, nil)); err != nil {
				panic(err)
			}
			return state
		},
	}))
	require.NoError(t, p.Run(ctx, false))

	it, err := store.Load(ctx, "emitter", 1, metadata.Matcher{})
	require.NoError(t, err)
	defer it.Close()
	loaded, err := eventstore.Drain(ctx, it)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Emitted", loaded[0].Name())
}
