package event_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/metadata"
)

func TestNew_GeneratesUUIDAndNoZero(t *testing.T) {
	e := event.New("Inc", nil, nil)

	assert.NotEqual(t, uuid.Nil, e.UUID())
	assert.Equal(t, int64(0), e.No())
	assert.Equal(t, "Inc", e.Name())
}

func TestWithNo_ReturnsCopyLeavingOriginalUntouched(t *testing.T) {
	e := event.New("Inc", nil, nil)
	withNo := e.WithNo(5)

	assert.Equal(t, int64(0), e.No())
	assert.Equal(t, int64(5), withNo.No())
}

func TestWithMetadata_ReturnsCopyLeavingOriginalUntouched(t *testing.T) {
	e := event.New("Inc", nil, nil)
	withMeta := e.WithMetadata("key", "value")

	_, ok := e.Metadata().Value("key")
	assert.False(t, ok)

	v, ok := withMeta.Metadata().Value("key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestWithVersionAndAggregateType(t *testing.T) {
	e := event.New("Inc", nil, nil).
		WithVersion(3).
		WithAggregateType("Counter")

	version, ok := event.AggregateVersion(e)
	assert.True(t, ok)
	assert.Equal(t, 3, version)

	v, ok := e.Metadata().Value(metadata.AggregateTypeKey)
	assert.True(t, ok)
	assert.Equal(t, "Counter", v)
}

func TestAggregateID_AbsentByDefault(t *testing.T) {
	e := event.New("Inc", nil, nil)
	_, ok := event.AggregateID(e)
	assert.False(t, ok)
}

func TestAggregateID_PresentAfterWithMetadata(t *testing.T) {
	e := event.New("Inc", nil, nil).WithMetadata(metadata.AggregateIDKey, "agg-1")
	id, ok := event.AggregateID(e)
	assert.True(t, ok)
	assert.Equal(t, "agg-1", id)
}

func TestStreamName_SetByMergeAndLoadMetadata(t *testing.T) {
	e := event.New("Inc", nil, nil)
	_, ok := event.StreamName(e)
	assert.False(t, ok)

	tagged := e.WithMetadata(metadata.StreamKey, "orders")
	name, ok := event.StreamName(tagged)
	assert.True(t, ok)
	assert.Equal(t, "orders", name)
}

func TestReconstitute_PreservesGivenFields(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := event.Reconstitute(id, 7, "Inc", 42, metadata.New(), now)

	assert.Equal(t, id, e.UUID())
	assert.Equal(t, int64(7), e.No())
	assert.Equal(t, "Inc", e.Name())
	assert.Equal(t, 42, e.Payload())
	assert.True(t, now.Equal(e.CreatedAt()))
}
