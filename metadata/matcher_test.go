package metadata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-eventry/eventry/metadata"
)

func TestMatcher_EmptyMatchesEverything(t *testing.T) {
	m := metadata.NewMatcher()
	assert.True(t, m.Matches(metadata.New(), nil))
}

func TestMatcher_MissingFieldEvaluatesFalse(t *testing.T) {
	m := metadata.NewMatcher().WithConstraint("missing", metadata.OperatorEquals, "x", metadata.FieldKindMetadata)
	assert.False(t, m.Matches(metadata.New(), nil))
}

func TestMatcher_NumericComparisons(t *testing.T) {
	tests := []struct {
		name string
		op   metadata.Operator
		want bool
	}{
		{"equals", metadata.OperatorEquals, false},
		{"not equals", metadata.OperatorNotEquals, true},
		{"greater than", metadata.OperatorGreaterThan, true},
		{"greater than or equal", metadata.OperatorGreaterThanOrEquals, true},
		{"lower than", metadata.OperatorLowerThan, false},
		{"lower than or equal", metadata.OperatorLowerThanOrEquals, false},
	}

	md := metadata.WithValue(metadata.New(), "_aggregate_version", 2)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metadata.NewMatcher().WithConstraint("_aggregate_version", tt.op, 1, metadata.FieldKindMetadata)
			assert.Equal(t, tt.want, m.Matches(md, nil))
		})
	}
}

func TestMatcher_DateOrdering(t *testing.T) {
	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	md := metadata.WithValue(metadata.New(), "expires_at", cutoff.Add(24*time.Hour))

	tests := []struct {
		name string
		op   metadata.Operator
		want bool
	}{
		{"equals", metadata.OperatorEquals, false},
		{"not equals", metadata.OperatorNotEquals, true},
		{"greater than", metadata.OperatorGreaterThan, true},
		{"greater than or equal", metadata.OperatorGreaterThanOrEquals, true},
		{"lower than", metadata.OperatorLowerThan, false},
		{"lower than or equal", metadata.OperatorLowerThanOrEquals, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metadata.NewMatcher().WithConstraint("expires_at", tt.op, cutoff, metadata.FieldKindMetadata)
			assert.Equal(t, tt.want, m.Matches(md, nil))
		})
	}

	m := metadata.NewMatcher().WithConstraint("expires_at", metadata.OperatorEquals, cutoff.Add(24*time.Hour), metadata.FieldKindMetadata)
	assert.True(t, m.Matches(md, nil))
}

func TestMatcher_StringOrdering(t *testing.T) {
	md := metadata.WithValue(metadata.New(), "name", "bravo")
	m := metadata.NewMatcher().WithConstraint("name", metadata.OperatorGreaterThan, "alpha", metadata.FieldKindMetadata)
	assert.True(t, m.Matches(md, nil))

	m = metadata.NewMatcher().WithConstraint("name", metadata.OperatorLowerThan, "alpha", metadata.FieldKindMetadata)
	assert.False(t, m.Matches(md, nil))
}

func TestMatcher_BooleanOnlyEqualityOperators(t *testing.T) {
	md := metadata.WithValue(metadata.New(), "archived", true)

	m := metadata.NewMatcher().WithConstraint("archived", metadata.OperatorEquals, true, metadata.FieldKindMetadata)
	assert.True(t, m.Matches(md, nil))

	m = metadata.NewMatcher().WithConstraint("archived", metadata.OperatorGreaterThan, false, metadata.FieldKindMetadata)
	assert.False(t, m.Matches(md, nil))
}

func TestMatcher_InNin(t *testing.T) {
	md := metadata.WithValue(metadata.New(), "_aggregate_version", 2)

	m := metadata.NewMatcher().WithConstraint("_aggregate_version", metadata.OperatorIn, []interface{}{1, 2, 3}, metadata.FieldKindMetadata)
	assert.True(t, m.Matches(md, nil))

	m = metadata.NewMatcher().WithConstraint("_aggregate_version", metadata.OperatorNotIn, []interface{}{1, 2, 3}, metadata.FieldKindMetadata)
	assert.False(t, m.Matches(md, nil))

	m = metadata.NewMatcher().WithConstraint("_aggregate_version", metadata.OperatorIn, []interface{}{9, 10}, metadata.FieldKindMetadata)
	assert.False(t, m.Matches(md, nil))
}

func TestMatcher_Regex(t *testing.T) {
	md := metadata.WithValue(metadata.New(), "name", "order-created")

	m := metadata.NewMatcher().WithConstraint("name", metadata.OperatorRegex, "^order-", metadata.FieldKindMetadata)
	assert.True(t, m.Matches(md, nil))

	m = metadata.NewMatcher().WithConstraint("name", metadata.OperatorRegex, "^invoice-", metadata.FieldKindMetadata)
	assert.False(t, m.Matches(md, nil))
}

type orderPlaced struct {
	Total int
}

func TestMatcher_PayloadFieldViaReflection(t *testing.T) {
	m := metadata.NewMatcher().WithConstraint("Total", metadata.OperatorGreaterThanOrEquals, 100, metadata.FieldKindPayload)
	assert.True(t, m.Matches(metadata.New(), orderPlaced{Total: 150}))
	assert.False(t, m.Matches(metadata.New(), orderPlaced{Total: 50}))
}

func TestMatcher_ConjunctionOfClauses(t *testing.T) {
	md := metadata.WithValue(metadata.WithValue(metadata.New(), "_aggregate_version", 3), "_aggregate_type", "Order")

	m := metadata.NewMatcher().
		WithConstraint("_aggregate_type", metadata.OperatorEquals, "Order", metadata.FieldKindMetadata).
		WithConstraint("_aggregate_version", metadata.OperatorGreaterThan, 1, metadata.FieldKindMetadata)
	assert.True(t, m.Matches(md, nil))

	m = metadata.NewMatcher().
		WithConstraint("_aggregate_type", metadata.OperatorEquals, "Order", metadata.FieldKindMetadata).
		WithConstraint("_aggregate_version", metadata.OperatorGreaterThan, 10, metadata.FieldKindMetadata)
	assert.False(t, m.Matches(md, nil))
}

func TestMatcher_ImmutableAcrossWithConstraint(t *testing.T) {
	base := metadata.NewMatcher().WithConstraint("a", metadata.OperatorEquals, 1, metadata.FieldKindMetadata)
	extended := base.WithConstraint("b", metadata.OperatorEquals, 2, metadata.FieldKindMetadata)

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, extended.Len())
}
