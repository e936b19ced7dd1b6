package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-eventry/eventry/metadata"
)

func TestWithValue_DoesNotMutateReceiver(t *testing.T) {
	base := metadata.New()
	extended := metadata.WithValue(base, "k", "v")

	_, ok := base.Value("k")
	assert.False(t, ok)

	v, ok := extended.Value("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestClone_IsIndependentCopy(t *testing.T) {
	base := metadata.WithValue(metadata.New(), "k", "v")
	clone := base.Clone()

	clone["k"] = "mutated"

	v, _ := base.Value("k")
	assert.Equal(t, "v", v)
}
