package relic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeHashStable(t *testing.T) {
	type point struct{ X, Y int64 }
	require.Equal(t, TypeHash[point](), TypeHash[point]())
	require.NotZero(t, TypeHash[point]())
}

func TestTypeHashDiscriminates(t *testing.T) {
	type a struct{ X int64 }
	type b struct{ Y int64 }
	type c struct{ X int32 }
	assert.NotEqual(t, TypeHash[a](), TypeHash[b]()) // field name
	assert.NotEqual(t, TypeHash[a](), TypeHash[c]()) // field type
	assert.NotEqual(t, TypeHash[Ptr[int64]](), TypeHash[Unique[int64]]())
	assert.NotEqual(t, TypeHash[[]int64](), TypeHash[[2]int64]())
}

// Recursive types must terminate with a back-reference, not recurse forever.
func TestTypeHashRecursive(t *testing.T) {
	h := TypeHash[node]()
	require.NotZero(t, h)
	require.Equal(t, h, TypeHash[node]())
}
