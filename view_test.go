package relic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type entry struct {
	Name string
	Next *entry
}

func TestCastNavigation(t *testing.T) {
	second := entry{Name: "second"}
	first := entry{Name: "first", Next: &second}

	buf, err := Serialize(&first, DefaultMode)
	require.NoError(t, err)

	v, err := DeserializeCast[entry](buf, DefaultMode)
	require.NoError(t, err)
	r := v.Root()
	require.Equal(t, "first", RelString(&r.Name))
	n := RelPtr(&r.Next)
	require.NotNil(t, n)
	require.Equal(t, "second", RelString(&n.Name))
	require.Nil(t, RelPtr(&n.Next))
}

func TestCastSharedAndSlices(t *testing.T) {
	type doc struct {
		Owner Unique[int64]
		Alias Ptr[int64]
		Tags  []string
	}
	x := int64(77)
	src := doc{Owner: U(&x), Alias: P(&x), Tags: []string{"red", "blue"}}

	buf, err := Serialize(&src, 0)
	require.NoError(t, err)

	v, err := DeserializeCast[doc](buf, 0)
	require.NoError(t, err)
	r := v.Root()
	require.NotNil(t, r.Owner.Rel())
	require.Same(t, r.Owner.Rel(), r.Alias.Rel())
	require.Equal(t, int64(77), *r.Alias.Rel())

	tags := RelSlice(&r.Tags)
	require.Len(t, tags, 2)
	require.Equal(t, "red", RelString(&tags[0]))
	require.Equal(t, "blue", RelString(&tags[1]))
}

// The cast view leaves the buffer byte-identical.
func TestCastDoesNotPatch(t *testing.T) {
	second := entry{Name: "tail"}
	first := entry{Name: "head", Next: &second}
	buf, err := Serialize(&first, WithIntegrity)
	require.NoError(t, err)
	v, err := DeserializeCast[entry](buf, WithIntegrity)
	require.NoError(t, err)
	_ = v.Root().Name
	again, err := DeserializeCast[entry](v.Bytes(), WithIntegrity)
	require.NoError(t, err)
	require.Equal(t, "head", RelString(&again.Root().Name))
}
