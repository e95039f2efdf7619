package relic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func benchGraph(n int) *node {
	nodes := make([]node, n)
	for i := range nodes {
		nodes[i].Label = fmt.Sprintf("node-%04d", i)
		nodes[i].Next = &nodes[(i+1)%n]
	}
	return &nodes[0]
}

func BenchmarkSerialize(b *testing.B) {
	root := benchGraph(64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Serialize(root, 0)
	}
}

func BenchmarkSerializeEnvelope(b *testing.B) {
	root := benchGraph(64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Serialize(root, DefaultMode)
	}
}

func BenchmarkSerializePresized(b *testing.B) {
	root := benchGraph(64)
	probe, err := Serialize(root, 0)
	require.NoError(b, err)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := &Buffer{B: make([]byte, 0, len(probe))}
		_ = SerializeTo(buf, root, 0)
	}
}

func BenchmarkDeserialize(b *testing.B) {
	root := benchGraph(64)
	buf, err := Serialize(root, 0)
	require.NoError(b, err)
	scratch := make([]byte, len(buf))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		// Patching is in place, every iteration needs a pristine image.
		copy(scratch, buf)
		_, _ = Deserialize[node](scratch, 0)
	}
}

func BenchmarkDeserializeUnchecked(b *testing.B) {
	root := benchGraph(64)
	buf, err := Serialize(root, 0)
	require.NoError(b, err)
	scratch := make([]byte, len(buf))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		copy(scratch, buf)
		_, _ = Deserialize[node](scratch, Unchecked)
	}
}

func BenchmarkCast(b *testing.B) {
	root := benchGraph(64)
	buf, err := Serialize(root, 0)
	require.NoError(b, err)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		v, _ := DeserializeCast[node](buf, 0)
		_ = v.Root()
	}
}

func BenchmarkYaml(b *testing.B) {
	type flat struct {
		Label string
		Vals  []int64
	}
	z := flat{Label: "comparison", Vals: []int64{1, 2, 3, 4, 5, 6, 7, 8}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = yaml.Marshal(z)
	}
}

func BenchmarkRelicFlat(b *testing.B) {
	type flat struct {
		Label string
		Vals  []int64
	}
	z := flat{Label: "comparison", Vals: []int64{1, 2, 3, 4, 5, 6, 7, 8}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Serialize(&z, 0)
	}
}
