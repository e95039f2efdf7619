package relic

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeebo/xxh3"
)

// The structural type hash is xxh3 over a canonical descriptor of the
// declared shape of a type: kind, size, field names and offsets, element
// shapes, with back-references for recursive types. It is stable across
// processes and builds on the same ABI, and is the cheap compatibility
// check embedded by WithVersion.

var hashes = xsync.NewMapOf[reflect.Type, uint64]()

// TypeHash returns the structural type hash of T.
func TypeHash[T any]() uint64 {
	return typeHashOf(reflect.TypeOf((*T)(nil)).Elem())
}

func typeHashOf(t reflect.Type) uint64 {
	if h, ok := hashes.Load(t); ok {
		return h
	}
	var b strings.Builder
	describe(t, &b, make(map[reflect.Type]int))
	h := xxh3.HashString(b.String())
	hashes.Store(t, h)
	return h
}

func describe(t reflect.Type, b *strings.Builder, seen map[reflect.Type]int) {
	if id, ok := seen[t]; ok {
		fmt.Fprintf(b, "@%d", id)
		return
	}
	seen[t] = len(seen)

	switch {
	case t.Implements(sharedMarker):
		b.WriteString("ref(")
		describe(t.Field(0).Type.Elem(), b, seen)
		b.WriteByte(')')
		return
	case t.Implements(ownedMarker):
		b.WriteString("uniq(")
		describe(t.Field(0).Type.Elem(), b, seen)
		b.WriteByte(')')
		return
	}

	switch t.Kind() {
	case reflect.Pointer:
		b.WriteString("ptr(")
		describe(t.Elem(), b, seen)
		b.WriteByte(')')
	case reflect.String:
		b.WriteString("str")
	case reflect.Slice:
		b.WriteString("vec(")
		describe(t.Elem(), b, seen)
		b.WriteByte(')')
	case reflect.Array:
		fmt.Fprintf(b, "arr[%d](", t.Len())
		describe(t.Elem(), b, seen)
		b.WriteByte(')')
	case reflect.Struct:
		b.WriteString("struct{")
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			fmt.Fprintf(b, "%s@%d:", sf.Name, sf.Offset)
			describe(sf.Type, b, seen)
			b.WriteByte(';')
		}
		b.WriteByte('}')
	default:
		fmt.Fprintf(b, "%s/%d", t.Kind(), t.Size())
	}
}
