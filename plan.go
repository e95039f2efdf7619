package relic

import (
	"reflect"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/xerrors"
)

// A plan is the fixup program compiled from a type: the byte offsets of
// every pointer-bearing slot, in declaration order, with nested structs and
// arrays flattened into the parent. A type whose program is empty is
// trivial and (de)serializes as one raw block.
type plan struct {
	typ   reflect.Type
	size  uintptr
	align uintptr
	fix   []fixup
}

type fixKind uint8

const (
	fixOwned  fixKind = iota // native pointer, emission site
	fixUnique                // owning handle, sole-ownership checked
	fixShared                // non-owning reference, resolve only
	fixString
	fixSlice
)

type fixup struct {
	off  uintptr
	kind fixKind
	elem *plan // pointee or element layout, nil for fixString
}

func (p *plan) trivial() bool { return len(p.fix) == 0 }

// Plans are built once per type and shared process-wide: lock-free reads
// through the concurrent map, recursive builds under a single mutex.
var (
	plans  = xsync.NewMapOf[reflect.Type, *plan]()
	planMu sync.Mutex
)

func planFor(t reflect.Type) (*plan, error) {
	if pl, ok := plans.Load(t); ok {
		return pl, nil
	}
	planMu.Lock()
	defer planMu.Unlock()
	tmp := make(map[reflect.Type]*plan)
	pl, err := build(t, tmp)
	if err != nil {
		return nil, err
	}
	// Commit only complete programs; a failed build leaves no residue.
	for typ, p := range tmp {
		plans.Store(typ, p)
	}
	return pl, nil
}

// build compiles t, registering in-progress plans in tmp before recursing so
// that self-referential types (Node -> *Node) resolve to a single program.
func build(t reflect.Type, tmp map[reflect.Type]*plan) (*plan, error) {
	if pl, ok := plans.Load(t); ok {
		return pl, nil
	}
	if pl, ok := tmp[t]; ok {
		return pl, nil
	}
	pl := &plan{typ: t, size: t.Size(), align: uintptr(t.Align())}
	tmp[t] = pl

	switch {
	case t.Implements(sharedMarker):
		elem, err := build(t.Field(0).Type.Elem(), tmp)
		if err != nil {
			return nil, err
		}
		pl.fix = []fixup{{kind: fixShared, elem: elem}}
		return pl, nil
	case t.Implements(ownedMarker):
		elem, err := build(t.Field(0).Type.Elem(), tmp)
		if err != nil {
			return nil, err
		}
		pl.fix = []fixup{{kind: fixUnique, elem: elem}}
		return pl, nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, err := build(t.Elem(), tmp)
		if err != nil {
			return nil, err
		}
		pl.fix = []fixup{{kind: fixOwned, elem: elem}}
	case reflect.String:
		pl.fix = []fixup{{kind: fixString}}
	case reflect.Slice:
		elem, err := build(t.Elem(), tmp)
		if err != nil {
			return nil, err
		}
		pl.fix = []fixup{{kind: fixSlice, elem: elem}}
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			fp, err := build(sf.Type, tmp)
			if err != nil {
				return nil, xerrors.Errorf("field %s.%s: %w", t.Name(), sf.Name, err)
			}
			for _, f := range fp.fix {
				pl.fix = append(pl.fix, fixup{off: sf.Offset + f.off, kind: f.kind, elem: f.elem})
			}
		}
	case reflect.Array:
		ep, err := build(t.Elem(), tmp)
		if err != nil {
			return nil, err
		}
		if !ep.trivial() {
			for i := 0; i < t.Len(); i++ {
				base := uintptr(i) * ep.size
				for _, f := range ep.fix {
					pl.fix = append(pl.fix, fixup{off: base + f.off, kind: f.kind, elem: f.elem})
				}
			}
		}
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		// raw bytes
	default:
		return nil, xerrors.Errorf("%s: %w", t, ErrUnsupported)
	}
	return pl, nil
}
