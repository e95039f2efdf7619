package relic

import (
	"reflect"
	"unsafe"

	"golang.org/x/xerrors"
)

// View is a cast-mode handle on a serialized buffer: the envelope has been
// validated but no offset was rewritten. Pointer-bearing fields of the root
// still hold self-relative deltas and must be read through Rel, RelPtr,
// RelString and RelSlice.
type View[T any] struct {
	buf  []byte
	root int64
}

// DeserializeCast validates buf according to mode and returns a view that
// resolves pointers on every access without patching the buffer. The Cast
// flag is implied.
func DeserializeCast[T any](buf []byte, mode Mode) (*View[T], error) {
	pl, err := planFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	if pl.size == 0 {
		return nil, xerrors.Errorf("zero-size root: %w", ErrUnsupported)
	}
	_, root, err := open(buf, mode|Cast, pl)
	if err != nil {
		return nil, err
	}
	return &View[T]{buf: buf, root: root}, nil
}

// Root returns the root object aliasing the buffer. Scalar fields read
// normally; pointer, string and slice fields hold raw deltas.
func (v *View[T]) Root() *T {
	return (*T)(unsafe.Pointer(&v.buf[v.root]))
}

// Bytes returns the underlying buffer.
func (v *View[T]) Bytes() []byte { return v.buf }

// RelPtr resolves a native pointer slot inside a cast-mode buffer: the
// stored word is the self-relative delta, zero meaning nil.
func RelPtr[T any](p **T) *T {
	d := *(*int64)(unsafe.Pointer(p))
	if d == 0 {
		return nil
	}
	return (*T)(unsafe.Add(unsafe.Pointer(p), d))
}

// RelString resolves a string header inside a cast-mode buffer without
// copying the payload.
func RelString(s *string) string {
	h := (*stringHdr)(unsafe.Pointer(s))
	d := *(*int64)(unsafe.Pointer(s))
	if d == 0 || h.len == 0 {
		return ""
	}
	return unsafe.String((*byte)(unsafe.Add(unsafe.Pointer(s), d)), h.len)
}

// RelSlice resolves a slice header inside a cast-mode buffer. Elements of
// the returned slice alias the buffer; their own pointer-bearing fields are
// still self-relative.
func RelSlice[E any](s *[]E) []E {
	h := (*sliceHdr)(unsafe.Pointer(s))
	d := *(*int64)(unsafe.Pointer(s))
	if d == 0 || h.len == 0 {
		return nil
	}
	return unsafe.Slice((*E)(unsafe.Add(unsafe.Pointer(s), d)), h.len)
}
