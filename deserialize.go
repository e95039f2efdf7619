package relic

import (
	"encoding/binary"
	"reflect"
	"unsafe"

	"github.com/zeebo/xxh3"
	"golang.org/x/xerrors"
)

// deserializer is the per-call deserialization context: the buffer base,
// the payload extent and the set of already-walked offsets.
type deserializer struct {
	buf  []byte
	base uintptr
	lo   int64 // payload start
	hi   int64 // payload end
	mode Mode
	seen map[int64]struct{}
}

// Deserialize validates buf according to mode, rewrites every self-relative
// offset into an absolute pointer in place and returns a typed pointer
// aliasing the buffer. The returned graph lives exactly as long as buf;
// the caller must keep buf reachable.
//
// Deserializing the same buffer twice is undefined. With the Cast flag the
// buffer is left untouched; prefer DeserializeCast for that.
func Deserialize[T any](buf []byte, mode Mode) (*T, error) {
	pl, err := planFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	d, root, err := open(buf, mode, pl)
	if err != nil {
		return nil, err
	}
	if pl.size == 0 {
		return new(T), nil
	}
	if !mode.has(Cast) {
		d.seen[root] = struct{}{}
		if err := d.walk(root, pl); err != nil {
			return nil, err
		}
	}
	Logger.Debug().
		Str("type", pl.typ.String()).
		Int("bytes", len(buf)).
		Int("objects", len(d.seen)).
		Msg("deserialized")
	return (*T)(unsafe.Pointer(&buf[root])), nil
}

// open validates the envelope and the buffer base, returning the context
// and the root offset.
func open(buf []byte, mode Mode, pl *plan) (*deserializer, int64, error) {
	lo, hi := int64(0), int64(len(buf))
	if mode.has(WithVersion) {
		if hi < 8 {
			return nil, 0, xerrors.Errorf("version tag: %w", ErrTruncated)
		}
		want := typeHashOf(pl.typ)
		if got := binary.LittleEndian.Uint64(buf); got != want {
			return nil, 0, xerrors.Errorf("type hash %016x, want %016x: %w", got, want, ErrVersionMismatch)
		}
		lo = 8
	}
	if mode.has(WithIntegrity) {
		if hi-lo < 8 {
			return nil, 0, xerrors.Errorf("content hash: %w", ErrTruncated)
		}
		hi -= 8
		want := binary.LittleEndian.Uint64(buf[hi:])
		if got := xxh3.Hash(buf[lo:hi]); got != want {
			return nil, 0, xerrors.Errorf("content hash %016x, want %016x: %w", got, want, ErrIntegrityMismatch)
		}
	}
	if int64(pl.size) > hi-lo {
		return nil, 0, xerrors.Errorf("root %s: %w", pl.typ, ErrTruncated)
	}
	if len(buf) > 0 && !mode.has(Unchecked) && !pl.trivial() {
		if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
			return nil, 0, xerrors.Errorf("buffer base: %w", ErrMisaligned)
		}
	}
	d := &deserializer{
		buf:  buf,
		lo:   lo,
		hi:   hi,
		mode: mode,
		seen: make(map[int64]struct{}),
	}
	if len(buf) > 0 {
		d.base = uintptr(unsafe.Pointer(&buf[0]))
	}
	return d, lo, nil
}

// check fails if the n bytes at off do not lie entirely inside the payload.
// DeepCheck additionally verifies alignment.
func (d *deserializer) check(off, n int64, align uintptr) error {
	if d.mode.has(Unchecked) {
		return nil
	}
	if off < d.lo || n < 0 || n > d.hi-off {
		return xerrors.Errorf("offset %d size %d: %w", off, n, ErrOutOfBounds)
	}
	if d.mode.has(DeepCheck) && align > 1 && (d.base+uintptr(off))%align != 0 {
		return xerrors.Errorf("offset %d align %d: %w", off, align, ErrMisaligned)
	}
	return nil
}

func (d *deserializer) i64(off int64) int64 {
	return int64(binary.LittleEndian.Uint64(d.buf[off:]))
}

func (d *deserializer) put(off, v int64) {
	binary.LittleEndian.PutUint64(d.buf[off:], uint64(v))
}

func (d *deserializer) putAddr(off, target int64) {
	binary.LittleEndian.PutUint64(d.buf[off:], uint64(d.base)+uint64(target))
}

// walk converts every pointer-bearing slot of the object at off from a
// self-relative delta into an absolute address, descending into targets and
// container payloads. seen guards against revisiting shared and cyclic
// objects.
func (d *deserializer) walk(off int64, pl *plan) error {
	for i := range pl.fix {
		f := &pl.fix[i]
		slot := off + int64(f.off)
		switch f.kind {
		case fixOwned, fixUnique, fixShared:
			delta := d.i64(slot)
			if delta == 0 {
				continue // null
			}
			t := slot + delta
			if err := d.check(t, int64(f.elem.size), f.elem.align); err != nil {
				return err
			}
			if _, ok := d.seen[t]; !ok {
				d.seen[t] = struct{}{}
				if err := d.walk(t, f.elem); err != nil {
					return err
				}
			}
			d.putAddr(slot, t)
		case fixString:
			delta := d.i64(slot)
			n := d.i64(slot + 8)
			if n == 0 {
				if delta != 0 {
					d.put(slot, 0)
				}
				continue
			}
			if delta == 0 && !d.mode.has(Unchecked) {
				return xerrors.Errorf("null string payload, size %d: %w", n, ErrOutOfBounds)
			}
			t := slot + delta
			if err := d.check(t, n, 1); err != nil {
				return err
			}
			d.putAddr(slot, t)
		case fixSlice:
			delta := d.i64(slot)
			n := d.i64(slot + 8)
			if n == 0 {
				if delta != 0 || d.i64(slot+16) != 0 {
					d.put(slot, 0)
					d.put(slot+16, 0)
				}
				continue
			}
			if delta == 0 && !d.mode.has(Unchecked) {
				return xerrors.Errorf("null slice payload, size %d: %w", n, ErrOutOfBounds)
			}
			ep := f.elem
			if !d.mode.has(Unchecked) && (n < 0 || (ep.size > 0 && n > (d.hi-d.lo)/int64(ep.size))) {
				return xerrors.Errorf("slice size %d: %w", n, ErrOutOfBounds)
			}
			t := slot + delta
			if err := d.check(t, n*int64(ep.size), ep.align); err != nil {
				return err
			}
			if !ep.trivial() {
				for i := int64(0); i < n; i++ {
					eo := t + i*int64(ep.size)
					if _, ok := d.seen[eo]; ok {
						continue
					}
					d.seen[eo] = struct{}{}
					if err := d.walk(eo, ep); err != nil {
						return err
					}
				}
			}
			d.putAddr(slot, t)
			// Capacity clamps to size so append cannot grow into the buffer.
			d.put(slot+16, n)
		}
	}
	return nil
}
