package relic

import (
	"encoding/binary"
	"reflect"
	"unsafe"

	"github.com/zeebo/xxh3"
	"golang.org/x/xerrors"
)

// Header layouts of the builtin variable-size containers. The offset word
// comes first, then size (and capacity for slices); the offset is
// self-relative to its own slot.
type stringHdr struct {
	data unsafe.Pointer
	len  int
}

type sliceHdr struct {
	data unsafe.Pointer
	len  int
	cap  int
}

// Serialize encodes the graph rooted at v into a freshly allocated buffer.
func Serialize[T any](v *T, mode Mode) ([]byte, error) {
	buf := &Buffer{}
	if err := SerializeTo(buf, v, mode); err != nil {
		return nil, err
	}
	return buf.B, nil
}

// SerializeTo encodes the graph rooted at v into sink. The sink must be
// empty: the root lands at the fixed, mode-determined offset. The source
// graph must not be mutated during the call.
func SerializeTo[T any](sink Sink, v *T, mode Mode) error {
	if v == nil {
		return xerrors.Errorf("nil root: %w", ErrUnsupported)
	}
	pl, err := planFor(reflect.TypeOf(v).Elem())
	if err != nil {
		return err
	}
	if mode.has(WithVersion) {
		var tag [8]byte
		binary.LittleEndian.PutUint64(tag[:], typeHashOf(pl.typ))
		if _, err := sink.Append(tag[:], 8); err != nil {
			return xerrors.Errorf("append version tag: %w", err)
		}
	}
	start := sink.Len()
	s := newSerializer(sink)
	if _, err := s.emit(unsafe.Pointer(v), pl); err != nil {
		return err
	}
	if err := s.drain(); err != nil {
		return err
	}
	if mode.has(WithIntegrity) {
		var sum [8]byte
		binary.LittleEndian.PutUint64(sum[:], xxh3.Hash(sink.Bytes()[start:]))
		if _, err := sink.Append(sum[:], 1); err != nil {
			return xerrors.Errorf("append content hash: %w", err)
		}
	}
	Logger.Debug().
		Str("type", pl.typ.String()).
		Int64("bytes", sink.Len()).
		Int("objects", len(s.visited)).
		Msg("serialized")
	return nil
}

// emit appends the raw bytes of the object at src as a new block, records
// it as visited before descending so that back-edges resolve, then fixes
// its pointer-bearing slots.
func (s *serializer) emit(src unsafe.Pointer, pl *plan) (int64, error) {
	off, err := s.sink.Append(unsafe.Slice((*byte)(src), pl.size), int(pl.align))
	if err != nil {
		return 0, xerrors.Errorf("append %s: %w", pl.typ, err)
	}
	s.visited[src] = off
	return off, s.fix(src, off, pl)
}

// fix rewrites every pointer-bearing slot of the block at off, emitting
// owned children and container payloads after the parent block.
func (s *serializer) fix(src unsafe.Pointer, off int64, pl *plan) error {
	for i := range pl.fix {
		f := &pl.fix[i]
		fsrc := unsafe.Add(src, f.off)
		slot := off + int64(f.off)
		switch f.kind {
		case fixOwned, fixUnique:
			target := *(*unsafe.Pointer)(fsrc)
			if target == nil {
				continue // raw copy already holds the null word
			}
			if f.kind == fixUnique {
				if _, dup := s.owned[target]; dup {
					return xerrors.Errorf("%s: %w", f.elem.typ, ErrDoubleOwned)
				}
				if s.owned == nil {
					s.owned = make(map[unsafe.Pointer]struct{})
				}
				s.owned[target] = struct{}{}
			}
			to, ok := s.visited[target]
			if !ok {
				var err error
				if to, err = s.emit(target, f.elem); err != nil {
					return err
				}
			}
			if to == slot {
				return xerrors.Errorf("%s: %w", f.elem.typ, ErrSelfPointer)
			}
			if err := s.put64(slot, to-slot); err != nil {
				return err
			}
		case fixShared:
			target := *(*unsafe.Pointer)(fsrc)
			if target == nil {
				continue
			}
			to, ok := s.visited[target]
			if !ok {
				// Forward reference: the raw copy still holds the live
				// address. Scrub the slot and queue the patch.
				if err := s.put64(slot, 0); err != nil {
					return err
				}
				s.pending = append(s.pending, pendingPatch{src: target, slot: slot})
				continue
			}
			if to == slot {
				return xerrors.Errorf("%s: %w", f.elem.typ, ErrSelfPointer)
			}
			if err := s.put64(slot, to-slot); err != nil {
				return err
			}
		case fixString:
			h := (*stringHdr)(fsrc)
			if h.len == 0 {
				// {0, 0}: scrub a possibly non-null data word of an empty
				// sliced string.
				if err := s.put64(slot, 0); err != nil {
					return err
				}
				continue
			}
			poff, err := s.sink.Append(unsafe.Slice((*byte)(h.data), h.len), 1)
			if err != nil {
				return xerrors.Errorf("append string payload: %w", err)
			}
			if err := s.put64(slot, poff-slot); err != nil {
				return err
			}
		case fixSlice:
			h := (*sliceHdr)(fsrc)
			ep := f.elem
			if h.len == 0 {
				// {0, 0, 0}
				if err := s.put64(slot, 0); err != nil {
					return err
				}
				if err := s.put64(slot+16, 0); err != nil {
					return err
				}
				continue
			}
			poff, err := s.sink.Append(unsafe.Slice((*byte)(h.data), uintptr(h.len)*ep.size), int(ep.align))
			if err != nil {
				return xerrors.Errorf("append %s payload: %w", pl.typ, err)
			}
			if !ep.trivial() {
				// Register every element before descending so references
				// between siblings resolve, then fix their slots in place.
				for i := 0; i < h.len; i++ {
					s.visited[unsafe.Add(h.data, uintptr(i)*ep.size)] = poff + int64(uintptr(i)*ep.size)
				}
				for i := 0; i < h.len; i++ {
					eoff := int64(uintptr(i) * ep.size)
					if err := s.fix(unsafe.Add(h.data, uintptr(i)*ep.size), poff+eoff, ep); err != nil {
						return err
					}
				}
			}
			if err := s.put64(slot, poff-slot); err != nil {
				return err
			}
			// Capacity clamps to size: buffer-backed storage is not growable.
			if err := s.put64(slot+16, int64(h.len)); err != nil {
				return err
			}
		}
	}
	return nil
}
