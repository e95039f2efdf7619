package relic

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/xerrors"

	"github.com/relicbin/relic/internal/common"
)

// Sink is the output target of a serialization pass. Offsets returned by
// Append are absolute positions within the written region.
type Sink interface {
	// Append aligns the write position up to align, appends p and returns
	// the offset the bytes landed at. Padding bytes are zero.
	Append(p []byte, align int) (int64, error)
	// Patch overwrites len(p) bytes at a previously written offset.
	Patch(off int64, p []byte) error
	// Len returns the number of bytes written so far.
	Len() int64
	// Bytes returns the written region. The engine reads it back to
	// compute the content hash.
	Bytes() []byte
}

// Buffer is the in-memory Sink. The zero value is ready to use; pre-size
// with make to avoid growth reallocations.
type Buffer struct {
	B []byte
}

func (b *Buffer) Append(p []byte, align int) (int64, error) {
	off := common.Align(len(b.B), align)
	if pad := off - len(b.B); pad > 0 {
		b.B = append(b.B, common.Zero[:pad]...)
	}
	b.B = append(b.B, p...)
	return int64(off), nil
}

func (b *Buffer) Patch(off int64, p []byte) error {
	copy(b.B[off:], p)
	return nil
}

func (b *Buffer) Len() int64 { return int64(len(b.B)) }

func (b *Buffer) Bytes() []byte { return b.B }

// serializer is the per-call serialization context: the sink, the map from
// visited source address to assigned offset, the queue of pending forward
// patches and the unique-ownership set.
type serializer struct {
	sink    Sink
	visited map[unsafe.Pointer]int64
	owned   map[unsafe.Pointer]struct{}
	pending []pendingPatch
	scratch [8]byte
}

// pendingPatch records a slot that stores a pointer to src but was written
// before src had been emitted.
type pendingPatch struct {
	src  unsafe.Pointer
	slot int64
}

func newSerializer(sink Sink) *serializer {
	return &serializer{
		sink:    sink,
		visited: make(map[unsafe.Pointer]int64),
	}
}

func (s *serializer) put64(off int64, v int64) error {
	binary.LittleEndian.PutUint64(s.scratch[:], uint64(v))
	return s.sink.Patch(off, s.scratch[:])
}

// drain resolves the pending queue. Every origin must have been emitted
// through an owning edge by now.
func (s *serializer) drain() error {
	for _, p := range s.pending {
		to, ok := s.visited[p.src]
		if !ok {
			return xerrors.Errorf("slot %d: %w", p.slot, ErrDangling)
		}
		if to == p.slot {
			return xerrors.Errorf("slot %d: %w", p.slot, ErrSelfPointer)
		}
		if err := s.put64(p.slot, to-p.slot); err != nil {
			return err
		}
	}
	s.pending = s.pending[:0]
	return nil
}
