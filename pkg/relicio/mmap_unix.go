//go:build unix

package relicio

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/relicbin/relic"
	"github.com/relicbin/relic/internal/common"
)

// mmapSink grows a file in chunks and serializes straight into the mapping.
type mmapSink struct {
	f   *os.File
	mem []byte
	n   int
}

const mmapChunk = 1 << 20

func (m *mmapSink) grow(need int) error {
	if need <= len(m.mem) {
		return nil
	}
	size := common.Align(need, mmapChunk)
	if m.mem != nil {
		if err := unix.Munmap(m.mem); err != nil {
			return err
		}
		m.mem = nil
	}
	if err := m.f.Truncate(int64(size)); err != nil {
		return err
	}
	mem, err := unix.Mmap(int(m.f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.mem = mem
	return nil
}

func (m *mmapSink) Append(p []byte, align int) (int64, error) {
	off := common.Align(m.n, align)
	if err := m.grow(off + len(p)); err != nil {
		return 0, err
	}
	// Padding up to off needs no scrub: file extension zero-fills.
	copy(m.mem[off:], p)
	m.n = off + len(p)
	return int64(off), nil
}

func (m *mmapSink) Patch(off int64, p []byte) error {
	copy(m.mem[off:], p)
	return nil
}

func (m *mmapSink) Len() int64 { return int64(m.n) }

func (m *mmapSink) Bytes() []byte { return m.mem[:m.n] }

// finish unmaps and trims the file to the written size.
func (m *mmapSink) finish() error {
	if m.mem != nil {
		if err := unix.Munmap(m.mem); err != nil {
			return err
		}
		m.mem = nil
	}
	return m.f.Truncate(int64(m.n))
}

// Write serializes v through a memory-mapped sink into the file at path.
func Write[T any](path string, v *T, mode relic.Mode) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("create %s: %w", path, err)
	}
	sink := &mmapSink{f: f}
	werr := relic.SerializeTo(sink, v, mode)
	ferr := sink.finish()
	cerr := f.Close()
	switch {
	case werr != nil:
		return werr
	case ferr != nil:
		return xerrors.Errorf("finish %s: %w", path, ferr)
	case cerr != nil:
		return xerrors.Errorf("close %s: %w", path, cerr)
	}
	relic.Logger.Debug().Str("path", path).Int("bytes", sink.n).Msg("wrote image")
	return nil
}

// ReadMmap maps the file copy-on-write and deserializes it in place: the
// fixup pass dirties private pages only, the file stays untouched. The
// mapping is released by Close on the returned Wrapped.
func ReadMmap[T any](path string, mode relic.Mode) (*Wrapped[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, xerrors.Errorf("stat %s: %w", path, err)
	}
	if st.Size() == 0 {
		ptr, err := relic.Deserialize[T](nil, mode)
		if err != nil {
			return nil, err
		}
		return &Wrapped[T]{ptr: ptr}, nil
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, xerrors.Errorf("mmap %s: %w", path, err)
	}
	ptr, err := relic.Deserialize[T](mem, mode)
	if err != nil {
		_ = unix.Munmap(mem)
		return nil, xerrors.Errorf("deserialize %s: %w", path, err)
	}
	return &Wrapped[T]{mem: mem, ptr: ptr, unmap: func() error { return unix.Munmap(mem) }}, nil
}
