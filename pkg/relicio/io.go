// Package relicio is the filesystem convenience layer over the relic core:
// whole-buffer file write/read, memory-mapped variants and zstd-compressed
// images.
package relicio

import (
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"github.com/relicbin/relic"
)

// Wrapped pairs ownership of the backing bytes with a typed pointer into
// them. The graph behind Get is valid until Close.
type Wrapped[T any] struct {
	mem   []byte
	ptr   *T
	unmap func() error
}

// Get returns the root of the deserialized graph.
func (w *Wrapped[T]) Get() *T { return w.ptr }

// Bytes returns the backing buffer.
func (w *Wrapped[T]) Bytes() []byte { return w.mem }

// Close releases the backing storage. The graph must not be used after.
func (w *Wrapped[T]) Close() error {
	w.ptr = nil
	w.mem = nil
	if w.unmap != nil {
		u := w.unmap
		w.unmap = nil
		return u()
	}
	return nil
}

// Read loads the whole file into an owned buffer, deserializes it and
// returns the pair.
func Read[T any](path string, mode relic.Mode) (*Wrapped[T], error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read %s: %w", path, err)
	}
	ptr, err := relic.Deserialize[T](b, mode)
	if err != nil {
		return nil, xerrors.Errorf("deserialize %s: %w", path, err)
	}
	relic.Logger.Debug().Str("path", path).Int("bytes", len(b)).Msg("read image")
	return &Wrapped[T]{mem: b, ptr: ptr}, nil
}

// WriteZstd serializes v and writes the buffer zstd-compressed. The on-disk
// format is a plain zstd frame around the relic image.
func WriteZstd[T any](path string, v *T, mode relic.Mode) error {
	buf, err := relic.Serialize(v, mode)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	comp := enc.EncodeAll(buf, nil)
	if err := enc.Close(); err != nil {
		return err
	}
	if err := os.WriteFile(path, comp, 0o644); err != nil {
		return xerrors.Errorf("write %s: %w", path, err)
	}
	relic.Logger.Debug().Str("path", path).
		Int("raw", len(buf)).Int("compressed", len(comp)).Msg("wrote compressed image")
	return nil
}

// ReadZstd decompresses the file into an owned buffer and deserializes it.
func ReadZstd[T any](path string, mode relic.Mode) (*Wrapped[T], error) {
	comp, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read %s: %w", path, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	b, err := dec.DecodeAll(comp, nil)
	if err != nil {
		return nil, xerrors.Errorf("decompress %s: %w", path, err)
	}
	ptr, err := relic.Deserialize[T](b, mode)
	if err != nil {
		return nil, xerrors.Errorf("deserialize %s: %w", path, err)
	}
	return &Wrapped[T]{mem: b, ptr: ptr}, nil
}
