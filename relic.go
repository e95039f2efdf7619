// Package relic is a zero-copy binary (de)serialization engine for in-memory
// object graphs. A serialized buffer is a contiguous, relocatable image of
// the live representation: every pointer is stored as a self-relative offset
// and converted back to a live pointer by a single in-place fixup pass, so
// deserialization copies no object data and the buffer itself becomes the
// backing storage of the graph.
//
// Supported graph shapes: cycles, shared references (Ptr), unique ownership
// (Unique or native pointers), strings, slices and plain aggregates of these.
// Producer and consumer must share the type layout: the format is not
// portable across architectures and the input is assumed to come from a
// trusted machine. Bounds checking during deserialization guards against
// corruption, not against adversarial buffers.
package relic

import (
	"errors"
	"os"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
)

// Offsets and pointer slots are one machine word wide.
var _ [unsafe.Sizeof(uintptr(0)) - 8]byte

var (
	ErrUnsupported       = errors.New("unsupported type")
	ErrVersionMismatch   = errors.New("type hash mismatch")
	ErrIntegrityMismatch = errors.New("content hash mismatch")
	ErrOutOfBounds       = errors.New("pointer out of bounds")
	ErrMisaligned        = errors.New("misaligned pointer")
	ErrDoubleOwned       = errors.New("target owned by more than one unique handle")
	ErrDangling          = errors.New("shared pointer target was never emitted")
	ErrSelfPointer       = errors.New("pointer slot may not target itself")
	ErrTruncated         = errors.New("buffer too short")
)

// Mode is the bit set controlling envelope layout and validation. Producer
// and consumer must use identical flags.
type Mode uint32

const (
	// WithVersion prepends a 64-bit structural type hash of the root type
	// and checks it on deserialization.
	WithVersion Mode = 1 << iota
	// WithIntegrity appends a 64-bit xxh3 content hash over the payload
	// and checks it on deserialization.
	WithIntegrity
	// Unchecked skips all bounds and alignment validation on deserialize.
	Unchecked
	// Cast leaves the buffer untouched: no offset is rewritten and reads
	// resolve self-relative slots on every access (Rel, RelPtr, RelString,
	// RelSlice).
	Cast
	// DeepCheck additionally verifies the alignment of every resolved
	// pointer, not only the buffer base.
	DeepCheck
)

// DefaultMode matches the original engine's default envelope.
const DefaultMode = WithVersion | WithIntegrity

func (m Mode) has(f Mode) bool { return m&f != 0 }

var logout = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

// Logger is a globally available logger instance. It stays disabled unless
// RELIC_DEBUG is set in the environment.
var Logger = zerolog.New(logout).With().Timestamp().Logger().Level(logLevel())

func logLevel() zerolog.Level {
	if os.Getenv("RELIC_DEBUG") != "" {
		return zerolog.DebugLevel
	}
	return zerolog.Disabled
}
