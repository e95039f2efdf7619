//go:build !unix

package relicio

import (
	"os"

	"golang.org/x/xerrors"

	"github.com/relicbin/relic"
)

// Write serializes v into an in-memory buffer and writes it out whole.
func Write[T any](path string, v *T, mode relic.Mode) error {
	buf, err := relic.Serialize(v, mode)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return xerrors.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadMmap falls back to a whole-file read where mmap is unavailable.
func ReadMmap[T any](path string, mode relic.Mode) (*Wrapped[T], error) {
	return Read[T](path, mode)
}
