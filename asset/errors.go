package asset

import (
	"errors"
	"fmt"

	"github.com/achilleasa/scenerelay/types"
)

var (
	ErrCorrupted       = errors.New("asset: corrupted resource")
	ErrUnknownResource = errors.New("asset: unknown resource")
)

// CorruptionError reports a resource whose payload does not match its
// declared size.
type CorruptionError struct {
	Hash     types.ResourceHash
	Declared uint32
	Actual   uint32
	Err      error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("asset: corrupted resource %s: decompression failed: %v", e.Hash.Short(), e.Err)
	}
	return fmt.Sprintf("asset: corrupted resource %s: declared %d bytes; got %d", e.Hash.Short(), e.Declared, e.Actual)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}
