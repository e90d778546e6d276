package wire

import "errors"

var (
	ErrMalformed     = errors.New("wire: malformed flush")
	ErrSizeMismatch  = errors.New("wire: chunks do not sum to the declared total size")
	ErrShortChunk    = errors.New("wire: chunk shorter than its header")
	ErrChunkSize     = errors.New("wire: chunk size must be positive")
	ErrFlushTooLarge = errors.New("wire: flush exceeds the maximum encodable size")
)
