package region

import "errors"

var (
	// ErrOutOfMemory indicates the page budget or the window would be exceeded.
	ErrOutOfMemory = errors.New("region: out of memory")

	// ErrNotAllocated indicates a free of an address that is not an object base.
	ErrNotAllocated = errors.New("region: address is not allocated")

	// ErrInvalidLength indicates a zero-length request.
	ErrInvalidLength = errors.New("region: invalid length")
)
