package paging

import "errors"

var (
	// ErrNotMapped indicates a virtual address without a present leaf entry.
	ErrNotMapped = errors.New("paging: address not mapped")

	// ErrNotUserMapping indicates a mapping that was expected to carry the User flag.
	ErrNotUserMapping = errors.New("paging: mapping is not user accessible")

	// ErrTableAlloc indicates that a frame for a new table could not be obtained.
	ErrTableAlloc = errors.New("paging: table allocation failed")
)
