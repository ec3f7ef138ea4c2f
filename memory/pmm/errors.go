package pmm

import "errors"

var (
	// ErrInvalidBitMapIndex indicates an address past the tracked range.
	ErrInvalidBitMapIndex = errors.New("pmm: address outside the frame bitmap")

	// ErrInvalidMemoryMap indicates a memory map the allocator cannot use.
	ErrInvalidMemoryMap = errors.New("pmm: invalid memory map")

	// ErrNoMoreFreePages indicates every available frame is taken.
	ErrNoMoreFreePages = errors.New("pmm: no more free pages")
)
