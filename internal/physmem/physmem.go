// Package physmem provides the simulated physical RAM the kernel runs on.
//
// RAM is a single anonymous mapping (or a heap slice where mmap is missing).
// Physical address 0 is the first byte of the mapping.
package physmem

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kestrel/internal/buf"
	"github.com/joshuapare/kestrel/internal/layout"
)

var (
	// ErrOutOfRange indicates an access past the end of physical memory.
	ErrOutOfRange = errors.New("physmem: address out of range")

	// ErrBadSize indicates a requested RAM size that is zero or not page aligned.
	ErrBadSize = errors.New("physmem: size must be a non-zero multiple of the page size")
)

// Memory is simulated physical RAM.
type Memory struct {
	data    []byte
	release func() error
}

// New allocates size bytes of zeroed physical memory.
func New(size uint64) (*Memory, error) {
	if size == 0 || !layout.IsAligned(size) {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if size > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	data, release, err := mapAnon(int(size))
	if err != nil {
		return nil, fmt.Errorf("physmem: map %d bytes: %w", size, err)
	}
	return &Memory{data: data, release: release}, nil
}

// Close releases the backing mapping. Memory must not be used afterwards.
func (m *Memory) Close() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.data = nil
	return err
}

// Size returns the amount of physical memory in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.data)) }

// Bytes returns n bytes starting at addr.
func (m *Memory) Bytes(addr layout.PhysAddr, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %#x+%d", ErrOutOfRange, uint64(addr), n)
	}
	b, ok := buf.Span(m.data, uint64(addr), uint64(n))
	if !ok {
		return nil, fmt.Errorf("%w: %#x+%d", ErrOutOfRange, uint64(addr), n)
	}
	return b, nil
}

// Page returns the frame that contains addr.
func (m *Memory) Page(addr layout.PhysAddr) ([]byte, error) {
	return m.Bytes(layout.PhysAddr(layout.AlignDown(uint64(addr))), layout.PageSize)
}

// ZeroPage clears the frame that contains addr.
func (m *Memory) ZeroPage(addr layout.PhysAddr) error {
	page, err := m.Page(addr)
	if err != nil {
		return err
	}
	clear(page)
	return nil
}

// ReadU64 reads a little-endian word at addr.
func (m *Memory) ReadU64(addr layout.PhysAddr) (uint64, error) {
	b, err := m.Bytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return buf.U64LE(b), nil
}

// WriteU64 writes a little-endian word at addr.
func (m *Memory) WriteU64(addr layout.PhysAddr, v uint64) error {
	b, err := m.Bytes(addr, 8)
	if err != nil {
		return err
	}
	buf.PutU64LE(b, v)
	return nil
}
