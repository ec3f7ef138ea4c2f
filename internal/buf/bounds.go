package buf

import "math/bits"

// Span returns b[off:off+n] for a physical offset and length. ok is false
// when the range wraps the address space or runs past len(b).
func Span(b []byte, off, n uint64) ([]byte, bool) {
	end, carry := bits.Add64(off, n, 0)
	if carry != 0 || end > uint64(len(b)) {
		return nil, false
	}
	return b[off:end], true
}

// Record returns the i-th fixed-size record of b.
func Record(b []byte, i, size int) ([]byte, bool) {
	if i < 0 || size <= 0 {
		return nil, false
	}
	return Span(b, uint64(i)*uint64(size), uint64(size))
}
