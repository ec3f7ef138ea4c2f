// Package buf contains little-endian helpers for page-table entries and other
// word-sized structures stored in simulated physical memory.
package buf

import "encoding/binary"

// U64LE reads a little-endian uint64 from b. Returns 0 when b is too short.
func U64LE(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// PutU64LE writes v as a little-endian uint64 into b. It reports false when b
// is too short to hold the value.
func PutU64LE(b []byte, v uint64) bool {
	if len(b) < 8 {
		return false
	}
	binary.LittleEndian.PutUint64(b, v)
	return true
}

// U16LE reads a little-endian uint16 from b. Returns 0 when b is too short.
func U16LE(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// PutU16LE writes v as a little-endian uint16 into b.
func PutU16LE(b []byte, v uint16) bool {
	if len(b) < 2 {
		return false
	}
	binary.LittleEndian.PutUint16(b, v)
	return true
}
