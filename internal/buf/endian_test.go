package buf

import "testing"

func TestEndianHelpers(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}

	if got := U16LE(data); got != 0x2301 {
		t.Fatalf("U16LE = 0x%x, want 0x2301", got)
	}
	if got := U64LE(data); got != 0xefcdab8967452301 {
		t.Fatalf("U64LE = 0x%x, want 0xefcdab8967452301", got)
	}

	short := []byte{0xAA}
	if U16LE(short) != 0 || U64LE(short) != 0 {
		t.Fatalf("short reads should return 0")
	}
}

func TestPutHelpers(t *testing.T) {
	data := make([]byte, 8)
	if !PutU64LE(data, 0x8000_0000_0000_1003) {
		t.Fatalf("PutU64LE should fit in 8 bytes")
	}
	if data[0] != 0x03 || data[1] != 0x10 || data[7] != 0x80 {
		t.Fatalf("PutU64LE wrote %x", data)
	}
	if got := U64LE(data); got != 0x8000_0000_0000_1003 {
		t.Fatalf("round trip = 0x%x", got)
	}

	if !PutU16LE(data, 0x0741) || data[0] != 0x41 || data[1] != 0x07 {
		t.Fatalf("PutU16LE wrote %x", data[:2])
	}

	if PutU64LE(data[:7], 1) || PutU16LE(data[:1], 1) {
		t.Fatalf("short writes should report false")
	}
}
