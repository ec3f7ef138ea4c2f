package boot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kestrel/internal/layout"
)

func TestDefaultMap(t *testing.T) {
	m, err := DefaultMap(16 << 20)
	require.NoError(t, err)

	assert.Equal(t, layout.PhysAddr(0), m.FirstAddr)
	assert.Equal(t, layout.PhysAddr(16<<20), m.LastAddr)
	require.Len(t, m.Available(), 2)

	// Largest available region is the one after the kernel.
	assert.Equal(t, layout.PhysAddr(0x160000), m.Available()[0].PhysStart)

	typ, ok := m.TypeOf(0xB8000)
	require.True(t, ok)
	assert.Equal(t, Reserved, typ)

	low, ok := m.Lowest(KernelStack)
	require.True(t, ok)
	assert.Equal(t, layout.PhysAddr(0x140000), low)

	_, ok = m.Lowest(MemoryType(42))
	assert.False(t, ok)
}

func TestDefaultMap_TooSmall(t *testing.T) {
	_, err := DefaultMap(1 << 20)
	require.ErrorIs(t, err, ErrBadDescriptor)
}

func TestNewMemoryMap_SortsAndCounts(t *testing.T) {
	m, err := NewMemoryMap(
		Descriptor{PhysStart: 0x4000, PhysEnd: 0x8000, Type: Reserved},
		Descriptor{PhysStart: 0x0000, PhysEnd: 0x4000, Type: Available},
	)
	require.NoError(t, err)
	assert.Equal(t, Available, m.Descriptors[0].Type)
	assert.Equal(t, uint64(4), m.Descriptors[0].NumPages)
	assert.Equal(t, uint64(0x4000), m.TotalAvailable())
}

func TestValidate(t *testing.T) {
	_, err := NewMemoryMap()
	require.ErrorIs(t, err, ErrEmptyMap)

	_, err = NewMemoryMap(Descriptor{PhysStart: 0x10, PhysEnd: 0x2000, Type: Available})
	require.ErrorIs(t, err, ErrBadDescriptor)

	_, err = NewMemoryMap(
		Descriptor{PhysStart: 0x0000, PhysEnd: 0x4000, Type: Available},
		Descriptor{PhysStart: 0x2000, PhysEnd: 0x6000, Type: Reserved},
	)
	require.ErrorIs(t, err, ErrOverlap)

	bad := MemoryMap{
		Descriptors: []Descriptor{{PhysStart: 0, PhysEnd: 0x2000, NumPages: 1, Type: Available}},
		LastAddr:    0x2000,
	}
	require.ErrorIs(t, bad.Validate(), ErrBadDescriptor)
}

func TestMemoryType_JSON(t *testing.T) {
	d := Descriptor{PhysStart: 0x1000, PhysEnd: 0x3000, NumPages: 2, Type: AcpiData}
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"acpi-data"`)

	var back Descriptor
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)

	var typ MemoryType
	require.ErrorIs(t, typ.UnmarshalText([]byte("swap")), ErrUnknownType)
}
