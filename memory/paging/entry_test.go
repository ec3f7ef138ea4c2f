package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joshuapare/kestrel/internal/layout"
)

func TestEntry(t *testing.T) {
	e := NewEntry(0x0012_3456_7000, Present|Writable|NoExecute)
	assert.Equal(t, layout.PhysAddr(0x0012_3456_7000), e.Addr())
	assert.Equal(t, Present|Writable|NoExecute, e.Flags())
	assert.True(t, e.Present())
	assert.Equal(t, "0x1234567000[P|W|NX]", e.String())

	// Address bits never leak into flags and vice versa.
	e = NewEntry(0xFFFF_FFFF_FFFF_FFFF, 0)
	assert.Equal(t, layout.PhysAddr(AddrMask), e.Addr())
	assert.Zero(t, e.Flags())
	assert.Equal(t, "-", Flags(0).String())
}

func TestIndexer(t *testing.T) {
	tests := []struct {
		virt layout.VirtAddr
		want Indexer
	}{
		{0, Indexer{}},
		{layout.UserBase, Indexer{L2: 2}},
		{layout.DirectMapBase, Indexer{L4: 256}},
		{layout.KernelCodeBase, Indexer{L4: 511, L3: 510}},
		{layout.RegionBase + 0x1234, Indexer{L4: 511, L3: 511, L1: 1, Offset: 0x234}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewIndexer(tt.virt), "virt %#x", uint64(tt.virt))
	}

	i := NewIndexer(layout.KernelStackBase)
	assert.Equal(t, layout.KernelStackBase, Canonical(i.L4, i.L3, i.L2, i.L1))
	i = NewIndexer(layout.UserBase)
	assert.Equal(t, layout.UserBase, Canonical(i.L4, i.L3, i.L2, i.L1))
}
