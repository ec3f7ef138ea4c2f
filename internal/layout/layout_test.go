package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignment(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp(0))
	assert.Equal(t, uint64(PageSize), AlignUp(1))
	assert.Equal(t, uint64(PageSize), AlignUp(PageSize))
	assert.Equal(t, uint64(2*PageSize), AlignUp(PageSize+1))
	assert.Equal(t, uint64(PageSize), AlignDown(PageSize+123))

	assert.Equal(t, uint64(0), PageCount(0))
	assert.Equal(t, uint64(1), PageCount(10))
	assert.Equal(t, uint64(4), PageCount(4*PageSize))

	assert.True(t, IsAligned(3*PageSize))
	assert.False(t, IsAligned(PageSize+8))
}

func TestWindows(t *testing.T) {
	assert.True(t, RegionBase.IsKernel())
	assert.True(t, DirectMapBase.IsKernel())
	assert.False(t, UserBase.IsKernel())
	assert.True(t, UserBase.IsUser())
	assert.False(t, KernelCodeBase.IsUser())

	// The region window must not overlap the heap or direct map windows.
	assert.Greater(t, uint64(RegionBase), uint64(KernelCodeBase))
	assert.Less(t, uint64(DirectMapBase), uint64(HeapBase))

	assert.Equal(t, uint64(3), PhysAddr(0x3123).Frame())
	assert.Equal(t, VirtAddr(0x2000), VirtAddr(0x1000).Add(PageSize))
}
