package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	name string
	n    int
}

func TestPool_AllocGetFree(t *testing.T) {
	p := NewPool[record](0)

	h, err := p.Alloc(record{name: "a", n: 1})
	require.NoError(t, err)
	assert.False(t, h.IsZero())

	r, ok := p.Get(h)
	require.True(t, ok)
	r.n = 7

	again, ok := p.Get(h)
	require.True(t, ok)
	assert.Equal(t, 7, again.n, "Get should return a stable pointer")
	assert.Equal(t, 1, p.Len())

	require.NoError(t, p.Free(h))
	_, ok = p.Get(h)
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
}

func TestPool_StaleHandleAfterReuse(t *testing.T) {
	p := NewPool[record](0)

	old, err := p.Alloc(record{name: "old"})
	require.NoError(t, err)
	require.NoError(t, p.Free(old))

	fresh, err := p.Alloc(record{name: "fresh"})
	require.NoError(t, err)

	_, ok := p.Get(old)
	assert.False(t, ok, "old handle must not resolve to the reused slot")

	r, ok := p.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, "fresh", r.name)

	require.ErrorIs(t, p.Free(old), ErrStaleHandle)
}

func TestPool_PointersSurviveGrowth(t *testing.T) {
	p := NewPool[record](0)
	first, err := p.Alloc(record{name: "first"})
	require.NoError(t, err)
	ptr, _ := p.Get(first)

	for i := range 100 {
		_, err := p.Alloc(record{n: i})
		require.NoError(t, err)
	}

	ptr.n = 99
	again, _ := p.Get(first)
	assert.Equal(t, 99, again.n)
}

func TestPool_Limit(t *testing.T) {
	p := NewPool[record](2)
	_, err := p.Alloc(record{})
	require.NoError(t, err)
	h, err := p.Alloc(record{})
	require.NoError(t, err)

	_, err = p.Alloc(record{})
	require.ErrorIs(t, err, ErrHeapExhausted)

	require.NoError(t, p.Free(h))
	_, err = p.Alloc(record{})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Limit())
}

func TestHandle_Zero(t *testing.T) {
	p := NewPool[record](0)
	var h Handle
	assert.True(t, h.IsZero())
	_, ok := p.Get(h)
	assert.False(t, ok)
}
