package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/layout"
)

const testKernelBase = layout.KernelCodeBase + 0x100000

func TestImage_Placement(t *testing.T) {
	im := NewImage(testKernelBase, 4*layout.PageSize)

	a, err := im.Add(Program{Name: "a", Code: []Instr{Nop()}})
	require.NoError(t, err)
	assert.Equal(t, testKernelBase, a)

	// 512 instructions plus the end slot need two pages.
	big := make([]Instr, 512)
	b, err := im.Add(Program{Name: "b", Code: big})
	require.NoError(t, err)
	assert.Equal(t, testKernelBase+layout.PageSize, b)

	u, err := im.Add(Program{Name: "u", User: true, Code: []Instr{Exit()}})
	require.NoError(t, err)
	assert.Equal(t, layout.UserBase, u)
	start, end := im.UserRange()
	assert.Equal(t, layout.UserBase, start)
	assert.Equal(t, layout.UserBase+layout.PageSize, end)

	_, err = im.Add(Program{Name: "c", Code: make([]Instr, 1024)})
	require.ErrorIs(t, err, ErrImageFull)
	_, err = im.Add(Program{Name: "a"})
	require.ErrorIs(t, err, ErrDuplicateProgram)
	_, err = im.Lookup("zzz")
	require.ErrorIs(t, err, ErrUnknownProgram)

	progs := im.Programs()
	require.Len(t, progs, 3)
	assert.Equal(t, "u", progs[0].Name, "address order")
}

func TestImage_Fetch(t *testing.T) {
	im := NewImage(testKernelBase, 4*layout.PageSize)
	entry, err := im.Add(Program{Name: "p", Code: []Instr{Set(cpu.RAX, 1), Exit()}})
	require.NoError(t, err)

	in, p, ok := im.Fetch(entry + InstrSize)
	require.True(t, ok)
	assert.Equal(t, OpExit, in.Op)
	assert.Equal(t, "p", p.Name)

	_, p, ok = im.Fetch(entry + 2*InstrSize)
	assert.False(t, ok, "past the end")
	assert.NotNil(t, p)

	_, _, ok = im.Fetch(entry + 3)
	assert.False(t, ok, "misaligned")

	_, p, ok = im.Fetch(testKernelBase + 3*layout.PageSize)
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestRepeat(t *testing.T) {
	code := append([]Instr{Nop()}, Repeat(cpu.RCX, 3, 1, Print("x"))...)
	require.Len(t, code, 4)
	assert.Equal(t, Set(cpu.RCX, 3), code[1])
	assert.Equal(t, Loop(cpu.RCX, 2), code[3])
	assert.Equal(t, "loop rcx, @2", code[3].String())
	assert.Equal(t, `print "x"`, code[2].String())
}
