// Package console drives the 80x25 text-mode buffer at physical 0xB8000.
//
// The buffer is mapped into the region window as a Device object and every
// cell is written through the MMU: one code page 437 byte followed by one
// attribute byte. Runes without a CP437 form are shown as '?'.
package console

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/kestrel/internal/buf"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/memory/region"
)

const (
	Width  = 80
	Height = 25

	// BufferPhys is the physical address of the text buffer.
	BufferPhys layout.PhysAddr = 0xB8000

	// DefaultAttr is light grey on black.
	DefaultAttr byte = 0x07

	cellSize = 2
	tabWidth = 8
)

// Regions maps the device buffer.
type Regions interface {
	Alloc(length uint64, flags region.Flags, backing region.Backing) (layout.VirtAddr, error)
	Free(addr layout.VirtAddr) error
}

// Memory is virtual memory access through the MMU.
type Memory interface {
	Store(virt layout.VirtAddr, data []byte) error
	Load(virt layout.VirtAddr, n int) ([]byte, error)
}

// Console is a scrolling text console. It implements io.Writer.
type Console struct {
	regions Regions
	mem     Memory
	base    layout.VirtAddr

	row, col int
	attr     byte
	scrolls  uint64

	transcript strings.Builder
}

// New maps the text buffer and clears it.
func New(regions Regions, mem Memory) (*Console, error) {
	base, err := regions.Alloc(Width*Height*cellSize, region.Write|region.Device, region.FixedAddress(BufferPhys))
	if err != nil {
		return nil, fmt.Errorf("console: map text buffer: %w", err)
	}
	c := &Console{regions: regions, mem: mem, base: base, attr: DefaultAttr}
	if err := c.Clear(); err != nil {
		_ = regions.Free(base)
		return nil, err
	}
	return c, nil
}

// Base returns the virtual address of the buffer.
func (c *Console) Base() layout.VirtAddr { return c.base }

// SetAttr changes the attribute used for new characters.
func (c *Console) SetAttr(attr byte) { c.attr = attr }

// Cursor returns the position the next character goes to.
func (c *Console) Cursor() (row, col int) { return c.row, c.col }

// Scrolls returns how many times the screen scrolled.
func (c *Console) Scrolls() uint64 { return c.scrolls }

// Transcript returns everything written since boot, as it was displayed.
func (c *Console) Transcript() string { return c.transcript.String() }

// Clear blanks the screen and homes the cursor.
func (c *Console) Clear() error {
	if err := c.mem.Store(c.base, blankRows(Height, c.attr)); err != nil {
		return fmt.Errorf("console: clear: %w", err)
	}
	c.row, c.col = 0, 0
	return nil
}

// Write displays p, which is UTF-8 text.
func (c *Console) Write(p []byte) (int, error) {
	for _, r := range string(p) {
		if err := c.put(r); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (c *Console) put(r rune) error {
	switch r {
	case '\n':
		c.transcript.WriteByte('\n')
		return c.newline()
	case '\r':
		c.col = 0
		return nil
	case '\t':
		for {
			if err := c.put(' '); err != nil {
				return err
			}
			if c.col%tabWidth == 0 {
				return nil
			}
		}
	}

	b, ok := charmap.CodePage437.EncodeRune(r)
	if !ok || b < 0x20 {
		b, r = '?', '?'
	}
	var cell [cellSize]byte
	buf.PutU16LE(cell[:], uint16(c.attr)<<8|uint16(b))
	if err := c.mem.Store(c.cellAddr(c.row, c.col), cell[:]); err != nil {
		return fmt.Errorf("console: write cell %d,%d: %w", c.row, c.col, err)
	}
	c.transcript.WriteRune(r)

	c.col++
	if c.col == Width {
		return c.newline()
	}
	return nil
}

func (c *Console) newline() error {
	c.col = 0
	if c.row < Height-1 {
		c.row++
		return nil
	}
	return c.scroll()
}

// scroll moves every row up by one and blanks the last.
func (c *Console) scroll() error {
	rowBytes := Width * cellSize
	rest, err := c.mem.Load(c.cellAddr(1, 0), (Height-1)*rowBytes)
	if err != nil {
		return fmt.Errorf("console: scroll: %w", err)
	}
	if err := c.mem.Store(c.base, append(rest, blankRows(1, c.attr)...)); err != nil {
		return fmt.Errorf("console: scroll: %w", err)
	}
	c.scrolls++
	return nil
}

// Screen reads the buffer back and returns its rows without trailing blanks.
func (c *Console) Screen() ([]string, error) {
	raw, err := c.mem.Load(c.base, Width*Height*cellSize)
	if err != nil {
		return nil, fmt.Errorf("console: read screen: %w", err)
	}
	rows := make([]string, Height)
	var sb strings.Builder
	for r := range Height {
		sb.Reset()
		for col := range Width {
			cell := buf.U16LE(raw[(r*Width+col)*cellSize:])
			sb.WriteRune(charmap.CodePage437.DecodeByte(byte(cell)))
		}
		rows[r] = strings.TrimRight(sb.String(), " ")
	}
	return rows, nil
}

// Close unmaps the buffer.
func (c *Console) Close() error {
	return c.regions.Free(c.base)
}

func (c *Console) cellAddr(row, col int) layout.VirtAddr {
	return c.base.Add(uint64((row*Width + col) * cellSize))
}

func blankRows(n int, attr byte) []byte {
	out := make([]byte, n*Width*cellSize)
	for i := 0; i < len(out); i += cellSize {
		buf.PutU16LE(out[i:], uint16(attr)<<8|' ')
	}
	return out
}
