package machine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/joshuapare/kestrel/internal/layout"
)

var (
	// ErrImageFull means a code window has no room for another program.
	ErrImageFull = errors.New("machine: image window full")
	// ErrDuplicateProgram means a program name is already loaded.
	ErrDuplicateProgram = errors.New("machine: duplicate program")
	// ErrUnknownProgram means no program has the requested name.
	ErrUnknownProgram = errors.New("machine: unknown program")
)

// Program is a named instruction sequence. User programs run at user
// privilege in the low window; the rest run in the kernel code window.
type Program struct {
	Name string
	User bool
	Code []Instr

	Entry layout.VirtAddr // assigned by Image.Add
}

// Pages returns the number of pages the program occupies. One slot past the
// last instruction stays inside the program so running off the end is seen.
func (p *Program) Pages() uint64 {
	return layout.PageCount(uint64(len(p.Code)+1) * InstrSize)
}

// End returns the first address after the program.
func (p *Program) End() layout.VirtAddr {
	return p.Entry.Add(p.Pages() * layout.PageSize)
}

// Image is the set of loaded programs, each page aligned in its window.
type Image struct {
	kernelNext, kernelEnd layout.VirtAddr
	userNext              layout.VirtAddr

	programs []*Program // sorted by entry
	byName   map[string]*Program
}

// NewImage returns an image whose kernel programs are placed in
// [kernelBase, kernelBase+kernelSize) and user programs from layout.UserBase.
func NewImage(kernelBase layout.VirtAddr, kernelSize uint64) *Image {
	return &Image{
		kernelNext: kernelBase,
		kernelEnd:  kernelBase.Add(kernelSize),
		userNext:   layout.UserBase,
		byName:     make(map[string]*Program),
	}
}

// Add places p and returns its entry address.
func (im *Image) Add(p Program) (layout.VirtAddr, error) {
	if _, ok := im.byName[p.Name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateProgram, p.Name)
	}
	prog := &p
	size := prog.Pages() * layout.PageSize
	if p.User {
		if im.userNext.Add(size) > layout.UserEnd {
			return 0, fmt.Errorf("%w: user window, %q", ErrImageFull, p.Name)
		}
		prog.Entry = im.userNext
		im.userNext = im.userNext.Add(size)
	} else {
		if im.kernelNext.Add(size) > im.kernelEnd {
			return 0, fmt.Errorf("%w: kernel window, %q", ErrImageFull, p.Name)
		}
		prog.Entry = im.kernelNext
		im.kernelNext = im.kernelNext.Add(size)
	}

	im.byName[p.Name] = prog
	im.programs = append(im.programs, prog)
	sort.Slice(im.programs, func(i, j int) bool { return im.programs[i].Entry < im.programs[j].Entry })
	return prog.Entry, nil
}

// Lookup returns the program called name.
func (im *Image) Lookup(name string) (*Program, error) {
	p, ok := im.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
	}
	return p, nil
}

// At returns the program containing addr.
func (im *Image) At(addr layout.VirtAddr) (*Program, bool) {
	i := sort.Search(len(im.programs), func(i int) bool { return im.programs[i].End() > addr })
	if i < len(im.programs) && im.programs[i].Entry <= addr {
		return im.programs[i], true
	}
	return nil, false
}

// Fetch decodes the instruction at rip. ok is false past the program's last
// instruction or outside every program.
func (im *Image) Fetch(rip layout.VirtAddr) (Instr, *Program, bool) {
	p, found := im.At(rip)
	if !found {
		return Instr{}, nil, false
	}
	off := uint64(rip - p.Entry)
	if off%InstrSize != 0 || off/InstrSize >= uint64(len(p.Code)) {
		return Instr{}, p, false
	}
	return p.Code[off/InstrSize], p, true
}

// Programs returns the loaded programs in address order.
func (im *Image) Programs() []*Program {
	return append([]*Program(nil), im.programs...)
}

// UserRange returns the span of the user window that holds programs.
func (im *Image) UserRange() (start, end layout.VirtAddr) {
	return layout.UserBase, im.userNext
}
