package kernel

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/internal/buf"
	"github.com/joshuapare/kestrel/internal/layout"
)

// ErrBadBootInfo means the boot info block in kernel data is corrupt.
var ErrBadBootInfo = errors.New("kernel: bad boot info")

// bootMagic tags the boot info block ("KESTREL1" little endian).
const bootMagic = 0x314C_4552_5453_454B

const (
	bootHeaderSize = 16 // magic, descriptor count
	bootRecordSize = 32 // start, end, pages, type
)

// encodeBootInfo serializes the memory map the way the loader hands it over.
func encodeBootInfo(m boot.MemoryMap) []byte {
	out := make([]byte, bootHeaderSize+len(m.Descriptors)*bootRecordSize)
	buf.PutU64LE(out[0:], bootMagic)
	buf.PutU64LE(out[8:], uint64(len(m.Descriptors)))
	for i, d := range m.Descriptors {
		rec := out[bootHeaderSize+i*bootRecordSize:]
		buf.PutU64LE(rec[0:], uint64(d.PhysStart))
		buf.PutU64LE(rec[8:], uint64(d.PhysEnd))
		buf.PutU64LE(rec[16:], d.NumPages)
		buf.PutU64LE(rec[24:], uint64(d.Type))
	}
	return out
}

// writeBootInfo stores the memory map at the start of kernel data.
func (k *Kernel) writeBootInfo() error {
	data := encodeBootInfo(k.Map)
	if uint64(len(data)) > k.dataSize {
		return fmt.Errorf("%w: %d bytes do not fit kernel data (%d)", ErrBadBootInfo, len(data), k.dataSize)
	}
	return k.Core.Store(layout.KernelDataBase, data)
}

// BootInfo reads the memory map back from kernel data through the MMU.
func (k *Kernel) BootInfo() (boot.MemoryMap, error) {
	var (
		m   boot.MemoryMap
		err error
	)
	k.Core.WithoutInterrupts(func() { m, err = k.readBootInfo() })
	return m, err
}

func (k *Kernel) readBootInfo() (boot.MemoryMap, error) {
	hdr, err := k.Core.Load(layout.KernelDataBase, bootHeaderSize)
	if err != nil {
		return boot.MemoryMap{}, err
	}
	if buf.U64LE(hdr) != bootMagic {
		return boot.MemoryMap{}, fmt.Errorf("%w: magic %#x", ErrBadBootInfo, buf.U64LE(hdr))
	}
	n := buf.U64LE(hdr[8:])
	if n == 0 || bootHeaderSize+n*bootRecordSize > k.dataSize {
		return boot.MemoryMap{}, fmt.Errorf("%w: %d descriptors", ErrBadBootInfo, n)
	}

	raw, err := k.Core.Load(layout.KernelDataBase.Add(bootHeaderSize), int(n*bootRecordSize))
	if err != nil {
		return boot.MemoryMap{}, err
	}
	descs := make([]boot.Descriptor, n)
	for i := range descs {
		rec, ok := buf.Record(raw, i, bootRecordSize)
		if !ok {
			return boot.MemoryMap{}, fmt.Errorf("%w: record %d truncated", ErrBadBootInfo, i)
		}
		descs[i] = boot.Descriptor{
			PhysStart: layout.PhysAddr(buf.U64LE(rec[0:])),
			PhysEnd:   layout.PhysAddr(buf.U64LE(rec[8:])),
			NumPages:  buf.U64LE(rec[16:]),
			Type:      boot.MemoryType(buf.U64LE(rec[24:])),
		}
	}
	return boot.NewMemoryMap(descs...)
}
