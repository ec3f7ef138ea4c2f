// Package pmm implements the physical frame allocator.
//
// Every 4 KiB frame up to the memory map's last address is tracked by one
// bit in a bitmap that itself lives in simulated RAM, at the start of the
// largest available region. A set bit means the frame is taken. Taken frames
// are either Used (handed out by RequestPage or AllocateFrame) or Reserved
// (firmware, kernel image, holes, the bitmap itself).
//
// The allocator keeps three byte counters whose sum never changes:
//
//	Free + Used + Reserved == Frames() * layout.PageSize
//
// All operations are idempotent: allocating a taken frame or freeing a free
// frame leaves the state and the counters unchanged.
package pmm
