// Package region implements the virtual region allocator.
//
// The allocator owns a fixed window of kernel virtual address space and
// hands it out as page-aligned objects. Objects are kept in a list sorted by
// base and placed first-fit: before the first object, in the first gap
// between neighbours that is large enough, or after the last object.
//
// Every page of an object is backed when the object is created, either by a
// fresh frame from the frame allocator or, for device registers, by a
// caller-chosen physical address. Non-device pages are zero-filled.
//
// Example:
//
//	stack, err := a.Alloc(4*layout.PageSize, region.Write, region.AnyPages)
//	...
//	err = a.Free(stack)
package region
