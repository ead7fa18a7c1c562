package vmm

import (
	"pios/kernel/mem"
	"unsafe"
)

var (
	// ptePtrFn returns a pointer to the supplied entry address. It is
	// used by tests to override the generated page table entry pointers so
	// walk() can be properly tested. When compiling the kernel this function
	// will be automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level (0 for the page directory, 1
// for the page table) and the page table entry at that level. If the
// function returns false, the walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address using the
// recursively self-mapped page directory of the currently active address
// space. It invokes walkFn once with the page directory entry (level 0)
// and, if walkFn returned true, once more with the page table entry (level
// 1) that corresponds to virtAddr.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	pdIndex := (virtAddr >> pageLevelShifts[0]) & ((1 << pageLevelBits[0]) - 1)
	ptIndex := (virtAddr >> pageLevelShifts[1]) & ((1 << pageLevelBits[1]) - 1)

	pdeAddr := uintptr(pdtVirtualAddr) + (pdIndex << mem.PointerShift)
	if ok := walkFn(0, (*pageTableEntry)(ptePtrFn(pdeAddr))); !ok {
		return
	}

	pteAddr := uintptr(ptBaseVirtualAddr) + (pdIndex << mem.PageShift) + (ptIndex << mem.PointerShift)
	walkFn(1, (*pageTableEntry)(ptePtrFn(pteAddr)))
}
