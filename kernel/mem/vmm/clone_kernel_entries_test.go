package vmm

import (
	"pios/kernel/mem"
	"pios/kernel/mem/pmm"
	"testing"
	"unsafe"
)

// TestCloneKernelEntries backs every page-table-entry address the code
// under test touches with a real Go variable (keyed by address) instead of
// dereferencing made-up physical memory, the same technique TestWalk and
// TestTranslate use. The PDE for the temporary mapping slot is preseeded as
// present so MapTemporary's own internal walk does not need to allocate a
// backing page table frame.
func TestCloneKernelEntries(t *testing.T) {
	defer func(origPtePtr func(uintptr) unsafe.Pointer) {
		ptePtrFn = origPtePtr
	}(ptePtrFn)

	backing := make(map[uintptr]*pageTableEntry)
	entryAt := func(addr uintptr) *pageTableEntry {
		if e, ok := backing[addr]; ok {
			return e
		}
		e := &pageTableEntry{}
		backing[addr] = e
		return e
	}

	tempPdIndex := (uintptr(tempMappingAddr) >> pageLevelShifts[0]) & ((1 << pageLevelBits[0]) - 1)
	tempPdeAddr := uintptr(pdtVirtualAddr) + (tempPdIndex << mem.PointerShift)
	tempPTFrame := pmm.Frame(7)
	seed := entryAt(tempPdeAddr)
	seed.SetFrame(tempPTFrame)
	seed.SetFlags(FlagPresent | FlagRW)

	ptePtrFn = func(addr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAt(addr))
	}

	// Populate the "active directory"'s kernel range (indices 768..1022)
	// with distinguishable frame numbers so the copy can be checked
	// entry-by-entry.
	for i := kernelPDEStart; i < kernelPDEEnd; i++ {
		srcAddr := uintptr(pdtVirtualAddr) + uintptr(i)<<mem.PointerShift
		e := entryAt(srcAddr)
		e.SetFrame(pmm.Frame(1000 + i))
		e.SetFlags(FlagPresent | FlagRW)
	}

	var pdt PageDirectoryTable
	pdt.frame = pmm.Frame(99)

	if err := pdt.CloneKernelEntries(); err != nil {
		t.Fatalf("CloneKernelEntries: %v", err)
	}

	for i := kernelPDEStart; i < kernelPDEEnd; i++ {
		srcAddr := uintptr(pdtVirtualAddr) + uintptr(i)<<mem.PointerShift
		dstAddr := uintptr(tempMappingAddr) + uintptr(i)<<mem.PointerShift

		src := entryAt(srcAddr)
		dst := entryAt(dstAddr)
		if *dst != *src {
			t.Fatalf("entry %d: dst = %v, want %v (src)", i, *dst, *src)
		}
	}
}
