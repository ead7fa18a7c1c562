package vmm

import (
	"pios/kernel"
	"pios/kernel/cpu"
	"pios/kernel/mem"
	"pios/kernel/mem/pmm"
)

var (
	// nextAddrFn is used by tests to override the nextTableAddr
	// calculations used by Map. When compiling the kernel this function
	// will be automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	earlyReserveRegionFn = EarlyReserveRegion

	// mapFn and unmapFn are used by tests to override calls to Map/Unmap.
	mapFn   = Map
	unmapFn = Unmap

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// Map establishes a mapping between a virtual page and a physical memory
// frame using the currently active page directory. Calls to Map will use
// the supplied physical frame allocator to initialize the page table for
// the requested page if it does not already exist.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagPageSize) {
			err = errNoHugePageSupport
			return false
		}

		// Next level page table does not yet exist; allocate a frame
		// for it, map it in place and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = frameAllocator()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			pdIndex := (page.Address() >> pageLevelShifts[0]) & ((1 << pageLevelBits[0]) - 1)
			newTableAddr := uintptr(ptBaseVirtualAddr) + (pdIndex << mem.PageShift)
			mem.Memset(nextAddrFn(newTableAddr), 0, mem.PageSize)
		}

		return true
	})

	return err
}

// MapRegion establishes a mapping to the physical memory region which starts
// at the given frame and ends at frame + pages(size). The size argument is
// always rounded up to the nearest page boundary. MapRegion reserves the
// next available region in the active virtual address space, establishes
// the mapping and returns the Page that corresponds to the region start.
func MapRegion(frame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) & ^(mem.PageSize - 1)
	startPage, err := earlyReserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	pageCount := size >> mem.PageShift
	for page := PageFromAddress(startPage); pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := mapFn(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return PageFromAddress(startPage), nil
}

// MapTemporary establishes a temporary RW mapping of a physical memory
// frame to a fixed virtual address, overwriting any previous mapping. The
// temporary mapping mechanism is used by the kernel to access and
// initialize page directories/tables that are not part of the currently
// active address space.
func MapTemporary(frame pmm.Frame) (Page, *kernel.Error) {
	if err := Map(PageFromAddress(tempMappingAddr), frame, FlagPresent|FlagRW); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr), nil
}

// mapTemporaryAt2 establishes a temporary RW mapping at the secondary
// temporary mapping slot, used when a page directory and one of its page
// tables must both be addressable at the same time.
func mapTemporaryAt2(frame pmm.Frame) (Page, *kernel.Error) {
	if err := Map(PageFromAddress(tempMappingAddr2), frame, FlagPresent|FlagRW); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr2), nil
}

// Unmap removes a mapping previously installed via a call to Map or
// MapTemporary.
func Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagPageSize) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// mapUsingPDT establishes a page -> frame mapping inside a page directory
// that is not necessarily the one currently active. It does so by
// temporarily mapping the target directory and, if needed, one of its page
// tables into the kernel's address space.
func mapUsingPDT(pdtFrame pmm.Frame, page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pdPage, err := MapTemporary(pdtFrame)
	if err != nil {
		return err
	}
	defer Unmap(pdPage)

	pdIndex := (page.Address() >> pageLevelShifts[0]) & ((1 << pageLevelBits[0]) - 1)
	ptIndex := (page.Address() >> pageLevelShifts[1]) & ((1 << pageLevelBits[1]) - 1)

	pdeAddr := pdPage.Address() + (pdIndex << mem.PointerShift)
	pde := (*pageTableEntry)(ptePtrFn(pdeAddr))

	if !pde.HasFlags(FlagPresent) {
		ptFrame, err := frameAllocator()
		if err != nil {
			return err
		}

		ptPage, err := mapTemporaryAt2(ptFrame)
		if err != nil {
			return err
		}
		mem.Memset(ptPage.Address(), 0, mem.PageSize)
		Unmap(ptPage)

		*pde = 0
		pde.SetFrame(ptFrame)
		pde.SetFlags(FlagPresent | FlagRW)
	}

	ptPage, err := mapTemporaryAt2(pde.Frame())
	if err != nil {
		return err
	}
	defer Unmap(ptPage)

	pteAddr := ptPage.Address() + (ptIndex << mem.PointerShift)
	pte := (*pageTableEntry)(ptePtrFn(pteAddr))
	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags)

	return nil
}
