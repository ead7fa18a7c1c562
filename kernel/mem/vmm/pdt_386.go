package vmm

import (
	"pios/kernel"
	"pios/kernel/cpu"
	"pios/kernel/mem"
	"pios/kernel/mem/pmm"
)

// Page represents a page number; the virtual address it corresponds to is
// given by shifting it left by mem.PageShift bits.
type Page uintptr

// Address returns the virtual address that corresponds to this page.
func (p Page) Address() uintptr {
	return uintptr(p) << mem.PageShift
}

// PageFromAddress returns the Page that contains the given virtual address.
func PageFromAddress(addr uintptr) Page {
	return Page(addr >> mem.PageShift)
}

const (
	// pageLevels is the number of page-table levels the i386 MMU walks to
	// resolve a virtual address: a page directory followed by a page
	// table.
	pageLevels = 2

	// pdSelfIndex is the page-directory index that is set up to point
	// back to the page directory itself. Dereferencing a virtual address
	// built from this index therefore lets the kernel read and modify
	// its own page directory (and, by extension, any page table it
	// references) using ordinary loads and stores instead of having to
	// switch CR3 or use physical addressing.
	pdSelfIndex = 1023

	// pdtVirtualAddr is the virtual address at which the active page
	// directory can be accessed as if it were an ordinary page table.
	// It is obtained by using pdSelfIndex for both the directory and
	// table portions of the address: (1023<<22)|(1023<<12).
	pdtVirtualAddr = 0xFFFFF000

	// ptBaseVirtualAddr is the base virtual address of the 4MiB window
	// through which every page table in the active address space can be
	// reached: the page table that backs directory entry pdx is mapped
	// at ptBaseVirtualAddr | (pdx << mem.PageShift).
	ptBaseVirtualAddr = 0xFFC00000

	// tempMappingAddr is a single reserved page, immediately below the
	// recursively-mapped region, used by MapTemporary to gain access to
	// a physical frame that is not otherwise mapped in the active
	// address space.
	tempMappingAddr = 0xFFBFF000

	// tempMappingAddr2 is a second reserved page used internally when two
	// physical frames (e.g. a page directory and one of its page tables)
	// need to be addressable at the same time, such as while populating a
	// page directory that is not yet active.
	tempMappingAddr2 = 0xFFBFE000
)

var (
	// pageLevelShifts contains, for each page-table level, the number of
	// bits a virtual address must be shifted right by to obtain the
	// index into that level's table.
	pageLevelShifts = [pageLevels]uintptr{22, 12}

	// pageLevelBits contains, for each page-table level, the number of
	// bits used to encode the index into that level's table.
	pageLevelBits = [pageLevels]uint8{10, 10}
)

// PageDirectoryTable describes the top-level page table (the i386 page
// directory) for an address space.
type PageDirectoryTable struct {
	frame pmm.Frame
}

// Init sets up pdt to use the given physical frame as its backing storage,
// clearing it and installing the self-referencing entry at pdSelfIndex so
// that the directory (and, transitively, every page table it references)
// becomes reachable through the recursive mapping.
func (pdt *PageDirectoryTable) Init(frame pmm.Frame) *kernel.Error {
	pdt.frame = frame

	tmpPage, err := MapTemporary(frame)
	if err != nil {
		return err
	}
	defer Unmap(tmpPage)

	mem.Memset(tmpPage.Address(), 0, mem.PageSize)

	selfEntryAddr := tmpPage.Address() + (uintptr(pdSelfIndex) << mem.PointerShift)
	selfEntry := (*pageTableEntry)(ptePtrFn(selfEntryAddr))
	*selfEntry = 0
	selfEntry.SetFrame(frame)
	selfEntry.SetFlags(FlagPresent | FlagRW)

	return nil
}

// Map installs a mapping for page -> frame in this (possibly inactive) page
// directory by temporarily mapping the directory and its page tables into
// the kernel's address space.
func (pdt *PageDirectoryTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return mapUsingPDT(pdt.frame, page, frame, flags)
}

// Frame returns the physical frame backing this page directory itself, as
// opposed to any frame it maps. Callers tearing down an address space use
// this to return the directory's own frame to the allocator.
func (pdt *PageDirectoryTable) Frame() pmm.Frame {
	return pdt.frame
}

// Activate loads this page directory into CR3, making it the active address
// space for the current CPU.
func (pdt *PageDirectoryTable) Activate() {
	cpu.SwitchPDT(pdt.frame.Address())
}

// kernelPDEStart/kernelPDEEnd bound the page-directory index range that
// maps the shared kernel region (0xC0000000 and above): every process page
// directory copies these entries verbatim out of the reference kernel
// directory so the upper 1 GiB resolves identically in every address
// space. pdSelfIndex is excluded; each directory installs its own
// self-mapping instead of sharing the kernel's.
const (
	kernelPDEStart = 768
	kernelPDEEnd   = pdSelfIndex
)

// CloneKernelEntries copies the shared kernel PDEs (768 through 1022) out
// of the currently active page directory into pdt, which must already be
// initialized via Init. It is used once per process creation so every
// process sees an identical kernel address space above 0xC0000000 without
// duplicating any page tables.
func (pdt *PageDirectoryTable) CloneKernelEntries() *kernel.Error {
	dstPage, err := MapTemporary(pdt.frame)
	if err != nil {
		return err
	}
	defer Unmap(dstPage)

	for i := kernelPDEStart; i < kernelPDEEnd; i++ {
		srcAddr := pdtVirtualAddr + uintptr(i)<<mem.PointerShift
		dstAddr := dstPage.Address() + uintptr(i)<<mem.PointerShift

		src := (*pageTableEntry)(ptePtrFn(srcAddr))
		dst := (*pageTableEntry)(ptePtrFn(dstAddr))
		*dst = *src
	}

	return nil
}
