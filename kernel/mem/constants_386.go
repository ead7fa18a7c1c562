// +build 386

package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 2

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PageTableEntries is the number of entries in a single page table or
	// the page directory on i386 (1024 4-byte entries fill a 4KiB page).
	PageTableEntries = 1024

	// PDShift is the shift applied to a virtual address to obtain its
	// page-directory index.
	PDShift = 22

	// PTShift is the shift applied to a virtual address to obtain its
	// page-table index.
	PTShift = 12
)
