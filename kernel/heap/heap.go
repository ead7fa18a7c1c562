// Package heap implements the size-classed slab allocator that backs both
// the kernel's own heap and every process's private user heap. Each Heap
// instance feeds from a page-granularity allocator (Heap.PageAlloc) and
// subdivides pages into fixed-size blocks grouped by MemBlockContainer.
package heap

import (
	"pios/kernel"
	"pios/kernel/kfmt"
	"pios/kernel/mem"
	"pios/kernel/sync"
	"unsafe"
)

var (
	// ErrOutOfMemory is the payload passed to kfmt.Panic when the backing
	// page allocator cannot satisfy a request. Exhaustion above the page
	// allocator is unrecoverable by design, so it is never returned to a
	// caller to handle; Alloc's error return only ever comes back nil.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "insufficient memory"}

	// ErrDoubleFree is the payload passed to kfmt.Panic when Free observes
	// an address that is already on its container's free list, or a large
	// allocation that has already been returned to the page allocator.
	ErrDoubleFree = &kernel.Error{Module: "heap", Message: "double free"}

	// panicFn is invoked for this package's unrecoverable faults (out of
	// memory, double free). Seam so tests can observe the call instead of
	// halting the test binary.
	panicFn = kfmt.Panic

	// sizeClasses lists the block sizes every Heap instance maintains a
	// MemBlockContainer for. A request larger than half the largest class
	// bypasses the slab path entirely.
	sizeClasses = [...]uint32{16, 32, 64, 128, 256, 512, 1024}
)

const largeAllocThreshold = 1024 / 2

// arena is the per-page header prefixed to every slab page. The rest of the
// page holds an array of blockSize-sized blocks. For a large allocation
// (one spanning 1 or more whole pages with no subdivision) container is nil,
// which is how Free tells the two paths apart.
type arena struct {
	container *memBlockContainer
	pages     uint32
	blockSize uint32
	remaining uint32
	total     uint32

	// freed marks a large allocation's arena once Free has returned it to
	// the page allocator, so a second Free on the same address is caught
	// instead of handing the same page run back twice. Slab blocks are
	// checked against their container's free list instead, since many
	// blocks share one arena.
	freed bool
}

const arenaHeaderSize = unsafe.Sizeof(arena{})

// memBlock is the intrusive free-list node occupying an otherwise-unused
// block. Allocated blocks are returned to callers as untyped bytes, so this
// layout is only meaningful while the block sits on a container's free list.
type memBlock struct {
	next *memBlock
}

// memBlockContainer owns the free list for one size class.
type memBlockContainer struct {
	lock      sync.Spinlock
	blockSize uint32
	freeList  *memBlock
}

// PageAllocFn reserves and maps n physically-backed, virtually contiguous
// pages, returning the start address of the run.
type PageAllocFn func(n uint32) (uintptr, *kernel.Error)

// PageFreeFn releases the n-page run previously returned by a PageAllocFn.
type PageFreeFn func(addr uintptr, n uint32)

// Heap is one instance of the slab allocator. The kernel owns a single
// global Heap; every task owns an identical, independent instance backed
// by its own page allocator functions.
type Heap struct {
	containers [len(sizeClasses)]memBlockContainer

	PageAlloc PageAllocFn
	PageFree  PageFreeFn
}

// Init wires the heap to its backing page allocator and resets every size
// class's free list.
func (h *Heap) Init(pageAlloc PageAllocFn, pageFree PageFreeFn) {
	h.PageAlloc = pageAlloc
	h.PageFree = pageFree
	for i := range h.containers {
		h.containers[i] = memBlockContainer{blockSize: sizeClasses[i]}
	}
}

func arenaAt(addr uintptr) *arena {
	base := addr &^ uintptr(mem.PageSize-1)
	return (*arena)(unsafe.Pointer(base))
}

// containerFor returns the smallest size-class container whose block size
// is >= n, or nil if n exceeds the large-allocation threshold.
func (h *Heap) containerFor(n uint32) *memBlockContainer {
	if n > largeAllocThreshold {
		return nil
	}

	for i := range sizeClasses {
		if sizeClasses[i] >= n {
			return &h.containers[i]
		}
	}

	return nil
}

// Alloc reserves n bytes and returns the address of the first usable byte.
func (h *Heap) Alloc(n uint32) (uintptr, *kernel.Error) {
	if n == 0 {
		n = 1
	}

	if n > largeAllocThreshold {
		return h.allocLarge(n)
	}

	c := h.containerFor(n)
	return h.allocFromContainer(c)
}

// allocLarge backs an allocation larger than largeAllocThreshold (half the
// biggest size class) with a dedicated run of pages, fronted by an arena
// header whose container pointer is nil.
func (h *Heap) allocLarge(n uint32) (uintptr, *kernel.Error) {
	needed := mem.Size(n) + mem.Size(arenaHeaderSize)
	pages := uint32((needed + mem.PageSize - 1) / mem.PageSize)

	addr, err := h.PageAlloc(pages)
	if err != nil {
		panicFn(ErrOutOfMemory)
		return 0, nil
	}

	a := (*arena)(unsafe.Pointer(addr))
	a.container = nil
	a.pages = pages
	a.blockSize = 0
	a.remaining = 0
	a.total = 0

	return addr + uintptr(arenaHeaderSize), nil
}

// allocFromContainer pops a free block from c, growing it with a fresh
// page-backed arena if the free list is empty.
func (h *Heap) allocFromContainer(c *memBlockContainer) (uintptr, *kernel.Error) {
	c.lock.Acquire()
	defer c.lock.Release()

	if c.freeList == nil {
		if err := h.growContainer(c); err != nil {
			return 0, err
		}
		if c.freeList == nil {
			return 0, nil
		}
	}

	blk := c.freeList
	c.freeList = blk.next

	blkAddr := uintptr(unsafe.Pointer(blk))
	arenaAt(blkAddr).remaining--

	return blkAddr, nil
}

// growContainer allocates a fresh page, carves it into c.blockSize blocks
// and chains every one of them onto c's free list.
func (h *Heap) growContainer(c *memBlockContainer) *kernel.Error {
	addr, err := h.PageAlloc(1)
	if err != nil {
		panicFn(ErrOutOfMemory)
		return nil
	}

	blockSize := uintptr(c.blockSize)
	usable := uintptr(mem.PageSize) - arenaHeaderSize
	blockCount := uint32(usable / blockSize)

	a := (*arena)(unsafe.Pointer(addr))
	a.container = c
	a.pages = 1
	a.blockSize = c.blockSize
	a.remaining = blockCount
	a.total = blockCount

	base := addr + arenaHeaderSize
	for i := uint32(0); i < blockCount; i++ {
		blk := (*memBlock)(unsafe.Pointer(base + uintptr(i)*blockSize))
		blk.next = c.freeList
		c.freeList = blk
	}

	return nil
}

// Free releases a block or large allocation previously returned by Alloc.
// Freeing an address twice is a fatal error: it either silently re-links an
// already-free block onto its container's free list (corrupting it) or
// hands an already-reclaimed page run back to the page allocator a second
// time, so both cases route through kfmt.Panic instead of returning.
func (h *Heap) Free(addr uintptr) {
	a := arenaAt(addr)

	if a.container == nil {
		if a.freed {
			panicFn(ErrDoubleFree)
			return
		}
		a.freed = true
		h.PageFree(uintptr(unsafe.Pointer(a)), a.pages)
		return
	}

	c := a.container
	c.lock.Acquire()

	for cur := c.freeList; cur != nil; cur = cur.next {
		if uintptr(unsafe.Pointer(cur)) == addr {
			c.lock.Release()
			panicFn(ErrDoubleFree)
			return
		}
	}

	blk := (*memBlock)(unsafe.Pointer(addr))
	blk.next = c.freeList
	c.freeList = blk
	a.remaining++

	if a.remaining == a.total {
		h.reclaimArena(c, a)
	}

	c.lock.Release()
}

// reclaimArena detaches every block belonging to a from c's free list and
// returns the backing page to the page allocator. Must be called with
// c.lock held.
func (h *Heap) reclaimArena(c *memBlockContainer, a *arena) {
	arenaBase := uintptr(unsafe.Pointer(a))
	arenaEnd := arenaBase + uintptr(mem.PageSize)

	var head, tail *memBlock
	for cur := c.freeList; cur != nil; {
		next := cur.next
		curAddr := uintptr(unsafe.Pointer(cur))
		if curAddr >= arenaBase && curAddr < arenaEnd {
			// drop, belongs to the arena being reclaimed
		} else if head == nil {
			head = cur
			tail = cur
			cur.next = nil
		} else {
			tail.next = cur
			tail = cur
			cur.next = nil
		}
		cur = next
	}

	c.freeList = head
	h.PageFree(arenaBase, 1)
}
