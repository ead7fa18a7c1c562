package heap

import (
	"pios/kernel"
	"pios/kernel/kfmt"
	"pios/kernel/mem"
	"testing"
	"unsafe"
)

// testPageSource hands out real, page-aligned Go-allocated memory so the
// pointer arithmetic inside Heap behaves exactly as it would against mapped
// kernel pages.
type testPageSource struct {
	allocated map[uintptr][]byte
}

func newTestPageSource() *testPageSource {
	return &testPageSource{allocated: make(map[uintptr][]byte)}
}

func (s *testPageSource) alloc(n uint32) (uintptr, *kernel.Error) {
	// Over-allocate so we can carve out a page-aligned region by hand;
	// the hosted test runtime gives us no mmap-style alignment guarantee.
	size := uintptr(n+1) * uintptr(mem.PageSize)
	buf := make([]byte, size)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (raw + uintptr(mem.PageSize-1)) &^ uintptr(mem.PageSize-1)

	s.allocated[aligned] = buf
	return aligned, nil
}

func (s *testPageSource) free(addr uintptr, _ uint32) {
	delete(s.allocated, addr)
}

func newTestHeap() *Heap {
	src := newTestPageSource()
	var h Heap
	h.Init(src.alloc, src.free)
	return &h
}

func TestAllocFromSizeClass(t *testing.T) {
	h := newTestHeap()

	a, err := h.Alloc(10)
	if err != nil {
		t.Fatal(err)
	}

	b, err := h.Alloc(10)
	if err != nil {
		t.Fatal(err)
	}

	if a == b {
		t.Fatal("expected distinct blocks for two live allocations")
	}

	// Both should come from the same arena's 16-byte class; writing
	// through one must not corrupt the other.
	*(*byte)(unsafe.Pointer(a)) = 0x5a
	*(*byte)(unsafe.Pointer(b)) = 0xa5

	if got := *(*byte)(unsafe.Pointer(a)); got != 0x5a {
		t.Fatalf("expected block a to retain 0x5a; got 0x%x", got)
	}
}

func TestFreeReusesBlock(t *testing.T) {
	h := newTestHeap()

	// Keep a second block of the same size class allocated so freeing a
	// does not reclaim the whole arena and hand its page back.
	if _, err := h.Alloc(16); err != nil {
		t.Fatal(err)
	}

	a, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	h.Free(a)

	b, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected freed block to be reused; got a=0x%x b=0x%x", a, b)
	}
}

func TestArenaReclaimedWhenFullyFree(t *testing.T) {
	h := newTestHeap()

	usable := uintptr(mem.PageSize) - arenaHeaderSize
	blockCount := int(usable / 16)

	blocks := make([]uintptr, blockCount)
	for i := range blocks {
		addr, err := h.Alloc(16)
		if err != nil {
			t.Fatal(err)
		}
		blocks[i] = addr
	}

	for _, b := range blocks {
		h.Free(b)
	}

	if h.containers[0].freeList != nil {
		t.Fatal("expected free list to be empty after reclaiming a fully-free arena")
	}
}

func TestLargeAllocation(t *testing.T) {
	h := newTestHeap()

	addr, err := h.Alloc(4000)
	if err != nil {
		t.Fatal(err)
	}

	buf := (*[4000]byte)(unsafe.Pointer(addr))
	buf[0] = 1
	buf[3999] = 2

	h.Free(addr)
}

func TestAllocZeroRoundsUpToOneByte(t *testing.T) {
	h := newTestHeap()

	addr, err := h.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}
	if addr == 0 {
		t.Fatal("expected a valid address for a zero-sized allocation")
	}
}

func TestAllocPanicsWhenPageAllocatorExhausted(t *testing.T) {
	defer func() { panicFn = kfmt.Panic }()

	var h Heap
	h.Init(
		func(n uint32) (uintptr, *kernel.Error) { return 0, ErrOutOfMemory },
		func(uintptr, uint32) {},
	)

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	if _, err := h.Alloc(16); err != nil {
		t.Fatal(err)
	}
	if gotPanic != ErrOutOfMemory {
		t.Fatalf("expected a panic with ErrOutOfMemory; got %v", gotPanic)
	}
}

func TestAllocLargePanicsWhenPageAllocatorExhausted(t *testing.T) {
	defer func() { panicFn = kfmt.Panic }()

	var h Heap
	h.Init(
		func(n uint32) (uintptr, *kernel.Error) { return 0, ErrOutOfMemory },
		func(uintptr, uint32) {},
	)

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	if _, err := h.Alloc(4000); err != nil {
		t.Fatal(err)
	}
	if gotPanic != ErrOutOfMemory {
		t.Fatalf("expected a panic with ErrOutOfMemory; got %v", gotPanic)
	}
}

func TestFreeOfSlabBlockTwicePanics(t *testing.T) {
	defer func() { panicFn = kfmt.Panic }()

	h := newTestHeap()

	// Keep a second block of the same size class allocated so freeing
	// addr does not reclaim the whole arena (which would make addr's
	// memory no longer meaningfully backed by this container).
	other, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	h.Free(addr)

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	h.Free(addr)

	if gotPanic != ErrDoubleFree {
		t.Fatalf("expected a panic with ErrDoubleFree; got %v", gotPanic)
	}

	_ = other
}

func TestFreeOfLargeAllocationTwicePanics(t *testing.T) {
	defer func() { panicFn = kfmt.Panic }()

	h := newTestHeap()
	addr, err := h.Alloc(4000)
	if err != nil {
		t.Fatal(err)
	}
	h.Free(addr)

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	h.Free(addr)

	if gotPanic != ErrDoubleFree {
		t.Fatalf("expected a panic with ErrDoubleFree; got %v", gotPanic)
	}
}
