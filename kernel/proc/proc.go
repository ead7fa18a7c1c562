// Package proc implements process lifecycle on top of kernel/task's
// scheduler: per-process address-space creation, fork (eager page copy),
// exec (image replacement), exit (teardown and reparenting), and wait
// (harvesting). The actual PCB-page bitwise copy and interrupt-stack
// synthesis fork/exec rely on are architecture assembly outside this
// package's reach; what is expressed here is everything fork/exec/exit/
// wait do that is ordinary Go: address-space bookkeeping, page copying
// through the vmm, file-descriptor table duplication, and scheduler
// transitions.
package proc

import (
	"pios/kernel"
	"pios/kernel/fs"
	"pios/kernel/heap"
	"pios/kernel/mem"
	"pios/kernel/mem/pmm"
	"pios/kernel/mem/vmm"
	"pios/kernel/mm"
	"pios/kernel/task"
)

// InitPID is the reserved pid that inherits orphaned children on exit,
// mirroring a Unix init process.
const InitPID int32 = 1

// FrameAllocFn allocates one physical page frame; the real kernel wires
// this to the kernel physical pool's ApplyOne.
type FrameAllocFn func() (pmm.Frame, *kernel.Error)

// FrameFreeFn returns a physical page frame to the pool it came from.
type FrameFreeFn func(pmm.Frame)

var (
	frameAllocFn FrameAllocFn = func() (pmm.Frame, *kernel.Error) {
		return 0, &kernel.Error{Module: "proc", Message: "no frame allocator installed"}
	}
	frameFreeFn FrameFreeFn = func(pmm.Frame) {}
)

// SetFrameAllocator installs the physical frame allocator/deallocator
// every address-space operation in this package uses.
func SetFrameAllocator(alloc FrameAllocFn, free FrameFreeFn) {
	frameAllocFn = alloc
	frameFreeFn = free
}

// userVirtualPoolPages is how many 4 KiB pages a process's user-virtual
// pool bitmap must track: 0 up to 0xC0000000.
const userVirtualPoolPages = 0xC0000000 / uint(mem.PageSize)

var (
	// ErrNoChildren is returned by Wait when the caller has no children at
	// all (neither Hanging nor still running).
	ErrNoChildren = &kernel.Error{Module: "proc", Message: "no children"}
)

// Process bundles a task.Task with the address-space state that only
// applies to genuine processes (as opposed to kernel threads): its page
// directory, user-virtual pool and the pool's backing bitmap.
type Process struct {
	Task *task.Task
	PDT  vmm.PageDirectoryTable

	poolBitmap []uint32
}

// current is the process whose syscall is presently being serviced. The
// int 0x80 entry point calls SetCurrent before Dispatch-ing and again on
// every context switch; it exists because task.Scheduler tracks *task.Task,
// not *Process, and most syscalls need the address-space/PDT half that
// only Process carries.
var current *Process

// SetCurrent records p as the process the next syscall dispatch runs on
// behalf of.
func SetCurrent(p *Process) { current = p }

// Current returns the process most recently installed via SetCurrent, or
// nil if none has been (e.g. during early boot, before any process runs).
func Current() *Process { return current }

// newAddressSpaceFn creates a process's page directory and user-virtual
// pool. It is a seam so tests can exercise Spawn/Fork/Exit/Wait's
// bookkeeping without the real vmm package touching actual page tables.
var newAddressSpaceFn = newAddressSpace

// copyPageFn duplicates one parent page into the child's directory. It is a
// seam for the same reason as newAddressSpaceFn.
var copyPageFn = copyPage

// freePageFn releases one page from a task's address space: translating its
// frame, returning the frame to the allocator, and unmapping it. It is a
// seam for the same reason as newAddressSpaceFn.
var freePageFn = freePage

// freeDirectoryFn returns a page directory's own backing frame to the frame
// allocator. It is a seam for the same reason as newAddressSpaceFn.
var freeDirectoryFn = func(pdt *vmm.PageDirectoryTable) { frameFreeFn(pdt.Frame()) }

// newAddressSpace allocates a process page directory sharing the kernel's
// upper-1GiB PDEs, and a user-virtual pool covering 0..0xC0000000.
func newAddressSpace() (vmm.PageDirectoryTable, *mm.Pool, []uint32, *kernel.Error) {
	var pdt vmm.PageDirectoryTable

	frame, err := frameAllocFn()
	if err != nil {
		return pdt, nil, nil, err
	}
	if err := pdt.Init(frame); err != nil {
		frameFreeFn(frame)
		return pdt, nil, nil, err
	}
	if err := pdt.CloneKernelEntries(); err != nil {
		frameFreeFn(frame)
		return pdt, nil, nil, err
	}

	bitmap := make([]uint32, (userVirtualPoolPages+31)/32)
	pool := &mm.Pool{}
	pool.Init(0, mem.PageSize, bitmap, userVirtualPoolPages)

	return pdt, pool, bitmap, nil
}

// Spawn creates a brand-new process (not a fork): a fresh task, page
// directory and user-virtual pool, with an empty file-descriptor table
// and heap. It models the address-space half of what exec installs into a
// task that execve'd from a kernel thread with no prior process state.
func Spawn(name string, priority uint8, parentPID int32) (*Process, *kernel.Error) {
	id, err := task.Sched.NewKernelTask(name, priority, nil)
	if err != nil {
		return nil, err
	}

	t := task.Sched.TaskByID(id)
	t.ParentPID = parentPID
	t.Cwd = "/"

	pdt, pool, bitmap, err := newAddressSpaceFn()
	if err != nil {
		return nil, err
	}

	t.Pool = pool
	t.Heap = &heap.Heap{}
	t.Heap.Init(
		func(n uint32) (uintptr, *kernel.Error) { return pool.Apply(uint(n)) },
		func(addr uintptr, n uint32) { pool.Restore(addr, uint(n)) },
	)

	return &Process{Task: t, PDT: pdt, poolBitmap: bitmap}, nil
}

// Fork creates a child of parent: a new task/page-directory/pool, an eager
// (copy-on-nothing) duplicate of every page the parent's user-virtual pool
// has mapped, and a clone of the parent's file-descriptor table (bumping
// every referenced open-file slot's count rather than reopening it). It
// returns the child's pid; per the fork contract the parent observes this
// return value while the child, on its first scheduling, observes 0 (a
// detail of the synthesized interrupt-stack this package does not build).
func Fork(parent *Process) (*Process, *kernel.Error) {
	id, err := task.Sched.NewKernelTask(parent.Task.Name, parent.Task.Priority, nil)
	if err != nil {
		return nil, err
	}

	child := task.Sched.TaskByID(id)
	child.ParentPID = parent.Task.PID
	child.Cwd = parent.Task.Cwd

	pdt, pool, bitmap, err := newAddressSpaceFn()
	if err != nil {
		return nil, err
	}

	parent.Task.Pool.ForEachUsed(func(addr uintptr) {
		if copyErr := copyPageFn(parent, &pdt, addr); copyErr != nil {
			err = copyErr
			return
		}
		if markErr := pool.MarkUsed(addr); markErr != nil {
			err = markErr
		}
	})
	if err != nil {
		return nil, err
	}

	child.Pool = pool
	child.Heap = &heap.Heap{}
	child.Heap.Init(
		func(n uint32) (uintptr, *kernel.Error) { return pool.Apply(uint(n)) },
		func(addr uintptr, n uint32) { pool.Restore(addr, uint(n)) },
	)

	parent.Task.FDs.CloneInto(&child.FDs)
	for i := 0; i < task.MaxFDs; i++ {
		if fd, ok := child.FDs.Get(i); ok && fd.Kind == task.FDRegular {
			if h, ok := fd.Handle.(fs.FileHandle); ok {
				fs.Global.Dup(h)
			}
		}
	}

	return &Process{Task: child, PDT: pdt, poolBitmap: bitmap}, nil
}

// copyPage reads one page of the parent's address space (through the
// parent's own mapping, which is already active or reachable) and installs
// an identical copy at the same virtual address in the child's directory.
func copyPage(parent *Process, childPDT *vmm.PageDirectoryTable, addr uintptr) *kernel.Error {
	frame, err := frameAllocFn()
	if err != nil {
		return err
	}

	dst, err := vmm.MapTemporary(frame)
	if err != nil {
		frameFreeFn(frame)
		return err
	}
	mem.Memmove(dst.Address(), addr, uintptr(mem.PageSize))
	vmm.Unmap(dst)

	page := vmm.PageFromAddress(addr)
	return childPDT.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUser)
}

// freePage returns the physical frame backing addr to the frame allocator
// and removes addr's mapping from the currently active page directory.
func freePage(addr uintptr) {
	page := vmm.PageFromAddress(addr)
	if frame, err := vmm.Translate(page.Address()); err == nil {
		frameFreeFn(pmm.FrameFromAddress(frame))
	}
	vmm.Unmap(page)
}

// Exec replaces proc's image: it validates that path exists and is a
// regular file (the actual code-loading and interrupt-stack synthesis
// that would jump to its entry point are architecture concerns outside
// this package) and clears the file-descriptor table. The heap and the
// user-virtual pool are left as they are. pid and the parent relationship
// are preserved.
func Exec(p *Process, partition *fs.Partition, path string) *kernel.Error {
	h, err := fs.Open(partition, path, false)
	if err != nil {
		return &kernel.Error{Module: "proc", Message: err.Error()}
	}
	fs.Global.Close(h)

	p.Task.FDs.Reset()
	return nil
}

// Exit tears proc down: every physical page backing its user-virtual pool
// is returned to the frame allocator, its page directory's frame is
// freed, its children are reparented to init, its parent is woken if
// Waiting, and the task itself transitions to Hanging (harvested later by
// a Wait call).
func Exit(p *Process, code int32) {
	p.Task.Pool.ForEachUsed(freePageFn)
	freeDirectoryFn(&p.PDT)

	task.Sched.ForEach(func(t *task.Task) {
		if t.ParentPID == p.Task.PID {
			t.ParentPID = InitPID
		}
	})

	task.Sched.Exit(p.Task.ID(), code)
}

// Wait blocks the current task until one of its children exits, then
// harvests it. It returns ErrNoChildren immediately if the caller has no
// children at all.
func Wait(current *task.Task) (pid int32, code int32, err *kernel.Error) {
	for {
		if pid, code, ok := task.Sched.Reap(current.ID()); ok {
			return pid, code, nil
		}

		if !task.Sched.HasChildren(current.ID()) {
			return 0, 0, ErrNoChildren
		}

		task.Sched.Block(task.StatusWaiting)
	}
}
