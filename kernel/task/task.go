// Package task implements the task control block, the priority-weighted
// round-robin scheduler, and the blocking synchronization primitives
// (Semaphore, Lock) built on top of it.
package task

import (
	"pios/kernel/heap"
	"pios/kernel/mm"
)

// Status is a task's scheduling state.
type Status uint8

// Task states. A task transitions Running -> Ready (preempted or yielded),
// Running -> Blocked/Waiting (voluntarily suspended), Running -> Hanging
// (exited, awaiting a parent's wait), Hanging -> Died (harvested).
const (
	StatusRunning Status = iota
	StatusReady
	StatusBlocked
	StatusWaiting
	StatusHanging
	StatusDied
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusReady:
		return "ready"
	case StatusBlocked:
		return "blocked"
	case StatusWaiting:
		return "waiting"
	case StatusHanging:
		return "hanging"
	case StatusDied:
		return "died"
	default:
		return "unknown"
	}
}

// ID identifies a task table slot. It doubles as the intrusive list link
// value: lists are modeled as next/prev ID chains through the fixed-size
// task table rather than raw pointers, per the arena-plus-index approach
// for systems languages without an elem2entry-style offset trick.
type ID uint32

// InvalidID marks the absence of a task / end of a list.
const InvalidID ID = 0

// MaxTasks bounds the task table; it plays the role of the PCB-page-pool
// capacity in a design that would otherwise allocate PCB pages on demand.
const MaxTasks = 256

// stackMagic is the sentinel word a live Task's magic field must always
// read as. check_task_stack-style callers use it to detect stack/PCB
// corruption at subsystem boundaries.
const stackMagic = 0xfeedc0de

// Task is this implementation's TaskStruct. A real PCB page additionally
// co-resides with the task's kernel stack and interrupt frame; here those
// are modeled as opaque byte buffers (ThreadStack, InterruptStack) since
// the context-switch epilogue that actually restores them is architecture
// assembly outside this package's reach.
type Task struct {
	id   ID
	Name string

	Status       Status
	Priority     uint8
	LeftTicks    uint8
	ElapsedTicks uint64

	// PID/ParentPID are process identifiers; a kernel thread (PageDir ==
	// nil) still gets an ID but no process semantics apply to it.
	PID       int32
	ParentPID int32
	ExitCode  int32
	hasExited bool

	// PageDir is nil for kernel threads, which run entirely inside the
	// shared kernel address space.
	PageDir interface{}

	// Pool is the task's private user-virtual address pool; Heap is its
	// private slab allocator layered on top of it. Both are nil for
	// kernel threads, which use the global kernel heap instead.
	Pool *mm.Pool
	Heap *heap.Heap

	// FDs is the task's private file-descriptor table. fork clones it;
	// exec resets it.
	FDs FDTable

	// Cwd is the task's current working directory, an absolute path.
	Cwd string

	magic uint32

	inUse bool

	readyNext, readyPrev ID
	allNext, allPrev     ID
}

// ID returns the task's table index.
func (t *Task) ID() ID { return t.id }

// CheckStack verifies the task's stack-magic sentinel, mirroring
// check_task_stack. Called at every subsystem boundary crossing that
// mediates on a task (Scheduler.Tick, Scheduler.Schedule); any tick of
// scheduling that observes a corrupted sentinel is a fatal error. ctx is
// used only to annotate the panic message.
func (t *Task) CheckStack(ctx string) {
	if t.magic != stackMagic {
		panicFn(&stackCorruptError{ctx: ctx, task: t.Name})
	}
}

type stackCorruptError struct {
	ctx  string
	task string
}

func (e *stackCorruptError) Error() string {
	return "task " + e.task + ": stack magic corrupted at " + e.ctx
}
