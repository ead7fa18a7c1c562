package task

import (
	"pios/kernel"
	"pios/kernel/kfmt"
)

var (
	// ErrTableFull is returned by NewKernelTask when the task table has no
	// free slot left.
	ErrTableFull = &kernel.Error{Module: "task", Message: "task table exhausted"}

	// panicFn is invoked for this package's unrecoverable faults (a
	// programming error at Init time, a corrupted stack sentinel, a lock
	// released by a non-holder). Seam so tests can observe the call
	// instead of halting the test binary.
	panicFn = kfmt.Panic

	// enableInterruptsFn/disableInterruptsFn are mocked by tests; in the
	// real kernel they are cpu.EnableInterrupts/cpu.DisableInterrupts.
	// Scheduler-internal critical sections use cli/sti rather than a lock
	// because a lock that might block must never be held across a
	// context switch.
	enableInterruptsFn  = func() {}
	disableInterruptsFn = func() {}

	// switchContextFn performs the actual register/stack swap between two
	// tasks. The real implementation is architecture assembly; tests
	// replace it with a function that just records the transition.
	switchContextFn = func(from, to *Task) {}

	// activatePageDirFn installs a task's address space. The real
	// implementation loads CR3 via the vmm package; kernel threads (nil
	// PageDir) keep whatever directory is already active.
	activatePageDirFn = func(t *Task) {}
)

// Scheduler owns the task table, the ready queue, and the all-tasks list.
// One Scheduler drives the whole kernel; Sched is the instance the rest of
// the kernel uses.
type Scheduler struct {
	tasks [MaxTasks]Task

	readyHead, readyTail ID
	allHead              ID

	current ID
	idle    ID

	nextPID int32
}

// Sched is the kernel-wide scheduler instance.
var Sched Scheduler

// Init resets the scheduler and creates the idle task. It must run once,
// before any call to NewKernelTask.
func (s *Scheduler) Init() {
	// nextPID starts at 0 so the idle task (created below) takes pid 0,
	// leaving pid 1 free for the first real process spawned afterwards
	// to match proc.InitPID.
	*s = Scheduler{nextPID: 0}

	idleID, err := s.NewKernelTask("idle", 10, nil)
	if err != nil {
		panicFn(err)
	}
	s.idle = idleID
	idleTask := &s.tasks[idleID]
	idleTask.Status = StatusBlocked
	s.unlinkReady(idleID)

	// The first task created becomes "current" by convention until the
	// scheduler is actually driven by a timer; callers that bootstrap a
	// real kernel thread immediately call Schedule to replace it.
	s.current = idleID
}

// NewKernelTask allocates a task table slot, fills in bookkeeping fields
// and links it onto the all-tasks list and the tail of the ready queue.
// fn/arg describe the entry point a real implementation would install into
// the task's ThreadStack; this package does not invoke fn itself since
// doing so requires the architecture context-switch trampoline.
func (s *Scheduler) NewKernelTask(name string, priority uint8, _ func(interface{})) (ID, *kernel.Error) {
	for i := 1; i < MaxTasks; i++ {
		if s.tasks[i].inUse {
			continue
		}

		t := &s.tasks[i]
		*t = Task{
			id:        ID(i),
			Name:      name,
			Status:    StatusReady,
			Priority:  priority,
			LeftTicks: priority,
			PID:       s.nextPID,
			ParentPID: 0,
			magic:     stackMagic,
			inUse:     true,
		}
		s.nextPID++

		s.linkAll(ID(i))
		s.linkReadyTail(ID(i))

		return ID(i), nil
	}

	return InvalidID, ErrTableFull
}

func (s *Scheduler) task(id ID) *Task {
	if id == InvalidID {
		return nil
	}
	return &s.tasks[id]
}

// Current returns the currently running task.
func (s *Scheduler) Current() *Task {
	return s.task(s.current)
}

// TaskByID returns the task at the given table slot, or nil for
// InvalidID.
func (s *Scheduler) TaskByID(id ID) *Task {
	return s.task(id)
}

// --- all-tasks list -------------------------------------------------------

func (s *Scheduler) linkAll(id ID) {
	t := s.task(id)
	t.allNext = s.allHead
	t.allPrev = InvalidID
	if s.allHead != InvalidID {
		s.task(s.allHead).allPrev = id
	}
	s.allHead = id
}

// ForEach invokes fn for every live task, in no particular order.
func (s *Scheduler) ForEach(fn func(*Task)) {
	for id := s.allHead; id != InvalidID; id = s.task(id).allNext {
		fn(s.task(id))
	}
}

// --- ready queue -----------------------------------------------------------

func (s *Scheduler) linkReadyTail(id ID) {
	t := s.task(id)
	t.readyNext = InvalidID
	t.readyPrev = s.readyTail
	if s.readyTail != InvalidID {
		s.task(s.readyTail).readyNext = id
	} else {
		s.readyHead = id
	}
	s.readyTail = id
}

func (s *Scheduler) linkReadyHead(id ID) {
	t := s.task(id)
	t.readyPrev = InvalidID
	t.readyNext = s.readyHead
	if s.readyHead != InvalidID {
		s.task(s.readyHead).readyPrev = id
	} else {
		s.readyTail = id
	}
	s.readyHead = id
}

func (s *Scheduler) unlinkReady(id ID) {
	t := s.task(id)
	if t.readyPrev != InvalidID {
		s.task(t.readyPrev).readyNext = t.readyNext
	} else if s.readyHead == id {
		s.readyHead = t.readyNext
	}

	if t.readyNext != InvalidID {
		s.task(t.readyNext).readyPrev = t.readyPrev
	} else if s.readyTail == id {
		s.readyTail = t.readyPrev
	}

	t.readyNext, t.readyPrev = InvalidID, InvalidID
}

func (s *Scheduler) popReadyHead() ID {
	id := s.readyHead
	if id == InvalidID {
		return InvalidID
	}
	s.unlinkReady(id)
	return id
}

// --- tick / scheduling -----------------------------------------------------

// Tick decrements the running task's remaining ticks and invokes Schedule
// once they are exhausted. It is meant to be called from the timer IRQ
// handler at ~100 Hz.
func (s *Scheduler) Tick() {
	cur := s.Current()
	cur.CheckStack("task.Tick")
	cur.ElapsedTicks++

	if cur.LeftTicks > 0 {
		cur.LeftTicks--
	}

	if cur.LeftTicks == 0 {
		s.Schedule()
	}
}

// Yield voluntarily gives up the remainder of the current task's quantum.
func (s *Scheduler) Yield() {
	disableInterruptsFn()
	cur := s.Current()
	cur.Status = StatusReady
	s.linkReadyTail(cur.id)
	s.Schedule()
	enableInterruptsFn()
}

// Block suspends the current task with the given status (Blocked, Hanging
// or Waiting) and invokes the scheduler. newStatus must not be Ready or
// Running.
func (s *Scheduler) Block(newStatus Status) {
	disableInterruptsFn()
	s.Current().Status = newStatus
	s.Schedule()
	enableInterruptsFn()
}

// Wake marks a blocked/waiting task Ready and moves it to the head of the
// ready queue for quick turnaround.
func (s *Scheduler) Wake(id ID) {
	disableInterruptsFn()
	t := s.task(id)
	if t.Status != StatusBlocked && t.Status != StatusWaiting {
		enableInterruptsFn()
		return
	}
	t.Status = StatusReady
	s.linkReadyHead(id)
	enableInterruptsFn()
}

// Schedule performs one scheduling decision: it requeues the outgoing task
// if still runnable, wakes the idle task if the ready queue would
// otherwise run dry, pops the next task to run, and performs the context
// switch. Callers are expected to already have interrupts disabled.
func (s *Scheduler) Schedule() {
	outgoing := s.Current()
	outgoing.CheckStack("task.Schedule")

	if outgoing.Status == StatusRunning {
		outgoing.Status = StatusReady
		outgoing.LeftTicks = outgoing.Priority
		s.linkReadyTail(outgoing.id)
	}

	if s.readyHead == InvalidID && outgoing.id != s.idle {
		idleTask := s.task(s.idle)
		idleTask.Status = StatusReady
		s.linkReadyHead(s.idle)
	}

	next := s.popReadyHead()
	if next == InvalidID {
		// Nothing runnable at all (including idle) -- stay on outgoing.
		return
	}

	incoming := s.task(next)
	incoming.Status = StatusRunning
	s.current = next

	activatePageDirFn(incoming)
	switchContextFn(outgoing, incoming)
}

// Exit transitions the given task to Hanging, records its exit code, and
// wakes its parent if the parent is Waiting on it. The caller is
// responsible for invoking Schedule afterwards (exit always happens on the
// currently-running task, mirroring the spec's "switch current task to
// Hanging and schedule").
func (s *Scheduler) Exit(id ID, code int32) {
	t := s.task(id)
	t.Status = StatusHanging
	t.ExitCode = code
	t.hasExited = true

	s.ForEach(func(candidate *Task) {
		if candidate.PID == t.ParentPID && candidate.Status == StatusWaiting {
			s.Wake(candidate.id)
		}
	})
}

// Reap finds a Hanging child of parent, removes it from the all-tasks list
// and frees its table slot, returning its pid and exit code. ok is false
// if parent has no Hanging child.
func (s *Scheduler) Reap(parentID ID) (pid int32, code int32, ok bool) {
	parent := s.task(parentID)

	var found *Task
	s.ForEach(func(t *Task) {
		if found != nil {
			return
		}
		if t.ParentPID == parent.PID && t.Status == StatusHanging {
			found = t
		}
	})

	if found == nil {
		return 0, 0, false
	}

	pid, code = found.PID, found.ExitCode
	s.unlinkAll(found.id)
	found.inUse = false
	found.Status = StatusDied

	return pid, code, true
}

// HasChildren reports whether any live task has parentID as its parent.
func (s *Scheduler) HasChildren(parentID ID) bool {
	parent := s.task(parentID)
	found := false
	s.ForEach(func(t *Task) {
		if t.ParentPID == parent.PID {
			found = true
		}
	})
	return found
}

func (s *Scheduler) unlinkAll(id ID) {
	t := s.task(id)
	if t.allPrev != InvalidID {
		s.task(t.allPrev).allNext = t.allNext
	} else if s.allHead == id {
		s.allHead = t.allNext
	}
	if t.allNext != InvalidID {
		s.task(t.allNext).allPrev = t.allPrev
	}
	t.allNext, t.allPrev = InvalidID, InvalidID
}
