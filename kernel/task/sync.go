package task

// Semaphore is a counting semaphore built on the scheduler's block/wake
// primitives. Down/Up bracket their test-and-block with interrupt masking
// so the value check and the block (or the waiters pop and wake) are
// atomic with respect to the timer tick.
type Semaphore struct {
	sched   *Scheduler
	value   uint32
	waiters []ID
}

// NewSemaphore creates a semaphore with the given initial value, bound to
// the given scheduler (ordinarily &Sched).
func NewSemaphore(sched *Scheduler, initial uint32) *Semaphore {
	return &Semaphore{sched: sched, value: initial}
}

// Down blocks the current task until the semaphore has a positive value,
// then consumes one unit.
func (sem *Semaphore) Down() {
	for {
		disableInterruptsFn()
		if sem.value > 0 {
			sem.value--
			enableInterruptsFn()
			return
		}

		cur := sem.sched.Current().id
		sem.waiters = append(sem.waiters, cur)
		sem.sched.Block(StatusBlocked)
		enableInterruptsFn()
	}
}

// Up releases the semaphore. If a task is already waiting, ownership
// transfers to it directly (the value is not incremented in that branch);
// otherwise the value is incremented for a future Down to observe.
func (sem *Semaphore) Up() {
	disableInterruptsFn()
	defer enableInterruptsFn()

	if len(sem.waiters) == 0 {
		sem.value++
		return
	}

	next := sem.waiters[0]
	sem.waiters = sem.waiters[1:]
	sem.sched.Wake(next)
}

// Value returns the semaphore's current count, primarily for tests.
func (sem *Semaphore) Value() uint32 {
	return sem.value
}

// Lock is a reentrant mutex built on a binary Semaphore.
type Lock struct {
	sem        Semaphore
	holder     ID
	holderSet  bool
	recursion  uint32
}

// NewLock creates an unlocked, reentrant Lock bound to the given
// scheduler.
func NewLock(sched *Scheduler) *Lock {
	return &Lock{sem: Semaphore{sched: sched, value: 1}}
}

// Lock acquires the lock. If the current task already holds it, the
// recursion count is bumped instead of blocking.
func (l *Lock) Lock() {
	cur := l.sem.sched.Current().id

	if l.holderSet && l.holder == cur {
		l.recursion++
		return
	}

	l.sem.Down()
	l.holder = cur
	l.holderSet = true
	l.recursion = 1
}

// Unlock releases one level of recursion, or the lock itself once
// recursion drops to zero. Unlock by a task that is not the holder is a
// programming error.
func (l *Lock) Unlock() {
	cur := l.sem.sched.Current().id
	if !l.holderSet || l.holder != cur {
		panicFn("task: Unlock called by non-holder")
	}

	if l.recursion > 1 {
		l.recursion--
		return
	}

	l.holderSet = false
	l.recursion = 0
	l.sem.Up()
}
