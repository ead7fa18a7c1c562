// Package pipe implements the anonymous pipe: a bounded, blocking byte
// queue wired through a task's file-descriptor table. A pipe's capacity is
// fixed at creation; writers block while the buffer is full and readers
// block while it is empty, synchronized by a pair of counting semaphores
// rather than by a lock plus condition variable.
package pipe

import (
	"pios/kernel"
	"pios/kernel/task"
)

// MaxPipes bounds the global pipe table.
const MaxPipes = 10

var (
	// ErrExhaust is returned by New when the pipe table has no free slot.
	ErrExhaust = &kernel.Error{Module: "pipe", Message: "no pipe slots available"}

	// ErrClosed is returned by Write against a pipe with no readers left.
	// Read never returns it; it reports end-of-stream as a zero count.
	ErrClosed = &kernel.Error{Module: "pipe", Message: "pipe end closed"}
)

// Pipe is a PipeContainer: a fixed-capacity ring buffer plus the two
// semaphores that make write/read block correctly, plus an end-of-stream
// flag for a writer-closed pipe with still-blocked readers.
type Pipe struct {
	buf      []byte
	capacity int
	head     int
	count    int

	slots *task.Semaphore // producer side: counts free buffer slots
	avail *task.Semaphore // consumer side: counts readable bytes

	lock task.Lock // serializes buffer head/count bookkeeping

	readers, writers int
	eof              bool
}

var table [MaxPipes]*Pipe

// New allocates a Pipe of the given capacity (bytes) in the global table
// and returns its index, or ErrExhaust if the table is full.
func New(capacity int) (int, *kernel.Error) {
	for i := range table {
		if table[i] != nil {
			continue
		}

		p := &Pipe{
			buf:      make([]byte, capacity),
			capacity: capacity,
			slots:    task.NewSemaphore(&task.Sched, uint32(capacity)),
			avail:    task.NewSemaphore(&task.Sched, 0),
			readers:  1,
			writers:  1,
		}
		p.lock = *task.NewLock(&task.Sched)
		table[i] = p

		return i, nil
	}

	return -1, ErrExhaust
}

// Get returns the pipe at index i, or nil if the slot is empty.
func Get(i int) *Pipe {
	if i < 0 || i >= MaxPipes {
		return nil
	}
	return table[i]
}

// AddReader/AddWriter bump the pipe's end-reference counters; fork calls
// these when it duplicates a file descriptor pointing at a pipe end.
func (p *Pipe) AddReader() { p.readers++ }
func (p *Pipe) AddWriter() { p.writers++ }

// CloseReader/CloseWriter drop an end-reference. When the last writer
// closes, the pipe is marked end-of-stream and any reader blocked on
// avail.down is released with a zero-length read.
func (p *Pipe) CloseReader(i int) {
	p.readers--
	p.maybeFree(i)
}

func (p *Pipe) CloseWriter(i int) {
	p.writers--
	if p.writers == 0 {
		p.lock.Lock()
		p.eof = true
		p.lock.Unlock()
		for n := 0; n < p.capacity; n++ {
			p.avail.Up()
		}
	}
	p.maybeFree(i)
}

func (p *Pipe) maybeFree(i int) {
	if p.readers == 0 && p.writers == 0 && i >= 0 && i < MaxPipes {
		table[i] = nil
	}
}

// Write pushes len(data) bytes one at a time: down a free slot, enqueue,
// up the available-bytes count. It blocks while the buffer is full.
func (p *Pipe) Write(data []byte) (int, error) {
	if p.readers == 0 {
		return 0, ErrClosed
	}

	for _, b := range data {
		p.slots.Down()

		p.lock.Lock()
		p.buf[(p.head+p.count)%p.capacity] = b
		p.count++
		p.lock.Unlock()

		p.avail.Up()
	}

	return len(data), nil
}

// Read pulls up to len(buf) bytes one at a time: down an available byte,
// dequeue, up a free slot. It blocks while the buffer is empty, and
// returns 0 once end-of-stream has been signalled and the buffer drains.
func (p *Pipe) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		p.avail.Down()

		p.lock.Lock()
		if p.count == 0 {
			// Released by an end-of-stream flush rather than a real byte.
			eof := p.eof
			p.lock.Unlock()
			if eof {
				break
			}
			continue
		}

		b := p.buf[p.head]
		p.head = (p.head + 1) % p.capacity
		p.count--
		p.lock.Unlock()

		buf[n] = b
		n++
		p.slots.Up()
	}

	return n, nil
}
