package syscall

import (
	"pios/kernel/fs"
	"pios/kernel/hal"
	"pios/kernel/kfmt"
	"pios/kernel/pipe"
	"pios/kernel/proc"
	"pios/kernel/task"
	"reflect"
	"unsafe"
)

// Call numbers. spec.md names the registered calls but not their eax
// values; this numbering is an implementation detail invented here, kept
// stable by being declared once as consts rather than scattered literals.
const (
	numGetPID uint8 = iota
	numWrite
	numRead
	numPrint
	numMalloc
	numFree
	numFork
	numYield
	numClearScreen
	numReadDir
	numCreateDir
	numCreateDirAll
	numRemoveDir
	numIterNext
	numIterDrop
	numOpen
	numSeek
	numClose
	numSize
	numCreate
	numRemove
	numExec
	numExit
	numWait
	numCwd
	numCd
	numPipe
	numPipeEnd
	numFdRedirect
)

// fdEnd tags a pipe-backed file descriptor with the direction it was
// opened for, since a pipe's two ends share one table slot but close and
// block independently.
type fdEnd struct {
	index     int
	writeSide bool
}

// activePartition is the file system the path-taking calls resolve
// against. The real kernel has exactly one mounted partition; SetPartition
// installs it once at boot.
var activePartition *fs.Partition

// SetPartition installs the file system every path-based syscall resolves
// against.
func SetPartition(p *fs.Partition) { activePartition = p }

// maxDirIters bounds the table of in-flight read_dir iterators, mirroring
// the fixed-slot-table idiom every other per-resource table in this kernel
// uses (task.Scheduler's task table, fs.OpenFileTable, pipe's pipe table).
const maxDirIters = 8

var dirIters [maxDirIters]*fs.ReadDirIterator

func allocDirIter(it *fs.ReadDirIterator) int32 {
	for i := range dirIters {
		if dirIters[i] == nil {
			dirIters[i] = it
			return int32(i)
		}
	}
	it.Close()
	return -1
}

// userBytes overlays a []byte on top of a raw user-space address, the same
// technique mem.Memset/mem.Memmove use to address physical frames without
// a native slice. It is the one piece of genuine user/kernel boundary
// crossing a hosted hypothetical syscall implementation can express in
// ordinary Go; a real build additionally validates that [addr, addr+length)
// falls inside the calling process's mapped pool before dereferencing it,
// which this package does not do.
func userBytes(addr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(addr),
		Len:  int(length),
		Cap:  int(length),
	}))
}

// userString reads a NUL-terminated string out of user memory at addr.
func userString(addr uint32) string {
	if addr == 0 {
		return ""
	}
	n := uint32(0)
	for *(*byte)(unsafe.Pointer(uintptr(addr + n))) != 0 {
		n++
	}
	return string(userBytes(addr, n))
}

// splitAbsolutePath breaks path into its non-empty components, for
// create_dir_all's incremental mkdir walk.
func splitAbsolutePath(path string) []string {
	var comps []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				comps = append(comps, path[start:i])
			}
			start = i + 1
		}
	}
	return comps
}

// resolvePath turns a task-relative path into an absolute one using the
// calling process's current working directory, mirroring a shell's own
// relative-path resolution.
func resolvePath(p *proc.Process, path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path
	}
	if p.Task.Cwd == "/" {
		return "/" + path
	}
	return p.Task.Cwd + "/" + path
}

// closeFD releases whatever underlying resource fd refers to (global
// open-file slot or pipe end) and clears the task's descriptor slot.
func closeFD(t *task.Task, fdNum int) {
	fd, ok := t.FDs.Get(fdNum)
	if !ok {
		return
	}
	switch fd.Kind {
	case task.FDRegular:
		fs.Global.Close(fd.Handle.(fs.FileHandle))
	case task.FDPipe:
		end := fd.Handle.(fdEnd)
		p := pipe.Get(end.index)
		if p != nil {
			if end.writeSide {
				p.CloseWriter(end.index)
			} else {
				p.CloseReader(end.index)
			}
		}
	}
	t.FDs.Clear(fdNum)
}

// Init registers every syscall spec.md's dispatch table names against this
// process/file-system/pipe machinery. It must run once, after
// task.Sched.Init and before the first int 0x80 trap is ever serviced.
func Init() {
	Register(numGetPID, Zero, func() int32 {
		return proc.Current().Task.PID
	})

	Register(numYield, Zero, func() int32 {
		task.Sched.Yield()
		return 0
	})

	Register(numFork, Zero, func() int32 {
		child, err := proc.Fork(proc.Current())
		if err != nil {
			return -1
		}
		return child.Task.PID
	})

	Register(numExit, One, func(code uint32) int32 {
		proc.Exit(proc.Current(), int32(code))
		return 0
	})

	Register(numWait, Zero, func() int32 {
		pid, _, err := proc.Wait(proc.Current().Task)
		if err != nil {
			return -1
		}
		return pid
	})

	Register(numMalloc, One, func(size uint32) int32 {
		addr, err := proc.Current().Task.Heap.Alloc(size)
		if err != nil {
			return -1
		}
		return int32(addr)
	})

	Register(numFree, One, func(addr uint32) int32 {
		proc.Current().Task.Heap.Free(uintptr(addr))
		return 0
	})

	Register(numPrint, Two, func(addr, length uint32) int32 {
		kfmt.Printf("%s", string(userBytes(addr, length)))
		return int32(length)
	})

	Register(numClearScreen, Zero, func() int32 {
		hal.ClearConsole()
		return 0
	})

	Register(numCwd, One, func(addr uint32) int32 {
		cwd := proc.Current().Task.Cwd
		copy(userBytes(addr, uint32(len(cwd)+1)), append([]byte(cwd), 0))
		return int32(len(cwd))
	})

	Register(numCd, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		path := resolvePath(p, userString(pathAddr))
		it, err := fs.OpenDir(activePartition, path)
		if err != nil {
			return -1
		}
		it.Close()
		p.Task.Cwd = path
		return 0
	})

	Register(numCreateDir, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		if err := fs.Mkdir(activePartition, resolvePath(p, userString(pathAddr))); err != nil {
			return -1
		}
		return 0
	})

	Register(numCreateDirAll, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		full := resolvePath(p, userString(pathAddr))

		built := ""
		for _, comp := range splitAbsolutePath(full) {
			built += "/" + comp
			if err := fs.Mkdir(activePartition, built); err != nil && err != fs.ErrAlreadyExists {
				return -1
			}
		}
		return 0
	})

	Register(numRemoveDir, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		if err := fs.Rmdir(activePartition, resolvePath(p, userString(pathAddr))); err != nil {
			return -1
		}
		return 0
	})

	Register(numReadDir, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		it, err := fs.OpenDir(activePartition, resolvePath(p, userString(pathAddr)))
		if err != nil {
			return -1
		}
		return allocDirIter(it)
	})

	Register(numIterNext, Three, func(handle, nameAddr, nameCap uint32) int32 {
		if int(handle) >= maxDirIters || dirIters[handle] == nil {
			return -1
		}
		entry, ok, err := dirIters[handle].Next()
		if err != nil || !ok {
			return -1
		}
		name := entry.NameString()
		if uint32(len(name)+1) > nameCap {
			return -1
		}
		copy(userBytes(nameAddr, uint32(len(name)+1)), append([]byte(name), 0))
		return int32(len(name))
	})

	Register(numIterDrop, One, func(handle uint32) int32 {
		if int(handle) >= maxDirIters || dirIters[handle] == nil {
			return -1
		}
		dirIters[handle].Close()
		dirIters[handle] = nil
		return 0
	})

	Register(numOpen, Two, func(pathAddr, appendMode uint32) int32 {
		p := proc.Current()
		h, err := fs.Open(activePartition, resolvePath(p, userString(pathAddr)), appendMode != 0)
		if err != nil {
			return -1
		}
		fd := p.Task.FDs.Install(task.FD{Kind: task.FDRegular, Handle: h})
		if fd < 0 {
			fs.Global.Close(h)
		}
		return int32(fd)
	})

	Register(numCreate, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		h, err := fs.Create(activePartition, resolvePath(p, userString(pathAddr)))
		if err != nil {
			return -1
		}
		fd := p.Task.FDs.Install(task.FD{Kind: task.FDRegular, Handle: h})
		if fd < 0 {
			fs.Global.Close(h)
		}
		return int32(fd)
	})

	Register(numRemove, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		if err := fs.Remove(activePartition, resolvePath(p, userString(pathAddr))); err != nil {
			return -1
		}
		return 0
	})

	Register(numClose, One, func(fdNum uint32) int32 {
		closeFD(proc.Current().Task, int(fdNum))
		return 0
	})

	Register(numSeek, Two, func(fdNum, offset uint32) int32 {
		fd, ok := proc.Current().Task.FDs.Get(int(fdNum))
		if !ok || fd.Kind != task.FDRegular {
			return -1
		}
		fs.Seek(fd.Handle.(fs.FileHandle), offset)
		return 0
	})

	Register(numSize, One, func(fdNum uint32) int32 {
		fd, ok := proc.Current().Task.FDs.Get(int(fdNum))
		if !ok || fd.Kind != task.FDRegular {
			return -1
		}
		return int32(fs.Size(fd.Handle.(fs.FileHandle)))
	})

	Register(numRead, Three, func(fdNum, bufAddr, length uint32) int32 {
		fd, ok := proc.Current().Task.FDs.Get(int(fdNum))
		if !ok {
			return -1
		}
		buf := userBytes(bufAddr, length)
		switch fd.Kind {
		case task.FDRegular:
			n, err := fs.Read(fd.Handle.(fs.FileHandle), buf)
			if err != nil {
				return -1
			}
			return int32(n)
		case task.FDPipe:
			end := fd.Handle.(fdEnd)
			p := pipe.Get(end.index)
			if p == nil {
				return -1
			}
			n, err := p.Read(buf)
			if err != nil {
				return -1
			}
			return int32(n)
		default:
			return -1
		}
	})

	Register(numWrite, Three, func(fdNum, bufAddr, length uint32) int32 {
		fd, ok := proc.Current().Task.FDs.Get(int(fdNum))
		if !ok {
			return -1
		}
		buf := userBytes(bufAddr, length)
		switch fd.Kind {
		case task.FDRegular:
			n, err := fs.Write(fd.Handle.(fs.FileHandle), buf)
			if err != nil {
				return -1
			}
			return int32(n)
		case task.FDPipe:
			end := fd.Handle.(fdEnd)
			p := pipe.Get(end.index)
			if p == nil {
				return -1
			}
			n, err := p.Write(buf)
			if err != nil {
				return -1
			}
			return int32(n)
		default:
			return -1
		}
	})

	Register(numPipe, One, func(capacity uint32) int32 {
		idx, err := pipe.New(int(capacity))
		if err != nil {
			return -1
		}
		p := proc.Current()
		readFD := p.Task.FDs.Install(task.FD{Kind: task.FDPipe, Handle: fdEnd{index: idx, writeSide: false}})
		writeFD := p.Task.FDs.Install(task.FD{Kind: task.FDPipe, Handle: fdEnd{index: idx, writeSide: true}})
		if readFD < 0 || writeFD < 0 {
			return -1
		}
		return int32(readFD)<<16 | int32(writeFD)
	})

	Register(numPipeEnd, One, func(fdNum uint32) int32 {
		closeFD(proc.Current().Task, int(fdNum))
		return 0
	})

	Register(numFdRedirect, Two, func(srcFD, dstFD uint32) int32 {
		t := proc.Current().Task
		src, ok := t.FDs.Get(int(srcFD))
		if !ok {
			return -1
		}
		closeFD(t, int(dstFD))

		switch src.Kind {
		case task.FDRegular:
			fs.Global.Dup(src.Handle.(fs.FileHandle))
		case task.FDPipe:
			end := src.Handle.(fdEnd)
			if p := pipe.Get(end.index); p != nil {
				if end.writeSide {
					p.AddWriter()
				} else {
					p.AddReader()
				}
			}
		}

		t.FDs.Set(int(dstFD), src)
		return 0
	})

	Register(numExec, One, func(pathAddr uint32) int32 {
		p := proc.Current()
		if err := proc.Exec(p, activePartition, resolvePath(p, userString(pathAddr))); err != nil {
			return -1
		}
		return 0
	})
}
