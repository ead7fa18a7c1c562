package task

// FDKind tags what a file descriptor slot actually refers to, so the
// unified read/write syscalls can dispatch without the task package
// needing to import the file system or pipe packages.
type FDKind int

// File descriptor kinds.
const (
	FDNone FDKind = iota
	FDRegular
	FDPipe
)

// FD is one entry of a task's private file-descriptor table. Handle is an
// opaque reference owned by whichever package installed it (fs.FileHandle
// for FDRegular, a pipe end for FDPipe); callers type-assert it back.
type FD struct {
	Kind   FDKind
	Handle interface{}
}

// MaxFDs bounds a single task's file-descriptor table.
const MaxFDs = 16

// FDTable is a task's private, fixed-size file-descriptor table. fork
// duplicates its entries verbatim (bumping whatever refcount the
// underlying handle carries); exec clears it to empty.
type FDTable struct {
	slots [MaxFDs]FD
}

// Install places fd in the first empty slot and returns its index, or -1
// if the table is full.
func (t *FDTable) Install(fd FD) int {
	for i := range t.slots {
		if t.slots[i].Kind == FDNone {
			t.slots[i] = fd
			return i
		}
	}
	return -1
}

// Get returns the descriptor at index i and whether it is occupied.
func (t *FDTable) Get(i int) (FD, bool) {
	if i < 0 || i >= MaxFDs || t.slots[i].Kind == FDNone {
		return FD{}, false
	}
	return t.slots[i], true
}

// Set installs fd at exactly slot i, overwriting whatever was there.
// fd_redirect (dup2-style descriptor aliasing) needs the target slot
// number fixed rather than letting Install pick the first free one.
func (t *FDTable) Set(i int, fd FD) {
	if i < 0 || i >= MaxFDs {
		return
	}
	t.slots[i] = fd
}

// Clear empties slot i.
func (t *FDTable) Clear(i int) {
	if i < 0 || i >= MaxFDs {
		return
	}
	t.slots[i] = FD{}
}

// CloneInto copies every occupied slot of t into dst, for fork.
func (t *FDTable) CloneInto(dst *FDTable) {
	*dst = *t
}

// Reset empties every slot, for exec.
func (t *FDTable) Reset() {
	*t = FDTable{}
}
