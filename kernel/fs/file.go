package fs

import "pios/kernel/sync"

// MaxOpenFiles is the fixed size of the global open-file table.
const MaxOpenFiles = 32

// openFile is one slot of the global open-file table.
type openFile struct {
	inode    *OpenedInode
	position uint32
	refCount int
	inUse    bool
}

// OpenFileTable is the fixed-size, process-wide table every file
// descriptor ultimately indexes into (directly, or via a task's private
// file-descriptor table).
type OpenFileTable struct {
	lock  sync.Spinlock
	files [MaxOpenFiles]openFile
}

// Global is the kernel-wide open-file table.
var Global OpenFileTable

// FileHandle is a reference-counted handle into the global open-file
// table, returned by Create/Open.
type FileHandle struct {
	table *OpenFileTable
	slot  int
}

func (t *OpenFileTable) alloc(oi *OpenedInode, pos uint32) (FileHandle, error) {
	t.lock.Acquire()
	defer t.lock.Release()

	for i := range t.files {
		if t.files[i].inUse {
			continue
		}
		t.files[i] = openFile{inode: oi, position: pos, refCount: 1, inUse: true}
		return FileHandle{table: t, slot: i}, nil
	}

	return FileHandle{}, ErrOpenFileExhaust
}

func (t *OpenFileTable) slotAt(h FileHandle) *openFile {
	return &t.files[h.slot]
}

// Dup increments h's reference count, modeling the bump a fork() performs
// on every inherited descriptor without reopening the underlying inode.
func (t *OpenFileTable) Dup(h FileHandle) FileHandle {
	t.lock.Acquire()
	defer t.lock.Release()
	t.slotAt(h).refCount++
	return h
}

// Close decrements h's reference count and, once it drops to zero, closes
// the underlying inode and frees the table slot.
func (t *OpenFileTable) Close(h FileHandle) {
	t.lock.Acquire()
	f := t.slotAt(h)
	f.refCount--
	if f.refCount > 0 {
		t.lock.Release()
		return
	}

	oi := f.inode
	*f = openFile{}
	t.lock.Release()

	oi.Partition.closeInode(oi)
}

// Create resolves path's parent, refuses if the target already exists,
// allocates a fresh inode, links it into the parent directory, and
// installs an open-file slot positioned at the end (truncate/append
// semantics for a brand-new, empty file coincide).
func Create(p *Partition, path string) (FileHandle, error) {
	parent, name, err := p.walkParent(path)
	if err != nil {
		return FileHandle{}, err
	}
	defer p.closeInode(parent)

	if _, _, _, err := p.findEntry(parent, name); err == nil {
		return FileHandle{}, ErrAlreadyExists
	}

	no, err := p.allocInode()
	if err != nil {
		return FileHandle{}, err
	}

	ino := Inode{Number: no}
	if err := p.writeInode(&ino); err != nil {
		return FileHandle{}, err
	}

	entry := DirEntry{InodeNumber: no, Type: FileTypeRegular}
	entry.SetName(name)
	if err := p.appendEntry(parent, entry); err != nil {
		return FileHandle{}, err
	}

	oi, err := p.openInode(no)
	if err != nil {
		return FileHandle{}, err
	}

	return Global.alloc(oi, 0)
}

// Open resolves path and installs an open-file slot positioned at 0 (or at
// end-of-file when append is true).
func Open(p *Partition, path string, appendMode bool) (FileHandle, error) {
	oi, err := p.walkPath(path)
	if err != nil {
		return FileHandle{}, err
	}

	pos := uint32(0)
	if appendMode {
		pos = oi.Inode.Size
	}

	return Global.alloc(oi, pos)
}

// Mkdir creates a new, empty directory at path containing "." and ".."
// entries pointing at itself and at the parent respectively.
func Mkdir(p *Partition, path string) error {
	parent, name, err := p.walkParent(path)
	if err != nil {
		return err
	}
	defer p.closeInode(parent)

	if _, _, _, err := p.findEntry(parent, name); err == nil {
		return ErrAlreadyExists
	}

	no, err := p.allocInode()
	if err != nil {
		return err
	}

	lba, err := p.allocBlock()
	if err != nil {
		return err
	}

	ino := Inode{Number: no, Size: 2 * dirEntryOnDiskSize}
	ino.Direct[0] = lba
	if err := p.writeInode(&ino); err != nil {
		return err
	}

	var buf [SectorSize]byte
	dot := DirEntry{InodeNumber: no, Type: FileTypeDirectory}
	dot.SetName(".")
	dot.Marshal(buf[0:dirEntryOnDiskSize])

	dotdot := DirEntry{InodeNumber: parent.Inode.Number, Type: FileTypeDirectory}
	dotdot.SetName("..")
	dotdot.Marshal(buf[dirEntryOnDiskSize : 2*dirEntryOnDiskSize])

	if err := p.Disk.WriteSector(lba, buf[:]); err != nil {
		return err
	}

	entry := DirEntry{InodeNumber: no, Type: FileTypeDirectory}
	entry.SetName(name)
	return p.appendEntry(parent, entry)
}

// Read reads from h's current position into buf, advancing the position
// by the number of bytes actually read. It returns 0 at end-of-file.
func Read(h FileHandle, buf []byte) (int, error) {
	f := h.table.slotAt(h)
	oi := f.inode

	if f.position >= oi.Inode.Size {
		return 0, nil
	}

	remaining := oi.Inode.Size - f.position
	n := uint32(len(buf))
	if n > remaining {
		n = remaining
	}

	read := uint32(0)
	var sector [SectorSize]byte
	for read < n {
		blockIdx := (f.position + read) / SectorSize
		blockOff := (f.position + read) % SectorSize

		lba, err := oi.blockLBA(blockIdx)
		if err != nil {
			return int(read), err
		}
		if lba == 0 {
			break
		}
		if err := oi.Partition.Disk.ReadSector(lba, sector[:]); err != nil {
			return int(read), err
		}

		chunk := SectorSize - blockOff
		if chunk > n-read {
			chunk = n - read
		}
		copy(buf[read:read+chunk], sector[blockOff:blockOff+chunk])
		read += chunk
	}

	f.position += read
	return int(read), nil
}

// Write writes buf to h's current position, allocating fresh data blocks
// as needed and persisting the inode when its size or block map changes.
func Write(h FileHandle, buf []byte) (int, error) {
	f := h.table.slotAt(h)
	oi := f.inode

	oi.writeLock.Acquire()
	defer oi.writeLock.Release()

	written := uint32(0)
	n := uint32(len(buf))
	var sector [SectorSize]byte

	for written < n {
		blockIdx := (f.position + written) / SectorSize
		blockOff := (f.position + written) % SectorSize

		lba, err := oi.ensureBlock(blockIdx)
		if err != nil {
			return int(written), err
		}

		chunk := SectorSize - blockOff
		if chunk > n-written {
			chunk = n - written
		}

		if blockOff != 0 || chunk != SectorSize {
			if err := oi.Partition.Disk.ReadSector(lba, sector[:]); err != nil {
				return int(written), err
			}
		}
		copy(sector[blockOff:blockOff+chunk], buf[written:written+chunk])
		if err := oi.Partition.Disk.WriteSector(lba, sector[:]); err != nil {
			return int(written), err
		}

		written += chunk
	}

	f.position += written
	if f.position > oi.Inode.Size {
		oi.Inode.Size = f.position
		if err := oi.Partition.writeInode(&oi.Inode); err != nil {
			return int(written), err
		}
	}

	return int(written), nil
}

// Seek repositions h to a start-anchored offset.
func Seek(h FileHandle, offset uint32) {
	h.table.slotAt(h).position = offset
}

// Size returns the file's current size in bytes.
func Size(h FileHandle) uint32 {
	return h.table.slotAt(h).inode.Inode.Size
}

// Remove deletes the regular file at path: rejects directories, rejects a
// target still referenced by an open-file slot, frees its data blocks and
// inode bitmap bit, and erases its directory entry.
func Remove(p *Partition, path string) error {
	parent, name, err := p.walkParent(path)
	if err != nil {
		return err
	}
	defer p.closeInode(parent)

	entry, _, _, err := p.findEntry(parent, name)
	if err != nil {
		return err
	}
	if entry.Type == FileTypeDirectory {
		return ErrIsADirectory
	}

	oi, err := p.openInode(entry.InodeNumber)
	if err != nil {
		return err
	}
	defer p.closeInode(oi)

	if oi.OpenCount > 1 {
		return ErrPermissionDenied
	}

	blockCount := ceilDiv(oi.Inode.Size, SectorSize)
	for i := uint32(0); i < blockCount; i++ {
		lba, err := oi.blockLBA(i)
		if err != nil {
			return err
		}
		if lba != 0 {
			if err := p.freeBlock(lba); err != nil {
				return err
			}
		}
	}
	if oi.Inode.Indirect != 0 {
		if err := p.freeBlock(oi.Inode.Indirect); err != nil {
			return err
		}
	}

	if err := p.freeInode(entry.InodeNumber); err != nil {
		return err
	}

	return p.removeEntry(parent, name)
}

// Rmdir removes the empty directory at path (only "." and ".." present).
func Rmdir(p *Partition, path string) error {
	parent, name, err := p.walkParent(path)
	if err != nil {
		return err
	}
	defer p.closeInode(parent)

	entry, _, _, err := p.findEntry(parent, name)
	if err != nil {
		return err
	}
	if entry.Type != FileTypeDirectory {
		return ErrNotFound
	}

	dir, err := p.openInode(entry.InodeNumber)
	if err != nil {
		return err
	}
	defer p.closeInode(dir)

	if dir.Inode.Size > 2*dirEntryOnDiskSize {
		return ErrDirectoryNotEmpty
	}

	lba, err := dir.blockLBA(0)
	if err != nil {
		return err
	}
	if lba != 0 {
		if err := p.freeBlock(lba); err != nil {
			return err
		}
	}

	if err := p.freeInode(entry.InodeNumber); err != nil {
		return err
	}

	return p.removeEntry(parent, name)
}
