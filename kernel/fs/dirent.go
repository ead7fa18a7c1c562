package fs

import "strings"

// isEmptySlot reports whether entry at block-relative index slot within
// directory dirInode counts as "empty" for placement/removal purposes. An
// entry is empty only when its inode number is zero and its name is blank,
// so "." and ".." entries that point at the root (inode 0) are never empty.
// The root directory's "." entry (block 0, slot 0) is never treated as a
// free slot either.
func isEmptySlot(dirInodeNumber uint32, blockIdx, slot uint32, entry *DirEntry) bool {
	if dirInodeNumber == RootInode && blockIdx == 0 && slot == 0 {
		return false
	}
	return entry.InodeNumber == 0 && entry.NameString() == ""
}

// splitPath breaks an absolute path into its non-empty components.
func splitPath(path string) []string {
	var comps []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			comps = append(comps, c)
		}
	}
	return comps
}

// walkPath resolves path starting from the partition's root inode,
// returning the OpenedInode of the final component. The caller is
// responsible for closing the returned inode via p.closeInode.
func (p *Partition) walkPath(path string) (*OpenedInode, error) {
	comps := splitPath(path)

	cur, err := p.openInode(p.Superblock.RootInode)
	if err != nil {
		return nil, err
	}

	for _, name := range comps {
		if len(name) > NameLen {
			p.closeInode(cur)
			return nil, ErrFilePathIllegal
		}

		next, err := p.lookupInDir(cur, name)
		p.closeInode(cur)
		if err != nil {
			return nil, err
		}

		cur = next
	}

	return cur, nil
}

// walkParent resolves path up to (but not including) its final component,
// returning the parent directory's OpenedInode and the final component's
// name.
func (p *Partition) walkParent(path string) (*OpenedInode, string, error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return nil, "", ErrFilePathIllegal
	}

	parentPath := "/" + strings.Join(comps[:len(comps)-1], "/")
	parent, err := p.walkPath(parentPath)
	if err != nil {
		return nil, "", err
	}

	return parent, comps[len(comps)-1], nil
}

// lookupInDir scans dir's mapped data blocks (direct, then indirect) for
// an entry named name, opening and returning the matching inode.
func (p *Partition) lookupInDir(dir *OpenedInode, name string) (*OpenedInode, error) {
	entry, _, _, err := p.findEntry(dir, name)
	if err != nil {
		return nil, err
	}

	return p.openInode(entry.InodeNumber)
}

// findEntry scans dir's directory blocks for the entry named name,
// returning the entry plus its block index and in-block slot so callers
// can rewrite it in place.
func (p *Partition) findEntry(dir *OpenedInode, name string) (DirEntry, uint32, uint32, error) {
	blockCount := ceilDiv(dir.Inode.Size, dirEntryOnDiskSize*DirEntriesPerSector)
	if blockCount == 0 {
		blockCount = 1
	}

	var buf [SectorSize]byte
	for blockIdx := uint32(0); blockIdx < blockCount; blockIdx++ {
		lba, err := dir.blockLBA(blockIdx)
		if err != nil {
			return DirEntry{}, 0, 0, err
		}
		if lba == 0 {
			break
		}

		if err := dir.Partition.Disk.ReadSector(lba, buf[:]); err != nil {
			return DirEntry{}, 0, 0, err
		}

		for slot := uint32(0); slot < DirEntriesPerSector; slot++ {
			off := slot * dirEntryOnDiskSize
			var entry DirEntry
			entry.Unmarshal(buf[off : off+dirEntryOnDiskSize])

			if isEmptySlot(dir.Inode.Number, blockIdx, slot, &entry) {
				continue
			}
			if entry.NameString() == name {
				return entry, blockIdx, slot, nil
			}
		}
	}

	return DirEntry{}, 0, 0, ErrNotFound
}

// appendEntry installs entry into dir, reusing the first empty slot found
// in an already-mapped block, or growing the directory by one block
// (direct first, then indirect) if none is free.
func (p *Partition) appendEntry(dir *OpenedInode, entry DirEntry) error {
	blockCount := ceilDiv(dir.Inode.Size, dirEntryOnDiskSize*DirEntriesPerSector)
	if blockCount == 0 {
		blockCount = 1
	}

	var buf [SectorSize]byte
	for blockIdx := uint32(0); blockIdx < blockCount; blockIdx++ {
		lba, err := dir.blockLBA(blockIdx)
		if err != nil {
			return err
		}
		if lba == 0 {
			break
		}

		if err := dir.Partition.Disk.ReadSector(lba, buf[:]); err != nil {
			return err
		}

		for slot := uint32(0); slot < DirEntriesPerSector; slot++ {
			off := slot * dirEntryOnDiskSize
			var existing DirEntry
			existing.Unmarshal(buf[off : off+dirEntryOnDiskSize])

			if !isEmptySlot(dir.Inode.Number, blockIdx, slot, &existing) {
				continue
			}

			entry.Marshal(buf[off : off+dirEntryOnDiskSize])
			if err := dir.Partition.Disk.WriteSector(lba, buf[:]); err != nil {
				return err
			}

			dir.Inode.Size += dirEntryOnDiskSize
			return dir.Partition.writeInode(&dir.Inode)
		}
	}

	// No free slot in any mapped block: grow the directory by one block.
	lba, err := dir.ensureBlock(blockCount)
	if err != nil {
		return err
	}

	var fresh [SectorSize]byte
	entry.Marshal(fresh[0:dirEntryOnDiskSize])
	if err := dir.Partition.Disk.WriteSector(lba, fresh[:]); err != nil {
		return err
	}

	dir.Inode.Size += dirEntryOnDiskSize
	return dir.Partition.writeInode(&dir.Inode)
}

// removeEntry clears the directory entry matching name: sets its inode
// number to 0 and shrinks the parent's size bookkeeping by one entry.
func (p *Partition) removeEntry(dir *OpenedInode, name string) error {
	_, blockIdx, slot, err := p.findEntry(dir, name)
	if err != nil {
		return err
	}

	lba, err := dir.blockLBA(blockIdx)
	if err != nil {
		return err
	}

	var buf [SectorSize]byte
	if err := dir.Partition.Disk.ReadSector(lba, buf[:]); err != nil {
		return err
	}

	off := slot * dirEntryOnDiskSize
	var cleared DirEntry
	cleared.Marshal(buf[off : off+dirEntryOnDiskSize])
	if err := dir.Partition.Disk.WriteSector(lba, buf[:]); err != nil {
		return err
	}

	if dir.Inode.Size >= dirEntryOnDiskSize {
		dir.Inode.Size -= dirEntryOnDiskSize
	}
	return dir.Partition.writeInode(&dir.Inode)
}

// ReadDirIterator walks a directory's entries in on-disk order, yielding
// each non-empty entry. It owns a one-sector buffer that is released when
// the directory's inode reference is closed via Close.
type ReadDirIterator struct {
	dir        *OpenedInode
	blockIdx   uint32
	slot       uint32
	buf        [SectorSize]byte
	bufBlock   uint32
	bufLoaded  bool
}

// OpenReadDir starts a directory iteration over dir. The returned
// iterator holds a reference on dir; call Close when done.
func OpenReadDir(dir *OpenedInode) *ReadDirIterator {
	return &ReadDirIterator{dir: dir}
}

// OpenDir resolves path and starts a directory iteration over it, rejecting
// anything that is not a directory. The returned iterator's Close releases
// the directory inode it opened.
func OpenDir(p *Partition, path string) (*ReadDirIterator, error) {
	oi, err := p.walkPath(path)
	if err != nil {
		return nil, err
	}

	if oi.Inode.Number != p.Superblock.RootInode {
		parent, name, perr := p.walkParent(path)
		if perr != nil {
			p.closeInode(oi)
			return nil, perr
		}
		entry, _, _, ferr := p.findEntry(parent, name)
		p.closeInode(parent)
		if ferr != nil {
			p.closeInode(oi)
			return nil, ferr
		}
		if entry.Type != FileTypeDirectory {
			p.closeInode(oi)
			return nil, ErrNotFound
		}
	}

	return OpenReadDir(oi), nil
}

// Next advances the iterator, returning the next non-empty entry. ok is
// false once the directory's block map is exhausted.
func (it *ReadDirIterator) Next() (entry DirEntry, ok bool, err error) {
	blockCount := ceilDiv(it.dir.Inode.Size, dirEntryOnDiskSize*DirEntriesPerSector)
	if blockCount == 0 {
		blockCount = 1
	}

	for it.blockIdx < blockCount {
		if !it.bufLoaded || it.bufBlock != it.blockIdx {
			lba, lerr := it.dir.blockLBA(it.blockIdx)
			if lerr != nil {
				return DirEntry{}, false, lerr
			}
			if lba == 0 {
				return DirEntry{}, false, nil
			}
			if lerr := it.dir.Partition.Disk.ReadSector(lba, it.buf[:]); lerr != nil {
				return DirEntry{}, false, lerr
			}
			it.bufBlock = it.blockIdx
			it.bufLoaded = true
		}

		for it.slot < DirEntriesPerSector {
			off := it.slot * dirEntryOnDiskSize
			var e DirEntry
			e.Unmarshal(it.buf[off : off+dirEntryOnDiskSize])
			it.slot++

			if isEmptySlot(it.dir.Inode.Number, it.blockIdx, it.slot-1, &e) {
				continue
			}
			return e, true, nil
		}

		it.slot = 0
		it.blockIdx++
		it.bufLoaded = false
	}

	return DirEntry{}, false, nil
}

// Close releases the iterator's reference on its directory inode.
func (it *ReadDirIterator) Close() {
	it.dir.Partition.closeInode(it.dir)
}
