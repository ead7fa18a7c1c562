package fs

import (
	"encoding/binary"
	"pios/kernel/sync"
)

// OpenedInode wraps an on-disk Inode with the bookkeeping needed while it
// is referenced by at least one open-file slot: a reference count, a
// write-serializing lock, and a fully materialized (lazily loaded) copy of
// its indirect block.
type OpenedInode struct {
	Partition *Partition
	Inode     Inode

	OpenCount int

	writeLock sync.Spinlock

	indirect       [IndirectEntries]uint32
	indirectLoaded bool
}

// openInode looks up no in the partition's open-inode list, bumping its
// reference count if found; otherwise it reads the inode from disk and adds
// it to the list. The indirect block is read later, on first use, by
// loadIndirect.
func (p *Partition) openInode(no uint32) (*OpenedInode, error) {
	p.openInodesLock.Acquire()
	defer p.openInodesLock.Release()

	for _, oi := range p.openInodes {
		if oi.Inode.Number == no {
			oi.OpenCount++
			return oi, nil
		}
	}

	ino, err := p.readInode(no)
	if err != nil {
		return nil, err
	}

	oi := &OpenedInode{Partition: p, Inode: ino, OpenCount: 1}
	p.openInodes = append(p.openInodes, oi)

	return oi, nil
}

// closeInode decrements oi's reference count and, once it drops to zero,
// removes it from the partition's open-inode list.
func (p *Partition) closeInode(oi *OpenedInode) {
	p.openInodesLock.Acquire()
	defer p.openInodesLock.Release()

	oi.OpenCount--
	if oi.OpenCount > 0 {
		return
	}

	for i, cand := range p.openInodes {
		if cand == oi {
			p.openInodes = append(p.openInodes[:i], p.openInodes[i+1:]...)
			break
		}
	}
}

// loadIndirect lazily reads oi's indirect block into its in-memory cache.
func (oi *OpenedInode) loadIndirect() error {
	if oi.indirectLoaded {
		return nil
	}

	if oi.Inode.Indirect == 0 {
		oi.indirectLoaded = true
		return nil
	}

	var buf [SectorSize]byte
	if err := oi.Partition.Disk.ReadSector(oi.Inode.Indirect, buf[:]); err != nil {
		return err
	}

	for i := 0; i < IndirectEntries; i++ {
		oi.indirect[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	oi.indirectLoaded = true

	return nil
}

func (oi *OpenedInode) persistIndirect() error {
	var buf [SectorSize]byte
	for i := 0; i < IndirectEntries; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], oi.indirect[i])
	}
	return oi.Partition.Disk.WriteSector(oi.Inode.Indirect, buf[:])
}

// blockLBA returns the data-block LBA mapped at block index idx (0-based,
// spanning direct then indirect), or 0 if unmapped.
func (oi *OpenedInode) blockLBA(idx uint32) (uint32, error) {
	if idx < DirectBlocks {
		return oi.Inode.Direct[idx], nil
	}

	if err := oi.loadIndirect(); err != nil {
		return 0, err
	}

	return oi.indirect[idx-DirectBlocks], nil
}

// ensureBlock returns the LBA mapped at block index idx, allocating and
// persisting a fresh data block (and, if needed, the indirect block
// itself) the first time idx is referenced.
func (oi *OpenedInode) ensureBlock(idx uint32) (uint32, error) {
	if idx < DirectBlocks {
		if lba := oi.Inode.Direct[idx]; lba != 0 {
			return lba, nil
		}

		lba, err := oi.Partition.allocBlock()
		if err != nil {
			return 0, err
		}
		oi.Inode.Direct[idx] = lba
		return lba, oi.Partition.writeInode(&oi.Inode)
	}

	if err := oi.loadIndirect(); err != nil {
		return 0, err
	}

	if oi.Inode.Indirect == 0 {
		lba, err := oi.Partition.allocBlock()
		if err != nil {
			return 0, err
		}
		oi.Inode.Indirect = lba
		if err := oi.Partition.writeInode(&oi.Inode); err != nil {
			return 0, err
		}
	}

	relIdx := idx - DirectBlocks
	if lba := oi.indirect[relIdx]; lba != 0 {
		return lba, nil
	}

	lba, err := oi.Partition.allocBlock()
	if err != nil {
		return 0, err
	}
	oi.indirect[relIdx] = lba

	return lba, oi.persistIndirect()
}
