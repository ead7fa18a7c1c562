package fs

import (
	"pios/kernel/sync"
)

// Partition binds a BlockDevice region to a mounted (or freshly formatted)
// file system: its cached superblock, in-memory inode/block bitmaps, and
// the list of inodes currently referenced by at least one open-file slot.
type Partition struct {
	Name        string
	Disk        BlockDevice
	StartLBA    uint32
	SectorCount uint32

	Superblock Superblock

	inodeBitmap []byte
	blockBitmap []byte

	bitmapLock sync.Spinlock

	openInodes     []*OpenedInode
	openInodesLock sync.Spinlock
}

// Mount reads the partition's superblock and, if the magic number does not
// match, formats the partition from scratch before loading the (now
// freshly written) superblock and bitmaps into memory.
func Mount(name string, disk BlockDevice, startLBA, sectorCount uint32) (*Partition, error) {
	p := &Partition{Name: name, Disk: disk, StartLBA: startLBA, SectorCount: sectorCount}

	var buf [SectorSize]byte
	if err := disk.ReadSector(startLBA+1, buf[:]); err != nil {
		return nil, err
	}
	p.Superblock.Unmarshal(buf[:])

	if p.Superblock.Magic != SuperblockMagic {
		if err := formatPartition(p); err != nil {
			return nil, err
		}
	}

	if err := p.loadBitmaps(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Partition) loadBitmaps() error {
	p.inodeBitmap = make([]byte, p.Superblock.InodeBitmap.Sectors*SectorSize)
	if err := readSectors(p.Disk, p.Superblock.InodeBitmap.StartLBA, p.inodeBitmap); err != nil {
		return err
	}

	p.blockBitmap = make([]byte, p.Superblock.BlockBitmap.Sectors*SectorSize)
	if err := readSectors(p.Disk, p.Superblock.BlockBitmap.StartLBA, p.blockBitmap); err != nil {
		return err
	}

	return nil
}

func readSectors(d BlockDevice, startLBA uint32, buf []byte) error {
	for off := 0; off < len(buf); off += SectorSize {
		if err := d.ReadSector(startLBA+uint32(off/SectorSize), buf[off:off+SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

func writeSectors(d BlockDevice, startLBA uint32, buf []byte) error {
	for off := 0; off < len(buf); off += SectorSize {
		if err := d.WriteSector(startLBA+uint32(off/SectorSize), buf[off:off+SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

func bitSet(bitmap []byte, i uint32) bool {
	return bitmap[i/8]&(1<<(i%8)) != 0
}

func setBit(bitmap []byte, i uint32) {
	bitmap[i/8] |= 1 << (i % 8)
}

func clearBit(bitmap []byte, i uint32) {
	bitmap[i/8] &^= 1 << (i % 8)
}

// allocInode reserves and returns the first free inode number, or
// ErrInodeExhaust.
func (p *Partition) allocInode() (uint32, error) {
	p.bitmapLock.Acquire()
	defer p.bitmapLock.Release()

	for i := uint32(0); i < p.Superblock.InodeCount; i++ {
		if !bitSet(p.inodeBitmap, i) {
			setBit(p.inodeBitmap, i)
			if err := p.persistInodeBitmap(); err != nil {
				return 0, err
			}
			return i, nil
		}
	}

	return 0, ErrInodeExhaust
}

func (p *Partition) freeInode(no uint32) error {
	p.bitmapLock.Acquire()
	defer p.bitmapLock.Release()

	clearBit(p.inodeBitmap, no)
	return p.persistInodeBitmap()
}

func (p *Partition) persistInodeBitmap() error {
	return writeSectors(p.Disk, p.Superblock.InodeBitmap.StartLBA, p.inodeBitmap)
}

// dataBlockCount returns the number of data blocks the block bitmap
// addresses.
func (p *Partition) dataBlockCount() uint32 {
	return p.SectorCount - (p.Superblock.DataStartLBA - p.StartLBA)
}

// allocBlock reserves and returns the LBA of a free data block.
func (p *Partition) allocBlock() (uint32, error) {
	p.bitmapLock.Acquire()
	defer p.bitmapLock.Release()

	n := p.dataBlockCount()
	for i := uint32(0); i < n; i++ {
		if !bitSet(p.blockBitmap, i) {
			setBit(p.blockBitmap, i)
			if err := p.persistBlockBitmap(); err != nil {
				return 0, err
			}
			return p.Superblock.DataStartLBA + i, nil
		}
	}

	return 0, ErrDataBlockExhaust
}

func (p *Partition) freeBlock(lba uint32) error {
	p.bitmapLock.Acquire()
	defer p.bitmapLock.Release()

	i := lba - p.Superblock.DataStartLBA
	clearBit(p.blockBitmap, i)
	return p.persistBlockBitmap()
}

func (p *Partition) persistBlockBitmap() error {
	return writeSectors(p.Disk, p.Superblock.BlockBitmap.StartLBA, p.blockBitmap)
}

func (p *Partition) readInode(no uint32) (Inode, error) {
	sectorIdx := no * inodeOnDiskSize / SectorSize
	offsetInSector := (no * inodeOnDiskSize) % SectorSize

	// An inode may straddle two sectors of the table.
	sectors := uint32(1)
	if offsetInSector+inodeOnDiskSize > SectorSize {
		sectors = 2
	}

	buf := make([]byte, sectors*SectorSize)
	if err := readSectors(p.Disk, p.Superblock.InodeTable.StartLBA+sectorIdx, buf); err != nil {
		return Inode{}, err
	}

	var ino Inode
	ino.Unmarshal(buf[offsetInSector : offsetInSector+inodeOnDiskSize])
	return ino, nil
}

func (p *Partition) writeInode(ino *Inode) error {
	sectorIdx := ino.Number * inodeOnDiskSize / SectorSize
	offsetInSector := (ino.Number * inodeOnDiskSize) % SectorSize

	// An inode may straddle two sectors of the table.
	sectors := uint32(1)
	if offsetInSector+inodeOnDiskSize > SectorSize {
		sectors = 2
	}

	buf := make([]byte, sectors*SectorSize)
	if err := readSectors(p.Disk, p.Superblock.InodeTable.StartLBA+sectorIdx, buf); err != nil {
		return err
	}

	ino.Marshal(buf[offsetInSector : offsetInSector+inodeOnDiskSize])
	return writeSectors(p.Disk, p.Superblock.InodeTable.StartLBA+sectorIdx, buf)
}
