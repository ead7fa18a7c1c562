package fs

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// formatPartition lays down a fresh boot sector placeholder, superblock,
// inode bitmap, inode table, block bitmap and root directory block,
// following the on-disk layout:
//
//	[ boot sector (1) | super block (1) | inode bitmap (k) | inode table (m) | block bitmap (b) | data blocks ... ]
func formatPartition(p *Partition) error {
	inodeBitmapSectors := ceilDiv(InodeCount, SectorSize*8)
	inodeTableSectors := ceilDiv(InodeCount*inodeOnDiskSize, SectorSize)

	metaSectorsBeforeBlockBitmap := 2 + inodeBitmapSectors + inodeTableSectors
	if metaSectorsBeforeBlockBitmap >= p.SectorCount {
		return ErrDataBlockExhaust
	}
	remaining := p.SectorCount - metaSectorsBeforeBlockBitmap

	// The block bitmap must address only the data region, not itself;
	// since its own size depends on how many data sectors remain, solve
	// by fixed-point iteration: grow the bitmap until it covers exactly
	// the sectors left after subtracting its own size.
	blockBitmapSectors := uint32(1)
	for {
		dataSectors := remaining - blockBitmapSectors
		need := ceilDiv(dataSectors, SectorSize*8)
		if need == blockBitmapSectors {
			break
		}
		blockBitmapSectors = need
	}

	sb := Superblock{
		Magic:          SuperblockMagic,
		PartitionStart: p.StartLBA,
		SectorCount:    p.SectorCount,
		InodeCount:     InodeCount,
		RootInode:      RootInode,
	}
	sb.InodeBitmap = region{StartLBA: p.StartLBA + 2, Sectors: inodeBitmapSectors}
	sb.InodeTable = region{StartLBA: sb.InodeBitmap.StartLBA + inodeBitmapSectors, Sectors: inodeTableSectors}
	sb.BlockBitmap = region{StartLBA: sb.InodeTable.StartLBA + inodeTableSectors, Sectors: blockBitmapSectors}
	sb.DataStartLBA = sb.BlockBitmap.StartLBA + blockBitmapSectors

	p.Superblock = sb

	// Inode bitmap: only the root inode (0) is used.
	inodeBitmap := make([]byte, inodeBitmapSectors*SectorSize)
	setBit(inodeBitmap, RootInode)
	if err := writeSectors(p.Disk, sb.InodeBitmap.StartLBA, inodeBitmap); err != nil {
		return err
	}

	// Block bitmap: the root directory's first data block is in use.
	blockBitmap := make([]byte, blockBitmapSectors*SectorSize)
	setBit(blockBitmap, 0)
	if err := writeSectors(p.Disk, sb.BlockBitmap.StartLBA, blockBitmap); err != nil {
		return err
	}

	// Root directory's sole data block: "." and ".." both point at inode 0.
	var dirBlock [SectorSize]byte
	dot := DirEntry{InodeNumber: RootInode, Type: FileTypeDirectory}
	dot.SetName(".")
	dot.Marshal(dirBlock[0:dirEntryOnDiskSize])

	dotdot := DirEntry{InodeNumber: RootInode, Type: FileTypeDirectory}
	dotdot.SetName("..")
	dotdot.Marshal(dirBlock[dirEntryOnDiskSize : 2*dirEntryOnDiskSize])

	if err := p.Disk.WriteSector(sb.DataStartLBA, dirBlock[:]); err != nil {
		return err
	}

	// Root inode: a single-block directory holding the two entries above.
	root := Inode{Number: RootInode, Size: 2 * dirEntryOnDiskSize}
	root.Direct[0] = sb.DataStartLBA

	inodeTable := make([]byte, inodeTableSectors*SectorSize)
	root.Marshal(inodeTable[0:inodeOnDiskSize])
	if err := writeSectors(p.Disk, sb.InodeTable.StartLBA, inodeTable); err != nil {
		return err
	}

	// Superblock is written last so a crash mid-format still presents as
	// "not yet formatted" (bad magic) on the next mount attempt.
	var sbBuf [SectorSize]byte
	sb.Marshal(sbBuf[:])
	return p.Disk.WriteSector(p.StartLBA+1, sbBuf[:])
}
