package fs

// ErrKind is a closed enum of the error kinds the file-system and syscall
// layers surface to callers. Unlike kernel.Error (a pointer to a
// {Module,Message} record), this crosses the syscall boundary as a plain
// negative int32, so it is modeled as a small integer enum rather than a
// struct.
type ErrKind int32

// File-system error kinds, per the specification's closed error-kind list.
const (
	ErrNone ErrKind = iota
	ErrNotFound
	ErrAlreadyExists
	ErrPermissionDenied
	ErrBadDescriptor
	ErrIsADirectory
	ErrDirectoryNotEmpty
	ErrParentDirNotExists
	ErrFilePathIllegal
	ErrPipeExhaust
	ErrFileDescriptorExhaust
	ErrOpenFileExhaust
	ErrInodeExhaust
	ErrDataBlockExhaust
)

func (k ErrKind) Error() string {
	switch k {
	case ErrNone:
		return "no error"
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrPermissionDenied:
		return "permission denied"
	case ErrBadDescriptor:
		return "bad descriptor"
	case ErrIsADirectory:
		return "is a directory"
	case ErrDirectoryNotEmpty:
		return "directory not empty"
	case ErrParentDirNotExists:
		return "parent directory does not exist"
	case ErrFilePathIllegal:
		return "illegal file path"
	case ErrPipeExhaust:
		return "no pipe slots available"
	case ErrFileDescriptorExhaust:
		return "no file descriptor slots available"
	case ErrOpenFileExhaust:
		return "no open-file table slots available"
	case ErrInodeExhaust:
		return "no inodes available"
	case ErrDataBlockExhaust:
		return "no data blocks available"
	default:
		return "unknown error"
	}
}

// Syscall translates an ErrKind into the negative return code carried back
// through eax; ErrNone maps to 0.
func (k ErrKind) Syscall() int32 {
	if k == ErrNone {
		return 0
	}
	return -int32(k)
}
