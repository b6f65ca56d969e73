package vfuse

import (
	"syscall"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

// errnoFor maps one of the engine's error kinds to the syscall.Errno the
// kernel expects back from a FUSE reply, the single place the engine's
// internal error kinds cross into go-fuse's syscall.Errno-typed method
// signatures.
func errnoFor(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch vtype.KindOf(err) {
	case vtype.ErrNoEnt:
		return syscall.ENOENT
	case vtype.ErrExists:
		return syscall.EEXIST
	case vtype.ErrNotDir:
		return syscall.ENOTDIR
	case vtype.ErrIsDir:
		return syscall.EISDIR
	case vtype.ErrNotEmpty:
		return syscall.ENOTEMPTY
	case vtype.ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case vtype.ErrLoop:
		return syscall.ELOOP
	case vtype.ErrNoSpace:
		return syscall.ENOSPC
	case vtype.ErrDquot:
		return syscall.EDQUOT
	case vtype.ErrFbig:
		return syscall.EFBIG
	case vtype.ErrInvalid:
		return syscall.EINVAL
	case vtype.ErrPerm:
		return syscall.EPERM
	case vtype.ErrAccess:
		return syscall.EACCES
	case vtype.ErrRofs:
		return syscall.EROFS
	case vtype.ErrXdev:
		return syscall.EXDEV
	case vtype.ErrIntegrity, vtype.ErrCorrupt:
		return syscall.EIO
	case vtype.ErrBusy:
		return syscall.EBUSY
	case vtype.ErrCancelled:
		return syscall.EINTR
	case vtype.ErrIo:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// xattrErrnoForGet special-cases a missing attribute, which getxattr(2)
// reports as ENODATA rather than ENOENT.
func xattrErrnoForGet(err error) syscall.Errno {
	if vtype.KindOf(err) == vtype.ErrNoEnt {
		return syscall.ENODATA
	}
	return errnoFor(err)
}
