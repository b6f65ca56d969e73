package vfuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

// fileHandle is the FileHandle returned by Open/Create: it pins the
// owning Node so Read/Write/Fsync can go straight to its inode without a
// second Lookup, the way LoopbackFile pins an fd.
type fileHandle struct {
	node *Node
}

var (
	_ fs.FileHandle     = (*fileHandle)(nil)
	_ fs.FileReader      = (*fileHandle)(nil)
	_ fs.FileWriter      = (*fileHandle)(nil)
	_ fs.FileFlusher     = (*fileHandle)(nil)
	_ fs.FileFsyncer     = (*fileHandle)(nil)
	_ fs.FileAllocater   = (*fileHandle)(nil)
	_ fs.FileLseeker     = (*fileHandle)(nil)
	_ fs.FileGetattrer   = (*fileHandle)(nil)
	_ fs.FileSetattrer   = (*fileHandle)(nil)
)

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if _, errno := n.inode(); errno != 0 {
		return nil, 0, errno
	}
	return &fileHandle{node: n}, 0, 0
}

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	in, errno := h.node.inode()
	if errno != 0 {
		return nil, errno
	}
	data, err := h.node.root.Volume.File(in).Read(off, int64(len(dest)), in.Size)
	if err != nil {
		return nil, errnoFor(err)
	}
	return &fuse.ReadResultData{Data: data}, 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	in, errno := h.node.inode()
	if errno != 0 {
		return 0, errno
	}
	if off+int64(len(data)) > vtype.FilesizeMax {
		return 0, errnoFor(vtype.Errf(vtype.ErrFbig, "write would exceed max file size"))
	}
	f := h.node.root.Volume.File(in)
	size, blocks, err := f.Write(off, data, in.Size, in.Blocks)
	if err != nil {
		return 0, errnoFor(err)
	}
	in.Root = f.Root()
	in.Size = size
	in.Blocks = blocks
	in.Mtime = time.Now().UnixNano()

	// A write always clears SUID (any user), and clears SGID too unless
	// the file is group-executable, matching the traditional VFS
	// distinction between "set-gid on exec" and mandatory-locking files.
	in.Mode &^= syscall.S_ISUID
	if in.Mode&syscall.S_IXGRP != 0 {
		in.Mode &^= syscall.S_ISGID
	}

	if err := h.node.root.Volume.SaveInode(in); err != nil {
		return 0, errnoFor(err)
	}
	return uint32(len(data)), 0
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno { return 0 }

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno { return 0 }

func (h *fileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	in, errno := h.node.inode()
	if errno != 0 {
		return errno
	}
	attrFromInode(in, &out.Attr)
	return 0
}

func (h *fileHandle) Setattr(ctx context.Context, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return h.node.Setattr(ctx, h, in, out)
}

func (h *fileHandle) Allocate(ctx context.Context, off uint64, size uint64, mode uint32) syscall.Errno {
	in, errno := h.node.inode()
	if errno != 0 {
		return errno
	}
	f := h.node.root.Volume.File(in)
	newSize, newBlocks, err := f.Fallocate(vtype.FallocateMode(mode), int64(off), int64(size), in.Size, in.Blocks)
	if err != nil {
		return errnoFor(err)
	}
	in.Root = f.Root()
	in.Size = newSize
	in.Blocks = newBlocks
	return errnoFor(h.node.root.Volume.SaveInode(in))
}

const (
	seekData = 3 // matches unix.SEEK_DATA
	seekHole = 4 // matches unix.SEEK_HOLE
)

func (h *fileHandle) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	in, errno := h.node.inode()
	if errno != 0 {
		return 0, errno
	}
	if whence != seekData && whence != seekHole {
		return off, 0
	}
	f := h.node.root.Volume.File(in)
	pos := int64(off)
	for pos < in.Size {
		has, err := f.HasData(pos)
		if err != nil {
			return 0, errnoFor(err)
		}
		if (whence == seekData) == has {
			return uint64(pos), 0
		}
		pos += vtype.BlockOctet - pos%vtype.BlockOctet
	}
	if whence == seekHole {
		return uint64(in.Size), 0
	}
	return 0, syscall.ENXIO
}
