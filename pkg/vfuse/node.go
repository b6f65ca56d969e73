// Package vfuse adapts pkg/vvolume's inode operations to
// github.com/hanwen/go-fuse/v2/fs, the way go-fuse's own NewLoopbackRoot
// adapts a POSIX tree (or zipfs an in-memory archive) to the same
// InodeEmbedder contract: every Node here embeds fs.Inode and forwards to
// a *vvolume.Volume instead of the local filesystem or a zip archive.
package vfuse

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/voluta-fs/voluta/pkg/vtype"
	"github.com/voluta-fs/voluta/pkg/vvolume"
)

// Root holds the shared state every Node needs to resolve its own inode
// against the volume, mirroring loopbackRoot's role for go-fuse's
// loopback filesystem.
type Root struct {
	Volume *vvolume.Volume
}

func (r *Root) newNode(ino uint64) fs.InodeEmbedder {
	return &Node{root: r, ino: ino}
}

// Node is one FUSE-visible inode, thin by design: it carries only the
// engine's ino and resolves the live *vvolume.Inode on every call, the
// same "stat on demand" shape as loopbackNode.path()+syscall.Lstat.
type Node struct {
	fs.Inode

	root *Root
	ino  uint64

	mu sync.Mutex
}

var (
	_ fs.InodeEmbedder   = (*Node)(nil)
	_ fs.NodeStatfser    = (*Node)(nil)
	_ fs.NodeGetattrer   = (*Node)(nil)
	_ fs.NodeSetattrer   = (*Node)(nil)
	_ fs.NodeLookuper    = (*Node)(nil)
	_ fs.NodeMkdirer     = (*Node)(nil)
	_ fs.NodeMknoder     = (*Node)(nil)
	_ fs.NodeCreater     = (*Node)(nil)
	_ fs.NodeUnlinker    = (*Node)(nil)
	_ fs.NodeRmdirer     = (*Node)(nil)
	_ fs.NodeRenamer     = (*Node)(nil)
	_ fs.NodeSymlinker   = (*Node)(nil)
	_ fs.NodeReadlinker  = (*Node)(nil)
	_ fs.NodeLinker      = (*Node)(nil)
	_ fs.NodeOpener      = (*Node)(nil)
	_ fs.NodeOpendirer   = (*Node)(nil)
	_ fs.NodeReaddirer   = (*Node)(nil)
	_ fs.NodeGetxattrer  = (*Node)(nil)
	_ fs.NodeSetxattrer  = (*Node)(nil)
	_ fs.NodeRemovexattrer = (*Node)(nil)
	_ fs.NodeListxattrer = (*Node)(nil)
)

func (n *Node) inode() (*vvolume.Inode, syscall.Errno) {
	in, err := n.root.Volume.LoadInode(n.ino)
	if err != nil {
		return nil, errnoFor(err)
	}
	return in, 0
}

func attrFromInode(in *vvolume.Inode, out *fuse.Attr) {
	out.Ino = in.Ino
	out.Mode = in.Mode | kindBits(in.Kind)
	out.Nlink = in.Nlink
	out.Uid = in.UID
	out.Gid = in.GID
	out.Size = uint64(in.Size)
	out.Atime = uint64(in.Atime / int64(time.Second))
	out.Atimensec = uint32(in.Atime % int64(time.Second))
	out.Mtime = uint64(in.Mtime / int64(time.Second))
	out.Mtimensec = uint32(in.Mtime % int64(time.Second))
	out.Ctime = uint64(in.Ctime / int64(time.Second))
	out.Ctimensec = uint32(in.Ctime % int64(time.Second))
	out.Blocks = uint64(in.Blocks)
}

func kindBits(k vtype.InoKind) uint32 {
	switch k {
	case vtype.InoKindDir:
		return syscall.S_IFDIR
	case vtype.InoKindLnk:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

func dtypeOf(mode uint32) vtype.InoKind {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return vtype.InoKindDir
	case syscall.S_IFLNK:
		return vtype.InoKindLnk
	default:
		return vtype.InoKindReg
	}
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	free, total, err := n.root.Volume.StatFree()
	if err != nil {
		return errnoFor(err)
	}
	// StatFree counts block-octets; report whole blocks to match Bsize.
	out.Bsize = vtype.BlockSize
	out.Blocks = uint64(total / vtype.BoctetsPerBlk)
	out.Bfree = uint64(free / vtype.BoctetsPerBlk)
	out.Bavail = uint64(free / vtype.BoctetsPerBlk)
	out.NameLen = vtype.MaxFilenameLen
	return 0
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	in, errno := n.inode()
	if errno != 0 {
		return errno
	}
	attrFromInode(in, &out.Attr)
	return 0
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	node, errno := n.inode()
	if errno != 0 {
		return errno
	}

	if mode, ok := in.GetMode(); ok {
		node.Mode = mode &^ kindBits(node.Kind)
	}
	if uid, ok := in.GetUID(); ok {
		node.UID = uid
	}
	if gid, ok := in.GetGID(); ok {
		node.GID = gid
	}
	if mtime, ok := in.GetMTime(); ok {
		node.Mtime = mtime.UnixNano()
	}
	if atime, ok := in.GetATime(); ok {
		node.Atime = atime.UnixNano()
	}
	if sz, ok := in.GetSize(); ok {
		if err := n.truncate(node, int64(sz)); err != 0 {
			return err
		}
	}
	node.Ctime = time.Now().UnixNano()

	if err := n.root.Volume.SaveInode(node); err != nil {
		return errnoFor(err)
	}
	attrFromInode(node, &out.Attr)
	return 0
}

func (n *Node) truncate(in *vvolume.Inode, size int64) syscall.Errno {
	if size > vtype.FilesizeMax {
		return errnoFor(vtype.Errf(vtype.ErrFbig, "size %d exceeds max", size))
	}
	f := n.root.Volume.File(in)
	if size < in.Size {
		newBlocks, err := f.Truncate(size, in.Size, in.Blocks)
		if err != nil {
			return errnoFor(err)
		}
		in.Blocks = newBlocks
	}
	in.Root = f.Root()
	in.Size = size
	return 0
}
