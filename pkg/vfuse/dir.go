package vfuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/voluta-fs/voluta/pkg/vtype"
	"github.com/voluta-fs/voluta/pkg/vvolume"
)

func (n *Node) child(ctx context.Context, ino uint64, kind vtype.InoKind, out *fuse.EntryOut) *fs.Inode {
	stable := fs.StableAttr{Mode: kindBits(kind), Ino: ino}
	child := n.root.newNode(ino)
	ch := n.NewInode(ctx, child, stable)
	if out != nil {
		if in, errno := child.(*Node).inode(); errno == 0 {
			attrFromInode(in, &out.Attr)
		}
	}
	return ch
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	self, errno := n.inode()
	if errno != 0 {
		return nil, errno
	}
	ino, kind, err := n.root.Volume.Dir(self).Lookup(name)
	if err != nil {
		return nil, errnoFor(err)
	}
	return n.child(ctx, ino, kind, out), 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	self, errno := n.inode()
	if errno != 0 {
		return nil, errno
	}
	entries, err := n.root.Volume.Dir(self).Readdir(0)
	if err != nil {
		return nil, errnoFor(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{
			Name: e.Name,
			Ino:  e.Ino,
			Mode: kindBits(e.DType),
		})
	}
	return fs.NewListDirStream(out), 0
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	self, errno := n.inode()
	if errno != 0 {
		return errno
	}
	if self.Kind != vtype.InoKindDir {
		return syscall.ENOTDIR
	}
	return 0
}

func (n *Node) linkNew(ctx context.Context, name string, kind vtype.InoKind, mode uint32, out *fuse.EntryOut) (*vvolume.Inode, syscall.Errno) {
	parent, errno := n.inode()
	if errno != 0 {
		return nil, errno
	}
	child, err := n.root.Volume.CreateInode(kind, mode, parent.Ino)
	if err != nil {
		return nil, errnoFor(err)
	}
	if err := n.root.Volume.Dir(parent).Insert(name, child.Ino, kind); err != nil {
		n.root.Volume.FreeInode(child)
		return nil, errnoFor(err)
	}
	parent.Root = n.root.Volume.Dir(parent).Root()
	now := time.Now().UnixNano()
	parent.Mtime, parent.Ctime = now, now
	if kind == vtype.InoKindDir {
		parent.Nlink++
	}
	if err := n.root.Volume.SaveInode(parent); err != nil {
		return nil, errnoFor(err)
	}
	return child, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, errno := n.linkNew(ctx, name, vtype.InoKindDir, mode, out)
	if errno != 0 {
		return nil, errno
	}
	return n.child(ctx, child.Ino, vtype.InoKindDir, out), 0
}

func (n *Node) Mknod(ctx context.Context, name string, mode, rdev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	kind := dtypeOf(mode)
	child, errno := n.linkNew(ctx, name, kind, mode&^syscall.S_IFMT, out)
	if errno != 0 {
		return nil, errno
	}
	return n.child(ctx, child.Ino, kind, out), 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child, errno := n.linkNew(ctx, name, vtype.InoKindReg, mode, out)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	ch := n.child(ctx, child.Ino, vtype.InoKindReg, out)
	return ch, nil, 0, 0
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	parent, errno := n.inode()
	if errno != 0 {
		return nil, errno
	}
	if len(target) > vtype.SymlinkMaxTotal {
		return nil, errnoFor(vtype.Errf(vtype.ErrNameTooLong, "symlink target too long"))
	}
	child, err := n.root.Volume.CreateInode(vtype.InoKindLnk, 0o777, parent.Ino)
	if err != nil {
		return nil, errnoFor(err)
	}
	inline, head, err := n.root.Volume.Symlinks().Write(target)
	if err != nil {
		n.root.Volume.FreeInode(child)
		return nil, errnoFor(err)
	}
	child.SymlinkInline = inline
	child.SymlinkHead = head
	child.Size = int64(len(target))
	if err := n.root.Volume.SaveInode(child); err != nil {
		return nil, errnoFor(err)
	}
	if err := n.root.Volume.Dir(parent).Insert(name, child.Ino, vtype.InoKindLnk); err != nil {
		n.root.Volume.FreeInode(child)
		return nil, errnoFor(err)
	}
	parent.Root = n.root.Volume.Dir(parent).Root()
	if err := n.root.Volume.SaveInode(parent); err != nil {
		return nil, errnoFor(err)
	}
	return n.child(ctx, child.Ino, vtype.InoKindLnk, out), 0
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	self, errno := n.inode()
	if errno != 0 {
		return nil, errno
	}
	target, err := n.root.Volume.Symlinks().Read(self.SymlinkInline, self.SymlinkHead)
	if err != nil {
		return nil, errnoFor(err)
	}
	return []byte(target), 0
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	parent, errno := n.inode()
	if errno != 0 {
		return nil, errno
	}
	tnode, ok := target.(*Node)
	if !ok {
		return nil, syscall.EXDEV
	}
	tin, errno := tnode.inode()
	if errno != 0 {
		return nil, errno
	}
	if tin.Kind == vtype.InoKindDir {
		return nil, syscall.EPERM
	}
	if err := n.root.Volume.Dir(parent).Insert(name, tin.Ino, tin.Kind); err != nil {
		return nil, errnoFor(err)
	}
	parent.Root = n.root.Volume.Dir(parent).Root()
	if err := n.root.Volume.SaveInode(parent); err != nil {
		return nil, errnoFor(err)
	}
	tin.Nlink++
	now := time.Now().UnixNano()
	tin.Ctime = now
	if err := n.root.Volume.SaveInode(tin); err != nil {
		return nil, errnoFor(err)
	}
	return n.child(ctx, tin.Ino, tin.Kind, out), 0
}

func (n *Node) unlinkCommon(name string, wantDir bool) syscall.Errno {
	parent, errno := n.inode()
	if errno != 0 {
		return errno
	}
	d := n.root.Volume.Dir(parent)
	ino, kind, err := d.Lookup(name)
	if err != nil {
		return errnoFor(err)
	}
	if wantDir && kind != vtype.InoKindDir {
		return syscall.ENOTDIR
	}
	if !wantDir && kind == vtype.InoKindDir {
		return syscall.EISDIR
	}
	child, err := n.root.Volume.LoadInode(ino)
	if err != nil {
		return errnoFor(err)
	}
	if kind == vtype.InoKindDir {
		empty, err := n.root.Volume.Dir(child).IsEmpty()
		if err != nil {
			return errnoFor(err)
		}
		if !empty {
			return syscall.ENOTEMPTY
		}
	}
	if err := d.Remove(name); err != nil {
		return errnoFor(err)
	}
	parent.Root = d.Root()
	if kind == vtype.InoKindDir {
		parent.Nlink--
	}
	now := time.Now().UnixNano()
	parent.Mtime, parent.Ctime = now, now
	if err := n.root.Volume.SaveInode(parent); err != nil {
		return errnoFor(err)
	}

	child.Nlink--
	if child.Nlink == 0 {
		return errnoFor(n.root.Volume.FreeInode(child))
	}
	return errnoFor(n.root.Volume.SaveInode(child))
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.unlinkCommon(name, false)
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.unlinkCommon(name, true)
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	if flags&fs.RENAME_EXCHANGE != 0 {
		return n.renameExchange(name, np, newName)
	}

	oldParent, errno := n.inode()
	if errno != 0 {
		return errno
	}
	newParentIn, errno := np.inode()
	if errno != 0 {
		return errno
	}

	srcDir := n.root.Volume.Dir(oldParent)
	ino, kind, err := srcDir.Lookup(name)
	if err != nil {
		return errnoFor(err)
	}
	moved, err := n.root.Volume.LoadInode(ino)
	if err != nil {
		return errnoFor(err)
	}

	dstDir := n.root.Volume.Dir(newParentIn)
	if existIno, existKind, err := dstDir.Lookup(newName); err == nil {
		if existKind == vtype.InoKindDir {
			empty, err := n.root.Volume.Dir(mustInode(n, existIno)).IsEmpty()
			if err != nil {
				return errnoFor(err)
			}
			if !empty {
				return syscall.ENOTEMPTY
			}
		}
		if err := dstDir.Remove(newName); err != nil {
			return errnoFor(err)
		}
		existing, err := n.root.Volume.LoadInode(existIno)
		if err == nil {
			existing.Nlink--
			if existing.Nlink == 0 {
				n.root.Volume.FreeInode(existing)
			} else {
				n.root.Volume.SaveInode(existing)
			}
		}
	}

	if err := srcDir.Remove(name); err != nil {
		return errnoFor(err)
	}
	if err := dstDir.Insert(newName, ino, kind); err != nil {
		return errnoFor(err)
	}
	oldParent.Root = srcDir.Root()
	newParentIn.Root = dstDir.Root()
	now := time.Now().UnixNano()
	oldParent.Mtime, oldParent.Ctime = now, now
	newParentIn.Mtime, newParentIn.Ctime = now, now
	if kind == vtype.InoKindDir && oldParent.Ino != newParentIn.Ino {
		oldParent.Nlink--
		newParentIn.Nlink++
	}
	if err := n.root.Volume.SaveInode(oldParent); err != nil {
		return errnoFor(err)
	}
	if oldParent.Ino != newParentIn.Ino {
		if err := n.root.Volume.SaveInode(newParentIn); err != nil {
			return errnoFor(err)
		}
	}

	moved.ParentIno = newParentIn.Ino
	moved.Ctime = now
	if err := n.root.Volume.SaveInode(moved); err != nil {
		return errnoFor(err)
	}
	return 0
}

func (n *Node) renameExchange(name string, np *Node, newName string) syscall.Errno {
	oldParent, errno := n.inode()
	if errno != 0 {
		return errno
	}
	newParentIn, errno := np.inode()
	if errno != 0 {
		return errno
	}
	srcDir := n.root.Volume.Dir(oldParent)
	dstDir := n.root.Volume.Dir(newParentIn)

	srcIno, srcKind, err := srcDir.Lookup(name)
	if err != nil {
		return errnoFor(err)
	}
	dstIno, dstKind, err := dstDir.Lookup(newName)
	if err != nil {
		return errnoFor(err)
	}

	if err := srcDir.Remove(name); err != nil {
		return errnoFor(err)
	}
	if err := dstDir.Remove(newName); err != nil {
		return errnoFor(err)
	}
	if err := srcDir.Insert(name, dstIno, dstKind); err != nil {
		return errnoFor(err)
	}
	if err := dstDir.Insert(newName, srcIno, srcKind); err != nil {
		return errnoFor(err)
	}
	oldParent.Root = srcDir.Root()
	newParentIn.Root = dstDir.Root()
	if oldParent.Ino != newParentIn.Ino {
		if srcKind == vtype.InoKindDir {
			oldParent.Nlink--
			newParentIn.Nlink++
		}
		if dstKind == vtype.InoKindDir {
			newParentIn.Nlink--
			oldParent.Nlink++
		}
	}
	if err := n.root.Volume.SaveInode(oldParent); err != nil {
		return errnoFor(err)
	}
	if oldParent.Ino != newParentIn.Ino {
		if err := n.root.Volume.SaveInode(newParentIn); err != nil {
			return errnoFor(err)
		}
	}

	srcInode, err := n.root.Volume.LoadInode(srcIno)
	if err != nil {
		return errnoFor(err)
	}
	dstInode, err := n.root.Volume.LoadInode(dstIno)
	if err != nil {
		return errnoFor(err)
	}
	now := time.Now().UnixNano()
	srcInode.ParentIno = newParentIn.Ino
	srcInode.Ctime = now
	dstInode.ParentIno = oldParent.Ino
	dstInode.Ctime = now
	if err := n.root.Volume.SaveInode(srcInode); err != nil {
		return errnoFor(err)
	}
	return errnoFor(n.root.Volume.SaveInode(dstInode))
}

func mustInode(n *Node, ino uint64) *vvolume.Inode {
	in, err := n.root.Volume.LoadInode(ino)
	if err != nil {
		return &vvolume.Inode{}
	}
	return in
}
