package vfuse

import (
	"bytes"
	"context"
	"syscall"
)

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	in, errno := n.inode()
	if errno != 0 {
		return 0, errno
	}
	value, err := n.root.Volume.Xattr(in).Get(attr)
	if err != nil {
		return 0, xattrErrnoForGet(err)
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	copy(dest, value)
	return uint32(len(value)), 0
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	in, errno := n.inode()
	if errno != 0 {
		return errno
	}
	store := n.root.Volume.Xattr(in)
	if err := store.Set(attr, append([]byte(nil), data...)); err != nil {
		return errnoFor(err)
	}
	in.Xattr = store.Inline()
	in.XattrNodes = store.Nodes()
	return errnoFor(n.root.Volume.SaveInode(in))
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	in, errno := n.inode()
	if errno != 0 {
		return errno
	}
	store := n.root.Volume.Xattr(in)
	if err := store.Remove(attr); err != nil {
		return errnoFor(err)
	}
	in.Xattr = store.Inline()
	in.XattrNodes = store.Nodes()
	return errnoFor(n.root.Volume.SaveInode(in))
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	in, errno := n.inode()
	if errno != 0 {
		return 0, errno
	}
	names, err := n.root.Volume.Xattr(in).List()
	if err != nil {
		return 0, errnoFor(err)
	}
	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(0)
	}
	if len(dest) < buf.Len() {
		return uint32(buf.Len()), syscall.ERANGE
	}
	copy(dest, buf.Bytes())
	return uint32(buf.Len()), 0
}
