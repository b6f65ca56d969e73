// Package vvolume ties components C1-C7 together behind a single Volume
// lifecycle (Mkfs/Open/Close) and a POSIX-shaped inode operation surface
// that pkg/vfuse drives. The master-record/super-block split, and its
// format validation, follow pkg/ext4/super.go's packed Superblock struct
// and pkg/vmdk's magic-then-version header check.
package vvolume

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vcache"
	"github.com/voluta-fs/voluta/pkg/vcrypto"
	"github.com/voluta-fs/voluta/pkg/vdir"
	"github.com/voluta-fs/voluta/pkg/vfile"
	"github.com/voluta-fs/voluta/pkg/vitable"
	"github.com/voluta-fs/voluta/pkg/vqcow2"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
	"github.com/voluta-fs/voluta/pkg/vxattr"
)

// RootIno is the fixed inode number of the volume's root directory.
const RootIno = 1

// inodeCacheCapacity is the number of decoded Inode records pkg/vcache
// keeps resident; a miss just costs one extra ReadOctet.
const inodeCacheCapacity = 4096

// Volume owns the whole on-disk layout for one mounted filesystem: the
// block device (C1), the space allocator (C2), the inode cache (C3), the
// inode table (C4), and lazily-opened per-inode file/dir/xattr views
// (C5-C7).
type Volume struct {
	mu sync.Mutex

	dev    *vblock.Device
	alloc  *vspace.Allocator
	cache  *vcache.Cache
	itable *vitable.Table

	master *MasterRecord
	super  *SuperBlock

	path string
}

func bootstrapCrypto(encrypted bool, passphrase string, m *MasterRecord) *vblock.CryptoContext {
	if !encrypted {
		return nil
	}
	secret := vcrypto.DeriveMasterSecret(passphrase, m.KDF)
	return &vblock.CryptoContext{Master: secret, SuperIV: m.SuperIV}
}

// Mkfs formats a brand new volume at path, backed by a plain preallocated
// file: nag allocation groups, an optional passphrase (ignored when
// encrypted is false), and an empty root directory at RootIno.
func Mkfs(path string, nag int64, fsname string, encrypted bool, passphrase string) (*Volume, error) {
	nblocks := vtype.FirstAGLBA + clampAG(nag)*vtype.BlocksPerAG
	fb, err := vblock.CreateFileBacking(path, nblocks*vtype.BlockSize)
	if err != nil {
		return nil, err
	}
	v, err := MkfsBacking(fb, nag, fsname, encrypted, passphrase)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	v.path = path
	return v, nil
}

func clampAG(nag int64) int64 {
	if nag < vtype.MinAGCount {
		return vtype.MinAGCount
	}
	return nag
}

// MkfsBacking formats a brand new volume over an already-open backing
// store (a plain file from vblock.CreateFileBacking, or a sparse
// pkg/vqcow2.Backing for "mkfs --backing=qcow2"), so the caller controls
// how the volume's bytes are actually stored on disk. Ownership of backing
// passes to the returned Volume on success; on failure the caller must
// close it itself.
func MkfsBacking(backing vblock.Backing, nag int64, fsname string, encrypted bool, passphrase string) (*Volume, error) {
	nag = clampAG(nag)
	nblocks := vtype.FirstAGLBA + nag*vtype.BlocksPerAG

	master, err := newMasterRecord(fsname, nag, encrypted)
	if err != nil {
		return nil, err
	}
	master.CreationTime = time.Now().UnixNano()

	if _, err := backing.WriteAt(master.encode(), 0); err != nil {
		return nil, err
	}

	crypto := bootstrapCrypto(encrypted, passphrase, master)
	dev, err := vblock.Open(backing, nblocks, vblock.RDWR, crypto)
	if err != nil {
		return nil, err
	}

	super, err := newSuperBlock()
	if err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.PutBlock(vtype.SuperLBA, vtype.VtypeSuper, super.encode(), true); err != nil {
		dev.Close()
		return nil, err
	}

	alloc := vspace.Open(dev, nag)
	itable, err := vitable.Mkfs(dev, alloc, super.FirstFreeIno)
	if err != nil {
		dev.Close()
		return nil, err
	}
	super.ItableRoot = itable.Root()
	if err := dev.PutBlock(vtype.SuperLBA, vtype.VtypeSuper, super.encode(), true); err != nil {
		dev.Close()
		return nil, err
	}

	v := &Volume{
		dev:    dev,
		alloc:  alloc,
		cache:  vcache.New(inodeCacheCapacity),
		itable: itable,
		master: master,
		super:  super,
	}

	if _, err := v.createInode(RootIno, vtype.InoKindDir, 0o755, RootIno); err != nil {
		dev.Close()
		return nil, err
	}
	return v, nil
}

// Open mounts an existing volume at path, verifying the master record and
// (if encrypted) deriving the master secret from passphrase.
func Open(path string, passphrase string) (*Volume, error) {
	return open(path, passphrase, os.O_RDWR, vblock.RDWR)
}

// OpenReadOnly mounts an existing volume without taking a write lock on the
// backing file, for introspection tools (`voluta show`/`dump`/`fsck`) that
// must never mutate a volume they're inspecting.
func OpenReadOnly(path string, passphrase string) (*Volume, error) {
	return open(path, passphrase, os.O_RDONLY, vblock.RDONLY)
}

func open(path string, passphrase string, fileFlag int, mode vblock.OpenMode) (*Volume, error) {
	backing, err := openBacking(path, fileFlag)
	if err != nil {
		return nil, err
	}
	v, err := OpenBacking(backing, passphrase, mode)
	if err != nil {
		backing.Close()
		return nil, err
	}
	v.path = path
	return v, nil
}

// openBacking picks the Backing implementation by file extension: a
// ".qcow2" image opens through pkg/vqcow2, anything else is treated as a
// plain preallocated file.
func openBacking(path string, fileFlag int) (vblock.Backing, error) {
	if filepath.Ext(path) == ".qcow2" {
		return vqcow2.Open(path, fileFlag)
	}
	return vblock.OpenFileBacking(path, fileFlag)
}

// OpenBacking mounts an existing volume over an already-open backing
// store, the shared core behind Open/OpenReadOnly and behind callers (the
// mkfs/fsck tooling) that picked their own vblock.Backing. Ownership of
// backing passes to the returned Volume on success; on failure the caller
// must close it itself.
func OpenBacking(backing vblock.Backing, passphrase string, mode vblock.OpenMode) (*Volume, error) {
	raw := make([]byte, vtype.MasterRecordSize)
	if _, err := backing.ReadAt(raw, 0); err != nil {
		return nil, vtype.Wrap(vtype.ErrIo, err, "reading master record")
	}
	master, err := decodeMasterRecord(raw)
	if err != nil {
		return nil, err
	}

	nblocks := vtype.FirstAGLBA + master.NAG*vtype.BlocksPerAG
	bootCrypto := bootstrapCrypto(master.Encrypted, passphrase, master)
	dev, err := vblock.Open(backing, nblocks, mode, bootCrypto)
	if err != nil {
		return nil, err
	}

	body, vt, err := dev.ReadBlock(vtype.SuperLBA)
	if err != nil {
		dev.Close()
		return nil, err
	}
	if vt != vtype.VtypeSuper {
		dev.Close()
		return nil, vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want super", vtype.SuperLBA, vt)
	}
	super, err := decodeSuperBlock(body)
	if err != nil {
		dev.Close()
		return nil, err
	}

	if master.Encrypted {
		dev.SetCrypto(&vblock.CryptoContext{
			Master:  bootCrypto.Master,
			SuperIV: master.SuperIV,
			Keys:    super.Keys,
			IVs:     super.IVs,
		})
	}

	alloc := vspace.Open(dev, master.NAG)
	itable := vitable.Open(dev, alloc, super.ItableRoot, super.FirstFreeIno)

	return &Volume{
		dev:    dev,
		alloc:  alloc,
		cache:  vcache.New(inodeCacheCapacity),
		itable: itable,
		master: master,
		super:  super,
	}, nil
}

// Close flushes the super block (itable root/ino cursor may have moved)
// and releases the backing store.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.super.ItableRoot = v.itable.Root()
	if err := v.dev.PutBlock(vtype.SuperLBA, vtype.VtypeSuper, v.super.encode(), true); err != nil {
		return err
	}
	return v.dev.Close()
}

func (v *Volume) loadInode(ino uint64) (*Inode, error) {
	vaddr, err := v.itable.Lookup(ino)
	if err != nil {
		return nil, err
	}
	node, err := v.cache.Get(vaddr, func(a vtype.VAddr) (vcache.Node, error) {
		return loadInode(v.dev, a)
	})
	if err != nil {
		return nil, err
	}
	return node.(*Inode), nil
}

func (v *Volume) storeInode(n *Inode) error {
	if err := storeInode(v.dev, n); err != nil {
		return err
	}
	v.cache.Put(n, false)
	return nil
}

// createInode allocates a fresh inode head, mints an ino, and links it
// into the inode table. Used by Mkfs for the root directory and by
// pkg/vfuse's create/mkdir/mknod/symlink handlers.
func (v *Volume) createInode(forceIno uint64, kind vtype.InoKind, mode uint32, parentIno uint64) (*Inode, error) {
	vaddr, err := v.alloc.Allocate(vtype.VtypeInode, vtype.NilVAddr)
	if err != nil {
		return nil, err
	}

	var ino uint64
	if forceIno != 0 {
		ino = forceIno
	} else {
		ino = v.itable.MintIno()
	}

	n := NewInode(vaddr, ino, kind, parentIno)
	n.Mode = mode
	now := time.Now().UnixNano()
	n.Atime, n.Mtime, n.Ctime = now, now, now
	if kind == vtype.InoKindDir {
		n.Nlink = 2 // "." plus the parent's entry
	}

	if err := storeInode(v.dev, n); err != nil {
		v.alloc.Free(vaddr, vtype.VtypeInode)
		return nil, err
	}
	if err := v.itable.Insert(ino, vaddr); err != nil {
		v.alloc.Free(vaddr, vtype.VtypeInode)
		return nil, err
	}
	v.cache.Put(n, false)
	return n, nil
}

// Dir returns a vdir.Dir view over ino's directory entries.
func (v *Volume) Dir(n *Inode) *vdir.Dir {
	return vdir.Open(v.dev, v.alloc, n.Root)
}

// File returns a vfile.File view over ino's data segments.
func (v *Volume) File(n *Inode) *vfile.File {
	return vfile.Open(v.dev, v.alloc, n.Root)
}

// Xattr returns a vxattr.Store view over ino's attributes.
func (v *Volume) Xattr(n *Inode) *vxattr.Store {
	return vxattr.Open(v.dev, v.alloc, n.Xattr, n.XattrNodes)
}

// Symlinks returns the shared symlink target codec.
func (v *Volume) Symlinks() *vxattr.SymlinkStore {
	return vxattr.NewSymlinkStore(v.dev, v.alloc)
}

// Allocator exposes C2 for components (fallocate, truncate, unlink) that
// need to free vaddrs directly.
func (v *Volume) Allocator() *vspace.Allocator { return v.alloc }

// Device exposes C1 for callers that need raw block access (fsck, stat).
func (v *Volume) Device() *vblock.Device { return v.dev }

// LoadInode resolves ino to its decoded head, failing ErrNoEnt if absent.
func (v *Volume) LoadInode(ino uint64) (*Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadInode(ino)
}

// SaveInode persists n after the caller has mutated its fields (size,
// times, mode, root, ...).
func (v *Volume) SaveInode(n *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.storeInode(n)
}

// CreateInode mints a fresh inode of kind/mode parented under parentIno
// and links it into the table, for pkg/vfuse's
// create/mkdir/mknod/symlink handlers.
func (v *Volume) CreateInode(kind vtype.InoKind, mode uint32, parentIno uint64) (*Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createInode(0, kind, mode, parentIno)
}

// FreeInode releases ino's table entry, inode head, and everything it
// owns (file data segments, directory H-tree, xattr overflow nodes,
// out-of-line symlink chain). Callers must have already verified Nlink
// reached zero.
func (v *Volume) FreeInode(n *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch n.Kind {
	case vtype.InoKindReg:
		if n.Root != vtype.NilVAddr {
			if err := vfile.Open(v.dev, v.alloc, n.Root).Destroy(); err != nil {
				return err
			}
		}
	case vtype.InoKindDir:
		if n.Root != vtype.NilVAddr {
			if err := vdir.Open(v.dev, v.alloc, n.Root).Destroy(); err != nil {
				return err
			}
		}
	case vtype.InoKindLnk:
		if n.SymlinkHead != vtype.NilVAddr {
			if err := vxattr.NewSymlinkStore(v.dev, v.alloc).Free(n.SymlinkHead); err != nil {
				return err
			}
		}
	}

	if err := vxattr.Open(v.dev, v.alloc, n.Xattr, n.XattrNodes).Clear(); err != nil {
		return err
	}

	if err := v.itable.Remove(n.Ino); err != nil {
		return err
	}
	v.itable.ReleaseIno(n.Ino)
	v.cache.Evict(n.Addr)
	return v.alloc.Free(n.Addr, vtype.VtypeInode)
}

// StatFree reports free/total block-octets across every allocation group.
func (v *Volume) StatFree() (free, total int64, err error) {
	return v.alloc.StatFree()
}

// RootInode loads the root directory's inode (ino RootIno).
func (v *Volume) RootInode() (*Inode, error) {
	return v.LoadInode(RootIno)
}

// Info is a read-only snapshot of the master record and super block
// fields that matter to operator tooling (`voluta show`/`dump`/`fsck`).
type Info struct {
	UUID         [16]byte
	FSName       string
	CreationTime int64
	Encrypted    bool
	NAG          int64
	ItableRoot   vtype.VAddr
	FirstFreeIno uint64
	Path         string
}

// Info returns the volume's identifying metadata without touching C1-C7.
func (v *Volume) Info() Info {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Info{
		UUID:         v.master.UUID,
		FSName:       v.master.FSName,
		CreationTime: v.master.CreationTime,
		Encrypted:    v.master.Encrypted,
		NAG:          v.master.NAG,
		ItableRoot:   v.super.ItableRoot,
		FirstFreeIno: v.super.FirstFreeIno,
		Path:         v.path,
	}
}
