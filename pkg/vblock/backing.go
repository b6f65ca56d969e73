package vblock

import (
	"io"
	"os"
)

// Backing is the minimal set of operations a volume's storage container
// must support. *os.File already satisfies it; pkg/vqcow2.Backing wraps
// github.com/zchee/go-qcow2 to offer the same surface over a sparse
// copy-on-write container, the way pkg/qcow2's Writer wrapped the same
// library for VM disk export.
type Backing interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// FileBacking opens a plain preallocated file as a volume's backing store,
// the default and simplest of the two supported backings. Modeled on
// vdecompiler.Open's os.Open + os.Stat pairing.
type FileBacking struct {
	f *os.File
}

// OpenFileBacking opens path for the given flags (os.O_RDONLY or
// os.O_RDWR), returning a Backing.
func OpenFileBacking(path string, flag int) (*FileBacking, error) {
	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileBacking{f: f}, nil
}

// CreateFileBacking creates path fresh, preallocating it to size bytes.
func CreateFileBacking(path string, size int64) (*FileBacking, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return &FileBacking{f: f}, nil
}

func (b *FileBacking) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *FileBacking) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *FileBacking) Sync() error                              { return b.f.Sync() }
func (b *FileBacking) Truncate(size int64) error                { return b.f.Truncate(size) }
func (b *FileBacking) Close() error                             { return b.f.Close() }

// Fd exposes the underlying file descriptor for mmap-based window reads.
func (b *FileBacking) Fd() uintptr { return b.f.Fd() }
