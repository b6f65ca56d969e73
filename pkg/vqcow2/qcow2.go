// Package vqcow2 adapts the cluster-table layout pkg/qcow2's Writer builds
// for one-shot VM disk export into a live, random-access vblock.Backing: a
// sparse, copy-on-write container a volume can grow into instead of
// preallocating its whole nominal size up front ("mkfs --backing=qcow2").
//
// Where pkg/qcow2.Writer only ever streams a disk image forward once
// (io.WriteSeeker, clusters handed out in address order, no read path),
// Backing here keeps its L1/L2 tables resident and allocates data clusters
// lazily on first write to any offset inside them, the way qemu's own
// qcow2 driver does. The on-disk format constants (MAGIC, Version2,
// OFLAG_COPIED) are the same github.com/zchee/go-qcow2 symbols
// pkg/qcow2.Writer builds its header from, so a volume formatted here
// stays readable by any standard qcow2 tooling.
package vqcow2

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/zchee/go-qcow2"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

const (
	clusterBits = 16
	clusterSize = 1 << clusterBits // 64 KiB, matching pkg/qcow2's fixed choice
	l2Entries   = clusterSize / 8  // entries per L1/L2 table cluster
	entrySize   = 8
)

// Backing is a sparse qcow2-backed vblock.Backing: ReadAt/WriteAt address
// the virtual disk by byte offset; clusters are only allocated (and only
// take space on the underlying file) the first time a write touches them.
type Backing struct {
	mu sync.Mutex
	f  *os.File

	virtualSize int64
	l1Offset    int64
	l1Table     []uint64 // in-memory mirror of the on-disk L1 table

	headerDirty bool
	l1Dirty     bool
	nextCluster int64 // bump allocator for never-yet-used clusters
}

// Create formats a brand new qcow2 container at path sized to hold size
// virtual bytes, following pkg/qcow2.Writer.init's same table-sizing math
// (L1 size derived from L2 capacity derived from cluster size).
func Create(path string, size int64) (*Backing, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}

	l2Clusters := divide(size, clusterSize*int64(l2Entries))
	l1Size := l2Clusters
	if l1Size < 1 {
		l1Size = 1
	}

	b := &Backing{
		f:           f,
		virtualSize: size,
		l1Offset:    clusterSize,
		l1Table:     make([]uint64, l1Size),
		nextCluster: 1 + l1Size, // cluster 0 is the header, then l1Size L1 clusters
	}
	if err := f.Truncate(b.nextCluster * clusterSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := b.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := b.writeL1Table(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return b, nil
}

// Open attaches to an existing qcow2 container, reading its header and L1
// table into memory.
func Open(path string, flag int) (*Backing, error) {
	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 72) // fixed portion of qcow2.Header, v2
	if _, err := f.ReadAt(raw, 0); err != nil {
		f.Close()
		return nil, vtype.Wrap(vtype.ErrIo, err, "reading qcow2 header")
	}
	magic := binary.BigEndian.Uint32(raw[0:4])
	if magic != qcow2.BEUint32(qcow2.MAGIC) {
		f.Close()
		return nil, vtype.Errf(vtype.ErrCorrupt, "not a qcow2 container")
	}
	size := int64(binary.BigEndian.Uint64(raw[24:32]))
	l1Size := int64(binary.BigEndian.Uint32(raw[36:40]))
	l1Offset := int64(binary.BigEndian.Uint64(raw[40:48]))

	b := &Backing{
		f:           f,
		virtualSize: size,
		l1Offset:    l1Offset,
		l1Table:     make([]uint64, l1Size),
	}

	l1Raw := make([]byte, l1Size*entrySize)
	if _, err := f.ReadAt(l1Raw, l1Offset); err != nil {
		f.Close()
		return nil, vtype.Wrap(vtype.ErrIo, err, "reading qcow2 L1 table")
	}
	maxCluster := l1Offset/clusterSize + divide(l1Size*entrySize, clusterSize)
	for i := range b.l1Table {
		entry := binary.BigEndian.Uint64(l1Raw[i*entrySize:]) &^ qcow2.OFLAG_COPIED
		b.l1Table[i] = entry
		if entry != 0 {
			if c := entry / clusterSize; c+1 > maxCluster {
				maxCluster = c + 1
			}
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	fileClusters := divide(info.Size(), clusterSize)
	if fileClusters > maxCluster {
		maxCluster = fileClusters
	}
	b.nextCluster = maxCluster
	return b, nil
}

func divide(x, y int64) int64 { return (x + y - 1) / y }

// writeHeader packs the fixed 72-byte qcow2 v2 header directly (rather than
// through qcow2.Header/binary.Write the way pkg/qcow2.Writer does for its
// one-shot export) because a live backing only ever needs the four fields
// it reads back in Open: magic, size, L1 size, and L1 offset. Fields this
// container never uses (backing-file chain, encryption, snapshots) are
// left zero, which a standards-compliant reader treats as "none".
func (b *Backing) writeHeader() error {
	buf := make([]byte, 72)
	binary.BigEndian.PutUint32(buf[0:4], qcow2.BEUint32(qcow2.MAGIC))
	binary.BigEndian.PutUint32(buf[4:8], uint32(qcow2.Version2))
	binary.BigEndian.PutUint32(buf[20:24], clusterBits)
	binary.BigEndian.PutUint64(buf[24:32], uint64(b.virtualSize))
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(b.l1Table)))
	binary.BigEndian.PutUint64(buf[40:48], uint64(b.l1Offset))
	_, err := b.f.WriteAt(buf, 0)
	return err
}

func (b *Backing) writeL1Table() error {
	buf := make([]byte, len(b.l1Table)*entrySize)
	for i, e := range b.l1Table {
		v := e
		if v != 0 {
			v |= qcow2.OFLAG_COPIED
		}
		binary.BigEndian.PutUint64(buf[i*entrySize:], v)
	}
	_, err := b.f.WriteAt(buf, b.l1Offset)
	return err
}

func (b *Backing) allocCluster() int64 {
	c := b.nextCluster
	b.nextCluster++
	return c
}

// l2Table loads (allocating if absent) the L2 table for virtual cluster
// vcluster, returning its on-disk offset and in-memory entry slice.
func (b *Backing) l2Table(vcluster int64, create bool) (int64, []uint64, error) {
	l1idx := vcluster / int64(l2Entries)
	if int(l1idx) >= len(b.l1Table) {
		return 0, nil, vtype.Errf(vtype.ErrInvalid, "offset beyond qcow2 virtual size")
	}

	l2Offset := int64(b.l1Table[l1idx])
	entries := make([]uint64, l2Entries)
	if l2Offset == 0 {
		if !create {
			return 0, entries, nil // whole L2 table is a hole
		}
		l2Offset = b.allocCluster() * clusterSize
		if err := b.f.Truncate((l2Offset/clusterSize + 1) * clusterSize); err != nil {
			return 0, nil, err
		}
		b.l1Table[l1idx] = uint64(l2Offset)
		b.l1Dirty = true
		return l2Offset, entries, nil
	}

	raw := make([]byte, l2Entries*entrySize)
	if _, err := b.f.ReadAt(raw, l2Offset); err != nil {
		return 0, nil, vtype.Wrap(vtype.ErrIo, err, "reading qcow2 L2 table")
	}
	for i := range entries {
		entries[i] = binary.BigEndian.Uint64(raw[i*entrySize:]) &^ qcow2.OFLAG_COPIED
	}
	return l2Offset, entries, nil
}

func (b *Backing) storeL2Table(offset int64, entries []uint64) error {
	raw := make([]byte, len(entries)*entrySize)
	for i, e := range entries {
		v := e
		if v != 0 {
			v |= qcow2.OFLAG_COPIED
		}
		binary.BigEndian.PutUint64(raw[i*entrySize:], v)
	}
	_, err := b.f.WriteAt(raw, offset)
	return err
}

// ReadAt implements io.ReaderAt. Offsets falling in an unallocated cluster
// read back as zero, matching a hole in a sparse file.
func (b *Backing) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for n < len(p) {
		vcluster := (off + int64(n)) / clusterSize
		within := (off + int64(n)) % clusterSize
		chunk := clusterSize - within
		if remain := int64(len(p) - n); chunk > remain {
			chunk = remain
		}

		_, entries, err := b.l2Table(vcluster, false)
		if err != nil {
			return n, err
		}
		l2idx := vcluster % int64(l2Entries)
		dataOffset := int64(entries[l2idx])
		if dataOffset == 0 {
			for i := int64(0); i < chunk; i++ {
				p[n+int(i)] = 0
			}
		} else {
			if _, err := b.f.ReadAt(p[n:n+int(chunk)], dataOffset+within); err != nil {
				return n, err
			}
		}
		n += int(chunk)
	}
	return n, nil
}

// WriteAt implements io.WriterAt, allocating L2 tables and data clusters
// on first touch.
func (b *Backing) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for n < len(p) {
		vcluster := (off + int64(n)) / clusterSize
		within := (off + int64(n)) % clusterSize
		chunk := clusterSize - within
		if remain := int64(len(p) - n); chunk > remain {
			chunk = remain
		}

		l2Offset, entries, err := b.l2Table(vcluster, true)
		if err != nil {
			return n, err
		}
		l2idx := vcluster % int64(l2Entries)
		dataOffset := int64(entries[l2idx])
		if dataOffset == 0 {
			dataOffset = b.allocCluster() * clusterSize
			if err := b.f.Truncate(dataOffset + clusterSize); err != nil {
				return n, err
			}
			entries[l2idx] = uint64(dataOffset)
			if err := b.storeL2Table(l2Offset, entries); err != nil {
				return n, err
			}
		}
		if _, err := b.f.WriteAt(p[n:n+int(chunk)], dataOffset+within); err != nil {
			return n, err
		}
		n += int(chunk)
	}
	return n, nil
}

// Sync flushes dirty metadata and fsyncs the underlying file.
func (b *Backing) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.l1Dirty {
		if err := b.writeL1Table(); err != nil {
			return err
		}
		b.l1Dirty = false
	}
	if b.headerDirty {
		if err := b.writeHeader(); err != nil {
			return err
		}
		b.headerDirty = false
	}
	return b.f.Sync()
}

// Truncate changes the container's advertised virtual size. It never
// shrinks or reclaims already-allocated clusters; it only grows the L1
// table's addressable range, which a volume never needs past Mkfs time
// since vtype.MinAGCount-derived sizing is fixed up front.
func (b *Backing) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	needL1 := divide(size, clusterSize*int64(l2Entries))
	if needL1 > int64(len(b.l1Table)) {
		grown := make([]uint64, needL1)
		copy(grown, b.l1Table)
		b.l1Table = grown
		b.l1Dirty = true
	}
	b.virtualSize = size
	b.headerDirty = true
	return nil
}

// Close flushes metadata and closes the underlying file.
func (b *Backing) Close() error {
	if err := b.Sync(); err != nil {
		b.f.Close()
		return err
	}
	return b.f.Close()
}
