package vfile

import "github.com/voluta-fs/voluta/pkg/vtype"

// blocksPerSegment is the st_blocks contribution (512-byte sectors) of one
// written data segment, sized off the nominal block-octet unit rather than
// segSize's physical payload so it matches what `stat` reports for any
// segment that has actually been written, independent of header/tag
// overhead.
const blocksPerSegment = int64(vtype.BlockOctet / 512)

// Read fills up to length bytes starting at off, short-reading at size
// (the inode's recorded logical size) the way a POSIX read never returns
// bytes past EOF. Unmapped or unwritten segments synthesise zeros.
func (f *File) Read(off, length, size int64) ([]byte, error) {
	if off >= size || length <= 0 {
		return nil, nil
	}
	n := min(length, size-off)
	out := make([]byte, n)

	var consumed int64
	for consumed < n {
		seg := (off + consumed) / segSize
		segOff := (off + consumed) % segSize
		want := min(n-consumed, segSize-segOff)

		vaddr, err := f.resolve(seg)
		if err != nil {
			return nil, err
		}
		if vaddr != vtype.NilVAddr {
			unwritten, err := f.alloc.IsUnwritten(vaddr)
			if err != nil {
				return nil, err
			}
			if !unwritten {
				payload, _, err := f.dev.ReadOctet(vaddr)
				if err != nil {
					return nil, err
				}
				copy(out[consumed:consumed+want], payload[segOff:segOff+want])
			}
		}
		consumed += want
	}
	return out, nil
}

// Write stores data at off, allocating and clearing the unwritten bit on
// any segment it touches. Returns the file's new logical size (size never
// shrinks from a write) and its new block count: curBlocks plus one
// blocksPerSegment for every segment this call turns from unwritten (or
// absent) into written.
func (f *File) Write(off int64, data []byte, curSize, curBlocks int64) (int64, int64, error) {
	n := int64(len(data))
	newBlocks := curBlocks
	var consumed int64
	for consumed < n {
		seg := (off + consumed) / segSize
		segOff := (off + consumed) % segSize
		want := min(n-consumed, segSize-segOff)

		vaddr, err := f.ensure(seg)
		if err != nil {
			return curSize, newBlocks, err
		}
		unwritten, err := f.alloc.IsUnwritten(vaddr)
		if err != nil {
			return curSize, newBlocks, err
		}

		var payload []byte
		if unwritten {
			payload = make([]byte, segSize)
		} else {
			payload, _, err = f.dev.ReadOctet(vaddr)
			if err != nil {
				return curSize, newBlocks, err
			}
		}
		copy(payload[segOff:segOff+want], data[consumed:consumed+want])
		if err := f.dev.WriteOctet(vaddr, vtype.VtypeData, payload, false); err != nil {
			return curSize, newBlocks, err
		}
		if unwritten {
			if err := f.alloc.MarkUnwritten(vaddr, false); err != nil {
				return curSize, newBlocks, err
			}
			newBlocks += blocksPerSegment
		}
		consumed += want
	}
	return max(curSize, off+n), newBlocks, nil
}

// Truncate shrinks the file to newSize, freeing whole segments past the
// new end and zeroing the partial tail segment (freeing it too if it
// becomes entirely zero). An extending truncate only ever changes the
// caller's recorded size — it allocates nothing here, so curBlocks comes
// back unchanged in that case. Returns the file's new block count.
func (f *File) Truncate(newSize, curSize, curBlocks int64) (int64, error) {
	if newSize >= curSize {
		return curBlocks, nil
	}
	newBlocks := curBlocks

	startFreeSeg := newSize / segSize
	if newSize%segSize != 0 {
		freed, err := f.zeroTail(newSize)
		if err != nil {
			return newBlocks, err
		}
		if freed {
			newBlocks -= blocksPerSegment
		}
		startFreeSeg++
	}

	if curSize > 0 {
		lastSeg := (curSize - 1) / segSize
		for seg := startFreeSeg; seg <= lastSeg; seg++ {
			freedWritten, err := f.releaseSegment(seg)
			if err != nil {
				return newBlocks, err
			}
			if freedWritten {
				newBlocks -= blocksPerSegment
			}
		}
	}
	return newBlocks, nil
}

// zeroTail zeroes the portion of the segment covering newSize past
// newSize, freeing the segment instead (reporting freed=true) if doing so
// leaves it entirely zero.
func (f *File) zeroTail(newSize int64) (freed bool, err error) {
	seg := newSize / segSize
	vaddr, err := f.resolve(seg)
	if err != nil || vaddr == vtype.NilVAddr {
		return false, err
	}
	unwritten, err := f.alloc.IsUnwritten(vaddr)
	if err != nil || unwritten {
		return false, err
	}

	payload, _, err := f.dev.ReadOctet(vaddr)
	if err != nil {
		return false, err
	}
	tailOff := newSize % segSize
	for i := tailOff; i < segSize; i++ {
		payload[i] = 0
	}

	allZero := true
	for _, b := range payload {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return f.releaseSegment(seg)
	}
	return false, f.dev.WriteOctet(vaddr, vtype.VtypeData, payload, false)
}

// HasData reports whether the segment covering off holds an allocated,
// written data block (as opposed to a hole: an unmapped segment, or one
// mapped but still carrying its MarkUnwritten bit from a fallocate
// reservation). Used by pkg/vfuse to answer SEEK_DATA/SEEK_HOLE.
func (f *File) HasData(off int64) (bool, error) {
	vaddr, err := f.resolve(off / segSize)
	if err != nil {
		return false, err
	}
	if vaddr == vtype.NilVAddr {
		return false, nil
	}
	unwritten, err := f.alloc.IsUnwritten(vaddr)
	if err != nil {
		return false, err
	}
	return !unwritten, nil
}

// Fallocate implements the supported fallocate modes (default reserve,
// keep-size reserve, punch-hole, zero-range, and collapse-range). It returns
// the file's new logical size and new block count. The default reserve
// mode only ensures segments exist; it never marks them written, so it
// never changes curBlocks.
func (f *File) Fallocate(mode vtype.FallocateMode, off, length, curSize, curBlocks int64) (int64, int64, error) {
	switch {
	case mode&vtype.FallocateCollapse != 0:
		return f.collapseRange(off, length, curSize, curBlocks)
	case mode&vtype.FallocatePunchHole != 0:
		newBlocks, err := f.zeroRange(off, length, true, curBlocks)
		if err != nil {
			return curSize, curBlocks, err
		}
		return curSize, newBlocks, nil
	case mode&vtype.FallocateZeroRange != 0:
		newBlocks, err := f.zeroRange(off, length, false, curBlocks)
		if err != nil {
			return curSize, curBlocks, err
		}
		if mode&vtype.FallocateKeepSize == 0 {
			return max(curSize, off+length), newBlocks, nil
		}
		return curSize, newBlocks, nil
	default:
		segStart := off / segSize
		segEnd := (off + length - 1) / segSize
		for seg := segStart; seg <= segEnd; seg++ {
			if _, err := f.ensure(seg); err != nil {
				return curSize, curBlocks, err
			}
		}
		if mode&vtype.FallocateKeepSize == 0 {
			return max(curSize, off+length), curBlocks, nil
		}
		return curSize, curBlocks, nil
	}
}

// zeroRange frees (punch=true) or zero-fills (punch=false) every segment
// overlapping [off, off+length). A segment wholly inside the range is
// simply freed in both cases — cheaper than allocating a zero-filled
// segment, and equivalent since an absent segment reads as zero. Returns
// the new block count: freeing a segment that was actually written drops
// it by one blocksPerSegment; zero-filling in place or touching an
// unwritten/absent segment never changes it.
func (f *File) zeroRange(off, length int64, punch bool, curBlocks int64) (int64, error) {
	segStart := off / segSize
	segEnd := (off + length - 1) / segSize
	newBlocks := curBlocks

	for seg := segStart; seg <= segEnd; seg++ {
		segBase := seg * segSize
		rangeStart := max(off, segBase) - segBase
		rangeEnd := min(off+length, segBase+segSize) - segBase

		if rangeStart == 0 && rangeEnd == segSize {
			freedWritten, err := f.releaseSegment(seg)
			if err != nil {
				return newBlocks, err
			}
			if freedWritten {
				newBlocks -= blocksPerSegment
			}
			continue
		}

		vaddr, err := f.resolve(seg)
		if err != nil {
			return newBlocks, err
		}
		if vaddr == vtype.NilVAddr {
			if punch {
				continue
			}
			vaddr, err = f.ensure(seg)
			if err != nil {
				return newBlocks, err
			}
		}
		unwritten, err := f.alloc.IsUnwritten(vaddr)
		if err != nil {
			return newBlocks, err
		}
		if unwritten {
			continue
		}
		payload, _, err := f.dev.ReadOctet(vaddr)
		if err != nil {
			return newBlocks, err
		}
		for i := rangeStart; i < rangeEnd; i++ {
			payload[i] = 0
		}
		if err := f.dev.WriteOctet(vaddr, vtype.VtypeData, payload, false); err != nil {
			return newBlocks, err
		}
	}
	return newBlocks, nil
}

// collapseRange removes [off, off+length) from the file, shifting
// everything after it down and shrinking size by length. It is
// implemented in terms of Read/Write/Truncate rather than a dedicated
// segment-shift, since off/length need not be segment-aligned.
func (f *File) collapseRange(off, length, curSize, curBlocks int64) (int64, int64, error) {
	if off+length > curSize {
		return curSize, curBlocks, vtype.Errf(vtype.ErrInvalid, "collapse range exceeds file size")
	}
	blocks := curBlocks
	tailLen := curSize - (off + length)
	if tailLen > 0 {
		buf, err := f.Read(off+length, tailLen, curSize)
		if err != nil {
			return curSize, curBlocks, err
		}
		_, blocks, err = f.Write(off, buf, curSize, curBlocks)
		if err != nil {
			return curSize, curBlocks, err
		}
	}
	newSize := curSize - length
	newBlocks, err := f.Truncate(newSize, curSize, blocks)
	if err != nil {
		return curSize, curBlocks, err
	}
	return newSize, newBlocks, nil
}
