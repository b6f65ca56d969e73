package vxattr

import (
	"encoding/binary"
	"strings"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// symValHeaderSize is partlen(2) + next(8).
const symValHeaderSize = 2 + 8

// symValCapacity is the data payload one symval chain link can hold.
const symValCapacity = vtype.SymlinkPartSize

// SymlinkStore writes and reads symlink targets: short targets are
// returned as an inline blob for the caller to embed directly in the
// owning inode head, longer ones are chained across out-of-line
// vtype.VtypeSymVal blocks (up to vtype.SymlinkMaxParts links).
type SymlinkStore struct {
	dev   *vblock.Device
	alloc *vspace.Allocator
}

func NewSymlinkStore(dev *vblock.Device, alloc *vspace.Allocator) *SymlinkStore {
	return &SymlinkStore{dev: dev, alloc: alloc}
}

// Write stores target, returning either a non-nil inline blob (target fit
// within vtype.SymlinkInlineMax bytes) or a head vaddr for an out-of-line
// chain, never both.
func (s *SymlinkStore) Write(target string) (inline []byte, head vtype.VAddr, err error) {
	if len(target) > vtype.SymlinkMaxTotal {
		return nil, vtype.NilVAddr, vtype.Errf(vtype.ErrNameTooLong, "symlink target %d bytes exceeds max %d", len(target), vtype.SymlinkMaxTotal)
	}
	if len(target) <= vtype.SymlinkInlineMax {
		return []byte(target), vtype.NilVAddr, nil
	}

	remaining := target
	var vaddrs []vtype.VAddr
	for len(remaining) > 0 {
		if len(vaddrs) >= vtype.SymlinkMaxParts {
			return nil, vtype.NilVAddr, vtype.Errf(vtype.ErrNameTooLong, "symlink target needs more than %d parts", vtype.SymlinkMaxParts)
		}
		n := min(len(remaining), symValCapacity)
		vaddr, aerr := s.alloc.Allocate(vtype.VtypeSymVal, vtype.NilVAddr)
		if aerr != nil {
			s.freeChain(vaddrs)
			return nil, vtype.NilVAddr, aerr
		}
		vaddrs = append(vaddrs, vaddr)
		if perr := s.dev.PutBlock(vaddr.LBA(), vtype.VtypeSymVal, encodeSymVal(remaining[:n], vtype.NilVAddr), false); perr != nil {
			s.freeChain(vaddrs)
			return nil, vtype.NilVAddr, perr
		}
		remaining = remaining[n:]
	}

	// Link the chain tail-to-head so the head vaddr alone is enough to
	// walk it forward on read.
	for i := len(vaddrs) - 2; i >= 0; i-- {
		body, vt, rerr := s.dev.ReadBlock(vaddrs[i].LBA())
		if rerr != nil {
			return nil, vtype.NilVAddr, rerr
		}
		if vt != vtype.VtypeSymVal {
			return nil, vtype.NilVAddr, vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want symval", vaddrs[i].LBA(), vt)
		}
		part, _, derr := decodeSymVal(body)
		if derr != nil {
			return nil, vtype.NilVAddr, derr
		}
		if werr := s.dev.PutBlock(vaddrs[i].LBA(), vtype.VtypeSymVal, encodeSymVal(part, vaddrs[i+1]), false); werr != nil {
			return nil, vtype.NilVAddr, werr
		}
	}

	return nil, vaddrs[0], nil
}

// Read reconstructs the symlink target from either an inline blob or an
// out-of-line chain head (exactly one of which should be non-empty/valid).
func (s *SymlinkStore) Read(inline []byte, head vtype.VAddr) (string, error) {
	if len(inline) > 0 {
		return string(inline), nil
	}
	if head == vtype.NilVAddr {
		return "", nil
	}

	var sb strings.Builder
	for vaddr := head; vaddr != vtype.NilVAddr; {
		body, vt, err := s.dev.ReadBlock(vaddr.LBA())
		if err != nil {
			return "", err
		}
		if vt != vtype.VtypeSymVal {
			return "", vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want symval", vaddr.LBA(), vt)
		}
		part, next, err := decodeSymVal(body)
		if err != nil {
			return "", err
		}
		sb.Write(part)
		vaddr = next
	}
	return sb.String(), nil
}

// Free releases an out-of-line chain (a no-op for inline targets, which
// the caller never allocated anything for).
func (s *SymlinkStore) Free(head vtype.VAddr) error {
	for vaddr := head; vaddr != vtype.NilVAddr; {
		body, vt, err := s.dev.ReadBlock(vaddr.LBA())
		if err != nil {
			return err
		}
		if vt != vtype.VtypeSymVal {
			return vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want symval", vaddr.LBA(), vt)
		}
		_, next, err := decodeSymVal(body)
		if err != nil {
			return err
		}
		if err := s.alloc.Free(vaddr, vtype.VtypeSymVal); err != nil {
			return err
		}
		vaddr = next
	}
	return nil
}

func (s *SymlinkStore) freeChain(vaddrs []vtype.VAddr) {
	for _, v := range vaddrs {
		_ = s.alloc.Free(v, vtype.VtypeSymVal)
	}
}

func encodeSymVal(part []byte, next vtype.VAddr) []byte {
	buf := make([]byte, symValHeaderSize+len(part))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(part)))
	binary.LittleEndian.PutUint64(buf[2:10], uint64(next))
	copy(buf[symValHeaderSize:], part)
	return buf
}

func decodeSymVal(body []byte) ([]byte, vtype.VAddr, error) {
	if len(body) < symValHeaderSize {
		return nil, vtype.NilVAddr, vtype.Errf(vtype.ErrCorrupt, "symval part too short: %d bytes", len(body))
	}
	partLen := int(binary.LittleEndian.Uint16(body[0:2]))
	next := vtype.VAddr(binary.LittleEndian.Uint64(body[2:10]))
	if symValHeaderSize+partLen > len(body) {
		return nil, vtype.NilVAddr, vtype.Errf(vtype.ErrCorrupt, "symval part body truncated")
	}
	part := make([]byte, partLen)
	copy(part, body[symValHeaderSize:symValHeaderSize+partLen])
	return part, next, nil
}
