// Package vspace is the allocator / space map (component C2). It tracks,
// per allocation group, which block-octets are in use and by what vtype,
// allocates virtual addresses on request, and frees them back. The
// divide/align integer-ceiling helpers and the "scan groups, track
// overhead" shape of the allocation loop follow pkg/ext4/common.go and
// pkg/ext4/layout.go's group/flex accounting, adapted from a one-shot
// build-time planner into an online bitmap allocator.
package vspace

import "github.com/voluta-fs/voluta/pkg/vtype"

// maxRefcnt is the largest value a boctet's 2-bit refcnt field can hold.
const maxRefcnt = 3

// Boctet is the per-block-octet bookkeeping record: which vtype occupies
// the octet, whether it is in use, whether it has been
// allocated-but-never-written (a fallocate reservation), and a small
// reference count.
type Boctet struct {
	Vtype     vtype.Vtype
	Usemask   bool
	Unwritten bool
	Refcnt    uint8
}

func (b Boctet) encode() byte {
	var x byte
	x |= byte(b.Vtype&0xF) << 4
	if b.Usemask {
		x |= 1 << 3
	}
	if b.Unwritten {
		x |= 1 << 2
	}
	x |= b.Refcnt & 0x3
	return x
}

func decodeBoctet(x byte) Boctet {
	return Boctet{
		Vtype:     vtype.Vtype(x >> 4 & 0xF),
		Usemask:   x&(1<<3) != 0,
		Unwritten: x&(1<<2) != 0,
		Refcnt:    x & 0x3,
	}
}

// Bkref is the per-block record: the usage state of each of a block's
// BoctetsPerBlk block-octets. A block-sized vtype consumes all eight
// octets at once; only inode heads share a block's octets individually.
type Bkref struct {
	Octets [vtype.BoctetsPerBlk]Boctet
}

// free reports whether octet i is unused.
func (bk *Bkref) free(i int) bool { return !bk.Octets[i].Usemask }

// wholeBlockFree reports whether every octet in bk is unused, the
// precondition for allocating a block-sized vtype here.
func (bk *Bkref) wholeBlockFree() bool {
	for i := range bk.Octets {
		if bk.Octets[i].Usemask {
			return false
		}
	}
	return true
}

// hosts reports whether bk already has at least one octet in use holding
// vt, meaning a new octet of the same vtype can share this block.
func (bk *Bkref) hosts(vt vtype.Vtype) bool {
	for _, o := range bk.Octets {
		if o.Usemask && o.Vtype == vt {
			return true
		}
	}
	return false
}

func (bk *Bkref) encode(out []byte) {
	for i, o := range bk.Octets {
		out[i] = o.encode()
	}
}

func decodeBkref(in []byte) Bkref {
	var bk Bkref
	for i := range bk.Octets {
		bk.Octets[i] = decodeBoctet(in[i])
	}
	return bk
}
