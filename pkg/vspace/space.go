package vspace

import (
	"sync"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// Allocator is C2: it owns every allocation group's map and serves
// allocate/free requests against the volume's vblock.Device. The policy
// is a linear scan of AGs in nkb_used-ascending order with first-fit
// inside the chosen AG; a caller-supplied near vaddr biases the scan
// toward its own AG first.
type Allocator struct {
	mu   sync.Mutex
	dev  *vblock.Device
	nAG  int64
	maps map[int64]*AGMap
}

// Open returns an Allocator over a volume with nAG allocation groups. No
// AG map is read until it is actually touched by Allocate or Free.
func Open(dev *vblock.Device, nAG int64) *Allocator {
	return &Allocator{dev: dev, nAG: nAG, maps: make(map[int64]*AGMap)}
}

// NAG returns the allocation group count.
func (a *Allocator) NAG() int64 { return a.nAG }

// loadAG returns (lazily materialising) the map for allocation group ag.
func (a *Allocator) loadAG(ag int64) (*AGMap, error) {
	if m, ok := a.maps[ag]; ok {
		return m, nil
	}
	body, vt, err := a.dev.ReadBlock(vtype.AGBaseLBA(ag))
	if err != nil {
		if vtype.KindOf(err) == vtype.ErrCorrupt {
			// Never-initialised AG: the on-disk block device has no magic
			// at this LBA yet, so start from an entirely free map.
			m := NewAGMap(ag)
			a.maps[ag] = m
			return m, nil
		}
		return nil, err
	}
	if vt != vtype.VtypeAGMap {
		return nil, vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want agmap", vtype.AGBaseLBA(ag), vt)
	}
	m, err := DecodeAGMap(body)
	if err != nil {
		return nil, err
	}
	a.maps[ag] = m
	return m, nil
}

func (a *Allocator) storeAG(m *AGMap) error {
	return a.dev.PutBlock(vtype.AGBaseLBA(m.Index), vtype.VtypeAGMap, m.Encode(), false)
}

// scanOrder returns allocation group indices in nkb_used-ascending order,
// with near's AG (if any) moved to the front as a locality bias.
func (a *Allocator) scanOrder(near vtype.VAddr) ([]int64, error) {
	order := make([]int64, a.nAG)
	used := make([]int64, a.nAG)
	for i := int64(0); i < a.nAG; i++ {
		m, err := a.loadAG(i)
		if err != nil {
			return nil, err
		}
		order[i] = i
		used[i] = m.NkbUsed
	}
	// Simple insertion sort by used ascending; nAG is small enough
	// (<= MaxAGCount) that this never needs to be more than that.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && used[order[j]] < used[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	if near != vtype.NilVAddr {
		nearAG := near.AGIndex()
		for i, ag := range order {
			if ag == nearAG {
				copy(order[1:i+1], order[:i])
				order[0] = nearAG
				break
			}
		}
	}
	return order, nil
}

// Allocate finds space for one object of vtype vt and returns its virtual
// address. near, when not vtype.NilVAddr, biases the search toward its
// allocation group. Returns an *vtype.Error of kind ErrNoSpace when no AG
// has room.
func (a *Allocator) Allocate(vt vtype.Vtype, near vtype.VAddr) (vtype.VAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	order, err := a.scanOrder(near)
	if err != nil {
		return vtype.NilVAddr, err
	}

	for _, ag := range order {
		m := a.maps[ag]
		if vt.IsBlockSized() {
			for bi := range m.Bkrefs {
				if !m.Bkrefs[bi].wholeBlockFree() {
					continue
				}
				for oi := range m.Bkrefs[bi].Octets {
					m.Bkrefs[bi].Octets[oi] = Boctet{Vtype: vt, Usemask: true, Refcnt: 1}
				}
				m.NkbUsed += vtype.BoctetsPerBlk
				if err := a.storeAG(m); err != nil {
					return vtype.NilVAddr, err
				}
				return vtype.MakeVAddr(ag, int64(bi)+1, 0), nil
			}
			continue
		}

		// Sub-block allocation (inode heads, data segments): first free
		// octet in a block that is either empty or already hosting the
		// same vtype, so a block's header.Vtype stays a single value
		// (pkg/vblock reads/writes these octets via whole-block
		// read-modify-write keyed on that one vtype).
		for bi := range m.Bkrefs {
			if !m.Bkrefs[bi].wholeBlockFree() && !m.Bkrefs[bi].hosts(vt) {
				continue
			}
			for oi := range m.Bkrefs[bi].Octets {
				if !m.Bkrefs[bi].free(oi) {
					continue
				}
				m.Bkrefs[bi].Octets[oi] = Boctet{Vtype: vt, Usemask: true, Refcnt: 1}
				m.NkbUsed++
				if err := a.storeAG(m); err != nil {
					return vtype.NilVAddr, err
				}
				return vtype.MakeVAddr(ag, int64(bi)+1, oi), nil
			}
		}
	}

	return vtype.NilVAddr, vtype.Errf(vtype.ErrNoSpace, "no allocation group has room for a %s", vt)
}

// Free releases vaddr, previously allocated as vtype vt, back to its
// allocation group.
func (a *Allocator) Free(vaddr vtype.VAddr, vt vtype.Vtype) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ag := vaddr.AGIndex()
	m, err := a.loadAG(ag)
	if err != nil {
		return err
	}
	bi := vaddr.BkrefIndex()
	if bi < 0 || int(bi) >= len(m.Bkrefs) {
		return vtype.Errf(vtype.ErrInvalid, "vaddr %d out of range for ag %d", vaddr, ag)
	}

	if vt.IsBlockSized() {
		for oi := range m.Bkrefs[bi].Octets {
			if !m.Bkrefs[bi].Octets[oi].Usemask {
				return vtype.Errf(vtype.ErrCorrupt, "double free at vaddr %d", vaddr)
			}
			m.Bkrefs[bi].Octets[oi] = Boctet{}
		}
		m.NkbUsed -= vtype.BoctetsPerBlk
		return a.storeAG(m)
	}

	oi := vaddr.OctetIndex()
	o := &m.Bkrefs[bi].Octets[oi]
	if !o.Usemask {
		return vtype.Errf(vtype.ErrCorrupt, "double free at vaddr %d", vaddr)
	}
	if o.Refcnt > 1 {
		o.Refcnt--
		return a.storeAG(m)
	}
	*o = Boctet{}
	m.NkbUsed--
	return a.storeAG(m)
}

// MarkUnwritten toggles the unwritten bit on a previously-allocated data
// segment, used by C5's fallocate path.
func (a *Allocator) MarkUnwritten(vaddr vtype.VAddr, unwritten bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ag := vaddr.AGIndex()
	m, err := a.loadAG(ag)
	if err != nil {
		return err
	}
	o := &m.Bkrefs[vaddr.BkrefIndex()].Octets[vaddr.OctetIndex()]
	if !o.Usemask {
		return vtype.Errf(vtype.ErrInvalid, "vaddr %d is not allocated", vaddr)
	}
	o.Unwritten = unwritten
	return a.storeAG(m)
}

// IsUnwritten reports the unwritten bit at vaddr.
func (a *Allocator) IsUnwritten(vaddr vtype.VAddr) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.loadAG(vaddr.AGIndex())
	if err != nil {
		return false, err
	}
	return m.Bkrefs[vaddr.BkrefIndex()].Octets[vaddr.OctetIndex()].Unwritten, nil
}

// Ref increments a sub-block object's reference count (hardlinked inode
// heads); callers must already hold a reference.
func (a *Allocator) Ref(vaddr vtype.VAddr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.loadAG(vaddr.AGIndex())
	if err != nil {
		return err
	}
	o := &m.Bkrefs[vaddr.BkrefIndex()].Octets[vaddr.OctetIndex()]
	if !o.Usemask {
		return vtype.Errf(vtype.ErrInvalid, "vaddr %d is not allocated", vaddr)
	}
	if o.Refcnt >= maxRefcnt {
		return vtype.Errf(vtype.ErrCorrupt, "refcnt overflow at vaddr %d", vaddr)
	}
	o.Refcnt++
	return a.storeAG(m)
}

// StatFree returns the free/available block-octet counts across the whole
// volume, backing the statfs FUSE operation.
func (a *Allocator) StatFree() (free, total int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total = a.nAG * vtype.BkrefsPerAG * vtype.BoctetsPerBlk
	for i := int64(0); i < a.nAG; i++ {
		m, err := a.loadAG(i)
		if err != nil {
			return 0, 0, err
		}
		free += vtype.BkrefsPerAG*vtype.BoctetsPerBlk - m.NkbUsed
	}
	return free, total, nil
}
