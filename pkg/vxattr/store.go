package vxattr

import (
	"sync"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// Store is the per-inode xattr view: an inline table (embedded in the
// owning inode head, so it is passed in and handed back for the caller to
// persist) plus up to vtype.XattrMaxOutOfLine overflow nodes allocated on
// demand.
type Store struct {
	mu    sync.Mutex
	dev   *vblock.Device
	alloc *vspace.Allocator

	inline *InlineTable
	nodes  [vtype.XattrMaxOutOfLine]vtype.VAddr
}

// Open attaches a Store to an inode's already-decoded inline table and its
// (possibly unset) overflow node vaddrs.
func Open(dev *vblock.Device, alloc *vspace.Allocator, inline *InlineTable, nodes [vtype.XattrMaxOutOfLine]vtype.VAddr) *Store {
	if inline == nil {
		inline = &InlineTable{}
	}
	return &Store{dev: dev, alloc: alloc, inline: inline, nodes: nodes}
}

// Inline returns the current inline table, for the caller to re-encode
// into the inode head after a mutation.
func (s *Store) Inline() *InlineTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inline
}

// Nodes returns the current overflow node vaddrs, for the caller to
// persist in the inode head.
func (s *Store) Nodes() [vtype.XattrMaxOutOfLine]vtype.VAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes
}

func (s *Store) loadNode(vaddr vtype.VAddr) (*xaNode, error) {
	body, vt, err := s.dev.ReadBlock(vaddr.LBA())
	if err != nil {
		return nil, err
	}
	if vt != vtype.VtypeXANode {
		return nil, vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want xanode", vaddr.LBA(), vt)
	}
	return decodeXANode(vaddr, body)
}

func (s *Store) storeNode(n *xaNode) error {
	return s.dev.PutBlock(n.vaddr.LBA(), vtype.VtypeXANode, n.encode(), false)
}

// Get returns the value of name, or ErrNoEnt.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.inline.indexOf(name); idx >= 0 {
		return s.inline.Entries[idx].Value, nil
	}
	for _, nv := range s.nodes {
		if nv == vtype.NilVAddr {
			continue
		}
		n, err := s.loadNode(nv)
		if err != nil {
			return nil, err
		}
		if idx := n.indexOf(name); idx >= 0 {
			return n.entries[idx].Value, nil
		}
	}
	return nil, vtype.Errf(vtype.ErrNoEnt, "xattr %q not found", name)
}

// List returns every attribute name currently set.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, e := range s.inline.Entries {
		names = append(names, e.Name)
	}
	for _, nv := range s.nodes {
		if nv == vtype.NilVAddr {
			continue
		}
		n, err := s.loadNode(nv)
		if err != nil {
			return nil, err
		}
		for _, e := range n.entries {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// Set creates or replaces name's value, preferring the inline tier and
// falling back to an out-of-line node (allocating a fresh one, up to
// vtype.XattrMaxOutOfLine, if none has room).
func (s *Store) Set(name string, value []byte) error {
	if len(value) > vtype.XattrMaxValueLen {
		return vtype.Errf(vtype.ErrInvalid, "xattr value %d bytes exceeds max %d", len(value), vtype.XattrMaxValueLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replacing an existing value keeps it in whichever tier it already
	// lives in, except that an inline value grown past inlineValueCap is
	// dropped from the inline table and stored out of line.
	if idx := s.inline.indexOf(name); idx >= 0 {
		if len(value) <= inlineValueCap {
			s.inline.Entries[idx].Value = value
			return nil
		}
		s.inline.Entries = append(s.inline.Entries[:idx], s.inline.Entries[idx+1:]...)
	} else {
		for _, nv := range s.nodes {
			if nv == vtype.NilVAddr {
				continue
			}
			n, err := s.loadNode(nv)
			if err != nil {
				return err
			}
			if idx := n.indexOf(name); idx >= 0 {
				n.entries[idx].Value = value
				return s.storeNode(n)
			}
		}
	}

	entry := InlineEntry{Name: name, Value: value}
	if s.inline.fits(name, value) {
		s.inline.Entries = append(s.inline.Entries, entry)
		return nil
	}
	return s.setOutOfLine(name, value)
}

func (s *Store) setOutOfLine(name string, value []byte) error {
	e := xaEntry{Name: name, Value: value}

	for _, nv := range s.nodes {
		if nv == vtype.NilVAddr {
			continue
		}
		n, err := s.loadNode(nv)
		if err != nil {
			return err
		}
		if n.room(e) {
			n.entries = append(n.entries, e)
			return s.storeNode(n)
		}
	}

	for i, nv := range s.nodes {
		if nv != vtype.NilVAddr {
			continue
		}
		vaddr, err := s.alloc.Allocate(vtype.VtypeXANode, vtype.NilVAddr)
		if err != nil {
			return err
		}
		n := newXANode(vaddr)
		n.entries = append(n.entries, e)
		if err := s.storeNode(n); err != nil {
			return err
		}
		s.nodes[i] = vaddr
		return nil
	}

	return vtype.Errf(vtype.ErrNoSpace, "xattr store full: all %d overflow nodes exhausted", vtype.XattrMaxOutOfLine)
}

// Remove drops name, failing ErrNoEnt if it is not set.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.inline.indexOf(name); idx >= 0 {
		s.inline.Entries = append(s.inline.Entries[:idx], s.inline.Entries[idx+1:]...)
		return nil
	}
	for _, nv := range s.nodes {
		if nv == vtype.NilVAddr {
			continue
		}
		n, err := s.loadNode(nv)
		if err != nil {
			return err
		}
		if idx := n.indexOf(name); idx >= 0 {
			n.entries = append(n.entries[:idx], n.entries[idx+1:]...)
			return s.storeNode(n)
		}
	}
	return vtype.Errf(vtype.ErrNoEnt, "xattr %q not found", name)
}

// Clear frees every out-of-line overflow node, for use when the owning
// inode is being unlinked.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, nv := range s.nodes {
		if nv == vtype.NilVAddr {
			continue
		}
		if err := s.alloc.Free(nv, vtype.VtypeXANode); err != nil {
			return err
		}
		s.nodes[i] = vtype.NilVAddr
	}
	s.inline.Entries = nil
	return nil
}
