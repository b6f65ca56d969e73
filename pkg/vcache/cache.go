// Package vcache is the virtual-node cache (component C3): an LRU of
// decoded on-disk nodes keyed by their virtual address, with a per-node
// lock for concurrent readers/writers and a singleflight group so that two
// goroutines racing to fault in the same vaddr collapse into one disk
// read. golang.org/x/sync/singleflight is already part of the pack's
// dependency surface (it is a transitive requirement of hanwen-go-fuse,
// distr1-distri and GoogleCloudPlatform-gcsfuse's own golang.org/x/sync
// pin) and is the idiomatic answer to "one builder per key"; the LRU
// ordering itself uses container/list, since no third-party LRU cache
// package is required anywhere in the retrieved corpus.
package vcache

import (
	"container/list"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

// Node is anything the cache can hold: a decoded inode, radix-tree node,
// H-tree node, xattr node or AG map. Dirty nodes are pinned (never
// evicted) until Cache.Dirty(vaddr, false) releases them.
type Node interface {
	VAddr() vtype.VAddr
}

// Builder decodes the node living at vaddr, typically by reading it
// through pkg/vblock and unmarshalling its body.
type Builder func(vaddr vtype.VAddr) (Node, error)

type entry struct {
	mu    sync.RWMutex
	vaddr vtype.VAddr
	node  Node
	dirty bool
	elem  *list.Element
}

// Cache is C3: a bounded LRU of entries, evicting clean entries only.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[vtype.VAddr]*entry
	order    *list.List // front = most recently used
	group    singleflight.Group
}

// New returns a Cache holding at most capacity nodes.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[vtype.VAddr]*entry),
		order:    list.New(),
	}
}

// Get returns the node at vaddr, building it via build if it is not
// already cached. Concurrent Get calls for the same vaddr share a single
// build call.
func (c *Cache) Get(vaddr vtype.VAddr, build Builder) (Node, error) {
	c.mu.Lock()
	if e, ok := c.entries[vaddr]; ok {
		c.order.MoveToFront(e.elem)
		c.mu.Unlock()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.node, nil
	}
	c.mu.Unlock()

	key := vaddrKey(vaddr)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another goroutine may have inserted while we were
		// queued behind the singleflight call.
		c.mu.Lock()
		if e, ok := c.entries[vaddr]; ok {
			c.mu.Unlock()
			e.mu.RLock()
			n := e.node
			e.mu.RUnlock()
			return n, nil
		}
		c.mu.Unlock()

		n, err := build(vaddr)
		if err != nil {
			return nil, err
		}
		c.insert(vaddr, n)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Node), nil
}

func (c *Cache) insert(vaddr vtype.VAddr, n Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[vaddr]; ok {
		return
	}
	e := &entry{vaddr: vaddr, node: n}
	e.elem = c.order.PushFront(e)
	c.entries[vaddr] = e
	c.evictLocked()
}

// Put inserts or replaces a node the caller just built or mutated,
// optionally marking it dirty so it is pinned against eviction.
func (c *Cache) Put(n Node, dirty bool) {
	vaddr := n.VAddr()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[vaddr]; ok {
		e.mu.Lock()
		e.node = n
		e.dirty = e.dirty || dirty
		e.mu.Unlock()
		c.order.MoveToFront(e.elem)
		return
	}
	e := &entry{vaddr: vaddr, node: n, dirty: dirty}
	e.elem = c.order.PushFront(e)
	c.entries[vaddr] = e
	c.evictLocked()
}

// Dirty marks the node at vaddr dirty (pinned) or clean (evictable).
func (c *Cache) Dirty(vaddr vtype.VAddr, dirty bool) {
	c.mu.Lock()
	e, ok := c.entries[vaddr]
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.dirty = dirty
	e.mu.Unlock()
}

// Evict drops vaddr from the cache regardless of recency, refusing only
// if it is still dirty.
func (c *Cache) Evict(vaddr vtype.VAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[vaddr]
	if !ok {
		return true
	}
	e.mu.RLock()
	dirty := e.dirty
	e.mu.RUnlock()
	if dirty {
		return false
	}
	c.order.Remove(e.elem)
	delete(c.entries, vaddr)
	return true
}

// Lock acquires the per-node write lock for vaddr's entry, creating a
// placeholder entry first if necessary (used by callers that need to
// serialise a read-modify-write against a node not yet cached).
func (c *Cache) Lock(vaddr vtype.VAddr) func() {
	c.mu.Lock()
	e, ok := c.entries[vaddr]
	if !ok {
		e = &entry{vaddr: vaddr}
		e.elem = c.order.PushFront(e)
		c.entries[vaddr] = e
	}
	c.mu.Unlock()
	e.mu.Lock()
	return e.mu.Unlock
}

// evictLocked drops least-recently-used clean entries until the cache is
// back within capacity. c.mu must already be held.
func (c *Cache) evictLocked() {
	for budget := c.order.Len(); c.order.Len() > c.capacity && budget > 0; budget-- {
		back := c.order.Back()
		e := back.Value.(*entry)
		e.mu.RLock()
		dirty := e.dirty
		e.mu.RUnlock()
		if dirty {
			// Pinned: move it out of eviction's way without shrinking
			// the list and keep scanning; once every resident entry has
			// been examined the scan stops, so a cache whose entries are
			// all dirty stays over capacity instead of spinning.
			c.order.MoveToFront(back)
			continue
		}
		c.order.Remove(back)
		delete(c.entries, e.vaddr)
	}
}

// Len reports how many nodes are currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func vaddrKey(vaddr vtype.VAddr) string {
	// singleflight keys are strings; a vaddr's decimal form is unique and
	// cheap to format relative to the disk read it is deduplicating.
	return strconv.FormatInt(int64(vaddr), 10)
}
