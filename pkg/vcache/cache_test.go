package vcache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

type fakeNode struct {
	vaddr vtype.VAddr
	val   int
}

func (n *fakeNode) VAddr() vtype.VAddr { return n.vaddr }

func TestGetBuildsOnce(t *testing.T) {
	c := New(8)
	var builds int32

	build := func(vaddr vtype.VAddr) (Node, error) {
		atomic.AddInt32(&builds, 1)
		return &fakeNode{vaddr: vaddr, val: 42}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := c.Get(100, build)
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			if n.(*fakeNode).val != 42 {
				t.Errorf("val = %d, want 42", n.(*fakeNode).val)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Errorf("build ran %d times, want 1", got)
	}
}

func TestEvictionRespectsDirty(t *testing.T) {
	c := New(2)
	c.Put(&fakeNode{vaddr: 1}, true)  // dirty, pinned
	c.Put(&fakeNode{vaddr: 2}, false) // clean
	c.Put(&fakeNode{vaddr: 3}, false) // should evict 2, not 1

	if !c.Evict(2) {
		t.Fatalf("expected vaddr 2 to already be gone or evictable")
	}
	if c.Evict(1) {
		t.Errorf("dirty node at vaddr 1 should not evict")
	}
}

func TestDirtyThenClean(t *testing.T) {
	c := New(1)
	c.Put(&fakeNode{vaddr: 1}, true)
	if c.Evict(1) {
		t.Fatalf("dirty entry evicted")
	}
	c.Dirty(1, false)
	if !c.Evict(1) {
		t.Fatalf("clean entry should evict")
	}
}

func TestLockSerialisesPlaceholder(t *testing.T) {
	c := New(4)
	unlock := c.Lock(5)
	done := make(chan struct{})
	go func() {
		u := c.Lock(5)
		u()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("second Lock should have blocked until the first unlocked")
	default:
	}
	unlock()
	<-done
}
