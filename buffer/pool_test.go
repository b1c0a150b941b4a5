package buffer

import (
	"testing"

	"github.com/nanobuf/nanobuf/disk"
)

func newTestPool(t *testing.T, size int) (*Pool, *disk.MemManager) {
	t.Helper()
	dm := disk.NewMemManager()
	t.Cleanup(func() { dm.Close() })
	return NewPool(Config{PoolSize: size}, dm), dm
}

func TestNewPageThenFetch(t *testing.T) {
	pool, _ := newTestPool(t, 4)

	p, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if p == nil {
		t.Fatal("NewPage returned nil with free frames available")
	}
	id := p.ID()
	copy(p.Data(), []byte("hello"))
	if !pool.UnpinPage(id, true) {
		t.Fatal("UnpinPage should succeed")
	}

	// Force eviction back to disk and refetch.
	for i := 0; i < 3; i++ {
		if _, err := pool.NewPage(); err != nil {
			t.Fatalf("NewPage %d: %v", i, err)
		}
	}
	// One more should evict the unpinned page above (pool size 4, 4 used).
	victim, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage eviction: %v", err)
	}
	if victim == nil {
		t.Fatal("expected an evictable frame")
	}
	// Unpin the new page so the refetch below has a frame to evict.
	pool.UnpinPage(victim.ID(), false)

	refetched, err := pool.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if refetched == nil {
		t.Fatal("FetchPage returned nil for a page that should be on disk")
	}
	if string(refetched.Data()[:5]) != "hello" {
		t.Fatalf("refetched page data = %q, want hello", refetched.Data()[:5])
	}
}

func TestFetchPagePinsAndRemovesFromReplacer(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	p1, _ := pool.NewPage()
	id1 := p1.ID()
	pool.UnpinPage(id1, false)

	// Re-fetching should pin it again, taking it out of eviction candidacy.
	refetched, err := pool.FetchPage(id1)
	if err != nil || refetched == nil {
		t.Fatalf("FetchPage: %v, %v", refetched, err)
	}
	if refetched.PinCount() != 1 {
		t.Fatalf("PinCount() = %d, want 1", refetched.PinCount())
	}
	if n := pool.replacer.Size(); n != 0 {
		t.Fatalf("replacer.Size() = %d, want 0 after re-pinning", n)
	}
}

func TestUnpinUnknownPageReturnsFalse(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	if pool.UnpinPage(disk.PageID(999), false) {
		t.Fatal("UnpinPage on an unresident page should return false")
	}
}

func TestDeletePageRefusesWhilePinned(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	p, _ := pool.NewPage()
	id := p.ID()

	ok, err := pool.DeletePage(id)
	if err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	if ok {
		t.Fatal("DeletePage should refuse a pinned page")
	}

	pool.UnpinPage(id, false)
	ok, err = pool.DeletePage(id)
	if err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	if !ok {
		t.Fatal("DeletePage should succeed once unpinned")
	}
}

func TestPoolExhaustionReturnsNil(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	p1, _ := pool.NewPage()
	p2, _ := pool.NewPage()
	if p1 == nil || p2 == nil {
		t.Fatal("expected both frames to be allocatable")
	}
	// Both pinned, no free frames, nothing evictable.
	p3, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if p3 != nil {
		t.Fatal("expected nil when pool is fully pinned")
	}
}

func TestDirtyBitIsSticky(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	p, _ := pool.NewPage()
	id := p.ID()
	pool.UnpinPage(id, true)
	pool.FetchPage(id)
	if !pool.UnpinPage(id, false) {
		t.Fatal("UnpinPage should succeed")
	}
	if !p.IsDirty() {
		t.Fatal("UnpinPage(id, false) cleared the dirty bit set by an earlier UnpinPage(id, true)")
	}
	ok, err := pool.FlushPage(id)
	if err != nil || !ok {
		t.Fatalf("FlushPage: %v, %v", ok, err)
	}
}

func TestFlushAllPages(t *testing.T) {
	pool, dm := newTestPool(t, 3)
	_ = dm
	ids := make([]disk.PageID, 0, 3)
	for i := 0; i < 3; i++ {
		p, err := pool.NewPage()
		if err != nil || p == nil {
			t.Fatalf("NewPage %d: %v, %v", i, p, err)
		}
		ids = append(ids, p.ID())
		pool.UnpinPage(p.ID(), true)
	}
	if err := pool.FlushAllPages(); err != nil {
		t.Fatalf("FlushAllPages: %v", err)
	}
	for _, id := range ids {
		ok, err := pool.FlushPage(id)
		if err != nil || !ok {
			t.Fatalf("FlushPage(%d) after FlushAllPages: %v, %v", id, ok, err)
		}
	}
}
