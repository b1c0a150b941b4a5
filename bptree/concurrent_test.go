package bptree

import (
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/nanobuf/nanobuf/bptpage"
	"github.com/nanobuf/nanobuf/disk"
)

// TestConcurrentInsertAndLookup fans out many goroutines inserting
// disjoint key ranges, then many more reading back every key, to
// exercise latch coupling and the tree-wide write mutex under real
// contention rather than just single-threaded logic.
func TestConcurrentInsertAndLookup(t *testing.T) {
	tree := newTestTree(t, 128)

	const workers = 8
	const perWorker = 1000

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				key := bptpage.Key(w*perWorker + i)
				if _, err := tree.Insert(key, rid(int(key))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent insert: %v", err)
	}

	var rg errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		rg.Go(func() error {
			for i := 0; i < perWorker; i++ {
				key := bptpage.Key(w*perWorker + i)
				v, ok, err := tree.GetValue(key)
				if err != nil {
					return err
				}
				if !ok || v.PageID != disk.PageID(key) {
					t.Errorf("GetValue(%d) = (%v, %v), want (%d, true)", key, v, ok, key)
				}
			}
			return nil
		})
	}
	if err := rg.Wait(); err != nil {
		t.Fatalf("concurrent lookup: %v", err)
	}
}

// TestConcurrentInsertAndRemove seeds the tree sequentially, then runs
// concurrent writers that each delete every other key of their own
// range, to exercise coalesceOrRedistribute under concurrent writers.
func TestConcurrentInsertAndRemove(t *testing.T) {
	tree := newTestTree(t, 128)

	const n = 4000
	for i := 0; i < n; i++ {
		if _, err := tree.Insert(bptpage.Key(i), rid(i)); err != nil {
			t.Fatalf("seed Insert(%d): %v", i, err)
		}
	}

	var g errgroup.Group
	const workers = 8
	span := n / workers
	for w := 0; w < workers; w++ {
		lo := w * span
		g.Go(func() error {
			for i := lo; i < lo+span; i += 2 {
				if err := tree.Remove(bptpage.Key(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent remove: %v", err)
	}

	for i := 0; i < n; i++ {
		_, ok, err := tree.GetValue(bptpage.Key(i))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		wantOK := i%2 == 1
		if ok != wantOK {
			t.Fatalf("GetValue(%d) found=%v, want %v", i, ok, wantOK)
		}
	}
}
