package bptree

import (
	"github.com/nanobuf/nanobuf/bptpage"
	"github.com/nanobuf/nanobuf/buffer"
	"github.com/nanobuf/nanobuf/disk"
)

// Iterator walks a tree's leaves in ascending key order. It holds a read
// latch and a pin on exactly one leaf page at a time, released as the
// iterator advances past it or is abandoned.
type Iterator struct {
	tree  *Tree
	page  *buffer.Page
	index int
}

// Begin starts an iterator at the tree's first key.
func (t *Tree) Begin() (*Iterator, error) {
	return t.beginAt(0, true)
}

// BeginAt starts an iterator at the first key >= key.
func (t *Tree) BeginAt(key bptpage.Key) (*Iterator, error) {
	txn := NewTransaction()
	page, err := t.findLeafPage(key, false, opRead, txn)
	if err != nil {
		t.releaseTransaction(txn, opRead)
		return nil, err
	}
	if page == nil {
		t.releaseTransaction(txn, opRead)
		return &Iterator{}, nil
	}
	idx := bptpage.NewLeaf(page.Data()).KeyIndex(key)
	it := &Iterator{tree: t, page: page, index: idx}
	it.skipToNextLeafIfExhausted()
	return it, nil
}

func (t *Tree) beginAt(key bptpage.Key, leftmost bool) (*Iterator, error) {
	txn := NewTransaction()
	page, err := t.findLeafPage(key, leftmost, opRead, txn)
	if err != nil {
		t.releaseTransaction(txn, opRead)
		return nil, err
	}
	if page == nil {
		t.releaseTransaction(txn, opRead)
		return &Iterator{}, nil
	}
	it := &Iterator{tree: t, page: page, index: 0}
	it.skipToNextLeafIfExhausted()
	return it, nil
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator) IsEnd() bool { return it.page == nil }

// Key returns the current entry's key. Only valid when !IsEnd().
func (it *Iterator) Key() bptpage.Key {
	return bptpage.NewLeaf(it.page.Data()).KeyAt(it.index)
}

// Value returns the current entry's RID. Only valid when !IsEnd().
func (it *Iterator) Value() bptpage.RID {
	return bptpage.NewLeaf(it.page.Data()).ValueAt(it.index)
}

// Next advances to the following entry. When the current leaf is
// exhausted it releases that leaf, then fetches and read-latches the next
// leaf via its sibling pointer.
func (it *Iterator) Next() {
	if it.page == nil {
		return
	}
	it.index++
	it.skipToNextLeafIfExhausted()
}

func (it *Iterator) skipToNextLeafIfExhausted() {
	for it.page != nil {
		leaf := bptpage.NewLeaf(it.page.Data())
		if it.index < leaf.Size() {
			return
		}
		nextID := leaf.NextPageID()
		it.release()
		if nextID == disk.InvalidPageID {
			return
		}
		next, err := it.tree.pool.FetchPage(nextID)
		if err != nil || next == nil {
			return
		}
		next.RLatch()
		it.page = next
		it.index = 0
	}
}

// Close releases the iterator's held latch and pin. Safe to call more
// than once, and automatically invoked once the iterator runs past its
// last entry.
func (it *Iterator) Close() { it.release() }

func (it *Iterator) release() {
	if it.page == nil {
		return
	}
	it.page.RUnlatch()
	it.tree.pool.UnpinPage(it.page.ID(), false)
	it.page = nil
}
