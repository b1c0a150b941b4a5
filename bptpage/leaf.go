package bptpage

import (
	"encoding/binary"

	"github.com/nanobuf/nanobuf/disk"
)

const leafEntrySize = 8 + ridSize // Key + RID

// Leaf is a view over a leaf page's raw bytes: a fixed-size array of
// (key, RID) pairs in strictly increasing key order, plus a next_page_id
// sibling pointer forming the tree's ordered linked list.
type Leaf struct {
	buf []byte
}

// NewLeaf wraps buf as a leaf page view.
func NewLeaf(buf []byte) Leaf { return Leaf{buf: buf} }

// Init formats buf as a fresh, empty leaf page.
func (p Leaf) Init(pageID, parentID disk.PageID) {
	setPageType(p.buf, PageTypeLeaf)
	setSize(p.buf, 0)
	setPageID(p.buf, pageID)
	setParentID(p.buf, parentID)
	p.SetNextPageID(disk.InvalidPageID)
	setMaxSize(p.buf, (disk.PageSize-leafHdr)/leafEntrySize)
	Seal(p.buf)
}

func (p Leaf) PageID() disk.PageID            { return getPageID(p.buf) }
func (p Leaf) ParentPageID() disk.PageID      { return getParentID(p.buf) }
func (p Leaf) SetParentPageID(id disk.PageID) { setParentID(p.buf, id) }
func (p Leaf) Size() int                      { return getSize(p.buf) }
func (p Leaf) MaxSize() int                   { return getMaxSize(p.buf) }
func (p Leaf) IsFull() bool                   { return p.Size() > p.MaxSize() }

func (p Leaf) NextPageID() disk.PageID {
	return disk.PageID(binary.LittleEndian.Uint64(p.buf[offNextPage : offNextPage+8]))
}

func (p Leaf) SetNextPageID(id disk.PageID) {
	binary.LittleEndian.PutUint64(p.buf[offNextPage:offNextPage+8], uint64(id))
}

func leafEntryOffset(i int) int { return leafHdr + i*leafEntrySize }

func (p Leaf) KeyAt(i int) Key {
	off := leafEntryOffset(i)
	return int64(binary.LittleEndian.Uint64(p.buf[off : off+8]))
}

func (p Leaf) setKeyAt(i int, k Key) {
	off := leafEntryOffset(i)
	binary.LittleEndian.PutUint64(p.buf[off:off+8], uint64(k))
}

func (p Leaf) ValueAt(i int) RID {
	off := leafEntryOffset(i) + 8
	return decodeRID(p.buf[off : off+ridSize])
}

func (p Leaf) setValueAt(i int, v RID) {
	off := leafEntryOffset(i) + 8
	encodeRID(p.buf[off:off+ridSize], v)
}

func (p Leaf) setEntry(i int, k Key, v RID) {
	p.setKeyAt(i, k)
	p.setValueAt(i, v)
}

func (p Leaf) copyEntry(from, to int) {
	copy(p.buf[leafEntryOffset(to):leafEntryOffset(to)+leafEntrySize],
		p.buf[leafEntryOffset(from):leafEntryOffset(from)+leafEntrySize])
}

// KeyIndex returns the first slot i with KeyAt(i) >= key, or Size() if
// every key is smaller. Used both for insertion point and for the
// iterator's Begin(key).
func (p Leaf) KeyIndex(key Key) int {
	n := p.Size()
	lo, hi := 0, n
	for lo < hi {
		mid := lo + (hi-lo)/2
		if p.KeyAt(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup performs a binary search for key, returning its value and true if
// found, or a zero RID and false otherwise.
func (p Leaf) Lookup(key Key) (RID, bool) {
	n := p.Size()
	if n == 0 || key < p.KeyAt(0) || key > p.KeyAt(n-1) {
		return RID{}, false
	}
	lo, hi := 0, n-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		switch {
		case p.KeyAt(mid) < key:
			lo = mid + 1
		case p.KeyAt(mid) > key:
			hi = mid - 1
		default:
			return p.ValueAt(mid), true
		}
	}
	return RID{}, false
}

// Insert places (key, value) in sorted order. Returns the new size.
func (p Leaf) Insert(key Key, value RID) int {
	idx := p.KeyIndex(key)
	n := p.Size()
	setSize(p.buf, n+1)
	for i := n; i > idx; i-- {
		p.copyEntry(i-1, i)
	}
	p.setEntry(idx, key, value)
	return n + 1
}

// MoveHalfTo transfers the upper half of this page's entries to recipient
// and splices next_page_id so caller -> recipient -> caller's old next.
func (p Leaf) MoveHalfTo(recipient Leaf) {
	total := p.Size()
	copyIdx := total / 2
	for i := copyIdx; i < total; i++ {
		recipient.copyFromOther(i-copyIdx, p, i)
	}
	recipient.SetNextPageID(p.NextPageID())
	p.SetNextPageID(recipient.PageID())
	setSize(p.buf, copyIdx)
	setSize(recipient.buf, total-copyIdx)
}

func (p Leaf) copyFromOther(toIdx int, src Leaf, fromIdx int) {
	copy(p.buf[leafEntryOffset(toIdx):leafEntryOffset(toIdx)+leafEntrySize],
		src.buf[leafEntryOffset(fromIdx):leafEntryOffset(fromIdx)+leafEntrySize])
}

// MoveAllTo appends all of this page's entries onto recipient and splices
// next_page_id, for use when this page is deleted during a coalesce.
func (p Leaf) MoveAllTo(recipient Leaf) {
	start := recipient.Size()
	n := p.Size()
	for i := 0; i < n; i++ {
		recipient.copyFromOther(start+i, p, i)
	}
	recipient.SetNextPageID(p.NextPageID())
	setSize(recipient.buf, start+n)
	setSize(p.buf, 0)
}

// RemoveAndDeleteRecord removes key if present, returning the new size.
// If key is absent, the size is returned unchanged.
func (p Leaf) RemoveAndDeleteRecord(key Key) int {
	idx := p.KeyIndex(key)
	n := p.Size()
	if idx >= n || p.KeyAt(idx) != key {
		return n
	}
	for i := idx; i < n-1; i++ {
		p.copyEntry(i+1, i)
	}
	setSize(p.buf, n-1)
	return n - 1
}

// RemoveFirst removes and returns this page's first entry, for
// redistribution (donating the smallest entry to a left sibling).
func (p Leaf) RemoveFirst() (Key, RID) {
	k, v := p.KeyAt(0), p.ValueAt(0)
	n := p.Size()
	for i := 0; i < n-1; i++ {
		p.copyEntry(i+1, i)
	}
	setSize(p.buf, n-1)
	return k, v
}

// RemoveLast removes and returns this page's last entry, for
// redistribution (donating the largest entry to a right sibling).
func (p Leaf) RemoveLast() (Key, RID) {
	n := p.Size()
	k, v := p.KeyAt(n-1), p.ValueAt(n-1)
	setSize(p.buf, n-1)
	return k, v
}

// Append adds (key, value) at the end. Caller must ensure ordering.
func (p Leaf) Append(key Key, value RID) {
	n := p.Size()
	setSize(p.buf, n+1)
	p.setEntry(n, key, value)
}

// Prepend adds (key, value) at the front, shifting everything else right.
// Caller must ensure ordering.
func (p Leaf) Prepend(key Key, value RID) {
	n := p.Size()
	setSize(p.buf, n+1)
	for i := n; i > 0; i-- {
		p.copyEntry(i-1, i)
	}
	p.setEntry(0, key, value)
}

// Entries returns a copy of all (key, value) pairs, for tests and
// diagnostics.
func (p Leaf) Entries() ([]Key, []RID) {
	n := p.Size()
	keys := make([]Key, n)
	vals := make([]RID, n)
	for i := 0; i < n; i++ {
		keys[i] = p.KeyAt(i)
		vals[i] = p.ValueAt(i)
	}
	return keys, vals
}
