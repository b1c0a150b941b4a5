package bptpage

import (
	"encoding/binary"

	"github.com/nanobuf/nanobuf/disk"
)

const internalEntrySize = 8 + 8 // Key + child disk.PageID

// Internal is a view over an internal (directory) page's raw bytes.
// Slot 0's key is unused (sentinel); slot 0's value is the leftmost child.
// For slot i>=1, keys[i] separates the subtree at values[i-1] (< keys[i])
// from the subtree at values[i] (>= keys[i]).
type Internal struct {
	buf []byte
}

// NewInternal wraps buf (typically a buffer.Page's Data()) as an internal
// page view. buf must be at least disk.PageSize bytes.
func NewInternal(buf []byte) Internal { return Internal{buf: buf} }

// Init formats buf as a fresh internal page with size 1 (the sentinel slot
// 0 only) — callers fill slot 0's value next, via PopulateNewRoot or a
// direct SetValueAt(0, ...).
func (p Internal) Init(pageID, parentID disk.PageID) {
	setPageType(p.buf, PageTypeInternal)
	setSize(p.buf, 1)
	setPageID(p.buf, pageID)
	setParentID(p.buf, parentID)
	setMaxSize(p.buf, (disk.PageSize-internalHdr)/internalEntrySize)
	Seal(p.buf)
}

func (p Internal) PageID() disk.PageID            { return getPageID(p.buf) }
func (p Internal) ParentPageID() disk.PageID      { return getParentID(p.buf) }
func (p Internal) SetParentPageID(id disk.PageID) { setParentID(p.buf, id) }
func (p Internal) Size() int                      { return getSize(p.buf) }
func (p Internal) MaxSize() int                   { return getMaxSize(p.buf) }
func (p Internal) IsFull() bool                   { return p.Size() > p.MaxSize() }

func internalEntryOffset(i int) int { return internalHdr + i*internalEntrySize }

func (p Internal) KeyAt(i int) Key {
	off := internalEntryOffset(i)
	return int64(binary.LittleEndian.Uint64(p.buf[off : off+8]))
}

func (p Internal) SetKeyAt(i int, k Key) {
	off := internalEntryOffset(i)
	binary.LittleEndian.PutUint64(p.buf[off:off+8], uint64(k))
}

func (p Internal) ValueAt(i int) disk.PageID {
	off := internalEntryOffset(i) + 8
	return disk.PageID(binary.LittleEndian.Uint64(p.buf[off : off+8]))
}

func (p Internal) SetValueAt(i int, v disk.PageID) {
	off := internalEntryOffset(i) + 8
	binary.LittleEndian.PutUint64(p.buf[off:off+8], uint64(v))
}

// ValueIndex returns the slot holding value, or Size() if absent.
func (p Internal) ValueIndex(value disk.PageID) int {
	n := p.Size()
	for i := 0; i < n; i++ {
		if p.ValueAt(i) == value {
			return i
		}
	}
	return n
}

// Lookup returns the child page id that should contain key: the value at
// the largest slot i>=1 with keys[i] <= key, or slot 0's value if no such
// slot exists.
func (p Internal) Lookup(key Key) disk.PageID {
	n := p.Size()
	lo, hi := 1, n-1
	best := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if p.KeyAt(mid) <= key {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return p.ValueAt(best)
}

// PopulateNewRoot initializes a brand new root: (-, left), (sepKey, right).
// Called exactly when a split propagates past the old root.
func (p Internal) PopulateNewRoot(left disk.PageID, sepKey Key, right disk.PageID) {
	p.SetValueAt(0, left)
	p.SetKeyAt(1, sepKey)
	p.SetValueAt(1, right)
	setSize(p.buf, 2)
}

func (p Internal) shiftRight(from int) {
	n := p.Size()
	for i := n; i > from; i-- {
		p.copyEntry(i-1, i)
	}
}

func (p Internal) shiftLeft(from int) {
	n := p.Size()
	for i := from; i < n-1; i++ {
		p.copyEntry(i+1, i)
	}
}

func (p Internal) copyEntry(from, to int) {
	copy(p.buf[internalEntryOffset(to):internalEntryOffset(to)+internalEntrySize],
		p.buf[internalEntryOffset(from):internalEntryOffset(from)+internalEntrySize])
}

// InsertNodeAfter inserts (newKey, newValue) right after the slot whose
// value equals oldValue, shifting later entries right. Returns new size.
func (p Internal) InsertNodeAfter(oldValue disk.PageID, newKey Key, newValue disk.PageID) int {
	idx := p.ValueIndex(oldValue) + 1
	n := p.Size()
	setSize(p.buf, n+1)
	p.shiftRight(idx)
	p.SetKeyAt(idx, newKey)
	p.SetValueAt(idx, newValue)
	return n + 1
}

// InsertAt inserts (key, value) at index, shifting entries at and after
// index one slot to the right.
func (p Internal) InsertAt(index int, key Key, value disk.PageID) {
	n := p.Size()
	setSize(p.buf, n+1)
	p.shiftRight(index)
	p.SetKeyAt(index, key)
	p.SetValueAt(index, value)
}

// RemoveAt deletes and returns the entry at index, shifting later entries
// left.
func (p Internal) RemoveAt(index int) (Key, disk.PageID) {
	k, v := p.KeyAt(index), p.ValueAt(index)
	p.shiftLeft(index)
	setSize(p.buf, p.Size()-1)
	return k, v
}

// MoveHalfTo transfers the upper half of this page's entries to recipient,
// starting at recipient's slot 0. reparent is invoked for each moved child
// so the caller can fetch it and rewrite its parent pointer.
func (p Internal) MoveHalfTo(recipient Internal, reparent func(child disk.PageID)) {
	total := p.Size()
	copyIdx := total / 2
	for i := copyIdx; i < total; i++ {
		recipient.copyFromOther(i-copyIdx, p, i)
		reparent(p.ValueAt(i))
	}
	setSize(p.buf, copyIdx)
	setSize(recipient.buf, total-copyIdx)
}

func (p Internal) copyFromOther(toIdx int, src Internal, fromIdx int) {
	copy(p.buf[internalEntryOffset(toIdx):internalEntryOffset(toIdx)+internalEntrySize],
		src.buf[internalEntryOffset(fromIdx):internalEntryOffset(fromIdx)+internalEntrySize])
}

// MoveAllTo merges this page's entries into recipient (used when this page
// is being deleted during a coalesce). sepKey is the separator this page
// held implicitly in its parent, materialized into slot 0 before the copy
// so the first moved child keeps a meaningful key. reparent is invoked for
// each moved child.
func (p Internal) MoveAllTo(recipient Internal, sepKey Key, reparent func(child disk.PageID)) {
	p.SetKeyAt(0, sepKey)
	start := recipient.Size()
	n := p.Size()
	for i := 0; i < n; i++ {
		recipient.copyFromOther(start+i, p, i)
		reparent(p.ValueAt(i))
	}
	setSize(recipient.buf, start+n)
	setSize(p.buf, 0)
}

// Remove deletes the entry at index, shifting later entries left.
func (p Internal) Remove(index int) {
	p.shiftLeft(index)
	setSize(p.buf, p.Size()-1)
}

// RemoveAndReturnOnlyChild handles the case where the root internal page
// has been whittled down to its single sentinel slot: the tree shrinks by
// one level and this child becomes the new root.
func (p Internal) RemoveAndReturnOnlyChild() disk.PageID {
	v := p.ValueAt(0)
	setSize(p.buf, 0)
	return v
}

// Keys returns a copy of all populated keys (slots 1..size-1), for tests
// and diagnostics.
func (p Internal) Keys() []Key {
	n := p.Size()
	out := make([]Key, 0, n)
	for i := 1; i < n; i++ {
		out = append(out, p.KeyAt(i))
	}
	return out
}

// Children returns a copy of all child page ids (slots 0..size-1).
func (p Internal) Children() []disk.PageID {
	n := p.Size()
	out := make([]disk.PageID, n)
	for i := 0; i < n; i++ {
		out[i] = p.ValueAt(i)
	}
	return out
}
