// Package buffer implements the buffer pool manager: the single point
// through which every other component touches a disk page.
package buffer

import (
	"sync"

	"github.com/nanobuf/nanobuf/disk"
)

// Page is one in-memory frame. Its latch is independent of the pool's own
// latch (§4.3): the pool latch protects pin_count/is_dirty/directory
// bookkeeping, while a page's RWMutex is held by callers (the B+ tree)
// across a traversal step, per the latch-coupling protocol in §4.5.
type Page struct {
	latch sync.RWMutex

	id       disk.PageID
	data     [disk.PageSize]byte
	pinCount int
	isDirty  bool
}

// ID returns the disk page id currently occupying this frame.
func (p *Page) ID() disk.PageID { return p.id }

// Data exposes the frame's backing array as a slice for encoding/decoding.
func (p *Page) Data() []byte { return p.data[:] }

// PinCount returns the frame's current pin count.
func (p *Page) PinCount() int { return p.pinCount }

// IsDirty reports whether the frame differs from its on-disk contents.
func (p *Page) IsDirty() bool { return p.isDirty }

// RLatch/RUnlatch/WLatch/WUnlatch implement the reader/writer latch used
// during B+ tree descent (latch coupling, §4.5). They are independent of
// the pool latch and of pin counting.
func (p *Page) RLatch()   { p.latch.RLock() }
func (p *Page) RUnlatch() { p.latch.RUnlock() }
func (p *Page) WLatch()   { p.latch.Lock() }
func (p *Page) WUnlatch() { p.latch.Unlock() }

func (p *Page) reset(id disk.PageID) {
	p.id = id
	p.pinCount = 0
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}
