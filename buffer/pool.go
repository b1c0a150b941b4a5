package buffer

import (
	"fmt"
	"os"
	"sync"

	"github.com/nanobuf/nanobuf/disk"
	"github.com/nanobuf/nanobuf/internal/exthash"
	"github.com/nanobuf/nanobuf/internal/lru"
)

// errPrintf reports an auditable-but-non-fatal condition to stderr: one the
// caller already handles via its return value, but that's worth a human
// noticing (pool exhaustion) rather than passing silently.
func errPrintf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "buffer: "+format+"\n", args...)
}

// Config configures a Pool.
type Config struct {
	// PoolSize is the fixed number of frames the pool holds in memory.
	// Zero uses DefaultPoolSize.
	PoolSize int
	// DirectoryBucketSize is the per-bucket capacity of the page-id
	// directory before it splits. Zero uses exthash.DefaultBucketSize.
	DirectoryBucketSize int
}

// DefaultPoolSize is used by NewPool when no explicit size is wanted.
const DefaultPoolSize = 16

// Pool is the buffer pool manager: the single arbiter of which disk pages
// are resident in memory, and who may touch them (§4.3). Every exported
// method takes the pool-wide latch for its entire body; per-page latches
// (Page.RLatch/WLatch) are a separate, orthogonal mechanism used by the
// B+ tree during descent.
type Pool struct {
	mu sync.Mutex

	frames    []*Page
	freeList  []int // frame indices never yet assigned, or cleared and returned by DeletePage or a failed disk call
	directory *exthash.Table[disk.PageID, int]
	replacer  *lru.Replacer
	disk      disk.Manager
}

// NewPool allocates PoolSize frames backed by dm.
func NewPool(cfg Config, dm disk.Manager) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	frames := make([]*Page, cfg.PoolSize)
	free := make([]int, cfg.PoolSize)
	for i := range frames {
		frames[i] = &Page{id: disk.InvalidPageID}
		free[i] = i
	}
	return &Pool{
		frames:    frames,
		freeList:  free,
		directory: exthash.New[disk.PageID, int](cfg.DirectoryBucketSize),
		replacer:  lru.New(),
		disk:      dm,
	}
}

// getVictim picks a frame to reuse: the front of the free list first,
// otherwise the oldest eviction-eligible frame from the replacer. Caller
// must hold p.mu.
func (p *Pool) getVictim() (int, bool) {
	if n := len(p.freeList); n > 0 {
		f := p.freeList[0]
		p.freeList = p.freeList[1:]
		return f, true
	}
	return p.replacer.Victim()
}

// FetchPage returns the page for id, pinning it. Returns (nil, nil) if
// every frame is pinned and none can be freed; returns a non-nil error only
// on a disk I/O failure. If reading id fails, the frame is cleared and
// returned to the free list rather than left half-initialized.
func (p *Pool) FetchPage(id disk.PageID) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frame, ok := p.directory.Find(id); ok {
		f := p.frames[frame]
		f.pinCount++
		p.replacer.Erase(frame)
		return f, nil
	}

	frame, ok := p.getVictim()
	if !ok {
		errPrintf("pool exhausted fetching page %d", id)
		return nil, nil
	}
	f := p.frames[frame]

	if f.isDirty && f.id != disk.InvalidPageID {
		if err := p.disk.WritePage(f.id, f.data[:]); err != nil {
			return nil, fmt.Errorf("buffer: flush victim frame %d: %w", frame, err)
		}
	}
	if f.id != disk.InvalidPageID {
		p.directory.Remove(f.id)
	}

	// directory.Insert is deferred until the read actually succeeds: doing
	// it earlier would map id to a frame whose f.id/pinCount still describe
	// the previous occupant (or nothing), so a later FetchPage(id) could
	// hit the cache-hit path above and return stale data with no error. On
	// failure the frame is cleared and goes back to the free list instead,
	// mirroring NewPage's AllocatePage failure path.
	if err := p.disk.ReadPage(id, f.data[:]); err != nil {
		f.reset(disk.InvalidPageID)
		p.freeList = append(p.freeList, frame)
		return nil, fmt.Errorf("buffer: read page %d: %w", id, err)
	}
	f.id = id
	f.pinCount = 1
	f.isDirty = false
	p.directory.Insert(id, frame)
	return f, nil
}

// UnpinPage decrements the pin count for id. is_dirty is sticky: once set
// it stays set until the page is flushed. Returns false if id is not
// currently resident, or if it was already unpinned to zero.
func (p *Pool) UnpinPage(id disk.PageID, isDirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, ok := p.directory.Find(id)
	if !ok {
		return false
	}
	f := p.frames[frame]
	f.isDirty = f.isDirty || isDirty
	if f.pinCount <= 0 {
		return false
	}
	f.pinCount--
	if f.pinCount == 0 {
		p.replacer.Insert(frame)
	}
	return true
}

// MarkDirty flags a resident page dirty without touching its pin count,
// for callers (the B+ tree's header page) that hold a page pinned across
// many logical updates and would rather not pay a pin/unpin pair for each
// one. Returns false if id is not resident.
func (p *Pool) MarkDirty(id disk.PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame, ok := p.directory.Find(id)
	if !ok {
		return false
	}
	p.frames[frame].isDirty = true
	return true
}

// FlushPage writes id's frame to disk if dirty, clearing the dirty bit.
// Returns false if id is not resident or is invalid.
func (p *Pool) FlushPage(id disk.PageID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(id)
}

func (p *Pool) flushLocked(id disk.PageID) (bool, error) {
	if id == disk.InvalidPageID {
		return false, nil
	}
	frame, ok := p.directory.Find(id)
	if !ok {
		return false, nil
	}
	f := p.frames[frame]
	if f.isDirty {
		if err := p.disk.WritePage(id, f.data[:]); err != nil {
			return false, fmt.Errorf("buffer: flush page %d: %w", id, err)
		}
		f.isDirty = false
	}
	return true, nil
}

// FlushAllPages flushes every resident dirty page. It stops at the first
// disk error, leaving any remaining dirty pages unflushed.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.frames {
		if f.id == disk.InvalidPageID {
			continue
		}
		if _, err := p.flushLocked(f.id); err != nil {
			return err
		}
	}
	return nil
}

// NewPage allocates a fresh disk page, claims a frame for it (evicting if
// necessary), and returns it pinned once with zeroed contents. Returns
// (nil, nil) if the pool is exhausted.
func (p *Pool) NewPage() (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, ok := p.getVictim()
	if !ok {
		errPrintf("pool exhausted allocating new page")
		return nil, nil
	}
	f := p.frames[frame]

	if f.isDirty && f.id != disk.InvalidPageID {
		if err := p.disk.WritePage(f.id, f.data[:]); err != nil {
			return nil, fmt.Errorf("buffer: flush victim frame %d: %w", frame, err)
		}
	}
	if f.id != disk.InvalidPageID {
		p.directory.Remove(f.id)
	}

	id, err := p.disk.AllocatePage()
	if err != nil {
		f.reset(disk.InvalidPageID)
		p.freeList = append(p.freeList, frame)
		return nil, fmt.Errorf("buffer: allocate page: %w", err)
	}

	f.reset(id)
	f.pinCount = 1
	p.directory.Insert(id, frame)
	return f, nil
}

// DeletePage releases id's frame back to the free list and deallocates
// the backing disk page. Returns false without effect if the page is
// still pinned. A page that is not resident is only deallocated.
func (p *Pool) DeletePage(id disk.PageID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, ok := p.directory.Find(id)
	if !ok {
		if err := p.disk.DeallocatePage(id); err != nil {
			return false, fmt.Errorf("buffer: deallocate page %d: %w", id, err)
		}
		return true, nil
	}
	f := p.frames[frame]
	if f.pinCount > 0 {
		return false, nil
	}

	// Directory/replacer removal waits until DeallocatePage actually
	// succeeds: removing them first and then failing would strand the
	// frame in none of directory, replacer, or free list, permanently
	// shrinking the pool by one frame.
	if err := p.disk.DeallocatePage(id); err != nil {
		return false, fmt.Errorf("buffer: deallocate page %d: %w", id, err)
	}
	p.replacer.Erase(frame)
	p.directory.Remove(id)
	f.reset(disk.InvalidPageID)
	p.freeList = append(p.freeList, frame)
	return true, nil
}
