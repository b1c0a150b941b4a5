package disk

import (
	"fmt"
	"sync"

	"github.com/dsnet/golib/memfile"
)

// MemManager is an in-memory disk.Manager backed by memfile.File. It gives
// the buffer pool and B+Tree test suites a disk.Manager that behaves like a
// real file (ReadAt/WriteAt at byte offsets) without touching the
// filesystem or requiring O_DIRECT-capable storage — the same "swap the
// backend, keep the interface" shape as the teacher's memory-backed
// storage backend.
type MemManager struct {
	mu       sync.Mutex
	file     *memfile.File
	nextPage PageID
	free     []PageID
}

// NewMemManager creates an empty in-memory disk.
func NewMemManager() *MemManager {
	return &MemManager{file: memfile.New(nil)}
}

func (m *MemManager) AllocatePage() (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.free); n > 0 {
		id := m.free[n-1]
		m.free = m.free[:n-1]
		return id, nil
	}
	id := m.nextPage
	m.nextPage++
	return id, nil
}

func (m *MemManager) DeallocatePage(id PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free = append(m.free, id)
	return nil
}

func (m *MemManager) ReadPage(id PageID, buf []byte) error {
	if err := checkBufSize(buf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.file.ReadAt(buf, int64(id)*PageSize)
	if err != nil && n != PageSize {
		// A page that was allocated but never written reads as zeros.
		for i := n; i < PageSize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

func (m *MemManager) WritePage(id PageID, buf []byte) error {
	if err := checkBufSize(buf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.file.WriteAt(buf, int64(id)*PageSize); err != nil {
		return fmt.Errorf("disk: mem write page %d: %w", id, err)
	}
	return nil
}

func (m *MemManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
