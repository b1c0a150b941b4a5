package disk

import (
	"fmt"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// FileManager is the production disk.Manager. It opens the backing file
// with O_DIRECT (via directio) so the OS page cache never shadows the
// buffer pool's own caching decisions — the same reasoning the teacher's
// pager gives for owning its buffer pool explicitly rather than relying on
// buffered file I/O.
type FileManager struct {
	mu       sync.Mutex
	file     *os.File
	nextPage PageID
	free     []PageID // pages released by DeallocatePage, available for reuse
}

// OpenFileManager opens (creating if necessary) a page file at path.
func OpenFileManager(path string) (*FileManager, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}
	return &FileManager{
		file:     f,
		nextPage: PageID(info.Size() / PageSize),
	}, nil
}

// AllocatePage reserves a fresh page id, preferring a previously freed id.
func (m *FileManager) AllocatePage() (PageID, error) {
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

// DeallocatePage releases a page id for reuse.
func (m *FileManager) DeallocatePage(id PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free = append(m.free, id)
	return nil
}

// ReadPage reads PageSize bytes at the page's offset into buf.
func (m *FileManager) ReadPage(id PageID, buf []byte) error {
	if err := checkBufSize(buf); err != nil {
		return err
	}
	block := directio.AlignedBlock(PageSize)
	m.mu.Lock()
	_, err := m.file.ReadAt(block, int64(id)*PageSize)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("disk: read page %d: %w", id, err)
	}
	copy(buf, block)
	return nil
}

// WritePage writes buf (PageSize bytes) at the page's offset.
func (m *FileManager) WritePage(id PageID, buf []byte) error {
	if err := checkBufSize(buf); err != nil {
		return err
	}
	block := directio.AlignedBlock(PageSize)
	copy(block, buf)
	m.mu.Lock()
	_, err := m.file.WriteAt(block, int64(id)*PageSize)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	return nil
}

// Close syncs and closes the backing file.
func (m *FileManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("disk: sync: %w", err)
	}
	return m.file.Close()
}
