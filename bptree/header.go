package bptree

import (
	"encoding/binary"
	"fmt"

	"github.com/nanobuf/nanobuf/buffer"
	"github.com/nanobuf/nanobuf/disk"
)

// The header page (a well-known page id, conventionally 0) holds a small
// table of index_name -> root_page_id records:
//
//	[0:2]  record count (uint16)
//	repeated records: [nameLen uint16][name bytes][rootID int64]
//
// It is not a B+ tree page itself — just flat, linearly-scanned records —
// since a database has at most a handful of indexes and InsertRecord /
// UpdateRecord never need better than O(n) here.
const headerCountOffset = 0
const headerRecordsOffset = 2

// CreateHeaderPage allocates and formats a fresh header page. The caller
// is expected to do this exactly once, typically as the very first page
// of a new database.
func CreateHeaderPage(pool *buffer.Pool) (disk.PageID, error) {
	p, err := pool.NewPage()
	if err != nil {
		return disk.InvalidPageID, fmt.Errorf("bptree: create header page: %w", err)
	}
	if p == nil {
		return disk.InvalidPageID, fmt.Errorf("bptree: pool exhausted creating header page")
	}
	binary.LittleEndian.PutUint16(p.Data()[headerCountOffset:headerCountOffset+2], 0)
	id := p.ID()
	pool.UnpinPage(id, true)
	return id, nil
}

func headerCount(buf []byte) int {
	return int(binary.LittleEndian.Uint16(buf[headerCountOffset : headerCountOffset+2]))
}

func setHeaderCount(buf []byte, n int) {
	binary.LittleEndian.PutUint16(buf[headerCountOffset:headerCountOffset+2], uint16(n))
}

// lookupRootRecord scans the header page for name, returning its root id.
func lookupRootRecord(buf []byte, name string) (disk.PageID, bool) {
	off := headerRecordsOffset
	n := headerCount(buf)
	for i := 0; i < n; i++ {
		nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
		off += 2
		recName := string(buf[off : off+nameLen])
		off += nameLen
		root := disk.PageID(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
		if recName == name {
			return root, true
		}
	}
	return disk.InvalidPageID, false
}

// updateRootRecord rewrites name's root id in place. Returns false if name
// has no existing record (caller should insertRootRecord instead).
func updateRootRecord(buf []byte, name string, root disk.PageID) bool {
	off := headerRecordsOffset
	n := headerCount(buf)
	for i := 0; i < n; i++ {
		nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
		off += 2
		recName := string(buf[off : off+nameLen])
		off += nameLen
		if recName == name {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(root))
			return true
		}
		off += 8
	}
	return false
}

// insertRootRecord appends a new (name, root) record at the end of the
// table.
func insertRootRecord(buf []byte, name string, root disk.PageID) {
	off := headerRecordsOffset
	n := headerCount(buf)
	for i := 0; i < n; i++ {
		nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
		off += 2 + nameLen + 8
	}
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(name)))
	off += 2
	copy(buf[off:off+len(name)], name)
	off += len(name)
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(root))
	setHeaderCount(buf, n+1)
}
