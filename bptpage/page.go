// Package bptpage defines the on-disk layout of B+ tree pages: a common
// header followed by a contiguous, fixed-size array of (key, value) pairs.
// Unlike a slotted page, there is no variable-length record area — every
// slot is the same width, which is what lets Lookup/Insert/MoveHalfTo work
// by pure index arithmetic instead of walking a slot directory.
//
// Keys are a fixed int64; the spec's generic key-type templates are
// explicitly out of scope for this narrower core (index name or id is the
// only thing that varies across trees, and that lives one level up).
package bptpage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/nanobuf/nanobuf/disk"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Key is the fixed-width key type every tree page stores.
type Key = int64

// RID identifies a row: the page holding it and its slot within that page.
type RID struct {
	PageID  disk.PageID
	SlotNum int32
}

const ridSize = 12 // 8-byte PageID + 4-byte SlotNum

func encodeRID(buf []byte, r RID) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.PageID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.SlotNum))
}

func decodeRID(buf []byte) RID {
	return RID{
		PageID:  disk.PageID(binary.LittleEndian.Uint64(buf[0:8])),
		SlotNum: int32(binary.LittleEndian.Uint32(buf[8:12])),
	}
}

// PageType distinguishes internal (directory) pages from leaf pages.
type PageType uint8

const (
	PageTypeInvalid  PageType = 0
	PageTypeInternal PageType = 1
	PageTypeLeaf     PageType = 2
)

// Common header layout, present at the start of every B+ tree page:
//
//	[0]     PageType   (1 byte)
//	[1:8]   reserved
//	[8:10]  Size       (2 bytes, uint16)
//	[10:14] MaxSize    (4 bytes, uint32)
//	[14:22] ParentID   (8 bytes, int64)
//	[22:30] PageID     (8 bytes, int64)
//
// Leaf pages append NextPageID (8 bytes) at offset 30, so their header runs
// to 38 bytes; internal pages stop at 30. offCRC sits in the otherwise
// unused reserved span between the type tag and Size.
const (
	offType      = 0
	offCRC       = 4
	offSize      = 8
	offMaxSize   = 10
	offParentID  = 14
	offPageID    = 22
	internalHdr  = 30
	offNextPage  = 30
	leafHdr      = 38
)

func pageType(buf []byte) PageType { return PageType(buf[offType]) }
func setPageType(buf []byte, t PageType) { buf[offType] = byte(t) }

func getSize(buf []byte) int  { return int(binary.LittleEndian.Uint16(buf[offSize : offSize+2])) }
func setSize(buf []byte, n int) {
	binary.LittleEndian.PutUint16(buf[offSize:offSize+2], uint16(n))
}

func getMaxSize(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[offMaxSize : offMaxSize+4]))
}
func setMaxSize(buf []byte, n int) {
	binary.LittleEndian.PutUint32(buf[offMaxSize:offMaxSize+4], uint32(n))
}

func getParentID(buf []byte) disk.PageID {
	return disk.PageID(binary.LittleEndian.Uint64(buf[offParentID : offParentID+8]))
}
func setParentID(buf []byte, id disk.PageID) {
	binary.LittleEndian.PutUint64(buf[offParentID:offParentID+8], uint64(id))
}

func getPageID(buf []byte) disk.PageID {
	return disk.PageID(binary.LittleEndian.Uint64(buf[offPageID : offPageID+8]))
}
func setPageID(buf []byte, id disk.PageID) {
	binary.LittleEndian.PutUint64(buf[offPageID:offPageID+8], uint64(id))
}

// ComputePageCRC checksums buf's contents, excluding the CRC field itself.
func ComputePageCRC(buf []byte) uint32 {
	h := crc32.New(castagnoliTable)
	h.Write(buf[:offCRC])
	h.Write(buf[offCRC+4:])
	return h.Sum32()
}

// Seal recomputes and stores buf's CRC. Callers do this once per page
// right before it can next be flushed to disk — after Init, and after
// any later mutation.
func Seal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[offCRC:offCRC+4], ComputePageCRC(buf))
}

// Verify reports whether buf's stored CRC matches its contents.
func Verify(buf []byte) bool {
	want := binary.LittleEndian.Uint32(buf[offCRC : offCRC+4])
	return want == ComputePageCRC(buf)
}

// IsLeaf reports whether buf holds a leaf page, by inspecting the header.
func IsLeaf(buf []byte) bool { return pageType(buf) == PageTypeLeaf }

// IsInternal reports whether buf holds an internal page.
func IsInternal(buf []byte) bool { return pageType(buf) == PageTypeInternal }
