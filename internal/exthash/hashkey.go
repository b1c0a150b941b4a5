package exthash

import (
	"fmt"
	"hash/maphash"
	"reflect"
)

var seed = maphash.MakeSeed()

// hashAny hashes any comparable key. Known integer-ish key types (the
// common case: disk.PageID and plain ints) are hashed directly as their
// bit pattern; everything else falls back to its string form. Either way
// the result only needs to be a stable, well-distributed uint64 — exact
// hash collisions across directory slots just cost an extra probe.
func hashAny[K comparable](key K) uint64 {
	switch v := any(key).(type) {
	case int:
		return hashUint64(uint64(v))
	case int32:
		return hashUint64(uint64(v))
	case int64:
		return hashUint64(uint64(v))
	case uint:
		return hashUint64(uint64(v))
	case uint32:
		return hashUint64(uint64(v))
	case uint64:
		return hashUint64(v)
	case string:
		var h maphash.Hash
		h.SetSeed(seed)
		_, _ = h.WriteString(v)
		return h.Sum64()
	default:
		// Named integer types such as disk.PageID miss the cases above.
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return hashUint64(uint64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return hashUint64(rv.Uint())
		}
		var h maphash.Hash
		h.SetSeed(seed)
		_, _ = h.WriteString(fmt.Sprintf("%v", v))
		return h.Sum64()
	}
}

func hashUint64(v uint64) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	buf := [8]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
