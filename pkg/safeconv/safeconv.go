// Package safeconv provides safe integer type conversion functions that panic on overflow.
package safeconv

import "math"

// MaxUint32 is the maximum value for uint32 type.
const MaxUint32 = uint32(math.MaxUint32)

// MustUint64ToUint32 converts uint64 to uint32, panics on overflow. Used
// by the recorder service's node-id columns, which must fit the lz4
// delta-compression helpers' []uint32 shape: node ids are dense and
// monotonic but declared as u64, and a record store is expected to roll
// over to a new block long before 2^32 nodes accumulate in one block.
func MustUint64ToUint32(v uint64) uint32 {
	if v > uint64(MaxUint32) {
		panic("safeconv: uint64 to uint32 overflow")
	}

	return uint32(v)
}
