// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size lock-free ring
buffers, where a capacity of 2^n lets read and write cursors wrap with a mask
instead of a modulo.

All functions are allocation free and safe to call from an audio callback.

	capacity := bitint.NextPowerOfTwo(latencySamples * 2) // 9600 -> 16384
	index := cursor & bitint.Mask(capacity)
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Sizes <= 0 give 1.
// Subtracting one first keeps exact powers of two unchanged (8 -> 8, not 16).
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
// A power of two has a single bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Mask returns capacity-1 as a wrap mask for cursors. capacity must be a
// power of two.
func Mask(capacity int) uint64 {
	return uint64(capacity) - 1
}
