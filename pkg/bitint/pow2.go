/*
Package bitint provides power-of-2 helpers used for FFT and buffer
sizing. All operations are O(1), allocation-free, and safe to call
from the streaming hot path.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size. Exact powers of
// 2 are preserved; the (size-1) subtraction is what keeps them from
// being doubled. Zero and negative inputs return 1.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len64(uint64(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// Powers of 2 have exactly one bit set, so n&(n-1) clears it.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
