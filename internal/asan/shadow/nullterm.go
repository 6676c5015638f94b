package shadow

import "unsafe"

// GetNullTerminatedArraySize scans forward from addr for a terminator of
// sizeof(T) zero bytes, consulting the shadow before every read: a byte
// the shadow does not certify accessible is never touched, which makes the
// scan safe to run on memory suspected to be corrupt.
//
// On success it returns the length of the array in bytes, terminator
// included, and true. On failure it returns false with the offset of the
// first inaccessible byte, or maxSize when that many bytes were scanned
// without finding a terminator. maxSize is ignored when zero.
//
// This is a package-level generic function rather than a method because
// Go methods cannot carry type parameters; T only contributes its size.
func GetNullTerminatedArraySize[T any](s *Shadow, addr, maxSize uintptr) (uintptr, bool) {
	var zero T
	terminator := unsafe.Sizeof(zero)

	if !s.Contains(addr) {
		return 0, false
	}

	start := addr & (ShadowRatio - 1)
	index := s.index(addr)
	limit := uintptr(len(s.shadow))

	var size uintptr
	var zeroRun uintptr

	// Walk the array one granule at a time so the accessibility check is
	// one shadow load per 8 bytes instead of one per byte.
	for index < limit {
		marker := Marker(s.shadow[index])
		index++
		if marker.IsNonAccessible() {
			return size, false
		}

		accessible := uintptr(ShadowRatio)
		if marker != HeapAddressable {
			accessible = uintptr(marker)
		}
		if accessible <= start {
			return size, false
		}
		accessible -= start

		for i := uintptr(0); i < accessible; i++ {
			b := *(*byte)(unsafe.Pointer(addr + size))
			size++
			if b == 0 {
				zeroRun++
				if zeroRun == terminator {
					return size, true
				}
			} else {
				zeroRun = 0
			}
			if maxSize != 0 && size == maxSize {
				return maxSize, false
			}
		}

		// A partial granule is the end of the accessible region: the next
		// byte inside it is the first inaccessible one.
		if marker != HeapAddressable {
			return size, false
		}
		start = 0
	}

	// Ran off the covered range without hitting a terminator.
	return size, false
}
