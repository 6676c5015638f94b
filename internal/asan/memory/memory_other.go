//go:build !unix

package memory

import (
	"fmt"
	"unsafe"
)

// Reserve allocates a zeroed byte slice of the given size on the Go heap.
//
// Fallback implementation for platforms without the unix mmap path. The
// allocation is backed by a []uintptr so the base address is guaranteed
// to be word-aligned; Go heap objects of this size never move, so records
// carved out of the slice with unsafe remain valid.
func Reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: invalid reservation size %d", size)
	}

	words := make([]uintptr, (size+7)/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return buf, nil
}

// Release is a no-op on the heap fallback; the allocation is reclaimed by
// the garbage collector once the slice is unreachable.
func Release(buf []byte) error {
	_ = buf
	return nil
}
