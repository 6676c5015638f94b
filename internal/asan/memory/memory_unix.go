//go:build unix

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Reserve obtains a zeroed, page-aligned anonymous mapping of the given
// size from the OS.
//
// The mapping lives outside the Go heap: the garbage collector neither
// scans nor moves it, which makes it safe to carve fixed-address records
// out of it with unsafe. The kernel commits pages lazily, so reserving a
// large shadow array only consumes physical memory for the granules that
// are actually touched.
//
// Parameters:
//   - size: Number of bytes to reserve. Must be > 0; it is rounded up to
//     the page size by the kernel.
//
// Returns the mapped slice, or an error if the mapping failed.
func Reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: invalid reservation size %d", size)
	}

	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("memory: mmap of %d bytes failed: %w", size, err)
	}
	return buf, nil
}

// Release returns a mapping obtained from Reserve to the OS.
//
// The slice must be exactly the one returned by Reserve; passing a
// sub-slice is a caller bug and will fail at the syscall level.
// Releasing nil is a no-op.
func Release(buf []byte) error {
	if buf == nil {
		return nil
	}
	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("memory: munmap failed: %w", err)
	}
	return nil
}
