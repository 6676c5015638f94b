// Package memory provides OS-level memory reservation for the sanitizer's
// internal data structures (the shadow array and stack capture cache pages).
//
// Sanitizer bookkeeping must not be mixed into the instrumented program's
// own heap: a runaway write in the program under test should hit a poisoned
// redzone, not silently corrupt the shadow that describes it. On unix
// platforms Reserve therefore hands out anonymous, page-aligned mappings
// obtained directly from the OS (golang.org/x/sys/unix), invisible to the
// Go garbage collector. On other platforms a word-aligned heap allocation
// is used as a fallback so the package stays portable.
//
// Guarantees common to both implementations:
//   - The returned slice is zero-filled.
//   - The backing array is aligned to at least 8 bytes (records with
//     uintptr fields may be placed into it via unsafe).
//   - The backing array never moves for the lifetime of the slice.
//
// Usage:
//
//	buf, err := memory.Reserve(1 << 20)
//	if err != nil { ... }
//	defer memory.Release(buf)
package memory
