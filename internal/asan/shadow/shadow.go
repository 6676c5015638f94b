package shadow

import (
	"fmt"

	"github.com/kolkov/asandetector/internal/asan/memory"
)

const (
	// ShadowRatioLog is the log2 of the shadow ratio.
	ShadowRatioLog = 3

	// ShadowRatio is the number of application bytes covered by one shadow
	// byte: the granule size.
	ShadowRatio = 1 << ShadowRatioLog

	// AddressLowerBound is the lowest address an instrumented process can
	// ever touch: the first 64 KiB of the address space are unaddressable.
	AddressLowerBound = 0x10000
)

// Shadow tracks the accessibility and structural role of every 8-byte
// granule in a fixed address range [LowerBound, UpperBound).
//
// A Shadow is an explicit context object rather than process-global state:
// tests can run several independent instances in one process, and the heap
// proxy owns exactly one covering the instrumented heap. The shadow array
// is reserved zeroed (everything accessible) at New and released at Close;
// its length and base mapping never change in between.
//
// All address/size arguments to poisoning operations must satisfy their
// documented alignment preconditions; violations are caller bugs and
// panic. Introspection operations never panic on bad input - they return
// zero values instead, so an error reporter already handling a violation
// can degrade gracefully.
type Shadow struct {
	// lowerBound and upperBound delimit the covered application range.
	// Both are granule-aligned and immutable after New.
	lowerBound uintptr
	upperBound uintptr

	// shadow holds one byte per granule of [lowerBound, upperBound).
	// Reserved outside the Go heap where the platform allows it.
	shadow []byte
}

// New reserves a zeroed shadow array covering [lowerBound, upperBound).
//
// Both bounds must be granule-aligned, lowerBound must be at least
// AddressLowerBound, and the range must be non-empty; violations panic.
// The reservation itself can fail (OS out of address space), in which
// case an error is returned.
//
// The returned Shadow reports every covered granule as fully accessible.
// Callers pair every successful New with exactly one Close.
func New(lowerBound, upperBound uintptr) (*Shadow, error) {
	if lowerBound%ShadowRatio != 0 || upperBound%ShadowRatio != 0 {
		panic("shadow: bounds must be granule-aligned")
	}
	if lowerBound < AddressLowerBound {
		panic("shadow: lower bound below the addressable floor")
	}
	if lowerBound >= upperBound {
		panic("shadow: empty address range")
	}

	size := int((upperBound - lowerBound) >> ShadowRatioLog)
	buf, err := memory.Reserve(size)
	if err != nil {
		return nil, fmt.Errorf("shadow: reserving %d shadow bytes: %w", size, err)
	}

	return &Shadow{
		lowerBound: lowerBound,
		upperBound: upperBound,
		shadow:     buf,
	}, nil
}

// Close releases the shadow array. Must be called exactly once; a second
// Close panics. The Shadow must not be used afterwards.
func (s *Shadow) Close() error {
	if s.shadow == nil {
		panic("shadow: Close called twice")
	}
	buf := s.shadow
	s.shadow = nil
	return memory.Release(buf)
}

// Reset re-zeroes the whole shadow array, marking every covered granule
// fully accessible again. Test and teardown hook; not safe to call
// concurrently with any other operation.
func (s *Shadow) Reset() {
	clear(s.shadow)
}

// LowerBound returns the first covered application address.
func (s *Shadow) LowerBound() uintptr { return s.lowerBound }

// UpperBound returns the first application address past the covered range.
func (s *Shadow) UpperBound() uintptr { return s.upperBound }

// Contains reports whether addr falls inside the covered range.
func (s *Shadow) Contains(addr uintptr) bool {
	return addr >= s.lowerBound && addr < s.upperBound
}

// index maps an application address to its shadow array index. This is
// the single bidirectional mapping between the two spaces; all shadow
// accesses funnel through it (or through address, its inverse) so that an
// out-of-range address can never silently write past the array.
//
// Panics if addr is outside the covered range.
func (s *Shadow) index(addr uintptr) uintptr {
	if !s.Contains(addr) {
		panic("shadow: address outside the covered range")
	}
	return (addr - s.lowerBound) >> ShadowRatioLog
}

// address is the inverse of index: it returns the application address of
// the first byte of the granule at the given shadow index.
func (s *Shadow) address(index uintptr) uintptr {
	if index >= uintptr(len(s.shadow)) {
		panic("shadow: index outside the shadow array")
	}
	return s.lowerBound + index<<ShadowRatioLog
}

// Poison writes the given marker over every granule fully covered by
// [addr, addr+size).
//
// Precondition: (addr+size) % 8 == 0. addr itself need not be aligned:
// when it is not, the granule containing it is marked partially
// accessible, with the accessible count set to the number of bytes
// preceding addr in that granule. This asymmetry with Unpoison is what
// lets redzones end mid-granule (sub-granule redzone tails).
//
// Panics on a precondition violation - a misaligned poison is a caller
// bug, never silently tolerated.
func (s *Shadow) Poison(addr, size uintptr, marker Marker) {
	if (addr+size)%ShadowRatio != 0 {
		panic("shadow: Poison requires (addr+size) to be granule-aligned")
	}
	if size == 0 {
		return
	}

	start := addr & (ShadowRatio - 1)
	index := s.index(addr)
	end := s.index(addr+size-1) + 1

	if start != 0 {
		// The first byte(s) of this granule stay accessible.
		s.shadow[index] = byte(start)
		index++
	}
	for i := index; i < end; i++ {
		s.shadow[i] = byte(marker)
	}
}

// Unpoison resets every granule covered by [addr, addr+size) to fully
// accessible.
//
// Precondition: addr % 8 == 0 && size % 8 == 0; panics otherwise.
func (s *Shadow) Unpoison(addr, size uintptr) {
	if addr%ShadowRatio != 0 || size%ShadowRatio != 0 {
		panic("shadow: Unpoison requires granule-aligned address and size")
	}
	if size == 0 {
		return
	}

	index := s.index(addr)
	end := s.index(addr+size-1) + 1
	for i := index; i < end; i++ {
		s.shadow[i] = byte(HeapAddressable)
	}
}

// MarkAsFreed paints every granule intersecting [addr, addr+size) with
// the freed marker. Called when instrumented code releases a block; no
// alignment preconditions.
func (s *Shadow) MarkAsFreed(addr, size uintptr) {
	if size == 0 {
		return
	}

	index := s.index(addr)
	end := s.index(addr+size-1) + 1
	for i := index; i < end; i++ {
		s.shadow[i] = byte(HeapFreed)
	}
}

// IsAccessible reports whether the single byte at addr may be read or
// written by instrumented code. This is the hot-path check: one shadow
// load, no locking.
func (s *Shadow) IsAccessible(addr uintptr) bool {
	start := addr & (ShadowRatio - 1)
	marker := s.shadow[s.index(addr)]

	if marker == byte(HeapAddressable) {
		return true
	}
	if Marker(marker).IsNonAccessible() {
		return false
	}
	return start < uintptr(marker)
}

// GetShadowMarkerForAddress returns the raw marker covering addr. No
// validation beyond the range check is performed; callers wanting the
// decoded form use Marker.Decode.
func (s *Shadow) GetShadowMarkerForAddress(addr uintptr) Marker {
	return Marker(s.shadow[s.index(addr)])
}

// CloneShadowRange copies the marker sequence covering [src, src+size) to
// the granules covering dst, overwriting whatever was there. Used when an
// instrumented block is relocated, e.g. after a failed resize in place.
//
// Precondition: src, dst and size all granule-aligned; panics otherwise.
// Overlapping ranges copy correctly.
func (s *Shadow) CloneShadowRange(src, dst, size uintptr) {
	if src%ShadowRatio != 0 || dst%ShadowRatio != 0 || size%ShadowRatio != 0 {
		panic("shadow: CloneShadowRange requires granule-aligned arguments")
	}
	if size == 0 {
		return
	}

	n := size >> ShadowRatioLog
	srcIndex := s.index(src)
	_ = s.index(src + size - 1)
	dstIndex := s.index(dst)
	_ = s.index(dst + size - 1)

	copy(s.shadow[dstIndex:dstIndex+n], s.shadow[srcIndex:srcIndex+n])
}

// IsBlockStartByte reports whether addr falls in the first granule of a
// block (one carrying a block start marker).
func (s *Shadow) IsBlockStartByte(addr uintptr) bool {
	return s.GetShadowMarkerForAddress(addr).IsBlockStart()
}

// IsLeftRedzone reports whether addr falls in the left redzone of a
// block, including its header.
func (s *Shadow) IsLeftRedzone(addr uintptr) bool {
	marker := s.GetShadowMarkerForAddress(addr)
	return marker == HeapLeftRedzone || marker.IsBlockStart()
}

// IsRightRedzone reports whether addr falls in the right redzone of a
// block, including its trailer and the block end granule.
func (s *Shadow) IsRightRedzone(addr uintptr) bool {
	marker := s.GetShadowMarkerForAddress(addr)
	return marker == HeapRightRedzone || marker == HeapBlockEnd
}
