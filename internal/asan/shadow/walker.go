package shadow

// Walker enumerates the blocks contained in a memory region using only
// the metadata present in the shadow - no allocator bookkeeping is
// consulted. It yields the address of each block start granule within
// [lowerBound, upperBound), in ascending order.
//
// A Walker is single-threaded and not reentrant; callers must not mutate
// the shadow state of the walked region during a walk. Behavior over
// nested blocks is unspecified, matching the introspection operations.
type Walker struct {
	shadow *Shadow

	// The bounds of the walked region, granule-aligned.
	lowerBound uintptr
	upperBound uintptr

	// nextBlock is the next block start address, or upperBound once the
	// walk is exhausted.
	nextBlock uintptr
}

// NewWalker returns a walker over [lowerBound, upperBound), which must be
// granule-aligned, non-empty and inside the shadow's covered range;
// violations panic. The walker starts positioned at the first block.
func NewWalker(s *Shadow, lowerBound, upperBound uintptr) *Walker {
	if lowerBound%ShadowRatio != 0 || upperBound%ShadowRatio != 0 {
		panic("shadow: walker bounds must be granule-aligned")
	}
	if lowerBound >= upperBound {
		panic("shadow: empty walker range")
	}
	if !s.Contains(lowerBound) || !s.Contains(upperBound-1) {
		panic("shadow: walker range outside the covered range")
	}

	w := &Walker{
		shadow:     s,
		lowerBound: lowerBound,
		upperBound: upperBound,
	}
	w.Reset()
	return w
}

// Next returns the address of the next block start within bounds. Once
// the region is exhausted it returns the upper bound and false.
func (w *Walker) Next() (uintptr, bool) {
	if w.nextBlock >= w.upperBound {
		return w.upperBound, false
	}
	block := w.nextBlock
	w.advance(block + ShadowRatio)
	return block, true
}

// Reset rewinds the walker to the first block at or after the lower
// bound.
func (w *Walker) Reset() {
	w.advance(w.lowerBound)
}

// advance positions nextBlock at the first block start granule at or
// after from, or at upperBound when there is none.
func (w *Walker) advance(from uintptr) {
	for cursor := from; cursor < w.upperBound; cursor += ShadowRatio {
		if w.shadow.GetShadowMarkerForAddress(cursor).IsBlockStart() {
			w.nextBlock = cursor
			return
		}
	}
	w.nextBlock = w.upperBound
}
