package shadow

// BlockInfo describes the geometry of one instrumented allocation: the
// header, body and trailer byte ranges. It is produced by the block layout
// collaborator when a block is created, and reconstructed from the shadow
// alone by BlockInfoFromShadow when a violation is diagnosed.
//
// Invariants (enforced by PoisonAllocatedBlock):
//   - Block, BlockSize and HeaderSize are granule-aligned.
//   - Block + HeaderSize == Body.
//   - Body + BodySize + TrailerSize == Block + BlockSize.
//   - HeaderSize, BodySize and TrailerSize are all non-zero.
//   - TrailerSize covers at least one full granule, so the block end
//     granule never holds body bytes. A granule cannot encode a block
//     end and a partial body count at the same time.
//
// Shadow operations only ever read or write this geometry, never the
// block's content.
type BlockInfo struct {
	// Block is the address of the first byte of the block (the header).
	Block uintptr

	// BlockSize is the total size of the block in bytes, redzones
	// included.
	BlockSize uintptr

	// HeaderSize is the size of the header and its padding: the left
	// redzone, from Block to Body.
	HeaderSize uintptr

	// Body is the address of the first usable byte of the allocation.
	Body uintptr

	// BodySize is the usable size of the allocation in bytes. Need not be
	// granule-aligned.
	BodySize uintptr

	// TrailerSize is the size of the right padding and trailer: the right
	// redzone, from the end of the body to the end of the block.
	TrailerSize uintptr
}

// valid reports whether the geometry satisfies the BlockInfo invariants.
func (b BlockInfo) valid() bool {
	if b.Block%ShadowRatio != 0 || b.BlockSize%ShadowRatio != 0 ||
		b.HeaderSize%ShadowRatio != 0 {
		return false
	}
	if b.HeaderSize == 0 || b.BodySize == 0 || b.TrailerSize == 0 {
		return false
	}
	if b.Block+b.HeaderSize != b.Body {
		return false
	}
	if b.Body+b.BodySize+b.TrailerSize != b.Block+b.BlockSize {
		return false
	}
	// The final granule belongs entirely to the trailer; a thinner
	// trailer would leave body bytes under the block end marker.
	if b.TrailerSize < ShadowRatio {
		return false
	}
	return true
}

// PoisonAllocatedBlock paints the shadow for a freshly allocated block.
// Only the geometry in info is consulted; the block's memory is never
// read.
//
// The first granule receives a block start marker whose metadata bits are
// the body size modulo 8, the rest of the left redzone is painted
// HeapLeftRedzone, the body is made accessible (with a partial marker on
// its last granule when the body size is unaligned), and the right
// redzone is painted HeapRightRedzone with the final granule as
// HeapBlockEnd.
//
// Panics if info violates the BlockInfo invariants or does not fit the
// covered range - the geometry comes from the block layout module, so a
// bad value is a programming error.
func (s *Shadow) PoisonAllocatedBlock(info BlockInfo) {
	if !info.valid() {
		panic("shadow: invalid block geometry")
	}

	begin := s.index(info.Block)
	end := s.index(info.Block + info.BlockSize - 1)

	headerGranules := info.HeaderSize >> ShadowRatioLog
	bodyGranules := (info.BodySize + ShadowRatio - 1) >> ShadowRatioLog
	bodySizeMod := uint8(info.BodySize % ShadowRatio)

	cursor := begin
	s.shadow[cursor] = byte(BlockStartMarker(bodySizeMod))
	for i := uintptr(1); i < headerGranules; i++ {
		s.shadow[cursor+i] = byte(HeapLeftRedzone)
	}
	cursor += headerGranules

	for i := uintptr(0); i < bodyGranules; i++ {
		s.shadow[cursor+i] = byte(HeapAddressable)
	}
	cursor += bodyGranules
	if bodySizeMod > 0 {
		s.shadow[cursor-1] = bodySizeMod
	}

	for i := cursor; i < end; i++ {
		s.shadow[i] = byte(HeapRightRedzone)
	}
	s.shadow[end] = byte(HeapBlockEnd)
}

// BlockInfoFromShadow reconstructs the geometry of the block containing
// addr purely from shadow markers - the inverse of PoisonAllocatedBlock.
//
// Returns false when the markers around addr do not resolve to one
// coherent, non-nested block: addr in freed, reserved or invalid memory,
// a backward walk that crosses another block's end, or marker sequences
// that contradict the block start metadata. Failure is expected under
// adversarial or corrupted state and never panics.
//
// Limitation: undefined for blocks nested inside other blocks.
func (s *Shadow) BlockInfoFromShadow(addr uintptr) (BlockInfo, bool) {
	if !s.Contains(addr) {
		return BlockInfo{}, false
	}

	begin, ok := s.findBlockBeginIndex(s.index(addr))
	if !ok {
		return BlockInfo{}, false
	}
	bodySizeMod := Marker(s.shadow[begin]).BlockStartData()

	// Left redzone: the block start granule plus any HeapLeftRedzone run.
	cursor := begin + 1
	limit := uintptr(len(s.shadow))
	for cursor < limit && Marker(s.shadow[cursor]) == HeapLeftRedzone {
		cursor++
	}
	headerGranules := cursor - begin

	// Body: a run of fully accessible granules, then exactly one partial
	// granule iff the body size is unaligned. The partial count must match
	// the metadata bits from the block start marker.
	bodyStart := cursor
	for cursor < limit && Marker(s.shadow[cursor]) == HeapAddressable {
		cursor++
	}
	fullBodyGranules := cursor - bodyStart
	bodySize := fullBodyGranules << ShadowRatioLog
	if bodySizeMod > 0 {
		if cursor >= limit || s.shadow[cursor] != bodySizeMod {
			return BlockInfo{}, false
		}
		cursor++
		bodySize += uintptr(bodySizeMod)
	}
	if bodySize == 0 {
		return BlockInfo{}, false
	}

	// Right redzone: a HeapRightRedzone run closed by the block end
	// granule.
	for cursor < limit && Marker(s.shadow[cursor]) == HeapRightRedzone {
		cursor++
	}
	if cursor >= limit || Marker(s.shadow[cursor]) != HeapBlockEnd {
		return BlockInfo{}, false
	}
	end := cursor

	// addr must actually fall inside the reconstructed block.
	if s.index(addr) > end {
		return BlockInfo{}, false
	}

	info := BlockInfo{
		Block:      s.address(begin),
		BlockSize:  (end - begin + 1) << ShadowRatioLog,
		HeaderSize: headerGranules << ShadowRatioLog,
		Body:       s.address(begin) + headerGranules<<ShadowRatioLog,
		BodySize:   bodySize,
	}
	info.TrailerSize = info.BlockSize - info.HeaderSize - info.BodySize
	if !info.valid() {
		return BlockInfo{}, false
	}
	return info, true
}

// findBlockBeginIndex walks the shadow backward from the given granule
// until it finds a block start marker. The walk fails when it leaves the
// plausible interior of a block: freed, reserved, invalid or sanitizer
// memory, another block's end granule, or the start of the shadow array.
func (s *Shadow) findBlockBeginIndex(from uintptr) (uintptr, bool) {
	cursor := from
	for {
		marker := Marker(s.shadow[cursor])
		switch {
		case marker.IsBlockStart():
			return cursor, true
		case marker == HeapBlockEnd:
			// Our own end granule is a legal starting point, but crossing
			// an end granule mid-walk means we have left the block.
			if cursor != from {
				return 0, false
			}
		case marker == HeapLeftRedzone,
			marker == HeapRightRedzone,
			marker == UserRedzone,
			marker == HeapAddressable:
			// Plausible block interior, keep walking. User redzones live
			// inside allocated bodies, so they do not end the walk.
		case !marker.IsNonAccessible():
			// Partially accessible granule: also plausible interior (end
			// of a body, or the preserved head of a poisoned range).
		default:
			// Freed, reserved, invalid or sanitizer memory: addr is not
			// inside a live block.
			return 0, false
		}
		if cursor == 0 {
			return 0, false
		}
		cursor--
	}
}

// FindBlockBeginning returns the address of the first byte of the block
// containing addr, or 0 when addr does not resolve to a coherent,
// non-nested block. Works purely from shadow markers.
func (s *Shadow) FindBlockBeginning(addr uintptr) uintptr {
	info, ok := s.BlockInfoFromShadow(addr)
	if !ok {
		return 0
	}
	return info.Block
}

// GetAllocSize returns the total allocation size (redzones included) of
// the block containing addr, or 0 when addr does not resolve to a
// coherent, non-nested block.
func (s *Shadow) GetAllocSize(addr uintptr) uintptr {
	info, ok := s.BlockInfoFromShadow(addr)
	if !ok {
		return 0
	}
	return info.BlockSize
}

// AsanPointerToBlockHeader returns the address of the block header for a
// pointer presumed interior to a block, or 0 on failure. The header sits
// at the very beginning of the block.
func (s *Shadow) AsanPointerToBlockHeader(addr uintptr) uintptr {
	return s.FindBlockBeginning(addr)
}
