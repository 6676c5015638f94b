package shadow

import "testing"

// testBlock returns a valid block geometry at the given offset from
// base: 16-byte header, 30-byte body (unaligned on purpose), 18-byte
// trailer, 64 bytes total.
func testBlock(base, offset uintptr) BlockInfo {
	block := base + offset
	return BlockInfo{
		Block:       block,
		BlockSize:   64,
		HeaderSize:  16,
		Body:        block + 16,
		BodySize:    30,
		TrailerSize: 18,
	}
}

// TestPoisonAllocatedBlockMarkers tests the exact shadow painting of a
// block: start marker with metadata, left redzone, body with a partial
// tail, right redzone, block end.
func TestPoisonAllocatedBlockMarkers(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	info := testBlock(base, 64)
	s.PoisonAllocatedBlock(info)

	// Granule 0: block start carrying bodySize%8 = 6.
	m := s.GetShadowMarkerForAddress(info.Block)
	if !m.IsBlockStart() || m.BlockStartData() != 6 {
		t.Fatalf("Block start marker %#x, want 0xEE", byte(m))
	}

	// Granule 1: left redzone.
	if m := s.GetShadowMarkerForAddress(info.Block + 8); m != HeapLeftRedzone {
		t.Errorf("Header granule marker %#x, want left redzone", byte(m))
	}

	// Granules 2-4: fully accessible body.
	for off := uintptr(0); off < 24; off += 8 {
		if m := s.GetShadowMarkerForAddress(info.Body + off); m != HeapAddressable {
			t.Errorf("Body granule at %d marker %#x, want addressable", off, byte(m))
		}
	}

	// Granule 5: partial body tail, 6 accessible bytes.
	if m := s.GetShadowMarkerForAddress(info.Body + 24); m != Marker(6) {
		t.Errorf("Body tail marker %#x, want partial count 6", byte(m))
	}
	if !s.IsAccessible(info.Body + 29) {
		t.Error("Last body byte inaccessible")
	}
	if s.IsAccessible(info.Body + 30) {
		t.Error("First trailer byte accessible")
	}

	// Granule 6: right redzone. Granule 7: block end.
	if m := s.GetShadowMarkerForAddress(info.Block + 48); m != HeapRightRedzone {
		t.Errorf("Trailer granule marker %#x, want right redzone", byte(m))
	}
	if m := s.GetShadowMarkerForAddress(info.Block + 56); m != HeapBlockEnd {
		t.Errorf("Last granule marker %#x, want block end", byte(m))
	}

	// Predicates agree.
	if !s.IsBlockStartByte(info.Block) {
		t.Error("IsBlockStartByte false at block start")
	}
	if !s.IsLeftRedzone(info.Block + 8) {
		t.Error("IsLeftRedzone false in header")
	}
	if !s.IsRightRedzone(info.Block + 56) {
		t.Error("IsRightRedzone false at block end")
	}
}

// TestBlockInfoRoundTrip tests the central introspection property:
// BlockInfoFromShadow(PoisonAllocatedBlock(info)) == info, from any
// address inside the block.
func TestBlockInfoRoundTrip(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	info := testBlock(base, 128)
	s.PoisonAllocatedBlock(info)

	// Block start, header interior, first and last body byte, trailer
	// start, last block byte.
	probes := []uintptr{
		info.Block,
		info.Block + 9,
		info.Body,
		info.Body + 29,
		info.Body + 30,
		info.Block + 63,
	}
	for _, addr := range probes {
		got, ok := s.BlockInfoFromShadow(addr)
		if !ok {
			t.Errorf("BlockInfoFromShadow(%#x) failed", addr)
			continue
		}
		if got != info {
			t.Errorf("BlockInfoFromShadow(%#x) = %+v, want %+v", addr, got, info)
		}
	}
}

// TestBlockInfoAlignedBody tests reconstruction of a block whose body
// size is a granule multiple (metadata bits zero, no partial tail).
func TestBlockInfoAlignedBody(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	block := base + 256
	info := BlockInfo{
		Block:       block,
		BlockSize:   48,
		HeaderSize:  8,
		Body:        block + 8,
		BodySize:    24,
		TrailerSize: 16,
	}
	s.PoisonAllocatedBlock(info)

	if m := s.GetShadowMarkerForAddress(block); m != HeapBlockStart0 {
		t.Fatalf("Start marker %#x, want 0xE8", byte(m))
	}
	got, ok := s.BlockInfoFromShadow(info.Body + 10)
	if !ok || got != info {
		t.Errorf("Round trip failed: ok=%v got=%+v", ok, got)
	}
}

// TestGetAllocSizeAndFindBlockBeginning tests the derived lookups on
// interior pointers and their failure on dead memory.
func TestGetAllocSizeAndFindBlockBeginning(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	info := testBlock(base, 512)
	s.PoisonAllocatedBlock(info)

	if got := s.GetAllocSize(info.Body + 5); got != info.BlockSize {
		t.Errorf("GetAllocSize = %d, want %d", got, info.BlockSize)
	}
	if got := s.FindBlockBeginning(info.Body + 5); got != info.Block {
		t.Errorf("FindBlockBeginning = %#x, want %#x", got, info.Block)
	}
	if got := s.AsanPointerToBlockHeader(info.Block + 63); got != info.Block {
		t.Errorf("AsanPointerToBlockHeader = %#x, want %#x", got, info.Block)
	}

	// Freed memory resolves to nothing.
	s.MarkAsFreed(info.Block, info.BlockSize)
	if got := s.GetAllocSize(info.Body + 5); got != 0 {
		t.Errorf("GetAllocSize on freed block = %d, want 0", got)
	}
	if got := s.FindBlockBeginning(info.Body + 5); got != 0 {
		t.Errorf("FindBlockBeginning on freed block = %#x, want 0", got)
	}

	// Plain accessible memory with no block around resolves to nothing.
	if got := s.FindBlockBeginning(base + 2048); got != 0 {
		t.Errorf("FindBlockBeginning in unallocated memory = %#x, want 0", got)
	}
}

// TestBlockInfoRejectsOutsideAddress tests that an address past a block's
// end does not resolve to that block.
func TestBlockInfoRejectsOutsideAddress(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	info := testBlock(base, 64)
	s.PoisonAllocatedBlock(info)

	// Just past the block end, in accessible memory: the backward walk
	// would cross the block end granule.
	if _, ok := s.BlockInfoFromShadow(info.Block + info.BlockSize); ok {
		t.Error("Address past block end resolved to a block")
	}
}

// TestBlockInfoNestedBlockFails tests the documented nested-block
// limitation: the ambiguous region around an inner block reports failure
// instead of guessing.
func TestBlockInfoNestedBlockFails(t *testing.T) {
	s, base := newTestShadow(t, 1<<13)

	outer := BlockInfo{
		Block:       base + 64,
		BlockSize:   256,
		HeaderSize:  16,
		Body:        base + 80,
		BodySize:    208,
		TrailerSize: 32,
	}
	s.PoisonAllocatedBlock(outer)

	// Nest a block fully inside the outer body.
	inner := BlockInfo{
		Block:       outer.Body + 16,
		BlockSize:   64,
		HeaderSize:  16,
		Body:        outer.Body + 32,
		BodySize:    32,
		TrailerSize: 16,
	}
	s.PoisonAllocatedBlock(inner)

	// An outer-body address to the right of the inner block: the walk
	// back hits the inner block's end granule and must give up.
	probe := inner.Block + inner.BlockSize + 8
	if _, ok := s.BlockInfoFromShadow(probe); ok {
		t.Error("Ambiguous nested region resolved to a block")
	}
	if got := s.GetAllocSize(probe); got != 0 {
		t.Errorf("GetAllocSize in ambiguous nested region = %d, want 0", got)
	}
}

// TestBlockInfoCorruptMetadata tests that contradictory markers are
// rejected: a body tail whose partial count disagrees with the block
// start metadata bits.
func TestBlockInfoCorruptMetadata(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	info := testBlock(base, 64)
	s.PoisonAllocatedBlock(info)

	// Corrupt the body tail's partial count (6 -> 2).
	s.Poison(info.Body+24, 8, HeapAddressable)
	s.Poison(info.Body+26, 6, HeapRightRedzone)

	if _, ok := s.BlockInfoFromShadow(info.Body); ok {
		t.Error("Contradictory body tail accepted")
	}
}

// TestPoisonAllocatedBlockRejectsThinTrailer tests that a trailer
// smaller than one granule is rejected: the block end granule would
// otherwise overwrite the partial body tail, making valid body bytes
// report inaccessible and breaking reconstruction.
func TestPoisonAllocatedBlockRejectsThinTrailer(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	// 16+30+2 = 48 and every alignment holds, but the 2-byte trailer
	// fits inside the body's last granule.
	block := base + 64
	thin := BlockInfo{
		Block:       block,
		BlockSize:   48,
		HeaderSize:  16,
		Body:        block + 16,
		BodySize:    30,
		TrailerSize: 2,
	}
	expectPanic(t, "trailer thinner than a granule", func() {
		s.PoisonAllocatedBlock(thin)
	})

	// The minimal legal trailer is exactly one granule; that block
	// paints and reconstructs cleanly, last body byte accessible.
	ok := BlockInfo{
		Block:       block,
		BlockSize:   48,
		HeaderSize:  8,
		Body:        block + 8,
		BodySize:    30,
		TrailerSize: 10,
	}
	s.PoisonAllocatedBlock(ok)
	if !s.IsAccessible(ok.Body + 29) {
		t.Error("Last body byte inaccessible")
	}
	got, found := s.BlockInfoFromShadow(ok.Body + 29)
	if !found || got != ok {
		t.Errorf("Round trip = (%+v, %v), want original geometry", got, found)
	}
}

// TestPoisonAllocatedBlockContract tests that invalid geometry panics.
func TestPoisonAllocatedBlockContract(t *testing.T) {
	s, base := newTestShadow(t, 1<<12)

	bad := testBlock(base, 64)
	bad.BodySize = 0
	expectPanic(t, "zero body", func() { s.PoisonAllocatedBlock(bad) })

	bad = testBlock(base, 64)
	bad.HeaderSize = 12 // not granule-aligned
	expectPanic(t, "unaligned header", func() { s.PoisonAllocatedBlock(bad) })

	bad = testBlock(base, 64)
	bad.Body = bad.Block + 24 // header/body mismatch
	expectPanic(t, "incoherent geometry", func() { s.PoisonAllocatedBlock(bad) })
}
