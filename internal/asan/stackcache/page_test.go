package stackcache

import "testing"

// newTestPage reserves a page and frees it at test end.
func newTestPage(t *testing.T) *CachePage {
	t.Helper()
	p := newCachePage(nil)
	t.Cleanup(p.free)
	return p
}

// TestCachePageBumpAllocation tests sequential carving: consecutive
// allocations are adjacent and the usage counter tracks them.
func TestCachePageBumpAllocation(t *testing.T) {
	p := newTestPage(t)

	a := p.GetNextStackCapture(8)
	if a == nil {
		t.Fatal("First allocation failed on a fresh page")
	}
	if a.MaxNumFrames() != 8 || a.NumFrames() != 0 || a.RefCount() != 0 {
		t.Errorf("Fresh capture not reset: %+v", a)
	}
	if p.BytesUsed() != stackCaptureSize(8) {
		t.Errorf("BytesUsed = %d, want %d", p.BytesUsed(), stackCaptureSize(8))
	}

	b := p.GetNextStackCapture(8)
	if b == nil {
		t.Fatal("Second allocation failed")
	}
	if p.BytesUsed() != 2*stackCaptureSize(8) {
		t.Errorf("BytesUsed = %d after two allocations", p.BytesUsed())
	}
}

// TestCachePageExactFill tests the packing arithmetic: max-frame captures
// are 512 bytes, so a page holds exactly 2048 of them and not one more.
func TestCachePageExactFill(t *testing.T) {
	p := newTestPage(t)

	count := 0
	for p.GetNextStackCapture(MaxNumFrames) != nil {
		count++
	}
	if count != CachePageSize/512 {
		t.Errorf("Page held %d captures, want %d", count, CachePageSize/512)
	}
	if p.BytesUsed() != CachePageSize {
		t.Errorf("BytesUsed = %d, want full page %d", p.BytesUsed(), CachePageSize)
	}
}

// TestCachePageReleaseTail tests LIFO reclaim: only the most recent
// allocation can be handed back, and its bytes are reused by the next
// allocation.
func TestCachePageReleaseTail(t *testing.T) {
	p := newTestPage(t)

	first := p.GetNextStackCapture(8)
	last := p.GetNextStackCapture(8)

	if !p.ReleaseStackCapture(last) {
		t.Fatal("Tail release refused")
	}
	if p.BytesUsed() != stackCaptureSize(8) {
		t.Errorf("BytesUsed = %d after tail release", p.BytesUsed())
	}

	// The freed slot is the next one carved.
	if again := p.GetNextStackCapture(8); again != last {
		t.Errorf("Reallocation got %p, want reclaimed slot %p", again, last)
	}

	// A non-tail slot stays put.
	if p.ReleaseStackCapture(first) {
		t.Error("Non-tail release accepted")
	}
	if p.BytesUsed() != 2*stackCaptureSize(8) {
		t.Errorf("BytesUsed = %d changed by refused release", p.BytesUsed())
	}
}

// TestCachePageReleaseForeignCapture tests that a capture from another
// page is refused.
func TestCachePageReleaseForeignCapture(t *testing.T) {
	p := newTestPage(t)
	q := newTestPage(t)

	sc := q.GetNextStackCapture(8)
	if p.ReleaseStackCapture(sc) {
		t.Error("Release accepted a capture from a different page")
	}
}
