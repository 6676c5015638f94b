package stackcache

import (
	"strings"
	"testing"
	"unsafe"
)

// TestStackCaptureLayout pins the arena layout: 16-byte header, 8 bytes
// per frame, 512 bytes total at the maximum frame count. The cache page
// packing depends on these numbers.
func TestStackCaptureLayout(t *testing.T) {
	if stackCaptureHeaderSize != 16 {
		t.Errorf("Header size = %d, want 16", stackCaptureHeaderSize)
	}
	if got := stackCaptureSize(MaxNumFrames); got != 512 {
		t.Errorf("stackCaptureSize(%d) = %d, want 512", MaxNumFrames, got)
	}
	if got := stackCaptureSize(MaxNumFrames) % 8; got != 0 {
		t.Errorf("Capture size not 8-byte aligned (mod = %d)", got)
	}
}

// TestComputeStackID tests content hashing: equal frame sequences agree,
// different ones do not.
func TestComputeStackID(t *testing.T) {
	a := []uintptr{0x1000, 0x2000, 0x3000}
	b := []uintptr{0x1000, 0x2000, 0x3000}
	c := []uintptr{0x1000, 0x2000, 0x3001}

	if ComputeStackID(a) != ComputeStackID(b) {
		t.Error("Equal frame sequences hashed differently")
	}
	if ComputeStackID(a) == ComputeStackID(c) {
		t.Error("Different frame sequences hashed identically")
	}
	if ComputeStackID(nil) != 0 {
		t.Error("Empty frame sequence should hash to 0")
	}
}

// TestCaptureStackTrace tests capturing the calling goroutine's stack.
func TestCaptureStackTrace(t *testing.T) {
	frames, id := CaptureStackTrace(0, 16)

	if len(frames) == 0 {
		t.Fatal("No frames captured")
	}
	if len(frames) > 16 {
		t.Fatalf("Captured %d frames, cap was 16", len(frames))
	}
	if id == 0 {
		t.Error("Capture produced zero StackID")
	}
	if id != ComputeStackID(frames) {
		t.Error("Returned StackID does not match the frames")
	}
}

// TestCaptureStackTraceClampsDepth tests the frame cap handling for out
// of range requests.
func TestCaptureStackTraceClampsDepth(t *testing.T) {
	frames, _ := CaptureStackTrace(0, MaxNumFrames+10)
	if len(frames) > MaxNumFrames {
		t.Errorf("Captured %d frames, hard cap is %d", len(frames), MaxNumFrames)
	}

	frames, _ = CaptureStackTrace(0, 0)
	if len(frames) > MaxNumFrames {
		t.Errorf("Captured %d frames with zero cap request", len(frames))
	}
}

// TestSaturatingRefCount tests that the reference count saturates and a
// saturated capture ignores further count changes in both directions.
func TestSaturatingRefCount(t *testing.T) {
	// A scratch capture on plain memory is fine for refcount logic: the
	// arena only matters for the inline frames.
	buf := make([]byte, stackCaptureSize(4))
	sc := (*StackCapture)(unsafe.Pointer(&buf[0]))
	sc.maxNumFrames = 4

	sc.refCount = maxRefCount - 1
	sc.addRef()
	if !sc.IsSaturated() {
		t.Fatal("Capture did not saturate at the cap")
	}

	sc.addRef()
	if sc.RefCount() != maxRefCount {
		t.Error("Saturated count moved on addRef")
	}
	sc.removeRef()
	if sc.RefCount() != maxRefCount {
		t.Error("Saturated count moved on removeRef")
	}
}

// TestRemoveRefUnderflowPanics tests that releasing an unreferenced
// capture is treated as a caller bug.
func TestRemoveRefUnderflowPanics(t *testing.T) {
	buf := make([]byte, stackCaptureSize(4))
	sc := (*StackCapture)(unsafe.Pointer(&buf[0]))
	sc.maxNumFrames = 4

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on refcount underflow")
		}
	}()
	sc.removeRef()
}

// TestInitFromFramesTruncates tests frame truncation at the capture's
// capacity.
func TestInitFromFramesTruncates(t *testing.T) {
	buf := make([]byte, stackCaptureSize(4))
	sc := (*StackCapture)(unsafe.Pointer(&buf[0]))
	sc.maxNumFrames = 4

	frames := []uintptr{1, 2, 3, 4, 5, 6}
	sc.initFromFrames(ComputeStackID(frames), frames)

	if sc.NumFrames() != 4 {
		t.Fatalf("NumFrames = %d, want 4", sc.NumFrames())
	}
	got := sc.Frames()
	for i, want := range []uintptr{1, 2, 3, 4} {
		if got[i] != want {
			t.Errorf("Frame %d = %#x, want %#x", i, got[i], want)
		}
	}
}

// TestFormatFrames tests report formatting of a real capture.
func TestFormatFrames(t *testing.T) {
	frames, _ := CaptureStackTrace(0, 16)
	text := FormatFrames(frames)

	if !strings.Contains(text, "TestFormatFrames") {
		t.Errorf("Formatted stack missing the test function:\n%s", text)
	}
	if !strings.Contains(text, "capture_test.go") {
		t.Errorf("Formatted stack missing the file name:\n%s", text)
	}
	if FormatFrames(nil) != "  <unknown>\n" {
		t.Error("Nil frames should format as <unknown>")
	}
}

// BenchmarkComputeStackID benchmarks hashing a typical capture.
func BenchmarkComputeStackID(b *testing.B) {
	frames := make([]uintptr, 16)
	for i := range frames {
		frames[i] = uintptr(0x400000 + i*64)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ComputeStackID(frames)
	}
}

// BenchmarkCaptureStackTrace benchmarks a full capture.
func BenchmarkCaptureStackTrace(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = CaptureStackTrace(0, 16)
	}
}
