package stackcache

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// StackID uniquely identifies a stack capture by the content hash of its
// frames. Two captures with equal frame sequences always carry the same
// StackID.
type StackID uint64

const (
	// MaxNumFrames is the hard cap on frames per capture. 62 keeps a
	// capture at exactly 512 bytes (16-byte header + 62 * 8), which packs
	// a 1 MiB cache page with no waste.
	MaxNumFrames = 62

	// DefaultMaxNumFrames is the per-cache default frame cap.
	DefaultMaxNumFrames = MaxNumFrames

	// maxRefCount is the saturation point of a capture's reference count.
	// A saturated capture is pinned: its count never moves again, in
	// either direction, so it can never be reclaimed out from under a
	// forgotten reference.
	maxRefCount = math.MaxUint32
)

// StackCapture is an immutable-once-committed sequence of return
// addresses with a saturating reference count.
//
// Captures are not ordinary Go objects: they are carved out of a cache
// page's arena, with the frames stored inline immediately after this
// header. That layout is what makes the bump allocator's bookkeeping
// exact (one record, one contiguous byte range) and keeps the pointer
// stable for as long as the cache lives.
//
// All mutation happens under the owning cache's lock.
type StackCapture struct {
	stackID      StackID
	refCount     uint32
	numFrames    uint16
	maxNumFrames uint16
}

// stackCaptureHeaderSize is the byte size of the fixed StackCapture
// header preceding the inline frames.
const stackCaptureHeaderSize = unsafe.Sizeof(StackCapture{})

// stackCaptureSize returns the total arena bytes occupied by a capture
// able to hold maxNumFrames frames. Always a multiple of 8.
func stackCaptureSize(maxNumFrames int) uintptr {
	return stackCaptureHeaderSize + uintptr(maxNumFrames)*unsafe.Sizeof(uintptr(0))
}

// StackID returns the capture's content hash identifier.
func (sc *StackCapture) StackID() StackID { return sc.stackID }

// NumFrames returns the number of valid frames in the capture.
func (sc *StackCapture) NumFrames() int { return int(sc.numFrames) }

// MaxNumFrames returns the frame capacity this capture was allocated
// with.
func (sc *StackCapture) MaxNumFrames() int { return int(sc.maxNumFrames) }

// RefCount returns the current reference count.
func (sc *StackCapture) RefCount() uint32 { return sc.refCount }

// HasNoRefs reports whether the capture is unreferenced and therefore
// eligible for reclaim.
func (sc *StackCapture) HasNoRefs() bool { return sc.refCount == 0 }

// IsSaturated reports whether the reference count has saturated. A
// saturated capture is never released.
func (sc *StackCapture) IsSaturated() bool { return sc.refCount == maxRefCount }

// addRef increments the reference count, saturating at maxRefCount.
func (sc *StackCapture) addRef() {
	if sc.IsSaturated() {
		return
	}
	sc.refCount++
}

// removeRef decrements the reference count. Releasing a capture with no
// references is a caller bug and panics; releasing a saturated capture is
// a no-op.
func (sc *StackCapture) removeRef() {
	if sc.IsSaturated() {
		return
	}
	if sc.refCount == 0 {
		panic("stackcache: release of an unreferenced stack capture")
	}
	sc.refCount--
}

// framesPtr returns the address of the inline frame array following the
// header.
func (sc *StackCapture) framesPtr() *uintptr {
	return (*uintptr)(unsafe.Pointer(uintptr(unsafe.Pointer(sc)) + stackCaptureHeaderSize))
}

// Frames returns the captured return addresses. The slice aliases the
// capture's inline storage; callers must treat it as read-only and must
// not retain it past the cache's lifetime.
func (sc *StackCapture) Frames() []uintptr {
	return unsafe.Slice(sc.framesPtr(), sc.numFrames)
}

// initFromFrames commits the identity and frames of a freshly allocated
// capture. frames beyond the capture's capacity are truncated. Called
// once, under the cache lock, before the capture is published.
func (sc *StackCapture) initFromFrames(id StackID, frames []uintptr) {
	n := len(frames)
	if n > int(sc.maxNumFrames) {
		n = int(sc.maxNumFrames)
	}
	sc.stackID = id
	sc.refCount = 0
	sc.numFrames = uint16(n)
	copy(unsafe.Slice(sc.framesPtr(), n), frames[:n])
}

// ComputeStackID hashes a frame sequence into its content identifier.
// xxhash is used for its speed and distribution on short fixed-width
// inputs; the raw frame words are hashed directly.
func ComputeStackID(frames []uintptr) StackID {
	if len(frames) == 0 {
		return 0
	}
	bytes := unsafe.Slice(
		(*byte)(unsafe.Pointer(&frames[0])),
		len(frames)*int(unsafe.Sizeof(uintptr(0))))
	return StackID(xxhash.Sum64(bytes))
}

// CaptureStackTrace captures up to maxNumFrames return addresses of the
// calling goroutine, skipping skip frames on top of CaptureStackTrace
// itself, and returns the frames with their StackID.
//
// The returned slice is freshly allocated scratch; pass it to
// StackCaptureCache.SaveStackTrace to obtain a stable, deduplicated
// record.
func CaptureStackTrace(skip, maxNumFrames int) ([]uintptr, StackID) {
	if maxNumFrames <= 0 || maxNumFrames > MaxNumFrames {
		maxNumFrames = MaxNumFrames
	}
	pcs := make([]uintptr, maxNumFrames)

	// Skip runtime.Callers and CaptureStackTrace so the capture starts at
	// the caller's frame of interest.
	n := runtime.Callers(skip+2, pcs)
	pcs = pcs[:n]
	return pcs, ComputeStackID(pcs)
}

// FormatFrames renders a frame sequence for a violation report, one
// "function()\n    file:line" pair per frame, with runtime-internal
// frames filtered out.
func FormatFrames(frames []uintptr) string {
	if len(frames) == 0 {
		return "  <unknown>\n"
	}

	iter := runtime.CallersFrames(frames)
	var b strings.Builder
	for {
		frame, more := iter.Next()
		if frame.PC == 0 {
			break
		}
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&b, "  %s()\n", frame.Function)
		fmt.Fprintf(&b, "      %s:%d\n", frame.File, frame.Line)
		if !more {
			break
		}
	}

	if b.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return b.String()
}
