package stackcache

import (
	"unsafe"

	"github.com/kolkov/asandetector/internal/asan/memory"
)

// CachePageSize is the arena size of one cache page, in bytes. A page in
// the low MiBs gives a pooled allocator that holds thousands of captures
// while keeping incremental growth cheap.
const CachePageSize = 1024 * 1024

// CachePage is a fixed-size bump-allocated arena of stack capture
// records. Pages form a singly linked list, newest first, owned by the
// cache; the page itself does no locking.
type CachePage struct {
	// next links to the previously current page, forming the cleanup
	// chain walked at cache teardown.
	next *CachePage

	// data is the arena. Reserved outside the Go heap where the platform
	// allows it, 8-byte aligned, zero on creation.
	data []byte

	// bytesUsed is the offset of the next free slot. It never decreases
	// except through ReleaseStackCapture undoing the most recent
	// allocation exactly.
	bytesUsed uintptr
}

// newCachePage reserves a fresh page linked in front of next.
//
// A failed reservation panics: the cache has no eviction policy, so there
// is nothing sensible to do without backing memory (see the cache's error
// model).
func newCachePage(next *CachePage) *CachePage {
	buf, err := memory.Reserve(CachePageSize)
	if err != nil {
		panic("stackcache: cache page reservation failed: " + err.Error())
	}
	return &CachePage{next: next, data: buf}
}

// free returns the page's arena to the OS. All captures carved from the
// page become invalid.
func (p *CachePage) free() {
	_ = memory.Release(p.data)
	p.data = nil
	p.bytesUsed = 0
}

// BytesUsed returns the current allocation offset. Mainly a testing
// hook.
func (p *CachePage) BytesUsed() uintptr { return p.bytesUsed }

// GetNextStackCapture bump-allocates a capture able to hold maxNumFrames
// frames, or returns nil if the page lacks room. The returned capture has
// its capacity set and everything else cleared; the caller commits it
// with initFromFrames.
func (p *CachePage) GetNextStackCapture(maxNumFrames int) *StackCapture {
	size := stackCaptureSize(maxNumFrames)
	if p.bytesUsed+size > uintptr(len(p.data)) {
		return nil
	}

	sc := (*StackCapture)(unsafe.Pointer(&p.data[p.bytesUsed]))
	p.bytesUsed += size

	// Reclaimed tail slots may hold stale bytes; reset the header rather
	// than trusting the arena to be zero.
	sc.stackID = 0
	sc.refCount = 0
	sc.numFrames = 0
	sc.maxNumFrames = uint16(maxNumFrames)
	return sc
}

// ReleaseStackCapture hands the capture's bytes back to the page and
// reports true, but only when it is the page's most recent allocation.
// Anywhere else it is a no-op returning false: non-tail slots are
// reclaimed only when the page is freed at cache teardown.
func (p *CachePage) ReleaseStackCapture(sc *StackCapture) bool {
	if len(p.data) == 0 {
		return false
	}

	base := uintptr(unsafe.Pointer(&p.data[0]))
	pos := uintptr(unsafe.Pointer(sc))
	if pos < base || pos >= base+uintptr(len(p.data)) {
		return false
	}

	size := stackCaptureSize(int(sc.maxNumFrames))
	if pos+size != base+p.bytesUsed {
		return false
	}
	p.bytesUsed -= size
	return true
}
