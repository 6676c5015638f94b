package asan

import (
	"github.com/go-kit/log"

	"github.com/kolkov/asandetector/internal/asan/shadow"
	"github.com/kolkov/asandetector/internal/asan/stackcache"
)

// Re-exported shadow types. The underlying implementations live in
// internal packages; these aliases are the supported names.
type (
	// Marker is the encoded value of a single shadow byte.
	Marker = shadow.Marker

	// DecodedMarker is the tagged form of a shadow byte.
	DecodedMarker = shadow.DecodedMarker

	// BlockInfo describes the geometry of one instrumented allocation.
	BlockInfo = shadow.BlockInfo

	// Walker enumerates blocks in a region using shadow metadata only.
	Walker = shadow.Walker

	// StackCapture is a deduplicated, reference-counted stack capture.
	StackCapture = stackcache.StackCapture

	// StackID is the content hash identifying a stack capture.
	StackID = stackcache.StackID

	// Statistics is a stack capture cache statistics snapshot.
	Statistics = stackcache.Statistics
)

// ShadowRatio is the number of application bytes covered by one shadow
// byte.
const ShadowRatio = shadow.ShadowRatio

// Options configures a Runtime.
type Options struct {
	// LowerBound and UpperBound delimit the instrumented address range,
	// both granule-aligned. The shadow array covering the range is sized
	// at one byte per 8 application bytes and never resized.
	LowerBound uintptr
	UpperBound uintptr

	// MaxNumFrames caps the frames kept per stack capture. <= 0 selects
	// the default.
	MaxNumFrames int

	// ReportingPeriod, when nonzero, logs cache statistics every that
	// many stack saves.
	ReportingPeriod uint64

	// Logger receives statistics lines. nil keeps the runtime silent.
	Logger log.Logger
}

// Runtime bundles one shadow memory and one stack capture cache: the
// state a heap proxy and error reporter share for a single instrumented
// address range.
//
// Create with New, release with Close, exactly once each.
type Runtime struct {
	shadow     *shadow.Shadow
	stackCache *stackcache.StackCaptureCache
}

// New sets up a runtime for the given address range: reserves and zeroes
// the shadow array and the cache's first page.
func New(opts Options) (*Runtime, error) {
	s, err := shadow.New(opts.LowerBound, opts.UpperBound)
	if err != nil {
		return nil, err
	}
	cache := stackcache.New(opts.Logger, stackcache.Options{
		MaxNumFrames:    opts.MaxNumFrames,
		ReportingPeriod: opts.ReportingPeriod,
	})
	return &Runtime{shadow: s, stackCache: cache}, nil
}

// Close tears the runtime down, releasing the shadow array and every
// cache page. No capture or shadow query may be used afterwards.
func (r *Runtime) Close() error {
	r.stackCache.Close()
	return r.shadow.Close()
}

// Poison writes marker over every granule fully covered by
// [addr, addr+size). Precondition: (addr+size) % 8 == 0; addr itself may
// be unaligned, in which case the head granule becomes partially
// accessible. Panics on violation.
func (r *Runtime) Poison(addr, size uintptr, marker Marker) {
	r.shadow.Poison(addr, size, marker)
}

// Unpoison resets every covered granule to fully accessible.
// Precondition: addr and size both granule-aligned; panics on violation.
func (r *Runtime) Unpoison(addr, size uintptr) {
	r.shadow.Unpoison(addr, size)
}

// MarkAsFreed paints [addr, addr+size) with the freed marker.
func (r *Runtime) MarkAsFreed(addr, size uintptr) {
	r.shadow.MarkAsFreed(addr, size)
}

// IsAccessible reports whether the byte at addr may be touched by
// instrumented code.
func (r *Runtime) IsAccessible(addr uintptr) bool {
	return r.shadow.IsAccessible(addr)
}

// ShadowMarker returns the raw shadow marker covering addr.
func (r *Runtime) ShadowMarker(addr uintptr) Marker {
	return r.shadow.GetShadowMarkerForAddress(addr)
}

// CloneShadowRange copies the marker sequence for [src, src+size) over
// the one for dst. All three arguments must be granule-aligned.
func (r *Runtime) CloneShadowRange(src, dst, size uintptr) {
	r.shadow.CloneShadowRange(src, dst, size)
}

// PoisonAllocatedBlock paints the shadow for a freshly allocated block
// from its geometry alone.
func (r *Runtime) PoisonAllocatedBlock(info BlockInfo) {
	r.shadow.PoisonAllocatedBlock(info)
}

// BlockInfoFromShadow reconstructs the geometry of the block containing
// addr purely from shadow markers. ok is false when addr does not
// resolve to one coherent, non-nested block.
func (r *Runtime) BlockInfoFromShadow(addr uintptr) (info BlockInfo, ok bool) {
	return r.shadow.BlockInfoFromShadow(addr)
}

// FindBlockBeginning returns the start address of the block containing
// addr, or 0 on failure.
func (r *Runtime) FindBlockBeginning(addr uintptr) uintptr {
	return r.shadow.FindBlockBeginning(addr)
}

// GetAllocSize returns the total allocation size of the block containing
// addr, or 0 on failure.
func (r *Runtime) GetAllocSize(addr uintptr) uintptr {
	return r.shadow.GetAllocSize(addr)
}

// IsBlockStartByte reports whether addr falls in a block start granule.
func (r *Runtime) IsBlockStartByte(addr uintptr) bool {
	return r.shadow.IsBlockStartByte(addr)
}

// IsLeftRedzone reports whether addr falls in a block's left redzone.
func (r *Runtime) IsLeftRedzone(addr uintptr) bool {
	return r.shadow.IsLeftRedzone(addr)
}

// IsRightRedzone reports whether addr falls in a block's right redzone.
func (r *Runtime) IsRightRedzone(addr uintptr) bool {
	return r.shadow.IsRightRedzone(addr)
}

// GetNullTerminatedArraySize scans forward from addr for a run of
// elemSize zero bytes, never reading a byte the shadow does not certify
// accessible. See the shadow package for the exact semantics; this
// non-generic form covers byte arrays (elemSize 1) and wide-character
// arrays alike.
func (r *Runtime) GetNullTerminatedArraySize(addr, maxSize uintptr, elemSize int) (uintptr, bool) {
	switch elemSize {
	case 2:
		return shadow.GetNullTerminatedArraySize[uint16](r.shadow, addr, maxSize)
	case 4:
		return shadow.GetNullTerminatedArraySize[uint32](r.shadow, addr, maxSize)
	default:
		return shadow.GetNullTerminatedArraySize[uint8](r.shadow, addr, maxSize)
	}
}

// ShadowMemoryText returns a textual dump of the shadow around addr with
// the covering byte bracketed, plus a legend. Meant for violation
// reports.
func (r *Runtime) ShadowMemoryText(addr uintptr) string {
	return r.shadow.MemoryText(addr)
}

// ShadowArrayText returns only the shadow byte values around addr.
func (r *Runtime) ShadowArrayText(addr uintptr) string {
	return r.shadow.ArrayText(addr)
}

// NewShadowWalker returns a walker enumerating the block start addresses
// within [lowerBound, upperBound).
func (r *Runtime) NewShadowWalker(lowerBound, upperBound uintptr) *Walker {
	return shadow.NewWalker(r.shadow, lowerBound, upperBound)
}

// MaxNumFrames returns the frame cap applied to saved stack captures.
func (r *Runtime) MaxNumFrames() int {
	return r.stackCache.MaxNumFrames()
}

// SaveStackTrace saves (or retrieves) the capture identified by id,
// returning a stable pointer whose reference count reflects the save.
func (r *Runtime) SaveStackTrace(id StackID, frames []uintptr) *StackCapture {
	return r.stackCache.SaveStackTrace(id, frames)
}

// ReleaseStackTrace releases one reference to a previously saved
// capture.
func (r *Runtime) ReleaseStackTrace(sc *StackCapture) {
	r.stackCache.ReleaseStackTrace(sc)
}

// CacheStatistics returns a snapshot of the stack capture cache
// statistics.
func (r *Runtime) CacheStatistics() Statistics {
	return r.stackCache.GetStatistics()
}

// LogStatistics writes the current cache statistics to the configured
// logger.
func (r *Runtime) LogStatistics() {
	r.stackCache.LogStatistics()
}

// CaptureStackTrace captures up to maxNumFrames return addresses of the
// calling goroutine, skipping skip frames above the caller, and returns
// them with their content hash.
func CaptureStackTrace(skip, maxNumFrames int) ([]uintptr, StackID) {
	return stackcache.CaptureStackTrace(skip+1, maxNumFrames)
}

// ComputeStackID hashes a frame sequence into its content identifier.
func ComputeStackID(frames []uintptr) StackID {
	return stackcache.ComputeStackID(frames)
}

// FormatStackFrames renders a frame sequence for a violation report.
func FormatStackFrames(frames []uintptr) string {
	return stackcache.FormatFrames(frames)
}
