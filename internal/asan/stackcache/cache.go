package stackcache

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Statistics is a point-in-time snapshot of the cache's state and
// lifetime counters.
type Statistics struct {
	// Cached is the number of captures currently in the cache.
	Cached uint64

	// Size is the current total arena bytes held by cached captures.
	Size uint64

	// Saturated is the number of reference-saturated captures. These can
	// never leave the cache.
	Saturated uint64

	// Unreferenced is the number of captures with no references that
	// could not be reclaimed in place (non-tail slots, pending cleanup at
	// teardown).
	Unreferenced uint64

	// Requested is the lifetime number of save requests.
	Requested uint64

	// Allocated is the lifetime number of captures that had to be
	// allocated, i.e. the save requests that missed the cache.
	Allocated uint64

	// References is the current number of live references to cached
	// captures.
	References uint64
}

// Options configures a StackCaptureCache.
type Options struct {
	// MaxNumFrames is the frame cap applied to every saved capture.
	// Values <= 0 select DefaultMaxNumFrames; values above MaxNumFrames
	// are clamped to it.
	MaxNumFrames int

	// ReportingPeriod, when nonzero, emits a statistics log line every
	// ReportingPeriod save requests. Fixed at construction; the cache has
	// no mutable global settings.
	ReportingPeriod uint64
}

// StackCaptureCache is a thread-safe, deduplicating, reference-counted
// store of stack captures. See the package documentation for the storage
// and reclaim model.
type StackCaptureCache struct {
	logger          log.Logger
	maxNumFrames    int
	reportingPeriod uint64

	// mu guards everything below. Nothing blocking ever runs under it;
	// log emission happens on a snapshot taken inside and written outside.
	mu sync.Mutex

	// knownStacks is the hash-identity set of cached captures.
	knownStacks map[StackID]*StackCapture

	// currentPage is the newest cache page, head of the page list.
	currentPage *CachePage

	statistics Statistics
}

// New creates a cache with its first page already reserved. logger may be
// nil for a silent cache. The cache owns every page and capture it hands
// out; Close frees all of it unconditionally, so callers must guarantee
// no reference outlives the cache.
func New(logger log.Logger, opts Options) *StackCaptureCache {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	maxNumFrames := opts.MaxNumFrames
	if maxNumFrames <= 0 {
		maxNumFrames = DefaultMaxNumFrames
	}
	if maxNumFrames > MaxNumFrames {
		maxNumFrames = MaxNumFrames
	}

	return &StackCaptureCache{
		logger:          logger,
		maxNumFrames:    maxNumFrames,
		reportingPeriod: opts.ReportingPeriod,
		knownStacks:     make(map[StackID]*StackCapture),
		currentPage:     newCachePage(nil),
	}
}

// Close frees every page and forgets every capture. Must be called
// exactly once; a second Close panics.
func (c *StackCaptureCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentPage == nil {
		panic("stackcache: Close called twice")
	}
	for page := c.currentPage; page != nil; page = page.next {
		page.free()
	}
	c.currentPage = nil
	c.knownStacks = nil
}

// MaxNumFrames returns the frame cap applied to saved captures.
func (c *StackCaptureCache) MaxNumFrames() int { return c.maxNumFrames }

// SaveStackTrace saves (or retrieves) the capture identified by id with
// the given frames, truncated to the cache's frame cap.
//
// On a hit the existing record's reference count is incremented
// (saturating) and the same pointer is returned, so equal frame
// sequences are never represented twice. On a miss a record is
// bump-allocated from the current page - linking a fresh page first if
// the current one lacks room - committed, and returned with one
// reference.
//
// id is expected to be the content hash of frames, as computed by
// ComputeStackID or CaptureStackTrace; identical stacks must present
// identical ids.
func (c *StackCaptureCache) SaveStackTrace(id StackID, frames []uintptr) *StackCapture {
	if len(frames) > c.maxNumFrames {
		frames = frames[:c.maxNumFrames]
	}

	c.mu.Lock()
	c.statistics.Requested++

	sc, ok := c.knownStacks[id]
	if ok {
		// A zero-reference slot that was never reclaimed comes back to
		// life here instead of allocating a duplicate.
		if sc.HasNoRefs() {
			c.statistics.Unreferenced--
		}
		c.addRefLocked(sc)
	} else {
		sc = c.getStackCaptureLocked()
		sc.initFromFrames(id, frames)
		c.knownStacks[id] = sc
		c.statistics.Allocated++
		c.statistics.Cached++
		c.statistics.Size += uint64(stackCaptureSize(sc.MaxNumFrames()))
		c.addRefLocked(sc)
	}

	var snapshot Statistics
	report := c.reportingPeriod != 0 && c.statistics.Requested%c.reportingPeriod == 0
	if report {
		snapshot = c.statistics
	}
	c.mu.Unlock()

	if report {
		c.logStatistics(snapshot)
	}
	return sc
}

// SaveCapture saves the frames of an existing capture, typically a
// scratch capture assembled by the caller. Equivalent to
// SaveStackTrace(sc.StackID(), sc.Frames()).
func (c *StackCaptureCache) SaveCapture(sc *StackCapture) *StackCapture {
	return c.SaveStackTrace(sc.StackID(), sc.Frames())
}

// ReleaseStackTrace releases one reference to a previously saved capture.
//
// When the count reaches zero and the capture is the most recent
// allocation of the current page, its bytes are reclaimed immediately and
// the capture leaves the cache. Otherwise the slot stays in place,
// counted as unreferenced, until teardown (LIFO-only reclaim). Saturated
// captures are never released.
func (c *StackCaptureCache) ReleaseStackTrace(sc *StackCapture) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sc.IsSaturated() {
		return
	}
	sc.removeRef()
	c.statistics.References--

	if !sc.HasNoRefs() {
		return
	}
	if c.currentPage.ReleaseStackCapture(sc) {
		delete(c.knownStacks, sc.StackID())
		c.statistics.Cached--
		c.statistics.Size -= uint64(stackCaptureSize(sc.MaxNumFrames()))
	} else {
		c.statistics.Unreferenced++
	}
}

// GetStatistics returns a snapshot of the cache statistics.
func (c *StackCaptureCache) GetStatistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statistics
}

// LogStatistics writes the current statistics to the cache's logger.
func (c *StackCaptureCache) LogStatistics() {
	c.mu.Lock()
	snapshot := c.statistics
	c.mu.Unlock()
	c.logStatistics(snapshot)
}

// addRefLocked adds a reference to sc and keeps the aggregate counters in
// step, including the transition into saturation. Callers hold mu.
func (c *StackCaptureCache) addRefLocked(sc *StackCapture) {
	if sc.IsSaturated() {
		return
	}
	sc.addRef()
	c.statistics.References++
	if sc.IsSaturated() {
		c.statistics.Saturated++
	}
}

// getStackCaptureLocked bump-allocates a capture, rolling over to a fresh
// page when the current one is full. Callers hold mu.
func (c *StackCaptureCache) getStackCaptureLocked() *StackCapture {
	if c.currentPage == nil {
		panic("stackcache: use after Close")
	}
	sc := c.currentPage.GetNextStackCapture(c.maxNumFrames)
	if sc == nil {
		c.currentPage = newCachePage(c.currentPage)
		sc = c.currentPage.GetNextStackCapture(c.maxNumFrames)
	}
	return sc
}

// logStatistics emits one structured statistics line. Runs outside the
// lock.
func (c *StackCaptureCache) logStatistics(s Statistics) {
	compression := 0.0
	if s.Requested > 0 {
		compression = float64(s.Allocated) / float64(s.Requested)
	}
	level.Info(c.logger).Log(
		"msg", "stack capture cache statistics",
		"cached", s.Cached,
		"size", humanize.IBytes(s.Size),
		"saturated", s.Saturated,
		"unreferenced", s.Unreferenced,
		"requested", s.Requested,
		"allocated", s.Allocated,
		"references", s.References,
		"compression", fmt.Sprintf("%.4f", compression),
	)
}
