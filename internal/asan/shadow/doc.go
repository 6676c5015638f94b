// Package shadow implements the dense shadow memory at the heart of the
// Pure-Go ASan runtime.
//
// Shadow memory maps every 8-byte granule of an instrumented address range
// to a single shadow byte describing the granule's accessibility and its
// structural role (block start, redzone, freed memory, ...). The heap
// proxy updates the shadow on every allocate/free/resize/move, and the
// error reporter reads it back to explain a detected violation. Crucially,
// block layout can be reconstructed purely from the shadow encoding,
// without ever reading the instrumented memory itself - this is what keeps
// diagnosis safe even when the block under inspection is corrupt.
//
// The shadow byte values form a de facto binary contract: external tools
// decoding a captured shadow region (e.g. from a crash dump) must use the
// same table. See the Marker constants.
//
// Layout of a live block in the shadow (one cell per 8-byte granule):
//
//	[ block start | left redzone ... | body 00 ... | partial? | right redzone ... | block end ]
//
// The block start marker's low 3 bits encode the body size modulo 8, and
// the last body granule carries the matching partial-accessibility count,
// so the exact body size is recoverable from the shadow alone.
//
// # Concurrency
//
// Shadow state has no internal locking. Reads on the accessibility-check
// hot path are plain loads; the caller (allocator/instrumentation)
// guarantees that no two threads concurrently poison overlapping granules
// and that reads of a block's markers never race writes to the same
// block's markers. Races between unrelated blocks are benign.
package shadow
