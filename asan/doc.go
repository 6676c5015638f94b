// Package asan provides the public API for the Pure-Go address sanitizer
// runtime core.
//
// The runtime core is the memory-safety instrumentation layer that a heap
// proxy and an error reporter build on:
//   - Shadow memory: one byte per 8-byte granule of the instrumented
//     address range, encoding accessibility and structural role. Block
//     layout is reconstructible from the shadow alone, never from the
//     instrumented memory itself.
//   - Stack capture cache: a deduplicated, reference-counted store of
//     call stack captures used to attribute allocation and free events.
//
// # Quick Start
//
//	rt, err := asan.New(asan.Options{
//		LowerBound: base,
//		UpperBound: base + span,
//	})
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//
//	// Heap proxy: paint a freshly allocated block and tag it with its
//	// allocation stack.
//	rt.PoisonAllocatedBlock(info)
//	frames, id := asan.CaptureStackTrace(0, rt.MaxNumFrames())
//	allocStack := rt.SaveStackTrace(id, frames)
//
//	// Error reporter: explain a violation at addr using only metadata.
//	if block, ok := rt.BlockInfoFromShadow(addr); ok {
//		fmt.Printf("addr is inside block at %#x\n", block.Block)
//	}
//	fmt.Print(rt.ShadowMemoryText(addr))
//
// # API Overview
//
//   - Lifecycle: [New], [Runtime.Close]
//   - Poisoning: [Runtime.Poison], [Runtime.Unpoison],
//     [Runtime.MarkAsFreed], [Runtime.PoisonAllocatedBlock],
//     [Runtime.CloneShadowRange]
//   - Introspection: [Runtime.IsAccessible], [Runtime.ShadowMarker],
//     [Runtime.BlockInfoFromShadow], [Runtime.FindBlockBeginning],
//     [Runtime.GetAllocSize], [Runtime.NewShadowWalker]
//   - Provenance: [Runtime.SaveStackTrace], [Runtime.ReleaseStackTrace],
//     [Runtime.LogStatistics], [CaptureStackTrace]
//
// # Concurrency
//
// Shadow operations take no internal locks; the caller guarantees that
// writes to one block's markers never race reads or writes of the same
// block. The stack capture cache serializes everything behind one lock
// and is safe for concurrent use.
//
// # Error model
//
// Alignment and lifecycle contract violations panic - they are caller
// bugs. Introspection misses (an address that does not resolve to a
// coherent block) return zero values so that error reporting can degrade
// to "origin unknown" instead of compounding a failure.
package asan
