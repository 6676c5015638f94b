package shadow

// Marker is the encoded value of a single shadow byte. It describes the
// accessibility and structural role of one 8-byte granule of application
// memory.
//
// The value space partitions as follows:
//   - 0x00: the granule is fully accessible.
//   - 0x01-0x07: the granule is partially accessible; the value is the
//     number of accessible bytes at the start of the granule.
//   - Any value with one of the top three bits set (HeapNonAccessibleMask)
//     is fully inaccessible; the remaining bits say why.
//   - 0xE8-0xEF additionally mark the first granule of a block; the low
//     three bits carry block metadata (body size modulo 8).
type Marker byte

// The shadow marker values. These byte values are a binary contract shared
// with external shadow decoders and must not be renumbered.
const (
	// HeapAddressable marks a fully accessible granule: either memory we
	// know nothing about, or allocated bytes that are explicitly usable.
	HeapAddressable Marker = 0x00

	// HeapNonAccessibleMask selects the top three bits. Any marker with one
	// of these bits set denotes a completely inaccessible granule.
	HeapNonAccessibleMask Marker = 0xE0

	// HeapBlockStart0 through HeapBlockStart7 mark the first granule of a
	// block. The low three bits encode the block body size modulo 8, which
	// allows full block introspection via the shadow alone.
	HeapBlockStart0 Marker = 0xE8
	HeapBlockStart1 Marker = 0xE9
	HeapBlockStart2 Marker = 0xEA
	HeapBlockStart3 Marker = 0xEB
	HeapBlockStart4 Marker = 0xEC
	HeapBlockStart5 Marker = 0xED
	HeapBlockStart6 Marker = 0xEE
	HeapBlockStart7 Marker = 0xEF

	// AsanMemory marks granules backing the sanitizer's own data
	// structures. Instrumented code must never touch these.
	AsanMemory Marker = 0xF1

	// InvalidAddress marks granules that are simply not valid for user
	// code to access (e.g. the unaddressable low 64 KiB).
	InvalidAddress Marker = 0xF2

	// UserRedzone marks allocated bytes that the instrumented code has
	// explicitly redzoned through the runtime API.
	UserRedzone Marker = 0xF3

	// HeapBlockEnd marks the last granule of a block. It is part of the
	// right redzone.
	HeapBlockEnd Marker = 0xF4

	// HeapLeftRedzone marks left redzone granules (block header padding).
	// Same value as used by ASan itself.
	HeapLeftRedzone Marker = 0xFA

	// HeapRightRedzone marks right redzone granules (block trailer and
	// padding). Same value as used by ASan itself.
	HeapRightRedzone Marker = 0xFB

	// AsanReserved marks memory reserved from the OS for the heap but not
	// yet handed out to the code under test.
	AsanReserved Marker = 0xFC

	// HeapFreed marks the body of a block that has been freed by
	// instrumented code. Same value as used by ASan itself.
	HeapFreed Marker = 0xFD
)

// blockStartMask selects the bits shared by all block start markers.
const blockStartMask Marker = 0xF8

// IsNonAccessible reports whether the marker denotes a completely
// inaccessible granule (any of the top three bits set).
func (m Marker) IsNonAccessible() bool {
	return m&HeapNonAccessibleMask != 0
}

// IsBlockStart reports whether the marker is one of the eight block start
// markers (0xE8-0xEF).
func (m Marker) IsBlockStart() bool {
	return m&blockStartMask == HeapBlockStart0
}

// BlockStartData returns the three metadata bits of a block start marker:
// the block's body size modulo 8.
//
// Only meaningful when IsBlockStart() is true.
func (m Marker) BlockStartData() uint8 {
	return uint8(m & 0x07)
}

// BlockStartMarker returns the block start marker carrying the given
// metadata bits. Panics if data does not fit in three bits; the caller
// computes it as bodySize % ShadowRatio, which always fits.
func BlockStartMarker(data uint8) Marker {
	if data >= ShadowRatio {
		panic("shadow: block start metadata out of range")
	}
	return HeapBlockStart0 | Marker(data)
}

// MarkerKind is the decoded category of a shadow marker.
type MarkerKind uint8

// The marker categories produced by Marker.Decode.
const (
	// KindFullyAccessible: all 8 bytes of the granule are accessible.
	KindFullyAccessible MarkerKind = iota
	// KindPartiallyAccessible: only the first Accessible bytes are usable.
	KindPartiallyAccessible
	// KindBlockStart: the granule begins a block; Data carries metadata.
	KindBlockStart
	// KindInaccessible: no byte of the granule is accessible; Reason holds
	// the raw marker explaining why.
	KindInaccessible
)

// String returns a human-readable name for the marker kind.
func (k MarkerKind) String() string {
	switch k {
	case KindFullyAccessible:
		return "fully-accessible"
	case KindPartiallyAccessible:
		return "partially-accessible"
	case KindBlockStart:
		return "block-start"
	case KindInaccessible:
		return "inaccessible"
	default:
		return "unknown"
	}
}

// DecodedMarker is the tagged form of a shadow byte. The underlying
// storage stays one byte per granule for density; decoding happens at the
// API boundary.
type DecodedMarker struct {
	// Kind is the marker category.
	Kind MarkerKind

	// Accessible is the number of accessible bytes at the start of the
	// granule. 8 for fully accessible granules, 1-7 for partial ones,
	// 0 otherwise.
	Accessible uint8

	// Data carries the three block metadata bits for KindBlockStart.
	Data uint8

	// Reason is the raw marker value for KindInaccessible.
	Reason Marker
}

// Decode expands a raw shadow byte into its tagged form.
func (m Marker) Decode() DecodedMarker {
	switch {
	case m == HeapAddressable:
		return DecodedMarker{Kind: KindFullyAccessible, Accessible: ShadowRatio}
	case m.IsBlockStart():
		return DecodedMarker{Kind: KindBlockStart, Data: m.BlockStartData()}
	case m.IsNonAccessible():
		return DecodedMarker{Kind: KindInaccessible, Reason: m}
	default:
		// 0x01-0x07: partial accessibility count. Values 0x08-0xDF never
		// occur in a well-formed shadow; they decode as partial for
		// compatibility with the raw accessibility check.
		return DecodedMarker{Kind: KindPartiallyAccessible, Accessible: uint8(m)}
	}
}

// String returns a short description of the marker, used by the shadow
// text dump legend.
func (m Marker) String() string {
	switch {
	case m == HeapAddressable:
		return "addressable"
	case m.IsBlockStart():
		return "block start redzone"
	case m == AsanMemory:
		return "ASan memory"
	case m == InvalidAddress:
		return "invalid address"
	case m == UserRedzone:
		return "user redzone"
	case m == HeapBlockEnd:
		return "block end redzone"
	case m == HeapLeftRedzone:
		return "heap left redzone"
	case m == HeapRightRedzone:
		return "heap right redzone"
	case m == AsanReserved:
		return "ASan reserved"
	case m == HeapFreed:
		return "freed heap region"
	case m.IsNonAccessible():
		return "non-accessible"
	default:
		return "partially addressable"
	}
}
