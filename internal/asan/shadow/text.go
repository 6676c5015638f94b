package shadow

import (
	"fmt"
	"strings"
)

// Number of granules per dump line, and of context lines on each side of
// the line containing the address of interest.
const (
	textLineGranules = 8
	textContextLines = 4
)

// MemoryText returns a textual description of the shadow memory around
// addr: the shadow byte values with the byte covering addr bracketed,
// followed by a legend. Error reporters embed this in violation reports.
func (s *Shadow) MemoryText(addr uintptr) string {
	var b strings.Builder
	b.WriteString("Shadow bytes around the buggy address:\n")
	s.appendShadowText(&b, addr, true)
	b.WriteString("Shadow byte legend (one shadow byte represents 8 application bytes):\n")
	fmt.Fprintf(&b, "  Addressable:           %02x\n", byte(HeapAddressable))
	fmt.Fprintf(&b, "  Partially addressable: 01 - 07\n")
	fmt.Fprintf(&b, "  Block start redzone:   %02x - %02x\n",
		byte(HeapBlockStart0), byte(HeapBlockStart7))
	fmt.Fprintf(&b, "  ASan memory byte:      %02x\n", byte(AsanMemory))
	fmt.Fprintf(&b, "  Invalid address:       %02x\n", byte(InvalidAddress))
	fmt.Fprintf(&b, "  User redzone:          %02x\n", byte(UserRedzone))
	fmt.Fprintf(&b, "  Block end redzone:     %02x\n", byte(HeapBlockEnd))
	fmt.Fprintf(&b, "  Heap left redzone:     %02x\n", byte(HeapLeftRedzone))
	fmt.Fprintf(&b, "  Heap right redzone:    %02x\n", byte(HeapRightRedzone))
	fmt.Fprintf(&b, "  ASan reserved byte:    %02x\n", byte(AsanReserved))
	fmt.Fprintf(&b, "  Freed heap region:     %02x\n", byte(HeapFreed))
	return b.String()
}

// ArrayText returns only the shadow byte values around addr, without the
// bracket highlight or the legend.
func (s *Shadow) ArrayText(addr uintptr) string {
	var b strings.Builder
	s.appendShadowText(&b, addr, false)
	return b.String()
}

// appendShadowText writes the dump lines around addr. Each line shows the
// application address of its first granule followed by eight shadow
// bytes; when highlight is set, the byte covering addr is bracketed.
func (s *Shadow) appendShadowText(b *strings.Builder, addr uintptr, highlight bool) {
	if !s.Contains(addr) {
		fmt.Fprintf(b, "  <0x%08x is not covered by the shadow>\n", addr)
		return
	}

	bugIndex := s.index(addr)
	lineIndex := bugIndex - bugIndex%textLineGranules

	firstLine := uintptr(0)
	if lineIndex >= textContextLines*textLineGranules {
		firstLine = lineIndex - textContextLines*textLineGranules
	}
	lastLine := lineIndex + textContextLines*textLineGranules
	if end := uintptr(len(s.shadow)) - 1; lastLine > end-end%textLineGranules {
		lastLine = end - end%textLineGranules
	}

	for line := firstLine; line <= lastLine; line += textLineGranules {
		prefix := "  "
		if highlight && line == lineIndex {
			prefix = "=>"
		}
		fmt.Fprintf(b, "%s0x%08x:", prefix, s.address(line))
		for i := uintptr(0); i < textLineGranules; i++ {
			index := line + i
			if index >= uintptr(len(s.shadow)) {
				break
			}
			if highlight && index == bugIndex {
				fmt.Fprintf(b, "[%02x]", s.shadow[index])
			} else {
				fmt.Fprintf(b, " %02x ", s.shadow[index])
			}
		}
		b.WriteByte('\n')
	}
}
