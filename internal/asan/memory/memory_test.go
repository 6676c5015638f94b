package memory

import (
	"testing"
	"unsafe"
)

// TestReserveZeroed tests that reservations come back zero-filled.
func TestReserveZeroed(t *testing.T) {
	buf, err := Reserve(1 << 16)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	defer func() {
		if err := Release(buf); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	}()

	if len(buf) != 1<<16 {
		t.Fatalf("Expected %d bytes, got %d", 1<<16, len(buf))
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("Byte %d not zero: %#x", i, b)
		}
	}
}

// TestReserveAligned tests the 8-byte alignment guarantee that record
// carving relies on.
func TestReserveAligned(t *testing.T) {
	buf, err := Reserve(4096)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	defer func() { _ = Release(buf) }()

	base := uintptr(unsafe.Pointer(&buf[0]))
	if base%8 != 0 {
		t.Errorf("Base address %#x not 8-byte aligned", base)
	}
}

// TestReserveWritable tests that the reservation is usable memory.
func TestReserveWritable(t *testing.T) {
	buf, err := Reserve(4096)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	defer func() { _ = Release(buf) }()

	// Touch the first and last byte of the reservation.
	buf[0] = 0xAA
	buf[len(buf)-1] = 0x55
	if buf[0] != 0xAA || buf[len(buf)-1] != 0x55 {
		t.Error("Reservation did not hold written values")
	}
}

// TestReserveInvalidSize tests that non-positive sizes are rejected.
func TestReserveInvalidSize(t *testing.T) {
	if _, err := Reserve(0); err == nil {
		t.Error("Expected error for zero size")
	}
	if _, err := Reserve(-1); err == nil {
		t.Error("Expected error for negative size")
	}
}

// TestReleaseNil tests that releasing nil is a no-op.
func TestReleaseNil(t *testing.T) {
	if err := Release(nil); err != nil {
		t.Errorf("Release(nil) failed: %v", err)
	}
}
