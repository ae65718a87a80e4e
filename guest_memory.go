// guest_memory.go - flat guest address space for the emulated MINIX process

package main

import (
	"encoding/binary"
	"fmt"
)

// GuestMemorySize is the size of the emulated 68000's address space: a flat
// 24-bit (16 MiB) big-endian byte array.
const GuestMemorySize = 16 * 1024 * 1024

// Guest memory region boundaries.
const (
	ResetVectorBase = 0x000000
	ExecutableBase  = 0x001000
	ExecutableLimit = 0x00FE0000 // heap grows up, must stay below this
	StackLimit      = 0x00FE0000 // stack grows down, must stay above this
	StackBase       = 0x00FF0000 // argc/argv/envp frame is built here
)

// BoundsViolation is returned whenever an access would fall outside the
// 24-bit guest address space.
type BoundsViolation struct {
	Addr uint32
	Size uint32
}

func (e *BoundsViolation) Error() string {
	return fmt.Sprintf("guest memory access out of bounds: addr=0x%06X size=%d", e.Addr, e.Size)
}

// GuestMemory is the emulated process's entire address space: one
// contiguous byte buffer, always accessed big-endian ("guest order") for
// multi-byte values, matching real 68000 bus semantics.
type GuestMemory struct {
	bytes [GuestMemorySize]byte
}

// NewGuestMemory allocates a zeroed guest address space.
func NewGuestMemory() *GuestMemory {
	return &GuestMemory{}
}

func checkBounds(addr uint32, size uint32) error {
	if uint64(addr)+uint64(size) > GuestMemorySize {
		return &BoundsViolation{Addr: addr, Size: size}
	}
	return nil
}

// Read8 returns the byte at addr.
func (m *GuestMemory) Read8(addr uint32) (uint8, error) {
	if err := checkBounds(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

// Write8 stores a byte at addr.
func (m *GuestMemory) Write8(addr uint32, value uint8) error {
	if err := checkBounds(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = value
	return nil
}

// Read16 returns the big-endian 16-bit value at addr.
func (m *GuestMemory) Read16(addr uint32) (uint16, error) {
	if err := checkBounds(addr, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(m.bytes[addr : addr+2]), nil
}

// Write16 stores value at addr in big-endian order.
func (m *GuestMemory) Write16(addr uint32, value uint16) error {
	if err := checkBounds(addr, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(m.bytes[addr:addr+2], value)
	return nil
}

// Read32 returns the big-endian 32-bit value at addr.
func (m *GuestMemory) Read32(addr uint32) (uint32, error) {
	if err := checkBounds(addr, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(m.bytes[addr : addr+4]), nil
}

// Write32 stores value at addr in big-endian order.
func (m *GuestMemory) Write32(addr uint32, value uint32) error {
	if err := checkBounds(addr, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(m.bytes[addr:addr+4], value)
	return nil
}

// CopyFromHost copies src into the guest address space starting at addr,
// with memcpy semantics: no per-field byte swapping. The caller is
// responsible for placing already-big-endian data into src when needed.
func (m *GuestMemory) CopyFromHost(addr uint32, src []byte) error {
	if err := checkBounds(addr, uint32(len(src))); err != nil {
		return err
	}
	copy(m.bytes[addr:addr+uint32(len(src))], src)
	return nil
}

// CopyToHost allocates and returns a new host buffer containing size bytes
// read from the guest address space starting at addr.
func (m *GuestMemory) CopyToHost(addr uint32, size uint32) ([]byte, error) {
	if err := checkBounds(addr, size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, m.bytes[addr:addr+size])
	return out, nil
}

// Bytes exposes the raw backing array for the CPU core's own instruction
// fetch path, the same escape hatch a Bus32.GetMemory implementation gives
// its CPU cores.
func (m *GuestMemory) Bytes() []byte {
	return m.bytes[:]
}
