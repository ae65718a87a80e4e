package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGuestMemoryReadWrite8(t *testing.T) {
	mem := NewGuestMemory()
	require.NoError(t, mem.Write8(0x1000, 0xAB))
	v, err := mem.Read8(0x1000)
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), v)
}

func TestGuestMemoryBigEndian16(t *testing.T) {
	mem := NewGuestMemory()
	require.NoError(t, mem.Write16(0x2000, 0x1234))
	b, err := mem.CopyToHost(0x2000, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0x12, 0x34}, b)

	v, err := mem.Read16(0x2000)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), v)
}

func TestGuestMemoryBigEndian32(t *testing.T) {
	mem := NewGuestMemory()
	require.NoError(t, mem.Write32(0x3000, 0xDEADBEEF))
	b, err := mem.CopyToHost(0x3000, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, b)
}

func TestGuestMemoryOutOfBounds(t *testing.T) {
	mem := NewGuestMemory()
	_, err := mem.Read32(GuestMemorySize - 2)
	require.Error(t, err)
	var bv *BoundsViolation
	require.ErrorAs(t, err, &bv)

	err = mem.Write8(GuestMemorySize, 1)
	require.Error(t, err)
}

func TestGuestMemoryCopyRoundTrip(t *testing.T) {
	mem := NewGuestMemory()
	src := []byte{1, 2, 3, 4, 5}
	require.NoError(t, mem.CopyFromHost(0x500, src))
	out, err := mem.CopyToHost(0x500, uint32(len(src)))
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestGuestMemoryReadAfterWriteProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mem := NewGuestMemory()
		addr := rapid.Uint32Range(0, GuestMemorySize-4).Draw(t, "addr")
		val := rapid.Uint32().Draw(t, "val")
		require.NoError(t, mem.Write32(addr, val))
		got, err := mem.Read32(addr)
		require.NoError(t, err)
		require.Equal(t, val, got)
	})
}
