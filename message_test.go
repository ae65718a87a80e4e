package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMess1RoundTrip(t *testing.T) {
	var raw [MessageSize]byte
	in := Message{Source: 1, Type: 5}
	in.M1 = Mess1{I1: -1, I2: 200, I3: 3, P1: 0x1000, P2: 0x2000, P3: 0x3000}
	EncodeMess1(in, raw[:])

	out := SwapMess1(raw[:])
	require.Equal(t, in.Source, out.Source)
	require.Equal(t, in.Type, out.Type)
	require.Equal(t, in.M1, out.M1)
}

func TestMess2RoundTrip(t *testing.T) {
	var raw [MessageSize]byte
	in := Message{Source: 0, Type: 7}
	in.M2 = Mess2{I1: 1, I2: 2, I3: 3, L1: -100, L2: 100, P1: 0xABCD1234}
	EncodeMess2(in, raw[:])

	out := SwapMess2(raw[:])
	require.Equal(t, in.M2, out.M2)
}

func TestMess3RoundTripWithName(t *testing.T) {
	var raw [MessageSize]byte
	in := Message{Source: 1, Type: 5}
	copy(in.M3.CA1[:], "hello.c")
	in.M3.I1 = 7
	in.M3.I2 = 0o644
	in.M3.P1 = 0x4000
	EncodeMess3(in, raw[:])

	out := SwapMess3(raw[:])
	require.Equal(t, in.M3, out.M3)
}

func TestMess4RoundTrip(t *testing.T) {
	var raw [MessageSize]byte
	in := Message{Type: 9}
	in.M4 = Mess4{L1: 1, L2: -2, L3: 3, L4: -4}
	EncodeMess4(in, raw[:])
	out := SwapMess4(raw[:])
	require.Equal(t, in.M4, out.M4)
}

func TestMess5RoundTrip(t *testing.T) {
	var raw [MessageSize]byte
	in := Message{Type: 9}
	in.M5 = Mess5{C1: 1, C2: 2, I1: 3, I2: -4, L1: 5, L2: -6, L3: 7}
	EncodeMess5(in, raw[:])
	out := SwapMess5(raw[:])
	require.Equal(t, in.M5, out.M5)
}

func TestMess6RoundTrip(t *testing.T) {
	var raw [MessageSize]byte
	in := Message{Type: sysSignal}
	in.M6 = Mess6{I1: 4, I2: 0, I3: 0, L1: 0, F1: 0x00001000}
	EncodeMess6(in, raw[:])
	out := SwapMess6(raw[:])
	require.Equal(t, in.M6, out.M6)
}

func TestMessageClear(t *testing.T) {
	m := Message{Source: 1, Type: 2}
	m.M1.I1 = 5
	m.Clear()
	require.Equal(t, Message{}, m)
}

func TestReadWriteMessageThroughGuestMemory(t *testing.T) {
	mem := NewGuestMemory()
	var raw [MessageSize]byte
	in := Message{Source: 1, Type: sysGetpid}
	EncodeMess1(in, raw[:])
	require.NoError(t, WriteMessage(mem, 0x5000, raw))

	back, err := ReadMessage(mem, 0x5000)
	require.NoError(t, err)
	require.Equal(t, raw, back)
}

func TestMess1RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var raw [MessageSize]byte
		in := Message{
			Source: int16(rapid.Int32Range(-32768, 32767).Draw(t, "src")),
			Type:   int16(rapid.Int32Range(-32768, 32767).Draw(t, "type")),
		}
		in.M1 = Mess1{
			I1: int16(rapid.Int32Range(-32768, 32767).Draw(t, "i1")),
			I2: int16(rapid.Int32Range(-32768, 32767).Draw(t, "i2")),
			I3: int16(rapid.Int32Range(-32768, 32767).Draw(t, "i3")),
			P1: rapid.Uint32().Draw(t, "p1"),
			P2: rapid.Uint32().Draw(t, "p2"),
			P3: rapid.Uint32().Draw(t, "p3"),
		}
		EncodeMess1(in, raw[:])
		out := SwapMess1(raw[:])
		require.Equal(t, in, out)
	})
}
