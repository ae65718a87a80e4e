// message.go - MINIX IPC message layouts and their guest<->host codec.
//
// Grounded field-for-field on
// original_source/MINIXCompat/MINIXCompat_Messages.h. The header there
// documents a C union of six overlapping layouts swapped in place with one
// function per layout when the host is little-endian. Go has no portable
// notion of reinterpreting one struct's storage as another's, so the union
// becomes a flat Message carrying all six typed sub-layouts; the "swap"
// operation becomes an explicit decode (guest bytes, always big-endian) /
// encode (back to guest bytes) pair selected by message type.

package main

import "encoding/binary"

// MessageSize is the wire size of a MINIX message: 2 bytes source, 2 bytes
// type, 32 bytes of unioned payload.
const MessageSize = 36

// Mess1 carries three words and three guest pointers; used by read/write/
// open/close/brk/stat/fstat/exece.
type Mess1 struct {
	I1, I2, I3 int16
	P1, P2, P3 uint32
}

// Mess2 carries three words, two longs, and one guest pointer; used by
// fork/wait/time/brk-reply/lseek/getuid/getgid/kill-reply/signal.
type Mess2 struct {
	I1, I2, I3 int16
	L1, L2     int32
	P1         uint32
}

// Mess3 carries two words, one guest pointer, and a 14-byte inline name;
// used by open-without-creat/creat/unlink/access.
type Mess3 struct {
	I1, I2 int16
	P1     uint32
	CA1    [14]byte
}

// Mess4 carries four longs. Unused by any implemented call in this system
// but kept for wire completeness, matching the original union.
type Mess4 struct {
	L1, L2, L3, L4 int32
}

// Mess5 carries two bytes, two words, and three longs. Unused by any
// implemented call in this system but kept for wire completeness.
type Mess5 struct {
	C1, C2 byte
	I1, I2 int16
	L1, L2, L3 int32
}

// Mess6 carries three words, one long, and one guest function pointer; used
// by signal.
type Mess6 struct {
	I1, I2, I3 int16
	L1         int32
	F1         uint32
}

// Message is the host-order working copy of one MINIX IPC message: a
// 16-bit source, 16-bit type, and all six overlay layouts. Only the layout
// matching the active message type carries meaningful data at any given
// time; the rest are the zero value.
type Message struct {
	Source int16
	Type   int16
	M1     Mess1
	M2     Mess2
	M3     Mess3
	M4     Mess4
	M5     Mess5
	M6     Mess6
}

// Clear zeroes the entire message, preventing stale data from a previous
// call from leaking into a reply.
func (m *Message) Clear() {
	*m = Message{}
}

func decodeHeader(raw []byte) (source, mtype int16) {
	return int16(binary.BigEndian.Uint16(raw[0:2])), int16(binary.BigEndian.Uint16(raw[2:4]))
}

func encodeHeader(raw []byte, source, mtype int16) {
	binary.BigEndian.PutUint16(raw[0:2], uint16(source))
	binary.BigEndian.PutUint16(raw[2:4], uint16(mtype))
}

// SwapMess1 decodes a 36-byte guest-order buffer into a Mess1-shaped
// Message (guest -> host boundary crossing).
func SwapMess1(raw []byte) Message {
	var m Message
	m.Source, m.Type = decodeHeader(raw)
	p := raw[4:]
	m.M1.I1 = int16(binary.BigEndian.Uint16(p[0:2]))
	m.M1.I2 = int16(binary.BigEndian.Uint16(p[2:4]))
	m.M1.I3 = int16(binary.BigEndian.Uint16(p[4:6]))
	m.M1.P1 = binary.BigEndian.Uint32(p[6:10])
	m.M1.P2 = binary.BigEndian.Uint32(p[10:14])
	m.M1.P3 = binary.BigEndian.Uint32(p[14:18])
	return m
}

// EncodeMess1 writes a Mess1-shaped Message back into a 36-byte guest-order
// buffer (host -> guest boundary crossing).
func EncodeMess1(m Message, raw []byte) {
	encodeHeader(raw, m.Source, m.Type)
	p := raw[4:]
	binary.BigEndian.PutUint16(p[0:2], uint16(m.M1.I1))
	binary.BigEndian.PutUint16(p[2:4], uint16(m.M1.I2))
	binary.BigEndian.PutUint16(p[4:6], uint16(m.M1.I3))
	binary.BigEndian.PutUint32(p[6:10], m.M1.P1)
	binary.BigEndian.PutUint32(p[10:14], m.M1.P2)
	binary.BigEndian.PutUint32(p[14:18], m.M1.P3)
}

// SwapMess2 / EncodeMess2 mirror SwapMess1/EncodeMess1 for the mess2 layout.
func SwapMess2(raw []byte) Message {
	var m Message
	m.Source, m.Type = decodeHeader(raw)
	p := raw[4:]
	m.M2.I1 = int16(binary.BigEndian.Uint16(p[0:2]))
	m.M2.I2 = int16(binary.BigEndian.Uint16(p[2:4]))
	m.M2.I3 = int16(binary.BigEndian.Uint16(p[4:6]))
	m.M2.L1 = int32(binary.BigEndian.Uint32(p[6:10]))
	m.M2.L2 = int32(binary.BigEndian.Uint32(p[10:14]))
	m.M2.P1 = binary.BigEndian.Uint32(p[14:18])
	return m
}

func EncodeMess2(m Message, raw []byte) {
	encodeHeader(raw, m.Source, m.Type)
	p := raw[4:]
	binary.BigEndian.PutUint16(p[0:2], uint16(m.M2.I1))
	binary.BigEndian.PutUint16(p[2:4], uint16(m.M2.I2))
	binary.BigEndian.PutUint16(p[4:6], uint16(m.M2.I3))
	binary.BigEndian.PutUint32(p[6:10], uint32(m.M2.L1))
	binary.BigEndian.PutUint32(p[10:14], uint32(m.M2.L2))
	binary.BigEndian.PutUint32(p[14:18], m.M2.P1)
}

// SwapMess3 / EncodeMess3 mirror the above for the mess3 layout, which
// carries a 14-byte inline name (used for pathnames passed by value).
func SwapMess3(raw []byte) Message {
	var m Message
	m.Source, m.Type = decodeHeader(raw)
	p := raw[4:]
	m.M3.I1 = int16(binary.BigEndian.Uint16(p[0:2]))
	m.M3.I2 = int16(binary.BigEndian.Uint16(p[2:4]))
	m.M3.P1 = binary.BigEndian.Uint32(p[4:8])
	copy(m.M3.CA1[:], p[8:22])
	return m
}

func EncodeMess3(m Message, raw []byte) {
	encodeHeader(raw, m.Source, m.Type)
	p := raw[4:]
	binary.BigEndian.PutUint16(p[0:2], uint16(m.M3.I1))
	binary.BigEndian.PutUint16(p[2:4], uint16(m.M3.I2))
	binary.BigEndian.PutUint32(p[4:8], m.M3.P1)
	copy(p[8:22], m.M3.CA1[:])
}

// SwapMess4 / EncodeMess4 mirror the above for the mess4 layout.
func SwapMess4(raw []byte) Message {
	var m Message
	m.Source, m.Type = decodeHeader(raw)
	p := raw[4:]
	m.M4.L1 = int32(binary.BigEndian.Uint32(p[0:4]))
	m.M4.L2 = int32(binary.BigEndian.Uint32(p[4:8]))
	m.M4.L3 = int32(binary.BigEndian.Uint32(p[8:12]))
	m.M4.L4 = int32(binary.BigEndian.Uint32(p[12:16]))
	return m
}

func EncodeMess4(m Message, raw []byte) {
	encodeHeader(raw, m.Source, m.Type)
	p := raw[4:]
	binary.BigEndian.PutUint32(p[0:4], uint32(m.M4.L1))
	binary.BigEndian.PutUint32(p[4:8], uint32(m.M4.L2))
	binary.BigEndian.PutUint32(p[8:12], uint32(m.M4.L3))
	binary.BigEndian.PutUint32(p[12:16], uint32(m.M4.L4))
}

// SwapMess5 / EncodeMess5 mirror the above for the mess5 layout.
func SwapMess5(raw []byte) Message {
	var m Message
	m.Source, m.Type = decodeHeader(raw)
	p := raw[4:]
	m.M5.C1 = p[0]
	m.M5.C2 = p[1]
	m.M5.I1 = int16(binary.BigEndian.Uint16(p[2:4]))
	m.M5.I2 = int16(binary.BigEndian.Uint16(p[4:6]))
	m.M5.L1 = int32(binary.BigEndian.Uint32(p[6:10]))
	m.M5.L2 = int32(binary.BigEndian.Uint32(p[10:14]))
	m.M5.L3 = int32(binary.BigEndian.Uint32(p[14:18]))
	return m
}

func EncodeMess5(m Message, raw []byte) {
	encodeHeader(raw, m.Source, m.Type)
	p := raw[4:]
	p[0] = m.M5.C1
	p[1] = m.M5.C2
	binary.BigEndian.PutUint16(p[2:4], uint16(m.M5.I1))
	binary.BigEndian.PutUint16(p[4:6], uint16(m.M5.I2))
	binary.BigEndian.PutUint32(p[6:10], uint32(m.M5.L1))
	binary.BigEndian.PutUint32(p[10:14], uint32(m.M5.L2))
	binary.BigEndian.PutUint32(p[14:18], uint32(m.M5.L3))
}

// SwapMess6 / EncodeMess6 mirror the above for the mess6 layout, used by
// signal() to pass the signal number and handler pointer.
func SwapMess6(raw []byte) Message {
	var m Message
	m.Source, m.Type = decodeHeader(raw)
	p := raw[4:]
	m.M6.I1 = int16(binary.BigEndian.Uint16(p[0:2]))
	m.M6.I2 = int16(binary.BigEndian.Uint16(p[2:4]))
	m.M6.I3 = int16(binary.BigEndian.Uint16(p[4:6]))
	m.M6.L1 = int32(binary.BigEndian.Uint32(p[6:10]))
	m.M6.F1 = binary.BigEndian.Uint32(p[10:14])
	return m
}

func EncodeMess6(m Message, raw []byte) {
	encodeHeader(raw, m.Source, m.Type)
	p := raw[4:]
	binary.BigEndian.PutUint16(p[0:2], uint16(m.M6.I1))
	binary.BigEndian.PutUint16(p[2:4], uint16(m.M6.I2))
	binary.BigEndian.PutUint16(p[4:6], uint16(m.M6.I3))
	binary.BigEndian.PutUint32(p[6:10], uint32(m.M6.L1))
	binary.BigEndian.PutUint32(p[10:14], m.M6.F1)
}

// ReadMessage copies MessageSize bytes out of guest memory at addr.
func ReadMessage(mem *GuestMemory, addr uint32) ([MessageSize]byte, error) {
	var raw [MessageSize]byte
	buf, err := mem.CopyToHost(addr, MessageSize)
	if err != nil {
		return raw, err
	}
	copy(raw[:], buf)
	return raw, nil
}

// WriteMessage copies a MessageSize-byte buffer into guest memory at addr.
func WriteMessage(mem *GuestMemory, addr uint32, raw [MessageSize]byte) error {
	return mem.CopyFromHost(addr, raw[:])
}
