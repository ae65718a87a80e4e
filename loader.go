// loader.go - MINIX a.out executable loader.
//
// Grounded field-for-field on
// original_source/MINIXCompat/MINIXCompat_Executable.c: header parse and
// validation, click rounding, combined-I&D adjustment, text/data placement,
// and the relocation stream walk are all carried over from there, with
// fseek/fread replaced by explicit offset arithmetic over an in-memory
// []byte (the whole executable is read into host memory up front rather
// than streamed, since MINIX executables are small enough that buffering
// the file is simpler than carrying a *os.File and its seek position
// through the loader).

package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ClickSize is the MINIX allocation granularity; every loaded segment is
// rounded up to a whole number of clicks.
const ClickSize = 256

const (
	execMagicCombined uint32 = 0x04100301
	execMagicSeparate uint32 = 0x04200301
	execFlags         uint32 = 0x00000020
	execNoEntry       uint32 = 0x00000000
)

// execHeader is the 32-byte a.out header, always stored here in host order
// after being read off the wire big-endian.
type execHeader struct {
	Magic   uint32
	Flags   uint32
	Text    uint32
	Data    uint32
	Bss     uint32
	NoEntry uint32
	Total   uint32
	Syms    uint32
}

const execHeaderSize = 32

// ErrNotExecutable is returned when the header fails validation: wrong
// magic, wrong flags, a nonzero entry-point field, or a zero total size.
var ErrNotExecutable = errors.New("minixcompat: not a valid MINIX a.out executable")

// Executable is a loaded MINIX program: its validated header and the
// click-rounded image ready to be copied into guest memory at
// ExecutableBase.
type Executable struct {
	Header execHeader
	Image  []byte
}

func clickRound(size uint32) uint32 {
	return (size + ClickSize - 1) &^ (ClickSize - 1)
}

// LoadExecutable reads a complete MINIX a.out file from r, validates its
// header, and produces a click-rounded image with relocations already
// applied against ExecutableBase.
func LoadExecutable(r io.Reader) (*Executable, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("minixcompat: reading executable: %w", err)
	}
	if len(raw) < execHeaderSize {
		return nil, ErrNotExecutable
	}

	header, err := parseHeader(raw[:execHeaderSize])
	if err != nil {
		return nil, err
	}

	textClicks := clickRound(header.Text)
	totalClicks := clickRound(header.Total)
	if totalClicks == 0 {
		return nil, ErrNotExecutable
	}

	image := make([]byte, totalClicks)

	body := raw[execHeaderSize:]
	textBase := uint32(0)
	dataBase := textBase + textClicks

	if header.Text > 0 {
		if uint32(len(body)) < header.Text {
			return nil, fmt.Errorf("minixcompat: truncated text segment: %w", ErrNotExecutable)
		}
		copy(image[textBase:], body[:header.Text])
		body = body[header.Text:]
	}

	if uint32(len(body)) < header.Data {
		return nil, fmt.Errorf("minixcompat: truncated data segment: %w", io.ErrUnexpectedEOF)
	}
	copy(image[dataBase:], body[:header.Data])
	body = body[header.Data:]

	// Relocation information follows any symbol table, so skip it.
	if header.Syms > 0 {
		if uint32(len(body)) < header.Syms {
			body = nil
		} else {
			body = body[header.Syms:]
		}
	}

	if err := relocate(body, image); err != nil {
		return nil, err
	}

	return &Executable{Header: header, Image: image}, nil
}

func parseHeader(raw []byte) (execHeader, error) {
	var n execHeader
	n.Magic = binary.BigEndian.Uint32(raw[0:4])
	n.Flags = binary.BigEndian.Uint32(raw[4:8])
	n.Text = binary.BigEndian.Uint32(raw[8:12])
	n.Data = binary.BigEndian.Uint32(raw[12:16])
	n.Bss = binary.BigEndian.Uint32(raw[16:20])
	n.NoEntry = binary.BigEndian.Uint32(raw[20:24])
	n.Total = binary.BigEndian.Uint32(raw[24:28])
	n.Syms = binary.BigEndian.Uint32(raw[28:32])

	if n.Magic != execMagicCombined && n.Magic != execMagicSeparate {
		return execHeader{}, ErrNotExecutable
	}
	if n.Flags != execFlags {
		return execHeader{}, ErrNotExecutable
	}
	if n.NoEntry != execNoEntry {
		return execHeader{}, ErrNotExecutable
	}
	if n.Total == 0 {
		return execHeader{}, ErrNotExecutable
	}

	if n.Magic == execMagicCombined {
		// Combined I&D: text and data share one region, treated as all data.
		n.Data += n.Text
		n.Text = 0
	}

	return n, nil
}

// relocate walks the relocation stream and adds ExecutableBase to every
// longword it names, exactly as the MINIX loader does it: a four-byte
// initial offset, then a byte stream of deltas terminated by 0x00, where a
// lone 0x01 means "skip 254 bytes without relocating" and any other
// odd-valued byte is a malformed stream.
func relocate(stream []byte, image []byte) error {
	r := bytes.NewReader(stream)

	var initial int32
	if err := binary.Read(r, binary.BigEndian, &initial); err != nil {
		// No relocation information at all is not an error.
		return nil
	}

	offset := uint32(initial)
	if offset == 0 {
		return nil
	}

	relocateLongAt(image, offset)

	for {
		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("minixcompat: truncated relocation stream: %w", err)
		}
		switch {
		case b == 0x00:
			return nil
		case b == 0x01:
			offset += 254
		case b&0x01 == 0x00:
			offset += uint32(b)
			relocateLongAt(image, offset)
		default:
			return ErrNotExecutable
		}
	}
}

func relocateLongAt(image []byte, offset uint32) {
	if uint64(offset)+4 > uint64(len(image)) {
		return
	}
	v := binary.BigEndian.Uint32(image[offset : offset+4])
	binary.BigEndian.PutUint32(image[offset:offset+4], v+ExecutableBase)
}
