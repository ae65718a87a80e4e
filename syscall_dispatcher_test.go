package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *GuestMemory, *Filesystem, string) {
	t.Helper()
	mem := NewGuestMemory()
	root := t.TempDir()
	fs, err := NewFilesystem(root, "/")
	require.NoError(t, err)
	proc := NewProcessTable()
	disp := NewDispatcher(mem, fs, proc, func() int64 { return 123456789 }, testLogger())
	return disp, mem, fs, root
}

const testMsgAddr = 0x00FE0000 - MessageSize

func putMess1(t *testing.T, mem *GuestMemory, mtype int16, m Mess1) {
	t.Helper()
	var raw [MessageSize]byte
	msg := Message{Type: mtype, M1: m}
	EncodeMess1(msg, raw[:])
	require.NoError(t, WriteMessage(mem, testMsgAddr, raw))
}

func readMess1(t *testing.T, mem *GuestMemory) Message {
	t.Helper()
	raw, err := ReadMessage(mem, testMsgAddr)
	require.NoError(t, err)
	return SwapMess1(raw[:])
}

func putMess3(t *testing.T, mem *GuestMemory, mtype int16, m Mess3) {
	t.Helper()
	var raw [MessageSize]byte
	msg := Message{Type: mtype, M3: m}
	EncodeMess3(msg, raw[:])
	require.NoError(t, WriteMessage(mem, testMsgAddr, raw))
}

// Scenario 1: write "hi\n" to stdout then exit 0.
func TestDispatchWriteAndExit(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)

	payload := []byte("hi\n")
	require.NoError(t, mem.CopyFromHost(0x5000, payload))
	putMess1(t, mem, sysWrite, Mess1{I1: 1, I2: int16(len(payload)), P1: 0x5000})

	result, d0 := disp.Dispatch(3, destFS, testMsgAddr)
	require.Equal(t, DispatchSuccess, result)
	require.Equal(t, uint32(len(payload)), d0)

	putMess1(t, mem, sysExit, Mess1{I1: 0})
	result, _ = disp.Dispatch(1, destMM, testMsgAddr)
	require.Equal(t, DispatchEmpty, result)

	state, status := disp.State()
	require.Equal(t, StateFinished, state)
	require.Equal(t, int16(0), status)
}

// Scenario 2: directory open+read yielding two dirents.
func TestDispatchOpenReadDirectory(t *testing.T) {
	disp, mem, _, root := newTestDispatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b"), nil, 0o644))

	require.NoError(t, mem.CopyFromHost(0x6000, []byte("/")))
	putMess3(t, mem, sysOpen, Mess3{I1: 1, P1: 0x6000})

	result, d0 := disp.Dispatch(3, destFS, testMsgAddr)
	require.Equal(t, DispatchSuccess, result)
	fd := int16(d0)
	require.GreaterOrEqual(t, fd, int16(3))

	putMess1(t, mem, sysRead, Mess1{I1: fd, I2: DirentSize * 2, P1: 0x7000})
	result, d0 = disp.Dispatch(3, destFS, testMsgAddr)
	require.Equal(t, DispatchSuccess, result)
	require.Equal(t, uint32(DirentSize*2), d0)
}

// Scenario 3: brk bounds.
func TestDispatchBrkBounds(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)

	putMess1(t, mem, sysBrk, Mess1{P1: 0x00FE0001})
	result, _ := disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, DispatchFailure, result)
	reply := readMess1(t, mem)
	require.Equal(t, -int16(MinixENOMEM), reply.Type)

	putMess1(t, mem, sysBrk, Mess1{P1: 0x00200000})
	result, d0 := disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, DispatchSuccess, result)
	require.Equal(t, uint32(0x00200000), d0)

	putMess1(t, mem, sysBrk, Mess1{P1: 0x00100000})
	result, _ = disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, DispatchFailure, result)
}

// Scenario 4 (fork/wait) is exercised at the process-table level in
// process_test.go rather than through the dispatcher, since fork/wait here
// ultimately call the real host unix.Fork/Wait4 and are unsafe to invoke
// from a test binary's own process.

// Scenario 5: unknown syscall leaves D0 = 0xFFFFFFFF and mutates no state.
func TestDispatchUnknownSyscall(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)
	const ioctl int16 = 54
	putMess1(t, mem, ioctl, Mess1{})

	stateBefore, statusBefore := disp.State()
	result, d0 := disp.Dispatch(3, destFS, testMsgAddr)
	require.Equal(t, DispatchFailure, result)
	require.Equal(t, uint32(0xFFFFFFFF), d0)

	stateAfter, statusAfter := disp.State()
	require.Equal(t, stateBefore, stateAfter)
	require.Equal(t, statusBefore, statusAfter)
}

func TestDispatchRejectsUnknownDestination(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)
	putMess1(t, mem, sysGetpid, Mess1{})
	result, d0 := disp.Dispatch(3, 99, testMsgAddr)
	require.Equal(t, DispatchFailure, result)
	require.Equal(t, uint32(0xFFFFFFFF), d0)
}

func TestDispatchRejectsReceiveOnlyFunc(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)
	putMess1(t, mem, sysGetpid, Mess1{})
	result, d0 := disp.Dispatch(2, destMM, testMsgAddr)
	require.Equal(t, DispatchFailure, result)
	require.Equal(t, uint32(0xFFFFFFFF), d0)
}

func TestDispatchGetpidGetuidGetgid(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)

	putMess1(t, mem, sysGetpid, Mess1{})
	_, d0 := disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, uint32(7), d0)

	putMess1(t, mem, sysGetuid, Mess1{})
	_, d0 = disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, uint32(guestUID), d0)

	putMess1(t, mem, sysGetgid, Mess1{})
	_, d0 = disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, uint32(guestGID), d0)
}

func TestDispatchStatWritesBuffer(t *testing.T) {
	disp, mem, _, root := newTestDispatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("xyz"), 0o644))

	pathBytes := []byte("/f")
	require.NoError(t, mem.CopyFromHost(0x8000, pathBytes))
	putMess1(t, mem, sysStat, Mess1{I1: int16(len(pathBytes)), P1: 0x8000, P2: 0x9000})

	result, _ := disp.Dispatch(3, destFS, testMsgAddr)
	require.Equal(t, DispatchEmpty, result)

	sizeBuf, err := mem.CopyToHost(0x9000+14, 4)
	require.NoError(t, err)
	size := int32(sizeBuf[0])<<24 | int32(sizeBuf[1])<<16 | int32(sizeBuf[2])<<8 | int32(sizeBuf[3])
	require.Equal(t, int32(3), size)
}

// The guest-side length for a path-taking call includes any trailing '\0'
// the name carries; readPath must strip it, since unix.BytePtrFromString
// rejects any embedded NUL, trailing included.
func TestReadPathTrimsTrailingNUL(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)
	require.NoError(t, mem.CopyFromHost(0x8000, []byte("/f\x00")))

	got, err := disp.readPath(0x8000, 3)
	require.NoError(t, err)
	require.Equal(t, "/f", got)
}

func TestDispatchTimeUsesInjectedClock(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)
	putMess1(t, mem, sysTime, Mess1{})
	_, d0 := disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, uint32(123456789), d0)
}

func TestDispatchSignalReturnsOldHandler(t *testing.T) {
	disp, mem, _, _ := newTestDispatcher(t)

	var raw [MessageSize]byte
	msg := Message{Type: sysSignal}
	msg.M6 = Mess6{I1: int16(SigTERM), F1: 0x1234}
	EncodeMess6(msg, raw[:])
	require.NoError(t, WriteMessage(mem, testMsgAddr, raw))

	result, d0 := disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, DispatchSuccess, result)
	require.Equal(t, uint32(SigDFL), d0)

	// Second call should return the handler just installed.
	EncodeMess6(msg, raw[:])
	require.NoError(t, WriteMessage(mem, testMsgAddr, raw))
	_, d0 = disp.Dispatch(3, destMM, testMsgAddr)
	require.Equal(t, uint32(0x1234), d0)
}
