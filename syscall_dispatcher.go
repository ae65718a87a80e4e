// syscall_dispatcher.go - translates TRAP #0 invocations into MM/FS calls
// against the filesystem and process layers.
//
// Grounded on original_source/MINIXCompat/MINIXCompat_SysCalls.c's handler
// table: one function per syscall number, registered by message type, each
// following the same pick-layout/read-fields/call-subsystem/clear/
// set-reply-fields/swap pattern. The entry contract
// (func, src_dest, msg_addr) -> (dispatch_result, d0_value) and the per-call
// request/reply layouts come from the same source file plus
// MINIXCompat_SysCalls.h's syscall numbering.

package main

import (
	"encoding/binary"
	"os"

	"github.com/charmbracelet/log"
)

// Destinations a TRAP #0 call may target.
const (
	destMM uint16 = 0
	destFS uint16 = 1
)

// Syscall numbers this dispatcher implements, named the way
// MINIXCompat_SysCalls.h names them.
const (
	sysExit   int16 = 1
	sysFork   int16 = 2
	sysRead   int16 = 3
	sysWrite  int16 = 4
	sysOpen   int16 = 5
	sysClose  int16 = 6
	sysWait   int16 = 7
	sysCreat  int16 = 8
	sysUnlink int16 = 10
	sysTime   int16 = 13
	sysBrk    int16 = 17
	sysStat   int16 = 18
	sysLseek  int16 = 19
	sysGetpid int16 = 20
	sysGetuid int16 = 24
	sysFstat  int16 = 28
	sysAccess int16 = 33
	sysKill   int16 = 37
	sysGetgid int16 = 47
	sysSignal int16 = 48
	sysExece  int16 = 59
)

// Constant identity the guest sees for every call that reports uid/gid,
// matching the "ast:adm effective root" fiction the table calls for.
const (
	guestUID  int16 = 8
	guestEUID int16 = 0
	guestGID  int16 = 3
	guestEGID int16 = 0
)

// ExecutionState is the supervisor's state machine value, mutated here only
// by exit and exece.
type ExecutionState int

const (
	StateStarted ExecutionState = iota
	StateReady
	StateRunning
	StateFinished
)

// Dispatcher is the only component on the syscall path that touches guest
// memory directly; the filesystem and process-table calls it makes only ever
// see host values. (Outside syscalls, the supervisor also writes guest
// memory when staging an image or vectoring a signal.)
type Dispatcher struct {
	mem    *GuestMemory
	fs     *Filesystem
	proc   *ProcessTable
	clock  func() int64
	logger *log.Logger

	state      ExecutionState
	exitStatus int16
	brk        uint32
}

// NewDispatcher wires a dispatcher to the subsystems it serves. clock
// returns the host time in Unix seconds; it is a parameter rather than a
// direct time.Now() call so tests can supply a fixed value. logger's level
// decides whether the per-syscall and unimplemented-call diagnostics print.
func NewDispatcher(mem *GuestMemory, fs *Filesystem, proc *ProcessTable, clock func() int64, logger *log.Logger) *Dispatcher {
	return &Dispatcher{mem: mem, fs: fs, proc: proc, clock: clock, logger: logger, brk: ExecutableBase}
}

// State returns the current execution state and, once Finished, the stored
// exit status.
func (d *Dispatcher) State() (ExecutionState, int16) {
	return d.state, d.exitStatus
}

// SetState lets the supervisor drive Started->Ready and Ready->Running
// transitions, and Running->Finished when a latched signal takes its
// default action; exit's Running->Finished and the exec Running->Ready
// detour are driven from inside Dispatch itself. No transition is checked
// here.
func (d *Dispatcher) SetState(s ExecutionState) {
	d.state = s
}

type syscallHandler func(d *Dispatcher, raw []byte) (DispatchResult, uint32)

var syscallTable = map[int16]syscallHandler{
	sysExit:   (*Dispatcher).doExit,
	sysFork:   (*Dispatcher).doFork,
	sysRead:   (*Dispatcher).doRead,
	sysWrite:  (*Dispatcher).doWrite,
	sysOpen:   (*Dispatcher).doOpen,
	sysClose:  (*Dispatcher).doClose,
	sysWait:   (*Dispatcher).doWait,
	sysCreat:  (*Dispatcher).doCreat,
	sysUnlink: (*Dispatcher).doUnlink,
	sysTime:   (*Dispatcher).doTime,
	sysBrk:    (*Dispatcher).doBrk,
	sysStat:   (*Dispatcher).doStat,
	sysLseek:  (*Dispatcher).doLseek,
	sysGetpid: (*Dispatcher).doGetpid,
	sysGetuid: (*Dispatcher).doGetuid,
	sysFstat:  (*Dispatcher).doFstat,
	sysAccess: (*Dispatcher).doAccess,
	sysKill:   (*Dispatcher).doKill,
	sysGetgid: (*Dispatcher).doGetgid,
	sysSignal: (*Dispatcher).doSignal,
	sysExece:  (*Dispatcher).doExece,
}

// Dispatch implements DispatchFunc: it reads the message once, looks up the
// handler by the request's (big-endian) type field, runs it, and writes the
// reply back for send+receive calls.
func (d *Dispatcher) Dispatch(fn uint16, srcDest uint16, msgAddr uint32) (DispatchResult, uint32) {
	if fn != 1 && fn != 3 {
		// func=2 (receive-only) is not implemented; see the IPC open
		// question this carries forward.
		return DispatchFailure, 0xFFFFFFFF
	}
	if srcDest != destMM && srcDest != destFS {
		d.logger.Debug("syscall to unknown destination", "src_dest", srcDest)
		return DispatchFailure, 0xFFFFFFFF
	}

	raw, err := ReadMessage(d.mem, msgAddr)
	if err != nil {
		return DispatchFailure, 0xFFFFFFFF
	}

	_, mtype := decodeHeader(raw[:])
	handler, ok := syscallTable[mtype]
	if !ok {
		d.logger.Debug("unimplemented syscall", "number", mtype)
		return DispatchFailure, 0xFFFFFFFF
	}

	d.logger.Debug("dispatching syscall", "number", mtype, "src_dest", srcDest)
	result, d0 := handler(d, raw[:])

	if fn == 3 {
		if err := WriteMessage(d.mem, msgAddr, raw); err != nil {
			return DispatchFailure, 0xFFFFFFFF
		}
	}
	return result, d0
}

func replyErrno(raw []byte, m MinixErrno) {
	msg := SwapMess1(raw)
	msg.Type = -int16(m)
	EncodeMess1(msg, raw)
}

// readPath copies a path buffer out of guest memory. The guest-side length
// includes any trailing '\0' the name was given with; that byte is trimmed
// here since the host syscalls this feeds (Open/Creat/Unlink/Access/Stat/
// Exece) build their C strings via BytePtrFromString, which rejects any
// embedded NUL, trailing included.
func (d *Dispatcher) readPath(addr uint32, length int16) (string, error) {
	if length <= 0 {
		return "", nil
	}
	buf, err := d.mem.CopyToHost(addr, uint32(length))
	if err != nil {
		return "", err
	}
	if n := len(buf); n > 0 && buf[n-1] == 0 {
		buf = buf[:n-1]
	}
	return string(buf), nil
}

func (d *Dispatcher) doExit(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	d.exitStatus = msg.M1.I1
	d.state = StateFinished
	return DispatchEmpty, 0
}

func (d *Dispatcher) doFork(raw []byte) (DispatchResult, uint32) {
	result, err := d.proc.Fork()
	reply := Message{}
	if err != nil {
		reply.Type = -int16(MinixErrnoForHostError(err))
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}
	if result.IsChild {
		reply.Type = 0
	} else {
		reply.Type = int16(result.ChildPID)
	}
	EncodeMess2(reply, raw)
	return DispatchSuccess, uint32(reply.Type)
}

func (d *Dispatcher) doRead(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	fd, n, bufAddr := msg.M1.I1, msg.M1.I2, msg.M1.P1
	buf := make([]byte, n)
	count, err := d.fs.Read(int16(fd), buf)
	if err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	if err := d.mem.CopyFromHost(bufAddr, buf[:count]); err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	reply := SwapMess1(raw)
	reply.Type = int16(count)
	EncodeMess1(reply, raw)
	return DispatchSuccess, uint32(count)
}

func (d *Dispatcher) doWrite(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	fd, n, bufAddr := msg.M1.I1, msg.M1.I2, msg.M1.P1
	buf, err := d.mem.CopyToHost(bufAddr, uint32(n))
	if err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	count, err := d.fs.Write(int16(fd), buf)
	if err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	reply := SwapMess1(raw)
	reply.Type = int16(count)
	EncodeMess1(reply, raw)
	return DispatchSuccess, uint32(count)
}

func (d *Dispatcher) doOpen(raw []byte) (DispatchResult, uint32) {
	// The request's flags word lives at the same offset in both mess1 and
	// mess3, so peek at it before committing to a layout.
	flags := int16(binary.BigEndian.Uint16(raw[4+2 : 4+4]))

	var length, mode int16
	var nameAddr uint32
	if uint16(flags)&MinixOCreat != 0 {
		msg := SwapMess1(raw)
		length, mode, nameAddr = msg.M1.I1, msg.M1.I3, msg.M1.P1
	} else {
		msg := SwapMess3(raw)
		length, nameAddr = msg.M3.I1, msg.M3.P1
	}

	path, err := d.readPath(nameAddr, length)
	if err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	fd, err := d.fs.Open(path, uint16(flags), uint16(mode))
	if err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	reply := Message{Type: fd}
	EncodeMess1(reply, raw)
	return DispatchSuccess, uint32(uint16(fd))
}

func (d *Dispatcher) doClose(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	if err := d.fs.Close(msg.M1.I1); err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	EncodeMess1(Message{Type: 0}, raw)
	return DispatchEmpty, 0
}

func (d *Dispatcher) doWait(raw []byte) (DispatchResult, uint32) {
	pid, status, err := d.proc.Wait()
	if err != nil {
		reply := Message{Type: -int16(MinixErrnoForHostError(err))}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}
	reply := Message{Type: int16(pid)}
	reply.M2.I1 = status
	EncodeMess2(reply, raw)
	return DispatchSuccess, uint32(uint16(pid))
}

func (d *Dispatcher) doCreat(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess3(raw)
	path, err := d.readPath(msg.M3.P1, msg.M3.I1)
	if err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	fd, err := d.fs.Create(path, uint16(msg.M3.I2))
	if err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	EncodeMess1(Message{Type: fd}, raw)
	return DispatchSuccess, uint32(uint16(fd))
}

func (d *Dispatcher) doUnlink(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess3(raw)
	path, err := d.readPath(msg.M3.P1, msg.M3.I1)
	if err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	if err := d.fs.Unlink(path); err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	EncodeMess1(Message{Type: 0}, raw)
	return DispatchEmpty, 0
}

func (d *Dispatcher) doTime(raw []byte) (DispatchResult, uint32) {
	secs := d.clock()
	reply := Message{Type: 0}
	reply.M2.L1 = int32(secs)
	EncodeMess2(reply, raw)
	return DispatchSuccess, uint32(secs)
}

func (d *Dispatcher) doBrk(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	requested := msg.M1.P1
	if requested < d.brk || requested >= ExecutableLimit {
		reply := Message{Type: -int16(MinixENOMEM)}
		reply.M2.P1 = 0xFFFFFFFF
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}
	d.brk = requested
	reply := Message{Type: 0}
	reply.M2.P1 = d.brk
	EncodeMess2(reply, raw)
	return DispatchSuccess, d.brk
}

func (d *Dispatcher) writeStat(addr uint32, st MinixStat) error {
	var buf [30]byte
	binary.BigEndian.PutUint16(buf[0:2], st.Dev)
	binary.BigEndian.PutUint16(buf[2:4], st.Ino)
	binary.BigEndian.PutUint16(buf[4:6], st.Mode)
	binary.BigEndian.PutUint16(buf[6:8], uint16(st.Nlink))
	binary.BigEndian.PutUint16(buf[8:10], uint16(st.Uid))
	binary.BigEndian.PutUint16(buf[10:12], uint16(st.Gid))
	binary.BigEndian.PutUint16(buf[12:14], st.Rdev)
	binary.BigEndian.PutUint32(buf[14:18], uint32(st.Size))
	binary.BigEndian.PutUint32(buf[18:22], uint32(st.Atime))
	binary.BigEndian.PutUint32(buf[22:26], uint32(st.Mtime))
	binary.BigEndian.PutUint32(buf[26:30], uint32(st.Ctime))
	return d.mem.CopyFromHost(addr, buf[:])
}

func (d *Dispatcher) doStat(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	path, err := d.readPath(msg.M1.P1, msg.M1.I1)
	if err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	st, err := d.fs.Stat(path)
	if err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	if err := d.writeStat(msg.M1.P2, st); err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	EncodeMess1(Message{Type: 0}, raw)
	return DispatchEmpty, 0
}

func (d *Dispatcher) doLseek(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess2(raw)
	offset, err := d.fs.Seek(msg.M2.I1, msg.M2.L1, msg.M2.I2)
	if err != nil {
		reply := Message{Type: -int16(MinixErrnoForHostError(err))}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}
	reply := Message{Type: int16(offset)}
	reply.M2.L1 = offset
	EncodeMess2(reply, raw)
	return DispatchSuccess, uint32(offset)
}

func (d *Dispatcher) doGetpid(raw []byte) (DispatchResult, uint32) {
	self, parent := d.proc.ProcessIDs()
	reply := Message{Type: int16(self)}
	reply.M1.I1 = int16(parent)
	EncodeMess1(reply, raw)
	return DispatchSuccess, uint32(uint16(self))
}

func (d *Dispatcher) doGetuid(raw []byte) (DispatchResult, uint32) {
	reply := Message{Type: guestUID}
	reply.M2.I1 = guestEUID
	EncodeMess2(reply, raw)
	return DispatchSuccess, uint32(guestUID)
}

func (d *Dispatcher) doGetgid(raw []byte) (DispatchResult, uint32) {
	reply := Message{Type: guestGID}
	reply.M2.I1 = guestEGID
	EncodeMess2(reply, raw)
	return DispatchSuccess, uint32(guestGID)
}

func (d *Dispatcher) doFstat(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	st, err := d.fs.FStat(msg.M1.I1)
	if err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	if err := d.writeStat(msg.M1.P1, st); err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	EncodeMess1(Message{Type: 0}, raw)
	return DispatchEmpty, 0
}

func (d *Dispatcher) doAccess(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess3(raw)
	path, err := d.readPath(msg.M3.P1, msg.M3.I1)
	if err != nil {
		replyErrno(raw, MinixEFAULT)
		return DispatchFailure, 0xFFFFFFFF
	}
	if err := d.fs.Access(path, uint16(msg.M3.I2)); err != nil {
		replyErrno(raw, MinixErrnoForHostError(err))
		return DispatchFailure, 0xFFFFFFFF
	}
	EncodeMess1(Message{Type: 0}, raw)
	return DispatchEmpty, 0
}

func (d *Dispatcher) doKill(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	pid, sig := MinixPID(msg.M1.I1), msg.M1.I2
	if err := d.proc.Kill(pid, sig); err != nil {
		reply := Message{Type: -int16(MinixErrnoForHostError(err))}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}
	EncodeMess2(Message{Type: 0}, raw)
	return DispatchEmpty, 0
}

func (d *Dispatcher) doSignal(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess6(raw)
	old := d.proc.Signal(msg.M6.I1, msg.M6.F1)
	EncodeMess2(Message{Type: 0}, raw)
	return DispatchSuccess, old
}

// doExece loads the new image in place and stages the guest-provided stack
// snapshot, transitioning Running straight back to Ready rather than
// replying in the usual sense: MINIXCompat_Processes_ExecuteWithStackBlock
// never returns to the caller on success, so there is no reply message on
// the happy path, only on failure.
func (d *Dispatcher) doExece(raw []byte) (DispatchResult, uint32) {
	msg := SwapMess1(raw)
	pathLen, stackSize, pathAddr, stackAddr := msg.M1.I1, msg.M1.I2, msg.M1.P1, msg.M1.P2

	path, err := d.readPath(pathAddr, pathLen)
	if err != nil {
		reply := Message{Type: -int16(MinixEFAULT)}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}

	hostPath := d.fs.HostPathForPath(path)
	f, err := openHostFile(hostPath)
	if err != nil {
		reply := Message{Type: -int16(MinixErrnoForHostError(err))}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}
	defer f.Close()

	exe, err := LoadExecutable(f)
	if err != nil {
		reply := Message{Type: -int16(MinixENOEXEC)}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}

	if err := d.mem.CopyFromHost(ExecutableBase, exe.Image); err != nil {
		reply := Message{Type: -int16(MinixENOMEM)}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}

	if err := d.relocateGuestStack(stackAddr, stackSize); err != nil {
		reply := Message{Type: -int16(MinixEFAULT)}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}

	if err := d.mem.Write32(ResetVectorBase, StackBase); err != nil {
		reply := Message{Type: -int16(MinixENOMEM)}
		EncodeMess2(reply, raw)
		return DispatchFailure, 0xFFFFFFFF
	}
	_ = d.mem.Write32(ResetVectorBase+4, ExecutableBase)

	d.brk = ExecutableBase + uint32(len(exe.Image))
	d.state = StateReady
	return DispatchEmpty, 0
}

// relocateGuestStack copies the guest's own pre-built stack snapshot from
// stackAddr to StackBase, 32-bit word by word. The snapshot was assembled
// by guest-side libc code running on a nominally little-endian model, so
// each word is byte-swapped before the relocation constant is added;
// see the open question this carries forward for why the source's wording
// ("little-endian-of-big-endian dump") is honored literally here rather
// than reinterpreted.
func (d *Dispatcher) relocateGuestStack(stackAddr uint32, stackSize int16) error {
	if stackSize <= 0 {
		return nil
	}
	raw, err := d.mem.CopyToHost(stackAddr, uint32(stackSize))
	if err != nil {
		return err
	}
	for i := 0; i+4 <= len(raw); i += 4 {
		word := binary.LittleEndian.Uint32(raw[i : i+4])
		word += StackBase
		if err := d.mem.Write32(StackBase+uint32(i), word); err != nil {
			return err
		}
	}
	return nil
}

func openHostFile(hostPath string) (*os.File, error) {
	return os.Open(hostPath)
}
