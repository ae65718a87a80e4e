// process.go - guest process identity, fork/wait, signals, and exec entry
// points.
//
// Grounded field-for-field on
// original_source/MINIXCompat/MINIXCompat_Processes.c: the host/guest PID
// mapping table and its growth-by-half reallocation, the fork algorithm's
// slot reservation and three-way table rewrite, the wait-status encoding
// (including its high-byte-shift quirk for the signaled case, kept
// bug-compatible), the fixed signal-number table, and the argv/envp "prix
// fixe" stack frame layout all come from there. Host signal delivery uses
// this module's latch-and-poll design (MINIXCompat_Processes_HandlePendingSignals)
// but is driven from the supervisor's quantum boundary instead of a
// free-running host signal handler directly touching emulator state.

package main

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MinixPID is a MINIX-side process ID.
type MinixPID int16

// processEntry maps one MINIX PID to its host PID. A zero HostPID marks an
// unused table slot.
type processEntry struct {
	HostPID int
	MinixPID MinixPID
}

// ProcessTable owns the PID mapping, self identity, and signal state for
// one guest process.
type ProcessTable struct {
	entries []processEntry
	nextPID MinixPID

	selfPID  MinixPID
	selfPPID MinixPID

	signalHandlers [16]uint32
	pendingSignal  atomic.Int32 // host signal number latched by LatchSignal, or 0; a newer signal overwrites one not yet taken
}

// MINIX signal handler sentinels (guest addresses, by convention).
const (
	SigDFL uint32 = 0x00000000
	SigIGN uint32 = 0x00000001
	SigERR uint32 = 0xFFFFFFFF
)

// Guest signal numbers, 1..16.
const (
	SigHUP int16 = iota + 1
	SigINT
	SigQUIT
	SigILL
	SigTRAP
	SigABRT
	SigUnused
	SigFPE
	SigKILL
	SigUSR1
	SigSEGV
	SigUSR2
	SigPIPE
	SigALRM
	SigTERM
	SigSTKFLT
)

var hostSignalForMinix = map[int16]unix.Signal{
	SigHUP:    unix.SIGHUP,
	SigINT:    unix.SIGINT,
	SigQUIT:   unix.SIGQUIT,
	SigILL:    unix.SIGILL,
	SigTRAP:   unix.SIGTRAP,
	SigABRT:   unix.SIGABRT,
	SigUnused: unix.SIGSYS, // stand-in for the unused slot; should never fire
	SigFPE:    unix.SIGFPE,
	SigKILL:   unix.SIGKILL,
	SigUSR1:   unix.SIGUSR1,
	SigSEGV:   unix.SIGSEGV,
	SigUSR2:   unix.SIGUSR2,
	SigPIPE:   unix.SIGPIPE,
	SigALRM:   unix.SIGALRM,
	SigTERM:   unix.SIGTERM,
	SigSTKFLT: unix.SIGXCPU, // no host analogue; pick an unlikely signal
}

// NewProcessTable sets up the table the way a freshly launched guest
// process sees the world: itself at slot 0 with the real host pid, an
// assumed parent shell at slot 1, and MINIX pids starting at 7/6 to mimic
// the init->sh->getty->login->sh->tool chain a real MINIX boot would have
// produced.
func NewProcessTable() *ProcessTable {
	const initialSize = 32
	pt := &ProcessTable{entries: make([]processEntry, initialSize)}

	const pseudoParent MinixPID = 6
	const ourselves MinixPID = 7

	pt.entries[0] = processEntry{HostPID: os.Getpid(), MinixPID: ourselves}
	pt.entries[1] = processEntry{HostPID: os.Getppid(), MinixPID: pseudoParent}
	pt.nextPID = 8

	return pt
}

func (pt *ProcessTable) minixForHost(hostPID int) (MinixPID, bool) {
	for _, e := range pt.entries {
		if e.HostPID == hostPID {
			return e.MinixPID, true
		}
	}
	return 0, false
}

func (pt *ProcessTable) hostForMinix(minixPID MinixPID) (int, bool) {
	for _, e := range pt.entries {
		if e.MinixPID == minixPID {
			return e.HostPID, true
		}
	}
	return 0, false
}

func (pt *ProcessTable) nextFreeEntry() int {
	for i := 2; i < len(pt.entries); i++ {
		if pt.entries[i].HostPID == 0 {
			return i
		}
	}
	oldSize := len(pt.entries)
	grown := make([]processEntry, oldSize+oldSize/2)
	copy(grown, pt.entries)
	pt.entries = grown
	return oldSize
}

// ProcessIDs returns the cached (self, parent) pair, computing it from
// table slots 0 and 1 on first call.
func (pt *ProcessTable) ProcessIDs() (self, parent MinixPID) {
	if pt.selfPID == 0 && pt.selfPPID == 0 {
		pt.selfPID = pt.entries[0].MinixPID
		pt.selfPPID = pt.entries[1].MinixPID
	}
	return pt.selfPID, pt.selfPPID
}

// ForkResult distinguishes which side of a fork this process is on.
type ForkResult struct {
	IsChild  bool
	ChildPID MinixPID // valid in the parent
}

// Fork reserves a table slot and the next guest PID before calling the
// host fork, so both resulting processes agree on the allocation. In the
// child, the table is rewritten three ways: reserved := old-parent(slot1),
// slot1 := old-self(slot0), slot0 := (new host pid, new minix pid), so the
// old self becomes the new parent.
func (pt *ProcessTable) Fork() (ForkResult, error) {
	reserved := pt.nextFreeEntry()
	childPID := pt.nextPID
	pt.nextPID++

	hostPID, err := unix.Fork()
	if err != nil {
		pt.nextPID--
		return ForkResult{}, err
	}

	if hostPID != 0 {
		// Parent.
		pt.entries[reserved] = processEntry{HostPID: hostPID, MinixPID: childPID}
		return ForkResult{IsChild: false, ChildPID: childPID}, nil
	}

	// Child.
	pt.entries[reserved] = pt.entries[1]
	pt.entries[1] = pt.entries[0]
	pt.entries[0] = processEntry{HostPID: os.Getpid(), MinixPID: childPID}
	return ForkResult{IsChild: true}, nil
}

// minixWaitStatus encodes a host wait status as the MINIX 16-bit status
// word that Wait returns.
func minixWaitStatus(hostStatus unix.WaitStatus) int16 {
	switch {
	case hostStatus.Exited():
		return int16(hostStatus.ExitStatus()) << 8
	case hostStatus.Stopped():
		return int16(hostStatus.StopSignal())<<8 | 0o177
	case hostStatus.Signaled():
		// The original source shifts the terminating signal into the high
		// byte, not the low byte a literal MSB==0 reading would suggest;
		// this is kept bug-compatible with that behavior.
		return int16(hostStatus.Signal()) << 8
	default:
		return 0x0009
	}
}

// Wait waits for any child, translates the host wait status to MINIX
// encoding, and maps the reaped host pid back to its MINIX pid.
func (pt *ProcessTable) Wait() (MinixPID, int16, error) {
	var hostStatus unix.WaitStatus
	hostPID, err := unix.Wait4(-1, &hostStatus, 0, nil)
	if err != nil {
		return 0, 0, err
	}
	minixPID, _ := pt.minixForHost(hostPID)
	return minixPID, minixWaitStatus(hostStatus), nil
}

// Signal records handler for sig in the table and returns the previous
// value. Actual host signal.Notify registration against hostSignalForMinix
// is done once, at world construction, by the caller that owns the
// os/signal channel feeding LatchSignal; this method only updates the
// table MM/FS sees when the guest queries or re-installs a handler.
func (pt *ProcessTable) Signal(sig int16, handler uint32) uint32 {
	old := pt.signalHandlers[sig-1]
	pt.signalHandlers[sig-1] = handler
	return old
}

// LatchSignal records that hostSig arrived, for the supervisor to collect
// at the next quantum boundary. It runs on the os/signal delivery
// goroutine, so the slot is a single atomic word rather than plain
// memory; only the most recently latched signal survives if several
// arrive within one quantum.
func (pt *ProcessTable) LatchSignal(hostSig int32) {
	pt.pendingSignal.Store(hostSig)
}

// TakePendingSignal returns and clears the latched signal, or 0 if none is
// pending.
func (pt *ProcessTable) TakePendingSignal() int32 {
	return pt.pendingSignal.Swap(0)
}

// HandlerFor returns the guest-registered handler for the given host
// signal, for the supervisor to dispatch it to the right table entry.
func (pt *ProcessTable) HandlerFor(hostSig int32) (guestSig int16, handler uint32, ok bool) {
	for sig, hs := range hostSignalForMinix {
		if int32(hs) == hostSig {
			return sig, pt.signalHandlers[sig-1], true
		}
	}
	return 0, 0, false
}

// Kill sends sig to minixPID, translating both to their host equivalents.
func (pt *ProcessTable) Kill(minixPID MinixPID, sig int16) error {
	hostSig, ok := hostSignalForMinix[sig]
	if !ok {
		return unix.EINVAL
	}
	hostPID, ok := pt.hostForMinix(minixPID)
	if !ok || hostPID <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(hostPID, hostSig)
}

func round4(n uint32) uint32 {
	if n%4 == 0 {
		return n
	}
	return n + (4 - n%4)
}

// BuildArgvEnvpFrame lays out argc/argv/envp and their string content at
// StackBase exactly as the "prix fixe" stack the original source builds:
// argc, then argc guest-address slots, a NUL slot, then one guest-address
// slot per exported MINIX_-prefixed environment variable (prefix
// stripped), then a final NUL slot, followed by the packed,
// NUL-terminated, 4-byte-aligned string content itself.
func BuildArgvEnvpFrame(mem *GuestMemory, argv []string, env []string) error {
	var minixEnv []string
	for _, kv := range env {
		if strings.HasPrefix(kv, "MINIX_") {
			minixEnv = append(minixEnv, kv[len("MINIX_"):])
		}
	}

	headerCount := uint32(1 + (len(argv) + 1) + (len(minixEnv) + 1))
	headerSize := headerCount * 4

	var contentSize uint32
	for _, s := range argv {
		contentSize += round4(uint32(len(s) + 1))
	}
	for _, s := range minixEnv {
		contentSize += round4(uint32(len(s) + 1))
	}

	if StackBase+headerSize+contentSize > GuestMemorySize {
		return fmt.Errorf("minixcompat: argv/envp frame too large for guest stack")
	}

	addr := StackBase
	if err := mem.Write32(addr, uint32(len(argv))); err != nil {
		return err
	}
	addr += 4

	contentAddr := StackBase + headerSize
	writeOne := func(s string) error {
		if err := mem.Write32(addr, contentAddr); err != nil {
			return err
		}
		addr += 4
		if err := mem.CopyFromHost(contentAddr, append([]byte(s), 0)); err != nil {
			return err
		}
		contentAddr += round4(uint32(len(s) + 1))
		return nil
	}

	for _, s := range argv {
		if err := writeOne(s); err != nil {
			return err
		}
	}
	if err := mem.Write32(addr, 0); err != nil {
		return err
	}
	addr += 4

	for _, s := range minixEnv {
		if err := writeOne(s); err != nil {
			return err
		}
	}
	return mem.Write32(addr, 0)
}
