// supervisor.go - the single-threaded state-machine loop that drives the
// CPU adapter between quanta and delivers latched host signals.
//
// Generalized from M68KRunner (cpu_m68k_runner.go): Reset,
// Execute, IsRunning become Ready, Running, Finished, but collapsed from an
// async goroutine-plus-channel runner into a synchronous loop, since system
// calls and signal delivery must be totally ordered with guest execution.
// Host signal latching follows MINIXCompat_Processes.c's design: the host
// handler only records a signal number; all real work happens here, at a
// quantum boundary.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// ErrToolNotFound is wrapped into Launch's error when the requested tool
// does not exist, letting main.go tell a missing-tool usage error (exit 64)
// apart from any other host failure (exit 71).
var ErrToolNotFound = errors.New("minixcompat: tool not found")

// QuantumCycles is how many 68000 cycles the supervisor runs the CPU for
// before checking for a pending signal.
const QuantumCycles = 10000

// Supervisor owns the CPU, the dispatcher, and the channel relaying host
// signals into the process table's single pending-signal slot.
type Supervisor struct {
	cpu    *CPUAdapter
	disp   *Dispatcher
	proc   *ProcessTable
	mem    *GuestMemory
	logger *log.Logger

	hostSignals chan os.Signal
}

// NewSupervisor wires the loop together and starts relaying the host
// signals named in hostSignalForMinix into proc's latch.
func NewSupervisor(cpu *CPUAdapter, disp *Dispatcher, proc *ProcessTable, mem *GuestMemory, logger *log.Logger) *Supervisor {
	s := &Supervisor{cpu: cpu, disp: disp, proc: proc, mem: mem, logger: logger}

	watched := make([]os.Signal, 0, len(hostSignalForMinix))
	for _, hs := range hostSignalForMinix {
		watched = append(watched, unix.Signal(hs))
	}
	s.hostSignals = make(chan os.Signal, 4)
	signal.Notify(s.hostSignals, watched...)

	go func() {
		for sig := range s.hostSignals {
			s.latchHostSignal(sig)
		}
	}()

	cpu.SetDispatcher(disp.Dispatch)
	return s
}

func (s *Supervisor) latchHostSignal(sig os.Signal) {
	ss, ok := sig.(unix.Signal)
	if !ok {
		return
	}
	s.proc.LatchSignal(int32(ss))
}

// Launch stages the tool named by toolPath as the process's initial image:
// load it, build the argv/envp frame from argv/env (argv here already
// excludes the tool path itself, matching MINIXCompat_Processes_LoadTool's
// "skip argv[0]" contract), write the reset vectors, and move to Ready.
func (s *Supervisor) Launch(toolPath string, argv []string, env []string) error {
	if _, err := os.Stat(toolPath); err != nil {
		return fmt.Errorf("minixcompat: tool not found: %s: %w", toolPath, ErrToolNotFound)
	}

	f, err := os.Open(toolPath)
	if err != nil {
		return fmt.Errorf("minixcompat: opening %s: %w", toolPath, err)
	}
	defer f.Close()

	exe, err := LoadExecutable(f)
	if err != nil {
		return fmt.Errorf("minixcompat: loading %s: %w", toolPath, err)
	}

	if err := s.mem.CopyFromHost(ExecutableBase, exe.Image); err != nil {
		return fmt.Errorf("minixcompat: staging executable image: %w", err)
	}
	if err := BuildArgvEnvpFrame(s.mem, argv, env); err != nil {
		return fmt.Errorf("minixcompat: building argv/envp frame: %w", err)
	}
	if err := s.mem.Write32(ResetVectorBase, StackBase); err != nil {
		return err
	}
	if err := s.mem.Write32(ResetVectorBase+4, ExecutableBase); err != nil {
		return err
	}

	s.disp.brk = ExecutableBase + uint32(len(exe.Image))
	s.disp.SetState(StateReady)
	return nil
}

// Run drives Ready->Running->{Ready,Finished} until the process finishes,
// returning the stored exit status.
func (s *Supervisor) Run() int16 {
	for {
		state, status := s.disp.State()
		switch state {
		case StateReady:
			s.cpu.Reset()
			s.disp.SetState(StateRunning)

		case StateRunning:
			s.cpu.Run(QuantumCycles)
			if st, _ := s.disp.State(); st != StateRunning {
				continue
			}
			s.deliverPendingSignal()

		case StateFinished:
			signal.Stop(s.hostSignals)
			return status

		default:
			panic(fmt.Sprintf("minixcompat: invalid execution state %d", state))
		}
	}
}

// deliverPendingSignal applies the single latched host signal, if any, to
// the guest: the installed handler's address, SIG_IGN, or SIG_DFL.
func (s *Supervisor) deliverPendingSignal() {
	hostSig := s.proc.TakePendingSignal()
	if hostSig == 0 {
		return
	}
	guestSig, handler, ok := s.proc.HandlerFor(hostSig)
	if !ok {
		return
	}

	switch handler {
	case SigIGN:
		return
	case SigDFL:
		s.logger.Debug("default action for signal", "signal", guestSig)
		// Shell convention for death-by-signal, since this exit status is
		// the host process's own return code, not a MINIX wait-status word.
		s.disp.exitStatus = 128 + guestSig
		s.disp.SetState(StateFinished)
	case SigERR:
		return
	default:
		s.vectorToHandler(guestSig, handler)
	}
}

// vectorToHandler synthesizes a minimal call frame: push the resume PC,
// pass the guest signal number in D0, and jump to the handler. There is no
// return trampoline back into the interrupted instruction stream beyond
// what the guest handler itself does with the pushed address.
func (s *Supervisor) vectorToHandler(guestSig int16, handler uint32) {
	sp := s.cpu.GetReg(RegA7)
	sp -= 4
	if err := s.mem.Write32(sp, s.cpu.GetReg(RegPC)); err != nil {
		return
	}
	s.cpu.SetReg(RegA7, sp)
	s.cpu.SetReg(RegD0, uint32(uint16(guestSig)))
	s.cpu.SetReg(RegPC, handler)
}
