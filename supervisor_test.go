package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	l := log.New(os.Stderr)
	l.SetLevel(log.ErrorLevel)
	return l
}

func newTestSupervisor(t *testing.T) (*Supervisor, *Dispatcher, *GuestMemory, *CPUAdapter) {
	t.Helper()
	mem := NewGuestMemory()
	fs, err := NewFilesystem(t.TempDir(), "/")
	require.NoError(t, err)
	proc := NewProcessTable()
	cpu := NewCPUAdapter(NewM68KCore(), mem)
	logger := testLogger()
	disp := NewDispatcher(mem, fs, proc, func() int64 { return 1000 }, logger)
	sup := NewSupervisor(cpu, disp, proc, mem, logger)
	t.Cleanup(func() { disp.SetState(StateFinished); sup.Run() })
	return sup, disp, mem, cpu
}

func writeValidTool(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tool")
	body := make([]byte, 8)
	var buf bytes.Buffer
	header := []uint32{execMagicCombined, execFlags, 0, uint32(len(body)), 0, execNoEntry, uint32(len(body)), 0}
	for _, w := range header {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, w))
	}
	buf.Write(body)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o755))
	return path
}

func TestSupervisorLaunchMissingToolWrapsErrToolNotFound(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	err := sup.Launch(filepath.Join(t.TempDir(), "nope"), nil, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrToolNotFound))
}

func TestSupervisorLaunchValidToolSetsReadyState(t *testing.T) {
	sup, disp, mem, _ := newTestSupervisor(t)
	dir := t.TempDir()
	toolPath := writeValidTool(t, dir)

	err := sup.Launch(toolPath, nil, nil)
	require.NoError(t, err)

	state, _ := disp.State()
	require.Equal(t, StateReady, state)

	ssp, err := mem.Read32(ResetVectorBase)
	require.NoError(t, err)
	require.Equal(t, uint32(StackBase), ssp)

	pc, err := mem.Read32(ResetVectorBase + 4)
	require.NoError(t, err)
	require.Equal(t, uint32(ExecutableBase), pc)
}

func TestSupervisorDeliverPendingSignalDefaultAction(t *testing.T) {
	sup, disp, _, _ := newTestSupervisor(t)
	sup.proc.signalHandlers[SigTERM-1] = SigDFL
	sup.proc.LatchSignal(int32(hostSignalForMinix[SigTERM]))

	sup.deliverPendingSignal()

	state, status := disp.State()
	require.Equal(t, StateFinished, state)
	require.Equal(t, int16(128+SigTERM), status)
}

func TestSupervisorDeliverPendingSignalIgnored(t *testing.T) {
	sup, disp, _, _ := newTestSupervisor(t)
	sup.proc.signalHandlers[SigTERM-1] = SigIGN
	sup.proc.LatchSignal(int32(hostSignalForMinix[SigTERM]))

	sup.deliverPendingSignal()

	state, _ := disp.State()
	require.Equal(t, StateStarted, state)
}

func TestSupervisorDeliverPendingSignalVectorsToHandler(t *testing.T) {
	sup, _, mem, cpu := newTestSupervisor(t)
	cpu.SetReg(RegA7, 0x00FF0100)
	cpu.SetReg(RegPC, ExecutableBase)

	const handlerAddr = 0x00002000
	sup.proc.signalHandlers[SigTERM-1] = handlerAddr
	sup.proc.LatchSignal(int32(hostSignalForMinix[SigTERM]))

	sup.deliverPendingSignal()

	require.Equal(t, uint32(handlerAddr), cpu.GetReg(RegPC))
	require.Equal(t, uint32(0x00FF00FC), cpu.GetReg(RegA7))
	require.Equal(t, uint32(SigTERM), cpu.GetReg(RegD0))

	pushed, err := mem.Read32(0x00FF00FC)
	require.NoError(t, err)
	require.Equal(t, uint32(ExecutableBase), pushed)
}

func TestSupervisorDeliverPendingSignalNoneIsNoop(t *testing.T) {
	sup, disp, _, _ := newTestSupervisor(t)
	sup.deliverPendingSignal()
	state, _ := disp.State()
	require.Equal(t, StateStarted, state)
}
