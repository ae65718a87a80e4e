package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewProcessTableInitialIdentity(t *testing.T) {
	pt := NewProcessTable()
	self, parent := pt.ProcessIDs()
	require.Equal(t, MinixPID(7), self)
	require.Equal(t, MinixPID(6), parent)
}

func TestProcessTableSignalRecordsAndReturnsOld(t *testing.T) {
	pt := NewProcessTable()
	old := pt.Signal(SigTERM, 0x1000)
	require.Equal(t, SigDFL, old)

	old2 := pt.Signal(SigTERM, 0x2000)
	require.Equal(t, uint32(0x1000), old2)
}

func TestProcessTableLatchAndTakePendingSignal(t *testing.T) {
	pt := NewProcessTable()
	require.Equal(t, int32(0), pt.TakePendingSignal())

	pt.LatchSignal(int32(unix.SIGTERM))
	require.Equal(t, int32(unix.SIGTERM), pt.TakePendingSignal())
	// Cleared after Take.
	require.Equal(t, int32(0), pt.TakePendingSignal())
}

func TestProcessTableLatchCoalesces(t *testing.T) {
	pt := NewProcessTable()
	pt.LatchSignal(int32(unix.SIGHUP))
	pt.LatchSignal(int32(unix.SIGTERM))
	require.Equal(t, int32(unix.SIGTERM), pt.TakePendingSignal())
}

func TestProcessTableHandlerForKnownSignal(t *testing.T) {
	pt := NewProcessTable()
	pt.Signal(SigTERM, 0xBEEF)
	guestSig, handler, ok := pt.HandlerFor(int32(unix.SIGTERM))
	require.True(t, ok)
	require.Equal(t, SigTERM, guestSig)
	require.Equal(t, uint32(0xBEEF), handler)
}

func TestProcessTableHandlerForUnknownSignal(t *testing.T) {
	pt := NewProcessTable()
	_, _, ok := pt.HandlerFor(int32(99999))
	require.False(t, ok)
}

func TestMinixWaitStatusExited(t *testing.T) {
	// Simulate exit code 7: WaitStatus low byte is 0, code in the high byte.
	ws := unix.WaitStatus(7 << 8)
	require.True(t, ws.Exited())
	require.Equal(t, int16(7<<8), minixWaitStatus(ws))
}

func TestMinixWaitStatusSignaled(t *testing.T) {
	ws := unix.WaitStatus(int(unix.SIGKILL))
	require.True(t, ws.Signaled())
	got := minixWaitStatus(ws)
	require.Equal(t, int16(int16(unix.SIGKILL)<<8), got)
}

func TestBuildArgvEnvpFrameLayout(t *testing.T) {
	mem := NewGuestMemory()
	argv := []string{"prog", "-x"}
	env := []string{"MINIX_HOME=/usr/ast", "PATH=/bin"}

	require.NoError(t, BuildArgvEnvpFrame(mem, argv, env))

	argc, err := mem.Read32(StackBase)
	require.NoError(t, err)
	require.Equal(t, uint32(2), argc)

	argv0Addr, err := mem.Read32(StackBase + 4)
	require.NoError(t, err)
	buf, err := mem.CopyToHost(argv0Addr, 5)
	require.NoError(t, err)
	require.Equal(t, "prog\x00", string(buf))
}

func TestMinixEnvFiltersPrefix(t *testing.T) {
	env := []string{"MINIX_HOME=/usr/ast", "PATH=/bin", "MINIX_FOO=bar"}
	got := MinixEnv(env)
	require.ElementsMatch(t, []string{"HOME=/usr/ast", "FOO=bar"}, got)
}
