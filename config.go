// config.go - CLI flags, environment resolution, and the World that ties
// every subsystem together for main.go.
//
// Flag handling follows doismellburning-samoyed's use of
// github.com/spf13/pflag for a small CLI surface. The "world" object
// holding every piece of global mutable state (guest memory, fd table,
// process table, execution state) in one value subsystems borrow, rather
// than package-level globals, keeps each run's state isolated and
// constructible in tests.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
)

// DefaultRoot is the host directory used as the guest's "/" when neither
// -r/--root nor MINIXCOMPAT_DIR is set.
const DefaultRoot = "/opt/minix"

// Config is the result of parsing flags and the environment.
type Config struct {
	Root     string
	GuestPWD string
	ToolPath string
	ToolArgs []string
	Debug    bool
}

// ParseConfig parses args (normally os.Args[1:]) and resolves
// MINIXCOMPAT_DIR/MINIXCOMPAT_PWD, command-line flags taking precedence
// over the environment. It also writes the resolved root back into
// MINIXCOMPAT_DIR so any child process or subsequent lookup sees the same
// value this run resolved.
func ParseConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("minixcompat", flag.ContinueOnError)
	debug := fs.BoolP("debug", "d", false, "emit one diagnostic line per syscall")
	root := fs.StringP("root", "r", "", "host directory used as the guest's / (overrides MINIXCOMPAT_DIR)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	positional := fs.Args()
	if len(positional) < 1 {
		return nil, fmt.Errorf("usage: minixcompat <tool-path> [args...]")
	}

	cfg := &Config{
		ToolPath: positional[0],
		ToolArgs: positional[1:],
		Debug:    *debug,
	}

	cfg.Root = *root
	if cfg.Root == "" {
		cfg.Root = os.Getenv("MINIXCOMPAT_DIR")
	}
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	os.Setenv("MINIXCOMPAT_DIR", cfg.Root)

	cfg.GuestPWD = os.Getenv("MINIXCOMPAT_PWD")

	return cfg, nil
}

// ExportedEnv returns the host environment, for BuildArgvEnvpFrame to
// filter down to MINIX_-prefixed entries.
func ExportedEnv() []string {
	return os.Environ()
}

// NewLogger builds the one charmbracelet/log logger threaded through the
// World: leveled diagnostic output when debug is set, otherwise silent.
func NewLogger(debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Prefix:          "minixcompat",
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		// Nothing below Error is emitted by this codebase outside Debug
		// calls, so pinning the threshold above Debug silences them.
		logger.SetLevel(log.ErrorLevel)
	}
	return logger
}

// World is every subsystem one emulated MINIX process needs, constructed
// once per run.
type World struct {
	Config     *Config
	Memory     *GuestMemory
	Filesystem *Filesystem
	Process    *ProcessTable
	CPU        *CPUAdapter
	Dispatcher *Dispatcher
	Supervisor *Supervisor
	Logger     *log.Logger
}

// NewWorld constructs every subsystem and wires the dispatcher behind the
// CPU adapter's trap callback.
func NewWorld(cfg *Config) (*World, error) {
	logger := NewLogger(cfg.Debug)

	mem := NewGuestMemory()

	fs, err := NewFilesystem(cfg.Root, cfg.GuestPWD)
	if err != nil {
		return nil, fmt.Errorf("minixcompat: setting up filesystem: %w", err)
	}

	proc := NewProcessTable()
	cpu := NewCPUAdapter(NewM68KCore(), mem)
	disp := NewDispatcher(mem, fs, proc, func() int64 { return time.Now().Unix() }, logger)
	sup := NewSupervisor(cpu, disp, proc, mem, logger)

	return &World{
		Config:     cfg,
		Memory:     mem,
		Filesystem: fs,
		Process:    proc,
		CPU:        cpu,
		Dispatcher: disp,
		Supervisor: sup,
		Logger:     logger,
	}, nil
}

// MinixEnv filters the host environment down to MINIX_-prefixed entries,
// stripping the prefix, for callers that want it without going through
// BuildArgvEnvpFrame directly (e.g. tests).
func MinixEnv(env []string) []string {
	var out []string
	for _, kv := range env {
		if strings.HasPrefix(kv, "MINIX_") {
			out = append(out, kv[len("MINIX_"):])
		}
	}
	return out
}
