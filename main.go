// main.go - CLI entry point: minixcompat <tool-path> [args...]

package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for the CLI: missing tool, host-side failure to launch it, or
// (otherwise) the guest process's own status.
const (
	exitUsage   = 64
	exitOSError = 71
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := ParseConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	world, err := NewWorld(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOSError
	}

	if err := world.Supervisor.Launch(cfg.ToolPath, cfg.ToolArgs, ExportedEnv()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, ErrToolNotFound) {
			return exitUsage
		}
		return exitOSError
	}

	status := world.Supervisor.Run()
	return int(status) & 0xFF
}
