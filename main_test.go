package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunUsageErrorOnMissingArgs(t *testing.T) {
	require.Equal(t, exitUsage, run(nil))
}

func TestRunUsageErrorOnMissingTool(t *testing.T) {
	t.Setenv("MINIXCOMPAT_DIR", t.TempDir())
	code := run([]string{"/does/not/exist"})
	require.Equal(t, exitUsage, code)
}
