package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunCommandHasConfigFlag(t *testing.T) {
	t.Parallel()

	cmd := NewRunCommand()

	assert.Equal(t, runCmdUse, cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("config"))
}

func TestRunDemoDrivesScriptWithDefaultServices(t *testing.T) {
	// Not parallel: runDemo registers its services in caliper's
	// process-wide service list. Every service other than tableservice is
	// left at its config default (disabled), and tableservice writes to
	// stdout rather than a file this test could assert on, so this just
	// exercises the full wiring path with a minimal config file.
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "calipergo.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("caliper:\n  automerge: true\n  block_size: 64\n"), 0o600))

	require.NoError(t, runDemo(cfgPath))
}
