package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/fluxd/server"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand("1.2.3", "abc", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fluxd 1.2.3")
	assert.Contains(t, out, "commit: abc")
}

func TestModulesCommandListsCandidates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.so"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth"), nil, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	out, err := execute(t, "modules", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "native")
	assert.Contains(t, out, "remote")
	assert.NotContains(t, out, "notes")

	out, err = execute(t, "modules", "--dir", dir, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "remote"`)
}

func TestModulesCommandEmptyDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "none")
	out, err := execute(t, "modules", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no plugins in")
}

func TestRunFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("FLUXD_WORKERS", "8")
	t.Setenv("FLUXD_ADMIN_ADDR", "127.0.0.1:1")

	cmd := &cobra.Command{Use: "run"}
	var f runFlags
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--workers", "2",
		"--poll-timeout", "5ms",
		"--log-format", "text",
		"--set", "listen.port=7000",
		"--load", "a.so", "--load", "b.so",
	}))
	cfg, err := server.LoadConfig()
	require.NoError(t, err)

	require.NoError(t, f.apply(cmd, &cfg))

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "127.0.0.1:1", cfg.AdminAddr)
	assert.Equal(t, 5*time.Millisecond, cfg.PollTimeout)
	assert.EqualValues(t, "text", cfg.LogFormat)
	assert.Equal(t, map[string]any{"listen.port": "7000"}, cfg.Settings)
	assert.Equal(t, []string{"a.so", "b.so"}, cfg.Autoload)
}

func TestRunRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "run", "--workers", "-1")
	require.Error(t, err)

	_, err = execute(t, "run", "--set", "novalue")
	require.Error(t, err)
}
