package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func newFlags(t *testing.T, args ...string) (*runFlags, *pflag.FlagSet) {
	t.Helper()

	var f runFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse(args))

	return &f, fs
}

func TestLoadRunConfig_Defaults(t *testing.T) {
	require := require.New(t)

	f, fs := newFlags(t)
	cfg, err := loadRunConfig("", f, fs)
	require.NoError(err)
	require.Equal(defaultRunConfig(), cfg)
}

func TestLoadRunConfig_File(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "rcs.toml", `
host = "10.0.0.2"
port = 23000
command_file = "cmds.ini"
reply_wait = "1500ms"
starvation_gating = true
wide_commands = ["detector_info"]
`)

	cfg, err := loadRunConfig(path, nil, nil)
	require.NoError(err)
	require.Equal("10.0.0.2", cfg.Host)
	require.Equal(23000, cfg.Port)
	require.Equal("cmds.ini", cfg.CommandFile)
	require.Equal(1500*time.Millisecond, cfg.ReplyWait)
	require.True(cfg.StarvationGating)
	require.Equal([]string{"detector_info"}, cfg.WideCommands)

	// keys absent from the file keep their defaults
	require.Equal("logs", cfg.LogDir)
	require.Equal(2*time.Second, cfg.CommandInterval)
}

func TestLoadRunConfig_FileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", `reply_wait = "soon"`},
		{"unknown key", `hots = "10.0.0.2"`},
		{"bad syntax", `host = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRunConfig(writeFile(t, "rcs.toml", tt.content), nil, nil)
			require.Error(t, err)
		})
	}

	_, err := loadRunConfig(filepath.Join(t.TempDir(), "missing.toml"), nil, nil)
	require.Error(t, err)
}

func TestLoadRunConfig_Precedence(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "rcs.toml", `
host = "10.0.0.2"
port = 23000
log_dir = "file-logs"
`)
	t.Setenv("RCS_PORT", "24000")
	t.Setenv("RCS_LOG_DIR", "env-logs")
	t.Setenv("RCS_COMMAND_INTERVAL", "3s")
	t.Setenv("RCS_WIDE_COMMANDS", "a,b")

	f, fs := newFlags(t, "--log-dir", "flag-logs", "--starvation-gating")
	cfg, err := loadRunConfig(path, f, fs)
	require.NoError(err)

	require.Equal("10.0.0.2", cfg.Host)
	require.Equal(24000, cfg.Port)
	require.Equal("flag-logs", cfg.LogDir)
	require.Equal(3*time.Second, cfg.CommandInterval)
	require.Equal([]string{"a", "b"}, cfg.WideCommands)
	require.True(cfg.StarvationGating)
}

func TestLoadRunConfig_BadEnv(t *testing.T) {
	t.Setenv("RCS_PORT", "not-a-number")

	_, err := loadRunConfig("", nil, nil)
	require.Error(t, err)
}

func TestRunConfig_ConnOptions(t *testing.T) {
	require := require.New(t)

	cfg := defaultRunConfig()
	require.Len(cfg.connOptions(), 8)
}
