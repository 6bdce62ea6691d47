package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/powerbias/pkg/daemon"
)

func writeTestConfig(t *testing.T) (configPath, statusPath, pidPath, tunableDir string) {
	t.Helper()
	dir := t.TempDir()
	statusPath = filepath.Join(dir, "powerbiasd.status")
	pidPath = filepath.Join(dir, "powerbiasd.pid")
	tunableDir = filepath.Join(dir, "cpu")

	content := "tunables:\n" +
		"  path_template: " + filepath.Join(tunableDir, "cpu%d", "energy_perf_bias") + "\n" +
		"logging:\n" +
		"  console_level: \"\"\n" +
		"daemon:\n" +
		"  watch_config: false\n" +
		"  pid_path: " + pidPath + "\n" +
		"  status_path: " + statusPath + "\n"

	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, statusPath, pidPath, tunableDir
}

func TestRun_ConnectFailureExitsNonZero(t *testing.T) {
	configPath, statusPath, pidPath, tunableDir := writeTestConfig(t)
	var stderr bytes.Buffer

	failing := func(context.Context) (daemon.Source, error) {
		return nil, errors.New("system bus unreachable")
	}

	code := run(context.Background(), []string{"--config", configPath}, &stderr, failing)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "system bus unreachable")

	_, err := os.Stat(tunableDir)
	assert.True(t, os.IsNotExist(err), "no tunable writes on connection failure")
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))

	status, err := daemon.ReadStatus(statusPath)
	require.NoError(t, err)
	assert.Equal(t, daemon.StatusError, status.Status)
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  ac_bias: 20\n"), 0o644))
	var stderr bytes.Buffer

	connected := false
	code := run(context.Background(), []string{"--config", path}, &stderr,
		func(context.Context) (daemon.Source, error) {
			connected = true
			return nil, errors.New("unreachable")
		})

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "invalid configuration")
	assert.False(t, connected)
}

func TestRun_RejectsArguments(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"extra"}, &stderr, nil)
	assert.Equal(t, 1, code)
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"--version"}, &out, nil)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), version)
}
