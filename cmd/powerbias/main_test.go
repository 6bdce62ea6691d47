package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/powerbias/pkg/daemon"
	"github.com/jamesainslie/powerbias/pkg/daemon/monitor"
	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")

	cfgFile = ""
	applyTimeout = 5 * time.Second
	stateFormat = "pretty"
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
	_ = rootCmd.PersistentFlags().Set("quiet", "false")

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		_ = logging.Close()
	})

	err := rootCmd.Execute()
	return stdout.String(), err
}

// writeConfigFile writes a config with tunables under dir and returns its path.
func writeConfigFile(t *testing.T, dir string, cores int, extra string) string {
	t.Helper()
	content := fmt.Sprintf("tunables:\n  cores: %d\n  path_template: %s\n%s",
		cores, filepath.Join(dir, "cpu%d", "energy_perf_bias"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type fakeSource struct {
	onBattery bool
	err       error
	closed    bool
}

func (f *fakeSource) OnBattery(context.Context) (bool, error) { return f.onBattery, f.err }

func (f *fakeSource) Subscribe(context.Context) (monitor.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func withSource(t *testing.T, src daemon.Source, err error) {
	t.Helper()
	prev := connectSource
	connectSource = func(context.Context) (daemon.Source, error) {
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	t.Cleanup(func() { connectSource = prev })
}

func withTunableFs(t *testing.T, fs afero.Fs) {
	t.Helper()
	prev := tunableFs
	tunableFs = fs
	t.Cleanup(func() { tunableFs = prev })
}

func TestApply_WritesEveryCore(t *testing.T) {
	dir := t.TempDir()
	for core := 0; core < 4; core++ {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, fmt.Sprintf("cpu%d", core)), 0o755))
	}
	configPath := writeConfigFile(t, dir, 4, "")

	out, err := execute(t, "--config", configPath, "apply", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied bias 6 to 4 cores")

	for core := 0; core < 4; core++ {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("cpu%d", core), "energy_perf_bias"))
		require.NoError(t, err)
		assert.Equal(t, "6", string(data))
	}
}

func TestApply_ReportsSkippedCores(t *testing.T) {
	dir := t.TempDir()
	// cpu1 has no directory, like an absent core.
	for _, core := range []int{0, 2} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, fmt.Sprintf("cpu%d", core)), 0o755))
	}
	configPath := writeConfigFile(t, dir, 3, "")

	out, err := execute(t, "--config", configPath, "apply", "15")
	require.NoError(t, err, "unwritable cores are not an error")
	assert.Contains(t, out, "Applied bias 15 to 2 of 3 cores")
}

func TestApply_InvalidLevel(t *testing.T) {
	for _, arg := range []string{"16", "-1", "fast"} {
		t.Run(arg, func(t *testing.T) {
			_, err := execute(t, "apply", "--", arg)
			assert.ErrorIs(t, err, policy.ErrInvalidLevel)
		})
	}
}

func TestState_OnBattery(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, 2, "")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "cpu0", "energy_perf_bias"), []byte("15\n"), 0o644))
	withTunableFs(t, fs)

	src := &fakeSource{onBattery: true}
	withSource(t, src, nil)

	out, err := execute(t, "--config", configPath, "state")
	require.NoError(t, err)

	assert.Contains(t, out, "on-battery")
	assert.Contains(t, out, "Policy bias:  15")
	assert.Contains(t, out, filepath.Join(dir, "cpu0", "energy_perf_bias")+"  15")
	assert.Contains(t, out, "unreadable", "cpu1 has no tunable")
	assert.True(t, src.closed)
}

func TestState_SourceUnavailable(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, 1, "")
	withTunableFs(t, afero.NewMemMapFs())
	withSource(t, nil, errors.New("no system bus"))

	out, err := execute(t, "--config", configPath, "state")
	require.NoError(t, err)
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "none (state unknown)")
}

func TestState_JSON(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, 1, "policy:\n  ac_bias: 3\n")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "cpu0", "energy_perf_bias"), []byte("3\n"), 0o644))
	withTunableFs(t, fs)
	withSource(t, &fakeSource{onBattery: false}, nil)

	out, err := execute(t, "--config", configPath, "state", "--output", "json")
	require.NoError(t, err)

	var doc struct {
		State    string `json:"state"`
		Bias     *int   `json:"bias"`
		Matching int    `json:"matching"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "on-ac", doc.State)
	require.NotNil(t, doc.Bias)
	assert.Equal(t, 3, *doc.Bias)
	assert.Equal(t, 1, doc.Matching)
}

func TestState_UnknownFormat(t *testing.T) {
	_, err := execute(t, "state", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestDaemonStatus(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "powerbiasd.pid")
	statusPath := filepath.Join(dir, "powerbiasd.status")
	configPath := writeConfigFile(t, dir, 1, fmt.Sprintf(
		"daemon:\n  pid_path: %s\n  status_path: %s\n", pidPath, statusPath))

	out, err := execute(t, "--config", configPath, "daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")

	require.NoError(t, daemon.WritePIDFile(pidPath))
	require.NoError(t, daemon.WriteStatusApplied(statusPath, policy.OnBattery, 12, time.Now().Add(-3*time.Minute)))

	out, err = execute(t, "--config", configPath, "daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon status: running")
	assert.Contains(t, out, fmt.Sprintf("PID: %d", os.Getpid()))
	assert.Contains(t, out, "Power source: on-battery")
	assert.Contains(t, out, "Bias: 12")
	assert.Contains(t, out, "3 minutes ago")
}

func TestDaemonStop_NotRunning(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, 1, fmt.Sprintf(
		"daemon:\n  pid_path: %s\n", filepath.Join(dir, "powerbiasd.pid")))

	_, err := execute(t, "--config", configPath, "daemon", "stop")
	assert.EqualError(t, err, "daemon is not running")
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, 3, "policy:\n  battery_bias: 11\n")

	out, err := execute(t, "--config", configPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Config file: "+configPath)
	assert.Contains(t, out, "policy.battery_bias:           11")
	assert.Contains(t, out, "tunables.cores:                3")
}

func TestConfigPath(t *testing.T) {
	out, err := execute(t, "--config", "/etc/custom.yaml", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, "/etc/custom.yaml\n", out)

	out, err = execute(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(".config", "powerbias", "config.yaml"))
}

func TestConfigInit(t *testing.T) {
	xdg := t.TempDir()

	t.Setenv("XDG_CONFIG_HOME", xdg)
	cfgFile = ""
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"config", "init"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		_ = logging.Close()
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stdout.String(), "Created default config file")
	assert.FileExists(t, filepath.Join(xdg, "powerbias", "config.yaml"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "powerbias dev")
}
