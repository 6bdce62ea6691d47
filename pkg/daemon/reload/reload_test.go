package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func startWatcher(t *testing.T, path string) <-chan *config.Config {
	t.Helper()

	w, err := New(path, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *config.Config, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(c *config.Config) { reloaded <- c })
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return reloaded
}

func expectReload(t *testing.T, ch <-chan *config.Config) *config.Config {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
		return nil
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent", "config.yaml"), nil)
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "policy:\n  battery_bias: 15\n")

	reloaded := startWatcher(t, path)

	writeFile(t, path, "policy:\n  battery_bias: 11\n")

	cfg := expectReload(t, reloaded)
	assert.Equal(t, 11, cfg.Policy.BatteryBias)
}

func TestWatcher_ReloadsOnRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "policy:\n  ac_bias: 0\n")

	reloaded := startWatcher(t, path)

	tmp := filepath.Join(dir, "config.yaml.swp")
	writeFile(t, tmp, "policy:\n  ac_bias: 5\n")
	require.NoError(t, os.Rename(tmp, path))

	cfg := expectReload(t, reloaded)
	assert.Equal(t, 5, cfg.Policy.ACBias)
}

func TestWatcher_KeepsPreviousOnInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "policy:\n  ac_bias: 0\n")

	reloaded := startWatcher(t, path)

	writeFile(t, path, "policy:\n  ac_bias: 42\n")

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config should not be delivered, got %+v", cfg.Policy)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, path, "policy:\n  ac_bias: 2\n")
	cfg := expectReload(t, reloaded)
	assert.Equal(t, 2, cfg.Policy.ACBias)
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "policy:\n  ac_bias: 0\n")

	reloaded := startWatcher(t, path)

	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1\n")

	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "")

	w, err := New(path, nil)
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.Equal(t, path, w.Path())
}
