// Package daemon runs powerbiasd: it guards against a second instance,
// publishes its PID and status files, and drives the power monitor.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrDaemonAlreadyRunning is returned when trying to start a daemon that's already running.
var ErrDaemonAlreadyRunning = errors.New("daemon already running")

// WritePIDFile writes the current process ID to path, creating its
// directory if needed.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid pid %d", path, pid)
	}

	return pid, nil
}

// RemovePIDFile removes the PID file. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsDaemonRunning checks if a daemon is running based on PID file.
func IsDaemonRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// IsProcessRunning reports whether a process with the given PID exists.
// A process owned by another user still counts as running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
