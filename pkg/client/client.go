// Package client starts, stops and inspects the powerbiasd daemon.
// The daemon has no control socket; the client works through its PID file,
// its status file and signals.
package client

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/powerbias/pkg/daemon"
	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
)

// DaemonBinary is the daemon executable name.
const DaemonBinary = "powerbiasd"

// Polling cadence for start and stop.
var (
	pollInterval  = 100 * time.Millisecond
	startAttempts = 50
	stopAttempts  = 100
)

// DaemonPaths configures paths for daemon operations.
// Empty fields use defaults.
type DaemonPaths struct {
	Binary string // Path to powerbiasd (auto-discovered if empty)
	Config string // Config file handed to the daemon
	PID    string // PID file path
	Status string // Status file path
}

// withDefaults returns a copy with empty fields filled with defaults.
func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	if p.Status == "" {
		p.Status = config.DefaultStatusPath()
	}
	return p
}

// PathsFromConfig derives daemon paths from a loaded configuration.
func PathsFromConfig(cfg *config.Config) DaemonPaths {
	return DaemonPaths{
		Binary: cfg.Daemon.BinaryPath,
		Config: cfg.File,
		PID:    cfg.PIDPath(),
		Status: cfg.StatusPath(),
	}
}

// DaemonStatus is what the client can learn about the daemon.
type DaemonStatus struct {
	Running bool
	PID     int

	// File is the daemon's status file, nil when absent or unreadable.
	File *daemon.StatusFile
}

// Status reports whether the daemon is running and what it last applied.
func Status(paths DaemonPaths) DaemonStatus {
	paths = paths.withDefaults()

	var st DaemonStatus
	if pid, err := daemon.ReadPIDFile(paths.PID); err == nil && daemon.IsProcessRunning(pid) {
		st.Running = true
		st.PID = pid
	}
	if file, err := daemon.ReadStatus(paths.Status); err == nil {
		st.File = file
	}
	return st
}

// IsDaemonRunning checks if the daemon is running based on the PID file.
func IsDaemonRunning(pidPath string) bool {
	return daemon.IsDaemonRunning(pidPath)
}

// StartDaemon starts powerbiasd in the background and waits for it to
// report ready or error through its status file.
// Idempotent: returns nil if daemon is already running.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", DaemonBinary, err)
	}

	// A leftover status would be mistaken for the new daemon's.
	_ = daemon.RemoveStatus(paths.Status)

	var args []string
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}

	// Use exec.Command (not CommandContext) intentionally: daemon must outlive caller
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is validated
	cmd.Env = append(os.Environ(),
		config.EnvPrefix+"_DAEMON_PID_PATH="+paths.PID,
		config.EnvPrefix+"_DAEMON_STATUS_PATH="+paths.Status,
	)
	cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	for range startAttempts {
		time.Sleep(pollInterval)

		if done, err := checkStartup(paths.Status); done {
			return err
		}

		select {
		case exitErr := <-exited:
			// The status may have landed just before exit.
			if done, err := checkStartup(paths.Status); done {
				return err
			}
			if exitErr != nil {
				return fmt.Errorf("daemon exited during startup: %w", exitErr)
			}
			return errors.New("daemon exited during startup")
		default:
		}
	}

	return errors.New("daemon did not become ready within timeout")
}

// checkStartup reads the status file and reports whether startup has
// finished, and how.
func checkStartup(statusPath string) (bool, error) {
	status, err := daemon.ReadStatus(statusPath)
	if err != nil {
		return false, nil //nolint:nilerr // not written yet
	}
	switch status.Status {
	case daemon.StatusReady:
		return true, nil
	case daemon.StatusError:
		return true, fmt.Errorf("daemon failed to start: %s", status.Error)
	}
	return false, nil
}

// StopDaemon sends SIGTERM to the daemon and waits for it to exit.
// Idempotent: returns nil if daemon is not running.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	pid, err := daemon.ReadPIDFile(paths.PID)
	if err != nil || !daemon.IsProcessRunning(pid) {
		return nil //nolint:nilerr // no live PID means nothing to stop
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal daemon (pid %d): %w", pid, err)
	}

	for range stopAttempts {
		time.Sleep(pollInterval)
		if !daemon.IsProcessRunning(pid) {
			return nil
		}
	}

	return fmt.Errorf("daemon (pid %d) did not stop within timeout", pid)
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// resolveBinary finds the powerbiasd binary path.
// Priority: configured path > same directory as executable > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), DaemonBinary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(DaemonBinary); err == nil {
		return path, nil
	}

	return "", errors.New(DaemonBinary + " not found")
}
