package daemon

import (
	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
)

// RecoverFromStaleDaemon checks for and cleans up files left behind by a
// daemon that exited without removing them.
// Returns nil if cleanup succeeded or wasn't needed.
// Returns ErrDaemonAlreadyRunning if a daemon is actually running.
func RecoverFromStaleDaemon(pidPath, statusPath string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		// No PID file or invalid PID means nothing to recover, but a
		// leftover status file would mislead clients.
		_ = RemoveStatus(statusPath)
		return nil //nolint:nilerr // missing/invalid PID file is not an error condition
	}

	if IsProcessRunning(pid) {
		return ErrDaemonAlreadyRunning
	}

	log := logging.Get("daemon")
	log.Warn("cleaning up stale daemon files", "stale_pid", pid)

	_ = RemovePIDFile(pidPath)
	_ = RemoveStatus(statusPath)

	return nil
}
