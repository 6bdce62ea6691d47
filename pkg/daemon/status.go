package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
)

// Daemon status values.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// StatusFile is the daemon's published status. Clients poll it during
// startup and read the last applied bias from it afterwards.
type StatusFile struct {
	Status    string     `json:"status"`               // "ready" or "error"
	PID       int        `json:"pid,omitempty"`        // only for ready status
	Error     string     `json:"error,omitempty"`      // only for error status
	State     string     `json:"state,omitempty"`      // power state of the last batch
	Bias      *int       `json:"bias,omitempty"`       // bias of the last batch
	AppliedAt *time.Time `json:"applied_at,omitempty"` // when the last batch completed
}

// WriteStatusReady writes a ready status file.
func WriteStatusReady(path string) error {
	return writeStatus(path, &StatusFile{
		Status: StatusReady,
		PID:    os.Getpid(),
	})
}

// WriteStatusError writes an error status file.
func WriteStatusError(path string, err error) error {
	return writeStatus(path, &StatusFile{
		Status: StatusError,
		Error:  err.Error(),
	})
}

// WriteStatusApplied records a completed write batch.
func WriteStatusApplied(path string, state policy.State, bias policy.Level, at time.Time) error {
	b := int(bias)
	at = at.UTC()
	return writeStatus(path, &StatusFile{
		Status:    StatusReady,
		PID:       os.Getpid(),
		State:     state.String(),
		Bias:      &b,
		AppliedAt: &at,
	})
}

// writeStatus replaces the file atomically so pollers never see a
// partial document.
func writeStatus(path string, status *StatusFile) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("parsing status file %s: %w", path, err)
	}
	return &status, nil
}

// RemoveStatus removes the status file. A missing file is not an error.
func RemoveStatus(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
