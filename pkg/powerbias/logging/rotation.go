package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RotationConfig configures log file rotation behavior.
type RotationConfig struct {
	// MaxSize is the size in bytes that triggers a rotation.
	// Zero selects the default of 10MB.
	MaxSize int64

	// MaxAge is the number of days rotated files are kept. Zero keeps
	// them regardless of age.
	MaxAge int

	// MaxBackups caps the number of rotated files. Zero keeps all of
	// them (subject to MaxAge).
	MaxBackups int

	// Daily rotates the file when the day changes.
	Daily bool
}

// DefaultRotationConfig returns the rotation defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    10 * 1024 * 1024,
		MaxAge:     14,
		MaxBackups: 3,
		Daily:      false,
	}
}

// RotatingWriter is an io.WriteCloser that rotates the underlying file by
// size or day. It is safe for concurrent use, and takes an flock around
// each write so a CLI invocation and the daemon can share one file.
type RotatingWriter struct {
	path   string
	cfg    RotationConfig
	mu     sync.Mutex
	file   *os.File
	size   int64
	opened time.Time
	now    func() time.Time
}

// NewRotatingWriter opens (or creates) the log file at path, creating
// parent directories as needed.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{
		path: path,
		cfg:  cfg,
		now:  time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()

	return w, nil
}

// Write appends p to the log file, rotating first when needed.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.due(int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	fd := int(w.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking log file: %w", err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the log file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	w.file = file
	w.size = info.Size()
	w.opened = info.ModTime()
	return nil
}

func (w *RotatingWriter) due(incoming int64) bool {
	if w.size > 0 && w.size+incoming > w.cfg.MaxSize {
		return true
	}
	if !w.cfg.Daily {
		return false
	}
	now := w.now()
	return now.YearDay() != w.opened.YearDay() || now.Year() != w.opened.Year()
}

// rotate renames the current file to <base>.<timestamp><ext> and opens a
// fresh one.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing current file: %w", err)
	}
	w.file = nil

	ext := filepath.Ext(w.path)
	rotated := fmt.Sprintf("%s.%s%s",
		strings.TrimSuffix(w.path, ext), w.now().Format("2006-01-02-150405.000"), ext)

	if err := os.Rename(w.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	w.opened = w.now()
	w.prune()
	return nil
}

// prune removes rotated files beyond MaxBackups or older than MaxAge.
// Errors are ignored.
func (w *RotatingWriter) prune() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type rotatedFile struct {
		path    string
		modTime time.Time
	}
	var rotated []rotatedFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == base {
			continue
		}
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		rotated = append(rotated, rotatedFile{filepath.Join(dir, name), info.ModTime()})
	}

	// Newest first.
	slices.SortFunc(rotated, func(a, b rotatedFile) int {
		return b.modTime.Compare(a.modTime)
	})

	maxAge := time.Duration(w.cfg.MaxAge) * 24 * time.Hour
	now := w.now()
	for i, f := range rotated {
		overCount := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		overAge := w.cfg.MaxAge > 0 && now.Sub(f.modTime) > maxAge
		if overCount || overAge {
			_ = os.Remove(f.path)
		}
	}
}
