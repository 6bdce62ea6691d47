// Package tunable writes CPU energy/performance bias values to the
// per-core sysfs tunables.
//
// A Writer addresses a fixed set of files, one per core index, built from
// a path template. Apply writes the same decimal value to all of them
// concurrently. Every write is independent: a core whose file is missing
// or read-only (an offline core, say) is logged and skipped without
// affecting the others, and the caller never sees an error.
package tunable

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
)

const (
	// DefaultPathTemplate is the kernel's per-core energy_perf_bias file.
	DefaultPathTemplate = "/sys/devices/system/cpu/cpu%d/power/energy_perf_bias"

	// DefaultCoreCount is the number of cores the reference policy writes to.
	DefaultCoreCount = 16
)

// Options configures a Writer. Zero fields take their defaults.
type Options struct {
	// Fs is the filesystem writes go through. Defaults to the OS filesystem.
	Fs afero.Fs

	// PathTemplate is a fmt template with a single %d verb for the core index.
	PathTemplate string

	// CoreCount is the number of cores, addressed as indexes 0..CoreCount-1.
	CoreCount int
}

// Writer fans bias values out to the per-core tunables.
type Writer struct {
	fs      afero.Fs
	targets []string
}

// New creates a Writer.
func New(opts Options) (*Writer, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.PathTemplate == "" {
		opts.PathTemplate = DefaultPathTemplate
	}
	if opts.CoreCount == 0 {
		opts.CoreCount = DefaultCoreCount
	}

	if err := ValidateTemplate(opts.PathTemplate); err != nil {
		return nil, err
	}
	if opts.CoreCount < 0 {
		return nil, fmt.Errorf("core count must be positive, got %d", opts.CoreCount)
	}

	targets := make([]string, opts.CoreCount)
	for i := range targets {
		targets[i] = fmt.Sprintf(opts.PathTemplate, i)
	}

	return &Writer{
		fs:      opts.Fs,
		targets: targets,
	}, nil
}

// ValidateTemplate checks that a path template has exactly one %d verb
// and no other verbs.
func ValidateTemplate(tmpl string) error {
	if strings.Count(tmpl, "%d") != 1 || strings.Count(tmpl, "%") != 1 {
		return fmt.Errorf("path template %q must contain exactly one %%d verb", tmpl)
	}
	return nil
}

// Targets returns the tunable paths in core index order.
func (w *Writer) Targets() []string {
	out := make([]string, len(w.targets))
	copy(out, w.targets)
	return out
}

// Apply writes bias to every target concurrently and waits for all writes
// to finish. Each failure is logged with its path and otherwise ignored.
//
// If ctx is cancelled first, Apply returns without waiting. Writes already
// started run to completion in the background and are not rolled back.
func (w *Writer) Apply(ctx context.Context, bias policy.Level) {
	log := logging.Get("tunable")
	payload := []byte(bias.String())

	var (
		g      errgroup.Group
		failed atomic.Int32
	)
	for _, path := range w.targets {
		g.Go(func() error {
			if err := w.write(path, payload); err != nil {
				failed.Add(1)
				log.Warn("couldn't write tunable", "path", path, "error", err)
				return err
			}
			log.Trace("tunable written", "path", path, "value", string(payload))
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Debug("bias applied with failures", "bias", bias,
				"targets", len(w.targets), "failed", failed.Load(), "first_error", err)
			return
		}
		log.Debug("bias applied", "bias", bias, "targets", len(w.targets))
	case <-ctx.Done():
		log.Debug("bias batch abandoned", "bias", bias, "reason", ctx.Err())
	}
}

// write performs one open/write/close cycle on a single target.
func (w *Writer) write(path string, payload []byte) error {
	f, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening for write: %w", err)
	}

	n, err := f.Write(payload)
	if err == nil && n < len(payload) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(payload))
	}
	closeErr := f.Close()

	if err != nil {
		return err
	}
	return closeErr
}
