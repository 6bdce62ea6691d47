package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/jamesainslie/powerbias/pkg/daemon/monitor"
	"github.com/jamesainslie/powerbias/pkg/daemon/reload"
	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
	"github.com/jamesainslie/powerbias/pkg/powerbias/tunable"
	"github.com/jamesainslie/powerbias/pkg/powerbias/upower"
)

// ErrConnect is returned when the power-source service cannot be reached.
var ErrConnect = errors.New("power source unavailable")

// Source is a power-source connection owned by the daemon.
type Source interface {
	monitor.Source
	Close() error
}

// Connector opens the power-source connection.
type Connector func(ctx context.Context) (Source, error)

// ConnectUPower connects to UPower on the system bus.
func ConnectUPower(ctx context.Context) (Source, error) {
	c, err := upower.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures Run.
type Options struct {
	Config *config.Config

	// Connect defaults to ConnectUPower.
	Connect Connector

	// Fs is the filesystem the tunables are written through. Defaults to
	// the OS filesystem.
	Fs afero.Fs

	// Now stamps applied batches in the status file. Defaults to time.Now.
	Now func() time.Time
}

// Run is the daemon body. It refuses to start while another instance is
// alive, connects to the power source, publishes the PID and status
// files, and runs the monitor until ctx is cancelled or the event stream
// ends. The PID and status files are removed on return, except that a
// connection failure leaves an error status behind for the launcher.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	connect := opts.Connect
	if connect == nil {
		connect = ConnectUPower
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	log := logging.Get("daemon")
	pidPath, statusPath := cfg.PIDPath(), cfg.StatusPath()

	if err := RecoverFromStaleDaemon(pidPath, statusPath); err != nil {
		return err
	}

	tunableOpts := cfg.TunableOptions()
	tunableOpts.Fs = opts.Fs
	writer, err := tunable.New(tunableOpts)
	if err != nil {
		return fmt.Errorf("configuring tunables: %w", err)
	}

	src, err := connect(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnect, err)
		if werr := WriteStatusError(statusPath, err); werr != nil {
			log.Warn("failed to write status file", "path", statusPath, "error", werr)
		}
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Debug("closing power source", "error", err)
		}
	}()

	if err := WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer func() {
		if err := RemovePIDFile(pidPath); err != nil {
			log.Warn("failed to remove PID file", "path", pidPath, "error", err)
		}
	}()

	if err := WriteStatusReady(statusPath); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	defer func() {
		if err := RemoveStatus(statusPath); err != nil {
			log.Warn("failed to remove status file", "path", statusPath, "error", err)
		}
	}()

	refresh := make(chan struct{}, 1)
	m := monitor.New(src, writer,
		monitor.WithPolicy(cfg.PowerPolicy()),
		monitor.WithRefresh(refresh),
		monitor.WithOnApply(func(state policy.State, bias policy.Level) {
			if err := WriteStatusApplied(statusPath, state, bias, now()); err != nil {
				log.Warn("failed to update status file", "path", statusPath, "error", err)
			}
		}),
	)

	if stop := watchConfig(ctx, cfg, m, refresh); stop != nil {
		defer stop()
	}

	log.Info("powerbiasd started",
		"pid", os.Getpid(),
		"cores", len(writer.Targets()),
		"battery_bias", cfg.Policy.BatteryBias,
		"ac_bias", cfg.Policy.ACBias,
	)

	err = m.Run(ctx)

	log.Info("powerbiasd stopped")
	return err
}

// watchConfig starts reloading the policy from the config file when
// enabled. The returned func stops the watcher and waits for it.
func watchConfig(ctx context.Context, cfg *config.Config, m *monitor.Monitor, refresh chan<- struct{}) func() {
	log := logging.Get("daemon")

	if !cfg.Daemon.WatchConfig || cfg.File == "" {
		return nil
	}

	w, err := reload.New(cfg.File, nil)
	if err != nil {
		log.Warn("config watch disabled", "path", cfg.File, "error", err)
		return nil
	}

	log.Info("watching config for policy changes", "path", w.Path())

	watchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(watchCtx, func(next *config.Config) {
			if next.Tunables != cfg.Tunables {
				log.Warn("tunables changed in config, restart powerbiasd to apply")
			}
			m.SetPolicy(next.PowerPolicy())
			select {
			case refresh <- struct{}{}:
			default:
			}
		})
	}()

	return func() {
		cancel()
		wg.Wait()
		_ = w.Close()
	}
}
