// Package main provides powerbiasd, the daemon that sets the CPU energy
// performance bias whenever the machine switches between battery and AC.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/powerbias/pkg/daemon"
	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
)

// Build-time variables set by go build -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr, daemon.ConnectUPower)
	stop()
	os.Exit(code)
}

// run executes the daemon and returns the process exit code.
func run(ctx context.Context, args []string, stderr io.Writer, connect daemon.Connector) int {
	cmd := newRootCmd(connect)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "powerbiasd: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(connect daemon.Connector) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "powerbiasd",
		Short: "Apply the CPU energy performance bias on power source changes",
		Long: `powerbiasd watches UPower on the system bus and writes the configured
energy_perf_bias value to every core: the battery bias while on battery,
the AC bias on mains power. It runs until interrupted.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if err := logging.Init(cfg.LoggingOptions()); err != nil {
				return fmt.Errorf("initializing logging: %w", err)
			}
			defer func() { _ = logging.Close() }()

			if cfg.File != "" {
				logging.Get("daemon").Debug("loaded config", "path", cfg.File)
			}

			return daemon.Run(cmd.Context(), daemon.Options{
				Config:  cfg,
				Connect: connect,
			})
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/powerbias/config.yaml)")
	return cmd
}
