package main

import (
	"errors"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/powerbias/pkg/client"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the powerbiasd daemon",
	Long: `Manage powerbiasd, which applies the configured bias on every change
between battery and AC power.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the powerbiasd daemon",
	Long:  `Start powerbiasd in the background and wait until it reports ready.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the powerbiasd daemon",
	Long:  `Send SIGTERM to powerbiasd and wait for it to exit.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the powerbiasd daemon",
	Long:  `Stop and start the powerbiasd daemon.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether powerbiasd is running and the bias it last applied.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func daemonPaths() (client.DaemonPaths, error) {
	cfg, err := loadConfig()
	if err != nil {
		return client.DaemonPaths{}, err
	}
	paths := client.PathsFromConfig(cfg)
	printVerbose("pid file: %s", paths.PID)
	printVerbose("status file: %s", paths.Status)
	return paths, nil
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}

	if client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon already running")
		return nil
	}

	printVerbose("starting daemon...")
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}

	if !client.IsDaemonRunning(paths.PID) {
		return errors.New("daemon is not running")
	}

	printVerbose("sending SIGTERM...")
	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon stopped")
	return nil
}

func runDaemonRestart(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}

	if err := client.RestartDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon restarted")
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}

	st := client.Status(paths)
	if !st.Running {
		printOut("Daemon status: not running")
		if st.File != nil && st.File.Error != "" {
			printOut("  Last error: %s", st.File.Error)
		}
		return nil
	}

	printOut("Daemon status: running")
	printOut("  PID: %d", st.PID)

	if st.File == nil || st.File.Bias == nil {
		printOut("  Bias: not applied yet")
		return nil
	}

	printOut("  Power source: %s", st.File.State)
	printOut("  Bias: %d", *st.File.Bias)
	if st.File.AppliedAt != nil {
		printOut("  Applied: %s", humanize.Time(*st.File.AppliedAt))
	}
	return nil
}
