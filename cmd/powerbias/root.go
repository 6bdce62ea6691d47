package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "powerbias",
		Short: "Set the CPU energy performance bias by power source",
		Long: `powerbias writes the energy_perf_bias tunable of every CPU core and
manages powerbiasd, the daemon that does so automatically whenever the
machine switches between battery and AC power.

Examples:
  powerbias state            # Show power source and current bias values
  powerbias apply 6          # Write bias 6 to every core once
  powerbias daemon start     # Start powerbiasd in the background
  powerbias config init      # Create a default config file`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeLogging,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/powerbias/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration honouring --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// initializeLogging sends component logs to stderr. The CLI never writes
// the daemon's log file.
func initializeLogging(cmd *cobra.Command, _ []string) error {
	level := "warn"
	switch {
	case getQuiet():
		level = "error"
	case getVerbose():
		level = "debug"
	}

	return logging.Init(logging.Config{
		Level:        level,
		ConsoleLevel: level,
		Console:      cmd.ErrOrStderr(),
	})
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(rootCmd.OutOrStdout(), format+"\n", args...)
	}
}

// printOut prints regardless of quiet mode, for requested output.
func printOut(format string, args ...interface{}) {
	fmt.Fprintf(rootCmd.OutOrStdout(), format+"\n", args...)
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: "+format+"\n", args...)
}
