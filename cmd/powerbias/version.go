package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Build-time variables set by go build -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version, commit hash, and build date of powerbias.`,
	Args:  cobra.NoArgs,
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// runVersion prints version information.
func runVersion(_ *cobra.Command, _ []string) {
	printOut("powerbias %s", version)
	printOut("  commit:  %s", commit)
	printOut("  built:   %s", date)
	printOut("  go:      %s", runtime.Version())
	printOut("  os/arch: %s/%s", runtime.GOOS, runtime.GOARCH)
}
