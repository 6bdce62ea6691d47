package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
	"github.com/jamesainslie/powerbias/pkg/powerbias/tunable"
)

// tunableFs is the filesystem tunables are read and written through.
var tunableFs afero.Fs = afero.NewOsFs()

var applyTimeout time.Duration

var applyCmd = &cobra.Command{
	Use:   "apply <level>",
	Short: "Write a bias level to every core once",
	Long: `Write an energy_perf_bias level (0 = performance, 15 = power saving)
to the tunable of every configured core, then report how many cores
accepted it. Cores whose tunable cannot be written are skipped.

Writing the tunables usually requires root.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().DurationVar(&applyTimeout, "timeout", 5*time.Second, "give up waiting for writes after this long")
	rootCmd.AddCommand(applyCmd)
}

func newTunableWriter(cfg *config.Config) (*tunable.Writer, error) {
	opts := cfg.TunableOptions()
	opts.Fs = tunableFs
	w, err := tunable.New(opts)
	if err != nil {
		return nil, fmt.Errorf("configuring tunables: %w", err)
	}
	return w, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	level, err := policy.ParseLevel(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	writer, err := newTunableWriter(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), applyTimeout)
	defer cancel()

	printVerbose("writing %s to %d tunables", level, len(writer.Targets()))
	writer.Apply(ctx, level)
	if ctx.Err() != nil {
		return fmt.Errorf("writes did not finish within %s", applyTimeout)
	}

	accepted := 0
	for _, r := range writer.Read() {
		if r.Err == nil && r.Value == level.String() {
			accepted++
		} else {
			printVerbose("%s not updated", r.Path)
		}
	}

	total := len(writer.Targets())
	if accepted < total {
		printInfo("Applied bias %s to %d of %d cores", level, accepted, total)
	} else {
		printInfo("Applied bias %s to %d cores", level, total)
	}
	return nil
}
