package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/powerbias/pkg/daemon"
	"github.com/jamesainslie/powerbias/pkg/powerbias/output"
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
)

// connectSource opens the power-source connection for state.
var connectSource daemon.Connector = daemon.ConnectUPower

var stateFormat string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the power source and the current bias of every core",
	Long: `Read UPower's OnBattery property, show the bias the configured policy
chooses for it, and list the value currently held by each core's tunable.`,
	Args: cobra.NoArgs,
	RunE: runState,
}

func init() {
	stateCmd.Flags().StringVarP(&stateFormat, "output", "o", "pretty",
		"output format ("+strings.Join(output.Available(), ", ")+")")
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, _ []string) error {
	formatter, err := output.Get(stateFormat)
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

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	state := policy.Unknown
	src, err := connectSource(ctx)
	if err != nil {
		printVerbose("power source unavailable: %v", err)
	} else {
		state = policy.StateFromRead(src.OnBattery(ctx))
		_ = src.Close()
	}

	readings := writer.Read()
	for _, r := range readings {
		if r.Err != nil {
			printVerbose("%v", r.Err)
		}
	}

	report := output.NewReport(state, cfg.PowerPolicy(), readings)
	return formatter.Format(cmd.OutOrStdout(), report)
}
