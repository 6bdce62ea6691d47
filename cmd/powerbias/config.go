package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage powerbias configuration settings.

Configuration is loaded from the first of:
  1. $XDG_CONFIG_HOME/powerbias/config.yaml (if set)
  2. ~/.config/powerbias/config.yaml
  3. /etc/powerbias/config.yaml

Environment variables can override config file settings using the POWERBIAS_ prefix:
  POWERBIAS_POLICY_BATTERY_BIAS=12
  POWERBIAS_TUNABLES_CORES=8
  POWERBIAS_LOGGING_LEVEL=debug`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration from all sources.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path of the configuration file in use, or where one would be created.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the effective configuration.
func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.File != "" {
		printOut("Config file: %s\n", cfg.File)
	} else {
		printOut("Config file: (using defaults, no file found)\n")
	}

	printOut("Current Configuration:")
	printOut("----------------------")
	printOut("policy.battery_bias:           %d", cfg.Policy.BatteryBias)
	printOut("policy.ac_bias:                %d", cfg.Policy.ACBias)
	printOut("tunables.cores:                %d", cfg.Tunables.Cores)
	printOut("tunables.path_template:        %s", cfg.Tunables.PathTemplate)
	printOut("logging.level:                 %s", cfg.Logging.Level)
	printOut("logging.console_level:         %s", cfg.Logging.ConsoleLevel)
	printOut("logging.path:                  %s", cfg.Logging.Path)
	printOut("logging.rotation.max_size:     %s", cfg.Logging.Rotation.MaxSize)
	printOut("logging.rotation.max_age:      %d days", cfg.Logging.Rotation.MaxAge)
	printOut("logging.rotation.max_backups:  %d", cfg.Logging.Rotation.MaxBackups)
	printOut("logging.rotation.daily:        %t", cfg.Logging.Rotation.Daily)
	printOut("logging.components:            %s", formatComponents(cfg.Logging.Components))
	printOut("daemon.binary_path:            %s", cfg.Daemon.BinaryPath)
	printOut("daemon.pid_path:               %s", cfg.PIDPath())
	printOut("daemon.status_path:            %s", cfg.StatusPath())
	printOut("daemon.watch_config:           %t", cfg.Daemon.WatchConfig)

	printOut("\nEnvironment Overrides:")
	printOut("----------------------")
	var overrides []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix+"_") {
			overrides = append(overrides, kv)
		}
	}
	sort.Strings(overrides)
	if len(overrides) == 0 {
		printOut("(none)")
	}
	for _, kv := range overrides {
		printOut("%s", kv)
	}

	return nil
}

func formatComponents(components map[string]string) string {
	if len(components) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, components[name])
	}
	return strings.Join(parts, ", ")
}

// runConfigInit creates a default config file.
func runConfigInit(_ *cobra.Command, _ []string) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		return nil
	}

	if _, err := config.WriteDefault(configDir); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath prints the config file path.
func runConfigPath(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		printOut("%s", cfgFile)
		return nil
	}

	for _, dir := range config.SearchDirs() {
		candidate := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			printOut("%s", candidate)
			return nil
		}
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	printOut("%s (not created)", filepath.Join(configDir, "config.yaml"))
	return nil
}
