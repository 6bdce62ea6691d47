package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
	"github.com/jamesainslie/powerbias/pkg/powerbias/tunable"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// PolicyConfig holds the bias level for each power source.
type PolicyConfig struct {
	BatteryBias int `mapstructure:"battery_bias"`
	ACBias      int `mapstructure:"ac_bias"`
}

// TunablesConfig describes the per-core tunable files.
type TunablesConfig struct {
	Cores        int    `mapstructure:"cores"`
	PathTemplate string `mapstructure:"path_template"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"` // e.g. "10MiB", "500KB"
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level        string            `mapstructure:"level"`
	ConsoleLevel string            `mapstructure:"console_level"`
	Path         string            `mapstructure:"path"`
	Rotation     RotationConfig    `mapstructure:"rotation"`
	Components   map[string]string `mapstructure:"components"`
}

// DaemonConfig configures powerbiasd.
type DaemonConfig struct {
	BinaryPath  string `mapstructure:"binary_path"` // auto-discovered if empty
	PIDPath     string `mapstructure:"pid_path"`
	StatusPath  string `mapstructure:"status_path"`
	WatchConfig bool   `mapstructure:"watch_config"`
}

// Config represents the application configuration.
type Config struct {
	Policy   PolicyConfig   `mapstructure:"policy"`
	Tunables TunablesConfig `mapstructure:"tunables"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

// Load reads the configuration. When path is empty the file is searched
// for in order:
//   - $XDG_CONFIG_HOME/powerbias/config.yaml
//   - ~/.config/powerbias/config.yaml
//   - /etc/powerbias/config.yaml
//
// A missing file is not an error. Environment variables prefixed with
// POWERBIAS_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range SearchDirs() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("policy.battery_bias", DefaultBatteryBias)
	v.SetDefault("policy.ac_bias", DefaultACBias)

	v.SetDefault("tunables.cores", DefaultCores)
	v.SetDefault("tunables.path_template", DefaultPathTemplate)

	logDefaults := logging.DefaultConfig()
	rotation := logDefaults.Rotation
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console_level", logDefaults.ConsoleLevel)
	v.SetDefault("logging.path", logDefaults.Path) // empty disables the log file
	v.SetDefault("logging.rotation.max_size", humanize.IBytes(uint64(rotation.MaxSize)))
	v.SetDefault("logging.rotation.max_age", rotation.MaxAge)
	v.SetDefault("logging.rotation.max_backups", rotation.MaxBackups)
	v.SetDefault("logging.rotation.daily", rotation.Daily)
	v.SetDefault("logging.components", map[string]string{})

	v.SetDefault("daemon.binary_path", "")
	v.SetDefault("daemon.pid_path", "") // empty means DefaultPIDPath
	v.SetDefault("daemon.status_path", "")
	v.SetDefault("daemon.watch_config", true)
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if _, err := policy.CheckLevel(c.Policy.BatteryBias); err != nil {
		errs = append(errs, fmt.Errorf("policy.battery_bias: %w", err))
	}
	if _, err := policy.CheckLevel(c.Policy.ACBias); err != nil {
		errs = append(errs, fmt.Errorf("policy.ac_bias: %w", err))
	}
	if c.Tunables.Cores < 1 {
		errs = append(errs, fmt.Errorf("tunables.cores: must be at least 1, got %d", c.Tunables.Cores))
	}
	if err := tunable.ValidateTemplate(c.Tunables.PathTemplate); err != nil {
		errs = append(errs, fmt.Errorf("tunables.path_template: %w", err))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.ConsoleLevel != "" {
		if _, err := logging.ParseLevel(c.Logging.ConsoleLevel); err != nil {
			errs = append(errs, fmt.Errorf("logging.console_level: %w", err))
		}
	}
	if c.Logging.Rotation.MaxSize != "" {
		if _, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize); err != nil {
			errs = append(errs, fmt.Errorf("logging.rotation.max_size: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// PowerPolicy returns the bias policy. Call Validate first.
func (c *Config) PowerPolicy() policy.Policy {
	return policy.Policy{
		Battery: policy.Level(c.Policy.BatteryBias),
		AC:      policy.Level(c.Policy.ACBias),
	}
}

// TunableOptions returns the writer options for the configured tunables.
func (c *Config) TunableOptions() tunable.Options {
	return tunable.Options{
		PathTemplate: c.Tunables.PathTemplate,
		CoreCount:    c.Tunables.Cores,
	}
}

// LoggingOptions converts the logging section for logging.Init.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:        c.Logging.Level,
		ConsoleLevel: c.Logging.ConsoleLevel,
		Path:         c.Logging.Path,
		Components:   c.Logging.Components,
		Rotation:     c.Logging.Rotation.parse(),
	}
}

// parse converts the rotation settings. An empty or unparseable size
// falls back to the default.
func (r RotationConfig) parse() logging.RotationConfig {
	out := logging.DefaultRotationConfig()
	if r.MaxSize != "" {
		if size, err := humanize.ParseBytes(r.MaxSize); err == nil && size > 0 {
			out.MaxSize = int64(size)
		}
	}
	out.MaxAge = r.MaxAge
	out.MaxBackups = r.MaxBackups
	out.Daily = r.Daily
	return out
}

// PIDPath returns the configured PID file path or the default.
func (c *Config) PIDPath() string {
	if c.Daemon.PIDPath != "" {
		return c.Daemon.PIDPath
	}
	return DefaultPIDPath()
}

// StatusPath returns the configured status file path or the default.
func (c *Config) StatusPath() string {
	if c.Daemon.StatusPath != "" {
		return c.Daemon.StatusPath
	}
	return DefaultStatusPath()
}

// SearchDirs returns the directories searched for config.yaml, most
// specific first.
func SearchDirs() []string {
	var dirs []string
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		dirs = append(dirs, filepath.Join(xdgConfigHome, "powerbias"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, ".config", "powerbias"))
	}
	return append(dirs, SystemConfigDir)
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "powerbias"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "powerbias"), nil
}

// DataDir returns $XDG_DATA_HOME/powerbias/ for PID and status files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "powerbias")
}

// StateDir returns $XDG_STATE_HOME/powerbias/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "powerbias")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "powerbiasd.pid")
}

// DefaultStatusPath returns the default status file path.
func DefaultStatusPath() string {
	return filepath.Join(DataDir(), "powerbiasd.status")
}

// DefaultLogPath returns the suggested log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "powerbiasd.log")
}

// WriteDefault writes a commented default config file into dir unless one
// exists. It returns the file path.
func WriteDefault(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	logDefaults := logging.DefaultConfig()
	content := fmt.Sprintf(`# powerbias configuration

# energy_perf_bias levels, 0 (performance) to 15 (power saving)
policy:
  battery_bias: %d
  ac_bias: %d

# Per-core tunables; %%d in the template is replaced by the core index
tunables:
  cores: %d
  path_template: %s

logging:
  # Log file level: trace, debug, info, warn, error
  level: %s
  # Console (stdout) level; empty disables console output
  console_level: %s
  # Log file path; empty disables the log file (suggested: %s)
  path: ""
  rotation:
    max_size: 10MiB
    max_age: 14       # days
    max_backups: 3
    daily: false
  # Per-component levels: monitor, tunable, upower, daemon
  components: {}

daemon:
  # Path to powerbiasd (empty means look next to powerbias, then $PATH)
  binary_path: ""
  # Empty means $XDG_DATA_HOME/powerbias/powerbiasd.pid
  pid_path: ""
  # Empty means $XDG_DATA_HOME/powerbias/powerbiasd.status
  status_path: ""
  # Reload policy levels when this file changes
  watch_config: true
`, DefaultBatteryBias, DefaultACBias, DefaultCores, DefaultPathTemplate,
		logDefaults.Level, logDefaults.ConsoleLevel, DefaultLogPath())

	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return configPath, nil
}
