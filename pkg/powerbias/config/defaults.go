// Package config provides configuration management for powerbias.
package config

import (
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
	"github.com/jamesainslie/powerbias/pkg/powerbias/tunable"
)

// Default configuration values. With no config file present the daemon
// behaves exactly as with these values.
const (
	// DefaultBatteryBias is the bias applied while on battery.
	DefaultBatteryBias = int(policy.DefaultBatteryLevel)

	// DefaultACBias is the bias applied while on AC power.
	DefaultACBias = int(policy.DefaultACLevel)

	// DefaultCores is the number of per-core tunables written.
	DefaultCores = tunable.DefaultCoreCount

	// DefaultPathTemplate is the per-core tunable path.
	DefaultPathTemplate = tunable.DefaultPathTemplate

	// EnvPrefix prefixes environment overrides, e.g. POWERBIAS_POLICY_AC_BIAS.
	EnvPrefix = "POWERBIAS"

	// SystemConfigDir is searched after the per-user directories.
	SystemConfigDir = "/etc/powerbias"
)
