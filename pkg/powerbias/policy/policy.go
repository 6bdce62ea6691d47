// Package policy maps the system power source to a CPU energy/performance
// bias level. It is the only decision the daemon makes: on battery the CPUs
// are biased towards power saving, on AC towards performance, and when the
// power source cannot be determined nothing is changed.
package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// State is the observed power source.
type State int

// Power states. Unknown is the zero value so an unset State never
// triggers a write.
const (
	Unknown State = iota
	OnAC
	OnBattery
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case OnAC:
		return "on-ac"
	case OnBattery:
		return "on-battery"
	default:
		return "unknown"
	}
}

// StateFromRead converts the result of reading the OnBattery property
// into a State. Any read error yields Unknown.
func StateFromRead(onBattery bool, err error) State {
	if err != nil {
		return Unknown
	}
	if onBattery {
		return OnBattery
	}
	return OnAC
}

// Level is an energy_perf_bias value. 0 favours performance, 15 favours
// power saving.
type Level uint8

// Bias range accepted by the kernel.
const (
	MinLevel Level = 0
	MaxLevel Level = 15
)

// Default levels for each power source.
const (
	DefaultBatteryLevel = MaxLevel
	DefaultACLevel      = MinLevel
)

// String returns the decimal text written to the tunable.
func (l Level) String() string {
	return strconv.FormatUint(uint64(l), 10)
}

// ErrInvalidLevel is returned when a bias level is outside 0..15.
var ErrInvalidLevel = errors.New("invalid bias level")

// ParseLevel parses a decimal bias level.
func ParseLevel(s string) (Level, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return CheckLevel(int(n))
}

// CheckLevel converts n to a Level, rejecting values outside the range.
func CheckLevel(n int) (Level, error) {
	if n < int(MinLevel) || n > int(MaxLevel) {
		return 0, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidLevel, n, MinLevel, MaxLevel)
	}
	return Level(n), nil
}

// Policy holds the bias applied for each known power source.
type Policy struct {
	Battery Level
	AC      Level
}

// Default returns the reference policy: 15 on battery, 0 on AC.
func Default() Policy {
	return Policy{
		Battery: DefaultBatteryLevel,
		AC:      DefaultACLevel,
	}
}

// Decide returns the level for a state. ok is false for Unknown, in which
// case no tunable must be written.
func (p Policy) Decide(s State) (level Level, ok bool) {
	switch s {
	case OnBattery:
		return p.Battery, true
	case OnAC:
		return p.AC, true
	default:
		return 0, false
	}
}
