// Package logging provides leveled, component-scoped logging for powerbias.
// Both the daemon and the CLI share this package.
//
// Basic usage:
//
//	cfg := logging.DefaultConfig()
//	if err := logging.Init(cfg); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Close()
//
//	logger := logging.Get("monitor")
//	logger.Trace("on battery", "value", true)
//
// Console output goes to stdout, colorized when stdout is a terminal.
// A rotating log file is added when Config.Path is set.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// charmTrace sits below charm's DebugLevel (-4).
const charmTrace = log.Level(-8)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) toCharmLevel() log.Level {
	switch l {
	case LevelTrace:
		return charmTrace
	case LevelDebug:
		return log.DebugLevel
	case LevelInfo:
		return log.InfoLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default level for the log file.
	Level string

	// ConsoleLevel is the default level for console output.
	// Empty string disables console output.
	ConsoleLevel string

	// Console is where console output goes. Nil means os.Stdout.
	Console io.Writer

	// Path is the log file path. Empty disables the log file.
	Path string

	// Rotation configures log file rotation.
	Rotation RotationConfig

	// Components maps component names to their log levels. An override
	// applies to both sinks.
	Components map[string]string
}

// sinks are the charm loggers a component writes to. A set is never
// modified after it is published; Init and Close swap in a new one.
type sinks struct {
	file    *log.Logger // nil when no log file is configured
	console *log.Logger // nil when console output is disabled
}

// Logger wraps charmbracelet/log with component identification. Loggers
// returned by Get follow later calls to Init and Close, including from
// goroutines that are still logging while the sinks are replaced.
type Logger struct {
	component string
	root      *Logger
	fields    []interface{}
	sinks     atomic.Pointer[sinks]
}

// Trace logs a trace message.
func (l *Logger) Trace(msg string, args ...interface{}) {
	l.log(LevelTrace, msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	s := l.root.sinks.Load()
	if s == nil {
		return
	}
	if len(l.fields) > 0 {
		args = slices.Concat(l.fields, args)
	}
	if s.file != nil {
		s.file.Log(level.toCharmLevel(), msg, args...)
	}
	if s.console != nil {
		s.console.Log(level.toCharmLevel(), msg, args...)
	}
}

// With returns a logger that adds args to every entry. It shares the
// component's sinks.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		component: l.component,
		root:      l.root,
		fields:    slices.Concat(l.fields, args),
	}
}

type state struct {
	mu           sync.RWMutex
	initialized  bool
	writer       *RotatingWriter
	level        Level
	consoleOn    bool
	consoleLevel Level
	console      io.Writer
	components   map[string]Level
	loggers      map[string]*Logger
}

var globalState = &state{
	loggers:    make(map[string]*Logger),
	components: make(map[string]Level),
}

// Init initializes the logging system with the given configuration.
// Before Init is called, all loggers discard their output.
func Init(cfg Config) error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsedLevel, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsedLevel
	}

	consoleOn := false
	var consoleLevel Level
	if cfg.ConsoleLevel != "" {
		consoleLevel, err = ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		consoleOn = true
	}

	var writer *RotatingWriter
	if cfg.Path != "" {
		writer, err = NewRotatingWriter(cfg.Path, cfg.Rotation)
		if err != nil {
			return fmt.Errorf("creating log writer: %w", err)
		}
	}

	previous := globalState.writer

	globalState.level = level
	globalState.components = components
	globalState.consoleOn = consoleOn
	globalState.consoleLevel = consoleLevel
	globalState.console = cfg.Console
	if globalState.console == nil {
		globalState.console = os.Stdout
	}
	globalState.writer = writer
	globalState.initialized = true
	rebind()

	// Entries still in flight on the old writer get os.ErrClosed.
	if previous != nil {
		if err := previous.Close(); err != nil {
			return fmt.Errorf("closing existing writer: %w", err)
		}
	}

	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *Logger {
	globalState.mu.RLock()
	if logger, ok := globalState.loggers[component]; ok {
		globalState.mu.RUnlock()
		return logger
	}
	globalState.mu.RUnlock()

	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	if logger, ok := globalState.loggers[component]; ok {
		return logger
	}

	logger := &Logger{component: component}
	logger.root = logger
	logger.sinks.Store(newSinks(component))
	globalState.loggers[component] = logger
	return logger
}

// rebind publishes fresh sinks to every logger handed out so far. It must
// be called with globalState.mu held.
func rebind() {
	for component, logger := range globalState.loggers {
		logger.sinks.Store(newSinks(component))
	}
}

// newSinks must be called with globalState.mu held. It returns nil, which
// discards every entry, until Init has been called.
func newSinks(component string) *sinks {
	if !globalState.initialized {
		return nil
	}

	override, hasOverride := globalState.components[component]
	s := &sinks{}

	if globalState.writer != nil {
		level := globalState.level
		if hasOverride {
			level = override
		}
		s.file = newCharm(globalState.writer, level, time.RFC3339, component)
	}

	if globalState.consoleOn {
		level := globalState.consoleLevel
		if hasOverride {
			level = override
		}
		s.console = newCharm(globalState.console, level, time.RFC3339, component)
	}

	return s
}

func newCharm(w io.Writer, level Level, timeFormat, prefix string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Level:           level.toCharmLevel(),
		ReportTimestamp: timeFormat != "",
		TimeFormat:      timeFormat,
		Prefix:          prefix,
	})
	logger.SetStyles(styles())
	return logger
}

// styles extends the charm defaults with a style for the trace level,
// which charm would otherwise print without a level label.
func styles() *log.Styles {
	s := log.DefaultStyles()
	s.Levels[charmTrace] = lipgloss.NewStyle().
		SetString("TRACE").
		Bold(true).
		MaxWidth(4).
		Foreground(lipgloss.Color("244"))
	s.Levels[log.DebugLevel] = s.Levels[log.DebugLevel].Foreground(lipgloss.Color("170"))
	return s
}

// Close flushes and closes the log file. Loggers discard their output
// afterwards until the next Init.
func Close() error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	if !globalState.initialized {
		return nil
	}

	writer := globalState.writer
	globalState.writer = nil
	globalState.initialized = false
	globalState.consoleOn = false
	globalState.components = make(map[string]Level)
	rebind()

	if writer != nil {
		if err := writer.Close(); err != nil {
			return fmt.Errorf("closing log writer: %w", err)
		}
	}

	return nil
}

// DefaultConfig returns the daemon's default logging setup: debug and
// above to stdout, no log file.
func DefaultConfig() Config {
	return Config{
		Level:        "info",
		ConsoleLevel: "debug",
		Rotation:     DefaultRotationConfig(),
	}
}
