// Package output renders a power state report as pretty, plain, JSON or
// YAML text. Formatters are looked up by name in a registry so commands
// can expose them through a single --output flag.
package output

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
	"github.com/jamesainslie/powerbias/pkg/powerbias/tunable"
)

// Tunable is the value held by one per-core tunable file.
type Tunable struct {
	Path  string `json:"path" yaml:"path"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Readable reports whether the file could be read.
func (t Tunable) Readable() bool {
	return t.Error == ""
}

// Report is the data rendered by a Formatter.
type Report struct {
	// State is the power source observed.
	State policy.State

	// Bias is the level the policy chooses for State, nil when the policy
	// makes no decision.
	Bias *policy.Level

	// Tunables lists every core's tunable in core index order.
	Tunables []Tunable
}

// NewReport builds a report from the observed state, the policy in effect
// and the tunable readings.
func NewReport(state policy.State, p policy.Policy, readings []tunable.Reading) *Report {
	r := &Report{State: state}
	if bias, ok := p.Decide(state); ok {
		r.Bias = &bias
	}

	r.Tunables = make([]Tunable, len(readings))
	for i, reading := range readings {
		t := Tunable{Path: reading.Path, Value: reading.Value}
		if reading.Err != nil {
			t.Value = ""
			t.Error = reading.Err.Error()
		}
		r.Tunables[i] = t
	}
	return r
}

// Matching returns how many readable tunables hold the policy bias.
func (r *Report) Matching() int {
	if r.Bias == nil {
		return 0
	}
	want := r.Bias.String()
	n := 0
	for _, t := range r.Tunables {
		if t.Readable() && t.Value == want {
			n++
		}
	}
	return n
}

// Formatter renders a Report.
type Formatter interface {
	Format(w io.Writer, r *Report) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps formatter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a factory, replacing any existing one with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (available: %v)", name, r.available())
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available()
}

func (r *Registry) available() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns the names in the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
