// Package monitor runs the power-event loop: it applies the bias for the
// current power source once at startup and again every time the power
// source changes, until its context is cancelled or the event stream ends.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
)

// Source is the power-source notification service.
type Source interface {
	// OnBattery reads the current power source.
	OnBattery(ctx context.Context) (bool, error)

	// Subscribe registers for power-source changes.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription delivers power-source change events.
type Subscription interface {
	// Events is closed when the subscription is torn down.
	Events() <-chan Event
	Close() error
}

// Event is a single power-source change. The new value is read from it,
// and the read may fail.
type Event interface {
	OnBattery(ctx context.Context) (bool, error)
}

// Applier writes a bias level to the hardware. It must not block past
// cancellation of ctx and has no failure result.
type Applier interface {
	Apply(ctx context.Context, bias policy.Level)
}

// ApplyFunc observes each batch that was issued.
type ApplyFunc func(state policy.State, bias policy.Level)

// Monitor is the power-event loop.
type Monitor struct {
	source  Source
	applier Applier

	mu     sync.RWMutex
	policy policy.Policy

	refresh <-chan struct{}
	onApply ApplyFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPolicy sets the initial policy. The default is policy.Default().
func WithPolicy(p policy.Policy) Option {
	return func(m *Monitor) {
		m.policy = p
	}
}

// WithRefresh makes the loop re-read and re-apply the current power source
// whenever a value arrives on ch.
func WithRefresh(ch <-chan struct{}) Option {
	return func(m *Monitor) {
		m.refresh = ch
	}
}

// WithOnApply registers fn to run after every issued batch.
func WithOnApply(fn ApplyFunc) Option {
	return func(m *Monitor) {
		m.onApply = fn
	}
}

// New creates a Monitor.
func New(source Source, applier Applier, opts ...Option) *Monitor {
	m := &Monitor{
		source:  source,
		applier: applier,
		policy:  policy.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPolicy replaces the policy used for subsequent batches. Safe to call
// while Run is active.
func (m *Monitor) SetPolicy(p policy.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// Policy returns the current policy.
func (m *Monitor) Policy() policy.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// Run subscribes to the source, applies the current state and then every
// change. It returns nil when ctx is cancelled or the event stream closes.
// Only a failure to subscribe is returned as an error.
func (m *Monitor) Run(ctx context.Context) error {
	log := logging.Get("monitor")

	sub, err := m.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to power source changes: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Debug("closing subscription", "error", err)
		}
	}()

	m.observe(ctx, m.source.OnBattery)

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			log.Debug("power monitor cancelled")
			return nil
		case ev, ok := <-events:
			if !ok {
				log.Debug("power event stream closed")
				return nil
			}
			m.observe(ctx, ev.OnBattery)
		case <-m.refresh:
			log.Debug("refreshing power state")
			m.observe(ctx, m.source.OnBattery)
		}
	}
}

// observe performs one read-decide-apply step.
func (m *Monitor) observe(ctx context.Context, read func(context.Context) (bool, error)) {
	log := logging.Get("monitor")

	onBattery, err := read(ctx)
	if err != nil {
		log.Trace("on battery", "value", "unknown", "error", err)
	} else {
		log.Trace("on battery", "value", onBattery)
	}

	state := policy.StateFromRead(onBattery, err)
	bias, ok := m.Policy().Decide(state)
	if !ok {
		return
	}

	log.Info("applying bias", "state", state, "bias", bias)
	m.applier.Apply(ctx, bias)

	if m.onApply != nil && ctx.Err() == nil {
		m.onApply(state, bias)
	}
}
