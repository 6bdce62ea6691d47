// Package upower reads the system power source from the UPower daemon
// over the D-Bus system bus and reports changes to it.
package upower

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/jamesainslie/powerbias/pkg/daemon/monitor"
	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
)

// Well-known UPower names.
const (
	BusName    = "org.freedesktop.UPower"
	ObjectPath = dbus.ObjectPath("/org/freedesktop/UPower")
	Interface  = "org.freedesktop.UPower"

	propOnBattery = "OnBattery"

	propertiesInterface = "org.freedesktop.DBus.Properties"
	propertiesGet       = propertiesInterface + ".Get"
	propertiesChanged   = "PropertiesChanged"
)

// ErrUnexpectedType is returned when OnBattery does not hold a boolean.
var ErrUnexpectedType = errors.New("upower: unexpected property type")

// Client is a connection to UPower. It implements monitor.Source.
type Client struct {
	conn   *dbus.Conn
	object dbus.BusObject
}

var _ monitor.Source = (*Client)(nil)

// Connect opens a connection to the system bus. A failure here is fatal
// for the daemon.
func Connect(ctx context.Context) (*Client, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing bus connection.
func NewClient(conn *dbus.Conn) *Client {
	return &Client{
		conn:   conn,
		object: conn.Object(BusName, ObjectPath),
	}
}

// Close closes the bus connection. Open subscriptions see their event
// channel closed.
func (c *Client) Close() error {
	return c.conn.Close()
}

// OnBattery reads UPower's OnBattery property.
func (c *Client) OnBattery(ctx context.Context) (bool, error) {
	var value dbus.Variant
	call := c.object.CallWithContext(ctx, propertiesGet, 0, Interface, propOnBattery)
	if err := call.Store(&value); err != nil {
		return false, fmt.Errorf("reading %s.%s: %w", Interface, propOnBattery, err)
	}
	return variantBool(value)
}

func variantBool(v dbus.Variant) (bool, error) {
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s has signature %s", ErrUnexpectedType, propOnBattery, v.Signature())
	}
	return b, nil
}

// Subscribe registers for OnBattery changes. Each PropertiesChanged
// signal from UPower that mentions OnBattery becomes one monitor.Event.
func (c *Client) Subscribe(ctx context.Context) (monitor.Subscription, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember(propertiesChanged),
		dbus.WithMatchArg(0, Interface),
	}
	if err := c.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return nil, fmt.Errorf("adding match rule for %s: %w", propertiesChanged, err)
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)

	sub := newSubscription(c, signals, func() {
		c.conn.RemoveSignal(signals)
		if err := c.conn.RemoveMatchSignal(opts...); err != nil {
			logging.Get("upower").Debug("removing match rule", "error", err)
		}
	})
	return sub, nil
}

// subscription turns raw bus signals into monitor events.
type subscription struct {
	reader     reader
	signals    <-chan *dbus.Signal
	events     chan monitor.Event
	done       chan struct{}
	closeOnce  sync.Once
	unregister func()
}

// reader re-reads OnBattery for events that only invalidate it.
type reader interface {
	OnBattery(ctx context.Context) (bool, error)
}

func newSubscription(r reader, signals <-chan *dbus.Signal, unregister func()) *subscription {
	s := &subscription{
		reader:     r,
		signals:    signals,
		events:     make(chan monitor.Event),
		done:       make(chan struct{}),
		unregister: unregister,
	}
	go s.run()
	return s
}

// Events returns the change channel. It is closed when the connection
// goes away or Close is called.
func (s *subscription) Events() <-chan monitor.Event {
	return s.events
}

// Close stops delivery and removes the match rule.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.unregister != nil {
			s.unregister()
		}
	})
	return nil
}

func (s *subscription) run() {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		case sig, ok := <-s.signals:
			if !ok {
				logging.Get("upower").Debug("signal channel closed")
				return
			}
			ev, relevant := parseSignal(sig, s.reader)
			if !relevant {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// change is the event handed to the monitor. When the signal carried the
// new value it is returned directly, otherwise the property is re-read.
type change struct {
	reader   reader
	value    dbus.Variant
	hasValue bool
}

func (c change) OnBattery(ctx context.Context) (bool, error) {
	if c.hasValue {
		return variantBool(c.value)
	}
	return c.reader.OnBattery(ctx)
}

// parseSignal reports whether sig is a PropertiesChanged signal from
// UPower that changes or invalidates OnBattery.
func parseSignal(sig *dbus.Signal, r reader) (change, bool) {
	if sig == nil || sig.Path != ObjectPath || sig.Name != propertiesInterface+"."+propertiesChanged {
		return change{}, false
	}
	if len(sig.Body) < 2 {
		return change{}, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != Interface {
		return change{}, false
	}

	if changed, ok := sig.Body[1].(map[string]dbus.Variant); ok {
		if v, ok := changed[propOnBattery]; ok {
			return change{reader: r, value: v, hasValue: true}, true
		}
	}

	if len(sig.Body) >= 3 {
		if invalidated, ok := sig.Body[2].([]string); ok && slices.Contains(invalidated, propOnBattery) {
			return change{reader: r}, true
		}
	}

	return change{}, false
}
