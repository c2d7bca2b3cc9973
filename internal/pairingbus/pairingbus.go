// Package pairingbus exposes the pairing toggle and per-dongle LED
// state as a small D-Bus object (SPEC_FULL.md's "D-Bus pairing/LED
// surface"): this daemon runs in userspace with no real sysfs tree to
// publish the §6 CLI surface into, so it publishes the same knobs over
// the session/system bus instead.
package pairingbus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

// errInvalidArg is returned to D-Bus callers that set a property with
// the wrong signature.
var errInvalidArg = errors.New("pairingbus: invalid property value")

// objectPathPrefix is the D-Bus object path this package exports one object
// per dongle under, suffixed with the dongle's adapter id
// ("/io/github/gip/Dongle0", "/io/github/gip/Dongle1", ...).
const objectPathPrefix = "/io/github/gip/Dongle"

// InterfaceName is the D-Bus interface name for the exported object.
const InterfaceName = "io.github.gip.Dongle1"

// BusName is the well-known name this daemon requests on the bus.
const BusName = "io.github.gip"

// Controller is the dongle-side collaborator this object drives: it
// owns the actual pairing mutex and LED state (internal/dongle.Multiplexer
// satisfies this interface without modification).
type Controller interface {
	SetPairing(enabled bool) error
	Pairing() bool
}

// LEDSetter lets the bus object also drive the LED, independent of
// association state (SPEC_FULL.md's "Leds property").
type LEDSetter interface {
	SetMode(mode int32)
}

// Object is the exported D-Bus object for one dongle (SPEC_FULL.md:
// "PairingEnabled property + Leds property + PairingStateChanged
// signal").
type Object struct {
	conn      *dbus.Conn
	path      dbus.ObjectPath
	adapterID int
	controller Controller
	led        LEDSetter
	logger     *slog.Logger

	mu        sync.Mutex
	ledMode   int32
	ledBright int32

	props *prop.Properties
}

// Export publishes a dongle's pairing/LED object on conn, requesting
// BusName if not already owned. Grounded on the standard godbus/dbus
// prop.Export pattern: a prop.Properties table backs PairingEnabled and
// Leds, with emitted PropertiesChanged signals on every Set, and
// org.freedesktop.DBus.Introspectable is served from a generated
// introspection XML.
func Export(conn *dbus.Conn, adapterID int, controller Controller, led LEDSetter, logger *slog.Logger) (*Object, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := dbus.ObjectPath(fmt.Sprintf("%s%d", objectPathPrefix, adapterID))

	o := &Object{
		conn:       conn,
		path:       path,
		adapterID:  adapterID,
		controller: controller,
		led:        led,
		logger:     logger.With(slog.String("component", "pairingbus"), slog.Int("adapter", adapterID)),
	}

	propsSpec := prop.Map{
		InterfaceName: {
			"PairingEnabled": {
				Value:    controller.Pairing(),
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: o.onSetPairingEnabled,
			},
			"Leds": {
				Value:    o.ledsVariant(),
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: o.onSetLeds,
			},
		},
	}

	props, err := prop.Export(conn, path, propsSpec)
	if err != nil {
		return nil, fmt.Errorf("pairingbus: export properties: %w", err)
	}
	o.props = props

	if err := conn.Export(o, path, InterfaceName); err != nil {
		return nil, fmt.Errorf("pairingbus: export methods: %w", err)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: InterfaceName,
				Properties: []introspect.Property{
					{Name: "PairingEnabled", Type: "b", Access: "readwrite"},
					{Name: "Leds", Type: "(ii)", Access: "readwrite"},
				},
				Signals: []introspect.Signal{
					{
						Name: "PairingStateChanged",
						Args: []introspect.Arg{{Name: "enabled", Type: "b", Direction: "out"}},
					},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("pairingbus: export introspection: %w", err)
	}

	if _, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue); err != nil {
		logger.Warn("could not request bus name, continuing without it", slog.String("error", err.Error()))
	}

	return o, nil
}

// onSetPairingEnabled is the property-set callback for PairingEnabled:
// it drives the real Controller and emits PairingStateChanged on
// success, rather than merely caching the written value.
func (o *Object) onSetPairingEnabled(c *prop.Change) *dbus.Error {
	enabled, ok := c.Value.(bool)
	if !ok {
		return dbus.MakeFailedError(errInvalidArg)
	}

	if err := o.controller.SetPairing(enabled); err != nil {
		o.logger.Error("set pairing via dbus failed", slog.String("error", err.Error()))
		return dbus.MakeFailedError(err)
	}

	o.EmitPairingStateChanged(enabled)
	return nil
}

// onSetLeds is the property-set callback for Leds: (mode, brightness).
func (o *Object) onSetLeds(c *prop.Change) *dbus.Error {
	pair, ok := c.Value.([]interface{})
	if !ok || len(pair) != 2 {
		return dbus.MakeFailedError(errInvalidArg)
	}
	mode, ok1 := pair[0].(int32)
	bright, ok2 := pair[1].(int32)
	if !ok1 || !ok2 {
		return dbus.MakeFailedError(errInvalidArg)
	}

	o.mu.Lock()
	o.ledMode = mode
	o.ledBright = bright
	o.mu.Unlock()

	if o.led != nil {
		o.led.SetMode(mode)
	}
	return nil
}

func (o *Object) ledsVariant() [2]int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return [2]int32{o.ledMode, o.ledBright}
}

// EmitPairingStateChanged sends the PairingStateChanged signal, used
// both by the property-set callback and by internal/dongle's watchdog
// auto-disable so bus listeners observe the transition regardless of
// which side initiated it.
func (o *Object) EmitPairingStateChanged(enabled bool) {
	if o.conn == nil {
		return
	}
	if err := o.conn.Emit(o.path, InterfaceName+".PairingStateChanged", enabled); err != nil {
		o.logger.Warn("emit PairingStateChanged failed", slog.String("error", err.Error()))
	}
}

// SetLedState updates the cached LED property value and notifies bus
// listeners, called by internal/dongle whenever it drives the LED
// itself (association/disassociation), so the Leds property stays in
// sync with state changes that did not originate from a D-Bus Set.
func (o *Object) SetLedState(mode, brightness int32) {
	o.mu.Lock()
	o.ledMode = mode
	o.ledBright = brightness
	o.mu.Unlock()

	if o.props != nil {
		o.props.SetMust(InterfaceName, "Leds", [2]int32{mode, brightness})
	}
}
