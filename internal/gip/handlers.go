package gip

import (
	"context"
	"encoding/binary"
	"fmt"
)

// This file implements the internal message handlers (spec.md §4.4):
// dispatch of INTERNAL-flagged commands, the Identify payload parser,
// and battery-status decoding.

// handleInternal dispatches an INTERNAL command to its handler. Unknown
// internal commands are ignored rather than rejected: spec.md §4.4 lists
// the commands the core "must implement, at minimum", leaving room for
// codes this host stack does not need to act on.
func (a *Adapter) handleInternal(ctx context.Context, c *Client, hdr Header, payload []byte) error {
	switch hdr.Command {
	case CmdAcknowledge:
		// Consume; no state change (spec.md §4.4 row 0x01).
		return nil

	case CmdAnnounce:
		return a.handleAnnounce(c, payload)

	case CmdStatus:
		return a.handleStatus(c, payload)

	case CmdIdentify:
		return a.handleIdentify(c, payload)

	case CmdVirtualKey:
		return a.handleVirtualKey(c, payload)

	case CmdAuthenticate:
		return a.handleAuthenticate(ctx, c, hdr, payload)

	case CmdAudioControl:
		return a.handleAudioControl(c, payload)

	default:
		return nil
	}
}

// handleAnnounce parses an Announce payload and advances the client
// Connected -> Announced (spec.md §4.4 row 0x02).
//
// Payload layout: 6-byte MAC, u16 vendor, u16 product, u32 fw, u32 hw
// (little-endian), matching the field order in spec.md §3's "hardware
// identity".
func (a *Adapter) handleAnnounce(c *Client, payload []byte) error {
	if len(payload) < 18 {
		return fmt.Errorf("gip: announce payload too short: %w", ErrMalformedHeader)
	}

	var id Identity
	copy(id.MAC[:], payload[0:6])
	id.Vendor = binary.LittleEndian.Uint16(payload[6:8])
	id.Product = binary.LittleEndian.Uint16(payload[8:10])
	id.FwVer = binary.LittleEndian.Uint32(payload[10:14])
	id.HwVer = binary.LittleEndian.Uint32(payload[14:18])

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	r := c.applyEvent(EventAnnounce)
	return a.runActions(c, r.Actions)
}

// BatteryType is the battery chemistry/presence reported by Status.
type BatteryType int

const (
	BatteryNotCharging BatteryType = iota
	BatteryDischarging
)

// BatteryLevel is the coarse charge level reported by Status.
type BatteryLevel int

const (
	BatteryLow BatteryLevel = iota
	BatteryNormal
	BatteryHigh
	BatteryFull
)

// decodeBattery implements spec.md §4.4's "Battery decoding": `type =
// (status >> 2) & 3`, `level = status & 3`. Type None (0) maps to
// NotCharging/Unknown; otherwise status is Discharging and level maps
// onto {Low, Normal, High, Full}.
func decodeBattery(status byte) (BatteryType, BatteryLevel) {
	typ := (status >> 2) & 3
	level := BatteryLevel(status & 3)

	if typ == 0 {
		return BatteryNotCharging, level
	}
	return BatteryDischarging, level
}

// handleStatus parses a Status payload, decodes battery state, and
// drives disconnect on a clear connected bit (spec.md §4.4 row 0x03,
// §4.3's "arrival of Status with the connected-bit clear transitions to
// Disconnected").
//
// Payload layout: byte 0 bit 0 is the connected bit, the remaining bits
// of byte 0 and the following byte(s) are padding/battery status per
// spec.md §4.4's battery decoding on the same status byte.
func (a *Adapter) handleStatus(c *Client, payload []byte) error {
	if len(payload) < 1 {
		return fmt.Errorf("gip: status payload too short: %w", ErrMalformedHeader)
	}

	status := payload[0]
	connected := status&0x01 != 0

	_, _ = decodeBattery(status)

	if !connected {
		r := c.applyEvent(EventStatusDisconnect)
		return a.runActions(c, r.Actions)
	}
	return nil
}

// handleVirtualKey forwards a guide-button press/release to the bound
// driver (spec.md §4.4 row 0x07). No-op if no driver is bound.
func (a *Adapter) handleVirtualKey(c *Client, payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("gip: virtual key payload too short: %w", ErrMalformedHeader)
	}

	keyCode := payload[0]
	pressed := payload[1] != 0

	c.withDriverLocked(func(d Driver) {
		if fwd, ok := d.(VirtualKeyForwarder); ok {
			fwd.VirtualKey(c, keyCode, pressed)
		}
	})
	return nil
}

// VirtualKeyForwarder is implemented by drivers that care about guide
// button events (spec.md §4.4 row 0x07).
type VirtualKeyForwarder interface {
	VirtualKey(c *Client, keyCode byte, pressed bool)
}

// runActions executes the side effects of an FSM transition (fsm.go's
// Action constants).
func (a *Adapter) runActions(c *Client, actions []Action) error {
	for _, act := range actions {
		switch act {
		case ActionRequestIdentify:
			if err := a.Send(c.ID, Header{Command: CmdIdentify, Flags: FlagInternal}, nil); err != nil {
				return err
			}

		case ActionRegisterDriver:
			a.post(func() {
				if err := a.Bus.matchDriver(c); err != nil {
					a.Log.Warn("gip: driver probe failed", "client", c.ID, "error", err)
					return
				}
				c.withDriverLocked(func(d Driver) {
					if neg, ok := d.(AudioNegotiator); ok {
						if err := a.negotiateAudio(c, neg); err != nil {
							a.Log.Warn("gip: audio negotiation failed", "client", c.ID, "error", err)
						}
					}
				})
			})

		case ActionScheduleRemoval:
			a.post(func() {
				a.Bus.Remove(c.ID)
			})
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Identify parser — spec.md §4.4
// -------------------------------------------------------------------------

const identifyPrefixLen = 16

// identify table item lengths (spec.md §4.4).
const (
	itemLenExternalCommand = 24
	itemLenFirmwareVersion = 4
	itemLenAudioFormatPair = 2
	itemLenCapability      = 1
	itemLenInterfaceGUID   = 16
)

// handleIdentify parses an Identify payload and advances the client
// Announced -> Identified (spec.md §4.4 row 0x04, §4.4's "Identify
// parser").
func (a *Adapter) handleIdentify(c *Client, payload []byte) error {
	tables, err := parseIdentify(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()

	r := c.applyEvent(EventIdentifyReply)
	return a.runActions(c, r.Actions)
}

// parseIdentify implements spec.md §4.4's "Identify parser": a 16-byte
// unknown prefix followed by eight little-endian u16 offsets into the
// full blob, in the order external-commands, firmware-versions,
// audio-formats, capabilities-out, capabilities-in, classes, interfaces,
// hid-descriptor. Zero offsets mean "not present". Offsets whose region
// would fall outside the blob are rejected with ErrMalformedIdentify.
func parseIdentify(payload []byte) (*IdentifyTables, error) {
	const numOffsets = 8
	if len(payload) < identifyPrefixLen+numOffsets*2 {
		return nil, fmt.Errorf("gip: identify payload too short for offset table: %w", ErrMalformedIdentify)
	}

	var offsets [numOffsets]uint16
	for i := range offsets {
		start := identifyPrefixLen + i*2
		offsets[i] = binary.LittleEndian.Uint16(payload[start : start+2])
	}

	t := &IdentifyTables{}
	var err error

	if t.ExternalCommands, err = parseExternalCommands(payload, offsets[0]); err != nil {
		return nil, err
	}
	if t.FirmwareVersions, err = parseFirmwareVersions(payload, offsets[1]); err != nil {
		return nil, err
	}
	if t.AudioFormats, err = parseAudioFormats(payload, offsets[2]); err != nil {
		return nil, err
	}
	if t.CapabilitiesOut, err = parseCapabilities(payload, offsets[3]); err != nil {
		return nil, err
	}
	if t.CapabilitiesIn, err = parseCapabilities(payload, offsets[4]); err != nil {
		return nil, err
	}
	if t.Classes, err = parseClasses(payload, offsets[5]); err != nil {
		return nil, err
	}
	if t.Interfaces, err = parseInterfaces(payload, offsets[6]); err != nil {
		return nil, err
	}
	if t.HIDDescriptor, err = parseHIDDescriptor(payload, offsets[7]); err != nil {
		return nil, err
	}

	return t, nil
}

// countedRegion validates and returns the count byte plus the item
// region that follows it at offset in payload, for a table of
// fixed-size items.
func countedRegion(payload []byte, offset uint16, itemLen int) (count int, items []byte, err error) {
	if offset == 0 {
		return 0, nil, nil
	}
	o := int(offset)
	if o >= len(payload) {
		return 0, nil, fmt.Errorf("gip: identify offset %d outside blob (len %d): %w", o, len(payload), ErrMalformedIdentify)
	}

	count = int(payload[o])
	need := o + 1 + count*itemLen
	if need > len(payload) {
		return 0, nil, fmt.Errorf("gip: identify region at %d needs %d bytes, blob has %d: %w", o, need, len(payload), ErrMalformedIdentify)
	}

	return count, payload[o+1 : need], nil
}

func parseExternalCommands(payload []byte, offset uint16) ([]ExternalCommand, error) {
	count, items, err := countedRegion(payload, offset, itemLenExternalCommand)
	if err != nil || count == 0 {
		return nil, err
	}

	out := make([]ExternalCommand, count)
	for i := range out {
		item := items[i*itemLenExternalCommand : (i+1)*itemLenExternalCommand]
		out[i].Command = item[0]
		copy(out[i].Raw[:], item[1:])
	}
	return out, nil
}

func parseFirmwareVersions(payload []byte, offset uint16) ([]FirmwareVersion, error) {
	count, items, err := countedRegion(payload, offset, itemLenFirmwareVersion)
	if err != nil || count == 0 {
		return nil, err
	}

	out := make([]FirmwareVersion, count)
	for i := range out {
		item := items[i*itemLenFirmwareVersion : (i+1)*itemLenFirmwareVersion]
		out[i].Major = binary.LittleEndian.Uint16(item[0:2])
		out[i].Minor = binary.LittleEndian.Uint16(item[2:4])
	}
	return out, nil
}

func parseAudioFormats(payload []byte, offset uint16) ([]AudioFormatPair, error) {
	count, items, err := countedRegion(payload, offset, itemLenAudioFormatPair)
	if err != nil || count == 0 {
		return nil, err
	}

	out := make([]AudioFormatPair, count)
	for i := range out {
		item := items[i*itemLenAudioFormatPair : (i+1)*itemLenAudioFormatPair]
		out[i].In = item[0]
		out[i].Out = item[1]
	}
	return out, nil
}

func parseCapabilities(payload []byte, offset uint16) ([]byte, error) {
	count, items, err := countedRegion(payload, offset, itemLenCapability)
	if err != nil || count == 0 {
		return nil, err
	}

	out := make([]byte, count)
	copy(out, items)
	return out, nil
}

func parseInterfaces(payload []byte, offset uint16) ([][16]byte, error) {
	count, items, err := countedRegion(payload, offset, itemLenInterfaceGUID)
	if err != nil || count == 0 {
		return nil, err
	}

	out := make([][16]byte, count)
	for i := range out {
		copy(out[i][:], items[i*itemLenInterfaceGUID:(i+1)*itemLenInterfaceGUID])
	}
	return out, nil
}

func parseHIDDescriptor(payload []byte, offset uint16) ([]byte, error) {
	if offset == 0 {
		return nil, nil
	}
	o := int(offset)
	if o >= len(payload) {
		return nil, fmt.Errorf("gip: hid-descriptor offset %d outside blob (len %d): %w", o, len(payload), ErrMalformedIdentify)
	}
	// The HID descriptor region has no count byte of its own in this
	// host's reading of the table: it runs to the end of the blob.
	out := make([]byte, len(payload)-o)
	copy(out, payload[o:])
	return out, nil
}

// parseClasses implements the classes region: a count byte followed by
// count length-prefixed UTF-8 strings, each stored null-terminated for
// later matching (spec.md §4.4).
func parseClasses(payload []byte, offset uint16) ([]string, error) {
	if offset == 0 {
		return nil, nil
	}
	o := int(offset)
	if o >= len(payload) {
		return nil, fmt.Errorf("gip: classes offset %d outside blob (len %d): %w", o, len(payload), ErrMalformedIdentify)
	}

	count := int(payload[o])
	pos := o + 1

	classes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if pos >= len(payload) {
			return nil, fmt.Errorf("gip: classes region truncated: %w", ErrMalformedIdentify)
		}
		strLen := int(payload[pos])
		pos++
		if pos+strLen > len(payload) {
			return nil, fmt.Errorf("gip: classes region truncated: %w", ErrMalformedIdentify)
		}
		classes = append(classes, string(payload[pos:pos+strLen]))
		pos += strLen
	}

	return classes, nil
}
