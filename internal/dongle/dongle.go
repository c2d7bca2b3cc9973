// Package dongle implements the L6 dongle multiplexer (spec.md §4.6): it
// demultiplexes incoming 802.11 association/disassociation events from a
// wireless adapter into per-WCID GIP client lifecycles, and frames
// outbound GIP bytes for the wire.
//
// Grounded on the teacher's internal/bfd/manager.go for the
// ordered-work-queue + mutex-guarded-map shape (there, BFD sessions keyed
// by discriminator; here, dongle clients keyed by WCID), and on its
// internal/bfd/session.go for the per-entity state-plus-driver record.
package dongle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gip-host/gogip/internal/gip"
)

// Sentinel errors for the dongle package.
var (
	// ErrNoWCID indicates all 16 WCID slots are occupied.
	ErrNoWCID = errors.New("dongle: no free WCID slot")

	// ErrUnknownWCID indicates an operation referenced a WCID with no
	// associated client record.
	ErrUnknownWCID = errors.New("dongle: unknown WCID")
)

const maxWCID = 16

// pairingWatchdog is the auto-disable timeout for pairing mode (spec.md
// §4.6: "start a 30 s timer that auto-disables").
const pairingWatchdog = 30 * time.Second

// RadioMAC is the external radio-MAC dependency (spec.md §4.6's "Call the
// radio-MAC (external)"): the actual 802.11 association bookkeeping and
// beacon control, implemented by the real MT76-class driver glue, out of
// scope for this module.
type RadioMAC interface {
	// Associate binds wcid to mac on the radio.
	Associate(wcid uint8, mac [6]byte) error

	// Unbind releases wcid on the radio.
	Unbind(wcid uint8) error

	// PairClient installs mac as a newly paired peer.
	PairClient(mac [6]byte) error

	// SetPairingBeacons enables or disables acceptance of pairing
	// beacons on the radio.
	SetPairingBeacons(enabled bool) error

	// MAC reports the dongle's own radio MAC address, used as the
	// source/BSSID address in the client-to-wire QoS header (spec.md
	// §4.6's "Client-to-wire path").
	MAC() [6]byte
}

// LED is the external LED control dependency (spec.md §4.6/§6: "Drive LED
// to...", "a per-device LED exposes mode and brightness attributes").
type LED interface {
	SetMode(mode LEDMode)
}

// PairingNotifier is the external pairing-state observer (spec.md §4.6,
// §6's D-Bus "PairingEnabled" property): notified whenever pairing mode
// transitions, whether by explicit SetPairing or by watchdog auto-disable,
// so a control-plane surface can mirror the dongle's real pairing state.
type PairingNotifier interface {
	EmitPairingStateChanged(enabled bool)
}

// LEDMode is the dongle's LED state.
type LEDMode int

// LED states (spec.md §4.6).
const (
	LEDOff LEDMode = iota
	LEDOn
	LEDBlink
)

func (m LEDMode) String() string {
	switch m {
	case LEDOff:
		return "off"
	case LEDOn:
		return "on"
	case LEDBlink:
		return "blink"
	default:
		return "unknown"
	}
}

// workItem is a deferred dongle event, matching the adapter's own ordered
// work queue pattern (spec.md §4.6: "Serialisation... funnelled through
// an ordered work queue").
type workItem func()

// client is one WCID's dongle-level record (spec.md §3's "Dongle
// client"): the wireless association state layered on top of a gip.Client.
type client struct {
	WCID              uint8
	MAC               [6]byte
	EncryptionEnabled bool
	GIPClient         *gip.Client
}

// Multiplexer demultiplexes 802.11 association events into per-WCID GIP
// clients on a single gip.Adapter, and owns pairing mode and the LED.
type Multiplexer struct {
	adapter   *gip.Adapter
	radio     RadioMAC
	led       LED
	notifier  PairingNotifier
	dongleMAC [6]byte
	logger    *slog.Logger

	mu      sync.Mutex
	clients [maxWCID]*client

	pairingMu      sync.Mutex
	pairingEnabled bool
	pairingTimer   *time.Timer

	workCh chan workItem
	stopCh chan struct{}
	wg     sync.WaitGroup

	// allGone is closed and replaced each time the client set transitions
	// to empty, so PowerOff-style waiters can block on "all clients gone"
	// (spec.md §4.6 step 4, §5's "wait up to 5 s for client_count to
	// reach zero").
	allGoneMu sync.Mutex
	allGone   chan struct{}
}

// New constructs a Multiplexer bound to adapter, using radio and led for
// the external effects association/disassociation/pairing require.
func New(adapter *gip.Adapter, radio RadioMAC, led LED, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Multiplexer{
		adapter:   adapter,
		radio:     radio,
		led:       led,
		dongleMAC: radio.MAC(),
		logger:    logger.With(slog.String("component", "dongle.multiplexer")),
		workCh:    make(chan workItem, 64),
		stopCh:    make(chan struct{}),
		allGone:   make(chan struct{}),
	}
	close(m.allGone) // starts with zero clients.

	m.wg.Add(1)
	go m.runWorkQueue()

	return m
}

// SetPairingNotifier attaches notifier as the observer of future pairing
// state transitions. Not safe to call concurrently with SetPairing.
func (m *Multiplexer) SetPairingNotifier(notifier PairingNotifier) {
	m.notifier = notifier
}

func (m *Multiplexer) runWorkQueue() {
	defer m.wg.Done()
	for {
		select {
		case item := <-m.workCh:
			item()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Multiplexer) post(item workItem) {
	select {
	case m.workCh <- item:
	case <-m.stopCh:
	}
}

// HandleAssociate processes an 802.11 ASSOC_REQ from mac (spec.md §4.6's
// "Association event"). The receive path only allocates the event
// record; the actual work runs on the ordered queue.
func (m *Multiplexer) HandleAssociate(mac [6]byte) {
	m.post(func() { m.associate(mac) })
}

func (m *Multiplexer) associate(mac [6]byte) {
	wcid, err := m.allocateWCID()
	if err != nil {
		m.logger.Error("association failed", slog.String("error", err.Error()))
		return
	}

	c := &client{WCID: wcid, MAC: mac}

	gc, err := m.adapter.Bus.ClientAt(m.adapter, wcid-1)
	if err != nil {
		m.logger.Error("create adapter client failed",
			slog.Int("wcid", int(wcid)), slog.String("error", err.Error()))
		return
	}
	c.GIPClient = gc

	if err := m.radio.Associate(wcid, mac); err != nil {
		m.logger.Error("radio associate failed",
			slog.Int("wcid", int(wcid)), slog.String("error", err.Error()))
		m.adapter.Bus.Remove(wcid - 1)
		return
	}

	m.mu.Lock()
	m.clients[wcid-1] = c
	m.mu.Unlock()

	m.closeAllGoneGate()
	m.updateLEDLocked()

	m.logger.Info("client associated", slog.Int("wcid", int(wcid)),
		slog.String("mac", macString(mac)))
}

// HandleDisassociate processes a DISASSOC, client-lost event, or teardown
// for wcid (spec.md §4.6's "Disassociation event"). Idempotent: repeated
// calls for an unknown WCID are a no-op (spec.md §7).
func (m *Multiplexer) HandleDisassociate(wcid uint8) {
	m.post(func() { m.disassociate(wcid) })
}

func (m *Multiplexer) disassociate(wcid uint8) {
	if wcid == 0 || wcid > maxWCID {
		return
	}

	m.mu.Lock()
	c := m.clients[wcid-1]
	if c == nil {
		m.mu.Unlock()
		return
	}
	m.clients[wcid-1] = nil
	remaining := m.countClientsLocked()
	m.mu.Unlock()

	m.adapter.Bus.Remove(wcid - 1)

	if err := m.radio.Unbind(wcid); err != nil {
		m.logger.Warn("radio unbind failed",
			slog.Int("wcid", int(wcid)), slog.String("error", err.Error()))
	}

	if remaining == 0 {
		m.setAllGone()
		m.pairingMu.Lock()
		pairing := m.pairingEnabled
		m.pairingMu.Unlock()
		if !pairing {
			m.led.SetMode(LEDOff)
		}
	}

	m.logger.Info("client disassociated", slog.Int("wcid", int(wcid)))
}

// FrameOutbound wraps payload (GIP-encoded bytes bound for the client at
// clientID) in spec.md §4.6's Client-to-wire path framing, using the MAC
// address and encryption state HandleAssociate recorded for that client.
// Returns ErrUnknownWCID if the client is not currently associated.
func (m *Multiplexer) FrameOutbound(clientID uint8, payload []byte) ([]byte, error) {
	wcid := clientID + 1

	m.mu.Lock()
	var c *client
	if wcid >= 1 && int(wcid) <= maxWCID {
		c = m.clients[wcid-1]
	}
	m.mu.Unlock()
	if c == nil {
		return nil, ErrUnknownWCID
	}

	audio := len(payload) > 0 && payload[0] == gip.CmdAudioSamples
	return frameToWire(wcid, m.dongleMAC, c.MAC, audio, c.EncryptionEnabled, payload), nil
}

// FrameInbound strips spec.md §4.6's Client-to-wire path framing from a
// raw frame read off the bulk endpoint, returning the GIP client id (the
// WCID the descriptor names, minus one) and the GIP payload inside.
func (m *Multiplexer) FrameInbound(raw []byte) (clientID uint8, payload []byte, err error) {
	wcid, body, err := frameFromWire(raw)
	if err != nil {
		return 0, nil, err
	}
	if wcid == 0 {
		return 0, nil, ErrUnknownWCID
	}
	return wcid - 1, body, nil
}

// allocateWCID scans clients[0..15] for the lowest empty slot (spec.md
// §4.6's "WCID allocation").
func (m *Multiplexer) allocateWCID() (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.clients {
		if c == nil {
			return uint8(i + 1), nil
		}
	}
	return 0, ErrNoWCID
}

func (m *Multiplexer) countClientsLocked() int {
	n := 0
	for _, c := range m.clients {
		if c != nil {
			n++
		}
	}
	return n
}

// updateLEDLocked drives the LED after an association, per spec.md §4.6
// step 3: "on" when pairing is off, left as "blink" when pairing is on.
func (m *Multiplexer) updateLEDLocked() {
	m.pairingMu.Lock()
	pairing := m.pairingEnabled
	m.pairingMu.Unlock()

	if !pairing {
		m.led.SetMode(LEDOn)
	}
}

// -------------------------------------------------------------------------
// Pairing mode (spec.md §4.6 "Pairing mode")
// -------------------------------------------------------------------------

// SetPairing toggles pairing mode. Re-enabling while already enabled is a
// no-op (spec.md §4.6).
func (m *Multiplexer) SetPairing(enabled bool) error {
	m.pairingMu.Lock()
	defer m.pairingMu.Unlock()

	if enabled {
		if m.pairingEnabled {
			return nil
		}
		if err := m.radio.SetPairingBeacons(true); err != nil {
			return fmt.Errorf("enable pairing: %w", err)
		}
		m.pairingEnabled = true
		m.led.SetMode(LEDBlink)
		m.pairingTimer = time.AfterFunc(pairingWatchdog, m.autoDisablePairing)
		if m.notifier != nil {
			m.notifier.EmitPairingStateChanged(true)
		}
		return nil
	}

	if !m.pairingEnabled {
		return nil
	}
	if err := m.radio.SetPairingBeacons(false); err != nil {
		return fmt.Errorf("disable pairing: %w", err)
	}
	m.pairingEnabled = false
	if m.pairingTimer != nil {
		m.pairingTimer.Stop()
		m.pairingTimer = nil
	}
	m.updateLEDAfterPairingDisableLocked()
	if m.notifier != nil {
		m.notifier.EmitPairingStateChanged(false)
	}
	return nil
}

// Pairing reports whether pairing mode is currently enabled.
func (m *Multiplexer) Pairing() bool {
	m.pairingMu.Lock()
	defer m.pairingMu.Unlock()
	return m.pairingEnabled
}

func (m *Multiplexer) autoDisablePairing() {
	m.logger.Info("pairing watchdog expired, auto-disabling")
	if err := m.SetPairing(false); err != nil {
		m.logger.Error("auto-disable pairing failed", slog.String("error", err.Error()))
	}
}

// updateLEDAfterPairingDisableLocked sets the LED to "on" if any client
// remains, else "off" (spec.md §4.6's disable step). Caller holds
// pairingMu.
func (m *Multiplexer) updateLEDAfterPairingDisableLocked() {
	m.mu.Lock()
	n := m.countClientsLocked()
	m.mu.Unlock()

	if n > 0 {
		m.led.SetMode(LEDOn)
	} else {
		m.led.SetMode(LEDOff)
	}
}

// HandlePairRequest processes a reserved-subtype 802.11 management frame
// carrying a pair-request from mac (spec.md §4.6's "Pair-request frame"):
// installs mac as a paired peer, then disables pairing.
func (m *Multiplexer) HandlePairRequest(mac [6]byte) {
	m.post(func() {
		if err := m.radio.PairClient(mac); err != nil {
			m.logger.Error("pair_client failed", slog.String("error", err.Error()))
			return
		}
		if err := m.SetPairing(false); err != nil {
			m.logger.Error("pairing-off after pair request failed", slog.String("error", err.Error()))
		}
	})
}

// -------------------------------------------------------------------------
// All-clients-gone waiting (spec.md §4.6 step 4, §5 power-off path)
// -------------------------------------------------------------------------

func (m *Multiplexer) closeAllGoneGate() {
	m.allGoneMu.Lock()
	defer m.allGoneMu.Unlock()
	select {
	case <-m.allGone:
		m.allGone = make(chan struct{})
	default:
	}
}

func (m *Multiplexer) setAllGone() {
	m.allGoneMu.Lock()
	defer m.allGoneMu.Unlock()
	select {
	case <-m.allGone:
	default:
		close(m.allGone)
	}
}

// WaitAllGone blocks until every WCID has disassociated or ctx is
// cancelled (spec.md §5's "Power-off path": "wait up to 5 s for
// client_count to reach zero").
func (m *Multiplexer) WaitAllGone(ctx context.Context) error {
	m.allGoneMu.Lock()
	ch := m.allGone
	m.allGoneMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for all clients gone: %w", ctx.Err())
	}
}

// Close stops the work queue and the pairing watchdog timer (spec.md §5's
// "Adapter teardown cancels: pairing timer...").
func (m *Multiplexer) Close() {
	m.pairingMu.Lock()
	if m.pairingTimer != nil {
		m.pairingTimer.Stop()
	}
	m.pairingMu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

func macString(mac [6]byte) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 17)
	for i, b := range mac {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, hex[b>>4], hex[b&0x0f])
	}
	return string(buf)
}
