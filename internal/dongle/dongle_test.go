package dongle_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gip-host/gogip/internal/dongle"
	"github.com/gip-host/gogip/internal/gip"
)

// fakeTransport is a no-op gip.Transport sufficient to construct a
// gip.Adapter for the multiplexer's Bus.
type fakeTransport struct{}

func (fakeTransport) GetBuffer() ([]byte, error)                  { return make([]byte, 256), nil }
func (fakeTransport) SubmitBuffer(clientID uint8, buf []byte) error { return nil }
func (fakeTransport) SetEncryptionKey(clientID uint8, key [16]byte) error { return nil }

// fakeDispatcher is a no-op gip.Dispatcher.
type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(c *gip.Client, hdr gip.Header, payload []byte) error { return nil }

// fakeRadio records calls made through the dongle.RadioMAC interface.
type fakeRadio struct {
	mu sync.Mutex

	associated map[uint8][6]byte
	unbound    []uint8
	paired     [][6]byte
	beacons    []bool

	associateErr error
	unbindErr    error
	pairErr      error
	beaconErr    error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{associated: make(map[uint8][6]byte)}
}

func (r *fakeRadio) Associate(wcid uint8, mac [6]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.associateErr != nil {
		return r.associateErr
	}
	r.associated[wcid] = mac
	return nil
}

func (r *fakeRadio) Unbind(wcid uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unbindErr != nil {
		return r.unbindErr
	}
	delete(r.associated, wcid)
	r.unbound = append(r.unbound, wcid)
	return nil
}

func (r *fakeRadio) PairClient(mac [6]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pairErr != nil {
		return r.pairErr
	}
	r.paired = append(r.paired, mac)
	return nil
}

func (r *fakeRadio) SetPairingBeacons(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beaconErr != nil {
		return r.beaconErr
	}
	r.beacons = append(r.beacons, enabled)
	return nil
}

func (r *fakeRadio) MAC() [6]byte {
	return [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
}

func (r *fakeRadio) isAssociated(wcid uint8) ([6]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mac, ok := r.associated[wcid]
	return mac, ok
}

func (r *fakeRadio) associatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.associated)
}

// fakeLED records every mode transition applied.
type fakeLED struct {
	mu    sync.Mutex
	modes []dongle.LEDMode
}

func (l *fakeLED) SetMode(mode dongle.LEDMode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modes = append(l.modes, mode)
}

func (l *fakeLED) last() dongle.LEDMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.modes) == 0 {
		return dongle.LEDOff
	}
	return l.modes[len(l.modes)-1]
}

func newTestMultiplexer(t *testing.T) (*dongle.Multiplexer, *fakeRadio, *fakeLED) {
	t.Helper()

	a := gip.NewAdapter(1, fakeTransport{}, fakeDispatcher{}, 4, slog.New(slog.DiscardHandler))
	radio := newFakeRadio()
	led := &fakeLED{}
	m := dongle.New(a, radio, led, slog.New(slog.DiscardHandler))
	t.Cleanup(m.Close)

	return m, radio, led
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestAssociateAllocatesLowestWCID verifies association creates a client at
// WCID 1 (the lowest empty slot) and turns the LED on (spec.md §4.6
// scenario S4: "ASSOC_REQ from 02:11:22:33:44:55 creates client at WCID 1").
func TestAssociateAllocatesLowestWCID(t *testing.T) {
	t.Parallel()

	m, radio, led := newTestMultiplexer(t)
	mac := [6]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}

	m.HandleAssociate(mac)

	waitFor(t, func() bool { return radio.associatedCount() == 1 })

	got, ok := radio.isAssociated(1)
	if !ok {
		t.Fatal("expected WCID 1 associated")
	}
	if got != mac {
		t.Errorf("associated mac = %v, want %v", got, mac)
	}
	if led.last() != dongle.LEDOn {
		t.Errorf("LED = %v, want LEDOn", led.last())
	}
}

// TestDisassociateRemovesClientAndTurnsLEDOff verifies DISASSOC tears down
// the client and, with no clients remaining and pairing off, turns the LED
// off (spec.md §4.6 scenario S4).
func TestDisassociateRemovesClientAndTurnsLEDOff(t *testing.T) {
	t.Parallel()

	m, radio, led := newTestMultiplexer(t)
	mac := [6]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}

	m.HandleAssociate(mac)
	waitFor(t, func() bool { return radio.associatedCount() == 1 })

	m.HandleDisassociate(1)
	waitFor(t, func() bool { return radio.associatedCount() == 0 })

	if led.last() != dongle.LEDOff {
		t.Errorf("LED = %v, want LEDOff", led.last())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WaitAllGone(ctx); err != nil {
		t.Errorf("WaitAllGone: %v", err)
	}
}

// TestDisassociateUnknownWCIDIsNoop verifies a DISASSOC for an unoccupied
// WCID does not panic or call the radio (spec.md §7: idempotent teardown).
func TestDisassociateUnknownWCIDIsNoop(t *testing.T) {
	t.Parallel()

	m, radio, _ := newTestMultiplexer(t)
	m.HandleDisassociate(5)

	time.Sleep(20 * time.Millisecond)
	if radio.associatedCount() != 0 {
		t.Errorf("expected no radio activity, got %d associated", radio.associatedCount())
	}
}

// TestWCIDAllocationExhaustion verifies the 17th association fails with
// ErrNoWCID once all 16 slots are occupied (spec.md §4.6's WCID
// allocation, P5: uniqueness invariant implies a bounded slot space).
func TestWCIDAllocationExhaustion(t *testing.T) {
	t.Parallel()

	m, radio, _ := newTestMultiplexer(t)

	for i := 0; i < 16; i++ {
		mac := [6]byte{0x02, 0, 0, 0, 0, byte(i)}
		m.HandleAssociate(mac)
	}
	waitFor(t, func() bool { return radio.associatedCount() == 16 })

	overflow := [6]byte{0x02, 0, 0, 0, 0, 0xff}
	m.HandleAssociate(overflow)

	time.Sleep(20 * time.Millisecond)
	if radio.associatedCount() != 16 {
		t.Errorf("associated count = %d, want 16 (overflow should fail)", radio.associatedCount())
	}
}

// TestPairingEnableIsIdempotent verifies re-enabling pairing while already
// enabled does not call the radio a second time (spec.md §4.6's "Pairing
// mode": "Re-enabling while already enabled: no-op").
func TestPairingEnableIsIdempotent(t *testing.T) {
	t.Parallel()

	m, radio, led := newTestMultiplexer(t)

	if err := m.SetPairing(true); err != nil {
		t.Fatalf("SetPairing(true): %v", err)
	}
	if err := m.SetPairing(true); err != nil {
		t.Fatalf("SetPairing(true) again: %v", err)
	}

	radio.mu.Lock()
	calls := len(radio.beacons)
	radio.mu.Unlock()
	if calls != 1 {
		t.Errorf("beacon toggle called %d times, want 1", calls)
	}
	if led.last() != dongle.LEDBlink {
		t.Errorf("LED = %v, want LEDBlink", led.last())
	}
	if !m.Pairing() {
		t.Error("expected Pairing() true")
	}
}

// TestPairingDisableRestoresLED verifies disabling pairing sets the LED to
// off when no clients are associated.
func TestPairingDisableRestoresLED(t *testing.T) {
	t.Parallel()

	m, _, led := newTestMultiplexer(t)

	if err := m.SetPairing(true); err != nil {
		t.Fatalf("SetPairing(true): %v", err)
	}
	if err := m.SetPairing(false); err != nil {
		t.Fatalf("SetPairing(false): %v", err)
	}

	if led.last() != dongle.LEDOff {
		t.Errorf("LED = %v, want LEDOff", led.last())
	}
	if m.Pairing() {
		t.Error("expected Pairing() false")
	}
}

// fakeNotifier records every pairing-state transition it observes.
type fakeNotifier struct {
	mu     sync.Mutex
	states []bool
}

func (n *fakeNotifier) EmitPairingStateChanged(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, enabled)
}

func (n *fakeNotifier) last() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.states...)
}

// TestSetPairingNotifiesOnBothTransitions verifies a notifier attached via
// SetPairingNotifier observes both the enable and the disable, matching
// the bus object's PairingStateChanged signal this wiring exists for.
func TestSetPairingNotifiesOnBothTransitions(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMultiplexer(t)
	notifier := &fakeNotifier{}
	m.SetPairingNotifier(notifier)

	if err := m.SetPairing(true); err != nil {
		t.Fatalf("SetPairing(true): %v", err)
	}
	if err := m.SetPairing(false); err != nil {
		t.Fatalf("SetPairing(false): %v", err)
	}

	if got := notifier.last(); len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("notified states = %v, want [true false]", got)
	}
}

// TestPairRequestPairsAndDisablesPairing verifies a pair-request frame
// installs the peer and turns pairing off (spec.md §4.6's "Pair-request
// frame": "Call radio-MAC pair_client(mac); disable pairing mode").
func TestPairRequestPairsAndDisablesPairing(t *testing.T) {
	t.Parallel()

	m, radio, _ := newTestMultiplexer(t)
	mac := [6]byte{0x02, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}

	if err := m.SetPairing(true); err != nil {
		t.Fatalf("SetPairing(true): %v", err)
	}

	m.HandlePairRequest(mac)

	waitFor(t, func() bool { return !m.Pairing() })

	radio.mu.Lock()
	defer radio.mu.Unlock()
	if len(radio.paired) != 1 || radio.paired[0] != mac {
		t.Errorf("paired = %v, want [%v]", radio.paired, mac)
	}
}

// TestPairingEnabledImmediatelyAfterSetPairing verifies SetPairing(true)
// turns pairing mode on at once. The 30 s pairing watchdog that later
// turns it off is not exercised by this test.
func TestPairingEnabledImmediatelyAfterSetPairing(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMultiplexer(t)

	if err := m.SetPairing(true); err != nil {
		t.Fatalf("SetPairing(true): %v", err)
	}
	if !m.Pairing() {
		t.Error("expected pairing enabled immediately after SetPairing(true)")
	}
}

// TestSetPairingPropagatesRadioError verifies a radio beacon failure
// leaves pairing state unchanged.
func TestSetPairingPropagatesRadioError(t *testing.T) {
	t.Parallel()

	m, radio, _ := newTestMultiplexer(t)
	radio.beaconErr = errors.New("radio busy")

	if err := m.SetPairing(true); err == nil {
		t.Fatal("expected error from SetPairing")
	}
	if m.Pairing() {
		t.Error("pairing should remain disabled after radio error")
	}
}

// TestFrameOutboundUsesAssociatedClientMAC verifies FrameOutbound wraps
// outbound bytes for an associated client using the MAC HandleAssociate
// recorded, and rejects an unassociated client id.
func TestFrameOutboundUsesAssociatedClientMAC(t *testing.T) {
	t.Parallel()

	m, radio, _ := newTestMultiplexer(t)
	mac := [6]byte{0x02, 1, 2, 3, 4, 5}
	m.HandleAssociate(mac)
	waitFor(t, func() bool { return radio.associatedCount() == 1 })

	payload := []byte{0x07, 0x01, 0x02}
	wire, err := m.FrameOutbound(0, payload)
	if err != nil {
		t.Fatalf("FrameOutbound: %v", err)
	}

	// Client id 0 was assigned WCID 1, which FrameInbound maps back to 0.
	gotID, gotPayload, err := m.FrameInbound(wire)
	if err != nil {
		t.Fatalf("FrameInbound: %v", err)
	}
	if gotID != 0 {
		t.Errorf("client id = %d, want 0", gotID)
	}
	// Addr1 (destination) follows the 8-byte WCID descriptor, the 4-byte
	// TXWI, and the 2-byte Frame Control and 2-byte Duration/ID fields.
	if len(wire) < 22 {
		t.Fatalf("wire frame too short: %d bytes", len(wire))
	}
	var addr1 [6]byte
	copy(addr1[:], wire[16:22])
	if addr1 != mac {
		t.Errorf("Addr1 = %v, want client MAC %v", addr1, mac)
	}
	if string(gotPayload) != string(payload) {
		t.Errorf("payload = %v, want %v", gotPayload, payload)
	}

	if _, err := m.FrameOutbound(5, payload); !errors.Is(err, dongle.ErrUnknownWCID) {
		t.Errorf("FrameOutbound for unassociated client: err = %v, want ErrUnknownWCID", err)
	}
}

// TestFrameInboundUnwrapsToGIPClientID verifies FrameInbound recovers the
// 0-based GIP client id a wire frame's WCID descriptor names.
func TestFrameInboundUnwrapsToGIPClientID(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMultiplexer(t)

	wire := make([]byte, 0)
	wire = append(wire, 4, 0, 2, 0, 0, 0, 0, 0) // WCID descriptor: wcid=4, queue=data, len=2
	wire = append(wire, make([]byte, 4+26)...)  // TXWI + QoS header, contents irrelevant here
	wire = append(wire, 0, 0)                   // pad
	wire = append(wire, 0xaa, 0xbb)             // payload

	clientID, payload, err := m.FrameInbound(wire)
	if err != nil {
		t.Fatalf("FrameInbound: %v", err)
	}
	if clientID != 3 {
		t.Errorf("clientID = %d, want 3", clientID)
	}
	if string(payload) != "\xaa\xbb" {
		t.Errorf("payload = %v, want [0xaa 0xbb]", payload)
	}
}

// TestWaitAllGoneTimesOutWithClientsPresent verifies WaitAllGone respects
// context cancellation while clients remain associated (spec.md §5's
// power-off path: "wait up to 5 s for client_count to reach zero").
func TestWaitAllGoneTimesOutWithClientsPresent(t *testing.T) {
	t.Parallel()

	m, radio, _ := newTestMultiplexer(t)
	m.HandleAssociate([6]byte{0x02, 1, 2, 3, 4, 5})
	waitFor(t, func() bool { return radio.associatedCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := m.WaitAllGone(ctx); err == nil {
		t.Fatal("expected WaitAllGone to time out with a client present")
	}
}
