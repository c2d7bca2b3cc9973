package gip

import (
	"context"
	"errors"
	"testing"
)

// TestIdentifyZeroClassesOffsetYieldsEmptySet is B2: an Identify whose
// classes-offset is zero still reaches Identified, with an empty class
// set that no driver can match.
func TestIdentifyZeroClassesOffsetYieldsEmptySet(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestAdapter()
	defer a.Close()

	announce := []byte{
		0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, // MAC
		0x5e, 0x04, // vendor
		0x02, 0x00, // product
		0x01, 0x00, 0x00, 0x00, // fw
		0x01, 0x00, 0x00, 0x00, // hw
	}
	mustReceive(t, a, 1, Header{Command: CmdAnnounce, Flags: FlagInternal}, announce)

	identify := make([]byte, identifyPrefixLen+8*2) // all offsets zero
	mustReceive(t, a, 1, Header{Command: CmdIdentify, Flags: FlagInternal}, identify)

	c, err := a.Bus.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.State() != StateIdentified {
		t.Fatalf("state = %s, want Identified", c.State())
	}
	if len(c.Tables().Classes) != 0 {
		t.Fatalf("Classes = %v, want empty", c.Tables().Classes)
	}
}

// TestDispatchOfNonInternalCommandObservesIdentified is P4: by the time
// a non-internal (device-class) command reaches the Dispatcher, the
// client has already completed the handshake.
func TestDispatchOfNonInternalCommandObservesIdentified(t *testing.T) {
	t.Parallel()

	a, _, disp := newTestAdapter()
	defer a.Close()

	announce := []byte{
		0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
		0x5e, 0x04,
		0x02, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
	}
	mustReceive(t, a, 2, Header{Command: CmdAnnounce, Flags: FlagInternal}, announce)

	identify := make([]byte, identifyPrefixLen+8*2)
	mustReceive(t, a, 2, Header{Command: CmdIdentify, Flags: FlagInternal}, identify)

	c, err := a.Bus.Lookup(2)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.State() != StateIdentified {
		t.Fatalf("precondition: state = %s, want Identified", c.State())
	}

	mustReceive(t, a, 2, Header{Command: CmdAudioSamples}, []byte{0x01, 0x02})

	if len(disp.payloads) == 0 {
		t.Fatal("expected the non-internal command to reach the Dispatcher")
	}
	if c.State() != StateIdentified {
		t.Fatalf("state at dispatch = %s, want Identified", c.State())
	}
}

// TestDispatchOfNonInternalCommandBeforeIdentifiedRejected is the other
// half of P4: a non-internal command arriving before the client reaches
// Identified is rejected with ErrInvalidState, not forwarded.
func TestDispatchOfNonInternalCommandBeforeIdentifiedRejected(t *testing.T) {
	t.Parallel()

	a, _, disp := newTestAdapter()
	defer a.Close()

	c, err := a.Bus.ClientAt(a, 5)
	if err != nil {
		t.Fatalf("ClientAt: %v", err)
	}
	if c.State() == StateIdentified {
		t.Fatalf("precondition: client already Identified")
	}

	var buf [512]byte
	n, err := EncodeHeader(Header{Command: CmdAudioSamples}, []byte{0x01, 0x02}, buf[:])
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	err = a.Receive(context.Background(), 5, buf[:n])
	if err == nil {
		t.Fatal("expected ErrInvalidState for a non-internal command before Identified")
	}
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if len(disp.payloads) != 0 {
		t.Fatalf("expected no dispatch, got %d payloads", len(disp.payloads))
	}
}

func mustReceive(t *testing.T, a *Adapter, clientID uint8, hdr Header, payload []byte) {
	t.Helper()
	var buf [512]byte
	n, err := EncodeHeader(hdr, payload, buf[:])
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if err := a.Receive(context.Background(), clientID, buf[:n]); err != nil {
		t.Fatalf("Receive: %v", err)
	}
}
