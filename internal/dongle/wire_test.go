package dongle

import "testing"

// TestFrameToWireLayout verifies frameToWire's field placement: WCID
// descriptor, queue id selection, and QoS addressing (spec.md §4.6's
// "Client-to-wire path").
func TestFrameToWireLayout(t *testing.T) {
	t.Parallel()

	dongleMAC := [6]byte{0x02, 0, 0, 0, 0, 1}
	clientMAC := [6]byte{0x02, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	payload := []byte{0x11, 0x22, 0x33}

	out := frameToWire(3, dongleMAC, clientMAC, false, false, payload)

	if len(out) != wireHeaderLen+len(payload) {
		t.Fatalf("len(out) = %d, want %d", len(out), wireHeaderLen+len(payload))
	}
	if out[0] != 3 {
		t.Errorf("wcid = %d, want 3", out[0])
	}
	if out[1] != queueIDData {
		t.Errorf("queue id = %#x, want data queue %#x", out[1], queueIDData)
	}

	qosOff := wcidDescriptorLen + txwiLen
	if out[qosOff] != dot11QoSDataFC0 {
		t.Errorf("FC0 = %#x, want %#x", out[qosOff], dot11QoSDataFC0)
	}
	if out[qosOff+1]&dot11FromDS == 0 {
		t.Error("expected From-DS bit set")
	}
	if out[qosOff+1]&dot11Protected != 0 {
		t.Error("Protected bit set despite protected=false")
	}

	var addr1, addr2, addr3 [6]byte
	copy(addr1[:], out[qosOff+4:qosOff+10])
	copy(addr2[:], out[qosOff+10:qosOff+16])
	copy(addr3[:], out[qosOff+16:qosOff+22])
	if addr1 != clientMAC {
		t.Errorf("Addr1 = %v, want client MAC %v", addr1, clientMAC)
	}
	if addr2 != dongleMAC || addr3 != dongleMAC {
		t.Errorf("Addr2/Addr3 = %v/%v, want dongle MAC %v", addr2, addr3, dongleMAC)
	}

	body := out[len(out)-len(payload):]
	if string(body) != string(payload) {
		t.Errorf("payload = %v, want %v", body, payload)
	}
}

// TestFrameToWireAudioQueueID verifies audio payloads use queue id 0x02
// rather than the data queue's 0x00 (spec.md §4.6: "audio queue id
// differs from data (0x02 vs 0x00)").
func TestFrameToWireAudioQueueID(t *testing.T) {
	t.Parallel()

	out := frameToWire(1, [6]byte{}, [6]byte{}, true, false, []byte{0x01})
	if out[1] != queueIDAudio {
		t.Errorf("queue id = %#x, want audio queue %#x", out[1], queueIDAudio)
	}

	off := wcidDescriptorLen
	if out[off+1] != queueIDAudio {
		t.Errorf("TXWI queue id = %#x, want audio queue %#x", out[off+1], queueIDAudio)
	}
}

// TestFrameToWireProtectedBit verifies an encrypted client's frame sets
// the QoS header's Protected Frame bit.
func TestFrameToWireProtectedBit(t *testing.T) {
	t.Parallel()

	out := frameToWire(1, [6]byte{}, [6]byte{}, false, true, []byte{0x01})
	qosOff := wcidDescriptorLen + txwiLen
	if out[qosOff+1]&dot11Protected == 0 {
		t.Error("expected Protected bit set")
	}
}

// TestFrameFromWireRoundTrip verifies frameFromWire recovers the wcid and
// payload frameToWire encoded.
func TestFrameFromWireRoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	wire := frameToWire(5, [6]byte{1}, [6]byte{2}, false, false, payload)

	wcid, got, err := frameFromWire(wire)
	if err != nil {
		t.Fatalf("frameFromWire: %v", err)
	}
	if wcid != 5 {
		t.Errorf("wcid = %d, want 5", wcid)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
}

// TestFrameFromWireShortFrame verifies a frame shorter than the header
// is rejected rather than decoded into garbage.
func TestFrameFromWireShortFrame(t *testing.T) {
	t.Parallel()

	if _, _, err := frameFromWire(make([]byte, wireHeaderLen-1)); err == nil {
		t.Fatal("expected an error for a too-short wire frame")
	}
}
