package dongle

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortWireFrame indicates a frame read off the bulk endpoint is
// shorter than the WCID descriptor/TXWI/QoS header this layer expects.
var ErrShortWireFrame = errors.New("dongle: wire frame shorter than header")

// Queue ids distinguish the audio TX queue from the general data queue in
// the WCID descriptor (spec.md §4.6's "Client-to-wire path": "the audio
// queue id differs from data (0x02 vs 0x00) in the descriptor").
const (
	queueIDData  byte = 0x00
	queueIDAudio byte = 0x02
)

// Field widths of spec.md §4.6's client-to-wire framing: an 8-byte WCID
// descriptor, an MT76 TXWI, a QoS 802.11 header, and a 2-byte pad.
const (
	wcidDescriptorLen = 8
	txwiLen           = 4
	qosHeaderLen      = 26
	wirePadLen        = 2
	wireHeaderLen     = wcidDescriptorLen + txwiLen + qosHeaderLen + wirePadLen
)

// dot11QoSDataFC0 is the low byte of a QoS Data frame's Frame Control
// field: protocol version 0, type Data (0b10), subtype QoS Data (0b1000),
// packed as subtype<<4 | type<<2 | version.
const dot11QoSDataFC0 = 0x88

// dot11FromDS marks the From-DS bit in the high byte of Frame Control.
const dot11FromDS = 0x02

// dot11Protected marks the Protected Frame bit in the high byte of Frame
// Control.
const dot11Protected = 0x40

// frameToWire builds spec.md §4.6's "Client-to-wire path" framing around
// payload, already-encoded GIP bytes bound for wcid: an 8-byte WCID
// descriptor (wcid, queue id, payload length), a 4-byte MT76 TXWI
// restating the same tx parameters for the radio's rate-control path, a
// QoS 802.11 header addressed From-DS to clientMAC with dongleMAC as
// source and BSSID (Protected bit set when protected is true), and a
// 2-byte pad, followed by payload itself.
func frameToWire(wcid uint8, dongleMAC, clientMAC [6]byte, audio, protected bool, payload []byte) []byte {
	queueID := queueIDData
	if audio {
		queueID = queueIDAudio
	}

	out := make([]byte, wireHeaderLen+len(payload))

	// WCID descriptor.
	out[0] = wcid
	out[1] = queueID
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(payload)))
	// out[4:8] reserved, left zero.

	off := wcidDescriptorLen

	// MT76 TXWI: a simplified placeholder restating wcid/queue/length,
	// since this reference implementation has no real rate-control table
	// to drive (the dongle.RadioMAC boundary covers the actual radio).
	out[off] = wcid
	out[off+1] = queueID
	binary.LittleEndian.PutUint16(out[off+2:off+4], uint16(len(payload)))
	off += txwiLen

	// QoS 802.11 header: Frame Control, Duration/ID, Addr1/2/3, Sequence
	// Control, QoS Control.
	fc1 := byte(dot11FromDS)
	if protected {
		fc1 |= dot11Protected
	}
	out[off] = dot11QoSDataFC0
	out[off+1] = fc1
	// out[off+2:off+4] Duration/ID left zero; no NAV accounting here.
	copy(out[off+4:off+10], clientMAC[:])  // Addr1: destination
	copy(out[off+10:off+16], dongleMAC[:]) // Addr2: source
	copy(out[off+16:off+22], dongleMAC[:]) // Addr3: BSSID
	// out[off+22:off+24] Sequence Control left zero; the radio assigns it.
	binary.LittleEndian.PutUint16(out[off+24:off+26], uint16(queueID)) // QoS Control TID
	off += qosHeaderLen

	// Trailing pad.
	off += wirePadLen

	copy(out[off:], payload)
	return out
}

// frameFromWire strips spec.md §4.6's client-to-wire framing from raw, a
// frame read off the bulk endpoint, returning the WCID descriptor's wcid
// and the GIP payload it declares.
func frameFromWire(raw []byte) (wcid uint8, payload []byte, err error) {
	if len(raw) < wireHeaderLen {
		return 0, nil, fmt.Errorf("decode wire frame: need %d bytes, have %d: %w",
			wireHeaderLen, len(raw), ErrShortWireFrame)
	}

	wcid = raw[0]
	declared := binary.LittleEndian.Uint16(raw[2:4])
	body := raw[wireHeaderLen:]
	if int(declared) > len(body) {
		return 0, nil, fmt.Errorf("decode wire frame: declared length %d exceeds body %d: %w",
			declared, len(body), ErrShortWireFrame)
	}

	return wcid, body[:declared], nil
}
