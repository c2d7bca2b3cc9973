package gip

import (
	"encoding/binary"
	"fmt"
)

// This file implements the GIP-side half of audio format negotiation
// (spec.md §4.7): configuration derivation from a format code and
// processing of AudioControl subcommands. The 8ms transmit timer and
// ring-buffer shuttle that consume these configurations live in the
// sibling package internal/audio.

// Audio format codes (spec.md §4.7).
const (
	AudioFormatChat16kHz   byte = 0x04
	AudioFormatMono24kHz   byte = 0x09
	AudioFormatStereo48kHz byte = 0x10
)

// audioTxFragmentMillis is the fixed transmit fragment period (spec.md
// §4.7's "Transmit timer": "A monotonic 8 ms repeating timer").
const audioTxFragmentMillis = 8

// audioFormatTable maps a format code to (channels, sample rate)
// (spec.md §4.7's "Configuration derivation": "table lookup on format
// code").
var audioFormatTable = map[byte]struct {
	channels   int
	sampleRate int
}{
	AudioFormatChat16kHz:   {channels: 1, sampleRate: 16000},
	AudioFormatMono24kHz:   {channels: 1, sampleRate: 24000},
	AudioFormatStereo48kHz: {channels: 2, sampleRate: 48000},
}

// headerLen returns the wire header length a GIP audio packet of the
// given fragment size would need, used by deriveAudioConfig's
// packet_size formula. Mirrors EncodeHeader's layout: fixed 3 bytes +
// varint packet-length, no chunk offset (audio samples are never
// chunked), rounded to even length.
func headerLen(fragmentSize int) int {
	n := 3
	var lenBuf [maxVarintBytes]byte
	n += putVarint(lenBuf[:], uint32(fragmentSize))
	if n%2 != 0 {
		n++
	}
	return n
}

// deriveAudioConfig implements spec.md §4.7's "Configuration
// derivation":
//
//	channels, sample_rate ← table lookup on format code
//	buffer_size  = sample_rate * channels * 2 * 8 ms / 1000
//	fragment_size = buffer_size / audio_packet_count
//	packet_size   = header_len(fragment_size) + fragment_size
//
// Returns ErrAudioUnsupportedFormat for a code with no table entry.
func deriveAudioConfig(format byte, audioPacketCount int) (AudioConfig, error) {
	entry, ok := audioFormatTable[format]
	if !ok {
		return AudioConfig{}, fmt.Errorf("gip: audio format 0x%02x: %w", format, ErrAudioUnsupportedFormat)
	}

	bufferSize := entry.sampleRate * entry.channels * 2 * audioTxFragmentMillis / 1000
	fragmentSize := bufferSize / audioPacketCount
	packetSize := headerLen(fragmentSize) + fragmentSize

	return AudioConfig{
		Format:       format,
		Channels:     entry.channels,
		SampleRate:   entry.sampleRate,
		BufferSize:   bufferSize,
		FragmentSize: fragmentSize,
		PacketSize:   packetSize,
		Valid:        false,
	}, nil
}

// AudioControl subcommands (spec.md §4.7's negotiation narrative: format
// proposal, chat-class format proposal, and the device's volume
// acknowledgement).
const (
	audioSubFormat     byte = 0x00
	audioSubChatFormat byte = 0x01
	audioSubVolume     byte = 0x02
)

// AudioNegotiator is implemented by drivers that want to participate in
// format negotiation (spec.md §4.7: "the driver calls
// suggest_audio_format(in, out)").
type AudioNegotiator interface {
	SuggestAudioFormat(c *Client) (in, out byte, isChat bool)

	// AudioReady is called once both directions are mutually accepted
	// (spec.md §4.7: "Two-sided acceptance... gates audio_ready").
	AudioReady(c *Client, in, out AudioConfig)
}

// negotiateAudio implements spec.md §4.7's "Negotiation": called when a
// client enters Identified and advertises at least one audio format
// pair. Sends a Format or ChatFormat subcommand for the driver's
// suggestion.
func (a *Adapter) negotiateAudio(c *Client, negotiator AudioNegotiator) error {
	tables := c.Tables()
	if tables == nil || len(tables.AudioFormats) == 0 {
		return nil
	}

	in, out, isChat := negotiator.SuggestAudioFormat(c)

	sub := audioSubFormat
	if isChat {
		sub = audioSubChatFormat
	}

	c.mu.Lock()
	c.pendingAudioIn = in
	c.pendingAudioOut = out
	c.pendingAudioSet = true
	c.mu.Unlock()

	payload := []byte{sub, in, out}
	return a.Send(c.ID, Header{Command: CmdAudioControl, Flags: FlagInternal}, payload)
}

// handleAudioControl processes an inbound AudioControl packet (spec.md
// §4.4 row 0x08): the device's acceptance (volume subcommand) or
// counter-proposal (a Format/ChatFormat subcommand echoed back with
// different fields, which the core re-accepts per spec.md §4.7).
func (a *Adapter) handleAudioControl(c *Client, payload []byte) error {
	if len(payload) < 1 {
		return fmt.Errorf("gip: audio control payload too short: %w", ErrMalformedHeader)
	}

	sub := payload[0]
	body := payload[1:]

	switch sub {
	case audioSubFormat, audioSubChatFormat:
		if len(body) < 2 {
			return fmt.Errorf("gip: audio control format body too short: %w", ErrMalformedHeader)
		}
		return a.acceptAudioCounterProposal(c, body[0], body[1])

	case audioSubVolume:
		// Acceptance of the host's prior suggestion (spec.md §4.7):
		// record the format negotiateAudio last proposed and complete
		// negotiation the same way a counter-proposal does.
		c.mu.Lock()
		in, out, set := c.pendingAudioIn, c.pendingAudioOut, c.pendingAudioSet
		c.pendingAudioSet = false
		c.mu.Unlock()
		if !set {
			return nil
		}
		return a.acceptAudioCounterProposal(c, in, out)

	default:
		return fmt.Errorf("gip: audio control sub-command 0x%02x: %w", sub, ErrAuthProtocolError)
	}
}

// acceptAudioCounterProposal re-accepts a device counter-proposal,
// deriving and storing both directions' configurations and gating
// audio_ready on two-sided acceptance (spec.md §4.7).
func (a *Adapter) acceptAudioCounterProposal(c *Client, inFormat, outFormat byte) error {
	inCfg, err := deriveAudioConfig(inFormat, a.AudioPacketCount)
	if err != nil {
		return err
	}
	outCfg, err := deriveAudioConfig(outFormat, a.AudioPacketCount)
	if err != nil {
		return err
	}
	inCfg.Valid = true
	outCfg.Valid = true

	c.mu.Lock()
	c.audioIn = inCfg
	c.audioOut = outCfg
	ready := c.audioIn.Valid && c.audioOut.Valid
	c.mu.Unlock()

	if ready {
		c.withDriverLocked(func(d Driver) {
			if neg, ok := d.(AudioNegotiator); ok {
				neg.AudioReady(c, inCfg, outCfg)
			}
		})
	}

	return nil
}

// StripAudioEnvelope implements spec.md §4.7's "Receive": audio samples
// packets are stripped of their 2-byte length-prefix (plus, for extended
// wireless packets, a 2-byte extension) before being handed to the
// driver. Exported for internal/audio, which owns the RX ring-buffer
// shuttle that consumes the stripped sample bytes.
func StripAudioEnvelope(payload []byte, extended bool) ([]byte, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("gip: audio samples envelope too short: %w", ErrMalformedHeader)
	}

	declared := binary.LittleEndian.Uint16(payload[0:2])
	offset := 2
	if extended {
		offset += 2
	}
	if offset+int(declared) > len(payload) {
		return nil, fmt.Errorf("gip: audio samples declared length %d exceeds buffer: %w", declared, ErrShortBody)
	}

	return payload[offset : offset+int(declared)], nil
}
