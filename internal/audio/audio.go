// Package audio implements the 8ms transmit timer, RX sample handling,
// and ring-buffer shuttle of spec.md §4.7's audio plumbing. The format
// negotiation and configuration-derivation math lives in
// internal/gip's audio.go; this package is the periodic-timer and
// hardware-facing half that consumes a negotiated gip.AudioConfig.
//
// Grounded on the teacher's internal/bfd/session.go Run/runLoop shape:
// one goroutine per timer, a select loop, Reset on each fire, a done
// channel for shutdown.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gip-host/gogip/internal/gip"
)

// txFragmentPeriod is the fixed transmit fragment period (spec.md
// §4.7's "Transmit timer": "A monotonic 8 ms repeating timer").
const txFragmentPeriod = 8 * time.Millisecond

// Source supplies outbound audio sample bytes, typically a ring buffer
// fed by a userland encoder or a portaudio input stream.
type Source interface {
	// Read copies up to len(p) bytes of the next samples into p and
	// returns how many bytes were written. Short reads are zero-padded
	// by the caller, matching a live audio source that may not have a
	// full fragment ready every tick.
	Read(p []byte) (int, error)
}

// Sink accepts inbound audio sample bytes after RX envelope stripping.
type Sink interface {
	Write(p []byte) (int, error)
}

// Sender submits an encoded GIP audio-samples packet to the wire, the
// role gip.Adapter.Send plays for a bound driver.
type Sender interface {
	SendAudioSamples(clientID uint8, payload []byte) error
}

// RingBuffer is a fixed-capacity byte ring used as the driver-provided
// buffer spec.md §4.7 describes between the core and the hardware.
// Safe for one writer and one reader running concurrently.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	r, w int
	full bool
}

// NewRingBuffer allocates a ring buffer of the given byte capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write copies p into the ring, overwriting the oldest unread bytes if
// the ring is full (spec.md §4.7 does not specify backpressure for a
// live audio source; dropping the oldest samples keeps latency bounded).
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, b := range p {
		rb.buf[rb.w] = b
		rb.w = (rb.w + 1) % len(rb.buf)
		if rb.full {
			rb.r = (rb.r + 1) % len(rb.buf)
		}
		if rb.w == rb.r {
			rb.full = true
		}
	}
	return len(p), nil
}

// Read copies up to len(p) available bytes out of the ring. A short
// read (possibly zero) means fewer bytes were available than requested;
// callers padding a fixed-size audio fragment zero-fill the remainder.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := 0
	for n < len(p) && (rb.full || rb.r != rb.w) {
		p[n] = rb.buf[rb.r]
		rb.r = (rb.r + 1) % len(rb.buf)
		rb.full = false
		n++
	}
	return n, nil
}

// TXTimer drives the 8ms repeating transmit timer for one client's
// audio-out direction (spec.md §4.7's "Transmit timer"): each tick
// reads one fragment from src, zero-padded to the fragment size, and
// passes it to send as-is; no length prefix is added.
type TXTimer struct {
	clientID uint8
	cfg      gip.AudioConfig
	src      Source
	send     Sender
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewTXTimer constructs a timer for clientID using the negotiated
// out-direction config cfg (spec.md §4.7 gates this on two-sided
// negotiation completing, via the gip.AudioNegotiator.AudioReady
// callback).
func NewTXTimer(clientID uint8, cfg gip.AudioConfig, src Source, send Sender, logger *slog.Logger) *TXTimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TXTimer{
		clientID: clientID,
		cfg:      cfg,
		src:      src,
		send:     send,
		logger:   logger.With(slog.String("component", "audio.txtimer"), slog.Int("client", int(clientID))),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run blocks, firing the transmit timer until ctx is cancelled or Stop
// is called. Intended to be run on its own goroutine, one per active
// audio-out direction.
func (t *TXTimer) Run(ctx context.Context) {
	defer close(t.doneCh)

	timer := time.NewTimer(txFragmentPeriod)
	defer timer.Stop()

	frag := make([]byte, t.cfg.FragmentSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-timer.C:
			t.tick(frag)
			timer.Reset(txFragmentPeriod)
		}
	}
}

func (t *TXTimer) tick(frag []byte) {
	n, err := t.src.Read(frag)
	if err != nil {
		t.logger.Warn("audio source read failed", slog.String("error", err.Error()))
		return
	}
	for i := n; i < len(frag); i++ {
		frag[i] = 0
	}

	if err := t.send.SendAudioSamples(t.clientID, frag); err != nil {
		t.logger.Warn("audio samples send failed", slog.String("error", err.Error()))
	}
}

// Stop halts the timer and waits for Run to return.
func (t *TXTimer) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}

// AdapterSender adapts a gip.Adapter to the Sender interface, encoding
// the audio-samples command with the INTERNAL flag clear (spec.md §4.4:
// audio samples are a device-class command, not an internal one).
type AdapterSender struct {
	Adapter *gip.Adapter
}

// SendAudioSamples sends payload as a CmdAudioSamples packet to clientID.
func (s AdapterSender) SendAudioSamples(clientID uint8, payload []byte) error {
	return s.Adapter.Send(clientID, gip.Header{Command: gip.CmdAudioSamples}, payload)
}

// HandleAudioSamples implements spec.md §4.7's "Receive" path: strips
// the wire envelope from an inbound audio-samples packet and forwards
// the raw samples to sink. extended selects the wireless-extension
// variant of the envelope (spec.md §4.7).
func HandleAudioSamples(payload []byte, extended bool, sink Sink) error {
	samples, err := gip.StripAudioEnvelope(payload, extended)
	if err != nil {
		return fmt.Errorf("audio: strip envelope: %w", err)
	}
	if _, err := sink.Write(samples); err != nil {
		return fmt.Errorf("audio: write to sink: %w", err)
	}
	return nil
}
