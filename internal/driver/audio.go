// Package driver implements the reference gip.Driver this daemon matches
// against a client's declared Identify classes (spec.md §4.3's "Driver
// matching"), tying the audio plumbing of internal/audio, the per-adapter
// Prometheus metrics of internal/metrics, and the external coordinator
// notifications of internal/coordinator into one collaborator so
// cmd/gipd only has to construct and register it.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gip-host/gogip/internal/audio"
	"github.com/gip-host/gogip/internal/coordinator"
	"github.com/gip-host/gogip/internal/gip"
	gipmetrics "github.com/gip-host/gogip/internal/metrics"
)

// ClassName is the GIP device class this reference driver matches
// against a client's parsed Classes table (spec.md §4.4's Identify
// classes table).
const ClassName = "GIP.Xbox.Audio"

// ringBufferFactor sizes each session's ring buffers as a multiple of
// one negotiated fragment, giving the realtime audio callback headroom
// over the 8ms TX/RX cadence without unbounded growth.
const ringBufferFactor = 4

// Audio is the reference driver for spec.md §4.7's audio path: it
// implements gip.Driver (class matching), gip.AudioNegotiator (format
// negotiation) and gip.Dispatcher (routing inbound CmdAudioSamples
// packets to the right session's RX ring).
type Audio struct {
	adapterID int
	sender    audio.Sender
	metrics   *gipmetrics.Collector
	events    chan<- coordinator.Event
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[uint8]*session
}

type session struct {
	cancel context.CancelFunc
	rx     *audio.RingBuffer
	tx     *audio.RingBuffer
}

var (
	_ gip.Driver          = (*Audio)(nil)
	_ gip.AudioNegotiator = (*Audio)(nil)
	_ gip.Dispatcher      = (*Audio)(nil)
)

// New constructs an Audio driver for one adapter. events may be nil, in
// which case lifecycle notifications are simply dropped (coordinator
// integration disabled, per config.CoordinatorConfig.Enabled).
func New(adapterID int, sender audio.Sender, metrics *gipmetrics.Collector, events chan<- coordinator.Event, logger *slog.Logger) *Audio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audio{
		adapterID: adapterID,
		sender:    sender,
		metrics:   metrics,
		events:    events,
		logger: logger.With(
			slog.String("component", "driver.audio"),
			slog.Int("adapter", adapterID),
		),
		sessions: make(map[uint8]*session),
	}
}

// ClassName implements gip.Driver.
func (a *Audio) ClassName() string { return ClassName }

// Probe implements gip.Driver: it records the new client for metrics and
// the coordinator. Audio plumbing itself only starts once format
// negotiation completes (AudioReady), since the fragment size isn't
// known before then.
func (a *Audio) Probe(c *gip.Client) error {
	a.logger.Info("driver probed", slog.Int("client", int(c.ID)))
	if a.metrics != nil {
		a.metrics.RegisterClient(a.adapterID)
	}
	a.notify(c.ID, coordinator.EventIdentified)
	return nil
}

// Remove implements gip.Driver: tears down any live audio session and
// reports the disconnect.
func (a *Audio) Remove(c *gip.Client) {
	a.stopSession(c.ID)
	if a.metrics != nil {
		a.metrics.UnregisterClient(a.adapterID)
	}
	a.notify(c.ID, coordinator.EventDisconnected)
}

// SuggestAudioFormat implements gip.AudioNegotiator. This reference
// driver always proposes the wideband chat format in both directions; a
// production driver would instead choose from
// c.Tables().AudioFormats according to its own policy.
func (a *Audio) SuggestAudioFormat(c *gip.Client) (in, out byte, isChat bool) {
	return gip.AudioFormatChat16kHz, gip.AudioFormatChat16kHz, true
}

// AudioReady implements gip.AudioNegotiator: both directions have been
// mutually accepted, so the driver can size its ring buffers and start
// the TX timer (spec.md §4.7's "audio_ready").
func (a *Audio) AudioReady(c *gip.Client, in, out gip.AudioConfig) {
	a.startSession(c, in, out)
}

func (a *Audio) startSession(c *gip.Client, in, out gip.AudioConfig) {
	a.stopSession(c.ID)

	rx := audio.NewRingBuffer(in.FragmentSize * ringBufferFactor)
	tx := audio.NewRingBuffer(out.FragmentSize * ringBufferFactor)

	ctx, cancel := context.WithCancel(context.Background())
	timer := audio.NewTXTimer(c.ID, out, tx, a.sender, a.logger)

	a.mu.Lock()
	a.sessions[c.ID] = &session{cancel: cancel, rx: rx, tx: tx}
	a.mu.Unlock()

	go timer.Run(ctx)

	a.logger.Info("audio session ready",
		slog.Int("client", int(c.ID)),
		slog.Int("in_rate", in.SampleRate),
		slog.Int("out_rate", out.SampleRate),
	)
}

func (a *Audio) stopSession(clientID uint8) {
	a.mu.Lock()
	s, ok := a.sessions[clientID]
	if ok {
		delete(a.sessions, clientID)
	}
	a.mu.Unlock()

	if ok {
		s.cancel()
	}
}

// Dispatch implements gip.Dispatcher. The adapter forwards every
// coherent payload here regardless of FlagInternal (spec.md §4.2 step
// 5), so this is also where the reference per-client packet counter is
// maintained; audio samples destined for a live session are stripped of
// their envelope and written to its RX ring.
func (a *Audio) Dispatch(c *gip.Client, hdr gip.Header, payload []byte) error {
	if a.metrics != nil {
		a.metrics.IncPacketsReceived(a.adapterID, c.ID)
	}

	if hdr.Command != gip.CmdAudioSamples {
		return nil
	}

	a.mu.Lock()
	s, ok := a.sessions[c.ID]
	a.mu.Unlock()
	if !ok {
		// Samples arriving before negotiation completed, or after the
		// session was torn down; drop silently.
		return nil
	}

	if err := audio.HandleAudioSamples(payload, false, s.rx); err != nil {
		return fmt.Errorf("driver: audio samples from client %d: %w", c.ID, err)
	}
	return nil
}

// RingBuffers returns the live RX/TX ring buffers for clientID, used by
// the host audio backend (internal/audio.PortAudioStream) to shuttle
// samples to and from real hardware.
func (a *Audio) RingBuffers(clientID uint8) (rx, tx *audio.RingBuffer, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, found := a.sessions[clientID]
	if !found {
		return nil, nil, false
	}
	return s.rx, s.tx, true
}

func (a *Audio) notify(clientID uint8, evType coordinator.EventType) {
	if a.events == nil {
		return
	}

	ev := coordinator.Event{
		AdapterID: a.adapterID,
		ClientID:  clientID,
		Type:      evType,
		Timestamp: time.Now(),
	}

	select {
	case a.events <- ev:
	default:
		a.logger.Warn("coordinator event dropped, channel full",
			slog.String("type", string(evType)),
			slog.Int("client", int(clientID)),
		)
	}
}
