package gip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// This file implements the framing engine (spec.md §4.2) and the Adapter
// type that owns it (spec.md §3's "Adapter"). All mutable cross-client
// state -- the TX sequence counters and the ordered work queue -- is
// owned here; Client and Bus own their own per-client state.

// Transport is the external collaborator an Adapter drives (spec.md §6,
// L0 in the module map): it hands out TX buffers, accepts them for
// submission, and installs per-client encryption keys.
type Transport interface {
	// GetBuffer returns a scratch buffer for encoding one packet, or
	// ErrNoTxBuffer if none is currently available.
	GetBuffer() ([]byte, error)

	// SubmitBuffer sends buf (as returned by GetBuffer, truncated to the
	// encoded length) to the client identified by clientID.
	SubmitBuffer(clientID uint8, buf []byte) error

	// SetEncryptionKey installs a session key for clientID (spec.md
	// §4.5's "Completion").
	SetEncryptionKey(clientID uint8, key [16]byte) error
}

// Dispatcher receives coherent (possibly chunk-reassembled) message
// payloads after the framing engine has accounted for ACK/chunk
// bookkeeping (spec.md §4.2 step 5, step 4's "dispatch with the full
// buffer").
type Dispatcher interface {
	Dispatch(c *Client, hdr Header, payload []byte) error
}

// workItem is a deferred client state transition, queued so that
// association/registration/removal work never runs on the hot receive
// path (spec.md §5's "long-running work... is deferred to ordered work
// queues").
type workItem func()

// Adapter is one transport instance's GIP multiplexer (spec.md §3).
type Adapter struct {
	// ID is a small integer used in device names.
	ID int

	Bus        *Bus
	Transport  Transport
	Dispatcher Dispatcher
	Log        *slog.Logger

	// AudioPacketCount is fixed at construction, >= 1 (spec.md §3).
	AudioPacketCount int

	seqMu    sync.Mutex
	dataSeq  uint8
	audioSeq uint8

	workCh chan workItem
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAdapter constructs an Adapter and starts its ordered work queue
// worker. Callers must call Close to stop it.
func NewAdapter(id int, t Transport, d Dispatcher, audioPacketCount int, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if audioPacketCount < 1 {
		audioPacketCount = 1
	}

	a := &Adapter{
		ID:               id,
		Bus:              NewBus(),
		Transport:        t,
		Dispatcher:       d,
		Log:              log,
		AudioPacketCount: audioPacketCount,
		workCh:           make(chan workItem, 64),
		stopCh:           make(chan struct{}),
	}

	a.wg.Add(1)
	go a.runWorkQueue()

	return a
}

// runWorkQueue serialises association/disassociation/driver-registration
// work items (spec.md §4.3's "posts a registration task onto the
// adapter's ordered queue", §4.6's "Serialisation").
func (a *Adapter) runWorkQueue() {
	defer a.wg.Done()
	for {
		select {
		case item := <-a.workCh:
			item()
		case <-a.stopCh:
			return
		}
	}
}

// post enqueues a work item. Blocks if the queue is full, applying
// backpressure to whichever goroutine is generating the events rather
// than growing memory unboundedly.
func (a *Adapter) post(item workItem) {
	select {
	case a.workCh <- item:
	case <-a.stopCh:
	}
}

// Close stops the work queue worker and waits for it to exit.
func (a *Adapter) Close() {
	close(a.stopCh)
	a.wg.Wait()
}

// nextSeq draws the next sequence number from counter, retrying past
// zero (spec.md §3's invariant: "monotonic mod 256 and never emit zero
// (retry until non-zero)"). Must be called with seqMu held.
func nextSeq(counter *uint8) uint8 {
	*counter++
	if *counter == 0 {
		*counter++
	}
	return *counter
}

// nextDataSeq draws the next data sequence number under the adapter's
// spinlock (spec.md §4.2: "Serialised per adapter by a spinlock guarding
// TX sequence allocation").
func (a *Adapter) nextDataSeq() uint8 {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()
	return nextSeq(&a.dataSeq)
}

// nextAudioSeq draws the next audio sequence number under the same lock.
func (a *Adapter) nextAudioSeq() uint8 {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()
	return nextSeq(&a.audioSeq)
}

// Send transmits a simple (non-chunked) packet to clientID (spec.md
// §4.2's "Send (simple)"). hdr.Sequence is overwritten with a freshly
// drawn sequence number if zero.
func (a *Adapter) Send(clientID uint8, hdr Header, payload []byte) error {
	if hdr.Sequence == 0 {
		hdr.Sequence = a.nextDataSeq()
	}
	hdr.ClientID = clientID

	buf, err := a.Transport.GetBuffer()
	if err != nil {
		return fmt.Errorf("gip: send: %w", ErrNoTxBuffer)
	}

	n, err := EncodeHeader(hdr, payload, buf)
	if err != nil {
		return err
	}

	if err := a.Transport.SubmitBuffer(clientID, buf[:n]); err != nil {
		return fmt.Errorf("gip: send: %w", err)
	}
	return nil
}

// SendLarge transmits payload to clientID, chunking it if it exceeds
// maxSimplePayload (spec.md §4.2's "Send (large)"). cmd and flags are
// shared by every chunk packet save for the chunk-specific CHUNK/
// CHUNK_START/ACK bits that this function manages itself.
func (a *Adapter) SendLarge(clientID uint8, cmd byte, baseFlags Flags, payload []byte) error {
	if len(payload) <= maxSimplePayload {
		return a.Send(clientID, Header{Command: cmd, Flags: baseFlags}, payload)
	}

	total := uint32(len(payload))
	offset := uint32(0)
	first := true

	for offset < total {
		end := offset + maxSimplePayload
		if end > total {
			end = total
		}
		chunk := payload[offset:end]
		isLast := end == total

		flags := baseFlags | FlagChunk
		if first {
			flags |= FlagChunkStart | FlagACK
		} else if isLast {
			flags |= FlagACK
		}

		h := Header{Command: cmd, Flags: flags}
		if first {
			h.ChunkOffset = total
		} else {
			h.ChunkOffset = offset
		}

		if err := a.Send(clientID, h, chunk); err != nil {
			return err
		}

		offset = end
		first = false
	}

	// Final empty chunk signals end of transfer (spec.md §4.2: "a final
	// empty chunk with the total in chunk-offset signals end of
	// transfer").
	return a.Send(clientID, Header{Command: cmd, Flags: baseFlags | FlagChunk, ChunkOffset: total}, nil)
}

// sendAck synthesises and transmits an ACK packet for an acknowledged
// command (spec.md §4.2's "ACK synthesis").
func (a *Adapter) sendAck(clientID uint8, ackedCmd byte, received uint32, remaining uint32, chunking bool) error {
	payload := make([]byte, 0, 9)
	payload = append(payload, ackedCmd)
	payload = appendU32LE(payload, received)
	if chunking {
		payload = appendU32LE(payload, remaining)
	}

	return a.Send(clientID, Header{Command: CmdAcknowledge, Flags: FlagInternal}, payload)
}

func appendU32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// Receive processes one GIP packet delivered by the transport for
// clientID (spec.md §4.2's "Receive", steps 1-5).
func (a *Adapter) Receive(ctx context.Context, clientID uint8, buf []byte) error {
	hdr, consumed, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	payload := buf[consumed : consumed+int(hdr.PacketLength)]

	c, err := a.Bus.ClientAt(a, clientID)
	if err != nil {
		return err
	}

	// dataOffset is where this packet's payload belongs in the
	// reassembly buffer. The CHUNK_START packet's chunk-offset field
	// carries the declared total (used below for allocation), not a
	// write position -- its own payload always starts the buffer at 0
	// (spec.md §8 S2: the start chunk's data sits at offset 0 even
	// though its chunk-offset field reports the total).
	dataOffset := hdr.ChunkOffset

	if hdr.HasFlag(FlagChunkStart) {
		dataOffset = 0
		c.mu.Lock()
		if c.chunk != nil {
			a.Log.Warn("gip: chunk buffer replaced before completion", "client", clientID)
		}
		c.chunk = &ChunkBuffer{
			Length: uint16(hdr.ChunkOffset),
			Bytes:  make([]byte, hdr.ChunkOffset),
		}
		c.mu.Unlock()
	}

	if hdr.HasFlag(FlagACK) {
		received := dataOffset + uint32(hdr.PacketLength)
		var remaining uint32
		chunking := hdr.HasFlag(FlagChunk)
		if chunking {
			c.mu.Lock()
			if c.chunk != nil {
				remaining = uint32(c.chunk.Length) - received
			}
			c.mu.Unlock()
		}
		if err := a.sendAck(clientID, hdr.Command, received, remaining, chunking); err != nil {
			a.Log.Warn("gip: ack send failed", "client", clientID, "error", err)
		}
	}

	if hdr.HasFlag(FlagChunk) {
		return a.receiveChunk(ctx, c, dataOffset, hdr, payload)
	}

	return a.dispatch(ctx, c, hdr, payload)
}

// receiveChunk implements spec.md §4.2 step 4. dataOffset is the
// position to write payload at: the declared offset for middle/last
// chunks, or 0 for the CHUNK_START packet (see the comment in Receive).
func (a *Adapter) receiveChunk(ctx context.Context, c *Client, dataOffset uint32, hdr Header, payload []byte) error {
	c.mu.Lock()
	buf := c.chunk
	c.mu.Unlock()

	if buf == nil {
		// A completion arriving without a prior buffer is ignored
		// (spec.md §4.2: "some devices emit spurious completions").
		return nil
	}

	if hdr.PacketLength == 0 {
		c.mu.Lock()
		c.chunk = nil
		c.mu.Unlock()
		data := buf.Bytes
		if dataOffset < uint32(buf.Length) {
			// A terminator whose offset falls short of the declared total
			// ends the transfer at the length actually observed.
			a.Log.Warn("gip: chunked transfer ended short of declared total",
				"client", c.ID, "received", dataOffset, "total", buf.Length)
			data = buf.Bytes[:dataOffset]
		}
		return a.dispatch(ctx, c, hdr, data)
	}

	end := dataOffset + uint32(hdr.PacketLength)
	if end > uint32(buf.Length) {
		return fmt.Errorf("gip: chunk end %d exceeds declared total %d: %w", end, buf.Length, ErrChunkOverflow)
	}

	copy(buf.Bytes[dataOffset:end], payload)
	return nil
}

// dispatch delivers a coherent payload (spec.md §4.2 step 5). For
// internal commands it runs the lifecycle FSM and message handlers
// (handlers.go), regardless of state, since those are what advance the
// client toward Identified in the first place. A non-internal
// (driver/device-class) command is only forwarded to the Dispatcher once
// the client has reached Identified; one arriving earlier is rejected
// with ErrInvalidState rather than delivered.
func (a *Adapter) dispatch(ctx context.Context, c *Client, hdr Header, payload []byte) error {
	if hdr.HasFlag(FlagInternal) {
		if err := a.handleInternal(ctx, c, hdr, payload); err != nil {
			return err
		}
	} else if c.State() != StateIdentified {
		return ErrInvalidState
	}

	if a.Dispatcher != nil {
		return a.Dispatcher.Dispatch(c, hdr, payload)
	}
	return nil
}
