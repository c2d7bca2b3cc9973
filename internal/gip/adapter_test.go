package gip

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
)

// fakeTransport is an in-memory Transport for exercising the framing
// engine without real I/O.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	noBuffer bool
}

func (f *fakeTransport) GetBuffer() ([]byte, error) {
	if f.noBuffer {
		return nil, ErrNoTxBuffer
	}
	return make([]byte, 256), nil
}

func (f *fakeTransport) SubmitBuffer(clientID uint8, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), buf...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) SetEncryptionKey(clientID uint8, key [16]byte) error {
	return nil
}

func (f *fakeTransport) popSent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fakeDispatcher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeDispatcher) Dispatch(c *Client, hdr Header, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return nil
}

func newTestAdapter() (*Adapter, *fakeTransport, *fakeDispatcher) {
	tr := &fakeTransport{}
	disp := &fakeDispatcher{}
	a := NewAdapter(0, tr, disp, 8, slog.Default())
	return a, tr, disp
}

// TestSendNeverEmitsZeroSequence is P2: the per-stream sequence counter
// never emits zero and is strictly monotonic mod 256.
func TestSendNeverEmitsZeroSequence(t *testing.T) {
	t.Parallel()

	a, tr, _ := newTestAdapter()
	defer a.Close()

	var prev uint8
	for i := 0; i < 300; i++ {
		if err := a.Send(0, Header{Command: CmdPower, Flags: FlagInternal}, []byte{0x00}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	sent := tr.popSent()
	for i, buf := range sent {
		hdr, _, err := DecodeHeader(buf)
		if err != nil {
			t.Fatalf("DecodeHeader: %v", err)
		}
		if hdr.Sequence == 0 {
			t.Fatalf("packet %d: sequence is zero", i)
		}
		if i > 0 {
			want := prev + 1
			if want == 0 {
				want = 1
			}
			if hdr.Sequence != want {
				t.Fatalf("packet %d: sequence = %d, want %d", i, hdr.Sequence, want)
			}
		}
		prev = hdr.Sequence
	}
}

// TestSendNoTxBuffer checks the NoTxBuffer contract.
func TestSendNoTxBuffer(t *testing.T) {
	t.Parallel()

	a, tr, _ := newTestAdapter()
	defer a.Close()
	tr.noBuffer = true

	err := a.Send(0, Header{Command: CmdPower, Flags: FlagInternal}, []byte{0x00})
	if err == nil {
		t.Fatalf("expected ErrNoTxBuffer")
	}
}

// TestSendLargeChunksAndReassembles is L2/S2: splitting a payload into
// chunks and reassembling it on the receive side yields the original
// bytes.
func TestSendLargeChunksAndReassembles(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}

	sendAdapter, sendTr, _ := newTestAdapter()
	defer sendAdapter.Close()

	if err := sendAdapter.SendLarge(0, CmdInput, 0, payload); err != nil {
		t.Fatalf("SendLarge: %v", err)
	}

	packets := sendTr.popSent()
	if len(packets) < 2 {
		t.Fatalf("expected multiple chunk packets, got %d", len(packets))
	}

	recvAdapter, _, recvDisp := newTestAdapter()
	defer recvAdapter.Close()

	// CmdInput is a non-internal command; dispatch only forwards it once
	// the client has reached Identified (P4). Advance the FSM directly
	// rather than through Receive, since driving it through the real
	// Announce/Identify packets would also reach the Dispatcher for those
	// (dispatch forwards every coherent payload) and this test's
	// payload-count assertion below is scoped to the reassembled chunk.
	recvClient, err := recvAdapter.Bus.ClientAt(recvAdapter, 0)
	if err != nil {
		t.Fatalf("ClientAt: %v", err)
	}
	recvClient.applyEvent(EventAnnounce)
	recvClient.applyEvent(EventIdentifyReply)

	var sum int
	var lastMiddleOffset int64 = -1
	for _, buf := range packets {
		hdr, consumed, err := DecodeHeader(buf)
		if err != nil {
			t.Fatalf("DecodeHeader: %v", err)
		}
		body := buf[consumed : consumed+int(hdr.PacketLength)]

		// Non-terminal, non-start chunks carry their actual write
		// offset in chunk-offset; these must be strictly non-decreasing
		// (P3). The CHUNK_START packet's chunk-offset instead carries
		// the declared total (spec.md §4.2), so it is excluded here.
		if hdr.PacketLength > 0 && hdr.HasFlag(FlagChunk) && !hdr.HasFlag(FlagChunkStart) {
			if int64(hdr.ChunkOffset) < lastMiddleOffset {
				t.Fatalf("chunk offsets not non-decreasing: %d after %d", hdr.ChunkOffset, lastMiddleOffset)
			}
			lastMiddleOffset = int64(hdr.ChunkOffset)
			sum += int(hdr.PacketLength)
		} else if hdr.PacketLength > 0 && hdr.HasFlag(FlagChunkStart) {
			sum += int(hdr.PacketLength)
		}

		if err := recvAdapter.Receive(context.Background(), 0, buf[:consumed+len(body)]); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}

	if sum != len(payload) {
		t.Fatalf("P3: sum of non-terminal chunk lengths = %d, want %d", sum, len(payload))
	}

	if len(recvDisp.payloads) != 1 {
		t.Fatalf("expected exactly one dispatched payload, got %d", len(recvDisp.payloads))
	}
	if !bytes.Equal(recvDisp.payloads[0], payload) {
		t.Fatalf("reassembled payload mismatch")
	}
}

// TestChunkOverflowRejected is B1: a chunk whose offset+length exceeds
// the declared total triggers ErrChunkOverflow, and the client's state
// (and chunk buffer) is otherwise unaffected for subsequent packets.
func TestChunkOverflowRejected(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestAdapter()
	defer a.Close()

	// The start chunk carries data: a zero-length chunk packet would
	// complete the transfer instead of opening it.
	startPayload := bytes.Repeat([]byte{0x55}, 10)
	var startBuf [32]byte
	n, err := EncodeHeader(Header{Command: CmdIdentify, Flags: FlagChunkStart | FlagChunk, ChunkOffset: 100}, startPayload, startBuf[:])
	if err != nil {
		t.Fatalf("EncodeHeader start: %v", err)
	}
	if err := a.Receive(context.Background(), 0, startBuf[:n]); err != nil {
		t.Fatalf("Receive start: %v", err)
	}

	payload := bytes.Repeat([]byte{0xaa}, 58)
	var overflowBuf [128]byte
	n, err = EncodeHeader(Header{Command: CmdIdentify, Flags: FlagChunk, ChunkOffset: 90}, payload, overflowBuf[:])
	if err != nil {
		t.Fatalf("EncodeHeader overflow: %v", err)
	}

	err = a.Receive(context.Background(), 0, overflowBuf[:n])
	if err == nil {
		t.Fatalf("expected ErrChunkOverflow")
	}

	c, lookupErr := a.Bus.Lookup(0)
	if lookupErr != nil {
		t.Fatalf("Lookup: %v", lookupErr)
	}
	if c.State() != StateConnected {
		t.Fatalf("client state changed after chunk overflow: %s", c.State())
	}
}

// TestSpuriousChunkCompletionIgnored: a completion (packet-length 0)
// arriving without a prior CHUNK_START is ignored, not an error
// (spec.md §4.2 step 4).
func TestSpuriousChunkCompletionIgnored(t *testing.T) {
	t.Parallel()

	a, _, disp := newTestAdapter()
	defer a.Close()

	var buf [16]byte
	n, err := EncodeHeader(Header{Command: CmdIdentify, Flags: FlagChunk, ChunkOffset: 0}, nil, buf[:])
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	if err := a.Receive(context.Background(), 0, buf[:n]); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(disp.payloads) != 0 {
		t.Fatalf("expected no dispatch from spurious completion")
	}
}

// TestReceiveCreatesClientOnDemand exercises spec.md §4.2 step 1.
func TestReceiveCreatesClientOnDemand(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestAdapter()
	defer a.Close()

	var buf [16]byte
	n, err := EncodeHeader(Header{Command: CmdStatus, Flags: FlagInternal}, []byte{0x01}, buf[:])
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	if err := a.Receive(context.Background(), 3, buf[:n]); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	c, err := a.Bus.Lookup(3)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("new client state = %s, want Connected", c.State())
	}
}
