package audio_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gip-host/gogip/internal/audio"
	"github.com/gip-host/gogip/internal/gip"
)

// TestRingBufferWriteThenRead verifies bytes written are returned in
// order.
func TestRingBufferWriteThenRead(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(8)
	n, err := rb.Write([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}

	buf := make([]byte, 8)
	got, err := rb.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != 3 {
		t.Fatalf("Read returned %d, want 3", got)
	}
	if buf[0] != 1 || buf[1] != 2 || buf[2] != 3 {
		t.Errorf("got %v, want [1 2 3 ...]", buf[:3])
	}
}

// TestRingBufferReadEmptyIsShort verifies reading from an empty ring
// returns a short (zero-length) read rather than blocking or erroring.
func TestRingBufferReadEmptyIsShort(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(4)
	buf := make([]byte, 4)
	n, err := rb.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 0 {
		t.Errorf("Read returned %d, want 0", n)
	}
}

// TestRingBufferOverwritesOldestOnOverflow verifies writing past
// capacity drops the oldest unread bytes rather than blocking.
func TestRingBufferOverwritesOldestOnOverflow(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(4)
	if _, err := rb.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := rb.Write([]byte{5, 6}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 4)
	n, _ := rb.Read(buf)
	if n != 4 {
		t.Fatalf("Read returned %d, want 4", n)
	}
	// The oldest two bytes (1, 2) should have been dropped.
	want := []byte{3, 4, 5, 6}
	for i, b := range want {
		if buf[i] != b {
			t.Errorf("buf[%d] = %d, want %d", i, buf[i], b)
		}
	}
}

// fakeSender records every SendAudioSamples call.
type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *fakeSender) SendAudioSamples(clientID uint8, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), payload...))
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// TestTXTimerSendsFragments verifies the timer reads from its source and
// submits fragments through Sender at the expected cadence.
func TestTXTimerSendsFragments(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(256)
	for i := 0; i < 64; i++ {
		if _, err := rb.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	sender := &fakeSender{}
	cfg := gip.AudioConfig{FragmentSize: 16}
	timer := audio.NewTXTimer(3, cfg, rb, sender, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	timer.Run(ctx)

	if sender.count() == 0 {
		t.Fatal("expected at least one audio samples send")
	}
}

// TestTXTimerStopReturnsPromptly verifies Stop halts Run without waiting
// for ctx to expire.
func TestTXTimerStopReturnsPromptly(t *testing.T) {
	t.Parallel()

	rb := audio.NewRingBuffer(64)
	sender := &fakeSender{}
	cfg := gip.AudioConfig{FragmentSize: 8}
	timer := audio.NewTXTimer(1, cfg, rb, sender, slog.New(slog.DiscardHandler))

	done := make(chan struct{})
	go func() {
		timer.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	timer.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

// fakeSink records every Write call.
type fakeSink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// TestHandleAudioSamplesStripsEnvelope verifies the 2-byte length prefix
// is removed before the sink sees the samples (spec.md §4.7 "Receive").
func TestHandleAudioSamplesStripsEnvelope(t *testing.T) {
	t.Parallel()

	samples := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	payload := append([]byte{byte(len(samples)), 0x00}, samples...)

	sink := &fakeSink{}
	if err := audio.HandleAudioSamples(payload, false, sink); err != nil {
		t.Fatalf("HandleAudioSamples: %v", err)
	}

	if len(sink.buf) != len(samples) {
		t.Fatalf("sink got %d bytes, want %d", len(sink.buf), len(samples))
	}
	for i, b := range samples {
		if sink.buf[i] != b {
			t.Errorf("sink.buf[%d] = %#x, want %#x", i, sink.buf[i], b)
		}
	}
}

// TestHandleAudioSamplesShortPayloadErrors verifies a payload shorter
// than the 2-byte envelope prefix is rejected.
func TestHandleAudioSamplesShortPayloadErrors(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	err := audio.HandleAudioSamples([]byte{0x01}, false, sink)
	if err == nil {
		t.Fatal("expected error for short payload")
	}
	if !errors.Is(err, gip.ErrMalformedHeader) {
		t.Errorf("error = %v, want wrapping ErrMalformedHeader", err)
	}
}
