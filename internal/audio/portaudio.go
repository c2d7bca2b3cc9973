package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioStream is a Source+Sink pair backed by a single duplex
// portaudio stream: the host's half of the audio path, feeding the ring
// buffers that TXTimer and HandleAudioSamples operate on (spec.md §4.7,
// where the "sound card" side is out of protocol scope but still needs
// a concrete implementation to exercise the plumbing end to end).
type PortAudioStream struct {
	mu     sync.Mutex
	stream *portaudio.Stream

	in  []int16
	out []int16

	rx *RingBuffer
	tx *RingBuffer
}

// OpenPortAudioStream opens the default input/output devices with the
// given channel count, sample rate, and frames-per-callback, matching
// the negotiated gip.AudioConfig for one client direction pair.
func OpenPortAudioStream(channels, sampleRate, framesPerBuffer int, rx, tx *RingBuffer) (*PortAudioStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: portaudio initialize: %w", err)
	}

	p := &PortAudioStream{
		in:  make([]int16, framesPerBuffer*channels),
		out: make([]int16, framesPerBuffer*channels),
		rx:  rx,
		tx:  tx,
	}

	stream, err := portaudio.OpenDefaultStream(channels, channels, float64(sampleRate), framesPerBuffer, p.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: open default stream: %w", err)
	}
	p.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: start stream: %w", err)
	}

	return p, nil
}

// callback runs on portaudio's realtime audio thread: it copies captured
// samples into the RX ring buffer (for the wire TX path to pick up) and
// pulls playback samples from the TX ring buffer (filled by the wire RX
// path), matching the direwolf-style inbuf/outbuf shuttle the teacher
// pack's audio device layer uses, generalized from byte-at-a-time PCM
// to portaudio's interleaved int16 frame callback.
func (p *PortAudioStream) callback(in, out []int16) {
	if p.rx != nil {
		_, _ = p.rx.Write(int16ToBytes(in))
	}
	if p.tx != nil {
		buf := make([]byte, len(out)*2)
		n, _ := p.tx.Read(buf)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		bytesToInt16(buf, out)
	}
}

// Close stops and releases the portaudio stream.
func (p *PortAudioStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.stream != nil {
		err = p.stream.Close()
	}
	if tErr := portaudio.Terminate(); tErr != nil && err == nil {
		err = tErr
	}
	return err
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func bytesToInt16(in []byte, out []int16) {
	for i := range out {
		if i*2+1 >= len(in) {
			out[i] = 0
			continue
		}
		out[i] = int16(in[i*2]) | int16(in[i*2+1])<<8
	}
}
