package gip

import "errors"

// Sentinel errors for the GIP codec, framing engine, and message handlers.
// These correspond to the error taxonomy in spec.md §7, grouped by kind
// rather than by the layer that raises them.
var (
	// ErrMalformedHeader indicates a packet header could not be decoded:
	// the buffer was shorter than the declared header, or a varint
	// exceeded the 4-byte overflow bound.
	ErrMalformedHeader = errors.New("gip: malformed packet header")

	// ErrShortBody indicates the buffer is shorter than header + packet-length.
	ErrShortBody = errors.New("gip: packet body shorter than declared length")

	// ErrChunkOverflow indicates a chunk's offset+length exceeds the total
	// declared at CHUNK_START.
	ErrChunkOverflow = errors.New("gip: chunk offset exceeds declared total")

	// ErrMalformedIdentify indicates an Identify payload whose offset table
	// points outside the blob, or whose count/item-length arithmetic
	// overruns the buffer.
	ErrMalformedIdentify = errors.New("gip: malformed identify payload")

	// ErrAuthNoKey indicates the client certificate buffer did not contain
	// the expected ASN.1 RSA public-key prefix.
	ErrAuthNoKey = errors.New("gip: client certificate does not contain RSA public key")

	// ErrAuthTranscriptMismatch indicates the recomputed Finished value did
	// not match the one the client sent.
	ErrAuthTranscriptMismatch = errors.New("gip: auth transcript mismatch")

	// ErrAuthProtocolError indicates a malformed packet, wrong-size field,
	// or wrong-order command during the handshake.
	ErrAuthProtocolError = errors.New("gip: auth protocol error")

	// ErrAudioUnsupportedFormat indicates a format code with no table entry.
	ErrAudioUnsupportedFormat = errors.New("gip: unsupported audio format")

	// ErrNoTxBuffer indicates the transport had no buffer available.
	ErrNoTxBuffer = errors.New("gip: no transmit buffer available")

	// ErrPeerError indicates the peer reported a non-zero error byte on a
	// handshake packet.
	ErrPeerError = errors.New("gip: peer reported protocol error")

	// ErrIO indicates a transport submit/receive failure unrelated to
	// buffer exhaustion.
	ErrIO = errors.New("gip: transport I/O error")

	// ErrUnsupported indicates the transport does not support the
	// requested operation (e.g. audio on a data-only transport).
	ErrUnsupported = errors.New("gip: operation not supported by transport")

	// ErrClientNotFound indicates an operation referenced a client id or
	// slot with no associated Client.
	ErrClientNotFound = errors.New("gip: client not found")

	// ErrInvalidState indicates a command arrived while the client's
	// lifecycle state did not accept it (spec.md §4.3, P4).
	ErrInvalidState = errors.New("gip: command not valid in current client state")

	// ErrBufTooSmall indicates EncodeHeader's destination buffer is too
	// small for the encoded header and payload.
	ErrBufTooSmall = errors.New("gip: buffer too small")
)
