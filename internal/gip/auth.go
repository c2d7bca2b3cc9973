package gip

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"fmt"
	"hash"
	"math/big"
)

// This file implements the per-client authentication engine (spec.md
// §4.5): the TLS-derived v1 (RSA PKCS#1 + SHA-256 PRF) and v2 (ECDH
// P-256 + SHA-256 PRF) handshakes, their shared PRF contract, and the
// running transcript hash.

// Auth sub-command bytes carried in the data region of an Authenticate
// packet (spec.md §4.5). These are internal to the handshake and
// distinct from the GIP command codes in codec.go.
const (
	authHostHello            byte = 0x01
	authClientHello          byte = 0x02
	authClientCertRequest    byte = 0x03
	authClientCertificate    byte = 0x04
	authHostSecret           byte = 0x05
	authHostFinish           byte = 0x06
	authClientFinish         byte = 0x07
	authHostHello2           byte = 0x81
	authClientHello2         byte = 0x82
	authClientCertificate2   byte = 0x83
	authClientPubkey2        byte = 0x84
	authHostPubkey2          byte = 0x85
	authHostFinish2          byte = 0x86
	authClientFinish2        byte = 0x87
	authComplete             byte = 0x08
)

// rsaClientKeyPrefix is the fixed ASN.1 prefix the core scans the
// ClientCertificate buffer for (spec.md §4.5 step 3).
var rsaClientKeyPrefix = []byte{0x30, 0x82, 0x01, 0x0a}

const (
	rsaClientKeyLen  = 270 // bytes following the ASN.1 prefix (spec.md §4.5 step 3).
	v2ClientPubKeyLen = 64  // raw (X||Y) ECDH coordinates (spec.md §4.5 v2).
)

// authStep is the handshake's internal progress marker, distinct from
// the client lifecycle FSM in fsm.go: handshake progress does not depend
// on or move the lifecycle state, and an auth failure leaves it unchanged
// (spec.md §7: "leave the client unauthenticated — no retry").
type authStep int

const (
	authStepHostHelloSent authStep = iota
	authStepAwaitingClientHello
	authStepAwaitingClientCertificate
	authStepAwaitingClientFinish
	authStepDone
	authStepFailed
)

// AuthContext is the per-client authentication state (spec.md §3's
// "per-client authentication context").
type AuthContext struct {
	version int // 1 or 2, 0 before detected

	step authStep

	// transcript is the running SHA-256 of every handshake packet's
	// data region (spec.md §4.5's "PRF contract"). Exporting its digest
	// must not disturb ongoing writes: transcriptDigest clones the
	// state via encoding.BinaryMarshaler rather than calling Sum
	// destructively.
	transcript hash.Hash

	hostRandom   [32]byte
	clientRandom [32]byte

	clientPubKeyV1 []byte              // 270 bytes, v1 only.
	clientPubKeyV2 [v2ClientPubKeyLen]byte // v2 only.
	ecdhPriv       *ecdh.PrivateKey    // v2 only.

	masterSecret [48]byte
	sessionKey   [16]byte

	lastSentCmd byte
}

// NewAuthContext starts a handshake: generates host_random and sends
// HostHello (spec.md §4.5 step 1).
func NewAuthContext() (*AuthContext, []byte, error) {
	ctx := &AuthContext{
		transcript: sha256.New(),
		step:       authStepHostHelloSent,
	}

	if _, err := rand.Read(ctx.hostRandom[:]); err != nil {
		return nil, nil, fmt.Errorf("gip: auth: generate host random: %w", err)
	}

	// HostHello: 32 random bytes + 8 unknown trailing bytes.
	payload := make([]byte, 40)
	copy(payload, ctx.hostRandom[:])

	ctx.writeTranscript(payload)
	ctx.lastSentCmd = authHostHello
	ctx.step = authStepAwaitingClientHello

	return ctx, payload, nil
}

// writeTranscript feeds data into the running transcript hash.
func (a *AuthContext) writeTranscript(data []byte) {
	a.transcript.Write(data)
}

// transcriptDigest returns the transcript's current SHA-256 digest
// without finalizing the running hash, by exporting and re-importing
// its marshaled state (spec.md §4.5: "extracting the digest must
// preserve the state (export→final→import)").
func (a *AuthContext) transcriptDigest() ([]byte, error) {
	marshaler, ok := a.transcript.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("gip: auth: transcript hash is not exportable")
	}
	state, err := marshaler.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("gip: auth: export transcript: %w", err)
	}

	clone := sha256.New()
	unmarshaler, ok := clone.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("gip: auth: transcript hash is not importable")
	}
	if err := unmarshaler.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("gip: auth: import transcript: %w", err)
	}

	return clone.Sum(nil), nil
}

// -------------------------------------------------------------------------
// PRF — TLS 1.2-style P_SHA256 (spec.md §4.5's "PRF contract")
// -------------------------------------------------------------------------

// prfSHA256 computes P_SHA256(secret, label||seed) truncated to outLen
// bytes: A(0) = label||seed, A(i) = HMAC(secret, A(i-1)), output =
// HMAC(secret, A(1)||label||seed) || HMAC(secret, A(2)||label||seed) ||
// ...
func prfSHA256(secret []byte, label string, seed []byte, outLen int) []byte {
	labelSeed := make([]byte, 0, len(label)+len(seed))
	labelSeed = append(labelSeed, label...)
	labelSeed = append(labelSeed, seed...)

	out := make([]byte, 0, outLen)

	a := hmacSum(secret, labelSeed)
	for len(out) < outLen {
		mac := hmac.New(sha256.New, secret)
		mac.Write(a)
		mac.Write(labelSeed)
		out = append(out, mac.Sum(nil)...)

		a = hmacSum(secret, a)
	}

	return out[:outLen]
}

func hmacSum(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// -------------------------------------------------------------------------
// Version 1 — RSA PKCS#1 v1.5 + SHA-256 PRF (spec.md §4.5)
// -------------------------------------------------------------------------

// OnClientHello processes ClientHello: 32 random bytes + 48 opaque bytes
// (spec.md §4.5 step 2), then requests ClientCertificate.
func (a *AuthContext) OnClientHello(payload []byte) ([]byte, error) {
	if a.step != authStepAwaitingClientHello {
		return nil, fmt.Errorf("gip: auth: unexpected ClientHello in step %d: %w", a.step, ErrAuthProtocolError)
	}
	if len(payload) < 32 {
		return nil, fmt.Errorf("gip: auth: short ClientHello: %w", ErrAuthProtocolError)
	}

	a.version = 1
	copy(a.clientRandom[:], payload[:32])
	a.writeTranscript(payload)

	a.step = authStepAwaitingClientCertificate
	a.lastSentCmd = authClientCertRequest

	// Request ClientCertificate (spec.md §4.5 step 3): empty request body.
	return nil, nil
}

// OnClientCertificate processes the returned certificate buffer,
// extracting the RSA public key at the fixed ASN.1 prefix (spec.md §4.5
// step 3), generates the pre-master secret, encrypts it, derives the
// master secret, and returns the HostSecret payload followed by
// HostFinish's PRF value -- callers send both as separate packets.
func (a *AuthContext) OnClientCertificate(cert []byte) (hostSecret, hostFinish []byte, err error) {
	if a.step != authStepAwaitingClientCertificate {
		return nil, nil, fmt.Errorf("gip: auth: unexpected ClientCertificate in step %d: %w", a.step, ErrAuthProtocolError)
	}

	idx := bytes.Index(cert, rsaClientKeyPrefix)
	if idx < 0 || idx+len(rsaClientKeyPrefix)+rsaClientKeyLen > len(cert) {
		return nil, nil, ErrAuthNoKey
	}
	keyBytes := cert[idx+len(rsaClientKeyPrefix) : idx+len(rsaClientKeyPrefix)+rsaClientKeyLen]
	a.clientPubKeyV1 = append([]byte(nil), keyBytes...)

	pub, err := parseRSAPublicKeyFromModulus(keyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("gip: auth: parse client RSA key: %w", err)
	}

	var pms [48]byte
	if _, err := rand.Read(pms[:]); err != nil {
		return nil, nil, fmt.Errorf("gip: auth: generate pre-master secret: %w", err)
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, pms[:])
	if err != nil {
		return nil, nil, fmt.Errorf("gip: auth: rsa encrypt pms: %w", err)
	}

	seed := append(append([]byte{}, a.hostRandom[:]...), a.clientRandom[:]...)
	copy(a.masterSecret[:], prfSHA256(pms[:], "Master Secret", seed, 48))

	a.writeTranscript(cert)
	a.writeTranscript(encrypted)

	digest, err := a.transcriptDigest()
	if err != nil {
		return nil, nil, err
	}
	finish := prfSHA256(a.masterSecret[:], "Host Finished", digest, 12)

	a.writeTranscript(finish)
	a.step = authStepAwaitingClientFinish
	a.lastSentCmd = authHostFinish

	return encrypted, finish, nil
}

// OnClientFinish verifies the client's Finished value and, on success,
// derives the session key (spec.md §4.5 step 6, "Completion").
func (a *AuthContext) OnClientFinish(clientFinish []byte) error {
	if a.step != authStepAwaitingClientFinish {
		return fmt.Errorf("gip: auth: unexpected ClientFinish in step %d: %w", a.step, ErrAuthProtocolError)
	}

	digest, err := a.transcriptDigest()
	if err != nil {
		return err
	}
	expected := prfSHA256(a.masterSecret[:], "Device Finished", digest, 12)

	if !hmac.Equal(expected, clientFinish) {
		a.step = authStepFailed
		return ErrAuthTranscriptMismatch
	}

	a.deriveSessionKey()
	a.step = authStepDone
	return nil
}

// deriveSessionKey implements spec.md §4.5's "Completion": session-key =
// PRF("EXPORTER...", master-secret, host_random||client_random)
// truncated to 16 bytes (P6).
func (a *AuthContext) deriveSessionKey() {
	seed := append(append([]byte{}, a.hostRandom[:]...), a.clientRandom[:]...)
	key := prfSHA256(a.masterSecret[:], "EXPORTER DAWN data channel session key for controller", seed, 32)
	copy(a.sessionKey[:], key[:16])
}

// -------------------------------------------------------------------------
// Version 2 — ECDH P-256 + SHA-256 PRF (spec.md §4.5)
// -------------------------------------------------------------------------

// StartV2 resets the transcript and begins the v2 handshake: detected
// when the client's first AuthenticateData packet has a data-header
// command byte that does not equal the handshake-header command byte
// (spec.md §4.5 "Version 2"). Returns the HostHello2 payload.
func (a *AuthContext) StartV2() ([]byte, error) {
	a.version = 2
	a.transcript = sha256.New()

	payload := make([]byte, 40)
	copy(payload, a.hostRandom[:])

	a.writeTranscript(payload)
	a.lastSentCmd = authHostHello2
	a.step = authStepAwaitingClientHello

	return payload, nil
}

// OnClientHello2 mirrors OnClientHello for the v2 flow.
func (a *AuthContext) OnClientHello2(payload []byte) error {
	if a.step != authStepAwaitingClientHello {
		return fmt.Errorf("gip: auth: unexpected ClientHello2 in step %d: %w", a.step, ErrAuthProtocolError)
	}
	if len(payload) < 32 {
		return fmt.Errorf("gip: auth: short ClientHello2: %w", ErrAuthProtocolError)
	}

	copy(a.clientRandom[:], payload[:32])
	a.writeTranscript(payload)
	a.step = authStepAwaitingClientCertificate
	return nil
}

// OnClientCertificate2 is descriptive and ignored (spec.md §4.5:
// "ClientCertificate2 (descriptive, ignored)"), save for feeding the
// transcript.
func (a *AuthContext) OnClientCertificate2(cert []byte) {
	a.writeTranscript(cert)
}

// OnClientPubkey2 processes the 64-byte raw ECDH coordinates, generates
// the host's own P-256 keypair, computes the shared secret and master
// secret, and returns the HostPubkey2 payload followed by HostFinish2.
func (a *AuthContext) OnClientPubkey2(pub []byte) (hostPubkey, hostFinish []byte, err error) {
	if a.step != authStepAwaitingClientCertificate {
		return nil, nil, fmt.Errorf("gip: auth: unexpected ClientPubkey2 in step %d: %w", a.step, ErrAuthProtocolError)
	}
	if len(pub) != v2ClientPubKeyLen {
		return nil, nil, fmt.Errorf("gip: auth: ClientPubkey2 wrong length %d: %w", len(pub), ErrAuthProtocolError)
	}
	copy(a.clientPubKeyV2[:], pub)
	a.writeTranscript(pub)

	curve := ecdh.P256()
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("gip: auth: generate ecdh key: %w", err)
	}
	a.ecdhPriv = priv

	// Raw (X||Y) uncompressed point, minus the leading 0x04 prefix
	// crypto/ecdh adds to both ends -- reconstructed for the client's
	// raw-coordinate wire format.
	clientPoint := append([]byte{0x04}, pub...)
	clientKey, err := curve.NewPublicKey(clientPoint)
	if err != nil {
		return nil, nil, fmt.Errorf("gip: auth: parse client ecdh pubkey: %w", err)
	}

	shared, err := priv.ECDH(clientKey)
	if err != nil {
		return nil, nil, fmt.Errorf("gip: auth: ecdh exchange: %w", err)
	}

	// spec.md §4.5: "shared secret = SHA-256(X-coordinate)". priv.ECDH
	// already returns just the X-coordinate for NIST curves.
	sum := sha256.Sum256(shared)

	seed := append(append([]byte{}, a.hostRandom[:]...), a.clientRandom[:]...)
	copy(a.masterSecret[:], prfSHA256(sum[:], "Master Secret", seed, 48))

	hostPoint := priv.PublicKey().Bytes() // 0x04 || X || Y, 65 bytes.
	hostPubkey = hostPoint[1:]
	a.writeTranscript(hostPubkey)

	digest, err := a.transcriptDigest()
	if err != nil {
		return nil, nil, err
	}
	hostFinish = prfSHA256(a.masterSecret[:], "Host Finished", digest, 12)
	a.writeTranscript(hostFinish)

	a.step = authStepAwaitingClientFinish
	a.lastSentCmd = authHostFinish2

	return hostPubkey, hostFinish, nil
}

// parseRSAPublicKeyFromModulus reinterprets the 270 raw bytes following
// the ASN.1 prefix as a 2048-bit modulus + public exponent (spec.md §4.5
// step 3: the core does not validate the certificate chain, it extracts
// a key by locating a known prefix).
//
// Layout: 256-byte modulus, 10 bytes of unused padding, and a 4-byte
// big-endian exponent in the last 4 bytes of the 270-byte region
// following the fixed header; both the BFD teacher and this host avoid
// depending on a full ASN.1/X.509 decoder for a format the device side
// does not conform to anyway.
func parseRSAPublicKeyFromModulus(keyBytes []byte) (*rsa.PublicKey, error) {
	if len(keyBytes) < 256+4 {
		return nil, fmt.Errorf("gip: auth: short RSA key region (%d bytes): %w", len(keyBytes), ErrAuthProtocolError)
	}

	modulus := keyBytes[:256]
	expBytes := keyBytes[len(keyBytes)-4:]
	exponent := binary.BigEndian.Uint32(expBytes)
	if exponent == 0 {
		exponent = 65537
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: int(exponent),
	}, nil
}

// handleAuthenticate dispatches an Authenticate packet to the client's
// AuthContext, starting one on the first packet (spec.md §4.4 row
// 0x06). Each handshake step, including its RSA/ECDH work, runs
// synchronously on the goroutine that called Receive; it is not posted
// to the adapter's work queue.
func (a *Adapter) handleAuthenticate(ctx context.Context, c *Client, hdr Header, payload []byte) error {
	if len(payload) < 1 {
		return fmt.Errorf("gip: auth: empty payload: %w", ErrAuthProtocolError)
	}

	c.mu.Lock()
	actx := c.auth
	c.mu.Unlock()

	if actx == nil {
		newCtx, hello, err := NewAuthContext()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.auth = newCtx
		c.mu.Unlock()

		return a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, hello)
	}

	sub := payload[0]
	body := payload[1:]

	switch sub {
	case authClientHello:
		if _, err := actx.OnClientHello(body); err != nil {
			return err
		}
		return a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, []byte{authClientCertRequest})

	case authClientCertificate:
		hostSecret, hostFinish, err := actx.OnClientCertificate(body)
		if err != nil {
			return err
		}
		if err := a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, append([]byte{authHostSecret}, hostSecret...)); err != nil {
			return err
		}
		return a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, append([]byte{authHostFinish}, hostFinish...))

	case authClientFinish:
		if err := actx.OnClientFinish(body); err != nil {
			return err
		}
		return a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, []byte{authComplete})

	case authClientHello2:
		// spec.md §4.5: v2 is detected when the client's first
		// AuthenticateData packet carries a sub-command byte that does
		// not match the v1 continuation (authClientHello) the core was
		// expecting after HostHello. StartV2 mirrors how v1 itself is
		// started in the actx == nil branch above: reset the transcript
		// and (re)send a HostHello, here HostHello2.
		if actx.version != 2 {
			v2Hello, err := actx.StartV2()
			if err != nil {
				return err
			}
			if err := a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, v2Hello); err != nil {
				return err
			}
		}
		if err := actx.OnClientHello2(body); err != nil {
			return err
		}
		return nil

	case authClientCertificate2:
		actx.OnClientCertificate2(body)
		return nil

	case authClientPubkey2:
		hostPubkey, hostFinish, err := actx.OnClientPubkey2(body)
		if err != nil {
			return err
		}
		if err := a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, append([]byte{authHostPubkey2}, hostPubkey...)); err != nil {
			return err
		}
		return a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, append([]byte{authHostFinish2}, hostFinish...))

	case authClientFinish2:
		if err := actx.OnClientFinish(body); err != nil {
			return err
		}
		return a.Send(c.ID, Header{Command: CmdAuthenticate, Flags: FlagInternal}, []byte{authComplete})

	default:
		return fmt.Errorf("gip: auth: unknown sub-command 0x%02x: %w", sub, ErrAuthProtocolError)
	}
}
