// Package gip implements the host side of Microsoft's Game Input Protocol
// (GIP): the packet codec, the framing/chunking/acknowledgement engine, the
// per-client lifecycle state machine, the message handlers, and the
// per-client TLS-derived authentication engine (versions 1 and 2).
//
// The wireless dongle's 802.11 association engine lives in a sibling
// package, internal/dongle, which hands GIP payload bytes to an Adapter
// here with the correct client tag. The 8ms audio fragment shuttle lives
// in internal/audio and talks to a Client's negotiated audio configuration.
package gip
