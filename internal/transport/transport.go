// Package transport defines the L0 external contract a GIP host uses to
// move raw frames to and from a physical adapter (spec.md §2's "wire
// framing is out of scope; the host stack starts at the decoded packet
// boundary" is the counterpart statement on the gip side — this package
// is the thing that produces that decoded boundary).
//
// It ships one reference implementation, an AF_PACKET transport for
// Linux wireless adapters, grounded on the raw-socket plumbing the
// teacher uses for its own BFD sockets.
package transport

import (
	"context"
	"errors"
)

// Sentinel errors for the transport package.
var (
	// ErrClosed indicates an operation on an already-closed Device.
	ErrClosed = errors.New("transport: device closed")

	// ErrNoDevice indicates no matching adapter device was found.
	ErrNoDevice = errors.New("transport: no matching device")
)

// Frame is one raw link-layer frame exchanged with a physical adapter,
// before GIP packet decoding.
type Frame struct {
	// ClientID identifies which of the adapter's logical clients this
	// frame belongs to, when the transport can determine it from framing
	// below the GIP layer (e.g. a WCID in the 802.11 header). Transports
	// that cannot determine this leave it zero and rely on the GIP layer
	// to learn it from the packet's own header.
	ClientID uint8

	// Payload is the frame body: wire bytes comprising one or more GIP
	// packets, handed to gip.Adapter.Receive unmodified.
	Payload []byte
}

// Device is one physical adapter's raw I/O surface: reading and writing
// link-layer frames, independent of the GIP packet format riding inside
// them.
type Device interface {
	// ReadFrame blocks until a frame arrives or ctx is cancelled.
	ReadFrame(ctx context.Context) (Frame, error)

	// WriteFrame sends a frame to the client identified by clientID.
	WriteFrame(clientID uint8, payload []byte) error

	// Name returns a human-readable device identifier (e.g. the
	// network interface name), used in adapter naming and logs.
	Name() string

	// Close releases the underlying socket or file descriptor. After
	// Close, ReadFrame and WriteFrame return ErrClosed.
	Close() error
}

// Discoverer enumerates and watches for physical adapter devices coming
// and going, independent of how a given platform detects them (udev,
// polling, a fixed list from configuration).
type Discoverer interface {
	// Discover returns the set of devices currently present.
	Discover(ctx context.Context) ([]DeviceInfo, error)

	// Watch streams device arrival/removal events until ctx is
	// cancelled. The returned channel is closed when Watch returns.
	Watch(ctx context.Context) (<-chan DeviceEvent, error)
}

// DeviceInfo describes one discovered adapter device without opening it.
type DeviceInfo struct {
	// Name is the platform device identifier (interface name, devnode).
	Name string

	// VendorID and ProductID are the USB VID/PID pair, when known.
	VendorID, ProductID uint16
}

// DeviceEventType distinguishes arrival from removal in a DeviceEvent.
type DeviceEventType int

// Device event kinds.
const (
	DeviceAdded DeviceEventType = iota
	DeviceRemoved
)

// DeviceEvent is one device arrival or removal notification.
type DeviceEvent struct {
	Type DeviceEventType
	Info DeviceInfo
}
