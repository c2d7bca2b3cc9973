//go:build linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// gipEtherType is the 802.3 EtherType this reference transport frames GIP
// traffic under. It is a locally-assigned experimental value (IEEE 802
// reserves 0x88B5/0x88B6 for this purpose); real MT76-class dongles carry
// GIP frames inside vendor-specific 802.11 action frames instead, which is
// out of scope here (spec.md §1's "wire framing below the GIP packet
// boundary is out of scope").
const gipEtherType = 0x88b6

// AFPacketDevice is a Device backed by a Linux AF_PACKET raw socket bound
// to one network interface, grounded on the socket-setup shape of the
// teacher's rawsock_linux.go (syscall.RawConn.Control + unix.SetsockoptInt),
// adapted from UDP/IP socket options to AF_PACKET link-layer framing.
type AFPacketDevice struct {
	ifName string
	ifIndex int

	mu     sync.Mutex
	fd     int
	closed bool

	logger *slog.Logger
}

// NewAFPacketDevice opens a raw AF_PACKET socket bound to ifName, filtered
// to gipEtherType frames.
func NewAFPacketDevice(ifName string, logger *slog.Logger) (*AFPacketDevice, error) {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", ifName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(gipEtherType)))
	if err != nil {
		return nil, fmt.Errorf("open AF_PACKET socket on %s: %w", ifName, err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(gipEtherType),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind AF_PACKET socket to %s: %w", ifName, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &AFPacketDevice{
		ifName:  ifName,
		ifIndex: iface.Index,
		fd:      fd,
		logger: logger.With(
			slog.String("component", "transport.afpacket"),
			slog.String("interface", ifName),
		),
	}, nil
}

// Name returns the bound interface name.
func (d *AFPacketDevice) Name() string { return d.ifName }

// ReadFrame reads one raw frame from the socket. Blocks until a frame
// arrives, ctx is cancelled, or the device is closed.
//
// clientID extraction from link-layer addressing is not implemented for
// this reference transport: AF_PACKET delivers whole Ethernet frames with
// no WCID concept, so ClientID is always left zero and the caller relies
// on the GIP packet header's own client id (spec.md §4.1).
func (d *AFPacketDevice) ReadFrame(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return Frame{}, fmt.Errorf("read frame on %s: %w", d.ifName, ErrClosed)
	}

	buf := make([]byte, 2048)

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)

	go func() {
		n, _, err := unix.Recvfrom(d.fd, buf, 0)
		ch <- result{n, err}
	}()

	select {
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("read frame on %s: %w", d.ifName, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return Frame{}, fmt.Errorf("read frame on %s: %w", d.ifName, r.err)
		}
		return Frame{Payload: append([]byte(nil), buf[:r.n]...)}, nil
	}
}

// WriteFrame sends payload out the bound interface. clientID is accepted
// for interface-contract symmetry with Device but unused by this
// reference transport (see ReadFrame).
func (d *AFPacketDevice) WriteFrame(clientID uint8, payload []byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("write frame on %s: %w", d.ifName, ErrClosed)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(gipEtherType),
		Ifindex:  d.ifIndex,
	}
	if err := unix.Sendto(d.fd, payload, 0, addr); err != nil {
		return fmt.Errorf("write frame on %s: %w", d.ifName, err)
	}
	return nil
}

// Close releases the underlying socket.
func (d *AFPacketDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("close AF_PACKET socket on %s: %w", d.ifName, err)
	}
	d.logger.Info("device closed")
	return nil
}

// htons converts a 16-bit value from host to network byte order, needed
// because Linux's AF_PACKET protocol field is expected in network order.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
