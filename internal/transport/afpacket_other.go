//go:build !linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
)

// ErrUnsupportedPlatform indicates the AF_PACKET reference transport was
// requested on a platform other than Linux.
var ErrUnsupportedPlatform = fmt.Errorf("transport: AF_PACKET reference transport is Linux-only (running on %s)", runtime.GOOS)

// AFPacketDevice is a stub on non-Linux platforms: the reference
// transport's AF_PACKET plumbing has no portable equivalent, matching
// spec.md §1's framing that below-GIP wire transport is host-specific.
type AFPacketDevice struct{}

// NewAFPacketDevice always fails on non-Linux platforms.
func NewAFPacketDevice(ifName string, logger *slog.Logger) (*AFPacketDevice, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *AFPacketDevice) Name() string { return "" }

func (d *AFPacketDevice) ReadFrame(ctx context.Context) (Frame, error) {
	return Frame{}, ErrUnsupportedPlatform
}

func (d *AFPacketDevice) WriteFrame(clientID uint8, payload []byte) error {
	return ErrUnsupportedPlatform
}

func (d *AFPacketDevice) Close() error { return nil }
