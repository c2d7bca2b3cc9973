//go:build !linux

package transport

import (
	"context"
	"log/slog"
)

// UdevDiscoverer is a stub on non-Linux platforms: udev is Linux-specific.
type UdevDiscoverer struct{}

// NewUdevDiscoverer always returns a discoverer whose methods report
// ErrUnsupportedPlatform.
func NewUdevDiscoverer(subsystem string, logger *slog.Logger) *UdevDiscoverer {
	return &UdevDiscoverer{}
}

func (d *UdevDiscoverer) Discover(ctx context.Context) ([]DeviceInfo, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *UdevDiscoverer) Watch(ctx context.Context) (<-chan DeviceEvent, error) {
	return nil, ErrUnsupportedPlatform
}
