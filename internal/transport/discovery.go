//go:build linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jochenvg/go-udev"
)

// xboxAccessoryVendorID is the USB vendor id GIP accessories (wheels,
// headsets, chat pads) enumerate under, used to bootstrap adapter
// discovery without requiring operator configuration (spec.md §1 keeps
// the real driver out of scope; this only needs enough to find the
// device node).
const xboxAccessoryVendorID = 0x045e

// UdevDiscoverer finds USB GIP accessory devices via libudev, grounded on
// the USB device enumeration shape used for sound/HID devices in the
// retrieved direwolf pack entry, generalized from CM108 sound cards to
// GIP accessory USB devices.
type UdevDiscoverer struct {
	subsystem string
	logger    *slog.Logger
}

// NewUdevDiscoverer creates a discoverer matching USB devices under the
// given kernel subsystem (typically "usb").
func NewUdevDiscoverer(subsystem string, logger *slog.Logger) *UdevDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &UdevDiscoverer{
		subsystem: subsystem,
		logger:    logger.With(slog.String("component", "transport.discovery")),
	}
}

// Discover enumerates currently-present matching devices.
func (d *UdevDiscoverer) Discover(ctx context.Context) ([]DeviceInfo, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()

	if err := e.AddMatchSubsystem(d.subsystem); err != nil {
		return nil, fmt.Errorf("match subsystem %s: %w", d.subsystem, err)
	}

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate %s devices: %w", d.subsystem, err)
	}

	out := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		info, ok := deviceInfoFrom(dev)
		if !ok {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Watch streams device arrival/removal events from a udev netlink monitor
// until ctx is cancelled.
func (d *UdevDiscoverer) Watch(ctx context.Context) (<-chan DeviceEvent, error) {
	u := udev.Udev{}
	m := u.NewMonitorFromNetlink("udev")

	if err := m.FilterAddMatchSubsystem(d.subsystem); err != nil {
		return nil, fmt.Errorf("monitor filter subsystem %s: %w", d.subsystem, err)
	}

	deviceCh, err := m.DeviceChan(ctx)
	if err != nil {
		return nil, fmt.Errorf("start udev monitor: %w", err)
	}

	out := make(chan DeviceEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case dev, ok := <-deviceCh:
				if !ok {
					return
				}
				info, matched := deviceInfoFrom(dev)
				if !matched {
					continue
				}

				evType := DeviceAdded
				if dev.Action() == "remove" {
					evType = DeviceRemoved
				}

				select {
				case out <- DeviceEvent{Type: evType, Info: info}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// deviceInfoFrom extracts vendor/product ids and a device name from a
// udev device, reporting ok=false for devices missing the VID/PID
// properties (not a leaf USB device).
func deviceInfoFrom(dev *udev.Device) (DeviceInfo, bool) {
	vendor := dev.PropertyValue("ID_VENDOR_ID")
	product := dev.PropertyValue("ID_MODEL_ID")
	if vendor == "" || product == "" {
		return DeviceInfo{}, false
	}

	vid, err := strconv.ParseUint(strings.TrimSpace(vendor), 16, 16)
	if err != nil {
		return DeviceInfo{}, false
	}
	pid, err := strconv.ParseUint(strings.TrimSpace(product), 16, 16)
	if err != nil {
		return DeviceInfo{}, false
	}

	name := dev.Devnode()
	if name == "" {
		name = dev.Syspath()
	}

	return DeviceInfo{
		Name:      name,
		VendorID:  uint16(vid),
		ProductID: uint16(pid),
	}, true
}
