package camera

import (
	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Discovery resolves the best device for a facing.
//
// Policy: for Front, a true-depth sensor is preferred over a wide-angle
// one; for Back, the primary wide-angle sensor is preferred. Within a
// type, devices keep their registration order and the first match wins.
type Discovery struct {
	devices []Device
}

// NewDiscovery registers devices in priority order.
func NewDiscovery(devices ...Device) *Discovery {
	return &Discovery{devices: devices}
}

// Devices returns the registered devices.
func (d *Discovery) Devices() []Device {
	out := make([]Device, len(d.devices))
	copy(out, d.devices)
	return out
}

// FindDevice returns the preferred device for f, or false if none faces f.
func (d *Discovery) FindDevice(f Facing) (Device, bool) {
	for _, t := range preferredTypes(f) {
		for _, dev := range d.devices {
			if dev.Facing() == f && dev.Type() == t {
				debug.Verbose("Discovery: %s camera -> %s (%s)", f, dev.ID(), t)
				return dev, true
			}
		}
	}
	debug.Verbose("Discovery: no %s camera", f)
	return nil, false
}

func preferredTypes(f Facing) []DeviceType {
	if f == Front {
		return []DeviceType{TrueDepth, WideAngle}
	}
	return []DeviceType{WideAngle, TrueDepth}
}
