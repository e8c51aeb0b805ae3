package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Facing is the side of the station a camera points to.
type Facing int

const (
	Back Facing = iota
	Front
)

func (f Facing) String() string {
	switch f {
	case Back:
		return "back"
	case Front:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// Opposite returns the other facing. Unknown values map to Back.
func (f Facing) Opposite() Facing {
	if f == Back {
		return Front
	}
	return Back
}

// Valid reports whether f is Back or Front.
func (f Facing) Valid() bool {
	return f == Back || f == Front
}

// MarshalText implements encoding.TextMarshaler.
func (f Facing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Facing) UnmarshalText(b []byte) error {
	v, err := ParseFacing(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFacing converts "back" or "front" (case-insensitive) to a Facing.
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back", "rear":
		return Back, nil
	case "front", "user":
		return Front, nil
	default:
		return Back, fmt.Errorf("unknown camera facing %q", s)
	}
}

// DeviceType is the kind of sensor behind a device, used by discovery.
type DeviceType int

const (
	WideAngle DeviceType = iota // primary wide-angle sensor
	TrueDepth                   // depth-capable front sensor
)

func (t DeviceType) String() string {
	switch t {
	case WideAngle:
		return "wide_angle"
	case TrueDepth:
		return "true_depth"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseDeviceType converts a config value to a DeviceType. Empty means wide-angle.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wide_angle":
		return WideAngle, nil
	case "true_depth":
		return TrueDepth, nil
	default:
		return WideAngle, fmt.Errorf("unknown device type %q", s)
	}
}

// FlashMode is the photo-settings flash request.
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashOn
)

// Settings are per-capture still settings.
type Settings struct {
	Flash FlashMode
}

var (
	// ErrNoTorch is returned by SetTorch on devices without a torch.
	ErrNoTorch = errors.New("camera: device has no torch")
	// ErrClosed is returned by a Source after Close.
	ErrClosed = errors.New("camera: source closed")
)

// Device is a physical (or simulated) camera the pipeline can attach.
type Device interface {
	ID() string
	Name() string
	Facing() Facing
	Type() DeviceType
	HasTorch() bool

	// LockForConfiguration must succeed before SetTorch.
	LockForConfiguration() error
	SetTorch(on bool) error
	UnlockForConfiguration()

	// Open returns a frame source bound to this device.
	Open() (Source, error)
}

// Source produces encoded images from an opened device.
type Source interface {
	// Frame returns one preview frame (JPEG).
	Frame(ctx context.Context) ([]byte, error)
	// Still captures one full-resolution photo (JPEG).
	Still(ctx context.Context, s Settings) ([]byte, error)
	Close() error
}
