package camera

import (
	"fmt"

	"github.com/cjeanneret/SnapGo/internal/hw/torch"
)

// Kind selects the Source implementation behind a device.
type Kind string

const (
	KindMock      Kind = "mock"
	KindLibcamera Kind = "libcamera"
	KindScreen    Kind = "screen"
)

// Default capture geometry, used when the config leaves it empty.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 720
	DefaultQuality = 90

	previewWidth = 640
)

// Config describes one device entry.
type Config struct {
	ID      string
	Name    string
	Kind    Kind
	Facing  Facing
	Type    DeviceType
	Width   int
	Height  int
	Quality int    // JPEG quality 1-100
	Command string // libcamera only: binary to run
}

// device is the Device implementation shared by every Kind.
type device struct {
	cfg   Config
	torch *torch.Torch
	open  func(Config) (Source, error)
}

// NewDevice builds a device. t may be nil when the device has no torch.
func NewDevice(cfg Config, t *torch.Torch) (Device, error) {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("%s-%s", cfg.Kind, cfg.Facing)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	d := &device{cfg: cfg, torch: t}
	switch cfg.Kind {
	case KindMock, "":
		d.open = openMock
	case KindLibcamera:
		d.open = openLibcamera
	case KindScreen:
		d.open = openScreen
	default:
		return nil, fmt.Errorf("unsupported camera kind: %s", cfg.Kind)
	}
	return d, nil
}

func (d *device) ID() string       { return d.cfg.ID }
func (d *device) Name() string     { return d.cfg.Name }
func (d *device) Facing() Facing   { return d.cfg.Facing }
func (d *device) Type() DeviceType { return d.cfg.Type }
func (d *device) HasTorch() bool   { return d.torch != nil }

func (d *device) LockForConfiguration() error {
	if d.torch == nil {
		return nil
	}
	return d.torch.Lock()
}

func (d *device) SetTorch(on bool) error {
	if d.torch == nil {
		return ErrNoTorch
	}
	return d.torch.Set(on)
}

func (d *device) UnlockForConfiguration() {
	if d.torch != nil {
		d.torch.Unlock()
	}
}

func (d *device) Open() (Source, error) {
	return d.open(d.cfg)
}

func (d *device) String() string {
	return fmt.Sprintf("%s (%s, %s, %s)", d.cfg.Name, d.cfg.Kind, d.cfg.Facing, d.cfg.Type)
}
