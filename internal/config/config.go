package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

// MaxConfigFileBytes bounds the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// appDir is the per-user data subdirectory.
const appDir = "snapgo"

// DeviceConfig describes one camera device.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`      // mock, libcamera or screen
	Facing   string `yaml:"facing"`    // back or front
	Type     string `yaml:"type"`      // wide_angle or true_depth
	Width    int    `yaml:"width"`     // still width in pixels
	Height   int    `yaml:"height"`    // still height in pixels
	Command  string `yaml:"command"`   // libcamera only, defaults to libcamera-still
	TorchPin int    `yaml:"torch_pin"` // GPIO pin (BCM) of the torch LED. 0 = no torch.
}

// CameraConfig lists the station's cameras.
type CameraConfig struct {
	DefaultFacing     string         `yaml:"default_facing"`
	Devices           []DeviceConfig `yaml:"devices"`
	PreviewIntervalMs int            `yaml:"preview_interval_ms"`
	JPEGQuality       int            `yaml:"jpeg_quality"`
}

// PermissionsConfig controls where grants are stored and how a prompt
// is answered when nothing has been decided yet.
type PermissionsConfig struct {
	StorePath string `yaml:"store_path"`
	Policy    string `yaml:"policy"` // grant or deny
}

// LibraryConfig locates the photo library.
type LibraryConfig struct {
	Dir       string `yaml:"dir"`
	IndexPath string `yaml:"index_path"`
	CacheSize int    `yaml:"cache_size"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Library     LibraryConfig     `yaml:"library"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// ValidateConfigPath rejects anything but a .yaml file directly inside a
// directory named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file %q must be inside a configs directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if len(c.Camera.Devices) == 0 {
		return errors.New("camera.devices must list at least one device")
	}
	if c.Camera.DefaultFacing == "" {
		c.Camera.DefaultFacing = "back"
	}
	if _, err := camera.ParseFacing(c.Camera.DefaultFacing); err != nil {
		return fmt.Errorf("camera.default_facing: %w", err)
	}
	if c.Camera.PreviewIntervalMs <= 0 {
		c.Camera.PreviewIntervalMs = 100 // 10 fps
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = camera.DefaultQuality
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 1 and 100, got %d", c.Camera.JPEGQuality)
	}

	pins := make(map[int]string)
	for i := range c.Camera.Devices {
		d := &c.Camera.Devices[i]
		if d.Kind == "" {
			d.Kind = string(camera.KindMock)
		}
		switch camera.Kind(d.Kind) {
		case camera.KindMock, camera.KindLibcamera, camera.KindScreen:
		default:
			return fmt.Errorf("camera.devices[%d].kind: unsupported kind %q", i, d.Kind)
		}
		if _, err := camera.ParseFacing(d.Facing); err != nil {
			return fmt.Errorf("camera.devices[%d].facing: %w", i, err)
		}
		if d.Type == "" {
			d.Type = "wide_angle"
		}
		if _, err := camera.ParseDeviceType(d.Type); err != nil {
			return fmt.Errorf("camera.devices[%d].type: %w", i, err)
		}
		if d.Width < 0 || d.Height < 0 {
			return fmt.Errorf("camera.devices[%d]: negative resolution %dx%d", i, d.Width, d.Height)
		}
		if d.TorchPin < 0 {
			return fmt.Errorf("camera.devices[%d].torch_pin must be >= 0, got %d", i, d.TorchPin)
		}
		if d.TorchPin > 0 {
			if other, dup := pins[d.TorchPin]; dup {
				return fmt.Errorf("torch pin %d used by both %s and %s", d.TorchPin, other, d.Name)
			}
			pins[d.TorchPin] = d.Name
		}
	}

	if c.Permissions.Policy == "" {
		c.Permissions.Policy = "grant"
	}
	if c.Permissions.Policy != "grant" && c.Permissions.Policy != "deny" {
		return fmt.Errorf("permissions.policy must be grant or deny, got %q", c.Permissions.Policy)
	}
	if c.Permissions.StorePath == "" {
		c.Permissions.StorePath = filepath.Join(xdg.DataHome, appDir, "grants.db")
	}

	if c.Library.Dir == "" {
		c.Library.Dir = filepath.Join(xdg.DataHome, appDir, "photos")
	}
	if c.Library.IndexPath == "" {
		c.Library.IndexPath = filepath.Join(xdg.DataHome, appDir, "library.db")
	}
	if c.Library.CacheSize < 0 {
		return fmt.Errorf("library.cache_size must be >= 0, got %d", c.Library.CacheSize)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PreviewInterval returns the delay between two preview frames.
func (c *Config) PreviewInterval() time.Duration {
	return time.Duration(c.Camera.PreviewIntervalMs) * time.Millisecond
}

// DefaultFacing returns the facing the station starts with.
func (c *Config) DefaultFacing() camera.Facing {
	f, _ := camera.ParseFacing(c.Camera.DefaultFacing)
	return f
}

// DeviceConfig converts device entry d into a camera.Config.
func (c *Config) DeviceConfig(d DeviceConfig) (camera.Config, error) {
	facing, err := camera.ParseFacing(d.Facing)
	if err != nil {
		return camera.Config{}, err
	}
	typ, err := camera.ParseDeviceType(d.Type)
	if err != nil {
		return camera.Config{}, err
	}
	return camera.Config{
		Name:    d.Name,
		Kind:    camera.Kind(d.Kind),
		Facing:  facing,
		Type:    typ,
		Width:   d.Width,
		Height:  d.Height,
		Quality: c.Camera.JPEGQuality,
		Command: d.Command,
	}, nil
}
