package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
	"github.com/cjeanneret/SnapGo/internal/permission"
)

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	for _, input := range []string{"0", "65536", "-1", "abc", "8080.5"} {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- helpers ----------

// newTestConfig returns a fully defaulted config with two mock cameras
// and all state under a temp dir.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Camera: config.CameraConfig{
			DefaultFacing:     "back",
			PreviewIntervalMs: 10,
			JPEGQuality:       80,
			Devices: []config.DeviceConfig{
				{Name: "rear", Kind: "mock", Facing: "back", Type: "wide_angle", Width: 320, Height: 240, TorchPin: 18},
				{Name: "front", Kind: "mock", Facing: "front", Type: "true_depth", Width: 320, Height: 240},
			},
		},
		Permissions: config.PermissionsConfig{
			StorePath: filepath.Join(dir, "grants.db"),
			Policy:    "grant",
		},
		Library: config.LibraryConfig{
			Dir:       filepath.Join(dir, "photos"),
			IndexPath: filepath.Join(dir, "library.db"),
			CacheSize: 4,
		},
		Defaults: config.DefaultsConfig{MockGPIO: true},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, flash bool) *app {
	t.Helper()
	a, err := newApp(cfg, flash)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---------- applyFacingOverride ----------

func TestApplyFacingOverride(t *testing.T) {
	cfg := newTestConfig(t)
	if err := applyFacingOverride(cfg, ""); err != nil {
		t.Fatalf("empty override: %v", err)
	}
	if cfg.DefaultFacing() != camera.Back {
		t.Errorf("empty override changed facing to %v", cfg.DefaultFacing())
	}

	if err := applyFacingOverride(cfg, "FRONT"); err != nil {
		t.Fatalf("front override: %v", err)
	}
	if cfg.DefaultFacing() != camera.Front {
		t.Errorf("facing = %v, want front", cfg.DefaultFacing())
	}

	if err := applyFacingOverride(cfg, "sideways"); err == nil {
		t.Error("expected error for unknown facing")
	}
	if cfg.DefaultFacing() != camera.Front {
		t.Error("failed override must leave the config unchanged")
	}
}

// ---------- buildDiscovery ----------

func TestBuildDiscovery(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := buildDiscovery(gpio.NewMockDriver(), cfg)
	if err != nil {
		t.Fatalf("buildDiscovery: %v", err)
	}
	if n := len(d.Devices()); n != 2 {
		t.Fatalf("devices = %d, want 2", n)
	}

	back, ok := d.FindDevice(camera.Back)
	if !ok || back.Name() != "rear" || !back.HasTorch() {
		t.Errorf("back device = %v (found %v)", back, ok)
	}
	front, ok := d.FindDevice(camera.Front)
	if !ok || front.Type() != camera.TrueDepth || front.HasTorch() {
		t.Errorf("front device = %v (found %v)", front, ok)
	}
}

func TestBuildDiscovery_InvalidEntry(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Camera.Devices[1].Kind = "webcam"
	if _, err := buildDiscovery(gpio.NewMockDriver(), cfg); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

// ---------- newApp ----------

func TestNewApp_BadPolicy(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Permissions.Policy = "maybe"
	if _, err := newApp(cfg, false); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	// The failed app released nothing it did not open; a fresh one works.
	cfg.Permissions.Policy = "grant"
	newTestApp(t, cfg, false)
}

// ---------- runOnce ----------

func TestRunOnce_SavesOnePhoto(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, true)
	ctx := testContext(t)

	asset, err := runOnce(ctx, a.ctrl)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if asset.ID == "" || asset.Size == 0 {
		t.Errorf("asset = %+v", asset)
	}

	assets, err := a.lib.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != asset.ID {
		t.Errorf("library = %+v, want the saved asset", assets)
	}
	if _, err := os.Stat(filepath.Join(cfg.Library.Dir, asset.FileName)); err != nil {
		t.Errorf("asset file missing: %v", err)
	}

	st := a.ctrl.Snapshot()
	if !st.PhotoTaken || !st.HasPhoto || st.SessionRunning {
		t.Errorf("state after one-shot = %+v", st)
	}

	// Torch was lit for the capture and is off again.
	level, err := a.gpio.ReadPin(18)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if level != gpio.Low {
		t.Error("torch still lit after capture")
	}
}

func TestRunOnce_FrontCamera(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Camera.DefaultFacing = "front"
	a := newTestApp(t, cfg, false)

	if _, err := runOnce(testContext(t), a.ctrl); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if d := a.ctrl.Snapshot().Device; d != "front" {
		t.Errorf("device = %q, want front", d)
	}
}

func TestRunOnce_CameraDenied(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Permissions.Policy = "deny"
	a := newTestApp(t, cfg, false)
	ctx := testContext(t)

	_, err := runOnce(ctx, a.ctrl)
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if st := a.perms.Status(permission.Video); st != permission.Denied {
		t.Errorf("stored video status = %v, want denied", st)
	}
	if assets, _ := a.lib.List(ctx); len(assets) != 0 {
		t.Errorf("library has %d assets, want 0", len(assets))
	}
}

func TestRunOnce_LibraryDenied(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, false)
	if err := a.perms.Set(permission.PhotoLibrary, permission.Denied); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ctx := testContext(t)

	_, err := runOnce(ctx, a.ctrl)
	if !errors.Is(err, capture.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if assets, _ := a.lib.List(ctx); len(assets) != 0 {
		t.Errorf("library has %d assets, want 0", len(assets))
	}
}

func TestRunOnce_NoDevice(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Camera.Devices = cfg.Camera.Devices[1:] // front only
	a := newTestApp(t, cfg, false)

	_, err := runOnce(testContext(t), a.ctrl)
	if !errors.Is(err, capture.ErrNoDeviceFound) {
		t.Fatalf("err = %v, want ErrNoDeviceFound", err)
	}
}

// ---------- waitFor ----------

func TestWaitFor_ContextDone(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := waitFor(ctx, a.ctrl, func(capture.State) bool { return false })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
