package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"

	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
	"github.com/cjeanneret/SnapGo/internal/hw/torch"
)

func mustDevice(t *testing.T, cfg Config, tr *torch.Torch) Device {
	t.Helper()
	d, err := NewDevice(cfg, tr)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	return d
}

// ---------- Facing ----------

func TestParseFacing(t *testing.T) {
	cases := []struct {
		in      string
		want    Facing
		wantErr bool
	}{
		{"back", Back, false},
		{"FRONT", Front, false},
		{" rear ", Back, false},
		{"user", Front, false},
		{"side", Back, true},
		{"", Back, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFacing(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFacing_Opposite(t *testing.T) {
	if Back.Opposite() != Front || Front.Opposite() != Back {
		t.Error("Opposite should swap back and front")
	}
	if Facing(7).Valid() {
		t.Error("facing 7 should not be valid")
	}
}

// ---------- Discovery ----------

func TestDiscovery_FrontPrefersTrueDepth(t *testing.T) {
	wide := mustDevice(t, Config{ID: "front-wide", Facing: Front, Type: WideAngle}, nil)
	depth := mustDevice(t, Config{ID: "front-depth", Facing: Front, Type: TrueDepth}, nil)
	back := mustDevice(t, Config{ID: "back-wide", Facing: Back, Type: WideAngle}, nil)
	d := NewDiscovery(wide, back, depth)

	got, ok := d.FindDevice(Front)
	if !ok {
		t.Fatal("expected a front device")
	}
	if got.ID() != "front-depth" {
		t.Errorf("front device = %s, want front-depth", got.ID())
	}
}

func TestDiscovery_BackPrefersWideAngle(t *testing.T) {
	depth := mustDevice(t, Config{ID: "back-depth", Facing: Back, Type: TrueDepth}, nil)
	wide1 := mustDevice(t, Config{ID: "back-wide-1", Facing: Back, Type: WideAngle}, nil)
	wide2 := mustDevice(t, Config{ID: "back-wide-2", Facing: Back, Type: WideAngle}, nil)
	d := NewDiscovery(depth, wide1, wide2)

	got, ok := d.FindDevice(Back)
	if !ok {
		t.Fatal("expected a back device")
	}
	if got.ID() != "back-wide-1" {
		t.Errorf("back device = %s, want back-wide-1 (first match)", got.ID())
	}
}

func TestDiscovery_NoMatch(t *testing.T) {
	back := mustDevice(t, Config{ID: "back", Facing: Back}, nil)
	d := NewDiscovery(back)

	if _, ok := d.FindDevice(Front); ok {
		t.Error("expected no front device")
	}
	if _, ok := NewDiscovery().FindDevice(Back); ok {
		t.Error("empty discovery should find nothing")
	}
}

// ---------- Device ----------

func TestNewDevice_Defaults(t *testing.T) {
	d := mustDevice(t, Config{Kind: KindMock, Facing: Front}, nil)
	if d.ID() != "mock-front" {
		t.Errorf("ID = %q, want mock-front", d.ID())
	}
	if d.Name() != d.ID() {
		t.Errorf("Name = %q, want ID", d.Name())
	}
}

func TestNewDevice_UnknownKind(t *testing.T) {
	if _, err := NewDevice(Config{Kind: "webcam"}, nil); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestDevice_TorchRequiresLock(t *testing.T) {
	drv := gpio.NewMockDriver()
	d := mustDevice(t, Config{Facing: Back}, torch.New(drv, 17))

	if !d.HasTorch() {
		t.Fatal("device should have a torch")
	}
	if err := d.SetTorch(true); !errors.Is(err, torch.ErrNotLocked) {
		t.Errorf("SetTorch without lock: err = %v", err)
	}
	if err := d.LockForConfiguration(); err != nil {
		t.Fatalf("LockForConfiguration: %v", err)
	}
	if err := d.SetTorch(true); err != nil {
		t.Fatalf("SetTorch: %v", err)
	}
	d.UnlockForConfiguration()

	if lvl, _ := drv.ReadPin(17); lvl != gpio.High {
		t.Error("torch pin should be HIGH")
	}
}

func TestDevice_NoTorch(t *testing.T) {
	d := mustDevice(t, Config{Facing: Front}, nil)
	if err := d.LockForConfiguration(); err != nil {
		t.Errorf("lock without torch should succeed, got %v", err)
	}
	if err := d.SetTorch(true); !errors.Is(err, ErrNoTorch) {
		t.Errorf("SetTorch: err = %v, want ErrNoTorch", err)
	}
}

// ---------- Mock source ----------

func TestMockSource_ProducesJPEG(t *testing.T) {
	d := mustDevice(t, Config{Kind: KindMock, Width: 320, Height: 240}, nil)
	src, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	still, err := src.Still(context.Background(), Settings{Flash: FlashOn})
	if err != nil {
		t.Fatalf("Still: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(still))
	if err != nil {
		t.Fatalf("decode still: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("still size = %dx%d, want 320x240", b.Dx(), b.Dy())
	}

	frame, err := src.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(frame)); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
}

func TestMockSource_PreviewDownscaled(t *testing.T) {
	w, h := previewSize(Config{Width: 1280, Height: 720})
	if w != 640 || h != 360 {
		t.Errorf("preview = %dx%d, want 640x360", w, h)
	}
}

func TestMockSource_Closed(t *testing.T) {
	src, _ := openMock(Config{Width: 64, Height: 48, Quality: 80})
	src.Close()
	if _, err := src.Frame(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Frame after Close: err = %v, want ErrClosed", err)
	}
}

func TestMockSource_CancelledContext(t *testing.T) {
	src, _ := openMock(Config{Width: 64, Height: 48, Quality: 80})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Still(ctx, Settings{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
