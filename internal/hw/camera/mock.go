package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
)

// mockSource renders a moving test pattern so the station can run
// on a machine without a camera.
type mockSource struct {
	cfg Config

	mu     sync.Mutex
	frame  int
	closed bool
}

func openMock(cfg Config) (Source, error) {
	return &mockSource{cfg: cfg}, nil
}

func (m *mockSource) next() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.frame++
	return m.frame, nil
}

func (m *mockSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := m.next()
	if err != nil {
		return nil, err
	}
	w, h := previewSize(m.cfg)
	return encodeJPEG(testPattern(w, h, n, m.cfg.Facing, false), m.cfg.Quality)
}

func (m *mockSource) Still(ctx context.Context, s Settings) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := m.next()
	if err != nil {
		return nil, err
	}
	img := testPattern(m.cfg.Width, m.cfg.Height, n, m.cfg.Facing, s.Flash == FlashOn)
	return encodeJPEG(img, m.cfg.Quality)
}

func (m *mockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// testPattern draws a vertical bar that advances one slot per frame.
// Back and front cameras use different backgrounds; flash brightens it.
func testPattern(w, h, n int, f Facing, flash bool) image.Image {
	bg := color.NRGBA{R: 40, G: 60, B: 90, A: 255}
	if f == Front {
		bg = color.NRGBA{R: 90, G: 55, B: 40, A: 255}
	}
	if flash {
		bg.R, bg.G, bg.B = bg.R+100, bg.G+100, bg.B+100
	}
	img := imaging.New(w, h, bg)

	barW := w / 16
	if barW < 1 {
		barW = 1
	}
	bar := imaging.New(barW, h, color.NRGBA{R: 230, G: 230, B: 230, A: 255})
	x := (n * barW) % w
	return imaging.Paste(img, bar, image.Pt(x, 0))
}

func previewSize(cfg Config) (int, int) {
	if cfg.Width <= previewWidth {
		return cfg.Width, cfg.Height
	}
	return previewWidth, previewWidth * cfg.Height / cfg.Width
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
