package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/vova616/screenshot"
)

// screenSource treats the active monitor as a virtual camera.
type screenSource struct {
	cfg Config

	mu     sync.Mutex
	closed bool
}

func openScreen(cfg Config) (Source, error) {
	return &screenSource{cfg: cfg}, nil
}

func (s *screenSource) grab(ctx context.Context, width int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	img, err := screenshot.CaptureScreen()
	if err != nil {
		return nil, fmt.Errorf("screen capture: %w", err)
	}
	if img.Bounds().Dx() > width {
		return imaging.Resize(img, width, 0, imaging.Box), nil
	}
	return img, nil
}

func (s *screenSource) Frame(ctx context.Context) ([]byte, error) {
	w, _ := previewSize(s.cfg)
	img, err := s.grab(ctx, w)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(img, s.cfg.Quality)
}

func (s *screenSource) Still(ctx context.Context, _ Settings) ([]byte, error) {
	img, err := s.grab(ctx, s.cfg.Width)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(img, s.cfg.Quality)
}

func (s *screenSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
