package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

const defaultLibcameraCommand = "libcamera-still"

// libcameraSource shells out to libcamera-still, which writes a JPEG
// to stdout when given "-o -".
type libcameraSource struct {
	cfg     Config
	command string

	mu     sync.Mutex
	closed bool
}

func openLibcamera(cfg Config) (Source, error) {
	cmd := cfg.Command
	if cmd == "" {
		cmd = defaultLibcameraCommand
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("libcamera: %w", err)
	}
	debug.Verbose("Camera: using %s for %s", path, cfg.ID)
	return &libcameraSource{cfg: cfg, command: path}, nil
}

func (l *libcameraSource) Frame(ctx context.Context) ([]byte, error) {
	w, h := previewSize(l.cfg)
	return l.run(ctx, w, h, "--quality", "70")
}

func (l *libcameraSource) Still(ctx context.Context, s Settings) ([]byte, error) {
	// libcamera-still has no flash control; the rear torch is driven over GPIO.
	return l.run(ctx, l.cfg.Width, l.cfg.Height, "--quality", strconv.Itoa(l.cfg.Quality))
}

func (l *libcameraSource) run(ctx context.Context, w, h int, extra ...string) ([]byte, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	args := append([]string{
		"--nopreview",
		"--timeout", "1",
		"--width", strconv.Itoa(w),
		"--height", strconv.Itoa(h),
		"--encoding", "jpg",
	}, extra...)
	if l.cfg.Facing == Front {
		args = append(args, "--camera", "1")
	}
	args = append(args, "--output", "-")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	debug.Trace("Camera: exec %s %v", l.command, args)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("libcamera: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("libcamera: empty output")
	}
	return stdout.Bytes(), nil
}

func (l *libcameraSource) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
