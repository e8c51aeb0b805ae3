package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

// DefaultPreviewInterval is the delay between two preview frames.
const DefaultPreviewInterval = 100 * time.Millisecond

var (
	// ErrNotConfigured is returned when no device is attached.
	ErrNotConfigured = errors.New("pipeline: no device configured")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline: closed")
)

// Result is the outcome of one still capture.
type Result struct {
	Data []byte
	Err  error
}

// Session is the capture pipeline: one attached device feeding a
// preview sink while running, plus a still-photo output.
//
// Configuration, Start, Stop and Close are serialized by one mutex, so a
// reconfiguration is never observed half-applied and a start never races
// a teardown.
type Session struct {
	interval time.Duration

	mu      sync.Mutex
	device  camera.Device
	source  camera.Source
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	pause   uint64 // bumped by every state change; a capture resumes only its own pause

	subMu sync.RWMutex
	subs  map[chan []byte]struct{}
}

// New creates an unconfigured session. interval <= 0 uses DefaultPreviewInterval.
func New(interval time.Duration) *Session {
	if interval <= 0 {
		interval = DefaultPreviewInterval
	}
	return &Session{
		interval: interval,
		subs:     make(map[chan []byte]struct{}),
	}
}

// Configure replaces the attached device and its photo output in one step.
// The new device is opened before the old one is released: on error the
// previous configuration stays in place. A running preview keeps running
// on the new device.
func (s *Session) Configure(dev camera.Device) error {
	if dev == nil {
		return fmt.Errorf("configure: %w", ErrNotConfigured)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	debug.Verbose("Pipeline: begin configuration (%s)", dev.ID())
	src, err := dev.Open()
	if err != nil {
		return fmt.Errorf("attach %s: %w", dev.ID(), err)
	}

	s.pause++
	wasRunning := s.running
	if wasRunning {
		s.stopLocked()
	}
	if s.source != nil {
		_ = s.source.Close()
	}
	s.device = dev
	s.source = src
	if wasRunning {
		s.startLocked()
	}
	debug.Verbose("Pipeline: configuration committed (%s)", dev.ID())
	return nil
}

// Start begins delivering frames to the preview sink. Starting a running
// session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.source == nil {
		return ErrNotConfigured
	}
	s.pause++
	if s.running {
		return nil
	}
	s.startLocked()
	debug.Session(true)
	return nil
}

// Stop halts the preview. Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pause++
	if !s.running {
		return nil
	}
	s.stopLocked()
	debug.Session(false)
	return nil
}

// Running reports whether frames are being delivered.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Capture requests one still from the attached device. The result is
// delivered once on the returned channel.
//
// A running preview is paused first so the source never serves a frame
// and a still at once. It stays paused after a successful capture and
// resumes after a failed one, unless Start, Stop, Configure or Close
// intervened.
func (s *Session) Capture(ctx context.Context, settings camera.Settings) <-chan Result {
	out := make(chan Result, 1)

	s.mu.Lock()
	src, closed := s.source, s.closed
	switch {
	case closed:
		s.mu.Unlock()
		out <- Result{Err: ErrClosed}
		return out
	case src == nil:
		s.mu.Unlock()
		out <- Result{Err: ErrNotConfigured}
		return out
	}
	debug.Verbose("Pipeline: still requested on %s", s.device.ID())
	paused := s.running
	if paused {
		s.stopLocked()
		debug.Verbose("Pipeline: preview paused for capture")
	}
	s.pause++
	pause := s.pause
	s.mu.Unlock()

	go func() {
		data, err := src.Still(ctx, settings)
		if paused && (err != nil || len(data) == 0) {
			s.resume(src, pause)
		}
		out <- Result{Data: data, Err: err}
	}()
	return out
}

func (s *Session) resume(src camera.Source, pause uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.running || s.pause != pause || s.source != src {
		return
	}
	s.startLocked()
	debug.Verbose("Pipeline: preview resumed after failed capture")
}

// Preview subscribes to preview frames. Slow subscribers miss frames.
// The returned func unsubscribes and closes the channel.
func (s *Session) Preview() (<-chan []byte, func()) {
	ch := make(chan []byte, 2)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		close(ch)
		return ch, func() {}
	}
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
	return ch, unsub
}

// Close stops the session, releases the device and ends every preview
// subscription. The session cannot be restarted.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		s.stopLocked()
		debug.Session(false)
	}
	var err error
	if s.source != nil {
		err = s.source.Close()
		s.source = nil
	}
	s.device = nil
	s.closed = true
	s.mu.Unlock()

	s.subMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
	return err
}

func (s *Session) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true
	go s.previewLoop(ctx, s.source, done)
}

func (s *Session) stopLocked() {
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.running = false
}

func (s *Session) previewLoop(ctx context.Context, src camera.Source, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := src.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			debug.Trace("Pipeline: preview frame failed: %v", err)
			continue
		}
		s.publish(frame)
	}
}

func (s *Session) publish(frame []byte) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- frame:
		default:
			// subscriber busy, drop frame
		}
	}
}
