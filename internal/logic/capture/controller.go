package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/library"
	"github.com/cjeanneret/SnapGo/internal/logic/pipeline"
	"github.com/cjeanneret/SnapGo/internal/permission"
)

// Pipeline is the capture pipeline the controller drives.
type Pipeline interface {
	Configure(dev camera.Device) error
	Start() error
	Stop() error
	Running() bool
	Capture(ctx context.Context, s camera.Settings) <-chan pipeline.Result
	Close() error
}

// DeviceFinder resolves a device for a facing.
type DeviceFinder interface {
	FindDevice(f camera.Facing) (camera.Device, bool)
}

// Library stores saved photos.
type Library interface {
	WriteImageAsset(ctx context.Context, data []byte) (library.Asset, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Permissions permission.Authority
	Devices     DeviceFinder
	Pipeline    Pipeline
	Library     Library

	Facing camera.Facing // initial facing
	Flash  bool          // initial flash setting
}

// Controller is the capture-session controller behind one camera screen.
//
// Operations are serialized by op; mu guards the fields and is only held
// briefly so snapshots stay available while an operation waits on a
// permission prompt or a library write. Observers are called without
// any lock held.
type Controller struct {
	perms   permission.Authority
	devices DeviceFinder
	pipe    Pipeline
	lib     Library

	op sync.Mutex

	mu         sync.Mutex
	auth       AuthorizationState
	device     camera.Device
	facing     camera.Facing
	flash      bool
	photoTaken bool
	photo      []byte
	captureGen uint64
	lastErr    error
	closed     bool

	// tmu serializes torch switching; torchGen is the capture holding it.
	tmu      sync.Mutex
	torchGen uint64

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	lmu       sync.Mutex
	listeners map[int]func(State)
	nextID    int
}

// NewController wires a controller. Call Initialize before anything else.
func NewController(d Deps) (*Controller, error) {
	switch {
	case d.Permissions == nil:
		return nil, errors.New("capture: permission authority is required")
	case d.Devices == nil:
		return nil, errors.New("capture: device finder is required")
	case d.Pipeline == nil:
		return nil, errors.New("capture: pipeline is required")
	case d.Library == nil:
		return nil, errors.New("capture: library is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		perms:     d.Permissions,
		devices:   d.Devices,
		pipe:      d.Pipeline,
		lib:       d.Library,
		facing:    d.Facing,
		flash:     d.Flash,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(State)),
	}, nil
}

// Initialize checks the camera permission, prompting if needed, then
// resolves a device for the current facing and attaches it.
func (c *Controller) Initialize(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	debug.Section("Initialization")

	if !c.authorized(ctx, permission.Video) {
		c.mu.Lock()
		c.auth = Denied
		c.device = nil
		c.mu.Unlock()
		c.stopSession("permission denied")
		debug.Info("Camera permission denied")
		c.notify()
		return ErrPermissionDenied
	}

	c.mu.Lock()
	facing := c.facing
	c.mu.Unlock()

	err := c.configure(facing)
	c.notify()
	return err
}

// StartSession starts the pipeline in the background. It does nothing
// unless authorized, and nothing while a photo is taken.
func (c *Controller) StartSession() {
	c.mu.Lock()
	ready := c.auth == Authorized && !c.photoTaken
	c.mu.Unlock()
	if ready {
		c.startAsync()
	}
}

// CapturePhoto flips PhotoTaken immediately, then captures a still in
// the background. Observers see the flip before any pixel data exists.
func (c *Controller) CapturePhoto() error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.auth != Authorized || c.device == nil || c.photoTaken || !c.pipe.Running() {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.photoTaken = true
	c.lastErr = nil
	c.captureGen++
	gen := c.captureGen
	dev, facing, flash := c.device, c.facing, c.flash
	c.bg.Add(1)
	c.mu.Unlock()
	c.notify()

	settings, torchOn := c.flashSettings(dev, facing, flash, gen)
	results := c.pipe.Capture(c.ctx, settings)

	go func() {
		defer c.bg.Done()
		var res pipeline.Result
		select {
		case res = <-results:
		case <-c.ctx.Done():
			res.Err = c.ctx.Err()
		}
		if torchOn {
			c.releaseTorch(dev, gen)
		}
		c.finishCapture(gen, facing, res)
	}()
	return nil
}

// flashSettings applies the flash policy: the rear camera lights its
// torch for the duration of the capture, the front camera asks for the
// photo-settings flash instead.
func (c *Controller) flashSettings(dev camera.Device, facing camera.Facing, flash bool, gen uint64) (camera.Settings, bool) {
	var s camera.Settings
	if !flash {
		return s, false
	}
	switch facing {
	case camera.Back:
		return s, c.lightTorch(dev, gen)
	case camera.Front:
		s.Flash = camera.FlashOn
	default:
		debug.Error(fmt.Errorf("%w: unknown facing %v, capturing without flash", ErrDeviceConfiguration, facing))
	}
	return s, false
}

// setTorch is best effort: failures are logged and reported as false.
func setTorch(dev camera.Device, on bool) bool {
	if err := dev.LockForConfiguration(); err != nil {
		debug.Warn("%v", fmt.Errorf("%w: lock %s: %v", ErrDeviceConfiguration, dev.ID(), err))
		return false
	}
	defer dev.UnlockForConfiguration()
	if err := dev.SetTorch(on); err != nil {
		debug.Warn("%v", fmt.Errorf("%w: set torch on %s: %v", ErrDeviceConfiguration, dev.ID(), err))
		return false
	}
	return true
}

// lightTorch turns the torch on for capture gen, which then owns it.
func (c *Controller) lightTorch(dev camera.Device, gen uint64) bool {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	if !setTorch(dev, true) {
		return false
	}
	c.torchGen = gen
	return true
}

// releaseTorch turns the torch off unless a later capture lit it again.
func (c *Controller) releaseTorch(dev camera.Device, gen uint64) {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	if c.torchGen != gen {
		return
	}
	setTorch(dev, false)
	c.torchGen = 0
}

func (c *Controller) finishCapture(gen uint64, facing camera.Facing, res pipeline.Result) {
	c.mu.Lock()
	if c.closed || gen != c.captureGen || !c.photoTaken {
		c.mu.Unlock()
		debug.Verbose("Capture: dropping stale result")
		return
	}

	err := res.Err
	if err == nil && len(res.Data) == 0 {
		err = errors.New("empty image data")
	}
	if err != nil {
		c.photoTaken = false
		c.lastErr = fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		c.mu.Unlock()
		debug.Error(c.LastError())
		c.notify()
		return
	}

	if stopErr := c.pipe.Stop(); stopErr != nil {
		debug.Error(fmt.Errorf("stop session after capture: %w", stopErr))
	}
	c.photo = append([]byte(nil), res.Data...)
	size := len(c.photo)
	c.mu.Unlock()

	debug.Shot(facing.String(), size)
	c.notify()
}

// RetakePhoto discards the pending photo and restarts the session.
func (c *Controller) RetakePhoto() {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.photoTaken = false
	c.photo = nil
	c.lastErr = nil
	c.captureGen++
	restart := c.auth == Authorized
	c.mu.Unlock()
	c.notify()

	if restart {
		c.startAsync()
	}
}

// ToggleFlash flips the flash setting and returns the new value.
// Hardware is only touched by the next capture.
func (c *Controller) ToggleFlash() bool {
	c.mu.Lock()
	c.flash = !c.flash
	on := c.flash
	c.mu.Unlock()
	debug.Live("Flash %v", on)
	c.notify()
	return on
}

// SwitchCamera stops the session, flips the facing, resolves and attaches
// the device for the new facing, then restarts the session. It is refused
// while a photo is taken.
func (c *Controller) SwitchCamera(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.photoTaken:
		c.mu.Unlock()
		return ErrPhotoPending
	case c.auth == Denied:
		c.mu.Unlock()
		return ErrPermissionDenied
	case c.auth == Unknown:
		c.mu.Unlock()
		return ErrNotReady
	}
	c.mu.Unlock()

	if err := c.pipe.Stop(); err != nil {
		debug.Error(fmt.Errorf("stop session before switch: %w", err))
	}

	c.mu.Lock()
	c.facing = c.facing.Opposite()
	facing := c.facing
	c.mu.Unlock()
	debug.Live("Switching to %s camera", facing)

	if err := c.configure(facing); err != nil {
		c.notify()
		return err
	}
	c.notify()
	c.startAsync()
	return nil
}

// SavePhoto writes the pending photo to the library. The pending photo
// is kept: the UI layer calls RetakePhoto after a successful save.
func (c *Controller) SavePhoto(ctx context.Context) (library.Asset, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if c.isClosed() {
		return library.Asset{}, ErrClosed
	}
	if !c.authorized(ctx, permission.PhotoLibrary) {
		return library.Asset{}, ErrNotAuthorized
	}

	c.mu.Lock()
	data := c.photo
	c.mu.Unlock()
	if len(data) == 0 {
		return library.Asset{}, ErrCorruptData
	}

	asset, err := c.lib.WriteImageAsset(ctx, data)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSaveFailed, err)
		debug.Error(err)
		return library.Asset{}, err
	}
	return asset, nil
}

// Close stops the session, waits for background work and releases the
// pipeline. Observers are dropped.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.bg.Wait()
	err := c.pipe.Close()

	c.mu.Lock()
	c.photo = nil
	c.device = nil
	c.mu.Unlock()

	c.lmu.Lock()
	c.listeners = make(map[int]func(State))
	c.lmu.Unlock()
	debug.Verbose("Controller closed")
	return err
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Authorization:  c.auth,
		Message:        c.auth.Description(),
		Facing:         c.facing,
		FlashEnabled:   c.flash,
		PhotoTaken:     c.photoTaken,
		HasPhoto:       len(c.photo) > 0,
		SessionRunning: !c.closed && c.pipe.Running(),
	}
	if c.device != nil {
		s.Device = c.device.Name()
	}
	if c.lastErr != nil {
		s.LastError = Message(c.lastErr)
	}
	return s
}

// Photo returns a copy of the pending photo.
func (c *Controller) Photo() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.photo) == 0 {
		return nil, false
	}
	return append([]byte(nil), c.photo...), true
}

// LastError returns the error of the last failed capture, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe registers fn to receive a snapshot after every change.
// The returned func unregisters it.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Controller) notify() {
	s := c.Snapshot()
	c.lmu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// authorized checks a permission, prompting when it is not determined.
func (c *Controller) authorized(ctx context.Context, k permission.Kind) bool {
	switch c.perms.Status(k) {
	case permission.Authorized:
		return true
	case permission.NotDetermined:
		ok, err := c.perms.Request(ctx, k)
		if err != nil {
			debug.Error(err)
			return false
		}
		return ok
	default:
		return false
	}
}

// configure resolves the device for facing and attaches it. Must be
// called with op held and the session stopped.
func (c *Controller) configure(facing camera.Facing) error {
	debug.Step(1, "Resolving "+facing.String()+" camera")
	dev, ok := c.devices.FindDevice(facing)
	if !ok {
		c.mu.Lock()
		c.auth = NoDeviceFound
		c.device = nil
		c.mu.Unlock()
		c.stopSession("no device")
		debug.Info("No %s camera found", facing)
		return ErrNoDeviceFound
	}

	debug.Step(2, "Attaching "+dev.ID())
	if err := c.pipe.Configure(dev); err != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceConfiguration, err)
		debug.Error(err)
		c.mu.Lock()
		c.auth = NoDeviceFound
		c.device = nil
		c.mu.Unlock()
		c.stopSession("configuration failed")
		return err
	}

	c.mu.Lock()
	c.device = dev
	c.auth = Authorized
	c.mu.Unlock()
	debug.Info("Camera ready: %s", dev.Name())
	return nil
}

// stopSession halts the pipeline once authorization is lost.
func (c *Controller) stopSession(reason string) {
	if err := c.pipe.Stop(); err != nil {
		debug.Error(fmt.Errorf("stop session (%s): %w", reason, err))
	}
}

// startAsync starts the pipeline on a tracked goroutine. The start runs
// under op and is skipped if the controller left Authorized or took a
// photo in the meantime.
func (c *Controller) startAsync() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bg.Done()
		c.op.Lock()
		c.mu.Lock()
		ok := !c.closed && c.auth == Authorized && !c.photoTaken
		c.mu.Unlock()
		if ok {
			if err := c.pipe.Start(); err != nil {
				debug.Error(fmt.Errorf("start session: %w", err))
			}
		}
		c.op.Unlock()
		c.notify()
	}()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
