package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
	"github.com/cjeanneret/SnapGo/internal/hw/torch"
	"github.com/cjeanneret/SnapGo/internal/library"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
	"github.com/cjeanneret/SnapGo/internal/logic/pipeline"
	"github.com/cjeanneret/SnapGo/internal/permission"
	"github.com/cjeanneret/SnapGo/internal/web"
)

// readyTimeout bounds how long one-shot mode waits for the session to run.
const readyTimeout = 10 * time.Second

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	facing := flag.String("facing", "", "override initial camera facing (back or front)")
	flash := flag.Bool("flash", false, "start with the flash enabled")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyFacingOverride(cfg, *facing); err != nil {
		log.Fatalf("invalid -facing: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Startup")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		// Log lines reach SSE clients from the very first step.
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	a, err := newApp(cfg, *flash)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	debug.Summary("SnapGo ready")

	if port := webPort.port(); port > 0 {
		err = serve(ctx, a, broadcaster, fmt.Sprintf(":%d", port))
	} else {
		var asset library.Asset
		if asset, err = runOnce(ctx, a.ctrl); err == nil {
			fmt.Printf("%s (%s)\n", capture.SavedMessage, asset.ID)
		}
	}

	if cerr := a.Close(); cerr != nil {
		log.Printf("shutdown: %v", cerr)
	}
	if err != nil {
		log.Fatalf("%s: %v", capture.Message(err), err)
	}
}

// app owns every long-lived component.
type app struct {
	gpio    gpio.Driver
	session *pipeline.Session
	perms   *permission.Store
	lib     *library.Library
	ctrl    *capture.Controller
}

// newApp builds the station from cfg. On error everything opened so far
// is released.
func newApp(cfg *config.Config, flash bool) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		if cerr := a.Close(); cerr != nil {
			debug.Error(cerr)
		}
		return nil, err
	}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	var err error
	if a.gpio, err = gpio.NewDriver(cfg.Defaults.MockGPIO); err != nil {
		return fail(fmt.Errorf("init GPIO: %w", err))
	}

	debug.Step(2, "Registering cameras")
	discovery, err := buildDiscovery(a.gpio, cfg)
	if err != nil {
		return fail(err)
	}

	debug.Step(3, "Opening permission store")
	prompt, err := permission.PolicyPrompter(cfg.Permissions.Policy)
	if err != nil {
		return fail(err)
	}
	if a.perms, err = permission.Open(cfg.Permissions.StorePath, prompt); err != nil {
		return fail(err)
	}
	debug.Value("Permission store", cfg.Permissions.StorePath)

	debug.Step(4, "Opening photo library")
	if a.lib, err = library.Open(cfg.Library.Dir, cfg.Library.IndexPath, cfg.Library.CacheSize); err != nil {
		return fail(err)
	}
	debug.Value("Library", cfg.Library.Dir)

	a.session = pipeline.New(cfg.PreviewInterval())
	a.ctrl, err = capture.NewController(capture.Deps{
		Permissions: a.perms,
		Devices:     discovery,
		Pipeline:    a.session,
		Library:     a.lib,
		Facing:      cfg.DefaultFacing(),
		Flash:       flash,
	})
	if err != nil {
		return fail(err)
	}
	return a, nil
}

// Close tears down in reverse order of construction.
func (a *app) Close() error {
	var errs []error
	if a.ctrl != nil {
		errs = append(errs, a.ctrl.Close())
	} else if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.lib != nil {
		errs = append(errs, a.lib.Close())
	}
	if a.perms != nil {
		errs = append(errs, a.perms.Close())
	}
	if a.gpio != nil {
		errs = append(errs, a.gpio.Close())
	}
	return errors.Join(errs...)
}

// buildDiscovery creates one device per config entry, each with its own
// torch when a pin is set.
func buildDiscovery(g gpio.Driver, cfg *config.Config) (*camera.Discovery, error) {
	devices := make([]camera.Device, 0, len(cfg.Camera.Devices))
	for i, dc := range cfg.Camera.Devices {
		camCfg, err := cfg.DeviceConfig(dc)
		if err != nil {
			return nil, fmt.Errorf("camera.devices[%d]: %w", i, err)
		}
		var t *torch.Torch
		if dc.TorchPin > 0 {
			t = torch.New(g, dc.TorchPin)
		}
		dev, err := camera.NewDevice(camCfg, t)
		if err != nil {
			return nil, fmt.Errorf("camera.devices[%d]: %w", i, err)
		}
		debug.Info("Camera %s: %s %s (%s), torch=%v", dev.ID(), camCfg.Kind, camCfg.Facing, camCfg.Type, dev.HasTorch())
		if debug.IsEnabled(debug.LevelVerbose) {
			debug.PrintStruct("Camera "+dev.ID(), camCfg)
		}
		devices = append(devices, dev)
	}
	return camera.NewDiscovery(devices...), nil
}

// applyFacingOverride replaces the configured default facing when s is set.
func applyFacingOverride(cfg *config.Config, s string) error {
	if s == "" {
		return nil
	}
	f, err := camera.ParseFacing(s)
	if err != nil {
		return err
	}
	cfg.Camera.DefaultFacing = f.String()
	return nil
}

// serve runs the web server and the controller setup side by side.
// A failed initialization is reported in the UI, not fatal.
func serve(ctx context.Context, a *app, b *web.StatusBroadcaster, addr string) error {
	srv, err := web.NewServer(addr, b, a.ctrl, a.session, a.lib)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		if err := a.ctrl.Initialize(gctx); err != nil {
			debug.Error(err)
			return nil
		}
		a.ctrl.StartSession()
		return nil
	})
	return g.Wait()
}

// runOnce initializes the controller, takes one photo and saves it.
func runOnce(ctx context.Context, ctrl *capture.Controller) (library.Asset, error) {
	if err := ctrl.Initialize(ctx); err != nil {
		return library.Asset{}, err
	}
	ctrl.StartSession()

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if _, err := waitFor(readyCtx, ctrl, func(s capture.State) bool { return s.SessionRunning }); err != nil {
		return library.Asset{}, fmt.Errorf("%w: session did not start: %v", capture.ErrNotReady, err)
	}

	debug.Section("Capture")
	if err := ctrl.CapturePhoto(); err != nil {
		return library.Asset{}, err
	}
	st, err := waitFor(ctx, ctrl, func(s capture.State) bool { return s.HasPhoto || !s.PhotoTaken })
	if err != nil {
		return library.Asset{}, err
	}
	if !st.HasPhoto {
		if err := ctrl.LastError(); err != nil {
			return library.Asset{}, err
		}
		return library.Asset{}, capture.ErrCaptureFailed
	}
	return ctrl.SavePhoto(ctx)
}

// waitFor blocks until cond holds for a controller snapshot.
func waitFor(ctx context.Context, ctrl *capture.Controller, cond func(capture.State) bool) (capture.State, error) {
	states := make(chan capture.State, 8)
	unsub := ctrl.Subscribe(func(s capture.State) {
		select {
		case states <- s:
		default:
		}
	})
	defer unsub()

	// Polling covers notifications dropped on a full buffer.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s := ctrl.Snapshot(); cond(s) {
			return s, nil
		}
		select {
		case <-states:
		case <-ticker.C:
		case <-ctx.Done():
			return capture.State{}, ctx.Err()
		}
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
