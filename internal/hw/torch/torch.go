package torch

import (
	"errors"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
)

var (
	// ErrLocked is returned when another holder already owns the configuration lock.
	ErrLocked = errors.New("torch: configuration already locked")
	// ErrNotLocked is returned when the mode is changed without holding the lock.
	ErrNotLocked = errors.New("torch: configuration not locked")
)

// Torch is an LED driven by one GPIO output (HIGH = lit).
// Changing the mode requires holding the configuration lock, like a
// capture device that must be locked before its settings change.
type Torch struct {
	gpio gpio.Driver
	pin  int

	mu     sync.Mutex
	locked bool
	on     bool
}

// New configures pin as output and switches the torch off.
func New(g gpio.Driver, pin int) *Torch {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)
	return &Torch{gpio: g, pin: pin}
}

// Lock acquires the configuration lock without blocking.
func (t *Torch) Lock() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked {
		return ErrLocked
	}
	t.locked = true
	debug.Trace("Torch: locked for configuration (pin %d)", t.pin)
	return nil
}

// Unlock releases the configuration lock. Unlocking twice is harmless.
func (t *Torch) Unlock() {
	t.mu.Lock()
	t.locked = false
	t.mu.Unlock()
	debug.Trace("Torch: unlocked (pin %d)", t.pin)
}

// Set turns the LED on or off. The caller must hold the lock.
func (t *Torch) Set(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.locked {
		return ErrNotLocked
	}
	lvl := gpio.Low
	if on {
		lvl = gpio.High
	}
	if err := t.gpio.WritePin(t.pin, lvl); err != nil {
		return err
	}
	t.on = on
	debug.Trace("Torch: pin %d -> %v", t.pin, on)
	return nil
}
