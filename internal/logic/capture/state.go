package capture

import (
	"fmt"

	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

// AuthorizationState is the outcome of the camera permission check and
// device setup. It only changes in Initialize and SwitchCamera.
type AuthorizationState int

const (
	Unknown AuthorizationState = iota
	Authorized
	Denied
	NoDeviceFound
)

func (a AuthorizationState) String() string {
	switch a {
	case Unknown:
		return "unknown"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	case NoDeviceFound:
		return "no_device_found"
	default:
		return fmt.Sprintf("authorization(%d)", int(a))
	}
}

// Description is the text shown to the user for each state.
func (a AuthorizationState) Description() string {
	switch a {
	case Authorized:
		return "Camera use is authorized."
	case Denied:
		return "To use the camera, please enable camera access in the station settings."
	case NoDeviceFound:
		return "There is no camera available for this device."
	default:
		return "The cameras are not available right now."
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a AuthorizationState) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AuthorizationState) UnmarshalText(b []byte) error {
	for _, v := range []AuthorizationState{Unknown, Authorized, Denied, NoDeviceFound} {
		if v.String() == string(b) {
			*a = v
			return nil
		}
	}
	return fmt.Errorf("unknown authorization state %q", b)
}

// State is an observable snapshot of the controller.
type State struct {
	Authorization  AuthorizationState `json:"authorization"`
	Message        string             `json:"message"`
	Facing         camera.Facing      `json:"facing"`
	FlashEnabled   bool               `json:"flash_enabled"`
	PhotoTaken     bool               `json:"photo_taken"`
	HasPhoto       bool               `json:"has_photo"`
	SessionRunning bool               `json:"session_running"`
	Device         string             `json:"device,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
}
