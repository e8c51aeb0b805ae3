package capture

import "errors"

var (
	ErrPermissionDenied    = errors.New("camera permission denied")
	ErrNoDeviceFound       = errors.New("no camera device found")
	ErrDeviceConfiguration = errors.New("device configuration failed")
	ErrCaptureFailed       = errors.New("capture failed")
	ErrNotAuthorized       = errors.New("not authorized to save photos")
	ErrCorruptData         = errors.New("no captured photo to save")
	ErrSaveFailed          = errors.New("saving photo failed")
	ErrNotReady            = errors.New("camera not ready")
	ErrPhotoPending        = errors.New("a captured photo is pending")
	ErrClosed              = errors.New("controller closed")
)

// SavedMessage is shown after a successful save.
const SavedMessage = "Photo was saved to camera roll"

// Message returns the user-facing text for an error returned by the controller.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthorized):
		return "App is not authorized to save photos"
	case errors.Is(err, ErrSaveFailed):
		return "Error saving photo"
	case errors.Is(err, ErrCorruptData):
		return "Capture output was corrupted"
	case errors.Is(err, ErrPermissionDenied):
		return Denied.Description()
	case errors.Is(err, ErrNoDeviceFound):
		return NoDeviceFound.Description()
	case errors.Is(err, ErrCaptureFailed):
		return "The photo could not be taken, please try again"
	case errors.Is(err, ErrDeviceConfiguration):
		return "The camera could not be configured"
	case errors.Is(err, ErrNotReady):
		return "The camera is not ready yet"
	case errors.Is(err, ErrPhotoPending):
		return "Retake or save the current photo first"
	case errors.Is(err, ErrClosed):
		return "The camera has been shut down"
	default:
		return err.Error()
	}
}
