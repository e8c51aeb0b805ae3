package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/library"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
)

// Camera is the capture controller as seen by the web layer.
type Camera interface {
	Snapshot() capture.State
	Photo() ([]byte, bool)
	CapturePhoto() error
	RetakePhoto()
	ToggleFlash() bool
	SwitchCamera(ctx context.Context) error
	SavePhoto(ctx context.Context) (library.Asset, error)
	Subscribe(fn func(capture.State)) func()
}

// PreviewSource hands out preview frame subscriptions.
type PreviewSource interface {
	Preview() (<-chan []byte, func())
}

// Assets lists and reads saved photos.
type Assets interface {
	List(ctx context.Context) ([]library.Asset, error)
	Get(ctx context.Context, id string) (library.Asset, []byte, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Camera      Camera
	Preview     PreviewSource // nil disables GET /preview
	Assets      Assets        // nil disables GET /library
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, cam Camera, preview PreviewSource, assets Assets, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Camera:      cam,
		Preview:     preview,
		Assets:      assets,
		staticFS:    staticFS,
	}
}

type errorResponse struct {
	Error string        `json:"error"`
	State capture.State `json:"state"`
}

type saveResponse struct {
	Message string        `json:"message"`
	Asset   library.Asset `json:"asset"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrNotAuthorized), errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrCorruptData), errors.Is(err, capture.ErrNotReady), errors.Is(err, capture.ErrPhotoPending):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNoDeviceFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	msg := capture.Message(err)
	h.Broadcaster.Broadcast("error", msg)
	writeJSON(w, statusFor(err), errorResponse{Error: msg, State: h.Camera.Snapshot()})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Camera.Snapshot())
}

// HandleCapture handles POST /capture. The photo arrives asynchronously;
// clients follow the state stream.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.Camera.CapturePhoto(); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Camera.Snapshot())
}

// HandleRetake handles POST /retake.
func (h *Handlers) HandleRetake(w http.ResponseWriter, r *http.Request) {
	h.Camera.RetakePhoto()
	writeJSON(w, http.StatusOK, h.Camera.Snapshot())
}

// HandleFlash handles POST /flash.
func (h *Handlers) HandleFlash(w http.ResponseWriter, r *http.Request) {
	h.Camera.ToggleFlash()
	writeJSON(w, http.StatusOK, h.Camera.Snapshot())
}

// HandleSwitch handles POST /switch.
func (h *Handlers) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	if err := h.Camera.SwitchCamera(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Camera.Snapshot())
}

// HandleSave handles POST /save.
func (h *Handlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	asset, err := h.Camera.SavePhoto(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Broadcaster.Broadcast("info", capture.SavedMessage)
	writeJSON(w, http.StatusOK, saveResponse{Message: capture.SavedMessage, Asset: asset})
}

// HandlePhoto handles GET /photo, the pending photo.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	data, ok := h.Camera.Photo()
	if !ok {
		http.Error(w, "no photo", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// HandlePreview handles GET /preview as a multipart MJPEG stream.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Preview == nil {
		http.Error(w, "preview not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	frames, unsub := h.Preview.Preview()
	defer unsub()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(frame))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				debug.Verbose("Preview client gone: %v", err)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleLibrary handles GET /library.
func (h *Handlers) HandleLibrary(w http.ResponseWriter, r *http.Request) {
	if h.Assets == nil {
		http.Error(w, "library not available", http.StatusServiceUnavailable)
		return
	}
	assets, err := h.Assets.List(r.Context())
	if err != nil {
		debug.Error(err)
		http.Error(w, "listing library failed", http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []library.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// HandleAsset handles GET /library/{id}.
func (h *Handlers) HandleAsset(w http.ResponseWriter, r *http.Request) {
	if h.Assets == nil {
		http.Error(w, "library not available", http.StatusServiceUnavailable)
		return
	}
	_, data, err := h.Assets.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, library.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		debug.Error(err)
		http.Error(w, "reading asset failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	debug.Verbose("Web: status client connected (%d listening)", h.Broadcaster.Clients())

	// New clients get the current state right away.
	initial, _ := json.Marshal(StateEvent{Time: now(), Level: "state", State: h.Camera.Snapshot()})
	w.Write([]byte(": connected\n\ndata: " + string(initial) + "\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()
		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
