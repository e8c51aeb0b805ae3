package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for the given address and dependencies.
// preview and assets may be nil.
func NewServer(addr string, broadcaster *StatusBroadcaster, cam Camera, preview PreviewSource, assets Assets) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, cam, preview, assets, subFS),
	}, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	h := s.handlers
	mux := http.NewServeMux()

	mux.HandleFunc("GET /state", h.HandleState)
	mux.HandleFunc("POST /capture", h.HandleCapture)
	mux.HandleFunc("POST /retake", h.HandleRetake)
	mux.HandleFunc("POST /flash", h.HandleFlash)
	mux.HandleFunc("POST /switch", h.HandleSwitch)
	mux.HandleFunc("POST /save", h.HandleSave)
	mux.HandleFunc("GET /photo", h.HandlePhoto)
	mux.HandleFunc("GET /preview", h.HandlePreview)
	mux.HandleFunc("GET /library", h.HandleLibrary)
	mux.HandleFunc("GET /library/{id}", h.HandleAsset)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
// Controller state changes are pushed to SSE clients while it runs.
func (s *Server) Run(ctx context.Context) error {
	b := s.handlers.Broadcaster
	unsub := s.handlers.Camera.Subscribe(func(st capture.State) {
		b.BroadcastState(st)
	})
	defer unsub()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with ctx so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
