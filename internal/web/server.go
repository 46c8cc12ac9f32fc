package web

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/coralcam/internal/debug"
)

// Options are the server tunables from config.
type Options struct {
	MaxBodyBytes    int64
	PreviewInterval time.Duration
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, deps Deps, formDefaults FormConfig, opts Options) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}

	handlers := NewHandlers(broadcaster, deps, formDefaults, subFS)
	if opts.MaxBodyBytes > 0 {
		handlers.MaxBodyBytes = opts.MaxBodyBytes
	}
	if opts.PreviewInterval > 0 {
		handlers.PreviewInterval = opts.PreviewInterval
	}

	return &Server{
		addr:     addr,
		handlers: handlers,
	}, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("POST /run", h.HandleRun)
	mux.HandleFunc("POST /stop", h.HandleStop)
	mux.HandleFunc("GET /config", h.HandleConfig)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)

	mux.HandleFunc("POST /cameras/exposure", h.HandleExposure)
	mux.HandleFunc("POST /cameras/gain", h.HandleGain)
	mux.HandleFunc("POST /cameras/focus", h.HandleFocus)
	mux.HandleFunc("GET /cameras/{id}/enhancement", h.HandleGetEnhancement)
	mux.HandleFunc("PUT /cameras/{id}/enhancement", h.HandlePutEnhancement)
	mux.HandleFunc("POST /cameras/{id}/levels", h.HandleLevels)
	mux.HandleFunc("GET /preview/{id}", h.HandlePreview)

	mux.HandleFunc("POST /light", h.HandleLight)
	mux.HandleFunc("POST /turntable/rotate", h.HandleRotate)

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
// Scans started from the panel are bound to ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.ctx = ctx
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
