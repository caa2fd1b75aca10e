// Package server exposes the merged build view over HTTP for the serve
// command, with health and Prometheus metrics endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate delays requests while a build is running, so clients never observe
// a half-written output set. Builds take the write side, requests the read
// side.
type Gate struct {
	mu sync.RWMutex
}

// StartBuild blocks new requests until FinishBuild.
func (g *Gate) StartBuild() {
	g.mu.Lock()
}

// FinishBuild releases requests held since StartBuild.
func (g *Gate) FinishBuild() {
	g.mu.Unlock()
}

func (g *Gate) hold(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.RLock()
		defer g.mu.RUnlock()
		next.ServeHTTP(w, r)
	})
}

// ContentSource resolves a project-relative slash path to asset content.
// The engine implements it over the current graph and cache store.
type ContentSource interface {
	Content(ctx context.Context, path string) ([]byte, bool, error)
}

// Server serves one directory of the build view.
type Server struct {
	// Source resolves request paths to content.
	Source ContentSource

	// Subdir roots the served view at a project subdirectory ("web" maps
	// GET /index.html to web/index.html). Empty serves the project root.
	Subdir string

	// Gate, when set, delays requests during active builds.
	Gate *Gate

	// Metrics, when set, is exposed at /metrics.
	Metrics *Metrics

	Logger *slog.Logger
}

// Handler builds the HTTP handler: /healthz, /metrics, and the build view
// for everything else.
func (s *Server) Handler() http.Handler {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.Gate != nil {
		r.Use(s.Gate.hold)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.serveAsset(w, req, logger)
	})

	return r
}

func (s *Server) serveAsset(w http.ResponseWriter, req *http.Request, logger *slog.Logger) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel := strings.TrimPrefix(path.Clean(req.URL.Path), "/")
	if rel == "" || rel == "." {
		rel = "index.html"
	}
	if strings.HasPrefix(rel, "..") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if s.Subdir != "" {
		rel = path.Join(s.Subdir, rel)
	}

	data, ok, err := s.Source.Content(req.Context(), rel)
	if err != nil {
		logger.Error("serving asset", "path", rel, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if ct := mime.TypeByExtension(path.Ext(rel)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}

// ListenAndServe runs the server on addr until ctx is done, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("serving build view", "addr", addr, "subdir", s.Subdir)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
