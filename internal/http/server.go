// Package http is walink's front door: the pairing endpoint, the static
// pairing pages and the operational endpoints.
package http

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextlevelbuilder/walink/internal/pairing"
	"github.com/nextlevelbuilder/walink/internal/ratelimit"
)

//go:embed static
var staticFS embed.FS

const (
	defaultPairTimeout = 60 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// Pairer starts or answers for a session and waits for the first answer.
type Pairer interface {
	Pair(ctx context.Context, identity string) (pairing.Result, error)
}

// SessionLister reports the live sessions.
type SessionLister interface {
	Sessions() []pairing.Info
}

// Options configures the server. Pairer is required.
type Options struct {
	Pairer   Pairer
	Sessions SessionLister
	// PairTimeout bounds how long /code waits for an answer.
	PairTimeout time.Duration
	// Limiter throttles /code per client IP. Nil disables it.
	Limiter *ratelimit.Limiter
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool
}

type Server struct {
	opts   Options
	router chi.Router
}

func NewServer(opts Options) *Server {
	if opts.PairTimeout <= 0 {
		opts.PairTimeout = defaultPairTimeout
	}
	s := &Server{opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	pages, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	r.Get("/", servePage(pages, "index.html"))
	r.Get("/pair", servePage(pages, "pair.html"))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(pages))))

	r.Get("/code", s.handleCode)
	r.Get("/sessions", s.handleSessions)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Sessions == nil {
		writeJSON(w, http.StatusOK, []pairing.Info{})
		return
	}
	infos := s.opts.Sessions.Sessions()
	if infos == nil {
		infos = []pairing.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func servePage(pages fs.FS, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(pages, name)
		if err != nil {
			http.Error(w, "page not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response", "error", err)
	}
}
