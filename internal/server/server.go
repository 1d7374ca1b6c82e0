// Package server runs the directory over HTTP for HTTPDirectory clients.
//
// The server only ever sees public keys, bare invite codes and sealed family
// keys; it holds nothing that decrypts family content.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/PolarWolf314/whanau/internal/directory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server serves a FileDirectory.
type Server struct {
	cfg      *Config
	log      zerolog.Logger
	dir      *directory.FileDirectory
	registry *prometheus.Registry
	limiter  *clientLimiter
	started  time.Time
	handler  http.Handler
}

type healthBody struct {
	Healthy   bool   `json:"healthy"`
	Directory string `json:"directory"`
	Uptime    string `json:"uptime"`
}

// New builds a server from a validated config.
func New(cfg *Config, log zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir, err := directory.NewFileDirectory(cfg.Directory)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		dir:      dir,
		registry: prometheus.NewRegistry(),
		limiter:  newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		started:  time.Now(),
	}

	opts := directory.HandlerOptions{Authorize: s.authorize}
	mux := http.NewServeMux()
	if cfg.Metrics {
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Metrics = directory.NewMetrics(s.registry)
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/v1/", s.rateLimit(directory.Handler(dir, opts)))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = s.accessLog(mux)
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Str("directory", s.dir.Root()).Bool("metrics", s.cfg.Metrics).Float64("rate_limit", s.cfg.RateLimit).Msg("Directory server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.shutdownTimeout())
	defer cancel()
	s.log.Info().Msg("Shutting down directory server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) authorize(token string) bool {
	if len(s.cfg.Tokens) == 0 {
		return true
	}
	for _, t := range s.cfg.Tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthBody{
		Healthy:   true,
		Directory: s.dir.Root(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog logs one line per request. Paths carry invite codes, which are
// not secret on their own; bodies are never logged.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ev := s.log.Info()
		if rec.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
