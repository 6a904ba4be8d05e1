package diagnostics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthCheck reports whether the process considers itself healthy,
// e.g. "the session manager has not been shut down".
type HealthCheck func() bool

// Server is the diagnostics HTTP surface from SPEC_FULL §4.8: served
// on its own port, separate from the receiver's TCP listener.
//
// Grounded on the teacher's HealthHandler (internal/api/health.go) and
// RateLimitMiddleware (internal/api/ratelimit.go), generalized from
// per-route application rate limiting to a blanket limiter over this
// small diagnostics-only mux.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer builds the diagnostics mux. healthy is polled on every
// /healthz request.
func NewServer(addr string, healthy HealthCheck, log zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(60, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if healthy == nil || healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start runs the diagnostics server until Shutdown is called. It
// returns http.ErrServerClosed on a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("diagnostics server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish.
func (s *Server) Shutdown() error {
	return s.httpServer.Shutdown(context.Background())
}
