package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/logger"
)

// Server exposes /metrics and /health over HTTP, mirroring the teacher
// pack's metrics.Server shape: StartAsync never blocks the caller, Stop
// shuts the listener down within the given context's deadline.
type Server struct {
	server *http.Server
	log    *logger.Logger
}

// NewServer builds a Server bound to the given port (no leading colon).
func NewServer(port string, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    log,
	}
}

// StartAsync starts the listener in a background goroutine. Bind errors
// other than a graceful shutdown are logged, never returned, since the
// caller has no synchronous way to observe them.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.Error("metrics server stopped unexpectedly", "error", err.Error(), "addr", s.server.Addr)
			}
		}
	}()
}

// Stop shuts the server down gracefully within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}
	return nil
}
