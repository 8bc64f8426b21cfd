package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves the /metrics endpoint. A nil Server (empty addr) is inert.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics HTTP server bound to addr. Returns nil when
// addr is empty, which disables the listener entirely.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	if s == nil {
		return
	}
	go func() {
		s.logger.Info("metrics server starting", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
}
