// Package metricsserver exposes the orchestrator's Prometheus metrics and
// a liveness check over HTTP while a run is in progress. It is optional:
// the orchestrator only starts one when --metrics-addr is set
// (SPEC_FULL.md domain-stack table, "HTTP mux").
package metricsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is a minimal /metrics + /healthz HTTP surface.
type Server struct {
	httpServer *http.Server
}

// New builds a Server bound to addr, serving reg's collected metrics at
// /metrics and a static 200 OK at /healthz.
func New(addr string, reg prometheus.Gatherer) *Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start runs the server in the background and returns immediately. Any
// error other than the expected shutdown error is sent on the returned
// channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
