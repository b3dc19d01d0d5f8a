package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

const (
	defaultAddr     = "127.0.0.1:8080"
	shutdownTimeout = 10 * time.Second
)

// Server is the inbound adapter exposing AuthzService over HTTP.
type Server struct {
	authz         *service.AuthzService
	server        *http.Server
	addr          string
	logger        *slog.Logger
	registry      *prometheus.Registry
	metrics       *Metrics
	healthChecker *HealthChecker
	listener      net.Listener
	auditLog      audit.RecentReader
	auditQueue    AuditQueue
}

// AuditQueue reports the state of the asynchronous audit writer.
type AuditQueue interface {
	DroppedRecords() int64
	ChannelDepth() int
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(s *Server) {
		s.listener = l
	}
}

// WithAuditLog serves GET /v1/decisions from r.
func WithAuditLog(r audit.RecentReader) Option {
	return func(s *Server) {
		s.auditLog = r
	}
}

// WithAuditQueue exports the audit writer's queue depth and drop count.
func WithAuditQueue(q AuditQueue) Option {
	return func(s *Server) {
		s.auditQueue = q
	}
}

// NewServer creates the HTTP adapter for authz. Metrics are registered on a
// private registry exposed at /metrics.
func NewServer(authz *service.AuthzService, opts ...Option) *Server {
	s := &Server{
		authz:  authz,
		addr:   defaultAddr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(s.registry)
	if s.healthChecker == nil {
		s.healthChecker = NewHealthChecker(authz, nil, "")
	}
	if s.auditQueue != nil {
		registerAuditQueue(s.registry, s.auditQueue)
		s.healthChecker.audit = s.auditQueue
	}
	return s
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	NewHandler(s.authz, s.metrics, s.logger).WithAuditLog(s.auditLog).Register(mux)
	mux.Handle("GET /health", s.healthChecker.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - record duration and status over the full request
	// 2. RequestID - extract/generate request ID and enrich logger
	// 3. AccessLog - log with the enriched logger
	var handler http.Handler = mux
	handler = AccessLogMiddleware(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	return handler
}

// Start accepts HTTP connections until ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info("starting HTTP server", "addr", s.listener.Addr().String())
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}
