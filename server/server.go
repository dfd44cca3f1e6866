// Package server exposes the cached aggregates over an authenticated JSON
// API. Handlers only read in-memory state; no request ever blocks on an
// upstream system.
package server

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apache/infrastructure-reporting-dashboard/auth"
	"github.com/apache/infrastructure-reporting-dashboard/builds"
	"github.com/apache/infrastructure-reporting-dashboard/downloads"
	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/health"
	"github.com/apache/infrastructure-reporting-dashboard/jira"
	"github.com/apache/infrastructure-reporting-dashboard/machines"
	"github.com/apache/infrastructure-reporting-dashboard/mailstats"
	"github.com/apache/infrastructure-reporting-dashboard/metric"
	"github.com/apache/infrastructure-reporting-dashboard/uptime"
)

// DefaultRequestTimeout bounds a single API request.
const DefaultRequestTimeout = 30 * time.Second

// DownloadSource serves merged download statistics.
type DownloadSource interface {
	Stats(ctx context.Context, project, duration, filters string) (downloads.Result, error)
}

// TicketSource serves derived SLA tickets.
type TicketSource interface {
	Tickets(retentionDays int) []*jira.Ticket
}

// BuildSource serves viewer-scoped build run windows.
type BuildSource interface {
	Select(q builds.Query) (builds.Report, error)
}

// MailSource serves per-host mail queue statistics.
type MailSource interface {
	Stats() map[string][]mailstats.Entry
}

// UptimeSource serves per-host uptime statistics.
type UptimeSource interface {
	Stats() map[string]uptime.HostStats
}

// MachineSource serves the latest fingerprint scan.
type MachineSource interface {
	Report() machines.Report
}

// Sources bundles the data backends the API reads from. A nil source makes
// its route report service unavailable.
type Sources struct {
	Downloads DownloadSource
	Tickets   TicketSource
	Builds    BuildSource
	Mail      MailSource
	Uptime    UptimeSource
	Machines  MachineSource

	// TicketRetentionDays bounds /api/jira to recent or open tickets.
	TicketRetentionDays int
	// UptimeSeries groups uptime hosts into named series for collation.
	UptimeSeries map[string][]string
}

// Server is the HTTP API front end.
type Server struct {
	sessions  *auth.Manager
	sources   Sources
	logger    *slog.Logger
	monitor   *health.Monitor
	metrics   *metric.Registry
	timeout   time.Duration
	tlsConfig *tls.Config

	requestsTotal  prometheus.Counter
	requestsFailed prometheus.Counter
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthMonitor exposes the component health map on /api/health.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Server) {
		s.monitor = monitor
	}
}

// WithMetrics exposes the metric registry on /metrics and counts requests.
func WithMetrics(registry *metric.Registry) Option {
	return func(s *Server) {
		s.metrics = registry
	}
}

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithTLSConfig enables TLS on the listener. Nil means plain HTTP.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// NewServer creates the API server.
func NewServer(sessions *auth.Manager, sources Sources, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		sources:  sources,
		logger:   slog.Default(),
		timeout:  DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics != nil {
		s.requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporting_http_requests_total",
			Help: "Total API requests served",
		})
		s.requestsFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporting_http_requests_failed",
			Help: "API requests that ended in an error response",
		})
		// Duplicate registration only happens in tests reusing a registry.
		_ = s.metrics.RegisterCounter("server", "requests_total", s.requestsTotal)
		_ = s.metrics.RegisterCounter("server", "requests_failed", s.requestsFailed)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/downloads", s.endpoint(s.handleDownloads))
	mux.HandleFunc("/api/jira", s.endpoint(s.handleJira))
	mux.HandleFunc("/api/ghactions", s.endpoint(s.handleBuilds))
	mux.HandleFunc("/api/uptime", s.endpoint(s.handleUptime))
	mux.HandleFunc("/api/mailstats", s.endpoint(s.handleMailStats))
	mux.HandleFunc("/api/machines", s.endpoint(s.handleMachines))
	mux.HandleFunc("/api/session", s.endpoint(s.handleSession))
	mux.HandleFunc("/api/health", s.endpoint(s.handleHealth))
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.PrometheusRegistry(),
			promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe runs the server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.tlsConfig,
	}

	done := make(chan error, 1)
	go func() {
		if s.tlsConfig != nil {
			done <- srv.ListenAndServeTLS("", "")
		} else {
			done <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.WrapTransient(err, "server", "ListenAndServe", "graceful shutdown")
		}
		<-done
		return nil
	case err := <-done:
		if err != nil && err != http.ErrServerClosed {
			return errors.WrapFatal(err, "server", "ListenAndServe", "serve http")
		}
		return nil
	}
}

// getOrGenerateRequestID extracts the request ID header or generates a new
// one for tracing.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// endpoint wraps a handler with request ID propagation, method filtering, a
// per-request timeout and uniform error responses.
func (s *Server) endpoint(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		if s.requestsTotal != nil {
			s.requestsTotal.Inc()
		}

		if r.Method != http.MethodGet {
			s.writeFailure(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
			if s.requestsFailed != nil {
				s.requestsFailed.Inc()
			}
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		if err := h(w, r.WithContext(ctx)); err != nil {
			s.logger.Warn("Request failed",
				"path", r.URL.Path, "request_id", requestID, "error", err)
			s.writeFailure(w, mapErrorToStatus(err), sanitizeError(err))
			if s.requestsFailed != nil {
				s.requestsFailed.Inc()
			}
		}
	}
}

// mapErrorToStatus maps classified errors to HTTP status codes. The not
// authed check runs before the access check since a missing session is also
// an authorization failure.
func mapErrorToStatus(err error) int {
	switch {
	case errors.IsNotAuthed(err):
		return http.StatusUnauthorized
	case errors.IsAccessDenied(err):
		return http.StatusForbidden
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe message for external clients. Backend URLs
// and internal details stay in the logs.
func sanitizeError(err error) string {
	switch {
	case errors.IsNotAuthed(err):
		return "not logged in"
	case errors.IsAccessDenied(err):
		return "access denied"
	case errors.IsInvalidDuration(err):
		return "invalid duration parameter"
	case errors.IsMissingField(err):
		return "missing required parameter"
	case errors.IsInvalid(err):
		return "invalid request parameters"
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

// writeJSON writes a success response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but log.
		s.logger.Warn("Response encoding failed", "error", err)
	}
	return nil
}

// writeFailure writes the structured failure envelope.
func (s *Server) writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, _ := json.Marshal(map[string]any{
		"success": false,
		"message": message,
	})
	w.Write(data)
}
