package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"omnipool/observability"
)

// Observability records route metrics and request logs. Spans come from
// otelhttp further out in the chain; this layer annotates them with the
// matched route. Prometheus serves /metrics locally while the OTel counter
// follows the OTLP metric exporter when one is configured.
type Observability struct {
	logger      *slog.Logger
	metrics     *observability.GatewayMetrics
	requests    metric.Int64Counter
	logRequests bool
}

// NewObservability builds the middleware.
func NewObservability(logger *slog.Logger, metrics *observability.GatewayMetrics, logRequests bool) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Observability{logger: logger, metrics: metrics, logRequests: logRequests}
	counter, err := otel.Meter("omnipool/gateway").Int64Counter("omnipool.gateway.requests",
		metric.WithDescription("Gateway requests by route and status."))
	if err != nil {
		logger.Warn("otel request counter unavailable", slog.String("error", err.Error()))
	} else {
		o.requests = counter
	}
	return o
}

// Middleware wraps next.
func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routePattern(r)
		duration := time.Since(start)
		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", recorder.status),
		)
		o.metrics.Observe(route, r.Method, recorder.status, duration)
		if o.requests != nil {
			o.requests.Add(r.Context(), 1, metric.WithAttributes(
				attribute.String("http.route", route),
				attribute.String("http.method", r.Method),
				attribute.Int("http.status_code", recorder.status),
			))
		}
		if o.logRequests {
			o.logger.Info("http request",
				slog.String("route", route),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.status),
				slog.String("request_id", RequestIDFrom(r.Context())),
				slog.Duration("duration", duration))
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if flusher, ok := s.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
