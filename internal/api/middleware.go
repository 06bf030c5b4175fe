package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyguard/geofence/internal/logging"
)

// RequestIDHeader carries the request ID on requests and responses.
const RequestIDHeader = "X-Request-ID"

// middleware wraps a route handler with request ID propagation, metrics,
// tracing and access logging. route is the registered pattern, not the
// concrete path, so label cardinality stays bounded.
func (s *Server) middleware(route string, next http.Handler) http.Handler {
	return s.withRequestID(route, s.metrics.InstrumentHTTP(route, s.observe(route, next)))
}

func (s *Server) withRequestID(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := strings.TrimSpace(r.Header.Get(RequestIDHeader)); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		w.Header().Set(RequestIDHeader, id)

		reqLog := s.log.With(
			logging.String("method", r.Method),
			logging.String("route", route),
		)
		ctx = logging.ContextWithLogger(ctx, reqLog)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observe(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			span.SetAttributes(attribute.String("request_id", reqID))
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		log := logging.FromContext(ctx, s.log)
		fields := []logging.Field{
			logging.Int("status", rec.status),
			logging.Duration("duration", time.Since(start)),
		}
		switch {
		case rec.status >= http.StatusInternalServerError:
			log.Error(ctx, "http request failed", fields...)
		case rec.status >= http.StatusBadRequest:
			log.Warn(ctx, "http request rejected", fields...)
		default:
			log.Debug(ctx, "http request served", fields...)
		}
	})
}

// responseRecorder captures the status code and keeps http.Hijacker
// reachable for WebSocket upgrades.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	r.wroteHeader = true
	return h.Hijack()
}
