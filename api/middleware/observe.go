package middleware

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/accesslog"
	"github.com/agentgate/agentgate/internal/ctxkeys"
	"github.com/agentgate/agentgate/types"
)

// HeaderRequestID carries the request id; an inbound value is honored so
// callers can correlate across systems.
const HeaderRequestID = "X-Request-ID"

// HTTPMetrics receives per-request measurements.
type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// NopHTTPMetrics discards measurements.
type NopHTTPMetrics struct{}

// RecordHTTPRequest implements HTTPMetrics.
func (NopHTTPMetrics) RecordHTTPRequest(string, string, int, time.Duration) {}

// Observe assigns each request an id and a mutable per-call record, then
// emits the access log entry and HTTP metrics when the request finishes.
// Health and metrics probes are passed through untouched.
func Observe(sink accesslog.Sink, metrics HTTPMetrics, logger *zap.Logger) Middleware {
	if sink == nil {
		sink = accesslog.NopSink{}
	}
	if metrics == nil {
		metrics = NopHTTPMetrics{}
	}
	logger = logger.Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = newRequestID()
			}
			w.Header().Set(HeaderRequestID, requestID)

			rc := types.NewRequestContext(requestID, r.Method, r.URL.Path)
			ctx := ctxkeys.WithRequestID(r.Context(), requestID)
			ctx = ctxkeys.WithRequestContext(ctx, rc)

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(ctx))

			status := sw.Status()
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, status, rc.Duration())
			sink.Record(r.Context(), accesslog.FromRequestContext(rc, status, clientIP(r), r.UserAgent()))

			logger.Info("request completed",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", rc.Duration()),
				zap.String("session_id", rc.SessionID()),
			)
		})
	}
}

func newRequestID() string {
	id := uuid.New()
	return "req_" + hex.EncodeToString(id[:])[:24]
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
