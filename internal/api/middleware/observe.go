package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	apiContext "grip/internal/api/context"
	"grip/internal/platform/audit"
	"grip/internal/platform/metrics"
)

// DefaultBodyLimit caps request bodies on routes that do not set their own limit.
const DefaultBodyLimit int64 = 1 << 20

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Observe assigns a request id, logs the request and records the HTTP metrics under the
// route pattern.
func Observe(route string, m *metrics.Metrics) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := context.WithValue(r.Context(), apiContext.RequestID, requestID)
			ctx = audit.WithRequest(ctx, r)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			if m != nil {
				class := statusClass(rec.status)
				m.RequestTotal.WithLabelValues(r.Method, route, class).Inc()
				m.RequestDuration.WithLabelValues(r.Method, route, class).Observe(elapsed.Seconds())
				if rec.status >= http.StatusBadRequest {
					m.RequestErrors.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
				}
			}

			event := log.Info()
			if rec.status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.Str("request_id", requestID).
				Str("method", r.Method).
				Str("route", route).
				Int("status", rec.status).
				Dur("duration", elapsed).
				Msg("request")
		}
	}
}

// LimitBody caps the request body at n bytes. Reads past the cap fail with *http.MaxBytesError.
func LimitBody(n int64) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next(w, r)
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
