package auth

import (
	"net/http"
	"time"

	"IntentMCP/internal/observability/metrics"
	loggerpkg "IntentMCP/pkg/logger"
)

// Middleware authenticates every request, stores the subject on the context
// and writes an audit record with the response status and latency.
func (s *Service) Middleware(handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				// The auth sentinels share one error code, so errors.Is
				// cannot tell them apart. Identity comparison can.
				if err == ErrMalformedToken {
					status = http.StatusBadRequest
				}
				http.Error(w, http.StatusText(status), status)
				loggerpkg.Audit().Warn("access_denied",
					"handler", handlerName,
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"error", err.Error(),
				)
				metrics.ObserveHTTPRequest(handlerName, r.Method, status, 0)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithSubject(r.Context(), subject)
			next.ServeHTTP(aw, r.WithContext(ctx))
			duration := time.Since(start)

			loggerpkg.Audit().Info("api_request",
				"handler", handlerName,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", duration.Milliseconds(),
				"subject", subject.Name,
			)
			metrics.ObserveHTTPRequest(handlerName, r.Method, aw.status, duration)
		})
	}
}

// auditWriter captures the response status for the audit record.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
