package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"basetip/observability"
)

const requestIDHeader = "X-Request-ID"

// Observe stamps a request ID, logs the request, and records gateway metrics
// under the given route label.
func Observe(route string, log *slog.Logger, metrics *observability.GatewayMetrics) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			elapsed := time.Since(start)
			metrics.ObserveRequest(route, strconv.Itoa(recorder.status), elapsed)
			log.Debug("gateway: request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"elapsed_ms", elapsed.Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
