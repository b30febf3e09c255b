package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/d9705996/schoolhub/internal/observability"
)

// Instrument records request counts, latencies and in-flight requests.
// Requests are labelled by the ServeMux pattern that matched them so ids in
// paths do not explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observability.HTTPInFlight.Inc()
		defer observability.HTTPInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(sw.code)
		observability.HTTPDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		observability.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
	})
}
