package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/d9705996/schoolhub/internal/api/jsonapi"
	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/ratelimit"
)

// RateLimit bounds requests per client IP. Rejected requests get 429 with a
// Retry-After hint.
func RateLimit(limiter *ratelimit.Keyed) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wait, ok := limiter.Reserve(clientIP(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
				jsonapi.RenderErr(w, apperror.RateLimited("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
