// Package middleware provides HTTP middleware for SchoolHub.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/d9705996/schoolhub/internal/api/jsonapi"
	"github.com/d9705996/schoolhub/internal/session"
)

// SessionValidator resolves a bearer token to a live session.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*session.Session, error)
}

// RequireAuth validates the Bearer token in the Authorization header against
// the session store. On success it injects the *session.Session into the
// request context. On failure it writes a 401 JSON:API error response.
func RequireAuth(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "Authorization header is required")
				return
			}

			sess, err := sessions.Validate(r.Context(), token)
			if err != nil {
				jsonapi.RenderErr(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
		})
	}
}

// SessionFromContext returns the session injected by RequireAuth, or nil.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := session.FromContext(ctx)
	return s
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
