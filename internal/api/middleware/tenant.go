package middleware

import (
	"context"
	"net/http"

	"github.com/d9705996/schoolhub/internal/api/jsonapi"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/tenant"
)

// TenantResolver maps a request host to its organization.
type TenantResolver interface {
	Resolve(ctx context.Context, host string) (*model.Organization, error)
}

// RequireTenant resolves the organization addressed by the Host header and
// stores it in the request context. Unknown hosts get 404 and ambiguous
// ones 409; the request never proceeds without a tenant.
func RequireTenant(resolver TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org, err := resolver.Resolve(r.Context(), r.Host)
			if err != nil {
				jsonapi.RenderErr(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(tenant.WithOrganization(r.Context(), org)))
		})
	}
}
