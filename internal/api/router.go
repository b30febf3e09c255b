// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"log/slog"
	"net/http"

	"github.com/d9705996/schoolhub/internal/api/handler"
	"github.com/d9705996/schoolhub/internal/api/middleware"
	"github.com/d9705996/schoolhub/internal/health"
	"github.com/d9705996/schoolhub/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes groups the handlers and middleware dependencies of the API.
type Routes struct {
	Health   *health.Handler
	Auth     *handler.AuthHandler
	Admin    *handler.AdminHandler
	Sessions middleware.SessionValidator
	Tenants  middleware.TenantResolver
	// AuthLimiter bounds unauthenticated auth endpoints per client IP.
	AuthLimiter *ratelimit.Keyed
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, rt Routes) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", rt.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", rt.Health.ServeReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	limited := middleware.RateLimit(rt.AuthLimiter)
	tenanted := func(h http.HandlerFunc) http.Handler {
		return limited(middleware.RequireTenant(rt.Tenants)(h))
	}

	// Tenant-addressed, unauthenticated endpoints
	mux.HandleFunc("GET /api/v1/tenant", rt.Auth.Tenant)
	mux.HandleFunc("GET /api/v1/auth/roles", rt.Auth.Roles)
	mux.Handle("POST /api/v1/auth/signup", tenanted(rt.Auth.Signup))
	mux.Handle("POST /api/v1/auth/signup/verify", tenanted(rt.Auth.VerifySignup))
	mux.Handle("POST /api/v1/auth/code", tenanted(rt.Auth.RequestCode))
	mux.Handle("POST /api/v1/auth/code/verify", tenanted(rt.Auth.VerifyCode))
	mux.Handle("POST /api/v1/auth/admin/login", tenanted(rt.Auth.AdminLogin))
	mux.Handle("POST /api/v1/auth/admin/verify", tenanted(rt.Auth.AdminVerify))

	// Password login is not tenant-addressed.
	mux.Handle("POST /api/v1/auth/login", limited(http.HandlerFunc(rt.Auth.Login)))

	// Auth-required routes.
	protected := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(rt.Sessions)(h)
	}
	mux.Handle("POST /api/v1/auth/logout", protected(rt.Auth.Logout))
	mux.Handle("GET /api/v1/auth/me", protected(rt.Auth.Me))
	mux.Handle("GET /api/v1/profile", protected(rt.Auth.Profile))
	mux.Handle("PUT /api/v1/profile", protected(rt.Auth.UpdateProfile))

	mux.Handle("GET /api/v1/people", protected(rt.Admin.ListPeople))
	mux.Handle("POST /api/v1/people", protected(rt.Admin.CreatePerson))
	mux.Handle("GET /api/v1/people/{id}", protected(rt.Admin.GetPerson))
	mux.Handle("DELETE /api/v1/people/{id}", protected(rt.Admin.DeletePerson))
	mux.Handle("POST /api/v1/people/{id}/link", protected(rt.Admin.LinkPerson))
	mux.Handle("DELETE /api/v1/people/{id}/link", protected(rt.Admin.UnlinkPerson))

	mux.Handle("GET /api/v1/admin/accounts", protected(rt.Admin.ListAccounts))
	mux.Handle("PATCH /api/v1/admin/accounts/{id}/approval", protected(rt.Admin.DecideApproval))
	mux.Handle("POST /api/v1/admin/org-admins", protected(rt.Admin.GrantOrgAdmin))
	mux.Handle("PATCH /api/v1/admin/org-admins/{id}", protected(rt.Admin.ToggleOrgAdmin))
	mux.Handle("GET /api/v1/admin/my-organizations", protected(rt.Admin.MyOrganizations))
	mux.Handle("GET /api/v1/admin/organizations/{id}/domains", protected(rt.Admin.ListDomains))
	mux.Handle("POST /api/v1/admin/organizations/{id}/domains", protected(rt.Admin.AddDomain))

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}

// NewHandler returns the full HTTP handler: routes wrapped in request-id
// and metrics middleware.
func NewHandler(rt Routes, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, rt)
	return middleware.RequestID(log)(middleware.Instrument(mux))
}
