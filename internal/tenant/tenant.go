// Package tenant resolves the Organization addressed by a request's Host.
package tenant

import (
	"context"
	"net"
	"strings"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
)

// Finder looks up live organizations bound to a hostname.
type Finder interface {
	FindOrganizationsByHost(ctx context.Context, host string) ([]model.Organization, error)
}

// Resolver maps hostnames to exactly one Organization.
type Resolver struct {
	finder Finder
}

// NewResolver returns a Resolver backed by finder.
func NewResolver(finder Finder) *Resolver {
	return &Resolver{finder: finder}
}

// Resolve returns the single live organization bound to host. Zero
// matches yield a NotFoundError and more than one a ConflictError.
func (r *Resolver) Resolve(ctx context.Context, host string) (*model.Organization, error) {
	h := NormalizeHost(host)
	if h == "" {
		return nil, apperror.NotFound("organization not found for host")
	}
	orgs, err := r.finder.FindOrganizationsByHost(ctx, h)
	if err != nil {
		return nil, apperror.Dependency(err, "resolve tenant")
	}
	switch len(orgs) {
	case 0:
		return nil, apperror.NotFound("organization not found for host %q", h)
	case 1:
		return &orgs[0], nil
	default:
		return nil, apperror.Conflict("ambiguous tenant for host %q", h)
	}
}

// NormalizeHost strips any port, lower-cases and drops a trailing dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

type ctxKey struct{}

// WithOrganization returns a context carrying org.
func WithOrganization(ctx context.Context, org *model.Organization) context.Context {
	return context.WithValue(ctx, ctxKey{}, org)
}

// FromContext returns the organization stored by WithOrganization.
func FromContext(ctx context.Context) (*model.Organization, bool) {
	org, ok := ctx.Value(ctxKey{}).(*model.Organization)
	return org, ok && org != nil
}
