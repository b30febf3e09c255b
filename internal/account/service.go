// Package account holds the identity use cases: signup, the login flows,
// sessions, self-service profile and the administrative operations that
// sit on top of the approval, identity and authorization components.
package account

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/approval"
	"github.com/d9705996/schoolhub/internal/authz"
	"github.com/d9705996/schoolhub/internal/identity"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/otp"
	"github.com/d9705996/schoolhub/internal/session"
	"github.com/d9705996/schoolhub/internal/store"
	"github.com/d9705996/schoolhub/internal/tenant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Service is the entry point for every identity operation exposed over HTTP.
type Service struct {
	store    *store.Store
	tenants  *tenant.Resolver
	otp      *otp.Manager
	sessions *session.Manager
	identity *identity.Service
	approval *approval.Machine
	authz    *authz.Engine
	log      *slog.Logger
	tracer   trace.Tracer
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store    *store.Store
	Tenants  *tenant.Resolver
	OTP      *otp.Manager
	Sessions *session.Manager
	Identity *identity.Service
	Approval *approval.Machine
	Authz    *authz.Engine
	Log      *slog.Logger
}

// NewService returns a Service.
func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		tenants:  d.Tenants,
		otp:      d.OTP,
		sessions: d.Sessions,
		identity: d.Identity,
		approval: d.Approval,
		authz:    d.Authz,
		log:      d.Log,
		tracer:   otel.Tracer("github.com/d9705996/schoolhub/internal/account"),
	}
}

// ResolveTenant returns the organization addressed by host.
func (s *Service) ResolveTenant(ctx context.Context, host string) (*model.Organization, error) {
	return s.tenantFor(ctx, host)
}

// tenantFor prefers an organization already resolved for this request by
// the tenant middleware.
func (s *Service) tenantFor(ctx context.Context, host string) (*model.Organization, error) {
	if org, ok := tenant.FromContext(ctx); ok {
		return org, nil
	}
	return s.tenants.Resolve(ctx, host)
}

// SignupRoles returns the roles a new account may request.
func (s *Service) SignupRoles(ctx context.Context) ([]model.Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := roles[:0]
	for _, r := range roles {
		if model.SignupSelectable(r.Name) {
			out = append(out, r)
		}
	}
	return out, nil
}

// subject loads the caller behind sess. Sessions of deactivated accounts
// stop working immediately.
func (s *Service) subject(ctx context.Context, sess *session.Session) (*authz.Subject, error) {
	if sess == nil {
		return nil, apperror.Authentication("authentication required")
	}
	subj, err := authz.LoadSubject(ctx, s.store, sess.AccountID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.Authentication("invalid or expired session")
		}
		return nil, err
	}
	if !subj.Account.IsActive {
		return nil, apperror.Authentication("invalid or expired session")
	}
	return subj, nil
}

// homeOrganization returns the caller's organization, or orgID when given.
func homeOrganization(subj *authz.Subject, orgID string) (string, error) {
	if orgID != "" {
		return orgID, nil
	}
	if own := subj.Account.OwningOrganizationID(); own != "" {
		return own, nil
	}
	return "", apperror.Validation("organization_id is required")
}

func normalizeEmail(raw string) (string, error) {
	email := model.NormalizeEmail(raw)
	if email == "" {
		return "", apperror.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", apperror.Validation("email is not a valid address")
	}
	return email, nil
}

func isNotFound(err error) bool {
	var nf *apperror.NotFoundError
	return errors.As(err, &nf)
}
