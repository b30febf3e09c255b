package account

import (
	"context"
	"strings"
	"time"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/auth"
	"github.com/d9705996/schoolhub/internal/authz"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/otp"
	"github.com/d9705996/schoolhub/internal/session"
	"go.opentelemetry.io/otel/attribute"
)

var errBadCredentials = apperror.Authentication("invalid email or password")

// Login is the outcome of a successful authentication.
type Login struct {
	Token     string
	ExpiresAt time.Time
	Elevated  bool
	Account   *model.Account
}

func (s *Service) open(ctx context.Context, acct *model.Account, elevated bool) (*Login, error) {
	token, sess, err := s.sessions.Create(ctx, acct, elevated)
	if err != nil {
		return nil, err
	}
	return &Login{Token: token, ExpiresAt: sess.ExpiresAt, Elevated: elevated, Account: acct}, nil
}

// checkPassword loads the account for email and verifies password. Unknown
// accounts and wrong passwords produce the same error and cost.
func (s *Service) checkPassword(ctx context.Context, email, password string) (*model.Account, error) {
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		auth.VerifyPassword("", password)
		return nil, errBadCredentials
	}
	if !auth.VerifyPassword(acct.PasswordHash, password) {
		return nil, errBadCredentials
	}
	return acct, nil
}

// PasswordLogin opens a session for an active account.
func (s *Service) PasswordLogin(ctx context.Context, rawEmail, password string) (*Login, error) {
	ctx, span := s.tracer.Start(ctx, "account.PasswordLogin")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	acct, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		return nil, apperror.Authorization("account is inactive")
	}
	s.log.Info("password login", "account_id", acct.ID)
	return s.open(ctx, acct, false)
}

// RequestLoginCode sends a login code to an active account of the tenant.
// Unknown, inactive and foreign accounts get the same silent success.
func (s *Service) RequestLoginCode(ctx context.Context, host, rawEmail string) error {
	ctx, span := s.tracer.Start(ctx, "account.RequestLoginCode")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	org, err := s.tenantFor(ctx, host)
	if err != nil {
		return err
	}
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if !acct.IsActive || acct.OwningOrganizationID() != org.ID {
		return nil
	}
	return s.otp.Issue(ctx, otp.PurposeLogin, org.ID, email)
}

// VerifyLoginCode consumes a login code and opens a session.
func (s *Service) VerifyLoginCode(ctx context.Context, host, rawEmail, code string) (*Login, error) {
	ctx, span := s.tracer.Start(ctx, "account.VerifyLoginCode")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	org, err := s.tenantFor(ctx, host)
	if err != nil {
		return nil, err
	}
	if err := s.otp.Verify(ctx, otp.PurposeLogin, org.ID, email, strings.TrimSpace(code)); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, otp.ErrInvalidCode
		}
		return nil, err
	}
	if !acct.IsActive || acct.OwningOrganizationID() != org.ID {
		return nil, otp.ErrInvalidCode
	}
	s.log.Info("code login", "account_id", acct.ID, "org_id", org.ID)
	return s.open(ctx, acct, false)
}

// isTenantAdmin reports whether acct owns org or holds an active ORG_ADMIN
// grant for it.
func (s *Service) isTenantAdmin(ctx context.Context, acct *model.Account, org *model.Organization) (bool, error) {
	if org.IsOwner(acct.ID) {
		return true, nil
	}
	return s.store.HasActiveGrant(ctx, acct.ID, org.ID, model.AdminRoleOrg)
}

// AdminLoginStart is step one of the tenant-admin login: it checks the
// password and administrative standing within the tenant addressed by the
// host, then sends an admin code scoped to that tenant.
func (s *Service) AdminLoginStart(ctx context.Context, host, rawEmail, password string) error {
	ctx, span := s.tracer.Start(ctx, "account.AdminLoginStart")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	org, err := s.tenantFor(ctx, host)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("org_id", org.ID))

	acct, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return err
	}
	if !acct.IsActive {
		return apperror.Authorization("account is inactive")
	}
	admin, err := s.isTenantAdmin(ctx, acct, org)
	if err != nil {
		return err
	}
	if !admin {
		s.log.Warn("admin login refused", "account_id", acct.ID, "org_id", org.ID)
		return errBadCredentials
	}
	return s.otp.Issue(ctx, otp.PurposeAdminLogin, org.ID, email)
}

// AdminLoginVerify is step two of the tenant-admin login. The code must
// have been issued for the same tenant; the resulting session is elevated
// and short-lived.
func (s *Service) AdminLoginVerify(ctx context.Context, host, rawEmail, code string) (*Login, error) {
	ctx, span := s.tracer.Start(ctx, "account.AdminLoginVerify")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	org, err := s.tenantFor(ctx, host)
	if err != nil {
		if isNotFound(err) {
			return nil, otp.ErrInvalidCode
		}
		return nil, err
	}
	if err := s.otp.Verify(ctx, otp.PurposeAdminLogin, org.ID, email, strings.TrimSpace(code)); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, otp.ErrInvalidCode
		}
		return nil, err
	}
	if !acct.IsActive {
		return nil, otp.ErrInvalidCode
	}
	admin, err := s.isTenantAdmin(ctx, acct, org)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, otp.ErrInvalidCode
	}
	s.log.Info("admin login", "account_id", acct.ID, "org_id", org.ID)
	return s.open(ctx, acct, true)
}

// Logout destroys the caller's session.
func (s *Service) Logout(ctx context.Context, sess *session.Session) error {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return err
	}
	if err := s.authz.Authorize(ctx, subj, authz.Logout, subj.Account); err != nil {
		return err
	}
	return s.sessions.Destroy(ctx, sess.ID)
}
