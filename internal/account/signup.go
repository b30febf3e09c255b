package account

import (
	"context"
	"errors"
	"strings"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/auth"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/otp"
	"github.com/d9705996/schoolhub/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// SignupInput is the self-service signup request.
type SignupInput struct {
	Host     string
	Email    string
	Password string
	Role     string
}

// Signup creates an inactive account in the tenant addressed by the host
// and sends it a signup code. Repeating signup for an account that was never
// activated replaces its password and requested role and sends a new code.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.Account, error) {
	ctx, span := s.tracer.Start(ctx, "account.Signup")
	defer span.End()

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role == "" {
		return nil, apperror.Validation("role is required")
	}
	if !model.SignupSelectable(role) {
		return nil, apperror.Validation("role %s cannot be requested at signup", role)
	}
	if _, err := s.store.GetRoleByName(ctx, role); err != nil {
		if isNotFound(err) {
			return nil, apperror.Validation("unknown role %s", role)
		}
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	org, err := s.tenantFor(ctx, in.Host)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("org_id", org.ID))

	acct, err := s.createOrReset(ctx, org, email, hash, role)
	if err != nil {
		return nil, err
	}

	if err := s.otp.Issue(ctx, otp.PurposeSignup, org.ID, email); err != nil {
		return nil, err
	}
	s.log.Info("signup started", "account_id", acct.ID, "org_id", org.ID)
	return acct, nil
}

func (s *Service) createOrReset(ctx context.Context, org *model.Organization, email, hash, role string) (*model.Account, error) {
	existing, err := s.store.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.IsActive {
			return nil, apperror.Validation("an account with this email already exists")
		}
		if existing.OwningOrganizationID() != org.ID {
			return nil, apperror.Validation("an account with this email already exists")
		}
		if err := s.store.ResetSignup(ctx, existing.ID, hash, role); err != nil {
			return nil, err
		}
		existing.PasswordHash = hash
		existing.RequestedRole = role
		return existing, nil
	case !isNotFound(err):
		return nil, err
	}

	orgID := org.ID
	acct := &model.Account{
		Email:          email,
		PasswordHash:   hash,
		OrganizationID: &orgID,
		ApprovalStatus: model.StatusPendingProfile,
		RequestedRole:  role,
	}
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateAccount(ctx, acct); err != nil {
			var conflict *apperror.ConflictError
			if errors.As(err, &conflict) {
				return apperror.Validation("an account with this email already exists")
			}
			return err
		}
		_, err := s.identity.In(tx).EnsureIdentity(ctx, acct)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// VerifySignup consumes the signup code, activates the account and opens a
// session for it.
func (s *Service) VerifySignup(ctx context.Context, host, rawEmail, code string) (*Login, error) {
	ctx, span := s.tracer.Start(ctx, "account.VerifySignup")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperror.Validation("code is required")
	}
	org, err := s.tenantFor(ctx, host)
	if err != nil {
		return nil, err
	}
	if err := s.otp.Verify(ctx, otp.PurposeSignup, org.ID, email, code); err != nil {
		var authErr *apperror.AuthenticationError
		if errors.As(err, &authErr) {
			return nil, apperror.Validation("invalid or expired code")
		}
		return nil, err
	}

	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if acct.OwningOrganizationID() != org.ID {
		return nil, apperror.NotFound("account not found")
	}
	if !acct.IsActive {
		if err := s.store.ActivateAccount(ctx, acct.ID); err != nil {
			return nil, err
		}
		acct.IsActive = true
	}
	s.log.Info("signup verified", "account_id", acct.ID, "org_id", org.ID)
	return s.open(ctx, acct, false)
}
