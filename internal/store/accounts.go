package store

import (
	"context"
	"fmt"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
	"gorm.io/gorm/clause"
)

// EnsureRole returns the named role, creating it when absent.
func (s *Store) EnsureRole(ctx context.Context, name, description string) (*model.Role, error) {
	role := model.Role{Name: name}
	err := s.conn(ctx).Where(model.Role{Name: name}).
		Attrs(model.Role{Description: description}).
		FirstOrCreate(&role).Error
	if err != nil {
		return nil, fmt.Errorf("ensure role %s: %w", name, err)
	}
	return &role, nil
}

// GetRoleByName returns a role by its unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := s.conn(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, notFound(err, "role")
	}
	return &role, nil
}

// ListRoles returns the whole role catalogue ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := s.conn(ctx).Order("name").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// CreateAccount inserts acct. A duplicate email yields a ConflictError.
func (s *Store) CreateAccount(ctx context.Context, acct *model.Account) error {
	err := s.conn(ctx).Omit(clause.Associations).Create(acct).Error
	if err != nil {
		if isDuplicate(err) {
			return apperror.Conflict("an account with this email already exists")
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount loads an account and its roles.
func (s *Store) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var acct model.Account
	if err := s.conn(ctx).Preload("Roles").Where("id = ?", id).First(&acct).Error; err != nil {
		return nil, notFound(err, "account")
	}
	return &acct, nil
}

// GetAccountByEmail loads an account by normalised email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var acct model.Account
	err := s.conn(ctx).Preload("Roles").Where("email = ?", model.NormalizeEmail(email)).First(&acct).Error
	if err != nil {
		return nil, notFound(err, "account")
	}
	return &acct, nil
}

// ActivateAccount marks the account active.
func (s *Store) ActivateAccount(ctx context.Context, id string) error {
	return s.updateAccount(ctx, id, map[string]any{"is_active": true})
}

// ResetSignup rewrites the credentials of an inactive account that is
// signing up again. Active accounts are left untouched and yield a
// ConflictError.
func (s *Store) ResetSignup(ctx context.Context, id, passwordHash, requestedRole string) error {
	res := s.conn(ctx).Model(&model.Account{}).
		Where("id = ? AND is_active = ?", id, false).
		Updates(map[string]any{"password_hash": passwordHash, "requested_role": requestedRole})
	if res.Error != nil {
		return fmt.Errorf("reset signup: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.Conflict("account is already active")
	}
	return nil
}

// TransitionApproval moves the account from one of the from states to to,
// setting the rejection reason (nil clears it). The update is conditional
// on the current state so concurrent transitions cannot both succeed; a
// lost race or illegal source state yields a ConflictError.
func (s *Store) TransitionApproval(ctx context.Context, id string, from []model.ApprovalStatus, to model.ApprovalStatus, reason *string) error {
	res := s.conn(ctx).Model(&model.Account{}).
		Where("id = ? AND approval_status IN ?", id, from).
		Updates(map[string]any{"approval_status": to, "rejection_reason": reason})
	if res.Error != nil {
		return fmt.Errorf("transition approval: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.Conflict("invalid transition to %s", to)
	}
	return nil
}

// AddAccountRole attaches role to the account. Attaching a role twice is a no-op.
func (s *Store) AddAccountRole(ctx context.Context, accountID string, role *model.Role) error {
	acct := model.Account{ID: accountID}
	if err := s.conn(ctx).Model(&acct).Association("Roles").Append(role); err != nil {
		return fmt.Errorf("add role %s: %w", role.Name, err)
	}
	return nil
}

// ListAccountsByStatus returns the organization's accounts in status,
// oldest first.
func (s *Store) ListAccountsByStatus(ctx context.Context, orgID string, status model.ApprovalStatus) ([]model.Account, error) {
	var out []model.Account
	err := s.conn(ctx).Preload("Roles").
		Where("organization_id = ? AND approval_status = ?", orgID, status).
		Order("created_at").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

func (s *Store) updateAccount(ctx context.Context, id string, fields map[string]any) error {
	res := s.conn(ctx).Model(&model.Account{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("account not found")
	}
	return nil
}

// CountAccounts returns the number of accounts; used by seeding.
func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn(ctx).Model(&model.Account{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

