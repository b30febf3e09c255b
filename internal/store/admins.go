package store

import (
	"context"
	"fmt"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
)

// CreateAdminGrant inserts g. A second grant for the same account and
// organization yields a ConflictError.
func (s *Store) CreateAdminGrant(ctx context.Context, g *model.OrganizationAdmin) error {
	if err := s.conn(ctx).Create(g).Error; err != nil {
		if isDuplicate(err) {
			return apperror.Conflict("account already has an administrative grant for this organization")
		}
		return fmt.Errorf("insert admin grant: %w", err)
	}
	return nil
}

// GetAdminGrant returns the grant by id.
func (s *Store) GetAdminGrant(ctx context.Context, id string) (*model.OrganizationAdmin, error) {
	var g model.OrganizationAdmin
	if err := s.conn(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, notFound(err, "organization admin")
	}
	return &g, nil
}

// ListAdminGrants returns every grant held by accountID, active or not.
func (s *Store) ListAdminGrants(ctx context.Context, accountID string) ([]model.OrganizationAdmin, error) {
	var out []model.OrganizationAdmin
	if err := s.conn(ctx).Where("account_id = ?", accountID).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list admin grants: %w", err)
	}
	return out, nil
}

// HasActiveGrant reports whether accountID holds an active grant with
// role over orgID.
func (s *Store) HasActiveGrant(ctx context.Context, accountID, orgID string, role model.AdminRole) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&model.OrganizationAdmin{}).
		Where("account_id = ? AND organization_id = ? AND role = ? AND is_active = ?", accountID, orgID, role, true).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check admin grant: %w", err)
	}
	return n > 0, nil
}

// SetAdminGrantActive toggles a grant and returns the updated row.
func (s *Store) SetAdminGrantActive(ctx context.Context, id string, active bool) (*model.OrganizationAdmin, error) {
	res := s.conn(ctx).Model(&model.OrganizationAdmin{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return nil, fmt.Errorf("update admin grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperror.NotFound("organization admin not found")
	}
	return s.GetAdminGrant(ctx, id)
}
