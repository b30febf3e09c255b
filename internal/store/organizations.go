package store

import (
	"context"
	"fmt"
	"time"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
)

// liveOrgs filters out deactivated and soft-deleted organizations.
const liveOrgs = "organizations.is_active = ? AND organizations.deleted_at IS NULL"

// CreateOrganization inserts org. A primary domain already bound to
// another organization yields a ConflictError.
func (s *Store) CreateOrganization(ctx context.Context, org *model.Organization) error {
	if org.PrimaryDomain != nil {
		taken, err := s.domainTaken(ctx, *org.PrimaryDomain)
		if err != nil {
			return err
		}
		if taken {
			return apperror.Conflict("domain %q is already in use", *org.PrimaryDomain)
		}
	}
	if err := s.conn(ctx).Create(org).Error; err != nil {
		if isDuplicate(err) {
			return apperror.Conflict("organization domain already in use")
		}
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// GetOrganization returns a live organization by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	err := s.conn(ctx).Where("id = ?", id).Where(liveOrgs, true).First(&org).Error
	if err != nil {
		return nil, notFound(err, "organization")
	}
	return &org, nil
}

// FindOrganizationsByHost returns every live organization whose primary
// domain or any alternate domain equals host. Callers decide what zero or
// several matches mean.
func (s *Store) FindOrganizationsByHost(ctx context.Context, host string) ([]model.Organization, error) {
	alternates := s.conn(ctx).Model(&model.OrganizationDomain{}).
		Select("organization_id").
		Where("domain = ?", host)

	var orgs []model.Organization
	err := s.conn(ctx).
		Where(liveOrgs, true).
		Where(s.conn(ctx).Where("primary_domain = ?", host).Or("id IN (?)", alternates)).
		Order("id").
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("find organizations by host: %w", err)
	}
	return orgs, nil
}

// SetOrganizationOwner records accountID as the organization's owner.
func (s *Store) SetOrganizationOwner(ctx context.Context, orgID, accountID string) error {
	res := s.conn(ctx).Model(&model.Organization{}).Where("id = ?", orgID).Update("owner_id", accountID)
	if res.Error != nil {
		return fmt.Errorf("set organization owner: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("organization not found")
	}
	return nil
}

// SoftDeleteOrganization hides the organization from every lookup.
func (s *Store) SoftDeleteOrganization(ctx context.Context, id string) error {
	res := s.conn(ctx).Model(&model.Organization{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{"deleted_at": time.Now().UTC(), "is_active": false})
	if res.Error != nil {
		return fmt.Errorf("soft delete organization: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("organization not found")
	}
	return nil
}

// AddDomain binds an alternate hostname. A hostname already used as any
// organization's primary or alternate domain yields a ConflictError.
func (s *Store) AddDomain(ctx context.Context, d *model.OrganizationDomain) error {
	taken, err := s.domainTaken(ctx, d.Domain)
	if err != nil {
		return err
	}
	if taken {
		return apperror.Conflict("domain %q is already in use", d.Domain)
	}
	if err := s.conn(ctx).Create(d).Error; err != nil {
		if isDuplicate(err) {
			return apperror.Conflict("domain %q is already in use", d.Domain)
		}
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

// ListDomains returns the alternate hostnames of an organization.
func (s *Store) ListDomains(ctx context.Context, orgID string) ([]model.OrganizationDomain, error) {
	var out []model.OrganizationDomain
	if err := s.conn(ctx).Where("organization_id = ?", orgID).Order("domain").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return out, nil
}

func (s *Store) domainTaken(ctx context.Context, host string) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&model.Organization{}).Where("primary_domain = ?", host).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check primary domain: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if err := s.conn(ctx).Model(&model.OrganizationDomain{}).Where("domain = ?", host).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check alternate domain: %w", err)
	}
	return n > 0, nil
}

// ListAdministeredOrganizations returns the live organizations accountID
// owns or holds an active administrative grant over.
func (s *Store) ListAdministeredOrganizations(ctx context.Context, accountID string) ([]model.Organization, error) {
	granted := s.conn(ctx).Model(&model.OrganizationAdmin{}).
		Select("organization_id").
		Where("account_id = ? AND is_active = ?", accountID, true)

	var orgs []model.Organization
	err := s.conn(ctx).
		Where(liveOrgs, true).
		Where(s.conn(ctx).Where("owner_id = ?", accountID).Or("id IN (?)", granted)).
		Order("name").
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("list administered organizations: %w", err)
	}
	return orgs, nil
}

// ListOwnedOrganizationIDs returns the ids of live organizations whose
// designated owner is accountID.
func (s *Store) ListOwnedOrganizationIDs(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	err := s.conn(ctx).Model(&model.Organization{}).
		Where("owner_id = ?", accountID).
		Where(liveOrgs, true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list owned organizations: %w", err)
	}
	return ids, nil
}

// ListOrganizations returns every live organization.
func (s *Store) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	var orgs []model.Organization
	if err := s.conn(ctx).Where(liveOrgs, true).Order("name").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}
