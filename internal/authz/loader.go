package authz

import (
	"context"
	"fmt"

	"github.com/d9705996/schoolhub/internal/model"
)

// SubjectSource is the subset of the store needed to build a Subject.
type SubjectSource interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAdminGrants(ctx context.Context, accountID string) ([]model.OrganizationAdmin, error)
	ListOwnedOrganizationIDs(ctx context.Context, accountID string) ([]string, error)
}

// LoadSubject preloads the account, its roles, grants and owned
// organizations so Decide needs no further I/O.
func LoadSubject(ctx context.Context, src SubjectSource, accountID string) (*Subject, error) {
	acct, err := src.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	grants, err := src.ListAdminGrants(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	owned, err := src.ListOwnedOrganizationIDs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load owned organizations: %w", err)
	}
	return &Subject{Account: acct, Grants: grants, OwnedOrganizationIDs: owned}, nil
}
