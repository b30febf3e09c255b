// Package identity links login credentials (Accounts) to human-identity
// records (Persons) one-to-one within an organization.
package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/store"
)

// UnlinkResult reports what Unlink did.
type UnlinkResult string

const (
	Unlinked    UnlinkResult = "unlinked"
	NothingToDo UnlinkResult = "nothing_to_do"
)

// Service performs link, unlink and identity provisioning.
type Service struct {
	store *store.Store
	log   *slog.Logger
}

// NewService returns a Service.
func NewService(st *store.Store, log *slog.Logger) *Service {
	return &Service{store: st, log: log}
}

// In returns a copy of the service bound to tx.
func (s *Service) In(tx *store.Store) *Service {
	return &Service{store: tx, log: s.log}
}

// Link associates person with account and marks the person claimed.
// Linking an already-linked pair is a no-op. A person or account linked
// elsewhere yields a ConflictError; an organization mismatch a
// ValidationError.
func (s *Service) Link(ctx context.Context, personID, accountID string) (*model.Person, error) {
	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.OrganizationID == nil {
		return nil, apperror.Validation("account has no organization")
	}
	if person.OrganizationID != *acct.OrganizationID {
		return nil, apperror.Validation("person and account belong to different organizations")
	}
	if person.AccountID != nil && !person.LinkedTo(acct.ID) {
		return nil, apperror.Conflict("person is already linked to another account")
	}
	existing, err := s.store.GetPersonByAccount(ctx, acct.ID)
	switch {
	case err == nil && existing.ID != person.ID:
		return nil, apperror.Conflict("account is already linked to another person")
	case err != nil && !isNotFound(err):
		return nil, err
	}

	if err := s.store.LinkPerson(ctx, person.ID, acct.ID, true); err != nil {
		return nil, err
	}
	s.log.Info("person linked", "person_id", person.ID, "account_id", acct.ID, "org_id", person.OrganizationID)
	return s.store.GetPerson(ctx, person.ID)
}

// Unlink clears the person's account reference and resets is_claimed.
// Unlinking an unlinked person returns NothingToDo rather than an error.
func (s *Service) Unlink(ctx context.Context, personID string) (UnlinkResult, error) {
	if _, err := s.store.GetPerson(ctx, personID); err != nil {
		return "", err
	}
	changed, err := s.store.UnlinkPerson(ctx, personID)
	if err != nil {
		return "", err
	}
	if !changed {
		return NothingToDo, nil
	}
	s.log.Info("person unlinked", "person_id", personID)
	return Unlinked, nil
}

// EnsureIdentity returns the Person linked to acct, attaching an unlinked
// Person of the same organization and email or creating a placeholder when
// none exists. The person is not marked claimed; approval does that.
func (s *Service) EnsureIdentity(ctx context.Context, acct *model.Account) (*model.Person, error) {
	p, err := s.store.GetPersonByAccount(ctx, acct.ID)
	if err == nil {
		return p, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	if acct.OrganizationID == nil {
		return nil, apperror.Validation("account has no organization")
	}
	orgID := *acct.OrganizationID

	p, err = s.store.FindUnlinkedPersonByEmail(ctx, orgID, acct.Email)
	switch {
	case err == nil:
		if err := s.store.LinkPerson(ctx, p.ID, acct.ID, false); err != nil {
			return nil, err
		}
		s.log.Info("existing person attached", "person_id", p.ID, "account_id", acct.ID)
		return s.store.GetPerson(ctx, p.ID)
	case !isNotFound(err):
		return nil, err
	}

	email, accountID := acct.Email, acct.ID
	p = &model.Person{
		OrganizationID: orgID,
		Email:          &email,
		AccountID:      &accountID,
		IsActive:       true,
	}
	if err := s.store.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("placeholder person created", "person_id", p.ID, "account_id", acct.ID)
	return p, nil
}

func isNotFound(err error) bool {
	var nf *apperror.NotFoundError
	return errors.As(err, &nf)
}
