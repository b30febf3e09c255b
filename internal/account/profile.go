package account

import (
	"context"

	"github.com/d9705996/schoolhub/internal/approval"
	"github.com/d9705996/schoolhub/internal/authz"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/session"
)

// Me describes the caller.
type Me struct {
	Account      *model.Account
	Organization *model.Organization
	Person       *model.Person
	Elevated     bool
}

// Me returns the caller's account, organization and linked person. It is
// available before approval so pending accounts can see their status.
func (s *Service) Me(ctx context.Context, sess *session.Session) (*Me, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ReadMe, subj.Account); err != nil {
		return nil, err
	}
	me := &Me{Account: subj.Account, Elevated: sess.Elevated}
	if orgID := subj.Account.OwningOrganizationID(); orgID != "" {
		org, err := s.store.GetOrganization(ctx, orgID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		me.Organization = org
	}
	p, err := s.store.GetPersonByAccount(ctx, subj.Account.ID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	me.Person = p
	return me, nil
}

// Profile returns the person linked to the caller.
func (s *Service) Profile(ctx context.Context, sess *session.Session) (*model.Person, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPersonByAccount(ctx, subj.Account.ID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ReadProfile, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProfile saves the caller's profile and advances the approval
// status where the transition table allows it.
func (s *Service) UpdateProfile(ctx context.Context, sess *session.Session, in approval.ProfileInput) (*model.Person, error) {
	ctx, span := s.tracer.Start(ctx, "account.UpdateProfile")
	defer span.End()

	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	// The person may not exist yet; SubmitProfile creates it. Authorize
	// against the account itself in that case.
	var target model.Tenanted = subj.Account
	if p, err := s.store.GetPersonByAccount(ctx, subj.Account.ID); err == nil {
		target = p
	} else if !isNotFound(err) {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.UpdateProfile, target); err != nil {
		return nil, err
	}
	return s.approval.SubmitProfile(ctx, subj.Account, in)
}
