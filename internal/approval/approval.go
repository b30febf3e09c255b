// Package approval implements the account approval lifecycle:
//
//	PENDING_PROFILE -> PENDING_APPROVAL -> APPROVED
//	                                    -> REJECTED -> PENDING_APPROVAL
//
// Every transition is a conditional update inside a transaction together
// with its side effects.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/identity"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/observability"
	"github.com/d9705996/schoolhub/internal/store"
)

var transitions = map[model.ApprovalStatus][]model.ApprovalStatus{
	model.StatusPendingProfile:  {model.StatusPendingApproval},
	model.StatusPendingApproval: {model.StatusApproved, model.StatusRejected},
	model.StatusRejected:        {model.StatusPendingApproval},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.ApprovalStatus) bool {
	return slices.Contains(transitions[from], to)
}

// sources returns every state with an edge into to.
func sources(to model.ApprovalStatus) []model.ApprovalStatus {
	var out []model.ApprovalStatus
	for from, tos := range transitions {
		if slices.Contains(tos, to) {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

// Exempt reports whether acct bypasses the approval machine entirely.
func Exempt(acct *model.Account) bool {
	return acct.IsSuperuser || acct.HasRole(model.RoleSystemAdmin)
}

// ownsOrExempt extends Exempt with ownership of the account's own
// organization, which makes the account a system admin there.
func ownsOrExempt(ctx context.Context, tx *store.Store, acct *model.Account) (bool, error) {
	if Exempt(acct) {
		return true, nil
	}
	if acct.OrganizationID == nil {
		return false, nil
	}
	org, err := tx.GetOrganization(ctx, *acct.OrganizationID)
	if err != nil {
		var nf *apperror.NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return org.IsOwner(acct.ID), nil
}

// ProfileInput carries the self-editable Person fields. Nil fields are left
// unchanged.
type ProfileInput struct {
	FirstName   *string
	LastName    *string
	PhoneNumber *string
	DateOfBirth *string // YYYY-MM-DD
	Gender      *string
	Address     *string
}

// Machine drives approval transitions.
type Machine struct {
	store    *store.Store
	identity *identity.Service
	log      *slog.Logger
}

// NewMachine returns a Machine.
func NewMachine(st *store.Store, ids *identity.Service, log *slog.Logger) *Machine {
	return &Machine{store: st, identity: ids, log: log}
}

// SubmitProfile writes the caller's own profile. The first complete
// submission moves PENDING_PROFILE to PENDING_APPROVAL; any submission by a
// REJECTED account moves it back to PENDING_APPROVAL and clears the reason.
func (m *Machine) SubmitProfile(ctx context.Context, acct *model.Account, in ProfileInput) (*model.Person, error) {
	var saved *model.Person
	err := m.store.Transaction(ctx, func(tx *store.Store) error {
		p, err := m.identity.In(tx).EnsureIdentity(ctx, acct)
		if err != nil {
			return err
		}
		if err := in.Apply(p); err != nil {
			return err
		}
		if !p.HasRequiredProfile() {
			return apperror.Validation("first_name and last_name are required")
		}
		if err := tx.UpdatePersonProfile(ctx, p); err != nil {
			return err
		}
		saved = p

		current, err := tx.GetAccount(ctx, acct.ID)
		if err != nil {
			return err
		}
		exempt, err := ownsOrExempt(ctx, tx, current)
		if err != nil {
			return err
		}
		if exempt || !CanTransition(current.ApprovalStatus, model.StatusPendingApproval) {
			return nil
		}
		return m.transition(ctx, tx, current, model.StatusPendingApproval, nil)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Approve moves a PENDING_APPROVAL account to APPROVED, grants role and
// claims the linked person, all in one transaction.
func (m *Machine) Approve(ctx context.Context, accountID, roleName string) error {
	roleName = strings.ToUpper(strings.TrimSpace(roleName))
	if roleName == "" {
		return apperror.Validation("role is required to approve an account")
	}
	if roleName == model.RoleSystemAdmin {
		return apperror.Validation("role %s cannot be granted through approval", roleName)
	}
	role, err := m.store.GetRoleByName(ctx, roleName)
	if err != nil {
		var nf *apperror.NotFoundError
		if errors.As(err, &nf) {
			return apperror.Validation("unknown role %q", roleName)
		}
		return err
	}

	return m.store.Transaction(ctx, func(tx *store.Store) error {
		acct, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := m.transition(ctx, tx, acct, model.StatusApproved, nil); err != nil {
			return err
		}
		if err := tx.AddAccountRole(ctx, acct.ID, role); err != nil {
			return err
		}
		if acct.OrganizationID != nil {
			if _, err := m.identity.In(tx).EnsureIdentity(ctx, acct); err != nil {
				return err
			}
		}
		if _, err := tx.ClaimPerson(ctx, acct.ID); err != nil {
			return err
		}
		m.log.Info("account approved", "account_id", acct.ID, "role", roleName)
		return nil
	})
}

// Reject moves a PENDING_APPROVAL account to REJECTED with reason.
func (m *Machine) Reject(ctx context.Context, accountID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperror.Validation("a rejection reason is required")
	}
	return m.store.Transaction(ctx, func(tx *store.Store) error {
		acct, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := m.transition(ctx, tx, acct, model.StatusRejected, &reason); err != nil {
			return err
		}
		m.log.Info("account rejected", "account_id", acct.ID)
		return nil
	})
}

// transition applies one edge. The store update is conditional on the
// legal source states, so a concurrent transition makes this one fail
// with a ConflictError instead of overwriting it.
func (m *Machine) transition(ctx context.Context, tx *store.Store, acct *model.Account, to model.ApprovalStatus, reason *string) error {
	from := acct.ApprovalStatus
	if !CanTransition(from, to) {
		return apperror.Conflict("invalid transition from %s to %s", from, to)
	}
	if err := tx.TransitionApproval(ctx, acct.ID, sources(to), to, reason); err != nil {
		return err
	}
	observability.ApprovalTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.log.Debug("approval transition", "account_id", acct.ID, "from", from, "to", to)
	acct.ApprovalStatus = to
	acct.RejectionReason = reason
	return nil
}

// Apply copies the set fields of in onto p, validating gender and date of
// birth.
func (in ProfileInput) Apply(p *model.Person) error {
	if in.FirstName != nil {
		p.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		p.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.PhoneNumber != nil {
		p.PhoneNumber = optional(*in.PhoneNumber)
	}
	if in.Address != nil {
		p.Address = optional(*in.Address)
	}
	if in.Gender != nil {
		g := strings.ToUpper(strings.TrimSpace(*in.Gender))
		if g != "" && !slices.Contains(model.Genders, g) {
			return apperror.Validation("gender must be one of %s", strings.Join(model.Genders, ", "))
		}
		p.Gender = optional(g)
	}
	if in.DateOfBirth != nil {
		raw := strings.TrimSpace(*in.DateOfBirth)
		if raw == "" {
			p.DateOfBirth = nil
		} else {
			dob, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return apperror.Validation("date_of_birth must be YYYY-MM-DD")
			}
			if dob.After(time.Now()) {
				return apperror.Validation("date_of_birth cannot be in the future")
			}
			p.DateOfBirth = &dob
		}
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
