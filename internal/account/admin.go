package account

import (
	"context"
	"strings"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/approval"
	"github.com/d9705996/schoolhub/internal/authz"
	"github.com/d9705996/schoolhub/internal/identity"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/session"
	"github.com/d9705996/schoolhub/internal/tenant"
)

// ListAccounts returns the accounts of an organization in the given
// approval status. orgID defaults to the caller's organization and status
// to PENDING_APPROVAL.
func (s *Service) ListAccounts(ctx context.Context, sess *session.Session, orgID string, status model.ApprovalStatus) ([]model.Account, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = model.StatusPendingApproval
	}
	if !status.Valid() {
		return nil, apperror.Validation("unknown approval status %q", status)
	}
	org, err := s.organizationFor(ctx, subj, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ListAccounts, org); err != nil {
		return nil, err
	}
	return s.store.ListAccountsByStatus(ctx, org.ID, status)
}

// ApprovalDecision is an administrator's verdict on a pending account.
type ApprovalDecision struct {
	Status model.ApprovalStatus
	Role   string
	Reason string
}

// DecideApproval approves or rejects accountID and returns it reloaded.
func (s *Service) DecideApproval(ctx context.Context, sess *session.Session, accountID string, d ApprovalDecision) (*model.Account, error) {
	ctx, span := s.tracer.Start(ctx, "account.DecideApproval")
	defer span.End()

	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	switch model.ApprovalStatus(strings.ToUpper(string(d.Status))) {
	case model.StatusApproved:
		if err := s.authz.Authorize(ctx, subj, authz.ApproveAccount, target); err != nil {
			return nil, err
		}
		err = s.approval.Approve(ctx, target.ID, d.Role)
	case model.StatusRejected:
		if err := s.authz.Authorize(ctx, subj, authz.RejectAccount, target); err != nil {
			return nil, err
		}
		err = s.approval.Reject(ctx, target.ID, d.Reason)
	default:
		return nil, apperror.Validation("approval_status must be APPROVED or REJECTED")
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("approval decided", "account_id", target.ID, "by", subj.Account.ID, "status", d.Status)
	return s.store.GetAccount(ctx, target.ID)
}

// ListPeople returns the people of the caller's organization.
func (s *Service) ListPeople(ctx context.Context, sess *session.Session, orgID string) ([]model.Person, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	org, err := s.organizationFor(ctx, subj, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ListPeople, org); err != nil {
		return nil, err
	}
	return s.store.ListPeople(ctx, org.ID)
}

// GetPerson returns one person of the caller's organization.
func (s *Service) GetPerson(ctx context.Context, sess *session.Session, personID string) (*model.Person, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ReadPerson, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PersonInput pre-provisions a person that an account can claim later.
type PersonInput struct {
	OrganizationID string
	Email          string
	Profile        approval.ProfileInput
}

// CreatePerson adds an unlinked person to an organization.
func (s *Service) CreatePerson(ctx context.Context, sess *session.Session, in PersonInput) (*model.Person, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	org, err := s.organizationFor(ctx, subj, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.CreatePerson, org); err != nil {
		return nil, err
	}
	p := &model.Person{OrganizationID: org.ID, IsActive: true}
	if strings.TrimSpace(in.Email) != "" {
		email, err := normalizeEmail(in.Email)
		if err != nil {
			return nil, err
		}
		p.Email = &email
	}
	if err := in.Profile.Apply(p); err != nil {
		return nil, err
	}
	if !p.HasRequiredProfile() {
		return nil, apperror.Validation("first_name and last_name are required")
	}
	if err := s.store.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("person created", "person_id", p.ID, "org_id", org.ID, "by", subj.Account.ID)
	return p, nil
}

// LinkPerson attaches personID to accountID.
func (s *Service) LinkPerson(ctx context.Context, sess *session.Session, personID, accountID string) (*model.Person, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, apperror.Validation("account_id is required")
	}
	p, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.LinkPerson, p); err != nil {
		return nil, err
	}
	return s.identity.Link(ctx, p.ID, accountID)
}

// UnlinkPerson detaches personID from its account. Unlinking an unlinked
// person succeeds without change.
func (s *Service) UnlinkPerson(ctx context.Context, sess *session.Session, personID string) (identity.UnlinkResult, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return "", err
	}
	p, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return "", err
	}
	if err := s.authz.Authorize(ctx, subj, authz.UnlinkPerson, p); err != nil {
		return "", err
	}
	return s.identity.Unlink(ctx, p.ID)
}

// DeletePerson soft-deletes a person, releasing any linked account.
func (s *Service) DeletePerson(ctx context.Context, sess *session.Session, personID string) error {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return err
	}
	p, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return err
	}
	if err := s.authz.Authorize(ctx, subj, authz.DeletePerson, p); err != nil {
		return err
	}
	if err := s.store.SoftDeletePerson(ctx, p.ID); err != nil {
		return err
	}
	s.log.Info("person deleted", "person_id", p.ID, "org_id", p.OrganizationID, "by", subj.Account.ID)
	return nil
}

// GrantOrgAdmin gives accountID an administrative grant within its own
// organization.
func (s *Service) GrantOrgAdmin(ctx context.Context, sess *session.Session, accountID string, role model.AdminRole) (*model.OrganizationAdmin, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = model.AdminRoleOrg
	}
	role = model.AdminRole(strings.ToUpper(string(role)))
	if role != model.AdminRoleOrg && role != model.AdminRoleDept {
		return nil, apperror.Validation("role must be %s or %s", model.AdminRoleOrg, model.AdminRoleDept)
	}
	target, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	orgID := target.OwningOrganizationID()
	if orgID == "" {
		return nil, apperror.Validation("account does not belong to an organization")
	}
	g := &model.OrganizationAdmin{AccountID: target.ID, OrganizationID: orgID, Role: role, IsActive: true}
	if err := s.authz.Authorize(ctx, subj, authz.ManageOrgAdmins, g); err != nil {
		return nil, err
	}
	if err := s.store.CreateAdminGrant(ctx, g); err != nil {
		return nil, err
	}
	s.log.Info("admin granted", "grant_id", g.ID, "account_id", target.ID, "org_id", orgID, "role", role, "by", subj.Account.ID)
	return g, nil
}

// SetOrgAdminActive enables or disables a grant. Grants are never deleted.
func (s *Service) SetOrgAdminActive(ctx context.Context, sess *session.Session, grantID string, active bool) (*model.OrganizationAdmin, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	g, err := s.store.GetAdminGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ManageOrgAdmins, g); err != nil {
		return nil, err
	}
	updated, err := s.store.SetAdminGrantActive(ctx, g.ID, active)
	if err != nil {
		return nil, err
	}
	s.log.Info("admin grant toggled", "grant_id", g.ID, "active", active, "by", subj.Account.ID)
	return updated, nil
}

// MyOrganizations lists the organizations the caller administers.
// Superusers see every organization.
func (s *Service) MyOrganizations(ctx context.Context, sess *session.Session) ([]model.Organization, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	if subj.Account.IsSuperuser {
		return s.store.ListOrganizations(ctx)
	}
	return s.store.ListAdministeredOrganizations(ctx, subj.Account.ID)
}

// AddDomain attaches an alternate hostname to an organization.
func (s *Service) AddDomain(ctx context.Context, sess *session.Session, orgID, rawHost string) (*model.OrganizationDomain, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ManageDomains, org); err != nil {
		return nil, err
	}
	host := tenant.NormalizeHost(rawHost)
	if !validHost(host) {
		return nil, apperror.Validation("domain %q is not a valid hostname", rawHost)
	}
	d := &model.OrganizationDomain{OrganizationID: org.ID, Domain: host}
	if err := s.store.AddDomain(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info("domain added", "org_id", org.ID, "domain", host, "by", subj.Account.ID)
	return d, nil
}

// ListDomains returns the alternate hostnames of an organization.
func (s *Service) ListDomains(ctx context.Context, sess *session.Session, orgID string) ([]model.OrganizationDomain, error) {
	subj, err := s.subject(ctx, sess)
	if err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, subj, authz.ManageDomains, org); err != nil {
		return nil, err
	}
	return s.store.ListDomains(ctx, org.ID)
}

func (s *Service) organizationFor(ctx context.Context, subj *authz.Subject, orgID string) (*model.Organization, error) {
	id, err := homeOrganization(subj, orgID)
	if err != nil {
		return nil, err
	}
	return s.store.GetOrganization(ctx, id)
}

// validHost accepts RFC 1123 hostnames, including single-label names such
// as localhost.
func validHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
				return false
			}
		}
	}
	return true
}
