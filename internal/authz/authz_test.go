package authz_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/authz"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func acct(id, org string, status model.ApprovalStatus, roles ...string) *model.Account {
	a := &model.Account{ID: id, ApprovalStatus: status}
	if org != "" {
		a.OrganizationID = ptr(org)
	}
	for _, r := range roles {
		a.Roles = append(a.Roles, model.Role{Name: r})
	}
	return a
}

// unowned is a tenant-scoped entity whose organization cannot be resolved.
type unowned struct{}

func (unowned) OwningOrganizationID() string { return "" }

func TestDecide(t *testing.T) {
	orgA := &model.Organization{ID: "org-a"}
	orgB := &model.Organization{ID: "org-b"}
	personA := &model.Person{ID: "p-a", OrganizationID: "org-a"}
	personB := &model.Person{ID: "p-b", OrganizationID: "org-b"}

	approvedA := acct("u1", "org-a", model.StatusApproved, model.RoleStudent)
	pendingA := acct("u2", "org-a", model.StatusPendingApproval)
	rejectedA := acct("u3", "org-a", model.StatusRejected)
	orphan := acct("u4", "", model.StatusApproved)
	sysAdminA := acct("u5", "org-a", model.StatusPendingProfile, model.RoleSystemAdmin)
	superuser := &model.Account{ID: "root", IsSuperuser: true, ApprovalStatus: model.StatusPendingProfile}
	owner := acct("u6", "org-a", model.StatusPendingProfile)
	orgAdminA := acct("u7", "org-a", model.StatusApproved)
	inactiveAdmin := acct("u8", "org-a", model.StatusApproved)
	deptAdmin := acct("u9", "org-a", model.StatusApproved)
	pendingAdmin := acct("u10", "org-a", model.StatusPendingApproval)

	grant := func(a *model.Account, org string, role model.AdminRole, active bool) []model.OrganizationAdmin {
		return []model.OrganizationAdmin{{AccountID: a.ID, OrganizationID: org, Role: role, IsActive: active}}
	}
	selfPerson := &model.Person{ID: "p-self", OrganizationID: "org-a", AccountID: ptr("u2")}

	tests := []struct {
		name    string
		subject *authz.Subject
		op      authz.Operation
		target  model.Tenanted
		allowed bool
		rule    string
	}{
		{"superuser bypasses everything", &authz.Subject{Account: superuser}, authz.ManageDomains, orgB, true, "superuser"},
		{"superuser on unowned object", &authz.Subject{Account: superuser}, authz.ReadPerson, unowned{}, true, "superuser"},

		{"owner is system admin of own org", &authz.Subject{Account: owner, OwnedOrganizationIDs: []string{"org-a"}}, authz.ApproveAccount, personA, true, "system_admin"},
		{"owner gets nothing in other org", &authz.Subject{Account: owner, OwnedOrganizationIDs: []string{"org-a"}}, authz.ApproveAccount, personB, false, "org_admin"},
		{"SYSTEM_ADMIN role in own org", &authz.Subject{Account: sysAdminA}, authz.ListAccounts, orgA, true, "system_admin"},
		{"SYSTEM_ADMIN role across tenants", &authz.Subject{Account: sysAdminA}, authz.ListPeople, orgB, false, "tenant_membership"},

		{"active ORG_ADMIN grant", &authz.Subject{Account: orgAdminA, Grants: grant(orgAdminA, "org-a", model.AdminRoleOrg, true)}, authz.ApproveAccount, personA, true, "granted"},
		{"grant for another org", &authz.Subject{Account: orgAdminA, Grants: grant(orgAdminA, "org-b", model.AdminRoleOrg, true)}, authz.ApproveAccount, personA, false, "org_admin"},
		{"inactive grant", &authz.Subject{Account: inactiveAdmin, Grants: grant(inactiveAdmin, "org-a", model.AdminRoleOrg, false)}, authz.ApproveAccount, personA, false, "org_admin"},
		{"DEPT_ADMIN lacks ORG_ADMIN ops", &authz.Subject{Account: deptAdmin, Grants: grant(deptAdmin, "org-a", model.AdminRoleDept, true)}, authz.ManageOrgAdmins, orgA, false, "org_admin"},
		{"admin op on unowned object", &authz.Subject{Account: orgAdminA, Grants: grant(orgAdminA, "org-a", model.AdminRoleOrg, true)}, authz.LinkPerson, unowned{}, false, "org_admin"},
		{"admin op with nil target", &authz.Subject{Account: orgAdminA, Grants: grant(orgAdminA, "org-a", model.AdminRoleOrg, true)}, authz.ListAccounts, nil, false, "org_admin"},
		{"unapproved grant holder", &authz.Subject{Account: pendingAdmin, Grants: grant(pendingAdmin, "org-a", model.AdminRoleOrg, true)}, authz.ApproveAccount, personA, false, "approval_gate"},
		{"plain member cannot approve", &authz.Subject{Account: approvedA}, authz.ApproveAccount, personA, false, "org_admin"},

		{"member reads own tenant", &authz.Subject{Account: approvedA}, authz.ListPeople, orgA, true, "granted"},
		{"member reads other tenant", &authz.Subject{Account: approvedA}, authz.ReadPerson, personB, false, "tenant_membership"},
		{"orgless account on tenant op", &authz.Subject{Account: orphan}, authz.ListPeople, orgA, false, "tenant_membership"},
		{"tenant op on unowned object", &authz.Subject{Account: approvedA}, authz.ReadPerson, unowned{}, false, "tenant_membership"},

		{"pending account blocked from tenant data", &authz.Subject{Account: pendingA}, authz.ListPeople, orgA, false, "approval_gate"},
		{"rejected account blocked", &authz.Subject{Account: rejectedA}, authz.ReadPerson, personA, false, "approval_gate"},
		{"pending account reads own profile", &authz.Subject{Account: pendingA}, authz.ReadProfile, selfPerson, true, "granted"},
		{"pending account updates own profile", &authz.Subject{Account: pendingA}, authz.UpdateProfile, selfPerson, true, "granted"},
		{"pending account logs out", &authz.Subject{Account: pendingA}, authz.Logout, pendingA, true, "granted"},
		{"pending account reads me", &authz.Subject{Account: pendingA}, authz.ReadMe, pendingA, true, "granted"},
		{"self op on someone else's profile", &authz.Subject{Account: approvedA}, authz.UpdateProfile, personA, false, "self"},
		{"orgless account reads me", &authz.Subject{Account: orphan}, authz.ReadMe, orphan, false, "self"},
		{"orgless account updates own profile", &authz.Subject{Account: orphan}, authz.UpdateProfile, orphan, false, "self"},
		{"orgless account logs out", &authz.Subject{Account: orphan}, authz.Logout, orphan, false, "self"},
		{"superuser without org reads me", &authz.Subject{Account: superuser}, authz.ReadMe, superuser, true, "superuser"},

		{"nil subject", nil, authz.ReadMe, orgA, false, "unauthenticated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := authz.Decide(tt.subject, tt.op, tt.target)
			assert.Equal(t, tt.allowed, d.Allowed, "reason: %s", d.Reason)
			assert.Equal(t, tt.rule, d.Rule)
		})
	}
}

func TestSystemAdminBypassesApprovalGate(t *testing.T) {
	s := &authz.Subject{Account: acct("u", "org-a", model.StatusRejected, model.RoleSystemAdmin)}
	d := authz.Decide(s, authz.ListPeople, &model.Organization{ID: "org-a"})
	assert.True(t, d.Allowed)
}

func TestEngine_Authorize(t *testing.T) {
	e := authz.NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	s := &authz.Subject{Account: acct("u", "org-a", model.StatusApproved)}

	require.NoError(t, e.Authorize(ctx, s, authz.ListPeople, &model.Organization{ID: "org-a"}))

	err := e.Authorize(ctx, s, authz.ListPeople, &model.Organization{ID: "org-b"})
	require.Error(t, err)
	assert.Equal(t, 403, apperror.HTTPStatus(err))
}

func TestOperationScope(t *testing.T) {
	assert.Equal(t, authz.ScopeSelf, authz.ReadProfile.Scope())
	assert.Equal(t, authz.ScopeTenant, authz.ListPeople.Scope())
	assert.Equal(t, authz.ScopeAdmin, authz.ApproveAccount.Scope())
	assert.Equal(t, authz.ScopeAdmin, authz.Operation("made.up").Scope(), "unknown operations fail closed")
}
