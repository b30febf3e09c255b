// Package authz decides whether an account may perform an operation on a
// target. Decisions are pure functions of a preloaded Subject; the only
// side effects are logging and metrics in Engine.
package authz

import (
	"context"
	"log/slog"
	"slices"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/observability"
)

// Scope classifies an operation.
type Scope int

const (
	// ScopeSelf operations act on the caller's own account or profile.
	ScopeSelf Scope = iota
	// ScopeTenant operations read data of the caller's organization.
	ScopeTenant
	// ScopeAdmin operations require an administrative grant.
	ScopeAdmin
)

// Operation names a protected action.
type Operation string

const (
	ReadProfile   Operation = "profile.read"
	UpdateProfile Operation = "profile.update"
	ReadMe        Operation = "me.read"
	Logout        Operation = "session.logout"

	ListPeople Operation = "people.list"
	ReadPerson Operation = "people.read"

	ListAccounts    Operation = "accounts.list"
	ApproveAccount  Operation = "accounts.approve"
	RejectAccount   Operation = "accounts.reject"
	CreatePerson    Operation = "people.create"
	LinkPerson      Operation = "people.link"
	UnlinkPerson    Operation = "people.unlink"
	DeletePerson    Operation = "people.delete"
	ManageOrgAdmins Operation = "org_admins.manage"
	ManageDomains   Operation = "domains.manage"
)

var scopes = map[Operation]Scope{
	ReadProfile: ScopeSelf, UpdateProfile: ScopeSelf, ReadMe: ScopeSelf, Logout: ScopeSelf,

	ListPeople: ScopeTenant, ReadPerson: ScopeTenant,

	ListAccounts: ScopeAdmin, ApproveAccount: ScopeAdmin, RejectAccount: ScopeAdmin,
	CreatePerson: ScopeAdmin, LinkPerson: ScopeAdmin, UnlinkPerson: ScopeAdmin, DeletePerson: ScopeAdmin,
	ManageOrgAdmins: ScopeAdmin, ManageDomains: ScopeAdmin,
}

// Scope returns the operation's scope. Unknown operations are treated as
// administrative.
func (o Operation) Scope() Scope {
	if s, ok := scopes[o]; ok {
		return s
	}
	return ScopeAdmin
}

// approvalExempt lists the operations a not-yet-approved account may perform.
var approvalExempt = []Operation{ReadProfile, UpdateProfile, ReadMe, Logout}

// Subject is everything the engine needs to know about the caller.
type Subject struct {
	Account *model.Account
	// Grants are all administrative grants held by the account.
	Grants []model.OrganizationAdmin
	// OwnedOrganizationIDs are organizations designating the account as owner.
	OwnedOrganizationIDs []string
}

func (s *Subject) owns(orgID string) bool {
	return slices.Contains(s.OwnedOrganizationIDs, orgID)
}

func (s *Subject) hasActiveGrant(orgID string, role model.AdminRole) bool {
	return slices.ContainsFunc(s.Grants, func(g model.OrganizationAdmin) bool {
		return g.IsActive && g.OrganizationID == orgID && g.Role == role
	})
}

// IsSystemAdmin reports whether the subject administers orgID outright: it
// owns the organization or carries SYSTEM_ADMIN within it.
func (s *Subject) IsSystemAdmin(orgID string) bool {
	if orgID == "" {
		return false
	}
	if s.owns(orgID) {
		return true
	}
	return s.Account.HasRole(model.RoleSystemAdmin) && s.Account.OwningOrganizationID() == orgID
}

// Decision is the outcome of one evaluation. Rule names the rule that
// decided it.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
}

func allow(rule string) Decision { return Decision{Allowed: true, Rule: rule} }

func deny(rule, reason string) Decision { return Decision{Rule: rule, Reason: reason} }

// verdict is a rule's answer: decided, or pass to the next rule.
type verdict struct {
	decided  bool
	decision Decision
}

var pass = verdict{}

func decide(d Decision) verdict { return verdict{decided: true, decision: d} }

type request struct {
	subject *Subject
	op      Operation
	target  model.Tenanted
	orgID   string
}

type rule struct {
	name string
	eval func(r *request) verdict
}

// rules are evaluated in order; the first decided verdict wins.
var rules = []rule{
	{"superuser", func(r *request) verdict {
		if r.subject.Account.IsSuperuser {
			return decide(allow("superuser"))
		}
		return pass
	}},
	{"system_admin", func(r *request) verdict {
		if r.subject.IsSystemAdmin(r.orgID) {
			return decide(allow("system_admin"))
		}
		return pass
	}},
	{"self", func(r *request) verdict {
		if r.op.Scope() != ScopeSelf {
			return pass
		}
		if r.orgID == "" {
			return decide(deny("self", "target has no organization"))
		}
		if !isSelf(r.subject.Account, r.target) {
			return decide(deny("self", "operation is limited to the caller's own record"))
		}
		return pass
	}},
	{"org_admin", func(r *request) verdict {
		if r.op.Scope() != ScopeAdmin {
			return pass
		}
		if r.orgID == "" {
			return decide(deny("org_admin", "target has no organization"))
		}
		if !r.subject.hasActiveGrant(r.orgID, model.AdminRoleOrg) {
			return decide(deny("org_admin", "no active administrative grant for the organization"))
		}
		return pass
	}},
	{"tenant_membership", func(r *request) verdict {
		if r.op.Scope() != ScopeTenant {
			return pass
		}
		own := r.subject.Account.OwningOrganizationID()
		if own == "" || r.orgID == "" || own != r.orgID {
			return decide(deny("tenant_membership", "target belongs to another organization"))
		}
		return pass
	}},
	{"approval_gate", func(r *request) verdict {
		if slices.Contains(approvalExempt, r.op) {
			return pass
		}
		if r.subject.Account.ApprovalStatus != model.StatusApproved {
			return decide(deny("approval_gate", "account is not approved"))
		}
		return pass
	}},
	{"granted", func(r *request) verdict {
		return decide(allow("granted"))
	}},
}

// Decide evaluates op on target for subject. target may be nil only for
// operations that need no object; such requests are denied unless an
// earlier rule allows them.
func Decide(subject *Subject, op Operation, target model.Tenanted) Decision {
	if subject == nil || subject.Account == nil {
		return deny("unauthenticated", "no subject")
	}
	r := &request{subject: subject, op: op, target: target}
	if target != nil {
		r.orgID = target.OwningOrganizationID()
	}
	for _, rl := range rules {
		if v := rl.eval(r); v.decided {
			return v.decision
		}
	}
	return deny("default", "no rule matched")
}

func isSelf(acct *model.Account, target model.Tenanted) bool {
	switch t := target.(type) {
	case *model.Account:
		return t.ID == acct.ID
	case *model.Person:
		return t.LinkedTo(acct.ID)
	default:
		return false
	}
}

// Engine wraps Decide with logging and metrics.
type Engine struct {
	log *slog.Logger
}

// NewEngine returns an Engine.
func NewEngine(log *slog.Logger) *Engine {
	return &Engine{log: log}
}

// Authorize returns nil when the subject may perform op on target and an
// AuthorizationError otherwise.
func (e *Engine) Authorize(_ context.Context, subject *Subject, op Operation, target model.Tenanted) error {
	d := Decide(subject, op, target)
	effect := "deny"
	if d.Allowed {
		effect = "allow"
	}
	observability.AuthzDecisions.WithLabelValues(d.Rule, effect).Inc()
	if d.Allowed {
		return nil
	}
	var accountID string
	if subject != nil && subject.Account != nil {
		accountID = subject.Account.ID
	}
	e.log.Warn("authorization denied", "account_id", accountID, "operation", op, "rule", d.Rule, "reason", d.Reason)
	return apperror.Authorization("not permitted to perform %s", op)
}
