package handler

import (
	"net/http"

	"github.com/d9705996/schoolhub/internal/account"
	"github.com/d9705996/schoolhub/internal/api/jsonapi"
	"github.com/d9705996/schoolhub/internal/model"
)

// AdminHandler handles /api/v1/admin/* and /api/v1/people routes.
type AdminHandler struct {
	accounts *account.Service
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(accounts *account.Service) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

// ListAccounts handles GET /api/v1/admin/accounts?status=&organization_id=.
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	accts, err := h.accounts.ListAccounts(r.Context(), sess, q.Get("organization_id"), model.ApprovalStatus(q.Get("status")))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderList(w, http.StatusOK, list(accts, accountResource))
}

type approvalRequest struct {
	ApprovalStatus  model.ApprovalStatus `json:"approval_status"`
	Role            string               `json:"role"`
	RejectionReason string               `json:"rejection_reason"`
}

// DecideApproval handles PATCH /api/v1/admin/accounts/{id}/approval.
func (h *AdminHandler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.accounts.DecideApproval(r.Context(), sess, r.PathValue("id"), account.ApprovalDecision{
		Status: req.ApprovalStatus,
		Role:   req.Role,
		Reason: req.RejectionReason,
	})
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, accountResource(acct))
}

type grantRequest struct {
	AccountID string          `json:"account_id"`
	Role      model.AdminRole `json:"role"`
}

// GrantOrgAdmin handles POST /api/v1/admin/org-admins.
func (h *AdminHandler) GrantOrgAdmin(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.accounts.GrantOrgAdmin(r.Context(), sess, req.AccountID, req.Role)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, grantResource(g))
}

type toggleRequest struct {
	IsActive *bool `json:"is_active"`
}

// ToggleOrgAdmin handles PATCH /api/v1/admin/org-admins/{id}.
func (h *AdminHandler) ToggleOrgAdmin(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_field", "Bad Request", "is_active is required")
		return
	}
	g, err := h.accounts.SetOrgAdminActive(r.Context(), sess, r.PathValue("id"), *req.IsActive)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, grantResource(g))
}

// MyOrganizations handles GET /api/v1/admin/my-organizations.
func (h *AdminHandler) MyOrganizations(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	orgs, err := h.accounts.MyOrganizations(r.Context(), sess)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderList(w, http.StatusOK, list(orgs, organizationResource))
}

type domainRequest struct {
	Domain string `json:"domain"`
}

// AddDomain handles POST /api/v1/admin/organizations/{id}/domains.
func (h *AdminHandler) AddDomain(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req domainRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.accounts.AddDomain(r.Context(), sess, r.PathValue("id"), req.Domain)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, domainResource(d))
}

// ListDomains handles GET /api/v1/admin/organizations/{id}/domains.
func (h *AdminHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	domains, err := h.accounts.ListDomains(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderList(w, http.StatusOK, list(domains, domainResource))
}

// ListPeople handles GET /api/v1/people.
func (h *AdminHandler) ListPeople(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	people, err := h.accounts.ListPeople(r.Context(), sess, r.URL.Query().Get("organization_id"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderList(w, http.StatusOK, list(people, personResource))
}

// GetPerson handles GET /api/v1/people/{id}.
func (h *AdminHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	p, err := h.accounts.GetPerson(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, personResource(p))
}

// DeletePerson handles DELETE /api/v1/people/{id}.
func (h *AdminHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	if err := h.accounts.DeletePerson(r.Context(), sess, r.PathValue("id")); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type personRequest struct {
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	profileRequest
}

// CreatePerson handles POST /api/v1/people.
func (h *AdminHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req personRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.accounts.CreatePerson(r.Context(), sess, account.PersonInput{
		OrganizationID: req.OrganizationID,
		Email:          req.Email,
		Profile:        req.input(),
	})
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, personResource(p))
}

type linkRequest struct {
	AccountID string `json:"account_id"`
}

// LinkPerson handles POST /api/v1/people/{id}/link.
func (h *AdminHandler) LinkPerson(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req linkRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.accounts.LinkPerson(r.Context(), sess, r.PathValue("id"), req.AccountID)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, personResource(p))
}

// UnlinkPerson handles DELETE /api/v1/people/{id}/link. Unlinking an
// unlinked person is a successful no-op.
func (h *AdminHandler) UnlinkPerson(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	res, err := h.accounts.UnlinkPerson(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderAccepted(w, string(res))
}
