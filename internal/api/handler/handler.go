// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/d9705996/schoolhub/internal/api/jsonapi"
	"github.com/d9705996/schoolhub/internal/api/middleware"
	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/session"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON request body into v. It writes a 400 response and
// returns false when the body is missing or malformed.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonapi.RenderError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request Entity Too Large", "request body is too large")
			return false
		}
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return false
	}
	return true
}

// currentSession returns the caller's session or renders 401.
func currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		jsonapi.RenderErr(w, apperror.Authentication("authentication required"))
		return nil, false
	}
	return sess, true
}

// ---- Resource attributes --------------------------------------------------

type accountAttrs struct {
	Email           string               `json:"email"`
	IsActive        bool                 `json:"is_active"`
	IsSuperuser     bool                 `json:"is_superuser"`
	OrganizationID  *string              `json:"organization_id"`
	ApprovalStatus  model.ApprovalStatus `json:"approval_status"`
	RejectionReason *string              `json:"rejection_reason"`
	RequestedRole   string               `json:"requested_role,omitempty"`
	Roles           []string             `json:"roles"`
	CreatedAt       time.Time            `json:"created_at"`
}

func accountResource(a *model.Account) jsonapi.ResourceObject {
	roles := a.RoleNames()
	if roles == nil {
		roles = []string{}
	}
	return jsonapi.ResourceObject{
		Type: "accounts",
		ID:   a.ID,
		Attributes: accountAttrs{
			Email:           a.Email,
			IsActive:        a.IsActive,
			IsSuperuser:     a.IsSuperuser,
			OrganizationID:  a.OrganizationID,
			ApprovalStatus:  a.ApprovalStatus,
			RejectionReason: a.RejectionReason,
			RequestedRole:   a.RequestedRole,
			Roles:           roles,
			CreatedAt:       a.CreatedAt,
		},
	}
}

type personAttrs struct {
	OrganizationID string  `json:"organization_id"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Email          *string `json:"email"`
	PhoneNumber    *string `json:"phone_number"`
	DateOfBirth    *string `json:"date_of_birth"`
	Gender         *string `json:"gender"`
	Address        *string `json:"address"`
	AccountID      *string `json:"account_id"`
	IsClaimed      bool    `json:"is_claimed"`
}

func personResource(p *model.Person) jsonapi.ResourceObject {
	var dob *string
	if p.DateOfBirth != nil {
		s := p.DateOfBirth.Format(time.DateOnly)
		dob = &s
	}
	return jsonapi.ResourceObject{
		Type: "people",
		ID:   p.ID,
		Attributes: personAttrs{
			OrganizationID: p.OrganizationID,
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			Email:          p.Email,
			PhoneNumber:    p.PhoneNumber,
			DateOfBirth:    dob,
			Gender:         p.Gender,
			Address:        p.Address,
			AccountID:      p.AccountID,
			IsClaimed:      p.IsClaimed,
		},
	}
}

type organizationAttrs struct {
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	PrimaryDomain *string `json:"primary_domain"`
}

func organizationResource(o *model.Organization) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type:       "organizations",
		ID:         o.ID,
		Attributes: organizationAttrs{Name: o.Name, Email: o.Email, PrimaryDomain: o.PrimaryDomain},
	}
}

type grantAttrs struct {
	AccountID      string          `json:"account_id"`
	OrganizationID string          `json:"organization_id"`
	Role           model.AdminRole `json:"role"`
	IsActive       bool            `json:"is_active"`
}

func grantResource(g *model.OrganizationAdmin) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type:       "org_admins",
		ID:         g.ID,
		Attributes: grantAttrs{AccountID: g.AccountID, OrganizationID: g.OrganizationID, Role: g.Role, IsActive: g.IsActive},
	}
}

func domainResource(d *model.OrganizationDomain) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type:       "domains",
		ID:         d.ID,
		Attributes: map[string]string{"organization_id": d.OrganizationID, "domain": d.Domain},
	}
}

func list[T any](items []T, render func(*T) jsonapi.ResourceObject) []any {
	out := make([]any, 0, len(items))
	for i := range items {
		out = append(out, render(&items[i]))
	}
	return out
}
