// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Builtin role names.
const (
	RoleSystemAdmin = "SYSTEM_ADMIN"
	RoleOrgAdmin    = "ORG_ADMIN"
	RoleStudent     = "STUDENT"
	RoleTeacher     = "TEACHER"
	RoleStaff       = "STAFF"
	RoleGuardian    = "GUARDIAN"
	RoleGeneral     = "GENERAL"
)

// BuiltinRoles is the catalogue seeded on every boot.
var BuiltinRoles = []string{
	RoleSystemAdmin, RoleOrgAdmin, RoleStudent, RoleTeacher, RoleStaff, RoleGuardian, RoleGeneral,
}

// SignupSelectable reports whether role may be requested at self-service signup.
func SignupSelectable(role string) bool {
	return role != RoleSystemAdmin && role != RoleOrgAdmin
}

// ApprovalStatus is the lifecycle gate between "has an account" and "has
// full platform access".
type ApprovalStatus string

const (
	StatusPendingProfile  ApprovalStatus = "PENDING_PROFILE"
	StatusPendingApproval ApprovalStatus = "PENDING_APPROVAL"
	StatusApproved        ApprovalStatus = "APPROVED"
	StatusRejected        ApprovalStatus = "REJECTED"
)

// Valid reports whether s is one of the four known states.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPendingProfile, StatusPendingApproval, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// AdminRole is the administrative capability carried by an OrganizationAdmin grant.
type AdminRole string

const (
	AdminRoleOrg  AdminRole = "ORG_ADMIN"
	AdminRoleDept AdminRole = "DEPT_ADMIN"
)

// Tenanted is implemented by every entity owned by exactly one Organization.
// An empty return value means the owning organization cannot be resolved.
type Tenanted interface {
	OwningOrganizationID() string
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Organization is the tenant root.
type Organization struct {
	ID            string               `gorm:"type:text;primaryKey"`
	Name          string               `gorm:"type:text;not null"`
	Email         string               `gorm:"type:text;not null;default:''"`
	PrimaryDomain *string              `gorm:"type:text;uniqueIndex"`
	OwnerID       *string              `gorm:"type:text;index"`
	IsActive      bool                 `gorm:"not null"`
	DeletedAt     *time.Time           `gorm:"column:deleted_at"`
	Domains       []OrganizationDomain `gorm:"foreignKey:OrganizationID"`
	CreatedAt     time.Time            `gorm:"not null"`
	UpdatedAt     time.Time            `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (o *Organization) BeforeCreate(_ *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// OwningOrganizationID returns the organization's own id: it is the tenant root.
func (o *Organization) OwningOrganizationID() string { return o.ID }

// IsOwner reports whether accountID is the organization's designated owner.
func (o *Organization) IsOwner(accountID string) bool {
	return o.OwnerID != nil && accountID != "" && *o.OwnerID == accountID
}

// OrganizationDomain is an alternate hostname bound to one Organization.
type OrganizationDomain struct {
	ID             string    `gorm:"type:text;primaryKey"`
	OrganizationID string    `gorm:"type:text;not null;index"`
	Domain         string    `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (d *OrganizationDomain) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *OrganizationDomain) OwningOrganizationID() string { return d.OrganizationID }

// Role is a named capability label.
type Role struct {
	ID          string    `gorm:"type:text;primaryKey"`
	Name        string    `gorm:"type:text;not null;uniqueIndex"`
	Description string    `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (r *Role) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// Account is the login credential entity.
type Account struct {
	ID              string         `gorm:"type:text;primaryKey"`
	Email           string         `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash    string         `gorm:"type:text;not null;default:''"`
	IsActive        bool           `gorm:"not null"`
	IsSuperuser     bool           `gorm:"not null"`
	OrganizationID  *string        `gorm:"type:text;index"`
	ApprovalStatus  ApprovalStatus `gorm:"type:text;not null;default:'PENDING_PROFILE'"`
	RejectionReason *string        `gorm:"type:text"`
	RequestedRole   string         `gorm:"type:text;not null;default:''"`
	Roles           []Role         `gorm:"many2many:account_roles;"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key and normalises the email.
func (a *Account) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Email = NormalizeEmail(a.Email)
	return nil
}

// OwningOrganizationID returns the account's organization or "".
func (a *Account) OwningOrganizationID() string {
	if a.OrganizationID == nil {
		return ""
	}
	return *a.OrganizationID
}

// HasRole reports whether the account carries the named role.
func (a *Account) HasRole(name string) bool {
	return slices.ContainsFunc(a.Roles, func(r Role) bool { return r.Name == name })
}

// RoleNames returns the names of the account's roles.
func (a *Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		names = append(names, r.Name)
	}
	return names
}

// OrganizationAdmin grants one Account an administrative role over exactly
// one Organization.
type OrganizationAdmin struct {
	ID             string    `gorm:"type:text;primaryKey"`
	AccountID      string    `gorm:"type:text;not null;uniqueIndex:idx_org_admin_account_org"`
	OrganizationID string    `gorm:"type:text;not null;uniqueIndex:idx_org_admin_account_org"`
	Role           AdminRole `gorm:"type:text;not null;default:'ORG_ADMIN'"`
	IsActive       bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (g *OrganizationAdmin) BeforeCreate(_ *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	return nil
}

func (g *OrganizationAdmin) OwningOrganizationID() string { return g.OrganizationID }

// Genders accepted on a Person profile.
var Genders = []string{"MALE", "FEMALE", "OTHER", "PREFER_NOT_TO_SAY"}

// Person is the canonical human-identity record.
type Person struct {
	ID             string     `gorm:"type:text;primaryKey"`
	OrganizationID string     `gorm:"type:text;not null;index"`
	FirstName      string     `gorm:"type:text;not null;default:''"`
	LastName       string     `gorm:"type:text;not null;default:''"`
	Email          *string    `gorm:"type:text;index"`
	PhoneNumber    *string    `gorm:"type:text"`
	DateOfBirth    *time.Time `gorm:"type:date"`
	Gender         *string    `gorm:"type:text"`
	Address        *string    `gorm:"type:text"`
	AccountID      *string    `gorm:"type:text;uniqueIndex"`
	IsClaimed      bool       `gorm:"not null"`
	IsActive       bool       `gorm:"not null"`
	DeletedAt      *time.Time `gorm:"column:deleted_at"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (p *Person) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Email != nil {
		e := NormalizeEmail(*p.Email)
		p.Email = &e
	}
	return nil
}

func (p *Person) OwningOrganizationID() string { return p.OrganizationID }

// LinkedTo reports whether the person is linked to accountID.
func (p *Person) LinkedTo(accountID string) bool {
	return p.AccountID != nil && *p.AccountID == accountID
}

// HasRequiredProfile reports whether the fields needed to leave
// PENDING_PROFILE are present.
func (p *Person) HasRequiredProfile() bool {
	return strings.TrimSpace(p.FirstName) != "" && strings.TrimSpace(p.LastName) != ""
}
