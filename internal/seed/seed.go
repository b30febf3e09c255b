// Package seed prepares a fresh database: it installs the builtin role
// catalogue on every boot and creates a bootstrap superuser, optionally
// owning a bootstrap organization, when no accounts exist yet.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/d9705996/schoolhub/internal/auth"
	"github.com/d9705996/schoolhub/internal/identity"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/store"
)

var roleDescriptions = map[string]string{
	model.RoleSystemAdmin: "Organization-wide authority",
	model.RoleOrgAdmin:    "Administers an organization",
	model.RoleStudent:     "Enrolled learner",
	model.RoleTeacher:     "Teaching staff",
	model.RoleStaff:       "Non-teaching staff",
	model.RoleGuardian:    "Parent or guardian of a student",
	model.RoleGeneral:     "General member",
}

// Options configures the bootstrap superuser and organization.
type Options struct {
	AdminEmail    string
	AdminPassword string // if empty, a random password is generated
	OrgName       string // both OrgName and OrgDomain are needed to create an organization
	OrgDomain     string
	// Out receives the generated password; defaults to stdout.
	Out io.Writer
}

// Run seeds roles and, on an empty database, the bootstrap superuser.
// It is idempotent and safe to call on every startup.
func Run(ctx context.Context, st *store.Store, ids *identity.Service, opts Options, log *slog.Logger) error {
	for _, name := range model.BuiltinRoles {
		if _, err := st.EnsureRole(ctx, name, roleDescriptions[name]); err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}

	count, err := st.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if count > 0 {
		log.Info("seed admin already exists")
		return nil
	}

	password := opts.AdminPassword
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			return fmt.Errorf("generate seed password: %w", err)
		}
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		// Print the generated password exactly once.
		_, _ = fmt.Fprintf(out, "[schoolhub] seed admin password: %s\n", password)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	return st.Transaction(ctx, func(tx *store.Store) error {
		acct := &model.Account{
			Email:          opts.AdminEmail,
			PasswordHash:   hash,
			IsActive:       true,
			IsSuperuser:    true,
			ApprovalStatus: model.StatusApproved,
		}

		var org *model.Organization
		if opts.OrgName != "" && opts.OrgDomain != "" {
			domain := strings.ToLower(strings.TrimSpace(opts.OrgDomain))
			org = &model.Organization{Name: opts.OrgName, PrimaryDomain: &domain, IsActive: true}
			if err := tx.CreateOrganization(ctx, org); err != nil {
				return fmt.Errorf("insert seed organization: %w", err)
			}
			acct.OrganizationID = &org.ID
		}

		if err := tx.CreateAccount(ctx, acct); err != nil {
			return fmt.Errorf("insert seed admin: %w", err)
		}
		role, err := tx.GetRoleByName(ctx, model.RoleSystemAdmin)
		if err != nil {
			return err
		}
		if err := tx.AddAccountRole(ctx, acct.ID, role); err != nil {
			return err
		}

		if org != nil {
			if err := tx.SetOrganizationOwner(ctx, org.ID, acct.ID); err != nil {
				return err
			}
			p, err := ids.In(tx).EnsureIdentity(ctx, acct)
			if err != nil {
				return err
			}
			p.FirstName, p.LastName = "Seed", "Admin"
			if err := tx.UpdatePersonProfile(ctx, p); err != nil {
				return err
			}
			if _, err := tx.ClaimPerson(ctx, acct.ID); err != nil {
				return err
			}
			log.Info("seed organization created", "org_id", org.ID, "domain", *org.PrimaryDomain)
		}

		log.Info("seed admin created", "email", acct.Email)
		return nil
	})
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
