package account_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/schoolhub/internal/account"
	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/approval"
	"github.com/d9705996/schoolhub/internal/auth"
	"github.com/d9705996/schoolhub/internal/authz"
	"github.com/d9705996/schoolhub/internal/config"
	"github.com/d9705996/schoolhub/internal/db"
	"github.com/d9705996/schoolhub/internal/identity"
	"github.com/d9705996/schoolhub/internal/kv"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/otp"
	"github.com/d9705996/schoolhub/internal/session"
	"github.com/d9705996/schoolhub/internal/store"
	"github.com/d9705996/schoolhub/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	school1 = "school1.example"
	school2 = "school2.example"
	pw      = "correct horse battery"
)

type outbox struct {
	mu   sync.Mutex
	sent []otp.Delivery
	err  error
}

func (o *outbox) Deliver(_ context.Context, d otp.Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, d)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

func (o *outbox) code(t *testing.T, email string, purpose otp.Purpose) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Email == email && o.sent[i].Purpose == purpose {
			return o.sent[i].Code
		}
	}
	t.Fatalf("no %s code sent to %s", purpose, email)
	return ""
}

type fixture struct {
	svc      *account.Service
	st       *store.Store
	sessions *session.Manager
	out      *outbox
	org1     *model.Organization
	org2     *model.Organization
	owner    *model.Account
}

func ptr(s string) *string { return &s }

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gormDB, _, err := db.New(ctx, &config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "account.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })

	st := store.New(gormDB)
	for _, r := range model.BuiltinRoles {
		_, err := st.EnsureRole(ctx, r, "")
		require.NoError(t, err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := kv.NewMemory()
	out := &outbox{}
	otps := otp.NewManager(mem, out, otp.Options{IssueRate: 1000, IssueBurst: 1000}, log)
	sessions := session.NewManager(mem, "test-secret-at-least-32-bytes-long", time.Hour, 10*time.Minute, log)
	ids := identity.NewService(st, log)

	f := &fixture{
		st:       st,
		sessions: sessions,
		out:      out,
		svc: account.NewService(account.Deps{
			Store:    st,
			Tenants:  tenant.NewResolver(st),
			OTP:      otps,
			Sessions: sessions,
			Identity: ids,
			Approval: approval.NewMachine(st, ids, log),
			Authz:    authz.NewEngine(log),
			Log:      log,
		}),
	}
	f.org1 = f.org(t, "School One", school1)
	f.org2 = f.org(t, "School Two", school2)
	f.owner = f.member(t, f.org1, "owner@school1.example")
	require.NoError(t, st.SetOrganizationOwner(ctx, f.org1.ID, f.owner.ID))
	f.org1.OwnerID = &f.owner.ID
	return f
}

func (f *fixture) org(t *testing.T, name, domain string) *model.Organization {
	t.Helper()
	o := &model.Organization{Name: name, PrimaryDomain: ptr(domain), IsActive: true}
	require.NoError(t, f.st.CreateOrganization(context.Background(), o))
	return o
}

// member creates an active, approved account in org.
func (f *fixture) member(t *testing.T, org *model.Organization, email string) *model.Account {
	t.Helper()
	hash, err := auth.HashPassword(pw)
	require.NoError(t, err)
	a := &model.Account{
		Email:          email,
		PasswordHash:   hash,
		IsActive:       true,
		OrganizationID: &org.ID,
		ApprovalStatus: model.StatusApproved,
	}
	require.NoError(t, f.st.CreateAccount(context.Background(), a))
	return a
}

func (f *fixture) session(t *testing.T, login *account.Login) *session.Session {
	t.Helper()
	s, err := f.sessions.Validate(context.Background(), login.Token)
	require.NoError(t, err)
	return s
}

func (f *fixture) adminSession(t *testing.T, host, email string) *session.Session {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.AdminLoginStart(ctx, host, email, pw))
	login, err := f.svc.AdminLoginVerify(ctx, host, email, f.out.code(t, email, otp.PurposeAdminLogin))
	require.NoError(t, err)
	assert.True(t, login.Elevated)
	return f.session(t, login)
}

// signup runs signup and verification and returns the new account's session.
func (f *fixture) signup(t *testing.T, host, email, role string) *session.Session {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, account.SignupInput{Host: host, Email: email, Password: pw, Role: role})
	require.NoError(t, err)
	login, err := f.svc.VerifySignup(ctx, host, email, f.out.code(t, email, otp.PurposeSignup))
	require.NoError(t, err)
	return f.session(t, login)
}

func (f *fixture) reload(t *testing.T, id string) *model.Account {
	t.Helper()
	a, err := f.st.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func status(err error) int { return apperror.HTTPStatus(err) }

func TestApprovalScenario(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	acct, err := f.svc.Signup(ctx, account.SignupInput{Host: school1, Email: "New@School1.example", Password: pw, Role: "student"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingProfile, acct.ApprovalStatus)
	assert.False(t, acct.IsActive)
	assert.Equal(t, "STUDENT", acct.RequestedRole)

	login, err := f.svc.VerifySignup(ctx, school1, "new@school1.example", f.out.code(t, "new@school1.example", otp.PurposeSignup))
	require.NoError(t, err)
	assert.False(t, login.Elevated)
	sess := f.session(t, login)
	assert.True(t, f.reload(t, acct.ID).IsActive)

	_, err = f.svc.UpdateProfile(ctx, sess, approval.ProfileInput{FirstName: ptr("New"), LastName: ptr("Student")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, f.reload(t, acct.ID).ApprovalStatus)

	admin := f.adminSession(t, school1, "owner@school1.example")
	approved, err := f.svc.DecideApproval(ctx, admin, acct.ID, account.ApprovalDecision{Status: model.StatusApproved, Role: "STUDENT"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.ApprovalStatus)
	assert.True(t, approved.HasRole(model.RoleStudent))

	p, err := f.svc.Profile(ctx, sess)
	require.NoError(t, err)
	assert.True(t, p.IsClaimed)

	_, err = f.svc.DecideApproval(ctx, admin, acct.ID, account.ApprovalDecision{Status: model.StatusApproved})
	assert.Equal(t, 400, status(err))
	assert.Equal(t, model.StatusApproved, f.reload(t, acct.ID).ApprovalStatus)
}

func TestRejectAndResubmit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess := f.signup(t, school1, "kid@school1.example", "GUARDIAN")
	_, err := f.svc.UpdateProfile(ctx, sess, approval.ProfileInput{FirstName: ptr("A"), LastName: ptr("B")})
	require.NoError(t, err)

	admin := f.adminSession(t, school1, "owner@school1.example")
	_, err = f.svc.DecideApproval(ctx, admin, sess.AccountID, account.ApprovalDecision{Status: model.StatusRejected, Reason: "  "})
	assert.Equal(t, 400, status(err))
	assert.Equal(t, model.StatusPendingApproval, f.reload(t, sess.AccountID).ApprovalStatus)

	rejected, err := f.svc.DecideApproval(ctx, admin, sess.AccountID, account.ApprovalDecision{Status: "rejected", Reason: "wrong school"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rejected.ApprovalStatus)
	require.NotNil(t, rejected.RejectionReason)

	me, err := f.svc.Me(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "wrong school", *me.Account.RejectionReason)

	_, err = f.svc.UpdateProfile(ctx, sess, approval.ProfileInput{Address: ptr("1 Road")})
	require.NoError(t, err)
	again := f.reload(t, sess.AccountID)
	assert.Equal(t, model.StatusPendingApproval, again.ApprovalStatus)
	assert.Nil(t, again.RejectionReason)

	_, err = f.svc.DecideApproval(ctx, admin, sess.AccountID, account.ApprovalDecision{Status: "PENDING_PROFILE"})
	assert.Equal(t, 400, status(err))
}

func TestSignup_Validation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	cases := map[string]struct {
		in   account.SignupInput
		want int
	}{
		"bad email":       {account.SignupInput{Host: school1, Email: "nope", Password: pw, Role: "STUDENT"}, 400},
		"missing role":    {account.SignupInput{Host: school1, Email: "a@x.example", Password: pw}, 400},
		"privileged role": {account.SignupInput{Host: school1, Email: "a@x.example", Password: pw, Role: "ORG_ADMIN"}, 400},
		"unknown role":    {account.SignupInput{Host: school1, Email: "a@x.example", Password: pw, Role: "WIZARD"}, 400},
		"short password":  {account.SignupInput{Host: school1, Email: "a@x.example", Password: "short", Role: "STUDENT"}, 400},
		"unknown tenant":  {account.SignupInput{Host: "nowhere.example", Email: "a@x.example", Password: pw, Role: "STUDENT"}, 404},
		"duplicate":       {account.SignupInput{Host: school1, Email: "owner@school1.example", Password: pw, Role: "STUDENT"}, 400},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Signup(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.want, status(err))
		})
	}
	assert.Zero(t, f.out.count())
}

func TestSignup_RepeatBeforeVerifyResends(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	in := account.SignupInput{Host: school1, Email: "late@school1.example", Password: pw, Role: "STUDENT"}
	first, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	in.Role = "TEACHER"
	in.Password = "another long password"
	second, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "TEACHER", f.reload(t, first.ID).RequestedRole)

	fresh := f.out.code(t, in.Email, otp.PurposeSignup)
	require.Equal(t, 2, f.out.count())
	_, err = f.svc.VerifySignup(ctx, school1, in.Email, fresh)
	require.NoError(t, err)

	_, err = f.svc.PasswordLogin(ctx, in.Email, "another long password")
	require.NoError(t, err)
}

func TestSignup_DeliveryFailureIsRetryable(t *testing.T) {
	f := setup(t)
	f.out.err = errors.New("smtp down")
	_, err := f.svc.Signup(context.Background(), account.SignupInput{Host: school1, Email: "a@school1.example", Password: pw, Role: "STUDENT"})
	var dep *apperror.DependencyError
	require.ErrorAs(t, err, &dep)
	assert.True(t, dep.Retryable)
}

func TestVerifySignup_WrongCodeAndWrongTenant(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	email := "x@school1.example"
	_, err := f.svc.Signup(ctx, account.SignupInput{Host: school1, Email: email, Password: pw, Role: "STAFF"})
	require.NoError(t, err)
	code := f.out.code(t, email, otp.PurposeSignup)

	_, err = f.svc.VerifySignup(ctx, school2, email, code)
	assert.Equal(t, 400, status(err))
	// The scoped challenge in school1 is untouched by the school2 attempt.
	_, err = f.svc.VerifySignup(ctx, school1, email, code)
	require.NoError(t, err)
}

func TestPasswordLogin(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.PasswordLogin(ctx, "owner@school1.example", "wrong password")
	assert.Equal(t, 401, status(err))
	_, err = f.svc.PasswordLogin(ctx, "ghost@school1.example", pw)
	assert.Equal(t, 401, status(err))

	login, err := f.svc.PasswordLogin(ctx, "OWNER@school1.example", pw)
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, login.Account.ID)

	_, err = f.svc.Signup(ctx, account.SignupInput{Host: school1, Email: "idle@school1.example", Password: pw, Role: "STUDENT"})
	require.NoError(t, err)
	_, err = f.svc.PasswordLogin(ctx, "idle@school1.example", pw)
	assert.Equal(t, 403, status(err))
}

func TestLoginCode(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.member(t, f.org1, "m@school1.example")

	require.NoError(t, f.svc.RequestLoginCode(ctx, school1, "ghost@school1.example"))
	require.NoError(t, f.svc.RequestLoginCode(ctx, school2, "m@school1.example"))
	assert.Zero(t, f.out.count())

	require.NoError(t, f.svc.RequestLoginCode(ctx, school1, "m@school1.example"))
	code := f.out.code(t, "m@school1.example", otp.PurposeLogin)

	login, err := f.svc.VerifyLoginCode(ctx, school1, "m@school1.example", code)
	require.NoError(t, err)
	assert.False(t, login.Elevated)

	_, err = f.svc.VerifyLoginCode(ctx, school1, "m@school1.example", code)
	assert.Equal(t, 401, status(err))
}

func TestAdminLogin(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.member(t, f.org1, "plain@school1.example")
	f.member(t, f.org2, "owner@school2.example")

	err := f.svc.AdminLoginStart(ctx, school1, "plain@school1.example", pw)
	assert.Equal(t, 401, status(err))
	err = f.svc.AdminLoginStart(ctx, school1, "owner@school1.example", "wrong password")
	assert.Equal(t, 401, status(err))
	err = f.svc.AdminLoginStart(ctx, "nowhere.example", "owner@school1.example", pw)
	assert.Equal(t, 404, status(err))
	assert.Zero(t, f.out.count())

	require.NoError(t, f.svc.AdminLoginStart(ctx, school1, "owner@school1.example", pw))
	code := f.out.code(t, "owner@school1.example", otp.PurposeAdminLogin)

	_, err = f.svc.AdminLoginVerify(ctx, school2, "owner@school1.example", code)
	assert.Equal(t, 401, status(err))

	login, err := f.svc.AdminLoginVerify(ctx, school1, "owner@school1.example", code)
	require.NoError(t, err)
	assert.True(t, login.Elevated)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), login.ExpiresAt, time.Minute)
}

func TestAdminLogin_GrantHolder(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	deputy := f.member(t, f.org1, "deputy@school1.example")

	admin := f.adminSession(t, school1, "owner@school1.example")
	g, err := f.svc.GrantOrgAdmin(ctx, admin, deputy.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.AdminRoleOrg, g.Role)

	f.adminSession(t, school1, "deputy@school1.example")

	_, err = f.svc.SetOrgAdminActive(ctx, admin, g.ID, false)
	require.NoError(t, err)
	err = f.svc.AdminLoginStart(ctx, school1, "deputy@school1.example", pw)
	assert.Equal(t, 401, status(err))

	_, err = f.svc.GrantOrgAdmin(ctx, admin, deputy.ID, "DEPT_ADMIN")
	assert.Equal(t, 409, status(err))
	_, err = f.svc.GrantOrgAdmin(ctx, admin, deputy.ID, "KING")
	assert.Equal(t, 400, status(err))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	login, err := f.svc.PasswordLogin(ctx, "owner@school1.example", pw)
	require.NoError(t, err)
	sess := f.session(t, login)

	require.NoError(t, f.svc.Logout(ctx, sess))
	_, err = f.sessions.Validate(ctx, login.Token)
	assert.Equal(t, 401, status(err))
}

func TestPendingAccountIsGated(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess := f.signup(t, school1, "p@school1.example", "STUDENT")

	me, err := f.svc.Me(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingProfile, me.Account.ApprovalStatus)
	require.NotNil(t, me.Organization)
	assert.Equal(t, f.org1.ID, me.Organization.ID)

	_, err = f.svc.ListPeople(ctx, sess, "")
	assert.Equal(t, 403, status(err))
}

func TestPeopleAndLinking(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	admin := f.adminSession(t, school1, "owner@school1.example")

	p, err := f.svc.CreatePerson(ctx, admin, account.PersonInput{
		Email:   "Pupil@School1.example",
		Profile: approval.ProfileInput{FirstName: ptr("Pupil"), LastName: ptr("One"), Gender: ptr("other")},
	})
	require.NoError(t, err)
	assert.Equal(t, f.org1.ID, p.OrganizationID)

	_, err = f.svc.CreatePerson(ctx, admin, account.PersonInput{Profile: approval.ProfileInput{FirstName: ptr("No")}})
	assert.Equal(t, 400, status(err))

	// Signup with a matching email attaches the pre-provisioned person.
	sess := f.signup(t, school1, "pupil@school1.example", "STUDENT")
	mine, err := f.svc.Profile(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, p.ID, mine.ID)

	res, err := f.svc.UnlinkPerson(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.Unlinked, res)
	res, err = f.svc.UnlinkPerson(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.NothingToDo, res)

	linked, err := f.svc.LinkPerson(ctx, admin, p.ID, sess.AccountID)
	require.NoError(t, err)
	assert.True(t, linked.LinkedTo(sess.AccountID))

	outsider := f.member(t, f.org2, "o@school2.example")
	other, err := f.svc.CreatePerson(ctx, admin, account.PersonInput{Profile: approval.ProfileInput{FirstName: ptr("X"), LastName: ptr("Y")}})
	require.NoError(t, err)
	_, err = f.svc.LinkPerson(ctx, admin, other.ID, outsider.ID)
	assert.Equal(t, 400, status(err))

	people, err := f.svc.ListPeople(ctx, admin, "")
	require.NoError(t, err)
	assert.Len(t, people, 2)

	// A member of another tenant may neither list nor touch school1 people.
	login, err := f.svc.PasswordLogin(ctx, "o@school2.example", pw)
	require.NoError(t, err)
	foreign := f.session(t, login)
	_, err = f.svc.ListPeople(ctx, foreign, f.org1.ID)
	assert.Equal(t, 403, status(err))
	_, err = f.svc.UnlinkPerson(ctx, foreign, p.ID)
	assert.Equal(t, 403, status(err))
	_, err = f.svc.GetPerson(ctx, foreign, p.ID)
	assert.Equal(t, 403, status(err))
	assert.Equal(t, 403, status(f.svc.DeletePerson(ctx, foreign, p.ID)))

	got, err := f.svc.GetPerson(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pupil", got.FirstName)
	_, err = f.svc.GetPerson(ctx, sess, p.ID)
	assert.Equal(t, 403, status(err), "pending accounts are gated")

	require.NoError(t, f.svc.DeletePerson(ctx, admin, other.ID))
	_, err = f.svc.GetPerson(ctx, admin, other.ID)
	assert.Equal(t, 404, status(err))
	people, err = f.svc.ListPeople(ctx, admin, "")
	require.NoError(t, err)
	assert.Len(t, people, 1)
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess := f.signup(t, school1, "q@school1.example", "STUDENT")
	_, err := f.svc.UpdateProfile(ctx, sess, approval.ProfileInput{FirstName: ptr("Q"), LastName: ptr("R")})
	require.NoError(t, err)

	admin := f.adminSession(t, school1, "owner@school1.example")
	pending, err := f.svc.ListAccounts(ctx, admin, "", "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, sess.AccountID, pending[0].ID)

	_, err = f.svc.ListAccounts(ctx, admin, "", "BOGUS")
	assert.Equal(t, 400, status(err))
	_, err = f.svc.ListAccounts(ctx, admin, f.org2.ID, "")
	assert.Equal(t, 403, status(err))
}

func TestDomainsAndOrganizations(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	admin := f.adminSession(t, school1, "owner@school1.example")

	d, err := f.svc.AddDomain(ctx, admin, f.org1.ID, "Alt.School1.Example.")
	require.NoError(t, err)
	assert.Equal(t, "alt.school1.example", d.Domain)

	org, err := f.svc.ResolveTenant(ctx, "alt.school1.example:443")
	require.NoError(t, err)
	assert.Equal(t, f.org1.ID, org.ID)

	_, err = f.svc.AddDomain(ctx, admin, f.org1.ID, school2)
	assert.Equal(t, 409, status(err))
	_, err = f.svc.AddDomain(ctx, admin, f.org1.ID, "not a host")
	assert.Equal(t, 400, status(err))
	_, err = f.svc.AddDomain(ctx, admin, f.org2.ID, "x.school2.example")
	assert.Equal(t, 403, status(err))

	_, err = f.svc.AddDomain(ctx, admin, f.org1.ID, "LocalHost")
	require.NoError(t, err)
	org, err = f.svc.ResolveTenant(ctx, "localhost:8000")
	require.NoError(t, err)
	assert.Equal(t, f.org1.ID, org.ID)

	domains, err := f.svc.ListDomains(ctx, admin, f.org1.ID)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "alt.school1.example", domains[0].Domain)
	assert.Equal(t, "localhost", domains[1].Domain)
	_, err = f.svc.ListDomains(ctx, admin, f.org2.ID)
	assert.Equal(t, 403, status(err))

	orgs, err := f.svc.MyOrganizations(ctx, admin)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, f.org1.ID, orgs[0].ID)
}

func TestSignupRoles(t *testing.T) {
	f := setup(t)
	roles, err := f.svc.SignupRoles(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"STUDENT", "TEACHER", "STAFF", "GUARDIAN", "GENERAL"}, names)
}
