package identity_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/config"
	"github.com/d9705996/schoolhub/internal/db"
	"github.com/d9705996/schoolhub/internal/identity"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	st   *store.Store
	svc  *identity.Service
	orgA *model.Organization
	orgB *model.Organization
}

func ptr(s string) *string { return &s }

func setup(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "identity.db")}
	gormDB, _, err := db.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })

	st := store.New(gormDB)
	f := &fixture{st: st, svc: identity.NewService(st, slog.New(slog.NewTextHandler(io.Discard, nil)))}
	f.orgA = &model.Organization{Name: "A", IsActive: true, PrimaryDomain: ptr("a.example")}
	f.orgB = &model.Organization{Name: "B", IsActive: true, PrimaryDomain: ptr("b.example")}
	require.NoError(t, st.CreateOrganization(context.Background(), f.orgA))
	require.NoError(t, st.CreateOrganization(context.Background(), f.orgB))
	return f
}

func (f *fixture) account(t *testing.T, email string, org *model.Organization) *model.Account {
	t.Helper()
	a := &model.Account{Email: email, IsActive: true}
	if org != nil {
		a.OrganizationID = &org.ID
	}
	require.NoError(t, f.st.CreateAccount(context.Background(), a))
	return a
}

func (f *fixture) person(t *testing.T, org *model.Organization, email string) *model.Person {
	t.Helper()
	p := &model.Person{OrganizationID: org.ID, IsActive: true, FirstName: "Pat", LastName: "Doe"}
	if email != "" {
		p.Email = ptr(email)
	}
	require.NoError(t, f.st.CreatePerson(context.Background(), p))
	return p
}

func TestLink(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.account(t, "a@a.example", f.orgA)
	p := f.person(t, f.orgA, "")

	got, err := f.svc.Link(ctx, p.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsClaimed)
	assert.True(t, got.LinkedTo(a.ID))

	_, err = f.svc.Link(ctx, p.ID, a.ID)
	require.NoError(t, err, "relinking the same pair succeeds")
}

func TestLink_Conflicts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a1 := f.account(t, "a1@a.example", f.orgA)
	a2 := f.account(t, "a2@a.example", f.orgA)
	p1 := f.person(t, f.orgA, "")
	p2 := f.person(t, f.orgA, "")
	_, err := f.svc.Link(ctx, p1.ID, a1.ID)
	require.NoError(t, err)

	_, err = f.svc.Link(ctx, p2.ID, a1.ID)
	assert.Equal(t, 409, apperror.HTTPStatus(err), "account already linked to a different person")

	_, err = f.svc.Link(ctx, p1.ID, a2.ID)
	assert.Equal(t, 409, apperror.HTTPStatus(err), "person already linked to a different account")
}

func TestLink_OrganizationMismatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.account(t, "a@a.example", f.orgA)
	pb := f.person(t, f.orgB, "")
	orphan := f.account(t, "o@nowhere.example", nil)
	pa := f.person(t, f.orgA, "")

	_, err := f.svc.Link(ctx, pb.ID, a.ID)
	assert.Equal(t, 400, apperror.HTTPStatus(err))

	_, err = f.svc.Link(ctx, pa.ID, orphan.ID)
	assert.Equal(t, 400, apperror.HTTPStatus(err))

	_, err = f.svc.Link(ctx, "missing", a.ID)
	assert.Equal(t, 404, apperror.HTTPStatus(err))
}

func TestUnlink_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.account(t, "a@a.example", f.orgA)
	p := f.person(t, f.orgA, "")
	_, err := f.svc.Link(ctx, p.ID, a.ID)
	require.NoError(t, err)

	res, err := f.svc.Unlink(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.Unlinked, res)

	got, err := f.st.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AccountID)
	assert.False(t, got.IsClaimed)

	res, err = f.svc.Unlink(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.NothingToDo, res)
}

func TestEnsureIdentity_AttachesPreProvisionedPerson(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	pre := f.person(t, f.orgA, "Kid@A.example")
	f.person(t, f.orgB, "kid@a.example")
	a := f.account(t, "kid@a.example", f.orgA)

	p, err := f.svc.EnsureIdentity(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, pre.ID, p.ID)
	assert.True(t, p.LinkedTo(a.ID))
	assert.False(t, p.IsClaimed, "claiming happens at approval")

	again, err := f.svc.EnsureIdentity(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, pre.ID, again.ID)
}

func TestEnsureIdentity_CreatesPlaceholder(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.account(t, "new@a.example", f.orgA)

	p, err := f.svc.EnsureIdentity(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, f.orgA.ID, p.OrganizationID)
	assert.True(t, p.LinkedTo(a.ID))
	assert.False(t, p.HasRequiredProfile())
}

func TestEnsureIdentity_RequiresOrganization(t *testing.T) {
	f := setup(t)
	a := f.account(t, "o@nowhere.example", nil)
	_, err := f.svc.EnsureIdentity(context.Background(), a)
	assert.Equal(t, 400, apperror.HTTPStatus(err))
}

func TestIn_BindsTransaction(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.account(t, "tx@a.example", f.orgA)

	err := f.st.Transaction(ctx, func(tx *store.Store) error {
		_, err := f.svc.In(tx).EnsureIdentity(ctx, a)
		require.NoError(t, err)
		return apperror.Validation("rollback")
	})
	require.Error(t, err)

	_, err = f.st.GetPersonByAccount(ctx, a.ID)
	assert.Equal(t, 404, apperror.HTTPStatus(err))
}
