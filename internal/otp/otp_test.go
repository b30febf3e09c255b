package otp_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/kv"
	"github.com/d9705996/schoolhub/internal/otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []otp.Delivery
	err  error
}

func (n *captureNotifier) Deliver(_ context.Context, d otp.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, d)
	return nil
}

func (n *captureNotifier) last(t *testing.T) otp.Delivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newManager(t *testing.T, opts otp.Options) (*otp.Manager, *captureNotifier, kv.Store) {
	t.Helper()
	store := kv.NewMemory()
	n := &captureNotifier{}
	if opts.IssueRate == 0 {
		opts.IssueRate = 1000
		opts.IssueBurst = 1000
	}
	return otp.NewManager(store, n, opts, discard()), n, store
}

func TestIssueVerify_SingleUse(t *testing.T) {
	ctx := context.Background()
	m, n, _ := newManager(t, otp.Options{})

	require.NoError(t, m.Issue(ctx, otp.PurposeLogin, "org-a", "User@School.example"))
	d := n.last(t)
	assert.Len(t, d.Code, otp.CodeLength)
	assert.Equal(t, "user@school.example", d.Email)
	assert.Equal(t, 300*time.Second, d.TTL)

	require.NoError(t, m.Verify(ctx, otp.PurposeLogin, "org-a", "user@school.example", d.Code))
	err := m.Verify(ctx, otp.PurposeLogin, "org-a", "user@school.example", d.Code)
	assert.ErrorIs(t, err, otp.ErrInvalidCode)
}

func TestVerify_WrongCodeConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	m, n, _ := newManager(t, otp.Options{})

	require.NoError(t, m.Issue(ctx, otp.PurposeSignup, "org-a", "a@school.example"))
	code := n.last(t).Code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, m.Verify(ctx, otp.PurposeSignup, "org-a", "a@school.example", wrong), otp.ErrInvalidCode)
	assert.ErrorIs(t, m.Verify(ctx, otp.PurposeSignup, "org-a", "a@school.example", code), otp.ErrInvalidCode,
		"one guess per issued code")
}

func TestVerify_GenericFailure(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, otp.Options{})

	err := m.Verify(ctx, otp.PurposeLogin, "org-a", "nobody@school.example", "123456")
	assert.ErrorIs(t, err, otp.ErrInvalidCode)
	assert.Equal(t, 401, apperror.HTTPStatus(err))
	assert.Equal(t, "invalid or expired code", err.Error())
}

func TestVerify_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := kv.NewMemory().WithClock(func() time.Time { return now })
	n := &captureNotifier{}
	m := otp.NewManager(store, n, otp.Options{IssueRate: 100, IssueBurst: 100}, discard())

	require.NoError(t, m.Issue(ctx, otp.PurposeAdminLogin, "org-a", "admin@school.example"))
	code := n.last(t).Code
	assert.Equal(t, 180*time.Second, n.last(t).TTL)

	now = now.Add(181 * time.Second)
	assert.ErrorIs(t, m.Verify(ctx, otp.PurposeAdminLogin, "org-a", "admin@school.example", code), otp.ErrInvalidCode)
}

func TestAdminChallenge_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	m, n, _ := newManager(t, otp.Options{})

	require.NoError(t, m.Issue(ctx, otp.PurposeAdminLogin, "org-a", "admin@shared.example"))
	code := n.last(t).Code

	err := m.Verify(ctx, otp.PurposeAdminLogin, "org-b", "admin@shared.example", code)
	assert.ErrorIs(t, err, otp.ErrInvalidCode)

	require.NoError(t, m.Verify(ctx, otp.PurposeAdminLogin, "org-a", "admin@shared.example", code),
		"a failed attempt under another tenant does not consume this tenant's challenge")
}

func TestAdminChallenge_RequiresScope(t *testing.T) {
	m, _, _ := newManager(t, otp.Options{})
	err := m.Issue(context.Background(), otp.PurposeAdminLogin, "", "admin@school.example")
	assert.Equal(t, 400, apperror.HTTPStatus(err))
}

func TestIssue_ReplacesPreviousCode(t *testing.T) {
	ctx := context.Background()
	m, n, _ := newManager(t, otp.Options{})

	require.NoError(t, m.Issue(ctx, otp.PurposeLogin, "org-a", "a@school.example"))
	first := n.last(t).Code
	require.NoError(t, m.Issue(ctx, otp.PurposeLogin, "org-a", "a@school.example"))
	second := n.last(t).Code

	if first != second {
		assert.ErrorIs(t, m.Verify(ctx, otp.PurposeLogin, "org-a", "a@school.example", first), otp.ErrInvalidCode)
		return
	}
	require.NoError(t, m.Verify(ctx, otp.PurposeLogin, "org-a", "a@school.example", second))
}

func TestVerify_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	m, n, _ := newManager(t, otp.Options{})
	require.NoError(t, m.Issue(ctx, otp.PurposeLogin, "org-a", "race@school.example"))
	code := n.last(t).Code

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Verify(ctx, otp.PurposeLogin, "org-a", "race@school.example", code) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestIssue_DeliveryFailureWithdrawsChallenge(t *testing.T) {
	ctx := context.Background()
	m, n, store := newManager(t, otp.Options{})
	n.err = errors.New("smtp: connection refused")

	err := m.Issue(ctx, otp.PurposeAdminLogin, "org-a", "admin@school.example")
	require.Error(t, err)
	assert.Equal(t, 503, apperror.HTTPStatus(err))
	var dep *apperror.DependencyError
	require.ErrorAs(t, err, &dep)
	assert.True(t, dep.Retryable)

	_, err = store.Get(ctx, otp.Key(otp.PurposeAdminLogin, "org-a", "admin@school.example"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestIssue_RateLimited(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, otp.Options{IssueRate: 0.001, IssueBurst: 2})

	require.NoError(t, m.Issue(ctx, otp.PurposeLogin, "org-a", "a@school.example"))
	require.NoError(t, m.Issue(ctx, otp.PurposeLogin, "org-a", "a@school.example"))
	err := m.Issue(ctx, otp.PurposeLogin, "org-a", "a@school.example")
	assert.Equal(t, 429, apperror.HTTPStatus(err))

	require.NoError(t, m.Issue(ctx, otp.PurposeLogin, "org-a", "b@school.example"), "limit is per key")
}

func TestBypassCode(t *testing.T) {
	ctx := context.Background()

	off, _, _ := newManager(t, otp.Options{BypassCode: "999999"})
	assert.ErrorIs(t, off.Verify(ctx, otp.PurposeLogin, "org-a", "a@school.example", "999999"), otp.ErrInvalidCode,
		"bypass is ignored outside test mode")

	on, _, _ := newManager(t, otp.Options{TestMode: true, BypassCode: "999999"})
	require.NoError(t, on.Verify(ctx, otp.PurposeLogin, "org-a", "a@school.example", "999999"))
	require.NoError(t, on.Verify(ctx, otp.PurposeSignup, "org-a", "a@school.example", "999999"))
	assert.ErrorIs(t, on.Verify(ctx, otp.PurposeAdminLogin, "org-a", "a@school.example", "999999"), otp.ErrInvalidCode,
		"bypass never applies to admin challenges")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "otp:admin_login:org-a:a@school.example", otp.Key(otp.PurposeAdminLogin, "org-a", " A@School.example"))
}
