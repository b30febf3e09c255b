// Package otp issues and consumes single-use numeric challenges keyed by
// (purpose, scope, principal).
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/kv"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/d9705996/schoolhub/internal/observability"
	"github.com/d9705996/schoolhub/internal/ratelimit"
)

// Purpose distinguishes challenge families; each has its own TTL.
type Purpose string

const (
	PurposeLogin      Purpose = "login"
	PurposeAdminLogin Purpose = "admin_login"
	PurposeSignup     Purpose = "signup"
)

// CodeLength is the number of digits in every issued code.
const CodeLength = 6

// ErrInvalidCode is returned for every failed verification. Missing,
// expired and mismatched codes are indistinguishable to the caller.
var ErrInvalidCode = apperror.Authentication("invalid or expired code")

// Delivery is one code addressed to one recipient.
type Delivery struct {
	Email   string
	Purpose Purpose
	Code    string
	TTL     time.Duration
}

// Notifier delivers issued codes. A returned error means the recipient
// will not receive the code.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Options configures a Manager.
type Options struct {
	LoginTTL   time.Duration
	AdminTTL   time.Duration
	SignupTTL  time.Duration
	IssueRate  float64
	IssueBurst int
	// TestMode enables BypassCode for non-admin purposes. Off in production.
	TestMode   bool
	BypassCode string
}

// Manager is the challenge issuer and verifier.
type Manager struct {
	store    kv.Store
	notifier Notifier
	opts     Options
	limiter  *ratelimit.Keyed
	log      *slog.Logger
}

// NewManager returns a Manager storing challenges in store and delivering
// codes through notifier.
func NewManager(store kv.Store, notifier Notifier, opts Options, log *slog.Logger) *Manager {
	if opts.LoginTTL <= 0 {
		opts.LoginTTL = 300 * time.Second
	}
	if opts.AdminTTL <= 0 {
		opts.AdminTTL = 180 * time.Second
	}
	if opts.SignupTTL <= 0 {
		opts.SignupTTL = 300 * time.Second
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		opts:     opts,
		limiter:  ratelimit.New(opts.IssueRate, opts.IssueBurst),
		log:      log,
	}
}

// TTL returns the lifetime of challenges for purpose.
func (m *Manager) TTL(purpose Purpose) time.Duration {
	switch purpose {
	case PurposeAdminLogin:
		return m.opts.AdminTTL
	case PurposeSignup:
		return m.opts.SignupTTL
	default:
		return m.opts.LoginTTL
	}
}

// Key builds the storage key for a challenge. The scope is part of the key
// so a code issued under one tenant can never be consumed under another.
func Key(purpose Purpose, scope, email string) string {
	return fmt.Sprintf("otp:%s:%s:%s", purpose, scope, model.NormalizeEmail(email))
}

// Issue generates a fresh code for (purpose, scope, email), replaces any
// live challenge for the same key and delivers the code. When delivery
// fails the challenge is withdrawn and a retryable DependencyError is
// returned.
func (m *Manager) Issue(ctx context.Context, purpose Purpose, scope, email string) error {
	if err := validate(purpose, scope, email); err != nil {
		return err
	}
	key := Key(purpose, scope, email)
	if !m.limiter.Allow(key) {
		return apperror.RateLimited("too many codes requested; try again later")
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	digest := hash(code)
	ttl := m.TTL(purpose)
	if err := m.store.Set(ctx, key, digest, ttl); err != nil {
		return apperror.Dependency(err, "store challenge")
	}
	observability.OTPIssued.WithLabelValues(string(purpose)).Inc()

	err = m.notifier.Deliver(ctx, Delivery{Email: model.NormalizeEmail(email), Purpose: purpose, Code: code, TTL: ttl})
	if err != nil {
		// Only withdraw our own value; a newer challenge for the key stays.
		if _, cerr := m.store.CompareAndDelete(ctx, key, digest); cerr != nil {
			m.log.Error("otp: withdraw undeliverable challenge", "purpose", purpose, "err", cerr)
		}
		m.log.Warn("otp: delivery failed", "purpose", purpose, "scope", scope, "err", err)
		return apperror.Dependency(err, "deliver one-time code")
	}
	m.log.Info("otp: issued", "purpose", purpose, "scope", scope)
	return nil
}

// Verify atomically consumes the challenge for (purpose, scope, email) and
// checks candidate against it. The challenge is removed whatever the
// outcome, so each issued code admits exactly one guess.
func (m *Manager) Verify(ctx context.Context, purpose Purpose, scope, email, candidate string) error {
	if err := validate(purpose, scope, email); err != nil {
		return err
	}
	candidate = strings.TrimSpace(candidate)
	stored, err := m.store.GetDel(ctx, Key(purpose, scope, email))
	switch {
	case errors.Is(err, kv.ErrNotFound):
		stored = nil
	case err != nil:
		return apperror.Dependency(err, "consume challenge")
	}

	if m.bypass(purpose, candidate) {
		m.record(purpose, "bypass")
		m.log.Warn("otp: test bypass code accepted", "purpose", purpose, "scope", scope)
		return nil
	}
	if stored == nil || len(candidate) != CodeLength {
		m.record(purpose, "invalid")
		return ErrInvalidCode
	}
	if subtle.ConstantTimeCompare(stored, hash(candidate)) != 1 {
		m.record(purpose, "invalid")
		return ErrInvalidCode
	}
	m.record(purpose, "success")
	return nil
}

func (m *Manager) bypass(purpose Purpose, candidate string) bool {
	if !m.opts.TestMode || m.opts.BypassCode == "" || purpose == PurposeAdminLogin {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(m.opts.BypassCode)) == 1
}

func (m *Manager) record(purpose Purpose, outcome string) {
	observability.OTPVerifications.WithLabelValues(string(purpose), outcome).Inc()
}

func validate(purpose Purpose, scope, email string) error {
	switch purpose {
	case PurposeLogin, PurposeSignup:
	case PurposeAdminLogin:
		if scope == "" {
			return apperror.Validation("admin challenges require a tenant scope")
		}
	default:
		return apperror.Validation("unknown challenge purpose %q", purpose)
	}
	if model.NormalizeEmail(email) == "" {
		return apperror.Validation("email is required")
	}
	return nil
}

func generateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func hash(code string) []byte {
	h := sha256.Sum256([]byte(code))
	return []byte(hex.EncodeToString(h[:]))
}
