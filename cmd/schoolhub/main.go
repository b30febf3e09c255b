// Command schoolhub runs the multi-tenant school identity and access service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d9705996/schoolhub/internal/account"
	schoolhubapi "github.com/d9705996/schoolhub/internal/api"
	"github.com/d9705996/schoolhub/internal/api/handler"
	"github.com/d9705996/schoolhub/internal/approval"
	"github.com/d9705996/schoolhub/internal/authz"
	"github.com/d9705996/schoolhub/internal/config"
	"github.com/d9705996/schoolhub/internal/db"
	"github.com/d9705996/schoolhub/internal/health"
	"github.com/d9705996/schoolhub/internal/identity"
	"github.com/d9705996/schoolhub/internal/kv"
	"github.com/d9705996/schoolhub/internal/notify"
	"github.com/d9705996/schoolhub/internal/observability"
	"github.com/d9705996/schoolhub/internal/otp"
	"github.com/d9705996/schoolhub/internal/ratelimit"
	"github.com/d9705996/schoolhub/internal/seed"
	"github.com/d9705996/schoolhub/internal/session"
	"github.com/d9705996/schoolhub/internal/store"
	"github.com/d9705996/schoolhub/internal/tenant"
	"github.com/d9705996/schoolhub/internal/version"
	"github.com/d9705996/schoolhub/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "schoolhub",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting schoolhub", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)
	if cfg.OTP.TestMode {
		log.Warn("OTP test mode is enabled; do not run this configuration in production")
	}

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	defer func() { _ = db.Close(gormDB) }()
	log.Info("database ready", "driver", cfg.DB.Driver)

	st := store.New(gormDB)
	ids := identity.NewService(st, log)

	// --- Seed roles and bootstrap admin --------------------------------------
	if err := seed.Run(ctx, st, ids, seed.Options{
		AdminEmail:    cfg.App.SeedAdminEmail,
		AdminPassword: cfg.App.SeedAdminPassword,
		OrgName:       cfg.App.SeedOrgName,
		OrgDomain:     cfg.App.SeedOrgDomain,
	}, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	// --- Ephemeral key-value store -------------------------------------------
	var ephemeral kv.Store
	if cfg.Redis.URL != "" {
		rs, err := kv.OpenRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		defer func() { _ = rs.Close() }()
		ephemeral = rs
		log.Info("redis ready")
	} else {
		ephemeral = kv.NewMemory()
		log.Info("using in-process key-value store; sessions and codes do not survive restarts")
	}

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	// Queued jobs are sent over SMTP when it is configured.
	console := notify.NewConsole(os.Stdout, log)
	var mail *notify.SMTP
	var sender worker.Sender = console
	if cfg.Notify.Mode != "log" {
		mail = notify.NewSMTP(notify.SMTPConfig{
			Addr:     cfg.Notify.SMTPAddr,
			From:     cfg.Notify.SMTPFrom,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
		})
		sender = mail
	}

	wq, err := worker.New(ctx, pool, cfg.DB.Driver, cfg.Worker.Concurrency, sender, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	var notifier otp.Notifier
	switch cfg.Notify.Mode {
	case "smtp":
		notifier = mail
	case "queue":
		notifier = notify.NewQueue(wq, log)
	default:
		notifier = console
	}
	log.Info("code delivery configured", "mode", cfg.Notify.Mode)

	// --- Identity core -------------------------------------------------------
	tenants := tenant.NewResolver(st)
	sessions := session.NewManager(ephemeral, cfg.Session.Secret, cfg.Session.TTL, cfg.Session.AdminTTL, log)
	codes := otp.NewManager(ephemeral, notifier, otp.Options{
		LoginTTL:   cfg.OTP.LoginTTL,
		AdminTTL:   cfg.OTP.AdminTTL,
		SignupTTL:  cfg.OTP.SignupTTL,
		IssueRate:  cfg.OTP.IssueRate,
		IssueBurst: cfg.OTP.IssueBurst,
		TestMode:   cfg.OTP.TestMode,
		BypassCode: cfg.OTP.TestBypassCode,
	}, log)
	accounts := account.NewService(account.Deps{
		Store:    st,
		Tenants:  tenants,
		OTP:      codes,
		Sessions: sessions,
		Identity: ids,
		Approval: approval.NewMachine(st, ids, log),
		Authz:    authz.NewEngine(log),
		Log:      log,
	})

	// --- HTTP routes ---------------------------------------------------------
	h := schoolhubapi.NewHandler(schoolhubapi.Routes{
		Health: health.New(
			health.Check{Name: "database", Pinger: db.NewPinger(gormDB)},
			health.Check{Name: "kv", Pinger: ephemeral},
		),
		Auth:        handler.NewAuthHandler(accounts),
		Admin:       handler.NewAdminHandler(accounts),
		Sessions:    sessions,
		Tenants:     tenants,
		AuthLimiter: ratelimit.New(cfg.Limit.RPS, cfg.Limit.Burst),
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
