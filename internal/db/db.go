// Package db opens the relational store behind organizations, accounts,
// people and grants. "sqlite" (pure Go) is the default driver and migrates
// with AutoMigrate; "postgres" runs the embedded SQL migrations and also
// hands back a pgx pool for the River queue.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/d9705996/schoolhub/internal/config"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlitePragmas run on every new sqlite database. Foreign keys must be on
// for the person and grant cascades to apply.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// New opens the configured database and brings its schema up to date. The
// pool is non-nil only for postgres.
func New(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
	if cfg.Driver == "postgres" {
		return openPostgres(ctx, cfg)
	}
	gormDB, err := openSQLite(cfg)
	return gormDB, nil, err
}

// Models lists every table-backed model in dependency order.
func Models() []any {
	return []any{
		&model.Role{},
		&model.Organization{},
		&model.OrganizationDomain{},
		&model.Account{},
		&model.OrganizationAdmin{},
		&model.Person{},
	}
}

// gormConfig routes GORM's own logging through slog. Missing rows are an
// expected outcome of lookups and are not logged.
func gormConfig(cfg *config.DBConfig) *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewSlogLogger(slog.Default().With("component", "gorm"), logger.Config{
			SlowThreshold:             cfg.SlowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	}
}

func openSQLite(cfg *config.DBConfig) (*gorm.DB, error) {
	gormDB, err := gorm.Open(sqlite.Open(cfg.File), gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// One writer: a single connection serialises transactions instead of
	// failing them with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if err := gormDB.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if err := gormDB.AutoMigrate(Models()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	return gormDB, nil
}

func openPostgres(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := migratePostgres(cfg.DSN); err != nil {
		pool.Close()
		return nil, nil, err
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormConfig(cfg))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("open gorm/postgres: %w", err)
	}
	return gormDB, pool, nil
}

// newPool builds the pgx pool shared by GORM and River.
func newPool(ctx context.Context, cfg *config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if cfg.MaxConns <= 0 || cfg.MaxConns > math.MaxInt32 {
		return nil, fmt.Errorf("DB_MAX_CONNS %d out of range", cfg.MaxConns)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// migratePostgres applies the embedded migrations over a short-lived
// connection so the migrator's lock never holds a pooled one.
func migratePostgres(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}
	connCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn for migrations: %w", err)
	}
	sqlDB := stdlib.OpenDB(*connCfg.ConnConfig)
	defer func() { _ = sqlDB.Close() }()

	driver, err := migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{MigrationsTable: "schoolhub_schema_migrations"})
	if err != nil {
		return fmt.Errorf("postgres migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(gormDB *gorm.DB) error {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Pinger reports database reachability to the readiness check.
type Pinger struct {
	db *gorm.DB
}

// NewPinger returns a Pinger over gormDB.
func NewPinger(gormDB *gorm.DB) *Pinger {
	return &Pinger{db: gormDB}
}

// Ping checks database connectivity.
func (p *Pinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
