package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/d9705996/schoolhub/internal/config"
	"github.com/d9705996/schoolhub/internal/db"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SQLiteMigratesSchema(t *testing.T) {
	cfg := &config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "test.db")}
	gormDB, pool, err := db.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })
	assert.Nil(t, pool, "sqlite never returns a pgx pool")

	for _, m := range db.Models() {
		assert.True(t, gormDB.Migrator().HasTable(m), "missing table for %T", m)
	}
	assert.True(t, gormDB.Migrator().HasTable("account_roles"))

	require.NoError(t, db.NewPinger(gormDB).Ping(context.Background()))
}

func TestNew_SQLiteUniqueEmail(t *testing.T) {
	cfg := &config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "test.db")}
	gormDB, _, err := db.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })

	require.NoError(t, gormDB.Create(&model.Account{Email: "a@school.example"}).Error)
	err = gormDB.Create(&model.Account{Email: "A@School.example"}).Error
	require.Error(t, err, "emails are normalised before the unique index applies")
}

func TestPinger_ClosedDB(t *testing.T) {
	cfg := &config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "test.db")}
	gormDB, _, err := db.New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close(gormDB))

	require.Error(t, db.NewPinger(gormDB).Ping(context.Background()))
}
