package database

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

// --- DefaultPoolConfig ---

func TestDefaultPoolConfig_SingleWriter(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Equal(t, 1, cfg.MaxOpenConns)
	assert.Equal(t, 1, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

// --- Tune ---

func TestTune_AppliesLimits(t *testing.T) {
	db := openTestDB(t)

	cfg := DefaultPoolConfig()
	cfg.MaxOpenConns = 2

	require.NoError(t, Tune(db, cfg, zap.NewNop()))

	stats, err := Stats(db)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MaxOpenConnections)
}

func TestTune_NilDB(t *testing.T) {
	err := Tune(nil, DefaultPoolConfig(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db cannot be nil")
}

// --- Ping ---

func TestPing(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Tune(db, DefaultPoolConfig(), nil))
	assert.NoError(t, Ping(context.Background(), db))
}
