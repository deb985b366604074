package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/cppla/agribbs/models"
)

func TestOpenDatabaseSQLite(t *testing.T) {
	c := AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: filepath.Join(t.TempDir(), "community.db"),
		LogLevel:    "silent",
	}
	db, err := OpenDatabase(c)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	for _, m := range models.All() {
		assert.True(t, db.Migrator().HasTable(m), "%T", m)
	}
	assert.NoError(t, Migrate(db), "migration is idempotent")
}

func TestDialectorFor(t *testing.T) {
	for _, driver := range []string{"", "mysql", "postgres", "sqlite"} {
		d, err := dialectorFor(AppConfig{DBDriver: driver, DBName: "agribbs"})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}
	_, err := dialectorFor(AppConfig{DBDriver: "oracle"})
	assert.Error(t, err)
}

func TestToGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, toGormLogLevel("debug"))
	assert.Equal(t, logger.Warn, toGormLogLevel(""))
	assert.Equal(t, logger.Error, toGormLogLevel("error"))
	assert.Equal(t, logger.Silent, toGormLogLevel("silent"))
}
