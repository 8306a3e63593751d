package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farellandr/gigboard/internal/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 30, cfg.DisplayDays)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, "America/Chicago", cfg.Region)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gigboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_driver: sqlite
region: Europe/Berlin
display_days: 14
lock_timeout: 2s
cors_origins:
  - https://gigs.example
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DISPLAY_DAYS", "21")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "Europe/Berlin", cfg.Region)
	assert.Equal(t, 21, cfg.DisplayDays)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	t.Setenv("REGION", "Mars/Olympus")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("REGION", "UTC")
	t.Setenv("LOCK_TIMEOUT", "soon")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("LOCK_TIMEOUT", "1s")
	t.Setenv("AUDIT_CRON", "nightly")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("AUDIT_CRON", "")
	t.Setenv("DB_DRIVER", "mysql")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestInitDatabaseSQLiteSeedsCategories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBDriver = "sqlite"
	cfg.DBPath = filepath.Join(t.TempDir(), "gigboard.db")

	db, err := InitDatabase(cfg)
	require.NoError(t, err)
	_, err = InitDatabase(cfg)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Category{}).Count(&count).Error)
	assert.Equal(t, int64(len(cfg.SeedCategories)), count)
}
