package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, DefaultGroupURL, cfg.Crawler.GroupURL)
	assert.Equal(t, time.Second, cfg.Crawler.Delay)
	assert.Equal(t, 100, cfg.Crawler.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Catalog.RetryDelay)
	assert.Equal(t, 3, cfg.Catalog.MaxRetries)
	assert.Equal(t, 168*time.Hour, cfg.Storage.BackupRetention)
	assert.Equal(t, 1000, cfg.Export.MaxItems)
	require.NoError(t, cfg.Validate())
	assert.ErrorIs(t, cfg.ValidateCatalog(), ErrInvalid)
	assert.ErrorIs(t, cfg.ValidateStorage(), ErrInvalid)
	assert.ErrorIs(t, cfg.ValidateBuild(), ErrInvalid)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "mangarank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: postgres://localhost/mangarank
crawler:
  delay: 250ms
catalog:
  access_key: ak
  secret_key: sk
  partner_tag: tag-22
`), 0o600))
	t.Setenv("MANGARANK_CRAWLER_BATCH_SIZE", "5")
	t.Setenv("MANGARANK_BUILD_WEBHOOK_URL", "https://hooks.example/build")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.Delay)
	assert.Equal(t, 5, cfg.Crawler.BatchSize)
	assert.Equal(t, "https://hooks.example/build", cfg.Build.WebhookURL)
	require.NoError(t, cfg.ValidateCatalog())
	require.NoError(t, cfg.ValidateBuild())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("nope.yaml")
	require.Error(t, err)
}

func TestValidateRejectsDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Database.Driver = "mysql"
	cfg.Crawler.BatchSize = 0
	err = cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "mysql")
	assert.Contains(t, err.Error(), "batch_size")
}
