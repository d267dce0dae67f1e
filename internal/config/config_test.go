package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.ConfigFile)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "sendgrid", cfg.Channels.Email.Provider)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.SendTimeout)
	assert.Equal(t, 16, cfg.Dispatch.SendConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Cache.StatsTTL)
	assert.Equal(t, "X-User-ID", cfg.Auth.UserHeader)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  host: db.internal
channels:
  email:
    provider: smtp
  smtp:
    host: smtp.internal
dispatch:
  workers: 2
  send_timeout: 5s
  send_concurrency: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.ConfigFile)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Equal(t, "smtp", cfg.Channels.Email.Provider)
	assert.Equal(t, "smtp.internal", cfg.Channels.SMTP.Host)
	assert.Equal(t, 2525, cfg.Channels.SMTP.Port)
	assert.Equal(t, 2, cfg.Dispatch.Workers)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.SendTimeout)
	assert.Equal(t, 4, cfg.Dispatch.SendConcurrency)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	yaml := `
channels:
  email:
    provider: pigeon
dispatch:
  workers: 0
  send_concurrency: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channels.email.provider")
	assert.Contains(t, err.Error(), "dispatch.workers")
	assert.Contains(t, err.Error(), "dispatch.send_concurrency")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", d.DSN())
}
