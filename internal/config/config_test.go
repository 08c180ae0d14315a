package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: dev
db:
  driver: memory
scheduler:
  driver: sqlite
  poll_interval: 500ms
notify:
  default_contacts:
    risk_manager: risk@example.com
auth:
  okta_domain: https://example.okta.com/oauth2/default/
`), 0o600))

	t.Setenv("RISKFLOW_SLA_TICK_INTERVAL", "30s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, "sqlite", cfg.Scheduler.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.SLA.TickInterval)
	assert.Equal(t, "risk@example.com", cfg.Notify.DefaultContacts["risk_manager"])
	assert.Equal(t, "https://example.okta.com/oauth2/default", cfg.Auth.OktaDomain)

	// defaults
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 16, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_DSN(t *testing.T) {
	var cfg Config
	cfg.DB.Host = "db"
	cfg.DB.Port = 5432
	cfg.DB.User = "riskflow"
	cfg.DB.Password = "secret"
	cfg.DB.Name = "riskflow"
	cfg.DB.SSLMode = "disable"

	assert.Equal(t, "host=db port=5432 user=riskflow password=secret dbname=riskflow sslmode=disable", cfg.DSN())
}
