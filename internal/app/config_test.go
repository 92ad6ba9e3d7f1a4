package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "inkwell", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 720*time.Hour, cfg.Security.Sessions.TTL)
	require.Equal(t, 5, cfg.Security.Policy.MaxConcurrentSessions)
	require.Equal(t, 3, cfg.Security.Policy.LocationThreshold)
	require.Equal(t, 24*time.Hour, cfg.Security.Policy.RequireReauthAfter)
	require.Equal(t, 10*time.Second, cfg.Identity.Timeout)
	require.Equal(t, "@hourly", cfg.Maintenance.SessionSchedule)
	require.Equal(t, 90, cfg.Maintenance.EventRetentionDays)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
server:
  port: 9100
  log_level: debug
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5433
    database: inkwell
    username: svc
    password: secret
security:
  policy:
    max_concurrent_sessions: 2
    staleness_threshold: 48h
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 2, cfg.Security.Policy.MaxConcurrentSessions)
	require.Equal(t, 48*time.Hour, cfg.Security.Policy.StalenessThreshold)

	dbCfg := cfg.DatabaseOptions()
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5433, dbCfg.Port)
	require.Equal(t, "inkwell", dbCfg.Name)
	require.Equal(t, "svc", dbCfg.User)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("INKWELL_SERVER_PORT", "9200")
	t.Setenv("INKWELL_SECURITY_WEBHOOK_SECRET", "hook-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 9200, cfg.Server.Port)
	require.Equal(t, "hook-secret", cfg.Security.WebhookSecret)
}
