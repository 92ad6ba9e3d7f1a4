package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/inkwell-hq/inkwell/internal/database"
)

// Config represents the runtime configuration for the Inkwell security service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Security    SecurityConfig    `mapstructure:"security"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig configures the JWT bearer tokens protecting the API.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SecurityConfig carries the security-core knobs.
type SecurityConfig struct {
	EncryptionKey   string        `mapstructure:"encryption_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	TwoFactorIssuer string        `mapstructure:"two_factor_issuer"`
	Sessions        SessionConfig `mapstructure:"sessions"`
	Policy          PolicyConfig  `mapstructure:"policy"`
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	TTL                 time.Duration `mapstructure:"ttl"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	CleanupBatchSize    int           `mapstructure:"cleanup_batch_size"`
}

// PolicyConfig configures the session policy engine.
type PolicyConfig struct {
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
	StalenessThreshold    time.Duration `mapstructure:"staleness_threshold"`
	LocationThreshold     int           `mapstructure:"location_threshold"`
	RequireReauthAfter    time.Duration `mapstructure:"require_reauth_after"`
}

// IdentityConfig configures the external identity provider client.
type IdentityConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// MaintenanceConfig configures the background sweeps.
type MaintenanceConfig struct {
	SessionSchedule    string `mapstructure:"session_schedule"`
	EventSchedule      string `mapstructure:"event_schedule"`
	SyncRecordSchedule string `mapstructure:"sync_record_schedule"`
	EventRetentionDays int    `mapstructure:"event_retention_days"`
	SyncRetentionDays  int    `mapstructure:"sync_retention_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// DatabaseOptions converts the loaded settings into the database package's
// connection options.
func (c *Config) DatabaseOptions() database.Config {
	cfg := database.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}

	switch strings.ToLower(c.Database.Driver) {
	case "postgres":
		cfg.Host = c.Database.Postgres.Host
		cfg.Port = c.Database.Postgres.Port
		cfg.Name = c.Database.Postgres.Database
		cfg.User = c.Database.Postgres.Username
		cfg.Password = c.Database.Postgres.Password
	case "mysql":
		cfg.Host = c.Database.MySQL.Host
		cfg.Port = c.Database.MySQL.Port
		cfg.Name = c.Database.MySQL.Database
		cfg.User = c.Database.MySQL.Username
		cfg.Password = c.Database.MySQL.Password
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/inkwell.sqlite")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "inkwell")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("security.encryption_key", "")
	v.SetDefault("security.webhook_secret", "")
	v.SetDefault("security.two_factor_issuer", "Inkwell")
	v.SetDefault("security.sessions.ttl", "720h")                  // 30 days
	v.SetDefault("security.sessions.inactivity_threshold", "720h") // 30 days
	v.SetDefault("security.sessions.cleanup_batch_size", 500)
	v.SetDefault("security.policy.max_concurrent_sessions", 5)
	v.SetDefault("security.policy.staleness_threshold", "720h")
	v.SetDefault("security.policy.location_threshold", 3)
	v.SetDefault("security.policy.require_reauth_after", "24h")

	v.SetDefault("identity.base_url", "")
	v.SetDefault("identity.token_url", "")
	v.SetDefault("identity.client_id", "")
	v.SetDefault("identity.client_secret", "")
	v.SetDefault("identity.timeout", "10s")

	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.event_schedule", "@daily")
	v.SetDefault("maintenance.sync_record_schedule", "@daily")
	v.SetDefault("maintenance.event_retention_days", 90)
	v.SetDefault("maintenance.sync_retention_days", 90)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
