package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/iago/internal/common"
	"github.com/spf13/viper"
)

// Viper keys.
const (
	KeyDatabasePath      = "database.path"
	KeyContextWords      = "extraction.context_words"
	KeyServerURL         = "extraction.server_url"
	KeyLockTTL           = "locks.ttl"
	KeyLockSweepInterval = "locks.sweep_interval"
	KeyServerHost        = "server.host"
	KeyServerPort        = "server.port"
	KeyServerRateLimit   = "server.rate_limit"
	KeyServerTLS         = "server.tls"
	KeyServerCertDir     = "server.cert_dir"
	KeyNotifyURL         = "notify.url"
	KeyNotifyTimeout     = "notify.timeout"
	KeyLogLevel          = "logging.level"
	KeyLogFormat         = "logging.format"
)

const (
	defaultDatabasePath    = "~/.local/share/iago/iago.db"
	defaultContextWords    = 3
	defaultLockTTL         = 2 * time.Hour
	defaultSweepInterval   = 5 * time.Minute
	defaultServerHost      = "localhost"
	defaultServerPort      = 8080
	defaultServerRateLimit = 20.0
	defaultServerCertDir   = "~/.local/share/iago/certs"
	defaultNotifyTimeout   = 10 * time.Second
)

// Config is the resolved application configuration.
type Config struct {
	Logging    LoggingConfig
	Database   DatabaseConfig
	Server     ServerConfig
	Notify     NotifyConfig
	Extraction ExtractionConfig
	Locks      LockConfig
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// ExtractionConfig tunes the engine. A non-empty ServerURL selects the
// remote engine instead of the local one.
type ExtractionConfig struct {
	ServerURL    string
	ContextWords int
}

// LockConfig controls edit lock expiry.
type LockConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// ServerConfig configures the HTTP API. With TLS set the API is served over
// HTTPS using a self-signed certificate kept in CertDir.
type ServerConfig struct {
	Host      string
	CertDir   string
	Port      int
	RateLimit float64
	TLS       bool
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NotifyConfig configures lock takeover notifications.
type NotifyConfig struct {
	URL     string
	Timeout time.Duration
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDatabasePath, defaultDatabasePath)
	v.SetDefault(KeyContextWords, defaultContextWords)
	v.SetDefault(KeyServerURL, "")
	v.SetDefault(KeyLockTTL, defaultLockTTL)
	v.SetDefault(KeyLockSweepInterval, defaultSweepInterval)
	v.SetDefault(KeyServerHost, defaultServerHost)
	v.SetDefault(KeyServerPort, defaultServerPort)
	v.SetDefault(KeyServerRateLimit, defaultServerRateLimit)
	v.SetDefault(KeyServerTLS, false)
	v.SetDefault(KeyServerCertDir, defaultServerCertDir)
	v.SetDefault(KeyNotifyURL, "")
	v.SetDefault(KeyNotifyTimeout, defaultNotifyTimeout)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}

// Load resolves the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString(KeyDatabasePath)),
		},
		Extraction: ExtractionConfig{
			ServerURL:    strings.TrimRight(strings.TrimSpace(v.GetString(KeyServerURL)), "/"),
			ContextWords: v.GetInt(KeyContextWords),
		},
		Locks: LockConfig{
			TTL:           v.GetDuration(KeyLockTTL),
			SweepInterval: v.GetDuration(KeyLockSweepInterval),
		},
		Server: ServerConfig{
			Host:      v.GetString(KeyServerHost),
			Port:      v.GetInt(KeyServerPort),
			RateLimit: v.GetFloat64(KeyServerRateLimit),
			TLS:       v.GetBool(KeyServerTLS),
			CertDir:   ExpandPath(v.GetString(KeyServerCertDir)),
		},
		Notify: NotifyConfig{
			URL:     strings.TrimSpace(v.GetString(KeyNotifyURL)),
			Timeout: v.GetDuration(KeyNotifyTimeout),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the application cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("%w: %s", common.ErrMissingConfig, KeyDatabasePath)
	}
	if c.Extraction.ContextWords <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", common.ErrInvalidConfig, KeyContextWords, c.Extraction.ContextWords)
	}
	if c.Locks.TTL < 0 {
		return fmt.Errorf("%w: %s cannot be negative", common.ErrInvalidConfig, KeyLockTTL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %s out of range: %d", common.ErrInvalidConfig, KeyServerPort, c.Server.Port)
	}
	if c.Server.TLS && strings.TrimSpace(c.Server.CertDir) == "" {
		return fmt.Errorf("%w: %s", common.ErrMissingConfig, KeyServerCertDir)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: %s cannot be negative", common.ErrInvalidConfig, KeyServerRateLimit)
	}
	return nil
}

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "IAGO"

// BindEnv makes every key overridable as IAGO_SECTION_KEY.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
