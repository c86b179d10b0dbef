// config.go

// Layered configuration: struct defaults, optional YAML file, EGIRAFFE_* environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is stripped from environment keys; "__" separates nesting levels.
	EnvPrefix = "EGIRAFFE_"

	// ConfigPathEnvVar overrides the YAML file location.
	ConfigPathEnvVar = "EGIRAFFE_CONFIG"

	defaultConfigPath = "egiraffe.yaml"
)

// Config holds all runtime configuration for the Egiraffe backend.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Session     SessionConfig     `koanf:"session"`
	Hash        HashConfig        `koanf:"hash"`
	Entitlement EntitlementConfig `koanf:"entitlement"`
	Blob        BlobConfig        `koanf:"blob"`
	Import      ImportConfig      `koanf:"import"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	LogLevel        string        `koanf:"log_level"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig: empty URL runs without a session cache.
type RedisConfig struct {
	URL string `koanf:"url"`
}

type SessionConfig struct {
	CookieName   string        `koanf:"cookie_name"`
	CookieDomain string        `koanf:"cookie_domain"`
	CookieSecure bool          `koanf:"cookie_secure"`
	SameSite     string        `koanf:"same_site"`
	CookieMaxAge time.Duration `koanf:"cookie_max_age"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
}

// HashConfig carries argon2id parameters for newly produced hashes.
// Existing hashes are verified with the parameters encoded in them.
type HashConfig struct {
	Time      uint32 `koanf:"time"`
	MemoryKiB uint32 `koanf:"memory_kib"`
	Threads   uint8  `koanf:"threads"`
	SaltLen   uint32 `koanf:"salt_len"`
	KeyLen    uint32 `koanf:"key_len"`
}

type EntitlementConfig struct {
	// PurchaseRequiresApproval stops a purchase from granting access to
	// files that are not approved by both uploader and moderator.
	PurchaseRequiresApproval bool `koanf:"purchase_requires_approval"`
}

type BlobConfig struct {
	Driver string   `koanf:"driver"` // local | s3
	Dir    string   `koanf:"dir"`
	S3     S3Config `koanf:"s3"`
}

type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"` // MinIO etc.; empty uses AWS
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

// ImportConfig points at the legacy MySQL database for the import subcommand.
type ImportConfig struct {
	LegacyDSN string `koanf:"legacy_dsn"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  64 << 20,
		},
		Session: SessionConfig{
			CookieName:   "egiraffe_session_token",
			CookieSecure: true,
			SameSite:     "lax",
			CookieMaxAge: 30 * 24 * time.Hour,
			CacheTTL:     time.Hour,
		},
		Hash: HashConfig{
			Time:      3,
			MemoryKiB: 64 * 1024,
			Threads:   2,
			SaltLen:   16,
			KeyLen:    32,
		},
		Blob: BlobConfig{
			Driver: "local",
			Dir:    "data/files",
		},
	}
}

// Load reads defaults, then the YAML file (if any), then the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := configFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	// Env values arrive as strings; YAML lists are left alone
	if s, ok := k.Get("server.cors_origins").(string); ok {
		if err := k.Set("server.cors_origins", splitList(s)); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configFile returns EGIRAFFE_CONFIG if set, else egiraffe.yaml when it exists.
func configFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// envKey maps EGIRAFFE_SESSION__COOKIE_SECURE to session.cookie_secure.
// EGIRAFFE_CONFIG is the file pointer, not a key, and maps to "".
func envKey(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if _, err := ParseLogLevel(c.Server.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Session.SameSiteMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name must not be empty"))
	}
	if c.Session.CacheTTL <= 0 {
		errs = append(errs, errors.New("session.cache_ttl must be positive"))
	}
	if c.Hash.Time == 0 || c.Hash.MemoryKiB == 0 || c.Hash.Threads == 0 || c.Hash.SaltLen == 0 || c.Hash.KeyLen == 0 {
		errs = append(errs, errors.New("hash parameters must all be non-zero"))
	}

	switch c.Blob.Driver {
	case "local":
		if c.Blob.Dir == "" {
			errs = append(errs, errors.New("blob.dir is required for the local driver"))
		}
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob.driver %q", c.Blob.Driver))
	}

	return errors.Join(errs...)
}

// ParseLogLevel maps debug|info|warn|error onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown server.log_level %q", s)
}

// SameSiteMode maps lax|strict|none onto the cookie attribute.
func (s SessionConfig) SameSiteMode() (http.SameSite, error) {
	switch strings.ToLower(s.SameSite) {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("unknown session.same_site %q", s.SameSite)
}
