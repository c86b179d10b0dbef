package config

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate runs the test from an empty dir so a stray egiraffe.yaml is never picked up.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv(ConfigPathEnvVar, "")
}

// --- Load ---

func TestLoad(t *testing.T) {
	t.Run("defaults with only database url", func(t *testing.T) {
		isolate(t)
		t.Setenv("EGIRAFFE_DATABASE__URL", "postgres://localhost/egiraffe")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Database.URL != "postgres://localhost/egiraffe" {
			t.Errorf("Database.URL: got %q", cfg.Database.URL)
		}
		if cfg.Session.CookieName != "egiraffe_session_token" {
			t.Errorf("CookieName: got %q", cfg.Session.CookieName)
		}
		if !cfg.Session.CookieSecure {
			t.Error("CookieSecure should default to true")
		}
		if cfg.Session.CacheTTL != time.Hour {
			t.Errorf("CacheTTL: expected 1h, got %v", cfg.Session.CacheTTL)
		}
		if cfg.Entitlement.PurchaseRequiresApproval {
			t.Error("PurchaseRequiresApproval should default to false")
		}
		if cfg.Blob.Driver != "local" {
			t.Errorf("Blob.Driver: got %q", cfg.Blob.Driver)
		}
	})

	t.Run("errors when database url is missing", func(t *testing.T) {
		isolate(t)
		if _, err := Load(); err == nil {
			t.Fatal("expected error for missing database url")
		}
	})

	t.Run("env overrides nested keys", func(t *testing.T) {
		isolate(t)
		t.Setenv("EGIRAFFE_DATABASE__URL", "postgres://db/egiraffe")
		t.Setenv("EGIRAFFE_SESSION__COOKIE_SECURE", "false")
		t.Setenv("EGIRAFFE_SESSION__CACHE_TTL", "90s")
		t.Setenv("EGIRAFFE_HASH__MEMORY_KIB", "8192")
		t.Setenv("EGIRAFFE_ENTITLEMENT__PURCHASE_REQUIRES_APPROVAL", "true")
		t.Setenv("EGIRAFFE_SERVER__CORS_ORIGINS", "https://egiraffe.ch, https://staging.egiraffe.ch")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Session.CookieSecure {
			t.Error("CookieSecure: expected false")
		}
		if cfg.Session.CacheTTL != 90*time.Second {
			t.Errorf("CacheTTL: expected 90s, got %v", cfg.Session.CacheTTL)
		}
		if cfg.Hash.MemoryKiB != 8192 {
			t.Errorf("MemoryKiB: expected 8192, got %d", cfg.Hash.MemoryKiB)
		}
		if !cfg.Entitlement.PurchaseRequiresApproval {
			t.Error("PurchaseRequiresApproval: expected true")
		}
		want := []string{"https://egiraffe.ch", "https://staging.egiraffe.ch"}
		if strings.Join(cfg.Server.CORSOrigins, "|") != strings.Join(want, "|") {
			t.Errorf("CORSOrigins: expected %v, got %v", want, cfg.Server.CORSOrigins)
		}
	})

	t.Run("yaml file is read and env wins over it", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "egiraffe.yaml")
		yml := "database:\n  url: postgres://file/egiraffe\nserver:\n  addr: \":9000\"\n  log_level: debug\n"
		if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(ConfigPathEnvVar, path)
		t.Setenv("EGIRAFFE_SERVER__ADDR", ":9100")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Database.URL != "postgres://file/egiraffe" {
			t.Errorf("Database.URL: got %q", cfg.Database.URL)
		}
		if cfg.Server.LogLevel != "debug" {
			t.Errorf("LogLevel: got %q", cfg.Server.LogLevel)
		}
		if cfg.Server.Addr != ":9100" {
			t.Errorf("Addr: expected env override :9100, got %q", cfg.Server.Addr)
		}
	})

	t.Run("missing explicit config file is an error", func(t *testing.T) {
		isolate(t)
		t.Setenv("EGIRAFFE_DATABASE__URL", "postgres://db/egiraffe")
		t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "nope.yaml"))
		if _, err := Load(); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
}

// --- Validate ---

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := defaultConfig()
		c.Database.URL = "postgres://localhost/egiraffe"
		return c
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("defaults + database url should validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"unknown same site", func(c *Config) { c.Session.SameSite = "sometimes" }},
		{"empty cookie name", func(c *Config) { c.Session.CookieName = "" }},
		{"zero cache ttl", func(c *Config) { c.Session.CacheTTL = 0 }},
		{"zero upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"negative upload limit", func(c *Config) { c.Server.MaxUploadBytes = -1 }},
		{"zero argon2 memory", func(c *Config) { c.Hash.MemoryKiB = 0 }},
		{"unknown blob driver", func(c *Config) { c.Blob.Driver = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = "s3" }},
		{"local without dir", func(c *Config) { c.Blob.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

// --- Helpers ---

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestSameSiteMode(t *testing.T) {
	tests := map[string]http.SameSite{
		"lax":    http.SameSiteLaxMode,
		"Strict": http.SameSiteStrictMode,
		"none":   http.SameSiteNoneMode,
	}
	for in, want := range tests {
		got, err := SessionConfig{SameSite: in}.SameSiteMode()
		if err != nil || got != want {
			t.Errorf("SameSiteMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"EGIRAFFE_DATABASE__URL":               "database.url",
		"EGIRAFFE_SESSION__COOKIE_SECURE":      "session.cookie_secure",
		"EGIRAFFE_BLOB__S3__SECRET_ACCESS_KEY": "blob.s3.secret_access_key",
		"EGIRAFFE_CONFIG":                      "",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
