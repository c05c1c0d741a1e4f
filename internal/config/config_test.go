package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var secret = strings.Repeat("s", 32)

func TestLoad_EnvDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("JWT_SECRET", secret)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Address != ":8080" || cfg.HTTP.Timeout != 5*time.Second {
		t.Errorf("unexpected http defaults: %+v", cfg.HTTP)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.DSN != "file::memory:" {
		t.Errorf("unexpected db config: %+v", cfg.DB)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour || cfg.Auth.Limit != 5 {
		t.Errorf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %q, want INFO", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_DSN", ":memory:")
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TIME_ZONE", "Europe/Paris")
	t.Setenv("HTTP_TIMEOUT", "2s")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.WS.AllowedOrigins) != 2 || cfg.WS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.WS.AllowedOrigins)
	}
	if cfg.HTTP.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", cfg.HTTP.Timeout)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Paris" {
		t.Errorf("Location = %v, %v", loc, err)
	}
	proxies, err := cfg.Proxies()
	if err != nil || len(proxies) != 2 || proxies[0].String() != "10.0.0.0/8" || proxies[1].String() != "192.0.2.7/32" {
		t.Errorf("Proxies = %v, %v", proxies, err)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("JWT_SECRET", secret)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
log_level: DEBUG
http:
  address: ":9090"
db:
  driver: pgx
  dsn: postgres://planner@localhost/planner
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "DEBUG" || cfg.HTTP.Address != ":9090" || cfg.DB.Driver != "pgx" {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("DB_DSN", ":memory:")
	t.Setenv("JWT_SECRET", secret)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.DSN != ":memory:" {
		t.Errorf("DSN = %q, want env value", cfg.DB.DSN)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing dsn", map[string]string{"JWT_SECRET": secret}},
		{"short secret", map[string]string{"DB_DSN": "x", "JWT_SECRET": "short"}},
		{"bad time zone", map[string]string{"DB_DSN": "x", "JWT_SECRET": secret, "TIME_ZONE": "Mars/Olympus"}},
		{"zero limit", map[string]string{"DB_DSN": "x", "JWT_SECRET": secret, "AUTH_RATE_LIMIT": "0"}},
		{"bad proxy", map[string]string{"DB_DSN": "x", "JWT_SECRET": secret, "TRUSTED_PROXIES": "10.0.0.0/33"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_DSN", "")
			t.Setenv("JWT_SECRET", "")
			os.Unsetenv("DB_DSN")
			os.Unsetenv("JWT_SECRET")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatalf("Load should fail")
			}
		})
	}
}
