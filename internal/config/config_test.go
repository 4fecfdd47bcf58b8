package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DSN", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
	if cfg.Database.DSN != "imagesharing.db" {
		t.Errorf("DSN = %q, want sqlite default", cfg.Database.DSN)
	}
	if cfg.Blob.Provider != "local" {
		t.Errorf("Blob.Provider = %q, want local", cfg.Blob.Provider)
	}
	if cfg.Images.ReconcileInterval != 5*time.Minute {
		t.Errorf("ReconcileInterval = %v, want 5m", cfg.Images.ReconcileInterval)
	}
	if cfg.Images.MaxUploadBytes() != 10<<20 {
		t.Errorf("MaxUploadBytes() = %d", cfg.Images.MaxUploadBytes())
	}
	if len(cfg.Tags) == 0 {
		t.Error("expected default tags")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DSN", "file:test.db")
	t.Setenv("LOG_STORE", "redis")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("IMAGES_REQUIRE_APPROVAL", "true")
	t.Setenv("IMAGES_RECONCILE_GRACE", "90s")
	t.Setenv("TAGS", "alpha,beta")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.DSN != "file:test.db" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.LogStore != "redis" {
		t.Errorf("LogStore = %q", cfg.LogStore)
	}
	if cfg.S3.Region != "eu-west-1" {
		t.Errorf("S3.Region = %q", cfg.S3.Region)
	}
	if !cfg.Images.RequireApproval {
		t.Error("RequireApproval = false, want true")
	}
	if cfg.Images.ReconcileGrace != 90*time.Second {
		t.Errorf("ReconcileGrace = %v", cfg.Images.ReconcileGrace)
	}
	if len(cfg.Tags) != 2 || cfg.Tags[0] != "alpha" || cfg.Tags[1] != "beta" {
		t.Errorf("Tags = %v", cfg.Tags)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DB_DRIVER=sqlite\nHTTP_ADDR=:8181\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set.
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("HTTP_ADDR", "")
	os.Unsetenv("HTTP_ADDR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":8181" {
		t.Errorf("HTTPAddr = %q, want :8181", cfg.HTTPAddr)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"s3 without bucket", func(c *Config) { c.Blob.Provider = "s3"; c.S3.AccountID = "acct" }},
		{"s3 without endpoint", func(c *Config) { c.Blob.Provider = "s3"; c.S3.Bucket = "b" }},
		{"unknown log store", func(c *Config) { c.LogStore = "table" }},
		{"production without secret", func(c *Config) { c.Env = "production"; c.Session.Secret = "" }},
		{"short secret", func(c *Config) { c.Session.Secret = "too-short" }},
		{"zero upload limit", func(c *Config) { c.Images.MaxUploadMB = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Env:      "development",
				LogStore: "db",
				Database: DatabaseConfig{Driver: "sqlite"},
				Blob:     BlobConfig{Provider: "local"},
				Images:   ImagesConfig{MaxUploadMB: 1},
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("baseline config invalid: %v", err)
			}
			tt.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadGeneratesSessionSecretOutsideProduction(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SESSION_SECRET", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Session.Generated || len(cfg.Session.Secret) < MinSecretLen {
		t.Errorf("Session = generated %v, %d byte secret", cfg.Session.Generated, len(cfg.Session.Secret))
	}

	other, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if other.Session.Secret == cfg.Session.Secret {
		t.Error("generated secrets repeat")
	}

	t.Setenv("ENV", "production")
	if _, err := Load(""); err == nil {
		t.Error("Load() in production without SESSION_SECRET = nil error")
	}
}

func TestLoadKeepsConfiguredSessionSecret(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Generated || cfg.Session.Secret != "0123456789abcdef0123456789abcdef" {
		t.Errorf("Session = %+v", cfg.Session)
	}
}
