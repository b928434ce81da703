package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8970" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "taskdesk.db" {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("unexpected sweep interval %s", cfg.SweepInterval)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_addr: ":9000"
database:
  driver: postgres
  dsn: postgres://localhost/taskdesk
auth:
  jwt_secret: s3cret
  manager_emails:
    - boss@example.com
sweep_interval: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://localhost/taskdesk" {
		t.Fatalf("unexpected database: %+v", cfg.Database)
	}
	if len(cfg.Auth.ManagerEmails) != 1 || cfg.Auth.ManagerEmails[0] != "boss@example.com" {
		t.Fatalf("unexpected manager emails: %v", cfg.Auth.ManagerEmails)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected sweep interval %s", cfg.SweepInterval)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected defaults, got %+v", cfg.Database)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKDESK_LISTEN_ADDR", ":7777")
	t.Setenv("TASKDESK_JWT_SECRET", "env-secret")
	t.Setenv("TASKDESK_MANAGER_EMAILS", "a@b.co, c@d.co")
	t.Setenv("TASKDESK_SWEEP_INTERVAL", "30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Fatalf("env override not applied: %q", cfg.ListenAddr)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Fatal("jwt secret override not applied")
	}
	if len(cfg.Auth.ManagerEmails) != 2 || cfg.Auth.ManagerEmails[1] != "c@d.co" {
		t.Fatalf("manager emails override not applied: %v", cfg.Auth.ManagerEmails)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("sweep interval override not applied: %s", cfg.SweepInterval)
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestValidateRequiresDSNForPostgres(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing dsn")
	}
}

func TestValidateSMTPFrom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMTP.Host = "smtp.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for smtp host without from")
	}
}

func TestJWTSecretOrDev(t *testing.T) {
	cfg := DefaultConfig()
	secret, configured := cfg.JWTSecretOrDev()
	if configured || secret == "" {
		t.Fatalf("expected dev fallback, got %q configured=%v", secret, configured)
	}
	cfg.Auth.JWTSecret = "real"
	secret, configured = cfg.JWTSecretOrDev()
	if !configured || secret != "real" {
		t.Fatalf("expected configured secret, got %q", secret)
	}
}
