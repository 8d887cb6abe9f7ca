package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg := Load()
	if cfg.Addr != ":8090" || cfg.TenantDriver != "sqlite" || cfg.MigrationBatchSize != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.InviteDefaultTTL != 7*24*time.Hour {
		t.Fatalf("unexpected invite ttl %s", cfg.InviteDefaultTTL)
	}
}

func TestLoadFromEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	body := "TENANT_DRIVER=postgres\nMIGRATION_BATCH_SIZE=250\nKEYSD_ADDR=:9999\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", file)
	t.Setenv("KEYSD_ADDR", ":7000")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("INVITE_DEFAULT_TTL", "nonsense")
	t.Cleanup(func() {
		os.Unsetenv("TENANT_DRIVER")
		os.Unsetenv("MIGRATION_BATCH_SIZE")
	})

	cfg := Load()
	if cfg.TenantDriver != "postgres" || cfg.MigrationBatchSize != 250 {
		t.Fatalf("env file not applied: %+v", cfg)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("process env should win over file, got %s", cfg.Addr)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.InviteDefaultTTL != 7*24*time.Hour {
		t.Fatalf("invalid duration should fall back, got %s", cfg.InviteDefaultTTL)
	}
}
