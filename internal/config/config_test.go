package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "127.0.0.1:8080")
	}
	if cfg.WeekStart != "sunday" {
		t.Errorf("WeekStart = %q, want %q", cfg.WeekStart, "sunday")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestLoad_PartialFile_Normalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "listen: 0.0.0.0:9000\nweek_start: friday\nstore: memory\nics:\n  - id: school\n    url: https://example.com/s.ics\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:9000")
	}
	if cfg.WeekStart != "sunday" {
		t.Errorf("WeekStart = %q, want fallback %q", cfg.WeekStart, "sunday")
	}
	if cfg.Store != "memory" {
		t.Errorf("Store = %q, want %q", cfg.Store, "memory")
	}
	if len(cfg.ICS) != 1 || cfg.ICS[0].ID != "school" {
		t.Errorf("ICS = %+v, want one source with id school", cfg.ICS)
	}
	if !cfg.GuardICS() {
		t.Error("GuardICS() = false, want true by default")
	}
	if cfg.RateLimit.RPS != 10 || cfg.RateLimit.Burst != 40 {
		t.Errorf("RateLimit = %+v, want defaults", cfg.RateLimit)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a YAML error")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: 127.0.0.1:1\nstore: file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STUDYCAL_LISTEN", "127.0.0.1:2")
	t.Setenv("STUDYCAL_STORE", "postgres")
	t.Setenv("STUDYCAL_DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("STUDYCAL_ICS_GUARD", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:2" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "127.0.0.1:2")
	}
	if cfg.Store != "postgres" {
		t.Errorf("Store = %q, want %q", cfg.Store, "postgres")
	}
	if cfg.DatabaseURL != "postgres://u:p@localhost/db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.GuardICS() {
		t.Error("GuardICS() = true, want false from env")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("STUDYCAL_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STUDYCAL_TEST_DOTENV", "")
	os.Unsetenv("STUDYCAL_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("STUDYCAL_TEST_DOTENV"); got != "from-file" {
		t.Errorf("STUDYCAL_TEST_DOTENV = %q, want %q", got, "from-file")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.WeekStart = "monday"
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.WeekStart != "monday" {
		t.Errorf("WeekStart = %q, want monday", got.WeekStart)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "u" {
		t.Errorf("BasicAuth = %+v", got.BasicAuth)
	}
}
