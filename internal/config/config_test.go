package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NOTEFORGE_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.AutosaveInterval != 30*time.Second {
		t.Fatalf("autosave interval = %s", cfg.AutosaveInterval)
	}
	if cfg.SyncPath != "/noteforge-documents.json" {
		t.Fatalf("sync path = %q", cfg.SyncPath)
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "noteforge.yaml")
	yamlBody := "addr: \":9000\"\nstorage: sqlite:///tmp/nf.db\nautosave_interval: 5s\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("NOTEFORGE_AUTOSAVE_INTERVAL", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.StorageDSN != "sqlite:///tmp/nf.db" {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("env should override yaml, got %q", cfg.LogLevel)
	}
	if cfg.AutosaveInterval != 12*time.Second {
		t.Fatalf("bare seconds not parsed: %s", cfg.AutosaveInterval)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("NOTEFORGE_CONFIG", "")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("NOTEFORGE_SYNC_PROVIDER=MINIO\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("NOTEFORGE_SYNC_PROVIDER") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SyncProvider != "minio" {
		t.Fatalf("sync provider = %q", cfg.SyncProvider)
	}
}

func TestWarningsForDevDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NOTEFORGE_CONFIG", "")
	t.Setenv("NOTEFORGE_TOKEN_SECRET", "")
	t.Setenv("NOTEFORGE_CORS_ORIGIN", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TokenSecret != DefaultTokenSecret {
		t.Fatalf("token secret = %q", cfg.TokenSecret)
	}
	if got := cfg.Warnings(); len(got) != 2 {
		t.Fatalf("expected 2 warnings, got %q", got)
	}

	t.Setenv("NOTEFORGE_TOKEN_SECRET", "a-real-secret")
	t.Setenv("NOTEFORGE_CORS_ORIGIN", "https://notes.example.com")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Warnings(); len(got) != 0 {
		t.Fatalf("expected no warnings, got %q", got)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGetenvHelpersFallBack(t *testing.T) {
	t.Setenv("NF_TEST_INT", "abc")
	t.Setenv("NF_TEST_BOOL", "maybe")
	t.Setenv("NF_TEST_DUR", "soon")
	if getenvInt("NF_TEST_INT", 7) != 7 {
		t.Fatal("int fallback")
	}
	if !getenvBool("NF_TEST_BOOL", true) {
		t.Fatal("bool fallback")
	}
	if getenvDuration("NF_TEST_DUR", time.Minute) != time.Minute {
		t.Fatal("duration fallback")
	}
}
