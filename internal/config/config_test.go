package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"chatstreamd/internal/config"
)

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=true when config.yaml missing")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".chatstreamd")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:18790" {
		t.Fatalf("expected default bind_addr=127.0.0.1:18790, got %q", cfg.BindAddr)
	}
	if cfg.StreamKV.MaxQueueSize != 50 {
		t.Fatalf("expected default max_queue_size=50, got %d", cfg.StreamKV.MaxQueueSize)
	}
	if cfg.Scheduler.CheckDueIntervalSeconds != 60 {
		t.Fatalf("expected default check_due_interval_seconds=60, got %d", cfg.Scheduler.CheckDueIntervalSeconds)
	}
	if cfg.Scheduler.DedupeWindowSeconds != 120 {
		t.Fatalf("expected default dedupe_window_seconds=120, got %d", cfg.Scheduler.DedupeWindowSeconds)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".chatstreamd")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yamlContent := "bind_addr: 0.0.0.0:9000\nstreamkv:\n  max_queue_size: 200\nscheduler:\n  check_due_interval_seconds: 30\n"
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" {
		t.Fatalf("expected bind_addr override, got %q", cfg.BindAddr)
	}
	if cfg.StreamKV.MaxQueueSize != 200 {
		t.Fatalf("expected max_queue_size=200, got %d", cfg.StreamKV.MaxQueueSize)
	}
	if cfg.Scheduler.CheckDueIntervalSeconds != 30 {
		t.Fatalf("expected check_due_interval_seconds=30, got %d", cfg.Scheduler.CheckDueIntervalSeconds)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".chatstreamd")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("bind_addr: 127.0.0.1:1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("CHATSTREAMD_BIND_ADDR", "127.0.0.1:9999")
	t.Setenv("CHATSTREAMD_MAX_QUEUE_SIZE", "17")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:9999" {
		t.Fatalf("expected env override bind_addr, got %q", cfg.BindAddr)
	}
	if cfg.StreamKV.MaxQueueSize != 17 {
		t.Fatalf("expected env override max_queue_size=17, got %d", cfg.StreamKV.MaxQueueSize)
	}
}

func TestLoad_StorePathsRelativeToHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	wantStore := filepath.Join(cfg.HomeDir, "store.db")
	if cfg.Store.Path != wantStore {
		t.Fatalf("expected store path %q, got %q", wantStore, cfg.Store.Path)
	}
	wantKV := filepath.Join(cfg.HomeDir, "streamkv.db")
	if cfg.StreamKV.Path != wantKV {
		t.Fatalf("expected streamkv path %q, got %q", wantKV, cfg.StreamKV.Path)
	}
}

func TestLoad_EncryptionKeyEnvOverride(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)
	t.Setenv("CHATSTREAMD_ENCRYPTION_KEY", "base64-key-material")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.EncryptionKeyOverride() != "base64-key-material" {
		t.Fatalf("expected encryption key override, got %q", cfg.EncryptionKeyOverride())
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	a := config.Config{BindAddr: "127.0.0.1:1"}
	b := config.Config{BindAddr: "127.0.0.1:2"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected different fingerprints for different configs")
	}
}

func TestConfigPath(t *testing.T) {
	got := config.ConfigPath("/tmp/home")
	want := filepath.Join("/tmp/home", "config.yaml")
	if got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
}
