package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig configures the Durable Store Gateway (internal/store).
type StoreConfig struct {
	Path string `yaml:"path"`
}

// StreamKVConfig configures the Redis-like Shared Log & KV (internal/streamkv).
type StreamKVConfig struct {
	Path string `yaml:"path"`

	// StreamMaxLen bounds how many StreamEvents are retained per chat log.
	StreamMaxLen int `yaml:"stream_max_len"`

	// MaxQueueSize bounds per-chat queued-message FIFOs (spec §4.7).
	MaxQueueSize int `yaml:"max_queue_size"`

	// QueueMessageTTLSeconds expires queued messages that are never injected.
	QueueMessageTTLSeconds int `yaml:"queue_message_ttl_seconds"`

	// TaskTTLSeconds expires scheduler dedupe/claim markers.
	TaskTTLSeconds int `yaml:"task_ttl_seconds"`
}

// CancelConfig configures the Cancellation Watcher (internal/cancel).
type CancelConfig struct {
	PollIntervalMillis int `yaml:"poll_interval_millis"`
}

// SchedulerConfig configures the Scheduler Runner (internal/scheduler).
type SchedulerConfig struct {
	// CheckDueIntervalSeconds is the poll cadence for claiming due tasks.
	CheckDueIntervalSeconds int `yaml:"check_due_interval_seconds"`

	// TokenCleanupIntervalSeconds is the cadence for the expired-refresh-token sweep.
	TokenCleanupIntervalSeconds int `yaml:"token_cleanup_interval_seconds"`

	// DedupeWindowSeconds bounds how close together two executions of the
	// same task may start before the later one is rejected as a duplicate.
	DedupeWindowSeconds int `yaml:"dedupe_window_seconds"`

	// ClaimBatchSize bounds how many due tasks a single check_due tick claims.
	ClaimBatchSize int `yaml:"claim_batch_size"`
}

// SandboxConfig configures the Docker-backed SandboxProvider.
type SandboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"`
	Network string `yaml:"network"`
	MemoryMB int64  `yaml:"memory_mb"`
}

// ProviderConfig holds per-provider defaults for the Genkit-backed AI client.
// Per-user credentials live in UserSettings, encrypted; this only carries
// operator-level fallbacks (e.g. a shared base URL for an OpenAI-compatible
// endpoint).
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CryptoConfig configures envelope encryption for encrypted UserSettings columns.
type CryptoConfig struct {
	// KeyPath points at a file holding a 32-byte AES-256 key, base64-encoded.
	// Env var CHATSTREAMD_ENCRYPTION_KEY overrides it with the key material directly.
	KeyPath string `yaml:"key_path"`
}

// OTelConfig mirrors otelobs.Config for YAML loading without an import cycle;
// Load() copies it into the otelobs package's own Config at startup.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Store     StoreConfig     `yaml:"store"`
	StreamKV  StreamKVConfig  `yaml:"streamkv"`
	Cancel    CancelConfig    `yaml:"cancel"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	OTel      OTelConfig      `yaml:"otel"`

	// Providers holds per-provider operator defaults (base URLs for
	// OpenAI-compatible endpoints etc). Keyed by provider type string.
	Providers map[string]ProviderConfig `yaml:"providers"`

	NeedsGenesis bool `yaml:"-"`

	encryptionKeyOverride string
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config, useful for
// detecting whether a reload actually changed anything observable.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|store=%s|kv=%s|maxqueue=%d|checkdue=%d",
		c.BindAddr, c.LogLevel, c.Store.Path, c.StreamKV.Path,
		c.StreamKV.MaxQueueSize, c.Scheduler.CheckDueIntervalSeconds)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		Store: StoreConfig{
			Path: "store.db",
		},
		StreamKV: StreamKVConfig{
			Path:                   "streamkv.db",
			StreamMaxLen:           1000,
			MaxQueueSize:           50,
			QueueMessageTTLSeconds: int((24 * time.Hour).Seconds()),
			TaskTTLSeconds:         int((10 * time.Minute).Seconds()),
		},
		Cancel: CancelConfig{
			PollIntervalMillis: 250,
		},
		Scheduler: SchedulerConfig{
			CheckDueIntervalSeconds:     60,
			TokenCleanupIntervalSeconds: int((time.Hour).Seconds()),
			DedupeWindowSeconds:         120,
			ClaimBatchSize:              100,
		},
		Sandbox: SandboxConfig{
			Enabled: false,
			Image:   "chatstreamd-sandbox:latest",
			Network: "none",
		},
		OTel: OTelConfig{
			Enabled:  false,
			Exporter: "none",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("CHATSTREAMD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".chatstreamd")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create chatstreamd home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.HomeDir, "store.db")
	} else if !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(cfg.HomeDir, cfg.Store.Path)
	}
	if cfg.StreamKV.Path == "" {
		cfg.StreamKV.Path = filepath.Join(cfg.HomeDir, "streamkv.db")
	} else if !filepath.IsAbs(cfg.StreamKV.Path) {
		cfg.StreamKV.Path = filepath.Join(cfg.HomeDir, cfg.StreamKV.Path)
	}
	if cfg.StreamKV.StreamMaxLen <= 0 {
		cfg.StreamKV.StreamMaxLen = 1000
	}
	if cfg.StreamKV.MaxQueueSize <= 0 {
		cfg.StreamKV.MaxQueueSize = 50
	}
	if cfg.Cancel.PollIntervalMillis <= 0 {
		cfg.Cancel.PollIntervalMillis = 250
	}
	if cfg.Scheduler.CheckDueIntervalSeconds <= 0 {
		cfg.Scheduler.CheckDueIntervalSeconds = 60
	}
	if cfg.Scheduler.TokenCleanupIntervalSeconds <= 0 {
		cfg.Scheduler.TokenCleanupIntervalSeconds = int((time.Hour).Seconds())
	}
	if cfg.Scheduler.DedupeWindowSeconds <= 0 {
		cfg.Scheduler.DedupeWindowSeconds = 120
	}
	if cfg.Scheduler.ClaimBatchSize <= 0 {
		cfg.Scheduler.ClaimBatchSize = 100
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "chatstreamd-sandbox:latest"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CHATSTREAMD_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("CHATSTREAMD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CHATSTREAMD_STORE_PATH"); raw != "" {
		cfg.Store.Path = raw
	}
	if raw := os.Getenv("CHATSTREAMD_STREAMKV_PATH"); raw != "" {
		cfg.StreamKV.Path = raw
	}
	if raw := os.Getenv("CHATSTREAMD_MAX_QUEUE_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.StreamKV.MaxQueueSize = v
		}
	}
	if raw := os.Getenv("CHATSTREAMD_CHECK_DUE_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Scheduler.CheckDueIntervalSeconds = v
		}
	}
	if raw := os.Getenv("CHATSTREAMD_ENCRYPTION_KEY"); raw != "" {
		cfg.encryptionKeyOverride = raw
	}
	if raw := os.Getenv("CHATSTREAMD_SANDBOX_ENABLED"); raw != "" {
		cfg.Sandbox.Enabled = raw == "1" || raw == "true"
	}
	if raw := os.Getenv("CHATSTREAMD_OTEL_ENABLED"); raw != "" {
		cfg.OTel.Enabled = raw == "1" || raw == "true"
	}
	if raw := os.Getenv("CHATSTREAMD_OTEL_ENDPOINT"); raw != "" {
		cfg.OTel.Endpoint = raw
	}
}

// EncryptionKeyOverride returns the key material supplied directly via
// CHATSTREAMD_ENCRYPTION_KEY, bypassing Crypto.KeyPath. Empty if unset.
func (c Config) EncryptionKeyOverride() string {
	return c.encryptionKeyOverride
}
