// Command chatstreamd is the daemon entrypoint: it wires the Durable Store
// Gateway, the Redis-like Shared Log & KV, the Stream Orchestrator, the
// Cancellation Watcher, the Queue Service/Injector, and the Scheduler
// Service/Runner/TokenCleaner, then runs until signaled to stop.
//
// This binary exposes no HTTP/REST surface (spec §1 Non-goals); it is the
// background process a front-end or API layer talks to through the shared
// store and streamkv databases.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatstreamd/internal/bus"
	"chatstreamd/internal/cancel"
	"chatstreamd/internal/config"
	"chatstreamd/internal/cryptutil"
	"chatstreamd/internal/inject"
	"chatstreamd/internal/model"
	"chatstreamd/internal/orchestrator"
	"chatstreamd/internal/otelobs"
	"chatstreamd/internal/provider"
	"chatstreamd/internal/publisher"
	"chatstreamd/internal/queue"
	"chatstreamd/internal/sandbox"
	"chatstreamd/internal/scheduler"
	"chatstreamd/internal/store"
	"chatstreamd/internal/streamkv"
	"chatstreamd/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version)

	otelProvider, err := otelobs.Init(ctx, otelobs.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	eventBus := bus.NewWithLogger(logger)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	if sealer, err := loadSealer(cfg); err != nil {
		fatalStartup(logger, "E_SEALER_INIT", err)
	} else if sealer != nil {
		st.SetSealer(sealer)
		logger.Info("startup phase", "phase", "sealer_loaded")
	} else {
		logger.Warn("no encryption key configured; provider credentials stored as plaintext JSON")
	}

	kv, err := streamkv.Open(cfg.StreamKV.Path, streamkv.Config{
		StreamMaxLen:    cfg.StreamKV.StreamMaxLen,
		MaxQueueSize:    cfg.StreamKV.MaxQueueSize,
		QueueMessageTTL: secondsToDuration(cfg.StreamKV.QueueMessageTTLSeconds),
		TaskTTL:         secondsToDuration(cfg.StreamKV.TaskTTLSeconds),
	})
	if err != nil {
		fatalStartup(logger, "E_STREAMKV_OPEN", err)
	}
	defer kv.Close()
	logger.Info("startup phase", "phase", "streamkv_opened")

	pub := publisher.New(kv, eventBus, logger)
	cancelWatcher := cancel.New(kv, eventBus, millisToDuration(cfg.Cancel.PollIntervalMillis), logger)
	queueSvc := queue.New(kv)
	injector := inject.New(queueSvc, st, pub, eventBus)
	orch := orchestrator.New(st, kv, pub, cancelWatcher, logger)

	var sandboxProvider sandbox.Provider
	if cfg.Sandbox.Enabled {
		docker, err := sandbox.NewDockerProvider(sandbox.DockerConfig{
			Image:       cfg.Sandbox.Image,
			MemoryMB:    cfg.Sandbox.MemoryMB,
			NetworkMode: cfg.Sandbox.Network,
		})
		if err != nil {
			fatalStartup(logger, "E_SANDBOX_INIT", err)
		}
		defer docker.Close()
		sandboxProvider = docker
		logger.Info("startup phase", "phase", "sandbox_provider_ready", "image", cfg.Sandbox.Image)
	}

	clientFactory := buildClientFactory(cfg, logger)

	runner := scheduler.NewRunner(scheduler.RunnerConfig{
		Store:         st,
		Orchestrator:  orch,
		Sandbox:       sandboxProvider,
		ClientFactory: clientFactory,
		Bus:           eventBus,
		Logger:        logger,
		TickInterval:  secondsToDuration(cfg.Scheduler.CheckDueIntervalSeconds),
	})
	runner.Start(ctx)
	defer runner.Stop()

	tokenCleaner := scheduler.NewTokenCleaner(st, secondsToDuration(cfg.Scheduler.TokenCleanupIntervalSeconds), logger)
	tokenCleaner.Start(ctx)
	defer tokenCleaner.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start; hot reload disabled", "error", err)
	} else {
		go watchConfigReloads(ctx, watcher, logger)
	}

	// injector, orch, and queueSvc are exercised per chat turn by the
	// request-handling surface that embeds this daemon (spec §1 Non-goals:
	// the HTTP/REST surface itself is out of scope here).
	_ = injector

	logger.Info("chatstreamd started", "bind_addr", cfg.BindAddr)
	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
}

// buildClientFactory returns a scheduler.ClientFactory that resolves the
// enabled CustomProvider for modelID (API Key Validation, spec §4.9) and
// constructs the matching Genkit-backed provider.Client.
func buildClientFactory(cfg config.Config, logger *slog.Logger) scheduler.ClientFactory {
	return func(ctx context.Context, settings *model.UserSettings, modelID string) (provider.Client, error) {
		p := settings.FindProviderForModel(modelID)
		if p == nil {
			return nil, fmt.Errorf("chatstreamd: no enabled provider serves model %q", modelID)
		}
		baseURL := p.BaseURL
		if baseURL == "" {
			if opCfg, ok := cfg.Providers[string(p.ProviderType)]; ok {
				baseURL = opCfg.BaseURL
			}
		}
		return provider.NewGenkitClient(ctx, provider.GenkitClientConfig{
			ProviderType: p.ProviderType,
			BaseURL:      baseURL,
			AuthToken:    p.AuthToken,
			Logger:       logger,
		})
	}
}

// loadSealer builds the envelope-encryption Sealer from either the
// CHATSTREAMD_ENCRYPTION_KEY env override or crypto.key_path, both holding a
// base64-encoded AES-256 key. Returns (nil, nil) when neither is configured.
func loadSealer(cfg config.Config) (*cryptutil.Sealer, error) {
	raw := cfg.EncryptionKeyOverride()
	if raw == "" && cfg.Crypto.KeyPath != "" {
		data, err := os.ReadFile(cfg.Crypto.KeyPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read encryption key file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return cryptutil.NewSealer(key)
}

func watchConfigReloads(ctx context.Context, w *config.Watcher, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			logger.Info("config file changed; restart to apply", "path", ev.Path)
		}
	}
}

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }
func millisToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: %s: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
