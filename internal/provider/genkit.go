package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"chatstreamd/internal/model"
	"chatstreamd/internal/pricing"
	"chatstreamd/internal/tokenutil"
)

// GenkitClientConfig selects and authenticates one Genkit-backed provider,
// resolved from a model.CustomProvider by API Key Validation (spec §4.9).
type GenkitClientConfig struct {
	ProviderType model.ProviderType // anthropic | openrouter | custom
	BaseURL      string
	AuthToken    string
	Logger       *slog.Logger
}

// GenkitClient is the concrete AI provider Client, mirroring the teacher's
// GenkitBrain provider-selection switch (internal/engine/brain.go) but
// narrowed to this package's Client/Stream contract.
type GenkitClient struct {
	g      *genkit.Genkit
	logger *slog.Logger
}

// NewGenkitClient initializes Genkit with the plugin matching cfg's
// provider type. "custom" providers (spec §3: provider_type == custom,
// requires base_url) are treated as OpenAI-compatible endpoints, matching
// the teacher's compat_oai usage for openai_compatible/openrouter.
func NewGenkitClient(ctx context.Context, cfg GenkitClientConfig) (*GenkitClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var g *genkit.Genkit
	switch cfg.ProviderType {
	case model.ProviderTypeAnthropic:
		plugin := &anthropic.Anthropic{APIKey: cfg.AuthToken, BaseURL: cfg.BaseURL}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
	case model.ProviderTypeOpenRouter:
		plugin := &compat_oai.OpenAICompatible{
			Provider: "openrouter",
			APIKey:   cfg.AuthToken,
			BaseURL:  "https://openrouter.ai/api/v1",
		}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
	case model.ProviderTypeCustom:
		plugin := &compat_oai.OpenAICompatible{
			Provider: "custom",
			APIKey:   cfg.AuthToken,
			BaseURL:  cfg.BaseURL,
		}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
	case "google":
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	default:
		return nil, fmt.Errorf("provider: unknown provider type %q", cfg.ProviderType)
	}

	return &GenkitClient{g: g, logger: logger}, nil
}

// Close releases no resources today; Genkit has no explicit shutdown, but
// the method exists so callers can treat all Clients uniformly.
func (c *GenkitClient) Close() error { return nil }

// StartStream builds the Genkit generate options (spec §4.4 step 2) and
// begins draining genkit.GenerateStream on a background goroutine,
// translating genkit's ai.ModelResponseChunk stream into model.StreamEvent
// values on the returned Stream.
func (c *GenkitClient) StartStream(ctx context.Context, req StreamRequest) (Stream, error) {
	opts := []ai.GenerateOption{
		ai.WithPrompt(req.Content),
		ai.WithModelName(req.ModelID),
	}
	if req.SystemPrompt != "" {
		opts = append(opts, ai.WithSystem(req.SystemPrompt))
	}
	if msgs := historyToMessages(req.History); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &genkitStream{
		events: make(chan model.StreamEvent, 32),
		errc:   make(chan error, 1),
		cancel: cancel,
		logger: c.logger,
	}

	go s.run(streamCtx, c.g, opts, req.ModelID, req.Content, req.OnSessionUpdate)

	return s, nil
}

type genkitStream struct {
	events   chan model.StreamEvent
	errc     chan error
	cancel   context.CancelFunc
	cancelled atomic.Bool
	costUSD  atomic.Value // float64
	logger   *slog.Logger
	once     sync.Once
}

func (s *genkitStream) Events() (<-chan model.StreamEvent, <-chan error) {
	return s.events, s.errc
}

func (s *genkitStream) CancelActiveStream(ctx context.Context) error {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.cancel()
	})
	return nil
}

func (s *genkitStream) GetTotalCostUSD() float64 {
	if v, ok := s.costUSD.Load().(float64); ok {
		return v
	}
	return 0
}

func (s *genkitStream) run(ctx context.Context, g *genkit.Genkit, opts []ai.GenerateOption, modelName, promptText string, onSessionUpdate SessionUpdateFunc) {
	defer close(s.events)

	stream := genkit.GenerateStream(ctx, g, opts...)

	var parentStack []string

	for streamVal, err := range stream {
		if err != nil {
			if s.cancelled.Load() {
				// Cooperative cancellation: the orchestrator already knows;
				// don't surface this as a failure (spec §4.5).
				return
			}
			s.errc <- fmt.Errorf("provider: stream: %w", err)
			return
		}
		if streamVal.Chunk != nil {
			for _, part := range streamVal.Chunk.Content {
				switch {
				case part.Kind == ai.PartText && part.Text != "":
					s.events <- model.StreamEvent{Type: EventTextDelta, TextDelta: part.Text}
				case part.Kind == ai.PartToolRequest && part.ToolRequest != nil:
					parentID := ""
					if len(parentStack) > 0 {
						parentID = parentStack[len(parentStack)-1]
					}
					parentStack = append(parentStack, part.ToolRequest.Name)
					s.events <- model.StreamEvent{Type: EventToolStarted, ToolName: part.ToolRequest.Name, ParentID: parentID}
				case part.Kind == ai.PartToolResponse && part.ToolResponse != nil:
					parentID := ""
					if len(parentStack) > 0 {
						parentStack = parentStack[:len(parentStack)-1]
						if len(parentStack) > 0 {
							parentID = parentStack[len(parentStack)-1]
						}
					}
					s.events <- model.StreamEvent{Type: EventToolCompleted, ToolName: part.ToolResponse.Name, ParentID: parentID}
				}
			}
		}
		if streamVal.Done && streamVal.Response != nil {
			reply := streamVal.Response.Text()
			promptTokens := tokenutil.EstimateTokens(promptText)
			completionTokens := tokenutil.EstimateTokens(reply)
			s.costUSD.Store(pricing.EstimateCost(modelName, promptTokens, completionTokens))
			s.events <- model.StreamEvent{Type: EventResult, TextDelta: reply}
		}
	}
	// Genkit's generate stream carries no provider-issued session handle
	// distinct from the one the orchestrator already tracks, so
	// onSessionUpdate is never invoked here; it exists on the interface for
	// a future provider whose wire protocol does reissue one.
	_ = onSessionUpdate
}

func historyToMessages(history []model.StreamEvent) []*ai.Message {
	var msgs []*ai.Message
	for _, e := range history {
		if e.Type != EventTextDelta || strings.TrimSpace(e.TextDelta) == "" {
			continue
		}
		msgs = append(msgs, &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(e.TextDelta)},
		})
	}
	return msgs
}
