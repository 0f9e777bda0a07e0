package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/metrics"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const (
	ProviderSiliconFlow = "silicon_flow"
	ProviderOpenRouter  = "openrouter"
	ProviderOllama      = "ollama"
	ProviderGemini      = "gemini"
)

type providerDefaults struct {
	url          string
	supportsJSON bool
}

var knownProviders = map[string]providerDefaults{
	ProviderSiliconFlow: {url: "https://api.siliconflow.cn/v1/chat/completions", supportsJSON: true},
	ProviderOpenRouter:  {url: "https://openrouter.ai/api/v1/chat/completions", supportsJSON: true},
	ProviderOllama:      {url: "http://localhost:11434/v1/chat/completions", supportsJSON: false},
	ProviderGemini:      {supportsJSON: false},
}

// SupportsJSON resolves LLM_JSON_MODE against the provider default.
func SupportsJSON(cfg model.LLMConfig) bool {
	switch strings.ToLower(cfg.JSONMode) {
	case "on", "true":
		return true
	case "off", "false":
		return false
	}
	return knownProviders[cfg.Provider].supportsJSON
}

// NewChatModel builds the eino chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg model.LLMConfig) (einomodel.BaseChatModel, error) {
	defaults, ok := knownProviders[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.Provider)
	}

	if cfg.Provider == ProviderGemini {
		return newGeminiChatModel(ctx, cfg)
	}

	url := cfg.BaseURL
	if url == "" {
		url = defaults.url
	}
	headers := map[string]string{}
	if cfg.Provider == ProviderOpenRouter {
		headers["HTTP-Referer"] = cfg.SiteURL
		headers["X-Title"] = cfg.AppName
	}
	if cfg.APIKey == "" && cfg.Provider != ProviderOllama {
		logx.Warn().Str("provider", cfg.Provider).Msg("LLM_API_KEY is empty")
	}

	return NewOpenAIChatModel(OpenAIConfig{
		URL:         url,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Headers:     headers,
	})
}

func newGeminiChatModel(ctx context.Context, cfg model.LLMConfig) (einomodel.BaseChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens
	chat, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}
	return chat, nil
}

// New wires the configured provider into a ChatGateway.
func New(ctx context.Context, cfg model.LLMConfig, m *metrics.Collector, handlers ...callbacks.Handler) (*ChatGateway, error) {
	chat, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logx.Info().Str("provider", cfg.Provider).Str("model", cfg.Model).Bool("json_mode", SupportsJSON(cfg)).Msg("LLM gateway ready")

	return NewChatGateway(chat, GatewayConfig{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		Timeout:         cfg.Timeout,
		SupportsJSON:    SupportsJSON(cfg),
		MaxRetries:      cfg.Retry.MaxRetries,
		RetryInitial:    cfg.Retry.Initial,
		RetryMax:        cfg.Retry.Max,
		BreakerFailures: cfg.Breaker.ConsecutiveFailures,
		BreakerTimeout:  cfg.Breaker.OpenTimeout,
		Metrics:         m,
		Handlers:        handlers,
	}), nil
}
