package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const maxErrBody = 512

// StatusError is a non-2xx reply from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

type openAIOptions struct {
	jsonMode bool
}

// WithJSONMode requests response_format json_object from OpenAI-compatible providers.
func WithJSONMode() einomodel.Option {
	return einomodel.WrapImplSpecificOptFn(func(o *openAIOptions) {
		o.jsonMode = true
	})
}

type OpenAIConfig struct {
	// URL is the full chat completions endpoint.
	URL         string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Headers     map[string]string
	HTTPClient  *http.Client
}

// OpenAIChatModel talks to any /v1/chat/completions endpoint: SiliconFlow,
// OpenRouter and Ollama's OpenAI shim. Ollama's native NDJSON stream is also understood.
type OpenAIChatModel struct {
	cfg    OpenAIConfig
	client *http.Client
}

var _ einomodel.BaseChatModel = (*OpenAIChatModel)(nil)

func NewOpenAIChatModel(cfg OpenAIConfig) (*OpenAIChatModel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("openai-compatible model: url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai-compatible model: model is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		// deadlines come from the caller's context
		client = &http.Client{}
	}
	return &OpenAIChatModel{cfg: cfg, client: client}, nil
}

func (m *OpenAIChatModel) GetType() string {
	return "OpenAICompatible"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatResponse covers both OpenAI chunks/replies and Ollama native lines.
type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		FinishReason *string     `json:"finish_reason"`
	} `json:"choices"`
	Message *chatMessage `json:"message"`
	Done    bool         `json:"done"`
	Usage   *chatUsage   `json:"usage"`
	Error   any          `json:"error"`
}

func (r *chatResponse) text(stream bool) string {
	if len(r.Choices) > 0 {
		if stream {
			return r.Choices[0].Delta.Content
		}
		return r.Choices[0].Message.Content
	}
	if r.Message != nil {
		return r.Message.Content
	}
	return ""
}

func (r *chatResponse) meta() *schema.ResponseMeta {
	if r.Usage == nil {
		return nil
	}
	return &schema.ResponseMeta{Usage: &schema.TokenUsage{
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		TotalTokens:      r.Usage.TotalTokens,
	}}
}

func (m *OpenAIChatModel) buildRequest(input []*schema.Message, stream bool, opts []einomodel.Option) chatRequest {
	common := einomodel.GetCommonOptions(&einomodel.Options{
		Temperature: &m.cfg.Temperature,
		MaxTokens:   &m.cfg.MaxTokens,
		Model:       &m.cfg.Model,
	}, opts...)
	specific := einomodel.GetImplSpecificOptions(&openAIOptions{}, opts...)

	req := chatRequest{
		Model:       *common.Model,
		Temperature: common.Temperature,
		MaxTokens:   common.MaxTokens,
		Stream:      stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		req.MaxTokens = nil
	}
	if specific.jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return req
}

func (m *OpenAIChatModel) do(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}
	for k, v := range m.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// Generate implements model.BaseChatModel.
func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	resp, err := m.do(ctx, m.buildRequest(input, false, opts))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("provider error: %v", out.Error)
	}
	if len(out.Choices) == 0 && out.Message == nil {
		return nil, errors.New("provider returned no choices")
	}

	msg := schema.AssistantMessage(out.text(false), nil)
	msg.ResponseMeta = out.meta()
	return msg, nil
}

// Stream implements model.BaseChatModel.
func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	resp, err := m.do(ctx, m.buildRequest(input, true, opts))
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](16)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()
		if err := readStream(resp.Body, func(msg *schema.Message) bool {
			return !sw.Send(msg, nil)
		}); err != nil {
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

// readStream decodes SSE "data:" lines until [DONE], or NDJSON lines until done=true.
// emit returns false when the consumer has gone away.
func readStream(r io.Reader, emit func(*schema.Message) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		sse := strings.HasPrefix(line, "data:")
		if sse {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if line == "[DONE]" {
				return nil
			}
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			logx.Debug().Str("line", snippet(line)).Msg("Skipping undecodable stream line")
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("provider stream error: %v", chunk.Error)
		}

		if text := chunk.text(true); text != "" || chunk.Usage != nil {
			msg := schema.AssistantMessage(text, nil)
			msg.ResponseMeta = chunk.meta()
			if !emit(msg) {
				return nil
			}
		}
		if !sse && chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func snippet(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
