// Package llm is the single entry point for text generation. Every caller,
// batch generators and the request path alike, goes through a Gateway.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"

	errx "github.com/wuxing-advisor/server/internal/core/error"
	"github.com/wuxing-advisor/server/internal/metrics"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// Gateway is a uniform call interface over interchangeable providers.
type Gateway interface {
	// Complete returns the whole reply once generation finishes.
	Complete(ctx context.Context, prompt string, opts ...CallOption) (string, error)

	// Stream returns reply fragments as they arrive. The caller must Close the reader.
	Stream(ctx context.Context, prompt string, opts ...CallOption) (*schema.StreamReader[*schema.Message], error)
}

const jsonInstruction = "\n\nRespond with a single valid JSON object only. Do not wrap it in markdown or add commentary."

type callOptions struct {
	site        string
	structured  bool
	temperature *float32
	maxTokens   *int
	timeout     time.Duration
}

// CallOption tunes one gateway call.
type CallOption func(*callOptions)

// Structured asks for a JSON object reply.
func Structured() CallOption {
	return func(o *callOptions) { o.structured = true }
}

func WithTemperature(t float32) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = &n }
}

func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithSite labels the call in logs and metrics ("route", "generate", "answer", ...).
func WithSite(site string) CallOption {
	return func(o *callOptions) { o.site = site }
}

type GatewayConfig struct {
	Provider     string
	Model        string
	Timeout      time.Duration
	SupportsJSON bool

	MaxRetries   uint64
	RetryInitial time.Duration
	RetryMax     time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Metrics  *metrics.Collector
	Handlers []callbacks.Handler
}

// ChatGateway adapts an eino chat model to Gateway with timeouts, bounded
// retries and a circuit breaker around every provider call.
type ChatGateway struct {
	chat    einomodel.BaseChatModel
	cfg     GatewayConfig
	breaker *gobreaker.CircuitBreaker
	// chat models that report their own callbacks are not reported twice
	selfReporting bool
}

var _ Gateway = (*ChatGateway)(nil)

func NewChatGateway(chat einomodel.BaseChatModel, cfg GatewayConfig) *ChatGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 8 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	g := &ChatGateway{chat: chat, cfg: cfg}
	if c, ok := chat.(components.Checker); ok {
		g.selfReporting = c.IsCallbacksEnabled()
	}

	name := "llm:" + cfg.Provider
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// caller cancellations and rejected requests say nothing about provider health
			return err == nil || errors.Is(err, context.Canceled) || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logx.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("LLM circuit breaker state changed")
			cfg.Metrics.SetBreakerState(name, float64(to))
		},
	})
	return g
}

func (g *ChatGateway) resolve(opts []CallOption) callOptions {
	o := callOptions{site: "default", timeout: g.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (g *ChatGateway) messages(prompt string, o callOptions) []*schema.Message {
	if o.structured && !g.cfg.SupportsJSON {
		prompt += jsonInstruction
	}
	return []*schema.Message{schema.UserMessage(prompt)}
}

func (g *ChatGateway) modelOptions(o callOptions) []einomodel.Option {
	var opts []einomodel.Option
	if o.temperature != nil {
		opts = append(opts, einomodel.WithTemperature(*o.temperature))
	}
	if o.maxTokens != nil {
		opts = append(opts, einomodel.WithMaxTokens(*o.maxTokens))
	}
	if o.structured && g.cfg.SupportsJSON {
		opts = append(opts, WithJSONMode())
	}
	return opts
}

func (g *ChatGateway) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.RetryInitial
	b.MaxInterval = g.cfg.RetryMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, g.cfg.MaxRetries), ctx)
}

// call runs fn through the breaker and retry policy.
func (g *ChatGateway) call(ctx context.Context, site string, fn func() (any, error)) (any, error) {
	var out any
	attempt := 0
	op := func() error {
		attempt++
		res, err := g.breaker.Execute(fn)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logx.Warn().Err(err).Str("site", site).Int("attempt", attempt).Dur("retry_in", wait).Msg("LLM call failed, retrying")
	}
	if err := backoff.RetryNotify(op, g.policy(ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *ChatGateway) runInfo(site string) *callbacks.RunInfo {
	return &callbacks.RunInfo{Name: site, Type: g.cfg.Provider, Component: components.ComponentOfChatModel}
}

func (g *ChatGateway) callbackCtx(ctx context.Context, site string, msgs []*schema.Message, o callOptions) context.Context {
	if g.selfReporting || len(g.cfg.Handlers) == 0 {
		return ctx
	}
	ctx = callbacks.InitCallbacks(ctx, g.runInfo(site), g.cfg.Handlers...)
	conf := &einomodel.Config{Model: g.cfg.Model}
	if o.temperature != nil {
		conf.Temperature = *o.temperature
	}
	if o.maxTokens != nil {
		conf.MaxTokens = *o.maxTokens
	}
	return callbacks.OnStart(ctx, &einomodel.CallbackInput{Messages: msgs, Config: conf})
}

func (g *ChatGateway) reportEnd(ctx context.Context, msg *schema.Message, err error) {
	if g.selfReporting || len(g.cfg.Handlers) == 0 {
		return
	}
	if err != nil {
		callbacks.OnError(ctx, err)
		return
	}
	out := &einomodel.CallbackOutput{Message: msg, Config: &einomodel.Config{Model: g.cfg.Model}}
	if msg != nil && msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		out.TokenUsage = &einomodel.TokenUsage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	callbacks.OnEnd(ctx, out)
}

// Complete implements Gateway.
func (g *ChatGateway) Complete(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	o := g.resolve(opts)
	msgs := g.messages(prompt, o)
	modelOpts := g.modelOptions(o)
	cbCtx := g.callbackCtx(ctx, o.site, msgs, o)

	start := time.Now()
	res, err := g.call(ctx, o.site, func() (any, error) {
		callCtx, cancel := context.WithTimeout(cbCtx, o.timeout)
		defer cancel()
		return g.chat.Generate(callCtx, msgs, modelOpts...)
	})
	if err != nil {
		g.cfg.Metrics.ObserveLLM(o.site, outcome(err), time.Since(start))
		g.reportEnd(cbCtx, nil, err)
		logx.Error().Err(err).Str("site", o.site).Str("provider", g.cfg.Provider).Msg("LLM completion failed")
		return "", errx.WrapLLM(err)
	}
	g.cfg.Metrics.ObserveLLM(o.site, "ok", time.Since(start))

	msg, _ := res.(*schema.Message)
	g.reportEnd(cbCtx, msg, nil)
	if msg == nil {
		return "", errx.WrapLLM(errx.ErrMalformedOutput)
	}
	return StripThinking(msg.Content), nil
}

// Stream implements Gateway. Retries only cover opening the stream; a failure
// after the first chunk is delivered to the reader as an error.
func (g *ChatGateway) Stream(ctx context.Context, prompt string, opts ...CallOption) (*schema.StreamReader[*schema.Message], error) {
	o := g.resolve(opts)
	msgs := g.messages(prompt, o)
	modelOpts := g.modelOptions(o)

	streamCtx, cancel := context.WithTimeout(ctx, o.timeout)
	cbCtx := g.callbackCtx(streamCtx, o.site, msgs, o)

	start := time.Now()
	res, err := g.call(streamCtx, o.site, func() (any, error) {
		return g.chat.Stream(cbCtx, msgs, modelOpts...)
	})
	if err != nil {
		cancel()
		g.cfg.Metrics.ObserveLLM(o.site, outcome(err), time.Since(start))
		g.reportEnd(cbCtx, nil, err)
		logx.Error().Err(err).Str("site", o.site).Str("provider", g.cfg.Provider).Msg("LLM stream failed to open")
		return nil, errx.WrapLLM(err)
	}
	g.cfg.Metrics.ObserveLLM(o.site, "ok", time.Since(start))

	upstream := res.(*schema.StreamReader[*schema.Message])
	out, w := schema.Pipe[*schema.Message](8)
	go func() {
		defer cancel()
		defer upstream.Close()
		defer w.Close()

		var chunks []*schema.Message
		for {
			chunk, err := upstream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				g.reportEnd(cbCtx, nil, err)
				w.Send(nil, errx.WrapLLM(err))
				return
			}
			chunks = append(chunks, chunk)
			if closed := w.Send(chunk, nil); closed {
				logx.Debug().Str("site", o.site).Msg("Stream reader closed early, aborting provider call")
				return
			}
		}
		if len(chunks) > 0 {
			if full, err := schema.ConcatMessages(chunks); err == nil {
				g.reportEnd(cbCtx, full, nil)
			}
		}
	}()
	return out, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	return true
}

// StripThinking drops <think>...</think> reasoning some models prepend to replies.
func StripThinking(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end < 0 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}
