package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	errx "github.com/wuxing-advisor/server/internal/core/error"
)

type scriptedChat struct {
	mu       sync.Mutex
	errs     []error
	reply    string
	chunks   []string
	prompts  []string
	options  []*einomodel.Options
	jsonMode []bool
}

func (s *scriptedChat) record(in []*schema.Message, opts []einomodel.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, in[len(in)-1].Content)
	s.options = append(s.options, einomodel.GetCommonOptions(&einomodel.Options{}, opts...))
	s.jsonMode = append(s.jsonMode, einomodel.GetImplSpecificOptions(&openAIOptions{}, opts...).jsonMode)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *scriptedChat) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedChat) Generate(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if err := s.record(in, opts); err != nil {
		return nil, err
	}
	return schema.AssistantMessage(s.reply, nil), nil
}

func (s *scriptedChat) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := s.record(in, opts); err != nil {
		return nil, err
	}
	msgs := make([]*schema.Message, 0, len(s.chunks))
	for _, c := range s.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func fastConfig() GatewayConfig {
	return GatewayConfig{
		Provider:        "test",
		Model:           "test-model",
		Timeout:         time.Second,
		MaxRetries:      2,
		RetryInitial:    time.Millisecond,
		RetryMax:        2 * time.Millisecond,
		BreakerFailures: 100,
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	chat := &scriptedChat{
		errs:  []error{&StatusError{Code: 503, Body: "busy"}, errors.New("connection reset")},
		reply: "<think>pondering</think> 42",
	}
	g := NewChatGateway(chat, fastConfig())

	out, err := g.Complete(context.Background(), "pick one")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	assert.Equal(t, 3, chat.calls())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	chat := &scriptedChat{errs: []error{&StatusError{Code: 401, Body: "bad key"}}}
	g := NewChatGateway(chat, fastConfig())

	_, err := g.Complete(context.Background(), "pick one")
	require.Error(t, err)
	assert.Equal(t, 1, chat.calls())

	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, errx.LLMErrorMessage, err.(*errx.AppError).Message)
}

func TestCompleteGivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("boom")
	chat := &scriptedChat{errs: []error{boom, boom, boom, boom}}
	cfg := fastConfig()
	cfg.MaxRetries = 1
	g := NewChatGateway(chat, cfg)

	_, err := g.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, chat.calls())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("boom")
	chat := &scriptedChat{errs: []error{boom, boom, boom}}
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Minute
	g := NewChatGateway(chat, cfg)

	for i := 0; i < 2; i++ {
		_, err := g.Complete(context.Background(), "x")
		require.ErrorIs(t, err, boom)
	}
	_, err := g.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 2, chat.calls(), "open breaker must not reach the provider")
}

func TestStructuredWithoutJSONModeAsksInPrompt(t *testing.T) {
	chat := &scriptedChat{reply: `{"items":[]}`}
	g := NewChatGateway(chat, fastConfig())

	_, err := g.Complete(context.Background(), "list things", Structured(), WithTemperature(0.6), WithMaxTokens(300))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(chat.prompts[0], jsonInstruction))
	assert.False(t, chat.jsonMode[0])
	require.NotNil(t, chat.options[0].Temperature)
	assert.Equal(t, float32(0.6), *chat.options[0].Temperature)
	assert.Equal(t, 300, *chat.options[0].MaxTokens)
}

func TestStructuredWithJSONModeUsesProviderOption(t *testing.T) {
	chat := &scriptedChat{reply: `{"items":[]}`}
	cfg := fastConfig()
	cfg.SupportsJSON = true
	g := NewChatGateway(chat, cfg)

	_, err := g.Complete(context.Background(), "list things", Structured())
	require.NoError(t, err)
	assert.Equal(t, "list things", chat.prompts[0])
	assert.True(t, chat.jsonMode[0])
}

func TestStreamForwardsChunks(t *testing.T) {
	chat := &scriptedChat{chunks: []string{"Wood ", "feeds ", "Fire."}}
	g := NewChatGateway(chat, fastConfig())

	sr, err := g.Stream(context.Background(), "hello")
	require.NoError(t, err)
	defer sr.Close()

	var sb strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sb.WriteString(msg.Content)
	}
	assert.Equal(t, "Wood feeds Fire.", sb.String())
}

func TestStreamEarlyCloseDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	chunks := make([]string, 100)
	for i := range chunks {
		chunks[i] = "x"
	}
	g := NewChatGateway(&scriptedChat{chunks: chunks}, fastConfig())

	sr, err := g.Stream(context.Background(), "hello")
	require.NoError(t, err)
	_, err = sr.Recv()
	require.NoError(t, err)
	sr.Close()
}

func TestStreamOpenFailure(t *testing.T) {
	chat := &scriptedChat{errs: []error{&StatusError{Code: 400, Body: "bad"}}}
	g := NewChatGateway(chat, fastConfig())

	_, err := g.Stream(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 1, chat.calls())
}

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "12", StripThinking("<think>a\nb</think>\n12"))
	assert.Equal(t, "plain", StripThinking("plain"))
	assert.Equal(t, "before", StripThinking("before <think>never closed"))
}
