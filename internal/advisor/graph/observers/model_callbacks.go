package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const logClip = 300

// newModelHandler logs the prompt going in and the reply, token usage and USD cost coming out.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *einomodel.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", "chat_model").Str("provider", info.Type).Str("site", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).Str("prompt", clip(lastUserContent(input.Messages), logClip))
			}
			ev.Msg("Model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *einomodel.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", "chat_model").Str("provider", info.Type).Str("site", info.Name)
			if output == nil {
				ev.Msg("Model call finished")
				return ctx
			}
			if output.Message != nil {
				ev = ev.Str("reply", clip(strings.TrimSpace(output.Message.Content), logClip))
			}
			if output.TokenUsage != nil {
				name := ""
				if output.Config != nil {
					name = output.Config.Model
				}
				usage := &schema.TokenUsage{
					PromptTokens:     output.TokenUsage.PromptTokens,
					CompletionTokens: output.TokenUsage.CompletionTokens,
					TotalTokens:      output.TokenUsage.TotalTokens,
				}
				_, _, cost := model.ComputeCost(usage, model.ResolvePricing(name))
				ev = ev.Str("model", name).
					Int("prompt_tokens", usage.PromptTokens).
					Int("completion_tokens", usage.CompletionTokens).
					Float64("cost_usd", cost)
			}
			ev.Msg("Model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("component", "chat_model").Str("provider", info.Type).Str("site", info.Name).Msg("Model call failed")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
