package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing is per 1M text tokens.
var defaultPricing = map[string]Pricing{
	"gemini-2.5-flash":           {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite":      {InputPerM: 0.10, OutputPerM: 0.40},
	"deepseek/deepseek-chat":     {InputPerM: 0.27, OutputPerM: 1.10},
	"deepseek-ai/DeepSeek-V3":    {InputPerM: 0.27, OutputPerM: 1.10},
	"openai/gpt-4o-mini":         {InputPerM: 0.15, OutputPerM: 0.60},
	"anthropic/claude-3.5-haiku": {InputPerM: 0.80, OutputPerM: 4.00},
}

// ResolvePricing returns pricing for a model; unknown and local models cost zero.
func ResolvePricing(model string) Pricing {
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	return Pricing{}
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}
