// Package tools exposes side lookups to the prepare graph as eino tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/wuxing-advisor/server/internal/advisor/bazi"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const ToolBaziChart = "get_bazi_chart"

// ChartSource computes a birth chart. *bazi.Oracle satisfies it.
type ChartSource interface {
	Chart(ctx context.Context, req bazi.Request) (*bazi.Chart, error)
}

type BaziChartInput struct {
	SolarDatetime string `json:"solar_datetime,omitempty"`
	LunarDatetime string `json:"lunar_datetime,omitempty"`
	Gender        int    `json:"gender"`
}

// BaziChartOutput never carries a Go error: a failed lookup is reported in-band
// so the turn continues without a profile.
type BaziChartOutput struct {
	OK      bool   `json:"ok"`
	Profile string `json:"profile,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewBaziChartTool wraps the calculator. A nil source reports the lookup as unavailable.
func NewBaziChartTool(source ChartSource) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolBaziChart,
			Desc: "Compute the user's Bazi (four pillars) birth chart and return it as reference text for the advisor.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"solar_datetime": {
					Type: "string",
					Desc: "Solar birth datetime, YYYY-MM-DDTHH:MM:SS+HH:MM",
				},
				"lunar_datetime": {
					Type: "string",
					Desc: "Lunar birth datetime, used when no solar datetime is known",
				},
				"gender": {
					Type:     "integer",
					Desc:     "0 for female, 1 for male",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *BaziChartInput) (*BaziChartOutput, error) {
			if source == nil {
				return &BaziChartOutput{Error: "chart calculator is not configured"}, nil
			}
			chart, err := source.Chart(ctx, bazi.Request{
				SolarDatetime: in.SolarDatetime,
				LunarDatetime: in.LunarDatetime,
				Gender:        in.Gender,
			})
			if err != nil {
				logx.Warn().Err(err).Msg("Birth chart lookup failed, continuing without profile")
				return &BaziChartOutput{Error: err.Error()}, nil
			}
			return &BaziChartOutput{OK: true, Profile: bazi.FormatForLLM(chart)}, nil
		},
	)
}

// ChartCall builds the tool call that asks for birth's chart. defaultTZ
// completes datetimes that carry no offset.
func ChartCall(birth *model.BirthInput, defaultTZ string) (schema.ToolCall, error) {
	if birth.Empty() {
		return schema.ToolCall{}, errors.New("birth input has no datetime")
	}
	tz := birth.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	in := BaziChartInput{Gender: birth.Gender}
	if birth.SolarDatetime != "" {
		in.SolarDatetime = bazi.WithOffset(birth.SolarDatetime, tz)
	} else {
		in.LunarDatetime = bazi.WithOffset(birth.LunarDatetime, tz)
	}
	args, err := json.Marshal(in)
	if err != nil {
		return schema.ToolCall{}, fmt.Errorf("marshal chart arguments: %w", err)
	}
	return schema.ToolCall{
		ID:   "call_" + ToolBaziChart,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      ToolBaziChart,
			Arguments: string(args),
		},
	}, nil
}

// ReadChartResult decodes the tool message produced by the bazi chart tool.
func ReadChartResult(msg *schema.Message) (BaziChartOutput, error) {
	var out BaziChartOutput
	if msg == nil {
		return out, errors.New("no tool result")
	}
	if err := json.Unmarshal([]byte(msg.Content), &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", ToolBaziChart, err)
	}
	return out, nil
}
