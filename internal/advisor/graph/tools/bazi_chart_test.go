package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxing-advisor/server/internal/advisor/bazi"
	"github.com/wuxing-advisor/server/internal/advisor/model"
)

type stubSource struct {
	chart *bazi.Chart
	err   error
	got   bazi.Request
}

func (s *stubSource) Chart(ctx context.Context, req bazi.Request) (*bazi.Chart, error) {
	s.got = req
	return s.chart, s.err
}

func TestChartCallCompletesOffset(t *testing.T) {
	call, err := ChartCall(&model.BirthInput{SolarDatetime: "1990-05-01 08:30", Gender: 1}, "-07:00")
	require.NoError(t, err)
	assert.Equal(t, ToolBaziChart, call.Function.Name)
	assert.JSONEq(t, `{"solar_datetime":"1990-05-01T08:30:00-07:00","gender":1}`, call.Function.Arguments)

	call, err = ChartCall(&model.BirthInput{LunarDatetime: "1990-04-07T08:30:00", Timezone: "+09:00"}, "-07:00")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lunar_datetime":"1990-04-07T08:30:00+09:00","gender":0}`, call.Function.Arguments)

	_, err = ChartCall(&model.BirthInput{Gender: 1}, "")
	assert.Error(t, err)
	_, err = ChartCall(nil, "")
	assert.Error(t, err)
}

func TestBaziChartToolReportsInBand(t *testing.T) {
	ctx := context.Background()

	src := &stubSource{chart: &bazi.Chart{Gender: "女", EightChars: "甲子 乙丑 丙寅 丁卯", DayMaster: "丙"}}
	out, err := NewBaziChartTool(src).InvokableRun(ctx, `{"solar_datetime":"1990-05-01T08:30:00+08:00","gender":0}`)
	require.NoError(t, err)
	res, err := ReadChartResult(schema.ToolMessage(out, "call_1"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Profile, "八字：甲子 乙丑 丙寅 丁卯")
	assert.Equal(t, "1990-05-01T08:30:00+08:00", src.got.SolarDatetime)

	out, err = NewBaziChartTool(&stubSource{err: errors.New("calculator down")}).InvokableRun(ctx, `{"gender":1}`)
	require.NoError(t, err)
	res, err = ReadChartResult(schema.ToolMessage(out, "call_1"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "calculator down")

	out, err = NewBaziChartTool(nil).InvokableRun(ctx, `{"gender":1}`)
	require.NoError(t, err)
	res, _ = ReadChartResult(schema.ToolMessage(out, "call_1"))
	assert.False(t, res.OK)
}

func TestReadChartResultRejectsGarbage(t *testing.T) {
	_, err := ReadChartResult(nil)
	assert.Error(t, err)
	_, err = ReadChartResult(schema.ToolMessage("not json", "x"))
	assert.Error(t, err)
}
