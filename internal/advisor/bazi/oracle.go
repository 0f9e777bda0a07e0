// Package bazi talks to the external birth chart calculator and turns its
// Chinese-keyed chart into text for prompts and people.
package bazi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	errx "github.com/wuxing-advisor/server/internal/core/error"
	"github.com/wuxing-advisor/server/internal/metrics"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// Request selects one birth moment. Exactly one of the datetimes is used, solar first.
type Request struct {
	SolarDatetime string
	LunarDatetime string
	Gender        int
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type Oracle struct {
	runner  Runner
	cfg     model.BaziConfig
	metrics *metrics.Collector
}

func NewOracle(runner Runner, cfg model.BaziConfig, m *metrics.Collector) *Oracle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Tool == "" {
		cfg.Tool = "getBaziDetail"
	}
	return &Oracle{runner: runner, cfg: cfg, metrics: m}
}

func (o *Oracle) request(req Request) ([]byte, error) {
	args := map[string]any{
		"gender":                req.Gender,
		"eightCharProviderSect": o.cfg.Sect,
	}
	switch {
	case req.SolarDatetime != "":
		args["solarDatetime"] = req.SolarDatetime
	case req.LunarDatetime != "":
		args["lunarDatetime"] = req.LunarDatetime
	default:
		return nil, fmt.Errorf("one of solar or lunar datetime is required")
	}

	b, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  rpcParams{Name: o.cfg.Tool, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bazi request: %w", err)
	}
	return append(b, '\n'), nil
}

// Raw calls the calculator and returns the chart JSON object it produced.
func (o *Oracle) Raw(ctx context.Context, req Request) (json.RawMessage, error) {
	payload, err := o.request(req)
	if err != nil {
		return nil, errx.New(err, http.StatusBadRequest, err.Error())
	}

	start := time.Now()
	var raw json.RawMessage
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()

		out, err := o.runner.Run(callCtx, payload)
		if err != nil {
			return err
		}
		raw, err = ParseResponse(out)
		if errors.Is(err, errRPC) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, o.cfg.MaxRetries), ctx)
	notify := func(err error, d time.Duration) {
		logx.Warn().Err(err).Dur("retry_in", d).Msg("Bazi calculator failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		outcome := "error"
		if errors.Is(err, errx.ErrOracleTimeout) {
			outcome = "timeout"
		}
		o.metrics.ObserveOracle(outcome)
		logx.Error().Err(err).Dur("took", time.Since(start)).Msg("Bazi calculation failed")
		return nil, errx.WrapOracle(err)
	}
	o.metrics.ObserveOracle("ok")
	logx.Debug().Dur("took", time.Since(start)).Msg("Bazi chart computed")
	return raw, nil
}

// Chart calls the calculator and decodes the chart.
func (o *Oracle) Chart(ctx context.Context, req Request) (*Chart, error) {
	raw, err := o.Raw(ctx, req)
	if err != nil {
		return nil, err
	}
	c, err := ParseChart(raw)
	if err != nil {
		return nil, errx.WrapOracle(fmt.Errorf("decode chart: %w: %w", errx.ErrOracleUnavailable, err))
	}
	return c, nil
}

var errRPC = errors.New("calculator returned an error")

type rpcLine struct {
	Result *json.RawMessage `json:"result"`
	Error  *json.RawMessage `json:"error"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ParseResponse scans the calculator output line by line. The first line
// carrying an error fails the call; the first carrying a result wins. A
// result is either {"content":[{"text": "<json>"}]} or the chart itself,
// possibly as a JSON string.
func ParseResponse(stdout []byte) (json.RawMessage, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg rpcLine
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Result != nil {
			return decodeResult(*msg.Result)
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("%w: %s", errRPC, clip(string(*msg.Error), 300))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read calculator output: %w", err)
	}
	return nil, fmt.Errorf("no result line: %w", errx.ErrOracleUnavailable)
}

func decodeResult(result json.RawMessage) (json.RawMessage, error) {
	var wrapped toolResult
	if json.Unmarshal(result, &wrapped) == nil && wrapped.Content != nil {
		if len(wrapped.Content) == 0 || wrapped.Content[0].Text == "" {
			return nil, fmt.Errorf("empty tool content: %w", errx.ErrOracleUnavailable)
		}
		return asObject([]byte(wrapped.Content[0].Text))
	}

	var s string
	if json.Unmarshal(result, &s) == nil {
		return asObject([]byte(s))
	}
	return asObject(result)
}

func asObject(b []byte) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("chart is not a JSON object: %w", errx.ErrOracleUnavailable)
	}
	return json.RawMessage(b), nil
}
