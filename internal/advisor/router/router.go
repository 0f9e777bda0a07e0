// Package router walks the taxonomy top-down, asking the model to pick one
// child per level. The descent is greedy: a stage never revisits an earlier choice.
package router

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/wuxing-advisor/server/internal/advisor/llm"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/parsers"
	errx "github.com/wuxing-advisor/server/internal/core/error"
	"github.com/wuxing-advisor/server/internal/metrics"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

//go:embed template/select.txt
var selectPrompt string

type stage struct {
	level model.Level
	label string
	task  string
	// descLen is how much of each description is shown; 0 shows none.
	descLen int
}

var stages = [4]stage{
	{model.LevelDomain, "Life Domains (L1)", "Select the single most relevant Life Domain ID that best matches the user's question.", 100},
	{model.LevelScenario, "Scenarios (L2)", "Select the single most relevant Scenario ID that best matches the user's specific situation.", 100},
	{model.LevelSubScenario, "Sub-scenarios (L3)", "Select the single most relevant Sub-scenario ID.", 80},
	{model.LevelIntention, "User Intentions (L4)", "Select the single most relevant Intention ID that exactly matches what the user wants to know.", 0},
}

// Match is a successful route.
type Match struct {
	LeafID int64
	// Trail holds the chosen id at each level, Domain first.
	Trail [4]int64
	// Fallback is set when no Intention had content and the first child was taken unasked.
	Fallback bool
}

type Router struct {
	repo    model.TaxonomyRepository
	llm     llm.Gateway
	cfg     model.SelectionModelConfig
	metrics *metrics.Collector
}

func New(repo model.TaxonomyRepository, gateway llm.Gateway, cfg model.SelectionModelConfig, m *metrics.Collector) *Router {
	return &Router{repo: repo, llm: gateway, cfg: cfg, metrics: m}
}

// Route resolves query to one Intention. Any stage that cannot choose ends the
// walk with errx.ErrNoMatch; an empty candidate set fails without a model call.
func (r *Router) Route(ctx context.Context, query string) (Match, error) {
	start := time.Now()
	var m Match

	query = strings.TrimSpace(query)
	if query == "" {
		return m, errx.ErrEmptyQuery
	}

	for i, st := range stages {
		candidates, fallback, err := r.candidates(ctx, st.level, m.Trail)
		if err != nil {
			return m, r.fail(ctx, i+1, query, err)
		}
		if len(candidates) == 0 {
			return m, r.fail(ctx, i+1, query, fmt.Errorf("no %s candidates: %w", st.level, errx.ErrNoMatch))
		}
		if fallback {
			m.Trail[i] = candidates[0].ID
			m.Fallback = true
			logx.Debug().Int64("node_id", candidates[0].ID).Msg("No ready intention, taking first child")
			break
		}

		id, err := r.pick(ctx, st, query, candidates)
		if err != nil {
			return m, r.fail(ctx, i+1, query, err)
		}
		m.Trail[i] = id
		logx.Debug().Int("stage", i+1).Int64("node_id", id).Msg("Stage selected")
	}

	m.LeafID = m.Trail[3]
	result := "matched"
	if m.Fallback {
		result = "fallback"
	}
	r.metrics.ObserveRoute(result, 0)
	logx.Info().Str("query", query).Int64("leaf_id", m.LeafID).Bool("fallback", m.Fallback).Dur("took", time.Since(start)).Msg("Query routed")
	return m, nil
}

func (r *Router) fail(ctx context.Context, stage int, query string, err error) error {
	r.metrics.ObserveRoute("no_match", stage)
	logx.Info().Err(err).Int("stage", stage).Str("query", query).Msg("Routing failed")
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, errx.ErrNoMatch) {
		return fmt.Errorf("stage %d: %w", stage, err)
	}
	return fmt.Errorf("stage %d: %w: %w", stage, errx.ErrNoMatch, err)
}

// candidates lists the choices for level under the trail so far. fallback is
// true when the Intention stage had to fall back to unready leaves.
func (r *Router) candidates(ctx context.Context, level model.Level, trail [4]int64) ([]model.Node, bool, error) {
	switch level {
	case model.LevelDomain:
		nodes, err := r.repo.ListByLevel(ctx, level)
		return nodes, false, err
	case model.LevelIntention:
		ready, err := r.repo.ListReadyLeaves(ctx, trail[2])
		if err != nil || len(ready) > 0 {
			return ready, false, err
		}
		all, err := r.repo.ListChildren(ctx, trail[2])
		if err != nil {
			return nil, false, err
		}
		return atLevel(all, level), len(all) > 0, nil
	default:
		nodes, err := r.repo.ListChildren(ctx, trail[level-2])
		return atLevel(nodes, level), false, err
	}
}

func atLevel(nodes []model.Node, level model.Level) []model.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}

// pick asks the model for one id and checks it is among candidates.
func (r *Router) pick(ctx context.Context, st stage, query string, candidates []model.Node) (int64, error) {
	p, err := r.prompt(ctx, st, query, candidates)
	if err != nil {
		return 0, err
	}
	reply, err := r.llm.Complete(ctx, p,
		llm.WithTemperature(r.cfg.Temperature),
		llm.WithMaxTokens(r.cfg.MaxTokens),
		llm.WithTimeout(r.cfg.Timeout),
		llm.WithSite("route"),
	)
	if err != nil {
		return 0, err
	}

	id, ok := parsers.ExtractID(reply)
	if !ok {
		return 0, fmt.Errorf("no id in reply %q: %w", snippet(reply), errx.ErrNoMatch)
	}
	for _, c := range candidates {
		if c.ID == id {
			return id, nil
		}
	}
	return 0, fmt.Errorf("id %d is not a %s candidate: %w", id, st.level, errx.ErrNoMatch)
}

func (r *Router) prompt(ctx context.Context, st stage, query string, candidates []model.Node) (string, error) {
	lines := make([]string, len(candidates))
	for i, c := range candidates {
		lines[i] = candidateLine(c, st.descLen)
	}
	msgs, err := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(selectPrompt)).Format(ctx, map[string]any{
		"Query":      query,
		"Label":      st.label,
		"Candidates": strings.Join(lines, "\n"),
		"Task":       st.task,
	})
	if err != nil {
		return "", fmt.Errorf("render selection prompt: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("render selection prompt: empty result")
	}
	return msgs[0].Content, nil
}

func candidateLine(n model.Node, descLen int) string {
	if descLen == 0 {
		return fmt.Sprintf("ID %d: %s", n.ID, n.Name)
	}
	return fmt.Sprintf("ID %d: %s - %s", n.ID, n.Name, truncate(n.Description, descLen))
}

// truncate cuts s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func snippet(s string) string {
	return truncate(strings.TrimSpace(s), 60)
}
