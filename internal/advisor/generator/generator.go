// Package generator populates the taxonomy with model-proposed nodes.
// Runs are idempotent: existing siblings are never duplicated and a parent
// already at its target size costs no model call.
package generator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wuxing-advisor/server/internal/advisor/llm"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/parsers"
	"github.com/wuxing-advisor/server/internal/metrics"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// Report summarizes one generation pass.
type Report struct {
	// Parents visited.
	Parents int `json:"parents"`
	// Parents already at their target size.
	Skipped int `json:"skipped"`
	// Parents whose listing call failed or came back empty.
	Failed int `json:"failed"`
	// Candidates that were not inserted because their description call failed.
	Undescribed int `json:"undescribed"`
	// Candidates already present among their siblings.
	Duplicates int `json:"duplicates"`
	Inserted   int `json:"inserted"`
}

func (r *Report) Add(o Report) {
	r.Parents += o.Parents
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Undescribed += o.Undescribed
	r.Duplicates += o.Duplicates
	r.Inserted += o.Inserted
}

func (r Report) String() string {
	return fmt.Sprintf("parents=%d skipped=%d failed=%d undescribed=%d duplicates=%d inserted=%d",
		r.Parents, r.Skipped, r.Failed, r.Undescribed, r.Duplicates, r.Inserted)
}

// LevelRequest generates one child level under every eligible parent.
type LevelRequest struct {
	ChildLevel model.Level
	// MaxPerParent is the target child count; 0 uses the configured default.
	MaxPerParent int
	// RootID limits the pass to one Domain's subtree.
	RootID      *int64
	StopOnError bool
}

// TreeRequest fills levels 2 through 4, optionally for one Domain only.
type TreeRequest struct {
	RootID          *int64
	MaxScenarios    int
	MaxSubScenarios int
	MaxIntentions   int

	SkipScenarios    bool
	SkipSubScenarios bool
	SkipIntentions   bool

	StopOnError bool
}

type Generator struct {
	repo    model.TaxonomyRepository
	llm     llm.Gateway
	cfg     model.GenerationConfig
	metrics *metrics.Collector

	// sleep waits between model calls; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(repo model.TaxonomyRepository, gateway llm.Gateway, cfg model.GenerationConfig, m *metrics.Collector) *Generator {
	return &Generator{
		repo:    repo,
		llm:     gateway,
		cfg:     cfg,
		metrics: m,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Generator) pause(ctx context.Context) error {
	return g.sleep(ctx, g.cfg.Delay)
}

// GenerateDomains asks for a list of Domains and inserts the missing ones.
func (g *Generator) GenerateDomains(ctx context.Context, max int) (Report, error) {
	if max <= 0 {
		max = g.cfg.MaxFor(model.LevelDomain)
	}
	report := Report{Parents: 1}

	existing, err := g.repo.ListByLevel(ctx, model.LevelDomain)
	if err != nil {
		return report, fmt.Errorf("list domains: %w", err)
	}
	if len(existing) >= max {
		report.Skipped++
		logx.Info().Int("existing", len(existing)).Int("max", max).Msg("Domain list already complete")
		return report, nil
	}

	p, err := g.domainsPrompt(ctx, max, names(existing))
	if err != nil {
		return report, err
	}
	reply, err := g.llm.Complete(ctx, p,
		llm.Structured(),
		llm.WithTemperature(g.cfg.TemperatureFor(model.LevelDomain)),
		llm.WithSite("generate_domains"),
	)
	if err := g.pause(ctx); err != nil {
		return report, err
	}
	if err != nil {
		report.Failed++
		logx.Error().Err(err).Msg("Domain listing failed")
		return report, err
	}

	candidates, meta, err := parsers.ParseItems(reply, max-len(existing), "domains", "items")
	if err != nil || len(candidates) == 0 {
		report.Failed++
		logx.Error().Err(err).Interface("meta", meta).Msg("Domain listing unusable")
		if err == nil {
			err = errors.New("model returned no domains")
		}
		return report, err
	}

	if err := g.insertCandidates(ctx, &report, nil, model.LevelDomain, "", candidates, false); err != nil {
		return report, err
	}
	logx.Info().Str("report", report.String()).Msg("Domain generation finished")
	return report, nil
}

// GenerateLevel fills req.ChildLevel under every parent one level up.
// A parent whose listing fails is skipped unless StopOnError is set;
// store errors always abort the pass.
func (g *Generator) GenerateLevel(ctx context.Context, req LevelRequest) (Report, error) {
	var report Report
	child := req.ChildLevel
	if child <= model.LevelDomain || !child.Valid() {
		return report, fmt.Errorf("child level %d: must be 2..4", child)
	}
	max := req.MaxPerParent
	if max <= 0 {
		max = g.cfg.MaxFor(child)
	}
	stopOnError := req.StopOnError || g.cfg.StopOnError

	var (
		parents []model.Node
		err     error
	)
	if req.RootID != nil {
		parents, err = g.repo.ListUnderRoot(ctx, *req.RootID, child.Parent())
	} else {
		parents, err = g.repo.ListByLevel(ctx, child.Parent())
	}
	if err != nil {
		return report, fmt.Errorf("list %s parents: %w", child.Parent(), err)
	}
	if len(parents) == 0 {
		logx.Warn().Str("level", child.Parent().String()).Msg("No parents to generate under")
		return report, nil
	}

	logx.Info().Str("level", child.String()).Int("parents", len(parents)).Int("max_per_parent", max).Msg("Generating level")
	for i, parent := range parents {
		report.Parents++
		if err := g.fillParent(ctx, &report, parent, child, max, stopOnError); err != nil {
			return report, err
		}
		logx.Debug().Int("done", i+1).Int("total", len(parents)).Int64("parent_id", parent.ID).Msg("Parent processed")
	}
	logx.Info().Str("level", child.String()).Str("report", report.String()).Msg("Level generation finished")
	return report, nil
}

func (g *Generator) fillParent(ctx context.Context, report *Report, parent model.Node, child model.Level, max int, stopOnError bool) error {
	count, err := g.repo.CountChildren(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("count children of %d: %w", parent.ID, err)
	}
	if count >= max {
		report.Skipped++
		logx.Debug().Int64("parent_id", parent.ID).Int("existing", count).Msg("Parent already full")
		return nil
	}
	want := max - count

	siblings, err := g.repo.ListChildren(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("children of %d: %w", parent.ID, err)
	}

	candidates, err := g.listChildren(ctx, parent, child, want, names(siblings))
	if err != nil || len(candidates) == 0 {
		report.Failed++
		logx.Warn().Err(err).Int64("parent_id", parent.ID).Str("parent", parent.Name).Msg("No candidates generated, skipping parent")
		if stopOnError {
			if err == nil {
				err = fmt.Errorf("no candidates for %q", parent.Name)
			}
			return err
		}
		return ctx.Err()
	}

	id := parent.ID
	return g.insertCandidates(ctx, report, &id, child, parent.Name, candidates, stopOnError)
}

// listChildren returns at most want candidate names for parent.
func (g *Generator) listChildren(ctx context.Context, parent model.Node, child model.Level, want int, existing []string) ([]string, error) {
	p, err := g.childrenPrompt(ctx, parent, child, want, existing)
	if err != nil {
		return nil, err
	}
	reply, callErr := g.llm.Complete(ctx, p,
		llm.Structured(),
		llm.WithTemperature(g.cfg.TemperatureFor(child)),
		llm.WithSite("generate_children"),
	)
	if err := g.pause(ctx); err != nil {
		return nil, err
	}
	if callErr != nil {
		return nil, callErr
	}

	items, meta, err := parsers.ParseItems(reply, want, "items", strings.ToLower(strings.ReplaceAll(childTypes[child], " ", "_")))
	if err != nil {
		return nil, err
	}
	if errs := meta.Errors(); len(errs) > 0 {
		logx.Debug().Strs("parse_errors", errs).Int64("parent_id", parent.ID).Msg("Candidate list partially recovered")
	}
	return items, nil
}

// insertCandidates describes and inserts every candidate not already among its siblings.
func (g *Generator) insertCandidates(ctx context.Context, report *Report, parentID *int64, level model.Level, parentName string, candidates []string, stopOnError bool) error {
	seen := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		name = parsers.TrimQuotes(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		exists, err := g.repo.ChildExists(ctx, parentID, level, name)
		if err != nil {
			return fmt.Errorf("check %q: %w", name, err)
		}
		if exists {
			report.Duplicates++
			logx.Debug().Str("name", name).Str("level", level.String()).Msg("Already exists, skipping")
			continue
		}

		desc, err := g.describe(ctx, name, level, parentName)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Undescribed++
			logx.Warn().Err(err).Str("name", name).Msg("Description failed, candidate left for a later run")
			if stopOnError {
				return err
			}
			continue
		}

		id, err := g.repo.Insert(ctx, model.NewNode{Level: level, ParentID: parentID, Name: name, Description: desc})
		if err != nil {
			return fmt.Errorf("insert %q: %w", name, err)
		}
		report.Inserted++
		g.metrics.NodeCreated(level.String())
		logx.Info().Int64("node_id", id).Str("name", name).Str("level", level.String()).Msg("Node inserted")
	}
	return nil
}

func (g *Generator) describe(ctx context.Context, name string, level model.Level, parentName string) (string, error) {
	p, err := g.descriptionPrompt(ctx, name, level, parentName)
	if err != nil {
		return "", err
	}
	reply, callErr := g.llm.Complete(ctx, p,
		llm.WithTemperature(g.cfg.TemperatureFor(level)),
		llm.WithSite("describe"),
	)
	if err := g.pause(ctx); err != nil {
		return "", err
	}
	if callErr != nil {
		return "", callErr
	}
	desc := parsers.TrimQuotes(parsers.StripFences(reply))
	if desc == "" {
		return "", errors.New("empty description")
	}
	return desc, nil
}

// GenerateTree runs the Scenario, Sub-scenario and Intention passes in order.
func (g *Generator) GenerateTree(ctx context.Context, req TreeRequest) (Report, error) {
	var total Report
	steps := []struct {
		level model.Level
		max   int
		skip  bool
	}{
		{model.LevelScenario, req.MaxScenarios, req.SkipScenarios},
		{model.LevelSubScenario, req.MaxSubScenarios, req.SkipSubScenarios},
		{model.LevelIntention, req.MaxIntentions, req.SkipIntentions},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		r, err := g.GenerateLevel(ctx, LevelRequest{
			ChildLevel:   step.level,
			MaxPerParent: step.max,
			RootID:       req.RootID,
			StopOnError:  req.StopOnError,
		})
		total.Add(r)
		if err != nil {
			return total, fmt.Errorf("%s pass: %w", step.level, err)
		}
	}
	return total, nil
}

// GenerateLeafContent writes the four guidance sections for every Intention
// that has none yet. A leaf whose call or parse fails, or whose ancestor chain
// is incomplete, is skipped. Any other path lookup failure aborts the pass.
func (g *Generator) GenerateLeafContent(ctx context.Context, rootID *int64) (Report, error) {
	var report Report
	leaves, err := g.repo.LeavesWithoutContent(ctx, rootID)
	if err != nil {
		return report, fmt.Errorf("leaves without content: %w", err)
	}
	logx.Info().Int("leaves", len(leaves)).Msg("Generating leaf content")

	for _, leafID := range leaves {
		report.Parents++
		path, err := g.repo.Path(ctx, leafID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return report, fmt.Errorf("path of leaf %d: %w", leafID, err)
			}
			report.Failed++
			logx.Warn().Err(err).Int64("leaf_id", leafID).Msg("Leaf path incomplete, skipping")
			continue
		}

		sections, err := g.leafContent(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			logx.Warn().Err(err).Int64("leaf_id", leafID).Msg("Leaf content failed, skipping")
			if g.cfg.StopOnError {
				return report, err
			}
			continue
		}

		if _, err := g.repo.InsertLeafContent(ctx, model.LeafContent{
			LeafID:               leafID,
			FiveElementsInsight:  sections.FiveElementsInsight,
			ActionGuide:          sections.ActionGuide,
			CommunicationScripts: sections.CommunicationScripts,
			EnergyHarmonization:  sections.EnergyHarmonization,
		}); err != nil {
			return report, fmt.Errorf("insert content for %d: %w", leafID, err)
		}
		report.Inserted++
		g.metrics.NodeCreated("content")
		logx.Info().Int64("leaf_id", leafID).Str("intention", path.Intention.Name).Msg("Leaf content inserted")
	}
	return report, nil
}

func (g *Generator) leafContent(ctx context.Context, path *model.TopicPath) (parsers.LeafSections, error) {
	p, err := g.leafContentPrompt(ctx, path)
	if err != nil {
		return parsers.LeafSections{}, err
	}
	reply, callErr := g.llm.Complete(ctx, p,
		llm.Structured(),
		llm.WithTemperature(g.cfg.ContentTemperature),
		llm.WithSite("leaf_content"),
	)
	if err := g.pause(ctx); err != nil {
		return parsers.LeafSections{}, err
	}
	if callErr != nil {
		return parsers.LeafSections{}, callErr
	}
	return parsers.ParseLeafContent(reply)
}

func names(nodes []model.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}
