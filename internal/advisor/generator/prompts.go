package generator

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/wuxing-advisor/server/internal/advisor/model"
)

var (
	//go:embed template/domains.txt
	domainsPrompt string
	//go:embed template/children.txt
	childrenPrompt string
	//go:embed template/description.txt
	descriptionPrompt string
	//go:embed template/leaf_content.txt
	leafContentPrompt string
)

// minBatch is the lower bound asked of the model when listing children.
const minBatch = 5

var levelLabels = map[model.Level]string{
	model.LevelDomain:      "L1 Domain",
	model.LevelScenario:    "L2 Scenario",
	model.LevelSubScenario: "L3 Sub-scenario",
	model.LevelIntention:   "L4 User Intention",
}

var childTypes = map[model.Level]string{
	model.LevelScenario:    "L2 Scenarios",
	model.LevelSubScenario: "L3 Sub-scenarios",
	model.LevelIntention:   "L4 User Intentions",
}

// render formats a user prompt through the eino prompt component so prompt callbacks fire.
func render(ctx context.Context, tpl string, vars map[string]any) (string, error) {
	msgs, err := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("render prompt: empty result")
	}
	return msgs[0].Content, nil
}

func quoteNames(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func (g *Generator) domainsPrompt(ctx context.Context, limit int, existing []string) (string, error) {
	return render(ctx, domainsPrompt, map[string]any{
		"ProductContext": g.cfg.ProductContext,
		"Max":            limit,
		"Existing":       quoteNames(existing),
	})
}

func (g *Generator) childrenPrompt(ctx context.Context, parent model.Node, child model.Level, want int, existing []string) (string, error) {
	return render(ctx, childrenPrompt, map[string]any{
		"ProductContext": g.cfg.ProductContext,
		"ChildLevel":     int(child),
		"ChildType":      childTypes[child],
		"ParentName":     parent.Name,
		"ParentType":     levelLabels[parent.Level],
		"Min":            min(minBatch, want),
		"Max":            want,
		"Existing":       quoteNames(existing),
	})
}

func (g *Generator) descriptionPrompt(ctx context.Context, name string, level model.Level, parentName string) (string, error) {
	vars := map[string]any{
		"ProductContext": g.cfg.ProductContext,
		"ItemType":       levelLabels[level],
		"Name":           name,
		"ParentName":     parentName,
		"Sentences":      "1-2",
		"ExampleType":    `L2 Scenario "Job Interview Preparation"`,
		"Example":        "Get ready to shine in your interview with cosmic guidance tailored to your energy. Make decisions about what to say, wear, and how to present yourself with confidence.",
	}
	if level == model.LevelDomain {
		vars["Sentences"] = "2-3"
		vars["ExampleType"] = `"Career & Professional Development"`
		vars["Example"] = "Feeling stuck in your career or unsure about your next move? Discover your professional path aligned with your cosmic energy. Get clear, actionable guidance to make career decisions that lead to fulfillment and success."
	}
	return render(ctx, descriptionPrompt, vars)
}

func (g *Generator) leafContentPrompt(ctx context.Context, path *model.TopicPath) (string, error) {
	return render(ctx, leafContentPrompt, map[string]any{"Path": path})
}
