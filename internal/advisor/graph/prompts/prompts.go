// Package prompts renders the answer prompts through the eino prompt component.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/wuxing-advisor/server/internal/advisor/graph/conversations"
	"github.com/wuxing-advisor/server/internal/advisor/model"
)

var (
	//go:embed template/persona.txt
	personaPrompt string
	//go:embed template/decision.txt
	decisionPrompt string
)

// Persona is everything the coach prompt can be conditioned on.
// A nil Topic renders the general, ungrounded variant.
type Persona struct {
	Query   string
	Profile string
	Culture string
	Topic   *model.TopicPath
	Notes   string
	History []conversations.Line
}

// RenderPersona builds the single user message the answer is streamed from.
func RenderPersona(ctx context.Context, p Persona) (string, error) {
	return render(ctx, personaPrompt, map[string]any{
		"Query":   p.Query,
		"Profile": p.Profile,
		"Culture": p.Culture,
		"Topic":   p.Topic,
		"Notes":   p.Notes,
		"History": p.History,
	})
}

// RenderDecision builds the short JSON verdict prompt for a matched topic.
func RenderDecision(ctx context.Context, query, topic string) (string, error) {
	return render(ctx, decisionPrompt, map[string]any{
		"Query": query,
		"Topic": topic,
	})
}

// Notes condenses stored leaf guidance into a reference block for the grounded prompt.
func Notes(c *model.LeafContent) string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	add := func(label, text string) {
		if text == "" {
			return
		}
		sb.WriteString(label + ": " + text + "\n")
	}
	add("Insight", c.FiveElementsInsight)
	add("Actions", c.ActionGuide)
	add("Scripts", c.CommunicationScripts)
	add("Harmonizing", c.EnergyHarmonization)
	return sb.String()
}

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
