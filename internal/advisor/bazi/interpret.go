package bazi

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/wuxing-advisor/server/internal/advisor/llm"
)

//go:embed template/interpret.txt
var interpretPrompt string

// Interpret asks the model for a five-part reading of c.
func Interpret(ctx context.Context, gw llm.Gateway, c *Chart) (string, error) {
	t := ElementTally(c)
	counts := make([]string, len(Elements))
	for i, e := range Elements {
		counts[i] = fmt.Sprintf("%s %s: %d", e.Name, e.English, t.Counts[i])
	}

	msgs, err := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(interpretPrompt)).Format(ctx, map[string]any{
		"Chart": c,
		"Tally": strings.Join(counts, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("render interpretation prompt: %w", err)
	}

	return gw.Complete(ctx, msgs[0].Content,
		llm.WithMaxTokens(2000),
		llm.WithTemperature(0.7),
		llm.WithTimeout(30*time.Second),
		llm.WithSite("bazi"),
	)
}
