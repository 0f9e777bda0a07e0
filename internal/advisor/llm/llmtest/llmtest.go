// Package llmtest provides a scripted Gateway for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/wuxing-advisor/server/internal/advisor/llm"
)

// Rule answers prompts that contain Match.
type Rule struct {
	Match string
	Reply string
	Err   error
}

// Gateway answers Complete calls from its rules, first match wins, and
// streams Chunks (then StreamErr, if set) for Stream calls.
type Gateway struct {
	mu sync.Mutex

	Rules     []Rule
	Default   string
	Chunks    []string
	StreamErr error
	// OpenErr fails Stream before any chunk.
	OpenErr error

	prompts []string
	streams []string
}

var _ llm.Gateway = (*Gateway)(nil)

func (g *Gateway) Complete(ctx context.Context, prompt string, opts ...llm.CallOption) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	rules := g.Rules
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, r := range rules {
		if strings.Contains(prompt, r.Match) {
			return r.Reply, r.Err
		}
	}
	return g.Default, nil
}

func (g *Gateway) Stream(ctx context.Context, prompt string, opts ...llm.CallOption) (*schema.StreamReader[*schema.Message], error) {
	g.mu.Lock()
	g.streams = append(g.streams, prompt)
	g.mu.Unlock()

	if g.OpenErr != nil {
		return nil, g.OpenErr
	}
	sr, sw := schema.Pipe[*schema.Message](len(g.Chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range g.Chunks {
			if closed := sw.Send(schema.AssistantMessage(c, nil), nil); closed {
				return
			}
		}
		if g.StreamErr != nil {
			sw.Send(nil, g.StreamErr)
		}
	}()
	return sr, nil
}

// Prompts returns every Complete prompt in call order.
func (g *Gateway) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// Streams returns every Stream prompt in call order.
func (g *Gateway) Streams() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.streams...)
}

// Count returns how many Complete prompts contained substr.
func (g *Gateway) Count(substr string) int {
	n := 0
	for _, p := range g.Prompts() {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}
