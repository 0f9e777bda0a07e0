// Package graph is the response orchestrator. A compiled eino graph prepares
// each turn (session, optional birth chart, routing, prompt) and Respond
// streams the answer as events.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"

	"github.com/wuxing-advisor/server/internal/advisor/graph/conversations"
	"github.com/wuxing-advisor/server/internal/advisor/graph/nodes"
	"github.com/wuxing-advisor/server/internal/advisor/graph/prompts"
	"github.com/wuxing-advisor/server/internal/advisor/graph/tools"
	"github.com/wuxing-advisor/server/internal/advisor/llm"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// Config holds everything needed to build the orchestrator.
type Config struct {
	Gateway  llm.Gateway
	Router   nodes.Classifier
	Topics   nodes.TopicSource
	Sessions model.SessionRepository
	// Charts is optional; without it birth data is ignored.
	Charts   tools.ChartSource
	Locales  *prompts.Locales
	Response model.ResponseModelConfig

	// DefaultTZ completes birth datetimes sent without an offset.
	DefaultTZ     string
	HistoryWindow int
}

func (c *Config) validate() error {
	switch {
	case c == nil:
		return errors.New("orchestrator config is nil")
	case c.Gateway == nil:
		return errors.New("llm gateway is nil")
	case c.Router == nil || c.Topics == nil:
		return errors.New("router and topic source are required")
	case c.Sessions == nil:
		return errors.New("session store is nil")
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = conversations.DefaultWindow
	}
	return nil
}

// GraphBuilder assembles the prepare graph.
type GraphBuilder struct {
	config *Config
	graph  *compose.Graph[model.TurnInput, model.PreparedTurn]
	errs   []error
}

// BuildPrepareGraph compiles SessionLoader -> [ProfileTool -> ProfileSaver] ->
// Classifier -> GroundedAssembler | GeneralAssembler.
func BuildPrepareGraph(ctx context.Context, config *Config) (compose.Runnable[model.TurnInput, model.PreparedTurn], error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	b := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, model.PreparedTurn](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := b.setupTools(ctx); err != nil {
		return nil, err
	}
	b.addNodes()
	b.addEdges()
	b.addBranches()
	if err := errors.Join(b.errs...); err != nil {
		logx.Error().Err(err).Msg("Error assembling prepare graph")
		return nil, fmt.Errorf("assemble prepare graph: %w", err)
	}
	return b.compile(ctx)
}

func (b *GraphBuilder) check(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

func (b *GraphBuilder) setupTools(ctx context.Context) error {
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools: []tool.BaseTool{tools.NewBaziChartTool(b.config.Charts)},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}
	b.check(b.graph.AddToolsNode(nodes.NodeProfileTool, toolsNode))
	return nil
}

func (b *GraphBuilder) addNodes() {
	cfg := b.config
	b.check(b.graph.AddLambdaNode(nodes.NodeSessionLoader,
		nodes.NewSessionLoaderNode(cfg.Sessions, cfg.Charts != nil, cfg.DefaultTZ),
		compose.WithStatePreHandler(nodes.NewSessionLoaderPreHandler()),
	))
	b.check(b.graph.AddLambdaNode(nodes.NodeProfileSaver, nodes.NewProfileSaverNode(cfg.Sessions)))
	b.check(b.graph.AddLambdaNode(nodes.NodeClassifier, nodes.NewClassifierNode(cfg.Router, cfg.Topics, cfg.Sessions)))
	b.check(b.graph.AddLambdaNode(nodes.NodeGroundedAssembler, nodes.NewAssemblerNode(cfg.Locales, cfg.HistoryWindow, true)))
	b.check(b.graph.AddLambdaNode(nodes.NodeGeneralAssembler, nodes.NewAssemblerNode(cfg.Locales, cfg.HistoryWindow, false)))
}

func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeSessionLoader},
		{nodes.NodeProfileTool, nodes.NodeProfileSaver},
		{nodes.NodeProfileSaver, nodes.NodeClassifier},
		{nodes.NodeGroundedAssembler, compose.END},
		{nodes.NodeGeneralAssembler, compose.END},
	}
	for _, edge := range edges {
		b.check(b.graph.AddEdge(edge[0], edge[1]))
	}
}

func (b *GraphBuilder) addBranches() {
	b.check(b.graph.AddBranch(nodes.NodeSessionLoader, compose.NewGraphBranch(
		nodes.NewProfileCondition(),
		map[string]bool{nodes.NodeProfileTool: true, nodes.NodeClassifier: true},
	)))
	b.check(b.graph.AddBranch(nodes.NodeClassifier, compose.NewGraphBranch(
		nodes.NewGroundingCondition(),
		map[string]bool{nodes.NodeGroundedAssembler: true, nodes.NodeGeneralAssembler: true},
	)))
}

func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, model.PreparedTurn], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("prepare"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(12),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	logx.Debug().Msg("Prepare graph compiled successfully")
	return runnable, nil
}
