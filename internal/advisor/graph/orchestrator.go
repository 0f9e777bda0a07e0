package graph

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/wuxing-advisor/server/internal/advisor/graph/observers"
	"github.com/wuxing-advisor/server/internal/advisor/graph/prompts"
	"github.com/wuxing-advisor/server/internal/advisor/llm"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/parsers"
	errx "github.com/wuxing-advisor/server/internal/core/error"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const (
	StatusAnalyzing   = "Analyzing your question..."
	EmptyQueryMessage = "Please enter a question"
	// FailureMessage is shown when a turn could not be answered at all.
	FailureMessage = "Sorry, I couldn't answer that right now. Please try again."

	decisionMaxTokens   = 150
	decisionTemperature = 0.5
	decisionTimeout     = 30 * time.Second
)

// Orchestrator answers one question at a time per call, streaming events.
type Orchestrator struct {
	prepare   compose.Runnable[model.TurnInput, model.PreparedTurn]
	llm       llm.Gateway
	sessions  model.SessionRepository
	cfg       model.ResponseModelConfig
	observers callbacks.Handler
}

func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	runnable, err := BuildPrepareGraph(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		prepare:   runnable,
		llm:       cfg.Gateway,
		sessions:  cfg.Sessions,
		cfg:       cfg.Response,
		observers: observers.NewAllCallbacks(),
	}, nil
}

// Respond runs the whole pipeline for one turn. Every sequence the consumer
// drains ends with a done event. The user message is recorded before
// generation; the reply only once the stream has been fully delivered.
// Stopping iteration early abandons the provider call.
func (o *Orchestrator) Respond(ctx context.Context, in model.TurnInput) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		in.Query = strings.TrimSpace(in.Query)
		if in.Query == "" {
			if yield(model.ErrorEvent(EmptyQueryMessage)) {
				yield(model.DoneEvent())
			}
			return
		}
		if in.SessionID == "" {
			in.SessionID = uuid.NewString()
		}

		if !yield(model.StatusEvent(StatusAnalyzing)) {
			return
		}

		turn, err := o.prepare.Invoke(ctx, in, compose.WithCallbacks(o.observers))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Error().Err(err).Str("session_id", in.SessionID).Msg("Failed to prepare turn")
			if yield(model.ErrorEvent(FailureMessage)) {
				yield(model.DoneEvent())
			}
			return
		}

		if turn.Grounded && turn.Topic != nil {
			logx.Info().Str("session_id", in.SessionID).Int64("leaf_id", turn.Topic.LeafID()).Str("topic", turn.Topic.Intention.Name).Msg("Answering grounded")
			if !yield(model.TopicEvent(turn.Topic.Intention.Name, "header")) {
				return
			}
			if o.cfg.DecisionHeader {
				if d, ok := o.decision(ctx, in.Query, turn.Topic.Intention.Name); ok {
					if !yield(model.DecisionEvent(d)) {
						return
					}
				}
			}
		} else {
			logx.Info().Str("session_id", in.SessionID).Msg("Answering with general prompt")
		}

		if err := o.sessions.AppendHistory(ctx, in.SessionID, schema.UserMessage(in.Query)); err != nil {
			logx.Warn().Err(err).Str("session_id", in.SessionID).Msg("Failed to record user message")
		}

		reply, ok := o.stream(ctx, turn.Prompt, yield)
		if !ok {
			return
		}
		if reply != "" {
			if err := o.sessions.AppendHistory(ctx, in.SessionID, schema.AssistantMessage(reply, nil)); err != nil {
				logx.Warn().Err(err).Str("session_id", in.SessionID).Msg("Failed to record reply")
			}
		}
		yield(model.DoneEvent())
	}
}

// stream forwards content events and returns the full reply. ok is false when
// the turn ended early: consumer gone, context cancelled, or provider failure
// (in which case the error and done events were already sent).
func (o *Orchestrator) stream(ctx context.Context, prompt string, yield func(model.Event) bool) (string, bool) {
	sr, err := o.llm.Stream(ctx, prompt,
		llm.WithMaxTokens(o.cfg.MaxTokens),
		llm.WithTemperature(o.cfg.Temperature),
		llm.WithTimeout(o.cfg.Timeout),
		llm.WithSite("respond"),
	)
	if err != nil {
		if ctx.Err() == nil && yield(model.ErrorEvent(errMessage(err))) {
			yield(model.DoneEvent())
		}
		return "", false
	}
	defer sr.Close()

	var sb strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), true
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", false
			}
			logx.Error().Err(err).Int("partial_chars", sb.Len()).Msg("Answer stream failed")
			if yield(model.ErrorEvent(errMessage(err))) {
				yield(model.DoneEvent())
			}
			return "", false
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if !yield(model.ContentEvent(chunk.Content)) {
			logx.Debug().Msg("Consumer stopped reading, dropping partial reply")
			return "", false
		}
	}
}

// decision asks for the one-line verdict. A failed call yields nothing; an
// unreadable reply yields the default verdict.
func (o *Orchestrator) decision(ctx context.Context, query, topic string) (model.Decision, bool) {
	prompt, err := prompts.RenderDecision(ctx, query, topic)
	if err != nil {
		logx.Warn().Err(err).Msg("Failed to render decision prompt")
		return model.Decision{}, false
	}
	reply, err := o.llm.Complete(ctx, prompt,
		llm.WithMaxTokens(decisionMaxTokens),
		llm.WithTemperature(decisionTemperature),
		llm.WithTimeout(decisionTimeout),
		llm.WithSite("decision"),
	)
	if err != nil {
		logx.Warn().Err(err).Msg("Decision header skipped")
		return model.Decision{}, false
	}
	d, parsed := parsers.ParseDecision(reply)
	if !parsed {
		logx.Debug().Str("reply", reply).Msg("Unreadable decision reply, using default")
	}
	return d, true
}

func errMessage(err error) string {
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return FailureMessage
}
