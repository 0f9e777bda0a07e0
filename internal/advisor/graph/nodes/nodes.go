// Package nodes holds the lambdas, state handlers and branch conditions of the prepare graph.
package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/wuxing-advisor/server/internal/advisor/graph/conversations"
	"github.com/wuxing-advisor/server/internal/advisor/graph/prompts"
	"github.com/wuxing-advisor/server/internal/advisor/graph/tools"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/router"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const (
	NodeSessionLoader     = "SessionLoader"
	NodeProfileTool       = "ProfileTool"
	NodeProfileSaver      = "ProfileSaver"
	NodeClassifier        = "Classifier"
	NodeGroundedAssembler = "GroundedAssembler"
	NodeGeneralAssembler  = "GeneralAssembler"
)

// Resolved is the classifier outcome. A nil Path selects the general prompt.
type Resolved struct {
	Path *model.TopicPath
}

// Classifier resolves a query to a leaf. *router.Router satisfies it.
type Classifier interface {
	Route(ctx context.Context, query string) (router.Match, error)
}

// TopicSource loads what the grounded prompt needs about a leaf.
type TopicSource interface {
	Path(ctx context.Context, leafID int64) (*model.TopicPath, error)
	LeafContent(ctx context.Context, leafID int64) (*model.LeafContent, error)
}

// NewSessionLoaderPreHandler seeds per-turn state from the input.
func NewSessionLoaderPreHandler() func(context.Context, model.TurnInput, *model.AppState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.AppState) (model.TurnInput, error) {
		s.SessionID = in.SessionID
		s.Query = strings.TrimSpace(in.Query)
		s.Locale = strings.TrimSpace(in.Locale)
		return in, nil
	}
}

// NewSessionLoaderNode loads the session snapshot into state and, when the
// session has no cached profile but birth data came with the turn, emits a
// tool call for the chart lookup. enrich=false disables the lookup.
func NewSessionLoaderNode(sessions model.SessionRepository, enrich bool, defaultTZ string) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (*schema.Message, error) {
		sess, err := sessions.GetOrCreate(ctx, in.SessionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logx.Warn().Err(err).Str("session_id", in.SessionID).Msg("Session load failed, answering without history")
			sess = &model.Session{ID: in.SessionID}
		}

		locale := strings.TrimSpace(in.Locale)
		switch {
		case locale == "":
			locale = sess.Locale
		case locale != sess.Locale:
			if err := sessions.SetLocale(ctx, in.SessionID, locale); err != nil {
				logx.Warn().Err(err).Str("session_id", in.SessionID).Msg("Failed to record locale")
			}
		}

		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			s.Session = sess
			s.Profile = sess.Profile
			s.Locale = locale
			return nil
		}); err != nil {
			return nil, fmt.Errorf("session loader state: %w", err)
		}

		msg := schema.AssistantMessage("", nil)
		if !enrich || sess.HasProfile() || in.Birth.Empty() {
			return msg, nil
		}
		call, err := tools.ChartCall(in.Birth, defaultTZ)
		if err != nil {
			logx.Warn().Err(err).Str("session_id", in.SessionID).Msg("Ignoring unusable birth data")
			return msg, nil
		}
		msg.ToolCalls = []schema.ToolCall{call}
		return msg, nil
	})
}

// NewProfileSaverNode caches a successful chart lookup in state and in the session.
func NewProfileSaverNode(sessions model.SessionRepository) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, results []*schema.Message) (*schema.Message, error) {
		done := schema.AssistantMessage("", nil)
		if len(results) == 0 {
			return done, nil
		}
		out, err := tools.ReadChartResult(results[0])
		if err != nil || !out.OK || out.Profile == "" {
			logx.Warn().Err(err).Str("reason", out.Error).Msg("No birth chart this turn")
			return done, nil
		}

		var sessionID string
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			s.Profile = out.Profile
			sessionID = s.SessionID
			return nil
		}); err != nil {
			return nil, fmt.Errorf("profile saver state: %w", err)
		}
		if err := sessions.SetProfile(ctx, sessionID, out.Profile); err != nil {
			logx.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to cache birth chart")
		}
		return done, nil
	})
}

// NewClassifierNode routes the query, resolves the leaf's ancestors and
// records the outcome on the session.
func NewClassifierNode(classifier Classifier, topics TopicSource, sessions model.SessionRepository) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *schema.Message) (Resolved, error) {
		var query, sessionID string
		_ = compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			query, sessionID = s.Query, s.SessionID
			return nil
		})

		var (
			path    *model.TopicPath
			content *model.LeafContent
		)
		match, routeErr := classifier.Route(ctx, query)
		if routeErr == nil {
			path, routeErr = topics.Path(ctx, match.LeafID)
			if routeErr != nil {
				logx.Warn().Err(routeErr).Int64("leaf_id", match.LeafID).Msg("Matched leaf has no resolvable path")
				path = nil
			}
		}
		if ctx.Err() != nil {
			return Resolved{}, ctx.Err()
		}
		if path != nil {
			c, err := topics.LeafContent(ctx, path.LeafID())
			if err != nil {
				logx.Debug().Err(err).Int64("leaf_id", path.LeafID()).Msg("No stored guidance for leaf")
			}
			content = c
		}

		if err := sessions.SetMatch(ctx, sessionID, path); err != nil {
			logx.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to record match")
		}
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			s.Topic = path
			s.Content = content
			s.RouteErr = routeErr
			return nil
		}); err != nil {
			return Resolved{}, fmt.Errorf("classifier state: %w", err)
		}
		return Resolved{Path: path}, nil
	})
}

// NewAssemblerNode renders the persona prompt. grounded=false drops the topic block.
func NewAssemblerNode(locales *prompts.Locales, window int, grounded bool) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, r Resolved) (model.PreparedTurn, error) {
		path := r.Path
		var st model.AppState
		_ = compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			st = *s
			return nil
		})

		persona := prompts.Persona{
			Query:   st.Query,
			Profile: st.Profile,
			Culture: locales.Hint(st.Locale),
		}
		if st.Session != nil {
			persona.History = conversations.Recent(st.Session.History, window)
		}
		if grounded {
			persona.Topic = path
			persona.Notes = prompts.Notes(st.Content)
		} else {
			path = nil
			logx.Info().Str("session_id", st.SessionID).AnErr("route_err", st.RouteErr).Msg("No topic matched, using general prompt")
		}

		text, err := prompts.RenderPersona(ctx, persona)
		if err != nil {
			return model.PreparedTurn{}, err
		}
		turn := model.PreparedTurn{Prompt: text, Topic: path, Grounded: grounded}
		if grounded {
			turn.Content = st.Content
		}
		return turn, nil
	})
}
