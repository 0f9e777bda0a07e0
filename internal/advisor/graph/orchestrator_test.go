package graph

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wuxing-advisor/server/internal/advisor/bazi"
	"github.com/wuxing-advisor/server/internal/advisor/graph/nodes"
	"github.com/wuxing-advisor/server/internal/advisor/graph/prompts"
	"github.com/wuxing-advisor/server/internal/advisor/llm/llmtest"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/router"
	"github.com/wuxing-advisor/server/internal/advisor/session"
	"github.com/wuxing-advisor/server/internal/advisor/taxonomy"
	"github.com/wuxing-advisor/server/internal/advisor/taxonomy/taxonomytest"
	errx "github.com/wuxing-advisor/server/internal/core/error"
)

const (
	l1 = "Available Life Domains (L1)"
	l2 = "Available Scenarios (L2)"
	l3 = "Available Sub-scenarios (L3)"
	l4 = "Available User Intentions (L4)"
)

type fakeCharts struct {
	mu    sync.Mutex
	calls int
	chart *bazi.Chart
	err   error
	last  bazi.Request
}

func (f *fakeCharts) Chart(ctx context.Context, req bazi.Request) (*bazi.Chart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	return f.chart, f.err
}

func (f *fakeCharts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type brokenPaths struct {
	*taxonomy.Store
	err error
}

func (b brokenPaths) Path(context.Context, int64) (*model.TopicPath, error) {
	return nil, b.err
}

type fixture struct {
	store    *taxonomy.Store
	topics   nodes.TopicSource
	gw       *llmtest.Gateway
	sessions *session.MemoryStore
	charts   *fakeCharts
	response model.ResponseModelConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:    taxonomytest.NewStore(t),
		gw:       &llmtest.Gateway{Chunks: []string{"Do ", "this."}},
		sessions: session.NewMemoryStore(model.SessionConfig{HistoryCap: 20, TTL: time.Hour, MaxEntries: 100}, nil),
		response: model.ResponseModelConfig{MaxTokens: 2048, Temperature: 0.7, Timeout: time.Minute},
	}
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	locales, err := prompts.LoadLocales("")
	require.NoError(t, err)

	cfg := Config{
		Gateway:  f.gw,
		Router:   router.New(f.store, f.gw, model.SelectionModelConfig{MaxTokens: 50, Temperature: 0.3}, nil),
		Topics:   f.store,
		Sessions: f.sessions,
		Locales:  locales,
		Response: f.response,
	}
	if f.charts != nil {
		cfg.Charts = f.charts
	}
	if f.topics != nil {
		cfg.Topics = f.topics
	}
	o, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return o
}

// seedCareer stores the interview chain and scripts the four routing replies.
func (f *fixture) seedCareer(t *testing.T) [4]int64 {
	t.Helper()
	ids := taxonomytest.Chain(t, f.store, [4]string{"Career", "Job Interview Preparation", "First interview", "Prepare for a job interview"})
	taxonomytest.Ready(t, f.store, ids[3])
	f.gw.Rules = append(f.gw.Rules,
		llmtest.Rule{Match: l1, Reply: itoa(ids[0])},
		llmtest.Rule{Match: l2, Reply: itoa(ids[1])},
		llmtest.Rule{Match: l3, Reply: itoa(ids[2])},
		llmtest.Rule{Match: l4, Reply: itoa(ids[3])},
	)
	return ids
}

func itoa(id int64) string {
	return "ID " + strconv.FormatInt(id, 10)
}

func collect(seq func(func(model.Event) bool)) []model.Event {
	var events []model.Event
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func kinds(events []model.Event) []model.EventKind {
	out := make([]model.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func history(t *testing.T, s *session.MemoryStore, id string) *model.Session {
	t.Helper()
	sess, err := s.GetOrCreate(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func TestRespondFallsBackWithEmptyTaxonomy(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "Should I quit my job?"}))

	assert.Equal(t, []model.EventKind{model.EventStatus, model.EventContent, model.EventContent, model.EventDone}, kinds(events))
	assert.Equal(t, StatusAnalyzing, events[0].Status)
	assert.Equal(t, "Do ", events[1].Content)
	assert.Empty(t, f.gw.Prompts(), "an empty taxonomy must not reach the model")

	streams := f.gw.Streams()
	require.Len(t, streams, 1)
	assert.Contains(t, streams[0], `User question: "Should I quit my job?"`)
	assert.NotContains(t, streams[0], "Topic:")
	assert.NotContains(t, streams[0], "Previous conversation:")

	sess := history(t, f.sessions, "s1")
	require.Len(t, sess.History, 2)
	assert.Equal(t, "Should I quit my job?", sess.History[0].Content)
	assert.Equal(t, "Do this.", sess.History[1].Content)
	assert.Nil(t, sess.LastMatch)
}

func TestRespondGroundedCareerTopic(t *testing.T) {
	f := newFixture(t)
	ids := f.seedCareer(t)
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "How do I prepare for a job interview?"}))

	require.Equal(t, []model.EventKind{model.EventStatus, model.EventStatus, model.EventContent, model.EventContent, model.EventDone}, kinds(events))
	assert.Equal(t, StatusAnalyzing, events[0].Status)
	assert.Equal(t, "Topic: Prepare for a job interview", events[1].Status)
	assert.Equal(t, "header", events[1].Section)
	assert.Equal(t, 4, len(f.gw.Prompts()))

	prompt := f.gw.Streams()[0]
	assert.Contains(t, prompt, "Topic: Prepare for a job interview\nContext: Career > Job Interview Preparation > First interview")
	assert.Contains(t, prompt, "Insight: Metal sharpens focus.")

	sess := history(t, f.sessions, "s1")
	require.NotNil(t, sess.LastMatch)
	assert.Equal(t, ids[3], sess.LastMatch.LeafID())
}

func TestRespondUnresolvablePathFallsBack(t *testing.T) {
	f := newFixture(t)
	f.seedCareer(t)
	f.topics = brokenPaths{Store: f.store, err: errors.New("connection reset")}
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "How do I prepare for a job interview?"}))

	require.Equal(t, []model.EventKind{model.EventStatus, model.EventContent, model.EventContent, model.EventDone}, kinds(events))
	assert.Equal(t, StatusAnalyzing, events[0].Status)
	assert.Equal(t, "Do ", events[1].Content)
	assert.Equal(t, "this.", events[2].Content)

	streams := f.gw.Streams()
	require.Len(t, streams, 1)
	assert.NotContains(t, streams[0], "Topic:")
	assert.NotContains(t, streams[0], "Insight:")

	sess := history(t, f.sessions, "s1")
	assert.Nil(t, sess.LastMatch)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "Do this.", sess.History[1].Content)
}

func TestRespondEmptyQuery(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "   "}))

	require.Equal(t, []model.EventKind{model.EventError, model.EventDone}, kinds(events))
	assert.Equal(t, EmptyQueryMessage, events[0].Error)
	assert.Empty(t, f.gw.Prompts())
	assert.Empty(t, f.gw.Streams())
	assert.Empty(t, history(t, f.sessions, "s1").History)
}

func TestRespondMidStreamFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.StreamErr = errors.New("connection reset")
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "hello"}))

	require.Equal(t, []model.EventKind{model.EventStatus, model.EventContent, model.EventContent, model.EventError, model.EventDone}, kinds(events))
	assert.Equal(t, FailureMessage, events[3].Error)

	sess := history(t, f.sessions, "s1")
	require.Len(t, sess.History, 1, "a failed stream records no reply")
	assert.Equal(t, "hello", sess.History[0].Content)
}

func TestRespondStreamOpenFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.OpenErr = errx.WrapLLM(errors.New("provider down"))
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "hello"}))

	require.Equal(t, []model.EventKind{model.EventStatus, model.EventError, model.EventDone}, kinds(events))
	assert.Equal(t, errx.LLMErrorMessage, events[1].Error)
	assert.Len(t, history(t, f.sessions, "s1").History, 1)
}

func TestRespondAbortedConsumerRecordsNoReply(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	for ev := range o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "hello"}) {
		if ev.Kind == model.EventContent {
			break
		}
	}

	sess := history(t, f.sessions, "s1")
	require.Len(t, sess.History, 1)
	assert.Equal(t, "hello", sess.History[0].Content)
}

func TestRespondCancelledContextStopsQuietly(t *testing.T) {
	f := newFixture(t)
	f.seedCareer(t)
	o := f.orchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := collect(o.Respond(ctx, model.TurnInput{SessionID: "s1", Query: "hello"}))

	require.Len(t, events, 1)
	assert.Equal(t, StatusAnalyzing, events[0].Status)
	assert.Empty(t, f.gw.Streams())
}

func TestRespondCachesBirthChartOncePerSession(t *testing.T) {
	f := newFixture(t)
	raw, err := os.ReadFile("../bazi/testdata/chart.json")
	require.NoError(t, err)
	chart, err := bazi.ParseChart(raw)
	require.NoError(t, err)
	f.charts = &fakeCharts{chart: chart}
	o := f.orchestrator(t)

	birth := &model.BirthInput{SolarDatetime: "1998-07-31 14:10", Gender: 1, Timezone: "-05:00"}
	collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "first", Birth: birth}))
	collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "second", Birth: birth}))

	assert.Equal(t, 1, f.charts.count())
	assert.Equal(t, "1998-07-31T14:10:00-05:00", f.charts.last.SolarDatetime)
	assert.Equal(t, 1, f.charts.last.Gender)

	streams := f.gw.Streams()
	require.Len(t, streams, 2)
	for _, p := range streams {
		assert.Contains(t, p, "User's Bazi (Birth Chart) - FOR YOUR REFERENCE ONLY")
		assert.Contains(t, p, "八字：戊寅 己未 丙辰 乙未")
	}
	assert.Contains(t, streams[1], "Previous conversation:\nUser: first\nYou: Do this.\n")
	assert.True(t, history(t, f.sessions, "s1").HasProfile())
}

func TestRespondContinuesWhenChartFails(t *testing.T) {
	f := newFixture(t)
	f.charts = &fakeCharts{err: errx.WrapOracle(errx.ErrOracleTimeout)}
	o := f.orchestrator(t)

	birth := &model.BirthInput{SolarDatetime: "1998-07-31T14:10:00+08:00", Gender: 0}
	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "first", Birth: birth}))
	assert.Equal(t, model.EventDone, events[len(events)-1].Kind)
	assert.NotContains(t, f.gw.Streams()[0], "User's Bazi")

	collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "again", Birth: birth}))
	assert.Equal(t, 2, f.charts.count(), "a failed lookup is retried on the next turn")
	assert.False(t, history(t, f.sessions, "s1").HasProfile())
}

func TestRespondLocaleHintIsRemembered(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)

	collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "first", Locale: "kentucky"}))
	collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "second"}))

	for _, p := range f.gw.Streams() {
		assert.Contains(t, p, "Cultural Context - FOR YOUR REFERENCE ONLY")
		assert.Contains(t, p, "neighborly")
	}
	assert.Equal(t, "kentucky", history(t, f.sessions, "s1").Locale)
}

func TestRespondDecisionHeader(t *testing.T) {
	f := newFixture(t)
	f.response.DecisionHeader = true
	f.gw.Rules = append(f.gw.Rules, llmtest.Rule{
		Match: "Generate a quick decision header",
		Reply: "```json\n{\"signal\":\"🟡\",\"vibe\":\"Grounding Energy\",\"instruction\":\"Slow down and prepare twice\"}\n```",
	})
	f.seedCareer(t)
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{SessionID: "s1", Query: "How do I prepare for a job interview?"}))

	require.Equal(t, []model.EventKind{model.EventStatus, model.EventStatus, model.EventDecision, model.EventContent, model.EventContent, model.EventDone}, kinds(events))
	require.NotNil(t, events[2].Decision)
	assert.Equal(t, "🟡", events[2].Decision.Signal)
	assert.Equal(t, "Slow down and prepare twice", events[2].Decision.Instruction)
}

func TestRespondGeneratesSessionID(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)

	events := collect(o.Respond(context.Background(), model.TurnInput{Query: "hello"}))
	assert.Equal(t, model.EventDone, events[len(events)-1].Kind)
	assert.Equal(t, 1, f.sessions.Len())
}
