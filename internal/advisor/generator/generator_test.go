package generator

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxing-advisor/server/internal/advisor/llm/llmtest"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/taxonomy"
	"github.com/wuxing-advisor/server/internal/advisor/taxonomy/taxonomytest"
	errx "github.com/wuxing-advisor/server/internal/core/error"
)

const describeRule = "Write the description for"

func newGenerator(t *testing.T, gw *llmtest.Gateway) (*Generator, *taxonomy.Store, *int) {
	t.Helper()
	store := taxonomytest.NewStore(t)
	g := New(store, gw, model.GenerationConfig{
		Delay: time.Second,
		L1Max: 100, L2Max: 10, L3Max: 8, L4Max: 6,
		ProductContext: "A decision coaching app.",
	}, nil)
	pauses := 0
	g.sleep = func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, time.Second, d)
		pauses++
		return ctx.Err()
	}
	return g, store, &pauses
}

func childNames(t *testing.T, s *taxonomy.Store, parent int64) []string {
	t.Helper()
	nodes, err := s.ListChildren(context.Background(), parent)
	require.NoError(t, err)
	return names(nodes)
}

func TestGenerateLevelIsIdempotent(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: "SCENARIOS", Reply: `{"items":["Job Interview Preparation","Salary Negotiation","Career Change"]}`},
		{Match: describeRule, Reply: `"Shine with confidence."`},
	}}
	g, store, pauses := newGenerator(t, gw)
	root := taxonomytest.Add(t, store, model.LevelDomain, nil, "Career", "Work life.")

	report, err := g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelScenario, MaxPerParent: 3})
	require.NoError(t, err)
	assert.Equal(t, Report{Parents: 1, Inserted: 3}, report)
	assert.Equal(t, []string{"Job Interview Preparation", "Salary Negotiation", "Career Change"}, childNames(t, store, root))
	assert.Equal(t, 4, *pauses, "one pause after every model call")

	children, err := store.ListChildren(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "Shine with confidence.", children[0].Description)

	calls := len(gw.Prompts())
	report, err = g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelScenario, MaxPerParent: 3})
	require.NoError(t, err)
	assert.Equal(t, Report{Parents: 1, Skipped: 1}, report)
	assert.Len(t, gw.Prompts(), calls, "a full parent costs no model call")
}

func TestGenerateLevelBackfillsToTarget(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: "SCENARIOS", Reply: `{"items":["Job Interview Preparation","Salary Negotiation","Career Change","Office Politics"]}`},
		{Match: describeRule, Reply: "Find clarity."},
	}}
	g, store, _ := newGenerator(t, gw)
	root := taxonomytest.Add(t, store, model.LevelDomain, nil, "Career", "")
	taxonomytest.Add(t, store, model.LevelScenario, &root, "Job Interview Preparation", "")

	report, err := g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelScenario, MaxPerParent: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Inserted)

	n, err := store.CountChildren(context.Background(), root)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 3)
	assert.Equal(t, []string{"Job Interview Preparation", "Salary Negotiation"}, childNames(t, store, root))

	listing := gw.Prompts()[0]
	assert.Contains(t, listing, "Generate 2-2 items.")
	assert.Contains(t, listing, `do not repeat them: "Job Interview Preparation"`)
}

func TestGenerateLevelSkipsFailingParent(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: `within the L1 Domain "Broken"`, Err: errors.New("provider down")},
		{Match: `within the L1 Domain "Garbled"`, Reply: "I cannot answer that"},
		{Match: "SCENARIOS", Reply: `{"items":[{"name":"Moving Abroad"},"  ",null]}`},
		{Match: describeRule, Reply: "Plan the leap."},
	}}
	g, store, _ := newGenerator(t, gw)
	taxonomytest.Add(t, store, model.LevelDomain, nil, "Broken", "")
	taxonomytest.Add(t, store, model.LevelDomain, nil, "Garbled", "")
	ok := taxonomytest.Add(t, store, model.LevelDomain, nil, "Travel", "")

	report, err := g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelScenario})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Parents)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, []string{"Moving Abroad"}, childNames(t, store, ok))

	_, err = g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelScenario, StopOnError: true})
	assert.ErrorContains(t, err, "provider down")
}

func TestGenerateLevelLeavesUndescribedCandidates(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: "SUB-SCENARIOS", Reply: `{"items":["First Date Preparation","Online Dating Profile"]}`},
		{Match: `Sub-scenario "Online Dating Profile"`, Err: errors.New("timeout")},
		{Match: describeRule, Reply: "Get ready."},
	}}
	g, store, _ := newGenerator(t, gw)
	root := taxonomytest.Add(t, store, model.LevelDomain, nil, "Love & Romance", "")
	scenario := taxonomytest.Add(t, store, model.LevelScenario, &root, "Dating & Finding a Partner", "")

	report, err := g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelSubScenario})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Undescribed)
	assert.Equal(t, []string{"First Date Preparation"}, childNames(t, store, scenario))
}

func TestGenerateLevelScopedToRoot(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: "USER INTENTIONS", Reply: `{"items":["What should I wear?"]}`},
		{Match: describeRule, Reply: "Dress for your element."},
	}}
	g, store, _ := newGenerator(t, gw)
	a := taxonomytest.Chain(t, store, [4]string{"Career", "Interviews", "Interview Day", "How do I calm down?"})
	b := taxonomytest.Chain(t, store, [4]string{"Health", "Sleep", "Insomnia", "Why can't I sleep?"})

	report, err := g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelIntention, RootID: taxonomytest.Ptr(a[0])})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Parents)
	assert.Equal(t, 1, report.Inserted)
	assert.Len(t, childNames(t, store, a[2]), 2)
	assert.Len(t, childNames(t, store, b[2]), 1)
}

func TestGenerateLevelRejectsDomainLevel(t *testing.T) {
	g, _, _ := newGenerator(t, &llmtest.Gateway{})
	_, err := g.GenerateLevel(context.Background(), LevelRequest{ChildLevel: model.LevelDomain})
	assert.Error(t, err)
}

func TestGenerateDomains(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: "L1 life domains", Reply: "```json\n{\"domains\":[\"Career\",\"Love & Romance\",\"Career\"]}\n```"},
		{Match: describeRule, Reply: "“Find your path.”"},
	}}
	g, store, _ := newGenerator(t, gw)
	taxonomytest.Add(t, store, model.LevelDomain, nil, "Career", "")

	report, err := g.GenerateDomains(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Duplicates)

	domains, err := store.ListByLevel(context.Background(), model.LevelDomain)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "Find your path.", domains[1].Description)
	assert.Contains(t, gw.Prompts()[0], `do not repeat them: "Career"`)
	assert.Contains(t, gw.Prompts()[1], "2-3 sentences")
}

func TestGenerateTree(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: "SUB-SCENARIOS", Reply: `{"items":["Interview Day"]}`},
		{Match: "SCENARIOS", Reply: `{"items":["Interviews"]}`},
		{Match: "USER INTENTIONS", Reply: `{"items":["How do I calm down?","What should I wear?"]}`},
		{Match: describeRule, Reply: "Useful."},
	}}
	g, store, _ := newGenerator(t, gw)
	taxonomytest.Add(t, store, model.LevelDomain, nil, "Career", "")

	report, err := g.GenerateTree(context.Background(), TreeRequest{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Inserted)

	counts, err := store.LevelCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.LevelCount{Level: model.LevelIntention, Count: 2}, counts[3])

	report, err = g.GenerateTree(context.Background(), TreeRequest{SkipScenarios: true, SkipSubScenarios: true, MaxIntentions: 2})
	require.NoError(t, err)
	assert.Equal(t, Report{Parents: 1, Skipped: 1}, report)
}

func TestGenerateLeafContent(t *testing.T) {
	gw := &llmtest.Gateway{Rules: []llmtest.Rule{
		{Match: "How do I calm down?", Reply: `{"five_elements_insight":"Fire is high.","action_guide":["Breathe","Rehearse"],"communication_scripts":"\"I am prepared.\"","energy_harmonization":"Wear blue."}`},
		{Match: "Personal Energy Management", Reply: "not json"},
	}}
	g, store, _ := newGenerator(t, gw)
	ids := taxonomytest.Chain(t, store, [4]string{"Career", "Interviews", "Interview Day", "How do I calm down?"})
	bad := taxonomytest.Add(t, store, model.LevelIntention, taxonomytest.Ptr(ids[2]), "What should I wear?", "")

	report, err := g.GenerateLeafContent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Parents)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Failed)

	content, err := store.LeafContent(context.Background(), ids[3])
	require.NoError(t, err)
	assert.Equal(t, "Breathe\nRehearse", content.ActionGuide)
	assert.Contains(t, gw.Prompts()[0], "Scenario (L2): Interviews (Interviews description)")

	missing, err := store.LeavesWithoutContent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{bad}, missing)
}

func TestGenerationStopsWhenCancelled(t *testing.T) {
	gw := &llmtest.Gateway{Default: `{"items":["A","B"]}`}
	g, store, _ := newGenerator(t, gw)
	taxonomytest.Add(t, store, model.LevelDomain, nil, "Career", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.GenerateLevel(ctx, LevelRequest{ChildLevel: model.LevelScenario})
	assert.ErrorIs(t, err, context.Canceled)
}

type pathErrRepo struct {
	*taxonomy.Store
	err error
}

func (r pathErrRepo) Path(context.Context, int64) (*model.TopicPath, error) {
	return nil, r.err
}

func TestGenerateLeafContentPathFailures(t *testing.T) {
	gw := &llmtest.Gateway{Default: `{"five_elements_insight":"a","action_guide":["b"],"communication_scripts":"c","energy_harmonization":"d"}`}
	store := taxonomytest.NewStore(t)
	taxonomytest.Chain(t, store, [4]string{"Career", "Interviews", "Interview Day", "How do I calm down?"})
	cfg := model.GenerationConfig{L1Max: 100, L2Max: 10, L3Max: 8, L4Max: 6}

	t.Run("missing ancestors skip the leaf", func(t *testing.T) {
		g := New(pathErrRepo{Store: store, err: errx.WrapDB(sql.ErrNoRows)}, gw, cfg, nil)
		report, err := g.GenerateLeafContent(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, Report{Parents: 1, Failed: 1}, report)
	})

	t.Run("database errors abort", func(t *testing.T) {
		broken := errors.New("connection reset")
		g := New(pathErrRepo{Store: store, err: broken}, gw, cfg, nil)
		report, err := g.GenerateLeafContent(context.Background(), nil)
		require.ErrorIs(t, err, broken)
		assert.Equal(t, Report{Parents: 1}, report)
	})

	assert.Empty(t, gw.Prompts(), "no model call without a path")
}
