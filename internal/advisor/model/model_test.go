package model

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"

	errx "github.com/wuxing-advisor/server/internal/core/error"
)

func TestNewNodeValidate(t *testing.T) {
	parent := int64(7)

	assert.NoError(t, NewNode{Level: LevelDomain, Name: "Career"}.Validate())
	assert.NoError(t, NewNode{Level: LevelScenario, ParentID: &parent, Name: "Job Interview Preparation"}.Validate())

	assert.ErrorIs(t, NewNode{Level: 5, Name: "x"}.Validate(), errx.ErrInvalidLevel)
	assert.Error(t, NewNode{Level: LevelDomain, ParentID: &parent, Name: "x"}.Validate())
	assert.Error(t, NewNode{Level: LevelIntention, Name: "x"}.Validate())
	assert.Error(t, NewNode{Level: LevelScenario, ParentID: &parent}.Validate())
}

func TestGenerationConfigPerLevel(t *testing.T) {
	cfg := GenerationConfig{L1Max: 100, L2Max: 10, L3Max: 8, L4Max: 6, IntentionTemperature: 0.6, ScenarioTemperature: 0.7}
	assert.Equal(t, 10, cfg.MaxFor(LevelScenario))
	assert.Equal(t, 6, cfg.MaxFor(LevelIntention))
	assert.Equal(t, 0, cfg.MaxFor(Level(9)))
	assert.Equal(t, float32(0.6), cfg.TemperatureFor(LevelIntention))
	assert.Equal(t, float32(0.7), cfg.TemperatureFor(LevelScenario))
}

func TestTopicPath(t *testing.T) {
	p := TopicPath{
		Domain:      Node{Name: "Career"},
		Scenario:    Node{Name: "Job Interview Preparation"},
		SubScenario: Node{Name: "Technical Interviews"},
		Intention:   Node{ID: 42, Name: "Calm Nerves Before Interview"},
	}
	assert.Equal(t, int64(42), p.LeafID())
	assert.Equal(t, "Career > Job Interview Preparation > Technical Interviews", p.Context())
	assert.Equal(t, "Calm Nerves Before Interview", p.Names()[3])
}

func TestComputeCost(t *testing.T) {
	in, out, total := ComputeCost(&schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 500_000}, ResolvePricing("gemini-2.5-flash"))
	assert.InDelta(t, 0.30, in, 1e-9)
	assert.InDelta(t, 1.25, out, 1e-9)
	assert.InDelta(t, 1.55, total, 1e-9)

	_, _, total = ComputeCost(nil, Pricing{InputPerM: 1})
	assert.Zero(t, total)
	assert.Equal(t, Pricing{}, ResolvePricing("llama3:8b"))
}

func TestBirthInputEmpty(t *testing.T) {
	var b *BirthInput
	assert.True(t, b.Empty())
	assert.True(t, (&BirthInput{Gender: 1}).Empty())
	assert.False(t, (&BirthInput{SolarDatetime: "1990-05-15 14:30"}).Empty())
}
