package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/wuxing-advisor/server/internal/core/error"
)

func TestParseItemsPlainStrings(t *testing.T) {
	items, meta, err := ParseItems(`{"items": ["Job Interview Preparation", " Salary Negotiation ", ""]}`, 0, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"Job Interview Preparation", "Salary Negotiation"}, items)
	assert.Equal(t, "items", meta["key"])
	assert.Len(t, meta.Errors(), 1)
}

func TestParseItemsNormalizesObjects(t *testing.T) {
	raw := "```json\n" + `{"items": [
		{"name": "First Date Preparation", "why": "x"},
		{"title": "Choosing a Venue"},
		{"text": "Outfit Choice"},
		{"item": "Conversation Starters"},
		{"label": "no known key"},
		7
	]}` + "\n```"
	items, meta, err := ParseItems(raw, 0, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"First Date Preparation",
		"Choosing a Venue",
		"Outfit Choice",
		"Conversation Starters",
		`{"label":"no known key"}`,
		"7",
	}, items)
	assert.Equal(t, "field:name", meta["item_0"])
	assert.Equal(t, "serialized", meta["item_4"])
}

func TestParseItemsPreferredKeyThenFirstArray(t *testing.T) {
	items, _, err := ParseItems(`{"note": "ok", "domains": ["Career", "Health"], "items": ["x"]}`, 0, "domains")
	require.NoError(t, err)
	assert.Equal(t, []string{"Career", "Health"}, items)

	items, meta, err := ParseItems(`{"count": 2, "scenarios": ["A", "B"], "other": ["C"]}`, 0, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, items)
	assert.Equal(t, "scenarios", meta["key"])
}

func TestParseItemsLimit(t *testing.T) {
	items, meta, err := ParseItems(`{"items": ["a","b","c","d"]}`, 3, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, items)
	assert.Equal(t, 1, meta["truncated_items"])
}

func TestParseItemsRecoversSurroundingProse(t *testing.T) {
	items, _, err := ParseItems(`Sure! Here you go: {"items": ["Wood"]} Hope that helps.`, 0, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"Wood"}, items)
}

func TestParseItemsMalformed(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		`["a", "b"]`,
		`{"items": "a, b"}`,
		`{"items": [1, 2}`,
	} {
		_, _, err := ParseItems(raw, 0, "items")
		assert.ErrorIs(t, err, errx.ErrMalformedOutput, raw)
	}
}

func TestExtractID(t *testing.T) {
	cases := map[string]int64{
		"12":                    12,
		"ID: 7":                 7,
		"The best match is 42.": 42,
		"ID 3: Career (or 5)":   3,
		"  0015 ":               15,
	}
	for in, want := range cases {
		got, ok := ExtractID(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ExtractID("none of these fit")
	assert.False(t, ok)
	_, ok = ExtractID("")
	assert.False(t, ok)
	_, ok = ExtractID("99999999999999999999999")
	assert.False(t, ok)
}

func TestParseLeafContent(t *testing.T) {
	raw := "```json\n" + `{
		"five_elements_insight": "Fire energy runs high before interviews.",
		"action_guide": ["Prepare three stories", "Rehearse aloud"],
		"communication_scripts": {"opening": "Thank you for having me."},
		"energy_harmonization": "Take a walk near water."
	}` + "\n```"
	s, err := ParseLeafContent(raw)
	require.NoError(t, err)
	assert.Equal(t, "Fire energy runs high before interviews.", s.FiveElementsInsight)
	assert.Equal(t, "Prepare three stories\nRehearse aloud", s.ActionGuide)
	assert.Equal(t, `{"opening":"Thank you for having me."}`, s.CommunicationScripts)
	assert.Equal(t, "Take a walk near water.", s.EnergyHarmonization)

	_, err = ParseLeafContent(`{"unrelated": 1}`)
	assert.ErrorIs(t, err, errx.ErrMalformedOutput)
	_, err = ParseLeafContent("plain prose")
	assert.ErrorIs(t, err, errx.ErrMalformedOutput)
}

func TestParseDecision(t *testing.T) {
	d, ok := ParseDecision(`Here: {"signal": "🟡", "vibe": "Grounding Energy", "instruction": "Sleep on it tonight"}`)
	require.True(t, ok)
	assert.Equal(t, "🟡", d.Signal)
	assert.Equal(t, "Grounding Energy", d.Vibe)

	d, ok = ParseDecision("no json")
	assert.False(t, ok)
	assert.Equal(t, DefaultDecision, d)

	_, ok = ParseDecision(`{"signal": "blue", "instruction": "x"}`)
	assert.False(t, ok)
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, "A calm approach.", TrimQuotes(`"A calm approach."`))
	assert.Equal(t, "A calm approach.", TrimQuotes("“A calm approach.”"))
	assert.Equal(t, `say "hi"`, TrimQuotes(`say "hi"`))
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}```"))
}
