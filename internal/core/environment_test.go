package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"production":   Production,
		" PROD ":       Production,
		"Staging":      Staging,
		"stage":        Staging,
		"test":         Testing,
		"":             Development,
		"dev":          Development,
		"local-laptop": Development,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseEnvironment(in), "input %q", in)
	}
	assert.True(t, ParseEnvironment("prod").IsProduction())
	assert.False(t, ParseEnvironment("staging").IsProduction())
}
