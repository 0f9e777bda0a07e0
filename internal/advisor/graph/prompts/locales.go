package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales.yaml
var defaultLocales []byte

type localeEntry struct {
	PromptText string `yaml:"prompt_text"`
}

// Locales maps a region hint to stylistic guidance for the persona prompt.
type Locales struct {
	States map[string]localeEntry `yaml:"states"`
}

// ParseLocales decodes a locales YAML document.
func ParseLocales(data []byte) (*Locales, error) {
	var l Locales
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse locales: %w", err)
	}
	return &l, nil
}

// LoadLocales reads path, or the built-in table when path is empty.
func LoadLocales(path string) (*Locales, error) {
	if path == "" {
		return ParseLocales(defaultLocales)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locales %s: %w", path, err)
	}
	return ParseLocales(data)
}

// Hint returns the guidance for region, matched case-insensitively. Unknown regions yield "".
func (l *Locales) Hint(region string) string {
	region = strings.TrimSpace(region)
	if l == nil || region == "" {
		return ""
	}
	if e, ok := l.States[region]; ok {
		return strings.TrimSpace(e.PromptText)
	}
	for name, e := range l.States {
		if strings.EqualFold(name, region) {
			return strings.TrimSpace(e.PromptText)
		}
	}
	return ""
}
