package parsers

import (
	"fmt"

	errx "github.com/wuxing-advisor/server/internal/core/error"
)

// LeafSections are the four guidance sections generated for an Intention.
type LeafSections struct {
	FiveElementsInsight  string
	ActionGuide          string
	CommunicationScripts string
	EnergyHarmonization  string
}

func (s LeafSections) empty() bool {
	return s.FiveElementsInsight == "" && s.ActionGuide == "" && s.CommunicationScripts == "" && s.EnergyHarmonization == ""
}

// ParseLeafContent reads the four sections from a JSON reply. List values are
// joined one per line and nested objects are kept as compact JSON.
func ParseLeafContent(content string) (sections LeafSections, err error) {
	defer recoverPanic("content_parser", &err)

	meta := Metadata{}
	content = guardLength("content_parser", content, meta)

	obj, ok := objectText(content)
	if !ok {
		return LeafSections{}, fmt.Errorf("no JSON object in reply %q: %w", safeSnippet(content), errx.ErrMalformedOutput)
	}
	fields, err := orderedFields(obj)
	if err != nil {
		return LeafSections{}, fmt.Errorf("decode content object: %v: %w", err, errx.ErrMalformedOutput)
	}

	for _, f := range fields {
		switch f.Key {
		case "five_elements_insight":
			sections.FiveElementsInsight = stringify(f.Value)
		case "action_guide":
			sections.ActionGuide = stringify(f.Value)
		case "communication_scripts":
			sections.CommunicationScripts = stringify(f.Value)
		case "energy_harmonization":
			sections.EnergyHarmonization = stringify(f.Value)
		}
	}
	if sections.empty() {
		return LeafSections{}, fmt.Errorf("content reply has none of the expected sections: %w", errx.ErrMalformedOutput)
	}
	return sections, nil
}
