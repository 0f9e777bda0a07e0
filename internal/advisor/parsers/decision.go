package parsers

import (
	"encoding/json"
	"strings"

	"github.com/wuxing-advisor/server/internal/advisor/model"
)

// DefaultDecision is used when the decision reply cannot be read.
var DefaultDecision = model.Decision{
	Signal:      "🟢",
	Vibe:        "Clarity Energy",
	Instruction: "Trust your instinct and move forward",
}

var signals = map[string]bool{"🟢": true, "🟡": true, "🔴": true}

// ParseDecision reads the first flat JSON object in the reply. The second
// return is false when DefaultDecision was substituted.
func ParseDecision(content string) (model.Decision, bool) {
	content = StripFences(content)
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return DefaultDecision, false
	}
	end := strings.IndexByte(content[start:], '}')
	if end < 0 {
		return DefaultDecision, false
	}

	var d model.Decision
	if err := json.Unmarshal([]byte(content[start:start+end+1]), &d); err != nil {
		return DefaultDecision, false
	}
	d.Signal = strings.TrimSpace(d.Signal)
	d.Vibe = strings.TrimSpace(d.Vibe)
	d.Instruction = strings.TrimSpace(d.Instruction)
	if !signals[d.Signal] || d.Instruction == "" {
		return DefaultDecision, false
	}
	if d.Vibe == "" {
		d.Vibe = DefaultDecision.Vibe
	}
	return d, true
}
