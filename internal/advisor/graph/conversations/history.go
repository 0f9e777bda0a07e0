// Package conversations turns stored session history into prompt lines.
package conversations

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// DefaultWindow is the number of prior messages (ten rounds) shown to the model.
const DefaultWindow = 20

// Line is one prior message as the model sees it.
type Line struct {
	Label   string
	Content string
}

// Recent returns the newest window messages labelled "User" or "You".
// Messages with other roles or no text are skipped.
func Recent(history []*schema.Message, window int) []Line {
	if window <= 0 {
		window = DefaultWindow
	}
	tail := trimTail(history, window)

	lines := make([]Line, 0, len(tail))
	for _, msg := range tail {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			lines = append(lines, Line{Label: "User", Content: msg.Content})
		case schema.Assistant:
			lines = append(lines, Line{Label: "You", Content: msg.Content})
		}
	}
	return lines
}

func trimTail(messages []*schema.Message, max int) []*schema.Message {
	if len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}
