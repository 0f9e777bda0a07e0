package parsers

import (
	"strconv"
)

// ExtractID returns the first run of ASCII digits in a selection reply.
func ExtractID(reply string) (int64, bool) {
	start := -1
	for i := 0; i < len(reply); i++ {
		c := reply[i]
		if c >= '0' && c <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return parseID(reply[start:i])
		}
	}
	if start >= 0 {
		return parseID(reply[start:])
	}
	return 0, false
}

func parseID(digits string) (int64, bool) {
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
