package compliance

import (
	"strings"
	"unicode"
)

// Single-word replies carriers treat as opt-out requests.
var optOutWords = map[string]bool{
	"stop":        true,
	"stopall":     true,
	"unsubscribe": true,
	"cancel":      true,
	"end":         true,
	"quit":        true,
}

var optOutPhrases = []string{
	"opt out",
	"opt-out",
	"optout",
	"remove me",
	"take me off",
	"don't contact",
	"dont contact",
	"do not contact",
	"stop texting",
	"stop messaging",
	"unsubscribe",
}

// IsOptOut detects regulatory opt-out requests. It is checked before any
// model-based extraction so the result never depends on the model.
func IsOptOut(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}

	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 1 && optOutWords[words[0]] {
		return true
	}
	// "STOP" as the first word, e.g. "STOP please"
	if len(words) > 0 && words[0] == "stop" && len(words) <= 3 {
		return true
	}

	for _, phrase := range optOutPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}
