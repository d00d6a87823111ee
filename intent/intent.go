// Package intent decides whether a line of user input is a slash command, a
// documentation search, or plain chat.
package intent

import (
	"strings"
)

type Kind string

const (
	KindChat    Kind = "chat"
	KindSearch  Kind = "search"
	KindCommand Kind = "command"
)

// Intent is the classification of one user turn.
type Intent struct {
	Kind Kind
	// Text is the input with surrounding whitespace removed.
	Text string
	// Query is set for KindSearch.
	Query string
	// Command and Args are set for KindCommand. Command is lowercased and has
	// no leading slash.
	Command string
	Args    []string
}

// SearchTriggers are matched case-insensitively anywhere in the input.
var SearchTriggers = []string{"tell me about", "find docs on", "search for"}

// Classify maps raw input to an Intent. It never fails.
func Classify(text string) Intent {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(trimmed)
		return Intent{
			Kind:    KindCommand,
			Text:    trimmed,
			Command: strings.ToLower(strings.TrimPrefix(fields[0], "/")),
			Args:    fields[1:],
		}
	}

	for _, phrase := range SearchTriggers {
		idx := indexFold(trimmed, phrase)
		if idx < 0 {
			continue
		}
		return Intent{Kind: KindSearch, Text: trimmed, Query: SearchQuery(trimmed, trimmed[idx+len(phrase):])}
	}

	return Intent{Kind: KindChat, Text: trimmed}
}

// indexFold is strings.Index with ASCII case folding. The offset is always
// into s itself; lowercasing s first would shift it for some runes.
func indexFold(s, phrase string) int {
	for i := 0; i+len(phrase) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(phrase)], phrase) {
			return i
		}
	}
	return -1
}

// SearchQuery cleans the text following a trigger. It falls back to full when
// nothing is left.
func SearchQuery(full, rest string) string {
	q := strings.TrimRight(strings.TrimSpace(rest), "?.! ")
	if q == "" {
		return strings.TrimSpace(full)
	}
	return q
}
