package intent

import (
	"strings"
	"testing"
	"testing/quick"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCommand(t *testing.T) {
	for _, in := range []string{"/exit", "/help", "/preview 2", "/THEME ocean", "/search tell me about x", "/", "/unknown thing"} {
		got := Classify(in)
		assert.Equal(t, KindCommand, got.Kind, in)
	}

	got := Classify("/Theme ocean extra")
	assert.Equal(t, "theme", got.Command)
	assert.Equal(t, []string{"ocean", "extra"}, got.Args)

	bare := Classify("/")
	assert.Equal(t, "", bare.Command)
	assert.Empty(t, bare.Args)
}

func TestClassifySearch(t *testing.T) {
	cases := []struct {
		in    string
		query string
	}{
		{"tell me about n8n json format", "n8n json format"},
		{"Can you TELL ME ABOUT goroutines?", "goroutines"},
		{"find docs on context cancellation", "context cancellation"},
		{"please search for yaml anchors.", "yaml anchors"},
		{"tell me about", "tell me about"},
		{"search for ???", "search for ???"},
	}
	for _, tc := range cases {
		got := Classify(tc.in)
		assert.Equal(t, KindSearch, got.Kind, tc.in)
		assert.Equal(t, tc.query, got.Query, tc.in)
	}
}

func TestClassifyChat(t *testing.T) {
	for _, in := range []string{"hello there", "what is a channel?", "tell me a joke", "searching for meaning", "a/b testing", "  /help", "\t/exit"} {
		got := Classify(in)
		assert.Equal(t, KindChat, got.Kind, in)
		assert.Empty(t, got.Query)
		assert.Empty(t, got.Command)
	}
}

func TestClassifyEmpty(t *testing.T) {
	got := Classify("   ")
	assert.Equal(t, KindChat, got.Kind)
	assert.Equal(t, "", got.Text)
}

func TestClassifySearchMultibyte(t *testing.T) {
	cases := []struct {
		in    string
		query string
	}{
		// Ⱥ lowercases to a longer rune, İ to a shorter one.
		{strings.Repeat("Ⱥ", 14) + " tell me about", strings.Repeat("Ⱥ", 14) + " tell me about"},
		{strings.Repeat("Ⱥ", 14) + " tell me about webhooks", "webhooks"},
		{"İİİİ tell me about webhooks", "webhooks"},
		{"İİİİ TELL ME ABOUT Ärger", "Ärger"},
		{"\xff\xfe search for yaml", "yaml"},
		{"find docs on \xff", "\xff"},
		{"日本語で search for 文字列", "文字列"},
	}
	for _, tc := range cases {
		got := Classify(tc.in)
		assert.Equal(t, KindSearch, got.Kind, tc.in)
		assert.Equal(t, tc.query, got.Query, tc.in)
	}

	assert.Equal(t, KindChat, Classify("ſearch for x").Kind)
}

func TestClassifyNeverPanics(t *testing.T) {
	check := func(prefix, suffix string, trigger uint8) bool {
		in := prefix + SearchTriggers[int(trigger)%len(SearchTriggers)] + suffix
		got := Classify(in)
		if strings.HasPrefix(in, "/") {
			return got.Kind == KindCommand
		}
		if got.Kind != KindSearch {
			return false
		}
		// The query is a substring of the input, never cut out of a
		// lowercased copy.
		return strings.Contains(in, got.Query)
	}
	require.NoError(t, quick.Check(check, &quick.Config{MaxCount: 2000}))

	invalid := func(b []byte) bool {
		got := Classify(string(b))
		if !utf8.Valid(b) && got.Kind == KindSearch {
			return strings.Contains(string(b), got.Query)
		}
		return true
	}
	require.NoError(t, quick.Check(invalid, nil))
}
