package agent

import (
	"encoding/json"
	"strings"

	"github.com/m4xw311/docseek/errors"
)

const (
	markerOpen  = "[[tool:"
	markerClose = "]]"
)

// maxMarkerLen bounds how much text is held back waiting for "]]".
const maxMarkerLen = 8 << 10

// toolMarker is a tool call written by the model into its reply, for example
// [[tool:search_docs {"query":"webhooks"}]].
type toolMarker struct {
	Capability string
	Args       map[string]any
	Err        error
}

// piece is either visible text or a marker, in stream order.
type piece struct {
	Text   string
	Marker *toolMarker
}

// markerScanner splits streamed text into visible text and tool markers. Text
// that could be the start of a marker is held back until it can be decided,
// so marker syntax never reaches the user.
type markerScanner struct {
	buf string
}

func (s *markerScanner) Feed(delta string) []piece {
	s.buf += delta
	var out []piece
	for {
		i := strings.Index(s.buf, markerOpen)
		if i < 0 {
			keep := partialPrefixLen(s.buf, markerOpen)
			out = appendText(out, s.buf[:len(s.buf)-keep])
			s.buf = s.buf[len(s.buf)-keep:]
			return out
		}
		out = appendText(out, s.buf[:i])
		body := s.buf[i+len(markerOpen):]
		j := strings.Index(body, markerClose)
		if j < 0 {
			s.buf = s.buf[i:]
			if len(s.buf) > maxMarkerLen {
				out = appendText(out, s.buf)
				s.buf = ""
			}
			return out
		}
		out = append(out, piece{Marker: parseMarker(body[:j])})
		s.buf = body[j+len(markerClose):]
	}
}

// Flush returns any held back text. An unterminated marker is shown as is.
func (s *markerScanner) Flush() string {
	rest := s.buf
	s.buf = ""
	return rest
}

func appendText(out []piece, text string) []piece {
	if text == "" {
		return out
	}
	return append(out, piece{Text: text})
}

// partialPrefixLen returns the length of the longest suffix of s that is a
// proper prefix of p.
func partialPrefixLen(s, p string) int {
	n := min(len(s), len(p)-1)
	for k := n; k > 0; k-- {
		if strings.HasSuffix(s, p[:k]) {
			return k
		}
	}
	return 0
}

func parseMarker(body string) *toolMarker {
	body = strings.TrimSpace(body)
	name, rest, _ := strings.Cut(body, " ")
	m := &toolMarker{Capability: strings.TrimSpace(name), Args: map[string]any{}}
	if m.Capability == "" {
		m.Err = errors.New("tool call without a capability name")
		return m
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(rest), &args); err != nil {
			m.Err = errors.Wrapf(err, "malformed arguments for %s", m.Capability)
			return m
		}
		if args == nil {
			m.Err = errors.New("arguments for %s must be a JSON object", m.Capability)
			return m
		}
		m.Args = args
	}
	return m
}
