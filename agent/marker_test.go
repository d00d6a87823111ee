package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(chunks ...string) (string, []*toolMarker) {
	var s markerScanner
	var text strings.Builder
	var markers []*toolMarker
	for _, c := range chunks {
		for _, p := range s.Feed(c) {
			if p.Marker != nil {
				markers = append(markers, p.Marker)
				continue
			}
			text.WriteString(p.Text)
		}
	}
	text.WriteString(s.Flush())
	return text.String(), markers
}

func TestMarkerScannerPlainText(t *testing.T) {
	text, markers := feedAll("Hel", "lo [world]", " [[not a tool]]")
	assert.Equal(t, "Hello [world] [[not a tool]]", text)
	assert.Empty(t, markers)
}

func TestMarkerScannerSplitAcrossDeltas(t *testing.T) {
	text, markers := feedAll("Checking. [", "[to", "ol:search_docs {\"query\":", "\"n8n\"}]", "] done")
	assert.Equal(t, "Checking.  done", text)
	require.Len(t, markers, 1)
	assert.Equal(t, "search_docs", markers[0].Capability)
	assert.Equal(t, map[string]any{"query": "n8n"}, markers[0].Args)
	assert.NoError(t, markers[0].Err)
}

func TestMarkerScannerHoldsBackPrefix(t *testing.T) {
	var s markerScanner
	pieces := s.Feed("see [[to")
	require.Len(t, pieces, 1)
	assert.Equal(t, "see ", pieces[0].Text)
	assert.Equal(t, "[[to", s.Flush())
}

func TestMarkerScannerMultipleMarkers(t *testing.T) {
	text, markers := feedAll("a[[tool:one]]b[[tool:two {}]]c")
	assert.Equal(t, "abc", text)
	require.Len(t, markers, 2)
	assert.Equal(t, "one", markers[0].Capability)
	assert.Empty(t, markers[0].Args)
	assert.Equal(t, "two", markers[1].Capability)
}

func TestMarkerScannerMalformed(t *testing.T) {
	_, markers := feedAll("[[tool:search_docs {query}]]", "[[tool: ]]")
	require.Len(t, markers, 2)
	assert.Error(t, markers[0].Err)
	assert.Error(t, markers[1].Err)
}

func TestMarkerArgsMustBeObject(t *testing.T) {
	for _, args := range []string{"null", "[]", `"x"`, "42", "true", `[{"query":"a"}]`} {
		_, markers := feedAll("[[tool:search_docs " + args + "]]")
		require.Len(t, markers, 1, args)
		assert.Error(t, markers[0].Err, args)
		assert.NotNil(t, markers[0].Args, args)
	}

	_, markers := feedAll(`[[tool:search_docs {}]]`)
	require.Len(t, markers, 1)
	assert.NoError(t, markers[0].Err)
	assert.Equal(t, map[string]any{}, markers[0].Args)
}

func TestMarkerScannerUnterminatedIsText(t *testing.T) {
	text, markers := feedAll("x [[tool:search_docs {\"query\": \"a\"")
	assert.Equal(t, "x [[tool:search_docs {\"query\": \"a\"", text)
	assert.Empty(t, markers)
}

func TestPartialPrefixLen(t *testing.T) {
	assert.Equal(t, 0, partialPrefixLen("", markerOpen))
	assert.Equal(t, 1, partialPrefixLen("abc[", markerOpen))
	assert.Equal(t, 6, partialPrefixLen("[[tool", markerOpen))
	assert.Equal(t, 0, partialPrefixLen("[x", markerOpen))
}
