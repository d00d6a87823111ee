package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
)

// SearchResult is one document returned by a search. IDs are 1-based and only
// meaningful within the search that produced them.
type SearchResult = session.Document

type rawDocument struct {
	Title       string   `json:"title"`
	Name        string   `json:"name"`
	Snippet     string   `json:"snippet"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Date        string   `json:"date"`
}

// ParseSearchResults decodes the result of a search_docs call. The result may
// be a JSON array of documents or an object holding one under "results" or
// "documents". At most limit results are kept.
func ParseSearchResults(raw json.RawMessage, limit int) ([]SearchResult, error) {
	var docs []rawDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		var wrapped struct {
			Results   []rawDocument `json:"results"`
			Documents []rawDocument `json:"documents"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, errors.E(errors.KindToolProtocol, errors.Wrapf(err, "search result is not a document list"))
		}
		docs = wrapped.Results
		if docs == nil {
			docs = wrapped.Documents
		}
	}

	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	results := make([]SearchResult, 0, len(docs))
	for i, d := range docs {
		title := d.Title
		if title == "" {
			title = d.Name
		}
		snippet := d.Snippet
		if snippet == "" {
			snippet = d.Content
		}
		if snippet == "" {
			snippet = d.Description
		}
		results = append(results, SearchResult{
			ID:      i + 1,
			Title:   title,
			Snippet: snippet,
			Tags:    d.Tags,
			Date:    d.Date,
		})
	}
	return results, nil
}

// FormatResults renders results as a numbered list for display and as
// context for the summarizer.
func FormatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No documents found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d document(s) for %q:\n", len(results), query)
	for _, r := range results {
		fmt.Fprintf(&b, "[%d] %s", r.ID, r.Title)
		if r.Date != "" {
			fmt.Fprintf(&b, " (%s)", r.Date)
		}
		b.WriteString("\n")
		if r.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", r.Snippet)
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(&b, "    tags: %s\n", strings.Join(r.Tags, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
