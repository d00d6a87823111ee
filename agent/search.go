package agent

import (
	"encoding/json"
	"fmt"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"github.com/m4xw311/docseek/tools"
	"go.uber.org/zap"
)

const summaryPrompt = `Summarize these documentation search results for the query %q in a few sentences.
Refer to documents by their [id] so the user can preview or bookmark them.

%s`

// invoke makes sure the tool process runs and calls capability on it.
func (t *turn) invoke(capability string, args map[string]any) (json.RawMessage, error) {
	if _, err := t.o.tools.EnsureRunning(t.ctx); err != nil {
		return nil, err
	}
	return t.o.tools.Invoke(t.ctx, capability, args)
}

// search runs one search_docs call, replaces the last result set and
// summarizes the results with a single completion.
func (t *turn) search(text, query string) {
	t.state("dispatching", zap.String("path", "search"), zap.String("query", query))
	o := t.o
	user := session.Message{Role: session.RoleUser, Content: text}

	raw, err := t.invoke(tools.CapabilitySearch, map[string]any{"query": query, "limit": o.searchLimit})
	var results []tools.SearchResult
	if err == nil {
		results, err = tools.ParseSearchResults(raw, o.searchLimit)
	}
	if err != nil {
		t.fail(err, errors.KindTool)
		t.persist(user, session.Message{Role: session.RoleAssistant, Content: ""})
		return
	}

	o.setResults(query, results)
	if err := o.library.RecordSearch(query, results); err != nil {
		t.log.Warn("failed to record search", zap.Error(err))
	}

	listing := tools.FormatResults(query, results)
	if len(results) == 0 {
		t.emit(toolEvent(tools.CapabilitySearch, listing))
		t.persist(user, session.Message{Role: session.RoleAssistant, Content: listing})
		return
	}

	t.state("summarizing")
	summary, err := o.provider.Complete(t.ctx, o.summaryRequest(fmt.Sprintf(summaryPrompt, query, listing)), o.params)
	if err != nil {
		t.emit(toolEvent(tools.CapabilitySearch, listing))
		t.fail(err, errors.KindProvider)
		t.persist(user, session.Message{Role: session.RoleAssistant, Content: listing})
		return
	}

	reply := summary + "\n\n" + listing
	t.emit(toolEvent(tools.CapabilitySearch, reply))
	t.persist(user, session.Message{Role: session.RoleAssistant, Content: reply})
}
