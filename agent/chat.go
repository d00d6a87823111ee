package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/llm"
	"github.com/m4xw311/docseek/session"
	"github.com/m4xw311/docseek/tools"
	"go.uber.org/zap"
)

// chat streams a reply. When the model writes a tool marker, the stream is
// closed, the tool runs, its result is emitted, and a continuation stream is
// opened with the partial reply and the tool result as context. The reply the
// user saw is persisted however the turn ends.
func (t *turn) chat(text string) {
	o := t.o
	t.state("dispatching", zap.String("path", "chat"))

	if err := o.conv.Append(session.Message{Role: session.RoleUser, Content: text}); err != nil {
		t.fail(err, errors.KindUser)
		return
	}

	var (
		reply    strings.Builder
		extra    []session.Message
		segStart int
		calls    int
	)
	defer func() {
		t.persist(session.Message{Role: session.RoleAssistant, Content: reply.String()})
	}()

	for {
		t.state("streaming", zap.Int("tool_calls", calls))
		stream, err := o.provider.Stream(t.ctx, o.request(extra...), o.params)
		if err != nil {
			t.fail(err, errors.KindProvider)
			return
		}

		marker, err := t.consume(stream, &reply, &calls)
		stream.Close()
		if err != nil {
			t.fail(err, errors.KindProvider)
			return
		}
		if marker == nil {
			return
		}

		if partial := reply.String()[segStart:]; partial != "" {
			extra = append(extra, session.Message{Role: session.RoleAssistant, Content: partial})
		}
		segStart = reply.Len()

		t.state("tool", zap.String("capability", marker.Capability))
		note, err := t.callTool(marker)
		if err != nil && t.ctx.Err() != nil {
			t.fail(err, errors.KindCancelled)
			return
		}
		extra = append(extra, session.Message{Role: session.RoleTool, Content: note})
	}
}

// consume reads stream until it ends or yields a tool marker that is within
// the per-turn call budget. Markers over budget are reported and dropped.
func (t *turn) consume(stream llm.Stream, reply *strings.Builder, calls *int) (*toolMarker, error) {
	var scanner markerScanner
	for t.ctx.Err() == nil && stream.Next() {
		for _, p := range scanner.Feed(stream.Delta()) {
			if p.Marker == nil {
				reply.WriteString(p.Text)
				t.emit(deltaEvent(p.Text))
				continue
			}
			if *calls >= t.o.maxToolCalls {
				t.emit(errorEvent(errors.KindTool, errors.New("tool call to %s skipped: limit of %d per turn reached", p.Marker.Capability, t.o.maxToolCalls)))
				continue
			}
			*calls++
			return p.Marker, nil
		}
	}

	if rest := scanner.Flush(); rest != "" {
		reply.WriteString(rest)
		t.emit(deltaEvent(rest))
	}
	if err := t.ctx.Err(); err != nil {
		return nil, errors.E(errors.KindCancelled, err)
	}
	return nil, stream.Err()
}

// callTool runs the tool behind m and returns the note passed back to the
// model. Failures are reported to the user and turned into a note saying the
// tool was unavailable.
func (t *turn) callTool(m *toolMarker) (string, error) {
	err := m.Err
	var raw json.RawMessage
	if err == nil {
		args := make(map[string]any, len(m.Args)+1)
		for k, v := range m.Args {
			args[k] = v
		}
		if m.Capability == tools.CapabilitySearch {
			if _, ok := args["limit"]; !ok {
				args["limit"] = t.o.searchLimit
			}
		}
		raw, err = t.invoke(m.Capability, args)
	}
	if err != nil {
		if t.ctx.Err() != nil {
			return "", err
		}
		t.log.Debug("tool call failed", zap.String("capability", m.Capability), zap.Error(err))
		t.emit(errorEvent(errors.KindTool, err))
		return fmt.Sprintf("The tool %s could not be used. Continue without it.", m.Capability), err
	}

	display := formatToolResult(raw)
	if m.Capability == tools.CapabilitySearch {
		limit := t.o.searchLimit
		if results, perr := tools.ParseSearchResults(raw, limit); perr == nil {
			query, _ := m.Args["query"].(string)
			t.o.setResults(query, results)
			if err := t.o.library.RecordSearch(query, results); err != nil {
				t.log.Warn("failed to record search", zap.Error(err))
			}
			display = tools.FormatResults(query, results)
		}
	}
	t.emit(toolEvent(m.Capability, display))
	return display, nil
}

// formatToolResult shows a JSON string result as plain text and anything else
// as indented JSON.
func formatToolResult(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}
