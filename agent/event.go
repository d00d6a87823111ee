package agent

import (
	"github.com/m4xw311/docseek/commands"
	"github.com/m4xw311/docseek/errors"
)

// EventKind tags an Event. A delta carries a fragment of assistant text, a
// tool event a formatted tool or command result. Done is always the last
// event of a turn.
type EventKind string

const (
	EventDelta EventKind = "delta"
	EventTool  EventKind = "tool"
	EventError EventKind = "error"
	EventDone  EventKind = "done"
)

// SourceCommand is the Source of tool events produced by slash commands.
const SourceCommand = "command"

// Event is one unit of turn output. Events of a turn are delivered in causal
// order: a tool event always precedes the text generated from its result.
type Event struct {
	Kind EventKind
	Text string
	// Source names the capability or "command" for tool events.
	Source  string
	ErrKind errors.Kind
	// Command is set for events produced by slash commands.
	Command *commands.Result
}

func deltaEvent(text string) Event { return Event{Kind: EventDelta, Text: text} }

func toolEvent(source, text string) Event {
	return Event{Kind: EventTool, Source: source, Text: text}
}

func errorEvent(kind errors.Kind, err error) Event {
	return Event{Kind: EventError, ErrKind: kind, Text: err.Error()}
}
