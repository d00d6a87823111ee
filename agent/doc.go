// Package agent runs DocSeek conversation turns.
//
// An Orchestrator owns one conversation and processes one user turn at a
// time. Each turn is classified, dispatched, and answered with an ordered
// stream of events that the frontends render.
//
// # Architecture
//
// The agent package sits between the frontends and the backends:
//
//   - Core orchestrator (this package): classification, dispatch, tool-call
//     handling, persistence and the event stream
//   - Terminal subpackage (agent/terminal): the interactive CLI
//   - WebSocket subpackage (agent/wsbridge): the same event stream served to a
//     browser or IDE client over a WebSocket
//
// Backends are reached through interfaces: llm.Provider for the language
// model, tools.Provider for the documentation tool process and
// commands.Registry for slash commands.
//
// # Turns
//
// Turn returns a channel of events. Every turn ends with exactly one
// EventDone, after which the channel is closed. In between, events appear in
// the order they happened:
//
//   - EventDelta: a fragment of streamed assistant text
//   - EventTool: output of a tool call or a slash command
//   - EventError: a failure, tagged with an errors.Kind
//
// Input is dispatched by intent.Classify:
//
//   - Commands run against the current result set. /search is routed to the
//     search path.
//   - Searches call the search_docs capability once and summarize the results
//     with a single completion.
//   - Chat streams a reply. The model may write a tool call marker such as
//     [[tool:search_docs {"query": "webhooks"}]] into its reply; the stream is
//     paused, the tool runs, and a continuation stream is opened with the tool
//     result as context.
//
// # Usage
//
//	o, err := agent.New(agent.Options{
//	    Conversation: conv,
//	    Provider:     provider,
//	    Tools:        supervisor,
//	})
//	if err != nil {
//	    // handle error
//	}
//	defer o.Close()
//
//	events, err := o.Turn(ctx, "tell me about webhook nodes")
//	if err != nil {
//	    // a turn is already running
//	}
//	for ev := range events {
//	    // render ev
//	}
//
// # Persistence
//
// The user message and the assistant reply are appended to the conversation
// and saved when a turn ends, including when it ends in an error or is
// cancelled. The system prompt is added to every provider request and is never
// stored. Tool results passed back to the model are not stored either.
package agent
