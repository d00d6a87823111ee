package terminal

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/docseek/agent"
	"github.com/m4xw311/docseek/commands"
	"github.com/m4xw311/docseek/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedAgent replies to each turn with a fixed list of events. A turn
// with text "block" waits for cancellation.
type scriptedAgent struct {
	mu      sync.Mutex
	replies map[string][]agent.Event
	turns   []string
	started chan struct{}
	err     error
}

func (a *scriptedAgent) Theme() string { return "cyberpunk" }

func (a *scriptedAgent) Turn(ctx context.Context, text string) (<-chan agent.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.turns = append(a.turns, text)
	out := make(chan agent.Event, 16)
	if text == "block" {
		go func() {
			defer close(out)
			out <- agent.Event{Kind: agent.EventDelta, Text: "thinking"}
			close(a.started)
			<-ctx.Done()
			out <- agent.Event{Kind: agent.EventError, ErrKind: errors.KindCancelled, Text: ctx.Err().Error()}
			out <- agent.Event{Kind: agent.EventDone}
		}()
		return out, nil
	}
	for _, ev := range a.replies[text] {
		out <- ev
	}
	out <- agent.Event{Kind: agent.EventDone}
	close(out)
	return out, nil
}

func run(t *testing.T, a *scriptedAgent, input string, interrupt <-chan struct{}) string {
	t.Helper()
	var out strings.Builder
	term := New(a, Options{In: strings.NewReader(input), Out: &out, Interrupt: interrupt})
	require.NoError(t, term.Run(context.Background(), ""))
	return out.String()
}

func TestTerminalRendersEvents(t *testing.T) {
	a := &scriptedAgent{replies: map[string][]agent.Event{
		"hello": {
			{Kind: agent.EventDelta, Text: "Hi "},
			{Kind: agent.EventDelta, Text: "there."},
		},
		"find docs on webhooks": {
			{Kind: agent.EventTool, Source: "search_docs", Text: "[1] Webhook node"},
		},
		"oops": {
			{Kind: agent.EventError, ErrKind: errors.KindProvider, Text: "rate limited"},
		},
	}}

	out := run(t, a, "hello\n\nfind docs on webhooks\noops\n", nil)

	assert.Equal(t, []string{"hello", "find docs on webhooks", "oops"}, a.turns)
	assert.Contains(t, out, "DocSeek: Hi there.\n")
	assert.Contains(t, out, "[search_docs]\n[1] Webhook node\n")
	assert.Contains(t, out, "Error (provider): rate limited")
}

func TestTerminalExitCommand(t *testing.T) {
	a := &scriptedAgent{replies: map[string][]agent.Event{
		"/exit": {{Kind: agent.EventTool, Source: agent.SourceCommand, Text: "Goodbye!", Command: &commands.Result{Text: "Goodbye!", Exit: true}}},
	}}

	out := run(t, a, "/exit\nnever sent\n", nil)

	assert.Equal(t, []string{"/exit"}, a.turns)
	assert.Contains(t, out, "Goodbye!")
}

func TestTerminalThemeCommand(t *testing.T) {
	a := &scriptedAgent{replies: map[string][]agent.Event{
		"/theme ocean": {{Kind: agent.EventTool, Source: agent.SourceCommand, Text: "Theme set to ocean.", Command: &commands.Result{Theme: "ocean"}}},
	}}
	var out strings.Builder
	term := New(a, Options{In: strings.NewReader("/theme ocean\n"), Out: &out})
	assert.Equal(t, "cyberpunk", term.theme)

	require.NoError(t, term.Run(context.Background(), ""))
	assert.Equal(t, "ocean", term.theme)
}

func TestTerminalInitialPrompt(t *testing.T) {
	a := &scriptedAgent{replies: map[string][]agent.Event{
		"what is n8n?": {{Kind: agent.EventDelta, Text: "A workflow tool."}},
	}}
	var out strings.Builder
	term := New(a, Options{In: strings.NewReader(""), Out: &out, Banner: "DocSeek session default"})

	require.NoError(t, term.Run(context.Background(), "what is n8n?"))

	assert.Equal(t, []string{"what is n8n?"}, a.turns)
	assert.True(t, strings.HasPrefix(out.String(), "DocSeek session default\n"))
	assert.Contains(t, out.String(), "A workflow tool.")
}

func TestTerminalTurnError(t *testing.T) {
	a := &scriptedAgent{err: agent.ErrTurnInProgress}
	out := run(t, a, "hello\n", nil)
	assert.Contains(t, out, "Error: a turn is already in progress")
}

func TestTerminalInterruptCancelsTurn(t *testing.T) {
	a := &scriptedAgent{started: make(chan struct{})}
	interrupt := make(chan struct{})
	var out strings.Builder
	term := New(a, Options{In: strings.NewReader("block\n"), Out: &out, Interrupt: interrupt})

	errc := make(chan error, 1)
	go func() { errc <- term.Run(context.Background(), "") }()

	select {
	case <-a.started:
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not start")
	}
	interrupt <- struct{}{}

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Contains(t, out.String(), "DocSeek: thinking\n")
	assert.Contains(t, out.String(), "Error (cancelled)")
}

func TestTerminalInterruptWhileIdle(t *testing.T) {
	a := &scriptedAgent{}
	interrupt := make(chan struct{}, 1)
	interrupt <- struct{}{}
	pr, pw := io.Pipe()
	defer pw.Close()

	var out strings.Builder
	term := New(a, Options{In: pr, Out: &out, Interrupt: interrupt})
	require.NoError(t, term.Run(context.Background(), ""))
	assert.Empty(t, a.turns)
}
