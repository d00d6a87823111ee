package agent

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/m4xw311/docseek/commands"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/intent"
	"github.com/m4xw311/docseek/llm"
	"github.com/m4xw311/docseek/session"
	"github.com/m4xw311/docseek/tools"
	"go.uber.org/zap"
)

// ErrTurnInProgress is returned by Turn while a previous turn is still
// producing events.
var ErrTurnInProgress = &errors.Error{Kind: errors.KindUser, Err: stderrors.New("a turn is already in progress")}

const toolInstructions = `You can search the documentation. To do so, write a tool call on its own:
[[tool:search_docs {"query": "<what to look for>"}]]
then stop. The result is sent back to you as a tool message.`

// Options wires an Orchestrator to its collaborators.
type Options struct {
	Conversation *session.Conversation
	Library      *session.Library
	Provider     llm.Provider
	Tools        tools.Provider
	Commands     *commands.Registry
	Params       llm.Params
	SystemPrompt string
	// SearchLimit caps the number of results requested per search.
	SearchLimit int
	// MaxToolCalls caps the tool calls the model may make in one chat turn.
	MaxToolCalls int
	Theme        string
	Logger       *zap.Logger
}

// Orchestrator runs user turns one at a time against a conversation. It owns
// the last search result set that /preview and /bookmark refer to.
type Orchestrator struct {
	conv         *session.Conversation
	library      *session.Library
	provider     llm.Provider
	tools        tools.Provider
	commands     *commands.Registry
	params       llm.Params
	systemPrompt string
	basePrompt   string
	searchLimit  int
	maxToolCalls int
	log          *zap.Logger

	mu          sync.Mutex
	busy        bool
	lastResults []tools.SearchResult
	lastQuery   string
	theme       string

	closeOnce sync.Once
	closeErr  error
}

// New returns an Orchestrator. Tools, Commands and Library are optional.
func New(opts Options) (*Orchestrator, error) {
	if opts.Conversation == nil {
		return nil, errors.Newk(errors.KindConfiguration, "agent needs a conversation")
	}
	if opts.Provider == nil {
		return nil, errors.Newk(errors.KindConfiguration, "agent needs a language model provider")
	}
	if opts.Tools == nil {
		opts.Tools = tools.Disabled{}
	}
	if opts.Commands == nil {
		opts.Commands = commands.NewRegistry()
	}
	if opts.Library == nil {
		opts.Library = &session.Library{}
	}
	if opts.Params == (llm.Params{}) {
		opts.Params = llm.DefaultParams
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	if opts.MaxToolCalls < 0 {
		opts.MaxToolCalls = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	systemPrompt := opts.SystemPrompt
	if _, disabled := opts.Tools.(tools.Disabled); !disabled && opts.MaxToolCalls > 0 {
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + toolInstructions)
	}

	return &Orchestrator{
		conv:         opts.Conversation,
		library:      opts.Library,
		provider:     opts.Provider,
		tools:        opts.Tools,
		commands:     opts.Commands,
		params:       opts.Params,
		systemPrompt: systemPrompt,
		basePrompt:   opts.SystemPrompt,
		searchLimit:  opts.SearchLimit,
		maxToolCalls: opts.MaxToolCalls,
		log:          opts.Logger.Named("agent"),
		theme:        opts.Theme,
	}, nil
}

// LastResults returns the result set of the most recent search.
func (o *Orchestrator) LastResults() []tools.SearchResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]tools.SearchResult(nil), o.lastResults...)
}

func (o *Orchestrator) setResults(query string, results []tools.SearchResult) {
	o.mu.Lock()
	o.lastQuery = query
	o.lastResults = results
	o.mu.Unlock()
}

// Theme returns the current theme name.
func (o *Orchestrator) Theme() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.theme
}

// Conversation returns the conversation the orchestrator appends to.
func (o *Orchestrator) Conversation() *session.Conversation { return o.conv }

// Turn starts processing text and returns its events. The channel is closed
// after the Done event, and a new turn may start once Done was received. Cancelling ctx stops the turn early; the partial
// assistant reply is still persisted. Only one turn runs at a time.
func (o *Orchestrator) Turn(ctx context.Context, text string) (<-chan Event, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	o.busy = true
	o.mu.Unlock()

	out := make(chan Event, 64)
	t := &turn{
		o:   o,
		ctx: ctx,
		out: out,
		log: o.log.With(zap.String("turn", uuid.NewString())),
	}
	go func() {
		defer close(out)
		t.run(text)
	}()
	return out, nil
}

// Close stops the tool process and saves unsaved history. It is safe to call
// more than once.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.tools.Shutdown()
		if o.conv.Dirty() {
			o.closeErr = o.conv.Save()
		}
		o.log.Debug("session closed")
	})
	return o.closeErr
}

// request builds the message list for a provider call. The system prompt is
// added per call and never stored in the conversation.
func (o *Orchestrator) request(extra ...session.Message) []session.Message {
	var msgs []session.Message
	if o.systemPrompt != "" {
		msgs = append(msgs, session.Message{Role: session.RoleSystem, Content: o.systemPrompt})
	}
	msgs = append(msgs, o.conv.Messages()...)
	return append(msgs, extra...)
}

// summaryRequest builds a one-off request without history or tool
// instructions.
func (o *Orchestrator) summaryRequest(prompt string) []session.Message {
	var msgs []session.Message
	if o.basePrompt != "" {
		msgs = append(msgs, session.Message{Role: session.RoleSystem, Content: o.basePrompt})
	}
	return append(msgs, session.Message{Role: session.RoleUser, Content: prompt})
}

// turn is the state of one running turn. It is only used by the goroutine
// started in Turn.
type turn struct {
	o   *Orchestrator
	ctx context.Context
	out chan<- Event
	log *zap.Logger
}

func (t *turn) state(name string, fields ...zap.Field) {
	t.log.Debug("turn state", append([]zap.Field{zap.String("state", name)}, fields...)...)
}

// emit delivers ev. After cancellation it no longer blocks on a consumer that
// stopped reading.
func (t *turn) emit(ev Event) {
	select {
	case t.out <- ev:
		return
	case <-t.ctx.Done():
	}
	select {
	case t.out <- ev:
	default:
		t.log.Debug("dropped event after cancellation", zap.String("kind", string(ev.Kind)))
	}
}

func (t *turn) fail(err error, fallback errors.Kind) {
	kind := errors.KindOf(err)
	if kind == errors.KindNone {
		kind = fallback
	}
	if t.ctx.Err() != nil && !errors.IsKind(err, errors.KindUser) {
		kind = errors.KindCancelled
	}
	t.log.Debug("turn error", zap.String("kind", string(kind)), zap.Error(err))
	t.emit(errorEvent(kind, err))
}

func (t *turn) run(text string) {
	defer func() {
		t.state("idle")
		// A caller may start the next turn as soon as it sees Done.
		t.o.mu.Lock()
		t.o.busy = false
		t.o.mu.Unlock()
		t.emit(Event{Kind: EventDone})
	}()

	if t.o.conv.Dirty() {
		if err := t.o.conv.Save(); err != nil {
			t.log.Warn("retrying history save failed", zap.Error(err))
		}
	}

	t.state("classifying")
	in := intent.Classify(text)
	switch in.Kind {
	case intent.KindCommand:
		if in.Command == "search" {
			query := strings.Join(in.Args, " ")
			if query == "" {
				t.fail(errors.Newk(errors.KindUser, "usage: /search <query>"), errors.KindUser)
				return
			}
			t.search(text, query)
			return
		}
		t.command(text, in)
	case intent.KindSearch:
		t.search(text, in.Query)
	default:
		if strings.TrimSpace(text) == "" {
			return
		}
		t.chat(text)
	}
}

// persist appends messages and saves the conversation. A failed save leaves
// the conversation dirty; it is retried before the next turn.
func (t *turn) persist(msgs ...session.Message) {
	t.state("persisting")
	for _, m := range msgs {
		if err := t.o.conv.Append(m); err != nil {
			t.log.Error("dropping message", zap.Error(err))
		}
	}
	if err := t.o.conv.Save(); err != nil {
		t.log.Warn("history save failed", zap.Error(err))
	}
}

func (t *turn) command(text string, in intent.Intent) {
	t.state("dispatching", zap.String("path", "command"), zap.String("command", in.Command))

	o := t.o
	o.mu.Lock()
	env := &commands.Env{
		Results:      o.lastResults,
		Query:        o.lastQuery,
		Library:      o.library,
		Conversation: o.conv,
		Tools:        o.tools,
		Theme:        o.theme,
	}
	o.mu.Unlock()

	res, err := o.commands.Execute(t.ctx, env, in.Command, in.Args)
	if err != nil {
		t.fail(err, errors.KindUser)
		return
	}
	if res.Theme != "" {
		o.mu.Lock()
		o.theme = res.Theme
		o.mu.Unlock()
	}

	t.emit(Event{Kind: EventTool, Source: SourceCommand, Text: res.Text, Command: &res})
	t.persist(
		session.Message{Role: session.RoleUser, Content: text},
		session.Message{Role: session.RoleAssistant, Content: res.Text},
	)
}
