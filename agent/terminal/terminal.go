package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/docseek/agent"
)

// Agent is the part of the orchestrator the terminal drives.
type Agent interface {
	Turn(ctx context.Context, text string) (<-chan agent.Event, error)
	Theme() string
}

// Options configures a Terminal.
type Options struct {
	In  io.Reader
	Out io.Writer
	// Interrupt cancels the running turn. When no turn runs it ends the
	// session.
	Interrupt <-chan struct{}
	// Banner is printed once when Run starts.
	Banner string
}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent     Agent
	in        io.Reader
	out       io.Writer
	interrupt <-chan struct{}
	banner    string

	renderer *lipgloss.Renderer
	theme    string
	styles   styles
	inReply  bool
}

// New creates a new Terminal instance
func New(a Agent, opts Options) *Terminal {
	r := lipgloss.NewRenderer(opts.Out)
	t := &Terminal{
		agent:     a,
		in:        opts.In,
		out:       opts.Out,
		interrupt: opts.Interrupt,
		banner:    opts.Banner,
		renderer:  r,
	}
	t.setTheme(a.Theme())
	return t
}

func (t *Terminal) setTheme(name string) {
	t.theme = name
	t.styles = newStyles(t.renderer, name)
}

// Run starts the interactive terminal session. It returns when the input ends,
// a command asks to exit, ctx is cancelled, or an interrupt arrives while no
// turn is running.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if t.banner != "" {
		fmt.Fprintln(t.out, t.styles.dim.Render(t.banner))
	}

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	if initialPrompt != "" && t.processTurn(ctx, initialPrompt) {
		return nil
	}

	for {
		fmt.Fprint(t.out, t.styles.prompt.Render("You: "))
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out)
			return nil
		case <-t.interrupt:
			fmt.Fprintln(t.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(t.out)
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if t.processTurn(ctx, line) {
				return nil
			}
		}
	}
}

// processTurn runs one turn and renders its events. It reports whether a
// command asked to end the session.
func (t *Terminal) processTurn(ctx context.Context, text string) (exit bool) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := t.agent.Turn(turnCtx, text)
	if err != nil {
		fmt.Fprintln(t.out, t.styles.err.Render("Error: "+err.Error()))
		return false
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-t.interrupt:
			cancel()
		case <-stop:
		}
	}()

	for ev := range events {
		if t.render(ev) {
			exit = true
		}
	}
	return exit
}

func (t *Terminal) render(ev agent.Event) (exit bool) {
	switch ev.Kind {
	case agent.EventDelta:
		if !t.inReply {
			fmt.Fprint(t.out, t.styles.name.Render("DocSeek: "))
			t.inReply = true
		}
		fmt.Fprint(t.out, t.styles.assistant.Render(ev.Text))
	case agent.EventTool:
		t.endReply()
		if ev.Source == agent.SourceCommand {
			fmt.Fprintln(t.out, t.styles.command.Render(ev.Text))
		} else {
			fmt.Fprintln(t.out, t.styles.dim.Render("["+ev.Source+"]"))
			fmt.Fprintln(t.out, t.styles.tool.Render(ev.Text))
		}
		if ev.Command != nil {
			if ev.Command.Theme != "" {
				t.setTheme(ev.Command.Theme)
			}
			exit = ev.Command.Exit
		}
	case agent.EventError:
		t.endReply()
		fmt.Fprintln(t.out, t.styles.err.Render(fmt.Sprintf("Error (%s): %s", ev.ErrKind, ev.Text)))
	case agent.EventDone:
		t.endReply()
	}
	return exit
}

func (t *Terminal) endReply() {
	if t.inReply {
		fmt.Fprintln(t.out)
		t.inReply = false
	}
}
