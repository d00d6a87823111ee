// Package commands implements the slash commands available in a chat session.
// Commands work on local state only. None of them calls the language model,
// and only /reconnect touches the tool process.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"github.com/m4xw311/docseek/tools"
)

// Result is the outcome of a command.
type Result struct {
	Text string
	// Exit asks the front end to end the session.
	Exit bool
	// Theme, when set, is the theme the front end should switch to.
	Theme string
}

// Env is the session state a command may read.
type Env struct {
	// Results is the most recent search result set.
	Results      []tools.SearchResult
	Query        string
	Library      *session.Library
	Conversation *session.Conversation
	Tools        tools.Provider
	Theme        string
}

// Command defines a slash command.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	// Run is nil for commands the agent handles itself, such as /search.
	Run func(ctx context.Context, env *Env, args []string) (Result, error)
}

// Registry holds all available commands.
type Registry struct {
	commands map[string]*Command
	order    []*Command
}

// NewRegistry returns a registry with the built-in commands.
func NewRegistry() *Registry {
	r := &Registry{commands: make(map[string]*Command)}

	r.Register(&Command{Name: "help", Usage: "/help", Description: "Show available commands", Run: r.help})
	r.Register(&Command{Name: "search", Usage: "/search <query>", Description: "Search the documentation"})
	r.Register(&Command{Name: "preview", Usage: "/preview <id>", Description: "Show a result from the last search", Run: preview})
	r.Register(&Command{Name: "bookmark", Usage: "/bookmark <id>", Description: "Save a result from the last search", Run: bookmark})
	r.Register(&Command{Name: "bookmarks", Usage: "/bookmarks", Description: "List saved bookmarks", Run: listBookmarks})
	r.Register(&Command{Name: "history", Usage: "/history", Description: "List recent searches", Run: history})
	r.Register(&Command{Name: "analytics", Usage: "/analytics", Description: "Show search statistics", Run: analytics})
	r.Register(&Command{Name: "theme", Usage: "/theme <name>", Description: "Switch the color theme", Run: theme})
	r.Register(&Command{Name: "reconnect", Usage: "/reconnect", Description: "Restart the documentation tool process", Run: reconnect})
	r.Register(&Command{Name: "exit", Aliases: []string{"quit"}, Usage: "/exit", Description: "End the session", Run: exit})

	return r
}

func (r *Registry) Register(c *Command) {
	r.commands[c.Name] = c
	for _, a := range c.Aliases {
		r.commands[a] = c
	}
	r.order = append(r.order, c)
}

func (r *Registry) Get(name string) (*Command, bool) {
	c, ok := r.commands[strings.ToLower(name)]
	return c, ok
}

// Commands returns the registered commands in registration order.
func (r *Registry) Commands() []*Command {
	return append([]*Command(nil), r.order...)
}

// Execute runs the named command. An unknown name is not an error; it yields
// a uniform hint instead.
func (r *Registry) Execute(ctx context.Context, env *Env, name string, args []string) (Result, error) {
	c, ok := r.Get(name)
	if !ok {
		return Result{Text: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name)}, nil
	}
	if c.Run == nil {
		return Result{}, errors.Newk(errors.KindUser, "/%s is handled by the agent", c.Name)
	}
	return c.Run(ctx, env, args)
}

func (r *Registry) help(ctx context.Context, env *Env, args []string) (Result, error) {
	width := 0
	for _, c := range r.order {
		width = max(width, len(c.Usage))
	}
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range r.order {
		fmt.Fprintf(&b, "  %-*s  %s\n", width, c.Usage, c.Description)
	}
	b.WriteString("Anything else is sent to the assistant. Phrases like \"tell me about ...\" run a search.")
	return Result{Text: b.String()}, nil
}

func exit(ctx context.Context, env *Env, args []string) (Result, error) {
	return Result{Text: "Goodbye!", Exit: true}, nil
}
