package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/m4xw311/docseek/config"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"github.com/m4xw311/docseek/tools"
)

const historyLimit = 10

// lookup resolves an id argument against the last result set.
func lookup(env *Env, args []string, usage string) (tools.SearchResult, error) {
	if len(args) != 1 {
		return tools.SearchResult{}, errors.Newk(errors.KindUser, "usage: %s", usage)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return tools.SearchResult{}, errors.Newk(errors.KindUser, "invalid id %q: usage: %s", args[0], usage)
	}
	if len(env.Results) == 0 {
		return tools.SearchResult{}, errors.Newk(errors.KindUser, "no search results yet; run a search first")
	}
	for _, r := range env.Results {
		if r.ID == id {
			return r, nil
		}
	}
	return tools.SearchResult{}, errors.Newk(errors.KindUser, "no result with id %d in the last search (valid ids: 1-%d)", id, len(env.Results))
}

func preview(ctx context.Context, env *Env, args []string) (Result, error) {
	doc, err := lookup(env, args, "/preview <id>")
	if err != nil {
		return Result{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", doc.ID, doc.Title)
	if doc.Date != "" {
		fmt.Fprintf(&b, " (%s)", doc.Date)
	}
	if doc.Snippet != "" {
		fmt.Fprintf(&b, "\n\n%s", doc.Snippet)
	}
	if len(doc.Tags) > 0 {
		fmt.Fprintf(&b, "\n\ntags: %s", strings.Join(doc.Tags, ", "))
	}
	return Result{Text: b.String()}, nil
}

func bookmark(ctx context.Context, env *Env, args []string) (Result, error) {
	doc, err := lookup(env, args, "/bookmark <id>")
	if err != nil {
		return Result{}, err
	}
	if env.Library == nil {
		return Result{}, errors.Newk(errors.KindUser, "bookmarks are not available in this session")
	}
	if err := env.Library.AddBookmark(doc, env.Query); err != nil {
		return Result{}, errors.Wrapf(err, "failed to save bookmark")
	}
	return Result{Text: fmt.Sprintf("Bookmarked: %s", doc.Title)}, nil
}

func listBookmarks(ctx context.Context, env *Env, args []string) (Result, error) {
	var marks []session.Bookmark
	if env.Library != nil {
		marks = env.Library.Bookmarks()
	}
	if len(marks) == 0 {
		return Result{Text: "No bookmarks yet. Use /bookmark <id> after a search."}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d bookmark(s):", len(marks))
	for i, m := range marks {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, m.Title)
		if m.Query != "" {
			fmt.Fprintf(&b, "  (from %q)", m.Query)
		}
	}
	return Result{Text: b.String()}, nil
}

func history(ctx context.Context, env *Env, args []string) (Result, error) {
	var searches []session.SearchRecord
	if env.Library != nil {
		searches = env.Library.Searches()
	}
	if len(searches) == 0 {
		return Result{Text: "No search history found."}, nil
	}
	if len(searches) > historyLimit {
		searches = searches[len(searches)-historyLimit:]
	}
	var b strings.Builder
	b.WriteString("Recent searches:")
	for _, s := range searches {
		fmt.Fprintf(&b, "\n  %s  %s (%d result(s))", s.At.Format("2006-01-02 15:04"), s.Query, s.Count)
	}
	return Result{Text: b.String()}, nil
}

func analytics(ctx context.Context, env *Env, args []string) (Result, error) {
	var (
		searches []session.SearchRecord
		marks    int
		messages int
	)
	if env.Library != nil {
		searches = env.Library.Searches()
		marks = len(env.Library.Bookmarks())
	}
	if env.Conversation != nil {
		messages = env.Conversation.Len()
	}
	return Result{Text: fmt.Sprintf("Search count: %d\nMost common tag: %s\nBookmarks: %d\nMessages: %d",
		len(searches), mostCommonTag(searches), marks, messages)}, nil
}

// mostCommonTag breaks ties alphabetically so the answer is stable.
func mostCommonTag(searches []session.SearchRecord) string {
	counts := make(map[string]int)
	for _, s := range searches {
		for _, t := range s.Tags {
			counts[t]++
		}
	}
	if len(counts) == 0 {
		return "None"
	}
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	return tags[0]
}

func theme(ctx context.Context, env *Env, args []string) (Result, error) {
	available := strings.Join(config.Themes, ", ")
	if len(args) == 0 {
		return Result{Text: fmt.Sprintf("Current theme: %s. Available: %s", env.Theme, available)}, nil
	}
	name := strings.ToLower(args[0])
	if !config.IsTheme(name) {
		return Result{}, errors.Newk(errors.KindUser, "unknown theme %q (available: %s)", args[0], available)
	}
	return Result{Text: fmt.Sprintf("Theme set to %s.", name), Theme: name}, nil
}

func reconnect(ctx context.Context, env *Env, args []string) (Result, error) {
	if env.Tools == nil {
		return Result{}, errors.Newk(errors.KindToolUnavailable, "no tool process configured")
	}
	env.Tools.Reset()
	h, err := env.Tools.EnsureRunning(ctx)
	if err != nil {
		return Result{}, err
	}
	text := "Documentation tool is running"
	if h.Name != "" {
		text += fmt.Sprintf(" (%s)", h.Name)
	}
	return Result{Text: text + "."}, nil
}
