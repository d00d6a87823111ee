package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationRoundTrip(t *testing.T) {
	path := SessionPath(t.TempDir(), "roundtrip")
	c := New("roundtrip", path)
	want := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleTool, Content: `{"ok":true}`},
		{Role: RoleAssistant, Content: "line one\nline \"two\""},
	}
	for _, m := range want {
		require.NoError(t, c.Append(m))
	}
	require.True(t, c.Dirty())
	require.NoError(t, c.Save())
	assert.False(t, c.Dirty())

	loaded, err := Load("roundtrip", path)
	require.NoError(t, err)
	assert.Equal(t, want, loaded.Messages())
}

func TestHistoryFileIsPlainArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	c := New("h", path)
	require.NoError(t, c.Append(Message{Role: RoleUser, Content: "x"}))
	require.NoError(t, c.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","content":"x"}]`, string(data))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	c, err := Load("none", filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"role":"wizard","content":"x"}]`), 0644))
	_, err := Load("bad", path)
	assert.Error(t, err)
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	c := New("x", filepath.Join(t.TempDir(), "x.json"))
	assert.Error(t, c.Append(Message{Role: "wizard"}))
	assert.Equal(t, 0, c.Len())
}

func TestMessagesReturnsCopy(t *testing.T) {
	c := New("x", "")
	require.NoError(t, c.Append(Message{Role: RoleUser, Content: "a"}))
	msgs := c.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "a", c.Messages()[0].Content)
}

func TestLibraryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.json")
	l, err := OpenLibrary(path)
	require.NoError(t, err)

	docs := []Document{
		{ID: 1, Title: "Workflows", Tags: []string{"n8n", "json"}},
		{ID: 2, Title: "Nodes", Tags: []string{"n8n"}},
	}
	require.NoError(t, l.RecordSearch("n8n json", docs))
	require.NoError(t, l.AddBookmark(docs[1], "n8n json"))

	reopened, err := OpenLibrary(path)
	require.NoError(t, err)
	require.Len(t, reopened.Searches(), 1)
	assert.Equal(t, 2, reopened.Searches()[0].Count)
	assert.Equal(t, []string{"n8n", "json", "n8n"}, reopened.Searches()[0].Tags)
	require.Len(t, reopened.Bookmarks(), 1)
	assert.Equal(t, "Nodes", reopened.Bookmarks()[0].Title)
}
