package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/docseek/config"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"github.com/m4xw311/docseek/tools"
	"github.com/m4xw311/docseek/tools/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// isolate runs the test in an empty working and home directory so no real
// configuration is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestChatSessionRoundTrip(t *testing.T) {
	dir := isolate(t)

	var out strings.Builder
	cmd := newRootCmd()
	cmd.SetArgs([]string{"-s", "demo"})
	cmd.SetIn(strings.NewReader("hello\n/exit\n"))
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "DocSeek session demo.")
	assert.Contains(t, out.String(), "You said: 'hello'")
	assert.Contains(t, out.String(), "Goodbye")

	conv, err := session.Load("demo", session.SessionPath(filepath.Join(dir, ".docseek"), "demo"))
	require.NoError(t, err)
	msgs := conv.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "/exit", msgs[2].Content)
	assert.FileExists(t, filepath.Join(dir, ".docseek", "docseek.log"))

	// A second run resumes the same history.
	out.Reset()
	cmd = newRootCmd()
	cmd.SetArgs([]string{"--session", "demo"})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "DocSeek session demo (4 messages).")
}

func TestInvalidConfigIsConfigurationError(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("theme: plaid\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&strings.Builder{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestNewToolProvider(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, tools.Disabled{}, newToolProvider(cfg, zap.NewNop()))

	cfg.Tool.Command = "docs-server"
	assert.IsType(t, &tools.Supervisor{}, newToolProvider(cfg, zap.NewNop()))

	cfg.Tool.Protocol = config.ProtocolMCP
	assert.IsType(t, &mcp.Provider{}, newToolProvider(cfg, zap.NewNop()))
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"session", "config", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "s", cmd.PersistentFlags().Lookup("session").Shorthand)

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", serve.Flags().Lookup("addr").DefValue)

	acpCmd, _, err := cmd.Find([]string{"acp"})
	require.NoError(t, err)
	assert.Equal(t, "acp", acpCmd.Name())
}

func TestACPSubcommand(t *testing.T) {
	isolate(t)

	var out strings.Builder
	cmd := newRootCmd()
	cmd.SetArgs([]string{"acp", "-s", "editor"})
	cmd.SetIn(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"session/new","params":{}}` + "\n"))
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"sessionId":"editor"}}`, strings.TrimSpace(out.String()))
}

func TestDefaultSessionName(t *testing.T) {
	dir := isolate(t)
	name := defaultSessionName()
	assert.True(t, strings.HasPrefix(name, filepath.Base(dir)+"_"), name)
}
