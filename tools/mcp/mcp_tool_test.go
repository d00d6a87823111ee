package mcp

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type docsArgs struct {
	LibraryID string `json:"context7CompatibleLibraryID"`
	Topic     string `json:"topic"`
}

// TestHelperProcess is re-executed as a fake MCP docs server.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "fake-docs", Version: "v0.0.1"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get-library-docs", Description: "fetch docs"},
		func(ctx context.Context, ss *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[docsArgs]) (*mcpsdk.CallToolResultFor[any], error) {
			docs := []map[string]any{{"title": "Docs for " + params.Arguments.Topic, "snippet": "..."}}
			data, _ := json.Marshal(docs)
			return &mcpsdk.CallToolResultFor[any]{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
			}, nil
		})
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "resolve-library-id", Description: "resolve"},
		func(ctx context.Context, ss *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[map[string]any]) (*mcpsdk.CallToolResultFor[any], error) {
			return &mcpsdk.CallToolResultFor[any]{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "/n8n-io/n8n"}},
			}, nil
		})
	if err := server.Run(context.Background(), mcpsdk.NewStdioTransport()); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p := NewProvider(tools.Options{
		Command:          os.Args[0],
		Args:             []string{"-test.run=TestHelperProcess"},
		Env:              map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
		HandshakeTimeout: 10 * time.Second,
		CallTimeout:      10 * time.Second,
		GracePeriod:      2 * time.Second,
	}, map[string]string{tools.CapabilitySearch: "get-library-docs"})
	t.Cleanup(p.Shutdown)
	return p
}

func TestProviderLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	h, err := p.EnsureRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, tools.StateRunning, h.State)
	_, err = p.EnsureRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Launches())

	raw, err := p.Invoke(ctx, tools.CapabilitySearch, map[string]any{"topic": "json format"})
	require.NoError(t, err)
	results, err := tools.ParseSearchResults(raw, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Docs for json format", results[0].Title)

	raw, err = p.Invoke(ctx, "resolve-library-id", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"/n8n-io/n8n"`, string(raw))

	_, err = p.Invoke(ctx, "missing", nil)
	assert.True(t, errors.IsKind(err, errors.KindToolProtocol))

	p.Shutdown()
	assert.Equal(t, tools.StateStopped, p.State())
	p.Shutdown()
}

func TestProviderMissingBinary(t *testing.T) {
	p := NewProvider(tools.Options{Command: "definitely-not-a-docs-server"}, nil)
	_, err := p.EnsureRunning(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindToolUnavailable))
	assert.Equal(t, tools.StateFailed, p.State())

	p.Reset()
	assert.Equal(t, tools.StateNotStarted, p.State())
}

func TestInvokeBeforeStart(t *testing.T) {
	p := NewProvider(tools.Options{Command: "unused"}, nil)
	_, err := p.Invoke(context.Background(), tools.CapabilitySearch, nil)
	assert.True(t, errors.IsKind(err, errors.KindToolUnavailable))
}

func TestDecodeResult(t *testing.T) {
	raw, err := decodeResult("t", &mcpsdk.CallToolResult{Content: []mcpsdk.Content{
		&mcpsdk.TextContent{Text: `[{"title":`},
		&mcpsdk.TextContent{Text: `"a"}]`},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"title":"a"}]`, string(raw))

	raw, err = decodeResult("t", &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "plain"}}})
	require.NoError(t, err)
	assert.Equal(t, `"plain"`, string(raw))

	_, err = decodeResult("t", &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "no such library"}}})
	assert.True(t, errors.IsKind(err, errors.KindToolProtocol))
}

var _ tools.Provider = (*Provider)(nil)
