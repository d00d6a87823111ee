package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/docseek/agent"
	"github.com/m4xw311/docseek/commands"
	"github.com/m4xw311/docseek/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAgent struct {
	mu    sync.Mutex
	turns []string
}

func (a *echoAgent) Turn(ctx context.Context, text string) (<-chan agent.Event, error) {
	a.mu.Lock()
	a.turns = append(a.turns, text)
	a.mu.Unlock()

	out := make(chan agent.Event, 4)
	switch text {
	case "/exit":
		out <- agent.Event{Kind: agent.EventTool, Source: agent.SourceCommand, Text: "Goodbye!", Command: &commands.Result{Exit: true}}
	case "busy":
		close(out)
		return nil, agent.ErrTurnInProgress
	default:
		out <- agent.Event{Kind: agent.EventDelta, Text: "echo: " + text}
	}
	out <- agent.Event{Kind: agent.EventDone}
	close(out)
	return out, nil
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(url, nil)
}

func readTurn(t *testing.T, conn *websocket.Conn) []Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frames []Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Kind == agent.EventDone {
			return frames
		}
	}
}

func TestBridgeStreamsEvents(t *testing.T) {
	a := &echoAgent{}
	srv := httptest.NewServer(New(a, nil).Handler())
	defer srv.Close()

	conn, _, err := dial(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	frames := readTurn(t, conn)
	assert.Equal(t, []Frame{
		{Kind: agent.EventDelta, Text: "echo: hello"},
		{Kind: agent.EventDone},
	}, frames)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("busy")))
	frames = readTurn(t, conn)
	require.Len(t, frames, 2)
	assert.Equal(t, agent.EventError, frames[0].Kind)
	assert.Equal(t, string(errors.KindUser), frames[0].ErrorKind)
}

func TestBridgeRejectsSecondClient(t *testing.T) {
	srv := httptest.NewServer(New(&echoAgent{}, nil).Handler())
	defer srv.Close()

	first, _, err := dial(t, srv)
	require.NoError(t, err)
	defer first.Close()

	// Make sure the first handler is running before dialing again.
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("ping")))
	readTurn(t, first)

	_, resp, err := dial(t, srv)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBridgeExitClosesConnection(t *testing.T) {
	a := &echoAgent{}
	srv := httptest.NewServer(New(a, nil).Handler())
	defer srv.Close()

	conn, _, err := dial(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("/exit")))
	frames := readTurn(t, conn)
	assert.True(t, frames[0].Exit)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// The slot is free again once the handler returns.
	require.Eventually(t, func() bool {
		c, _, err := dial(t, srv)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFrameOf(t *testing.T) {
	f := FrameOf(agent.Event{Kind: agent.EventError, Text: "boom", ErrKind: errors.KindToolProtocol})
	assert.Equal(t, Frame{Kind: agent.EventError, Text: "boom", ErrorKind: "tool_protocol"}, f)
}
