// Package wsbridge serves a DocSeek session over a WebSocket. Each text frame
// from the client is one user turn and every event of the turn is written
// back as a JSON frame.
package wsbridge

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/docseek/agent"
	"github.com/m4xw311/docseek/errors"
	"go.uber.org/zap"
)

// Agent is the part of the orchestrator the bridge drives.
type Agent interface {
	Turn(ctx context.Context, text string) (<-chan agent.Event, error)
}

// Frame is the JSON form of an agent.Event.
type Frame struct {
	Kind      agent.EventKind `json:"kind"`
	Text      string          `json:"text,omitempty"`
	Source    string          `json:"source,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	// Exit is set when a command ended the session. The server closes the
	// connection after this frame.
	Exit bool `json:"exit,omitempty"`
}

// FrameOf converts an event to its wire form.
func FrameOf(ev agent.Event) Frame {
	f := Frame{Kind: ev.Kind, Text: ev.Text, Source: ev.Source, ErrorKind: string(ev.ErrKind)}
	if ev.Command != nil {
		f.Exit = ev.Command.Exit
	}
	return f
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server bridges one WebSocket client at a time to an agent.
type Server struct {
	agent Agent
	log   *zap.Logger

	mu     sync.Mutex
	active bool
}

func New(a Agent, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{agent: a, log: logger.Named("wsbridge")}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		http.Error(w, "a session is already connected", http.StatusConflict)
		return
	}
	defer s.release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	s.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	// Closing the connection cancels the running turn.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := make(chan string, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(inbox)
		defer cancel()
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				s.log.Debug("read ended", zap.Error(err))
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			select {
			case inbox <- string(msg):
			case <-ctx.Done():
				return
			}
		}
	}()
	defer wg.Wait()
	defer conn.Close()

	for text := range inbox {
		exit, err := s.turn(ctx, conn, text)
		if err != nil {
			s.log.Warn("write failed", zap.Error(err))
			return
		}
		if exit {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		}
	}
}

// turn runs one turn and writes its events. It reports whether a command asked
// to end the session. After a failed write the turn is left to end through
// cancellation of ctx.
func (s *Server) turn(ctx context.Context, conn *websocket.Conn, text string) (exit bool, err error) {
	events, err := s.agent.Turn(ctx, text)
	if err != nil {
		if werr := conn.WriteJSON(Frame{Kind: agent.EventError, Text: err.Error(), ErrorKind: string(errors.KindOf(err))}); werr != nil {
			return false, werr
		}
		return false, conn.WriteJSON(Frame{Kind: agent.EventDone})
	}
	for ev := range events {
		f := FrameOf(ev)
		exit = exit || f.Exit
		if err := conn.WriteJSON(f); err != nil {
			return exit, err
		}
	}
	return exit, nil
}
