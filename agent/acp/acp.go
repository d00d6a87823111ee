// Package acp serves a DocSeek session to code editors over the Agent Client
// Protocol: newline-delimited JSON-RPC 2.0 on stdio.
//
// Supported methods:
//   - initialize
//   - session/new and session/load (the one DocSeek session; load replays its history)
//   - session/prompt (streams session/update notifications, answers with a stopReason)
//   - session/cancel (notification; cancels the running prompt)
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/docseek/agent"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"go.uber.org/zap"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

const maxMessageSize = 4 << 20

// Agent is the part of the orchestrator the server drives.
type Agent interface {
	Turn(ctx context.Context, text string) (<-chan agent.Event, error)
	Conversation() *session.Conversation
}

// jsonrpcRequest represents a JSON-RPC 2.0 request or notification
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// contentBlock is a prompt content block. Only text and resource links are
// used.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
	Name string `json:"name,omitempty"`
}

type server struct {
	ctx   context.Context
	agent Agent
	log   *zap.Logger

	writeLock sync.Mutex
	out       *bufio.Writer

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    int
	wg     sync.WaitGroup
}

// Run serves requests from in until it ends. Prompts run in the background so
// that session/cancel can reach them; Run waits for the running prompt before
// returning. Cancelling ctx cancels running prompts.
func Run(ctx context.Context, a Agent, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{ctx: ctx, agent: a, log: logger.Named("acp"), out: bufio.NewWriter(out)}
	defer s.wg.Wait()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	for scanner.Scan() {
		payload := scanner.Bytes()
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}
		s.log.Debug("received", zap.ByteString("payload", payload))

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = s.writeError(nil, codeParseError, "Parse error", nil)
			continue
		}
		s.dispatch(&req)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "acp: read error")
	}
	return nil
}

func (s *server) dispatch(req *jsonrpcRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "session/new":
		s.handleSessionNew(req)
	case "session/load":
		s.handleSessionLoad(req)
	case "session/prompt":
		s.handleSessionPrompt(req)
	case "session/cancel":
		s.cancelPrompt()
	default:
		if req.ID != nil {
			_ = s.writeError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

func (s *server) write(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *server) writeResult(id json.RawMessage, result any) error {
	return s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *server) writeError(id json.RawMessage, code int, msg string, data any) error {
	if id == nil {
		id = json.RawMessage("null")
	}
	return s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: msg, Data: data}})
}

func (s *server) sendUpdate(sessionID string, update map[string]any) error {
	return s.write(notification{
		JSONRPC: "2.0",
		Method:  "session/update",
		Params:  map[string]any{"sessionId": sessionID, "update": update},
	})
}

func textChunk(kind, text string) map[string]any {
	return map[string]any{
		"sessionUpdate": kind,
		"content":       map[string]any{"type": "text", "text": text},
	}
}

func (s *server) handleInitialize(req *jsonrpcRequest) {
	_ = s.writeResult(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew returns the id of the DocSeek session. There is one
// conversation per process, so every new session maps to it.
func (s *server) handleSessionNew(req *jsonrpcRequest) {
	_ = s.writeResult(req.ID, map[string]any{"sessionId": s.agent.Conversation().Name})
}

// handleSessionLoad replays the stored history as message chunks.
func (s *server) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	conv := s.agent.Conversation()
	if p.SessionID != conv.Name {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("unknown session %q", p.SessionID))
		return
	}

	for _, msg := range conv.Messages() {
		switch msg.Role {
		case session.RoleUser:
			_ = s.sendUpdate(p.SessionID, textChunk("user_message_chunk", msg.Content))
		case session.RoleAssistant:
			if msg.Content != "" {
				_ = s.sendUpdate(p.SessionID, textChunk("agent_message_chunk", msg.Content))
			}
		}
	}
	_ = s.writeResult(req.ID, json.RawMessage("null"))
}

func (s *server) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	if p.SessionID != s.agent.Conversation().Name {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	events, err := s.agent.Turn(ctx, extractUserText(p.Prompt))
	if err != nil {
		cancel()
		_ = s.writeError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		stop := s.stream(p.SessionID, events)
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		_ = s.writeResult(req.ID, map[string]any{"stopReason": stop})
	}()
}

// stream forwards the events of one turn and returns the ACP stop reason.
func (s *server) stream(sessionID string, events <-chan agent.Event) string {
	stop := "end_turn"
	toolCalls := 0
	for ev := range events {
		switch ev.Kind {
		case agent.EventDelta:
			_ = s.sendUpdate(sessionID, textChunk("agent_message_chunk", ev.Text))
		case agent.EventTool:
			toolCalls++
			_ = s.sendUpdate(sessionID, map[string]any{
				"sessionUpdate": "tool_call",
				"toolCallId":    fmt.Sprintf("call_%d", toolCalls),
				"title":         ev.Source,
				"kind":          "search",
				"status":        "completed",
				"content": []any{map[string]any{
					"type":    "content",
					"content": map[string]any{"type": "text", "text": ev.Text},
				}},
			})
		case agent.EventError:
			if ev.ErrKind == errors.KindCancelled {
				stop = "cancelled"
				continue
			}
			_ = s.sendUpdate(sessionID, textChunk("agent_message_chunk", fmt.Sprintf("\n[%s] %s\n", ev.ErrKind, ev.Text)))
		}
	}
	return stop
}

func (s *server) cancelPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// extractUserText joins the text blocks of a prompt. Resource links are
// mentioned by name and URI.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, fmt.Sprintf("Resource: %s (%s)", b.Name, b.URI))
		}
	}
	return strings.Join(parts, "\n")
}
