package llm

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
)

// Provider is the narrow seam between the agent and a language model backend.
// Implementations translate session messages to the upstream request shape and
// must not leak SDK types through this interface.
type Provider interface {
	// Complete returns the full reply for messages.
	Complete(ctx context.Context, messages []session.Message, params Params) (string, error)
	// Stream starts a streaming reply. The returned Stream must be closed.
	Stream(ctx context.Context, messages []session.Message, params Params) (Stream, error)
}

// Stream yields text fragments of one reply. It cannot be restarted.
type Stream interface {
	// Next advances to the next fragment, returning false at the end of the
	// stream or on error.
	Next() bool
	// Delta is the fragment Next advanced to.
	Delta() string
	// Err is the error that ended the stream, if any.
	Err() error
	Close() error
}

// Params holds the generation options every provider understands.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// DefaultParams is used when the configuration sets none.
var DefaultParams = Params{Temperature: 0.7, MaxTokens: 1024}

var knownParams = map[string]bool{"temperature": true, "max_tokens": true}

// ParseParams validates a raw options map. Unknown keys and out-of-range values
// are configuration errors so that contract drift is never silently ignored.
func ParseParams(raw map[string]any) (Params, error) {
	p := DefaultParams
	var unknown []string
	for k := range raw {
		if !knownParams[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Params{}, errors.Newk(errors.KindConfiguration, "unrecognized model params: %s", strings.Join(unknown, ", "))
	}

	if v, ok := raw["temperature"]; ok {
		f, ok := toFloat(v)
		if !ok {
			return Params{}, errors.Newk(errors.KindConfiguration, "temperature must be a number, got %T", v)
		}
		p.Temperature = f
	}
	if v, ok := raw["max_tokens"]; ok {
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return Params{}, errors.Newk(errors.KindConfiguration, "max_tokens must be an integer, got %v", v)
		}
		p.MaxTokens = int(f)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the documented ranges.
func (p Params) Validate() error {
	if math.IsNaN(p.Temperature) || p.Temperature < 0 || p.Temperature > 2 {
		return errors.Newk(errors.KindConfiguration, "temperature must be within [0, 2], got %v", p.Temperature)
	}
	if p.MaxTokens <= 0 {
		return errors.Newk(errors.KindConfiguration, "max_tokens must be positive, got %d", p.MaxTokens)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// New returns the provider registered under name. An empty name or "mock"
// selects the echo provider.
func New(ctx context.Context, name, model string) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch name {
	case "", "mock":
		return &MockLLMClient{}, nil
	case "openai":
		p, err = NewOpenAILLMClient(ctx, model)
	case "anthropic":
		p, err = NewAnthropicLLMClient(ctx, model)
	case "gemini":
		p, err = NewGeminiLLMClient(ctx, model)
	case "bedrock":
		p, err = NewBedrockLLMClient(ctx, model)
	default:
		return nil, errors.Newk(errors.KindConfiguration, "unknown llm client %q", name)
	}
	if err != nil {
		return nil, errors.E(errors.KindConfiguration, err)
	}
	return p, nil
}

// toolResultPrefix marks tool output when it is replayed to a model as a user
// turn; none of the adapters use native function calling.
const toolResultPrefix = "Tool result:\n"

// splitSystem separates the system prompt from the turns. Multiple system
// messages are joined.
func splitSystem(messages []session.Message) (string, []session.Message) {
	var system []string
	var turns []session.Message
	for _, m := range messages {
		if m.Role == session.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// userText renders a non-assistant turn as the text sent in a user message.
func userText(m session.Message) string {
	if m.Role == session.RoleTool {
		return toolResultPrefix + m.Content
	}
	return m.Content
}

// MockLLMClient echoes the last user message. It is used when no provider is
// configured.
type MockLLMClient struct{}

func (m *MockLLMClient) reply(messages []session.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			return fmt.Sprintf("I am a mock LLM. You said: '%s'.", messages[i].Content)
		}
	}
	return "I am a mock LLM."
}

func (m *MockLLMClient) Complete(ctx context.Context, messages []session.Message, params Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.E(errors.KindProvider, err)
	}
	return m.reply(messages), nil
}

func (m *MockLLMClient) Stream(ctx context.Context, messages []session.Message, params Params) (Stream, error) {
	return NewSliceStream(ctx, strings.SplitAfter(m.reply(messages), " "), nil), nil
}

// SliceStream replays fixed fragments and then ends with err. It stops early
// when ctx is cancelled.
type SliceStream struct {
	ctx    context.Context
	chunks []string
	err    error
	cur    string
	ended  error
	closed bool
}

func NewSliceStream(ctx context.Context, chunks []string, err error) *SliceStream {
	return &SliceStream{ctx: ctx, chunks: chunks, err: err}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.ended != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.ended = err
		return false
	}
	if len(s.chunks) == 0 {
		s.ended = s.err
		return false
	}
	s.cur, s.chunks = s.chunks[0], s.chunks[1:]
	return true
}

func (s *SliceStream) Delta() string { return s.cur }

func (s *SliceStream) Err() error {
	if s.ended == nil {
		return nil
	}
	return errors.E(errors.KindProvider, s.ended)
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
