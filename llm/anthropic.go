package llm

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string, extra ...option.RequestOption) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("ANTHROPIC_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, extra...)

	client := anthropic.NewClient(options...)
	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}, nil
}

func (a *AnthropicLLMClient) params(messages []session.Message, p Params) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(p.MaxTokens),
		Messages:    anthropicMessages,
		Temperature: anthropic.Float(p.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	return params
}

// Complete sends a message request and concatenates the text blocks of the reply.
func (a *AnthropicLLMClient) Complete(ctx context.Context, messages []session.Message, p Params) (string, error) {
	resp, err := a.client.Messages.New(ctx, a.params(messages, p))
	if err != nil {
		return "", errors.E(errors.KindProvider, errors.Wrapf(err, "failed to send message to Anthropic"))
	}
	var out string
	for _, content := range resp.Content {
		if c, ok := content.AsAny().(anthropic.TextBlock); ok {
			out += c.Text
		}
	}
	return out, nil
}

// Stream opens a streaming message request.
func (a *AnthropicLLMClient) Stream(ctx context.Context, messages []session.Message, p Params) (Stream, error) {
	s := a.client.Messages.NewStreaming(ctx, a.params(messages, p))
	if err := s.Err(); err != nil {
		s.Close()
		return nil, errors.E(errors.KindProvider, errors.Wrapf(err, "failed to open Anthropic stream"))
	}
	return &anthropicStream{s: s}, nil
}

type anthropicStream struct {
	s   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur string
}

func (s *anthropicStream) Next() bool {
	for s.s.Next() {
		event, ok := s.s.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if d, ok := event.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
			s.cur = d.Text
			return true
		}
	}
	return false
}

func (s *anthropicStream) Delta() string { return s.cur }

func (s *anthropicStream) Err() error {
	return errors.E(errors.KindProvider, s.s.Err())
}

func (s *anthropicStream) Close() error { return s.s.Close() }

// convertMessagesToAnthropicMessages converts our internal message format to
// Anthropic's. Consecutive turns of the same role are merged into one message
// because tool results are replayed as user turns.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	systemPrompt, turns := splitSystem(messages)

	var anthropicMessages []anthropic.MessageParam
	for _, msg := range turns {
		role := anthropic.MessageParamRoleUser
		text := userText(msg)
		if msg.Role == session.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
			text = msg.Content
		}
		if text == "" {
			// Empty text blocks are rejected upstream; placeholder turns are skipped.
			continue
		}
		block := anthropic.NewTextBlock(text)
		if n := len(anthropicMessages); n > 0 && anthropicMessages[n-1].Role == role {
			anthropicMessages[n-1].Content = append(anthropicMessages[n-1].Content, block)
			continue
		}
		anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{block},
		})
	}
	return anthropicMessages, systemPrompt
}
