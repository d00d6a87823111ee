package llm

import (
	"context"
	"os"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API and any
// endpoint compatible with it.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string, extra ...option.RequestOption) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, extra...)

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

func (o *OpenAILLMClient) params(messages []session.Message, p Params) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    convertMessagesToOpenaiContent(messages),
		Temperature: openai.Float(p.Temperature),
		MaxTokens:   openai.Int(int64(p.MaxTokens)),
	}
}

// Complete sends a chat request to OpenAI and returns the first choice's text.
func (o *OpenAILLMClient) Complete(ctx context.Context, messages []session.Message, p Params) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(messages, p))
	if err != nil {
		return "", errors.E(errors.KindProvider, errors.Wrapf(err, "failed to send message to OpenAI"))
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream starts a streaming chat completion.
func (o *OpenAILLMClient) Stream(ctx context.Context, messages []session.Message, p Params) (Stream, error) {
	s := o.client.Chat.Completions.NewStreaming(ctx, o.params(messages, p))
	if err := s.Err(); err != nil {
		s.Close()
		return nil, errors.E(errors.KindProvider, errors.Wrapf(err, "failed to open OpenAI stream"))
	}
	return &openAIStream{s: s}, nil
}

type openAIStream struct {
	s   *ssestream.Stream[openai.ChatCompletionChunk]
	cur string
}

func (s *openAIStream) Next() bool {
	for s.s.Next() {
		chunk := s.s.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.cur = chunk.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *openAIStream) Delta() string { return s.cur }

func (s *openAIStream) Err() error {
	return errors.E(errors.KindProvider, s.s.Err())
}

func (s *openAIStream) Close() error { return s.s.Close() }

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			chatMessages = append(chatMessages, openai.AssistantMessage(msg.Content))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(userText(msg)))
		}
	}
	return chatMessages
}
