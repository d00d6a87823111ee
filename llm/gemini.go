package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{client: client, modelName: modelName}, nil
}

// chat builds a fresh model and chat session for one call, returning the
// parts of the final user turn.
func (g *GeminiLLMClient) chat(messages []session.Message, p Params) (*genai.ChatSession, []genai.Part, error) {
	systemPrompt, history := convertMessagesToGeminiContent(messages)
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, nil, errors.Newk(errors.KindProvider, "gemini request must end with a user turn")
	}

	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(float32(p.Temperature))
	model.SetMaxOutputTokens(int32(p.MaxTokens))
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	last := history[len(history)-1]
	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	return chatSession, last.Parts, nil
}

// Complete sends the conversation to Gemini and returns the reply text.
func (g *GeminiLLMClient) Complete(ctx context.Context, messages []session.Message, p Params) (string, error) {
	cs, parts, err := g.chat(messages, p)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return "", errors.E(errors.KindProvider, errors.Wrapf(err, "failed to send message to Gemini"))
	}
	return responseText(resp), nil
}

// Stream sends the conversation and yields reply fragments as they arrive.
func (g *GeminiLLMClient) Stream(ctx context.Context, messages []session.Message, p Params) (Stream, error) {
	cs, parts, err := g.chat(messages, p)
	if err != nil {
		return nil, err
	}
	return &geminiStream{it: cs.SendMessageStream(ctx, parts...)}, nil
}

type geminiStream struct {
	it     *genai.GenerateContentResponseIterator
	cur    string
	err    error
	closed bool
}

func (s *geminiStream) Next() bool {
	for !s.closed && s.err == nil {
		resp, err := s.it.Next()
		if err == iterator.Done {
			return false
		}
		if err != nil {
			s.err = err
			return false
		}
		if text := responseText(resp); text != "" {
			s.cur = text
			return true
		}
	}
	return false
}

func (s *geminiStream) Delta() string { return s.cur }

func (s *geminiStream) Err() error {
	return errors.E(errors.KindProvider, s.err)
}

// Close stops reading. The iterator has no close hook; cancelling the request
// context releases the connection.
func (s *geminiStream) Close() error {
	s.closed = true
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			out += string(t)
		}
	}
	return out
}

// convertMessagesToGeminiContent converts our internal message format to
// Gemini's. Gemini expects alternating roles, so consecutive turns of the same
// role are merged.
func convertMessagesToGeminiContent(messages []session.Message) (string, []*genai.Content) {
	systemPrompt, turns := splitSystem(messages)

	var contents []*genai.Content
	for _, msg := range turns {
		role := "user"
		text := userText(msg)
		if msg.Role == session.RoleAssistant {
			role = "model"
			text = msg.Content
		}
		if text == "" {
			continue
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(text))
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(text)},
		})
	}
	return systemPrompt, contents
}
