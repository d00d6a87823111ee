package llm

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/session"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	return &BedrockLLMClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// Complete sends the conversation to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Complete(ctx context.Context, messages []session.Message, p Params) (string, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicFormat(messages)
	requestBody, err := createAnthropicRequest(anthropicMessages, systemPrompt, p)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return "", errors.E(errors.KindProvider, errors.Wrapf(err, "failed to invoke Bedrock model"))
	}
	return processBedrockResponse(resp.Body)
}

// Stream invokes the model with a response stream.
func (b *BedrockLLMClient) Stream(ctx context.Context, messages []session.Message, p Params) (Stream, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicFormat(messages)
	requestBody, err := createAnthropicRequest(anthropicMessages, systemPrompt, p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.E(errors.KindProvider, errors.Wrapf(err, "failed to invoke Bedrock model stream"))
	}
	return &bedrockStream{ctx: ctx, es: resp.GetStream()}, nil
}

type bedrockStream struct {
	ctx context.Context
	es  *bedrockruntime.InvokeModelWithResponseStreamEventStream
	cur string
	err error
}

func (s *bedrockStream) Next() bool {
	for s.err == nil {
		var (
			event types.ResponseStream
			ok    bool
		)
		select {
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return false
		case event, ok = <-s.es.Events():
		}
		if !ok {
			s.err = s.es.Err()
			return false
		}
		chunk, isChunk := event.(*types.ResponseStreamMemberChunk)
		if !isChunk {
			continue
		}
		text, err := decodeBedrockChunk(chunk.Value.Bytes)
		if err != nil {
			s.err = err
			return false
		}
		if text != "" {
			s.cur = text
			return true
		}
	}
	return false
}

func (s *bedrockStream) Delta() string { return s.cur }

func (s *bedrockStream) Err() error {
	return errors.E(errors.KindProvider, s.err)
}

func (s *bedrockStream) Close() error { return s.es.Close() }

// decodeBedrockChunk extracts delta text from one streamed Anthropic event.
// Events other than text deltas yield "".
func decodeBedrockChunk(data []byte) (string, error) {
	var event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return "", errors.Wrapf(err, "failed to unmarshal Bedrock stream chunk")
	}
	if event.Type == "error" && event.Error != nil {
		return "", errors.New("Bedrock stream error: %s", event.Error.Message)
	}
	if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
		return event.Delta.Text, nil
	}
	return "", nil
}

// convertMessagesToAnthropicFormat converts our internal message format to
// the Bedrock Anthropic message shape. Tool results become user turns and
// consecutive turns of the same role are merged.
func convertMessagesToAnthropicFormat(messages []session.Message) ([]map[string]interface{}, string) {
	systemPrompt, turns := splitSystem(messages)

	var anthropicMessages []map[string]interface{}
	for _, msg := range turns {
		role := "user"
		text := userText(msg)
		if msg.Role == session.RoleAssistant {
			role = "assistant"
			text = msg.Content
		}
		if text == "" {
			continue
		}
		block := map[string]interface{}{"type": "text", "text": text}
		if n := len(anthropicMessages); n > 0 && anthropicMessages[n-1]["role"] == role {
			content := anthropicMessages[n-1]["content"].([]map[string]interface{})
			anthropicMessages[n-1]["content"] = append(content, block)
			continue
		}
		anthropicMessages = append(anthropicMessages, map[string]interface{}{
			"role":    role,
			"content": []map[string]interface{}{block},
		})
	}

	return anthropicMessages, systemPrompt
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, systemPrompt string, p Params) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        p.MaxTokens,
		"temperature":       p.Temperature,
		"messages":          messages,
	}

	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	return json.Marshal(request)
}

// processBedrockResponse extracts the reply text from a Bedrock API response.
func processBedrockResponse(body []byte) (string, error) {
	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", errors.E(errors.KindProvider, errors.Wrapf(err, "failed to unmarshal Bedrock response"))
	}

	if response.Error != nil {
		return "", errors.Newk(errors.KindProvider, "Bedrock API error: %v", response.Error)
	}

	var out string
	for _, item := range response.Content {
		if item.Type == "text" {
			out += item.Text
		}
	}
	return out, nil
}
