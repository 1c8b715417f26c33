package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIClient: API key, optional base URL
// for OpenAI-compatible endpoints, and the model used when a request
// names none.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional, for OpenAI-compatible endpoints
	DefaultModel string
}

// OpenAIClient adapts github.com/sashabaranov/go-openai to the Client
// interface.
type OpenAIClient struct {
	inner        *openai.Client
	defaultModel string
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Kind: ErrConfig, Message: "openai: APIKey is required"}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIClient{
		inner:        openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	openaiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
		Stop:     req.Stop,
	}
	if req.Temperature != nil {
		openaiReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		openaiReq.TopP = float32(*req.TopP)
	}
	if req.Seed != nil {
		openaiReq.Seed = req.Seed
	}

	resp, err := c.inner.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return ChatResponse{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, &Error{Kind: ErrResponse, Message: "openai: empty choices in response"}
	}

	choices := make([]Choice, len(resp.Choices))
	for i, ch := range resp.Choices {
		choices[i] = Choice{
			Message:      Message{Role: Role(ch.Message.Role), Content: ch.Message.Content},
			FinishReason: string(ch.FinishReason),
		}
	}
	return ChatResponse{
		Choices: choices,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}, nil
}

func (c *OpenAIClient) Close() error { return nil }

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

func classifyOpenAIError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return &Error{Kind: ErrAuth, Message: apiErr.Message, Cause: err}
		case 429:
			return &Error{Kind: ErrRateLimit, Message: apiErr.Message, Cause: err}
		default:
			return &Error{Kind: ErrClient, Message: fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message), Cause: err}
		}
	}
	return &Error{Kind: ErrClient, Message: "openai: request failed", Cause: err}
}
